// Package moderation runs the listing review queue, user reports and the
// admin console.
package moderation

import "time"

// Item states.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// Report states.
const (
	ReportPending   = "pending"
	ReportResolved  = "resolved"
	ReportDismissed = "dismissed"
)

// Reported entity kinds.
const (
	EntityListing = "listing"
	EntityUser    = "user"
	EntityMessage = "message"
)

// Item is a listing waiting for, or having passed, review.
type Item struct {
	ID          string     `bson:"_id" json:"id"`
	ListingID   string     `bson:"listing_id" json:"listing_id"`
	UserID      string     `bson:"user_id" json:"user_id"`
	Status      string     `bson:"status" json:"status"`
	Priority    int        `bson:"priority" json:"priority"`
	Reason      string     `bson:"rejection_reason,omitempty" json:"rejection_reason,omitempty"`
	ModeratorID string     `bson:"moderator_id,omitempty" json:"moderator_id,omitempty"`
	CreatedAt   time.Time  `bson:"created_at" json:"created_at"`
	DecidedAt   *time.Time `bson:"decided_at,omitempty" json:"decided_at,omitempty"`
}

type Report struct {
	ID          string     `bson:"_id" json:"id"`
	ReporterID  string     `bson:"reporter_id" json:"reporter_id"`
	EntityType  string     `bson:"entity_type" json:"entity_type"`
	EntityID    string     `bson:"entity_id" json:"entity_id"`
	Reason      string     `bson:"reason" json:"reason"`
	Description string     `bson:"description,omitempty" json:"description,omitempty"`
	Status      string     `bson:"status" json:"status"`
	Resolution  string     `bson:"resolution,omitempty" json:"resolution,omitempty"`
	ResolvedBy  string     `bson:"resolved_by,omitempty" json:"resolved_by,omitempty"`
	CreatedAt   time.Time  `bson:"created_at" json:"created_at"`
	ResolvedAt  *time.Time `bson:"resolved_at,omitempty" json:"resolved_at,omitempty"`
}
