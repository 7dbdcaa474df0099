// Package support is the help desk: tickets, staff replies and the FAQ.
package support

import "time"

const (
	StatusOpen        = "open"
	StatusInProgress  = "in_progress"
	StatusWaitingUser = "waiting_user"
	StatusResolved    = "resolved"
	StatusClosed      = "closed"
	StatusRejected    = "rejected"

	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// Statuses in which a ticket still needs staff attention.
var openStatuses = []string{StatusOpen, StatusInProgress, StatusWaitingUser}

var validStatuses = map[string]bool{
	StatusOpen: true, StatusInProgress: true, StatusWaitingUser: true,
	StatusResolved: true, StatusClosed: true, StatusRejected: true,
}

// priorityLevels orders tickets in the staff queue.
var priorityLevels = map[string]int{
	PriorityLow: 1, PriorityMedium: 2, PriorityHigh: 3, PriorityCritical: 4,
}

type Ticket struct {
	ID              string     `bson:"_id" json:"id"`
	Number          string     `bson:"ticket_number" json:"ticket_number"`
	UserID          string     `bson:"user_id" json:"user_id"`
	CategoryID      string     `bson:"category_id,omitempty" json:"category_id,omitempty"`
	Subject         string     `bson:"subject" json:"subject"`
	Description     string     `bson:"description" json:"description"`
	Priority        string     `bson:"priority" json:"priority"`
	PriorityLevel   int        `bson:"priority_level" json:"-"`
	Status          string     `bson:"status" json:"status"`
	AssignedTo      string     `bson:"assigned_to,omitempty" json:"assigned_to,omitempty"`
	Satisfaction    *int       `bson:"satisfaction,omitempty" json:"satisfaction,omitempty"`
	FirstResponseAt *time.Time `bson:"first_response_at,omitempty" json:"first_response_at,omitempty"`
	ResolvedAt      *time.Time `bson:"resolved_at,omitempty" json:"resolved_at,omitempty"`
	ClosedAt        *time.Time `bson:"closed_at,omitempty" json:"closed_at,omitempty"`
	CreatedAt       time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `bson:"updated_at" json:"updated_at"`
}

// IsFinal reports whether the ticket no longer accepts replies.
func (t *Ticket) IsFinal() bool {
	return t.Status == StatusClosed || t.Status == StatusRejected
}

type Response struct {
	ID       string `bson:"_id" json:"id"`
	TicketID string `bson:"ticket_id" json:"ticket_id"`
	AuthorID string `bson:"author_id" json:"author_id"`
	Message  string `bson:"message" json:"message"`
	IsStaff  bool   `bson:"is_staff" json:"is_staff"`
	// IsInternal notes are visible to staff only.
	IsInternal bool      `bson:"is_internal" json:"is_internal"`
	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
}

type Category struct {
	ID          string `bson:"_id" json:"id"`
	Name        string `bson:"name" json:"name"`
	Description string `bson:"description,omitempty" json:"description,omitempty"`
	SortOrder   int    `bson:"sort_order" json:"sort_order"`
	IsActive    bool   `bson:"is_active" json:"is_active"`
}

type FAQ struct {
	ID          string `bson:"_id" json:"id"`
	CategoryID  string `bson:"category_id" json:"category_id"`
	Question    string `bson:"question" json:"question"`
	Answer      string `bson:"answer" json:"answer"`
	SortOrder   int    `bson:"sort_order" json:"sort_order"`
	ViewCount   int64  `bson:"view_count" json:"view_count"`
	IsPublished bool   `bson:"is_published" json:"is_published"`
}

// TicketFilter selects tickets. Zero fields match everything.
type TicketFilter struct {
	UserID     string
	Status     string
	Priority   string
	AssignedTo string
	CategoryID string
	// ByPriority sorts the most urgent tickets first instead of the newest.
	ByPriority bool
	Skip       int64
	Limit      int64
}

func (f TicketFilter) match(t *Ticket) bool {
	return (f.UserID == "" || t.UserID == f.UserID) &&
		(f.Status == "" || t.Status == f.Status) &&
		(f.Priority == "" || t.Priority == f.Priority) &&
		(f.AssignedTo == "" || t.AssignedTo == f.AssignedTo) &&
		(f.CategoryID == "" || t.CategoryID == f.CategoryID)
}

// Averages are desk-wide means over tickets that have the data.
type Averages struct {
	ResponseSeconds   float64 `bson:"response_seconds"`
	ResolutionSeconds float64 `bson:"resolution_seconds"`
	Satisfaction      float64 `bson:"satisfaction"`
}
