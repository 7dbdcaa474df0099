package moderation

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kolesa/kolesa/backend/go-services/internal/listing"
	"github.com/kolesa/kolesa/backend/go-services/internal/models"
	"github.com/kolesa/kolesa/backend/go-services/internal/notifications"
	"github.com/kolesa/kolesa/backend/go-services/pkg/apperr"
	"github.com/kolesa/kolesa/backend/go-services/pkg/logger"
)

// Listings is the listing lifecycle moderation drives.
type Listings interface {
	Find(ctx context.Context, id string) (*listing.Listing, error)
	Publish(ctx context.Context, id string) (*listing.Listing, error)
	Reject(ctx context.Context, id, reason string) (*listing.Listing, error)
	Remove(ctx context.Context, id string) error
	CountByStatus(ctx context.Context, userID string) (map[string]int64, error)
}

// Blocker suspends users on confirmed reports.
type Blocker interface {
	Block(ctx context.Context, id, reason string, days int) (*models.User, error)
}

// Notifier tells listing owners about decisions.
type Notifier interface {
	NotifyTemplate(ctx context.Context, userID, typ, code string, vars map[string]string)
}

// ExistsFunc reports whether a reported entity exists.
type ExistsFunc func(ctx context.Context, id string) (bool, error)

var reportReasons = map[string]bool{"spam": true, "fraud": true, "inappropriate": true, "duplicate": true, "other": true}

type Service struct {
	items    ItemRepository
	reports  ReportRepository
	listings Listings
	blocker  Blocker
	notifier Notifier
	entities map[string]ExistsFunc
	now      func() time.Time
}

func NewService(items ItemRepository, reports ReportRepository, listings Listings, blocker Blocker, notifier Notifier) *Service {
	return &Service{
		items: items, reports: reports, listings: listings, blocker: blocker, notifier: notifier,
		entities: map[string]ExistsFunc{},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RegisterEntity enables reports on kind, validated by exists.
func (s *Service) RegisterEntity(kind string, exists ExistsFunc) {
	s.entities[kind] = exists
}

// Submit queues a listing for review. A pending item for the same listing
// is reused and its priority raised if needed.
func (s *Service) Submit(ctx context.Context, listingID, userID string, priority int) error {
	latest, err := s.items.Latest(ctx, listingID)
	if err != nil {
		return err
	}
	if latest != nil && latest.Status == StatusPending {
		if priority > latest.Priority {
			latest.Priority = priority
			return s.items.Update(ctx, latest)
		}
		return nil
	}
	return s.items.Create(ctx, &Item{
		ID: uuid.NewString(), ListingID: listingID, UserID: userID,
		Status: StatusPending, Priority: priority, CreatedAt: s.now(),
	})
}

// Approved reports whether the latest review of the listing approved it.
func (s *Service) Approved(ctx context.Context, listingID string) (bool, error) {
	latest, err := s.items.Latest(ctx, listingID)
	if err != nil || latest == nil {
		return false, err
	}
	return latest.Status == StatusApproved, nil
}

// QueueEntry is an item together with its listing.
type QueueEntry struct {
	*Item
	Listing *listing.Listing `json:"listing,omitempty"`
}

// Queue lists items by priority, oldest first within a priority.
func (s *Service) Queue(ctx context.Context, status string, skip, limit int64) ([]QueueEntry, int64, error) {
	switch status {
	case "", StatusPending, StatusApproved, StatusRejected:
	default:
		return nil, 0, apperr.FieldError("status", "must be one of: pending approved rejected")
	}
	items, total, err := s.items.List(ctx, status, skip, limit)
	if err != nil {
		return nil, 0, err
	}
	out := make([]QueueEntry, 0, len(items))
	for _, it := range items {
		e := QueueEntry{Item: it}
		if l, err := s.listings.Find(ctx, it.ListingID); err == nil {
			e.Listing = l
		}
		out = append(out, e)
	}
	return out, total, nil
}

// Decide approves or rejects a pending item and notifies the owner.
func (s *Service) Decide(ctx context.Context, itemID, moderatorID, decision, reason string) (*Item, error) {
	it, err := s.items.Get(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if it == nil {
		return nil, apperr.NotFound("moderation item not found")
	}
	if it.Status != StatusPending {
		return nil, apperr.Conflict("item already %s", it.Status)
	}
	reason = strings.TrimSpace(reason)
	var l *listing.Listing
	switch decision {
	case "approve":
		l, err = s.listings.Publish(ctx, it.ListingID)
		it.Status = StatusApproved
	case "reject":
		if reason == "" {
			return nil, apperr.FieldError("reason", "is required when rejecting")
		}
		l, err = s.listings.Reject(ctx, it.ListingID, reason)
		it.Status, it.Reason = StatusRejected, reason
	default:
		return nil, apperr.FieldError("decision", "must be approve or reject")
	}
	if err != nil {
		return nil, err
	}
	now := s.now()
	it.ModeratorID, it.DecidedAt = moderatorID, &now
	if err := s.items.Update(ctx, it); err != nil {
		return nil, err
	}
	logger.Infof("moderation: %s %s listing %s", moderatorID, it.Status, it.ListingID)
	if s.notifier != nil {
		code := "listing_approved"
		if it.Status == StatusRejected {
			code = "listing_rejected"
		}
		s.notifier.NotifyTemplate(ctx, l.UserID, notifications.TypeListingModerated, code,
			map[string]string{"listing_title": l.Title, "listing_id": l.ID, "reason": reason})
	}
	return it, nil
}

// ReportInput is a user complaint.
type ReportInput struct {
	EntityType  string `json:"entity_type" binding:"required"`
	EntityID    string `json:"entity_id" binding:"required"`
	Reason      string `json:"reason" binding:"required"`
	Description string `json:"description" binding:"max=2000"`
}

func (s *Service) CreateReport(ctx context.Context, reporterID string, in ReportInput) (*Report, error) {
	exists, ok := s.entities[in.EntityType]
	if !ok {
		return nil, apperr.FieldError("entity_type", "must be one of: listing user message")
	}
	if !reportReasons[in.Reason] {
		return nil, apperr.FieldError("reason", "must be one of: spam fraud inappropriate duplicate other")
	}
	if in.EntityType == EntityUser && in.EntityID == reporterID {
		return nil, apperr.Business("you cannot report yourself")
	}
	found, err := exists(ctx, in.EntityID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperr.NotFound("%s not found", in.EntityType)
	}
	dup, err := s.reports.FindPending(ctx, reporterID, in.EntityType, in.EntityID)
	if err != nil {
		return nil, err
	}
	if dup != nil {
		return nil, apperr.Conflict("you have already reported this %s", in.EntityType)
	}
	r := &Report{
		ID: uuid.NewString(), ReporterID: reporterID, EntityType: in.EntityType, EntityID: in.EntityID,
		Reason: in.Reason, Description: strings.TrimSpace(in.Description), Status: ReportPending, CreatedAt: s.now(),
	}
	if err := s.reports.Create(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Service) Reports(ctx context.Context, status string, skip, limit int64) ([]*Report, int64, error) {
	return s.reports.List(ctx, status, skip, limit)
}

// ResolveReport closes a pending report. action is dismiss, resolve,
// block_user or remove_listing.
func (s *Service) ResolveReport(ctx context.Context, id, adminID, action, resolution string) (*Report, error) {
	r, err := s.reports.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, apperr.NotFound("report not found")
	}
	if r.Status != ReportPending {
		return nil, apperr.Conflict("report already %s", r.Status)
	}
	status := ReportResolved
	switch action {
	case "dismiss":
		status = ReportDismissed
	case "resolve":
	case "block_user":
		userID := r.EntityID
		switch r.EntityType {
		case EntityUser:
		case EntityListing:
			l, err := s.listings.Find(ctx, r.EntityID)
			if err != nil {
				return nil, err
			}
			userID = l.UserID
		default:
			return nil, apperr.Business("cannot block a user from a %s report", r.EntityType)
		}
		if _, err := s.blocker.Block(ctx, userID, "report: "+r.Reason, 0); err != nil {
			return nil, err
		}
	case "remove_listing":
		if r.EntityType != EntityListing {
			return nil, apperr.Business("report is not about a listing")
		}
		if err := s.listings.Remove(ctx, r.EntityID); err != nil {
			return nil, err
		}
	default:
		return nil, apperr.FieldError("action", "must be one of: dismiss resolve block_user remove_listing")
	}
	now := s.now()
	r.Status, r.Resolution, r.ResolvedBy, r.ResolvedAt = status, strings.TrimSpace(resolution), adminID, &now
	if err := s.reports.Update(ctx, r); err != nil {
		return nil, err
	}
	logger.Infof("report %s %s by %s (%s)", r.ID, r.Status, adminID, action)
	return r, nil
}
