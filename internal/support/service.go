package support

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kolesa/kolesa/backend/go-services/internal/models"
	"github.com/kolesa/kolesa/backend/go-services/internal/notifications"
	"github.com/kolesa/kolesa/backend/go-services/internal/users"
	"github.com/kolesa/kolesa/backend/go-services/pkg/apperr"
	"github.com/kolesa/kolesa/backend/go-services/pkg/logger"
)

type Users interface {
	Get(ctx context.Context, id string) (*models.User, error)
	Search(ctx context.Context, f users.Filter) ([]*models.User, int64, error)
}

type Notifier interface {
	NotifyTemplate(ctx context.Context, userID, typ, code string, vars map[string]string)
}

type Service struct {
	tickets   TicketRepository
	responses ResponseRepository
	content   ContentRepository
	users     Users
	notifier  Notifier
	now       func() time.Time
}

func NewService(tickets TicketRepository, responses ResponseRepository, content ContentRepository, u Users, notifier Notifier) *Service {
	return &Service{
		tickets: tickets, responses: responses, content: content, users: u, notifier: notifier,
		now: func() time.Time { return time.Now().UTC() },
	}
}

type CreateInput struct {
	CategoryID  string `json:"category_id"`
	Priority    string `json:"priority" binding:"omitempty,oneof=low medium high critical"`
	Subject     string `json:"subject" binding:"required,min=5,max=255"`
	Description string `json:"description" binding:"required,min=10,max=5000"`
}

func (s *Service) number() string {
	return fmt.Sprintf("T%s%04d", s.now().Format("060102"), rand.IntN(10000))
}

// Create opens a ticket and tells the staff about it.
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (*Ticket, error) {
	in.Subject = strings.TrimSpace(in.Subject)
	in.Description = strings.TrimSpace(in.Description)
	if n := len([]rune(in.Subject)); n < 5 || n > 255 {
		return nil, apperr.FieldError("subject", "subject must be 5 to 255 characters")
	}
	if n := len([]rune(in.Description)); n < 10 || n > 5000 {
		return nil, apperr.FieldError("description", "description must be 10 to 5000 characters")
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	level, ok := priorityLevels[in.Priority]
	if !ok {
		return nil, apperr.FieldError("priority", "unknown priority "+in.Priority)
	}
	if in.CategoryID != "" {
		cat, err := s.content.Category(ctx, in.CategoryID)
		if err != nil {
			return nil, apperr.Internal("load category", err)
		}
		if cat == nil {
			return nil, apperr.FieldError("category_id", "unknown category "+in.CategoryID)
		}
	}
	now := s.now()
	t := &Ticket{
		ID: uuid.NewString(), UserID: userID, CategoryID: in.CategoryID,
		Subject: in.Subject, Description: in.Description, Priority: in.Priority, PriorityLevel: level,
		Status: StatusOpen, CreatedAt: now, UpdatedAt: now,
	}
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		t.Number = s.number()
		if err = s.tickets.Create(ctx, t); !errors.Is(err, ErrDuplicate) {
			break
		}
	}
	if err != nil {
		return nil, apperr.Internal("create ticket", err)
	}
	s.notifyStaff(ctx, t)
	return t, nil
}

func (s *Service) notifyStaff(ctx context.Context, t *Ticket) {
	active := true
	admins, _, err := s.users.Search(ctx, users.Filter{UserType: models.UserTypeAdmin, Active: &active, Limit: 100})
	if err != nil {
		logger.Warnf("ticket %s: list staff: %v", t.Number, err)
		return
	}
	vars := map[string]string{"ticket_number": t.Number, "subject": t.Subject, "ticket_id": t.ID}
	for _, a := range admins {
		s.notifier.NotifyTemplate(ctx, a.ID, notifications.TypeSupportTicket, "new_support_ticket", vars)
	}
}

func (s *Service) List(ctx context.Context, userID, status, categoryID string, skip, limit int64) ([]*Ticket, int64, error) {
	out, total, err := s.tickets.List(ctx, TicketFilter{UserID: userID, Status: status, CategoryID: categoryID, Skip: skip, Limit: limit})
	if err != nil {
		return nil, 0, apperr.Internal("list tickets", err)
	}
	return out, total, nil
}

// load returns a ticket the caller may see. Other users' tickets are
// reported as missing.
func (s *Service) load(ctx context.Context, id, userID string, isAdmin bool) (*Ticket, error) {
	t, err := s.tickets.Get(ctx, id)
	if err != nil {
		return nil, apperr.Internal("load ticket", err)
	}
	if t == nil || (!isAdmin && t.UserID != userID) {
		return nil, apperr.NotFound("ticket %s not found", id)
	}
	return t, nil
}

type TicketDetail struct {
	*Ticket
	Responses []*Response `json:"responses"`
}

// Get returns a ticket with its conversation. Internal notes are left
// out for the ticket owner.
func (s *Service) Get(ctx context.Context, id, userID string, isAdmin bool) (*TicketDetail, error) {
	t, err := s.load(ctx, id, userID, isAdmin)
	if err != nil {
		return nil, err
	}
	rs, err := s.responses.List(ctx, t.ID, isAdmin)
	if err != nil {
		return nil, apperr.Internal("list responses", err)
	}
	return &TicketDetail{Ticket: t, Responses: rs}, nil
}

type RespondInput struct {
	Message    string `json:"message" binding:"required,max=5000"`
	IsInternal bool   `json:"is_internal"`
}

// Respond adds a reply. A staff reply hands the ticket back to the user
// and a user reply hands it back to the staff.
func (s *Service) Respond(ctx context.Context, id, userID string, isAdmin bool, in RespondInput) (*Response, error) {
	msg := strings.TrimSpace(in.Message)
	if msg == "" || len([]rune(msg)) > 5000 {
		return nil, apperr.FieldError("message", "message must be 1 to 5000 characters")
	}
	t, err := s.load(ctx, id, userID, isAdmin)
	if err != nil {
		return nil, err
	}
	if t.IsFinal() {
		return nil, apperr.Business("ticket %s is %s", t.Number, t.Status)
	}
	staff := isAdmin && t.UserID != userID
	now := s.now()
	r := &Response{
		ID: uuid.NewString(), TicketID: t.ID, AuthorID: userID, Message: msg,
		IsStaff: staff, IsInternal: staff && in.IsInternal, CreatedAt: now,
	}
	if err := s.responses.Create(ctx, r); err != nil {
		return nil, apperr.Internal("create response", err)
	}
	if r.IsInternal {
		return r, nil
	}

	switch {
	case staff && (t.Status == StatusOpen || t.Status == StatusInProgress):
		t.Status = StatusWaitingUser
	case !staff && t.Status == StatusWaitingUser:
		t.Status = StatusInProgress
	case !staff && t.Status == StatusResolved:
		t.Status = StatusOpen
		t.ResolvedAt = nil
	}
	if staff && t.FirstResponseAt == nil {
		t.FirstResponseAt = &now
	}
	t.UpdatedAt = now
	if err := s.tickets.Update(ctx, t); err != nil {
		return nil, apperr.Internal("update ticket", err)
	}
	if staff {
		s.notifier.NotifyTemplate(ctx, t.UserID, notifications.TypeSupportReply, "support_reply",
			map[string]string{"ticket_number": t.Number, "ticket_id": t.ID})
	}
	return r, nil
}

// Close lets the owner close a ticket and rate the help received.
func (s *Service) Close(ctx context.Context, id, userID string, satisfaction *int) (*Ticket, error) {
	if satisfaction != nil && (*satisfaction < 1 || *satisfaction > 5) {
		return nil, apperr.FieldError("satisfaction", "satisfaction must be between 1 and 5")
	}
	t, err := s.load(ctx, id, userID, false)
	if err != nil {
		return nil, err
	}
	if t.IsFinal() {
		return nil, apperr.Business("ticket %s is already %s", t.Number, t.Status)
	}
	now := s.now()
	t.Status = StatusClosed
	t.ClosedAt = &now
	if t.ResolvedAt == nil {
		t.ResolvedAt = &now
	}
	if satisfaction != nil {
		v := *satisfaction
		t.Satisfaction = &v
	}
	t.UpdatedAt = now
	if err := s.tickets.Update(ctx, t); err != nil {
		return nil, apperr.Internal("update ticket", err)
	}
	return t, nil
}

func (s *Service) Categories(ctx context.Context) ([]Category, error) {
	out, err := s.content.Categories(ctx)
	if err != nil {
		return nil, apperr.Internal("list categories", err)
	}
	return out, nil
}

// FAQ returns published entries, filtered by category and by a
// case-insensitive match on the question or answer.
func (s *Service) FAQ(ctx context.Context, categoryID, q string) ([]FAQ, error) {
	all, err := s.content.FAQ(ctx, categoryID)
	if err != nil {
		return nil, apperr.Internal("list faq", err)
	}
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return all, nil
	}
	out := []FAQ{}
	for _, f := range all {
		if strings.Contains(strings.ToLower(f.Question), q) || strings.Contains(strings.ToLower(f.Answer), q) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *Service) ViewFAQ(ctx context.Context, id string) (*FAQ, error) {
	f, err := s.content.ViewFAQ(ctx, id)
	if err != nil {
		return nil, apperr.Internal("load faq", err)
	}
	if f == nil {
		return nil, apperr.NotFound("faq entry %s not found", id)
	}
	return f, nil
}

// AdminTickets is the staff queue, most urgent first.
func (s *Service) AdminTickets(ctx context.Context, f TicketFilter) ([]*Ticket, int64, error) {
	f.ByPriority = true
	out, total, err := s.tickets.List(ctx, f)
	if err != nil {
		return nil, 0, apperr.Internal("list tickets", err)
	}
	return out, total, nil
}

// Assign gives a ticket to a staff member and puts it in progress.
func (s *Service) Assign(ctx context.Context, id, assigneeID string) (*Ticket, error) {
	t, err := s.load(ctx, id, "", true)
	if err != nil {
		return nil, err
	}
	if t.IsFinal() {
		return nil, apperr.Business("ticket %s is %s", t.Number, t.Status)
	}
	u, err := s.users.Get(ctx, assigneeID)
	if err != nil {
		return nil, err
	}
	if u.UserType != models.UserTypeAdmin {
		return nil, apperr.FieldError("assigned_to", "tickets can only be assigned to staff")
	}
	now := s.now()
	t.AssignedTo = u.ID
	if t.Status == StatusOpen {
		t.Status = StatusInProgress
	}
	if t.FirstResponseAt == nil {
		t.FirstResponseAt = &now
	}
	t.UpdatedAt = now
	if err := s.tickets.Update(ctx, t); err != nil {
		return nil, apperr.Internal("update ticket", err)
	}
	return t, nil
}

type UpdateInput struct {
	Status     *string `json:"status"`
	Priority   *string `json:"priority"`
	CategoryID *string `json:"category_id"`
}

// Update changes a ticket's status, priority or category.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*Ticket, error) {
	t, err := s.load(ctx, id, "", true)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if in.Status != nil && *in.Status != t.Status {
		if !validStatuses[*in.Status] {
			return nil, apperr.FieldError("status", "unknown status "+*in.Status)
		}
		t.Status = *in.Status
		switch t.Status {
		case StatusResolved:
			t.ResolvedAt = &now
		case StatusClosed, StatusRejected:
			t.ClosedAt = &now
			if t.ResolvedAt == nil {
				t.ResolvedAt = &now
			}
		case StatusOpen, StatusInProgress, StatusWaitingUser:
			t.ResolvedAt, t.ClosedAt = nil, nil
		}
	}
	if in.Priority != nil {
		level, ok := priorityLevels[*in.Priority]
		if !ok {
			return nil, apperr.FieldError("priority", "unknown priority "+*in.Priority)
		}
		t.Priority, t.PriorityLevel = *in.Priority, level
	}
	if in.CategoryID != nil {
		if *in.CategoryID != "" {
			cat, err := s.content.Category(ctx, *in.CategoryID)
			if err != nil {
				return nil, apperr.Internal("load category", err)
			}
			if cat == nil {
				return nil, apperr.FieldError("category_id", "unknown category "+*in.CategoryID)
			}
		}
		t.CategoryID = *in.CategoryID
	}
	t.UpdatedAt = now
	if err := s.tickets.Update(ctx, t); err != nil {
		return nil, apperr.Internal("update ticket", err)
	}
	return t, nil
}

type Statistics struct {
	Total              int64            `json:"total_tickets"`
	Open               int64            `json:"open_tickets"`
	Resolved           int64            `json:"resolved_tickets"`
	Closed             int64            `json:"closed_tickets"`
	ByStatus           map[string]int64 `json:"by_status"`
	ByPriority         map[string]int64 `json:"by_priority"`
	ByCategory         map[string]int64 `json:"by_category"`
	AvgResponseHours   float64          `json:"avg_response_time_hours"`
	AvgResolutionHours float64          `json:"avg_resolution_time_hours"`
	AvgSatisfaction    float64          `json:"avg_satisfaction"`
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func (s *Service) Statistics(ctx context.Context) (*Statistics, error) {
	var st Statistics
	var err error
	if st.ByStatus, err = s.tickets.CountBy(ctx, "status"); err != nil {
		return nil, apperr.Internal("ticket stats", err)
	}
	if st.ByPriority, err = s.tickets.CountBy(ctx, "priority"); err != nil {
		return nil, apperr.Internal("ticket stats", err)
	}
	if st.ByCategory, err = s.tickets.CountBy(ctx, "category_id"); err != nil {
		return nil, apperr.Internal("ticket stats", err)
	}
	avg, err := s.tickets.Averages(ctx)
	if err != nil {
		return nil, apperr.Internal("ticket stats", err)
	}
	for _, n := range st.ByStatus {
		st.Total += n
	}
	for _, status := range openStatuses {
		st.Open += st.ByStatus[status]
	}
	st.Resolved = st.ByStatus[StatusResolved]
	st.Closed = st.ByStatus[StatusClosed]
	st.AvgResponseHours = round2(avg.ResponseSeconds / 3600)
	st.AvgResolutionHours = round2(avg.ResolutionSeconds / 3600)
	st.AvgSatisfaction = round2(avg.Satisfaction)
	return &st, nil
}

// OpenTickets counts tickets waiting on the desk or the user.
func (s *Service) OpenTickets(ctx context.Context) (int64, error) {
	by, err := s.tickets.CountBy(ctx, "status")
	if err != nil {
		return 0, err
	}
	var n int64
	for _, status := range openStatuses {
		n += by[status]
	}
	return n, nil
}

// OwnsTicket reports whether userID opened the ticket.
func (s *Service) OwnsTicket(ctx context.Context, id, userID string) (bool, error) {
	t, err := s.tickets.Get(ctx, id)
	if err != nil {
		return false, apperr.Internal("load ticket", err)
	}
	if t == nil {
		return false, apperr.NotFound("ticket %s not found", id)
	}
	return t.UserID == userID, nil
}

// TicketExists backs moderation reports and media cleanup.
func (s *Service) TicketExists(ctx context.Context, id string) (bool, error) {
	t, err := s.tickets.Get(ctx, id)
	return t != nil, err
}
