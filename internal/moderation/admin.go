package moderation

import (
	"context"
	"sort"
	"time"

	"github.com/kolesa/kolesa/backend/go-services/internal/models"
	"github.com/kolesa/kolesa/backend/go-services/internal/users"
	"github.com/kolesa/kolesa/backend/go-services/pkg/apperr"
	"github.com/kolesa/kolesa/backend/go-services/pkg/logger"
)

const (
	defaultStatsDays = 30
	maxStatsDays     = 365
	pingTimeout      = 2 * time.Second
)

// UserAdmin is the part of the users service the console uses.
type UserAdmin interface {
	Blocker
	Search(ctx context.Context, f users.Filter) ([]*models.User, int64, error)
	CountByType(ctx context.Context) (map[string]int64, error)
	AdminAction(ctx context.Context, id, action, reason string) (*models.User, error)
}

// TicketCounter reports open support tickets.
type TicketCounter interface {
	OpenTickets(ctx context.Context) (int64, error)
}

// RevenueSource sums successful payments since a time; zero means all time.
type RevenueSource interface {
	Revenue(ctx context.Context, since time.Time) (float64, error)
}

// PingFunc checks one dependency.
type PingFunc func(ctx context.Context) error

// Admin serves the admin dashboard, user management and health views.
type Admin struct {
	mod      *Service
	users    UserAdmin
	listings Listings
	tickets  TicketCounter
	revenue  RevenueSource
	checks   map[string]PingFunc
	now      func() time.Time
}

func NewAdmin(mod *Service, u UserAdmin, listings Listings) *Admin {
	return &Admin{
		mod: mod, users: u, listings: listings, checks: map[string]PingFunc{},
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (a *Admin) SetTicketCounter(t TicketCounter) { a.tickets = t }
func (a *Admin) SetRevenueSource(r RevenueSource) { a.revenue = r }

// AddCheck registers a dependency for SystemHealth.
func (a *Admin) AddCheck(name string, ping PingFunc) { a.checks[name] = ping }

type Dashboard struct {
	UsersByType       map[string]int64 `json:"users_by_type"`
	TotalUsers        int64            `json:"total_users"`
	ListingsByStatus  map[string]int64 `json:"listings_by_status"`
	TotalListings     int64            `json:"total_listings"`
	PendingModeration int64            `json:"pending_moderation"`
	OpenReports       int64            `json:"open_reports"`
	OpenTickets       int64            `json:"open_tickets"`
	Revenue           float64          `json:"revenue_total"`
	Revenue30d        float64          `json:"revenue_30d"`
}

func sum(m map[string]int64) int64 {
	var n int64
	for _, v := range m {
		n += v
	}
	return n
}

func (a *Admin) Dashboard(ctx context.Context) (*Dashboard, error) {
	d := &Dashboard{}
	var err error
	if d.UsersByType, err = a.users.CountByType(ctx); err != nil {
		return nil, err
	}
	if d.ListingsByStatus, err = a.listings.CountByStatus(ctx, ""); err != nil {
		return nil, err
	}
	d.TotalUsers, d.TotalListings = sum(d.UsersByType), sum(d.ListingsByStatus)
	items, err := a.mod.items.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	d.PendingModeration = items[StatusPending]
	reports, err := a.mod.reports.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	d.OpenReports = reports[ReportPending]
	if a.tickets != nil {
		if d.OpenTickets, err = a.tickets.OpenTickets(ctx); err != nil {
			return nil, err
		}
	}
	if a.revenue != nil {
		if d.Revenue, err = a.revenue.Revenue(ctx, time.Time{}); err != nil {
			return nil, err
		}
		if d.Revenue30d, err = a.revenue.Revenue(ctx, a.now().AddDate(0, 0, -30)); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// UserQuery filters the admin user list. Status is active, inactive or empty.
type UserQuery struct {
	Query    string
	UserType string
	Status   string
	Skip     int64
	Limit    int64
}

func (a *Admin) Users(ctx context.Context, q UserQuery) ([]*models.User, int64, error) {
	f := users.Filter{Query: q.Query, UserType: q.UserType, Skip: q.Skip, Limit: q.Limit}
	switch q.Status {
	case "":
	case "active", "inactive":
		active := q.Status == "active"
		f.Active = &active
	default:
		return nil, 0, apperr.FieldError("status", "must be active or inactive")
	}
	return a.users.Search(ctx, f)
}

// UserAction applies an admin action to another user.
func (a *Admin) UserAction(ctx context.Context, adminID, userID, action, reason string) (*models.User, error) {
	if adminID == userID {
		return nil, apperr.Business("you cannot perform actions on your own account")
	}
	u, err := a.users.AdminAction(ctx, userID, action, reason)
	if err != nil {
		return nil, err
	}
	logger.Infof("admin %s: %s user %s reason=%q", adminID, action, userID, reason)
	return u, nil
}

type CheckResult struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

type Health struct {
	Status    string                 `json:"status"`
	Checks    map[string]CheckResult `json:"checks"`
	Timestamp time.Time              `json:"timestamp"`
}

// SystemHealth pings every registered dependency.
func (a *Admin) SystemHealth(ctx context.Context) *Health {
	h := &Health{Status: "healthy", Checks: map[string]CheckResult{}, Timestamp: a.now()}
	names := make([]string, 0, len(a.checks))
	for name := range a.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		pctx, cancel := context.WithTimeout(ctx, pingTimeout)
		start := time.Now()
		err := a.checks[name](pctx)
		cancel()
		res := CheckResult{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
		if err != nil {
			res.Status, res.Error = "error", err.Error()
			h.Status = "degraded"
		}
		h.Checks[name] = res
	}
	return h
}

type Stats struct {
	PeriodDays       int              `json:"period_days"`
	Since            time.Time        `json:"since"`
	Decisions        map[string]int64 `json:"moderation_decisions"`
	ReportsFiled     int64            `json:"reports_filed"`
	Revenue          float64          `json:"revenue"`
	UsersByType      map[string]int64 `json:"users_by_type"`
	ListingsByStatus map[string]int64 `json:"listings_by_status"`
}

// Stats summarises activity over the last days (1..365, default 30).
func (a *Admin) Stats(ctx context.Context, days int) (*Stats, error) {
	if days == 0 {
		days = defaultStatsDays
	}
	if days < 1 || days > maxStatsDays {
		return nil, apperr.FieldError("period_days", "must be between 1 and 365")
	}
	st := &Stats{PeriodDays: days, Since: a.now().AddDate(0, 0, -days)}
	var err error
	if st.Decisions, err = a.mod.items.CountDecidedSince(ctx, st.Since); err != nil {
		return nil, err
	}
	if st.ReportsFiled, err = a.mod.reports.CountSince(ctx, st.Since); err != nil {
		return nil, err
	}
	if a.revenue != nil {
		if st.Revenue, err = a.revenue.Revenue(ctx, st.Since); err != nil {
			return nil, err
		}
	}
	if st.UsersByType, err = a.users.CountByType(ctx); err != nil {
		return nil, err
	}
	if st.ListingsByStatus, err = a.listings.CountByStatus(ctx, ""); err != nil {
		return nil, err
	}
	return st, nil
}
