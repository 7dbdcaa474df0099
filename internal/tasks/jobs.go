package tasks

import (
	"context"
	"time"
	// CRON_TZ schedules need the zone database in slim containers.
	_ "time/tzdata"
)

type ListingMaintenance interface {
	ExpireListings(ctx context.Context) (int64, error)
	UpdateScores(ctx context.Context) (int, error)
	CountByStatus(ctx context.Context, userID string) (map[string]int64, error)
}

type PromotionExpirer interface {
	ExpirePromotions(ctx context.Context) (int, error)
}

type SessionCleaner interface {
	CleanupExpired(ctx context.Context) (int, error)
}

type MediaCleaner interface {
	CleanupOrphans(ctx context.Context) (int, error)
}

type NotificationCleaner interface {
	CleanupRead(ctx context.Context) (int64, error)
}

type UserCounter interface {
	CountByType(ctx context.Context) (map[string]int64, error)
}

type RevenueSource interface {
	Revenue(ctx context.Context, since time.Time) (float64, error)
}

type TicketCounter interface {
	OpenTickets(ctx context.Context) (int64, error)
}

// Deps are the services the jobs work on.
type Deps struct {
	Listings      ListingMaintenance
	Promotions    PromotionExpirer
	Sessions      SessionCleaner
	Media         MediaCleaner
	Notifications NotificationCleaner
	Users         UserCounter
	Payments      RevenueSource
	Support       TicketCounter
	// Location of the daily schedule; UTC when nil.
	Location *time.Location
}

// Schedules of the frequent jobs.
const (
	EveryHour        = "0 * * * *"
	EveryQuarterHour = "*/15 * * * *"
)

// Jobs builds the maintenance jobs. Daily schedules carry a CRON_TZ
// prefix so they follow d.Location.
func Jobs(d Deps) []Job {
	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}
	daily := func(hour string) string { return "CRON_TZ=" + loc.String() + " 0 " + hour + " * * *" }
	now := func() time.Time { return time.Now().In(loc) }

	return []Job{
		{Name: "expire_listings", Schedule: EveryHour, Run: func(ctx context.Context) (map[string]interface{}, error) {
			n, err := d.Listings.ExpireListings(ctx)
			return map[string]interface{}{"expired": n}, err
		}},
		{Name: "update_listing_scores", Schedule: daily("1"), Timeout: 30 * time.Minute, Run: func(ctx context.Context) (map[string]interface{}, error) {
			n, err := d.Listings.UpdateScores(ctx)
			return map[string]interface{}{"updated": n}, err
		}},
		{Name: "expire_promotions", Schedule: EveryQuarterHour, Run: func(ctx context.Context) (map[string]interface{}, error) {
			n, err := d.Promotions.ExpirePromotions(ctx)
			return map[string]interface{}{"expired": n}, err
		}},
		{Name: "cleanup_sessions", Schedule: daily("2"), Run: func(ctx context.Context) (map[string]interface{}, error) {
			n, err := d.Sessions.CleanupExpired(ctx)
			return map[string]interface{}{"deleted": n}, err
		}},
		{Name: "cleanup_orphaned_media", Schedule: daily("3"), Timeout: 30 * time.Minute, Run: func(ctx context.Context) (map[string]interface{}, error) {
			n, err := d.Media.CleanupOrphans(ctx)
			return map[string]interface{}{"entities": n}, err
		}},
		{Name: "cleanup_notifications", Schedule: daily("3"), Run: func(ctx context.Context) (map[string]interface{}, error) {
			n, err := d.Notifications.CleanupRead(ctx)
			return map[string]interface{}{"deleted": n}, err
		}},
		{Name: "daily_stats", Schedule: daily("4"), Run: func(ctx context.Context) (map[string]interface{}, error) {
			return DailyStats(ctx, d, now())
		}},
	}
}

// DailyStats snapshots listing, user and support counts and the revenue
// of the day before at.
func DailyStats(ctx context.Context, d Deps, at time.Time) (map[string]interface{}, error) {
	listings, err := d.Listings.CountByStatus(ctx, "")
	if err != nil {
		return nil, err
	}
	users, err := d.Users.CountByType(ctx)
	if err != nil {
		return nil, err
	}
	var total int64
	for _, n := range users {
		total += n
	}
	open, err := d.Support.OpenTickets(ctx)
	if err != nil {
		return nil, err
	}
	midnight := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, at.Location())
	revenue, err := d.Payments.Revenue(ctx, midnight.AddDate(0, 0, -1))
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"date":              midnight.AddDate(0, 0, -1).Format("2006-01-02"),
		"listings":          listings,
		"users":             users,
		"users_total":       total,
		"open_tickets":      open,
		"revenue_since_day": revenue,
	}, nil
}
