package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"
)

func TestRunRecordsSuccessAndFailure(t *testing.T) {
	store := NewMemoryStore()
	r := NewRunner(store)
	r.Register(
		Job{Name: "ok", Run: func(ctx context.Context) (map[string]interface{}, error) {
			return map[string]interface{}{"n": 3}, nil
		}},
		Job{Name: "broken", Run: func(ctx context.Context) (map[string]interface{}, error) {
			return nil, errors.New("mongo down")
		}},
		Job{Name: "panics", Run: func(ctx context.Context) (map[string]interface{}, error) {
			panic("nil map")
		}},
	)
	ctx := context.Background()
	require.Equal(t, []string{"broken", "ok", "panics"}, r.Jobs())

	run, err := r.Run(ctx, "ok")
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, run.Status)
	require.NotNil(t, run.FinishedAt)

	_, err = r.Run(ctx, "broken")
	require.EqualError(t, err, "mongo down")
	hist, err := r.History(ctx, "broken", 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	require.Equal(t, StatusFailed, hist[0].Status)
	require.Equal(t, "mongo down", hist[0].Error)

	run, err = r.Run(ctx, "panics")
	require.Error(t, err)
	require.Equal(t, StatusFailed, run.Status)

	_, err = r.Run(ctx, "nope")
	require.Error(t, err)
}

func TestRunAppliesTimeoutAndRejectsOverlap(t *testing.T) {
	r := NewRunner(nil)
	started := make(chan struct{})
	r.Register(Job{Name: "slow", Timeout: 50 * time.Millisecond, Run: func(ctx context.Context) (map[string]interface{}, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}})

	errs := make(chan error, 1)
	go func() {
		_, err := r.Run(context.Background(), "slow")
		errs <- err
	}()
	<-started
	_, err := r.Run(context.Background(), "slow")
	require.ErrorIs(t, err, ErrBusy)
	require.ErrorIs(t, <-errs, context.DeadlineExceeded)
}

func TestScheduleRejectsBadSpec(t *testing.T) {
	r := NewRunner(nil)
	r.Register(Job{Name: "bad", Schedule: "every tuesday", Run: func(ctx context.Context) (map[string]interface{}, error) { return nil, nil }})
	require.Error(t, r.Schedule(context.Background(), cron.New()))
}

type fakes struct {
	expired, scored, promos, sessions, media int
	notes                                    int64
}

func (f *fakes) ExpireListings(ctx context.Context) (int64, error) { f.expired++; return 2, nil }
func (f *fakes) UpdateScores(ctx context.Context) (int, error)     { f.scored++; return 10, nil }
func (f *fakes) CountByStatus(ctx context.Context, userID string) (map[string]int64, error) {
	return map[string]int64{"active": 5, "draft": 1}, nil
}
func (f *fakes) ExpirePromotions(ctx context.Context) (int, error) { f.promos++; return 1, nil }
func (f *fakes) CleanupExpired(ctx context.Context) (int, error)   { f.sessions++; return 4, nil }
func (f *fakes) CleanupOrphans(ctx context.Context) (int, error)   { f.media++; return 0, nil }
func (f *fakes) CleanupRead(ctx context.Context) (int64, error)    { f.notes++; return 7, nil }
func (f *fakes) CountByType(ctx context.Context) (map[string]int64, error) {
	return map[string]int64{"regular": 8, "dealer": 2}, nil
}
func (f *fakes) Revenue(ctx context.Context, since time.Time) (float64, error) { return 2500, nil }
func (f *fakes) OpenTickets(ctx context.Context) (int64, error)               { return 3, nil }

func deps(f *fakes) Deps {
	almaty := time.FixedZone("Asia/Almaty", 5*3600)
	return Deps{Listings: f, Promotions: f, Sessions: f, Media: f, Notifications: f, Users: f, Payments: f, Support: f, Location: almaty}
}

func TestMaintenanceJobsScheduleAndRun(t *testing.T) {
	f := &fakes{}
	r := NewRunner(NewMemoryStore())
	r.Register(Jobs(deps(f))...)
	require.Equal(t, []string{
		"cleanup_notifications", "cleanup_orphaned_media", "cleanup_sessions", "daily_stats",
		"expire_listings", "expire_promotions", "update_listing_scores",
	}, r.Jobs())

	c := cron.New()
	require.NoError(t, r.Schedule(context.Background(), c))
	require.Len(t, c.Entries(), 7)

	for _, name := range r.Jobs() {
		run, err := r.Run(context.Background(), name)
		require.NoError(t, err, name)
		require.Equal(t, StatusSuccess, run.Status)
	}
	require.Equal(t, 1, f.expired)
	require.Equal(t, 1, f.promos)
	require.Equal(t, int64(1), f.notes)
}

func TestDailyStats(t *testing.T) {
	f := &fakes{}
	d := deps(f)
	at := time.Date(2026, 4, 2, 4, 0, 0, 0, d.Location)
	got, err := DailyStats(context.Background(), d, at)
	require.NoError(t, err)
	require.Equal(t, "2026-04-01", got["date"])
	require.Equal(t, int64(10), got["users_total"])
	require.Equal(t, int64(3), got["open_tickets"])
	require.Equal(t, 2500.0, got["revenue_since_day"])
}
