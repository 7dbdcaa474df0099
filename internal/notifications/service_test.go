package notifications

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kolesa/kolesa/backend/go-services/internal/models"
	"github.com/kolesa/kolesa/backend/go-services/internal/users"
	"github.com/kolesa/kolesa/backend/go-services/pkg/apperr"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	emails []string
	sms    []string
	pushes []string
	fail   bool
}

func (r *recorder) SendEmail(ctx context.Context, to, subject, text, html string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emails = append(r.emails, to+": "+subject)
	return nil
}

func (r *recorder) SendSMS(ctx context.Context, to, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sms = append(r.sms, to)
	return nil
}

func (r *recorder) SendPush(ctx context.Context, token, title, body string, data map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("push gateway down")
	}
	r.pushes = append(r.pushes, token+": "+title)
	return nil
}

type fixture struct {
	svc   *Service
	repo  *MemoryRepository
	users *users.Service
	out   *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tpl, err := NewTemplates()
	require.NoError(t, err)
	f := &fixture{repo: NewMemoryRepository(), users: users.NewMemoryService(), out: &recorder{}}
	d := NewDispatcher(f.repo, f.users, f.out, f.out, f.out)
	f.svc = NewService(f.repo, NewMemorySettingsRepository(), f.users, InlineQueue{P: d, Delay: func(int) time.Duration { return time.Millisecond }}, tpl)
	return f
}

func (f *fixture) user(t *testing.T, phone, email string) *models.User {
	t.Helper()
	u, err := f.users.Register(context.Background(), users.RegisterInput{
		Phone: phone, Email: email, Password: "secret123", FirstName: "Dana",
	})
	require.NoError(t, err)
	return u
}

func byChannel(items []*Notification, ch string) *Notification {
	for _, n := range items {
		if n.Channel == ch {
			return n
		}
	}
	return nil
}

func TestSendDeliversEnabledChannels(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "+77011234567", "dana@example.com")
	_, err := f.users.RegisterDevice(ctx, u.ID, "device-token-1", "android", "1.0")
	require.NoError(t, err)

	items, err := f.svc.Send(ctx, SendRequest{
		UserID: u.ID, Type: TypePaymentReceived, Title: "Оплата", Message: "Получено",
		Channels: []string{ChannelInApp, ChannelPush, ChannelEmail, ChannelSMS},
	})
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.Nil(t, byChannel(items, ChannelSMS))
	require.Equal(t, StatusDelivered, byChannel(items, ChannelInApp).Status)

	push, err := f.repo.Get(ctx, byChannel(items, ChannelPush).ID)
	require.NoError(t, err)
	require.Equal(t, StatusSent, push.Status)
	require.Equal(t, 1, push.Attempts)
	require.Equal(t, []string{"device-token-1: Оплата"}, f.out.pushes)
	require.Equal(t, []string{"dana@example.com: Оплата"}, f.out.emails)

	n, err := f.svc.UnreadCount(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestSendRespectsSettings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "+77011234567", "")

	st, err := f.svc.Settings(ctx, u.ID)
	require.NoError(t, err)
	require.True(t, st.Prefs(TypeMessageReceived).Push)
	require.False(t, st.Prefs(TypeMessageReceived).SMS)

	_, err = f.svc.UpdateSettings(ctx, u.ID, map[string]ChannelPrefs{TypeMessageReceived: {InApp: true, SMS: true}})
	require.NoError(t, err)
	_, err = f.svc.UpdateSettings(ctx, u.ID, map[string]ChannelPrefs{"weather": {}})
	require.True(t, apperr.Is(err, apperr.KindValidation))

	items, err := f.svc.Send(ctx, SendRequest{
		UserID: u.ID, Type: TypeMessageReceived, Title: "Новое сообщение", Message: "Привет",
		Channels: []string{ChannelPush, ChannelSMS},
	})
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Nil(t, byChannel(items, ChannelPush))
	require.Equal(t, []string{u.Phone}, f.out.sms)

	_, err = f.svc.Send(ctx, SendRequest{UserID: u.ID, Title: "x", Message: "y", Channels: []string{"pigeon"}})
	require.True(t, apperr.Is(err, apperr.KindValidation))
	_, err = f.svc.Send(ctx, SendRequest{UserID: "nobody", Title: "x", Message: "y"})
	require.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestDispatcherGivesUpAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "+77011234567", "")
	_, err := f.users.RegisterDevice(ctx, u.ID, "device-token-1", "ios", "2.0")
	require.NoError(t, err)
	f.out.fail = true

	items, err := f.svc.Send(ctx, SendRequest{UserID: u.ID, Title: "Привет", Message: "Тест"})
	require.NoError(t, err)
	id := byChannel(items, ChannelPush).ID
	first, err := f.repo.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 1, first.Attempts, "only the first attempt runs inside Send")

	require.Eventually(t, func() bool {
		n, err := f.repo.Get(ctx, id)
		return err == nil && n.Status == StatusFailed
	}, 2*time.Second, 5*time.Millisecond)
	push, err := f.repo.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, MaxAttempts, push.Attempts)
	require.Equal(t, "no active devices", push.Error)
}

func TestReadTracking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "+77011234567", "")
	other := f.user(t, "+77019876543", "")

	var first *Notification
	for i := 0; i < 3; i++ {
		items, err := f.svc.Send(ctx, SendRequest{UserID: u.ID, Title: "Привет", Message: "Тест", Channels: []string{ChannelInApp}})
		require.NoError(t, err)
		first = items[0]
	}

	_, err := f.svc.Get(ctx, other.ID, first.ID)
	require.True(t, apperr.Is(err, apperr.KindNotFound))
	n, err := f.svc.Get(ctx, u.ID, first.ID)
	require.NoError(t, err)
	require.True(t, n.IsRead)

	unread, total, err := f.svc.List(ctx, u.ID, true, 0, 10)
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
	require.Len(t, unread, 2)

	require.NoError(t, f.svc.MarkRead(ctx, u.ID, unread[0].ID))
	require.True(t, apperr.Is(f.svc.MarkRead(ctx, other.ID, unread[1].ID), apperr.KindNotFound))

	count, err := f.svc.MarkAllRead(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	f.svc.now = func() time.Time { return time.Now().UTC().Add(RetainRead + time.Hour) }
	removed, err := f.svc.CleanupRead(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), removed)
}

func TestBroadcastAndTemplates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, "+77011234567", "")
	f.user(t, "+77019876543", "")

	n, err := f.svc.Broadcast(ctx, BroadcastRequest{Title: "Обновление", Message: "Новая версия"})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	r, err := f.svc.RenderTemplate("listing_rejected", map[string]string{"listing_title": "Camry", "reason": "дубликат"})
	require.NoError(t, err)
	require.Equal(t, "Объявление отклонено", r.Subject)
	require.Contains(t, r.Body, `"Camry"`)
	require.Contains(t, r.Body, "Причина: дубликат")

	r, err = f.svc.RenderTemplate("listing_rejected", map[string]string{"listing_title": "Camry"})
	require.NoError(t, err)
	require.NotContains(t, r.Body, "Причина")
	require.NotContains(t, r.Body, "no value")

	_, err = f.svc.RenderTemplate("nope", nil)
	require.True(t, apperr.Is(err, apperr.KindNotFound))
	require.Len(t, f.svc.Templates(), len(catalog))
}

func TestTestPushRequiresDevice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(t, "+77011234567", "")

	_, err := f.svc.TestPush(ctx, u.ID)
	require.True(t, apperr.Is(err, apperr.KindBusinessLogic))

	_, err = f.users.RegisterDevice(ctx, u.ID, "device-token-1", "web", "")
	require.NoError(t, err)
	n, err := f.svc.TestPush(ctx, u.ID)
	require.NoError(t, err)
	got, err := f.repo.Get(ctx, n.ID)
	require.NoError(t, err)
	require.Equal(t, StatusSent, got.Status)
}

type processorFunc func(ctx context.Context, id string) error

func (p processorFunc) Process(ctx context.Context, id string) error { return p(ctx, id) }

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestRedisQueueConsume(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	q := NewRedisQueue(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	q.wait = 50 * time.Millisecond
	clock := &testClock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	q.now = clock.now
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Enqueue(ctx, "a"))
	require.NoError(t, q.Enqueue(ctx, "b"))
	size, err := q.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), size)

	var mu sync.Mutex
	var seen []string
	retried := false
	done := make(chan struct{})
	go func() {
		_ = q.Consume(ctx, processorFunc(func(ctx context.Context, id string) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, id)
			if id == "a" && !retried {
				retried = true
				return &RetryError{Attempt: 1, Err: errors.New("gateway down")}
			}
			if id == "b" {
				clock.advance(RetryDelay)
			}
			if len(seen) == 3 {
				cancel()
			}
			return nil
		}))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop")
	}
	require.Equal(t, []string{"a", "b", "a"}, seen)
}

func TestRedisQueueHoldsRetriesUntilDue(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	q := NewRedisQueue(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	clock := &testClock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	q.now = clock.now
	ctx := context.Background()

	require.NoError(t, q.Retry(ctx, "n-1", &RetryError{Attempt: 2, Err: errors.New("smtp down")}))
	score, err := mr.ZScore(RetryKey, "n-1")
	require.NoError(t, err)
	require.Equal(t, float64(clock.now().Add(2*RetryDelay).UnixMilli()), score)

	clock.advance(RetryDelay)
	moved, err := q.Promote(ctx)
	require.NoError(t, err)
	require.Zero(t, moved)
	size, err := q.Len(ctx)
	require.NoError(t, err)
	require.Zero(t, size)

	clock.advance(RetryDelay)
	moved, err = q.Promote(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, moved)
	size, err = q.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), size)
	require.False(t, mr.Exists(RetryKey))
}

func TestBackoffDoubles(t *testing.T) {
	require.Equal(t, RetryDelay, Backoff(0))
	require.Equal(t, RetryDelay, Backoff(1))
	require.Equal(t, 4*RetryDelay, Backoff(3))
	require.Equal(t, Backoff(8), Backoff(20))
	require.ErrorIs(t, &RetryError{Attempt: 1, Err: errors.New("x")}, ErrRetry)
}

func TestInlineQueueReturnsBeforeRetrying(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	gate := make(chan struct{})
	release := make(chan struct{})
	q := InlineQueue{
		P: processorFunc(func(ctx context.Context, id string) error {
			mu.Lock()
			retry := calls > 0
			mu.Unlock()
			if retry {
				<-gate
			}
			mu.Lock()
			calls++
			n := calls
			mu.Unlock()
			if n < 3 {
				return &RetryError{Attempt: n, Err: errors.New("down")}
			}
			close(release)
			return nil
		}),
		Delay: func(int) time.Duration { return time.Millisecond },
	}
	require.NoError(t, q.Enqueue(context.Background(), "n-1"))
	mu.Lock()
	require.Equal(t, 1, calls)
	mu.Unlock()
	close(gate)

	select {
	case <-release:
	case <-time.After(2 * time.Second):
		t.Fatal("retries did not run")
	}
}
