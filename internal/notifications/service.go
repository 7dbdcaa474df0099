package notifications

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kolesa/kolesa/backend/go-services/internal/models"
	"github.com/kolesa/kolesa/backend/go-services/internal/users"
	"github.com/kolesa/kolesa/backend/go-services/pkg/apperr"
	"github.com/kolesa/kolesa/backend/go-services/pkg/logger"
)

const (
	broadcastBatch = 200
	// RetainRead is how long read notifications are kept.
	RetainRead = 90 * 24 * time.Hour
)

// Directory is the slice of the users service notifications need.
type Directory interface {
	Recipients
	Search(ctx context.Context, f users.Filter) ([]*models.User, int64, error)
}

type Service struct {
	repo      Repository
	settings  SettingsRepository
	users     Directory
	queue     Queue
	templates *Templates
	now       func() time.Time
}

func NewService(repo Repository, settings SettingsRepository, dir Directory, queue Queue, templates *Templates) *Service {
	return &Service{
		repo: repo, settings: settings, users: dir, queue: queue, templates: templates,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// SendRequest is a notification to one user.
type SendRequest struct {
	UserID   string            `json:"user_id" binding:"required"`
	Type     string            `json:"notification_type"`
	Title    string            `json:"title" binding:"required,max=255"`
	Message  string            `json:"message" binding:"required"`
	Data     map[string]string `json:"data"`
	Channels []string          `json:"channels"`
}

var defaultChannels = []string{ChannelInApp, ChannelPush}

// globallyEnabled applies the account-level switches from the user profile.
func globallyEnabled(u *models.User, channel string) bool {
	switch channel {
	case ChannelEmail:
		return u.Settings.EmailNotifications && u.Email != ""
	case ChannelSMS:
		return u.Settings.SMSNotifications
	case ChannelPush:
		return u.Settings.PushNotifications
	}
	return true
}

// Send stores the in-app notification and queues the external channels
// the user has enabled for the type. It returns everything it created.
func (s *Service) Send(ctx context.Context, req SendRequest) ([]*Notification, error) {
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Message) == "" {
		return nil, apperr.Validation("title and message are required")
	}
	if req.Type == "" {
		req.Type = TypeSystem
	}
	channels := req.Channels
	if len(channels) == 0 {
		channels = defaultChannels
	}
	u, err := s.users.Get(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	settings, err := s.Settings(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	prefs := settings.Prefs(req.Type)
	now := s.now()
	newNotification := func(channel string) *Notification {
		return &Notification{
			ID: uuid.NewString(), UserID: u.ID, Type: req.Type, Channel: channel,
			Title: req.Title, Message: req.Message, Data: req.Data,
			Status: StatusPending, CreatedAt: now,
		}
	}

	inApp := newNotification(ChannelInApp)
	inApp.Status, inApp.SentAt = StatusDelivered, &now
	if err := s.repo.Create(ctx, inApp); err != nil {
		return nil, err
	}
	out := []*Notification{inApp}
	seen := map[string]bool{ChannelInApp: true}
	for _, ch := range channels {
		switch ch {
		case ChannelPush, ChannelEmail, ChannelSMS:
		case ChannelInApp:
			continue
		default:
			return out, apperr.FieldError("channels", "unknown channel "+ch)
		}
		if seen[ch] || !prefs.Allows(ch) || !globallyEnabled(u, ch) {
			continue
		}
		seen[ch] = true
		n := newNotification(ch)
		if err := s.repo.Create(ctx, n); err != nil {
			return out, err
		}
		out = append(out, n)
		if err := s.queue.Enqueue(ctx, n.ID); err != nil {
			logger.Errorf("notification %s: enqueue %s: %v", n.ID, ch, err)
		}
	}
	return out, nil
}

// Notify sends a notification on the default channels and only logs
// failures. Other services call it after their own work has succeeded.
func (s *Service) Notify(ctx context.Context, userID, typ, title, message string, data map[string]string) {
	if _, err := s.Send(ctx, SendRequest{UserID: userID, Type: typ, Title: title, Message: message, Data: data}); err != nil {
		logger.Warnf("notify user %s (%s): %v", userID, typ, err)
	}
}

// NotifyTemplate renders code and sends it in-app and on the template's
// channel.
func (s *Service) NotifyTemplate(ctx context.Context, userID, typ, code string, vars map[string]string) {
	r, err := s.templates.Render(code, vars)
	if err != nil {
		logger.Warnf("notify user %s: %v", userID, err)
		return
	}
	req := SendRequest{
		UserID: userID, Type: typ, Title: r.Subject, Message: r.Body,
		Data: vars, Channels: []string{ChannelInApp, r.Channel},
	}
	if _, err := s.Send(ctx, req); err != nil {
		logger.Warnf("notify user %s (%s): %v", userID, code, err)
	}
}

func (s *Service) List(ctx context.Context, userID string, unreadOnly bool, skip, limit int64) ([]*Notification, int64, error) {
	return s.repo.ListByUser(ctx, userID, unreadOnly, skip, limit)
}

// Get returns one of the user's notifications and marks it read.
func (s *Service) Get(ctx context.Context, userID, id string) (*Notification, error) {
	n, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == nil || n.UserID != userID {
		return nil, apperr.NotFound("notification not found")
	}
	if !n.IsRead {
		now := s.now()
		markRead(n, now)
		if _, err := s.repo.MarkRead(ctx, userID, id, now); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func (s *Service) MarkRead(ctx context.Context, userID, id string) error {
	ok, err := s.repo.MarkRead(ctx, userID, id, s.now())
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("notification not found")
	}
	return nil
}

func (s *Service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return s.repo.MarkAllRead(ctx, userID, s.now())
}

func (s *Service) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return s.repo.UnreadCount(ctx, userID)
}

// Settings returns the user's settings with defaults for unset types.
func (s *Service) Settings(ctx context.Context, userID string) (*Settings, error) {
	st, err := s.settings.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	def := DefaultSettings(userID)
	if st == nil {
		return def, nil
	}
	for t, p := range def.Types {
		if _, ok := st.Types[t]; !ok {
			st.Types[t] = p
		}
	}
	return st, nil
}

// UpdateSettings merges per-type preferences into the user's settings.
func (s *Service) UpdateSettings(ctx context.Context, userID string, types map[string]ChannelPrefs) (*Settings, error) {
	if len(types) == 0 {
		return nil, apperr.Validation("no settings given")
	}
	known := map[string]bool{}
	for _, t := range Types {
		known[t] = true
	}
	for t := range types {
		if !known[t] {
			return nil, apperr.FieldError("types", "unknown notification type "+t)
		}
	}
	st, err := s.Settings(ctx, userID)
	if err != nil {
		return nil, err
	}
	for t, p := range types {
		st.Types[t] = p
	}
	st.UpdatedAt = s.now()
	if err := s.settings.Save(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}

// BroadcastRequest targets active users, optionally by type and city.
type BroadcastRequest struct {
	UserType string `json:"user_type"`
	CityID   string `json:"city_id"`
	Type     string `json:"notification_type"`
	Title    string `json:"title" binding:"required,max=255"`
	Message  string `json:"message" binding:"required"`
}

// Broadcast notifies every matching active user and returns how many were
// reached.
func (s *Service) Broadcast(ctx context.Context, req BroadcastRequest) (int, error) {
	if req.Type == "" {
		req.Type = TypeSystem
	}
	active := true
	count := 0
	for skip := int64(0); ; skip += broadcastBatch {
		batch, _, err := s.users.Search(ctx, users.Filter{
			UserType: req.UserType, CityID: req.CityID, Active: &active, Skip: skip, Limit: broadcastBatch,
		})
		if err != nil {
			return count, err
		}
		for _, u := range batch {
			if _, err := s.Send(ctx, SendRequest{UserID: u.ID, Type: req.Type, Title: req.Title, Message: req.Message}); err != nil {
				logger.Warnf("broadcast to %s: %v", u.ID, err)
				continue
			}
			count++
		}
		if len(batch) < broadcastBatch {
			return count, nil
		}
	}
}

func (s *Service) Templates() []Template { return s.templates.List() }

func (s *Service) RenderTemplate(code string, data map[string]string) (*Rendered, error) {
	return s.templates.Render(code, data)
}

// TestPush queues a test push to the user's devices.
func (s *Service) TestPush(ctx context.Context, userID string) (*Notification, error) {
	devices, err := s.users.Devices(ctx, userID)
	if err != nil {
		return nil, err
	}
	active := 0
	for _, d := range devices {
		if d.IsActive {
			active++
		}
	}
	if active == 0 {
		return nil, apperr.Business("no registered devices")
	}
	u, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	n := &Notification{
		ID: uuid.NewString(), UserID: u.ID, Type: TypeTest, Channel: ChannelPush,
		Title: "Тестовое уведомление", Message: "Это тестовое push-уведомление от Kolesa.kz",
		Status: StatusPending, CreatedAt: now,
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return nil, err
	}
	if err := s.queue.Enqueue(ctx, n.ID); err != nil {
		return nil, err
	}
	return n, nil
}

// CleanupRead removes read notifications older than RetainRead.
func (s *Service) CleanupRead(ctx context.Context) (int64, error) {
	return s.repo.DeleteReadBefore(ctx, s.now().Add(-RetainRead))
}
