package notifications

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var ErrNotFound = errors.New("notification not found")

// Repository persists notifications.
type Repository interface {
	Create(ctx context.Context, n *Notification) error
	Update(ctx context.Context, n *Notification) error
	Get(ctx context.Context, id string) (*Notification, error)
	ListByUser(ctx context.Context, userID string, unreadOnly bool, skip, limit int64) ([]*Notification, int64, error)
	MarkRead(ctx context.Context, userID, id string, at time.Time) (bool, error)
	MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
	DeleteReadBefore(ctx context.Context, before time.Time) (int64, error)
}

// SettingsRepository persists per-user notification settings.
type SettingsRepository interface {
	Get(ctx context.Context, userID string) (*Settings, error)
	Save(ctx context.Context, s *Settings) error
}

// MemoryRepository is an in-memory Repository.
type MemoryRepository struct {
	mu    sync.RWMutex
	items map[string]*Notification
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{items: map[string]*Notification{}}
}

func (m *MemoryRepository) Create(ctx context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *n
	m.items[n.ID] = &cp
	return nil
}

func (m *MemoryRepository) Update(ctx context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[n.ID]; !ok {
		return ErrNotFound
	}
	cp := *n
	m.items[n.ID] = &cp
	return nil
}

func (m *MemoryRepository) Get(ctx context.Context, id string) (*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	cp := *n
	return &cp, nil
}

// inbox holds what the user sees in the app.
func inbox(n *Notification, userID string) bool {
	return n.UserID == userID && n.Channel == ChannelInApp
}

func (m *MemoryRepository) ListByUser(ctx context.Context, userID string, unreadOnly bool, skip, limit int64) ([]*Notification, int64, error) {
	m.mu.RLock()
	var out []*Notification
	for _, n := range m.items {
		if inbox(n, userID) && (!unreadOnly || !n.IsRead) {
			cp := *n
			out = append(out, &cp)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := int64(len(out))
	if skip >= total {
		return []*Notification{}, total, nil
	}
	out = out[skip:]
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func markRead(n *Notification, at time.Time) {
	n.IsRead = true
	n.ReadAt = &at
	n.Status = StatusRead
}

func (m *MemoryRepository) MarkRead(ctx context.Context, userID, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.items[id]
	if !ok || n.UserID != userID {
		return false, nil
	}
	if !n.IsRead {
		markRead(n, at)
	}
	return true, nil
}

func (m *MemoryRepository) MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, n := range m.items {
		if inbox(n, userID) && !n.IsRead {
			markRead(n, at)
			count++
		}
	}
	return count, nil
}

func (m *MemoryRepository) UnreadCount(ctx context.Context, userID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var count int64
	for _, n := range m.items {
		if inbox(n, userID) && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (m *MemoryRepository) DeleteReadBefore(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for id, n := range m.items {
		if n.IsRead && n.CreatedAt.Before(before) {
			delete(m.items, id)
			count++
		}
	}
	return count, nil
}

// MemorySettingsRepository is an in-memory SettingsRepository.
type MemorySettingsRepository struct {
	mu    sync.RWMutex
	items map[string]*Settings
}

func NewMemorySettingsRepository() *MemorySettingsRepository {
	return &MemorySettingsRepository{items: map[string]*Settings{}}
}

func (m *MemorySettingsRepository) Get(ctx context.Context, userID string) (*Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.items[userID]
	if !ok {
		return nil, nil
	}
	cp := *s
	cp.Types = make(map[string]ChannelPrefs, len(s.Types))
	for k, v := range s.Types {
		cp.Types[k] = v
	}
	return &cp, nil
}

func (m *MemorySettingsRepository) Save(ctx context.Context, s *Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	cp.Types = make(map[string]ChannelPrefs, len(s.Types))
	for k, v := range s.Types {
		cp.Types[k] = v
	}
	m.items[s.UserID] = &cp
	return nil
}
