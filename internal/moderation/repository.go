package moderation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var ErrNotFound = errors.New("not found")

// ItemRepository stores moderation items.
type ItemRepository interface {
	Create(ctx context.Context, it *Item) error
	Update(ctx context.Context, it *Item) error
	Get(ctx context.Context, id string) (*Item, error)
	// Latest returns the most recent item for a listing.
	Latest(ctx context.Context, listingID string) (*Item, error)
	// List orders by priority desc, then created_at asc.
	List(ctx context.Context, status string, skip, limit int64) ([]*Item, int64, error)
	CountByStatus(ctx context.Context) (map[string]int64, error)
	CountDecidedSince(ctx context.Context, since time.Time) (map[string]int64, error)
}

// ReportRepository stores user reports.
type ReportRepository interface {
	Create(ctx context.Context, r *Report) error
	Update(ctx context.Context, r *Report) error
	Get(ctx context.Context, id string) (*Report, error)
	FindPending(ctx context.Context, reporterID, entityType, entityID string) (*Report, error)
	// List orders newest first.
	List(ctx context.Context, status string, skip, limit int64) ([]*Report, int64, error)
	CountByStatus(ctx context.Context) (map[string]int64, error)
	CountSince(ctx context.Context, since time.Time) (int64, error)
}

func window[T any](items []T, skip, limit int64) []T {
	if skip >= int64(len(items)) {
		return []T{}
	}
	items = items[skip:]
	if limit > 0 && int64(len(items)) > limit {
		items = items[:limit]
	}
	return items
}

type MemoryItemRepository struct {
	mu    sync.RWMutex
	items map[string]*Item
}

func NewMemoryItemRepository() *MemoryItemRepository {
	return &MemoryItemRepository{items: map[string]*Item{}}
}

func (m *MemoryItemRepository) Create(ctx context.Context, it *Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *it
	m.items[it.ID] = &cp
	return nil
}

func (m *MemoryItemRepository) Update(ctx context.Context, it *Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[it.ID]; !ok {
		return ErrNotFound
	}
	cp := *it
	m.items[it.ID] = &cp
	return nil
}

func (m *MemoryItemRepository) Get(ctx context.Context, id string) (*Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	cp := *it
	return &cp, nil
}

func (m *MemoryItemRepository) Latest(ctx context.Context, listingID string) (*Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *Item
	for _, it := range m.items {
		if it.ListingID == listingID && (latest == nil || it.CreatedAt.After(latest.CreatedAt)) {
			latest = it
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (m *MemoryItemRepository) List(ctx context.Context, status string, skip, limit int64) ([]*Item, int64, error) {
	m.mu.RLock()
	var out []*Item
	for _, it := range m.items {
		if status == "" || it.Status == status {
			cp := *it
			out = append(out, &cp)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return window(out, skip, limit), int64(len(out)), nil
}

func (m *MemoryItemRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := map[string]int64{}
	for _, it := range m.items {
		out[it.Status]++
	}
	return out, nil
}

func (m *MemoryItemRepository) CountDecidedSince(ctx context.Context, since time.Time) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := map[string]int64{}
	for _, it := range m.items {
		if it.DecidedAt != nil && !it.DecidedAt.Before(since) {
			out[it.Status]++
		}
	}
	return out, nil
}

type MemoryReportRepository struct {
	mu      sync.RWMutex
	reports map[string]*Report
}

func NewMemoryReportRepository() *MemoryReportRepository {
	return &MemoryReportRepository{reports: map[string]*Report{}}
}

func (m *MemoryReportRepository) Create(ctx context.Context, r *Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.reports[r.ID] = &cp
	return nil
}

func (m *MemoryReportRepository) Update(ctx context.Context, r *Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reports[r.ID]; !ok {
		return ErrNotFound
	}
	cp := *r
	m.reports[r.ID] = &cp
	return nil
}

func (m *MemoryReportRepository) Get(ctx context.Context, id string) (*Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reports[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryReportRepository) FindPending(ctx context.Context, reporterID, entityType, entityID string) (*Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.reports {
		if r.ReporterID == reporterID && r.EntityType == entityType && r.EntityID == entityID && r.Status == ReportPending {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryReportRepository) List(ctx context.Context, status string, skip, limit int64) ([]*Report, int64, error) {
	m.mu.RLock()
	var out []*Report
	for _, r := range m.reports {
		if status == "" || r.Status == status {
			cp := *r
			out = append(out, &cp)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return window(out, skip, limit), int64(len(out)), nil
}

func (m *MemoryReportRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := map[string]int64{}
	for _, r := range m.reports {
		out[r.Status]++
	}
	return out, nil
}

func (m *MemoryReportRepository) CountSince(ctx context.Context, since time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, r := range m.reports {
		if !r.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}
