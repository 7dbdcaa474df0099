package media

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var ErrNotFound = errors.New("media not found")

type Repository interface {
	Create(ctx context.Context, m *Media) error
	Update(ctx context.Context, m *Media) error
	Get(ctx context.Context, id string) (*Media, error)
	Delete(ctx context.Context, id string) error
	// ListByEntity returns the entity's files by sort_order, then upload time.
	ListByEntity(ctx context.Context, entityType, entityID string) ([]*Media, error)
	CountByEntity(ctx context.Context, entityType, entityID string) (int64, error)
	StatsByUser(ctx context.Context, userID string) (map[string]TypeStats, error)
	// EntityIDs lists the distinct entities of a type that have files.
	EntityIDs(ctx context.Context, entityType string) ([]string, error)
}

type MemoryRepository struct {
	mu    sync.RWMutex
	items map[string]*Media
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{items: map[string]*Media{}}
}

func (r *MemoryRepository) Create(ctx context.Context, m *Media) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *m
	r.items[m.ID] = &cp
	return nil
}

func (r *MemoryRepository) Update(ctx context.Context, m *Media) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[m.ID]; !ok {
		return ErrNotFound
	}
	cp := *m
	r.items[m.ID] = &cp
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*Media, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.items[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return ErrNotFound
	}
	delete(r.items, id)
	return nil
}

func (r *MemoryRepository) ListByEntity(ctx context.Context, entityType, entityID string) ([]*Media, error) {
	r.mu.RLock()
	out := []*Media{}
	for _, m := range r.items {
		if m.EntityType == entityType && m.EntityID == entityID {
			cp := *m
			out = append(out, &cp)
		}
	}
	r.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepository) CountByEntity(ctx context.Context, entityType, entityID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n int64
	for _, m := range r.items {
		if m.EntityType == entityType && m.EntityID == entityID {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) StatsByUser(ctx context.Context, userID string) (map[string]TypeStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := map[string]TypeStats{}
	for _, m := range r.items {
		if m.UserID != userID {
			continue
		}
		s := out[m.MediaType]
		s.Count++
		s.Bytes += m.Size
		out[m.MediaType] = s
	}
	return out, nil
}

func (r *MemoryRepository) EntityIDs(ctx context.Context, entityType string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := map[string]bool{}
	out := []string{}
	for _, m := range r.items {
		if m.EntityType == entityType && !seen[m.EntityID] {
			seen[m.EntityID] = true
			out = append(out, m.EntityID)
		}
	}
	sort.Strings(out)
	return out, nil
}
