package users

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kolesa/kolesa/backend/go-services/internal/models"
)

// MemoryRepository is an in-memory UserRepository used by tests and when
// MongoDB is not configured.
type MemoryRepository struct {
	mu    sync.RWMutex
	store map[string]*models.User
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{store: map[string]*models.User{}}
}

func (m *MemoryRepository) conflict(u *models.User) bool {
	for _, o := range m.store {
		if o.ID == u.ID {
			continue
		}
		if u.Phone != "" && o.Phone == u.Phone {
			return true
		}
		if u.Email != "" && strings.EqualFold(o.Email, u.Email) {
			return true
		}
	}
	return false
}

func (m *MemoryRepository) Create(ctx context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[u.ID]; ok || m.conflict(u) {
		return ErrDuplicate
	}
	cp := *u
	m.store[u.ID] = &cp
	return nil
}

func (m *MemoryRepository) Update(ctx context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[u.ID]; !ok {
		return ErrNotFound
	}
	if m.conflict(u) {
		return ErrDuplicate
	}
	u.UpdatedAt = time.Now().UTC()
	cp := *u
	m.store[u.ID] = &cp
	return nil
}

func (m *MemoryRepository) find(match func(*models.User) bool) *models.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.store {
		if match(u) {
			cp := *u
			return &cp
		}
	}
	return nil
}

func (m *MemoryRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return m.find(func(u *models.User) bool { return u.ID == id }), nil
}

func (m *MemoryRepository) GetByPhone(ctx context.Context, phone string) (*models.User, error) {
	return m.find(func(u *models.User) bool { return phone != "" && u.Phone == phone }), nil
}

func (m *MemoryRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return m.find(func(u *models.User) bool { return email != "" && strings.EqualFold(u.Email, email) }), nil
}

func (m *MemoryRepository) GetBySub(ctx context.Context, sub string) (*models.User, error) {
	return m.find(func(u *models.User) bool { return sub != "" && u.Sub == sub }), nil
}

func (m *MemoryRepository) UpsertBySub(ctx context.Context, u *models.User) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for _, o := range m.store {
		if o.Sub == u.Sub {
			o.FirstName, o.LastName, o.UpdatedAt = u.FirstName, u.LastName, now
			cp := *o
			return &cp, nil
		}
	}
	if m.conflict(u) {
		return nil, ErrDuplicate
	}
	u.IsActive = true
	u.CreatedAt, u.UpdatedAt = now, now
	cp := *u
	m.store[u.ID] = &cp
	out := cp
	return &out, nil
}

func (m *MemoryRepository) Search(ctx context.Context, f Filter) ([]*models.User, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q := strings.ToLower(f.Query)
	var matched []*models.User
	for _, u := range m.store {
		if f.UserType != "" && u.UserType != f.UserType {
			continue
		}
		if f.CityID != "" && u.Profile.CityID != f.CityID {
			continue
		}
		if f.Active != nil && u.IsActive != *f.Active {
			continue
		}
		if q != "" {
			hay := strings.ToLower(strings.Join([]string{u.FirstName, u.LastName, u.Phone, u.Email, u.Profile.CompanyName}, " "))
			if !strings.Contains(hay, q) {
				continue
			}
		}
		cp := *u
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	return window(matched, f.Skip, f.Limit), int64(len(matched)), nil
}

func (m *MemoryRepository) CountByType(ctx context.Context) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := map[string]int64{}
	for _, u := range m.store {
		out[u.UserType]++
	}
	return out, nil
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

// MemoryDeviceRepository is an in-memory DeviceRepository.
type MemoryDeviceRepository struct {
	mu    sync.RWMutex
	store map[string]*models.Device // by token
}

func NewMemoryDeviceRepository() *MemoryDeviceRepository {
	return &MemoryDeviceRepository{store: map[string]*models.Device{}}
}

func (m *MemoryDeviceRepository) Upsert(ctx context.Context, d *models.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.store[d.DeviceToken]; ok {
		existing.UserID, existing.Platform, existing.AppVersion = d.UserID, d.Platform, d.AppVersion
		existing.IsActive, existing.LastUsed = true, d.LastUsed
		return nil
	}
	cp := *d
	cp.IsActive = true
	m.store[d.DeviceToken] = &cp
	return nil
}

func (m *MemoryDeviceRepository) ListByUser(ctx context.Context, userID string) ([]*models.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*models.Device{}
	for _, d := range m.store {
		if d.UserID == userID && d.IsActive {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUsed.After(out[j].LastUsed) })
	return out, nil
}

func (m *MemoryDeviceRepository) Delete(ctx context.Context, userID, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for tok, d := range m.store {
		if d.ID == id && d.UserID == userID {
			delete(m.store, tok)
			return true, nil
		}
	}
	return false, nil
}

// MemoryReviewRepository is an in-memory ReviewRepository.
type MemoryReviewRepository struct {
	mu    sync.RWMutex
	items []*models.Review
}

func NewMemoryReviewRepository() *MemoryReviewRepository {
	return &MemoryReviewRepository{}
}

func (m *MemoryReviewRepository) Create(ctx context.Context, r *models.Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.items = append(m.items, &cp)
	return nil
}

func (m *MemoryReviewRepository) Exists(ctx context.Context, reviewerID, reviewedID, listingID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.items {
		if r.ReviewerID == reviewerID && r.ReviewedUserID == reviewedID && r.ListingID == listingID {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryReviewRepository) ListByUser(ctx context.Context, userID string, publicOnly bool, skip, limit int64) ([]*models.Review, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Review
	for _, r := range m.items {
		if r.ReviewedUserID != userID || (publicOnly && !r.IsPublic) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return window(out, skip, limit), int64(len(out)), nil
}

func (m *MemoryReviewRepository) PublicRatings(ctx context.Context, userID string) ([]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []int
	for _, r := range m.items {
		if r.ReviewedUserID == userID && r.IsPublic {
			out = append(out, r.Rating)
		}
	}
	return out, nil
}
