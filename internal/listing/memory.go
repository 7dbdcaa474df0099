package listing

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kolesa/kolesa/backend/go-services/pkg/geo"
)

// MemoryRepository is an in-memory Repository for tests and Mongo-less runs.
type MemoryRepository struct {
	mu    sync.RWMutex
	store map[string]*Listing
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{store: map[string]*Listing{}}
}

func clone(l *Listing) *Listing {
	cp := *l
	if l.Details != nil {
		d := *l.Details
		d.FeatureIDs = append([]string(nil), l.Details.FeatureIDs...)
		cp.Details = &d
	}
	return &cp
}

func (m *MemoryRepository) Create(ctx context.Context, l *Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[l.ID] = clone(l)
	return nil
}

func (m *MemoryRepository) Update(ctx context.Context, l *Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[l.ID]; !ok {
		return ErrNotFound
	}
	l.UpdatedAt = time.Now().UTC()
	m.store[l.ID] = clone(l)
	return nil
}

func (m *MemoryRepository) Get(ctx context.Context, id string) (*Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.store[id]
	if !ok || l.IsDeleted {
		return nil, nil
	}
	return clone(l), nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// matches applies f to a single listing.
func matches(l *Listing, f Filter) bool {
	if l.IsDeleted || (f.ExcludeID != "" && l.ID == f.ExcludeID) {
		return false
	}
	if len(f.IDs) > 0 && !contains(f.IDs, l.ID) {
		return false
	}
	switch {
	case len(f.Statuses) > 0:
		if !contains(f.Statuses, l.Status) {
			return false
		}
	case !f.AnyStatus:
		if l.Status != StatusActive || l.Expired(f.Now) {
			return false
		}
	}
	if f.Query != "" {
		hay := strings.ToLower(l.Title + " " + l.Description + " " + l.SearchText)
		if !strings.Contains(hay, strings.ToLower(f.Query)) {
			return false
		}
	}
	if (f.Type != "" && l.Type != f.Type) || (f.UserID != "" && l.UserID != f.UserID) ||
		(f.CityID != "" && l.CityID != f.CityID) || (f.RegionID != "" && l.RegionID != f.RegionID) {
		return false
	}
	if f.Latitude != nil && f.Longitude != nil {
		if !l.HasCoordinates() || geo.DistanceKm(*f.Latitude, *f.Longitude, *l.Latitude, *l.Longitude) > f.RadiusKm {
			return false
		}
	}
	if (f.PriceFrom != nil && l.Price < *f.PriceFrom) || (f.PriceTo != nil && l.Price > *f.PriceTo) {
		return false
	}
	if (f.Featured && !l.IsFeatured) || (f.Urgent && !l.IsUrgent) {
		return false
	}
	if f.hasCarFilter() {
		d := l.Details
		if d == nil {
			return false
		}
		eq := func(want, got string) bool { return want == "" || want == got }
		if !eq(f.BrandID, d.BrandID) || !eq(f.ModelID, d.ModelID) || !eq(f.BodyTypeID, d.BodyTypeID) ||
			!eq(f.EngineTypeID, d.EngineTypeID) || !eq(f.Transmission, d.TransmissionID) ||
			!eq(f.DriveTypeID, d.DriveTypeID) || !eq(f.ColorID, d.ColorID) || !eq(f.Condition, d.Condition) {
			return false
		}
		if (f.YearFrom > 0 && d.Year < f.YearFrom) || (f.YearTo > 0 && d.Year > f.YearTo) {
			return false
		}
		if (f.MileageFrom != nil && d.Mileage < *f.MileageFrom) || (f.MileageTo != nil && d.Mileage > *f.MileageTo) {
			return false
		}
	}
	return true
}

func (f Filter) hasCarFilter() bool {
	return f.BrandID != "" || f.ModelID != "" || f.BodyTypeID != "" || f.EngineTypeID != "" ||
		f.Transmission != "" || f.DriveTypeID != "" || f.ColorID != "" || f.Condition != "" ||
		f.YearFrom > 0 || f.YearTo > 0 || f.MileageFrom != nil || f.MileageTo != nil
}

func published(l *Listing) time.Time {
	if l.PublishedAt != nil {
		return *l.PublishedAt
	}
	return l.CreatedAt
}

func detail(l *Listing, pick func(*CarDetails) int) int {
	if l.Details == nil {
		return 0
	}
	return pick(l.Details)
}

// sortListings orders items in place the way Search does.
func sortListings(items []*Listing, order string, boostFeatured bool) {
	mileage := func(d *CarDetails) int { return d.Mileage }
	year := func(d *CarDetails) int { return d.Year }
	less := func(a, b *Listing) bool {
		switch order {
		case SortDateAsc:
			return published(a).Before(published(b))
		case SortPriceAsc:
			return a.Price < b.Price
		case SortPriceDesc:
			return a.Price > b.Price
		case SortMileageAsc:
			return detail(a, mileage) < detail(b, mileage)
		case SortMileageDesc:
			return detail(a, mileage) > detail(b, mileage)
		case SortYearAsc:
			return detail(a, year) < detail(b, year)
		case SortYearDesc:
			return detail(a, year) > detail(b, year)
		case SortRelevance:
			if a.IsFeatured != b.IsFeatured {
				return a.IsFeatured
			}
			if a.IsUrgent != b.IsUrgent {
				return a.IsUrgent
			}
		}
		return published(a).After(published(b))
	}
	sort.SliceStable(items, func(i, j int) bool {
		if boostFeatured && items[i].IsFeatured != items[j].IsFeatured {
			return items[i].IsFeatured
		}
		return less(items[i], items[j])
	})
}

func page[T any](items []T, skip, limit int64) []T {
	if skip >= int64(len(items)) {
		return []T{}
	}
	items = items[skip:]
	if limit > 0 && int64(len(items)) > limit {
		items = items[:limit]
	}
	return items
}

func (m *MemoryRepository) Search(ctx context.Context, f Filter) ([]*Listing, int64, error) {
	m.mu.RLock()
	var out []*Listing
	for _, l := range m.store {
		if matches(l, f) {
			out = append(out, clone(l))
		}
	}
	m.mu.RUnlock()
	sortListings(out, f.Sort, f.BoostFeatured)
	return page(out, f.Skip, f.Limit), int64(len(out)), nil
}

func (m *MemoryRepository) CountByUser(ctx context.Context, userID string, statuses []string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, l := range m.store {
		if l.UserID == userID && !l.IsDeleted && contains(statuses, l.Status) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryRepository) CountByStatus(ctx context.Context, userID string) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := map[string]int64{}
	for _, l := range m.store {
		if !l.IsDeleted && (userID == "" || l.UserID == userID) {
			out[l.Status]++
		}
	}
	return out, nil
}

func (m *MemoryRepository) mutate(id string, fn func(*Listing)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.store[id]
	if !ok || l.IsDeleted {
		return ErrNotFound
	}
	fn(l)
	return nil
}

func (m *MemoryRepository) IncrementViews(ctx context.Context, id string) error {
	return m.mutate(id, func(l *Listing) { l.ViewCount++ })
}

func (m *MemoryRepository) IncrementFavorites(ctx context.Context, id string, delta int64) (int64, error) {
	var n int64
	err := m.mutate(id, func(l *Listing) {
		l.FavoriteCount += delta
		if l.FavoriteCount < 0 {
			l.FavoriteCount = 0
		}
		n = l.FavoriteCount
	})
	return n, err
}

func (m *MemoryRepository) SetFlags(ctx context.Context, id string, flags map[string]bool) error {
	return m.mutate(id, func(l *Listing) {
		if v, ok := flags["is_featured"]; ok {
			l.IsFeatured = v
		}
		if v, ok := flags["is_urgent"]; ok {
			l.IsUrgent = v
		}
	})
}

func (m *MemoryRepository) ExpireBefore(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, l := range m.store {
		if l.Status == StatusActive && !l.IsDeleted && l.ExpiresAt != nil && !l.ExpiresAt.After(now) {
			l.Status = StatusExpired
			l.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (m *MemoryRepository) SetScore(ctx context.Context, id string, score int) error {
	return m.mutate(id, func(l *Listing) { l.Score = score })
}

// MemoryFavoriteRepository is an in-memory FavoriteRepository.
type MemoryFavoriteRepository struct {
	mu    sync.RWMutex
	items []*Favorite
}

func NewMemoryFavoriteRepository() *MemoryFavoriteRepository {
	return &MemoryFavoriteRepository{}
}

func (m *MemoryFavoriteRepository) Add(ctx context.Context, f *Favorite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *f
	m.items = append(m.items, &cp)
	return nil
}

func (m *MemoryFavoriteRepository) Remove(ctx context.Context, userID, listingID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, f := range m.items {
		if f.UserID == userID && f.ListingID == listingID {
			m.items = append(m.items[:i], m.items[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryFavoriteRepository) Exists(ctx context.Context, userID, listingID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, f := range m.items {
		if f.UserID == userID && f.ListingID == listingID {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryFavoriteRepository) ListByUser(ctx context.Context, userID, folder string) ([]*Favorite, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*Favorite{}
	for _, f := range m.items {
		if f.UserID == userID && (folder == "" || f.Folder == folder) {
			cp := *f
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].AddedAt.After(out[j].AddedAt) })
	return out, nil
}

func (m *MemoryFavoriteRepository) CountByUser(ctx context.Context, userID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, f := range m.items {
		if f.UserID == userID {
			n++
		}
	}
	return n, nil
}
