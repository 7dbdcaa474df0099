package listing

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("listing not found")

// Sort orders accepted by Search.
const (
	SortDateDesc    = "date_desc"
	SortDateAsc     = "date_asc"
	SortPriceAsc    = "price_asc"
	SortPriceDesc   = "price_desc"
	SortMileageAsc  = "mileage_asc"
	SortMileageDesc = "mileage_desc"
	SortYearAsc     = "year_asc"
	SortYearDesc    = "year_desc"
	SortRelevance   = "relevance"
)

var validSorts = map[string]bool{
	SortDateDesc: true, SortDateAsc: true, SortPriceAsc: true, SortPriceDesc: true,
	SortMileageAsc: true, SortMileageDesc: true, SortYearAsc: true, SortYearDesc: true,
	SortRelevance: true,
}

// Filter narrows listing searches. Without Statuses only active, unexpired
// listings match.
type Filter struct {
	Query        string
	Type         string
	UserID       string
	Statuses     []string
	AnyStatus    bool
	CityID       string
	RegionID     string
	Latitude     *float64
	Longitude    *float64
	RadiusKm     float64
	PriceFrom    *float64
	PriceTo      *float64
	Featured     bool
	Urgent       bool
	BrandID      string
	ModelID      string
	BodyTypeID   string
	EngineTypeID string
	Transmission string
	DriveTypeID  string
	ColorID      string
	YearFrom     int
	YearTo       int
	MileageFrom  *int
	MileageTo    *int
	Condition    string
	ExcludeID    string
	IDs          []string

	Sort          string
	BoostFeatured bool
	Skip          int64
	Limit         int64
	Now           time.Time
}

// Repository persists listings. Get returns (nil, nil) for unknown or
// deleted listings.
type Repository interface {
	Create(ctx context.Context, l *Listing) error
	Update(ctx context.Context, l *Listing) error
	Get(ctx context.Context, id string) (*Listing, error)
	Search(ctx context.Context, f Filter) ([]*Listing, int64, error)
	CountByUser(ctx context.Context, userID string, statuses []string) (int64, error)
	CountByStatus(ctx context.Context, userID string) (map[string]int64, error)
	IncrementViews(ctx context.Context, id string) error
	IncrementFavorites(ctx context.Context, id string, delta int64) (int64, error)
	SetFlags(ctx context.Context, id string, flags map[string]bool) error
	ExpireBefore(ctx context.Context, now time.Time) (int64, error)
	SetScore(ctx context.Context, id string, score int) error
}

// FavoriteRepository persists favorites.
type FavoriteRepository interface {
	Add(ctx context.Context, f *Favorite) error
	Remove(ctx context.Context, userID, listingID string) (bool, error)
	Exists(ctx context.Context, userID, listingID string) (bool, error)
	ListByUser(ctx context.Context, userID, folder string) ([]*Favorite, error)
	CountByUser(ctx context.Context, userID string) (int64, error)
}
