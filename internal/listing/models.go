// Package listing implements marketplace listings: creation, search,
// favorites, owner actions and the lifecycle jobs.
package listing

import "time"

const (
	TypeCar     = "car_listing"
	TypeService = "service_listing"
)

const (
	StatusDraft      = "draft"
	StatusModeration = "moderation"
	StatusActive     = "active"
	StatusArchived   = "archived"
	StatusSold       = "sold"
	StatusRejected   = "rejected"
	StatusExpired    = "expired"
)

// Statuses counted against the per-user listing limit.
var openStatuses = []string{StatusDraft, StatusModeration, StatusActive}

const (
	ConditionExcellent    = "excellent"
	ConditionGood         = "good"
	ConditionSatisfactory = "satisfactory"
	ConditionNeedsRepair  = "needs_repair"
	ConditionDamaged      = "damaged"
)

// PublishDuration is how long a published listing stays active.
const PublishDuration = 30 * 24 * time.Hour

// Limits of open listings per user type.
var MaxListings = map[string]int{
	"regular": 5,
	"pro":     50,
	"dealer":  200,
	"admin":   999999,
}

// Rates used to normalise prices to tenge.
var KZTRates = map[string]float64{
	"KZT": 1,
	"USD": 480,
	"EUR": 520,
	"RUB": 5.2,
}

// GeoPoint is a GeoJSON point, stored so Mongo can answer radius queries.
type GeoPoint struct {
	Type        string    `bson:"type" json:"type"`
	Coordinates []float64 `bson:"coordinates" json:"coordinates"`
}

func NewGeoPoint(lat, lng float64) *GeoPoint {
	return &GeoPoint{Type: "Point", Coordinates: []float64{lng, lat}}
}

type CarDetails struct {
	BrandID          string   `bson:"brand_id" json:"brand_id" validate:"required"`
	ModelID          string   `bson:"model_id" json:"model_id" validate:"required"`
	GenerationID     string   `bson:"generation_id,omitempty" json:"generation_id,omitempty"`
	Year             int      `bson:"year" json:"year" validate:"required,car_year"`
	Mileage          int      `bson:"mileage" json:"mileage" validate:"gte=0"`
	Condition        string   `bson:"condition" json:"condition" validate:"required,oneof=excellent good satisfactory needs_repair damaged"`
	BodyTypeID       string   `bson:"body_type_id" json:"body_type_id" validate:"required"`
	ColorID          string   `bson:"color_id,omitempty" json:"color_id,omitempty"`
	EngineTypeID     string   `bson:"engine_type_id,omitempty" json:"engine_type_id,omitempty"`
	EngineVolume     float64  `bson:"engine_volume,omitempty" json:"engine_volume,omitempty" validate:"omitempty,gte=0.1,lte=20"`
	TransmissionID   string   `bson:"transmission_id,omitempty" json:"transmission_id,omitempty"`
	DriveTypeID      string   `bson:"drive_type_id,omitempty" json:"drive_type_id,omitempty"`
	PowerHP          int      `bson:"power_hp,omitempty" json:"power_hp,omitempty" validate:"omitempty,gte=1,lte=2000"`
	FuelConsumption  float64  `bson:"fuel_consumption,omitempty" json:"fuel_consumption,omitempty" validate:"omitempty,gte=0.1,lte=50"`
	VIN              string   `bson:"vin_number,omitempty" json:"vin_number,omitempty" validate:"omitempty,vin"`
	CustomsCleared   bool     `bson:"customs_cleared" json:"customs_cleared"`
	ExchangePossible bool     `bson:"exchange_possible" json:"exchange_possible"`
	CreditAvailable  bool     `bson:"credit_available" json:"credit_available"`
	FeatureIDs       []string `bson:"feature_ids,omitempty" json:"feature_ids,omitempty"`
}

type Listing struct {
	ID            string      `bson:"_id" json:"id"`
	Number        string      `bson:"listing_number" json:"listing_number"`
	UserID        string      `bson:"user_id" json:"user_id"`
	Type          string      `bson:"listing_type" json:"listing_type"`
	Title         string      `bson:"title" json:"title"`
	Description   string      `bson:"description,omitempty" json:"description,omitempty"`
	Price         float64     `bson:"price" json:"price"`
	Currency      string      `bson:"currency" json:"currency"`
	PriceKZT      float64     `bson:"price_kzt" json:"price_kzt"`
	CityID        string      `bson:"city_id" json:"city_id"`
	RegionID      string      `bson:"region_id,omitempty" json:"region_id,omitempty"`
	Address       string      `bson:"address,omitempty" json:"address,omitempty"`
	Latitude      *float64    `bson:"latitude,omitempty" json:"latitude,omitempty"`
	Longitude     *float64    `bson:"longitude,omitempty" json:"longitude,omitempty"`
	Location      *GeoPoint   `bson:"location,omitempty" json:"-"`
	ContactName   string      `bson:"contact_name,omitempty" json:"contact_name,omitempty"`
	ContactPhone  string      `bson:"contact_phone,omitempty" json:"contact_phone,omitempty"`
	Status        string      `bson:"status" json:"status"`
	RejectReason  string      `bson:"rejection_reason,omitempty" json:"rejection_reason,omitempty"`
	// NeedsReview is set when content changes after the last approval.
	NeedsReview   bool        `bson:"needs_review,omitempty" json:"-"`
	IsFeatured    bool        `bson:"is_featured" json:"is_featured"`
	IsUrgent      bool        `bson:"is_urgent" json:"is_urgent"`
	IsNegotiable  bool        `bson:"is_negotiable" json:"is_negotiable"`
	ViewCount     int64       `bson:"view_count" json:"view_count"`
	FavoriteCount int64       `bson:"favorite_count" json:"favorite_count"`
	Score         int         `bson:"score" json:"score"`
	Details       *CarDetails `bson:"details,omitempty" json:"details,omitempty"`
	SearchText    string      `bson:"search_text,omitempty" json:"-"`
	PublishedAt   *time.Time  `bson:"published_at,omitempty" json:"published_at,omitempty"`
	ExpiresAt     *time.Time  `bson:"expires_at,omitempty" json:"expires_at,omitempty"`
	CreatedAt     time.Time   `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time   `bson:"updated_at" json:"updated_at"`
	IsDeleted     bool        `bson:"is_deleted" json:"-"`
}

// HasCoordinates reports whether both coordinates are set.
func (l *Listing) HasCoordinates() bool {
	return l.Latitude != nil && l.Longitude != nil
}

// Expired reports whether an active listing is past its expiry.
func (l *Listing) Expired(now time.Time) bool {
	return l.Status == StatusExpired || (l.ExpiresAt != nil && !l.ExpiresAt.After(now))
}

// Publish activates the listing for PublishDuration from now.
func (l *Listing) Publish(now time.Time) {
	exp := now.Add(PublishDuration)
	l.Status = StatusActive
	l.RejectReason = ""
	l.PublishedAt = &now
	l.ExpiresAt = &exp
}

// Score rates listing completeness on a 0..100 scale.
func Score(l *Listing) int {
	s := 50
	n := len([]rune(l.Description))
	if n > 100 {
		s += 10
	}
	if n > 300 {
		s += 10
	}
	if l.Price > 0 {
		s += 5
	}
	if l.HasCoordinates() {
		s += 5
	}
	if l.IsFeatured {
		s += 10
	}
	if l.IsUrgent {
		s += 5
	}
	if l.Details != nil {
		if l.Details.VIN != "" {
			s += 10
		}
		if len(l.Details.FeatureIDs) >= 3 {
			s += 5
		}
	}
	if s > 100 {
		s = 100
	}
	if s < 0 {
		s = 0
	}
	return s
}

// Favorite links a user to a saved listing.
type Favorite struct {
	ID        string    `bson:"_id" json:"id"`
	UserID    string    `bson:"user_id" json:"user_id"`
	ListingID string    `bson:"listing_id" json:"listing_id"`
	Folder    string    `bson:"folder_name" json:"folder_name"`
	AddedAt   time.Time `bson:"added_at" json:"added_at"`
}

const DefaultFolder = "default"
