package listing

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kolesa/kolesa/backend/go-services/internal/catalog"
	"github.com/kolesa/kolesa/backend/go-services/internal/models"
	"github.com/kolesa/kolesa/backend/go-services/pkg/apperr"
	"github.com/kolesa/kolesa/backend/go-services/pkg/crypto"
	"github.com/kolesa/kolesa/backend/go-services/pkg/logger"
	"github.com/kolesa/kolesa/backend/go-services/pkg/metrics"
)

const (
	DefaultRadiusKm = 50
	similarLimit    = 10
	scoreBatch      = 200
)

// Catalog validates car references.
type Catalog interface {
	Exists(ctx context.Context, brandID, modelID, generationID string) error
	HasReference(ctx context.Context, kind, id string) (bool, error)
	Names(ctx context.Context, brandID, modelID string) (brand, model string)
}

// Cities validates the listing location.
type Cities interface {
	Exists(ctx context.Context, cityID string) (bool, error)
	RegionOf(ctx context.Context, cityID string) string
}

// UserDirectory resolves listing owners.
type UserDirectory interface {
	Get(ctx context.Context, id string) (*models.User, error)
}

// Moderation receives listings for review.
type Moderation interface {
	Submit(ctx context.Context, listingID, userID string, priority int) error
	Approved(ctx context.Context, listingID string) (bool, error)
}

// Viewer identifies who is reading a listing.
type Viewer struct {
	UserID  string
	IP      string
	IsAdmin bool
}

func (v Viewer) key() string {
	if v.UserID != "" {
		return "user:" + v.UserID
	}
	if v.IP != "" {
		return "ip:" + v.IP
	}
	return ""
}

type Service struct {
	repo       Repository
	favorites  FavoriteRepository
	catalog    Catalog
	cities     Cities
	users      UserDirectory
	moderation Moderation
	views      ViewTracker
	now        func() time.Time
}

func NewService(repo Repository, favs FavoriteRepository, cat Catalog, cities Cities, users UserDirectory) *Service {
	return &Service{
		repo:      repo,
		favorites: favs,
		catalog:   cat,
		cities:    cities,
		users:     users,
		views:     CountAll{},
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetModeration wires the moderation queue. Without it listings are never
// auto-published by Action.
func (s *Service) SetModeration(m Moderation) { s.moderation = m }

func (s *Service) SetViewTracker(v ViewTracker) {
	if v != nil {
		s.views = v
	}
}

func newNumber(now time.Time) (string, error) {
	suffix, err := crypto.RandomDigits(3)
	if err != nil {
		return "", err
	}
	return "KZ" + strconv.FormatInt(now.Unix(), 10) + suffix, nil
}

func priceKZT(price float64, currency string) float64 {
	rate, ok := KZTRates[currency]
	if !ok {
		rate = 1
	}
	return price * rate
}

func moderationPriority(userType string) int {
	switch userType {
	case models.UserTypeDealer:
		return 2
	case models.UserTypePro:
		return 1
	}
	return 0
}

// checkReferences validates city and car references against the catalogs.
func (s *Service) checkReferences(ctx context.Context, in *Input) error {
	ok, err := s.cities.Exists(ctx, in.CityID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.FieldError("city_id", "unknown city")
	}
	d := in.Details
	if d == nil {
		return nil
	}
	if err := s.catalog.Exists(ctx, d.BrandID, d.ModelID, d.GenerationID); err != nil {
		return err
	}
	refs := []struct{ kind, field, id string }{
		{catalog.KindBodyType, "body_type_id", d.BodyTypeID},
		{catalog.KindColor, "color_id", d.ColorID},
		{catalog.KindEngineType, "engine_type_id", d.EngineTypeID},
		{catalog.KindTransmission, "transmission_id", d.TransmissionID},
		{catalog.KindDriveType, "drive_type_id", d.DriveTypeID},
	}
	for _, f := range d.FeatureIDs {
		refs = append(refs, struct{ kind, field, id string }{catalog.KindFeature, "feature_ids", f})
	}
	for _, r := range refs {
		if r.id == "" {
			continue
		}
		ok, err := s.catalog.HasReference(ctx, r.kind, r.id)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.FieldError(r.field, "unknown value "+r.id)
		}
	}
	return nil
}

// normalize fills defaults the validator does not.
func normalize(in *Input) {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if in.Type == "" {
		in.Type = TypeService
		if in.Details != nil {
			in.Type = TypeCar
		}
	}
	if in.Type == TypeService {
		in.Details = nil
	}
	if in.Currency == "" {
		in.Currency = "KZT"
	}
	if in.Details != nil {
		in.Details.VIN = strings.ToUpper(strings.TrimSpace(in.Details.VIN))
	}
}

func (s *Service) apply(ctx context.Context, l *Listing, in *Input) {
	l.Type = in.Type
	l.Title, l.Description = in.Title, in.Description
	l.Price, l.Currency, l.PriceKZT = in.Price, in.Currency, priceKZT(in.Price, in.Currency)
	l.CityID, l.RegionID, l.Address = in.CityID, s.cities.RegionOf(ctx, in.CityID), in.Address
	l.Latitude, l.Longitude, l.Location = in.Latitude, in.Longitude, nil
	if in.Latitude != nil && in.Longitude != nil {
		l.Location = NewGeoPoint(*in.Latitude, *in.Longitude)
	}
	l.ContactName, l.ContactPhone = in.ContactName, in.ContactPhone
	l.IsNegotiable = in.IsNegotiable == nil || *in.IsNegotiable
	l.Details = in.Details
	parts := []string{}
	if d := in.Details; d != nil {
		brand, model := s.catalog.Names(ctx, d.BrandID, d.ModelID)
		parts = append(parts, brand, model, strconv.Itoa(d.Year))
	}
	l.SearchText = strings.TrimSpace(strings.Join(parts, " "))
	l.Score = Score(l)
}

func (s *Service) submit(ctx context.Context, l *Listing, userType string) {
	if s.moderation == nil {
		return
	}
	if err := s.moderation.Submit(ctx, l.ID, l.UserID, moderationPriority(userType)); err != nil {
		logger.Errorf("listing %s: submit for moderation: %v", l.ID, err)
	}
}

// Create validates and stores a new listing and queues it for moderation.
func (s *Service) Create(ctx context.Context, userID string, in Input) (*Listing, error) {
	normalize(&in)
	if err := in.Validate(); err != nil {
		return nil, err
	}
	u, err := s.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	limit, ok := MaxListings[u.UserType]
	if !ok {
		limit = MaxListings[models.UserTypeRegular]
	}
	open, err := s.repo.CountByUser(ctx, userID, openStatuses)
	if err != nil {
		return nil, err
	}
	if open >= int64(limit) {
		return nil, apperr.Business("maximum number of listings reached (%d)", limit)
	}
	if err := s.checkReferences(ctx, &in); err != nil {
		return nil, err
	}
	now := s.now()
	number, err := newNumber(now)
	if err != nil {
		return nil, err
	}
	l := &Listing{
		ID:        uuid.NewString(),
		Number:    number,
		UserID:    userID,
		Status:    StatusModeration,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.apply(ctx, l, &in)
	if err := s.repo.Create(ctx, l); err != nil {
		return nil, err
	}
	metrics.ListingsCreated.WithLabelValues(l.Type).Inc()
	s.submit(ctx, l, u.UserType)
	return l, nil
}

// Find returns a listing regardless of visibility.
func (s *Service) Find(ctx context.Context, id string) (*Listing, error) {
	l, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, apperr.NotFound("listing not found")
	}
	return l, nil
}

// OwnerOf returns the owner of a listing.
func (s *Service) OwnerOf(ctx context.Context, id string) (string, error) {
	l, err := s.Find(ctx, id)
	if err != nil {
		return "", err
	}
	return l.UserID, nil
}

// Detail is a listing as shown on its page.
type Detail struct {
	*Listing
	IsFavorited bool               `json:"is_favorited"`
	Seller      *models.PublicCard `json:"seller,omitempty"`
}

// Get returns a listing. Listings that are not active are only visible to
// the owner and admins. Views of other users are counted.
func (s *Service) Get(ctx context.Context, id string, v Viewer) (*Detail, error) {
	l, err := s.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	owner := v.UserID != "" && v.UserID == l.UserID
	if l.Status != StatusActive && !owner && !v.IsAdmin {
		return nil, apperr.NotFound("listing not found")
	}
	if !owner {
		if counted, err := s.countView(ctx, l, v); err != nil {
			logger.Warnf("listing %s: count view: %v", l.ID, err)
		} else if counted {
			l.ViewCount++
		}
	}
	d := &Detail{Listing: l}
	if v.UserID != "" {
		if d.IsFavorited, err = s.favorites.Exists(ctx, v.UserID, l.ID); err != nil {
			return nil, err
		}
	}
	if u, err := s.users.Get(ctx, l.UserID); err == nil && u != nil {
		card := u.Card()
		d.Seller = &card
	}
	return d, nil
}

func (s *Service) countView(ctx context.Context, l *Listing, v Viewer) (bool, error) {
	first, err := s.views.FirstView(ctx, l.ID, v.key())
	if err != nil {
		return false, err
	}
	if !first {
		return false, nil
	}
	return true, s.repo.IncrementViews(ctx, l.ID)
}

// RegisterView counts a view for an active listing.
func (s *Service) RegisterView(ctx context.Context, id string, v Viewer) (int64, error) {
	l, err := s.Find(ctx, id)
	if err != nil {
		return 0, err
	}
	if l.Status != StatusActive {
		return 0, apperr.NotFound("listing not found")
	}
	if v.UserID == l.UserID {
		return l.ViewCount, nil
	}
	counted, err := s.countView(ctx, l, v)
	if err != nil {
		return 0, err
	}
	if counted {
		l.ViewCount++
	}
	return l.ViewCount, nil
}

func (s *Service) authorize(l *Listing, actor Viewer, verb string) error {
	if l.UserID != actor.UserID && !actor.IsAdmin {
		return apperr.Forbidden("you can only %s your own listings", verb)
	}
	return nil
}

// Patch is a partial update; nil fields are left unchanged.
type Patch struct {
	Title        *string     `json:"title"`
	Description  *string     `json:"description"`
	Price        *float64    `json:"price"`
	Currency     *string     `json:"currency"`
	CityID       *string     `json:"city_id"`
	Address      *string     `json:"address"`
	Latitude     *float64    `json:"latitude"`
	Longitude    *float64    `json:"longitude"`
	ContactName  *string     `json:"contact_name"`
	ContactPhone *string     `json:"contact_phone"`
	IsNegotiable *bool       `json:"is_negotiable"`
	Details      *CarDetails `json:"details"`
}

func inputOf(l *Listing) Input {
	neg := l.IsNegotiable
	return Input{
		Type: l.Type, Title: l.Title, Description: l.Description, Price: l.Price,
		Currency: l.Currency, CityID: l.CityID, Address: l.Address,
		Latitude: l.Latitude, Longitude: l.Longitude,
		ContactName: l.ContactName, ContactPhone: l.ContactPhone,
		IsNegotiable: &neg, Details: l.Details,
	}
}

// Update edits a listing. Content changes on an active listing send it
// back to moderation.
func (s *Service) Update(ctx context.Context, id string, actor Viewer, p Patch) (*Listing, error) {
	l, err := s.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(l, actor, "edit"); err != nil {
		return nil, err
	}
	in := inputOf(l)
	contentChanged := false
	if p.Title != nil && *p.Title != l.Title {
		in.Title, contentChanged = *p.Title, true
	}
	if p.Description != nil && *p.Description != l.Description {
		in.Description, contentChanged = *p.Description, true
	}
	if p.Price != nil && *p.Price != l.Price {
		in.Price, contentChanged = *p.Price, true
	}
	if p.Details != nil && l.Type == TypeCar {
		in.Details, contentChanged = p.Details, true
	}
	if p.Currency != nil {
		in.Currency = *p.Currency
	}
	if p.CityID != nil {
		in.CityID = *p.CityID
	}
	if p.Address != nil {
		in.Address = *p.Address
	}
	if p.Latitude != nil || p.Longitude != nil {
		in.Latitude, in.Longitude = p.Latitude, p.Longitude
	}
	if p.ContactName != nil {
		in.ContactName = *p.ContactName
	}
	if p.ContactPhone != nil {
		in.ContactPhone = *p.ContactPhone
	}
	if p.IsNegotiable != nil {
		in.IsNegotiable = p.IsNegotiable
	}
	normalize(&in)
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkReferences(ctx, &in); err != nil {
		return nil, err
	}
	s.apply(ctx, l, &in)
	if contentChanged && l.Status != StatusModeration {
		l.NeedsReview = true
	}
	resubmit := contentChanged && l.Status == StatusActive
	if resubmit {
		l.Status = StatusModeration
	}
	if err := s.repo.Update(ctx, l); err != nil {
		return nil, err
	}
	if resubmit {
		userType := ""
		if u, err := s.users.Get(ctx, l.UserID); err == nil && u != nil {
			userType = u.UserType
		}
		s.submit(ctx, l, userType)
	}
	return l, nil
}

// Delete soft-deletes a listing.
func (s *Service) Delete(ctx context.Context, id string, actor Viewer) error {
	l, err := s.Find(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authorize(l, actor, "delete"); err != nil {
		return err
	}
	l.IsDeleted = true
	return s.repo.Update(ctx, l)
}

// Search runs a filtered listing search. Unless statuses are given only
// active, unexpired listings are returned.
func (s *Service) Search(ctx context.Context, f Filter) ([]*Listing, int64, error) {
	if f.Sort == "" {
		f.Sort = SortDateDesc
	}
	if !validSorts[f.Sort] {
		return nil, 0, apperr.FieldError("sort_by", "unknown sort order")
	}
	if (f.Latitude == nil) != (f.Longitude == nil) {
		return nil, 0, apperr.FieldError("latitude", "latitude and longitude must be provided together")
	}
	if f.RadiusKm <= 0 {
		f.RadiusKm = DefaultRadiusKm
	}
	if f.PriceFrom != nil && f.PriceTo != nil && *f.PriceFrom > *f.PriceTo {
		return nil, 0, apperr.FieldError("price_from", "must not exceed price_to")
	}
	if f.YearFrom > 0 && f.YearTo > 0 && f.YearFrom > f.YearTo {
		return nil, 0, apperr.FieldError("year_from", "must not exceed year_to")
	}
	f.Now = s.now()
	return s.repo.Search(ctx, f)
}

// MyListings lists the user's own listings in any status.
func (s *Service) MyListings(ctx context.Context, userID, status string, skip, limit int64) ([]*Listing, int64, error) {
	f := Filter{UserID: userID, AnyStatus: true, Sort: SortDateDesc, Skip: skip, Limit: limit, Now: s.now()}
	if status != "" {
		f.Statuses = []string{status}
	}
	return s.repo.Search(ctx, f)
}

// FavoriteResult reports the outcome of ToggleFavorite.
type FavoriteResult struct {
	Action        string `json:"action"`
	IsFavorited   bool   `json:"is_favorited"`
	FavoriteCount int64  `json:"favorite_count"`
}

// ToggleFavorite adds or removes a listing from the user's favorites.
func (s *Service) ToggleFavorite(ctx context.Context, userID, listingID, folder string) (*FavoriteResult, error) {
	l, err := s.Find(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if l.UserID == userID {
		return nil, apperr.Business("you cannot favorite your own listing")
	}
	removed, err := s.favorites.Remove(ctx, userID, listingID)
	if err != nil {
		return nil, err
	}
	if removed {
		n, err := s.repo.IncrementFavorites(ctx, listingID, -1)
		if err != nil {
			return nil, err
		}
		return &FavoriteResult{Action: "removed", IsFavorited: false, FavoriteCount: n}, nil
	}
	if strings.TrimSpace(folder) == "" {
		folder = DefaultFolder
	}
	fav := &Favorite{ID: uuid.NewString(), UserID: userID, ListingID: listingID, Folder: folder, AddedAt: s.now()}
	if err := s.favorites.Add(ctx, fav); err != nil {
		return nil, err
	}
	n, err := s.repo.IncrementFavorites(ctx, listingID, 1)
	if err != nil {
		return nil, err
	}
	return &FavoriteResult{Action: "added", IsFavorited: true, FavoriteCount: n}, nil
}

// Favorites lists the user's favorited active listings.
func (s *Service) Favorites(ctx context.Context, userID, folder, order string, skip, limit int64) ([]*Listing, int64, error) {
	favs, err := s.favorites.ListByUser(ctx, userID, folder)
	if err != nil {
		return nil, 0, err
	}
	if len(favs) == 0 {
		return []*Listing{}, 0, nil
	}
	ids := make([]string, len(favs))
	rank := make(map[string]int, len(favs))
	for i, f := range favs {
		ids[i] = f.ListingID
		rank[f.ListingID] = i
	}
	items, _, err := s.repo.Search(ctx, Filter{IDs: ids, Now: s.now()})
	if err != nil {
		return nil, 0, err
	}
	switch order {
	case "price_asc":
		sort.SliceStable(items, func(i, j int) bool { return items[i].Price < items[j].Price })
	case "price_desc":
		sort.SliceStable(items, func(i, j int) bool { return items[i].Price > items[j].Price })
	case "title":
		sort.SliceStable(items, func(i, j int) bool { return strings.ToLower(items[i].Title) < strings.ToLower(items[j].Title) })
	case "", "added_desc":
		sort.SliceStable(items, func(i, j int) bool { return rank[items[i].ID] < rank[items[j].ID] })
	default:
		return nil, 0, apperr.FieldError("sort_by", "unknown sort order")
	}
	return page(items, skip, limit), int64(len(items)), nil
}

// ActionResult is returned by Action.
type ActionResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Action performs an owner action: activate, deactivate, archive,
// mark_sold or renew.
func (s *Service) Action(ctx context.Context, id, userID, action string) (*ActionResult, error) {
	l, err := s.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.UserID != userID {
		return nil, apperr.Forbidden("you can only manage your own listings")
	}
	now := s.now()
	var res ActionResult
	switch action {
	case "activate":
		if l.Status == StatusActive && !l.Expired(now) {
			return nil, apperr.Business("listing is already active")
		}
		approved := false
		if s.moderation != nil && !l.NeedsReview {
			if approved, err = s.moderation.Approved(ctx, l.ID); err != nil {
				return nil, err
			}
		}
		if approved {
			l.Publish(now)
			res = ActionResult{StatusActive, "listing activated"}
		} else {
			l.Status = StatusModeration
			res = ActionResult{StatusModeration, "listing sent to moderation"}
		}
	case "deactivate":
		l.Status = StatusDraft
		res = ActionResult{StatusDraft, "listing deactivated"}
	case "archive":
		l.Status = StatusArchived
		res = ActionResult{StatusArchived, "listing archived"}
	case "mark_sold":
		l.Status = StatusSold
		res = ActionResult{StatusSold, "listing marked as sold"}
	case "renew":
		if !l.Expired(now) {
			return nil, apperr.Business("listing is not expired")
		}
		if l.NeedsReview && s.moderation != nil {
			l.Status = StatusModeration
			res = ActionResult{StatusModeration, "listing sent to moderation"}
			break
		}
		l.Publish(now)
		res = ActionResult{StatusActive, "listing renewed"}
	default:
		return nil, apperr.FieldError("action", fmt.Sprintf("unknown action %q", action))
	}
	if err := s.repo.Update(ctx, l); err != nil {
		return nil, err
	}
	if l.Status == StatusModeration {
		userType := ""
		if u, err := s.users.Get(ctx, l.UserID); err == nil && u != nil {
			userType = u.UserType
		}
		s.submit(ctx, l, userType)
	}
	return &res, nil
}

// Similar returns active listings of the same model, or for non-car
// listings of the same type in the same city.
func (s *Service) Similar(ctx context.Context, id string, limit int64) ([]*Listing, error) {
	l, err := s.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > similarLimit {
		limit = similarLimit
	}
	f := Filter{ExcludeID: l.ID, Sort: SortRelevance, Limit: limit, Now: s.now()}
	if l.Details != nil {
		f.BrandID, f.ModelID = l.Details.BrandID, l.Details.ModelID
	} else {
		f.Type, f.CityID = l.Type, l.CityID
	}
	items, _, err := s.repo.Search(ctx, f)
	return items, err
}

// Publish activates a listing after moderation approval.
func (s *Service) Publish(ctx context.Context, id string) (*Listing, error) {
	l, err := s.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	l.Publish(s.now())
	l.NeedsReview = false
	return l, s.repo.Update(ctx, l)
}

// Reject marks a listing rejected with the moderator's reason.
func (s *Service) Reject(ctx context.Context, id, reason string) (*Listing, error) {
	l, err := s.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	l.Status, l.RejectReason = StatusRejected, reason
	return l, s.repo.Update(ctx, l)
}

// Remove soft-deletes a listing on behalf of moderation.
func (s *Service) Remove(ctx context.Context, id string) error {
	return s.Delete(ctx, id, Viewer{IsAdmin: true})
}

// SetPromotionFlag toggles is_featured or is_urgent.
func (s *Service) SetPromotionFlag(ctx context.Context, id, flag string, on bool) error {
	if flag != "is_featured" && flag != "is_urgent" {
		return fmt.Errorf("unknown promotion flag %q", flag)
	}
	return s.repo.SetFlags(ctx, id, map[string]bool{flag: on})
}

// CountByStatus counts listings by status, for one user or all when
// userID is empty.
func (s *Service) CountByStatus(ctx context.Context, userID string) (map[string]int64, error) {
	return s.repo.CountByStatus(ctx, userID)
}

// UserStats summarises a user's listings and favorites.
type UserStats struct {
	Listings  map[string]int64 `json:"listings"`
	Total     int64            `json:"total_listings"`
	Favorites int64            `json:"favorites_count"`
}

func (s *Service) UserStats(ctx context.Context, userID string) (*UserStats, error) {
	byStatus, err := s.repo.CountByStatus(ctx, userID)
	if err != nil {
		return nil, err
	}
	st := &UserStats{Listings: byStatus}
	for _, n := range byStatus {
		st.Total += n
	}
	if st.Favorites, err = s.favorites.CountByUser(ctx, userID); err != nil {
		return nil, err
	}
	return st, nil
}

// Exists reports whether a listing exists and is not deleted.
func (s *Service) Exists(ctx context.Context, id string) (bool, error) {
	l, err := s.repo.Get(ctx, id)
	return l != nil, err
}

// ExpireListings marks active listings past their expiry as expired.
func (s *Service) ExpireListings(ctx context.Context) (int64, error) {
	return s.repo.ExpireBefore(ctx, s.now())
}

// UpdateScores recalculates the score of every active listing and returns
// how many changed.
func (s *Service) UpdateScores(ctx context.Context) (int, error) {
	changed := 0
	for skip := int64(0); ; skip += scoreBatch {
		items, _, err := s.repo.Search(ctx, Filter{Sort: SortDateAsc, Skip: skip, Limit: scoreBatch, Now: s.now()})
		if err != nil {
			return changed, err
		}
		for _, l := range items {
			if sc := Score(l); sc != l.Score {
				if err := s.repo.SetScore(ctx, l.ID, sc); err != nil {
					return changed, err
				}
				changed++
			}
		}
		if len(items) < scoreBatch {
			return changed, nil
		}
	}
}
