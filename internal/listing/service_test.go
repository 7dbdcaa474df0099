package listing

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kolesa/kolesa/backend/go-services/internal/catalog"
	"github.com/kolesa/kolesa/backend/go-services/internal/locations"
	"github.com/kolesa/kolesa/backend/go-services/internal/models"
	"github.com/kolesa/kolesa/backend/go-services/internal/users"
	"github.com/kolesa/kolesa/backend/go-services/pkg/apperr"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type fakeModeration struct {
	submitted map[string]int
	approved  map[string]bool
}

func (f *fakeModeration) Submit(ctx context.Context, listingID, userID string, priority int) error {
	f.submitted[listingID] = priority
	return nil
}

func (f *fakeModeration) Approved(ctx context.Context, listingID string) (bool, error) {
	return f.approved[listingID], nil
}

type fixture struct {
	svc   *Service
	repo  *MemoryRepository
	users *users.Service
	mod   *fakeModeration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	crepo, err := catalog.NewMemoryRepository()
	require.NoError(t, err)
	lrepo, err := locations.NewMemoryRepository()
	require.NoError(t, err)
	f := &fixture{
		repo:  NewMemoryRepository(),
		users: users.NewMemoryService(),
		mod:   &fakeModeration{submitted: map[string]int{}, approved: map[string]bool{}},
	}
	f.svc = NewService(f.repo, NewMemoryFavoriteRepository(), catalog.NewService(crepo), locations.NewService(lrepo), f.users)
	f.svc.SetModeration(f.mod)
	return f
}

func (f *fixture) user(t *testing.T, phone, userType string) *models.User {
	t.Helper()
	u, err := f.users.Register(context.Background(), users.RegisterInput{
		Phone: phone, Password: "secret123", FirstName: "Aidar", LastName: "Nurlanov", UserType: userType,
	})
	require.NoError(t, err)
	return u
}

func carInput() Input {
	return Input{
		Title:       "Toyota Camry 2015",
		Description: "Один владелец, полная комплектация",
		Price:       9500000,
		CityID:      "almaty",
		Details: &CarDetails{
			BrandID: "toyota", ModelID: "toyota-camry", GenerationID: "toyota-camry-xv50",
			Year: 2015, Mileage: 120000, Condition: "good", BodyTypeID: "sedan",
			EngineTypeID: "petrol", TransmissionID: "automatic", ColorID: "white",
			FeatureIDs: []string{"abs"}, VIN: "jtnbf3ek803012345",
		},
	}
}

// active creates a listing and publishes it.
func (f *fixture) active(t *testing.T, userID string, in Input) *Listing {
	t.Helper()
	l, err := f.svc.Create(context.Background(), userID, in)
	require.NoError(t, err)
	l, err = f.svc.Publish(context.Background(), l.ID)
	require.NoError(t, err)
	return l
}

func TestCreateCarListing(t *testing.T) {
	f := newFixture(t)
	dealer := f.user(t, "+77011234567", models.UserTypeDealer)

	l, err := f.svc.Create(context.Background(), dealer.ID, carInput())
	require.NoError(t, err)
	require.Equal(t, TypeCar, l.Type)
	require.Equal(t, StatusModeration, l.Status)
	require.Equal(t, "KZT", l.Currency)
	require.Equal(t, "ala", l.RegionID)
	require.Equal(t, "JTNBF3EK803012345", l.Details.VIN)
	require.Contains(t, l.SearchText, "Toyota")
	require.Regexp(t, `^KZ\d+$`, l.Number)
	require.Equal(t, 2, f.mod.submitted[l.ID])
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "+77011234567", "")
	ctx := context.Background()

	in := carInput()
	in.Title = "abc"
	_, err := f.svc.Create(ctx, u.ID, in)
	require.True(t, apperr.Is(err, apperr.KindValidation))

	in = carInput()
	in.CityID = "atlantis"
	_, err = f.svc.Create(ctx, u.ID, in)
	require.True(t, apperr.Is(err, apperr.KindValidation))

	in = carInput()
	in.Details.ModelID = "volkswagen-polo"
	_, err = f.svc.Create(ctx, u.ID, in)
	require.True(t, apperr.Is(err, apperr.KindValidation))

	in = carInput()
	in.Details.FeatureIDs = []string{"teleport"}
	_, err = f.svc.Create(ctx, u.ID, in)
	require.True(t, apperr.Is(err, apperr.KindValidation))

	in = carInput()
	in.Details.Year = 1900
	_, err = f.svc.Create(ctx, u.ID, in)
	require.True(t, apperr.Is(err, apperr.KindValidation))

	lat := 43.2
	in = carInput()
	in.Latitude = &lat
	_, err = f.svc.Create(ctx, u.ID, in)
	require.True(t, apperr.Is(err, apperr.KindValidation))

	in = carInput()
	in.Type = TypeCar
	in.Details = nil
	_, err = f.svc.Create(ctx, u.ID, in)
	require.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestCreateRespectsListingLimit(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "+77011234567", "")
	ctx := context.Background()
	for i := 0; i < MaxListings[models.UserTypeRegular]; i++ {
		_, err := f.svc.Create(ctx, u.ID, carInput())
		require.NoError(t, err)
	}
	_, err := f.svc.Create(ctx, u.ID, carInput())
	require.True(t, apperr.Is(err, apperr.KindBusinessLogic))
}

func TestGetVisibilityAndViews(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "+77011234567", "")
	other := f.user(t, "+77019876543", "")
	ctx := context.Background()

	l, err := f.svc.Create(ctx, owner.ID, carInput())
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, l.ID, Viewer{UserID: other.ID})
	require.True(t, apperr.Is(err, apperr.KindNotFound))
	d, err := f.svc.Get(ctx, l.ID, Viewer{UserID: owner.ID})
	require.NoError(t, err)
	require.Equal(t, int64(0), d.ViewCount)

	_, err = f.svc.Publish(ctx, l.ID)
	require.NoError(t, err)
	d, err = f.svc.Get(ctx, l.ID, Viewer{UserID: other.ID})
	require.NoError(t, err)
	require.Equal(t, int64(1), d.ViewCount)
	require.NotNil(t, d.Seller)
	require.False(t, d.IsFavorited)
}

func TestRedisViewTrackerDeduplicates(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	f := newFixture(t)
	f.svc.SetViewTracker(NewRedisViewTracker(rc))
	owner := f.user(t, "+77011234567", "")
	l := f.active(t, owner.ID, carInput())
	ctx := context.Background()

	n, err := f.svc.RegisterView(ctx, l.ID, Viewer{IP: "10.0.0.1"})
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	n, err = f.svc.RegisterView(ctx, l.ID, Viewer{IP: "10.0.0.1"})
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	n, err = f.svc.RegisterView(ctx, l.ID, Viewer{IP: "10.0.0.2"})
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	mr.FastForward(2 * time.Hour)
	n, err = f.svc.RegisterView(ctx, l.ID, Viewer{IP: "10.0.0.1"})
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
}

func TestUpdateSendsActiveListingBackToModeration(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "+77011234567", "")
	other := f.user(t, "+77019876543", "")
	l := f.active(t, owner.ID, carInput())
	ctx := context.Background()

	title := "Toyota Camry 2015 срочно"
	_, err := f.svc.Update(ctx, l.ID, Viewer{UserID: other.ID}, Patch{Title: &title})
	require.True(t, apperr.Is(err, apperr.KindAuthorization))

	addr := "ул. Абая 10"
	up, err := f.svc.Update(ctx, l.ID, Viewer{UserID: owner.ID}, Patch{Address: &addr})
	require.NoError(t, err)
	require.Equal(t, StatusActive, up.Status)

	up, err = f.svc.Update(ctx, l.ID, Viewer{UserID: owner.ID}, Patch{Title: &title})
	require.NoError(t, err)
	require.Equal(t, StatusModeration, up.Status)
	require.Equal(t, title, up.Title)
}

func TestEditedDraftNeedsReviewBeforeActivation(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "+77011234567", "")
	l := f.active(t, owner.ID, carInput())
	f.mod.approved[l.ID] = true
	ctx := context.Background()

	res, err := f.svc.Action(ctx, l.ID, owner.ID, "deactivate")
	require.NoError(t, err)
	require.Equal(t, StatusDraft, res.Status)
	delete(f.mod.submitted, l.ID)

	title := "Toyota Camry 2015 после ДТП"
	up, err := f.svc.Update(ctx, l.ID, Viewer{UserID: owner.ID}, Patch{Title: &title})
	require.NoError(t, err)
	require.Equal(t, StatusDraft, up.Status)
	require.True(t, up.NeedsReview)

	res, err = f.svc.Action(ctx, l.ID, owner.ID, "activate")
	require.NoError(t, err)
	require.Equal(t, StatusModeration, res.Status)
	require.Contains(t, f.mod.submitted, l.ID)

	got, err := f.svc.Find(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, StatusModeration, got.Status)

	got, err = f.svc.Publish(ctx, l.ID)
	require.NoError(t, err)
	require.False(t, got.NeedsReview)
	_, err = f.svc.Action(ctx, l.ID, owner.ID, "deactivate")
	require.NoError(t, err)
	res, err = f.svc.Action(ctx, l.ID, owner.ID, "activate")
	require.NoError(t, err)
	require.Equal(t, StatusActive, res.Status)
}

func TestEditedExpiredListingIsNotRenewedWithoutReview(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "+77011234567", "")
	l := f.active(t, owner.ID, carInput())
	ctx := context.Background()

	l.Status = StatusExpired
	require.NoError(t, f.repo.Update(ctx, l))
	price := 9500000.0
	up, err := f.svc.Update(ctx, l.ID, Viewer{UserID: owner.ID}, Patch{Price: &price})
	require.NoError(t, err)
	require.Equal(t, StatusExpired, up.Status)

	res, err := f.svc.Action(ctx, l.ID, owner.ID, "renew")
	require.NoError(t, err)
	require.Equal(t, StatusModeration, res.Status)
}

func TestSearchFilters(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "+77011234567", models.UserTypeDealer)
	ctx := context.Background()

	camry := carInput()
	lat, lng := 43.2389, 76.8897
	camry.Latitude, camry.Longitude = &lat, &lng
	f.active(t, owner.ID, camry)

	polo := carInput()
	polo.Title, polo.Price, polo.CityID = "Volkswagen Polo", 5000000, "astana"
	polo.Details = &CarDetails{BrandID: "volkswagen", ModelID: "volkswagen-polo", Year: 2019, Condition: "excellent", BodyTypeID: "sedan"}
	f.active(t, owner.ID, polo)

	_, err := f.svc.Create(ctx, owner.ID, carInput())
	require.NoError(t, err)

	items, total, err := f.svc.Search(ctx, Filter{})
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
	require.Len(t, items, 2)

	items, _, err = f.svc.Search(ctx, Filter{BrandID: "volkswagen"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "Volkswagen Polo", items[0].Title)

	items, _, err = f.svc.Search(ctx, Filter{Sort: SortPriceAsc})
	require.NoError(t, err)
	require.Equal(t, float64(5000000), items[0].Price)

	from := float64(6000000)
	items, _, err = f.svc.Search(ctx, Filter{PriceFrom: &from})
	require.NoError(t, err)
	require.Len(t, items, 1)

	items, _, err = f.svc.Search(ctx, Filter{YearFrom: 2018})
	require.NoError(t, err)
	require.Len(t, items, 1)

	items, _, err = f.svc.Search(ctx, Filter{Query: "camry"})
	require.NoError(t, err)
	require.Len(t, items, 1)

	nlat, nlng := 43.25, 76.9
	items, _, err = f.svc.Search(ctx, Filter{Latitude: &nlat, Longitude: &nlng, RadiusKm: 10})
	require.NoError(t, err)
	require.Len(t, items, 1)

	_, _, err = f.svc.Search(ctx, Filter{Sort: "random"})
	require.True(t, apperr.Is(err, apperr.KindValidation))
	_, _, err = f.svc.Search(ctx, Filter{Latitude: &nlat})
	require.True(t, apperr.Is(err, apperr.KindValidation))

	mine, total, err := f.svc.MyListings(ctx, owner.ID, "", 0, 10)
	require.NoError(t, err)
	require.Equal(t, int64(3), total)
	require.Len(t, mine, 3)
	mine, _, err = f.svc.MyListings(ctx, owner.ID, StatusModeration, 0, 10)
	require.NoError(t, err)
	require.Len(t, mine, 1)
}

func TestToggleFavorite(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "+77011234567", "")
	fan := f.user(t, "+77019876543", "")
	l := f.active(t, owner.ID, carInput())
	ctx := context.Background()

	_, err := f.svc.ToggleFavorite(ctx, owner.ID, l.ID, "")
	require.True(t, apperr.Is(err, apperr.KindBusinessLogic))

	res, err := f.svc.ToggleFavorite(ctx, fan.ID, l.ID, "")
	require.NoError(t, err)
	require.Equal(t, "added", res.Action)
	require.Equal(t, int64(1), res.FavoriteCount)

	items, total, err := f.svc.Favorites(ctx, fan.ID, "", "", 0, 10)
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.Equal(t, l.ID, items[0].ID)

	d, err := f.svc.Get(ctx, l.ID, Viewer{UserID: fan.ID})
	require.NoError(t, err)
	require.True(t, d.IsFavorited)

	stats, err := f.svc.UserStats(ctx, fan.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Favorites)

	res, err = f.svc.ToggleFavorite(ctx, fan.ID, l.ID, "")
	require.NoError(t, err)
	require.Equal(t, "removed", res.Action)
	require.Equal(t, int64(0), res.FavoriteCount)

}

func TestFavoritesSortAndFolders(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "+77011234567", models.UserTypePro)
	fan := f.user(t, "+77019876543", "")
	ctx := context.Background()

	cheap := carInput()
	cheap.Price = 1000
	a := f.active(t, owner.ID, cheap)
	b := f.active(t, owner.ID, carInput())

	_, err := f.svc.ToggleFavorite(ctx, fan.ID, a.ID, "")
	require.NoError(t, err)
	_, err = f.svc.ToggleFavorite(ctx, fan.ID, b.ID, "garage")
	require.NoError(t, err)

	items, _, err := f.svc.Favorites(ctx, fan.ID, "", "price_desc", 0, 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, b.ID, items[0].ID)

	items, _, err = f.svc.Favorites(ctx, fan.ID, "garage", "", 0, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, b.ID, items[0].ID)

	_, _, err = f.svc.Favorites(ctx, fan.ID, "", "random", 0, 10)
	require.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestOwnerActions(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "+77011234567", "")
	other := f.user(t, "+77019876543", "")
	l := f.active(t, owner.ID, carInput())
	ctx := context.Background()

	_, err := f.svc.Action(ctx, l.ID, other.ID, "archive")
	require.True(t, apperr.Is(err, apperr.KindAuthorization))

	_, err = f.svc.Action(ctx, l.ID, owner.ID, "activate")
	require.True(t, apperr.Is(err, apperr.KindBusinessLogic))

	res, err := f.svc.Action(ctx, l.ID, owner.ID, "deactivate")
	require.NoError(t, err)
	require.Equal(t, StatusDraft, res.Status)

	// not yet approved: goes back to the queue
	res, err = f.svc.Action(ctx, l.ID, owner.ID, "activate")
	require.NoError(t, err)
	require.Equal(t, StatusModeration, res.Status)

	f.mod.approved[l.ID] = true
	res, err = f.svc.Action(ctx, l.ID, owner.ID, "activate")
	require.NoError(t, err)
	require.Equal(t, StatusActive, res.Status)

	_, err = f.svc.Action(ctx, l.ID, owner.ID, "renew")
	require.True(t, apperr.Is(err, apperr.KindBusinessLogic))

	res, err = f.svc.Action(ctx, l.ID, owner.ID, "mark_sold")
	require.NoError(t, err)
	require.Equal(t, StatusSold, res.Status)

	_, err = f.svc.Action(ctx, l.ID, owner.ID, "explode")
	require.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestExpireAndRenew(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "+77011234567", "")
	l := f.active(t, owner.ID, carInput())
	ctx := context.Background()

	f.svc.now = func() time.Time { return time.Now().UTC().Add(PublishDuration + time.Hour) }
	n, err := f.svc.ExpireListings(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	items, _, err := f.svc.Search(ctx, Filter{})
	require.NoError(t, err)
	require.Empty(t, items)

	res, err := f.svc.Action(ctx, l.ID, owner.ID, "renew")
	require.NoError(t, err)
	require.Equal(t, StatusActive, res.Status)
	items, _, err = f.svc.Search(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestSimilarAndDelete(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "+77011234567", models.UserTypeDealer)
	other := f.user(t, "+77019876543", "")
	ctx := context.Background()

	a := f.active(t, owner.ID, carInput())
	b := f.active(t, owner.ID, carInput())
	polo := carInput()
	polo.Details = &CarDetails{BrandID: "volkswagen", ModelID: "volkswagen-polo", Year: 2019, Condition: "excellent", BodyTypeID: "sedan"}
	f.active(t, owner.ID, polo)

	items, err := f.svc.Similar(ctx, a.ID, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, b.ID, items[0].ID)

	require.True(t, apperr.Is(f.svc.Delete(ctx, b.ID, Viewer{UserID: other.ID}), apperr.KindAuthorization))
	require.NoError(t, f.svc.Delete(ctx, b.ID, Viewer{UserID: owner.ID}))
	_, err = f.svc.Find(ctx, b.ID)
	require.True(t, apperr.Is(err, apperr.KindNotFound))
	ok, err := f.svc.Exists(ctx, b.ID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestModerationHooks(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "+77011234567", "")
	ctx := context.Background()
	l, err := f.svc.Create(ctx, owner.ID, carInput())
	require.NoError(t, err)

	r, err := f.svc.Reject(ctx, l.ID, "фото не соответствуют")
	require.NoError(t, err)
	require.Equal(t, StatusRejected, r.Status)
	require.Equal(t, "фото не соответствуют", r.RejectReason)

	require.NoError(t, f.svc.SetPromotionFlag(ctx, l.ID, "is_featured", true))
	require.Error(t, f.svc.SetPromotionFlag(ctx, l.ID, "is_shiny", true))
	got, err := f.svc.Find(ctx, l.ID)
	require.NoError(t, err)
	require.True(t, got.IsFeatured)

	counts, err := f.svc.CountByStatus(ctx, "")
	require.NoError(t, err)
	require.Equal(t, int64(1), counts[StatusRejected])
}

func TestServiceListingScore(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "+77011234567", "")
	l := f.active(t, owner.ID, carInput())
	require.NoError(t, f.repo.SetScore(context.Background(), l.ID, 0))

	n, err := f.svc.UpdateScores(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	got, err := f.svc.Find(context.Background(), l.ID)
	require.NoError(t, err)
	require.Equal(t, Score(got), got.Score)
}
