package locations

import (
	"context"
	"testing"

	"github.com/kolesa/kolesa/backend/go-services/pkg/apperr"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	repo, err := NewMemoryRepository()
	require.NoError(t, err)
	return NewService(repo)
}

func TestRegionsAndCities(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	regions, err := svc.Regions(ctx, "kz")
	require.NoError(t, err)
	require.Len(t, regions, 17)

	cities, err := svc.RegionCities(ctx, "kar")
	require.NoError(t, err)
	require.NotEmpty(t, cities)
	for _, c := range cities {
		require.Equal(t, "kar", c.RegionID)
	}

	_, err = svc.RegionCities(ctx, "xxx")
	require.True(t, apperr.Is(err, apperr.KindNotFound))

	major, err := svc.Cities(ctx, CityFilter{MajorOnly: true})
	require.NoError(t, err)
	for _, c := range major {
		require.True(t, c.IsMajor)
	}

	ok, err := svc.Exists(ctx, "almaty")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "ala", svc.RegionOf(ctx, "almaty"))
	ok, _ = svc.Exists(ctx, "gotham")
	require.False(t, ok)
}

func TestSearchCities(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	list, err := svc.SearchCities(ctx, "алма", "", 10)
	require.NoError(t, err)
	require.Equal(t, "almaty", list[0].ID)

	res, err := svc.Search(ctx, "карага", 10)
	require.NoError(t, err)
	require.NotEmpty(t, res.Regions)
	require.Equal(t, "karaganda", res.Cities[0].ID)
}

func TestNearby(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	// central Almaty: Almaty itself plus Konaev within 100 km
	list, err := svc.Nearby(ctx, 43.25, 76.9, 100, 10)
	require.NoError(t, err)
	require.NotEmpty(t, list)
	require.Equal(t, "almaty", list[0].ID)
	for i := 1; i < len(list); i++ {
		require.LessOrEqual(t, list[i-1].DistanceKm, list[i].DistanceKm)
	}

	list, err = svc.Nearby(ctx, 43.25, 76.9, 0, 10)
	require.NoError(t, err)
	for _, c := range list {
		require.LessOrEqual(t, c.DistanceKm, float64(DefaultRadiusKm))
	}

	_, err = svc.Nearby(ctx, 120, 0, 10, 10)
	require.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestHierarchyAndStats(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	tree, err := svc.Hierarchy(ctx)
	require.NoError(t, err)
	require.Len(t, tree, 1)
	require.Len(t, tree[0].Regions, 17)

	st, err := svc.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, st.Countries)
	require.Equal(t, st.Cities, st.KZCities)
	require.Greater(t, st.MajorCities, 0)
}
