package geo

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDistanceKm(t *testing.T) {
	require.InDelta(t, 0, DistanceKm(43.222, 76.8512, 43.222, 76.8512), 1e-9)
	// Almaty to Astana is roughly 970 km
	d := DistanceKm(43.2220, 76.8512, 51.1694, 71.4491)
	require.InDelta(t, 970, d, 25)
	require.InDelta(t, d, DistanceKm(51.1694, 71.4491, 43.2220, 76.8512), 1e-9)
}

func TestValidPoint(t *testing.T) {
	require.True(t, ValidPoint(43.2, 76.8))
	require.False(t, ValidPoint(91, 0))
	require.False(t, ValidPoint(0, -181))
}
