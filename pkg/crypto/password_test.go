package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashAndCompare(t *testing.T) {
	h, err := HashPassword("s3cret-pass")
	require.NoError(t, err)
	require.NotEqual(t, "s3cret-pass", h)
	require.NoError(t, ComparePassword(h, "s3cret-pass"))
	require.Error(t, ComparePassword(h, "wrong"))
}

func TestRandomDigits(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := RandomDigits(6)
		require.NoError(t, err)
		require.Len(t, code, 6)
		for _, r := range code {
			require.True(t, r >= '0' && r <= '9')
		}
	}
}

func TestRandomHex(t *testing.T) {
	a, err := RandomHex(32)
	require.NoError(t, err)
	require.Len(t, a, 64)
	b, _ := RandomHex(32)
	require.NotEqual(t, a, b)
}
