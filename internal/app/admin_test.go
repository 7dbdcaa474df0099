package app

import (
	"context"
	"testing"

	"github.com/kolesa/kolesa/backend/go-services/internal/models"
	"github.com/stretchr/testify/require"
)

func TestEnsureAdmin(t *testing.T) {
	a, _ := newTestApp(t)
	ctx := context.Background()

	u, created, err := a.EnsureAdmin(ctx, "+77010000001", "admin-pass-1")
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, models.UserTypeAdmin, u.UserType)
	require.Equal(t, models.VerificationPhoneVerified, u.VerificationStatus)

	again, created, err := a.EnsureAdmin(ctx, "+77010000001", "admin-pass-2")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, u.ID, again.ID)

	_, err = a.Users.Authenticate(ctx, "+77010000001", "admin-pass-2")
	require.NoError(t, err)

	existing := register(t, a, "+77019876543")
	promoted, created, err := a.EnsureAdmin(ctx, "+77019876543", "secret456")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, existing, promoted.ID)
	require.Equal(t, models.UserTypeAdmin, promoted.UserType)
}
