package sessions

import (
	"context"
	"testing"
	"time"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisBlacklistKeepsJTIForTokenLifetime(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	defer m.Close()

	SetBlacklistClient(redis.NewClient(&redis.Options{Addr: m.Addr()}))
	defer SetBlacklistClient(nil)

	ctx := context.Background()
	require.NoError(t, BlacklistAccessToken(ctx, "jti-1", 90*time.Second))
	require.True(t, m.Exists(blacklistPrefix+"jti-1"))
	require.Equal(t, 90*time.Second, m.TTL(blacklistPrefix+"jti-1"))

	revoked, err := IsAccessTokenBlacklisted(ctx, "jti-1")
	require.NoError(t, err)
	require.True(t, revoked)
	revoked, err = IsAccessTokenBlacklisted(ctx, "jti-2")
	require.NoError(t, err)
	require.False(t, revoked)

	m.FastForward(91 * time.Second)
	revoked, err = IsAccessTokenBlacklisted(ctx, "jti-1")
	require.NoError(t, err)
	require.False(t, revoked)
}

func TestBlacklistIgnoresExpiredAndAnonymousTokens(t *testing.T) {
	SetBlacklistClient(nil)
	ctx := context.Background()

	require.NoError(t, BlacklistAccessToken(ctx, "", time.Minute))
	require.NoError(t, BlacklistAccessToken(ctx, "jti-expired", 0))
	revoked, err := IsAccessTokenBlacklisted(ctx, "jti-expired")
	require.NoError(t, err)
	require.False(t, revoked)
	revoked, err = IsAccessTokenBlacklisted(ctx, "")
	require.NoError(t, err)
	require.False(t, revoked)
}

func TestMemoryBlacklistRevokesWithoutRedis(t *testing.T) {
	b := NewMemoryBlacklist()
	clock := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return clock }
	ctx := context.Background()

	require.NoError(t, b.Revoke(ctx, "jti-logout", time.Hour))
	revoked, err := b.Revoked(ctx, "jti-logout")
	require.NoError(t, err)
	require.True(t, revoked)

	clock = clock.Add(time.Hour)
	revoked, err = b.Revoked(ctx, "jti-logout")
	require.NoError(t, err)
	require.False(t, revoked)

	// expired entries are pruned on the next revocation
	require.NoError(t, b.Revoke(ctx, "jti-other", time.Minute))
	require.NotContains(t, b.expires, "jti-logout")
}
