package sessions

import (
	"context"
	"testing"
	"time"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisRepository_CreateGetDelete(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	defer m.Close()

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	repo := NewRedisRepository(client, "test:session:")

	ctx := context.Background()
	s := &Session{
		RefreshToken: "r1",
		UserID:       "user-1",
		CreatedAt:    time.Now().UTC(),
		ExpiresAt:    time.Now().UTC().Add(5 * time.Second),
	}

	require.NoError(t, repo.Create(ctx, s))
	require.True(t, m.Exists("test:session:user:user-1"))

	got, err := repo.GetByRefresh(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, s.UserID, got.UserID)

	// test deletion
	require.NoError(t, repo.DeleteByRefresh(ctx, "r1"))
	got2, err := repo.GetByRefresh(ctx, "r1")
	require.NoError(t, err)
	require.Nil(t, got2)

	list, err := repo.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestRedisRepository_TTLExpiry(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	defer m.Close()

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	repo := NewRedisRepository(client, "test:session:")

	ctx := context.Background()
	s := &Session{
		RefreshToken: "r2",
		UserID:       "user-2",
		CreatedAt:    time.Now().UTC(),
		ExpiresAt:    time.Now().UTC().Add(1 * time.Second),
	}

	require.NoError(t, repo.Create(ctx, s))

	// visible immediately
	got, err := repo.GetByRefresh(ctx, "r2")
	require.NoError(t, err)
	require.NotNil(t, got)

	// advance miniredis clock past TTL
	m.FastForward(2 * time.Second)

	got2, err := repo.GetByRefresh(ctx, "r2")
	require.NoError(t, err)
	require.Nil(t, got2)
}

func TestRedisRepository_DeleteByUser(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	defer m.Close()

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	repo := NewRedisRepository(client, "")
	ctx := context.Background()
	exp := time.Now().UTC().Add(time.Hour)

	for _, rt := range []string{"a", "b"} {
		require.NoError(t, repo.Create(ctx, &Session{RefreshToken: rt, UserID: "u1", CreatedAt: time.Now().UTC(), ExpiresAt: exp}))
	}
	require.NoError(t, repo.Create(ctx, &Session{RefreshToken: "c", UserID: "u2", CreatedAt: time.Now().UTC(), ExpiresAt: exp}))

	list, err := repo.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)

	n, err := repo.DeleteByUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.False(t, m.Exists("session:a"))
	require.True(t, m.Exists("session:c"))
}

func TestRedisRepository_DeleteExpiredPrunesIndex(t *testing.T) {
	m, err := mr.Run()
	require.NoError(t, err)
	defer m.Close()

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	repo := NewRedisRepository(client, "")
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.Create(ctx, &Session{RefreshToken: "short", UserID: "u1", CreatedAt: now, ExpiresAt: now.Add(10 * time.Second)}))
	require.NoError(t, repo.Create(ctx, &Session{RefreshToken: "long", UserID: "u1", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}))
	m.FastForward(11 * time.Second)

	n, err := repo.DeleteExpired(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	members, err := m.Members("session:user:u1")
	require.NoError(t, err)
	require.Equal(t, []string{"long"}, members)
}
