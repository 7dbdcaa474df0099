package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const blacklistPrefix = "blacklist:access:"

// Blacklist holds revoked access token ids until the tokens expire.
type Blacklist interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	Revoked(ctx context.Context, jti string) (bool, error)
}

// RedisBlacklist shares revocations between API instances.
type RedisBlacklist struct {
	client *redis.Client
}

func NewRedisBlacklist(c *redis.Client) *RedisBlacklist { return &RedisBlacklist{client: c} }

func (b *RedisBlacklist) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	return b.client.Set(ctx, blacklistPrefix+jti, "1", ttl).Err()
}

func (b *RedisBlacklist) Revoked(ctx context.Context, jti string) (bool, error) {
	n, err := b.client.Exists(ctx, blacklistPrefix+jti).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MemoryBlacklist is the single-process fallback.
type MemoryBlacklist struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

func NewMemoryBlacklist() *MemoryBlacklist {
	return &MemoryBlacklist{expires: map[string]time.Time{}, now: time.Now}
}

func (b *MemoryBlacklist) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	for k, exp := range b.expires {
		if !now.Before(exp) {
			delete(b.expires, k)
		}
	}
	b.expires[jti] = now.Add(ttl)
	return nil
}

func (b *MemoryBlacklist) Revoked(ctx context.Context, jti string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	exp, ok := b.expires[jti]
	return ok && b.now().Before(exp), nil
}

var (
	blacklistMu sync.RWMutex
	blacklist   Blacklist = NewMemoryBlacklist()
)

// SetBlacklistClient moves the access token blacklist to Redis. nil
// switches back to a fresh in-memory blacklist.
func SetBlacklistClient(c *redis.Client) {
	var b Blacklist = NewMemoryBlacklist()
	if c != nil {
		b = NewRedisBlacklist(c)
	}
	blacklistMu.Lock()
	blacklist = b
	blacklistMu.Unlock()
}

func current() Blacklist {
	blacklistMu.RLock()
	defer blacklistMu.RUnlock()
	return blacklist
}

// BlacklistAccessToken revokes the token id until the token would have
// expired anyway. Tokens without an id or already expired are ignored.
func BlacklistAccessToken(ctx context.Context, jti string, ttl time.Duration) error {
	if jti == "" || ttl <= 0 {
		return nil
	}
	return current().Revoke(ctx, jti, ttl)
}

func IsAccessTokenBlacklisted(ctx context.Context, jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}
	return current().Revoked(ctx, jti)
}
