package sessions

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRepository implements Repository using Redis as the backing store.
// Sessions are stored as JSON under "<prefix><refreshToken>" with TTL = expiresAt - now.
// A per-user set "<prefix>user:<userID>" indexes the refresh tokens of each user.
type RedisRepository struct {
	client *redis.Client
	prefix string
}

// NewRedisRepository creates a Redis-based session repository. Prefix may be empty.
func NewRedisRepository(client *redis.Client, prefix string) *RedisRepository {
	if prefix == "" {
		prefix = "session:"
	}
	return &RedisRepository{client: client, prefix: prefix}
}

func (r *RedisRepository) key(refresh string) string {
	return r.prefix + refresh
}

func (r *RedisRepository) userKey(userID string) string {
	return r.prefix + "user:" + userID
}

func (r *RedisRepository) Create(ctx context.Context, s *Session) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	exp := time.Until(s.ExpiresAt)
	if exp <= 0 {
		// ensure a minimal TTL so Redis won't store expired sessions
		exp = time.Second
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.key(s.RefreshToken), b, exp)
	if s.UserID != "" {
		pipe.SAdd(ctx, r.userKey(s.UserID), s.RefreshToken)
		pipe.Expire(ctx, r.userKey(s.UserID), exp)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisRepository) GetByRefresh(ctx context.Context, refresh string) (*Session, error) {
	b, err := r.client.Get(ctx, r.key(refresh)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	// If session expired from perspective of stored value, treat as missing
	if s.Expired(time.Now().UTC()) {
		_ = r.DeleteByRefresh(ctx, refresh)
		return nil, nil
	}
	return &s, nil
}

func (r *RedisRepository) DeleteByRefresh(ctx context.Context, refresh string) error {
	s, err := r.peek(ctx, refresh)
	if err != nil {
		return err
	}
	if s != nil && s.UserID != "" {
		_ = r.client.SRem(ctx, r.userKey(s.UserID), refresh).Err()
	}
	return r.client.Del(ctx, r.key(refresh)).Err()
}

func (r *RedisRepository) peek(ctx context.Context, refresh string) (*Session, error) {
	b, err := r.client.Get(ctx, r.key(refresh)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *RedisRepository) ListByUser(ctx context.Context, userID string) ([]*Session, error) {
	refreshes, err := r.client.SMembers(ctx, r.userKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	out := []*Session{}
	for _, rt := range refreshes {
		s, err := r.peek(ctx, rt)
		if err != nil {
			return nil, err
		}
		if s == nil {
			// expired entry, prune the index
			_ = r.client.SRem(ctx, r.userKey(userID), rt).Err()
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *RedisRepository) DeleteByUser(ctx context.Context, userID string) (int, error) {
	refreshes, err := r.client.SMembers(ctx, r.userKey(userID)).Result()
	if err != nil {
		return 0, err
	}
	keys := make([]string, 0, len(refreshes)+1)
	for _, rt := range refreshes {
		keys = append(keys, r.key(rt))
	}
	keys = append(keys, r.userKey(userID))
	n, err := r.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, err
	}
	// the index key itself is counted by DEL when present
	if n > 0 && len(refreshes) > 0 {
		n--
	}
	return int(n), nil
}

// DeleteExpired leaves expiry of the session keys to Redis and prunes
// per-user index entries that point at keys which are gone.
func (r *RedisRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	pruned := 0
	iter := r.client.Scan(ctx, 0, r.prefix+"user:*", 100).Iterator()
	for iter.Next(ctx) {
		userKey := iter.Val()
		refreshes, err := r.client.SMembers(ctx, userKey).Result()
		if err != nil {
			return pruned, err
		}
		for _, rt := range refreshes {
			s, err := r.peek(ctx, rt)
			if err != nil {
				return pruned, err
			}
			if s != nil && !s.Expired(now) {
				continue
			}
			pipe := r.client.TxPipeline()
			pipe.SRem(ctx, userKey, rt)
			pipe.Del(ctx, r.key(rt))
			if _, err := pipe.Exec(ctx); err != nil {
				return pruned, err
			}
			pruned++
		}
	}
	return pruned, iter.Err()
}
