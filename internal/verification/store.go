package verification

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CodeResult is the outcome of checking a one-time code.
type CodeResult int

const (
	CodeOK CodeResult = iota
	CodeMismatch
	CodeMissing
	CodeExhausted
)

// Store holds short-lived verification state.
type Store interface {
	// SaveCode replaces any previous code under key and resets its attempts.
	SaveCode(ctx context.Context, key, code string, ttl time.Duration) error
	// CheckCode compares code and consumes it on success. Each mismatch uses
	// one attempt; the code is dropped once maxAttempts is reached.
	CheckCode(ctx context.Context, key, code string, maxAttempts int) (CodeResult, error)
	SaveToken(ctx context.Context, key, value string, ttl time.Duration) error
	// ConsumeToken returns the stored value and deletes it, "" when missing.
	ConsumeToken(ctx context.Context, key string) (string, error)
	// Incr bumps a counter that expires window after the first hit.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
	Count(ctx context.Context, key string) (int64, error)
	Delete(ctx context.Context, key string) error
}

// RedisStore implements Store on Redis. Codes are hashes {code, attempts}.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore { return &RedisStore{client: client} }

func (s *RedisStore) SaveCode(ctx context.Context, key, code string, ttl time.Duration) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, "code", code, "attempts", 0)
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// checkCodeScript counts the attempt before comparing so concurrent guesses
// cannot share one attempt. Returns 0 missing, 1 ok, 2 mismatch, 3 exhausted.
var checkCodeScript = redis.NewScript(`
local stored = redis.call('HGET', KEYS[1], 'code')
if not stored then return 0 end
local max = tonumber(ARGV[2])
local n = redis.call('HINCRBY', KEYS[1], 'attempts', 1)
if n > max then
  redis.call('DEL', KEYS[1])
  return 3
end
if stored == ARGV[1] then
  redis.call('DEL', KEYS[1])
  return 1
end
if n >= max then redis.call('DEL', KEYS[1]) end
return 2
`)

func (s *RedisStore) CheckCode(ctx context.Context, key, code string, maxAttempts int) (CodeResult, error) {
	res, err := checkCodeScript.Run(ctx, s.client, []string{key}, code, maxAttempts).Int()
	if err != nil {
		return CodeMissing, err
	}
	switch res {
	case 1:
		return CodeOK, nil
	case 2:
		return CodeMismatch, nil
	case 3:
		return CodeExhausted, nil
	}
	return CodeMissing, nil
}

func (s *RedisStore) SaveToken(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) ConsumeToken(ctx context.Context, key string) (string, error) {
	v, err := s.client.GetDel(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	return v, err
}

func (s *RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if n == 1 {
		_ = s.client.Expire(ctx, key, window).Err()
	}
	return n, nil
}

func (s *RedisStore) Count(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

type memEntry struct {
	value    string
	attempts int
	count    int64
	expires  time.Time
}

// MemoryStore is a process-local Store for tests and single-node setups
// without Redis.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]*memEntry
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string]*memEntry{}, now: time.Now}
}

func (s *MemoryStore) get(key string) *memEntry {
	e, ok := s.data[key]
	if !ok {
		return nil
	}
	if !e.expires.IsZero() && !s.now().Before(e.expires) {
		delete(s.data, key)
		return nil
	}
	return e
}

func (s *MemoryStore) SaveCode(ctx context.Context, key, code string, ttl time.Duration) error {
	return s.SaveToken(ctx, key, code, ttl)
}

func (s *MemoryStore) CheckCode(ctx context.Context, key, code string, maxAttempts int) (CodeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.get(key)
	if e == nil {
		return CodeMissing, nil
	}
	if e.attempts >= maxAttempts {
		delete(s.data, key)
		return CodeExhausted, nil
	}
	if e.value == code {
		delete(s.data, key)
		return CodeOK, nil
	}
	e.attempts++
	if e.attempts >= maxAttempts {
		delete(s.data, key)
	}
	return CodeMismatch, nil
}

func (s *MemoryStore) SaveToken(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = &memEntry{value: value, expires: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) ConsumeToken(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.get(key)
	if e == nil {
		return "", nil
	}
	delete(s.data, key)
	return e.value, nil
}

func (s *MemoryStore) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.get(key)
	if e == nil {
		e = &memEntry{expires: s.now().Add(window)}
		s.data[key] = e
	}
	e.count++
	return e.count, nil
}

func (s *MemoryStore) Count(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.get(key); e != nil {
		return e.count, nil
	}
	return 0, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}
