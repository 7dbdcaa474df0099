package listing

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const viewWindow = time.Hour

// ViewTracker decides whether a view should be counted.
type ViewTracker interface {
	FirstView(ctx context.Context, listingID, viewer string) (bool, error)
}

// RedisViewTracker counts one view per viewer per hour using SET NX keys
// "view:<listing>:<viewer>".
type RedisViewTracker struct {
	client *redis.Client
}

func NewRedisViewTracker(c *redis.Client) *RedisViewTracker {
	return &RedisViewTracker{client: c}
}

func (t *RedisViewTracker) FirstView(ctx context.Context, listingID, viewer string) (bool, error) {
	if viewer == "" {
		return true, nil
	}
	return t.client.SetNX(ctx, "view:"+listingID+":"+viewer, 1, viewWindow).Result()
}

// CountAll counts every view; used without Redis.
type CountAll struct{}

func (CountAll) FirstView(context.Context, string, string) (bool, error) { return true, nil }
