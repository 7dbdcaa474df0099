package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kolesa/kolesa/backend/go-services/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// QueueKey is the Redis list holding notification ids awaiting delivery.
const QueueKey = "notifications:queue"

// RetryKey is the sorted set of ids waiting out their backoff, scored by
// the unix millisecond at which they become due.
const RetryKey = "notifications:retry"

// RetryDelay is the backoff after the first failed attempt. It doubles with
// every further attempt.
const RetryDelay = 30 * time.Second

// ErrRetry marks a delivery failure that should be queued again.
var ErrRetry = errors.New("notification delivery will be retried")

// RetryError is an ErrRetry carrying the attempt that failed.
type RetryError struct {
	Attempt int
	Err     error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("%v (attempt %d): %v", ErrRetry, e.Attempt, e.Err)
}

func (e *RetryError) Is(target error) bool { return target == ErrRetry }

func (e *RetryError) Unwrap() error { return e.Err }

// Backoff returns the wait before retrying after the given failed attempt.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 8 {
		attempt = 8
	}
	return RetryDelay << (attempt - 1)
}

func retryDelay(err error, backoff func(int) time.Duration) time.Duration {
	var re *RetryError
	if errors.As(err, &re) {
		return backoff(re.Attempt)
	}
	return backoff(1)
}

// Queue hands notification ids to the dispatcher.
type Queue interface {
	Enqueue(ctx context.Context, id string) error
}

// Processor delivers a single queued notification.
type Processor interface {
	Process(ctx context.Context, id string) error
}

// RedisQueue is a FIFO on a Redis list: LPUSH to enqueue, BRPOP to consume.
// Failed deliveries wait in RetryKey until their backoff has passed.
type RedisQueue struct {
	client   *redis.Client
	key      string
	retryKey string
	wait     time.Duration
	now      func() time.Time
}

func NewRedisQueue(c *redis.Client) *RedisQueue {
	return &RedisQueue{client: c, key: QueueKey, retryKey: RetryKey, wait: 5 * time.Second, now: time.Now}
}

func (q *RedisQueue) Enqueue(ctx context.Context, id string) error {
	return q.client.LPush(ctx, q.key, id).Err()
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

// Next blocks up to the queue wait for the next id. ok is false on timeout.
func (q *RedisQueue) Next(ctx context.Context) (id string, ok bool, err error) {
	res, err := q.client.BRPop(ctx, q.wait, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	// BRPOP returns [key, value]
	return res[1], true, nil
}

// Retry parks id until its backoff for err has passed.
func (q *RedisQueue) Retry(ctx context.Context, id string, err error) error {
	due := q.now().Add(retryDelay(err, Backoff))
	return q.client.ZAdd(ctx, q.retryKey, redis.Z{Score: float64(due.UnixMilli()), Member: id}).Err()
}

// Promote moves every due retry back onto the queue and reports how many
// it moved. ZREM decides which consumer owns an id.
func (q *RedisQueue) Promote(ctx context.Context) (int, error) {
	until := fmt.Sprintf("%d", q.now().UnixMilli())
	ids, err := q.client.ZRangeByScore(ctx, q.retryKey, &redis.ZRangeBy{Min: "-inf", Max: until}).Result()
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, id := range ids {
		n, err := q.client.ZRem(ctx, q.retryKey, id).Result()
		if err != nil {
			return moved, err
		}
		if n == 0 {
			continue
		}
		if err := q.Enqueue(ctx, id); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

// Consume feeds queued ids to p until ctx is cancelled. Ids whose delivery
// returns ErrRetry are parked with Retry and come back once due.
func (q *RedisQueue) Consume(ctx context.Context, p Processor) error {
	logger.Infof("notification consumer started on %s", q.key)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := q.Promote(ctx); err != nil && ctx.Err() == nil {
			logger.Errorf("notification retries: %v", err)
		}
		id, ok, err := q.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Errorf("notification queue: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		if !ok {
			continue
		}
		if err := p.Process(ctx, id); err != nil {
			if errors.Is(err, ErrRetry) {
				if err := q.Retry(ctx, id, err); err != nil {
					logger.Errorf("notification %s: requeue: %v", id, err)
				}
				continue
			}
			logger.Warnf("notification %s: %v", id, err)
		}
	}
}

// InlineQueue makes the first delivery attempt in the caller's goroutine;
// used without Redis. Retries run in the background after Delay, which
// defaults to Backoff.
type InlineQueue struct {
	P     Processor
	Delay func(attempt int) time.Duration
}

func (q InlineQueue) Enqueue(ctx context.Context, id string) error {
	err := q.P.Process(ctx, id)
	if !errors.Is(err, ErrRetry) {
		return err
	}
	q.later(context.WithoutCancel(ctx), id, err)
	return nil
}

func (q InlineQueue) later(ctx context.Context, id string, cause error) {
	backoff := q.Delay
	if backoff == nil {
		backoff = Backoff
	}
	time.AfterFunc(retryDelay(cause, backoff), func() {
		err := q.P.Process(ctx, id)
		switch {
		case errors.Is(err, ErrRetry):
			q.later(ctx, id, err)
		case err != nil:
			logger.Warnf("notification %s: %v", id, err)
		}
	})
}
