package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kolesa/kolesa/backend/go-services/pkg/metrics"
	"github.com/kolesa/kolesa/backend/go-services/pkg/response"
	"github.com/redis/go-redis/v9"
)

// rateKey identifies the caller: the user id once authenticated, the client
// IP otherwise. scope keeps route budgets apart.
func rateKey(c *gin.Context, scope string) string {
	key := "ip:" + c.ClientIP()
	if uid := CurrentUserID(c); uid != "" {
		key = "user:" + uid
	} else if c.ClientIP() == "" {
		key = "ip:unknown"
	}
	if scope != "" {
		key = scope + ":" + key
	}
	return key
}

// RedisRateLimitMiddleware is a fixed-window limiter shared by every API
// instance. Each window admits rps*window+burst requests per caller.
// Without a client it falls back to the in-memory token bucket.
func RedisRateLimitMiddleware(client *redis.Client, rps float64, burst int, window time.Duration) gin.HandlerFunc {
	if client == nil {
		return RateLimitMiddleware(rps, burst)
	}
	return RedisScopedRateLimit(client, "", rps, burst, window)
}

// RedisScopedRateLimit is RedisRateLimitMiddleware with its own buckets.
func RedisScopedRateLimit(client *redis.Client, scope string, rps float64, burst int, window time.Duration) gin.HandlerFunc {
	if client == nil {
		return ScopedRateLimit(scope, rps, burst)
	}
	secs := int64(window / time.Second)
	if secs <= 0 {
		secs = 1
	}
	allowed := int64(rps*float64(secs)) + int64(burst)
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		bucket := fmt.Sprintf("rl:%s:%d", rateKey(c, scope), time.Now().Unix()/secs)

		pipe := client.TxPipeline()
		incr := pipe.Incr(ctx, bucket)
		pipe.Expire(ctx, bucket, time.Duration(secs+1)*time.Second)
		if _, err := pipe.Exec(ctx); err != nil {
			response.Fail(c, http.StatusServiceUnavailable, "rate limit check failed")
			return
		}
		if incr.Val() > allowed {
			c.Header("Retry-After", strconv.FormatInt(secs, 10))
			metrics.RateLimitRejected.WithLabelValues("redis").Inc()
			response.Fail(c, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		metrics.RateLimitAllowed.WithLabelValues("redis").Inc()
		c.Next()
	}
}
