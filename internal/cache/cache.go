// Package cache stores successful GET responses in Redis.
package cache

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kolesa/kolesa/backend/go-services/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix    = "cache:http:"
	StatusHeader = "X-Cache"
)

type recorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (r *recorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *recorder) WriteString(s string) (int, error) {
	r.body.WriteString(s)
	return r.ResponseWriter.WriteString(s)
}

// Key is the Redis key for a request URI within a namespace.
func Key(namespace, uri string) string {
	sum := sha1.Sum([]byte(uri))
	return keyPrefix + namespace + ":" + hex.EncodeToString(sum[:])
}

// Middleware serves cached JSON for GET requests and stores 200 responses
// for ttl. A nil client disables caching.
func Middleware(client *redis.Client, namespace string, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if client == nil || c.Request.Method != http.MethodGet {
			c.Next()
			return
		}
		key := Key(namespace, c.Request.URL.RequestURI())
		if b, err := client.Get(c.Request.Context(), key).Bytes(); err == nil {
			c.Header(StatusHeader, "HIT")
			c.Data(http.StatusOK, "application/json; charset=utf-8", b)
			c.Abort()
			return
		} else if err != redis.Nil {
			logger.Warnf("cache get %s: %v", key, err)
		}

		rec := &recorder{ResponseWriter: c.Writer}
		c.Writer = rec
		c.Header(StatusHeader, "MISS")
		c.Next()

		if rec.Status() == http.StatusOK && rec.body.Len() > 0 {
			if err := client.Set(c.Request.Context(), key, rec.body.Bytes(), ttl).Err(); err != nil {
				logger.Warnf("cache set %s: %v", key, err)
			}
		}
	}
}

// Invalidate drops every cached response of a namespace.
func Invalidate(ctx context.Context, client *redis.Client, namespace string) error {
	if client == nil {
		return nil
	}
	iter := client.Scan(ctx, 0, keyPrefix+namespace+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return client.Del(ctx, keys...).Err()
}
