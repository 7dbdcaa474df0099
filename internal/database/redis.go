package database

import (
	"context"
	"fmt"
	"time"

	"github.com/kolesa/kolesa/backend/go-services/internal/config"
	"github.com/redis/go-redis/v9"
)

// ConnectRedis returns a pinged client, or nil when Redis is not configured.
func ConnectRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Addr() == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr(), Password: cfg.Password, DB: cfg.DB})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr(), err)
	}
	return client, nil
}
