// Package cache provides Redis connection infrastructure.
// This is part of the platform layer and contains no business logic.
package cache

import (
	"context"

	"leadflow_backend/platform/config"

	"github.com/redis/go-redis/v9"
)

// NewClient creates a Redis client from the configured URL and verifies
// connectivity before returning.
func NewClient(ctx context.Context, cfg config.CacheConfig) (*redis.Client, error) {
	opt, err := redis.ParseURL(cfg.GetRedisURL())
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return client, nil
}
