package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"municonsole_back/config"

	"github.com/redis/go-redis/v9"
)

var (
	redisOnce   sync.Once
	redisClient *redis.Client
	redisErr    error
)

// Connect returns the process-wide Redis client. An empty address disables
// Redis and yields (nil, nil); callers fall back to in-process behaviour.
func Connect(cfg config.RedisConfig) (*redis.Client, error) {
	redisOnce.Do(func() {
		if cfg.Addr == "" {
			return
		}

		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := client.Ping(ctx).Err(); err != nil {
			redisErr = fmt.Errorf("cache: ping redis %s failed: %w", cfg.Addr, err)
			_ = client.Close()
			return
		}

		redisClient = client
	})

	return redisClient, redisErr
}

// Enabled reports whether a usable Redis client was initialized.
func Enabled() bool {
	return redisErr == nil && redisClient != nil
}

// Close releases the cached Redis connection.
func Close() error {
	if redisClient == nil {
		return nil
	}
	return redisClient.Close()
}
