package contextcache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend implements Backend on Redis. Expiry is delegated to Redis so
// the reaper has nothing to do here.
type RedisBackend struct {
	rdb *redis.Client
}

// RedisBackendConfig holds Redis connection settings for the cache.
type RedisBackendConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisBackend creates a Redis-backed cache store with connection validation.
func NewRedisBackend(cfg RedisBackendConfig) (*RedisBackend, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisBackend{rdb: rdb}, nil
}

// Get returns the value for key if present.
func (b *RedisBackend) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := b.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get failed: %w", err)
	}
	return value, true, nil
}

// Set stores value under key with the given TTL.
func (b *RedisBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := b.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Delete removes key.
func (b *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := b.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (b *RedisBackend) Close() error {
	return b.rdb.Close()
}
