package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache holds the shared counters behind request rate limiting and the daily
// AI-call quota. Implementations must be safe for concurrent use.
type Cache interface {
	Ping(ctx context.Context) error
	// IncrWithExpiry and IncrByWithExpiry set the expiry only when the key
	// has none, so a window starts at its first increment.
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
	IncrByWithExpiry(ctx context.Context, key string, n int64, expiry time.Duration) (int64, error)
	// GetInt returns the counter at key, or 0 if it does not exist.
	GetInt(ctx context.Context, key string) (int64, error)
}

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	return c.IncrByWithExpiry(ctx, key, 1, expiry)
}

func (c *RedisCache) IncrByWithExpiry(ctx context.Context, key string, n int64, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.IncrBy(ctx, key, n)
	pipe.ExpireNX(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (c *RedisCache) GetInt(ctx context.Context, key string) (int64, error) {
	val, err := c.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}
