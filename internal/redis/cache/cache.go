// Package cache keeps short-lived notification statuses in Redis.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	wbfredis "github.com/wb-go/wbf/redis"
	"github.com/wb-go/wbf/retry"
)

// Cache writes every key with a fixed expiry so statuses of old
// notifications age out.
type Cache struct {
	client *wbfredis.Client
	ttl    time.Duration
}

// New wraps client. A ttl of zero keeps keys forever.
func New(client *wbfredis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// SetWithRetry stores value under key with the cache's expiry.
func (c *Cache) SetWithRetry(ctx context.Context, strategy retry.Strategy, key string, value interface{}) error {
	return retry.Do(func() error {
		return c.client.Client.Set(ctx, key, value, c.ttl).Err()
	}, atLeastOnce(strategy))
}

// GetWithRetry returns the value under key, or redis.Nil when it is not
// cached. A miss is not retried.
func (c *Cache) GetWithRetry(ctx context.Context, strategy retry.Strategy, key string) (string, error) {
	var (
		val  string
		miss bool
	)

	err := retry.Do(func() error {
		v, err := c.client.Get(ctx, key)
		if errors.Is(err, redis.Nil) {
			miss = true
			return nil
		}
		if err != nil {
			return err
		}

		val = v
		return nil
	}, atLeastOnce(strategy))
	if err != nil {
		return "", err
	}

	if miss {
		return "", redis.Nil
	}

	return val, nil
}

func atLeastOnce(strategy retry.Strategy) retry.Strategy {
	if strategy.Attempts < 1 {
		strategy.Attempts = 1
	}

	return strategy
}
