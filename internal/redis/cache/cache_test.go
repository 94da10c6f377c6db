package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	wbfredis "github.com/wb-go/wbf/redis"
	"github.com/wb-go/wbf/retry"
)

func setupCache(t *testing.T, ttl time.Duration) (*Cache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := &wbfredis.Client{Client: redis.NewClient(&redis.Options{Addr: mr.Addr()})}
	t.Cleanup(func() { _ = client.Close() })

	return New(client, ttl), mr
}

func TestCache_SetExpires(t *testing.T) {
	c, mr := setupCache(t, time.Hour)
	ctx := context.Background()
	strategy := retry.Strategy{Attempts: 3}

	require.NoError(t, c.SetWithRetry(ctx, strategy, "notification:1:status", "pending"))
	assert.Equal(t, time.Hour, mr.TTL("notification:1:status"))

	status, err := c.GetWithRetry(ctx, strategy, "notification:1:status")
	require.NoError(t, err)
	assert.Equal(t, "pending", status)

	mr.FastForward(time.Hour + time.Second)

	_, err = c.GetWithRetry(ctx, strategy, "notification:1:status")
	assert.ErrorIs(t, err, redis.Nil)
}

func TestCache_ZeroStrategyStillRuns(t *testing.T) {
	c, mr := setupCache(t, 0)
	ctx := context.Background()

	require.NoError(t, c.SetWithRetry(ctx, retry.Strategy{}, "k", "attempted"))
	assert.Equal(t, time.Duration(0), mr.TTL("k"))

	v, err := c.GetWithRetry(ctx, retry.Strategy{}, "k")
	require.NoError(t, err)
	assert.Equal(t, "attempted", v)
}

func TestCache_Unreachable(t *testing.T) {
	client := &wbfredis.Client{Client: redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})}
	t.Cleanup(func() { _ = client.Close() })
	c := New(client, time.Minute)

	_, err := c.GetWithRetry(context.Background(), retry.Strategy{Attempts: 2, Delay: time.Millisecond, Backoff: 1}, "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, redis.Nil)
}
