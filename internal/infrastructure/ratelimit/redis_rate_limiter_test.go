package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicoladebbia/CredLink-sub020/internal/infrastructure/ratelimit"
	"github.com/nicoladebbia/CredLink-sub020/pkg/logger"
)

func newLimiter(t *testing.T, fallback bool) (*ratelimit.RedisRateLimiter, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	rl, err := ratelimit.NewRedisRateLimiter(client, &ratelimit.RateLimiterConfig{
		EnableLocalFallback: fallback,
		KeyPrefix:           "test:rl",
	}, logger.NewNoopLogger())
	require.NoError(t, err)
	return rl, s
}

func TestRedisRateLimiter_Allow(t *testing.T) {
	ctx := context.Background()

	t.Run("should allow up to the limit and then deny", func(t *testing.T) {
		rl, _ := newLimiter(t, true)
		for i := 0; i < 3; i++ {
			res, err := rl.Allow(ctx, "acme", 3, time.Minute)
			require.NoError(t, err)
			assert.True(t, res.Allowed, "request %d", i)
			assert.Equal(t, int64(2-i), res.Remaining)
		}
		res, err := rl.Allow(ctx, "acme", 3, time.Minute)
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.False(t, res.Local)
	})

	t.Run("should keep tenants independent", func(t *testing.T) {
		rl, _ := newLimiter(t, true)
		_, _ = rl.Allow(ctx, "acme", 1, time.Minute)
		res, err := rl.Allow(ctx, "globex", 1, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	})

	t.Run("should open a new window after expiry", func(t *testing.T) {
		rl, s := newLimiter(t, true)
		_, _ = rl.Allow(ctx, "acme", 1, time.Minute)
		res, _ := rl.Allow(ctx, "acme", 1, time.Minute)
		assert.False(t, res.Allowed)

		s.FastForward(time.Minute + time.Second)
		res, err := rl.Allow(ctx, "acme", 1, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	})

	t.Run("should reset a counter", func(t *testing.T) {
		rl, _ := newLimiter(t, true)
		_, _ = rl.Allow(ctx, "acme", 1, time.Minute)
		require.NoError(t, rl.Reset(ctx, "acme", time.Minute))
		res, err := rl.Allow(ctx, "acme", 1, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	})

	t.Run("should fall back to local buckets when redis is down", func(t *testing.T) {
		rl, s := newLimiter(t, true)
		s.Close()

		res, err := rl.Allow(ctx, "acme", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Local)
		assert.True(t, res.Allowed)
		res, _ = rl.Allow(ctx, "acme", 2, time.Minute)
		assert.True(t, res.Allowed)
		res, _ = rl.Allow(ctx, "acme", 2, time.Minute)
		assert.False(t, res.Allowed)
	})

	t.Run("should return an error when redis is down without fallback", func(t *testing.T) {
		rl, s := newLimiter(t, false)
		s.Close()

		_, err := rl.Allow(ctx, "acme", 2, time.Minute)
		assert.Error(t, err)
	})
}

func TestLimiterPool(t *testing.T) {
	t.Run("should enforce the burst per key", func(t *testing.T) {
		pool := ratelimit.NewLimiterPool(0.001, 2)
		assert.True(t, pool.Allow("10.0.0.1"))
		assert.True(t, pool.Allow("10.0.0.1"))
		assert.False(t, pool.Allow("10.0.0.1"))
		assert.True(t, pool.Allow("10.0.0.2"))
		assert.Equal(t, 2, pool.Size())
	})

	t.Run("should sweep idle keys", func(t *testing.T) {
		pool := ratelimit.NewLimiterPool(1, 1)
		pool.Allow("10.0.0.1")
		time.Sleep(20 * time.Millisecond)
		pool.Allow("10.0.0.2")

		assert.Equal(t, 1, pool.Cleanup(10*time.Millisecond))
		assert.Equal(t, 1, pool.Size())
	})
}
