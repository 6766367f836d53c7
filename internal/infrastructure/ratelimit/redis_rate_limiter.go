package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nicoladebbia/CredLink-sub020/pkg/logger"
)

// RedisRateLimiter enforces fixed-window request budgets shared across broker instances.
// When Redis is unreachable it can fall back to per-process token buckets.
type RedisRateLimiter struct {
	client redis.UniversalClient
	logger logger.Logger
	config *RateLimiterConfig

	fallback *LocalRateLimiter
}

// RateLimiterConfig holds rate limiter configuration.
type RateLimiterConfig struct {
	// EnableLocalFallback serves decisions from local buckets while Redis is down
	EnableLocalFallback bool
	// KeyPrefix is the Redis key prefix
	KeyPrefix string
}

// RateLimitResult represents the result of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   time.Time
	// Local is true when the decision came from the in-process fallback
	Local bool
}

// fixedWindowScript increments the window counter and starts its expiry on first use.
var fixedWindowScript = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
    ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// DefaultRateLimiterConfig returns default rate limiter configuration.
func DefaultRateLimiterConfig() *RateLimiterConfig {
	return &RateLimiterConfig{
		EnableLocalFallback: true,
		KeyPrefix:           "tsa:ratelimit",
	}
}

// NewRedisRateLimiter creates a new Redis-based rate limiter.
func NewRedisRateLimiter(client redis.UniversalClient, config *RateLimiterConfig, log logger.Logger) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if config == nil {
		config = DefaultRateLimiterConfig()
	}

	rl := &RedisRateLimiter{
		client:   client,
		logger:   log.WithComponent("redis_rate_limiter"),
		config:   config,
		fallback: NewLocalRateLimiter(),
	}

	rl.logger.Info(context.Background(), "Redis rate limiter initialized",
		logger.String("key_prefix", config.KeyPrefix),
		logger.Bool("local_fallback", config.EnableLocalFallback),
	)
	return rl, nil
}

// Allow consumes one unit of identifier's budget of limit requests per window.
func (rl *RedisRateLimiter) Allow(ctx context.Context, identifier string, limit int64, window time.Duration) (*RateLimitResult, error) {
	if limit <= 0 || window <= 0 {
		return &RateLimitResult{Allowed: true, Limit: limit}, nil
	}

	key := rl.buildKey(identifier, window)
	vals, err := fixedWindowScript.Run(ctx, rl.client, []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil || len(vals) != 2 {
		if err == nil {
			err = fmt.Errorf("unexpected script reply of length %d", len(vals))
		}
		if !rl.config.EnableLocalFallback {
			rl.logger.Error(ctx, "Rate limit check failed", err, logger.String("identifier", identifier))
			return nil, fmt.Errorf("rate limit check failed: %w", err)
		}
		rl.logger.Warn(ctx, "Redis unavailable, using local rate limit fallback",
			logger.String("identifier", identifier),
			logger.Error(err),
		)
		return rl.fallback.Allow(ctx, identifier, limit, window)
	}

	count, ttl := vals[0], vals[1]
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return &RateLimitResult{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   time.Now().Add(time.Duration(ttl) * time.Millisecond),
	}, nil
}

// Reset clears identifier's counter for the window.
func (rl *RedisRateLimiter) Reset(ctx context.Context, identifier string, window time.Duration) error {
	return rl.client.Del(ctx, rl.buildKey(identifier, window)).Err()
}

// CleanupFallback drops idle local buckets and returns how many were removed.
func (rl *RedisRateLimiter) CleanupFallback(maxIdle time.Duration) int {
	return rl.fallback.Cleanup(maxIdle)
}

func (rl *RedisRateLimiter) buildKey(identifier string, window time.Duration) string {
	return fmt.Sprintf("%s:%s:%d", rl.config.KeyPrefix, identifier, window.Milliseconds())
}
