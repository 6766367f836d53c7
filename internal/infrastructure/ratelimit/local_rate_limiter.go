package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// LocalRateLimiter approximates per-window budgets with in-process token buckets. It
// serves single-instance deployments and the Redis limiter's fallback path.
type LocalRateLimiter struct {
	mu    sync.Mutex
	pools map[string]*LimiterPool
}

// NewLocalRateLimiter creates an empty local limiter.
func NewLocalRateLimiter() *LocalRateLimiter {
	return &LocalRateLimiter{pools: make(map[string]*LimiterPool)}
}

// Allow consumes one unit of identifier's budget of limit requests per window.
func (l *LocalRateLimiter) Allow(_ context.Context, identifier string, limit int64, window time.Duration) (*RateLimitResult, error) {
	if limit <= 0 || window <= 0 {
		return &RateLimitResult{Allowed: true, Limit: limit, Local: true}, nil
	}
	name := fmt.Sprintf("%d/%s", limit, window)

	l.mu.Lock()
	pool, ok := l.pools[name]
	if !ok {
		pool = NewLimiterPool(float64(limit)/window.Seconds(), int(limit))
		l.pools[name] = pool
	}
	l.mu.Unlock()

	return &RateLimitResult{
		Allowed: pool.Allow(identifier),
		Limit:   limit,
		Local:   true,
	}, nil
}

// Cleanup drops idle buckets and returns how many were removed.
func (l *LocalRateLimiter) Cleanup(maxIdle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for name, pool := range l.pools {
		removed += pool.Cleanup(maxIdle)
		if pool.Size() == 0 {
			delete(l.pools, name)
		}
	}
	return removed
}
