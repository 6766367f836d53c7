// Package ratelimit provides the global IP limiter and the tenant window limiter.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nicoladebbia/CredLink-sub020/pkg/logger"
)

// LimiterPool keeps one token bucket per key and forgets keys that stay idle.
type LimiterPool struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	r        rate.Limit
	b        int
	now      func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// NewLimiterPool creates a pool whose buckets refill at r tokens per second with burst b.
func NewLimiterPool(r float64, b int) *LimiterPool {
	if b < 1 {
		b = 1
	}
	return &LimiterPool{
		limiters: make(map[string]*limiterEntry),
		r:        rate.Limit(r),
		b:        b,
		now:      time.Now,
	}
}

// Allow consumes one token for key.
func (p *LimiterPool) Allow(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	entry, exists := p.limiters[key]
	if !exists {
		entry = &limiterEntry{limiter: rate.NewLimiter(p.r, p.b)}
		p.limiters[key] = entry
	}
	entry.lastUsed = now
	return entry.limiter.AllowN(now, 1)
}

// Cleanup removes buckets idle for longer than maxIdle and returns how many were dropped.
func (p *LimiterPool) Cleanup(maxIdle time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	removed := 0
	for key, entry := range p.limiters {
		if now.Sub(entry.lastUsed) > maxIdle {
			delete(p.limiters, key)
			removed++
		}
	}
	return removed
}

// Size returns the number of tracked keys.
func (p *LimiterPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.limiters)
}

// RunSweeper calls Cleanup every interval until ctx is done.
func (p *LimiterPool) RunSweeper(ctx context.Context, interval, maxIdle time.Duration, log logger.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := p.Cleanup(maxIdle); removed > 0 {
				log.Debug(ctx, "Swept idle rate limiters",
					logger.Int("removed", removed),
					logger.Int("remaining", p.Size()),
				)
			}
		}
	}
}
