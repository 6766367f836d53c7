package service

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/nicoladebbia/CredLink-sub020/internal/domain/models"
)

// ProviderRegistry holds the configured providers in priority order and their current
// health records. Health records are swapped as whole values; readers never lock.
// ProviderRegistry 按优先级保存已配置的提供方及其当前健康记录。
// 健康记录整体原子替换，读取方无需加锁。
type ProviderRegistry struct {
	providers []*models.Provider
	byID      map[string]*models.Provider
	health    map[string]*atomic.Pointer[models.ProviderHealth]
}

// NewProviderRegistry builds a registry with every provider starting healthy.
func NewProviderRegistry(providers []models.Provider) *ProviderRegistry {
	r := &ProviderRegistry{
		providers: make([]*models.Provider, 0, len(providers)),
		byID:      make(map[string]*models.Provider, len(providers)),
		health:    make(map[string]*atomic.Pointer[models.ProviderHealth], len(providers)),
	}
	for i := range providers {
		p := providers[i]
		r.providers = append(r.providers, &p)
		r.byID[p.ID] = &p
		ptr := &atomic.Pointer[models.ProviderHealth]{}
		ptr.Store(models.NewProviderHealth(models.HealthStateHealthy, 0, time.Time{}, 0))
		r.health[p.ID] = ptr
	}
	sort.SliceStable(r.providers, func(i, j int) bool {
		return r.providers[i].Priority < r.providers[j].Priority
	})
	return r
}

// Providers returns the providers in priority order.
func (r *ProviderRegistry) Providers() []*models.Provider {
	out := make([]*models.Provider, len(r.providers))
	copy(out, r.providers)
	return out
}

// Get looks a provider up by id.
func (r *ProviderRegistry) Get(id string) (*models.Provider, bool) {
	p, ok := r.byID[id]
	return p, ok
}

// Health returns the current health record of a provider.
func (r *ProviderRegistry) Health(id string) (*models.ProviderHealth, bool) {
	ptr, ok := r.health[id]
	if !ok {
		return nil, false
	}
	return ptr.Load(), true
}

// Select returns the best provider for req. Unhealthy, excluded and incapable providers are
// skipped; healthy beats degraded, then lower latency wins, then priority order.
// Select 为请求返回最合适的提供方。跳过不健康、已排除和能力不足的提供方；
// 健康优先于降级，其次延迟更低者优先，最后按优先级顺序。
func (r *ProviderRegistry) Select(req *models.TimestampRequest, exclude map[string]struct{}) (*models.Provider, error) {
	var (
		best       *models.Provider
		bestHealth *models.ProviderHealth
	)
	for _, p := range r.providers {
		if _, skip := exclude[p.ID]; skip {
			continue
		}
		h := r.health[p.ID].Load()
		if !h.Selectable() {
			continue
		}
		if req != nil && !p.Capabilities.Supports(req) {
			continue
		}
		if best == nil || better(h, bestHealth) {
			best, bestHealth = p, h
		}
	}
	if best == nil {
		return nil, ErrNoHealthyProvider
	}
	return best, nil
}

// better reports whether a strictly outranks b. Equal records keep the earlier priority.
func better(a, b *models.ProviderHealth) bool {
	if a.State != b.State {
		return a.State < b.State
	}
	return a.LatencyMs < b.LatencyMs
}

// HasAvailable reports whether any provider is selectable.
func (r *ProviderRegistry) HasAvailable() bool {
	for _, p := range r.providers {
		if r.health[p.ID].Load().Selectable() {
			return true
		}
	}
	return false
}

// Snapshot returns provider and health pairs in priority order.
func (r *ProviderRegistry) Snapshot() []models.ProviderStatus {
	out := make([]models.ProviderStatus, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, models.ProviderStatus{
			Provider: *p,
			Health:   *r.health[p.ID].Load(),
		})
	}
	return out
}

// update replaces a provider's health record with next(current), retrying on contention.
// It returns the previous and new records.
func (r *ProviderRegistry) update(id string, next func(cur *models.ProviderHealth) *models.ProviderHealth) (prev, cur *models.ProviderHealth, ok bool) {
	ptr, ok := r.health[id]
	if !ok {
		return nil, nil, false
	}
	for {
		old := ptr.Load()
		n := next(old)
		if ptr.CompareAndSwap(old, n) {
			return old, n, true
		}
	}
}
