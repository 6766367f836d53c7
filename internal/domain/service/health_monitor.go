package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nicoladebbia/CredLink-sub020/internal/domain/models"
	"github.com/nicoladebbia/CredLink-sub020/pkg/logger"
)

// HealthMonitorConfig controls probing and state thresholds.
type HealthMonitorConfig struct {
	ProbeInterval  time.Duration
	ProbeTimeout   time.Duration
	DegradeAfter   int
	UnhealthyAfter int
}

// HealthChangeListener is notified whenever a provider changes health state.
type HealthChangeListener func(providerID string, from, to models.HealthState)

// HealthMonitor is the only writer of provider health records. It probes every provider on
// a fixed interval and folds in live-dispatch outcomes reported by the engine.
// HealthMonitor 是提供方健康记录的唯一写入者。它按固定间隔探测所有提供方，
// 并合并引擎上报的实时调度结果。
type HealthMonitor struct {
	registry *ProviderRegistry
	client   ProviderClient
	cfg      HealthMonitorConfig
	log      logger.Logger
	now      func() time.Time

	mu        sync.RWMutex
	listeners []HealthChangeListener

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

var _ HealthReporter = (*HealthMonitor)(nil)

// NewHealthMonitor creates a monitor. Start must be called to begin probing.
func NewHealthMonitor(registry *ProviderRegistry, client ProviderClient, cfg HealthMonitorConfig, log logger.Logger) *HealthMonitor {
	if cfg.DegradeAfter < 1 {
		cfg.DegradeAfter = 1
	}
	if cfg.UnhealthyAfter < 1 {
		cfg.UnhealthyAfter = 1
	}
	return &HealthMonitor{
		registry: registry,
		client:   client,
		cfg:      cfg,
		log:      log.WithComponent("health_monitor"),
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// OnChange registers a state change listener.
func (m *HealthMonitor) OnChange(l HealthChangeListener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()
}

// Start runs the probe loop in a single goroutine until ctx is done or Stop is called.
func (m *HealthMonitor) Start(ctx context.Context) {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.cfg.ProbeInterval)
		defer ticker.Stop()

		m.RunOnce(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				m.RunOnce(ctx)
			}
		}
	}()
}

// Stop ends the probe loop and waits for it to exit.
func (m *HealthMonitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
	if m.started.Load() {
		<-m.done
	}
}

// RunOnce probes every provider concurrently, each bounded by the probe timeout.
func (m *HealthMonitor) RunOnce(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range m.registry.Providers() {
		p := p
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, m.cfg.ProbeTimeout)
			defer cancel()
			latency, err := m.client.Probe(pctx, p)
			m.RecordProbe(p.ID, latency, err)
			return nil
		})
	}
	_ = g.Wait()
}

// RecordProbe folds a probe outcome into the provider's record. A successful probe always
// restores Healthy; failures degrade and then disable the provider once the configured
// thresholds of consecutive failures are reached.
// RecordProbe 将探测结果合并到提供方记录中。成功的探测总是恢复为健康；
// 连续失败达到阈值后先降级，再标记为不健康。
func (m *HealthMonitor) RecordProbe(providerID string, latency time.Duration, probeErr error) {
	now := m.now()
	prev, cur, ok := m.registry.update(providerID, func(old *models.ProviderHealth) *models.ProviderHealth {
		if probeErr == nil {
			return models.NewProviderHealth(models.HealthStateHealthy, latency.Milliseconds(), now, 0)
		}
		failures := old.ConsecutiveFailures + 1
		state := old.State
		if s := m.stateForFailures(failures); s > state {
			state = s
		}
		return models.NewProviderHealth(state, old.LatencyMs, now, failures)
	})
	if !ok {
		return
	}
	if probeErr != nil {
		m.log.Debug(context.Background(), "Provider probe failed",
			logger.String("provider_id", providerID),
			logger.Int("consecutive_failures", cur.ConsecutiveFailures),
			logger.Error(probeErr),
		)
	}
	m.notify(providerID, prev, cur)
}

// ReportSuccess records a successful live call. It refreshes latency and clears the failure
// count but never promotes the state; only probes do that.
func (m *HealthMonitor) ReportSuccess(providerID string, latency time.Duration) {
	now := m.now()
	m.registry.update(providerID, func(old *models.ProviderHealth) *models.ProviderHealth {
		return models.NewProviderHealth(old.State, latency.Milliseconds(), now, 0)
	})
}

// ReportFailure demotes the provider one level immediately.
func (m *HealthMonitor) ReportFailure(providerID string, cause error) {
	now := m.now()
	prev, cur, ok := m.registry.update(providerID, func(old *models.ProviderHealth) *models.ProviderHealth {
		return models.NewProviderHealth(old.State.Demote(), old.LatencyMs, now, old.ConsecutiveFailures+1)
	})
	if !ok {
		return
	}
	m.log.Warn(context.Background(), "Live dispatch failure reported",
		logger.String("provider_id", providerID),
		logger.String("state", cur.State.String()),
		logger.Error(cause),
	)
	m.notify(providerID, prev, cur)
}

func (m *HealthMonitor) stateForFailures(failures int) models.HealthState {
	switch {
	case failures >= m.cfg.DegradeAfter+m.cfg.UnhealthyAfter:
		return models.HealthStateUnhealthy
	case failures >= m.cfg.DegradeAfter:
		return models.HealthStateDegraded
	default:
		return models.HealthStateHealthy
	}
}

func (m *HealthMonitor) notify(providerID string, prev, cur *models.ProviderHealth) {
	if prev.State == cur.State {
		return
	}
	m.log.Info(context.Background(), "Provider health changed",
		logger.String("provider_id", providerID),
		logger.String("from", prev.State.String()),
		logger.String("to", cur.State.String()),
	)
	m.mu.RLock()
	listeners := append([]HealthChangeListener(nil), m.listeners...)
	m.mu.RUnlock()
	for _, l := range listeners {
		l(providerID, prev.State, cur.State)
	}
}
