package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nicoladebbia/CredLink-sub020/internal/domain/models"
	"github.com/nicoladebbia/CredLink-sub020/internal/domain/service"
)

// ProviderSnapshotter returns the current provider health records.
type ProviderSnapshotter interface {
	Snapshot() []models.ProviderStatus
}

// QueueStatter returns scheduler occupancy.
type QueueStatter interface {
	Stats() service.SchedulerStats
}

// StatusCollector reads provider health and queue occupancy at scrape time.
type StatusCollector struct {
	providers ProviderSnapshotter
	queue     QueueStatter
	startedAt time.Time

	healthy  *prometheus.Desc
	state    *prometheus.Desc
	latency  *prometheus.Desc
	depth    *prometheus.Desc
	inFlight *prometheus.Desc
	uptime   *prometheus.Desc
}

// NewStatusCollector creates a collector.
func NewStatusCollector(providers ProviderSnapshotter, queue QueueStatter, startedAt time.Time) *StatusCollector {
	return &StatusCollector{
		providers: providers,
		queue:     queue,
		startedAt: startedAt,
		healthy: prometheus.NewDesc(prometheus.BuildFQName(namespace, "provider", "healthy"),
			"1 when the provider is healthy.", []string{"provider"}, nil),
		state: prometheus.NewDesc(prometheus.BuildFQName(namespace, "provider", "state"),
			"Provider health state: 0 healthy, 1 degraded, 2 unhealthy.", []string{"provider"}, nil),
		latency: prometheus.NewDesc(prometheus.BuildFQName(namespace, "provider", "latency_ms"),
			"Last observed provider latency in milliseconds.", []string{"provider"}, nil),
		depth: prometheus.NewDesc(prometheus.BuildFQName(namespace, "queue", "depth"),
			"Number of queued sign requests.", nil, nil),
		inFlight: prometheus.NewDesc(prometheus.BuildFQName(namespace, "dispatch", "in_flight"),
			"Number of dispatches in flight.", nil, nil),
		uptime: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "uptime_seconds"),
			"Seconds since the broker started.", nil, nil),
	}
}

// Register adds the collector to m's registry.
func (c *StatusCollector) Register(m *Metrics) error {
	return m.Registry().Register(c)
}

// Describe implements prometheus.Collector.
func (c *StatusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.healthy
	ch <- c.state
	ch <- c.latency
	ch <- c.depth
	ch <- c.inFlight
	ch <- c.uptime
}

// Collect implements prometheus.Collector.
func (c *StatusCollector) Collect(ch chan<- prometheus.Metric) {
	for _, st := range c.providers.Snapshot() {
		healthy := 0.0
		if st.Health.Healthy {
			healthy = 1
		}
		ch <- prometheus.MustNewConstMetric(c.healthy, prometheus.GaugeValue, healthy, st.Provider.ID)
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, stateValue(st.Health.State), st.Provider.ID)
		ch <- prometheus.MustNewConstMetric(c.latency, prometheus.GaugeValue, float64(st.Health.LatencyMs), st.Provider.ID)
	}

	stats := c.queue.Stats()
	ch <- prometheus.MustNewConstMetric(c.depth, prometheus.GaugeValue, float64(stats.QueueDepth))
	ch <- prometheus.MustNewConstMetric(c.inFlight, prometheus.GaugeValue, float64(stats.InFlight))
	ch <- prometheus.MustNewConstMetric(c.uptime, prometheus.GaugeValue, time.Since(c.startedAt).Seconds())
}

func stateValue(s models.HealthState) float64 {
	switch s {
	case models.HealthStateHealthy:
		return 0
	case models.HealthStateDegraded:
		return 1
	default:
		return 2
	}
}
