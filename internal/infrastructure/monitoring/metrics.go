package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nicoladebbia/CredLink-sub020/internal/domain/service"
	"github.com/nicoladebbia/CredLink-sub020/pkg/constants"
)

const namespace = "tsa"

// Metrics manages the Prometheus metrics of the broker.
// Metrics 管理代理的 Prometheus 指标。
type Metrics struct {
	registry *prometheus.Registry

	SignRequests         *prometheus.CounterVec
	ProviderCalls        *prometheus.CounterVec
	ProviderCallDuration *prometheus.HistogramVec
	QueueExpired         prometheus.Counter
	RateLimitHits        *prometheus.CounterVec
}

var _ service.Metrics = (*Metrics)(nil)

// NewMetrics creates the metrics on a private registry that also carries the Go and
// process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		SignRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sign_requests_total",
				Help:      "Total number of sign requests by outcome.",
			},
			[]string{"outcome"},
		),
		ProviderCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_calls_total",
				Help:      "Total number of upstream provider calls.",
			},
			[]string{"provider", "result"},
		),
		ProviderCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_call_duration_seconds",
				Help:      "Latency of upstream provider calls.",
				Buckets:   []float64{.025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"provider"},
		),
		QueueExpired: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queue_expired_total",
				Help:      "Total number of queued requests dropped by TTL expiry.",
			},
		),
		RateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Total number of rate limit hits.",
			},
			[]string{"scope"},
		),
	}
}

// Registry returns the registry backing the metrics.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordSignRequest counts a finished sign request.
func (m *Metrics) RecordSignRequest(outcome string) {
	m.SignRequests.WithLabelValues(outcome).Inc()
}

// RecordProviderCall records one upstream call.
func (m *Metrics) RecordProviderCall(providerID string, success bool, duration time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.ProviderCalls.WithLabelValues(providerID, result).Inc()
	m.ProviderCallDuration.WithLabelValues(providerID).Observe(duration.Seconds())
}

// RecordQueueExpired counts expired queue entries.
func (m *Metrics) RecordQueueExpired(count int) {
	m.QueueExpired.Add(float64(count))
}

// RecordRateLimitHit records a rate limit hit.
func (m *Metrics) RecordRateLimitHit(scope constants.RateLimitScope) {
	m.RateLimitHits.WithLabelValues(string(scope)).Inc()
}
