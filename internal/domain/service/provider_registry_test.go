package service_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicoladebbia/CredLink-sub020/internal/domain/models"
	"github.com/nicoladebbia/CredLink-sub020/internal/domain/service"
	"github.com/nicoladebbia/CredLink-sub020/internal/domain/service/mocks"
	"github.com/nicoladebbia/CredLink-sub020/pkg/logger"
)

func testProviders(ids ...string) []models.Provider {
	out := make([]models.Provider, 0, len(ids))
	for i, id := range ids {
		out = append(out, models.Provider{ID: id, URL: "http://" + id + ".example/tsa", Priority: i + 1})
	}
	return out
}

func sha256Request(tenant string) *models.TimestampRequest {
	return models.NewTimestampRequest(make([]byte, 32), models.HashSHA256, "", nil, tenant)
}

func newMonitor(registry *service.ProviderRegistry) *service.HealthMonitor {
	return service.NewHealthMonitor(registry, &mocks.MockProviderClient{}, service.HealthMonitorConfig{
		ProbeInterval:  time.Hour,
		ProbeTimeout:   time.Second,
		DegradeAfter:   2,
		UnhealthyAfter: 2,
	}, logger.NewNoopLogger())
}

func TestProviderRegistry_Select(t *testing.T) {
	t.Run("should prefer priority order when health is equal", func(t *testing.T) {
		registry := service.NewProviderRegistry([]models.Provider{
			{ID: "b", Priority: 2},
			{ID: "a", Priority: 1},
		})
		p, err := registry.Select(sha256Request("acme"), nil)
		require.NoError(t, err)
		assert.Equal(t, "a", p.ID)
	})

	t.Run("should prefer lower latency among healthy providers", func(t *testing.T) {
		registry := service.NewProviderRegistry(testProviders("a", "b"))
		monitor := newMonitor(registry)
		monitor.RecordProbe("a", 80*time.Millisecond, nil)
		monitor.RecordProbe("b", 20*time.Millisecond, nil)

		p, err := registry.Select(sha256Request("acme"), nil)
		require.NoError(t, err)
		assert.Equal(t, "b", p.ID)
	})

	t.Run("should prefer healthy over degraded regardless of latency", func(t *testing.T) {
		registry := service.NewProviderRegistry(testProviders("a", "b"))
		monitor := newMonitor(registry)
		monitor.RecordProbe("a", 5*time.Millisecond, nil)
		monitor.RecordProbe("b", 90*time.Millisecond, nil)
		monitor.ReportFailure("a", errors.New("boom"))

		p, err := registry.Select(sha256Request("acme"), nil)
		require.NoError(t, err)
		assert.Equal(t, "b", p.ID)
	})

	t.Run("should skip excluded providers", func(t *testing.T) {
		registry := service.NewProviderRegistry(testProviders("a", "b"))
		p, err := registry.Select(sha256Request("acme"), map[string]struct{}{"a": {}})
		require.NoError(t, err)
		assert.Equal(t, "b", p.ID)
	})

	t.Run("should skip providers that cannot serve the hash algorithm", func(t *testing.T) {
		registry := service.NewProviderRegistry([]models.Provider{
			{ID: "a", Priority: 1, Capabilities: models.ProviderCapabilities{HashAlgorithms: []models.HashAlgorithm{models.HashSHA384}}},
			{ID: "b", Priority: 2},
		})
		p, err := registry.Select(sha256Request("acme"), nil)
		require.NoError(t, err)
		assert.Equal(t, "b", p.ID)
	})

	t.Run("should return ErrNoHealthyProvider when all are unhealthy", func(t *testing.T) {
		registry := service.NewProviderRegistry(testProviders("a", "b"))
		monitor := newMonitor(registry)
		for _, id := range []string{"a", "b"} {
			monitor.ReportFailure(id, errors.New("down"))
			monitor.ReportFailure(id, errors.New("down"))
		}

		_, err := registry.Select(sha256Request("acme"), nil)
		assert.ErrorIs(t, err, service.ErrNoHealthyProvider)
		assert.False(t, registry.HasAvailable())
	})
}

func TestProviderRegistry_NeverSelectsUnhealthyUnderConcurrency(t *testing.T) {
	registry := service.NewProviderRegistry(testProviders("dead", "flaky", "steady"))
	monitor := newMonitor(registry)
	monitor.ReportFailure("dead", errors.New("down"))
	monitor.ReportFailure("dead", errors.New("down"))

	stop := make(chan struct{})
	var flipper sync.WaitGroup
	flipper.Add(1)
	go func() {
		defer flipper.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			monitor.ReportFailure("flaky", errors.New("down"))
			monitor.ReportFailure("flaky", errors.New("down"))
			monitor.RecordProbe("flaky", time.Millisecond, nil)
		}
	}()

	var wg sync.WaitGroup
	var mu sync.Mutex
	selectedDead := 0
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := sha256Request("acme")
			for i := 0; i < 2000; i++ {
				p, err := registry.Select(req, nil)
				if err == nil && p.ID == "dead" {
					mu.Lock()
					selectedDead++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	close(stop)
	flipper.Wait()

	assert.Zero(t, selectedDead)
}

func TestProviderRegistry_Snapshot(t *testing.T) {
	registry := service.NewProviderRegistry([]models.Provider{
		{ID: "b", Priority: 2},
		{ID: "a", Priority: 1},
	})
	snap := registry.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].Provider.ID)
	assert.True(t, snap[0].Health.Healthy)
	assert.Equal(t, models.HealthStateHealthy, snap[1].Health.State)
}
