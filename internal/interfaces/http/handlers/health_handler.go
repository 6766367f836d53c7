package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nicoladebbia/CredLink-sub020/internal/application/dto"
	"github.com/nicoladebbia/CredLink-sub020/pkg/logger"
)

const checkTimeout = 3 * time.Second

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// HealthHandler provides health check endpoints.
type HealthHandler struct {
	checks map[string]HealthCheck
	ready  func() bool
	log    logger.Logger
}

// NewHealthHandler creates a handler. ready gates readiness, typically on provider
// availability.
func NewHealthHandler(checks map[string]HealthCheck, ready func() bool, log logger.Logger) *HealthHandler {
	if ready == nil {
		ready = func() bool { return true }
	}
	return &HealthHandler{checks: checks, ready: ready, log: log}
}

// LivenessCheck answers as long as the process serves HTTP.
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, dto.HealthResponse{Status: "ok", Timestamp: time.Now().UTC().Format(time.RFC3339)})
}

// HealthCheck runs every dependency check.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	checks := h.performChecks(c.Request.Context())
	status, code := "healthy", http.StatusOK
	for _, result := range checks {
		if result != "ok" {
			status, code = "degraded", http.StatusServiceUnavailable
			break
		}
	}
	c.JSON(code, dto.HealthResponse{Status: status, Checks: checks, Timestamp: time.Now().UTC().Format(time.RFC3339)})
}

// ReadinessCheck also requires at least one selectable provider.
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	checks := h.performChecks(c.Request.Context())
	if h.ready() {
		checks["providers"] = "ok"
	} else {
		checks["providers"] = "no healthy provider"
	}

	status, code := "ready", http.StatusOK
	for _, result := range checks {
		if result != "ok" {
			status, code = "not_ready", http.StatusServiceUnavailable
			break
		}
	}
	c.JSON(code, dto.HealthResponse{Status: status, Checks: checks, Timestamp: time.Now().UTC().Format(time.RFC3339)})
}

func (h *HealthHandler) performChecks(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	results := make(map[string]string, len(h.checks)+1)
	for name, check := range h.checks {
		wg.Add(1)
		go func(name string, check HealthCheck) {
			defer wg.Done()
			status := "ok"
			if err := check(ctx); err != nil {
				status = "error: " + err.Error()
				h.log.Warn(ctx, "Health check failed", logger.String("check", name), logger.Error(err))
			}
			mu.Lock()
			results[name] = status
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()
	return results
}
