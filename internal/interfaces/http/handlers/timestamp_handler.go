// Package handlers holds the gin handlers of the broker's HTTP API.
package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nicoladebbia/CredLink-sub020/internal/application/dto"
	"github.com/nicoladebbia/CredLink-sub020/internal/application/service"
	"github.com/nicoladebbia/CredLink-sub020/internal/interfaces/http/middleware"
	"github.com/nicoladebbia/CredLink-sub020/pkg/constants"
	"github.com/nicoladebbia/CredLink-sub020/pkg/errors"
	"github.com/nicoladebbia/CredLink-sub020/pkg/logger"
)

// TimestampHandler serves the tenant-facing endpoints.
// TimestampHandler 处理面向租户的接口。
type TimestampHandler struct {
	app     service.TimestampAppService
	metrics http.Handler
	logger  logger.Logger
}

// NewTimestampHandler creates a handler. metrics serves the Prometheus exposition.
func NewTimestampHandler(app service.TimestampAppService, metrics http.Handler, log logger.Logger) *TimestampHandler {
	return &TimestampHandler{
		app:     app,
		metrics: metrics,
		logger:  log.WithComponent("timestamp_handler"),
	}
}

// Sign handles POST /tsa/sign.
func (h *TimestampHandler) Sign(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, constants.MaxSignBodyBytes+1))
	if err != nil {
		dto.SendError(c, errors.ErrValidation(constants.MsgMalformedBody, ""))
		return
	}

	resp, err := h.app.Sign(c.Request.Context(), middleware.APIKey(c), body)
	if err != nil {
		h.logIfInternal(c, err)
		dto.SendError(c, err)
		return
	}
	dto.SendSuccess(c, resp)
}

// Status handles GET /tsa/status.
func (h *TimestampHandler) Status(c *gin.Context) {
	resp, err := h.app.Status(c.Request.Context(), middleware.APIKey(c))
	if err != nil {
		dto.SendError(c, err)
		return
	}
	dto.SendSuccess(c, resp)
}

// Policy handles GET /tsa/policy/:tenant_id.
func (h *TimestampHandler) Policy(c *gin.Context) {
	resp, err := h.app.GetPolicy(c.Request.Context(), middleware.APIKey(c), c.Param("tenant_id"))
	if err != nil {
		h.logIfInternal(c, err)
		dto.SendError(c, err)
		return
	}
	dto.SendSuccess(c, resp)
}

// Metrics handles GET /metrics.
func (h *TimestampHandler) Metrics(c *gin.Context) {
	if err := h.app.AuthorizeMetrics(c.Request.Context(), middleware.APIKey(c)); err != nil {
		dto.SendError(c, err)
		return
	}
	h.metrics.ServeHTTP(c.Writer, c.Request)
}

func (h *TimestampHandler) logIfInternal(c *gin.Context, err error) {
	if errors.ShouldLogError(err) {
		h.logger.Error(c.Request.Context(), "Request failed with internal error", err,
			logger.String("path", c.FullPath()),
		)
	}
}
