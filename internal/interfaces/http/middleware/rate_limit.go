package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/nicoladebbia/CredLink-sub020/internal/application/dto"
	"github.com/nicoladebbia/CredLink-sub020/internal/domain/service"
	"github.com/nicoladebbia/CredLink-sub020/pkg/constants"
	"github.com/nicoladebbia/CredLink-sub020/pkg/errors"
	"github.com/nicoladebbia/CredLink-sub020/pkg/logger"
)

// KeyLimiter is a per-key token bucket pool.
type KeyLimiter interface {
	Allow(key string) bool
}

// IPRateLimit applies the global per-client-IP limit before any other work.
func IPRateLimit(limiter KeyLimiter, metrics service.Metrics, log logger.Logger) gin.HandlerFunc {
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !limiter.Allow(ip) {
			metrics.RecordRateLimitHit(constants.RateLimitScopeIP)
			log.Warn(c.Request.Context(), "IP rate limit exceeded", logger.String("client_ip", ip))
			dto.SendError(c, errors.ErrRateLimit(constants.RateLimitScopeIP))
			return
		}
		c.Next()
	}
}
