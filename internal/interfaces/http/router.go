// Package http wires the gin engine of the broker's HTTP API.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"github.com/nicoladebbia/CredLink-sub020/internal/config"
	domainservice "github.com/nicoladebbia/CredLink-sub020/internal/domain/service"
	"github.com/nicoladebbia/CredLink-sub020/internal/interfaces/http/handlers"
	"github.com/nicoladebbia/CredLink-sub020/internal/interfaces/http/middleware"
	"github.com/nicoladebbia/CredLink-sub020/pkg/constants"
	"github.com/nicoladebbia/CredLink-sub020/pkg/logger"
)

// RouterDeps groups what the router mounts.
type RouterDeps struct {
	Timestamp *handlers.TimestampHandler
	Admin     *handlers.AdminHandler
	Health    *handlers.HealthHandler
	// AdminAuth guards the admin routes.
	AdminAuth middleware.AdminAuthorizer
	// IPLimiter is nil when the global IP limit is disabled.
	IPLimiter middleware.KeyLimiter
	Metrics   domainservice.Metrics
	Tracer    trace.Tracer
}

// Router HTTP 路由器
type Router struct {
	engine *gin.Engine
	config config.ServerConfig
	logger logger.Logger
	deps   RouterDeps
	server *http.Server
}

// NewRouter 创建路由器并注册路由
func NewRouter(cfg config.ServerConfig, deps RouterDeps, log logger.Logger) *Router {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := &Router{
		engine: gin.New(),
		config: cfg,
		logger: log.WithComponent("http"),
		deps:   deps,
	}
	r.setupRoutes()
	return r
}

// setupRoutes 设置路由
func (r *Router) setupRoutes() {
	// 全局中间件
	r.engine.Use(middleware.RequestID())
	r.engine.Use(middleware.Recovery(r.logger))
	r.engine.Use(middleware.Logging(r.logger))
	if r.deps.Tracer != nil {
		r.engine.Use(middleware.Tracing(r.deps.Tracer))
	}

	// CORS 配置
	if len(r.config.AllowedOrigins) > 0 {
		r.engine.Use(cors.New(cors.Config{
			AllowOrigins:  r.config.AllowedOrigins,
			AllowMethods:  []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Type", constants.HeaderAuthorization, constants.HeaderAPIKey, constants.HeaderRequestID},
			ExposeHeaders: []string{constants.HeaderRequestID, constants.HeaderRetryAfter},
			MaxAge:        12 * time.Hour,
		}))
	}

	// 健康检查路由（不需要认证）
	r.engine.GET("/health", r.deps.Health.HealthCheck)
	r.engine.GET("/health/live", r.deps.Health.LivenessCheck)
	r.engine.GET("/health/ready", r.deps.Health.ReadinessCheck)

	if r.config.EnablePprof && r.config.Environment != "production" {
		pprof.Register(r.engine)
	}

	limited := r.engine.Group("")
	if r.deps.IPLimiter != nil {
		limited.Use(middleware.IPRateLimit(r.deps.IPLimiter, r.deps.Metrics, r.logger))
	}

	limited.GET("/metrics", r.deps.Timestamp.Metrics)

	tsa := limited.Group("/tsa")
	{
		tsa.POST("/sign", r.deps.Timestamp.Sign)
		tsa.GET("/status", r.deps.Timestamp.Status)
		tsa.GET("/policy/:tenant_id", r.deps.Timestamp.Policy)
	}

	admin := tsa.Group("", middleware.AdminAuth(r.deps.AdminAuth))
	{
		admin.POST("/queue/drain", r.deps.Admin.Drain)
		admin.GET("/admin/policy/:tenant_id", r.deps.Admin.Policy)
	}

	// 404 处理
	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   constants.MsgNotFound,
		})
	})
}

// Handler returns the gin engine.
func (r *Router) Handler() http.Handler {
	return r.engine
}

// Start 启动 HTTP 服务器，阻塞直到服务器关闭
func (r *Router) Start() error {
	addr := r.config.HTTPAddress()
	r.server = &http.Server{
		Addr:              addr,
		Handler:           r.engine,
		ReadTimeout:       r.config.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      r.config.WriteTimeout,
		IdleTimeout:       r.config.IdleTimeout,
		MaxHeaderBytes:    1 << 20,
	}

	r.logger.Info(context.Background(), "Starting HTTP server", logger.String("address", addr))
	if err := r.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop 停止 HTTP 服务器
func (r *Router) Stop(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	r.logger.Info(ctx, "Stopping HTTP server...")
	return r.server.Shutdown(ctx)
}
