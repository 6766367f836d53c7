package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	appservice "github.com/nicoladebbia/CredLink-sub020/internal/application/service"
	"github.com/nicoladebbia/CredLink-sub020/internal/config"
	domainservice "github.com/nicoladebbia/CredLink-sub020/internal/domain/service"
	"github.com/nicoladebbia/CredLink-sub020/internal/infrastructure/identity"
	"github.com/nicoladebbia/CredLink-sub020/internal/infrastructure/monitoring"
	"github.com/nicoladebbia/CredLink-sub020/internal/infrastructure/persistence/redis"
	"github.com/nicoladebbia/CredLink-sub020/internal/infrastructure/provider"
	"github.com/nicoladebbia/CredLink-sub020/internal/infrastructure/ratelimit"
	grpcserver "github.com/nicoladebbia/CredLink-sub020/internal/interfaces/grpc"
	tsahttp "github.com/nicoladebbia/CredLink-sub020/internal/interfaces/http"
	"github.com/nicoladebbia/CredLink-sub020/internal/interfaces/http/handlers"
	"github.com/nicoladebbia/CredLink-sub020/internal/interfaces/http/middleware"
	"github.com/nicoladebbia/CredLink-sub020/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configDir := flag.String("config", "", "directory containing config.yaml")
	flag.Parse()
	startedAt := time.Now()

	// Logger for startup
	startupLogger, err := monitoring.NewZapLogger(config.LogConfig{Level: "info", Format: "json"})
	if err != nil {
		log.Fatalf("Failed to create startup logger: %v", err)
	}

	// Load config
	var paths []string
	if *configDir != "" {
		paths = append(paths, *configDir)
	}
	cfg, v, err := config.LoadConfig(startupLogger, paths...)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	zapLogger, err := monitoring.NewZapLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = zapLogger.Sync() }()
	var appLogger logger.Logger = zapLogger
	config.Watch(v, appLogger, func(next *config.Config) {
		if err := zapLogger.SetLevel(next.Log.Level); err != nil {
			appLogger.Warn(context.Background(), "Ignoring invalid log level", logger.String("level", next.Log.Level))
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var done closers
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		done.run(shutdownCtx)
	}()
	checks := map[string]handlers.HealthCheck{}

	// Initialize tracing
	tracing, err := monitoring.NewTracingManager(cfg.Tracing, appLogger)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to initialize tracer", err)
	}
	done.add(func(ctx context.Context) { _ = tracing.Shutdown(ctx) })

	metrics := monitoring.NewMetrics()

	// Redis backs idempotency and the shared tenant windows
	redisConn := connectRedis(ctx, cfg, appLogger, checks, &done)
	var idempotency domainservice.IdempotencyStore
	if redisConn != nil && cfg.Idempotency.Enabled {
		idempotency = redis.NewIdempotencyStore(redisConn.GetClient(), cfg.Idempotency, appLogger)
	}
	limiter, cleanupTenantWindows := tenantLimiter(ctx, cfg, redisConn, appLogger)

	// Identity
	tenants, err := tenantRepository(ctx, cfg, appLogger, checks, &done)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to initialize tenant directory", err)
	}
	adminTokens := identity.NewAdminTokenVerifier(cfg.Admin)
	directory := identity.NewDirectory(tenants, limiter, adminTokens, identity.DirectoryConfig{
		CacheTTL:         cfg.Identity.CacheTTL,
		DefaultPerMinute: cfg.RateLimit.TenantPerMinute,
	}, appLogger)
	tenantEvents(ctx, cfg, directory, appLogger, &done)

	// Providers
	credentials, err := credentialSource(ctx, cfg, appLogger)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to initialize provider credentials", err)
	}
	client := provider.NewRFC3161Client(&http.Client{}, credentials, appLogger)
	registry := domainservice.NewProviderRegistry(providersFrom(cfg.Providers))
	monitor := domainservice.NewHealthMonitor(registry, client, domainservice.HealthMonitorConfig{
		ProbeInterval:  cfg.Health.ProbeInterval,
		ProbeTimeout:   cfg.Health.ProbeTimeout,
		DegradeAfter:   cfg.Health.DegradeAfter,
		UnhealthyAfter: cfg.Health.UnhealthyAfter,
	}, appLogger)
	engine := domainservice.NewTimestampEngine(registry, client, monitor, domainservice.EngineConfig{
		MaxAttempts: cfg.Engine.MaxAttempts,
		CallTimeout: cfg.Engine.CallTimeout,
	}, metrics, appLogger)
	scheduler := domainservice.NewScheduler(domainservice.SchedulerConfig{
		MaxQueueSize:          cfg.Scheduler.MaxQueueSize,
		MaxConcurrentDispatch: cfg.Scheduler.MaxConcurrentDispatch,
		QueueTTL:              cfg.Scheduler.QueueTTL,
		DrainInterval:         cfg.Scheduler.DrainInterval,
		RetryAfter:            cfg.Scheduler.RetryAfter,
	}, engine, registry, metrics, appLogger)

	if err := monitoring.NewStatusCollector(registry, scheduler, startedAt).Register(metrics); err != nil {
		appLogger.Fatal(ctx, "Failed to register status collector", err)
	}

	// Receipts and audit
	receiptStore, eventStore, err := openReceipts(ctx, cfg, appLogger, checks, &done)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to initialize receipt store", err)
	}
	publisher, err := auditPublisher(ctx, cfg, eventStore, appLogger, &done)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to initialize audit publisher", err)
	}

	deps := appservice.TimestampAppDeps{
		Validator:   appservice.NewRequestValidator(),
		Gateway:     appservice.NewAuthGateway(directory, metrics, appLogger),
		Identity:    directory,
		Scheduler:   scheduler,
		Registry:    registry,
		Idempotency: idempotency,
		Audit:       publisher,
		Metrics:     metrics,
		RetryAfter:  cfg.Scheduler.RetryAfter,
		StartedAt:   startedAt,
	}
	if receiptStore != nil {
		deps.Receipts = receiptStore
	}
	app := appservice.NewTimestampAppService(deps, appLogger)
	admin := appservice.NewAdminControl(scheduler, directory, appLogger)

	// Background loops
	scheduler.Start()
	var ipLimiter *ratelimit.LimiterPool
	if cfg.RateLimit.Enabled {
		ipLimiter = ratelimit.NewLimiterPool(cfg.RateLimit.IPRPS, cfg.RateLimit.IPBurst)
		go ipLimiter.RunSweeper(ctx, cfg.RateLimit.SweepInterval, cfg.RateLimit.IdleTTL, appLogger)
	}
	go sweep(ctx, cfg.RateLimit.SweepInterval, func() { cleanupTenantWindows(cfg.RateLimit.IdleTTL) })

	// gRPC health
	var grpcLimiter grpcserver.KeyLimiter
	if ipLimiter != nil {
		grpcLimiter = ipLimiter
	}
	grpcHealth := grpcserver.NewHealthServer(registry, grpcserver.NewInterceptorChain(appLogger, grpcLimiter), appLogger)
	monitor.OnChange(grpcHealth.OnProviderChange)
	monitor.Start(ctx)

	// HTTP
	routerDeps := tsahttp.RouterDeps{
		Timestamp: handlers.NewTimestampHandler(app, metrics.Handler(), appLogger),
		Admin:     handlers.NewAdminHandler(admin),
		Health:    handlers.NewHealthHandler(checks, registry.HasAvailable, appLogger),
		AdminAuth: admin,
		Metrics:   metrics,
		Tracer:    tracing.Tracer(),
	}
	if ipLimiter != nil {
		routerDeps.IPLimiter = middleware.KeyLimiter(ipLimiter)
	}
	router := tsahttp.NewRouter(cfg.Server, routerDeps, appLogger)

	errCh := make(chan error, 2)
	go func() { errCh <- router.Start() }()
	if cfg.Server.GRPCPort > 0 {
		go func() { errCh <- grpcHealth.Start(fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort)) }()
	}

	appLogger.Info(ctx, "TSA broker started",
		logger.Int("providers", len(cfg.Providers)),
		logger.String("identity_backend", cfg.Identity.Backend),
		logger.Bool("idempotency", idempotency != nil),
	)

	select {
	case <-ctx.Done():
		appLogger.Info(context.Background(), "Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			appLogger.Error(context.Background(), "Server failed", err)
		}
	}

	// Graceful shutdown: stop intake, then settle queued work
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := router.Stop(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "HTTP server shutdown failed", err)
	}
	grpcHealth.Stop(shutdownCtx)
	monitor.Stop()
	if err := scheduler.Stop(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "Scheduler shutdown failed", err)
	}
	appLogger.Info(shutdownCtx, "TSA broker stopped")
}
