package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/nicoladebbia/CredLink-sub020/internal/config"
	"github.com/nicoladebbia/CredLink-sub020/internal/domain/models"
	"github.com/nicoladebbia/CredLink-sub020/internal/domain/repository"
	domainservice "github.com/nicoladebbia/CredLink-sub020/internal/domain/service"
	"github.com/nicoladebbia/CredLink-sub020/internal/infrastructure/audit"
	"github.com/nicoladebbia/CredLink-sub020/internal/infrastructure/consumers"
	"github.com/nicoladebbia/CredLink-sub020/internal/infrastructure/identity"
	"github.com/nicoladebbia/CredLink-sub020/internal/infrastructure/kms"
	"github.com/nicoladebbia/CredLink-sub020/internal/infrastructure/persistence/postgres"
	"github.com/nicoladebbia/CredLink-sub020/internal/infrastructure/persistence/receipts"
	"github.com/nicoladebbia/CredLink-sub020/internal/infrastructure/persistence/redis"
	"github.com/nicoladebbia/CredLink-sub020/internal/infrastructure/ratelimit"
	"github.com/nicoladebbia/CredLink-sub020/internal/interfaces/http/handlers"
	"github.com/nicoladebbia/CredLink-sub020/pkg/logger"
)

// closer runs on shutdown in reverse registration order.
type closer func(ctx context.Context)

type closers []closer

func (c *closers) add(fn closer) { *c = append(*c, fn) }

func (c closers) run(ctx context.Context) {
	for i := len(c) - 1; i >= 0; i-- {
		c[i](ctx)
	}
}

// providersFrom converts the configured upstream TSAs.
func providersFrom(cfgs []config.ProviderConfig) []models.Provider {
	out := make([]models.Provider, 0, len(cfgs))
	for _, pc := range cfgs {
		algs := make([]models.HashAlgorithm, 0, len(pc.HashAlgorithms))
		for _, a := range pc.HashAlgorithms {
			algs = append(algs, models.HashAlgorithm(a))
		}
		out = append(out, models.Provider{
			ID:             pc.ID,
			URL:            pc.URL,
			Priority:       pc.Priority,
			Timeout:        pc.Timeout,
			CredentialPath: pc.CredentialPath,
			Capabilities: models.ProviderCapabilities{
				HashAlgorithms:          algs,
				Policies:                pc.Policies,
				SupportsPolicySelection: pc.SupportsPolicySelection,
			},
		})
	}
	return out
}

// connectRedis returns nil when Redis is disabled or unreachable. The broker keeps serving
// with local rate limits and without idempotency records.
func connectRedis(ctx context.Context, cfg *config.Config, log logger.Logger, checks map[string]handlers.HealthCheck, done *closers) *redis.RedisConnection {
	if !cfg.Redis.Enabled {
		log.Info(ctx, "Redis disabled, using in-process rate limits")
		return nil
	}
	conn := redis.NewRedisConnection(cfg.Redis, log)
	if err := conn.Connect(ctx); err != nil {
		log.Warn(ctx, "Redis unavailable at startup, using in-process rate limits", logger.Error(err))
		return nil
	}
	checks["redis"] = conn.Ping
	done.add(func(context.Context) { _ = conn.Close() })
	return conn
}

// tenantLimiter picks the shared Redis window limiter or the local one.
func tenantLimiter(ctx context.Context, cfg *config.Config, conn *redis.RedisConnection, log logger.Logger) (identity.WindowLimiter, func(time.Duration) int) {
	if conn != nil {
		rl, err := ratelimit.NewRedisRateLimiter(conn.GetClient(), &ratelimit.RateLimiterConfig{
			EnableLocalFallback: true,
			KeyPrefix:           cfg.RateLimit.KeyPrefix,
		}, log)
		if err == nil {
			return rl, rl.CleanupFallback
		}
		log.Warn(ctx, "Redis rate limiter unavailable, using in-process limits", logger.Error(err))
	}
	local := ratelimit.NewLocalRateLimiter()
	return local, local.Cleanup
}

// tenantRepository builds the configured identity backend.
func tenantRepository(ctx context.Context, cfg *config.Config, log logger.Logger, checks map[string]handlers.HealthCheck, done *closers) (repository.TenantRepository, error) {
	switch cfg.Identity.Backend {
	case "postgres":
		db, err := postgres.NewDBConnection(ctx, cfg.Database, log)
		if err != nil {
			return nil, err
		}
		done.add(func(context.Context) { db.Close() })
		checks["postgres"] = db.Ping

		store := postgres.NewTenantStore(db.Pool(), log)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		store, err := identity.LoadStaticTenantStore(cfg.Identity.TenantsFile, cfg.Identity.Tenants)
		if err != nil {
			return nil, err
		}
		log.Info(ctx, "Loaded static tenants", logger.Int("tenants", store.Len()))
		return store, nil
	}
}

// credentialSource returns nil when Vault is disabled; providers then run without basic auth.
func credentialSource(ctx context.Context, cfg *config.Config, log logger.Logger) (domainservice.CredentialSource, error) {
	if !cfg.Vault.Enabled {
		for _, p := range cfg.Providers {
			if p.CredentialPath != "" {
				log.Warn(ctx, "Provider has a credential path but Vault is disabled", logger.String("provider_id", p.ID))
			}
		}
		return nil, nil
	}
	client, err := kms.NewVaultClient(cfg.Vault)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	return kms.NewVaultCredentialSource(client, cfg.Vault, log), nil
}

// openReceipts opens the receipt database. It returns nils when receipts are disabled.
func openReceipts(ctx context.Context, cfg *config.Config, log logger.Logger, checks map[string]handlers.HealthCheck, done *closers) (*receipts.GormReceiptStore, *audit.GormAuditPublisher, error) {
	if !cfg.Receipts.Enabled {
		return nil, nil, nil
	}
	db, err := receipts.OpenDB(cfg.Receipts)
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	done.add(func(context.Context) { _ = sqlDB.Close() })
	checks["receipts"] = sqlDB.PingContext

	store, err := receipts.NewGormReceiptStore(db, log)
	if err != nil {
		return nil, nil, err
	}
	events, err := audit.NewGormAuditPublisher(db)
	if err != nil {
		return nil, nil, err
	}
	log.Info(ctx, "Receipt store ready", logger.String("driver", cfg.Receipts.Driver))
	return store, events, nil
}

// auditPublisher fans issuance events out to the log, the receipt database and Kafka.
func auditPublisher(ctx context.Context, cfg *config.Config, events *audit.GormAuditPublisher, log logger.Logger, done *closers) (domainservice.AuditPublisher, error) {
	publishers := audit.FanoutPublisher{audit.NewLogPublisher(log)}
	if events != nil {
		publishers = append(publishers, events)
	}
	if cfg.Kafka.Enabled {
		kp, err := audit.NewKafkaPublisher(cfg.Kafka, log)
		if err != nil {
			return nil, err
		}
		done.add(func(context.Context) { _ = kp.Close() })
		publishers = append(publishers, kp)
		log.Info(ctx, "Kafka audit publisher enabled", logger.String("topic", cfg.Kafka.AuditTopic))
	}
	return publishers, nil
}

// tenantEvents starts the Kafka consumer that keeps the identity cache coherent
// across broker instances.
func tenantEvents(ctx context.Context, cfg *config.Config, directory *identity.Directory, log logger.Logger, done *closers) {
	if !cfg.Kafka.Enabled || cfg.Kafka.TenantEventsTopic == "" {
		return
	}
	instance, err := os.Hostname()
	if err != nil || instance == "" {
		instance = uuid.NewString()
	}
	consumer, err := consumers.NewTenantEventConsumer(cfg.Kafka, instance, directory, log)
	if err != nil {
		log.Warn(ctx, "Tenant event consumer disabled", logger.Error(err))
		return
	}
	go consumer.Run(ctx)
	done.add(func(context.Context) { _ = consumer.Close() })
	log.Info(ctx, "Tenant event consumer enabled", logger.String("topic", cfg.Kafka.TenantEventsTopic))
}

// sweep runs fn every interval until ctx is done.
func sweep(ctx context.Context, interval time.Duration, fn func()) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
