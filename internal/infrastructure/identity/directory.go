// Package identity implements the tenant identity collaborator: API key resolution,
// permission checks, per-tenant window budgets and admin bearer tokens.
package identity

import (
	"context"
	"errors"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/nicoladebbia/CredLink-sub020/internal/domain/models"
	"github.com/nicoladebbia/CredLink-sub020/internal/domain/repository"
	"github.com/nicoladebbia/CredLink-sub020/internal/domain/service"
	"github.com/nicoladebbia/CredLink-sub020/internal/infrastructure/ratelimit"
	"github.com/nicoladebbia/CredLink-sub020/pkg/constants"
	tsaerrors "github.com/nicoladebbia/CredLink-sub020/pkg/errors"
	"github.com/nicoladebbia/CredLink-sub020/pkg/logger"
	"github.com/nicoladebbia/CredLink-sub020/pkg/utils"
)

const defaultCacheTTL = 30 * time.Second

// WindowLimiter consumes units of a fixed-window budget.
type WindowLimiter interface {
	Allow(ctx context.Context, identifier string, limit int64, window time.Duration) (*ratelimit.RateLimitResult, error)
}

// DirectoryConfig tunes the directory.
type DirectoryConfig struct {
	CacheTTL time.Duration
	// DefaultPerMinute applies to tenants without their own per-minute budget.
	DefaultPerMinute int64
}

// Directory implements service.IdentityService over a tenant repository.
// Directory 基于租户仓储实现 service.IdentityService。
type Directory struct {
	repo     repository.TenantRepository
	limiter  WindowLimiter
	admin    *AdminTokenVerifier
	cache    *cache.Cache
	group    singleflight.Group
	defaults DirectoryConfig
	logger   logger.Logger
}

var _ service.IdentityService = (*Directory)(nil)

// NewDirectory creates a directory. admin may be nil, which rejects every admin token.
func NewDirectory(repo repository.TenantRepository, limiter WindowLimiter, admin *AdminTokenVerifier, cfg DirectoryConfig, log logger.Logger) *Directory {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if limiter == nil {
		limiter = ratelimit.NewLocalRateLimiter()
	}
	return &Directory{
		repo:     repo,
		limiter:  limiter,
		admin:    admin,
		cache:    cache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		defaults: cfg,
		logger:   log.WithComponent("identity_directory"),
	}
}

// AuthenticateRequest resolves apiKey by its SHA-256 digest.
func (d *Directory) AuthenticateRequest(ctx context.Context, apiKey string) (*models.AuthResult, error) {
	if apiKey == "" {
		return &models.AuthResult{Success: false, Error: constants.MsgAuthenticationFail}, nil
	}

	rec, err := d.lookup(ctx, "key:"+HashAPIKey(apiKey), func(ctx context.Context) (*models.TenantRecord, error) {
		return d.repo.FindByAPIKeyHash(ctx, HashAPIKey(apiKey))
	})
	if errors.Is(err, repository.ErrTenantNotFound) {
		return &models.AuthResult{Success: false, Error: constants.MsgAuthenticationFail}, nil
	}
	if err != nil {
		return nil, err
	}

	tenant := rec.Tenant
	tenant.Permissions = append([]constants.Permission(nil), rec.Tenant.Permissions...)
	return &models.AuthResult{Success: true, Tenant: &tenant}, nil
}

// HasPermission reports whether tenant holds permission.
func (d *Directory) HasPermission(tenant *models.Tenant, permission constants.Permission) bool {
	return tenant != nil && tenant.HasPermission(permission)
}

// CheckRateLimit consumes one unit of the tenant's budget for window.
func (d *Directory) CheckRateLimit(ctx context.Context, tenantID string, window constants.RateLimitWindow) (bool, error) {
	rec, err := d.lookup(ctx, "id:"+tenantID, func(ctx context.Context) (*models.TenantRecord, error) {
		return d.repo.FindByID(ctx, tenantID)
	})
	if err != nil {
		return false, err
	}

	limit := d.limitFor(rec, window)
	if limit <= 0 {
		return true, nil
	}
	res, err := d.limiter.Allow(ctx, "tenant:"+tenantID+":"+string(window), limit, window.Duration())
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}

// GetTenantPolicy returns tenantID's policy, or nil when the tenant is unknown. A non-empty
// apiKey must belong to tenantID.
func (d *Directory) GetTenantPolicy(ctx context.Context, tenantID, apiKey string) (*models.TenantPolicy, error) {
	rec, err := d.lookup(ctx, "id:"+tenantID, func(ctx context.Context) (*models.TenantRecord, error) {
		return d.repo.FindByID(ctx, tenantID)
	})
	if errors.Is(err, repository.ErrTenantNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if apiKey != "" && !utils.SecureCompare(rec.APIKeySHA256, HashAPIKey(apiKey)) {
		return nil, tsaerrors.ErrAuthorization()
	}
	policy := rec.Policy
	return &policy, nil
}

// ValidateAdminToken verifies an admin bearer token.
func (d *Directory) ValidateAdminToken(ctx context.Context, token string) bool {
	if d.admin == nil || token == "" {
		return false
	}
	if _, err := d.admin.Verify(token); err != nil {
		d.logger.Warn(ctx, "Admin token rejected", logger.Error(err))
		return false
	}
	return true
}

// Invalidate drops every cached tenant record.
func (d *Directory) Invalidate() {
	d.cache.Flush()
}

func (d *Directory) limitFor(rec *models.TenantRecord, window constants.RateLimitWindow) int64 {
	switch window {
	case constants.RateLimitWindowMinute:
		if rec.Tenant.RateLimit.Limit > 0 {
			return rec.Tenant.RateLimit.Limit
		}
		return d.defaults.DefaultPerMinute
	case constants.RateLimitWindowDay:
		return rec.Policy.MaxRequestsPerDay
	default:
		return 0
	}
}

func (d *Directory) lookup(ctx context.Context, cacheKey string, load func(context.Context) (*models.TenantRecord, error)) (*models.TenantRecord, error) {
	if cached, ok := d.cache.Get(cacheKey); ok {
		return cached.(*models.TenantRecord), nil
	}

	v, err, _ := d.group.Do(cacheKey, func() (interface{}, error) {
		rec, err := load(ctx)
		if err != nil {
			return nil, err
		}
		d.cache.SetDefault("key:"+rec.APIKeySHA256, rec)
		d.cache.SetDefault("id:"+rec.Tenant.ID, rec)
		return rec, nil
	})
	if err != nil {
		if !errors.Is(err, repository.ErrTenantNotFound) {
			d.logger.Error(ctx, "Tenant lookup failed", err)
		}
		return nil, err
	}
	return v.(*models.TenantRecord), nil
}

// HashAPIKey returns the lowercase hex SHA-256 of an API key.
func HashAPIKey(apiKey string) string {
	return utils.HashAPIKey(apiKey)
}
