package service

import (
	"context"

	"github.com/nicoladebbia/CredLink-sub020/internal/domain/models"
	"github.com/nicoladebbia/CredLink-sub020/internal/domain/service"
	"github.com/nicoladebbia/CredLink-sub020/pkg/constants"
	"github.com/nicoladebbia/CredLink-sub020/pkg/errors"
	"github.com/nicoladebbia/CredLink-sub020/pkg/logger"
	"github.com/nicoladebbia/CredLink-sub020/pkg/utils"
)

// AuthGateway authenticates tenant API keys and enforces tenant binding, permissions and
// the per-tenant rate limit. Every collaborator failure fails closed.
// AuthGateway 认证租户 API 密钥，并执行租户绑定、权限和租户级速率限制检查。
// 任何协作方故障都以拒绝处理。
type AuthGateway struct {
	identity service.IdentityService
	metrics  service.Metrics
	logger   logger.Logger
}

// NewAuthGateway creates a gateway.
func NewAuthGateway(identity service.IdentityService, metrics service.Metrics, log logger.Logger) *AuthGateway {
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	return &AuthGateway{
		identity: identity,
		metrics:  metrics,
		logger:   log.WithComponent("auth_gateway"),
	}
}

// Authorize checks that apiKey belongs to declaredTenantID, carries permission and is within
// the tenant's per-minute budget.
func (g *AuthGateway) Authorize(ctx context.Context, apiKey, declaredTenantID string, permission constants.Permission) (*models.Tenant, error) {
	tenant, err := g.authenticate(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	if !utils.SecureCompare(tenant.ID, declaredTenantID) {
		g.logger.Warn(ctx, "Declared tenant does not match API key",
			logger.String("tenant_id", tenant.ID),
		)
		return nil, errors.ErrAuthorization()
	}
	return g.authorize(ctx, tenant, permission)
}

// AuthorizeKey is Authorize for endpoints that declare no tenant.
func (g *AuthGateway) AuthorizeKey(ctx context.Context, apiKey string, permission constants.Permission) (*models.Tenant, error) {
	tenant, err := g.authenticate(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	return g.authorize(ctx, tenant, permission)
}

func (g *AuthGateway) authenticate(ctx context.Context, apiKey string) (*models.Tenant, error) {
	if apiKey == "" {
		return nil, errors.ErrAuthentication()
	}
	res, err := g.identity.AuthenticateRequest(ctx, apiKey)
	if err != nil {
		g.logger.Warn(ctx, "Identity collaborator failed", logger.Error(err))
		return nil, errors.ErrAuthentication().WithCause(err)
	}
	if res == nil || !res.Success || res.Tenant == nil {
		g.logger.Debug(ctx, "Unknown API key", logger.String("api_key", utils.MaskToken(apiKey)))
		return nil, errors.ErrAuthentication()
	}
	return res.Tenant, nil
}

func (g *AuthGateway) authorize(ctx context.Context, tenant *models.Tenant, permission constants.Permission) (*models.Tenant, error) {
	if !g.identity.HasPermission(tenant, permission) {
		g.logger.Warn(ctx, "Permission denied",
			logger.String("tenant_id", tenant.ID),
			logger.String("permission", string(permission)),
		)
		return nil, errors.ErrAuthorization()
	}

	allowed, err := g.identity.CheckRateLimit(ctx, tenant.ID, constants.RateLimitWindowMinute)
	if err != nil {
		g.logger.Warn(ctx, "Tenant rate limit check failed", logger.String("tenant_id", tenant.ID), logger.Error(err))
		g.metrics.RecordRateLimitHit(constants.RateLimitScopeTenant)
		return nil, errors.ErrRateLimit(constants.RateLimitScopeTenant).WithCause(err)
	}
	if !allowed {
		g.metrics.RecordRateLimitHit(constants.RateLimitScopeTenant)
		return nil, errors.ErrRateLimit(constants.RateLimitScopeTenant)
	}
	return tenant, nil
}
