package service

import (
	"context"
	"errors"
	"time"

	"github.com/nicoladebbia/CredLink-sub020/internal/domain/models"
	"github.com/nicoladebbia/CredLink-sub020/pkg/constants"
)

// ErrNoHealthyProvider is returned by selection when every candidate is unhealthy, excluded
// or unable to serve the request.
// ErrNoHealthyProvider 在所有候选提供方都不健康、被排除或无法处理请求时返回。
var ErrNoHealthyProvider = errors.New("no healthy timestamp provider")

//go:generate mockery --name IdentityService --output mocks --outpkg mocks
// IdentityService is the external tenant identity collaborator. The broker never stores
// tenant state itself.
// IdentityService 是外部租户身份协作方。代理自身从不存储租户状态。
type IdentityService interface {
	// AuthenticateRequest resolves an API key to a tenant.
	// AuthenticateRequest 将 API 密钥解析为租户。
	AuthenticateRequest(ctx context.Context, apiKey string) (*models.AuthResult, error)

	// HasPermission reports whether the tenant holds the permission.
	// HasPermission 报告租户是否拥有该权限。
	HasPermission(tenant *models.Tenant, permission constants.Permission) bool

	// CheckRateLimit consumes one unit of the tenant's budget for the window.
	// It returns false once the budget is spent.
	// CheckRateLimit 消耗租户在该窗口内的一个配额单位，配额耗尽时返回 false。
	CheckRateLimit(ctx context.Context, tenantID string, window constants.RateLimitWindow) (bool, error)

	// GetTenantPolicy returns the policy attached to a tenant.
	// GetTenantPolicy 返回租户关联的策略。
	GetTenantPolicy(ctx context.Context, tenantID, apiKey string) (*models.TenantPolicy, error)

	// ValidateAdminToken verifies the admin bearer credential.
	// ValidateAdminToken 验证管理员 Bearer 凭证。
	ValidateAdminToken(ctx context.Context, token string) bool
}

//go:generate mockery --name ProviderClient --output mocks --outpkg mocks
// ProviderClient talks to one upstream RFC 3161 timestamp authority.
// ProviderClient 与上游 RFC 3161 时间戳机构通信。
type ProviderClient interface {
	// Timestamp sends the request to the provider and extracts the fields the broker checks.
	// Timestamp 向提供方发送请求，并提取代理需要校验的字段。
	Timestamp(ctx context.Context, provider *models.Provider, req *models.TimestampRequest) (*models.ProviderResponse, error)

	// Probe performs a cheap liveness check and returns the observed latency.
	// Probe 执行轻量的存活检查并返回观测到的延迟。
	Probe(ctx context.Context, provider *models.Provider) (time.Duration, error)
}

// CredentialSource resolves the secrets stored at a provider's credential path.
type CredentialSource interface {
	Credentials(ctx context.Context, path string) (*models.ProviderCredentials, error)
}

// ProviderSelector picks the provider for the next dispatch attempt.
type ProviderSelector interface {
	Select(req *models.TimestampRequest, exclude map[string]struct{}) (*models.Provider, error)
}

// HealthReporter receives live-dispatch outcomes.
type HealthReporter interface {
	ReportSuccess(providerID string, latency time.Duration)
	ReportFailure(providerID string, cause error)
}

// Dispatcher executes an admitted entry against the providers.
type Dispatcher interface {
	Dispatch(ctx context.Context, entry *models.QueueEntry) (*models.TimestampResult, error)
}

// IdempotencyState is the stored phase of an idempotency key.
type IdempotencyState int

const (
	// IdempotencyNew means the caller now owns the key and must Complete or Release it.
	IdempotencyNew IdempotencyState = iota
	// IdempotencyPending means another request holds the key.
	IdempotencyPending
	// IdempotencyDone means a stored result is available.
	IdempotencyDone
)

//go:generate mockery --name IdempotencyStore --output mocks --outpkg mocks
// IdempotencyStore records the two-phase lifecycle of a sign request key.
// IdempotencyStore 记录签名请求键的两阶段生命周期。
type IdempotencyStore interface {
	// Begin claims the key, or reports that it is pending or done. For done keys the stored
	// payload is returned.
	// Begin 占用该键，或报告该键处于进行中或已完成状态；已完成时返回存储的结果。
	Begin(ctx context.Context, key string) (IdempotencyState, []byte, error)

	// Complete stores the final payload under the key.
	// Complete 在该键下存储最终结果。
	Complete(ctx context.Context, key string, payload []byte) error

	// Release drops the key so a retry starts fresh.
	// Release 删除该键，使重试重新开始。
	Release(ctx context.Context, key string) error
}

//go:generate mockery --name ReceiptStore --output mocks --outpkg mocks
// ReceiptStore persists issuance receipts.
// ReceiptStore 持久化签发回执。
type ReceiptStore interface {
	Save(ctx context.Context, receipt *models.TimestampReceipt) error
	FindByTenant(ctx context.Context, tenantID string, limit int) ([]*models.TimestampReceipt, error)
}

//go:generate mockery --name AuditPublisher --output mocks --outpkg mocks
// AuditPublisher emits issuance audit events.
// AuditPublisher 发布签发审计事件。
type AuditPublisher interface {
	Publish(ctx context.Context, event *models.IssuanceEvent) error
}
