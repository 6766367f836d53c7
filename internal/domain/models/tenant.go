package models

import (
	"strings"

	"github.com/nicoladebbia/CredLink-sub020/pkg/constants"
)

// Tenant represents a tenant resolved by the identity collaborator.
// The broker never persists tenant state; it only consults the collaborator per request.
// Tenant 代表由身份协作方解析出的租户。
// 代理从不持久化租户状态，只在每个请求中查询协作方。
type Tenant struct {
	// ID is the unique identifier for the tenant.
	// ID 是租户的唯一标识符。
	ID string `json:"tenant_id"`

	// Permissions granted to the API key that authenticated the request.
	// Permissions 是认证请求的 API 密钥所拥有的权限。
	Permissions []constants.Permission `json:"permissions"`

	// RateLimit is the tenant's request budget.
	// RateLimit 是租户的请求配额。
	RateLimit TenantRateLimit `json:"rate_limit"`
}

// HasPermission reports whether the tenant holds perm.
func (t *Tenant) HasPermission(perm constants.Permission) bool {
	for _, p := range t.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// TenantRateLimit is a per-window request budget.
type TenantRateLimit struct {
	Window constants.RateLimitWindow `json:"window"`
	Limit  int64                     `json:"limit"`
}

// TenantPolicy is the timestamping policy attached to a tenant.
type TenantPolicy struct {
	TenantID          string          `json:"tenant_id"`
	DefaultPolicy     string          `json:"default_policy,omitempty"`
	AllowedPolicies   []string        `json:"allowed_policies"`
	AllowedHashAlgs   []HashAlgorithm `json:"allowed_hash_algorithms"`
	RateLimit         TenantRateLimit `json:"rate_limit"`
	MaxRequestsPerDay int64           `json:"max_requests_per_day,omitempty"`
}

// AuthResult is the outcome of resolving an API key.
type AuthResult struct {
	Success bool
	Tenant  *Tenant
	Error   string
}

// TenantRecord is what a tenant directory backend stores per API key.
type TenantRecord struct {
	Tenant       Tenant
	APIKeySHA256 string
	Policy       TenantPolicy
}

// TenantSpec is the flat form tenant records are stored in by directory backends.
type TenantSpec struct {
	ID                string
	APIKeySHA256      string
	Permissions       []string
	RateLimitPerMin   int64
	AllowedPolicies   []string
	DefaultPolicy     string
	AllowedHashAlgs   []string
	MaxRequestsPerDay int64
}

// Record expands the flat spec into a TenantRecord with a per-minute budget.
func (s TenantSpec) Record() *TenantRecord {
	perms := make([]constants.Permission, 0, len(s.Permissions))
	for _, p := range s.Permissions {
		perms = append(perms, constants.Permission(p))
	}
	algs := make([]HashAlgorithm, 0, len(s.AllowedHashAlgs))
	for _, a := range s.AllowedHashAlgs {
		algs = append(algs, HashAlgorithm(a))
	}
	limit := TenantRateLimit{Window: constants.RateLimitWindowMinute, Limit: s.RateLimitPerMin}

	return &TenantRecord{
		Tenant: Tenant{
			ID:          s.ID,
			Permissions: perms,
			RateLimit:   limit,
		},
		APIKeySHA256: strings.ToLower(s.APIKeySHA256),
		Policy: TenantPolicy{
			TenantID:          s.ID,
			DefaultPolicy:     s.DefaultPolicy,
			AllowedPolicies:   append([]string(nil), s.AllowedPolicies...),
			AllowedHashAlgs:   algs,
			RateLimit:         limit,
			MaxRequestsPerDay: s.MaxRequestsPerDay,
		},
	}
}
