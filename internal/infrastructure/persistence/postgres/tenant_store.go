package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nicoladebbia/CredLink-sub020/internal/domain/models"
	"github.com/nicoladebbia/CredLink-sub020/internal/domain/repository"
	"github.com/nicoladebbia/CredLink-sub020/pkg/logger"
)

// TenantSchema creates the table read by TenantStore.
const TenantSchema = `
CREATE TABLE IF NOT EXISTS tsa_tenants (
    tenant_id               TEXT PRIMARY KEY,
    api_key_sha256          CHAR(64) NOT NULL UNIQUE,
    permissions             TEXT[] NOT NULL DEFAULT '{}',
    rate_limit_per_minute   BIGINT NOT NULL DEFAULT 0,
    allowed_policies        TEXT[] NOT NULL DEFAULT '{}',
    default_policy          TEXT NOT NULL DEFAULT '',
    allowed_hash_algorithms TEXT[] NOT NULL DEFAULT '{}',
    max_requests_per_day    BIGINT NOT NULL DEFAULT 0,
    disabled                BOOLEAN NOT NULL DEFAULT FALSE,
    created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

const tenantColumns = `tenant_id, api_key_sha256, permissions, rate_limit_per_minute,
allowed_policies, default_policy, allowed_hash_algorithms, max_requests_per_day`

// TenantStore reads tenant records from PostgreSQL.
// TenantStore 从 PostgreSQL 读取租户记录。
type TenantStore struct {
	pool   *pgxpool.Pool
	logger logger.Logger
}

var _ repository.TenantRepository = (*TenantStore)(nil)

// NewTenantStore creates a tenant store on pool.
func NewTenantStore(pool *pgxpool.Pool, log logger.Logger) *TenantStore {
	return &TenantStore{pool: pool, logger: log.WithComponent("tenant_store")}
}

// EnsureSchema creates the tenant table when missing.
func (s *TenantStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, TenantSchema); err != nil {
		return fmt.Errorf("create tenant schema: %w", err)
	}
	return nil
}

// FindByAPIKeyHash resolves an enabled tenant by API key digest.
func (s *TenantStore) FindByAPIKeyHash(ctx context.Context, keyHash string) (*models.TenantRecord, error) {
	return s.findOne(ctx, "api_key_sha256", strings.ToLower(keyHash))
}

// FindByID resolves an enabled tenant by identifier.
func (s *TenantStore) FindByID(ctx context.Context, tenantID string) (*models.TenantRecord, error) {
	return s.findOne(ctx, "tenant_id", tenantID)
}

// Upsert inserts or replaces a tenant.
func (s *TenantStore) Upsert(ctx context.Context, spec models.TenantSpec) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO tsa_tenants (`+tenantColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (tenant_id) DO UPDATE SET
    api_key_sha256 = EXCLUDED.api_key_sha256,
    permissions = EXCLUDED.permissions,
    rate_limit_per_minute = EXCLUDED.rate_limit_per_minute,
    allowed_policies = EXCLUDED.allowed_policies,
    default_policy = EXCLUDED.default_policy,
    allowed_hash_algorithms = EXCLUDED.allowed_hash_algorithms,
    max_requests_per_day = EXCLUDED.max_requests_per_day,
    disabled = FALSE`,
		spec.ID, strings.ToLower(spec.APIKeySHA256), nonNil(spec.Permissions), spec.RateLimitPerMin,
		nonNil(spec.AllowedPolicies), spec.DefaultPolicy, nonNil(spec.AllowedHashAlgs), spec.MaxRequestsPerDay,
	)
	if err != nil {
		return fmt.Errorf("upsert tenant %s: %w", spec.ID, err)
	}
	return nil
}

// Disable hides a tenant from lookups without deleting it.
func (s *TenantStore) Disable(ctx context.Context, tenantID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE tsa_tenants SET disabled = TRUE WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return fmt.Errorf("disable tenant %s: %w", tenantID, err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrTenantNotFound
	}
	return nil
}

func (s *TenantStore) findOne(ctx context.Context, column, value string) (*models.TenantRecord, error) {
	start := time.Now()
	query := `SELECT ` + tenantColumns + ` FROM tsa_tenants WHERE ` + column + ` = $1 AND NOT disabled`

	var spec models.TenantSpec
	err := s.pool.QueryRow(ctx, query, value).Scan(
		&spec.ID, &spec.APIKeySHA256, &spec.Permissions, &spec.RateLimitPerMin,
		&spec.AllowedPolicies, &spec.DefaultPolicy, &spec.AllowedHashAlgs, &spec.MaxRequestsPerDay,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrTenantNotFound
	}
	if err != nil {
		s.logger.Error(ctx, "Failed to query tenant", err, logger.String("column", column))
		return nil, fmt.Errorf("query tenant: %w", err)
	}

	s.logger.Debug(ctx, "Tenant loaded",
		logger.String("tenant_id", spec.ID),
		logger.Int64("latency_ms", time.Since(start).Milliseconds()),
	)
	return spec.Record(), nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
