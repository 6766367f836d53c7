// Package repository defines the storage contracts consumed by the identity directory.
package repository

import (
	"context"
	"errors"

	"github.com/nicoladebbia/CredLink-sub020/internal/domain/models"
)

// ErrTenantNotFound is returned when no tenant matches the lookup.
var ErrTenantNotFound = errors.New("tenant not found")

// TenantRepository defines the interface for reading tenant records.
// TenantRepository 定义读取租户记录的接口。
type TenantRepository interface {
	// FindByAPIKeyHash resolves the hex SHA-256 of an API key to its tenant.
	// FindByAPIKeyHash 通过 API 密钥的 SHA-256 十六进制摘要解析租户。
	FindByAPIKeyHash(ctx context.Context, keyHash string) (*models.TenantRecord, error)

	// FindByID retrieves a tenant by its identifier.
	// FindByID 通过标识符获取租户。
	FindByID(ctx context.Context, tenantID string) (*models.TenantRecord, error)
}
