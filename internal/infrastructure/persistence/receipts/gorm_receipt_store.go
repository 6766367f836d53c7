// Package receipts persists timestamp issuance receipts with GORM.
package receipts

import (
	"context"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/nicoladebbia/CredLink-sub020/internal/config"
	"github.com/nicoladebbia/CredLink-sub020/internal/domain/models"
	"github.com/nicoladebbia/CredLink-sub020/internal/domain/service"
	"github.com/nicoladebbia/CredLink-sub020/pkg/logger"
)

const maxListLimit = 1000

// OpenDB opens the receipts database for the configured driver.
// OpenDB 按配置的驱动打开回执数据库。
func OpenDB(cfg config.ReceiptsConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "", "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported receipts driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open receipts database: %w", err)
	}
	return db, nil
}

// GormReceiptStore implements service.ReceiptStore.
type GormReceiptStore struct {
	db     *gorm.DB
	logger logger.Logger
}

var _ service.ReceiptStore = (*GormReceiptStore)(nil)

// NewGormReceiptStore creates a store and migrates its table.
func NewGormReceiptStore(db *gorm.DB, log logger.Logger) (*GormReceiptStore, error) {
	if err := db.AutoMigrate(&models.TimestampReceipt{}); err != nil {
		return nil, fmt.Errorf("migrate receipts: %w", err)
	}
	return &GormReceiptStore{db: db, logger: log.WithComponent("receipt_store")}, nil
}

// Save inserts a receipt.
func (s *GormReceiptStore) Save(ctx context.Context, receipt *models.TimestampReceipt) error {
	if err := s.db.WithContext(ctx).Create(receipt).Error; err != nil {
		s.logger.Error(ctx, "Failed to save receipt", err,
			logger.String("tenant_id", receipt.TenantID),
			logger.String("tsa_id", receipt.ProviderID),
		)
		return fmt.Errorf("save receipt: %w", err)
	}
	return nil
}

// FindByTenant returns the tenant's newest receipts first.
func (s *GormReceiptStore) FindByTenant(ctx context.Context, tenantID string, limit int) ([]*models.TimestampReceipt, error) {
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	var out []*models.TimestampReceipt
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list receipts: %w", err)
	}
	return out, nil
}

// CountByProvider returns how many receipts each provider issued.
func (s *GormReceiptStore) CountByProvider(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		ProviderID string
		Count      int64
	}
	err := s.db.WithContext(ctx).Model(&models.TimestampReceipt{}).
		Select("provider_id, COUNT(*) AS count").
		Group("provider_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count receipts: %w", err)
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.ProviderID] = r.Count
	}
	return out, nil
}
