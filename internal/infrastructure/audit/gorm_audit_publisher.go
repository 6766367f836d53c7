package audit

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/nicoladebbia/CredLink-sub020/internal/domain/models"
	"github.com/nicoladebbia/CredLink-sub020/internal/domain/service"
)

// EventRecord is the stored row of an issuance event.
type EventRecord struct {
	EventID    string    `gorm:"primaryKey;size:36"`
	RequestID  string    `gorm:"size:64"`
	TenantID   string    `gorm:"index;size:64"`
	Outcome    string    `gorm:"index;size:32"`
	ProviderID string    `gorm:"size:128"`
	HashAlg    string    `gorm:"size:64"`
	PolicyOID  string    `gorm:"size:100"`
	ErrorCode  string    `gorm:"size:32"`
	Attempts   int
	Timestamp  time.Time `gorm:"index"`
}

// TableName pins the table name.
func (EventRecord) TableName() string { return "issuance_events" }

// GormAuditPublisher stores audit events in a relational database.
type GormAuditPublisher struct {
	db *gorm.DB
}

var _ service.AuditPublisher = (*GormAuditPublisher)(nil)

// NewGormAuditPublisher creates the publisher and migrates its table.
func NewGormAuditPublisher(db *gorm.DB) (*GormAuditPublisher, error) {
	if err := db.AutoMigrate(&EventRecord{}); err != nil {
		return nil, err
	}
	return &GormAuditPublisher{db: db}, nil
}

// Publish saves the event.
func (p *GormAuditPublisher) Publish(ctx context.Context, event *models.IssuanceEvent) error {
	return p.db.WithContext(ctx).Create(&EventRecord{
		EventID:    event.EventID,
		RequestID:  event.RequestID,
		TenantID:   event.TenantID,
		Outcome:    string(event.Outcome),
		ProviderID: event.ProviderID,
		HashAlg:    event.HashAlg,
		PolicyOID:  event.PolicyOID,
		ErrorCode:  event.ErrorCode,
		Attempts:   event.Attempts,
		Timestamp:  event.Timestamp,
	}).Error
}
