package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/nicoladebbia/CredLink-sub020/internal/domain/models"
	"github.com/nicoladebbia/CredLink-sub020/internal/domain/service"
)

// MockIdempotencyStore is a mock implementation of IdempotencyStore
type MockIdempotencyStore struct {
	mock.Mock
}

func (m *MockIdempotencyStore) Begin(ctx context.Context, key string) (service.IdempotencyState, []byte, error) {
	args := m.Called(ctx, key)
	var payload []byte
	if args.Get(1) != nil {
		payload = args.Get(1).([]byte)
	}
	return args.Get(0).(service.IdempotencyState), payload, args.Error(2)
}

func (m *MockIdempotencyStore) Complete(ctx context.Context, key string, payload []byte) error {
	args := m.Called(ctx, key, payload)
	return args.Error(0)
}

func (m *MockIdempotencyStore) Release(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

// MockReceiptStore is a mock implementation of ReceiptStore
type MockReceiptStore struct {
	mock.Mock
}

func (m *MockReceiptStore) Save(ctx context.Context, receipt *models.TimestampReceipt) error {
	args := m.Called(ctx, receipt)
	return args.Error(0)
}

func (m *MockReceiptStore) FindByTenant(ctx context.Context, tenantID string, limit int) ([]*models.TimestampReceipt, error) {
	args := m.Called(ctx, tenantID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.TimestampReceipt), args.Error(1)
}

// MockAuditPublisher is a mock implementation of AuditPublisher
type MockAuditPublisher struct {
	mock.Mock
}

func (m *MockAuditPublisher) Publish(ctx context.Context, event *models.IssuanceEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}
