package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/nicoladebbia/CredLink-sub020/internal/domain/models"
)

// MockProviderClient is a mock implementation of ProviderClient
type MockProviderClient struct {
	mock.Mock
}

func (m *MockProviderClient) Timestamp(ctx context.Context, provider *models.Provider, req *models.TimestampRequest) (*models.ProviderResponse, error) {
	args := m.Called(ctx, provider, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ProviderResponse), args.Error(1)
}

func (m *MockProviderClient) Probe(ctx context.Context, provider *models.Provider) (time.Duration, error) {
	args := m.Called(ctx, provider)
	return args.Get(0).(time.Duration), args.Error(1)
}

// MockHealthReporter is a mock implementation of HealthReporter
type MockHealthReporter struct {
	mock.Mock
}

func (m *MockHealthReporter) ReportSuccess(providerID string, latency time.Duration) {
	m.Called(providerID, latency)
}

func (m *MockHealthReporter) ReportFailure(providerID string, cause error) {
	m.Called(providerID, cause)
}
