package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/nicoladebbia/CredLink-sub020/internal/domain/models"
	"github.com/nicoladebbia/CredLink-sub020/pkg/constants"
)

// MockIdentityService is a mock implementation of IdentityService
type MockIdentityService struct {
	mock.Mock
}

func (m *MockIdentityService) AuthenticateRequest(ctx context.Context, apiKey string) (*models.AuthResult, error) {
	args := m.Called(ctx, apiKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AuthResult), args.Error(1)
}

func (m *MockIdentityService) HasPermission(tenant *models.Tenant, permission constants.Permission) bool {
	args := m.Called(tenant, permission)
	return args.Bool(0)
}

func (m *MockIdentityService) CheckRateLimit(ctx context.Context, tenantID string, window constants.RateLimitWindow) (bool, error) {
	args := m.Called(ctx, tenantID, window)
	return args.Bool(0), args.Error(1)
}

func (m *MockIdentityService) GetTenantPolicy(ctx context.Context, tenantID, apiKey string) (*models.TenantPolicy, error) {
	args := m.Called(ctx, tenantID, apiKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TenantPolicy), args.Error(1)
}

func (m *MockIdentityService) ValidateAdminToken(ctx context.Context, token string) bool {
	args := m.Called(ctx, token)
	return args.Bool(0)
}
