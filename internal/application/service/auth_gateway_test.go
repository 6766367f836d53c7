package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/nicoladebbia/CredLink-sub020/internal/domain/models"
	"github.com/nicoladebbia/CredLink-sub020/internal/domain/service/mocks"
	"github.com/nicoladebbia/CredLink-sub020/pkg/constants"
	tsaerrors "github.com/nicoladebbia/CredLink-sub020/pkg/errors"
	"github.com/nicoladebbia/CredLink-sub020/pkg/logger"
)

const testAPIKey = "tsa_live_acme_0123456789"

func acmeTenant() *models.Tenant {
	return &models.Tenant{
		ID:          "acme",
		Permissions: []constants.Permission{constants.PermissionSign, constants.PermissionRead, constants.PermissionPolicyRead},
		RateLimit:   models.TenantRateLimit{Window: constants.RateLimitWindowMinute, Limit: 120},
	}
}

// allowTenant wires the identity mock to accept testAPIKey for tenant with every check passing.
func allowTenant(identity *mocks.MockIdentityService, tenant *models.Tenant) {
	identity.On("AuthenticateRequest", mock.Anything, testAPIKey).
		Return(&models.AuthResult{Success: true, Tenant: tenant}, nil)
	identity.On("HasPermission", tenant, mock.Anything).Return(true)
	identity.On("CheckRateLimit", mock.Anything, tenant.ID, constants.RateLimitWindowMinute).Return(true, nil)
}

func assertCode(t *testing.T, err error, code constants.ErrorCode, status int) {
	t.Helper()
	tsaErr, ok := tsaerrors.AsTSAError(err)
	require.True(t, ok, "expected TSAError, got %v", err)
	assert.Equal(t, code, tsaErr.Code())
	assert.Equal(t, status, tsaErr.HTTPStatus())
}

func TestAuthGateway_Authorize(t *testing.T) {
	ctx := context.Background()

	t.Run("should authorize a matching tenant", func(t *testing.T) {
		identity := &mocks.MockIdentityService{}
		allowTenant(identity, acmeTenant())

		tenant, err := NewAuthGateway(identity, nil, logger.NewNoopLogger()).
			Authorize(ctx, testAPIKey, "acme", constants.PermissionSign)

		require.NoError(t, err)
		assert.Equal(t, "acme", tenant.ID)
		identity.AssertExpectations(t)
	})

	t.Run("should fail closed on an empty key without calling the collaborator", func(t *testing.T) {
		identity := &mocks.MockIdentityService{}
		_, err := NewAuthGateway(identity, nil, logger.NewNoopLogger()).
			Authorize(ctx, "", "acme", constants.PermissionSign)

		assertCode(t, err, constants.ErrCodeAuthentication, 401)
		identity.AssertNotCalled(t, "AuthenticateRequest", mock.Anything, mock.Anything)
	})

	t.Run("should fail closed when the collaborator errors", func(t *testing.T) {
		identity := &mocks.MockIdentityService{}
		identity.On("AuthenticateRequest", mock.Anything, testAPIKey).Return(nil, errors.New("identity down"))

		_, err := NewAuthGateway(identity, nil, logger.NewNoopLogger()).
			Authorize(ctx, testAPIKey, "acme", constants.PermissionSign)
		assertCode(t, err, constants.ErrCodeAuthentication, 401)
	})

	t.Run("should reject an unknown key", func(t *testing.T) {
		identity := &mocks.MockIdentityService{}
		identity.On("AuthenticateRequest", mock.Anything, testAPIKey).
			Return(&models.AuthResult{Success: false, Error: "unknown key"}, nil)

		_, err := NewAuthGateway(identity, nil, logger.NewNoopLogger()).
			Authorize(ctx, testAPIKey, "acme", constants.PermissionSign)
		assertCode(t, err, constants.ErrCodeAuthentication, 401)
	})

	t.Run("should return 403 when the declared tenant differs", func(t *testing.T) {
		identity := &mocks.MockIdentityService{}
		allowTenant(identity, acmeTenant())

		_, err := NewAuthGateway(identity, nil, logger.NewNoopLogger()).
			Authorize(ctx, testAPIKey, "globex", constants.PermissionSign)
		assertCode(t, err, constants.ErrCodeAuthorization, 403)
		identity.AssertNotCalled(t, "CheckRateLimit", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("should return 403 without the permission", func(t *testing.T) {
		identity := &mocks.MockIdentityService{}
		tenant := acmeTenant()
		identity.On("AuthenticateRequest", mock.Anything, testAPIKey).
			Return(&models.AuthResult{Success: true, Tenant: tenant}, nil)
		identity.On("HasPermission", tenant, constants.PermissionMetricsRead).Return(false)

		_, err := NewAuthGateway(identity, nil, logger.NewNoopLogger()).
			AuthorizeKey(ctx, testAPIKey, constants.PermissionMetricsRead)
		assertCode(t, err, constants.ErrCodeAuthorization, 403)
	})

	t.Run("should return 429 when the tenant budget is spent", func(t *testing.T) {
		identity := &mocks.MockIdentityService{}
		tenant := acmeTenant()
		identity.On("AuthenticateRequest", mock.Anything, testAPIKey).
			Return(&models.AuthResult{Success: true, Tenant: tenant}, nil)
		identity.On("HasPermission", tenant, mock.Anything).Return(true)
		identity.On("CheckRateLimit", mock.Anything, "acme", constants.RateLimitWindowMinute).Return(false, nil)

		_, err := NewAuthGateway(identity, nil, logger.NewNoopLogger()).
			Authorize(ctx, testAPIKey, "acme", constants.PermissionSign)
		assertCode(t, err, constants.ErrCodeRateLimit, 429)
	})

	t.Run("should fail closed with 429 when the rate limiter errors", func(t *testing.T) {
		identity := &mocks.MockIdentityService{}
		tenant := acmeTenant()
		identity.On("AuthenticateRequest", mock.Anything, testAPIKey).
			Return(&models.AuthResult{Success: true, Tenant: tenant}, nil)
		identity.On("HasPermission", tenant, mock.Anything).Return(true)
		identity.On("CheckRateLimit", mock.Anything, "acme", constants.RateLimitWindowMinute).Return(false, errors.New("redis down"))

		_, err := NewAuthGateway(identity, nil, logger.NewNoopLogger()).
			Authorize(ctx, testAPIKey, "acme", constants.PermissionSign)
		assertCode(t, err, constants.ErrCodeRateLimit, 429)
	})
}

func TestAdminControl(t *testing.T) {
	ctx := context.Background()

	t.Run("should reject a missing or invalid admin token", func(t *testing.T) {
		identity := &mocks.MockIdentityService{}
		identity.On("ValidateAdminToken", mock.Anything, "bad").Return(false)
		admin := NewAdminControl(nil, identity, logger.NewNoopLogger())

		assertCode(t, admin.AuthorizeAdmin(ctx, ""), constants.ErrCodeAuthentication, 401)
		assertCode(t, admin.AuthorizeAdmin(ctx, "bad"), constants.ErrCodeAuthentication, 401)
	})

	t.Run("should return 404 for an unknown tenant policy", func(t *testing.T) {
		identity := &mocks.MockIdentityService{}
		identity.On("GetTenantPolicy", mock.Anything, "ghost", "").Return(nil, nil)
		admin := NewAdminControl(nil, identity, logger.NewNoopLogger())

		_, err := admin.LookupPolicy(ctx, "ghost")
		assertCode(t, err, constants.ErrCodeNotFound, 404)
	})

	t.Run("should return any tenant policy", func(t *testing.T) {
		identity := &mocks.MockIdentityService{}
		identity.On("GetTenantPolicy", mock.Anything, "acme", "").
			Return(&models.TenantPolicy{TenantID: "acme", DefaultPolicy: "1.2.3"}, nil)
		admin := NewAdminControl(nil, identity, logger.NewNoopLogger())

		resp, err := admin.LookupPolicy(ctx, "acme")
		require.NoError(t, err)
		assert.Equal(t, "1.2.3", resp.Policy.DefaultPolicy)
	})
}
