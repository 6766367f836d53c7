package service

import (
	"context"

	"github.com/nicoladebbia/CredLink-sub020/internal/application/dto"
	"github.com/nicoladebbia/CredLink-sub020/internal/domain/service"
	"github.com/nicoladebbia/CredLink-sub020/pkg/constants"
	"github.com/nicoladebbia/CredLink-sub020/pkg/errors"
	"github.com/nicoladebbia/CredLink-sub020/pkg/logger"
)

// QueueDrainer forces a drain pass.
type QueueDrainer interface {
	Drain(ctx context.Context) (service.DrainReport, error)
}

// AdminControl serves operator actions. Callers must pass AuthorizeAdmin first; tenant keys
// are never accepted here.
// AdminControl 提供运维操作。调用方必须先通过 AuthorizeAdmin；此处从不接受租户密钥。
type AdminControl struct {
	drainer  QueueDrainer
	identity service.IdentityService
	logger   logger.Logger
}

// NewAdminControl creates the admin service.
func NewAdminControl(drainer QueueDrainer, identity service.IdentityService, log logger.Logger) *AdminControl {
	return &AdminControl{
		drainer:  drainer,
		identity: identity,
		logger:   log.WithComponent("admin_control"),
	}
}

// AuthorizeAdmin verifies the admin bearer credential.
func (a *AdminControl) AuthorizeAdmin(ctx context.Context, token string) error {
	if token == "" || !a.identity.ValidateAdminToken(ctx, token) {
		a.logger.Warn(ctx, "Admin authentication failed")
		return errors.ErrAdminAuthentication()
	}
	return nil
}

// Drain forces an immediate queue pass.
func (a *AdminControl) Drain(ctx context.Context) (*dto.DrainResponse, error) {
	report, err := a.drainer.Drain(ctx)
	if err != nil {
		return nil, errors.ErrInternal(err)
	}
	a.logger.Info(ctx, "Admin forced queue drain",
		logger.Int("dispatched", report.Dispatched),
		logger.Int("expired", report.Expired),
		logger.Int("remaining", report.Remaining),
	)
	return &dto.DrainResponse{
		Success:    true,
		Dispatched: report.Dispatched,
		Expired:    report.Expired,
		Remaining:  report.Remaining,
	}, nil
}

// LookupPolicy returns any tenant's policy.
func (a *AdminControl) LookupPolicy(ctx context.Context, tenantID string) (*dto.PolicyResponse, error) {
	policy, err := a.identity.GetTenantPolicy(ctx, tenantID, "")
	if err != nil {
		if _, ok := errors.AsTSAError(err); ok {
			return nil, err
		}
		return nil, errors.ErrInternal(err)
	}
	if policy == nil {
		return nil, errors.ErrNotFound(constants.MsgPolicyNotFound)
	}
	return &dto.PolicyResponse{Success: true, Policy: policy}, nil
}
