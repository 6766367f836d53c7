package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nicoladebbia/CredLink-sub020/internal/application/dto"
	"github.com/nicoladebbia/CredLink-sub020/internal/domain/models"
	"github.com/nicoladebbia/CredLink-sub020/internal/domain/service"
	"github.com/nicoladebbia/CredLink-sub020/pkg/constants"
	"github.com/nicoladebbia/CredLink-sub020/pkg/errors"
	"github.com/nicoladebbia/CredLink-sub020/pkg/logger"
)

// completionTimeout bounds the bookkeeping done after a queued entry finishes.
const completionTimeout = 5 * time.Second

// TimestampAppService defines the application service interface for the tenant-facing
// timestamp use cases.
// TimestampAppService 定义面向租户的时间戳用例的应用服务接口。
type TimestampAppService interface {
	// Sign validates, authorizes and dispatches a sign request.
	// Sign 校验、授权并分发签名请求。
	Sign(ctx context.Context, apiKey string, body []byte) (*dto.SignResponse, error)

	// Status reports provider health, queue state and uptime.
	// Status 报告提供方健康状况、队列状态和运行时长。
	Status(ctx context.Context, apiKey string) (*dto.StatusResponse, error)

	// GetPolicy returns the caller's own tenant policy.
	// GetPolicy 返回调用方自身的租户策略。
	GetPolicy(ctx context.Context, apiKey, tenantID string) (*dto.PolicyResponse, error)

	// AuthorizeMetrics checks that apiKey may scrape metrics.
	// AuthorizeMetrics 检查 apiKey 是否可以抓取指标。
	AuthorizeMetrics(ctx context.Context, apiKey string) error
}

// Admitter is the admission side of the scheduler.
type Admitter interface {
	Submit(ctx context.Context, entry *models.QueueEntry) (*models.TimestampResult, error)
	Stats() service.SchedulerStats
}

// StatusSource exposes provider health snapshots.
type StatusSource interface {
	Snapshot() []models.ProviderStatus
}

// TimestampAppDeps groups the collaborators of the timestamp application service.
// Idempotency, Receipts and Audit are optional.
type TimestampAppDeps struct {
	Validator   *RequestValidator
	Gateway     *AuthGateway
	Identity    service.IdentityService
	Scheduler   Admitter
	Registry    StatusSource
	Idempotency service.IdempotencyStore
	Receipts    service.ReceiptStore
	Audit       service.AuditPublisher
	Metrics     service.Metrics
	RetryAfter  time.Duration
	StartedAt   time.Time
}

type timestampAppServiceImpl struct {
	deps   TimestampAppDeps
	group  singleflight.Group
	logger logger.Logger
	now    func() time.Time
}

// NewTimestampAppService creates a new instance of TimestampAppService.
// NewTimestampAppService 创建时间戳应用服务实例。
func NewTimestampAppService(deps TimestampAppDeps, log logger.Logger) TimestampAppService {
	if deps.Metrics == nil {
		deps.Metrics = service.NoopMetrics{}
	}
	if deps.RetryAfter <= 0 {
		deps.RetryAfter = constants.DefaultRetryAfter
	}
	if deps.StartedAt.IsZero() {
		deps.StartedAt = time.Now()
	}
	return &timestampAppServiceImpl{
		deps:   deps,
		logger: log.WithComponent("timestamp_app_service"),
		now:    time.Now,
	}
}

// Sign runs the full pipeline: decode, authorize against the declared tenant, validate,
// dedupe, admit. Identical concurrent requests share one dispatch.
func (s *timestampAppServiceImpl) Sign(ctx context.Context, apiKey string, body []byte) (*dto.SignResponse, error) {
	fields, err := s.deps.Validator.Parse(body)
	if err != nil {
		s.deps.Metrics.RecordSignRequest(string(models.OutcomeRejected))
		return nil, err
	}

	if _, err := s.deps.Gateway.Authorize(ctx, apiKey, DeclaredTenant(fields), constants.PermissionSign); err != nil {
		s.deps.Metrics.RecordSignRequest(string(models.OutcomeRejected))
		return nil, err
	}

	req, err := s.deps.Validator.ValidateFields(fields)
	if err != nil {
		s.deps.Metrics.RecordSignRequest(string(models.OutcomeRejected))
		return nil, err
	}

	key := IdempotencyKey(req)
	v, err, shared := s.group.Do(key, func() (interface{}, error) {
		return s.signOnce(ctx, req, key)
	})
	if shared {
		s.logger.Debug(ctx, "Collapsed duplicate sign request", logger.String("tenant_id", req.TenantID()))
	}
	if err != nil {
		return nil, err
	}
	return v.(*dto.SignResponse), nil
}

func (s *timestampAppServiceImpl) signOnce(ctx context.Context, req *models.TimestampRequest, key string) (*dto.SignResponse, error) {
	if s.deps.Idempotency != nil {
		state, payload, err := s.deps.Idempotency.Begin(ctx, key)
		switch {
		case err != nil:
			s.logger.Warn(ctx, "Idempotency store unavailable, continuing without it", logger.Error(err))
		case state == service.IdempotencyDone:
			var resp dto.SignResponse
			if jsonErr := json.Unmarshal(payload, &resp); jsonErr == nil {
				s.deps.Metrics.RecordSignRequest(string(models.OutcomeReplayed))
				return &resp, nil
			}
			s.logger.Warn(ctx, "Discarding unreadable idempotent result", logger.String("tenant_id", req.TenantID()))
			s.release(ctx, key)
		case state == service.IdempotencyPending:
			return nil, errors.ErrBackpressure(constants.MsgInProgress, s.deps.RetryAfter)
		}
	}

	entry := models.NewQueueEntry(req, key, s.onQueuedComplete)
	result, err := s.deps.Scheduler.Submit(ctx, entry)
	if err != nil {
		if errors.HasCode(err, constants.ErrCodeBackpressure) {
			s.deps.Metrics.RecordSignRequest(string(models.OutcomeQueued))
			s.publish(ctx, req, models.OutcomeQueued, nil, err)
			return nil, err
		}
		s.release(ctx, key)
		outcome := outcomeFor(err)
		s.deps.Metrics.RecordSignRequest(string(outcome))
		s.publish(ctx, req, outcome, nil, err)
		return nil, err
	}

	return s.finalize(ctx, req, key, result), nil
}

// onQueuedComplete finishes bookkeeping for an entry that was answered with 202. The
// outcome becomes visible to the client through the idempotency record.
func (s *timestampAppServiceImpl) onQueuedComplete(entry *models.QueueEntry, result *models.TimestampResult, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), completionTimeout)
	defer cancel()

	if err != nil {
		s.release(ctx, entry.IdempotencyKey)
		outcome := outcomeFor(err)
		s.deps.Metrics.RecordSignRequest(string(outcome))
		s.publish(ctx, entry.Request, outcome, nil, err)
		s.logger.Info(ctx, "Queued request failed",
			logger.String("entry_id", entry.ID),
			logger.String("tenant_id", entry.TenantID),
			logger.String("outcome", string(outcome)),
		)
		return
	}
	s.finalize(ctx, entry.Request, entry.IdempotencyKey, result)
}

func (s *timestampAppServiceImpl) finalize(ctx context.Context, req *models.TimestampRequest, key string, result *models.TimestampResult) *dto.SignResponse {
	resp := dto.NewSignResponse(result)

	if s.deps.Idempotency != nil {
		if payload, err := json.Marshal(resp); err == nil {
			if err := s.deps.Idempotency.Complete(ctx, key, payload); err != nil {
				s.logger.Warn(ctx, "Failed to store idempotent result", logger.Error(err))
			}
		}
	}
	if s.deps.Receipts != nil {
		if err := s.deps.Receipts.Save(ctx, models.NewTimestampReceipt(req, result)); err != nil {
			s.logger.Error(ctx, "Failed to persist timestamp receipt", err,
				logger.String("tenant_id", req.TenantID()),
				logger.String("tsa_id", result.TSAID),
			)
		}
	}

	s.deps.Metrics.RecordSignRequest(string(models.OutcomeIssued))
	s.publish(ctx, req, models.OutcomeIssued, result, nil)
	s.logger.Info(ctx, "Timestamp issued",
		logger.String("tenant_id", req.TenantID()),
		logger.String("tsa_id", result.TSAID),
		logger.Int("attempts", result.Attempts),
	)
	return resp
}

func (s *timestampAppServiceImpl) release(ctx context.Context, key string) {
	if s.deps.Idempotency == nil || key == "" {
		return
	}
	if err := s.deps.Idempotency.Release(ctx, key); err != nil {
		s.logger.Warn(ctx, "Failed to release idempotency key", logger.Error(err))
	}
}

func (s *timestampAppServiceImpl) publish(ctx context.Context, req *models.TimestampRequest, outcome models.IssuanceOutcome, result *models.TimestampResult, cause error) {
	if s.deps.Audit == nil {
		return
	}
	event := models.NewIssuanceEvent(req.TenantID(), outcome)
	event.HashAlg = req.HashAlg().String()
	event.PolicyOID = req.ReqPolicy()
	if rid, ok := ctx.Value(constants.ContextKeyRequestID).(string); ok {
		event.RequestID = rid
	}
	if result != nil {
		event.ProviderID = result.TSAID
		event.PolicyOID = result.PolicyOID
		event.Attempts = result.Attempts
	}
	if tsaErr, ok := errors.AsTSAError(cause); ok {
		event.ErrorCode = string(tsaErr.Code())
	}
	if err := s.deps.Audit.Publish(ctx, event); err != nil {
		s.logger.Warn(ctx, "Failed to publish issuance event", logger.Error(err))
	}
}

// Status reports provider health, queue state and uptime.
func (s *timestampAppServiceImpl) Status(ctx context.Context, apiKey string) (*dto.StatusResponse, error) {
	if _, err := s.deps.Gateway.AuthorizeKey(ctx, apiKey, constants.PermissionRead); err != nil {
		return nil, err
	}
	now := s.now()
	return dto.NewStatusResponse(s.deps.Registry.Snapshot(), s.deps.Scheduler.Stats(), now.Sub(s.deps.StartedAt), now), nil
}

// GetPolicy returns the caller's own tenant policy.
func (s *timestampAppServiceImpl) GetPolicy(ctx context.Context, apiKey, tenantID string) (*dto.PolicyResponse, error) {
	if _, err := s.deps.Gateway.Authorize(ctx, apiKey, tenantID, constants.PermissionPolicyRead); err != nil {
		return nil, err
	}
	policy, err := s.deps.Identity.GetTenantPolicy(ctx, tenantID, apiKey)
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

// AuthorizeMetrics checks that apiKey may scrape metrics.
func (s *timestampAppServiceImpl) AuthorizeMetrics(ctx context.Context, apiKey string) error {
	_, err := s.deps.Gateway.AuthorizeKey(ctx, apiKey, constants.PermissionMetricsRead)
	return err
}

// IdempotencyKey derives the sign dedupe key from tenant, hash algorithm,
// imprint, requested policy and nonce.
func IdempotencyKey(req *models.TimestampRequest) string {
	h := sha256.New()
	h.Write([]byte(req.TenantID()))
	h.Write([]byte{0})
	h.Write([]byte(req.HashAlg().String()))
	h.Write([]byte{0})
	h.Write(req.Imprint())
	h.Write([]byte{0})
	h.Write([]byte(req.ReqPolicy()))
	h.Write([]byte{0})
	if n := req.Nonce(); n != nil {
		h.Write([]byte(n.String()))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func outcomeFor(err error) models.IssuanceOutcome {
	tsaErr, ok := errors.AsTSAError(err)
	if !ok {
		return models.OutcomeError
	}
	switch tsaErr.Code() {
	case constants.ErrCodeProviderExhausted:
		return models.OutcomeExhausted
	case constants.ErrCodeQueueFull:
		return models.OutcomeQueueFull
	case constants.ErrCodeQueueExpired:
		return models.OutcomeExpired
	default:
		return models.OutcomeError
	}
}
