package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nicoladebbia/CredLink-sub020/internal/domain/models"
	"github.com/nicoladebbia/CredLink-sub020/pkg/constants"
	"github.com/nicoladebbia/CredLink-sub020/pkg/errors"
	"github.com/nicoladebbia/CredLink-sub020/pkg/logger"
)

// Response checks. Any of these counts as a provider failure.
var (
	ErrNonceMismatch  = stderrors.New("provider response nonce does not match request")
	ErrPolicyMismatch = stderrors.New("provider response policy does not match requested policy")
	ErrMissingGenTime = stderrors.New("provider response has no genTime")
	ErrEmptyToken     = stderrors.New("provider response has no token")
)

// EngineConfig controls per-request retries.
type EngineConfig struct {
	MaxAttempts int
	CallTimeout time.Duration
}

// TimestampEngine runs one request through the provider set, failing over to the next
// provider until a valid token is returned or the attempt budget is spent.
// TimestampEngine 将请求分发到提供方集合，失败时切换到下一个提供方，
// 直到得到有效令牌或尝试次数耗尽。
type TimestampEngine struct {
	selector ProviderSelector
	client   ProviderClient
	health   HealthReporter
	cfg      EngineConfig
	metrics  Metrics
	log      logger.Logger
	tracer   trace.Tracer
}

var _ Dispatcher = (*TimestampEngine)(nil)

// NewTimestampEngine creates an engine.
func NewTimestampEngine(selector ProviderSelector, client ProviderClient, health HealthReporter, cfg EngineConfig, metrics Metrics, log logger.Logger) *TimestampEngine {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = constants.DefaultMaxAttempts
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = constants.DefaultCallTimeout
	}
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &TimestampEngine{
		selector: selector,
		client:   client,
		health:   health,
		cfg:      cfg,
		metrics:  metrics,
		log:      log.WithComponent("timestamp_engine"),
		tracer:   otel.Tracer(constants.ServiceName + "/engine"),
	}
}

// Execute dispatches a validated request directly, bypassing admission.
func (e *TimestampEngine) Execute(ctx context.Context, req *models.TimestampRequest) (*models.TimestampResult, error) {
	entry := models.NewQueueEntry(req, "", nil)
	advance(ctx, e.log, entry, models.StateDispatched)
	return e.Dispatch(ctx, entry)
}

// Dispatch runs an entry already in the Dispatched state to a terminal state.
func (e *TimestampEngine) Dispatch(ctx context.Context, entry *models.QueueEntry) (*models.TimestampResult, error) {
	ctx, span := e.tracer.Start(ctx, "TimestampEngine.Dispatch", trace.WithAttributes(
		attribute.String("tenant_id", entry.TenantID),
		attribute.String("hash_alg", entry.Request.HashAlg().String()),
	))
	defer span.End()

	tried := make(map[string]struct{}, e.cfg.MaxAttempts)
	var lastErr error

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if !advance(ctx, e.log, entry, models.StateDispatched) {
				break
			}
		}

		provider, err := e.selector.Select(entry.Request, tried)
		if err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}
		tried[provider.ID] = struct{}{}
		entry.Attempts = attempt

		resp, err := e.attempt(ctx, provider, entry.Request)
		if err == nil {
			advance(ctx, e.log, entry, models.StateCompleted)
			span.SetAttributes(
				attribute.String("provider_id", provider.ID),
				attribute.Int("attempts", attempt),
			)
			return models.NewTimestampResult(provider.ID, resp, attempt), nil
		}

		if ctx.Err() != nil {
			// The caller gave up; the provider is not to blame.
			advance(ctx, e.log, entry, models.StateExhausted)
			span.SetStatus(codes.Error, "dispatch cancelled")
			return nil, ctx.Err()
		}

		lastErr = err
		e.health.ReportFailure(provider.ID, err)
		e.log.Warn(ctx, "Timestamp attempt failed",
			logger.String("provider_id", provider.ID),
			logger.Int("attempt", attempt),
			logger.Error(err),
		)

		if attempt == e.cfg.MaxAttempts {
			break
		}
		advance(ctx, e.log, entry, models.StateRetrying)
	}

	advance(ctx, e.log, entry, models.StateExhausted)
	span.SetStatus(codes.Error, "providers exhausted")
	if lastErr != nil {
		span.RecordError(lastErr)
	}
	return nil, errors.ErrProviderExhausted().WithCause(lastErr)
}

func (e *TimestampEngine) attempt(ctx context.Context, provider *models.Provider, req *models.TimestampRequest) (*models.ProviderResponse, error) {
	timeout := e.cfg.CallTimeout
	if provider.Timeout > 0 && provider.Timeout < timeout {
		timeout = provider.Timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	callCtx, span := e.tracer.Start(callCtx, "ProviderClient.Timestamp", trace.WithAttributes(
		attribute.String("provider_id", provider.ID),
	))
	defer span.End()

	start := time.Now()
	resp, err := e.client.Timestamp(callCtx, provider, req)
	elapsed := time.Since(start)
	if err != nil && ctx.Err() != nil {
		// Only the per-call timeout counts against the provider.
		span.SetStatus(codes.Error, "caller cancelled")
		return nil, ctx.Err()
	}
	if err == nil {
		err = validateResponse(req, resp)
	}
	e.metrics.RecordProviderCall(provider.ID, err == nil, elapsed)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("provider %s: %w", provider.ID, err)
	}

	e.health.ReportSuccess(provider.ID, elapsed)
	return resp, nil
}

// validateResponse checks the fields the broker is responsible for: the nonce echo, the
// requested policy and the presence of genTime.
func validateResponse(req *models.TimestampRequest, resp *models.ProviderResponse) error {
	if resp == nil || len(resp.Token) == 0 {
		return ErrEmptyToken
	}
	if req.HasNonce() {
		if resp.Nonce == nil || resp.Nonce.Cmp(req.Nonce()) != 0 {
			return ErrNonceMismatch
		}
	}
	if p := req.ReqPolicy(); p != "" && resp.PolicyOID != p {
		return ErrPolicyMismatch
	}
	if resp.GenTime.IsZero() {
		return ErrMissingGenTime
	}
	return nil
}
