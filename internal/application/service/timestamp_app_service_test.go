package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/nicoladebbia/CredLink-sub020/internal/application/dto"
	"github.com/nicoladebbia/CredLink-sub020/internal/domain/models"
	"github.com/nicoladebbia/CredLink-sub020/internal/domain/service"
	"github.com/nicoladebbia/CredLink-sub020/internal/domain/service/mocks"
	"github.com/nicoladebbia/CredLink-sub020/pkg/constants"
	tsaerrors "github.com/nicoladebbia/CredLink-sub020/pkg/errors"
	"github.com/nicoladebbia/CredLink-sub020/pkg/logger"
)

// fakeAdmitter answers Submit with a fixed outcome and records admitted entries.
type fakeAdmitter struct {
	mu      sync.Mutex
	entries []*models.QueueEntry
	result  *models.TimestampResult
	err     error
	stats   service.SchedulerStats
}

func (f *fakeAdmitter) Submit(ctx context.Context, entry *models.QueueEntry) (*models.TimestampResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return f.result, f.err
}

func (f *fakeAdmitter) Stats() service.SchedulerStats { return f.stats }

func (f *fakeAdmitter) submitted() []*models.QueueEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.QueueEntry(nil), f.entries...)
}

type fakeStatusSource struct {
	providers []models.ProviderStatus
}

func (f fakeStatusSource) Snapshot() []models.ProviderStatus { return f.providers }

func issuedResult() *models.TimestampResult {
	return &models.TimestampResult{
		TSAID:     "digicert",
		Token:     []byte{0x30, 0x03, 0x02, 0x01, 0x01},
		PolicyOID: "2.16.840.1.114412.7.1",
		GenTime:   time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC),
		Accuracy:  &models.Accuracy{Seconds: 1},
		Attempts:  1,
	}
}

type appFixture struct {
	svc         TimestampAppService
	admitter    *fakeAdmitter
	identity    *mocks.MockIdentityService
	idempotency *mocks.MockIdempotencyStore
	receipts    *mocks.MockReceiptStore
	audit       *mocks.MockAuditPublisher
}

func newAppFixture() *appFixture {
	f := &appFixture{
		admitter:    &fakeAdmitter{stats: service.SchedulerStats{MaxQueueSize: 1000, MaxConcurrentDispatch: 10}},
		identity:    &mocks.MockIdentityService{},
		idempotency: &mocks.MockIdempotencyStore{},
		receipts:    &mocks.MockReceiptStore{},
		audit:       &mocks.MockAuditPublisher{},
	}
	allowTenant(f.identity, acmeTenant())
	f.audit.On("Publish", mock.Anything, mock.Anything).Return(nil)

	log := logger.NewNoopLogger()
	f.svc = NewTimestampAppService(TimestampAppDeps{
		Validator:   NewRequestValidator(),
		Gateway:     NewAuthGateway(f.identity, nil, log),
		Identity:    f.identity,
		Scheduler:   f.admitter,
		Registry:    fakeStatusSource{providers: []models.ProviderStatus{{Provider: models.Provider{ID: "digicert"}, Health: *models.NewProviderHealth(models.HealthStateHealthy, 42, time.Time{}, 0)}}},
		Idempotency: f.idempotency,
		Receipts:    f.receipts,
		Audit:       f.audit,
		RetryAfter:  3 * time.Second,
		StartedAt:   time.Now().Add(-time.Minute),
	}, log)
	return f
}

func (f *appFixture) outcomes() []models.IssuanceOutcome {
	var out []models.IssuanceOutcome
	for _, call := range f.audit.Calls {
		if call.Method == "Publish" {
			out = append(out, call.Arguments.Get(1).(*models.IssuanceEvent).Outcome)
		}
	}
	return out
}

func TestTimestampAppService_Sign(t *testing.T) {
	ctx := context.Background()

	t.Run("should issue a token and record receipt and audit", func(t *testing.T) {
		f := newAppFixture()
		f.admitter.result = issuedResult()
		f.idempotency.On("Begin", mock.Anything, mock.Anything).Return(service.IdempotencyNew, nil, nil)
		f.idempotency.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return(nil)
		f.receipts.On("Save", mock.Anything, mock.MatchedBy(func(r *models.TimestampReceipt) bool {
			return r.TenantID == "acme" && r.ProviderID == "digicert"
		})).Return(nil)

		resp, err := f.svc.Sign(ctx, testAPIKey, bodyOf(t, validFields()))
		require.NoError(t, err)
		assert.True(t, resp.Success)
		assert.Equal(t, "digicert", resp.TSAID)
		assert.Equal(t, "MAMCAQE=", resp.TST)
		assert.Equal(t, "2026-10-18T12:00:00Z", resp.GenTime)

		require.Len(t, f.admitter.submitted(), 1)
		assert.Equal(t, models.StateAdmitted, f.admitter.submitted()[0].State)
		f.receipts.AssertExpectations(t)
		f.idempotency.AssertExpectations(t)
		assert.Equal(t, []models.IssuanceOutcome{models.OutcomeIssued}, f.outcomes())
	})

	t.Run("should reject SHA-1 before dispatch", func(t *testing.T) {
		f := newAppFixture()
		_, err := f.svc.Sign(ctx, testAPIKey, bodyOf(t, with("hashAlg", constants.OIDSHA1)))

		assertValidation(t, err, constants.MsgHashAlgUnsupported)
		assert.Empty(t, f.admitter.submitted())
		f.idempotency.AssertNotCalled(t, "Begin", mock.Anything, mock.Anything)
	})

	t.Run("should reject a foreign tenant before validation", func(t *testing.T) {
		f := newAppFixture()
		_, err := f.svc.Sign(ctx, testAPIKey, bodyOf(t, with("tenant_id", "globex")))

		assertCode(t, err, constants.ErrCodeAuthorization, 403)
		assert.Empty(t, f.admitter.submitted())
	})

	t.Run("should replay a completed idempotent result", func(t *testing.T) {
		f := newAppFixture()
		stored, err := json.Marshal(dto.NewSignResponse(issuedResult()))
		require.NoError(t, err)
		f.idempotency.On("Begin", mock.Anything, mock.Anything).Return(service.IdempotencyDone, stored, nil)

		resp, err := f.svc.Sign(ctx, testAPIKey, bodyOf(t, validFields()))
		require.NoError(t, err)
		assert.Equal(t, "digicert", resp.TSAID)
		assert.Empty(t, f.admitter.submitted())
	})

	t.Run("should answer 202 while the same request is pending", func(t *testing.T) {
		f := newAppFixture()
		f.idempotency.On("Begin", mock.Anything, mock.Anything).Return(service.IdempotencyPending, nil, nil)

		_, err := f.svc.Sign(ctx, testAPIKey, bodyOf(t, validFields()))
		assertCode(t, err, constants.ErrCodeBackpressure, 202)
		assert.Empty(t, f.admitter.submitted())
	})

	t.Run("should fail open when the idempotency store errors", func(t *testing.T) {
		f := newAppFixture()
		f.admitter.result = issuedResult()
		f.idempotency.On("Begin", mock.Anything, mock.Anything).Return(service.IdempotencyNew, nil, errors.New("redis down"))
		f.idempotency.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("redis down"))
		f.receipts.On("Save", mock.Anything, mock.Anything).Return(nil)

		resp, err := f.svc.Sign(ctx, testAPIKey, bodyOf(t, validFields()))
		require.NoError(t, err)
		assert.Equal(t, "digicert", resp.TSAID)
	})

	t.Run("should keep the key when queued", func(t *testing.T) {
		f := newAppFixture()
		f.admitter.err = tsaerrors.ErrBackpressure(constants.MsgQueued, 3*time.Second)
		f.idempotency.On("Begin", mock.Anything, mock.Anything).Return(service.IdempotencyNew, nil, nil)

		_, err := f.svc.Sign(ctx, testAPIKey, bodyOf(t, validFields()))
		assertCode(t, err, constants.ErrCodeBackpressure, 202)
		f.idempotency.AssertNotCalled(t, "Release", mock.Anything, mock.Anything)
		assert.Equal(t, []models.IssuanceOutcome{models.OutcomeQueued}, f.outcomes())
	})

	t.Run("should release the key when providers are exhausted", func(t *testing.T) {
		f := newAppFixture()
		f.admitter.err = tsaerrors.ErrProviderExhausted()
		f.idempotency.On("Begin", mock.Anything, mock.Anything).Return(service.IdempotencyNew, nil, nil)
		f.idempotency.On("Release", mock.Anything, mock.Anything).Return(nil)

		_, err := f.svc.Sign(ctx, testAPIKey, bodyOf(t, validFields()))
		assertCode(t, err, constants.ErrCodeProviderExhausted, 503)
		f.idempotency.AssertCalled(t, "Release", mock.Anything, mock.Anything)
		assert.Equal(t, []models.IssuanceOutcome{models.OutcomeExhausted}, f.outcomes())
	})

	t.Run("should store the result of a queued entry on completion", func(t *testing.T) {
		f := newAppFixture()
		f.admitter.err = tsaerrors.ErrBackpressure(constants.MsgQueued, 3*time.Second)
		f.idempotency.On("Begin", mock.Anything, mock.Anything).Return(service.IdempotencyNew, nil, nil)
		f.idempotency.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return(nil)
		f.receipts.On("Save", mock.Anything, mock.Anything).Return(nil)

		_, err := f.svc.Sign(ctx, testAPIKey, bodyOf(t, validFields()))
		require.Error(t, err)
		entries := f.admitter.submitted()
		require.Len(t, entries, 1)

		entries[0].Complete(issuedResult(), nil)

		f.idempotency.AssertCalled(t, "Complete", mock.Anything, entries[0].IdempotencyKey, mock.Anything)
		f.receipts.AssertExpectations(t)
		assert.Equal(t, []models.IssuanceOutcome{models.OutcomeQueued, models.OutcomeIssued}, f.outcomes())
	})

	t.Run("should release the key when a queued entry expires", func(t *testing.T) {
		f := newAppFixture()
		f.admitter.err = tsaerrors.ErrBackpressure(constants.MsgQueued, 3*time.Second)
		f.idempotency.On("Begin", mock.Anything, mock.Anything).Return(service.IdempotencyNew, nil, nil)
		f.idempotency.On("Release", mock.Anything, mock.Anything).Return(nil)

		_, _ = f.svc.Sign(ctx, testAPIKey, bodyOf(t, validFields()))
		entries := f.admitter.submitted()
		require.Len(t, entries, 1)

		entries[0].Complete(nil, tsaerrors.ErrQueueExpired())

		f.idempotency.AssertCalled(t, "Release", mock.Anything, entries[0].IdempotencyKey)
		assert.Equal(t, []models.IssuanceOutcome{models.OutcomeQueued, models.OutcomeExpired}, f.outcomes())
	})
}

func TestTimestampAppService_StatusAndPolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("should report providers and queue", func(t *testing.T) {
		f := newAppFixture()
		resp, err := f.svc.Status(ctx, testAPIKey)
		require.NoError(t, err)
		require.Len(t, resp.Providers, 1)
		assert.Equal(t, "digicert", resp.Providers[0].ID)
		assert.True(t, resp.Providers[0].Healthy)
		assert.Equal(t, 1000, resp.Queue.MaxQueueSize)
		assert.GreaterOrEqual(t, resp.UptimeSeconds, int64(59))
	})

	t.Run("should require an API key for status", func(t *testing.T) {
		f := newAppFixture()
		_, err := f.svc.Status(ctx, "")
		assertCode(t, err, constants.ErrCodeAuthentication, 401)
	})

	t.Run("should return the caller's own policy", func(t *testing.T) {
		f := newAppFixture()
		f.identity.On("GetTenantPolicy", mock.Anything, "acme", testAPIKey).
			Return(&models.TenantPolicy{TenantID: "acme", DefaultPolicy: "1.2.3"}, nil)

		resp, err := f.svc.GetPolicy(ctx, testAPIKey, "acme")
		require.NoError(t, err)
		assert.Equal(t, "acme", resp.Policy.TenantID)
	})

	t.Run("should refuse another tenant's policy", func(t *testing.T) {
		f := newAppFixture()
		_, err := f.svc.GetPolicy(ctx, testAPIKey, "globex")
		assertCode(t, err, constants.ErrCodeAuthorization, 403)
	})
}

func TestIdempotencyKey(t *testing.T) {
	v := NewRequestValidator()
	a, err := v.Validate(bodyOf(t, validFields()))
	require.NoError(t, err)
	b, err := v.Validate(bodyOf(t, with("nonce", "43")))
	require.NoError(t, err)
	c, err := v.Validate(bodyOf(t, with("hashAlg", constants.OIDSHA512)))
	require.NoError(t, err)
	d, err := v.Validate(bodyOf(t, with("reqPolicy", "1.3.6.1.4.1.4146.2.3")))
	require.NoError(t, err)
	again, err := v.Validate(bodyOf(t, validFields()))
	require.NoError(t, err)

	t.Run("should be stable for identical requests", func(t *testing.T) {
		assert.Equal(t, IdempotencyKey(a), IdempotencyKey(again))
		assert.Len(t, IdempotencyKey(a), 64)
	})

	t.Run("should separate requests by nonce", func(t *testing.T) {
		assert.NotEqual(t, IdempotencyKey(a), IdempotencyKey(b))
	})

	t.Run("should separate requests by hash algorithm", func(t *testing.T) {
		assert.NotEqual(t, IdempotencyKey(a), IdempotencyKey(c))
	})

	t.Run("should separate requests by requested policy", func(t *testing.T) {
		assert.NotEqual(t, IdempotencyKey(a), IdempotencyKey(d))
	})
}
