package service_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicoladebbia/CredLink-sub020/internal/domain/models"
	"github.com/nicoladebbia/CredLink-sub020/internal/domain/service"
	"github.com/nicoladebbia/CredLink-sub020/pkg/constants"
	tsaerrors "github.com/nicoladebbia/CredLink-sub020/pkg/errors"
	"github.com/nicoladebbia/CredLink-sub020/pkg/logger"
)

// gatedDispatcher blocks every dispatch until release is closed.
type gatedDispatcher struct {
	release chan struct{}
	calls   atomic.Int32
}

func newGatedDispatcher() *gatedDispatcher {
	return &gatedDispatcher{release: make(chan struct{})}
}

func (d *gatedDispatcher) Dispatch(ctx context.Context, entry *models.QueueEntry) (*models.TimestampResult, error) {
	d.calls.Add(1)
	select {
	case <-d.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &models.TimestampResult{TSAID: "a", Token: []byte{0x30}, GenTime: time.Now().UTC()}, nil
}

type completion struct {
	result *models.TimestampResult
	err    error
}

func recordingEntry(req *models.TimestampRequest) (*models.QueueEntry, chan completion) {
	ch := make(chan completion, 1)
	entry := models.NewQueueEntry(req, "", func(_ *models.QueueEntry, res *models.TimestampResult, err error) {
		ch <- completion{result: res, err: err}
	})
	return entry, ch
}

func newTestScheduler(t *testing.T, cfg service.SchedulerConfig, d service.Dispatcher, registry *service.ProviderRegistry) *service.Scheduler {
	t.Helper()
	s := service.NewScheduler(cfg, d, registry, nil, logger.NewNoopLogger())
	s.Start()
	t.Cleanup(func() {
		_ = s.Stop(context.Background())
	})
	return s
}

func TestScheduler_Admission(t *testing.T) {
	registry := service.NewProviderRegistry(testProviders("a"))
	dispatcher := newGatedDispatcher()
	s := newTestScheduler(t, service.SchedulerConfig{
		MaxQueueSize:          1,
		MaxConcurrentDispatch: 1,
		QueueTTL:              time.Minute,
		DrainInterval:         time.Hour,
		RetryAfter:            5 * time.Second,
	}, dispatcher, registry)

	firstDone := make(chan completion, 1)
	go func() {
		res, err := s.Submit(context.Background(), models.NewQueueEntry(sha256Request("acme"), "", nil))
		firstDone <- completion{result: res, err: err}
	}()
	require.Eventually(t, func() bool { return s.Stats().InFlight == 1 }, time.Second, time.Millisecond)

	queued, queuedDone := recordingEntry(sha256Request("acme"))

	t.Run("should queue with 202 when dispatch capacity is exhausted", func(t *testing.T) {
		_, err := s.Submit(context.Background(), queued)
		tsaErr, ok := tsaerrors.AsTSAError(err)
		require.True(t, ok)
		assert.Equal(t, constants.ErrCodeBackpressure, tsaErr.Code())
		assert.Equal(t, 202, tsaErr.HTTPStatus())
		assert.Equal(t, 5*time.Second, tsaErr.RetryAfter())
		assert.Equal(t, models.StateQueued, queued.State)
		assert.Equal(t, 1, s.Stats().QueueDepth)
	})

	t.Run("should reject with 503 when the queue is full", func(t *testing.T) {
		_, err := s.Submit(context.Background(), models.NewQueueEntry(sha256Request("acme"), "", nil))
		tsaErr, ok := tsaerrors.AsTSAError(err)
		require.True(t, ok)
		assert.Equal(t, constants.ErrCodeQueueFull, tsaErr.Code())
		assert.Equal(t, 503, tsaErr.HTTPStatus())
		assert.Equal(t, 1, s.Stats().QueueDepth)
	})

	t.Run("should dispatch the queued entry once capacity frees up", func(t *testing.T) {
		close(dispatcher.release)

		first := <-firstDone
		require.NoError(t, first.err)
		assert.Equal(t, "a", first.result.TSAID)

		select {
		case c := <-queuedDone:
			require.NoError(t, c.err)
			assert.Equal(t, "a", c.result.TSAID)
		case <-time.After(2 * time.Second):
			t.Fatal("queued entry was never dispatched")
		}
		assert.Equal(t, int32(2), dispatcher.calls.Load())
		assert.Zero(t, s.Stats().QueueDepth)
	})
}

func TestScheduler_NoProviderAvailable(t *testing.T) {
	registry := service.NewProviderRegistry(testProviders("a", "b"))
	monitor := newMonitor(registry)
	for _, id := range []string{"a", "b"} {
		monitor.ReportFailure(id, errors.New("down"))
		monitor.ReportFailure(id, errors.New("down"))
	}
	dispatcher := newGatedDispatcher()
	s := newTestScheduler(t, service.SchedulerConfig{
		MaxQueueSize:          10,
		MaxConcurrentDispatch: 1,
		QueueTTL:              time.Minute,
		DrainInterval:         time.Hour,
		RetryAfter:            time.Second,
	}, dispatcher, registry)

	_, err := s.Submit(context.Background(), models.NewQueueEntry(sha256Request("acme"), "", nil))

	assert.True(t, tsaerrors.HasCode(err, constants.ErrCodeProviderExhausted))
	assert.Zero(t, dispatcher.calls.Load())
	assert.Zero(t, s.Stats().QueueDepth)
	assert.Zero(t, s.Stats().InFlight)
}

func TestScheduler_ExpiresStaleEntries(t *testing.T) {
	registry := service.NewProviderRegistry(testProviders("a"))
	dispatcher := newGatedDispatcher()
	s := newTestScheduler(t, service.SchedulerConfig{
		MaxQueueSize:          5,
		MaxConcurrentDispatch: 1,
		QueueTTL:              30 * time.Millisecond,
		DrainInterval:         time.Hour,
		RetryAfter:            time.Second,
	}, dispatcher, registry)

	go func() {
		_, _ = s.Submit(context.Background(), models.NewQueueEntry(sha256Request("acme"), "", nil))
	}()
	require.Eventually(t, func() bool { return s.Stats().InFlight == 1 }, time.Second, time.Millisecond)

	var done []chan completion
	for i := 0; i < 3; i++ {
		entry, ch := recordingEntry(sha256Request("acme"))
		_, err := s.Submit(context.Background(), entry)
		require.True(t, tsaerrors.HasCode(err, constants.ErrCodeBackpressure))
		done = append(done, ch)
	}
	require.Equal(t, 3, s.Stats().QueueDepth)

	time.Sleep(60 * time.Millisecond)
	report, err := s.Drain(context.Background())
	require.NoError(t, err)

	t.Run("should remove expired entries from the queue", func(t *testing.T) {
		assert.Equal(t, service.DrainReport{Dispatched: 0, Expired: 3, Remaining: 0}, report)
		assert.Zero(t, s.Stats().QueueDepth)
	})

	t.Run("should resolve expired entries as unavailable", func(t *testing.T) {
		for _, ch := range done {
			c := <-ch
			assert.Nil(t, c.result)
			assert.True(t, tsaerrors.HasCode(c.err, constants.ErrCodeQueueExpired))
		}
	})

	t.Run("should never dispatch expired entries", func(t *testing.T) {
		close(dispatcher.release)
		require.Eventually(t, func() bool { return s.Stats().InFlight == 0 }, time.Second, time.Millisecond)
		assert.Equal(t, int32(1), dispatcher.calls.Load())
	})
}

func TestScheduler_StopResolvesPending(t *testing.T) {
	registry := service.NewProviderRegistry(testProviders("a"))
	dispatcher := newGatedDispatcher()
	s := service.NewScheduler(service.SchedulerConfig{
		MaxQueueSize:          5,
		MaxConcurrentDispatch: 1,
		QueueTTL:              time.Minute,
		DrainInterval:         time.Hour,
		RetryAfter:            time.Second,
	}, dispatcher, registry, nil, logger.NewNoopLogger())
	s.Start()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = s.Submit(context.Background(), models.NewQueueEntry(sha256Request("acme"), "", nil))
	}()
	require.Eventually(t, func() bool { return s.Stats().InFlight == 1 }, time.Second, time.Millisecond)

	entry, ch := recordingEntry(sha256Request("acme"))
	_, err := s.Submit(context.Background(), entry)
	require.Error(t, err)

	stopErr := make(chan error, 1)
	go func() { stopErr <- s.Stop(context.Background()) }()

	select {
	case c := <-ch:
		assert.Nil(t, c.result)
		assert.True(t, tsaerrors.HasCode(c.err, constants.ErrCodeProviderExhausted))
	case <-time.After(time.Second):
		t.Fatal("pending entry was not resolved")
	}

	close(dispatcher.release)
	require.NoError(t, <-stopErr)
	wg.Wait()

	_, err = s.Submit(context.Background(), models.NewQueueEntry(sha256Request("acme"), "", nil))
	assert.True(t, tsaerrors.HasCode(err, constants.ErrCodeProviderExhausted))
}

func TestScheduler_StopInterruptsQueuedDispatch(t *testing.T) {
	registry := service.NewProviderRegistry(testProviders("a"))
	dispatcher := newGatedDispatcher()
	s := service.NewScheduler(service.SchedulerConfig{
		MaxQueueSize:          5,
		MaxConcurrentDispatch: 1,
		QueueTTL:              time.Minute,
		DrainInterval:         time.Hour,
		RetryAfter:            time.Second,
	}, dispatcher, registry, nil, logger.NewNoopLogger())
	s.Start()

	callerCtx, hangUp := context.WithCancel(context.Background())
	direct := make(chan error, 1)
	go func() {
		_, err := s.Submit(callerCtx, models.NewQueueEntry(sha256Request("acme"), "", nil))
		direct <- err
	}()
	require.Eventually(t, func() bool { return s.Stats().InFlight == 1 }, time.Second, time.Millisecond)

	entry, ch := recordingEntry(sha256Request("acme"))
	_, err := s.Submit(context.Background(), entry)
	require.True(t, tsaerrors.HasCode(err, constants.ErrCodeBackpressure))

	// freeing the slot lets the queued entry start on the scheduler's own context
	hangUp()
	assert.ErrorIs(t, <-direct, context.Canceled)
	require.Eventually(t, func() bool { return dispatcher.calls.Load() == 2 }, time.Second, time.Millisecond)

	require.NoError(t, s.Stop(context.Background()))

	select {
	case c := <-ch:
		assert.Nil(t, c.result)
		assert.True(t, tsaerrors.HasCode(c.err, constants.ErrCodeProviderExhausted))
	case <-time.After(time.Second):
		t.Fatal("in-flight queued entry was not resolved")
	}
}
