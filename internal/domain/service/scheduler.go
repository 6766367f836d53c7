package service

import (
	"context"
	"sync"
	"time"

	"github.com/nicoladebbia/CredLink-sub020/internal/domain/models"
	"github.com/nicoladebbia/CredLink-sub020/pkg/constants"
	"github.com/nicoladebbia/CredLink-sub020/pkg/errors"
	"github.com/nicoladebbia/CredLink-sub020/pkg/logger"
)

// SchedulerConfig bounds admission.
type SchedulerConfig struct {
	MaxQueueSize          int
	MaxConcurrentDispatch int
	QueueTTL              time.Duration
	DrainInterval         time.Duration
	RetryAfter            time.Duration
}

// DrainReport summarizes one drain pass.
type DrainReport struct {
	Dispatched int `json:"dispatched"`
	Expired    int `json:"expired"`
	Remaining  int `json:"remaining"`
}

// SchedulerStats is a point-in-time view of the admission state.
type SchedulerStats struct {
	QueueDepth            int `json:"queue_depth"`
	InFlight              int `json:"in_flight"`
	MaxQueueSize          int `json:"max_queue_size"`
	MaxConcurrentDispatch int `json:"max_concurrent_dispatch"`
}

type dispatchOutcome struct {
	result *models.TimestampResult
	err    error
}

type dispatchJob struct {
	ctx   context.Context
	entry *models.QueueEntry
	done  chan dispatchOutcome
}

// Scheduler admits requests into a fixed pool of dispatch workers, parks overflow in a
// bounded FIFO and rejects beyond that. The queue and the in-flight counter share one mutex
// so that the capacity check and the increment are a single step.
// Scheduler 将请求分配到固定数量的调度工作者，溢出部分放入有界 FIFO 队列，超出则拒绝。
// 队列与在途计数器共用一把互斥锁，容量检查与计数递增是一个原子步骤。
type Scheduler struct {
	cfg        SchedulerConfig
	dispatcher Dispatcher
	selector   ProviderSelector
	metrics    Metrics
	log        logger.Logger
	now        func() time.Time

	mu       sync.Mutex
	queue    *dispatchQueue
	inFlight int
	started  bool
	stopped  bool

	jobs   chan *dispatchJob
	wake   chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup

	baseCtx    context.Context
	cancelBase context.CancelFunc
}

// NewScheduler creates a scheduler. Start launches its workers and drain loop.
func NewScheduler(cfg SchedulerConfig, dispatcher Dispatcher, selector ProviderSelector, metrics Metrics, log logger.Logger) *Scheduler {
	if cfg.MaxConcurrentDispatch < 1 {
		cfg.MaxConcurrentDispatch = constants.DefaultMaxConcurrentDispatch
	}
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = constants.DefaultDrainInterval
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = constants.DefaultRetryAfter
	}
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	base, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:        cfg,
		dispatcher: dispatcher,
		selector:   selector,
		metrics:    metrics,
		log:        log.WithComponent("scheduler"),
		now:        time.Now,
		queue:      newDispatchQueue(cfg.MaxQueueSize),
		jobs:       make(chan *dispatchJob, cfg.MaxConcurrentDispatch),
		wake:       make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
		baseCtx:    base,
		cancelBase: cancel,
	}
}

// Start launches the worker pool and the drain loop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true

	for i := 0; i < s.cfg.MaxConcurrentDispatch; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	s.wg.Add(1)
	go s.drainLoop()
}

// Submit admits an entry. With a free dispatch slot the call blocks until the dispatch
// finishes and returns its outcome. Otherwise the entry is queued and a backpressure error
// carrying the retry hint is returned; its completion callback fires later. When the queue
// is full or no provider is available the call fails immediately and nothing is queued.
func (s *Scheduler) Submit(ctx context.Context, entry *models.QueueEntry) (*models.TimestampResult, error) {
	if _, err := s.selector.Select(entry.Request, nil); err != nil {
		return nil, errors.ErrProviderExhausted().WithCause(err)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, errors.ErrProviderExhausted()
	}

	if s.inFlight < s.cfg.MaxConcurrentDispatch {
		s.inFlight++
		advance(ctx, s.log, entry, models.StateDispatched)
		job := &dispatchJob{ctx: ctx, entry: entry, done: make(chan dispatchOutcome, 1)}
		// Never blocks: the channel holds MaxConcurrentDispatch jobs and inFlight bounds them.
		s.jobs <- job
		s.mu.Unlock()

		select {
		case out := <-job.done:
			return out.result, out.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if !s.queue.Full() {
		entry.EnqueuedAt = s.now()
		advance(ctx, s.log, entry, models.StateQueued)
		s.queue.Push(entry)
		depth := s.queue.Len()
		s.mu.Unlock()

		s.log.Debug(ctx, "Request queued",
			logger.String("entry_id", entry.ID),
			logger.String("tenant_id", entry.TenantID),
			logger.Int("queue_depth", depth),
		)
		return nil, errors.ErrBackpressure(constants.MsgQueued, s.cfg.RetryAfter)
	}
	s.mu.Unlock()

	return nil, errors.ErrQueueFull(s.cfg.RetryAfter)
}

// Drain forces an immediate expiry and dispatch pass.
func (s *Scheduler) Drain(ctx context.Context) (DrainReport, error) {
	if err := ctx.Err(); err != nil {
		return DrainReport{}, err
	}
	report := s.pass()
	s.log.Info(ctx, "Queue drained",
		logger.Int("dispatched", report.Dispatched),
		logger.Int("expired", report.Expired),
		logger.Int("remaining", report.Remaining),
	)
	return report, nil
}

// Stats returns the current queue depth and in-flight count.
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SchedulerStats{
		QueueDepth:            s.queue.Len(),
		InFlight:              s.inFlight,
		MaxQueueSize:          s.cfg.MaxQueueSize,
		MaxConcurrentDispatch: s.cfg.MaxConcurrentDispatch,
	}
}

// Stop rejects new work, resolves every waiting entry as unavailable and stops the workers.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	pending := s.queue.RemoveAll()
	s.mu.Unlock()

	for _, e := range pending {
		e.Complete(nil, errors.ErrProviderExhausted())
	}

	close(s.stopCh)
	s.cancelBase()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	// Jobs accepted but never picked up by a worker.
	for {
		select {
		case job := <-s.jobs:
			s.finish(job, nil, errors.ErrProviderExhausted())
		default:
			s.log.Info(ctx, "Scheduler stopped", logger.Int("resolved_pending", len(pending)))
			return nil
		}
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case job := <-s.jobs:
			result, err := s.dispatcher.Dispatch(job.ctx, job.entry)
			if err != nil && job.done == nil && s.baseCtx.Err() != nil {
				// interrupted by Stop
				err = errors.ErrProviderExhausted().WithCause(err)
			}
			s.release()
			s.finish(job, result, err)
		}
	}
}

func (s *Scheduler) finish(job *dispatchJob, result *models.TimestampResult, err error) {
	if job.done != nil {
		job.done <- dispatchOutcome{result: result, err: err}
		return
	}
	job.entry.Complete(result, err)
}

// release frees a dispatch slot and wakes the drain loop.
func (s *Scheduler) release() {
	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) drainLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.DrainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.pass()
		case <-s.wake:
			s.pass()
		}
	}
}

// pass expires stale entries first, then dispatches FIFO while slots are free. Expired
// entries are never dispatched.
func (s *Scheduler) pass() DrainReport {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return DrainReport{}
	}
	expired := s.queue.RemoveExpired(s.now(), s.cfg.QueueTTL)
	dispatched := 0
	for s.inFlight < s.cfg.MaxConcurrentDispatch && s.queue.Len() > 0 {
		entry := s.queue.Pop()
		s.inFlight++
		advance(s.baseCtx, s.log, entry, models.StateDispatched)
		s.jobs <- &dispatchJob{ctx: s.baseCtx, entry: entry}
		dispatched++
	}
	remaining := s.queue.Len()
	s.mu.Unlock()

	for _, e := range expired {
		advance(s.baseCtx, s.log, e, models.StateExpired)
		e.Complete(nil, errors.ErrQueueExpired())
	}
	if len(expired) > 0 {
		s.metrics.RecordQueueExpired(len(expired))
		s.log.Warn(s.baseCtx, "Expired queued requests", logger.Int("count", len(expired)))
	}

	return DrainReport{Dispatched: dispatched, Expired: len(expired), Remaining: remaining}
}
