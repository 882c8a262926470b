package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/manthysbr/pharmaflow/internal/core/domain"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrQueueFull is returned by SubmitJob when the pending queue is at capacity.
	ErrQueueFull = errors.New("scheduling queue full")
	// ErrSchedulerStopped is the cancellation cause handed to jobs still
	// queued at shutdown, and the error SubmitJob returns afterwards.
	ErrSchedulerStopped = errors.New("scheduler stopped")
)

// SchedulerConfig defines concurrency limits
type SchedulerConfig struct {
	MaxConcurrentJobs int64
	QueueSize         int
}

// JobHandler runs one job to its terminal status.
type JobHandler func(ctx context.Context, id domain.JobID)

// JobScheduler runs submitted jobs on a bounded pool. Each running job has
// its own cancel func so it can be stopped individually.
type JobScheduler struct {
	logger       *slog.Logger
	pendingQueue chan domain.JobID
	semaphore    *semaphore.Weighted
	wg           sync.WaitGroup

	mu        sync.Mutex
	running   map[domain.JobID]context.CancelFunc
	cancelled map[domain.JobID]bool
	stopping  bool
	started   context.Context
	drained   chan struct{}
}

func NewJobScheduler(logger *slog.Logger, cfg SchedulerConfig) *JobScheduler {
	limit := cfg.MaxConcurrentJobs
	if limit <= 0 {
		limit = 10
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 100
	}

	return &JobScheduler{
		logger:       logger,
		pendingQueue: make(chan domain.JobID, size),
		semaphore:    semaphore.NewWeighted(limit),
		running:      make(map[domain.JobID]context.CancelFunc),
		cancelled:    make(map[domain.JobID]bool),
	}
}

// SubmitJob adds a job to the scheduling queue without blocking.
func (s *JobScheduler) SubmitJob(ctx context.Context, id domain.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return ErrSchedulerStopped
	}

	select {
	case s.pendingQueue <- id:
		s.logger.Info("job submitted", "job_id", id)
		return nil
	default:
		return ErrQueueFull
	}
}

// Start consumes the queue until ctx is done. Jobs still queued at that
// point are handed to handler with a context already cancelled with
// ErrSchedulerStopped, so each one reaches a terminal status.
func (s *JobScheduler) Start(ctx context.Context, handler JobHandler) {
	s.logger.Info("starting job scheduler")

	s.mu.Lock()
	s.started = ctx
	s.drained = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.drained)
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("stopping scheduler")
				s.drain(ctx, handler)
				return
			case id := <-s.pendingQueue:
				if err := s.semaphore.Acquire(ctx, 1); err != nil || ctx.Err() != nil {
					if err == nil {
						s.semaphore.Release(1)
					}
					s.logger.Info("stopping scheduler")
					s.stop(ctx, handler, id)
					s.drain(ctx, handler)
					return
				}

				jobCtx, cancel := context.WithCancel(ctx)
				if !s.track(id, cancel) {
					// cancelled while queued; the handler still runs to record it
					cancel()
				}

				s.wg.Add(1)
				go func() {
					defer s.wg.Done()
					defer s.semaphore.Release(1)
					defer s.untrack(id)
					handler(jobCtx, id)
				}()
			}
		}
	}()
}

// drain closes the queue to new submissions and stops every job left in it.
func (s *JobScheduler) drain(ctx context.Context, handler JobHandler) {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()

	for {
		select {
		case id := <-s.pendingQueue:
			s.stop(ctx, handler, id)
		default:
			return
		}
	}
}

// stop runs handler for a job that will never start. A job cancelled while
// queued keeps a plain cancellation; the rest carry ErrSchedulerStopped.
func (s *JobScheduler) stop(ctx context.Context, handler JobHandler, id domain.JobID) {
	s.mu.Lock()
	cause := ErrSchedulerStopped
	if s.cancelled[id] {
		delete(s.cancelled, id)
		cause = context.Canceled
	}
	s.mu.Unlock()

	stopCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	cancel(cause)
	s.logger.Warn("job dropped at shutdown", "job_id", id)
	handler(stopCtx, id)
}

// Cancel stops a running job, or marks a queued one so it starts cancelled.
func (s *JobScheduler) Cancel(id domain.JobID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.running[id]; ok {
		cancel()
		return
	}
	s.cancelled[id] = true
}

// Running reports the ids of jobs currently executing.
func (s *JobScheduler) Running() []domain.JobID {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]domain.JobID, 0, len(s.running))
	for id := range s.running {
		ids = append(ids, id)
	}
	return ids
}

// Wait blocks until every started job has returned. Once Start's context is
// done it also waits for the queued jobs to be stopped.
func (s *JobScheduler) Wait() {
	s.mu.Lock()
	started, drained := s.started, s.drained
	s.mu.Unlock()
	if started != nil && started.Err() != nil {
		<-drained
	}
	s.wg.Wait()
}

func (s *JobScheduler) track(id domain.JobID, cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[id] = cancel
	if s.cancelled[id] {
		delete(s.cancelled, id)
		return false
	}
	return true
}

func (s *JobScheduler) untrack(id domain.JobID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.running[id]; ok {
		cancel()
		delete(s.running, id)
	}
}
