package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/pharmaflow/internal/core/domain"
)

func TestJobScheduler_ConcurrencyLimit(t *testing.T) {
	scheduler := NewJobScheduler(discardLogger(), SchedulerConfig{MaxConcurrentJobs: 2})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	totalJobs := 5
	wg.Add(totalJobs)

	scheduler.Start(ctx, func(ctx context.Context, id domain.JobID) {
		defer wg.Done()
		current := running.Add(1)
		for {
			p := peak.Load()
			if current <= p || peak.CompareAndSwap(p, current) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		running.Add(-1)
	})

	for i := 0; i < totalJobs; i++ {
		require.NoError(t, scheduler.SubmitJob(ctx, domain.NewJobID()))
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2), "should not exceed max concurrency")
	assert.Greater(t, peak.Load(), int32(0))
}

func TestJobScheduler_QueueFull(t *testing.T) {
	scheduler := NewJobScheduler(discardLogger(), SchedulerConfig{QueueSize: 1})

	require.NoError(t, scheduler.SubmitJob(context.Background(), "a"))
	assert.ErrorIs(t, scheduler.SubmitJob(context.Background(), "b"), ErrQueueFull)
}

func TestJobScheduler_Cancel(t *testing.T) {
	scheduler := NewJobScheduler(discardLogger(), SchedulerConfig{MaxConcurrentJobs: 1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	result := make(chan error, 1)
	scheduler.Start(ctx, func(ctx context.Context, id domain.JobID) {
		close(started)
		<-ctx.Done()
		result <- ctx.Err()
	})

	require.NoError(t, scheduler.SubmitJob(ctx, "job-1"))
	<-started
	scheduler.Cancel("job-1")

	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("job was not cancelled")
	}
	scheduler.Wait()
	assert.Empty(t, scheduler.Running())
}

func TestJobScheduler_CancelWhileQueued(t *testing.T) {
	scheduler := NewJobScheduler(discardLogger(), SchedulerConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduler.Cancel("queued")
	require.NoError(t, scheduler.SubmitJob(ctx, "queued"))

	result := make(chan error, 1)
	scheduler.Start(ctx, func(ctx context.Context, id domain.JobID) {
		result <- ctx.Err()
	})

	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("handler did not run")
	}
}

func TestJobScheduler_ShutdownStopsQueuedJobs(t *testing.T) {
	scheduler := NewJobScheduler(discardLogger(), SchedulerConfig{MaxConcurrentJobs: 1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	var mu sync.Mutex
	causes := map[domain.JobID]error{}
	scheduler.Start(ctx, func(ctx context.Context, id domain.JobID) {
		if id == "running" {
			close(started)
		}
		<-ctx.Done()
		mu.Lock()
		causes[id] = context.Cause(ctx)
		mu.Unlock()
	})

	require.NoError(t, scheduler.SubmitJob(ctx, "running"))
	<-started
	require.NoError(t, scheduler.SubmitJob(ctx, "queued-1"))
	require.NoError(t, scheduler.SubmitJob(ctx, "queued-2"))

	cancel()
	scheduler.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, causes, 3)
	assert.ErrorIs(t, causes["running"], context.Canceled)
	assert.ErrorIs(t, causes["queued-1"], ErrSchedulerStopped)
	assert.ErrorIs(t, causes["queued-2"], ErrSchedulerStopped)

	assert.ErrorIs(t, scheduler.SubmitJob(context.Background(), "late"), ErrSchedulerStopped)
}

func TestJobScheduler_ShutdownFailsQueuedJobs(t *testing.T) {
	h := newHarness()
	scheduler := NewJobScheduler(discardLogger(), SchedulerConfig{MaxConcurrentJobs: 1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	blocking := h.newJob(context.Background())
	queued := h.newJob(context.Background())

	started := make(chan struct{})
	conductor := h.syncConductor()
	scheduler.Start(ctx, func(ctx context.Context, id domain.JobID) {
		if id == blocking.ID {
			close(started)
			<-ctx.Done()
		}
		err := conductor.Run(ctx, id)
		assert.True(t, errors.Is(err, context.Canceled), "job %s: %v", id, err)
	})

	require.NoError(t, scheduler.SubmitJob(ctx, blocking.ID))
	<-started
	require.NoError(t, scheduler.SubmitJob(ctx, queued.ID))

	cancel()
	scheduler.Wait()

	got, err := h.store.GetJob(context.Background(), queued.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "shutdown", *got.Error)

	got, err = h.store.GetJob(context.Background(), blocking.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, "cancelled", *got.Error)
}
