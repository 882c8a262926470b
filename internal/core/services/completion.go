package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/manthysbr/pharmaflow/internal/core/domain"
	"github.com/manthysbr/pharmaflow/internal/core/ports"
)

// SyncCompletion runs the worker in-process and feeds its envelope through
// the same ingestion path a callback would take.
type SyncCompletion struct {
	logger   *slog.Logger
	executor ports.WorkerExecutor
	sink     ports.EnvelopeSink
	tasks    ports.TaskStore
	events   *EventBus
}

var _ ports.Completion = (*SyncCompletion)(nil)

func NewSyncCompletion(logger *slog.Logger, executor ports.WorkerExecutor, sink ports.EnvelopeSink, tasks ports.TaskStore, events *EventBus) *SyncCompletion {
	return &SyncCompletion{logger: logger, executor: executor, sink: sink, tasks: tasks, events: events}
}

func (c *SyncCompletion) Complete(ctx context.Context, task domain.Task) (domain.Envelope, error) {
	if _, err := c.tasks.MarkRunning(ctx, task.ID); err != nil {
		return domain.Envelope{}, err
	}
	c.events.Emit(string(task.JobID), EventTypeTask, taskEvent{
		TaskID: task.ID, Worker: task.WorkerType, Status: domain.TaskStatusRunning,
	})

	env := c.executor.Execute(ctx, domain.TaskMessage{
		JobID:  task.JobID,
		TaskID: task.ID,
		Worker: task.WorkerType,
		Params: task.Params,
	})
	if err := ctx.Err(); err != nil {
		markFailed(ctx, c.logger, c.tasks, task.ID, "cancelled")
		return domain.Envelope{}, err
	}

	res, err := c.sink.IngestEnvelope(ctx, env)
	if err != nil {
		markFailed(ctx, c.logger, c.tasks, task.ID, err.Error())
		return domain.Envelope{}, err
	}
	return res.Response.Envelope(), nil
}

type AsyncCompletionConfig struct {
	PollInterval time.Duration
	Timeout      time.Duration
}

// AsyncCompletion dispatches through the broker and waits for the callback
// to land in the response store.
type AsyncCompletion struct {
	logger     *slog.Logger
	dispatcher *Dispatcher
	waiter     *ResponseWaiter
	tasks      ports.TaskStore
	cfg        AsyncCompletionConfig
}

var _ ports.Completion = (*AsyncCompletion)(nil)

func NewAsyncCompletion(logger *slog.Logger, dispatcher *Dispatcher, waiter *ResponseWaiter, tasks ports.TaskStore, cfg AsyncCompletionConfig) *AsyncCompletion {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &AsyncCompletion{logger: logger, dispatcher: dispatcher, waiter: waiter, tasks: tasks, cfg: cfg}
}

func (c *AsyncCompletion) Complete(ctx context.Context, task domain.Task) (domain.Envelope, error) {
	if _, err := c.dispatcher.Dispatch(ctx, task); err != nil {
		return domain.Envelope{}, err
	}

	env, err := c.waiter.Wait(ctx, task.ID, c.cfg.PollInterval, c.cfg.Timeout)
	switch {
	case err == nil:
		return env, nil
	case errors.Is(err, domain.ErrTimeout):
		markFailed(ctx, c.logger, c.tasks, task.ID, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		markFailed(ctx, c.logger, c.tasks, task.ID, "cancelled")
	}
	return domain.Envelope{}, err
}

// markFailed records a task failure even when ctx is already cancelled.
func markFailed(ctx context.Context, logger *slog.Logger, tasks ports.TaskStore, id domain.TaskID, reason string) {
	if _, err := tasks.MarkFailed(context.WithoutCancel(ctx), id, reason); err != nil {
		logger.Error("failed to mark task failed", "task_id", id, "reason", reason, "error", err)
	}
}
