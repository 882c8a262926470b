package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/manthysbr/pharmaflow/internal/core/domain"
	"github.com/manthysbr/pharmaflow/internal/core/ports"
)

type DispatcherConfig struct {
	// SubmitTimeout bounds a single broker submission.
	SubmitTimeout time.Duration
	// CallbackBaseURL is where workers post envelopes. Empty disables callbacks.
	CallbackBaseURL string
}

// Dispatcher hands tasks to the broker queue named after their worker type.
type Dispatcher struct {
	logger *slog.Logger
	broker ports.Broker
	tasks  ports.TaskStore
	tokens ports.TokenIssuer
	events *EventBus
	cfg    DispatcherConfig
}

func NewDispatcher(
	logger *slog.Logger,
	broker ports.Broker,
	tasks ports.TaskStore,
	tokens ports.TokenIssuer,
	events *EventBus,
	cfg DispatcherConfig,
) *Dispatcher {
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 10 * time.Second
	}
	cfg.CallbackBaseURL = strings.TrimRight(cfg.CallbackBaseURL, "/")
	return &Dispatcher{
		logger: logger,
		broker: broker,
		tasks:  tasks,
		tokens: tokens,
		events: events,
		cfg:    cfg,
	}
}

// CallbackURL is the completion endpoint of a task.
func CallbackURL(base string, taskID domain.TaskID) string {
	return fmt.Sprintf("%s/internal/task/%s/complete", strings.TrimRight(base, "/"), url.PathEscape(string(taskID)))
}

// Dispatch submits task. When the broker refuses it the task is marked failed
// before the *domain.DispatchError is returned. There is no retry.
func (d *Dispatcher) Dispatch(ctx context.Context, task domain.Task) (ports.Handle, error) {
	msg := domain.TaskMessage{
		JobID:  task.JobID,
		TaskID: task.ID,
		Worker: task.WorkerType,
		Params: task.Params,
	}

	handle, err := d.submit(ctx, msg)
	if err != nil {
		reason := fmt.Sprintf("dispatch error: %v", err)
		if _, markErr := d.tasks.MarkFailed(context.WithoutCancel(ctx), task.ID, reason); markErr != nil {
			d.logger.Error("failed to mark task failed after dispatch error", "task_id", task.ID, "error", markErr)
		}
		d.logger.Error("dispatch failed", "job_id", task.JobID, "task_id", task.ID, "worker", task.WorkerType, "error", err)
		d.events.Emit(string(task.JobID), EventTypeTask, taskEvent{
			TaskID: task.ID, Worker: task.WorkerType, Status: domain.TaskStatusFailed, Error: reason,
		})
		return "", &domain.DispatchError{TaskID: task.ID, Worker: task.WorkerType, Err: err}
	}

	// guarded from pending, so a worker that already reported is not regressed
	if _, err := d.tasks.MarkRunning(ctx, task.ID); err != nil {
		d.logger.Warn("failed to mark task running", "task_id", task.ID, "error", err)
	}
	d.logger.Info("task dispatched", "job_id", task.JobID, "task_id", task.ID, "worker", task.WorkerType, "handle", handle)
	d.events.Emit(string(task.JobID), EventTypeTask, taskEvent{
		TaskID: task.ID, Worker: task.WorkerType, Status: domain.TaskStatusRunning,
	})
	return handle, nil
}

func (d *Dispatcher) submit(ctx context.Context, msg domain.TaskMessage) (ports.Handle, error) {
	if d.cfg.CallbackBaseURL != "" {
		msg.CallbackURL = CallbackURL(d.cfg.CallbackBaseURL, msg.TaskID)
		if d.tokens != nil {
			token, err := d.tokens.IssueTaskToken(msg.TaskID)
			if err != nil {
				return "", fmt.Errorf("issue callback token: %w", err)
			}
			msg.CallbackToken = token
		}
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.SubmitTimeout)
	defer cancel()
	return d.broker.Submit(ctx, string(msg.Worker), msg)
}

// taskEvent is the payload of EventTypeTask events.
type taskEvent struct {
	TaskID    domain.TaskID     `json:"task_id"`
	Worker    domain.WorkerType `json:"worker"`
	Status    domain.TaskStatus `json:"status"`
	Duplicate bool              `json:"duplicate,omitempty"`
	Error     string            `json:"error,omitempty"`
}
