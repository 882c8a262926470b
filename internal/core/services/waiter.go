package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/manthysbr/pharmaflow/internal/core/domain"
	"github.com/manthysbr/pharmaflow/internal/core/ports"
)

// ResponseWaiter polls the response store for a task. It never changes task
// status; its only failure of its own is domain.ErrTimeout.
type ResponseWaiter struct {
	logger    *slog.Logger
	responses ports.ResponseStore
}

func NewResponseWaiter(logger *slog.Logger, responses ports.ResponseStore) *ResponseWaiter {
	return &ResponseWaiter{logger: logger, responses: responses}
}

// Wait checks immediately and then every pollInterval until a response row
// exists, timeout elapses or ctx is done.
func (w *ResponseWaiter) Wait(ctx context.Context, taskID domain.TaskID, pollInterval, timeout time.Duration) (domain.Envelope, error) {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if env, ok := w.check(ctx, taskID); ok {
			return env, nil
		}

		select {
		case <-ctx.Done():
			return domain.Envelope{}, ctx.Err()
		case <-deadline.C:
			return domain.Envelope{}, fmt.Errorf("%w: task %s after %s", domain.ErrTimeout, taskID, timeout)
		case <-ticker.C:
		}
	}
}

func (w *ResponseWaiter) check(ctx context.Context, taskID domain.TaskID) (domain.Envelope, bool) {
	resp, err := w.responses.GetResponseByTask(ctx, taskID)
	if err == nil {
		return resp.Envelope(), true
	}
	if !domain.IsNotFound(err) && ctx.Err() == nil {
		// transient read errors do not end the wait
		w.logger.Warn("failed to read worker response", "task_id", taskID, "error", err)
	}
	return domain.Envelope{}, false
}
