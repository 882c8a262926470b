// Package workers hosts the worker capabilities and the registry that runs
// them for a task message, in-process or inside a worker container.
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"time"

	"github.com/manthysbr/pharmaflow/internal/core/domain"
	"github.com/manthysbr/pharmaflow/internal/core/ports"
)

// Result is what a worker produced for one task.
type Result struct {
	Outputs    any
	Sources    []domain.Source
	Confidence float64
	Notes      string
}

type Worker interface {
	Name() domain.WorkerType
	Run(ctx context.Context, msg domain.TaskMessage) (Result, error)
}

// Registry maps worker types to workers.
type Registry struct {
	logger  *slog.Logger
	workers map[domain.WorkerType]Worker
}

var _ ports.WorkerExecutor = (*Registry)(nil)

func NewRegistry(logger *slog.Logger, workers ...Worker) *Registry {
	r := &Registry{logger: logger, workers: make(map[domain.WorkerType]Worker, len(workers))}
	for _, w := range workers {
		r.workers[w.Name()] = w
	}
	return r
}

// Names lists the registered worker types; they are also the queue names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.workers))
	for name := range r.workers {
		names = append(names, string(name))
	}
	sort.Strings(names)
	return names
}

// Execute runs the worker for msg. It never fails: errors and panics come back
// as an envelope with status "error".
func (r *Registry) Execute(ctx context.Context, msg domain.TaskMessage) (env domain.Envelope) {
	env = domain.Envelope{
		JobID:   msg.JobID,
		TaskID:  msg.TaskID,
		Worker:  msg.Worker,
		Status:  domain.EnvelopeError,
		Sources: []domain.Source{},
	}
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("worker panicked", "task_id", msg.TaskID, "worker", msg.Worker, "panic", rec, "stack", string(debug.Stack()))
			env = errorEnvelope(env, fmt.Sprintf("worker panic: %v", rec))
		}
		env.Timestamp = time.Now().UTC()
	}()

	w, ok := r.workers[msg.Worker]
	if !ok {
		return errorEnvelope(env, fmt.Sprintf("%v: %s", domain.ErrUnknownWorker, msg.Worker))
	}

	res, err := w.Run(ctx, msg)
	if err != nil {
		r.logger.Warn("worker failed", "task_id", msg.TaskID, "worker", msg.Worker, "error", err)
		return errorEnvelope(env, err.Error())
	}

	outputs, err := json.Marshal(res.Outputs)
	if err != nil {
		return errorEnvelope(env, fmt.Sprintf("encode outputs: %v", err))
	}

	env.Status = domain.EnvelopeOK
	env.Outputs = outputs
	env.Confidence = min(max(res.Confidence, 0), 1)
	if res.Sources != nil {
		env.Sources = res.Sources
	}
	if res.Notes != "" {
		env.Notes = &res.Notes
	}
	r.logger.Info("worker finished", "task_id", msg.TaskID, "worker", msg.Worker, "duration_ms", time.Since(start).Milliseconds())
	return env
}

func errorEnvelope(env domain.Envelope, reason string) domain.Envelope {
	env.Status = domain.EnvelopeError
	env.Confidence = 0
	env.Outputs = json.RawMessage(`{}`)
	env.Notes = &reason
	return env
}

// SubjectParams decodes the params of a research stage task.
func SubjectParams(msg domain.TaskMessage) (domain.SubjectParams, error) {
	var p domain.SubjectParams
	if err := json.Unmarshal(msg.Params, &p); err != nil {
		return p, fmt.Errorf("invalid params: %w", err)
	}
	if p.Molecule == "" {
		return p, fmt.Errorf("%s requires 'molecule' in params", msg.Worker)
	}
	return p, nil
}

// Source builds an evidence record stamped with the retrieval time.
func Source(typ, title, uri string) domain.Source {
	now := time.Now().UTC()
	s := domain.Source{Type: typ, RetrievedAt: &now}
	if title != "" {
		s.Title = &title
	}
	if uri != "" {
		s.URI = &uri
	}
	return s
}
