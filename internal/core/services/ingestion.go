package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/manthysbr/pharmaflow/internal/core/domain"
	"github.com/manthysbr/pharmaflow/internal/core/ports"
	"github.com/manthysbr/pharmaflow/internal/schema"
)

// Ingestion accepts worker envelopes, stores the first one per task and
// moves the task to its terminal status.
type Ingestion struct {
	logger    *slog.Logger
	tasks     ports.TaskStore
	responses ports.ResponseStore
	validator ports.SchemaValidator
	audit     ports.AuditSink
	events    *EventBus
}

var _ ports.EnvelopeSink = (*Ingestion)(nil)

// NewIngestion builds the service; audit may be nil.
func NewIngestion(
	logger *slog.Logger,
	tasks ports.TaskStore,
	responses ports.ResponseStore,
	validator ports.SchemaValidator,
	audit ports.AuditSink,
	events *EventBus,
) *Ingestion {
	return &Ingestion{
		logger:    logger,
		tasks:     tasks,
		responses: responses,
		validator: validator,
		audit:     audit,
		events:    events,
	}
}

// Ingest validates raw against the envelope schema and stores it verbatim.
func (i *Ingestion) Ingest(ctx context.Context, raw []byte) (ports.IngestResult, error) {
	env, err := i.decode(raw)
	if err != nil {
		return ports.IngestResult{}, err
	}
	return i.store(ctx, env, raw)
}

// IngestForTask is Ingest for a callback addressed to taskID. An envelope
// reporting another task is a schema error.
func (i *Ingestion) IngestForTask(ctx context.Context, taskID domain.TaskID, raw []byte) (ports.IngestResult, error) {
	env, err := i.decode(raw)
	if err != nil {
		return ports.IngestResult{}, err
	}
	if env.TaskID != taskID {
		return ports.IngestResult{}, &domain.SchemaError{
			Schema: schema.WorkerEnvelope,
			Err:    fmt.Errorf("envelope reports task %s, callback is for %s", env.TaskID, taskID),
		}
	}
	return i.store(ctx, env, raw)
}

// IngestEnvelope is Ingest for envelopes produced in-process.
func (i *Ingestion) IngestEnvelope(ctx context.Context, env domain.Envelope) (ports.IngestResult, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return ports.IngestResult{}, &domain.SchemaError{Schema: schema.WorkerEnvelope, Err: err}
	}
	return i.Ingest(ctx, raw)
}

func (i *Ingestion) decode(raw []byte) (domain.Envelope, error) {
	var env domain.Envelope
	if err := i.validator.ValidateJSON(schema.WorkerEnvelope, raw); err != nil {
		return env, err
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, &domain.SchemaError{Schema: schema.WorkerEnvelope, Err: err}
	}
	return env, nil
}

func (i *Ingestion) store(ctx context.Context, env domain.Envelope, raw []byte) (ports.IngestResult, error) {
	task, err := i.tasks.GetTask(ctx, env.TaskID)
	if err != nil {
		return ports.IngestResult{}, err
	}
	if task.JobID != env.JobID {
		return ports.IngestResult{}, &domain.SchemaError{
			Schema: schema.WorkerEnvelope,
			Err:    fmt.Errorf("task %s belongs to job %s, not %s", task.ID, task.JobID, env.JobID),
		}
	}
	if task.WorkerType != env.Worker {
		return ports.IngestResult{}, &domain.SchemaError{
			Schema: schema.WorkerEnvelope,
			Err:    fmt.Errorf("task %s is a %s task, envelope is from %s", task.ID, task.WorkerType, env.Worker),
		}
	}

	delivered := domain.NewWorkerResponse(env, raw)
	inserted, err := i.responses.SaveResponse(ctx, delivered)
	if err != nil {
		return ports.IngestResult{}, fmt.Errorf("save worker response: %w", err)
	}

	stored := delivered
	if !inserted {
		stored, err = i.responses.GetResponseByTask(ctx, env.TaskID)
		if err != nil {
			return ports.IngestResult{}, fmt.Errorf("load stored worker response: %w", err)
		}
	}

	// The first stored envelope decides the outcome. The guard turns every
	// later attempt into a no-op.
	var applied bool
	var status domain.TaskStatus
	if stored.Status == domain.EnvelopeOK {
		status = domain.TaskStatusCompleted
		applied, err = i.tasks.MarkCompleted(ctx, task.ID)
	} else {
		status = domain.TaskStatusFailed
		applied, err = i.tasks.MarkFailed(ctx, task.ID, stored.Envelope().FailureReason())
	}
	if err != nil {
		return ports.IngestResult{}, fmt.Errorf("transition task %s: %w", task.ID, err)
	}

	if i.audit != nil {
		if err := i.audit.ArchiveEnvelope(ctx, delivered, raw); err != nil {
			i.logger.Warn("failed to archive worker envelope", "task_id", task.ID, "error", err)
		}
	}

	i.logger.Info("worker response ingested",
		"job_id", task.JobID,
		"task_id", task.ID,
		"worker", task.WorkerType,
		"status", stored.Status,
		"duplicate", !inserted,
		"transitioned", applied,
	)
	if applied || !inserted {
		i.events.Emit(string(task.JobID), EventTypeTask, taskEvent{
			TaskID:    task.ID,
			Worker:    task.WorkerType,
			Status:    status,
			Duplicate: !inserted,
		})
	}

	return ports.IngestResult{Response: stored, Duplicate: !inserted, Transitioned: applied}, nil
}
