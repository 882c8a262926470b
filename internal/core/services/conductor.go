package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/manthysbr/pharmaflow/internal/core/domain"
	"github.com/manthysbr/pharmaflow/internal/core/ports"
	"github.com/manthysbr/pharmaflow/internal/schema"
)

// Conductor drives one job through its stages. Every failure ends the job
// as failed and is returned to the caller.
type Conductor struct {
	logger     *slog.Logger
	jobs       ports.JobStore
	tasks      ports.TaskStore
	artifacts  ports.ArtifactStore
	completion ports.Completion
	synth      ports.Synthesizer
	validator  ports.SchemaValidator
	events     *EventBus
}

func NewConductor(
	logger *slog.Logger,
	jobs ports.JobStore,
	tasks ports.TaskStore,
	artifacts ports.ArtifactStore,
	completion ports.Completion,
	synth ports.Synthesizer,
	validator ports.SchemaValidator,
	events *EventBus,
) *Conductor {
	return &Conductor{
		logger:     logger,
		jobs:       jobs,
		tasks:      tasks,
		artifacts:  artifacts,
		completion: completion,
		synth:      synth,
		validator:  validator,
		events:     events,
	}
}

var stageWorkers = map[domain.Stage]domain.WorkerType{
	domain.StageClinical: domain.WorkerClinicalTrials,
	domain.StagePatent:   domain.WorkerPatent,
	domain.StageMarket:   domain.WorkerMarket,
	domain.StageReport:   domain.WorkerReport,
}

// Run executes the pipeline for jobID.
func (c *Conductor) Run(ctx context.Context, jobID domain.JobID) (err error) {
	// loaded even when ctx is already done so the job can still be failed
	job, err := c.jobs.GetJob(context.WithoutCancel(ctx), jobID)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			c.fail(ctx, job.ID, err)
		}
	}()
	if err := ctx.Err(); err != nil {
		return err
	}

	c.logger.Info("starting job", "job_id", job.ID, "molecule", job.Molecule)
	if err := c.setStatus(ctx, job.ID, domain.JobStatusRunning); err != nil {
		return err
	}

	outputs, err := c.runStages(ctx, job)
	if err != nil {
		return err
	}

	result, err := c.synth.Synthesize(ctx, job, outputs)
	if err != nil {
		return domain.AsStageError(domain.StageSynthesis, err)
	}
	if err := c.setStatus(ctx, job.ID, domain.JobStatusGeneratingReport, domain.WithResult(&result)); err != nil {
		return err
	}

	if err := c.runReport(ctx, job, result); err != nil {
		return err
	}

	if err := c.setStatus(ctx, job.ID, domain.JobStatusCompleted); err != nil {
		return err
	}
	c.logger.Info("job completed", "job_id", job.ID, "confidence_overall", result.ConfidenceOverall)
	return nil
}

// runStages executes the requested research stages in their fixed order.
func (c *Conductor) runStages(ctx context.Context, job domain.Job) (domain.StageOutputs, error) {
	var outputs domain.StageOutputs
	params := domain.SubjectParams{Molecule: job.Molecule, Prompt: job.PromptNormalized}

	for _, stage := range domain.DefaultScope() {
		if len(job.Scope) > 0 && !slices.Contains(job.Scope, stage) {
			continue
		}

		raw, err := c.runTask(ctx, job, stage, params)
		if err != nil {
			return outputs, err
		}

		switch stage {
		case domain.StageClinical:
			outputs.Clinical = new(domain.ClinicalTrialsOutputs)
			err = json.Unmarshal(raw, outputs.Clinical)
		case domain.StagePatent:
			outputs.Patent = new(domain.PatentOutputs)
			err = json.Unmarshal(raw, outputs.Patent)
		case domain.StageMarket:
			outputs.Market = new(domain.MarketIntelligenceOutputs)
			err = json.Unmarshal(raw, outputs.Market)
		}
		if err != nil {
			return outputs, &domain.StageError{Stage: stage, Err: fmt.Errorf("decode outputs: %w", err)}
		}
	}
	return outputs, nil
}

func (c *Conductor) runReport(ctx context.Context, job domain.Job, result domain.CanonicalResult) error {
	raw, err := c.runTask(ctx, job, domain.StageReport, domain.ReportParams{CanonicalResult: result})
	if err != nil {
		return err
	}

	var out domain.ReportOutputs
	if err := json.Unmarshal(raw, &out); err != nil {
		return &domain.StageError{Stage: domain.StageReport, Err: fmt.Errorf("decode outputs: %w", err)}
	}
	for _, ref := range out.Artifacts {
		if err := c.artifacts.SaveArtifact(ctx, domain.NewArtifact(job.ID, ref)); err != nil {
			return &domain.StageError{Stage: domain.StageReport, Err: err}
		}
	}
	return nil
}

// runTask creates the stage task, completes it and returns its validated outputs.
func (c *Conductor) runTask(ctx context.Context, job domain.Job, stage domain.Stage, params any) (json.RawMessage, error) {
	worker := stageWorkers[stage]
	p, err := json.Marshal(params)
	if err != nil {
		return nil, &domain.StageError{Stage: stage, Err: err}
	}

	task := domain.NewTask(job.ID, worker, p)
	if err := c.tasks.CreateTask(ctx, task); err != nil {
		return nil, &domain.StageError{Stage: stage, Err: err}
	}
	c.logger.Info("running stage", "job_id", job.ID, "stage", stage, "task_id", task.ID)
	c.events.Emit(string(job.ID), EventTypeLog, map[string]string{"stage": string(stage), "task_id": string(task.ID)})

	env, err := c.completion.Complete(ctx, task)
	if err != nil {
		return nil, domain.AsStageError(stage, err)
	}
	if env.Status != domain.EnvelopeOK {
		return nil, &domain.StageError{Stage: stage, Err: fmt.Errorf("worker %s failed: %s", worker, env.FailureReason())}
	}

	name, err := schema.ForWorker(worker)
	if err != nil {
		return nil, &domain.StageError{Stage: stage, Err: err}
	}
	if err := c.validator.ValidateJSON(name, env.Outputs); err != nil {
		return nil, domain.AsStageError(stage, err)
	}
	return env.Outputs, nil
}

func (c *Conductor) setStatus(ctx context.Context, id domain.JobID, status domain.JobStatus, opts ...domain.UpdateOption) error {
	if err := c.jobs.UpdateStatus(ctx, id, status, opts...); err != nil {
		return fmt.Errorf("set job %s %s: %w", id, status, err)
	}
	c.events.Emit(string(id), EventTypeStatus, map[string]string{"status": string(status)})
	return nil
}

// fail records the terminal failure on a context that survives cancellation.
func (c *Conductor) fail(ctx context.Context, id domain.JobID, cause error) {
	reason := cause.Error()
	switch {
	case errors.Is(context.Cause(ctx), ErrSchedulerStopped):
		reason = "shutdown"
	case errors.Is(cause, context.Canceled):
		reason = "cancelled"
	}

	err := c.jobs.UpdateStatus(context.WithoutCancel(ctx), id, domain.JobStatusFailed, domain.WithError(reason))
	switch {
	case errors.Is(err, domain.ErrJobTerminal):
		c.logger.Warn("job already terminal, failure not recorded", "job_id", id, "error", cause)
		return
	case err != nil:
		c.logger.Error("failed to mark job failed", "job_id", id, "error", err, "cause", cause)
		return
	}

	c.logger.Error("job failed", "job_id", id, "error", cause)
	c.events.Emit(string(id), EventTypeStatus, map[string]string{"status": string(domain.JobStatusFailed), "error": domain.TruncateError(reason)})
}
