package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/manthysbr/pharmaflow/internal/core/domain"
	"github.com/manthysbr/pharmaflow/internal/core/ports"
)

var (
	ErrInvalidRequest = errors.New("invalid research request")
	ErrNotRetryable   = errors.New("task is not retryable")
)

// JobView is a job with its tasks and artifacts, as returned by status queries.
type JobView struct {
	Job       domain.Job
	Tasks     []domain.Task
	Artifacts []domain.Artifact
}

// ResearchService is the intake and query surface used by the API and CLI.
type ResearchService struct {
	logger     *slog.Logger
	store      ports.Store
	scheduler  *JobScheduler
	dispatcher *Dispatcher
	events     *EventBus
}

// NewResearchService wires intake. dispatcher may be nil when tasks are only
// completed in-process; task retry is then unavailable.
func NewResearchService(logger *slog.Logger, store ports.Store, scheduler *JobScheduler, dispatcher *Dispatcher, events *EventBus) *ResearchService {
	return &ResearchService{
		logger:     logger,
		store:      store,
		scheduler:  scheduler,
		dispatcher: dispatcher,
		events:     events,
	}
}

// Submit records a queued job and hands it to the scheduler.
func (s *ResearchService) Submit(ctx context.Context, molecule, prompt string, scope []domain.Stage) (domain.Job, error) {
	if strings.TrimSpace(molecule) == "" {
		return domain.Job{}, fmt.Errorf("%w: molecule is required", ErrInvalidRequest)
	}
	for _, st := range scope {
		if _, ok := stageWorkers[st]; !ok || st == domain.StageReport {
			return domain.Job{}, fmt.Errorf("%w: unknown stage %q", ErrInvalidRequest, st)
		}
	}
	if strings.TrimSpace(prompt) == "" {
		prompt = molecule
	}

	job := domain.NewJob(molecule, prompt, scope)
	if err := s.store.CreateJob(ctx, job); err != nil {
		return domain.Job{}, fmt.Errorf("create job: %w", err)
	}

	if err := s.scheduler.SubmitJob(ctx, job.ID); err != nil {
		if uerr := s.store.UpdateStatus(ctx, job.ID, domain.JobStatusFailed, domain.WithError(err.Error())); uerr != nil {
			s.logger.Error("failed to mark unscheduled job failed", "job_id", job.ID, "error", uerr)
		}
		return job, err
	}

	s.logger.Info("research job accepted", "job_id", job.ID, "molecule", job.Molecule)
	return job, nil
}

func (s *ResearchService) Get(ctx context.Context, id domain.JobID) (JobView, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return JobView{}, err
	}
	tasks, err := s.store.ListTasks(ctx, id)
	if err != nil {
		return JobView{}, err
	}
	artifacts, err := s.store.ListArtifacts(ctx, id)
	if err != nil {
		return JobView{}, err
	}
	return JobView{Job: job, Tasks: tasks, Artifacts: artifacts}, nil
}

func (s *ResearchService) List(ctx context.Context, limit int) ([]domain.Job, error) {
	return s.store.ListJobs(ctx, limit)
}

// Cancel stops a non-terminal job. The conductor records it as failed with
// reason "cancelled".
func (s *ResearchService) Cancel(ctx context.Context, id domain.JobID) (domain.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	if job.Status.Terminal() {
		return job, domain.ErrJobTerminal
	}
	s.scheduler.Cancel(id)
	s.logger.Info("job cancellation requested", "job_id", id)
	return job, nil
}

// RetryTask re-delivers a failed task to its worker queue and counts the
// attempt. The task stays failed; a response from the retried run is stored
// when the first run left none.
func (s *ResearchService) RetryTask(ctx context.Context, id domain.TaskID) (domain.Task, error) {
	if s.dispatcher == nil {
		return domain.Task{}, fmt.Errorf("%w: no broker configured", ErrNotRetryable)
	}
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if task.Status != domain.TaskStatusFailed {
		return task, fmt.Errorf("%w: status is %s", ErrNotRetryable, task.Status)
	}

	task, err = s.store.IncrementRetries(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.dispatcher.Dispatch(ctx, task); err != nil {
		return task, err
	}
	s.logger.Info("task re-dispatched", "task_id", id, "retries", task.Retries)
	return task, nil
}

// Subscribe streams events of one job.
func (s *ResearchService) Subscribe(id domain.JobID) (<-chan Event, func()) {
	return s.events.Subscribe(string(id))
}
