// Package memory holds process-local implementations of the persistence ports.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/manthysbr/pharmaflow/internal/core/domain"
	"github.com/manthysbr/pharmaflow/internal/core/ports"
)

// Store keeps every record in maps guarded by one mutex, which serializes
// same-row transitions the way a row lock would.
type Store struct {
	mu        sync.RWMutex
	jobs      map[domain.JobID]domain.Job
	tasks     map[domain.TaskID]domain.Task
	responses map[domain.TaskID]domain.WorkerResponse
	artifacts map[domain.JobID][]domain.Artifact
	llmCalls  map[domain.JobID][]domain.LLMCall
}

var _ ports.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		jobs:      make(map[domain.JobID]domain.Job),
		tasks:     make(map[domain.TaskID]domain.Task),
		responses: make(map[domain.TaskID]domain.WorkerResponse),
		artifacts: make(map[domain.JobID][]domain.Artifact),
		llmCalls:  make(map[domain.JobID][]domain.LLMCall),
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) CreateJob(_ context.Context, job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *Store) GetJob(_ context.Context, id domain.JobID) (domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}
	return job, nil
}

func (s *Store) ListJobs(_ context.Context, limit int) ([]domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := make([]domain.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	// ids are time-sortable
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID > jobs[j].ID })
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (s *Store) UpdateStatus(_ context.Context, id domain.JobID, status domain.JobStatus, opts ...domain.UpdateOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if job.Status.Terminal() {
		return domain.ErrJobTerminal
	}

	upd := domain.ApplyUpdateOptions(opts...)
	now := time.Now().UTC()
	job.Status = status
	job.UpdatedAt = now
	if upd.Result != nil {
		r := *upd.Result
		job.CanonicalResult = &r
		job.DataCompletenessScore = &r.DataCompletenessScore
		job.ConfidenceOverall = &r.ConfidenceOverall
	}
	if upd.Error != nil {
		job.Error = upd.Error
	}
	if status == domain.JobStatusCompleted {
		job.CompletedAt = &now
	}
	s.jobs[id] = job
	return nil
}

func (s *Store) CreateTask(_ context.Context, task domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
	return nil
}

func (s *Store) GetTask(_ context.Context, id domain.TaskID) (domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	return task, nil
}

func (s *Store) ListTasks(_ context.Context, jobID domain.JobID) ([]domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var tasks []domain.Task
	for _, t := range s.tasks {
		if t.JobID == jobID {
			tasks = append(tasks, t)
		}
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks, nil
}

// transition applies fn when allowed(current status) holds.
func (s *Store) transition(id domain.TaskID, allowed func(domain.TaskStatus) bool, fn func(*domain.Task, time.Time)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return false, domain.ErrTaskNotFound
	}
	if !allowed(task.Status) {
		return false, nil
	}
	fn(&task, time.Now().UTC())
	s.tasks[id] = task
	return true, nil
}

func (s *Store) MarkRunning(_ context.Context, id domain.TaskID) (bool, error) {
	return s.transition(id,
		func(st domain.TaskStatus) bool { return st == domain.TaskStatusPending },
		func(t *domain.Task, now time.Time) {
			t.Status = domain.TaskStatusRunning
			t.StartedAt = &now
		})
}

func (s *Store) MarkCompleted(_ context.Context, id domain.TaskID) (bool, error) {
	return s.transition(id,
		func(st domain.TaskStatus) bool { return !st.Terminal() },
		func(t *domain.Task, now time.Time) {
			t.Status = domain.TaskStatusCompleted
			t.FinishedAt = &now
		})
}

func (s *Store) MarkFailed(_ context.Context, id domain.TaskID, reason string) (bool, error) {
	msg := domain.TruncateError(reason)
	return s.transition(id,
		func(st domain.TaskStatus) bool { return !st.Terminal() },
		func(t *domain.Task, now time.Time) {
			t.Status = domain.TaskStatusFailed
			t.FinishedAt = &now
			t.ErrorMessage = &msg
		})
}

func (s *Store) IncrementRetries(_ context.Context, id domain.TaskID) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	task.Retries++
	s.tasks[id] = task
	return task, nil
}

func (s *Store) SaveResponse(_ context.Context, resp domain.WorkerResponse) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.responses[resp.TaskID]; exists {
		return false, nil
	}
	s.responses[resp.TaskID] = resp
	return true, nil
}

func (s *Store) GetResponseByTask(_ context.Context, taskID domain.TaskID) (domain.WorkerResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	resp, ok := s.responses[taskID]
	if !ok {
		return domain.WorkerResponse{}, domain.ErrResponseNotFound
	}
	return resp, nil
}

func (s *Store) SaveArtifact(_ context.Context, art domain.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[art.JobID] = append(s.artifacts[art.JobID], art)
	return nil
}

func (s *Store) ListArtifacts(_ context.Context, jobID domain.JobID) ([]domain.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Artifact(nil), s.artifacts[jobID]...), nil
}

func (s *Store) SaveLLMCall(_ context.Context, call domain.LLMCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.llmCalls[call.JobID] = append(s.llmCalls[call.JobID], call)
	return nil
}

func (s *Store) ListLLMCalls(_ context.Context, jobID domain.JobID) ([]domain.LLMCall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.LLMCall(nil), s.llmCalls[jobID]...), nil
}
