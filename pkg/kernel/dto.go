package kernel

import (
	"time"

	"github.com/manthysbr/pharmaflow/internal/core/domain"
	"github.com/manthysbr/pharmaflow/internal/core/services"
)

type ResearchRequest struct {
	Molecule string   `json:"molecule" minLength:"1" doc:"Molecule or drug name to research" example:"Metformin"`
	Prompt   string   `json:"prompt,omitempty" doc:"Free text research question; defaults to the molecule"`
	Scope    []string `json:"scope,omitempty" doc:"Research stages to run" enum:"clinical,patent,market"`
}

type ResearchAccepted struct {
	JobID  domain.JobID     `json:"job_id"`
	Status domain.JobStatus `json:"status"`
}

type JobSummary struct {
	JobID       domain.JobID     `json:"job_id"`
	Molecule    string           `json:"molecule"`
	Status      domain.JobStatus `json:"status"`
	Error       *string          `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

type TaskResponse struct {
	TaskID       domain.TaskID     `json:"task_id"`
	Worker       domain.WorkerType `json:"worker"`
	Status       domain.TaskStatus `json:"status"`
	Retries      int               `json:"retries"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	FinishedAt   *time.Time        `json:"finished_at,omitempty"`
	ErrorMessage *string           `json:"error_message,omitempty"`
}

type ArtifactResponse struct {
	Type       domain.ArtifactType `json:"type"`
	StorageURI string              `json:"storage_uri"`
	SizeBytes  int64               `json:"size_bytes"`
	CreatedAt  time.Time           `json:"created_at"`
}

type JobStatusResponse struct {
	JobID           domain.JobID            `json:"job_id"`
	Molecule        string                  `json:"molecule"`
	Status          domain.JobStatus        `json:"status"`
	CanonicalResult *domain.CanonicalResult `json:"canonical_result"`
	Error           *string                 `json:"error"`
	CreatedAt       time.Time               `json:"created_at"`
	CompletedAt     *time.Time              `json:"completed_at"`
	Tasks           []TaskResponse          `json:"tasks"`
	Artifacts       []ArtifactResponse      `json:"artifacts"`
}

type CallbackResponse struct {
	Status string        `json:"status" enum:"stored,duplicate"`
	TaskID domain.TaskID `json:"task_id"`
}

func jobSummary(j domain.Job) JobSummary {
	return JobSummary{
		JobID:       j.ID,
		Molecule:    j.Molecule,
		Status:      j.Status,
		Error:       j.Error,
		CreatedAt:   j.CreatedAt,
		CompletedAt: j.CompletedAt,
	}
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse{
		TaskID:       t.ID,
		Worker:       t.WorkerType,
		Status:       t.Status,
		Retries:      t.Retries,
		StartedAt:    t.StartedAt,
		FinishedAt:   t.FinishedAt,
		ErrorMessage: t.ErrorMessage,
	}
}

func jobStatusResponse(v services.JobView) JobStatusResponse {
	resp := JobStatusResponse{
		JobID:           v.Job.ID,
		Molecule:        v.Job.Molecule,
		Status:          v.Job.Status,
		CanonicalResult: v.Job.CanonicalResult,
		Error:           v.Job.Error,
		CreatedAt:       v.Job.CreatedAt,
		CompletedAt:     v.Job.CompletedAt,
		Tasks:           make([]TaskResponse, 0, len(v.Tasks)),
		Artifacts:       make([]ArtifactResponse, 0, len(v.Artifacts)),
	}
	for _, t := range v.Tasks {
		resp.Tasks = append(resp.Tasks, taskResponse(t))
	}
	for _, a := range v.Artifacts {
		resp.Artifacts = append(resp.Artifacts, ArtifactResponse{
			Type:       a.Type,
			StorageURI: a.StorageURI,
			SizeBytes:  a.SizeBytes,
			CreatedAt:  a.CreatedAt,
		})
	}
	return resp
}
