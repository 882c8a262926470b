package domain

import (
	"encoding/json"
	"time"
	"unicode/utf8"
)

// MaxErrorMessageLen caps stored error messages.
const MaxErrorMessageLen = 5000

type TaskID string

// NewTaskID returns a time-sortable task identifier.
func NewTaskID() TaskID {
	return TaskID(newV7())
}

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// WorkerType names a worker capability. It doubles as the broker queue name.
type WorkerType string

const (
	WorkerClinicalTrials WorkerType = "clinical_trials"
	WorkerPatent         WorkerType = "patent_worker"
	WorkerMarket         WorkerType = "market_worker"
	WorkerReport         WorkerType = "report"
)

func (w WorkerType) Valid() bool {
	switch w {
	case WorkerClinicalTrials, WorkerPatent, WorkerMarket, WorkerReport:
		return true
	}
	return false
}

// Stage is one research step of the pipeline.
type Stage string

const (
	StageClinical  Stage = "clinical"
	StagePatent    Stage = "patent"
	StageMarket    Stage = "market"
	StageSynthesis Stage = "synthesis"
	StageReport    Stage = "report"
)

// DefaultScope is the fixed research stage order.
func DefaultScope() []Stage {
	return []Stage{StageClinical, StagePatent, StageMarket}
}

// Task is one dispatched unit of work belonging to a job.
type Task struct {
	ID           TaskID          `json:"id"`
	JobID        JobID           `json:"job_id"`
	WorkerType   WorkerType      `json:"worker_type"`
	Params       json.RawMessage `json:"params"`
	Status       TaskStatus      `json:"status"`
	Retries      int             `json:"retries"`
	Priority     int             `json:"priority"`
	DependsOn    []TaskID        `json:"depends_on"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// NewTask builds a pending task.
func NewTask(jobID JobID, worker WorkerType, params json.RawMessage) Task {
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	return Task{
		ID:         NewTaskID(),
		JobID:      jobID,
		WorkerType: worker,
		Params:     params,
		Status:     TaskStatusPending,
		DependsOn:  []TaskID{},
		CreatedAt:  time.Now().UTC(),
	}
}

// TaskMessage is what a worker receives through the broker.
type TaskMessage struct {
	JobID         JobID           `json:"job_id"`
	TaskID        TaskID          `json:"task_id"`
	Worker        WorkerType      `json:"worker"`
	Params        json.RawMessage `json:"params"`
	CallbackURL   string          `json:"callback_url,omitempty"`
	CallbackToken string          `json:"callback_token,omitempty"`
}

// TruncateError bounds msg to MaxErrorMessageLen runes.
func TruncateError(msg string) string {
	if utf8.RuneCountInString(msg) <= MaxErrorMessageLen {
		return msg
	}
	runes := []rune(msg)
	return string(runes[:MaxErrorMessageLen])
}
