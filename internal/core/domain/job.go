package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type JobID string

// NewJobID returns a time-sortable job identifier.
func NewJobID() JobID {
	return JobID(newV7())
}

type JobStatus string

const (
	JobStatusQueued           JobStatus = "queued"
	JobStatusRunning          JobStatus = "running"
	JobStatusGeneratingReport JobStatus = "generating_report"
	JobStatusCompleted        JobStatus = "completed"
	JobStatusFailed           JobStatus = "failed"
)

// Terminal reports whether no further transition may leave the status.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusRunning, JobStatusGeneratingReport, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// Job is one end-to-end research request.
type Job struct {
	ID                    JobID            `json:"id"`
	PromptOriginal        string           `json:"prompt_original"`
	PromptNormalized      string           `json:"prompt_normalized"`
	Molecule              string           `json:"molecule"`
	SubjectKey            string           `json:"subject_key"`
	Scope                 []Stage          `json:"scope"`
	Status                JobStatus        `json:"status"`
	CanonicalResult       *CanonicalResult `json:"canonical_result,omitempty"`
	Error                 *string          `json:"error,omitempty"`
	DataCompletenessScore *float64         `json:"data_completeness_score,omitempty"`
	ConfidenceOverall     *float64         `json:"confidence_overall,omitempty"`
	CreatedAt             time.Time        `json:"created_at"`
	UpdatedAt             time.Time        `json:"updated_at"`
	CompletedAt           *time.Time       `json:"completed_at,omitempty"`
}

// NewJob builds a queued job from an intake request.
func NewJob(molecule, prompt string, scope []Stage) Job {
	now := time.Now().UTC()
	if len(scope) == 0 {
		scope = DefaultScope()
	}
	return Job{
		ID:               NewJobID(),
		PromptOriginal:   prompt,
		PromptNormalized: NormalizePrompt(prompt),
		Molecule:         strings.TrimSpace(molecule),
		SubjectKey:       SubjectKey(molecule),
		Scope:            scope,
		Status:           JobStatusQueued,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// NormalizePrompt collapses runs of whitespace.
func NormalizePrompt(prompt string) string {
	return strings.Join(strings.Fields(prompt), " ")
}

// SubjectKey is the case-insensitive lookup key of a research subject.
func SubjectKey(molecule string) string {
	return strings.ToLower(strings.Join(strings.Fields(molecule), " "))
}

// JobUpdate carries the optional parts of a status change.
type JobUpdate struct {
	Result *CanonicalResult
	Error  *string
}

type UpdateOption func(*JobUpdate)

// WithResult overwrites the canonical result along with its scores.
func WithResult(r *CanonicalResult) UpdateOption {
	return func(u *JobUpdate) {
		u.Result = r
	}
}

// WithError records the failure reason, truncated to MaxErrorMessageLen.
func WithError(msg string) UpdateOption {
	return func(u *JobUpdate) {
		m := TruncateError(msg)
		u.Error = &m
	}
}

// ApplyUpdateOptions folds options into a JobUpdate.
func ApplyUpdateOptions(opts ...UpdateOption) JobUpdate {
	var u JobUpdate
	for _, opt := range opts {
		opt(&u)
	}
	return u
}

func newV7() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source does.
		return uuid.NewString()
	}
	return id.String()
}
