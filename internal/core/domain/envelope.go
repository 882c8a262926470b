package domain

import (
	"encoding/json"
	"time"
)

type EnvelopeStatus string

const (
	EnvelopeOK    EnvelopeStatus = "ok"
	EnvelopeError EnvelopeStatus = "error"
)

// Source is one piece of evidence a worker consulted.
type Source struct {
	Type        string     `json:"type"`
	Title       *string    `json:"title,omitempty"`
	URI         *string    `json:"uri,omitempty"`
	RetrievedAt *time.Time `json:"retrieved_at,omitempty"`
}

// Envelope is the self-describing completion report of a worker.
type Envelope struct {
	JobID      JobID           `json:"job_id"`
	TaskID     TaskID          `json:"task_id"`
	Worker     WorkerType      `json:"worker"`
	Status     EnvelopeStatus  `json:"status"`
	Confidence float64         `json:"confidence"`
	Timestamp  time.Time       `json:"timestamp"`
	Outputs    json.RawMessage `json:"outputs"`
	Sources    []Source        `json:"sources"`
	Notes      *string         `json:"notes,omitempty"`
}

// FailureReason is the task error recorded for an error envelope.
func (e Envelope) FailureReason() string {
	if e.Notes != nil && *e.Notes != "" {
		return *e.Notes
	}
	return "worker error"
}

type ResponseID string

// WorkerResponse is the persisted form of an Envelope.
type WorkerResponse struct {
	ID          ResponseID      `json:"id"`
	TaskID      TaskID          `json:"task_id"`
	JobID       JobID           `json:"job_id"`
	Worker      WorkerType      `json:"worker"`
	Status      EnvelopeStatus  `json:"status"`
	Confidence  float64         `json:"confidence"`
	Timestamp   time.Time       `json:"timestamp"`
	Outputs     json.RawMessage `json:"outputs"`
	Sources     []Source        `json:"sources"`
	Notes       *string         `json:"notes,omitempty"`
	RawEnvelope json.RawMessage `json:"raw_envelope"`
	CreatedAt   time.Time       `json:"created_at"`
}

// NewWorkerResponse normalizes an envelope for storage. raw is kept verbatim.
func NewWorkerResponse(env Envelope, raw json.RawMessage) WorkerResponse {
	sources := env.Sources
	if sources == nil {
		sources = []Source{}
	}
	return WorkerResponse{
		ID:          ResponseID(newV7()),
		TaskID:      env.TaskID,
		JobID:       env.JobID,
		Worker:      env.Worker,
		Status:      env.Status,
		Confidence:  env.Confidence,
		Timestamp:   env.Timestamp.UTC(),
		Outputs:     env.Outputs,
		Sources:     sources,
		Notes:       env.Notes,
		RawEnvelope: raw,
		CreatedAt:   time.Now().UTC(),
	}
}

// Envelope rebuilds the worker envelope from the stored columns.
func (r WorkerResponse) Envelope() Envelope {
	return Envelope{
		JobID:      r.JobID,
		TaskID:     r.TaskID,
		Worker:     r.Worker,
		Status:     r.Status,
		Confidence: r.Confidence,
		Timestamp:  r.Timestamp,
		Outputs:    r.Outputs,
		Sources:    r.Sources,
		Notes:      r.Notes,
	}
}
