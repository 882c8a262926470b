package ports

import (
	"context"
	"encoding/json"
	"io"

	"github.com/manthysbr/pharmaflow/internal/core/domain"
)

// JobStore persists jobs. UpdateStatus is its only mutator after Create.
type JobStore interface {
	CreateJob(ctx context.Context, job domain.Job) error
	GetJob(ctx context.Context, id domain.JobID) (domain.Job, error)
	ListJobs(ctx context.Context, limit int) ([]domain.Job, error)

	// UpdateStatus changes the job status. Terminal jobs are left untouched and
	// reported with domain.ErrJobTerminal; completed stamps completed_at.
	UpdateStatus(ctx context.Context, id domain.JobID, status domain.JobStatus, opts ...domain.UpdateOption) error
}

// TaskStore persists tasks. Transition methods report whether the guarded
// update applied; a guarded-out call is not an error.
type TaskStore interface {
	CreateTask(ctx context.Context, task domain.Task) error
	GetTask(ctx context.Context, id domain.TaskID) (domain.Task, error)
	ListTasks(ctx context.Context, jobID domain.JobID) ([]domain.Task, error)

	MarkRunning(ctx context.Context, id domain.TaskID) (bool, error)
	MarkCompleted(ctx context.Context, id domain.TaskID) (bool, error)
	MarkFailed(ctx context.Context, id domain.TaskID, reason string) (bool, error)

	// IncrementRetries is an explicit, administrative retry action.
	IncrementRetries(ctx context.Context, id domain.TaskID) (domain.Task, error)
}

// ResponseStore persists worker responses, at most one per task.
type ResponseStore interface {
	// SaveResponse inserts resp unless a response for the task exists.
	// It returns false when the row already existed.
	SaveResponse(ctx context.Context, resp domain.WorkerResponse) (bool, error)
	GetResponseByTask(ctx context.Context, taskID domain.TaskID) (domain.WorkerResponse, error)
}

type ArtifactStore interface {
	SaveArtifact(ctx context.Context, art domain.Artifact) error
	ListArtifacts(ctx context.Context, jobID domain.JobID) ([]domain.Artifact, error)
}

type LLMCallLog interface {
	SaveLLMCall(ctx context.Context, call domain.LLMCall) error
	ListLLMCalls(ctx context.Context, jobID domain.JobID) ([]domain.LLMCall, error)
}

// Store groups every persistence port; sqlstore and memory implement it.
type Store interface {
	JobStore
	TaskStore
	ResponseStore
	ArtifactStore
	LLMCallLog
	Close() error
}

// Handle identifies a submitted broker message.
type Handle string

// Broker submits task messages to named worker queues.
type Broker interface {
	Submit(ctx context.Context, queue string, msg domain.TaskMessage) (Handle, error)
}

// Completion runs a created task to its worker envelope. The synchronous and
// asynchronous deployments are two implementations of this port.
type Completion interface {
	Complete(ctx context.Context, task domain.Task) (domain.Envelope, error)
}

// EnvelopeSink accepts worker envelopes; the ingestion service implements it.
type EnvelopeSink interface {
	IngestEnvelope(ctx context.Context, env domain.Envelope) (IngestResult, error)
}

// IngestResult reports what ingestion stored.
type IngestResult struct {
	Response  domain.WorkerResponse
	Duplicate bool
	// Transitioned is false when the task was already terminal.
	Transitioned bool
}

// StructuredGenerator returns a schema-validated object decoded into out.
type StructuredGenerator interface {
	Generate(ctx context.Context, req domain.StructuredRequest, out any) error
}

// SchemaValidator validates JSON payloads against named schemas.
type SchemaValidator interface {
	ValidateJSON(name string, raw json.RawMessage) error
}

// Synthesizer turns stage outputs into the canonical result.
type Synthesizer interface {
	Synthesize(ctx context.Context, job domain.Job, outputs domain.StageOutputs) (domain.CanonicalResult, error)
}

type ObjectInfo struct {
	Size        int64
	ContentType string
}

// ObjectStore abstracts bucketed blob storage (S3, MinIO).
type ObjectStore interface {
	PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, ObjectInfo, error)
}

// AuditSink archives raw worker envelopes.
type AuditSink interface {
	ArchiveEnvelope(ctx context.Context, resp domain.WorkerResponse, raw []byte) error
}

// WorkerExecutor runs a task message in-process and always yields an envelope;
// worker failures come back as status "error".
type WorkerExecutor interface {
	Execute(ctx context.Context, msg domain.TaskMessage) domain.Envelope
}

// TokenIssuer signs the per-task credential a worker presents on callback.
type TokenIssuer interface {
	IssueTaskToken(taskID domain.TaskID) (string, error)
}
