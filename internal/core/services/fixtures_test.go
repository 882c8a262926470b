package services

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/manthysbr/pharmaflow/internal/adapters/memory"
	"github.com/manthysbr/pharmaflow/internal/adapters/sqlstore"
	"github.com/manthysbr/pharmaflow/internal/core/domain"
	"github.com/manthysbr/pharmaflow/internal/core/ports"
	"github.com/manthysbr/pharmaflow/internal/schema"
)

var fixtureTrials = []domain.TrialRecord{
	{NCTID: "NCT00000001", Phase: "PHASE3", Status: "COMPLETED", Condition: "Type 2 Diabetes"},
	{NCTID: "NCT00000002", Phase: "PHASE2", Status: "TERMINATED", Condition: "Obesity", Region: ptr("United States")},
}

func ptr[T any](v T) *T { return &v }

// stageOutput returns a schema-valid output for each worker.
func stageOutput(worker domain.WorkerType, msg domain.TaskMessage) any {
	switch worker {
	case domain.WorkerClinicalTrials:
		return domain.ClinicalTrialsOutputs{
			Trials:             fixtureTrials,
			SummaryText:        "Two trials found.",
			ResearchConfidence: 0.8,
			KeyFindings:        []string{"Phase 3 completed"},
			SuggestedFollowUp:  []string{"Pediatric data"},
		}
	case domain.WorkerPatent:
		return domain.PatentOutputs{Patents: []domain.Patent{
			{PatentID: "US1234567", Title: "Extended release formulation", Status: "granted", Summary: "XR tablet"},
		}}
	case domain.WorkerMarket:
		return domain.MarketIntelligenceOutputs{
			MarketSize:      "Pending Analysis",
			Competitors:     []string{},
			PatentStatus:    "Pending Analysis",
			PricingInsights: "Pending Analysis",
			KeyFindings:     []string{},
		}
	case domain.WorkerReport:
		return domain.ReportOutputs{Artifacts: []domain.ArtifactRef{{
			Type:        domain.ArtifactReportPDF,
			Bucket:      "artifacts",
			Key:         domain.ReportObjectKey(msg.JobID),
			SizeBytes:   1024,
			ContentType: "application/pdf",
		}}}
	}
	return nil
}

func okEnvelope(msg domain.TaskMessage, outputs any) domain.Envelope {
	raw, _ := json.Marshal(outputs)
	return domain.Envelope{
		JobID:      msg.JobID,
		TaskID:     msg.TaskID,
		Worker:     msg.Worker,
		Status:     domain.EnvelopeOK,
		Confidence: 0.85,
		Timestamp:  time.Now().UTC(),
		Outputs:    raw,
		Sources:    []domain.Source{{Type: "fixture"}},
	}
}

// fakeExecutor answers every message with a fixture, unless overridden.
type fakeExecutor struct {
	mu        sync.Mutex
	overrides map[domain.WorkerType]func(domain.TaskMessage) domain.Envelope
	seen      []domain.TaskMessage
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{overrides: map[domain.WorkerType]func(domain.TaskMessage) domain.Envelope{}}
}

func (f *fakeExecutor) Execute(ctx context.Context, msg domain.TaskMessage) domain.Envelope {
	f.mu.Lock()
	f.seen = append(f.seen, msg)
	override := f.overrides[msg.Worker]
	f.mu.Unlock()
	if override != nil {
		return override(msg)
	}
	return okEnvelope(msg, stageOutput(msg.Worker, msg))
}

func (f *fakeExecutor) messages() []domain.TaskMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.TaskMessage(nil), f.seen...)
}

// fakeBroker either fails or runs the executor in the background and
// ingests the envelope, standing in for a worker callback.
type fakeBroker struct {
	err      error
	executor ports.WorkerExecutor
	sink     ports.EnvelopeSink

	mu       sync.Mutex
	messages []domain.TaskMessage
	queues   []string
}

func (b *fakeBroker) Submit(ctx context.Context, queue string, msg domain.TaskMessage) (ports.Handle, error) {
	if b.err != nil {
		return "", b.err
	}
	b.mu.Lock()
	b.messages = append(b.messages, msg)
	b.queues = append(b.queues, queue)
	b.mu.Unlock()

	if b.executor != nil && b.sink != nil {
		go func() {
			env := b.executor.Execute(context.Background(), msg)
			_, _ = b.sink.IngestEnvelope(context.Background(), env)
		}()
	}
	return ports.Handle("h-" + string(msg.TaskID)), nil
}

type staticTokens struct{}

func (staticTokens) IssueTaskToken(id domain.TaskID) (string, error) { return "tok-" + string(id), nil }

var errBrokerDown = errors.New("connection refused")

// harness wires the services over the memory store.
type harness struct {
	store     *memory.Store
	validator *schema.Validator
	events    *EventBus
	ingestion *Ingestion
	executor  *fakeExecutor
}

func newHarness() *harness {
	store := memory.NewStore()
	validator := schema.MustNew()
	events := NewEventBus(discardLogger())
	return &harness{
		store:     store,
		validator: validator,
		events:    events,
		ingestion: NewIngestion(discardLogger(), store, store, validator, nil, events),
		executor:  newFakeExecutor(),
	}
}

func (h *harness) syncConductor() *Conductor {
	completion := NewSyncCompletion(discardLogger(), h.executor, h.ingestion, h.store, h.events)
	return h.conductor(completion, nil)
}

func (h *harness) conductor(completion ports.Completion, gen ports.StructuredGenerator) *Conductor {
	return NewConductor(discardLogger(), h.store, h.store, h.store, completion,
		NewSynthesis(discardLogger(), gen), h.validator, h.events)
}

func (h *harness) newJob(ctx context.Context) domain.Job {
	job := domain.NewJob("Metformin", "metformin research landscape", nil)
	if err := h.store.CreateJob(ctx, job); err != nil {
		panic(err)
	}
	return job
}

func (h *harness) newTask(ctx context.Context, worker domain.WorkerType) domain.Task {
	job := h.newJob(ctx)
	task := domain.NewTask(job.ID, worker, json.RawMessage(`{"molecule":"Metformin"}`))
	if err := h.store.CreateTask(ctx, task); err != nil {
		panic(err)
	}
	return task
}

// openSQLStore opens a file-backed sqlite store that lives for the test.
func openSQLStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	store, err := sqlstore.Open(context.Background(), discardLogger(), sqlstore.Config{
		Driver: sqlstore.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "pharmaflow.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}
