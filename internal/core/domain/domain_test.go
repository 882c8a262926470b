package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJob(t *testing.T) {
	job := NewJob("  Metformin ", "What is   the\tlandscape\nfor metformin?", nil)

	assert.Equal(t, JobStatusQueued, job.Status)
	assert.Equal(t, "Metformin", job.Molecule)
	assert.Equal(t, "metformin", job.SubjectKey)
	assert.Equal(t, "What is the landscape for metformin?", job.PromptNormalized)
	assert.Equal(t, DefaultScope(), job.Scope)
	assert.Nil(t, job.CompletedAt)
	assert.NotEmpty(t, job.ID)
	assert.NotEqual(t, job.ID, NewJob("x", "y", nil).ID)
}

func TestNewTask(t *testing.T) {
	task := NewTask("job", WorkerReport, nil)
	assert.Equal(t, TaskStatusPending, task.Status)
	assert.Equal(t, 0, task.Retries)
	assert.Equal(t, `{}`, string(task.Params))
	assert.NotNil(t, task.DependsOn)
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
	assert.False(t, JobStatusGeneratingReport.Terminal())
	assert.True(t, TaskStatusFailed.Terminal())
	assert.False(t, TaskStatusRunning.Terminal())
	assert.False(t, JobStatus("done").Valid())
	assert.True(t, WorkerPatent.Valid())
	assert.False(t, WorkerType("ocr").Valid())
}

func TestTruncateError(t *testing.T) {
	assert.Equal(t, "short", TruncateError("short"))

	long := strings.Repeat("é", MaxErrorMessageLen+10)
	got := TruncateError(long)
	assert.Equal(t, MaxErrorMessageLen, len([]rune(got)))

	u := ApplyUpdateOptions(WithError(long))
	require.NotNil(t, u.Error)
	assert.Equal(t, got, *u.Error)
}

func TestErrorTaxonomy(t *testing.T) {
	cause := errors.New("connection refused")
	de := &DispatchError{TaskID: "t1", Worker: WorkerPatent, Err: cause}
	assert.ErrorIs(t, de, cause)
	assert.Contains(t, de.Error(), "dispatch error")

	wrapped := AsStageError(StagePatent, de)
	var stage *StageError
	require.True(t, errors.As(wrapped, &stage))
	assert.Equal(t, StagePatent, stage.Stage)
	var dispatch *DispatchError
	assert.True(t, errors.As(wrapped, &dispatch))

	schemaErr := AsStageError(StageMarket, &SchemaError{Schema: "MarketIntelligenceOutputs", Err: errors.New("bad")})
	var se *SchemaError
	assert.True(t, errors.As(schemaErr, &se))
	require.True(t, errors.As(schemaErr, &stage))
	assert.Equal(t, StageMarket, stage.Stage)

	timeout := AsStageError(StageClinical, fmt.Errorf("task t1: %w", ErrTimeout))
	assert.ErrorIs(t, timeout, ErrTimeout)
	require.True(t, errors.As(timeout, &stage))
	assert.Equal(t, StageClinical, stage.Stage)

	// an existing stage error is not wrapped twice
	assert.Same(t, wrapped, AsStageError(StageMarket, wrapped))
	assert.Nil(t, AsStageError(StageMarket, nil))

	assert.True(t, IsNotFound(fmt.Errorf("lookup: %w", ErrTaskNotFound)))
	assert.False(t, IsNotFound(ErrTimeout))
}

func TestNewCanonicalResult_PassesRecordsThrough(t *testing.T) {
	region := "EU"
	trials := []TrialRecord{{NCTID: "NCT9", Phase: "PHASE1", Status: "RECRUITING", Condition: "X", Region: &region}}
	market := &MarketIntelligenceOutputs{MarketSize: "Pending Analysis"}

	r := NewCanonicalResult("Aspirin", StageOutputs{
		Clinical: &ClinicalTrialsOutputs{Trials: trials},
		Market:   market,
	}, SynthesisNarrative{TrialSummary: "s", ConfidenceOverall: 0.5})

	assert.Equal(t, trials, r.Trials)
	assert.Same(t, market, r.Market)
	assert.NotNil(t, r.Patents)
	assert.NotNil(t, r.KeyFindings)
	assert.Equal(t, 0.5, r.ConfidenceOverall)
}

func TestArtifactKeys(t *testing.T) {
	assert.Equal(t, "j1_report.pdf", ReportObjectKey("j1"))
	assert.Equal(t, "j1_slides.pdf", SlidesObjectKey("j1"))
	assert.Equal(t, "s3://artifacts/j1_report.pdf", StorageURI("artifacts", ReportObjectKey("j1")))
}
