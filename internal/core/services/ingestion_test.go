package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/pharmaflow/internal/core/domain"
)

type mockAudit struct {
	mock.Mock
}

func (m *mockAudit) ArchiveEnvelope(ctx context.Context, resp domain.WorkerResponse, raw []byte) error {
	return m.Called(ctx, resp, raw).Error(0)
}

func taskMessage(task domain.Task) domain.TaskMessage {
	return domain.TaskMessage{JobID: task.JobID, TaskID: task.ID, Worker: task.WorkerType, Params: task.Params}
}

func TestIngestion_DuplicateEnvelopeTransitionsOnce(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	task := h.newTask(ctx, domain.WorkerPatent)
	env := okEnvelope(taskMessage(task), stageOutput(domain.WorkerPatent, taskMessage(task)))

	ch, unsub := h.events.Subscribe(string(task.JobID))
	defer unsub()

	first, err := h.ingestion.IngestEnvelope(ctx, env)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.True(t, first.Transitioned)

	after, _ := h.store.GetTask(ctx, task.ID)
	require.NotNil(t, after.FinishedAt)

	second, err := h.ingestion.IngestEnvelope(ctx, env)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.False(t, second.Transitioned)
	assert.Equal(t, first.Response.ID, second.Response.ID)

	final, _ := h.store.GetTask(ctx, task.ID)
	assert.Equal(t, domain.TaskStatusCompleted, final.Status)
	assert.Equal(t, *after.FinishedAt, *final.FinishedAt)

	evt := <-ch
	assert.Equal(t, EventTypeTask, evt.Type)
}

func TestIngestion_ConflictingDuplicateKeepsFirstOutcome(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	task := h.newTask(ctx, domain.WorkerMarket)
	msg := taskMessage(task)

	notes := "search backend unavailable"
	failed := okEnvelope(msg, nil)
	failed.Status = domain.EnvelopeError
	failed.Notes = &notes

	_, err := h.ingestion.IngestEnvelope(ctx, failed)
	require.NoError(t, err)

	res, err := h.ingestion.IngestEnvelope(ctx, okEnvelope(msg, stageOutput(domain.WorkerMarket, msg)))
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, domain.EnvelopeError, res.Response.Status)

	got, _ := h.store.GetTask(ctx, task.ID)
	assert.Equal(t, domain.TaskStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, notes, *got.ErrorMessage)
}

func TestIngestion_ConcurrentDeliveries(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	task := h.newTask(ctx, domain.WorkerPatent)
	env := okEnvelope(taskMessage(task), stageOutput(domain.WorkerPatent, taskMessage(task)))

	var transitions, stored atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.ingestion.IngestEnvelope(ctx, env)
			assert.NoError(t, err)
			if res.Transitioned {
				transitions.Add(1)
			}
			if !res.Duplicate {
				stored.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), transitions.Load())
	assert.Equal(t, int32(1), stored.Load())
}

func TestIngestion_Rejections(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	task := h.newTask(ctx, domain.WorkerPatent)
	msg := taskMessage(task)

	t.Run("schema", func(t *testing.T) {
		_, err := h.ingestion.Ingest(ctx, []byte(`{"task_id":"x","status":"maybe"}`))
		var se *domain.SchemaError
		assert.True(t, errors.As(err, &se))
	})

	t.Run("unknown task", func(t *testing.T) {
		env := okEnvelope(msg, map[string]any{})
		env.TaskID = "missing"
		_, err := h.ingestion.IngestEnvelope(ctx, env)
		assert.ErrorIs(t, err, domain.ErrTaskNotFound)
	})

	t.Run("job mismatch", func(t *testing.T) {
		env := okEnvelope(msg, map[string]any{})
		env.JobID = "other-job"
		_, err := h.ingestion.IngestEnvelope(ctx, env)
		var se *domain.SchemaError
		assert.True(t, errors.As(err, &se))
	})

	t.Run("worker mismatch", func(t *testing.T) {
		env := okEnvelope(msg, map[string]any{})
		env.Worker = domain.WorkerMarket
		_, err := h.ingestion.IngestEnvelope(ctx, env)
		var se *domain.SchemaError
		assert.True(t, errors.As(err, &se))
	})

	t.Run("callback for another task", func(t *testing.T) {
		raw, err := json.Marshal(okEnvelope(msg, map[string]any{}))
		require.NoError(t, err)
		_, err = h.ingestion.IngestForTask(ctx, "other-task", raw)
		var se *domain.SchemaError
		assert.True(t, errors.As(err, &se))
	})

	got, _ := h.store.GetTask(ctx, task.ID)
	assert.Equal(t, domain.TaskStatusPending, got.Status)
	_, err := h.store.GetResponseByTask(ctx, task.ID)
	assert.ErrorIs(t, err, domain.ErrResponseNotFound)
}

func TestIngestion_KeepsRawBytesAndArchives(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	task := h.newTask(ctx, domain.WorkerPatent)

	audit := new(mockAudit)
	audit.On("ArchiveEnvelope", mock.Anything, mock.AnythingOfType("domain.WorkerResponse"), mock.Anything).Return(errors.New("bucket missing")).Twice()
	ingestion := NewIngestion(discardLogger(), h.store, h.store, h.validator, audit, h.events)

	raw, err := json.Marshal(okEnvelope(taskMessage(task), stageOutput(domain.WorkerPatent, taskMessage(task))))
	require.NoError(t, err)
	raw = append(raw, '\n')

	res, err := ingestion.Ingest(ctx, raw)
	require.NoError(t, err, "audit failures are not fatal")
	assert.Equal(t, string(raw), string(res.Response.RawEnvelope))

	_, err = ingestion.Ingest(ctx, raw)
	require.NoError(t, err)
	audit.AssertExpectations(t)
}
