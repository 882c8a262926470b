package workers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/pharmaflow/internal/core/domain"
)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type funcWorker struct {
	name domain.WorkerType
	run  func(ctx context.Context, msg domain.TaskMessage) (Result, error)
}

func (w funcWorker) Name() domain.WorkerType { return w.name }

func (w funcWorker) Run(ctx context.Context, msg domain.TaskMessage) (Result, error) {
	return w.run(ctx, msg)
}

func TestRegistry_Execute(t *testing.T) {
	ok := funcWorker{name: domain.WorkerPatent, run: func(ctx context.Context, msg domain.TaskMessage) (Result, error) {
		return Result{
			Outputs:    domain.PatentOutputs{Patents: []domain.Patent{}},
			Confidence: 1.7,
			Notes:      "done",
		}, nil
	}}
	failing := funcWorker{name: domain.WorkerMarket, run: func(ctx context.Context, msg domain.TaskMessage) (Result, error) {
		return Result{}, errors.New("search provider unavailable")
	}}
	panicking := funcWorker{name: domain.WorkerReport, run: func(ctx context.Context, msg domain.TaskMessage) (Result, error) {
		panic("nil canonical result")
	}}
	r := NewRegistry(discardLogger(), ok, failing, panicking)
	assert.Equal(t, []string{"market_worker", "patent_worker", "report"}, r.Names())

	msg := domain.TaskMessage{JobID: "j", TaskID: "t", Worker: domain.WorkerPatent}
	env := r.Execute(context.Background(), msg)
	assert.Equal(t, domain.EnvelopeOK, env.Status)
	assert.Equal(t, 1.0, env.Confidence)
	assert.JSONEq(t, `{"patents":[]}`, string(env.Outputs))
	assert.NotNil(t, env.Sources)
	require.NotNil(t, env.Notes)
	assert.Equal(t, "done", *env.Notes)
	assert.False(t, env.Timestamp.IsZero())

	tests := []struct {
		name   string
		worker domain.WorkerType
		notes  string
	}{
		{"worker error", domain.WorkerMarket, "search provider unavailable"},
		{"panic", domain.WorkerReport, "worker panic: nil canonical result"},
		{"unknown worker", domain.WorkerClinicalTrials, "unknown worker type: clinical_trials"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := r.Execute(context.Background(), domain.TaskMessage{JobID: "j", TaskID: "t", Worker: tt.worker})
			assert.Equal(t, domain.EnvelopeError, env.Status)
			assert.Equal(t, 0.0, env.Confidence)
			assert.JSONEq(t, `{}`, string(env.Outputs))
			require.NotNil(t, env.Notes)
			assert.Contains(t, *env.Notes, tt.notes)
			assert.Equal(t, domain.TaskID("t"), env.TaskID)
			assert.False(t, env.Timestamp.IsZero())
		})
	}
}

func TestSubjectParams(t *testing.T) {
	p, err := SubjectParams(domain.TaskMessage{Params: json.RawMessage(`{"molecule":"Metformin","prompt":"x"}`)})
	require.NoError(t, err)
	assert.Equal(t, "Metformin", p.Molecule)

	_, err = SubjectParams(domain.TaskMessage{Worker: domain.WorkerPatent, Params: json.RawMessage(`{}`)})
	assert.ErrorContains(t, err, "patent_worker requires 'molecule'")

	_, err = SubjectParams(domain.TaskMessage{Params: json.RawMessage(`nope`)})
	assert.ErrorContains(t, err, "invalid params")
}

func newTestCallbackClient() *CallbackClient {
	c := NewCallbackClient(discardLogger(), nil)
	c.backoff = time.Millisecond
	return c
}

func TestCallbackClient_Deliver(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		assert.Equal(t, "secret", r.Header.Get(TokenHeader))
		if n == 1 {
			http.Error(w, "database locked", http.StatusServiceUnavailable)
			return
		}
		var env domain.Envelope
		require.NoError(t, json.NewDecoder(r.Body).Decode(&env))
		_ = json.NewEncoder(w).Encode(CallbackStatus{Status: "stored", TaskID: env.TaskID})
	}))
	defer srv.Close()

	msg := domain.TaskMessage{TaskID: "t1", CallbackURL: srv.URL, CallbackToken: "secret"}
	status, err := newTestCallbackClient().Deliver(context.Background(), msg, domain.Envelope{TaskID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, "stored", status.Status)
	assert.Equal(t, domain.TaskID("t1"), status.TaskID)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCallbackClient_ClientErrorIsFinal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "invalid worker token", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newTestCallbackClient().Deliver(context.Background(), domain.TaskMessage{TaskID: "t", CallbackURL: srv.URL}, domain.Envelope{})
	assert.ErrorContains(t, err, "status 403")
	assert.Equal(t, int32(1), calls.Load())

	_, err = newTestCallbackClient().Deliver(context.Background(), domain.TaskMessage{TaskID: "t"}, domain.Envelope{})
	assert.ErrorContains(t, err, "no callback url")
}

func TestCallbackClient_GivesUpAfterAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestCallbackClient().Deliver(context.Background(), domain.TaskMessage{TaskID: "t", CallbackURL: srv.URL}, domain.Envelope{})
	assert.ErrorContains(t, err, "status 502")
	assert.Equal(t, int32(3), calls.Load())
}
