package schema

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/pharmaflow/internal/core/domain"
)

func TestValidator_Envelope(t *testing.T) {
	v := MustNew()

	valid := `{
		"job_id": "j1", "task_id": "t1", "worker": "patent_worker", "status": "ok",
		"confidence": 0.85, "timestamp": "2025-01-01T00:00:00Z",
		"outputs": {"patents": []}, "sources": [{"type": "patent_search", "uri": "https://patents.google.com"}]
	}`
	require.NoError(t, v.ValidateJSON(WorkerEnvelope, json.RawMessage(valid)))

	tests := []struct {
		name string
		raw  string
	}{
		{"bad status", `{"job_id":"j","task_id":"t","worker":"w","status":"done","confidence":0.5,"timestamp":"x","outputs":{},"sources":[]}`},
		{"confidence above one", `{"job_id":"j","task_id":"t","worker":"w","status":"ok","confidence":1.5,"timestamp":"x","outputs":{},"sources":[]}`},
		{"missing task id", `{"job_id":"j","worker":"w","status":"ok","confidence":0.5,"timestamp":"x","outputs":{},"sources":[]}`},
		{"source without type", `{"job_id":"j","task_id":"t","worker":"w","status":"ok","confidence":0.5,"timestamp":"x","outputs":{},"sources":[{"title":"x"}]}`},
		{"not json", `{"job_id":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateJSON(WorkerEnvelope, json.RawMessage(tt.raw))
			require.Error(t, err)
			var se *domain.SchemaError
			assert.True(t, errors.As(err, &se))
			assert.Equal(t, WorkerEnvelope, se.Schema)
		})
	}
}

func TestValidator_StageOutputs(t *testing.T) {
	v := MustNew()

	clinical := domain.ClinicalTrialsOutputs{
		Trials:             []domain.TrialRecord{{NCTID: "NCT01", Phase: "PHASE2", Status: "COMPLETED", Condition: "Diabetes"}},
		SummaryText:        "one trial",
		ResearchConfidence: 0.7,
		KeyFindings:        []string{"a"},
		SuggestedFollowUp:  []string{},
	}
	raw, err := json.Marshal(clinical)
	require.NoError(t, err)
	assert.NoError(t, v.ValidateJSON(ClinicalTrialsOutputs, raw))

	// patents must be a list of objects with ids
	assert.Error(t, v.ValidateJSON(PatentOutputs, json.RawMessage(`{"patents": "none"}`)))
	assert.Error(t, v.ValidateJSON(PatentOutputs, json.RawMessage(`{"patents": [{"title": "x"}]}`)))
	assert.NoError(t, v.ValidateJSON(PatentOutputs, json.RawMessage(`{"patents": [{"patent_id":"US1","title":"t","status":"granted","summary":"s"}]}`)))
}

func TestForWorker(t *testing.T) {
	name, err := ForWorker(domain.WorkerMarket)
	require.NoError(t, err)
	assert.Equal(t, MarketIntelligenceOutputs, name)

	_, err = ForWorker("nope")
	assert.ErrorIs(t, err, domain.ErrUnknownWorker)
}

func TestValidator_DocumentInlinesReferences(t *testing.T) {
	v := MustNew()

	doc, err := v.Document(PatentOutputs)
	require.NoError(t, err)
	assert.Contains(t, doc, "patent_id")
	assert.NotContains(t, doc, "$ref")

	_, err = v.Document("Missing")
	assert.Error(t, err)
	assert.Contains(t, v.Names(), CanonicalResult)
}
