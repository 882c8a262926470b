package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/pharmaflow/internal/adapters/memory"
	"github.com/manthysbr/pharmaflow/internal/core/domain"
	"github.com/manthysbr/pharmaflow/internal/core/ports"
	"github.com/manthysbr/pharmaflow/internal/schema"
)

func ptr[T any](v T) *T { return &v }

func canonical() domain.CanonicalResult {
	return domain.CanonicalResult{
		Molecule:     "Metformin",
		TrialSummary: "Two trials, one completed phase 3 in Type 2 Diabetes – well tolerated.",
		Trials: []domain.TrialRecord{
			{NCTID: "NCT00000001", Phase: "PHASE3", Status: "COMPLETED", Condition: "Type 2 Diabetes", Region: ptr("United States")},
			{NCTID: "NCT00000002", Phase: "PHASE2", Status: "TERMINATED", Condition: strings.Repeat("Very long condition name ", 10)},
		},
		Patents: []domain.Patent{{PatentID: "US6099862", Title: "Controlled release", Status: "expired", Summary: "XR"}},
		Market: &domain.MarketIntelligenceOutputs{
			MarketSize: "$4.5B", Competitors: []string{"Sitagliptin"}, PatentStatus: "Generic",
			PricingInsights: "Low", KeyFindings: []string{"Mature"},
		},
		KeyFindings:           []string{"Phase 3 completed"},
		SuggestedFollowUp:     []string{"Pediatric data"},
		RiskAssessment:        "Low risk",
		DataCompletenessScore: 1,
		ConfidenceOverall:     0.82,
	}
}

func TestRender(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	report, err := RenderReport("job-1", canonical(), created)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(report, []byte("%PDF-")))

	slides, err := RenderSlides("job-1", canonical(), created)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(slides, []byte("%PDF-")))

	empty, err := RenderReport("job-2", domain.CanonicalResult{Molecule: "Aspirin"}, created)
	require.NoError(t, err)
	assert.NotEmpty(t, empty)
}

func TestWorker_Run(t *testing.T) {
	objects := memory.NewObjects()
	params, err := json.Marshal(domain.ReportParams{CanonicalResult: canonical()})
	require.NoError(t, err)
	msg := domain.TaskMessage{JobID: "job-1", TaskID: "t", Worker: domain.WorkerReport, Params: params}

	res, err := New(objects).Run(context.Background(), msg)
	require.NoError(t, err)

	out := res.Outputs.(domain.ReportOutputs)
	require.Len(t, out.Artifacts, 2)
	assert.Equal(t, domain.ArtifactReportPDF, out.Artifacts[0].Type)
	assert.Equal(t, "job-1_report.pdf", out.Artifacts[0].Key)
	assert.Equal(t, "job-1_slides.pdf", out.Artifacts[1].Key)

	body, info, err := objects.GetObject(context.Background(), Bucket, "job-1_report.pdf")
	require.NoError(t, err)
	data, _ := io.ReadAll(body)
	assert.Equal(t, out.Artifacts[0].SizeBytes, int64(len(data)))
	assert.Equal(t, "application/pdf", info.ContentType)

	raw, _ := json.Marshal(out)
	assert.NoError(t, schema.MustNew().ValidateJSON(schema.ReportOutputs, raw))
}

type failingObjects struct{ ports.ObjectStore }

func (failingObjects) PutObject(context.Context, string, string, io.Reader, int64, string) error {
	return errors.New("bucket unavailable")
}

func TestWorker_UploadFailure(t *testing.T) {
	params, _ := json.Marshal(domain.ReportParams{CanonicalResult: canonical()})
	_, err := New(failingObjects{}).Run(context.Background(), domain.TaskMessage{JobID: "j", Params: params})
	assert.ErrorContains(t, err, "bucket unavailable")

	_, err = New(failingObjects{}).Run(context.Background(), domain.TaskMessage{JobID: "j", Params: []byte(`[`)})
	assert.ErrorContains(t, err, "invalid report params")
}
