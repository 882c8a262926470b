// Package report implements the report worker: it renders the canonical
// result as a PDF report and a PDF slide deck and stores both.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/manthysbr/pharmaflow/internal/core/domain"
	"github.com/manthysbr/pharmaflow/internal/core/ports"
	"github.com/manthysbr/pharmaflow/internal/workers"
)

const (
	Bucket         = "artifacts"
	pdfContentType = "application/pdf"
)

type Worker struct {
	objects ports.ObjectStore
	now     func() time.Time
}

var _ workers.Worker = (*Worker)(nil)

func New(objects ports.ObjectStore) *Worker {
	return &Worker{objects: objects, now: time.Now}
}

func (w *Worker) Name() domain.WorkerType { return domain.WorkerReport }

func (w *Worker) Run(ctx context.Context, msg domain.TaskMessage) (workers.Result, error) {
	var params domain.ReportParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return workers.Result{}, fmt.Errorf("invalid report params: %w", err)
	}
	result := params.CanonicalResult
	created := w.now()

	renders := []struct {
		typ    domain.ArtifactType
		key    string
		render func(domain.JobID, domain.CanonicalResult, time.Time) ([]byte, error)
	}{
		{domain.ArtifactReportPDF, domain.ReportObjectKey(msg.JobID), RenderReport},
		{domain.ArtifactSlidesPDF, domain.SlidesObjectKey(msg.JobID), RenderSlides},
	}

	refs := make([]domain.ArtifactRef, 0, len(renders))
	for _, r := range renders {
		data, err := r.render(msg.JobID, result, created)
		if err != nil {
			return workers.Result{}, fmt.Errorf("%s: %w", r.typ, err)
		}
		if err := w.objects.PutObject(ctx, Bucket, r.key, bytes.NewReader(data), int64(len(data)), pdfContentType); err != nil {
			return workers.Result{}, fmt.Errorf("upload %s: %w", r.key, err)
		}
		refs = append(refs, domain.ArtifactRef{
			Type:        r.typ,
			Bucket:      Bucket,
			Key:         r.key,
			SizeBytes:   int64(len(data)),
			ContentType: pdfContentType,
		})
	}

	return workers.Result{
		Outputs:    domain.ReportOutputs{Artifacts: refs},
		Sources:    []domain.Source{},
		Confidence: 1,
		Notes:      fmt.Sprintf("Rendered report and slides for %s.", result.Molecule),
	}, nil
}
