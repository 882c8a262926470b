// Package patent implements patent_worker: patent discovery through
// structured generation.
package patent

import (
	"context"
	"fmt"

	"github.com/manthysbr/pharmaflow/internal/core/domain"
	"github.com/manthysbr/pharmaflow/internal/core/ports"
	"github.com/manthysbr/pharmaflow/internal/schema"
	"github.com/manthysbr/pharmaflow/internal/workers"
)

const (
	confidence = 0.85
	searchURI  = "https://patents.google.com"
)

type Worker struct {
	generator ports.StructuredGenerator
}

var _ workers.Worker = (*Worker)(nil)

// New builds the worker. Without a generator it reports no patents at zero
// confidence.
func New(generator ports.StructuredGenerator) *Worker {
	return &Worker{generator: generator}
}

func (w *Worker) Name() domain.WorkerType { return domain.WorkerPatent }

func (w *Worker) Run(ctx context.Context, msg domain.TaskMessage) (workers.Result, error) {
	params, err := workers.SubjectParams(msg)
	if err != nil {
		return workers.Result{}, err
	}

	if w.generator == nil {
		return workers.Result{
			Outputs: domain.PatentOutputs{Patents: []domain.Patent{}},
			Sources: []domain.Source{},
			Notes:   "Patent discovery skipped: no language model configured.",
		}, nil
	}

	prompt := fmt.Sprintf(
		"Identify key patents and intellectual property filings for the molecule '%s'.\n"+
			"Provide a list of patents including Patent IDs, titles, assignees, status, and summaries.",
		params.Molecule)

	var out domain.PatentOutputs
	if err := w.generator.Generate(ctx, domain.StructuredRequest{
		JobID:  msg.JobID,
		Stage:  "patent_discovery",
		Prompt: prompt,
		Schema: schema.PatentOutputs,
	}, &out); err != nil {
		return workers.Result{}, err
	}
	if out.Patents == nil {
		out.Patents = []domain.Patent{}
	}

	return workers.Result{
		Outputs:    out,
		Sources:    []domain.Source{workers.Source("patent_search", "Patent Intelligence Discovery", searchURI)},
		Confidence: confidence,
		Notes:      fmt.Sprintf("Discovered %d patents for %s.", len(out.Patents), params.Molecule),
	}, nil
}
