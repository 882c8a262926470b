package clinical

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/manthysbr/pharmaflow/internal/core/domain"
	"github.com/manthysbr/pharmaflow/internal/core/ports"
	"github.com/manthysbr/pharmaflow/internal/schema"
	"github.com/manthysbr/pharmaflow/internal/workers"
)

type Worker struct {
	logger    *slog.Logger
	source    Source
	generator ports.StructuredGenerator
	pageSize  int
}

var _ workers.Worker = (*Worker)(nil)

// New builds the worker. generator may be nil; the narrative is then derived
// from the trial records alone.
func New(logger *slog.Logger, source Source, generator ports.StructuredGenerator, pageSize int) *Worker {
	return &Worker{logger: logger, source: source, generator: generator, pageSize: pageSize}
}

func (w *Worker) Name() domain.WorkerType { return domain.WorkerClinicalTrials }

func (w *Worker) Run(ctx context.Context, msg domain.TaskMessage) (workers.Result, error) {
	params, err := workers.SubjectParams(msg)
	if err != nil {
		return workers.Result{}, err
	}

	trials, skipped, err := w.source.SearchTrials(ctx, params.Molecule, w.pageSize)
	if err != nil {
		return workers.Result{}, err
	}
	if skipped > 0 {
		w.logger.Warn("skipped malformed trial records", "task_id", msg.TaskID, "skipped", skipped)
	}

	narrative, err := w.narrative(ctx, msg.JobID, params.Molecule, trials)
	if err != nil {
		return workers.Result{}, err
	}

	title, uri := w.source.Describe(params.Molecule)
	notes := fmt.Sprintf("Found %d trials for %s.", len(trials), params.Molecule)
	if skipped > 0 {
		notes += fmt.Sprintf(" Skipped %d malformed records.", skipped)
	}
	return workers.Result{
		Outputs: domain.ClinicalTrialsOutputs{
			Trials:             trials,
			SummaryText:        narrative.SummaryText,
			ResearchConfidence: narrative.ResearchConfidence,
			KeyFindings:        nonNil(narrative.KeyFindings),
			SuggestedFollowUp:  nonNil(narrative.SuggestedFollowUp),
		},
		Sources:    []domain.Source{workers.Source("clinical_registry", title, uri)},
		Confidence: narrative.ResearchConfidence,
		Notes:      notes,
	}, nil
}

func (w *Worker) narrative(ctx context.Context, jobID domain.JobID, molecule string, trials []domain.TrialRecord) (domain.ClinicalNarrative, error) {
	if w.generator == nil || len(trials) == 0 {
		return Summarize(molecule, trials), nil
	}

	records, err := json.MarshalIndent(trials, "", "  ")
	if err != nil {
		return domain.ClinicalNarrative{}, err
	}
	prompt := fmt.Sprintf(
		"Summarize the clinical trial evidence for the molecule '%s'.\n"+
			"Trials:\n%s\n"+
			"Give a short summary, a research confidence between 0 and 1, key findings and suggested follow-up research.",
		molecule, records)

	var n domain.ClinicalNarrative
	err = w.generator.Generate(ctx, domain.StructuredRequest{
		JobID:  jobID,
		Stage:  "clinical_summary",
		Prompt: prompt,
		Schema: schema.ClinicalNarrative,
	}, &n)
	return n, err
}

// Summarize derives a narrative from trial counts, without a language model.
func Summarize(molecule string, trials []domain.TrialRecord) domain.ClinicalNarrative {
	if len(trials) == 0 {
		return domain.ClinicalNarrative{
			SummaryText:        fmt.Sprintf("No registered clinical trials were found for %s.", molecule),
			ResearchConfidence: 0.1,
			KeyFindings:        []string{},
			SuggestedFollowUp:  []string{"Search alternative names and synonyms of the molecule"},
		}
	}

	phases := map[string]int{}
	completed := 0
	for _, t := range trials {
		phases[t.Phase]++
		if strings.EqualFold(t.Status, "COMPLETED") {
			completed++
		}
	}
	findings := []string{fmt.Sprintf("%d of %d trials completed", completed, len(trials))}
	for _, phase := range []string{"PHASE4", "PHASE3", "PHASE2", "PHASE1"} {
		if n := phases[phase]; n > 0 {
			findings = append(findings, fmt.Sprintf("%d %s trials", n, phase))
		}
	}

	confidence := 0.3 + 0.05*float64(len(trials))
	return domain.ClinicalNarrative{
		SummaryText:        fmt.Sprintf("%d clinical trials registered for %s, %d completed.", len(trials), molecule, completed),
		ResearchConfidence: min(confidence, 0.8),
		KeyFindings:        findings,
		SuggestedFollowUp:  []string{"Review posted results of completed trials"},
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
