package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/manthysbr/pharmaflow/internal/core/domain"
	"github.com/manthysbr/pharmaflow/internal/core/ports"
	"github.com/manthysbr/pharmaflow/internal/schema"
)

const synthesisPrompt = `You are a biomedical evidence synthesis engine with expertise in clinical trial
interpretation, drug development and risk/benefit evaluation.

Molecule: %s
Research question: %s

Clinical trial records (JSON):
%s

Clinical worker summary: %s

Patent landscape (JSON):
%s

Market intelligence (JSON):
%s

Summarize the trial landscape (phases, statuses, conditions, regions), extract evidence based
key findings, flag anomalies such as terminations or missing results, suggest follow-up research
and assess risks. Score data_completeness_score and confidence_overall between 0 and 1.
Return exactly one JSON object. No markdown.`

// Synthesis merges stage outputs into the canonical result. Without a
// generator it scores the outputs deterministically.
type Synthesis struct {
	logger    *slog.Logger
	generator ports.StructuredGenerator
}

var _ ports.Synthesizer = (*Synthesis)(nil)

func NewSynthesis(logger *slog.Logger, generator ports.StructuredGenerator) *Synthesis {
	return &Synthesis{logger: logger, generator: generator}
}

func (s *Synthesis) Synthesize(ctx context.Context, job domain.Job, outputs domain.StageOutputs) (domain.CanonicalResult, error) {
	var narrative domain.SynthesisNarrative
	if s.generator == nil {
		narrative = HeuristicNarrative(job.Molecule, outputs)
	} else {
		req := domain.StructuredRequest{
			JobID:  job.ID,
			Stage:  string(domain.StageSynthesis),
			Prompt: buildSynthesisPrompt(job, outputs),
			Schema: schema.SynthesisNarrative,
		}
		if err := s.generator.Generate(ctx, req, &narrative); err != nil {
			return domain.CanonicalResult{}, fmt.Errorf("generate synthesis: %w", err)
		}
	}

	narrative.DataCompletenessScore = clamp01(narrative.DataCompletenessScore)
	narrative.ConfidenceOverall = clamp01(narrative.ConfidenceOverall)

	s.logger.Info("synthesis complete",
		"job_id", job.ID,
		"confidence_overall", narrative.ConfidenceOverall,
		"data_completeness_score", narrative.DataCompletenessScore,
	)
	return domain.NewCanonicalResult(job.Molecule, outputs, narrative), nil
}

func buildSynthesisPrompt(job domain.Job, outputs domain.StageOutputs) string {
	var trials any = []domain.TrialRecord{}
	summary := "none"
	if outputs.Clinical != nil {
		trials = outputs.Clinical.Trials
		summary = outputs.Clinical.SummaryText
	}
	var patents any = []domain.Patent{}
	if outputs.Patent != nil {
		patents = outputs.Patent.Patents
	}
	var market any = map[string]any{}
	if outputs.Market != nil {
		market = outputs.Market
	}
	return fmt.Sprintf(synthesisPrompt, job.Molecule, job.PromptNormalized,
		indentJSON(trials), summary, indentJSON(patents), indentJSON(market))
}

func indentJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "null"
	}
	return string(b)
}

// HeuristicNarrative derives scores from what the stages returned.
// Completeness is the share of research stages with data; confidence is the
// clinical confidence discounted by that share.
func HeuristicNarrative(molecule string, outputs domain.StageOutputs) domain.SynthesisNarrative {
	n := domain.SynthesisNarrative{
		KeyFindings:       []string{},
		SuggestedFollowUp: []string{},
	}

	present, total := 0, 3
	clinicalConfidence := 0.5
	if c := outputs.Clinical; c != nil {
		if len(c.Trials) > 0 {
			present++
		}
		n.TrialSummary = c.SummaryText
		n.KeyFindings = append(n.KeyFindings, c.KeyFindings...)
		n.SuggestedFollowUp = append(n.SuggestedFollowUp, c.SuggestedFollowUp...)
		clinicalConfidence = c.ResearchConfidence
	}
	if p := outputs.Patent; p != nil && len(p.Patents) > 0 {
		present++
		n.KeyFindings = append(n.KeyFindings, fmt.Sprintf("%d patents identified for %s", len(p.Patents), molecule))
	}
	if m := outputs.Market; m != nil && m.MarketSize != "" {
		present++
		n.KeyFindings = append(n.KeyFindings, m.KeyFindings...)
	}

	if n.TrialSummary == "" {
		n.TrialSummary = fmt.Sprintf("No clinical trial summary available for %s.", molecule)
	}
	n.DataCompletenessScore = float64(present) / float64(total)
	n.ConfidenceOverall = clamp01(clinicalConfidence) * (0.5 + 0.5*n.DataCompletenessScore)

	var risks []string
	if outputs.Clinical == nil || len(outputs.Clinical.Trials) == 0 {
		risks = append(risks, "no clinical trial evidence")
	}
	if outputs.Patent == nil || len(outputs.Patent.Patents) == 0 {
		risks = append(risks, "patent position unknown")
	}
	if len(risks) == 0 {
		n.RiskAssessment = "No structural data gaps detected."
	} else {
		n.RiskAssessment = "Data gaps: " + strings.Join(risks, "; ") + "."
	}
	return n
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
