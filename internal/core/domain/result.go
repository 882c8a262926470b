package domain

// TrialRecord is one clinical trial as returned by the registry.
type TrialRecord struct {
	NCTID          string  `json:"nct_id"`
	Phase          string  `json:"phase"`
	Status         string  `json:"status"`
	Condition      string  `json:"condition"`
	Region         *string `json:"region,omitempty"`
	ResultsSummary *string `json:"results_summary,omitempty"`
}

type ClinicalTrialsOutputs struct {
	Trials             []TrialRecord `json:"trials"`
	SummaryText        string        `json:"summary_text"`
	ResearchConfidence float64       `json:"research_confidence"`
	KeyFindings        []string      `json:"key_findings"`
	SuggestedFollowUp  []string      `json:"suggested_follow_up"`
}

// ClinicalNarrative is the generated part of the clinical outputs.
type ClinicalNarrative struct {
	SummaryText        string   `json:"summary_text"`
	ResearchConfidence float64  `json:"research_confidence"`
	KeyFindings        []string `json:"key_findings"`
	SuggestedFollowUp  []string `json:"suggested_follow_up"`
}

type Patent struct {
	PatentID string  `json:"patent_id"`
	Title    string  `json:"title"`
	Assignee *string `json:"assignee,omitempty"`
	Status   string  `json:"status"`
	Summary  string  `json:"summary"`
}

type PatentOutputs struct {
	Patents []Patent `json:"patents"`
}

type MarketIntelligenceOutputs struct {
	MarketSize      string   `json:"market_size"`
	Competitors     []string `json:"competitors"`
	PatentStatus    string   `json:"patent_status"`
	PricingInsights string   `json:"pricing_insights"`
	KeyFindings     []string `json:"key_findings"`
}

// ArtifactRef points at a rendered document in object storage.
type ArtifactRef struct {
	Type        ArtifactType `json:"type"`
	Bucket      string       `json:"bucket"`
	Key         string       `json:"key"`
	SizeBytes   int64        `json:"size_bytes"`
	ContentType string       `json:"content_type"`
}

type ReportOutputs struct {
	Artifacts []ArtifactRef `json:"artifacts"`
}

// ReportParams is the report worker input.
type ReportParams struct {
	CanonicalResult CanonicalResult `json:"canonical_result"`
}

// SubjectParams is the input of the research stage workers.
type SubjectParams struct {
	Molecule string `json:"molecule"`
	Prompt   string `json:"prompt,omitempty"`
}

// SynthesisNarrative is what the synthesis stage generates.
type SynthesisNarrative struct {
	TrialSummary          string   `json:"trial_summary"`
	KeyFindings           []string `json:"key_findings"`
	SuggestedFollowUp     []string `json:"suggested_follow_up"`
	RiskAssessment        string   `json:"risk_assessment"`
	DataCompletenessScore float64  `json:"data_completeness_score"`
	ConfidenceOverall     float64  `json:"confidence_overall"`
}

// StageOutputs accumulates the research stage results of one job.
type StageOutputs struct {
	Clinical *ClinicalTrialsOutputs
	Patent   *PatentOutputs
	Market   *MarketIntelligenceOutputs
}

// CanonicalResult is the accumulated, synthesized output of a job.
// Trials, Patents and Market are stage records passed through unmodified.
type CanonicalResult struct {
	Molecule              string                     `json:"molecule"`
	TrialSummary          string                     `json:"trial_summary"`
	Trials                []TrialRecord              `json:"trials"`
	Patents               []Patent                   `json:"patents"`
	Market                *MarketIntelligenceOutputs `json:"market,omitempty"`
	KeyFindings           []string                   `json:"key_findings"`
	SuggestedFollowUp     []string                   `json:"suggested_follow_up"`
	RiskAssessment        string                     `json:"risk_assessment"`
	DataCompletenessScore float64                    `json:"data_completeness_score"`
	ConfidenceOverall     float64                    `json:"confidence_overall"`
}

// NewCanonicalResult merges the stage records with the synthesized narrative.
func NewCanonicalResult(molecule string, outputs StageOutputs, n SynthesisNarrative) CanonicalResult {
	r := CanonicalResult{
		Molecule:              molecule,
		TrialSummary:          n.TrialSummary,
		Trials:                []TrialRecord{},
		Patents:               []Patent{},
		Market:                outputs.Market,
		KeyFindings:           nonNil(n.KeyFindings),
		SuggestedFollowUp:     nonNil(n.SuggestedFollowUp),
		RiskAssessment:        n.RiskAssessment,
		DataCompletenessScore: n.DataCompletenessScore,
		ConfidenceOverall:     n.ConfidenceOverall,
	}
	if outputs.Clinical != nil && outputs.Clinical.Trials != nil {
		r.Trials = outputs.Clinical.Trials
	}
	if outputs.Patent != nil && outputs.Patent.Patents != nil {
		r.Patents = outputs.Patent.Patents
	}
	return r
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
