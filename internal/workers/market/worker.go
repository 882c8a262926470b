package market

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/manthysbr/pharmaflow/internal/core/domain"
	"github.com/manthysbr/pharmaflow/internal/core/ports"
	"github.com/manthysbr/pharmaflow/internal/schema"
	"github.com/manthysbr/pharmaflow/internal/workers"
)

const (
	pending        = "Pending Analysis"
	maxContextHits = 10
)

type Worker struct {
	logger    *slog.Logger
	searcher  Searcher
	generator ports.StructuredGenerator
	perQuery  int
}

var _ workers.Worker = (*Worker)(nil)

// New builds the worker. searcher and generator may be nil; the outputs then
// fall back to placeholders.
func New(logger *slog.Logger, searcher Searcher, generator ports.StructuredGenerator, perQuery int) *Worker {
	if perQuery <= 0 {
		perQuery = 3
	}
	return &Worker{logger: logger, searcher: searcher, generator: generator, perQuery: perQuery}
}

func (w *Worker) Name() domain.WorkerType { return domain.WorkerMarket }

func queries(molecule string) []string {
	return []string{
		fmt.Sprintf("'%s' market size forecast revenue", molecule),
		fmt.Sprintf("'%s' primary pharmaceutical competitors market share", molecule),
		fmt.Sprintf("'%s' therapeutic landscape and trend analysis", molecule),
		fmt.Sprintf("'%s' pricing trends and reimbursement insights", molecule),
		fmt.Sprintf("'%s' commercial launch and peak sales projections", molecule),
	}
}

// Placeholder is the market output used when no analysis could be made.
func Placeholder(finding string) domain.MarketIntelligenceOutputs {
	return domain.MarketIntelligenceOutputs{
		MarketSize:      pending,
		Competitors:     []string{},
		PatentStatus:    pending,
		PricingInsights: pending,
		KeyFindings:     []string{finding},
	}
}

func (w *Worker) Run(ctx context.Context, msg domain.TaskMessage) (workers.Result, error) {
	params, err := workers.SubjectParams(msg)
	if err != nil {
		return workers.Result{}, err
	}

	hits := w.search(ctx, params.Molecule)
	if err := ctx.Err(); err != nil {
		return workers.Result{}, err
	}

	sources := make([]domain.Source, 0, len(hits))
	for _, h := range hits {
		sources = append(sources, workers.Source("web", h.Title, h.Link))
	}

	if len(hits) == 0 || w.generator == nil {
		finding := "No market data found for the specified molecule."
		if len(hits) > 0 {
			finding = fmt.Sprintf("%d web sources collected; analysis requires a language model.", len(hits))
		}
		return workers.Result{
			Outputs:    Placeholder(finding),
			Sources:    sources,
			Confidence: 0.2,
			Notes:      "Market analysis pending.",
		}, nil
	}

	prompt := fmt.Sprintf(
		"Using the web research below, produce market intelligence for the molecule '%s': "+
			"market size, main competitors, patent status, pricing insights and key findings.\n\n%s",
		params.Molecule, formatHits(hits))

	var out domain.MarketIntelligenceOutputs
	if err := w.generator.Generate(ctx, domain.StructuredRequest{
		JobID:  msg.JobID,
		Stage:  "market_intelligence",
		Prompt: prompt,
		Schema: schema.MarketIntelligenceOutputs,
	}, &out); err != nil {
		return workers.Result{}, err
	}
	if out.Competitors == nil {
		out.Competitors = []string{}
	}
	if out.KeyFindings == nil {
		out.KeyFindings = []string{}
	}

	return workers.Result{
		Outputs:    out,
		Sources:    sources,
		Confidence: 0.6,
		Notes:      fmt.Sprintf("Market analysis from %d web sources.", len(hits)),
	}, nil
}

// search runs every query and keeps unique links. Failed queries are skipped.
func (w *Worker) search(ctx context.Context, molecule string) []SearchResult {
	if w.searcher == nil {
		return nil
	}
	seen := map[string]bool{}
	var hits []SearchResult
	for _, q := range queries(molecule) {
		results, err := w.searcher.Search(ctx, q, w.perQuery)
		if err != nil {
			if ctx.Err() != nil {
				return hits
			}
			w.logger.Warn("market search query failed", "query", q, "error", err)
			continue
		}
		for _, r := range results {
			if r.Link == "" || seen[r.Link] {
				continue
			}
			seen[r.Link] = true
			hits = append(hits, r)
		}
	}
	if len(hits) > maxContextHits {
		hits = hits[:maxContextHits]
	}
	return hits
}

func formatHits(hits []SearchResult) string {
	parts := make([]string, 0, len(hits))
	for _, h := range hits {
		parts = append(parts, fmt.Sprintf("SOURCE: %s\nTITLE: %s\nCONTENT: %s", h.Link, h.Title, h.Snippet))
	}
	return strings.Join(parts, "\n---\n")
}
