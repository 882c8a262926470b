package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"golang.org/x/time/rate"

	"github.com/manthysbr/pharmaflow/internal/core/domain"
	"github.com/manthysbr/pharmaflow/internal/core/ports"
)

var (
	// ErrResponseFormat means the model never produced valid JSON for the schema.
	ErrResponseFormat = errors.New("llm response format error")
	// ErrService means the provider call itself kept failing.
	ErrService = errors.New("llm service error")
)

// SchemaSource resolves and checks the schemas requests refer to.
type SchemaSource interface {
	Document(name string) (string, error)
	ValidateJSON(name string, raw json.RawMessage) error
}

type GeneratorConfig struct {
	MaxRetries int
	// RequestsPerSecond limits provider calls; zero disables limiting.
	RequestsPerSecond float64
	Burst             int
}

// StructuredGenerator asks a provider for JSON matching a named schema.
type StructuredGenerator struct {
	logger   *slog.Logger
	provider domain.LLMProvider
	schemas  SchemaSource
	calls    ports.LLMCallLog
	limiter  *rate.Limiter
	retries  int
}

var _ ports.StructuredGenerator = (*StructuredGenerator)(nil)

// NewStructuredGenerator builds a generator. calls may be nil.
func NewStructuredGenerator(logger *slog.Logger, provider domain.LLMProvider, schemas SchemaSource, calls ports.LLMCallLog, cfg GeneratorConfig) *StructuredGenerator {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		if cfg.Burst <= 0 {
			cfg.Burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	}
	return &StructuredGenerator{
		logger:   logger,
		provider: provider,
		schemas:  schemas,
		calls:    calls,
		limiter:  limiter,
		retries:  cfg.MaxRetries,
	}
}

func instructions(schemaDoc string) string {
	return "You are a strict JSON generator.\n" +
		"Return ONLY valid JSON (json) with NO text before or after.\n" +
		"Your JSON MUST follow this schema:\n" +
		schemaDoc + "\n" +
		"If you cannot satisfy the schema, return an empty JSON object {}."
}

// Generate decodes a validated object into out. Format failures and provider
// failures are retried together up to MaxRetries attempts; the last failure
// decides which error class is returned.
func (g *StructuredGenerator) Generate(ctx context.Context, req domain.StructuredRequest, out any) error {
	schemaDoc, err := g.schemas.Document(req.Schema)
	if err != nil {
		return err
	}
	chat := domain.ChatRequest{
		System: instructions(schemaDoc),
		User:   fmt.Sprintf("Task:\n%s\nReturn ONLY JSON.", req.Prompt),
		JSON:   true,
	}

	var lastErr error
	for attempt := 1; attempt <= g.retries; attempt++ {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}

		resp, err := g.provider.Chat(ctx, chat)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			g.logger.Warn("llm call failed", "job_id", req.JobID, "stage", req.Stage, "attempt", attempt, "error", err)
			lastErr = fmt.Errorf("%w: %v", ErrService, err)
			continue
		}

		block, err := ExtractJSON(resp.Content)
		if err == nil {
			err = g.schemas.ValidateJSON(req.Schema, block)
		}
		if err == nil {
			err = json.Unmarshal(block, out)
		}
		if err != nil {
			g.logger.Warn("llm output rejected", "job_id", req.JobID, "stage", req.Stage, "attempt", attempt, "error", err)
			lastErr = fmt.Errorf("%w: %w", ErrResponseFormat, err)
			continue
		}

		g.record(ctx, req, resp, chat.User, string(block))
		return nil
	}
	return lastErr
}

func (g *StructuredGenerator) record(ctx context.Context, req domain.StructuredRequest, resp domain.ChatResponse, prompt, response string) {
	if g.calls == nil || req.JobID == "" {
		return
	}
	call := domain.NewLLMCall(req.JobID, req.Stage, resp, prompt, response)
	if err := g.calls.SaveLLMCall(ctx, call); err != nil {
		g.logger.Error("failed to log llm call", "job_id", req.JobID, "stage", req.Stage, "error", err)
	}
}

var (
	objectPattern = regexp.MustCompile(`\{[\s\S]*\}`)
	arrayPattern  = regexp.MustCompile(`\[[\s\S]*\]`)
)

// ExtractJSON finds the JSON value in a model answer: the whole text, then the
// widest {...} span, then the widest [...] span.
func ExtractJSON(text string) (json.RawMessage, error) {
	if json.Valid([]byte(text)) {
		return json.RawMessage(text), nil
	}
	for _, re := range []*regexp.Regexp{objectPattern, arrayPattern} {
		if candidate := re.FindString(text); candidate != "" && json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), nil
		}
	}
	partial := text
	if len(partial) > 200 {
		partial = partial[:200]
	}
	return nil, fmt.Errorf("could not extract JSON from output: %q", partial)
}
