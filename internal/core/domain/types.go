package domain

import (
	"context"
	"time"
)

// ChatRequest is a single system+user exchange with a language model.
type ChatRequest struct {
	System string
	User   string
	// JSON asks the provider for a JSON-only answer when it supports it.
	JSON bool
}

type ChatResponse struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// LLMProvider defines the interface for LLM services
type LLMProvider interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

type LLMCallID string

// LLMCall is the audit record of one successful structured generation.
type LLMCall struct {
	ID             LLMCallID `json:"id"`
	JobID          JobID     `json:"job_id"`
	Stage          string    `json:"stage"`
	Model          string    `json:"model"`
	Prompt         string    `json:"prompt"`
	Response       string    `json:"response"`
	PromptTokens   int       `json:"prompt_tokens"`
	ResponseTokens int       `json:"response_tokens"`
	CreatedAt      time.Time `json:"created_at"`
}

func NewLLMCall(jobID JobID, stage string, resp ChatResponse, prompt, response string) LLMCall {
	return LLMCall{
		ID:             LLMCallID(newV7()),
		JobID:          jobID,
		Stage:          stage,
		Model:          resp.Model,
		Prompt:         prompt,
		Response:       response,
		PromptTokens:   resp.PromptTokens,
		ResponseTokens: resp.CompletionTokens,
		CreatedAt:      time.Now().UTC(),
	}
}

// StructuredRequest asks for an object matching the named schema.
type StructuredRequest struct {
	JobID  JobID
	Stage  string
	Prompt string
	Schema string
}
