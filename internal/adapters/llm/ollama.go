package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/manthysbr/pharmaflow/internal/core/domain"
)

// OllamaProvider implements domain.LLMProvider for a local Ollama instance
type OllamaProvider struct {
	baseURL string
	model   string
	client  *http.Client
}

var _ domain.LLMProvider = (*OllamaProvider)(nil)

func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3.1:8b"
	}
	return &OllamaProvider{
		baseURL: normalizeOllamaBaseURL(baseURL),
		model:   model,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Model           string      `json:"model"`
	Message         chatMessage `json:"message"`
	Done            bool        `json:"done"`
	PromptEvalCount int         `json:"prompt_eval_count"`
	EvalCount       int         `json:"eval_count"`
}

func (p *OllamaProvider) Chat(ctx context.Context, chat domain.ChatRequest) (domain.ChatResponse, error) {
	reqBody := ollamaChatRequest{
		Model:    p.model,
		Messages: messages(chat),
		Stream:   false,
		Options:  map[string]any{"temperature": 0},
	}
	if chat.JSON {
		reqBody.Format = "json"
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return domain.ChatResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewBuffer(jsonData))
	if err != nil {
		return domain.ChatResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return domain.ChatResponse{}, fmt.Errorf("ollama connection failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.ChatResponse{}, fmt.Errorf("ollama returned status: %d", resp.StatusCode)
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return domain.ChatResponse{}, fmt.Errorf("failed to decode response: %w", err)
	}

	model := chatResp.Model
	if model == "" {
		model = p.model
	}
	return domain.ChatResponse{
		Content:          chatResp.Message.Content,
		Model:            model,
		PromptTokens:     chatResp.PromptEvalCount,
		CompletionTokens: chatResp.EvalCount,
	}, nil
}

// normalizeOllamaBaseURL strips the OpenAI-compatible /v1 suffix.
func normalizeOllamaBaseURL(baseURL string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	return strings.TrimSuffix(trimmed, "/v1")
}
