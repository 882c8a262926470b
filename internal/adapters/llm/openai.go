package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/manthysbr/pharmaflow/internal/core/domain"
)

// OpenAIProvider implements domain.LLMProvider using an OpenAI-compatible API.
// Works with: Groq, OpenAI, Together AI, local Ollama /v1, etc.
type OpenAIProvider struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

var _ domain.LLMProvider = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates a new OpenAI-compatible provider
func NewOpenAIProvider(baseURL, apiKey, model string) *OpenAIProvider {
	if model == "" {
		model = "llama-3.1-8b-instant"
	}

	return &OpenAIProvider{
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

// Chat calls the chat completions API at temperature 0.
func (p *OpenAIProvider) Chat(ctx context.Context, chat domain.ChatRequest) (domain.ChatResponse, error) {
	payload := openAIRequest{
		Model:    p.model,
		Messages: messages(chat),
	}
	if chat.JSON {
		payload.ResponseFormat = map[string]string{"type": "json_object"}
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return domain.ChatResponse{}, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payloadBytes))
	if err != nil {
		return domain.ChatResponse{}, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return domain.ChatResponse{}, fmt.Errorf("failed to call API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return domain.ChatResponse{}, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage *struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return domain.ChatResponse{}, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(result.Choices) == 0 {
		return domain.ChatResponse{}, fmt.Errorf("no choices in response")
	}

	out := domain.ChatResponse{
		Content: result.Choices[0].Message.Content,
		Model:   result.Model,
	}
	if out.Model == "" {
		out.Model = p.model
	}
	if result.Usage != nil {
		out.PromptTokens = result.Usage.PromptTokens
		out.CompletionTokens = result.Usage.CompletionTokens
	}
	return out, nil
}

func messages(chat domain.ChatRequest) []chatMessage {
	var msgs []chatMessage
	if chat.System != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: chat.System})
	}
	return append(msgs, chatMessage{Role: "user", Content: chat.User})
}
