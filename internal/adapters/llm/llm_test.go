package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/pharmaflow/internal/adapters/memory"
	"github.com/manthysbr/pharmaflow/internal/core/domain"
	"github.com/manthysbr/pharmaflow/internal/schema"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenAIProvider_Chat(t *testing.T) {
	var got openAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer gsk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"model":"llama-3.1-8b-instant","choices":[{"message":{"content":"{\"ok\":true}"}}],"usage":{"prompt_tokens":12,"completion_tokens":4}}`)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(srv.URL+"/v1/", "gsk-test", "")
	resp, err := p.Chat(context.Background(), domain.ChatRequest{System: "sys", User: "hi", JSON: true})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, resp.Content)
	assert.Equal(t, 12, resp.PromptTokens)
	assert.Equal(t, 4, resp.CompletionTokens)

	assert.Equal(t, "llama-3.1-8b-instant", got.Model)
	assert.Equal(t, 0.0, got.Temperature)
	assert.Equal(t, "json_object", got.ResponseFormat["type"])
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
}

func TestOpenAIProvider_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewOpenAIProvider(srv.URL, "", "m").Chat(context.Background(), domain.ChatRequest{User: "hi"})
	assert.ErrorContains(t, err, "status 429")
}

func TestOllamaProvider_Chat(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"model":"llama3.1:8b","message":{"role":"assistant","content":"{}"},"done":true,"prompt_eval_count":7,"eval_count":2}`)
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL+"/v1", "")
	resp, err := p.Chat(context.Background(), domain.ChatRequest{User: "hi", JSON: true})
	require.NoError(t, err)
	assert.Equal(t, "{}", resp.Content)
	assert.Equal(t, 7, resp.PromptTokens)
	assert.Equal(t, "json", got.Format)
	assert.False(t, got.Stream)
	require.Len(t, got.Messages, 1)
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name, in, want string
		wantErr        bool
	}{
		{name: "direct", in: `{"a":1}`, want: `{"a":1}`},
		{name: "fenced object", in: "Here you go:\n```json\n{\"a\": [1,2]}\n```", want: `{"a": [1,2]}`},
		{name: "array", in: `result: [1, 2, 3] done`, want: `[1, 2, 3]`},
		{name: "garbage", in: `no json {here`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

// scriptedProvider answers with the queued replies in order.
type scriptedProvider struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	calls   int
	last    domain.ChatRequest
}

func (p *scriptedProvider) Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	p.calls++
	p.last = req
	if i < len(p.errs) && p.errs[i] != nil {
		return domain.ChatResponse{}, p.errs[i]
	}
	reply := p.replies[len(p.replies)-1]
	if i < len(p.replies) {
		reply = p.replies[i]
	}
	return domain.ChatResponse{Content: reply, Model: "test-model", PromptTokens: 10, CompletionTokens: 5}, nil
}

const validPatents = `{"patents":[{"patent_id":"US7","title":"t","status":"granted","summary":"s"}]}`

func TestStructuredGenerator_RetriesUntilValid(t *testing.T) {
	store := memory.NewStore()
	provider := &scriptedProvider{replies: []string{
		"I cannot help with that",
		`{"patents":"none"}`,
		"```json\n" + validPatents + "\n```",
	}}
	gen := NewStructuredGenerator(discardLogger(), provider, schema.MustNew(), store, GeneratorConfig{})

	var out domain.PatentOutputs
	err := gen.Generate(context.Background(), domain.StructuredRequest{
		JobID: "job-1", Stage: "patent", Prompt: "patents for Metformin", Schema: schema.PatentOutputs,
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, 3, provider.calls)
	require.Len(t, out.Patents, 1)
	assert.Equal(t, "US7", out.Patents[0].PatentID)

	assert.Contains(t, provider.last.System, `"patent_id"`)
	assert.Contains(t, provider.last.User, "patents for Metformin")
	assert.True(t, provider.last.JSON)

	calls, err := store.ListLLMCalls(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, calls, 1, "only the successful attempt is logged")
	assert.Equal(t, "patent", calls[0].Stage)
	assert.Equal(t, "test-model", calls[0].Model)
	assert.JSONEq(t, validPatents, calls[0].Response)
}

func TestStructuredGenerator_FormatFailure(t *testing.T) {
	provider := &scriptedProvider{replies: []string{"nope"}}
	gen := NewStructuredGenerator(discardLogger(), provider, schema.MustNew(), nil, GeneratorConfig{MaxRetries: 2})

	var out domain.PatentOutputs
	err := gen.Generate(context.Background(), domain.StructuredRequest{Schema: schema.PatentOutputs}, &out)
	assert.ErrorIs(t, err, ErrResponseFormat)
	assert.Equal(t, 2, provider.calls)
}

func TestStructuredGenerator_ServiceFailure(t *testing.T) {
	down := errors.New("connection refused")
	provider := &scriptedProvider{replies: []string{validPatents}, errs: []error{down, down, down}}
	gen := NewStructuredGenerator(discardLogger(), provider, schema.MustNew(), nil, GeneratorConfig{})

	var out domain.PatentOutputs
	err := gen.Generate(context.Background(), domain.StructuredRequest{Schema: schema.PatentOutputs}, &out)
	assert.ErrorIs(t, err, ErrService)
	assert.Equal(t, 3, provider.calls)
}

func TestStructuredGenerator_UnknownSchema(t *testing.T) {
	provider := &scriptedProvider{replies: []string{"{}"}}
	gen := NewStructuredGenerator(discardLogger(), provider, schema.MustNew(), nil, GeneratorConfig{})
	err := gen.Generate(context.Background(), domain.StructuredRequest{Schema: "Nope"}, &struct{}{})
	assert.Error(t, err)
	assert.Equal(t, 0, provider.calls)
}

func TestStructuredGenerator_RateLimitHonoursContext(t *testing.T) {
	provider := &scriptedProvider{replies: []string{validPatents}}
	gen := NewStructuredGenerator(discardLogger(), provider, schema.MustNew(), nil, GeneratorConfig{RequestsPerSecond: 0.001, Burst: 1})
	ctx := context.Background()

	var out domain.PatentOutputs
	require.NoError(t, gen.Generate(ctx, domain.StructuredRequest{Schema: schema.PatentOutputs}, &out))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err := gen.Generate(cancelled, domain.StructuredRequest{Schema: schema.PatentOutputs}, &out)
	assert.Error(t, err)
	assert.Equal(t, 1, provider.calls)
}
