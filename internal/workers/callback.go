package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/manthysbr/pharmaflow/internal/core/domain"
)

// TokenHeader carries the worker credential on callbacks.
const TokenHeader = "X-Worker-Token"

// CallbackClient posts envelopes to the orchestrator completion endpoint.
type CallbackClient struct {
	logger   *slog.Logger
	client   *http.Client
	attempts int
	backoff  time.Duration
}

func NewCallbackClient(logger *slog.Logger, client *http.Client) *CallbackClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &CallbackClient{logger: logger, client: client, attempts: 3, backoff: time.Second}
}

// CallbackStatus is the orchestrator answer to a delivered envelope.
type CallbackStatus struct {
	Status string        `json:"status"`
	TaskID domain.TaskID `json:"task_id"`
}

// Deliver posts env to the message callback URL. Transport errors and 5xx
// answers are retried; any 4xx is final.
func (c *CallbackClient) Deliver(ctx context.Context, msg domain.TaskMessage, env domain.Envelope) (CallbackStatus, error) {
	if msg.CallbackURL == "" {
		return CallbackStatus{}, fmt.Errorf("task %s has no callback url", msg.TaskID)
	}
	body, err := json.Marshal(env)
	if err != nil {
		return CallbackStatus{}, fmt.Errorf("encode envelope: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		status, retry, err := c.post(ctx, msg, body)
		if err == nil {
			return status, nil
		}
		lastErr = err
		if !retry || attempt == c.attempts {
			break
		}
		c.logger.Warn("callback failed, retrying", "task_id", msg.TaskID, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return CallbackStatus{}, ctx.Err()
		case <-time.After(c.backoff * time.Duration(attempt)):
		}
	}
	return CallbackStatus{}, lastErr
}

func (c *CallbackClient) post(ctx context.Context, msg domain.TaskMessage, body []byte) (CallbackStatus, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, msg.CallbackURL, bytes.NewReader(body))
	if err != nil {
		return CallbackStatus{}, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	if msg.CallbackToken != "" {
		req.Header.Set(TokenHeader, msg.CallbackToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return CallbackStatus{}, true, fmt.Errorf("post callback: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return CallbackStatus{}, resp.StatusCode >= 500, fmt.Errorf("callback returned status %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}

	var status CallbackStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return CallbackStatus{}, false, fmt.Errorf("decode callback answer: %w", err)
	}
	return status, false, nil
}
