// Package providers selects the language model backend from configuration.
package providers

import (
	"fmt"
	"os"
	"strings"

	"github.com/manthysbr/pharmaflow/internal/adapters/llm"
	"github.com/manthysbr/pharmaflow/internal/core/domain"
)

// BuildLLM creates the configured LLM provider. Mode "off" returns nil: the
// workers and synthesis then fall back to their deterministic output.
func BuildLLM(cfg domain.LLMProviderConfig) (domain.LLMProvider, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	switch mode {
	case "off":
		return nil, nil
	case "", "local":
		baseURL := strings.TrimSpace(os.Getenv("OLLAMA_HOST"))
		if baseURL == "" {
			baseURL = strings.TrimSpace(cfg.LocalURL)
		}
		return llm.NewOllamaProvider(baseURL, strings.TrimSpace(cfg.DefaultModel)), nil
	case "remote":
		if strings.TrimSpace(cfg.RemoteURL) == "" {
			return nil, fmt.Errorf("llm remote_url is required when mode=remote")
		}
		return llm.NewOpenAIProvider(
			strings.TrimSpace(cfg.RemoteURL),
			strings.TrimSpace(cfg.APIKey),
			strings.TrimSpace(cfg.DefaultModel),
		), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider mode: %s", cfg.Mode)
	}
}
