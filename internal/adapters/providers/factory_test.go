package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manthysbr/pharmaflow/internal/adapters/llm"
	"github.com/manthysbr/pharmaflow/internal/core/domain"
)

func TestBuildLLM(t *testing.T) {
	cfg := domain.DefaultLLMConfig()

	p, err := BuildLLM(cfg)
	require.NoError(t, err)
	assert.IsType(t, &llm.OpenAIProvider{}, p)

	cfg.Mode = "local"
	p, err = BuildLLM(cfg)
	require.NoError(t, err)
	assert.IsType(t, &llm.OllamaProvider{}, p)

	cfg.Mode = "off"
	p, err = BuildLLM(cfg)
	require.NoError(t, err)
	assert.Nil(t, p)

	cfg.Mode = "remote"
	cfg.RemoteURL = " "
	_, err = BuildLLM(cfg)
	assert.Error(t, err)

	cfg.Mode = "cloud"
	_, err = BuildLLM(cfg)
	assert.ErrorContains(t, err, "unsupported")
}
