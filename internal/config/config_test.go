package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "duckdb", cfg.Store.Driver)
	assert.Equal(t, "sync", cfg.Pipeline.Completion)
	assert.Equal(t, 500*time.Millisecond, cfg.Pipeline.PollInterval)
	assert.Equal(t, 5*time.Minute, cfg.Pipeline.ResponseTimeout)
	assert.Equal(t, 10*time.Second, cfg.Broker.SubmitTimeout)
	assert.Equal(t, "queue", cfg.Broker.Kind)
	assert.Equal(t, "llama-3.1-8b-instant", cfg.LLM.DefaultModel)
	assert.Equal(t, 3, cfg.LLM.MaxRetries)
	assert.Equal(t, "https://clinicaltrials.gov", cfg.Workers.Clinical.BaseURL)
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "pharmaflow.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
store:
  driver: sqlite
  path: /var/lib/pharmaflow/db.sqlite
pipeline:
  completion: async
  response_timeout: 90s
llm:
  mode: local
server:
  api_keys: [k1, k2]
`), 0o600))

	t.Setenv("PHARMAFLOW_PIPELINE_RESPONSE_TIMEOUT", "2m")
	t.Setenv("PHARMAFLOW_LOG_LEVEL", "debug")

	cfg, err := Load(New(), file)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "/var/lib/pharmaflow/db.sqlite", cfg.Store.Path)
	assert.Equal(t, "async", cfg.Pipeline.Completion)
	assert.Equal(t, 2*time.Minute, cfg.Pipeline.ResponseTimeout, "env wins over file")
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "local", cfg.LLM.Mode)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Server.APIKeys)
}

func TestLoad_DecryptsSecrets(t *testing.T) {
	t.Setenv(SecretKeyEnv, "config-test-key")
	sk, err := NewSecretKey("config-test-key")
	require.NoError(t, err)
	enc, err := sk.Seal("gsk-live-123")
	require.NoError(t, err)

	t.Setenv("PHARMAFLOW_LLM_API_KEY", enc)
	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, "gsk-live-123", cfg.LLM.APIKey)
}

func TestLoad_SealedSecretWithoutKey(t *testing.T) {
	t.Setenv(SecretKeyEnv, "")
	t.Setenv(SecretKeyFileEnv, "")
	t.Setenv("PHARMAFLOW_BROKER_WORKER_SECRET", "enc:AAAA")
	_, err := Load(New(), "")
	assert.ErrorIs(t, err, ErrNoSecretKey)
}

func TestConfig_LogValueMasksSecrets(t *testing.T) {
	cfg, err := Load(New(), "")
	require.NoError(t, err)
	cfg.LLM.APIKey = "gsk-live-123456"
	out := cfg.LogValue().String()
	assert.Contains(t, out, "****3456")
	assert.NotContains(t, out, "gsk-live")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load(New(), "")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown store", func(c *Config) { c.Store.Driver = "postgres" }, "store.driver"},
		{"sqlite without path", func(c *Config) { c.Store.Driver = "sqlite"; c.Store.Path = "" }, "store.path"},
		{"unknown completion", func(c *Config) { c.Pipeline.Completion = "eventual" }, "pipeline.completion"},
		{"docker needs async", func(c *Config) {
			c.Broker.Kind = "docker"
			c.Broker.WorkerSecret = "s"
		}, "pipeline.completion=async"},
		{"docker needs secret", func(c *Config) {
			c.Broker.Kind = "docker"
			c.Pipeline.Completion = "async"
		}, "worker_secret"},
		{"docker needs object store", func(c *Config) {
			c.Broker.Kind = "docker"
			c.Pipeline.Completion = "async"
			c.Broker.WorkerSecret = "s"
		}, "s3.enabled"},
		{"remote llm needs url", func(c *Config) { c.LLM.RemoteURL = "" }, "llm.remote_url"},
		{"brave needs key", func(c *Config) { c.Workers.Market.SearchProvider = "brave" }, "brave_api_key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}

	ok := base()
	ok.Broker.Kind = "docker"
	ok.Pipeline.Completion = "async"
	ok.Broker.WorkerSecret = "s"
	ok.S3.Enabled = true
	ok.Store.Driver = "memory"
	ok.LLM.Mode = "off"
	assert.NoError(t, ok.Validate())
}
