// Package config loads pharmaflow settings: defaults, then an optional YAML
// file, then PHARMAFLOW_* environment variables, then bound CLI flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/manthysbr/pharmaflow/internal/core/domain"
)

const EnvPrefix = "PHARMAFLOW"

type Config struct {
	Log      LogConfig                `mapstructure:"log"`
	Server   ServerConfig             `mapstructure:"server"`
	Store    StoreConfig              `mapstructure:"store"`
	Pipeline PipelineConfig           `mapstructure:"pipeline"`
	Broker   BrokerConfig             `mapstructure:"broker"`
	LLM      domain.LLMProviderConfig `mapstructure:"llm"`
	S3       S3Config                 `mapstructure:"s3"`
	Workers  WorkersConfig            `mapstructure:"workers"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	APIKeys         []string      `mapstructure:"api_keys"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type StoreConfig struct {
	// Driver is duckdb, sqlite or memory.
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

type PipelineConfig struct {
	// Completion is sync (workers run in-process per stage) or async
	// (dispatch through the broker and wait for the callback).
	Completion        string        `mapstructure:"completion"`
	MaxConcurrentJobs int64         `mapstructure:"max_concurrent_jobs"`
	QueueSize         int           `mapstructure:"queue_size"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	ResponseTimeout   time.Duration `mapstructure:"response_timeout"`
}

type BrokerConfig struct {
	// Kind is queue (in-process) or docker.
	Kind            string        `mapstructure:"kind"`
	SubmitTimeout   time.Duration `mapstructure:"submit_timeout"`
	QueueSize       int           `mapstructure:"queue_size"`
	Concurrency     int64         `mapstructure:"concurrency"`
	CallbackBaseURL string        `mapstructure:"callback_base_url"`
	WorkerSecret    string        `mapstructure:"worker_secret"`
	TokenTTL        time.Duration `mapstructure:"token_ttl"`
	Docker          DockerConfig  `mapstructure:"docker"`
}

type DockerConfig struct {
	Image        string        `mapstructure:"image"`
	Network      string        `mapstructure:"network"`
	MemoryBytes  int64         `mapstructure:"memory_bytes"`
	NanoCPUs     int64         `mapstructure:"nano_cpus"`
	ReapInterval time.Duration `mapstructure:"reap_interval"`
}

type S3Config struct {
	Enabled         bool   `mapstructure:"enabled"`
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	// Audit archives every worker envelope delivery.
	Audit bool `mapstructure:"audit"`
}

type WorkersConfig struct {
	Clinical ClinicalConfig `mapstructure:"clinical"`
	Market   MarketConfig   `mapstructure:"market"`
}

type ClinicalConfig struct {
	BaseURL     string  `mapstructure:"base_url"`
	FixturePath string  `mapstructure:"fixture_path"`
	PageSize    int     `mapstructure:"page_size"`
	RatePerSec  float64 `mapstructure:"rate_per_sec"`
}

type MarketConfig struct {
	// SearchProvider is duckduckgo or brave.
	SearchProvider string `mapstructure:"search_provider"`
	BraveAPIKey    string `mapstructure:"brave_api_key"`
	MaxResults     int    `mapstructure:"max_results"`
}

// SetDefaults registers every key so that environment overrides apply to
// keys absent from the config file.
func SetDefaults(v *viper.Viper) {
	llm := domain.DefaultLLMConfig()
	defaults := map[string]any{
		"log.level": "info",

		"server.addr":             ":8080",
		"server.cors_origins":     []string{"http://localhost:5173"},
		"server.api_keys":         []string{},
		"server.shutdown_timeout": 10 * time.Second,

		"store.driver": "duckdb",
		"store.path":   "pharmaflow.duckdb",

		"pipeline.completion":          "sync",
		"pipeline.max_concurrent_jobs": 2,
		"pipeline.queue_size":          100,
		"pipeline.poll_interval":       500 * time.Millisecond,
		"pipeline.response_timeout":    5 * time.Minute,

		"broker.kind":                 "queue",
		"broker.submit_timeout":       10 * time.Second,
		"broker.queue_size":           100,
		"broker.concurrency":          4,
		"broker.callback_base_url":    "http://localhost:8080",
		"broker.worker_secret":        "",
		"broker.token_ttl":            30 * time.Minute,
		"broker.docker.image":         "pharmaflow:latest",
		"broker.docker.network":       "bridge",
		"broker.docker.memory_bytes":  512 << 20,
		"broker.docker.nano_cpus":     1_000_000_000,
		"broker.docker.reap_interval": time.Minute,

		"llm.mode":          llm.Mode,
		"llm.local_url":     llm.LocalURL,
		"llm.remote_url":    llm.RemoteURL,
		"llm.api_key":       "",
		"llm.default_model": llm.DefaultModel,
		"llm.rate_per_sec":  llm.RatePerSec,
		"llm.burst":         llm.Burst,
		"llm.max_retries":   llm.MaxRetries,

		"s3.enabled":           false,
		"s3.endpoint":          "",
		"s3.region":            "us-east-1",
		"s3.access_key_id":     "",
		"s3.secret_access_key": "",
		"s3.force_path_style":  true,
		"s3.audit":             true,

		"workers.clinical.base_url":     "https://clinicaltrials.gov",
		"workers.clinical.fixture_path": "",
		"workers.clinical.page_size":    20,
		"workers.clinical.rate_per_sec": 3,

		"workers.market.search_provider": "duckduckgo",
		"workers.market.brave_api_key":   "",
		"workers.market.max_results":     5,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads file (when set) into v, decodes it and decrypts enc: secrets.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.decryptSecrets(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) secrets() []*string {
	return []*string{
		&c.LLM.APIKey,
		&c.Broker.WorkerSecret,
		&c.S3.SecretAccessKey,
		&c.Workers.Market.BraveAPIKey,
	}
}

func (c *Config) decryptSecrets() error {
	var key *SecretKey
	for _, s := range c.secrets() {
		if !IsSealed(*s) {
			continue
		}
		if key == nil {
			k, err := LoadSecretKey()
			if err != nil {
				return err
			}
			key = k
		}
		plain, err := key.Open(*s)
		if err != nil {
			return fmt.Errorf("decrypt config secret: %w", err)
		}
		*s = plain
	}
	return nil
}

// LogValue renders the settings worth a startup log line with secrets masked.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("store", c.Store.Driver),
		slog.String("broker", c.Broker.Kind),
		slog.String("completion", c.Pipeline.Completion),
		slog.String("llm_mode", c.LLM.Mode),
		slog.String("llm_api_key", MaskSecret(c.LLM.APIKey)),
		slog.String("worker_secret", MaskSecret(c.Broker.WorkerSecret)),
		slog.Bool("s3", c.S3.Enabled),
		slog.Int("api_keys", len(c.Server.APIKeys)),
	)
}

// Validate checks that the selected drivers have what they need.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case "memory":
	case "duckdb", "sqlite":
		if c.Store.Driver == "sqlite" && c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not one of duckdb, sqlite, memory", c.Store.Driver))
	}

	switch c.Pipeline.Completion {
	case "sync", "async":
	default:
		errs = append(errs, fmt.Errorf("pipeline.completion %q is not one of sync, async", c.Pipeline.Completion))
	}
	if c.Pipeline.ResponseTimeout <= 0 || c.Pipeline.PollInterval <= 0 {
		errs = append(errs, errors.New("pipeline.poll_interval and pipeline.response_timeout must be positive"))
	}

	switch c.Broker.Kind {
	case "queue":
	case "docker":
		if c.Broker.Docker.Image == "" {
			errs = append(errs, errors.New("broker.docker.image is required for the docker broker"))
		}
		if c.Pipeline.Completion != "async" {
			errs = append(errs, errors.New("the docker broker requires pipeline.completion=async"))
		}
		if c.Broker.WorkerSecret == "" {
			errs = append(errs, errors.New("broker.worker_secret is required for the docker broker"))
		}
		if c.Broker.CallbackBaseURL == "" {
			errs = append(errs, errors.New("broker.callback_base_url is required for the docker broker"))
		}
		if !c.S3.Enabled {
			errs = append(errs, errors.New("the docker broker requires s3.enabled so workers can hand over artifacts"))
		}
	default:
		errs = append(errs, fmt.Errorf("broker.kind %q is not one of queue, docker", c.Broker.Kind))
	}

	switch c.LLM.Mode {
	case "off", "local":
	case "remote":
		if c.LLM.RemoteURL == "" {
			errs = append(errs, errors.New("llm.remote_url is required when llm.mode=remote"))
		}
	default:
		errs = append(errs, fmt.Errorf("llm.mode %q is not one of off, local, remote", c.LLM.Mode))
	}

	switch c.Workers.Market.SearchProvider {
	case "duckduckgo":
	case "brave":
		if c.Workers.Market.BraveAPIKey == "" {
			errs = append(errs, errors.New("workers.market.brave_api_key is required for brave search"))
		}
	default:
		errs = append(errs, fmt.Errorf("workers.market.search_provider %q is not one of duckduckgo, brave", c.Workers.Market.SearchProvider))
	}
	return errors.Join(errs...)
}
