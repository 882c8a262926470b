package domain

// LLMProviderConfig configures the LLM provider
type LLMProviderConfig struct {
	Mode         string  `json:"mode" mapstructure:"mode"`                   // "local" or "remote"
	LocalURL     string  `json:"local_url" mapstructure:"local_url"`         // "http://localhost:11434"
	RemoteURL    string  `json:"remote_url" mapstructure:"remote_url"`       // "https://api.groq.com/openai/v1"
	APIKey       string  `json:"api_key" mapstructure:"api_key"`             // may be stored encrypted
	DefaultModel string  `json:"default_model" mapstructure:"default_model"` // "llama-3.1-8b-instant"
	RatePerSec   float64 `json:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst        int     `json:"burst" mapstructure:"burst"`
	MaxRetries   int     `json:"max_retries" mapstructure:"max_retries"`
}

// DefaultLLMConfig returns safe defaults
func DefaultLLMConfig() LLMProviderConfig {
	return LLMProviderConfig{
		Mode:         "remote",
		LocalURL:     "http://localhost:11434",
		RemoteURL:    "https://api.groq.com/openai/v1",
		DefaultModel: "llama-3.1-8b-instant",
		RatePerSec:   2,
		Burst:        2,
		MaxRetries:   3,
	}
}
