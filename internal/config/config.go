package config

import (
	"fmt"
	"os"
	"time"
)

type Config struct {
	Server    ServerConfig
	Data      DataConfig
	LLM       LLMConfig
	Retrieval RetrievalConfig
	Agent     AgentConfig
	Sandbox   SandboxConfig
	Enrich    EnrichConfig
	Ollama    OllamaConfig
	Log       LogConfig
}

type ServerConfig struct {
	Addr string
	// Token, when set, is required as a bearer token on management routes.
	Token string
}

type DataConfig struct {
	Path   string
	DBPath string
}

type LLMConfig struct {
	Provider          string
	Model             string
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64
}

type RetrievalConfig struct {
	EmbeddingMode  string
	EmbeddingModel string
	TopK           int
	CacheTTL       time.Duration
	CacheSize      int
	// WarmInterval is how often serve renews the index in the background.
	// Zero builds it once at startup.
	WarmInterval time.Duration
}

type AgentConfig struct {
	Mode          string
	MaxIterations int
	StageTimeout  time.Duration
	CacheTTL      time.Duration
}

type SandboxConfig struct {
	Timeout time.Duration
}

type EnrichConfig struct {
	BatchSize   int
	Concurrency int
}

type OllamaConfig struct {
	URL string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{Addr: "127.0.0.1:8000"},
		Data: DataConfig{
			Path:   "data/communications.csv",
			DBPath: defaultDBPath(),
		},
		LLM: LLMConfig{
			Provider:          "gemini",
			Timeout:           60 * time.Second,
			RequestsPerSecond: 2,
		},
		Retrieval: RetrievalConfig{
			EmbeddingMode: "local",
			TopK:          5,
			CacheTTL:      time.Hour,
			CacheSize:     8,
			WarmInterval:  10 * time.Minute,
		},
		Agent: AgentConfig{
			Mode:          "linear",
			MaxIterations: 6,
			StageTimeout:  90 * time.Second,
			CacheTTL:      30 * time.Minute,
		},
		Sandbox: SandboxConfig{Timeout: 5 * time.Second},
		Enrich:  EnrichConfig{BatchSize: 15, Concurrency: 2},
		Ollama:  OllamaConfig{URL: "http://localhost:11434"},
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads configuration from the YAML file at
// $XDG_CONFIG_HOME/claimsight/config.yaml, then applies CLAIMSIGHT_*
// environment overrides. Provider keys fall back to GOOGLE_API_KEY or
// OPENAI_API_KEY when CLAIMSIGHT_LLM_API_KEY is unset.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = providerKeyFromEnv(cfg.LLM.Provider)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func providerKeyFromEnv(provider string) string {
	switch provider {
	case "gemini":
		return os.Getenv("GOOGLE_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	}
	return ""
}

// Validate rejects unknown enumerations and non-positive sizes. A missing
// credential is not an error here: requests may carry their own.
func (c Config) Validate() error {
	switch c.LLM.Provider {
	case "gemini", "openai", "ollama":
	default:
		return fmt.Errorf("invalid config: llm.provider %q (want gemini, openai or ollama)", c.LLM.Provider)
	}
	switch c.Retrieval.EmbeddingMode {
	case "local", "remote", "hashed":
	default:
		return fmt.Errorf("invalid config: retrieval.embedding_mode %q (want local, remote or hashed)", c.Retrieval.EmbeddingMode)
	}
	switch c.Agent.Mode {
	case "linear", "react":
	default:
		return fmt.Errorf("invalid config: agent.mode %q (want linear or react)", c.Agent.Mode)
	}
	if c.Enrich.BatchSize <= 0 {
		return fmt.Errorf("invalid config: enrich.batch_size must be positive, got %d", c.Enrich.BatchSize)
	}
	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("invalid config: agent.max_iterations must be positive, got %d", c.Agent.MaxIterations)
	}
	return nil
}
