package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.addr", typ: kString, env: "CLAIMSIGHT_SERVER_ADDR",
		apply:   func(cfg *Config, v any) { cfg.Server.Addr = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Addr },
	},
	{
		key: "server.token", typ: kString, env: "CLAIMSIGHT_SERVER_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "data.path", typ: kString, env: "CLAIMSIGHT_DATA_PATH",
		apply:   func(cfg *Config, v any) { cfg.Data.Path = v.(string) },
		extract: func(cfg Config) any { return cfg.Data.Path },
	},
	{
		key: "data.db_path", typ: kString, env: "CLAIMSIGHT_DATA_DB_PATH",
		apply:   func(cfg *Config, v any) { cfg.Data.DBPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Data.DBPath },
	},
	{
		key: "llm.provider", typ: kString, env: "CLAIMSIGHT_LLM_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.LLM.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Provider },
	},
	{
		key: "llm.model", typ: kString, env: "CLAIMSIGHT_LLM_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Model },
	},
	{
		key: "llm.base_url", typ: kString, env: "CLAIMSIGHT_LLM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.BaseURL },
	},
	{
		key: "llm.api_key", typ: kString, env: "CLAIMSIGHT_LLM_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.LLM.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.APIKey },
	},
	{
		key: "llm.timeout", typ: kDuration, env: "CLAIMSIGHT_LLM_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.LLM.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.LLM.Timeout },
	},
	{
		key: "llm.requests_per_second", typ: kFloat, env: "CLAIMSIGHT_LLM_REQUESTS_PER_SECOND",
		apply:   func(cfg *Config, v any) { cfg.LLM.RequestsPerSecond = v.(float64) },
		extract: func(cfg Config) any { return cfg.LLM.RequestsPerSecond },
	},
	{
		key: "retrieval.embedding_mode", typ: kString, env: "CLAIMSIGHT_RETRIEVAL_EMBEDDING_MODE",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.EmbeddingMode = v.(string) },
		extract: func(cfg Config) any { return cfg.Retrieval.EmbeddingMode },
	},
	{
		key: "retrieval.embedding_model", typ: kString, env: "CLAIMSIGHT_RETRIEVAL_EMBEDDING_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.EmbeddingModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Retrieval.EmbeddingModel },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "CLAIMSIGHT_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "retrieval.cache_ttl", typ: kDuration, env: "CLAIMSIGHT_RETRIEVAL_CACHE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.CacheTTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Retrieval.CacheTTL },
	},
	{
		key: "retrieval.cache_size", typ: kInt, env: "CLAIMSIGHT_RETRIEVAL_CACHE_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.CacheSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.CacheSize },
	},
	{
		key: "retrieval.warm_interval", typ: kDuration, env: "CLAIMSIGHT_RETRIEVAL_WARM_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.WarmInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Retrieval.WarmInterval },
	},
	{
		key: "agent.mode", typ: kString, env: "CLAIMSIGHT_AGENT_MODE",
		apply:   func(cfg *Config, v any) { cfg.Agent.Mode = v.(string) },
		extract: func(cfg Config) any { return cfg.Agent.Mode },
	},
	{
		key: "agent.max_iterations", typ: kInt, env: "CLAIMSIGHT_AGENT_MAX_ITERATIONS",
		apply:   func(cfg *Config, v any) { cfg.Agent.MaxIterations = v.(int) },
		extract: func(cfg Config) any { return cfg.Agent.MaxIterations },
	},
	{
		key: "agent.stage_timeout", typ: kDuration, env: "CLAIMSIGHT_AGENT_STAGE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Agent.StageTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Agent.StageTimeout },
	},
	{
		key: "agent.cache_ttl", typ: kDuration, env: "CLAIMSIGHT_AGENT_CACHE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Agent.CacheTTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Agent.CacheTTL },
	},
	{
		key: "sandbox.timeout", typ: kDuration, env: "CLAIMSIGHT_SANDBOX_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Sandbox.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Sandbox.Timeout },
	},
	{
		key: "enrich.batch_size", typ: kInt, env: "CLAIMSIGHT_ENRICH_BATCH_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Enrich.BatchSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Enrich.BatchSize },
	},
	{
		key: "enrich.concurrency", typ: kInt, env: "CLAIMSIGHT_ENRICH_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Enrich.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Enrich.Concurrency },
	},
	{
		key: "ollama.url", typ: kString, env: "CLAIMSIGHT_OLLAMA_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.URL },
	},
	{
		key: "log.level", typ: kString, env: "CLAIMSIGHT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// parseValue converts raw text into the Go type a key expects.
func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}
		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
