package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// memBackend is an in-memory ConfigBackend for tests.
type memBackend struct {
	strs map[string]string
	ints map[string]int
}

func newMemBackend() *memBackend {
	return &memBackend{strs: map[string]string{}, ints: map[string]int{}}
}

func (m *memBackend) GetString(key string) (string, bool, error) {
	v, ok := m.strs[key]
	return v, ok, nil
}

func (m *memBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.ints[key]
	return v, ok, nil
}

func (m *memBackend) SetString(key, val string) error { m.strs[key] = val; return nil }
func (m *memBackend) SetInt(key string, val int) error { m.ints[key] = val; return nil }
func (m *memBackend) Delete(key string) error {
	delete(m.strs, key)
	delete(m.ints, key)
	return nil
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadWith(newMemBackend())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.LLM.Provider != "gemini" {
		t.Errorf("LLM.Provider = %q, want %q", cfg.LLM.Provider, "gemini")
	}
	if cfg.Agent.Mode != "linear" {
		t.Errorf("Agent.Mode = %q, want %q", cfg.Agent.Mode, "linear")
	}
	if cfg.Agent.MaxIterations != 6 {
		t.Errorf("Agent.MaxIterations = %d, want 6", cfg.Agent.MaxIterations)
	}
	if cfg.Enrich.BatchSize != 15 {
		t.Errorf("Enrich.BatchSize = %d, want 15", cfg.Enrich.BatchSize)
	}
	if cfg.Retrieval.TopK != 5 {
		t.Errorf("Retrieval.TopK = %d, want 5", cfg.Retrieval.TopK)
	}
	if cfg.Sandbox.Timeout != 5*time.Second {
		t.Errorf("Sandbox.Timeout = %v, want 5s", cfg.Sandbox.Timeout)
	}
	if cfg.Retrieval.WarmInterval != 10*time.Minute {
		t.Errorf("Retrieval.WarmInterval = %v, want 10m", cfg.Retrieval.WarmInterval)
	}
}

func TestBackendValues(t *testing.T) {
	clearEnv(t)

	b := newMemBackend()
	b.strs["llm.provider"] = "openai"
	b.strs["llm.timeout"] = "15s"
	b.strs["llm.requests_per_second"] = "0.5"
	b.ints["enrich.batch_size"] = 10

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.Provider != "openai" {
		t.Errorf("LLM.Provider = %q, want %q", cfg.LLM.Provider, "openai")
	}
	if cfg.LLM.Timeout != 15*time.Second {
		t.Errorf("LLM.Timeout = %v, want 15s", cfg.LLM.Timeout)
	}
	if cfg.LLM.RequestsPerSecond != 0.5 {
		t.Errorf("LLM.RequestsPerSecond = %v, want 0.5", cfg.LLM.RequestsPerSecond)
	}
	if cfg.Enrich.BatchSize != 10 {
		t.Errorf("Enrich.BatchSize = %d, want 10", cfg.Enrich.BatchSize)
	}
}

func TestEnvOverride(t *testing.T) {
	clearEnv(t)

	b := newMemBackend()
	b.strs["agent.mode"] = "linear"
	t.Setenv("CLAIMSIGHT_AGENT_MODE", "react")
	t.Setenv("CLAIMSIGHT_AGENT_MAX_ITERATIONS", "3")
	t.Setenv("CLAIMSIGHT_RETRIEVAL_WARM_INTERVAL", "0s")

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Agent.Mode != "react" {
		t.Errorf("Agent.Mode = %q, want %q", cfg.Agent.Mode, "react")
	}
	if cfg.Agent.MaxIterations != 3 {
		t.Errorf("Agent.MaxIterations = %d, want 3", cfg.Agent.MaxIterations)
	}
	if cfg.Retrieval.WarmInterval != 0 {
		t.Errorf("Retrieval.WarmInterval = %v, want 0", cfg.Retrieval.WarmInterval)
	}
}

func TestProviderKeyFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv("GOOGLE_API_KEY", "google-key")

	cfg, err := loadWith(newMemBackend())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.APIKey != "google-key" {
		t.Errorf("LLM.APIKey = %q, want %q", cfg.LLM.APIKey, "google-key")
	}

	t.Setenv("CLAIMSIGHT_LLM_API_KEY", "explicit")
	cfg, err = loadWith(newMemBackend())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.APIKey != "explicit" {
		t.Errorf("LLM.APIKey = %q, want %q", cfg.LLM.APIKey, "explicit")
	}
}

func TestInvalidEnumRejected(t *testing.T) {
	clearEnv(t)

	b := newMemBackend()
	b.strs["retrieval.embedding_mode"] = "faiss"

	_, err := loadWith(b)
	if err == nil {
		t.Fatal("expected error for unknown embedding mode, got nil")
	}
	if !strings.Contains(err.Error(), "retrieval.embedding_mode") {
		t.Errorf("error = %q, want it to name the key", err)
	}
}

func TestFileBackendRoundTrip(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	b := newFileBackend(path)
	if err := setKey(b, "retrieval.top_k", "7"); err != nil {
		t.Fatalf("setKey: %v", err)
	}
	if err := setKey(b, "agent.stage_timeout", "45s"); err != nil {
		t.Fatalf("setKey: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Retrieval.TopK != 7 {
		t.Errorf("Retrieval.TopK = %d, want 7", cfg.Retrieval.TopK)
	}
	if cfg.Agent.StageTimeout != 45*time.Second {
		t.Errorf("Agent.StageTimeout = %v, want 45s", cfg.Agent.StageTimeout)
	}
}

func TestSetKeyRejectsSecretsAndBadValues(t *testing.T) {
	b := newMemBackend()
	if err := setKey(b, "llm.api_key", "x"); err == nil {
		t.Error("expected error setting secret key")
	}
	if err := setKey(b, "retrieval.top_k", "many"); err == nil {
		t.Error("expected error for non-integer value")
	}
	if err := setKey(b, "no.such.key", "1"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestShowAllOmitsSecrets(t *testing.T) {
	clearEnv(t)
	cfg := defaults()
	cfg.LLM.APIKey = "hidden"
	for _, k := range ShowAll(cfg) {
		if k.Key == "llm.api_key" {
			t.Fatal("ShowAll exposed llm.api_key")
		}
		if k.Value == "hidden" {
			t.Fatal("ShowAll exposed secret value")
		}
	}
}

func TestFileBackendInvalidYAMLUsesDefaults(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("retrieval.top_k: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadWith(newFileBackend(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Retrieval.TopK != defaults().Retrieval.TopK {
		t.Errorf("Retrieval.TopK = %d, want default %d", cfg.Retrieval.TopK, defaults().Retrieval.TopK)
	}
}

func TestFileBackendGetInt(t *testing.T) {
	b := &fileBackend{data: map[string]any{
		"whole":  float64(8),
		"frac":   1.5,
		"text":   "12",
		"bad":    "twelve",
		"nested": []any{1},
	}}
	tests := []struct {
		key     string
		want    int
		wantErr bool
	}{
		{"whole", 8, false},
		{"frac", 0, true},
		{"text", 12, false},
		{"bad", 0, true},
		{"nested", 0, true},
	}
	for _, tt := range tests {
		got, ok, err := b.GetInt(tt.key)
		if !ok {
			t.Errorf("GetInt(%q) reported missing", tt.key)
		}
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("GetInt(%q) = %d, %v; want %d, err=%v", tt.key, got, err, tt.want, tt.wantErr)
		}
	}
	if _, ok, _ := b.GetInt("absent"); ok {
		t.Error("GetInt(absent) reported present")
	}
}
