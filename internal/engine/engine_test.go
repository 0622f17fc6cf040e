package engine

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestOllama_Complete(t *testing.T) {
	var gotTemp any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if opts, ok := body["options"].(map[string]any); ok {
			gotTemp = opts["temperature"]
		}
		json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"role": "assistant", "content": "result = 2"},
		})
	}))
	defer srv.Close()

	c := NewOllama(srv.URL, "")
	out, err := c.Complete(context.Background(), Request{Prompt: "count denied", Deterministic: true})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "result = 2" {
		t.Errorf("out = %q, want %q", out, "result = 2")
	}
	if gotTemp != 0.0 {
		t.Errorf("temperature = %v, want 0", gotTemp)
	}
	if c.Name() != "ollama:llama3.1" {
		t.Errorf("Name = %q", c.Name())
	}
}

func TestOllamaEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{{1, 0}, {0, 1}}})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL, "")
	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 2 || vecs[1][1] != 1 {
		t.Errorf("vecs = %v", vecs)
	}
	if e.Name() != "ollama:nomic-embed-text" {
		t.Errorf("Name = %q", e.Name())
	}
}

func TestOpenAI_CompleteAndEmbed(t *testing.T) {
	var gotTemp float64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/chat/completions":
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			gotTemp, _ = body["temperature"].(float64)
			json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]any{
					{"message": map[string]string{"role": "assistant", "content": "2 claims were denied"}},
				},
			})
		case "/v1/embeddings":
			json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{
					{"object": "embedding", "index": 1, "embedding": []float32{0, 1}},
					{"object": "embedding", "index": 0, "embedding": []float32{1, 0}},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c, err := NewOpenAI("test-key", srv.URL+"/v1", "")
	if err != nil {
		t.Fatalf("NewOpenAI: %v", err)
	}
	out, err := c.Complete(context.Background(), Request{Prompt: "q", Deterministic: true})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "2 claims were denied" {
		t.Errorf("out = %q", out)
	}
	if gotTemp <= 0 || gotTemp > 1e-6 {
		t.Errorf("temperature = %v, want effectively zero", gotTemp)
	}

	e, err := NewOpenAIEmbedder("test-key", srv.URL+"/v1", "")
	if err != nil {
		t.Fatalf("NewOpenAIEmbedder: %v", err)
	}
	vecs, err := e.EmbedBatch(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Errorf("embeddings not placed by index: %v", vecs)
	}
}

func TestRemoteBackendsRequireCredential(t *testing.T) {
	ctx := context.Background()
	if _, err := NewCompleter(ctx, Settings{Provider: "gemini"}); !errors.Is(err, ErrMissingCredential) {
		t.Errorf("gemini err = %v, want ErrMissingCredential", err)
	}
	if _, err := NewCompleter(ctx, Settings{Provider: "openai"}); !errors.Is(err, ErrMissingCredential) {
		t.Errorf("openai err = %v, want ErrMissingCredential", err)
	}
	if _, err := NewEmbedder(ctx, Settings{Provider: "gemini", EmbeddingMode: "remote"}); !errors.Is(err, ErrMissingCredential) {
		t.Errorf("remote embedder err = %v, want ErrMissingCredential", err)
	}
}

func TestFactoryUnknownValues(t *testing.T) {
	ctx := context.Background()
	if _, err := NewCompleter(ctx, Settings{Provider: "bard"}); err == nil {
		t.Error("expected error for unknown provider")
	}
	if _, err := NewEmbedder(ctx, Settings{EmbeddingMode: "faiss"}); err == nil {
		t.Error("expected error for unknown embedding mode")
	}
	e, err := NewEmbedder(ctx, Settings{EmbeddingMode: "hashed"})
	if err != nil {
		t.Fatalf("hashed embedder: %v", err)
	}
	if _, ok := e.(*HashEmbedder); !ok {
		t.Errorf("hashed mode returned %T", e)
	}
}

func TestHashEmbedderDeterministic(t *testing.T) {
	h := NewHashEmbedder(64)
	vecs, err := h.EmbedBatch(context.Background(), []string{"Prior authorization required", "prior AUTHORIZATION required!"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs[0]) != 64 {
		t.Fatalf("dim = %d, want 64", len(vecs[0]))
	}
	for i := range vecs[0] {
		if vecs[0][i] != vecs[1][i] {
			t.Fatalf("vectors differ at %d after case/punctuation normalisation", i)
		}
	}
	var norm float64
	for _, v := range vecs[0] {
		norm += float64(v * v)
	}
	if math.Sqrt(norm) == 0 {
		t.Error("embedding is all zeros")
	}
}

type slowCompleter struct{}

func (slowCompleter) Name() string { return "slow" }
func (slowCompleter) Complete(ctx context.Context, _ Request) (string, error) {
	select {
	case <-time.After(time.Second):
		return "late", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestLimitCompleterTimeout(t *testing.T) {
	c := LimitCompleter(slowCompleter{}, 0, 20*time.Millisecond)
	_, err := c.Complete(context.Background(), Request{Prompt: "x"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}
