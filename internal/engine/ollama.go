package engine

import (
	"context"

	"github.com/mdcapital/claimsight/internal/ollama"
)

const (
	defaultOllamaModel      = "llama3.1"
	defaultOllamaEmbedModel = "nomic-embed-text"
)

// Ollama completes prompts against a local Ollama server.
type Ollama struct {
	client *ollama.Client
	model  string
}

// NewOllama creates an Ollama completer for the server at baseURL.
func NewOllama(baseURL, model string) *Ollama {
	if model == "" {
		model = defaultOllamaModel
	}
	return &Ollama{client: ollama.New(baseURL), model: model}
}

func (o *Ollama) Name() string { return "ollama:" + o.model }

// Model returns the default model name.
func (o *Ollama) Model() string { return o.model }

func (o *Ollama) Complete(ctx context.Context, req Request) (string, error) {
	model := req.Model
	if model == "" {
		model = o.model
	}
	opts := &ollama.Options{}
	if req.Deterministic {
		zero := 0.0
		opts.Temperature = &zero
	}
	return o.client.Chat(ctx, model, []ollama.Message{{Role: "user", Content: req.Prompt}}, opts)
}

func (o *Ollama) IsRunning(ctx context.Context) bool {
	return o.client.IsRunning(ctx)
}

func (o *Ollama) HasModel(ctx context.Context, name string) bool {
	return o.client.HasModel(ctx, name)
}

func (o *Ollama) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	var cb func(ollama.PullProgress)
	if onProgress != nil {
		cb = func(p ollama.PullProgress) {
			onProgress(PullProgress{Status: p.Status, Total: p.Total, Completed: p.Completed})
		}
	}
	return o.client.PullModel(ctx, name, cb)
}

// OllamaEmbedder computes embeddings on-device through a local Ollama
// server. No data leaves the machine.
type OllamaEmbedder struct {
	*Ollama
}

// NewOllamaEmbedder creates an embedder using model on the server at baseURL.
func NewOllamaEmbedder(baseURL, model string) *OllamaEmbedder {
	if model == "" {
		model = defaultOllamaEmbedModel
	}
	return &OllamaEmbedder{Ollama: &Ollama{client: ollama.New(baseURL), model: model}}
}

func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return e.client.Embed(ctx, e.model, texts)
}
