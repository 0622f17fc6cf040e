// Package engine wraps the text-completion and embedding services behind
// two small interfaces. Backends: Gemini, OpenAI-compatible servers, a
// local Ollama instance, and an in-process hashing embedder.
package engine

import (
	"context"
	"errors"
)

// ErrMissingCredential is returned when a remote backend is selected but no
// API key is available.
var ErrMissingCredential = errors.New("missing credential")

// Request is a single text-completion call.
type Request struct {
	Prompt string
	// Model overrides the backend's default model when set.
	Model string
	// Deterministic requests temperature-zero sampling.
	Deterministic bool
}

// Completer turns a prompt into text.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
	Name() string
}

// Embedder turns a batch of texts into one vector per text, in order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
}

// PullProgress reports download progress for a model pull operation.
type PullProgress struct {
	Status    string
	Total     int64
	Completed int64
}

// ModelManager is implemented by backends that host models locally.
type ModelManager interface {
	IsRunning(ctx context.Context) bool
	HasModel(ctx context.Context, name string) bool
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
