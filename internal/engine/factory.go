package engine

import (
	"context"
	"fmt"
	"time"
)

// Settings selects and configures backends.
type Settings struct {
	Provider          string // gemini, openai or ollama
	Model             string
	BaseURL           string
	APIKey            string
	OllamaURL         string
	EmbeddingMode     string // local, remote or hashed
	EmbeddingModel    string
	Timeout           time.Duration
	RequestsPerSecond float64
}

// NewCompleter builds the configured completion backend, wrapped with rate
// limiting and the per-call timeout.
func NewCompleter(ctx context.Context, s Settings) (Completer, error) {
	var (
		c   Completer
		err error
	)
	switch s.Provider {
	case "gemini":
		c, err = NewGemini(ctx, s.APIKey, s.Model)
	case "openai":
		c, err = NewOpenAI(s.APIKey, s.BaseURL, s.Model)
	case "ollama":
		url := s.BaseURL
		if url == "" {
			url = s.OllamaURL
		}
		c = NewOllama(url, s.Model)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", s.Provider)
	}
	if err != nil {
		return nil, err
	}
	return LimitCompleter(c, s.RequestsPerSecond, s.Timeout), nil
}

// NewEmbedder builds the configured embedding backend. "local" runs on the
// Ollama server, "remote" uses the completion provider's embedding API, and
// "hashed" runs in-process.
func NewEmbedder(ctx context.Context, s Settings) (Embedder, error) {
	var (
		e   Embedder
		err error
	)
	switch s.EmbeddingMode {
	case "local":
		e = NewOllamaEmbedder(s.OllamaURL, s.EmbeddingModel)
	case "hashed":
		return NewHashEmbedder(0), nil
	case "remote":
		switch s.Provider {
		case "gemini":
			e, err = NewGeminiEmbedder(ctx, s.APIKey, s.EmbeddingModel)
		case "openai":
			e, err = NewOpenAIEmbedder(s.APIKey, s.BaseURL, s.EmbeddingModel)
		case "ollama":
			url := s.BaseURL
			if url == "" {
				url = s.OllamaURL
			}
			e = NewOllamaEmbedder(url, s.EmbeddingModel)
		default:
			return nil, fmt.Errorf("unknown llm provider %q", s.Provider)
		}
	default:
		return nil, fmt.Errorf("unknown embedding mode %q", s.EmbeddingMode)
	}
	if err != nil {
		return nil, err
	}
	return LimitEmbedder(e, s.RequestsPerSecond, s.Timeout), nil
}
