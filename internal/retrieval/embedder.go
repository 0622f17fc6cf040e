package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mdcapital/claimsight/internal/storage"
	"golang.org/x/sync/errgroup"
)

const (
	embedBatchSize   = 64
	embedConcurrency = 4
)

// Embedder turns a batch of texts into one vector per text, in order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
}

// embedAll embeds texts in fixed-size batches, running a bounded number of
// batches concurrently. Each batch writes only its own slice range.
func embedAll(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)

	for start := 0; start < len(texts); start += embedBatchSize {
		end := min(start+embedBatchSize, len(texts))
		g.Go(func() error {
			vecs, err := e.EmbedBatch(gCtx, texts[start:end])
			if err != nil {
				return fmt.Errorf("embedding texts %d-%d: %w", start, end-1, err)
			}
			if len(vecs) != end-start {
				return fmt.Errorf("embedding texts %d-%d: got %d vectors", start, end-1, len(vecs))
			}
			copy(results[start:end], vecs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// VectorCache persists embeddings across process restarts.
type VectorCache interface {
	GetVectors(model string, hashes []string) (map[string][]float32, error)
	PutVectors(model string, vecs map[string][]float32) error
}

// CachingEmbedder serves embeddings from a VectorCache and only sends
// uncached texts to the wrapped Embedder. Cache failures are logged and
// bypassed.
type CachingEmbedder struct {
	next  Embedder
	cache VectorCache
}

func NewCachingEmbedder(next Embedder, cache VectorCache) *CachingEmbedder {
	return &CachingEmbedder{next: next, cache: cache}
}

func (c *CachingEmbedder) Name() string { return c.next.Name() }

func (c *CachingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	hashes := make([]string, len(texts))
	for i, t := range texts {
		hashes[i] = storage.HashText(t)
	}

	cached, err := c.cache.GetVectors(c.next.Name(), hashes)
	if err != nil {
		slog.Warn("embedding cache lookup failed", "model", c.next.Name(), "error", err)
		cached = nil
	}

	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, h := range hashes {
		if v, ok := cached[h]; ok {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, texts[i])
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.next.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(missTexts))
	}

	fresh := make(map[string][]float32, len(vecs))
	for j, i := range missIdx {
		out[i] = vecs[j]
		fresh[hashes[i]] = vecs[j]
	}
	if err := c.cache.PutVectors(c.next.Name(), fresh); err != nil {
		slog.Warn("embedding cache write failed", "model", c.next.Name(), "error", err)
	}
	return out, nil
}
