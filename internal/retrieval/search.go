package retrieval

import (
	"context"

	"github.com/mdcapital/claimsight/internal/dataset"
)

// Searcher queries the index for whatever dataset the store currently
// publishes, building it through the cache on first use.
type Searcher struct {
	Store    *dataset.Store
	Cache    *IndexCache
	Embedder Embedder
	// TopK is used when a caller passes k <= 0.
	TopK int
}

// Search returns up to k hits for query. Errors wrapping ErrUnavailable
// mean the index could not be built.
func (s *Searcher) Search(ctx context.Context, query string, k int) ([]Hit, error) {
	if k <= 0 {
		k = s.TopK
	}
	idx, err := s.Cache.Get(ctx, s.Store.Current(), s.Embedder)
	if err != nil {
		return nil, err
	}
	return idx.Query(ctx, query, k)
}
