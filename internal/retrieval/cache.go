package retrieval

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/mdcapital/claimsight/internal/dataset"
)

// IndexCache holds built indexes keyed by dataset content hash and
// embedder name. At most one build runs per key; concurrent callers wait
// for it. Entries expire after the TTL, which a hit renews, and the entry
// closest to expiry is evicted when the cache is full. Failed builds are
// not cached.
type IndexCache struct {
	items      *gocache.Cache
	group      singleflight.Group
	ttl        time.Duration
	maxEntries int
	mu         sync.Mutex

	hits, misses, builds atomic.Int64
}

// CacheStats reports cache activity.
type CacheStats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Builds  int64 `json:"builds"`
	Entries int   `json:"entries"`
}

// NewIndexCache creates a cache. ttl <= 0 defaults to one hour and
// maxEntries <= 0 to 8.
func NewIndexCache(ttl time.Duration, maxEntries int) *IndexCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if maxEntries <= 0 {
		maxEntries = 8
	}
	return &IndexCache{
		items:      gocache.New(ttl, ttl/2),
		ttl:        ttl,
		maxEntries: maxEntries,
	}
}

// CacheKey identifies the index for ds built with e.
func CacheKey(ds *dataset.Dataset, e Embedder) string {
	return ds.Hash() + ":" + e.Name()
}

// Get returns the index for ds and e, building it if needed. The build
// runs detached from ctx so a cancelled caller does not fail the others
// waiting on it; ctx only bounds how long this caller waits.
func (c *IndexCache) Get(ctx context.Context, ds *dataset.Dataset, e Embedder) (*Index, error) {
	key := CacheKey(ds, e)
	if v, ok := c.items.Get(key); ok {
		c.hits.Add(1)
		c.items.Set(key, v, gocache.DefaultExpiration)
		return v.(*Index), nil
	}
	c.misses.Add(1)

	ch := c.group.DoChan(key, func() (any, error) {
		if v, ok := c.items.Get(key); ok {
			return v, nil
		}
		c.builds.Add(1)
		start := time.Now()
		idx, err := FromDataset(context.WithoutCancel(ctx), e, ds)
		if err != nil {
			slog.Warn("index build failed", "embedder", e.Name(), "error", err)
			return nil, err
		}
		c.put(key, idx)
		slog.Info("index built", "embedder", e.Name(), "entries", idx.Len(), "dim", idx.Dim(), "elapsed", time.Since(start))
		return idx, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Index), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *IndexCache) put(key string, idx *Index) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.items.ItemCount() >= c.maxEntries {
		var victim string
		var soonest int64
		for k, it := range c.items.Items() {
			if victim == "" || it.Expiration < soonest {
				victim, soonest = k, it.Expiration
			}
		}
		if victim == "" {
			break
		}
		c.items.Delete(victim)
		slog.Debug("index evicted", "key", victim)
	}
	c.items.Set(key, idx, c.ttl)
}

// Invalidate drops every cached index.
func (c *IndexCache) Invalidate() {
	c.items.Flush()
}

func (c *IndexCache) Stats() CacheStats {
	return CacheStats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Builds:  c.builds.Load(),
		Entries: c.items.ItemCount(),
	}
}
