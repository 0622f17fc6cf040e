package agent

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Factory builds an Asker for a caller credential. An empty credential
// means the server's configured key.
type Factory func(credential string) (Asker, error)

// Cache keeps one Asker per credential for a sliding TTL. Only a hash of
// the credential is held.
type Cache struct {
	items   *gocache.Cache
	factory Factory
	ttl     time.Duration
	mu      sync.Mutex
}

// NewCache creates a Cache. ttl <= 0 defaults to 30 minutes.
func NewCache(ttl time.Duration, factory Factory) *Cache {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Cache{
		items:   gocache.New(ttl, ttl),
		factory: factory,
		ttl:     ttl,
	}
}

// Get returns the cached Asker for credential, building one on a miss.
// Factory errors are returned and nothing is cached.
func (c *Cache) Get(credential string) (Asker, error) {
	key := credentialKey(credential)
	if v, ok := c.items.Get(key); ok {
		c.items.Set(key, v, c.ttl)
		return v.(Asker), nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.items.Get(key); ok {
		return v.(Asker), nil
	}
	a, err := c.factory(credential)
	if err != nil {
		return nil, err
	}
	c.items.Set(key, a, c.ttl)
	return a, nil
}

// Len returns the number of cached agents.
func (c *Cache) Len() int {
	return c.items.ItemCount()
}

func credentialKey(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}
