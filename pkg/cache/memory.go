package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const (
	defaultMemoryExpiration = time.Hour
	memoryCleanupInterval   = 10 * time.Minute
)

// MemoryCache is a process-local SchemaCache over go-cache, used when no
// Redis host is configured.
type MemoryCache struct {
	cache *gocache.Cache
}

var _ SchemaCache = (*MemoryCache)(nil)

// NewMemoryCache creates an empty cache with expired-item cleanup.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{cache: gocache.New(defaultMemoryExpiration, memoryCleanupInterval)}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	value, found := c.cache.Get(key)
	if !found {
		return nil, false, nil
	}
	b, ok := value.([]byte)
	if !ok {
		c.cache.Delete(key)
		return nil, false, nil
	}
	return append([]byte(nil), b...), true, nil
}

func (c *MemoryCache) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	c.cache.Set(key, append([]byte(nil), value...), ttl)
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.cache.Delete(key)
	return nil
}
