package cache

import (
	"context"
	"sync"
	"time"

	"lucky-wheel/internal/catalog"
)

type CatalogLoader func(context.Context) (*catalog.Catalog, error)

// CatalogCache holds the active catalog for ttl before asking the loader
// again. The loader is expected to return a validated catalog.
type CatalogCache struct {
	mu       sync.RWMutex
	value    *catalog.Catalog
	expires  time.Time
	ttl      time.Duration
	loadFunc CatalogLoader
	now      func() time.Time
}

func NewCatalogCache(ttl time.Duration, loader CatalogLoader) *CatalogCache {
	return &CatalogCache{
		ttl:      ttl,
		loadFunc: loader,
		now:      time.Now,
	}
}

func (c *CatalogCache) Get(ctx context.Context) (*catalog.Catalog, error) {
	c.mu.RLock()
	if c.now().Before(c.expires) && c.value != nil {
		defer c.mu.RUnlock()
		return c.value, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.now().Before(c.expires) && c.value != nil {
		return c.value, nil
	}
	cat, err := c.loadFunc(ctx)
	if err != nil {
		// Keep serving the last good catalog through a store outage.
		if c.value != nil {
			return c.value, nil
		}
		return nil, err
	}
	c.value = cat
	c.expires = c.now().Add(c.ttl)
	return cat, nil
}

func (c *CatalogCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = nil
	c.expires = time.Time{}
}
