package settings

import (
	"sync"

	"github.com/Mapl92/paperless-alternative-sub001/pkg/domain"
)

// Loader is the slice of the store the cache needs.
type Loader interface {
	GetSettings() (domain.Settings, error)
}

// Cache is an explicitly-scoped settings cache. Writers publish an
// invalidation by calling Invalidate; there is no ambient global.
type Cache struct {
	loader Loader

	mu     sync.Mutex
	loaded bool
	value  domain.Settings
}

// NewCache builds a cache over the given loader.
func NewCache(loader Loader) *Cache {
	return &Cache{loader: loader}
}

// Get returns the cached settings, loading them on first use.
func (c *Cache) Get() (domain.Settings, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return c.value, nil
	}
	value, err := c.loader.GetSettings()
	if err != nil {
		return domain.Settings{}, err
	}
	c.value = value
	c.loaded = true
	return value, nil
}

// Invalidate drops the cached value; the next Get reloads.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.loaded = false
	c.mu.Unlock()
}
