package source

import (
	"sync"

	"github.com/ironsheep/tile-pyramid/internal/pyramid"
)

// Cache keeps opened sources so repeated requests for the same path do not
// decode the slide or re-read store metadata.
//
// Cache is safe for concurrent use by multiple goroutines. Sources are keyed
// by the exact path string; relative and absolute spellings of one file are
// separate entries.
//
// # Memory Management
//
// Whole-slide sources hold their decoded levels in memory until evicted.
// Long-running processes should Evict or Clear sources they are done with.
type Cache struct {
	mu      sync.RWMutex
	opts    Options
	sources map[string]pyramid.Source
}

// NewCache creates an empty cache that opens sources with opts.
func NewCache(opts Options) *Cache {
	return &Cache{
		opts:    opts,
		sources: make(map[string]pyramid.Source),
	}
}

// Load returns the cached source for path, opening it on first use.
func (c *Cache) Load(path string) (pyramid.Source, error) {
	c.mu.RLock()
	if src, ok := c.sources[path]; ok {
		c.mu.RUnlock()
		return src, nil
	}
	c.mu.RUnlock()

	src, err := Open(path, c.opts)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.sources[path]; ok {
		// Another goroutine opened it first; keep one copy.
		src.Close()
		return existing, nil
	}
	c.sources[path] = src
	return src, nil
}

// Evict closes and removes one source. Unknown paths are ignored.
func (c *Cache) Evict(path string) {
	c.mu.Lock()
	src, ok := c.sources[path]
	delete(c.sources, path)
	c.mu.Unlock()
	if ok {
		src.Close()
	}
}

// Clear closes and removes every cached source.
func (c *Cache) Clear() {
	c.mu.Lock()
	old := c.sources
	c.sources = make(map[string]pyramid.Source)
	c.mu.Unlock()
	for _, src := range old {
		src.Close()
	}
}
