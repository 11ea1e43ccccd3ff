package loader

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// Key identifies a load: the canonical library path and the root module
// expected from it.
type Key struct {
	Path string
	Root string
}

func (k Key) String() string {
	return k.Path + "#" + k.Root
}

// Cache holds validated modules and owns the load-once slot for each key, so
// every Loader sharing a Cache also shares its in-flight loads.
// Implementations must be safe for concurrent use.
type Cache interface {
	Get(key Key) (*Module, bool)
	// Do returns the module cached under key. Otherwise it runs load, at
	// most once at a time per key across all callers, and caches a
	// successful result. Concurrent callers of the same key receive the
	// result of that single run. Failures are not cached.
	//
	// If a module is already cached when load returns, the cached module
	// is returned and the one produced by load is not stored.
	Do(key Key, load func() (*Module, error)) (*Module, error)
}

// MapCache is the default in-process Cache.
type MapCache struct {
	modules map[Key]*Module
	group   singleflight.Group
	mu      sync.RWMutex
}

// NewCache creates an empty MapCache.
func NewCache() *MapCache {
	return &MapCache{modules: make(map[Key]*Module)}
}

// Get implements Cache.
func (c *MapCache) Get(key Key) (*Module, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.modules[key]
	return m, ok
}

// Do implements Cache.
func (c *MapCache) Do(key Key, load func() (*Module, error)) (*Module, error) {
	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		if m, ok := c.Get(key); ok {
			return m, nil
		}
		m, err := load()
		if err != nil {
			return nil, err
		}
		return c.Store(key, m), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Module), nil
}

// Store records m under key, for example to seed the cache. If key is
// already present the existing module is kept and returned.
func (c *MapCache) Store(key Key, m *Module) *Module {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.modules[key]; ok {
		return existing
	}
	c.modules[key] = m
	return m
}

// Len returns the number of cached modules.
func (c *MapCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.modules)
}
