// Package cache provides a small in-memory TTL cache used for symbol
// catalogues and short-lived connection tokens.
package cache

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Cache is an in-memory cache with TTL support. It is safe for concurrent use.
type Cache struct {
	mu    sync.RWMutex
	items map[string]*item
	ttl   time.Duration
	clock clock.Clock
}

type item struct {
	value     any
	expiresAt time.Time
}

// New creates a Cache with the specified default TTL. Items stored without an
// explicit TTL use the default.
func New(ttl time.Duration) *Cache {
	return NewWithClock(ttl, clock.New())
}

// NewWithClock creates a Cache using the provided clock.
func NewWithClock(ttl time.Duration, c clock.Clock) *Cache {
	return &Cache{
		items: make(map[string]*item),
		ttl:   ttl,
		clock: c,
	}
}

// Get retrieves a value by key. The second return is false if the key does
// not exist or the item has expired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	it, exists := c.items[key]
	if !exists || c.clock.Now().After(it.expiresAt) {
		return nil, false
	}
	return it.value, true
}

// Set stores a value with the specified TTL. A zero TTL uses the cache's
// default.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if ttl == 0 {
		ttl = c.ttl
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = &item{
		value:     value,
		expiresAt: c.clock.Now().Add(ttl),
	}
}

// Delete removes an item by key. Deleting a missing key is a no-op.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Clear removes all items.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*item)
}

// GetOrLoad returns the cached value for key, calling load to populate it on
// a miss. Concurrent misses for the same key may each call load; the last
// writer wins, which is acceptable for idempotent loaders.
func (c *Cache) GetOrLoad(key string, ttl time.Duration, load func() (any, error)) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return nil, err
	}
	c.Set(key, v, ttl)
	return v, nil
}
