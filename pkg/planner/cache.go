package planner

import (
	"context"
	"sync"
	"time"

	"github.com/kittclouds/memori/internal/store"
)

// MapCache is the default in-process plan cache: a mutex-guarded map with
// per-entry TTL, in the RWMutex-map style used throughout this module's
// store layer for small shared state.
type MapCache struct {
	mu      sync.Mutex
	entries map[string]mapEntry
}

type mapEntry struct {
	query     store.SearchQuery
	expiresAt time.Time
}

// NewMapCache constructs an empty MapCache.
func NewMapCache() *MapCache {
	return &MapCache{entries: make(map[string]mapEntry)}
}

func (c *MapCache) Get(ctx context.Context, key string) (store.SearchQuery, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return store.SearchQuery{}, false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, key)
		return store.SearchQuery{}, false
	}
	return e.query, true
}

func (c *MapCache) Set(ctx context.Context, key string, q store.SearchQuery, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = mapEntry{query: q, expiresAt: time.Now().Add(ttl)}
}

// Sweep removes every expired entry; callers may run it on a ticker to
// bound memory use in long-lived processes that never re-Get a stale key.
func (c *MapCache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}
