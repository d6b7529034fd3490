package cache

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	ierr "github.com/jsbattig/code-indexer-sub032/internal/errors"
)

// memoryMaxEntries bounds the in-memory backend so runaway result sets
// cannot exhaust memory.
const memoryMaxEntries = 4096

type memoryEntry struct {
	content    string
	createdAt  time.Time
	lastAccess time.Time
}

// MemoryCache is the default backend: an expirable LRU keyed by handle.
// Expiry is handled by the LRU itself, so no separate evictor goroutine
// is needed.
type MemoryCache struct {
	mu        sync.Mutex
	lru       *expirable.LRU[string, *memoryEntry]
	fetchSize int
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache creates a memory cache with the given TTL and page size.
func NewMemoryCache(ttl time.Duration, fetchSize int) *MemoryCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if fetchSize <= 0 {
		fetchSize = DefaultMaxFetchSize
	}
	return &MemoryCache{
		lru:       expirable.NewLRU[string, *memoryEntry](memoryMaxEntries, nil, ttl),
		fetchSize: fetchSize,
	}
}

// Store saves content under a fresh handle.
func (c *MemoryCache) Store(content string) (string, error) {
	handle := uuid.NewString()
	now := time.Now()

	c.mu.Lock()
	c.lru.Add(handle, &memoryEntry{content: content, createdAt: now, lastAccess: now})
	c.mu.Unlock()
	return handle, nil
}

// Retrieve returns one page of a cached body.
func (c *MemoryCache) Retrieve(handle string, page int) (Page, error) {
	c.mu.Lock()
	entry, ok := c.lru.Get(handle)
	if ok {
		entry.lastAccess = time.Now()
	}
	c.mu.Unlock()

	if !ok {
		return Page{}, ierr.CacheExpired(handle)
	}
	return paginate(entry.content, page, c.fetchSize)
}

// Clear drops every entry.
func (c *MemoryCache) Clear() error {
	c.mu.Lock()
	c.lru.Purge()
	c.mu.Unlock()
	return nil
}

// Len reports the live entry count.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Close is a no-op for the memory backend.
func (c *MemoryCache) Close() error { return nil }
