// Package cache provides the assessment result caches for Harrier.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// LRUCache is a thread-safe LRU cache with TTL support, bounded by entry
// count and optionally by total value bytes.
// Used as the Community tier cache and as L1 in two-phase caching.
type LRUCache struct {
	mu       sync.Mutex
	maxSize  int
	maxBytes int64
	bytes    int64
	items    map[string]*list.Element
	order    *list.List

	hits, misses, evictions uint64

	now func() time.Time
}

type cacheEntry struct {
	fullKey   string
	key       string
	value     []byte
	expiresAt time.Time
}

// NewLRUCache creates a new LRU cache with the specified max size.
func NewLRUCache(maxSize int) *LRUCache {
	return NewLRUCacheWithBudget(maxSize, 0)
}

// NewLRUCacheWithBudget creates an LRU cache that also evicts once the
// stored values exceed maxBytes. maxBytes <= 0 disables the byte bound.
func NewLRUCacheWithBudget(maxSize int, maxBytes int64) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	if maxBytes < 0 {
		maxBytes = 0
	}
	return &LRUCache{
		maxSize:  maxSize,
		maxBytes: maxBytes,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		now:      time.Now,
	}
}

// Get retrieves a value from cache.
func (c *LRUCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[c.makeKey(tenantID, key)]
	if !ok {
		c.misses++
		return nil, nil
	}

	entry := elem.Value.(*cacheEntry)
	if c.now().After(entry.expiresAt) {
		c.removeElement(elem)
		c.misses++
		return nil, nil
	}

	c.order.MoveToFront(elem)
	c.hits++
	return entry.value, nil
}

// Set stores a value in cache with TTL. A value larger than the whole byte
// budget is not stored.
func (c *LRUCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	fullKey := c.makeKey(tenantID, key)
	size := int64(len(value))

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxBytes > 0 && size > c.maxBytes {
		if elem, ok := c.items[fullKey]; ok {
			c.removeElement(elem)
		}
		return nil
	}

	if elem, ok := c.items[fullKey]; ok {
		c.order.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry)
		c.bytes += size - int64(len(entry.value))
		entry.value = value
		entry.expiresAt = c.now().Add(ttl)
	} else {
		entry := &cacheEntry{
			fullKey:   fullKey,
			key:       key,
			value:     value,
			expiresAt: c.now().Add(ttl),
		}
		c.items[fullKey] = c.order.PushFront(entry)
		c.bytes += size
	}

	for c.order.Len() > c.maxSize || (c.maxBytes > 0 && c.bytes > c.maxBytes) {
		c.removeOldest()
	}

	return nil
}

// Delete removes a value from cache.
func (c *LRUCache) Delete(ctx context.Context, tenantID string, key string) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[c.makeKey(tenantID, key)]; ok {
		c.removeElement(elem)
	}
	return nil
}

// PurgePrefix removes every tenant's entries whose key starts with prefix.
func (c *LRUCache) PurgePrefix(ctx context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, fmt.Errorf("prefix is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var n int
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		if strings.HasPrefix(elem.Value.(*cacheEntry).key, prefix) {
			c.removeElement(elem)
			n++
		}
		elem = next
	}
	return n, nil
}

// Ping checks cache health.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close cleans up the cache.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order = list.New()
	c.bytes = 0
	return nil
}

// CacheStats returns occupancy and hit counters.
func (c *LRUCache) CacheStats() domain.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.CacheStats{
		Entries:   c.order.Len(),
		Capacity:  c.maxSize,
		Bytes:     c.bytes,
		MaxBytes:  c.maxBytes,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

func (c *LRUCache) makeKey(tenantID, key string) string {
	return tenantID + ":" + key
}

func (c *LRUCache) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	entry := elem.Value.(*cacheEntry)
	c.bytes -= int64(len(entry.value))
	delete(c.items, entry.fullKey)
}

func (c *LRUCache) removeOldest() {
	if elem := c.order.Back(); elem != nil {
		c.removeElement(elem)
		c.evictions++
	}
}
