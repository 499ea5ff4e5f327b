// Package cache provides read-through caching of evaluation results.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/clearsignal/kite/internal/domain"
)

// LRUCache holds recently evaluated signal sets in memory with a TTL. It is
// the Community tier cache and the L1 layer of the Pro two-phase cache.
// Entries are keyed by tenant and evaluation ID, so tenants can never read
// each other's results.
type LRUCache struct {
	mu      sync.Mutex
	maxSize int
	entries map[string]*list.Element
	order   *list.List
}

type lruEntry struct {
	key       string
	set       *domain.SignalSet
	expiresAt time.Time
}

// NewLRUCache creates an in-memory cache holding at most maxSize results.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &LRUCache{
		maxSize: maxSize,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// GetSignalSet returns the cached result for an evaluation ID, or nil on a
// miss or an expired entry.
func (c *LRUCache) GetSignalSet(ctx context.Context, tenantID string, id string) (*domain.SignalSet, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[lruKey(tenantID, id)]
	if !ok {
		return nil, nil
	}

	entry := elem.Value.(*lruEntry)
	if time.Now().After(entry.expiresAt) {
		c.evict(elem)
		return nil, nil
	}

	c.order.MoveToFront(elem)
	return entry.set, nil
}

// SetSignalSet caches an evaluation result, evicting the least recently
// used entries once the cache is full.
func (c *LRUCache) SetSignalSet(ctx context.Context, tenantID string, set *domain.SignalSet, ttl time.Duration) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	key := lruKey(tenantID, set.ID)
	expiresAt := time.Now().Add(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.order.MoveToFront(elem)
		entry := elem.Value.(*lruEntry)
		entry.set = set
		entry.expiresAt = expiresAt
		return nil
	}

	elem := c.order.PushFront(&lruEntry{key: key, set: set, expiresAt: expiresAt})
	c.entries[key] = elem

	for c.order.Len() > c.maxSize {
		c.evict(c.order.Back())
	}
	return nil
}

// Ping always succeeds for the in-memory cache.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close drops every cached entry.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order = list.New()
	return nil
}

// Stats returns the current entry count and capacity.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len(), c.maxSize
}

func (c *LRUCache) evict(elem *list.Element) {
	if elem == nil {
		return
	}
	c.order.Remove(elem)
	delete(c.entries, elem.Value.(*lruEntry).key)
}

func lruKey(tenantID, id string) string {
	return tenantID + "/" + id
}
