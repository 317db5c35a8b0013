package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nnipa/authz-service/pkg/types"
)

// LRU is an in-process decision cache with TTL and capacity eviction.
type LRU struct {
	capacity int
	ttl      time.Duration

	items map[string]*list.Element
	order *list.List
	mu    sync.Mutex

	hits   uint64
	misses uint64
}

type lruEntry struct {
	key       string
	resp      *types.AuthzResponse
	expiresAt time.Time
}

// NewLRU creates an LRU decision cache.
func NewLRU(capacity int, ttl time.Duration) *LRU {
	return &LRU{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get retrieves a cached decision.
func (c *LRU) Get(_ context.Context, req *types.AuthzRequest) (*types.AuthzResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[decisionKey(req)]; ok {
		entry := elem.Value.(*lruEntry)
		if time.Now().After(entry.expiresAt) {
			c.removeElement(elem)
			atomic.AddUint64(&c.misses, 1)
			return nil, false
		}
		c.order.MoveToFront(elem)
		atomic.AddUint64(&c.hits, 1)
		return entry.resp, true
	}

	atomic.AddUint64(&c.misses, 1)
	return nil, false
}

// Set caches a decision, evicting the least recently used entries when at
// capacity.
func (c *LRU) Set(_ context.Context, req *types.AuthzRequest, resp *types.AuthzResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := decisionKey(req)
	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*lruEntry)
		entry.resp = resp
		entry.expiresAt = time.Now().Add(c.ttl)
		c.order.MoveToFront(elem)
		return
	}

	for c.order.Len() >= c.capacity {
		c.evictOldest()
	}

	elem := c.order.PushFront(&lruEntry{
		key:       key,
		resp:      resp,
		expiresAt: time.Now().Add(c.ttl),
	})
	c.items[key] = elem
}

// InvalidateUser drops every cached decision for the user within the tenant.
func (c *LRU) InvalidateUser(_ context.Context, tenantID, userID uuid.UUID) int {
	return c.removeByPrefix(userPrefix(tenantID, userID))
}

// InvalidateTenant drops every cached decision for the tenant.
func (c *LRU) InvalidateTenant(_ context.Context, tenantID uuid.UUID) int {
	return c.removeByPrefix(tenantPrefix(tenantID))
}

func (c *LRU) removeByPrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, elem := range c.items {
		if strings.HasPrefix(key, prefix) {
			c.removeElement(elem)
			removed++
		}
	}
	return removed
}

// Clear drops all cached decisions.
func (c *LRU) Clear(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.order.Init()
}

// Stats returns cache statistics.
func (c *LRU) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	hits := atomic.LoadUint64(&c.hits)
	misses := atomic.LoadUint64(&c.misses)
	return Stats{
		Size:    c.order.Len(),
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate(hits, misses),
	}
}

// SetTTL retunes the lifetime applied to entries cached from now on.
// Existing entries keep their original expiry.
func (c *LRU) SetTTL(ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ttl = ttl
}

// Close is a no-op for the in-process backend.
func (c *LRU) Close() error { return nil }

// Cleanup removes expired entries and reports how many were dropped. The
// expiry sweeper calls this periodically to keep memory bounded.
func (c *LRU) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	now := time.Now()

	var next *list.Element
	for elem := c.order.Back(); elem != nil; elem = next {
		next = elem.Prev()
		entry := elem.Value.(*lruEntry)
		if now.After(entry.expiresAt) {
			c.removeElement(elem)
			removed++
		}
	}
	return removed
}

func (c *LRU) removeElement(elem *list.Element) {
	entry := elem.Value.(*lruEntry)
	delete(c.items, entry.key)
	c.order.Remove(elem)
}

func (c *LRU) evictOldest() {
	if elem := c.order.Back(); elem != nil {
		c.removeElement(elem)
	}
}
