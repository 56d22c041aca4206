// Package cache provides the gateway's response cache: two bounded LRU
// partitions with TTL expiry, exact-key and prefix invalidation, and
// deterministic key construction.
package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultMaxSize bounds each partition's entry count.
	DefaultMaxSize = 100
	// DefaultTTL is how long an entry stays servable after a write.
	DefaultTTL = 5 * time.Minute
)

// Cache is a size-bounded, time-bounded key-value store with two
// logical partitions: collection entries (lists) and item entries
// (single values, counts). Values are immutable snapshots; callers
// never mutate a cached value in place.
type Cache struct {
	mu          sync.Mutex
	ttl         time.Duration
	collections *partition
	items       *partition
	now         func() time.Time
}

type partition struct {
	maxSize int
	entries map[string]*list.Element
	order   *list.List // front = most recently used
}

type entry struct {
	key        string
	value      any
	insertedAt time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the cache's time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New creates a cache whose partitions each hold up to maxSize entries
// for at most ttl. Non-positive arguments fall back to the defaults.
func New(maxSize int, ttl time.Duration, opts ...Option) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		ttl:         ttl,
		collections: newPartition(maxSize),
		items:       newPartition(maxSize),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newPartition(maxSize int) *partition {
	return &partition{
		maxSize: maxSize,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// GetCollection returns the collection entry for key if present and
// fresh. A hit promotes the entry to most recently used; an expired
// entry is removed on the way out.
func (c *Cache) GetCollection(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(c.collections, key)
}

// PutCollection inserts or overwrites a collection entry, resetting
// its TTL and recency. A new key landing in a full partition evicts
// the least recently used entry first.
func (c *Cache) PutCollection(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putLocked(c.collections, key, value)
}

// GetItem returns the item entry for key if present and fresh.
func (c *Cache) GetItem(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(c.items, key)
}

// PutItem inserts or overwrites an item entry.
func (c *Cache) PutItem(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putLocked(c.items, key, value)
}

// Invalidate removes key from both partitions. Absent keys are a no-op.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range []*partition{c.collections, c.items} {
		if el, ok := p.entries[key]; ok {
			p.remove(el)
		}
	}
}

// InvalidateByPrefix removes every entry in either partition whose key
// starts with prefix, returning how many were dropped. Used when an
// entity changes and all its derived query variants must go together.
func (c *Cache) InvalidateByPrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, p := range []*partition{c.collections, c.items} {
		for key, el := range p.entries {
			if strings.HasPrefix(key, prefix) {
				p.remove(el)
				removed++
			}
		}
	}
	return removed
}

// Clear empties both partitions.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.collections = newPartition(c.collections.maxSize)
	c.items = newPartition(c.items.maxSize)
}

// PurgeExpired actively removes every entry past its TTL, returning
// how many were dropped. Reads already expire lazily; the purge keeps
// cold entries from lingering until eviction.
func (c *Cache) PurgeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for _, p := range []*partition{c.collections, c.items} {
		for _, el := range p.entries {
			if now.Sub(el.Value.(*entry).insertedAt) >= c.ttl {
				p.remove(el)
				removed++
			}
		}
	}
	return removed
}

// Len reports the total entry count across both partitions.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.collections.entries) + len(c.items.entries)
}

// getLocked serves a read from p. Caller holds mu.
func (c *Cache) getLocked(p *partition, key string) (any, bool) {
	el, ok := p.entries[key]
	if !ok {
		return nil, false
	}
	ent := el.Value.(*entry)
	if c.now().Sub(ent.insertedAt) >= c.ttl {
		p.remove(el)
		return nil, false
	}
	p.order.MoveToFront(el)
	return ent.value, true
}

// putLocked serves a write to p. Caller holds mu.
func (c *Cache) putLocked(p *partition, key string, value any) {
	if el, ok := p.entries[key]; ok {
		ent := el.Value.(*entry)
		ent.value = value
		ent.insertedAt = c.now()
		p.order.MoveToFront(el)
		return
	}
	if len(p.entries) >= p.maxSize {
		p.evictOldest()
	}
	el := p.order.PushFront(&entry{key: key, value: value, insertedAt: c.now()})
	p.entries[key] = el
}

func (p *partition) remove(el *list.Element) {
	p.order.Remove(el)
	delete(p.entries, el.Value.(*entry).key)
}

func (p *partition) evictOldest() {
	if el := p.order.Back(); el != nil {
		p.remove(el)
	}
}
