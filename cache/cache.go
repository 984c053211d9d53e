// Package cache stores compiled script units.
//
// A Cache is bounded and evicts in insertion order: once an insert pushes
// the cache over capacity, the earliest inserted entries are removed first.
// A lookup hit does not refresh an entry.
package cache

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/deepnoodle-ai/scriptenv/guest"
)

// DefaultCapacity is the capacity used when none is configured.
const DefaultCapacity = 200

type entry struct {
	key  string
	unit guest.Unit
}

// Cache is a capacity-bounded, insertion-ordered map of compiled units
// guarded by a single reader/writer lock.
type Cache struct {
	mu       sync.RWMutex
	capacity int
	order    *list.List
	entries  map[string]*list.Element
	gen      uint64
}

// New returns an empty cache. A capacity below one is replaced by
// DefaultCapacity.
func New(capacity int) *Cache {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Cache{
		capacity: capacity,
		order:    list.New(),
		entries:  map[string]*list.Element{},
	}
}

// Capacity returns the maximum number of entries.
func (c *Cache) Capacity() int {
	return c.capacity
}

// Lookup returns the unit stored under key.
func (c *Cache) Lookup(key string) (guest.Unit, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if el, ok := c.entries[key]; ok {
		return el.Value.(*entry).unit, true
	}
	return nil, false
}

// Store inserts or replaces the unit under key, then evicts the oldest
// entries while the cache is over capacity. Replacing an existing key keeps
// its original insertion position.
func (c *Cache) Store(key string, unit guest.Unit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store(key, unit)
}

// StoreAt stores the unit only if the cache has not been cleared since
// generation gen was observed. It reports whether the unit was stored.
func (c *Cache) StoreAt(gen uint64, key string, unit guest.Unit) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	c.store(key, unit)
	return true
}

func (c *Cache) store(key string, unit guest.Unit) {
	if el, ok := c.entries[key]; ok {
		el.Value.(*entry).unit = unit
		return
	}
	c.entries[key] = c.order.PushBack(&entry{key: key, unit: unit})
	for c.order.Len() > c.capacity {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*entry).key)
	}
}

// Generation returns a counter that changes every time the cache is
// cleared.
func (c *Cache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

// Len returns the number of cached units.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.order.Len()
}

// Keys returns the cached keys in insertion order.
func (c *Cache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry).key)
	}
	return keys
}

// clear must be called with the write lock held.
func (c *Cache) clear() {
	c.order.Init()
	c.entries = map[string]*list.Element{}
	c.gen++
}

func (c *Cache) checkInvariant() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.order.Len() > c.capacity {
		return fmt.Errorf("cache holds %d entries, capacity %d", c.order.Len(), c.capacity)
	}
	if c.order.Len() != len(c.entries) {
		return fmt.Errorf("cache order has %d entries, index has %d", c.order.Len(), len(c.entries))
	}
	return nil
}

// Store holds the two independent caches of the runtime: one for persistent
// scripts keyed by path and one for dynamic scripts keyed by content hash.
type Store struct {
	persistent *Cache
	dynamic    *Cache
}

// NewStore returns a store whose caches each hold up to capacity units.
func NewStore(capacity int) *Store {
	return &Store{
		persistent: New(capacity),
		dynamic:    New(capacity),
	}
}

// Persistent returns the cache for scripts backed by a real location.
func (s *Store) Persistent() *Cache {
	return s.persistent
}

// Dynamic returns the cache for literal source strings.
func (s *Store) Dynamic() *Cache {
	return s.dynamic
}

// For returns the dynamic cache if dynamic is true, else the persistent one.
func (s *Store) For(dynamic bool) *Cache {
	if dynamic {
		return s.dynamic
	}
	return s.persistent
}

// Reset clears both caches atomically. Both write locks are held for the
// duration, persistent first, so no caller observes one cache cleared and
// the other not.
func (s *Store) Reset() {
	s.persistent.mu.Lock()
	defer s.persistent.mu.Unlock()
	s.dynamic.mu.Lock()
	defer s.dynamic.mu.Unlock()
	s.persistent.clear()
	s.dynamic.clear()
}
