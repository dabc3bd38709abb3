// Package cache provides a small generic LRU cache used to memoise passage
// resolution.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Cache is a generic LRU cache interface.
type Cache[K comparable, V any] interface {
	// Get retrieves a value and marks it most recently used.
	Get(key K) (V, bool)

	// Put stores a value, evicting the least recently used entry when full.
	Put(key K, value V)

	Remove(key K)
	Clear()
	Len() int

	// Stats returns a snapshot of the cache counters.
	Stats() Stats
}

// Stats contains cache statistics.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Size      int   `json:"size"`
	MaxSize   int   `json:"max_size"`
}

// HitRatio returns hits / (hits + misses), or 0 before any lookup.
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Config contains cache configuration options.
type Config struct {
	// MaxSize is the maximum number of entries (0 = unlimited).
	MaxSize int

	// TTL is the time-to-live for entries (0 = no expiration).
	TTL time.Duration

	// OnEvict is called with the key and value of every removed entry.
	OnEvict func(key, value any)

	// Now overrides the clock used for TTL checks.
	Now func() time.Time
}

// DefaultConfig returns a default cache configuration.
func DefaultConfig() Config {
	return Config{MaxSize: 1024}
}

type entry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
}

// lruCache is a thread-safe LRU cache implementation.
type lruCache[K comparable, V any] struct {
	mu        sync.Mutex
	config    Config
	entries   map[K]*list.Element
	evictList *list.List
	stats     Stats
}

// NewLRUCache creates a new LRU cache with the given configuration.
func NewLRUCache[K comparable, V any](config Config) Cache[K, V] {
	if config.MaxSize < 0 {
		config.MaxSize = 0
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &lruCache[K, V]{
		config:    config,
		entries:   make(map[K]*list.Element),
		evictList: list.New(),
	}
}

func (c *lruCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	ent, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return zero, false
	}

	e := ent.Value.(*entry[K, V])
	if c.expired(e) {
		c.removeElement(ent)
		c.stats.Misses++
		return zero, false
	}

	c.evictList.MoveToFront(ent)
	c.stats.Hits++
	return e.value, true
}

func (c *lruCache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.entries[key]; ok {
		c.evictList.MoveToFront(ent)
		e := ent.Value.(*entry[K, V])
		e.value = value
		e.expiresAt = c.expiry()
		return
	}

	e := &entry[K, V]{key: key, value: value, expiresAt: c.expiry()}
	c.entries[key] = c.evictList.PushFront(e)

	if c.config.MaxSize > 0 && c.evictList.Len() > c.config.MaxSize {
		if oldest := c.evictList.Back(); oldest != nil {
			c.removeElement(oldest)
			c.stats.Evictions++
		}
	}
}

func (c *lruCache[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.entries[key]; ok {
		c.removeElement(ent)
	}
}

// Clear drops every entry without calling OnEvict. Counters are kept.
func (c *lruCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[K]*list.Element)
	c.evictList.Init()
}

func (c *lruCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictList.Len()
}

func (c *lruCache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Size = c.evictList.Len()
	s.MaxSize = c.config.MaxSize
	return s
}

func (c *lruCache[K, V]) expiry() time.Time {
	if c.config.TTL <= 0 {
		return time.Time{}
	}
	return c.config.Now().Add(c.config.TTL)
}

func (c *lruCache[K, V]) expired(e *entry[K, V]) bool {
	return !e.expiresAt.IsZero() && c.config.Now().After(e.expiresAt)
}

func (c *lruCache[K, V]) removeElement(ent *list.Element) {
	c.evictList.Remove(ent)
	e := ent.Value.(*entry[K, V])
	delete(c.entries, e.key)

	if c.config.OnEvict != nil {
		c.config.OnEvict(e.key, e.value)
	}
}
