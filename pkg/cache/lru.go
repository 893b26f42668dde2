// Package cache provides an in-memory LRU cache with TTL. The document
// service uses it to keep compiled JSON schemas keyed by schema digest.
package cache

import (
	"container/list"
	"sync"
	"time"
)

type entry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

// pending is a load in progress that concurrent callers wait on.
type pending[V any] struct {
	done  chan struct{}
	value V
	err   error
}

// Stats are running counters since the cache was created.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Size      int    `json:"size"`
}

// LRUCache is a thread-safe least-recently-used cache with TTL. Expired
// entries are dropped lazily on Get.
type LRUCache[V any] struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	order   *list.List
	loading map[string]*pending[V]
	maxSize int
	ttl     time.Duration
	now     func() time.Time
	stats   Stats
}

// NewLRUCache creates a cache holding at most maxSize entries for ttl each.
// maxSize below 1 becomes 1; a non-positive ttl becomes one hour.
func NewLRUCache[V any](maxSize int, ttl time.Duration) *LRUCache[V] {
	if maxSize < 1 {
		maxSize = 1
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &LRUCache[V]{
		items:   make(map[string]*list.Element, maxSize),
		order:   list.New(),
		loading: make(map[string]*pending[V]),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the value for key and whether it was present and fresh.
func (c *LRUCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookup(key)
}

// GetOrLoad returns the cached value for key, calling load on a miss.
// Concurrent callers missing on the same key share one load. Failed loads
// are not cached.
func (c *LRUCache[V]) GetOrLoad(key string, load func() (V, error)) (V, error) {
	c.mu.Lock()
	if v, ok := c.lookup(key); ok {
		c.mu.Unlock()
		return v, nil
	}
	if p, ok := c.loading[key]; ok {
		c.mu.Unlock()
		<-p.done
		return p.value, p.err
	}
	p := &pending[V]{done: make(chan struct{})}
	c.loading[key] = p
	c.mu.Unlock()

	p.value, p.err = load()

	c.mu.Lock()
	delete(c.loading, key)
	if p.err == nil {
		c.store(key, p.value)
	}
	c.mu.Unlock()
	close(p.done)
	return p.value, p.err
}

// Set stores value under key, refreshing its TTL and recency.
func (c *LRUCache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store(key, value)
}

// Invalidate removes key.
func (c *LRUCache[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.remove(el)
	}
}

// InvalidateAll empties the cache. Counters are kept.
func (c *LRUCache[V]) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element, c.maxSize)
	c.order.Init()
}

// Size returns the number of entries, including expired ones not yet
// dropped.
func (c *LRUCache[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Stats returns a snapshot of the counters.
func (c *LRUCache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = c.order.Len()
	return s
}

// lookup, store and remove expect c.mu to be held.

func (c *LRUCache[V]) lookup(key string) (V, bool) {
	var zero V
	el, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return zero, false
	}
	e := el.Value.(*entry[V])
	if c.now().After(e.expiresAt) {
		c.remove(el)
		c.stats.Misses++
		return zero, false
	}
	c.order.MoveToFront(el)
	c.stats.Hits++
	return e.value, true
}

func (c *LRUCache[V]) store(key string, value V) {
	expiresAt := c.now().Add(c.ttl)
	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[V])
		e.value = value
		e.expiresAt = expiresAt
		c.order.MoveToFront(el)
		return
	}
	for c.order.Len() >= c.maxSize {
		c.remove(c.order.Back())
		c.stats.Evictions++
	}
	c.items[key] = c.order.PushFront(&entry[V]{key: key, value: value, expiresAt: expiresAt})
}

func (c *LRUCache[V]) remove(el *list.Element) {
	if el == nil {
		return
	}
	c.order.Remove(el)
	delete(c.items, el.Value.(*entry[V]).key)
}
