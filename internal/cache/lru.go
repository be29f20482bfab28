package cache

import (
	"container/list"
	"sync"
	"time"
)

// LRUCache holds encoded query results for a TTL, evicting the least
// recently read entry once full.
//
// Every Clear starts a new generation. A reader that loads data outside the
// cache takes Generation before the load and stores with SetIfCurrent, so a
// result loaded before a write is never cached after the write cleared it.
type LRUCache[T any] struct {
	mu      sync.Mutex
	limit   int
	ttl     time.Duration
	byKey   map[string]*list.Element
	recency *list.List // front is most recently used
	gen     uint64
	now     func() time.Time
}

type entry[T any] struct {
	key     string
	value   T
	expires time.Time
}

var _ Cache[int] = (*LRUCache[int])(nil)

// NewLRUCache creates a cache of at most limit entries living ttl each.
func NewLRUCache[T any](limit int, ttl time.Duration) *LRUCache[T] {
	return &LRUCache[T]{
		limit:   max(limit, 1),
		ttl:     ttl,
		byKey:   make(map[string]*list.Element),
		recency: list.New(),
		now:     time.Now,
	}
}

func (c *LRUCache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	el, ok := c.byKey[key]
	if !ok {
		return zero, false
	}
	e := el.Value.(*entry[T])
	if c.expired(e, c.now()) {
		c.drop(el)
		return zero, false
	}
	c.recency.MoveToFront(el)
	return e.value, true
}

func (c *LRUCache[T]) Set(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(key, value)
}

// Generation identifies the current cache contents. It changes on Clear.
func (c *LRUCache[T]) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// SetIfCurrent stores value only if the cache was not cleared since gen was
// read. It reports whether the value was stored.
func (c *LRUCache[T]) SetIfCurrent(key string, value T, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	c.put(key, value)
	return true
}

func (c *LRUCache[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.byKey[key]; ok {
		c.drop(el)
	}
}

// Clear drops every entry and starts a new generation.
func (c *LRUCache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	clear(c.byKey)
	c.recency.Init()
}

// CleanExpired drops expired entries and returns how many went.
func (c *LRUCache[T]) CleanExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for el := c.recency.Front(); el != nil; {
		next := el.Next()
		if c.expired(el.Value.(*entry[T]), now) {
			c.drop(el)
			n++
		}
		el = next
	}
	return n
}

func (c *LRUCache[T]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recency.Len()
}

// put requires c.mu.
func (c *LRUCache[T]) put(key string, value T) {
	e := &entry[T]{key: key, value: value, expires: c.now().Add(c.ttl)}
	if el, ok := c.byKey[key]; ok {
		el.Value = e
		c.recency.MoveToFront(el)
		return
	}
	c.byKey[key] = c.recency.PushFront(e)
	for c.recency.Len() > c.limit {
		c.drop(c.recency.Back())
	}
}

func (c *LRUCache[T]) expired(e *entry[T], now time.Time) bool {
	return now.After(e.expires)
}

func (c *LRUCache[T]) drop(el *list.Element) {
	delete(c.byKey, el.Value.(*entry[T]).key)
	c.recency.Remove(el)
}
