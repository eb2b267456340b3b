package pipeline

import (
	"container/list"
	"sync"
)

// DefaultCacheSize is the entry cap for the package-level content cache.
const DefaultCacheSize = 1000

// ContentCache is a fixed-capacity LRU map from content hash to the
// normalized candidate derived from that content. The normalize stage uses
// it to skip re-deriving candidates whose raw payload was already seen,
// which matters when re-running the funnel stages over the same worker
// outputs.
//
// Safe for concurrent use.
type ContentCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recent
	entries  map[string]*list.Element
}

type cacheEntry struct {
	key   string
	value Candidate
}

// NewContentCache creates a cache holding at most capacity entries (<=0
// means DefaultCacheSize).
func NewContentCache(capacity int) *ContentCache {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	return &ContentCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
}

// Get returns the cached candidate for a content hash and marks it recently
// used.
func (c *ContentCache) Get(key string) (Candidate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.entries[key]
	if !ok {
		return Candidate{}, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*cacheEntry).value, true
}

// Put stores a candidate under its content hash, evicting the least
// recently used entry when at capacity.
func (c *ContentCache) Put(key string, value Candidate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		elem.Value.(*cacheEntry).value = value
		c.order.MoveToFront(elem)
		return
	}
	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*cacheEntry).key)
		}
	}
	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, value: value})
}

// Len returns the current entry count.
func (c *ContentCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Reset removes all entries.
func (c *ContentCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.entries = make(map[string]*list.Element)
}

var (
	defaultCacheOnce sync.Once
	defaultCache     *ContentCache
)

// DefaultContentCache returns the shared process-wide cache, creating it on
// first use with DefaultCacheSize capacity.
func DefaultContentCache() *ContentCache {
	defaultCacheOnce.Do(func() {
		defaultCache = NewContentCache(DefaultCacheSize)
	})
	return defaultCache
}
