package cache

import (
	"container/list"
	"context"
	"sync"
)

// CacheKind distinguishes what a CacheKey addresses, so one cache instance
// can hold entries from unrelated namespaces without key collisions.
type CacheKind int

const (
	// CacheKindBlob identifies a cached block of a blobstore blob.
	CacheKindBlob CacheKind = iota
)

// CacheKey identifies one cached block.
type CacheKey struct {
	Kind   CacheKind
	Path   string
	Offset uint64
}

// BlockCache is a bounded store of byte blocks keyed by CacheKey.
type BlockCache interface {
	Get(ctx context.Context, key CacheKey) ([]byte, bool)
	Set(ctx context.Context, key CacheKey, value []byte)
	// Invalidate removes every entry for which match returns true.
	Invalidate(match func(key CacheKey) bool)
}

type entry struct {
	key   CacheKey
	value []byte
}

// LRUBlockCache is a BlockCache bounded by total bytes held rather than by
// entry count, since blocks from different blobs can vary in size at the
// tail of a blob.
type LRUBlockCache struct {
	mu       sync.Mutex
	capacity int64
	size     int64
	ll       *list.List
	items    map[CacheKey]*list.Element
	onEvict  func(key CacheKey, value []byte)
}

// NewLRUBlockCache creates an LRUBlockCache with the given byte capacity.
// onEvict, if non-nil, is called synchronously for every entry the cache
// drops, whether by eviction, overwrite, or Invalidate.
func NewLRUBlockCache(capacityBytes int64, onEvict func(key CacheKey, value []byte)) *LRUBlockCache {
	return &LRUBlockCache{
		capacity: capacityBytes,
		ll:       list.New(),
		items:    make(map[CacheKey]*list.Element),
		onEvict:  onEvict,
	}
}

func (c *LRUBlockCache) Get(_ context.Context, key CacheKey) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*entry).value, true
}

func (c *LRUBlockCache) Set(_ context.Context, key CacheKey, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		old := el.Value.(*entry)
		c.size += int64(len(value)) - int64(len(old.value))
		if c.onEvict != nil {
			c.onEvict(key, old.value)
		}
		old.value = value
		c.ll.MoveToFront(el)
	} else {
		el := c.ll.PushFront(&entry{key: key, value: value})
		c.items[key] = el
		c.size += int64(len(value))
	}

	for c.size > c.capacity && c.ll.Len() > 0 {
		c.evictOldest()
	}
}

func (c *LRUBlockCache) Invalidate(match func(key CacheKey) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for el := c.ll.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*entry)
		if match(e.key) {
			c.removeElement(el)
		}
		el = next
	}
}

// evictOldest drops the least-recently-used entry. Caller holds c.mu.
func (c *LRUBlockCache) evictOldest() {
	el := c.ll.Back()
	if el == nil {
		return
	}
	c.removeElement(el)
}

// removeElement drops el from both the list and the index. Caller holds c.mu.
func (c *LRUBlockCache) removeElement(el *list.Element) {
	e := el.Value.(*entry)
	c.ll.Remove(el)
	delete(c.items, e.key)
	c.size -= int64(len(e.value))
	if c.onEvict != nil {
		c.onEvict(e.key, e.value)
	}
}
