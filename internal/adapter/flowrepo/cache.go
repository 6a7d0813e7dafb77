package flowrepo

import (
	"context"
	"sync"

	"github.com/flywind2/t-cell-data/internal/domain"
	"github.com/flywind2/t-cell-data/internal/observability"
)

// CachedCatalog wraps a Catalog with an in-memory LRU cache of accession
// lookups. Dataset listings are immutable once published, so entries never
// expire; the LRU bound only caps memory.
type CachedCatalog struct {
	inner   domain.Catalog
	cache   *lruCache
	metrics *observability.Metrics
}

// NewCachedCatalog creates a cache decorator around a catalog. metrics may
// be nil for callers that do not report cache traffic.
func NewCachedCatalog(inner domain.Catalog, maxEntries int, metrics *observability.Metrics) *CachedCatalog {
	return &CachedCatalog{
		inner:   inner,
		cache:   newLRUCache(maxEntries),
		metrics: metrics,
	}
}

func (c *CachedCatalog) Dataset(ctx context.Context, accession string) (*domain.Dataset, error) {
	if ds, ok := c.cache.get(accession); ok {
		c.count("hit")
		return ds, nil
	}
	c.count("miss")
	ds, err := c.inner.Dataset(ctx, accession)
	if err != nil {
		return nil, err
	}
	// Only cache listings with files so empty placeholder records get retried.
	if len(ds.Files) > 0 {
		c.cache.put(accession, ds)
	}
	return ds, nil
}

func (c *CachedCatalog) count(result string) {
	if c.metrics != nil {
		c.metrics.FetchCache.WithLabelValues("dataset", result).Inc()
	}
}

// lruCache is a simple thread-safe LRU cache for dataset listings.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   string
	value *domain.Dataset
	prev  *entry
	next  *entry
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
	}
}

func (c *lruCache) get(key string) (*domain.Dataset, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache) put(key string, value *domain.Dataset) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
