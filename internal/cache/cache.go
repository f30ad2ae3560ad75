// Package cache implements the bounded, LRU-evicted collection cache and
// the per-(collection, field) query-pattern counters that drive
// opportunistic auto-indexing.
package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/VochanecA/TextDBX/internal/record"
)

// AutoIndexThreshold is the per-field filter-condition count that must be
// exceeded before the engine opportunistically builds an index: the query
// that takes the count to AutoIndexThreshold+1 triggers the build.
const AutoIndexThreshold = 5

// Entry is one cache slot: the collection's records as of the observed
// mtime, plus access bookkeeping (hit count and last-access time).
// Eviction does not read these fields; it follows the LRU list's own
// recency order.
type Entry struct {
	Records    record.Collection
	ModTime    time.Time
	Accesses   uint64
	LastAccess time.Time
}

// Cache is a bounded collection-name -> Entry map with LRU eviction, plus
// query-pattern counters used for auto-indexing.
type Cache struct {
	mu    sync.Mutex
	lru   *lru.Cache[string, *Entry]
	hits  uint64
	misses uint64

	counters map[string]map[string]int
}

// New builds a Cache bounded to maxSize entries.
func New(maxSize int) (*Cache, error) {
	if maxSize <= 0 {
		maxSize = 1
	}
	l, err := lru.New[string, *Entry](maxSize)
	if err != nil {
		return nil, err
	}
	return &Cache{
		lru:      l,
		counters: make(map[string]map[string]int),
	}, nil
}

// Get returns a defensive copy of the cached records for collection if an
// entry exists and its stored mtime is not older than currentModTime.
// A stale or missing entry reports ok=false so the caller refreshes from
// storage.
func (c *Cache) Get(collection string, currentModTime time.Time) (records record.Collection, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, found := c.lru.Get(collection)
	if !found || entry.ModTime.Before(currentModTime) {
		c.misses++
		return nil, false
	}

	entry.Accesses++
	entry.LastAccess = time.Now()
	c.hits++
	return record.CloneCollection(entry.Records), true
}

// Put replaces the cache entry for collection with the just-written
// records and the new mtime, triggering LRU eviction of the
// least-recently-used entry if the cache is at capacity.
func (c *Cache) Put(collection string, records record.Collection, modTime time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Add(collection, &Entry{
		Records:    record.CloneCollection(records),
		ModTime:    modTime,
		LastAccess: time.Now(),
	})
}

// Invalidate removes any cache entry and counters for collection, used on
// drop.
func (c *Cache) Invalidate(collection string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(collection)
	delete(c.counters, collection)
}

// Len reports the number of live cache entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns cumulative hit/miss counts for operational visibility.
func (c *Cache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

// RecordQuery increments the per-field filter-condition counter for every
// field named in fields and returns the subset that just crossed
// AutoIndexThreshold on this call, so the caller can opportunistically
// build an index for each exactly once.
func (c *Cache) RecordQuery(collection string, fields []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	byField, ok := c.counters[collection]
	if !ok {
		byField = make(map[string]int)
		c.counters[collection] = byField
	}

	var crossed []string
	for _, f := range fields {
		byField[f]++
		if byField[f] == AutoIndexThreshold+1 {
			crossed = append(crossed, f)
		}
	}
	return crossed
}

// ResetCounter zeroes the counter for a (collection, field) pair, used
// after an index is built. The count then starts again from zero and
// crosses the threshold again after another AutoIndexThreshold+1 queries,
// whether or not the index still exists.
func (c *Cache) ResetCounter(collection, field string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if byField, ok := c.counters[collection]; ok {
		delete(byField, field)
	}
}
