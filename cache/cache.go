// Package cache implements the hybrid TTL-first + LRU-sampling eviction
// engine of spec.md §4.8: the hot-data layer collections keep above WASP.
package cache

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nexuslite/nexuslite/document"
)

type entry struct {
	doc         *document.Document
	ttlDeadline time.Time // zero means no TTL
	lastAccess  time.Time
	size        int
	seq         uint64 // insertion order, used as a stable LRU tie-break
}

func (e *entry) hasTTL() bool { return !e.ttlDeadline.IsZero() }

func (e *entry) expired(now time.Time) bool {
	return e.hasTTL() && !now.Before(e.ttlDeadline)
}

// Cache is a per-collection hybrid eviction cache keyed by document ID.
type Cache struct {
	cfg Config

	mu      sync.RWMutex
	entries map[document.ID]*entry
	seq     atomic.Uint64

	m    metrics
	sf   singleflight.Group
	now  func() time.Time // overridable for tests
}

// New creates a Cache governed by cfg.
func New(cfg Config) *Cache {
	return &Cache{
		cfg:     cfg.normalized(),
		entries: make(map[document.ID]*entry),
		now:     time.Now,
	}
}

// Get performs a lazy-expiring lookup (spec.md §4.8 step 1 / P4): an
// entry whose TTL has passed is never returned as a hit.
func (c *Cache) Get(id document.ID) (*document.Document, bool) {
	now := c.now()

	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()
	if !ok {
		c.m.misses.Add(1)
		return nil, false
	}
	if e.expired(now) {
		c.removeExpired(id)
		c.m.misses.Add(1)
		return nil, false
	}

	c.mu.Lock()
	e.lastAccess = now
	c.mu.Unlock()

	c.m.hits.Add(1)
	return e.doc.Clone(), true
}

func (c *Cache) removeExpired(id document.ID) {
	c.mu.Lock()
	e, ok := c.entries[id]
	if ok {
		delete(c.entries, id)
		c.m.currentSize.Add(-int64(e.size))
	}
	c.mu.Unlock()
	if ok {
		c.m.ttlEvictions.Add(1)
	}
}

// Insert adds or replaces the cached copy of doc, running one eviction
// cycle first if the cache is already at or over capacity.
func (c *Cache) Insert(doc *document.Document, ttl time.Duration) {
	size := len(doc.Payload) + 64 // rough per-entry overhead estimate

	if c.overCapacity() {
		c.evictOnce()
	}

	now := c.now()
	var deadline time.Time
	if ttl > 0 {
		deadline = now.Add(ttl)
	}

	e := &entry{
		doc:         doc.Clone(),
		ttlDeadline: deadline,
		lastAccess:  now,
		size:        size,
		seq:         c.seq.Add(1),
	}

	c.mu.Lock()
	old, existed := c.entries[doc.ID]
	c.entries[doc.ID] = e
	c.mu.Unlock()

	if existed {
		c.m.currentSize.Add(int64(size - old.size))
	} else {
		c.m.currentSize.Add(int64(size))
	}
}

// Delete removes id from the cache, if present.
func (c *Cache) Delete(id document.ID) {
	c.mu.Lock()
	e, ok := c.entries[id]
	if ok {
		delete(c.entries, id)
	}
	c.mu.Unlock()
	if ok {
		c.m.currentSize.Add(-int64(e.size))
	}
}

// Metrics returns a lock-free snapshot of the monotonic counters.
func (c *Cache) Metrics() Metrics {
	return c.m.snapshot()
}

func (c *Cache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) overCapacity() bool {
	if c.len() >= c.cfg.CapacityEntries {
		return true
	}
	if c.cfg.CapacityBytes > 0 && c.m.currentSize.Load() >= c.cfg.CapacityBytes {
		return true
	}
	return false
}

// evictOnce runs a single eviction cycle under a singleflight guard so
// concurrent Insert calls collapse into one pass instead of each scanning
// the map (spec.md §4.8 step 2). SweepTTL runs its own pass outside this
// guard.
func (c *Cache) evictOnce() {
	_, _, _ = c.sf.Do("evict", func() (any, error) {
		c.evictExpiredBatch()
		if c.cfg.Mode.usesLRU() && c.overCapacity() {
			c.evictLRUSample()
		}
		return nil, nil
	})
}

// evictExpiredBatch evicts up to BatchSize TTL-expired entries, earliest
// deadline first (spec.md §4.8 ordering rule), and returns their IDs.
func (c *Cache) evictExpiredBatch() []document.ID {
	if !c.cfg.Mode.usesTTL() {
		return nil
	}
	now := c.now()

	type candidate struct {
		id       document.ID
		deadline time.Time
	}

	c.mu.RLock()
	candidates := make([]candidate, 0)
	for id, e := range c.entries {
		if e.expired(now) {
			candidates = append(candidates, candidate{id, e.ttlDeadline})
		}
	}
	c.mu.RUnlock()

	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].deadline.Before(candidates[j].deadline)
	})
	if len(candidates) > c.cfg.BatchSize {
		candidates = candidates[:c.cfg.BatchSize]
	}

	var evicted []document.ID
	for _, cd := range candidates {
		c.mu.Lock()
		e, ok := c.entries[cd.id]
		if ok {
			delete(c.entries, cd.id)
		}
		c.mu.Unlock()
		if ok {
			c.m.currentSize.Add(-int64(e.size))
			c.m.ttlEvictions.Add(1)
			evicted = append(evicted, cd.id)
		}
	}
	return evicted
}

// evictLRUSample samples up to MaxSamples entries and evicts the
// oldest-accessed one(s) until back under capacity, with insertion-order
// tie-breaking (spec.md §4.8 ordering rule).
func (c *Cache) evictLRUSample() {
	for c.overCapacity() {
		c.mu.RLock()
		if len(c.entries) == 0 {
			c.mu.RUnlock()
			return
		}
		type sample struct {
			id         document.ID
			lastAccess time.Time
			seq        uint64
		}
		samples := make([]sample, 0, c.cfg.MaxSamples)
		for id, e := range c.entries {
			samples = append(samples, sample{id, e.lastAccess, e.seq})
			if len(samples) >= c.cfg.MaxSamples {
				break
			}
		}
		c.mu.RUnlock()

		sort.Slice(samples, func(i, j int) bool {
			if !samples[i].lastAccess.Equal(samples[j].lastAccess) {
				return samples[i].lastAccess.Before(samples[j].lastAccess)
			}
			return samples[i].seq < samples[j].seq
		})

		victim := samples[0].id
		c.mu.Lock()
		e, ok := c.entries[victim]
		if ok {
			delete(c.entries, victim)
		}
		c.mu.Unlock()
		if !ok {
			continue
		}
		c.m.currentSize.Add(-int64(e.size))
		c.m.lruEvictions.Add(1)
	}
}

// SweepTTL is invoked by the background sweeper; it removes all expired
// entries (not just a batch) and triggers LRU eviction if still over
// capacity, timing itself into the SweeperLatency metric. It returns the
// IDs of every entry it evicted for TTL expiry, so a caller backing the
// cache with durable storage can retire them there too.
func (c *Cache) SweepTTL() []document.ID {
	start := c.now()
	var expired []document.ID
	for c.cfg.Mode.usesTTL() {
		c.mu.RLock()
		any := false
		now := c.now()
		for _, e := range c.entries {
			if e.expired(now) {
				any = true
				break
			}
		}
		c.mu.RUnlock()
		if !any {
			break
		}
		expired = append(expired, c.evictExpiredBatch()...)
	}
	if c.cfg.Mode.usesLRU() && c.overCapacity() {
		c.evictLRUSample()
	}
	c.m.sweeperLatency.Store(int64(time.Since(start)))
	return expired
}
