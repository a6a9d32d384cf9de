package cache

import (
	"sync/atomic"
	"time"
)

// Metrics are the monotonic counters of spec.md §4.8, safe to read
// concurrently with writers (lock-free snapshot).
type Metrics struct {
	Hits           int64
	Misses         int64
	TTLEvictions   int64
	LRUEvictions   int64
	CurrentSize    int64
	SweeperLatency time.Duration
}

// metrics is the atomic-counter storage backing a Cache's Metrics().
type metrics struct {
	hits           atomic.Int64
	misses         atomic.Int64
	ttlEvictions   atomic.Int64
	lruEvictions   atomic.Int64
	currentSize    atomic.Int64
	sweeperLatency atomic.Int64 // nanoseconds
}

func (m *metrics) snapshot() Metrics {
	return Metrics{
		Hits:           m.hits.Load(),
		Misses:         m.misses.Load(),
		TTLEvictions:   m.ttlEvictions.Load(),
		LRUEvictions:   m.lruEvictions.Load(),
		CurrentSize:    m.currentSize.Load(),
		SweeperLatency: time.Duration(m.sweeperLatency.Load()),
	}
}
