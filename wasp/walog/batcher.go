package walog

import (
	"sync"
	"time"
)

// request is one pending Append+Sync ask submitted to the Batcher.
type request struct {
	rec  Record
	done chan error
}

// Batcher implements spec.md §4.2's group commit: concurrent commits'
// records are batched, a single fsync covers the whole group, and the
// group closes either when it reaches maxRecords or after window has
// elapsed since the first record in the group arrived.
type Batcher struct {
	log        *Log
	window     time.Duration
	maxRecords int

	mu      sync.Mutex
	pending []*request
	timer   *time.Timer
}

// NewBatcher wraps log with group-commit batching bounded by window
// (wal_group_commit_ms) and maxRecords.
func NewBatcher(log *Log, window time.Duration, maxRecords int) *Batcher {
	if maxRecords <= 0 {
		maxRecords = 1
	}
	return &Batcher{log: log, window: window, maxRecords: maxRecords}
}

// Submit appends rec to the current group and blocks until that group
// has been fsynced (or failed).
func (b *Batcher) Submit(rec Record) error {
	req := &request{rec: rec, done: make(chan error, 1)}

	b.mu.Lock()
	b.pending = append(b.pending, req)
	flush := len(b.pending) >= b.maxRecords
	if flush {
		if b.timer != nil {
			b.timer.Stop()
			b.timer = nil
		}
	} else if b.timer == nil {
		b.timer = time.AfterFunc(b.window, b.flush)
	}
	b.mu.Unlock()

	if flush {
		b.flush()
	}

	return <-req.done
}

func (b *Batcher) flush() {
	b.mu.Lock()
	group := b.pending
	b.pending = nil
	b.timer = nil
	b.mu.Unlock()

	if len(group) == 0 {
		return
	}

	var writeErr error
	for _, req := range group {
		if _, err := b.log.Append(req.rec); err != nil {
			writeErr = err
			break
		}
	}
	if writeErr == nil {
		writeErr = b.log.Sync()
	}

	for _, req := range group {
		req.done <- writeErr
	}
}
