// Package compaction implements the background segment merge and
// epoch-based page reclamation of spec.md §4.6: cold segments sealed off
// the CoW tree are periodically merged to drop superseded values and
// tombstones, and pages the tree has retired are freed back to the pager
// once no in-flight reader can still observe them.
package compaction

import (
	"container/heap"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/nexuslite/nexuslite/wasp/pagestore"
	"github.com/nexuslite/nexuslite/wasp/segment"
)

// Entry is one record surfaced by the compactor's merge, grounded on
// teacher lsm.CompactionEntry but without a sequence number: segment
// input order (oldest to newest) already disambiguates duplicates.
type Entry struct {
	Key     []byte
	Value   []byte
	Deleted bool
}

// Manager owns the flat set of sealed segments and the epoch table used
// to decide when a retired page is safe to reclaim. Unlike the teacher's
// leveled LSM, segments here are not tiered by level; spec.md describes
// a single cold-storage tier merged by fan-in, not a multi-level tree.
type Manager struct {
	dir string

	mu          sync.RWMutex
	segments    []*segment.Segment
	nextFileNum uint64

	pager *pagestore.Pager

	epochMu    sync.Mutex
	readerMin  uint64 // oldest epoch any live reader might still observe
	compactions atomic.Int64
	reclaimed   atomic.Int64
}

// NewManager creates a manager rooted at dir (the database's segment
// directory) backed by pager for epoch-gated page reclamation.
func NewManager(dir string, pager *pagestore.Pager) *Manager {
	return &Manager{dir: dir, pager: pager}
}

// AddSegment registers a freshly sealed or newly merged segment.
func (m *Manager) AddSegment(seg *segment.Segment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.segments = append(m.segments, seg)
}

// Segments returns a snapshot of the currently live segment set.
func (m *Manager) Segments() []*segment.Segment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*segment.Segment, len(m.segments))
	copy(out, m.segments)
	return out
}

// Get consults every segment newest-first so a later write shadows an
// earlier one; the tree itself is always checked by the caller first.
func (m *Manager) Get(key []byte) ([]byte, bool, error) {
	m.mu.RLock()
	segs := make([]*segment.Segment, len(m.segments))
	copy(segs, m.segments)
	m.mu.RUnlock()

	for i := len(segs) - 1; i >= 0; i-- {
		value, found, err := segs[i].Get(key)
		if err != nil {
			return nil, false, err
		}
		if found {
			return value, true, nil
		}
	}
	return nil, false, nil
}

// Seal writes entries (already sorted ascending by Key, as produced by a
// tree Scan over a cold range) into a brand new segment file and
// registers it.
func (m *Manager) Seal(entries []Entry) (*segment.Segment, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	m.mu.Lock()
	fileNum := m.nextFileNum
	m.nextFileNum++
	m.mu.Unlock()

	path := filepath.Join(m.dir, fmt.Sprintf("seg-%08d.sst", fileNum))
	builder, err := segment.NewBuilder(path, len(entries))
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if err := builder.Add(e.Key, e.Value, e.Deleted); err != nil {
			builder.Abort()
			return nil, err
		}
	}
	if err := builder.Finish(); err != nil {
		return nil, err
	}

	seg, err := segment.Open(path, 0, fileNum)
	if err != nil {
		return nil, err
	}
	m.AddSegment(seg)
	return seg, nil
}

// compactionEntry augments Entry with which input segment produced it,
// so the merge heap can pull the next entry from the right iterator
// (grounded on teacher lsm.CompactionEntry/CompactionHeap).
type compactionEntry struct {
	Entry
	srcIndex int
}

type mergeHeap []compactionEntry

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	if c := compareBytes(h[i].Key, h[j].Key); c != 0 {
		return c < 0
	}
	// Equal keys: pop the oldest input segment's entry first, so the
	// merge loop's "next top has the same key" skip drops stale
	// versions and the newest survives as the last-popped of the run.
	return h[i].srcIndex < h[j].srcIndex
}
func (h mergeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *mergeHeap) Push(x interface{}) { *h = append(*h, x.(compactionEntry)) }
func (h *mergeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func compareBytes(a, b []byte) int {
	switch {
	case string(a) < string(b):
		return -1
	case string(a) > string(b):
		return 1
	default:
		return 0
	}
}

// Compact merges inputs into one or more new segments, dropping
// superseded duplicates and, when dropTombstones is true (the oldest
// segments, with nothing older left to shadow), dropping delete markers
// entirely so space is actually reclaimed.
func (m *Manager) Compact(inputs []*segment.Segment, dropTombstones bool) ([]*segment.Segment, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	iterators := make([]*segment.Iterator, len(inputs))
	for i, seg := range inputs {
		it, err := segment.NewIterator(seg)
		if err != nil {
			return nil, err
		}
		iterators[i] = it
	}

	h := &mergeHeap{}
	heap.Init(h)
	for i, it := range iterators {
		e, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if ok {
			heap.Push(h, compactionEntry{Entry: Entry(e), srcIndex: i})
		}
	}

	const maxEntriesPerFile = 100000
	var merged []*segment.Segment
	var pending []Entry

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		seg, err := m.Seal(pending)
		if err != nil {
			return err
		}
		merged = append(merged, seg)
		pending = nil
		return nil
	}

	for h.Len() > 0 {
		top := heap.Pop(h).(compactionEntry)

		if next, ok, err := iterators[top.srcIndex].Next(); err != nil {
			return nil, err
		} else if ok {
			heap.Push(h, compactionEntry{Entry: next, srcIndex: top.srcIndex})
		}

		if h.Len() > 0 && compareBytes((*h)[0].Key, top.Key) == 0 {
			continue // a newer version of this key follows; drop the older one
		}
		if top.Deleted && dropTombstones {
			continue
		}

		pending = append(pending, top.Entry)
		if len(pending) >= maxEntriesPerFile {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	m.retireSegments(inputs)
	m.compactions.Add(1)
	return merged, nil
}

func (m *Manager) retireSegments(inputs []*segment.Segment) {
	m.mu.Lock()
	defer m.mu.Unlock()

	retired := make(map[uint64]bool, len(inputs))
	for _, seg := range inputs {
		retired[seg.FileNum()] = true
	}
	kept := m.segments[:0:0]
	for _, seg := range m.segments {
		if retired[seg.FileNum()] {
			seg.Remove()
			continue
		}
		kept = append(kept, seg)
	}
	m.segments = kept
}

// SetReaderEpoch records the oldest epoch any live reader might still
// observe; Reclaim only frees pages retired strictly before this bound.
func (m *Manager) SetReaderEpoch(epoch uint64) {
	m.epochMu.Lock()
	defer m.epochMu.Unlock()
	m.readerMin = epoch
}

// Reclaim asks the pager to free every page retired before the current
// safe reader epoch, returning how many pages were freed.
func (m *Manager) Reclaim() int {
	m.epochMu.Lock()
	safe := m.readerMin
	m.epochMu.Unlock()

	freed := m.pager.Reclaim(safe)
	m.reclaimed.Add(int64(len(freed)))
	return len(freed)
}

// Stats reports cumulative compactor activity.
type Stats struct {
	Compactions int64
	Reclaimed   int64
	Segments    int
}

func (m *Manager) Stats() Stats {
	m.mu.RLock()
	n := len(m.segments)
	m.mu.RUnlock()
	return Stats{
		Compactions: m.compactions.Load(),
		Reclaimed:   m.reclaimed.Load(),
		Segments:    n,
	}
}
