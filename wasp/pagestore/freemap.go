package pagestore

import (
	"encoding/binary"
	"sort"
	"sync"
)

// freeMap is a persistent set of individual page IDs tracking which pages
// are free.
// Freeing a page is deferred (see retire) until no reader epoch at or
// below the page's retirement epoch remains (epoch-based reclamation,
// spec.md §4.1 / §4.6).
type freeMap struct {
	mu       sync.Mutex
	free     map[uint64]struct{}
	retiring map[uint64]uint64 // pageID -> epoch at which it was retired
}

func newFreeMap() *freeMap {
	return &freeMap{
		free:     make(map[uint64]struct{}),
		retiring: make(map[uint64]uint64),
	}
}

// allocate pops an arbitrary free page ID, or reports none available.
func (f *freeMap) allocate() (uint64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id := range f.free {
		delete(f.free, id)
		return id, true
	}
	return 0, false
}

// retire marks pageID as obsolete as of epoch; it becomes reusable once
// Reclaim is called with a safe (minimum live reader) epoch greater than
// this retirement epoch.
func (f *freeMap) retire(pageID uint64, epoch uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retiring[pageID] = epoch
}

// reclaim frees every retired page whose retirement epoch is strictly
// below safeEpoch (the oldest epoch any reader might still observe),
// returning the reclaimed IDs.
func (f *freeMap) reclaim(safeEpoch uint64) []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var reclaimed []uint64
	for id, epoch := range f.retiring {
		if epoch < safeEpoch {
			delete(f.retiring, id)
			f.free[id] = struct{}{}
			reclaimed = append(reclaimed, id)
		}
	}
	sort.Slice(reclaimed, func(i, j int) bool { return reclaimed[i] < reclaimed[j] })
	return reclaimed
}

// encode serializes the free map for the sidecar persistence file:
// count(u32) | ids(u64 each) | retiringCount(u32) | (id u64, epoch u64) each.
func (f *freeMap) encode() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	buf := make([]byte, 4, 4+8*len(f.free)+4+16*len(f.retiring))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(f.free)))
	for id := range f.free {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], id)
		buf = append(buf, b[:]...)
	}

	var rc [4]byte
	binary.BigEndian.PutUint32(rc[:], uint32(len(f.retiring)))
	buf = append(buf, rc[:]...)
	for id, epoch := range f.retiring {
		var b [16]byte
		binary.BigEndian.PutUint64(b[0:8], id)
		binary.BigEndian.PutUint64(b[8:16], epoch)
		buf = append(buf, b[:]...)
	}
	return buf
}

func decodeFreeMap(data []byte) *freeMap {
	f := newFreeMap()
	if len(data) < 4 {
		return f
	}
	n := binary.BigEndian.Uint32(data[0:4])
	off := 4
	for i := uint32(0); i < n && off+8 <= len(data); i++ {
		id := binary.BigEndian.Uint64(data[off:])
		f.free[id] = struct{}{}
		off += 8
	}
	if off+4 > len(data) {
		return f
	}
	rn := binary.BigEndian.Uint32(data[off:])
	off += 4
	for i := uint32(0); i < rn && off+16 <= len(data); i++ {
		id := binary.BigEndian.Uint64(data[off:])
		epoch := binary.BigEndian.Uint64(data[off+8:])
		f.retiring[id] = epoch
		off += 16
	}
	return f
}
