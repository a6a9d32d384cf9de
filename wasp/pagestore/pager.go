package pagestore

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
)

// MinPageSize and MaxPageSize bound spec.md's "8-16 KiB, power of two"
// page size policy; page size is fixed at database-creation time
// (spec.md §9 Open Questions).
const (
	MinPageSize = 8 * 1024
	MaxPageSize = 16 * 1024
)

var ErrInvalidPageSize = errors.New("pagestore: page size must be a power of two in [8KiB, 16KiB]")

func validPageSize(size uint32) bool {
	if size < MinPageSize || size > MaxPageSize {
		return false
	}
	return size&(size-1) == 0
}

// Pager owns the data file: fixed-size page reads/writes, a free-space
// map, and (optionally) a post-fsync re-read for power-unsafe devices
// ("copy-verify" mode, spec.md §4.1).
type Pager struct {
	file       *os.File
	sidecar    string
	pageSize   uint32
	copyVerify bool

	mu       sync.RWMutex
	numPages atomic.Uint64
	free     *freeMap

	stats struct {
		reads  atomic.Int64
		writes atomic.Int64
	}
}

// Open creates or opens the page file at path with the given page size.
// The size is not recorded in the file, so reopening an existing file
// uses whatever pageSize the caller passes.
func Open(path string, pageSize uint32, copyVerify bool) (*Pager, error) {
	if !validPageSize(pageSize) {
		return nil, ErrInvalidPageSize
	}

	existed := true
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		existed = false
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("pagestore: open %s: %w", path, err)
	}

	p := &Pager{
		file:       file,
		sidecar:    path + ".freemap",
		pageSize:   pageSize,
		copyVerify: copyVerify,
		free:       newFreeMap(),
	}

	if existed {
		if err := p.loadSidecar(); err != nil {
			file.Close()
			return nil, err
		}
		stat, err := file.Stat()
		if err != nil {
			file.Close()
			return nil, err
		}
		p.numPages.Store(uint64(stat.Size()) / uint64(pageSize))
	} else {
		// Page ID 0 is permanently reserved and never allocated: it lets
		// cowtree use 0 as its "empty tree" sentinel root without
		// colliding with a real first-page ID.
		p.numPages.Store(1)
	}

	return p, nil
}

func (p *Pager) loadSidecar() error {
	data, err := os.ReadFile(p.sidecar)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	p.free = decodeFreeMap(data)
	return nil
}

// PageSize returns the fixed page size for this store.
func (p *Pager) PageSize() uint32 { return p.pageSize }

// NumPages returns the total number of allocated page slots (including
// freed-but-not-yet-reclaimed ones).
func (p *Pager) NumPages() uint64 { return p.numPages.Load() }

// Allocate returns a fresh page id, preferring a reclaimed free slot
// over growing the file.
func (p *Pager) Allocate(kind Kind) (*Page, error) {
	if id, ok := p.free.allocate(); ok {
		return New(p.pageSize, id, 0, kind), nil
	}
	id := p.numPages.Add(1) - 1
	return New(p.pageSize, id, 0, kind), nil
}

// Read loads and checksum-verifies the page at pageID.
func (p *Pager) Read(pageID uint64) (*Page, error) {
	if pageID >= p.numPages.Load() {
		return nil, fmt.Errorf("pagestore: page %d out of bounds", pageID)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	buf := make([]byte, p.pageSize)
	if _, err := p.file.ReadAt(buf, int64(pageID)*int64(p.pageSize)); err != nil {
		return nil, fmt.Errorf("pagestore: read page %d: %w", pageID, err)
	}
	p.stats.reads.Add(1)

	page, err := Load(buf)
	if err != nil {
		return nil, fmt.Errorf("pagestore: page %d: %w", pageID, ErrCorruptPage)
	}
	return page, nil
}

// Write persists page at its own ID's offset (copy-on-write: pages are
// never rewritten in place once published by a manifest flip, only
// freshly allocated ones are written here).
func (p *Pager) Write(page *Page) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	off := int64(page.ID()) * int64(p.pageSize)
	if _, err := p.file.WriteAt(page.Bytes(), off); err != nil {
		return fmt.Errorf("pagestore: write page %d: %w", page.ID(), err)
	}
	p.stats.writes.Add(1)

	if p.copyVerify {
		buf := make([]byte, p.pageSize)
		if _, err := p.file.ReadAt(buf, off); err != nil {
			return fmt.Errorf("pagestore: copy-verify read-back page %d: %w", page.ID(), err)
		}
		if _, err := Load(buf); err != nil {
			return fmt.Errorf("pagestore: copy-verify page %d: %w", page.ID(), ErrCorruptPage)
		}
	}
	return nil
}

// Retire marks pageID obsolete as of epoch; Reclaim later frees it once
// no reader needs it (invariant: memory/page safety discipline, §5).
func (p *Pager) Retire(pageID uint64, epoch uint64) {
	p.free.retire(pageID, epoch)
}

// Reclaim releases every page retired strictly before safeEpoch.
func (p *Pager) Reclaim(safeEpoch uint64) []uint64 {
	return p.free.reclaim(safeEpoch)
}

// Sync persists the free-space map sidecar and fsyncs the data file.
func (p *Pager) Sync() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.file.Sync(); err != nil {
		return err
	}
	return p.writeSidecarLocked()
}

func (p *Pager) writeSidecarLocked() error {
	data := p.free.encode()
	tmp := p.sidecar + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, p.sidecar)
}

// Close flushes the sidecar and closes the data file.
func (p *Pager) Close() error {
	if err := p.Sync(); err != nil {
		return err
	}
	return p.file.Close()
}

// Stats reports pager-level read/write counters.
type Stats struct {
	Reads  int64
	Writes int64
}

func (p *Pager) Stats() Stats {
	return Stats{Reads: p.stats.reads.Load(), Writes: p.stats.writes.Load()}
}
