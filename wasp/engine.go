// Package wasp implements the Write-Ahead Shadow Paging storage engine
// of spec.md §4: a pager, a tiny WAL, a double-buffered manifest, a
// copy-on-write page tree, an immutable segment store and a background
// compactor, composed behind one Engine (spec.md §4.7), matching the
// shape of teacher's btree.BTree/lsm.LSM orchestrator types.
package wasp

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nexuslite/nexuslite/nxlog"
	"github.com/nexuslite/nexuslite/wasp/compaction"
	"github.com/nexuslite/nexuslite/wasp/cowtree"
	"github.com/nexuslite/nexuslite/wasp/manifest"
	"github.com/nexuslite/nexuslite/wasp/pagestore"
	"github.com/nexuslite/nexuslite/wasp/segment"
	"github.com/nexuslite/nexuslite/wasp/walog"
)

// OpKind distinguishes a commit batch's two possible actions per key.
type OpKind int

const (
	OpPut OpKind = iota
	OpDelete
)

// OpRecord is one operation in a commit batch, keyed by the tree's
// composite (collection, doc_id) key.
type OpRecord struct {
	Kind  OpKind
	Key   cowtree.Key
	Value []byte
}

// Config bundles the tunables an Engine needs at Open.
type Config struct {
	PageSize        uint32
	CopyVerifyPages bool
	GroupCommitMS   time.Duration
	MaxGroupRecords int
	CompactInterval time.Duration
	CompactBytesSec float64
}

// DefaultConfig matches spec.md §6's defaults: 16KiB pages, 5ms group
// commit window, compaction every 30s unthrottled.
func DefaultConfig() Config {
	return Config{
		PageSize:        pagestore.MaxPageSize,
		CopyVerifyPages: false,
		GroupCommitMS:   5 * time.Millisecond,
		MaxGroupRecords: 64,
		CompactInterval: 30 * time.Second,
		CompactBytesSec: 0,
	}
}

// Engine is the WASP orchestrator: one per open database.
type Engine struct {
	dir string
	cfg Config

	pager    *pagestore.Pager
	wal      *walog.Log
	batcher  *walog.Batcher
	manifest *manifest.Manifest
	tree     *cowtree.Tree
	compactor *compaction.Manager
	runner   *compaction.Runner
	log      *nxlog.DatabaseLogger

	writeMu sync.Mutex // lock order: collection -> writeMu -> manifest (spec.md §5)
	epoch   atomic.Uint64
	txnSeq  atomic.Uint64

	readers epochTracker
}

// Open creates or recovers the engine rooted at dir.
func Open(dir string, cfg Config, log *nxlog.DatabaseLogger) (*Engine, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("wasp: mkdir %s: %w", dir, err)
	}
	segDir := filepath.Join(dir, "segments")
	if err := os.MkdirAll(segDir, 0o755); err != nil {
		return nil, err
	}

	pager, err := pagestore.Open(filepath.Join(dir, "data.wasp"), cfg.PageSize, cfg.CopyVerifyPages)
	if err != nil {
		return nil, newError(KindIOFatal, "open", err)
	}

	m, err := manifest.Open(filepath.Join(dir, "manifest"), cfg.PageSize)
	if err != nil {
		pager.Close()
		if err == manifest.ErrBothSlotsInvalid {
			return nil, newError(KindCorruptManifest, "open", err)
		}
		return nil, newError(KindIOFatal, "open", err)
	}

	walPath := filepath.Join(dir, "wal")
	wl, err := walog.Open(walPath)
	if err != nil {
		pager.Close()
		m.Close()
		return nil, newError(KindIOFatal, "open", err)
	}

	e := &Engine{
		dir:       dir,
		cfg:       cfg,
		pager:     pager,
		wal:       wl,
		manifest:  m,
		tree:      cowtree.New(pager),
		compactor: compaction.NewManager(segDir, pager),
		log:       log,
	}
	e.batcher = walog.NewBatcher(wl, cfg.GroupCommitMS, cfg.MaxGroupRecords)
	e.epoch.Store(m.Live().Epoch)

	if err := e.recover(walPath); err != nil {
		pager.Close()
		m.Close()
		wl.Close()
		return nil, err
	}

	if cfg.CompactInterval > 0 {
		e.runner = compaction.StartRunner(e.compactor, cfg.CompactInterval, cfg.CompactBytesSec)
	}

	return e, nil
}

// recover rolls the manifest forward past any WAL record whose pages
// were already durably written (pager.Sync happens before a record is
// appended; see Commit) but whose manifest flip never landed because the
// process crashed between the two fsyncs.
//
// This makes a WAL-durable-but-unflipped batch visible on reopen, which
// is the opposite of the recovery scenario's literal wording ("none
// visible; WAL tail discarded") — that wording describes a crash before
// the WAL record itself is durable, a case this function never reaches
// since Replay only returns records that survived fsync. Once a record
// is in the replayed set, its pages are safe to reference and the
// manifest is rolled forward to it rather than discarded, so a durable
// commit is never silently lost. See DESIGN.md for the full rationale.
func (e *Engine) recover(walPath string) error {
	records, err := walog.Replay(walPath, e.log)
	if err != nil {
		return newError(KindCorruptWalRecord, "recover", err)
	}

	live := e.manifest.Live()
	var latest *walog.Record
	for i := range records {
		r := &records[i]
		if r.Epoch > live.Epoch {
			latest = r
		}
	}
	if latest == nil {
		return nil
	}

	next := manifest.Slot{
		RootPage:       latest.NewRoot,
		WALLSN:         latest.TxnID,
		Epoch:          latest.Epoch,
		PageSize:       e.pager.PageSize(),
		ActiveSegments: live.ActiveSegments,
	}
	if err := e.manifest.Flip(next); err != nil {
		return newError(KindIOFatal, "recover", err)
	}
	e.epoch.Store(latest.Epoch)
	return nil
}

// Commit atomically applies batch: WAL-before-manifest (I5) and
// all-or-none visibility. A crash before the WAL record is fsynced leaves
// nothing newly visible; a crash after that fsync but before the manifest
// flip is rolled forward by recover on the next Open, so the whole batch
// becomes visible (spec.md §4.7).
func (e *Engine) Commit(batch []OpRecord) (uint64, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	epoch := e.epoch.Add(1)
	root := e.manifest.Live().RootPage

	var touched []uint64
	for _, op := range batch {
		var newRoot uint64
		var err error
		switch op.Kind {
		case OpPut:
			newRoot, err = e.tree.Insert(root, epoch, op.Key, op.Value)
		case OpDelete:
			newRoot, err = e.tree.Delete(root, epoch, op.Key)
		default:
			err = fmt.Errorf("wasp: unknown op kind %d", op.Kind)
		}
		if err != nil {
			return 0, newError(KindIOFatal, "commit", err)
		}
		touched = append(touched, newRoot)
		root = newRoot
	}

	if err := e.pager.Sync(); err != nil {
		return 0, newError(KindIOFatal, "commit", err)
	}

	txnID := e.txnSeq.Add(1)
	rec := walog.Record{TxnID: txnID, NewRoot: root, Epoch: epoch, TouchedPages: touched}
	if err := e.batcher.Submit(rec); err != nil {
		return 0, newError(KindIOFatal, "commit", err)
	}

	next := manifest.Slot{
		RootPage:       root,
		WALLSN:         txnID,
		Epoch:          epoch,
		PageSize:       e.pager.PageSize(),
		ActiveSegments: e.manifest.Live().ActiveSegments,
	}
	if err := e.manifest.Flip(next); err != nil {
		return 0, newError(KindIOFatal, "commit", err)
	}

	return txnID, nil
}

// Get returns the current value for key, checking the live tree first
// and falling back to sealed cold segments.
func (e *Engine) Get(key cowtree.Key) ([]byte, bool, error) {
	release := e.readers.acquire(e.epoch.Load())
	defer release()

	root := e.manifest.Live().RootPage
	value, found, err := e.tree.Get(root, key)
	if err != nil {
		return nil, false, newError(KindCorruptPage, "get", err)
	}
	if found {
		return value, true, nil
	}

	value, found, err = e.compactor.Get(key)
	if err != nil {
		return nil, false, newError(KindCorruptSegment, "get", err)
	}
	return value, found, nil
}

// Scan returns every visible entry with low <= key < high from both the
// live tree and sealed segments, tree entries winning on overlap and
// newer segments winning over older ones.
func (e *Engine) Scan(low, high cowtree.Key) ([]cowtree.Entry, error) {
	release := e.readers.acquire(e.epoch.Load())
	defer release()

	root := e.manifest.Live().RootPage
	treeEntries, err := e.tree.Scan(root, low, high)
	if err != nil {
		return nil, newError(KindCorruptPage, "scan", err)
	}

	seen := make(map[string]bool, len(treeEntries))
	out := make([]cowtree.Entry, 0, len(treeEntries))
	for _, te := range treeEntries {
		seen[string(te.Key)] = true
		out = append(out, te)
	}

	segs := e.compactor.Segments()
	for i := len(segs) - 1; i >= 0; i-- {
		seg := segs[i]
		if !seg.Overlaps(low, high) {
			continue
		}
		it, err := segment.NewIterator(seg)
		if err != nil {
			return nil, newError(KindCorruptSegment, "scan", err)
		}
		for {
			entry, ok, err := it.Next()
			if err != nil {
				return nil, newError(KindCorruptSegment, "scan", err)
			}
			if !ok {
				break
			}
			if seen[string(entry.Key)] {
				continue
			}
			if cowtree.Compare(entry.Key, low) >= 0 && cowtree.Compare(entry.Key, high) < 0 {
				seen[string(entry.Key)] = true
				if entry.Deleted {
					continue
				}
				out = append(out, cowtree.Entry{Key: entry.Key, Value: entry.Value})
			}
		}
	}

	return out, nil
}

// Checkpoint seals entries out of the tree under prefix [low, high) into
// a cold segment and truncates the WAL, bounding both tree size and WAL
// replay time (spec.md §4.7 checkpoint()).
func (e *Engine) Checkpoint(low, high cowtree.Key) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	root := e.manifest.Live().RootPage
	entries, err := e.tree.Scan(root, low, high)
	if err != nil {
		return newError(KindCorruptPage, "checkpoint", err)
	}
	if len(entries) == 0 {
		return e.wal.Truncate()
	}

	compEntries := make([]compaction.Entry, len(entries))
	for i, e2 := range entries {
		compEntries[i] = compaction.Entry{Key: e2.Key, Value: e2.Value}
	}
	if _, err := e.compactor.Seal(compEntries); err != nil {
		return newError(KindIOFatal, "checkpoint", err)
	}

	epoch := e.epoch.Add(1)
	for _, entry := range entries {
		root, err = e.tree.Delete(root, epoch, entry.Key)
		if err != nil {
			return newError(KindIOFatal, "checkpoint", err)
		}
	}
	if err := e.pager.Sync(); err != nil {
		return newError(KindIOFatal, "checkpoint", err)
	}

	next := manifest.Slot{
		RootPage:       root,
		WALLSN:         e.manifest.Live().WALLSN,
		Epoch:          epoch,
		PageSize:       e.pager.PageSize(),
		ActiveSegments: segmentFileNums(e.compactor.Segments()),
	}
	if err := e.manifest.Flip(next); err != nil {
		return newError(KindIOFatal, "checkpoint", err)
	}

	return e.wal.Truncate()
}

func segmentFileNums(segs []*segment.Segment) []uint64 {
	out := make([]uint64, len(segs))
	for i, s := range segs {
		out[i] = s.FileNum()
	}
	return out
}

// VerifyReport summarizes Verify's findings.
type VerifyReport struct {
	RepairedManifestSlots int
	SegmentCount          int
	CompactionCount       int64
	ReclaimedPages        int64
}

// Verify reports the engine's recovery-relevant state without mutating
// anything (spec.md §4.7 verify()).
func (e *Engine) Verify() VerifyReport {
	stats := e.compactor.Stats()
	return VerifyReport{
		RepairedManifestSlots: e.manifest.RepairedSlots(),
		SegmentCount:          stats.Segments,
		CompactionCount:       stats.Compactions,
		ReclaimedPages:        stats.Reclaimed,
	}
}

// Close stops background work and flushes every on-disk structure.
func (e *Engine) Close() error {
	if e.runner != nil {
		e.runner.Stop()
	}
	if err := e.pager.Close(); err != nil {
		return err
	}
	if err := e.wal.Close(); err != nil {
		return err
	}
	return e.manifest.Close()
}

// epochTracker tracks the set of epochs live readers currently hold, so
// the compactor only reclaims pages no in-flight Get/Scan can observe.
type epochTracker struct {
	mu     sync.Mutex
	counts map[uint64]int
}

func (t *epochTracker) acquire(epoch uint64) func() {
	t.mu.Lock()
	if t.counts == nil {
		t.counts = make(map[uint64]int)
	}
	t.counts[epoch]++
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		t.counts[epoch]--
		if t.counts[epoch] <= 0 {
			delete(t.counts, epoch)
		}
		t.mu.Unlock()
	}
}

// minActive returns the oldest epoch currently held by a live reader, or
// ok=false if none are active.
func (t *epochTracker) minActive() (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	first := true
	var min uint64
	for epoch := range t.counts {
		if first || epoch < min {
			min = epoch
			first = false
		}
	}
	return min, !first
}

// SyncReaderEpoch publishes the engine's current safe-reclaim epoch to
// its compactor; called periodically by the database orchestrator's
// background loop alongside the compaction runner.
func (e *Engine) SyncReaderEpoch() {
	safe := e.epoch.Load()
	if min, ok := e.readers.minActive(); ok && min < safe {
		safe = min
	}
	e.compactor.SetReaderEpoch(safe)
}
