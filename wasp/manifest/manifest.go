// Package manifest implements the double-buffered root descriptor of
// spec.md §4.3: two fixed slots, atomic pointer-flip liveness selection,
// and tolerance of a torn write to the inactive slot (invariant I4).
package manifest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"sync"
)

// MaxSegments bounds how many active segment IDs a single slot can name;
// a fixed bound keeps the slot a fixed size, which is what lets two
// slots alternate at fixed offsets.
const MaxSegments = 256

// SlotSize is the fixed on-disk size of one manifest slot.
const SlotSize = 4096

const (
	offSeq       = 0
	offRoot      = 8
	offWALLSN    = 16
	offEpoch     = 24
	offPageSize  = 32
	offSegCount  = 36
	offSegments  = 40
	offCRC       = SlotSize - 4
)

var (
	// ErrBothSlotsInvalid is the fatal failure mode of spec.md §4.7: a
	// two-slot manifest loss that forces read-only mode until `verify`.
	ErrBothSlotsInvalid = errors.New("manifest: both slots invalid")
)

// Slot is the logical content of one manifest slot.
type Slot struct {
	SeqNum         uint64
	RootPage       uint64
	WALLSN         uint64
	Epoch          uint64
	PageSize       uint32
	ActiveSegments []uint64
}

func (s Slot) encode() ([]byte, error) {
	if len(s.ActiveSegments) > MaxSegments {
		return nil, fmt.Errorf("manifest: too many active segments (%d > %d)", len(s.ActiveSegments), MaxSegments)
	}
	buf := make([]byte, SlotSize)
	binary.BigEndian.PutUint64(buf[offSeq:], s.SeqNum)
	binary.BigEndian.PutUint64(buf[offRoot:], s.RootPage)
	binary.BigEndian.PutUint64(buf[offWALLSN:], s.WALLSN)
	binary.BigEndian.PutUint64(buf[offEpoch:], s.Epoch)
	binary.BigEndian.PutUint32(buf[offPageSize:], s.PageSize)
	binary.BigEndian.PutUint32(buf[offSegCount:], uint32(len(s.ActiveSegments)))
	off := offSegments
	for _, seg := range s.ActiveSegments {
		binary.BigEndian.PutUint64(buf[off:], seg)
		off += 8
	}
	crc := crc32.ChecksumIEEE(buf[:offCRC])
	binary.BigEndian.PutUint32(buf[offCRC:], crc)
	return buf, nil
}

func decodeSlot(buf []byte) (Slot, bool) {
	if len(buf) != SlotSize {
		return Slot{}, false
	}
	want := binary.BigEndian.Uint32(buf[offCRC:])
	got := crc32.ChecksumIEEE(buf[:offCRC])
	if want != got {
		return Slot{}, false
	}

	var s Slot
	s.SeqNum = binary.BigEndian.Uint64(buf[offSeq:])
	s.RootPage = binary.BigEndian.Uint64(buf[offRoot:])
	s.WALLSN = binary.BigEndian.Uint64(buf[offWALLSN:])
	s.Epoch = binary.BigEndian.Uint64(buf[offEpoch:])
	s.PageSize = binary.BigEndian.Uint32(buf[offPageSize:])
	count := binary.BigEndian.Uint32(buf[offSegCount:])
	if count > MaxSegments {
		return Slot{}, false
	}
	off := offSegments
	s.ActiveSegments = make([]uint64, count)
	for i := range s.ActiveSegments {
		s.ActiveSegments[i] = binary.BigEndian.Uint64(buf[off:])
		off += 8
	}
	return s, true
}

// Manifest owns the two-slot file and the in-memory live slot.
type Manifest struct {
	file *os.File

	mu        sync.RWMutex
	live      Slot
	liveIdx   int // 0 or 1; the slot NOT equal to liveIdx is written next
	repaired  int // count of repaired (invalid) slots observed at Open, for Verify reporting
}

// Open loads (or initializes) the two-slot manifest file at path.
func Open(path string, pageSize uint32) (*Manifest, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("manifest: open %s: %w", path, err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	m := &Manifest{file: file}

	if stat.Size() < 2*SlotSize {
		initial := Slot{SeqNum: 1, RootPage: 0, PageSize: pageSize}
		if err := m.writeSlotLocked(0, initial); err != nil {
			file.Close()
			return nil, err
		}
		m.live = initial
		m.liveIdx = 0
		return m, nil
	}

	slotA, okA := m.readSlotLocked(0)
	slotB, okB := m.readSlotLocked(1)

	switch {
	case okA && okB:
		if slotA.SeqNum >= slotB.SeqNum {
			m.live, m.liveIdx = slotA, 0
		} else {
			m.live, m.liveIdx = slotB, 1
		}
	case okA:
		m.live, m.liveIdx = slotA, 0
		m.repaired = 1
	case okB:
		m.live, m.liveIdx = slotB, 1
		m.repaired = 1
	default:
		file.Close()
		return nil, ErrBothSlotsInvalid
	}

	return m, nil
}

func (m *Manifest) readSlotLocked(idx int) (Slot, bool) {
	buf := make([]byte, SlotSize)
	if _, err := m.file.ReadAt(buf, int64(idx)*SlotSize); err != nil {
		return Slot{}, false
	}
	return decodeSlot(buf)
}

func (m *Manifest) writeSlotLocked(idx int, s Slot) error {
	buf, err := s.encode()
	if err != nil {
		return err
	}
	if _, err := m.file.WriteAt(buf, int64(idx)*SlotSize); err != nil {
		return err
	}
	return m.file.Sync()
}

// Live returns the current live slot.
func (m *Manifest) Live() Slot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.live
}

// RepairedSlots reports how many slots were found invalid at Open time
// (spec.md scenario 4: "verify reports 1 repaired slot").
func (m *Manifest) RepairedSlots() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.repaired
}

// Flip publishes next as the new live slot: it is written to the
// currently-inactive slot, fsynced, and only then does Live() observe
// it — a torn write to that slot never affects the previously-live one
// (invariant I4). The caller must already hold the engine-wide writer
// mutex; Flip itself only serializes the two-slot file I/O.
func (m *Manifest) Flip(next Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next.SeqNum = m.live.SeqNum + 1
	inactive := 1 - m.liveIdx
	if err := m.writeSlotLocked(inactive, next); err != nil {
		return fmt.Errorf("manifest: flip: %w", err)
	}
	m.live = next
	m.liveIdx = inactive
	return nil
}

// Close fsyncs and closes the manifest file.
func (m *Manifest) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.file.Sync(); err != nil {
		return err
	}
	return m.file.Close()
}
