// Package pagestore implements fixed-size page I/O with per-page
// checksums, torn-write protection and a free-space map (spec.md §4.1).
// It is deliberately a thin, uncached layer: the Hybrid Cache above WASP
// is where hot data lives, so duplicating an LRU of raw pages here would
// only waste memory without improving hit rate.
package pagestore

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// HeaderSize is the fixed page header: PageID(8) | Epoch(8) | Kind(1) |
// reserved(3) | Checksum(4) = 24 bytes.
const HeaderSize = 24

const (
	offsetPageID   = 0
	offsetEpoch    = 8
	offsetKind     = 16
	offsetChecksum = 20
)

// Kind values are opaque to the page store; callers (the CoW tree) assign
// their own meaning (leaf vs internal, free, etc).
type Kind byte

const (
	KindFree Kind = iota
	KindLeaf
	KindInternal
	KindOverflow
)

// ErrCorruptPage is returned by Page checksum verification.
var ErrCorruptPage = errors.New("pagestore: corrupt page: checksum mismatch")

// Page is one fixed-size on-disk block: header plus opaque payload.
type Page struct {
	size uint32
	buf  []byte // size bytes total: HeaderSize header + payload
}

// New allocates a zeroed page of the given size with the given identity.
func New(size uint32, id uint64, epoch uint64, kind Kind) *Page {
	p := &Page{size: size, buf: make([]byte, size)}
	p.setID(id)
	p.setEpoch(epoch)
	p.buf[offsetKind] = byte(kind)
	p.updateChecksum()
	return p
}

// Load parses a raw on-disk block (exactly size bytes) into a Page and
// verifies its checksum.
func Load(data []byte) (*Page, error) {
	if len(data) < HeaderSize {
		return nil, errors.New("pagestore: short page")
	}
	p := &Page{size: uint32(len(data)), buf: append([]byte(nil), data...)}
	if !p.verifyChecksum() {
		return nil, ErrCorruptPage
	}
	return p, nil
}

func (p *Page) ID() uint64    { return binary.BigEndian.Uint64(p.buf[offsetPageID:]) }
func (p *Page) Epoch() uint64 { return binary.BigEndian.Uint64(p.buf[offsetEpoch:]) }
func (p *Page) Kind() Kind    { return Kind(p.buf[offsetKind]) }

func (p *Page) setID(id uint64)       { binary.BigEndian.PutUint64(p.buf[offsetPageID:], id) }
func (p *Page) setEpoch(epoch uint64) { binary.BigEndian.PutUint64(p.buf[offsetEpoch:], epoch) }

// SetEpoch updates the page's retirement epoch and refreshes the checksum.
func (p *Page) SetEpoch(epoch uint64) {
	p.setEpoch(epoch)
	p.updateChecksum()
}

// Payload returns the mutable region after the header.
func (p *Page) Payload() []byte {
	return p.buf[HeaderSize:]
}

// SetPayload overwrites the payload (must fit) and recomputes the checksum.
func (p *Page) SetPayload(data []byte) error {
	if len(data) > len(p.buf)-HeaderSize {
		return errors.New("pagestore: payload exceeds page size")
	}
	dst := p.buf[HeaderSize:]
	for i := range dst {
		dst[i] = 0
	}
	copy(dst, data)
	p.updateChecksum()
	return nil
}

// Bytes returns the full on-disk representation.
func (p *Page) Bytes() []byte { return p.buf }

func (p *Page) checksumRegion() ([]byte, []byte) {
	return p.buf[:offsetChecksum], p.buf[offsetChecksum+4:]
}

func (p *Page) updateChecksum() {
	head, tail := p.checksumRegion()
	h := crc32.NewIEEE()
	h.Write(head)
	h.Write(tail)
	binary.BigEndian.PutUint32(p.buf[offsetChecksum:], h.Sum32())
}

func (p *Page) verifyChecksum() bool {
	head, tail := p.checksumRegion()
	h := crc32.NewIEEE()
	h.Write(head)
	h.Write(tail)
	want := binary.BigEndian.Uint32(p.buf[offsetChecksum:])
	return h.Sum32() == want
}

// Clone deep-copies the page, used on the copy-on-write path so the
// original (possibly still referenced by a published manifest) is never
// mutated in place (invariant I6).
func (p *Page) Clone() *Page {
	return &Page{size: p.size, buf: append([]byte(nil), p.buf...)}
}
