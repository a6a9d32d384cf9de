// Package walog implements the tiny write-ahead log of spec.md §4.2: a
// length-prefixed, checksum-guarded append log recording commit order
// ahead of the manifest pointer flip (invariant I5).
package walog

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// Record is one WAL entry: {txn_id, new_root, touched_pages[], epoch},
// length-prefixed and CRC32-guarded per spec.md §4.2.
type Record struct {
	TxnID        uint64
	NewRoot      uint64
	Epoch        uint64
	TouchedPages []uint64
}

// ErrCorruptRecord signals a checksum mismatch or malformed record; the
// caller (Replay) treats this as the torn tail of the log.
var ErrCorruptRecord = errors.New("walog: corrupt record")

// encode lays out: len(u32) | txn_id(u64) | new_root(u64) | epoch(u64) |
// n(u32) | page_ids[n](u64) | crc32(u32). len covers everything after
// itself, crc32 included, so Replay can frame records without first
// decoding them.
func (r Record) encode() []byte {
	body := 8 + 8 + 8 + 4 + 8*len(r.TouchedPages)
	total := body + 4 // + crc32
	buf := make([]byte, 4+total)

	binary.BigEndian.PutUint32(buf[0:4], uint32(total))
	off := 4
	binary.BigEndian.PutUint64(buf[off:], r.TxnID)
	off += 8
	binary.BigEndian.PutUint64(buf[off:], r.NewRoot)
	off += 8
	binary.BigEndian.PutUint64(buf[off:], r.Epoch)
	off += 8
	binary.BigEndian.PutUint32(buf[off:], uint32(len(r.TouchedPages)))
	off += 4
	for _, id := range r.TouchedPages {
		binary.BigEndian.PutUint64(buf[off:], id)
		off += 8
	}

	crc := crc32.ChecksumIEEE(buf[4 : 4+body-4])
	binary.BigEndian.PutUint32(buf[4+body-4:], crc)
	return buf
}

// decodeBody parses everything after the length prefix (body bytes,
// including the trailing crc32) into a Record, verifying the checksum.
func decodeBody(body []byte) (Record, error) {
	if len(body) < 8+8+8+4+4 {
		return Record{}, ErrCorruptRecord
	}
	n := len(body)
	payload := body[:n-4]
	wantCRC := binary.BigEndian.Uint32(body[n-4:])
	if crc32.ChecksumIEEE(payload) != wantCRC {
		return Record{}, ErrCorruptRecord
	}

	var r Record
	off := 0
	r.TxnID = binary.BigEndian.Uint64(payload[off:])
	off += 8
	r.NewRoot = binary.BigEndian.Uint64(payload[off:])
	off += 8
	r.Epoch = binary.BigEndian.Uint64(payload[off:])
	off += 8
	count := binary.BigEndian.Uint32(payload[off:])
	off += 4
	if off+8*int(count) != len(payload) {
		return Record{}, ErrCorruptRecord
	}
	r.TouchedPages = make([]uint64, count)
	for i := range r.TouchedPages {
		r.TouchedPages[i] = binary.BigEndian.Uint64(payload[off:])
		off += 8
	}
	return r, nil
}
