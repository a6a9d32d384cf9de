package document

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Encode serializes a Document (metadata plus payload) into the byte
// string stored as a tree value; the WASP layer never inspects a
// document's schema (spec.md §9), only this envelope.
func (d *Document) Encode() []byte {
	buf := make([]byte, 16+4+4+8+8+8+4+len(d.Payload))
	off := 0
	copy(buf[off:], d.ID[:])
	off += 16
	binary.BigEndian.PutUint32(buf[off:], uint32(d.Kind))
	off += 4
	binary.BigEndian.PutUint32(buf[off:], uint32(d.State))
	off += 4
	binary.BigEndian.PutUint64(buf[off:], uint64(d.CreatedAt.UnixNano()))
	off += 8
	binary.BigEndian.PutUint64(buf[off:], uint64(d.UpdatedAt.UnixNano()))
	off += 8
	binary.BigEndian.PutUint64(buf[off:], uint64(d.TTL))
	off += 8
	binary.BigEndian.PutUint32(buf[off:], uint32(len(d.Payload)))
	off += 4
	copy(buf[off:], d.Payload)
	return buf
}

// Decode parses the envelope Encode produces.
func Decode(data []byte) (*Document, error) {
	const headerLen = 16 + 4 + 4 + 8 + 8 + 8 + 4
	if len(data) < headerLen {
		return nil, fmt.Errorf("document: truncated envelope")
	}

	var d Document
	off := 0
	copy(d.ID[:], data[off:off+16])
	off += 16
	d.Kind = Kind(binary.BigEndian.Uint32(data[off:]))
	off += 4
	d.State = State(binary.BigEndian.Uint32(data[off:]))
	off += 4
	d.CreatedAt = time.Unix(0, int64(binary.BigEndian.Uint64(data[off:]))).UTC()
	off += 8
	d.UpdatedAt = time.Unix(0, int64(binary.BigEndian.Uint64(data[off:]))).UTC()
	off += 8
	d.TTL = time.Duration(binary.BigEndian.Uint64(data[off:]))
	off += 8
	payloadLen := binary.BigEndian.Uint32(data[off:])
	off += 4
	if uint32(len(data)-off) < payloadLen {
		return nil, fmt.Errorf("document: truncated payload")
	}
	d.Payload = append([]byte(nil), data[off:off+int(payloadLen)]...)
	return &d, nil
}
