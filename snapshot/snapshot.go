// Package snapshot implements the `{stem}.db` file of spec.md §6: a
// small recovery hint written at checkpoint time alongside the WASP
// container, letting Open reconstruct the collection registry and
// ephemeral document set without a full WAL replay when the file is
// present and at a version this build understands.
package snapshot

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/natefinch/atomic"

	"github.com/nexuslite/nexuslite/document"
	"github.com/nexuslite/nexuslite/internal/retry"
)

const (
	magic          = "NXL1"
	// CurrentVersion is the snapshot format this build writes; per
	// spec.md's compatibility policy, a file with version < CurrentVersion
	// is still read and upgraded on next write, version == is read as-is,
	// and version > CurrentVersion is refused as Unsupported.
	CurrentVersion = 1
)

// ErrInvalidMagic is returned when a file lacks the "NXL1" header.
var ErrInvalidMagic = fmt.Errorf("snapshot: invalid magic")

// ErrUnsupportedVersion is returned for a snapshot newer than this build
// understands (spec.md I9 / §6 compatibility policy).
type ErrUnsupportedVersion struct {
	Found uint32
}

func (e *ErrUnsupportedVersion) Error() string {
	return fmt.Sprintf("snapshot: unsupported version %d (current %d)", e.Found, CurrentVersion)
}

// CollectionDescriptor names one registered collection. It carries only
// the name; no secondary-index metadata is persisted.
type CollectionDescriptor struct {
	Name string
}

// DbSnapshot is the full recovery hint: collections, every ephemeral
// document's metadata, and the WASP epoch current as of the checkpoint
// that produced it.
type DbSnapshot struct {
	Collections   []CollectionDescriptor
	Ephemeral     []document.Meta
	SnapshotEpoch uint64
}

// Write serializes snap to path atomically: the whole file is built in
// memory, then handed to atomic.WriteFile, which writes a temp file in
// the same directory, fsyncs it, and renames it over path.
func Write(path string, snap DbSnapshot) error {
	header := make([]byte, 8)
	copy(header[0:4], magic)
	binary.LittleEndian.PutUint32(header[4:8], CurrentVersion)

	buf := append(header, encodeSnapshot(snap)...)

	// The rename atomic.WriteFile performs internally can hit transient
	// contention on filesystems that refuse to replace an open file
	// (notably Windows); retry the whole write rather than failing a
	// checkpoint outright (spec.md §7).
	err := retry.Default().Do(context.Background(), isRetryableWriteErr, func() error {
		return atomic.WriteFile(path, bytes.NewReader(buf))
	})
	if err != nil {
		return fmt.Errorf("snapshot: write %s: %w", path, err)
	}
	return nil
}

func isRetryableWriteErr(err error) bool {
	return errors.Is(err, os.ErrPermission) || errors.Is(err, os.ErrExist)
}

// Read loads and validates path. A missing file is reported via
// os.IsNotExist on the returned error, letting the caller treat it as
// "no snapshot yet".
func Read(path string) (DbSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DbSnapshot{}, err
	}
	if len(data) < 8 {
		return DbSnapshot{}, ErrInvalidMagic
	}
	if string(data[0:4]) != magic {
		return DbSnapshot{}, ErrInvalidMagic
	}
	version := binary.LittleEndian.Uint32(data[4:8])
	if version > CurrentVersion {
		return DbSnapshot{}, &ErrUnsupportedVersion{Found: version}
	}
	return decodeSnapshot(data[8:])
}

func encodeSnapshot(s DbSnapshot) []byte {
	var buf []byte
	buf = appendUint32(buf, uint32(len(s.Collections)))
	for _, c := range s.Collections {
		buf = appendString(buf, c.Name)
	}

	buf = appendUint32(buf, uint32(len(s.Ephemeral)))
	for _, m := range s.Ephemeral {
		buf = appendMeta(buf, m)
	}

	buf = appendUint64(buf, s.SnapshotEpoch)
	return buf
}

func decodeSnapshot(data []byte) (DbSnapshot, error) {
	var s DbSnapshot

	collCount, data, err := readUint32(data)
	if err != nil {
		return DbSnapshot{}, err
	}
	s.Collections = make([]CollectionDescriptor, 0, collCount)
	for i := uint32(0); i < collCount; i++ {
		var name string
		name, data, err = readString(data)
		if err != nil {
			return DbSnapshot{}, err
		}
		s.Collections = append(s.Collections, CollectionDescriptor{Name: name})
	}

	ephCount, data, err := readUint32(data)
	if err != nil {
		return DbSnapshot{}, err
	}
	s.Ephemeral = make([]document.Meta, 0, ephCount)
	for i := uint32(0); i < ephCount; i++ {
		var m document.Meta
		m, data, err = readMeta(data)
		if err != nil {
			return DbSnapshot{}, err
		}
		s.Ephemeral = append(s.Ephemeral, m)
	}

	s.SnapshotEpoch, _, err = readUint64(data)
	if err != nil {
		return DbSnapshot{}, err
	}
	return s, nil
}

func appendUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func appendString(buf []byte, s string) []byte {
	buf = appendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

func appendMeta(buf []byte, m document.Meta) []byte {
	buf = append(buf, m.ID[:]...)
	buf = appendUint32(buf, uint32(m.Kind))
	buf = appendUint32(buf, uint32(m.State))
	buf = appendUint64(buf, uint64(m.CreatedAt.UnixNano()))
	buf = appendUint64(buf, uint64(m.UpdatedAt.UnixNano()))
	buf = appendUint64(buf, uint64(m.TTL))
	return buf
}

func readUint32(data []byte) (uint32, []byte, error) {
	if len(data) < 4 {
		return 0, nil, fmt.Errorf("snapshot: truncated payload")
	}
	return binary.LittleEndian.Uint32(data), data[4:], nil
}

func readUint64(data []byte) (uint64, []byte, error) {
	if len(data) < 8 {
		return 0, nil, fmt.Errorf("snapshot: truncated payload")
	}
	return binary.LittleEndian.Uint64(data), data[8:], nil
}

func readString(data []byte) (string, []byte, error) {
	n, data, err := readUint32(data)
	if err != nil {
		return "", nil, err
	}
	if uint32(len(data)) < n {
		return "", nil, fmt.Errorf("snapshot: truncated string")
	}
	return string(data[:n]), data[n:], nil
}

func readMeta(data []byte) (document.Meta, []byte, error) {
	if len(data) < 16 {
		return document.Meta{}, nil, fmt.Errorf("snapshot: truncated doc meta")
	}
	var m document.Meta
	copy(m.ID[:], data[:16])
	data = data[16:]

	kind, data, err := readUint32(data)
	if err != nil {
		return document.Meta{}, nil, err
	}
	m.Kind = document.Kind(kind)

	state, data, err := readUint32(data)
	if err != nil {
		return document.Meta{}, nil, err
	}
	m.State = document.State(state)

	created, data, err := readUint64(data)
	if err != nil {
		return document.Meta{}, nil, err
	}
	m.CreatedAt = time.Unix(0, int64(created)).UTC()

	updated, data, err := readUint64(data)
	if err != nil {
		return document.Meta{}, nil, err
	}
	m.UpdatedAt = time.Unix(0, int64(updated)).UTC()

	ttl, data, err := readUint64(data)
	if err != nil {
		return document.Meta{}, nil, err
	}
	m.TTL = time.Duration(ttl)

	return m, data, nil
}
