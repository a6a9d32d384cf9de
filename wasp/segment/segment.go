// Package segment implements the immutable sorted segment files of
// spec.md §4.5: write-once, block-structured, bloom-filter-guarded files
// that the compactor merges in the background. A segment never changes
// once its Builder.Finish has synced it; the tree only ever points to
// live pages, and segments hold everything the tree has retired into
// cold storage.
package segment

import (
	"encoding/binary"
	"fmt"
	"os"
	"sort"
)

const (
	blockSize  = 4096
	magic      = uint32(0x4e585347) // "NXSG"
	footerSize = 28                 // indexOffset(8) bloomOffset(8) metadataOffset(8) magic(4)
)

// IndexEntry is a block's fence key: the first key stored in that block.
type IndexEntry struct {
	Key         []byte
	BlockOffset uint64
}

// Segment is an opened, read-only sorted run on disk.
type Segment struct {
	file    *os.File
	path    string
	level   int
	fileNum uint64

	minKey, maxKey []byte
	index          []IndexEntry
	bloom          *bloomFilter
}

// Open loads an existing segment file's footer, index and bloom filter
// into memory; data blocks are read on demand.
func Open(path string, level int, fileNum uint64) (*Segment, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("segment: open %s: %w", path, err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	size := stat.Size()
	if size < footerSize {
		file.Close()
		return nil, fmt.Errorf("segment: %s too small", path)
	}

	footer := make([]byte, footerSize)
	if _, err := file.ReadAt(footer, size-footerSize); err != nil {
		file.Close()
		return nil, fmt.Errorf("segment: read footer: %w", err)
	}
	if binary.BigEndian.Uint32(footer[24:]) != magic {
		file.Close()
		return nil, fmt.Errorf("segment: %s: bad magic", path)
	}
	indexOffset := binary.BigEndian.Uint64(footer[0:])
	bloomOffset := binary.BigEndian.Uint64(footer[8:])
	metadataOffset := binary.BigEndian.Uint64(footer[16:])

	metaBuf := make([]byte, bloomOffset-metadataOffset)
	if _, err := file.ReadAt(metaBuf, int64(metadataOffset)); err != nil {
		file.Close()
		return nil, fmt.Errorf("segment: read metadata: %w", err)
	}
	minKey, maxKey, err := decodeMetadata(metaBuf)
	if err != nil {
		file.Close()
		return nil, err
	}

	idxBuf := make([]byte, metadataOffset-indexOffset)
	if _, err := file.ReadAt(idxBuf, int64(indexOffset)); err != nil {
		file.Close()
		return nil, fmt.Errorf("segment: read index: %w", err)
	}
	index, err := decodeIndex(idxBuf)
	if err != nil {
		file.Close()
		return nil, err
	}

	bloomBuf := make([]byte, size-int64(bloomOffset)-footerSize)
	if _, err := file.ReadAt(bloomBuf, int64(bloomOffset)); err != nil {
		file.Close()
		return nil, fmt.Errorf("segment: read bloom: %w", err)
	}

	return &Segment{
		file:    file,
		path:    path,
		level:   level,
		fileNum: fileNum,
		minKey:  minKey,
		maxKey:  maxKey,
		index:   index,
		bloom:   decodeBloomFilter(bloomBuf),
	}, nil
}

func decodeMetadata(data []byte) (minKey, maxKey []byte, err error) {
	if len(data) < 8 {
		return nil, nil, fmt.Errorf("segment: metadata too small")
	}
	minLen := binary.BigEndian.Uint32(data[0:])
	maxLen := binary.BigEndian.Uint32(data[4:])
	if uint32(len(data)) < 8+minLen+maxLen {
		return nil, nil, fmt.Errorf("segment: metadata truncated")
	}
	minKey = append([]byte(nil), data[8:8+minLen]...)
	maxKey = append([]byte(nil), data[8+minLen:8+minLen+maxLen]...)
	return minKey, maxKey, nil
}

func decodeIndex(data []byte) ([]IndexEntry, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("segment: index too small")
	}
	count := binary.BigEndian.Uint32(data[0:])
	entries := make([]IndexEntry, 0, count)
	off := 4
	for i := uint32(0); i < count; i++ {
		if off+12 > len(data) {
			return nil, fmt.Errorf("segment: index truncated")
		}
		keyLen := binary.BigEndian.Uint32(data[off:])
		off += 4
		blockOffset := binary.BigEndian.Uint64(data[off:])
		off += 8
		if off+int(keyLen) > len(data) {
			return nil, fmt.Errorf("segment: index truncated")
		}
		key := append([]byte(nil), data[off:off+int(keyLen)]...)
		off += int(keyLen)
		entries = append(entries, IndexEntry{Key: key, BlockOffset: blockOffset})
	}
	return entries, nil
}

// Get searches the segment for key, consulting the bloom filter before
// touching disk.
func (s *Segment) Get(key []byte) ([]byte, bool, error) {
	if !s.bloom.mayContain(key) {
		return nil, false, nil
	}

	blockIdx := sort.Search(len(s.index), func(i int) bool {
		return compare(s.index[i].Key, key) > 0
	})
	if blockIdx == 0 {
		return nil, false, nil
	}
	blockIdx--

	block, err := s.readBlock(s.index[blockIdx].BlockOffset)
	if err != nil {
		return nil, false, err
	}
	return searchBlock(block, key)
}

func (s *Segment) readBlock(offset uint64) ([]byte, error) {
	buf := make([]byte, blockSize)
	n, err := s.file.ReadAt(buf, int64(offset))
	if err != nil && n == 0 {
		return nil, err
	}
	return buf[:n], nil
}

func searchBlock(block []byte, key []byte) ([]byte, bool, error) {
	if len(block) < 4 {
		return nil, false, nil
	}
	count := binary.BigEndian.Uint32(block[0:])
	off := 4
	for i := uint32(0); i < count; i++ {
		if off+9 > len(block) {
			return nil, false, fmt.Errorf("segment: block truncated")
		}
		keyLen := binary.BigEndian.Uint32(block[off:])
		off += 4
		valLen := binary.BigEndian.Uint32(block[off:])
		off += 4
		deleted := block[off] == 1
		off++
		if off+int(keyLen)+int(valLen) > len(block) {
			return nil, false, fmt.Errorf("segment: block truncated")
		}
		entryKey := block[off : off+int(keyLen)]
		off += int(keyLen)

		cmp := compare(entryKey, key)
		if cmp == 0 {
			if deleted {
				return nil, false, nil
			}
			value := append([]byte(nil), block[off:off+int(valLen)]...)
			return value, true, nil
		}
		off += int(valLen)
		if cmp > 0 {
			return nil, false, nil
		}
	}
	return nil, false, nil
}

func compare(a, b []byte) int {
	switch {
	case string(a) < string(b):
		return -1
	case string(a) > string(b):
		return 1
	default:
		return 0
	}
}

// Overlaps reports whether [low, high) could intersect this segment's
// key range; an empty bound means unbounded on that side.
func (s *Segment) Overlaps(low, high []byte) bool {
	if len(high) != 0 && compare(s.minKey, high) >= 0 {
		return false
	}
	if len(low) != 0 && compare(s.maxKey, low) < 0 {
		return false
	}
	return true
}

func (s *Segment) MinKey() []byte    { return s.minKey }
func (s *Segment) MaxKey() []byte    { return s.maxKey }
func (s *Segment) Level() int        { return s.level }
func (s *Segment) FileNum() uint64   { return s.fileNum }
func (s *Segment) Path() string      { return s.path }

// Close closes the underlying file without deleting it.
func (s *Segment) Close() error {
	return s.file.Close()
}

// Remove closes and deletes the segment file (used once the compactor
// has retired it past the safe epoch, spec.md §4.6).
func (s *Segment) Remove() error {
	s.Close()
	return os.Remove(s.path)
}
