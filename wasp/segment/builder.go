package segment

import (
	"encoding/binary"
	"fmt"
	"os"
)

// Builder constructs a new segment from entries that the caller MUST
// present in ascending key order (it is used to flush a retired tree
// range and to merge segments during compaction).
type Builder struct {
	file   *os.File
	path   string
	block  []byte // accumulated entries for the block being filled, header included
	offset uint64
	index  []IndexEntry
	bloom  *bloomFilter
	minKey []byte
	maxKey []byte
	count  int
}

// NewBuilder creates path and prepares a bloom filter sized for
// expectedKeys entries at a 1% false positive rate.
func NewBuilder(path string, expectedKeys int) (*Builder, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("segment: create %s: %w", path, err)
	}
	return &Builder{
		file:  file,
		path:  path,
		block: make([]byte, 4),
		bloom: newBloomFilter(expectedKeys, 0.01),
	}, nil
}

// Add appends one entry; value is ignored (and may be nil) when deleted
// is true, recording a tombstone that Get treats as absent.
func (b *Builder) Add(key, value []byte, deleted bool) error {
	if b.count == 0 {
		b.minKey = append([]byte(nil), key...)
	}
	b.maxKey = append([]byte(nil), key...)
	b.count++
	b.bloom.add(key)

	entrySize := 4 + 4 + 1 + len(key) + len(value)
	entry := make([]byte, entrySize)
	off := 0
	binary.BigEndian.PutUint32(entry[off:], uint32(len(key)))
	off += 4
	binary.BigEndian.PutUint32(entry[off:], uint32(len(value)))
	off += 4
	if deleted {
		entry[off] = 1
	}
	off++
	copy(entry[off:], key)
	off += len(key)
	copy(entry[off:], value)

	if len(b.block)+entrySize > blockSize {
		if err := b.flushBlock(); err != nil {
			return err
		}
	}
	b.block = append(b.block, entry...)
	return nil
}

func (b *Builder) flushBlock() error {
	if len(b.block) <= 4 {
		return nil
	}

	firstKey, err := firstKeyInBlock(b.block)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint32(b.block[0:], countInBlock(b.block))

	if _, err := b.file.Write(b.block); err != nil {
		return fmt.Errorf("segment: write block: %w", err)
	}
	b.index = append(b.index, IndexEntry{Key: firstKey, BlockOffset: b.offset})
	b.offset += uint64(len(b.block))

	if len(b.block) < blockSize {
		padding := make([]byte, blockSize-len(b.block))
		if _, err := b.file.Write(padding); err != nil {
			return fmt.Errorf("segment: write padding: %w", err)
		}
		b.offset += uint64(len(padding))
	}

	b.block = make([]byte, 4)
	return nil
}

func firstKeyInBlock(block []byte) ([]byte, error) {
	if len(block) < 13 {
		return nil, fmt.Errorf("segment: block too small")
	}
	off := 4
	keyLen := binary.BigEndian.Uint32(block[off:])
	off += 4 + 4 + 1
	if off+int(keyLen) > len(block) {
		return nil, fmt.Errorf("segment: block truncated")
	}
	return append([]byte(nil), block[off:off+int(keyLen)]...), nil
}

func countInBlock(block []byte) uint32 {
	count := uint32(0)
	off := 4
	for off < len(block) {
		if off+9 > len(block) {
			break
		}
		keyLen := binary.BigEndian.Uint32(block[off:])
		off += 4
		valLen := binary.BigEndian.Uint32(block[off:])
		off += 4
		off++
		if off+int(keyLen)+int(valLen) > len(block) {
			break
		}
		off += int(keyLen) + int(valLen)
		count++
	}
	return count
}

// Finish flushes the final block, writes the index/metadata/bloom
// sections and footer, fsyncs and closes the file.
func (b *Builder) Finish() error {
	if len(b.block) > 4 {
		if err := b.flushBlock(); err != nil {
			return err
		}
	}

	indexOffset := b.offset
	indexData := b.encodeIndex()
	if _, err := b.file.Write(indexData); err != nil {
		return fmt.Errorf("segment: write index: %w", err)
	}

	metadataOffset := indexOffset + uint64(len(indexData))
	metadataData := b.encodeMetadata()
	if _, err := b.file.Write(metadataData); err != nil {
		return fmt.Errorf("segment: write metadata: %w", err)
	}

	bloomOffset := metadataOffset + uint64(len(metadataData))
	bloomData := b.bloom.encode()
	if _, err := b.file.Write(bloomData); err != nil {
		return fmt.Errorf("segment: write bloom: %w", err)
	}

	footer := make([]byte, footerSize)
	binary.BigEndian.PutUint64(footer[0:], indexOffset)
	binary.BigEndian.PutUint64(footer[8:], bloomOffset)
	binary.BigEndian.PutUint64(footer[16:], metadataOffset)
	binary.BigEndian.PutUint32(footer[24:], magic)
	if _, err := b.file.Write(footer); err != nil {
		return fmt.Errorf("segment: write footer: %w", err)
	}

	if err := b.file.Sync(); err != nil {
		return fmt.Errorf("segment: sync: %w", err)
	}
	return b.file.Close()
}

func (b *Builder) encodeMetadata() []byte {
	buf := make([]byte, 8+len(b.minKey)+len(b.maxKey))
	binary.BigEndian.PutUint32(buf[0:], uint32(len(b.minKey)))
	binary.BigEndian.PutUint32(buf[4:], uint32(len(b.maxKey)))
	copy(buf[8:], b.minKey)
	copy(buf[8+len(b.minKey):], b.maxKey)
	return buf
}

func (b *Builder) encodeIndex() []byte {
	size := 4
	for _, e := range b.index {
		size += 4 + 8 + len(e.Key)
	}
	buf := make([]byte, size)
	off := 4
	binary.BigEndian.PutUint32(buf[0:], uint32(len(b.index)))
	for _, e := range b.index {
		binary.BigEndian.PutUint32(buf[off:], uint32(len(e.Key)))
		off += 4
		binary.BigEndian.PutUint64(buf[off:], e.BlockOffset)
		off += 8
		copy(buf[off:], e.Key)
		off += len(e.Key)
	}
	return buf
}

// Abort discards an in-progress build, closing and removing the file.
func (b *Builder) Abort() error {
	b.file.Close()
	return os.Remove(b.path)
}
