package segment

import "encoding/binary"

// Entry is one raw record read back from a segment by Iterator, deleted
// marking a tombstone written by the CoW tree before it was sealed.
type Entry struct {
	Key     []byte
	Value   []byte
	Deleted bool
}

// Iterator walks every entry in a segment in on-disk (ascending key)
// order, used by the compactor's k-way merge.
type Iterator struct {
	seg      *Segment
	blockIdx int
	entries  []Entry
	entryIdx int
}

// NewIterator returns an iterator positioned before the first entry.
func NewIterator(seg *Segment) (*Iterator, error) {
	it := &Iterator{seg: seg, blockIdx: -1}
	if err := it.advanceBlock(); err != nil {
		return nil, err
	}
	return it, nil
}

func (it *Iterator) advanceBlock() error {
	it.blockIdx++
	it.entryIdx = 0
	it.entries = nil
	if it.blockIdx >= len(it.seg.index) {
		return nil
	}
	block, err := it.seg.readBlock(it.seg.index[it.blockIdx].BlockOffset)
	if err != nil {
		return err
	}
	it.entries = parseBlockEntries(block)
	return nil
}

// Next returns the next entry, or ok=false once the segment is exhausted.
func (it *Iterator) Next() (Entry, bool, error) {
	for it.entryIdx >= len(it.entries) {
		if it.blockIdx+1 >= len(it.seg.index) {
			return Entry{}, false, nil
		}
		if err := it.advanceBlock(); err != nil {
			return Entry{}, false, err
		}
	}
	e := it.entries[it.entryIdx]
	it.entryIdx++
	return e, true, nil
}

func parseBlockEntries(block []byte) []Entry {
	if len(block) < 4 {
		return nil
	}
	count := binary.BigEndian.Uint32(block[0:])
	off := 4
	entries := make([]Entry, 0, count)
	for i := uint32(0); i < count; i++ {
		if off+9 > len(block) {
			break
		}
		keyLen := binary.BigEndian.Uint32(block[off:])
		off += 4
		valLen := binary.BigEndian.Uint32(block[off:])
		off += 4
		deleted := block[off] == 1
		off++
		if off+int(keyLen)+int(valLen) > len(block) {
			break
		}
		key := append([]byte(nil), block[off:off+int(keyLen)]...)
		off += int(keyLen)
		value := append([]byte(nil), block[off:off+int(valLen)]...)
		off += int(valLen)
		entries = append(entries, Entry{Key: key, Value: value, Deleted: deleted})
	}
	return entries
}
