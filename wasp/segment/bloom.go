package segment

import (
	"encoding/binary"
	"hash/fnv"
	"math"
)

// bloomFilter is a probabilistic membership filter consulted before a
// segment's index is searched, so a miss on an absent key never touches
// disk (spec.md §4.5).
type bloomFilter struct {
	bits      []byte
	numBits   uint64
	numHashes uint32
}

// newBloomFilter sizes a filter for expectedKeys at the given false
// positive rate using the standard optimal-m/optimal-k formulas.
func newBloomFilter(expectedKeys int, falsePositiveRate float64) *bloomFilter {
	if expectedKeys < 1 {
		expectedKeys = 1
	}
	numBits := uint64(math.Ceil(-float64(expectedKeys) * math.Log(falsePositiveRate) / (math.Ln2 * math.Ln2)))
	if numBits == 0 {
		numBits = 1
	}
	numHashes := uint32(math.Ceil(float64(numBits) / float64(expectedKeys) * math.Ln2))
	if numHashes == 0 {
		numHashes = 1
	}
	numBytes := (numBits + 7) / 8
	return &bloomFilter{bits: make([]byte, numBytes), numBits: numBits, numHashes: numHashes}
}

func (bf *bloomFilter) hashes(key []byte) []uint64 {
	h1 := fnv.New64a()
	h1.Write(key)
	a := h1.Sum64()

	h2 := fnv.New64()
	h2.Write(key)
	b := h2.Sum64()

	out := make([]uint64, bf.numHashes)
	for i := uint32(0); i < bf.numHashes; i++ {
		out[i] = (a + uint64(i)*b) % bf.numBits
	}
	return out
}

func (bf *bloomFilter) add(key []byte) {
	for _, h := range bf.hashes(key) {
		bf.bits[h/8] |= 1 << (h % 8)
	}
}

func (bf *bloomFilter) mayContain(key []byte) bool {
	for _, h := range bf.hashes(key) {
		if bf.bits[h/8]&(1<<(h%8)) == 0 {
			return false
		}
	}
	return true
}

// encode serializes as numBits(8) | numHashes(4) | bits.
func (bf *bloomFilter) encode() []byte {
	buf := make([]byte, 12+len(bf.bits))
	binary.BigEndian.PutUint64(buf[0:], bf.numBits)
	binary.BigEndian.PutUint32(buf[8:], bf.numHashes)
	copy(buf[12:], bf.bits)
	return buf
}

func decodeBloomFilter(data []byte) *bloomFilter {
	if len(data) < 12 {
		return &bloomFilter{bits: []byte{}, numBits: 1, numHashes: 1}
	}
	numBits := binary.BigEndian.Uint64(data[0:])
	numHashes := binary.BigEndian.Uint32(data[8:])
	bits := append([]byte(nil), data[12:]...)
	return &bloomFilter{bits: bits, numBits: numBits, numHashes: numHashes}
}
