// Package cowtree implements the copy-on-write page tree of spec.md
// §4.4: a key-ordered tree over pagestore pages, keyed by
// (collection, doc_id), where every mutation clones the path from the
// affected leaf to the root rather than mutating published pages
// (invariant I6).
package cowtree

import (
	"bytes"
	"encoding/binary"

	"github.com/nexuslite/nexuslite/document"
)

// Key is the tree's sort key: a collection name followed by a document
// ID, encoded so that byte-lexicographic order groups all of one
// collection's documents together in ID order.
type Key []byte

// EncodeKey builds the composite (collection, doc_id) key.
func EncodeKey(collection string, id document.ID) Key {
	buf := make([]byte, 2+len(collection)+16)
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(collection)))
	copy(buf[2:2+len(collection)], collection)
	copy(buf[2+len(collection):], id[:])
	return buf
}

// CollectionPrefix returns the key range prefix covering every document
// in collection, for use as a Scan lower bound / upper bound pair.
func CollectionPrefix(collection string) (low, high Key) {
	low = EncodeKey(collection, document.ID{})
	var maxID document.ID
	for i := range maxID {
		maxID[i] = 0xff
	}
	high = EncodeKey(collection, maxID)
	return low, high
}

// Compare orders keys byte-lexicographically.
func Compare(a, b Key) int {
	return bytes.Compare(a, b)
}
