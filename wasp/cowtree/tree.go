package cowtree

import (
	"sort"

	"github.com/nexuslite/nexuslite/wasp/pagestore"
)

// NoRoot is the sentinel root page ID for a tree that has not yet had
// its first key inserted. Page ID 0 is safe to use for this: pagestore
// reserves it at creation and Allocate never hands it out, so it can
// never collide with a real root.
const NoRoot = 0

// Entry is one visible (non-tombstone) key/value pair returned by Scan.
type Entry struct {
	Key   Key
	Value []byte
}

// Tree is a copy-on-write B+tree over pagestore pages. It carries no
// root pointer of its own: every operation takes the root page ID it
// should read from and, for mutations, returns the root page ID of the
// resulting (distinct) tree version, leaving every previously-published
// page untouched (invariant I6). Callers — the WASP engine — are
// responsible for publishing a returned root through the manifest and
// for supplying a monotonic epoch used to retire superseded pages.
type Tree struct {
	pager      *pagestore.Pager
	maxPayload int
}

// New wraps pager. The tree assumes ownership of no state beyond the
// pager: it is safe to construct one Tree per engine and reuse it
// across commits.
func New(pager *pagestore.Pager) *Tree {
	return &Tree{
		pager:      pager,
		maxPayload: int(pager.PageSize()) - pagestore.HeaderSize,
	}
}

// Get looks up key against the tree rooted at rootID. found is false for
// both an absent key and a tombstoned (deleted) one.
func (t *Tree) Get(rootID uint64, key Key) (value []byte, found bool, err error) {
	if rootID == NoRoot {
		return nil, false, nil
	}

	pageID := rootID
	for {
		page, err := t.pager.Read(pageID)
		if err != nil {
			return nil, false, err
		}

		switch page.Kind() {
		case pagestore.KindLeaf:
			leaf, err := decodeLeaf(page.Payload())
			if err != nil {
				return nil, false, err
			}
			idx, ok := searchLeaf(leaf, key)
			if !ok {
				return nil, false, nil
			}
			if leaf.entries[idx].Value == nil {
				return nil, false, nil
			}
			return leaf.entries[idx].Value, true, nil

		case pagestore.KindInternal:
			internal, err := decodeInternal(page.Payload())
			if err != nil {
				return nil, false, err
			}
			pageID = childFor(internal, key)

		default:
			return nil, false, errTruncated
		}
	}
}

// Insert writes key/value into the tree rooted at rootID (a nil value is
// a tombstone; see Delete) and returns the root of the resulting version.
func (t *Tree) Insert(rootID uint64, epoch uint64, key Key, value []byte) (uint64, error) {
	if rootID == NoRoot {
		leaf := leafNode{entries: []leafEntry{{Key: key, Value: value}}}
		page, err := t.writeLeaf(leaf)
		if err != nil {
			return 0, err
		}
		return page.ID(), nil
	}

	newRoot, splitKey, splitRight, didSplit, err := t.insertRec(rootID, epoch, key, value)
	if err != nil {
		return 0, err
	}
	if !didSplit {
		return newRoot, nil
	}

	root := internalNode{
		entries: []internalEntry{{Key: splitKey, Child: newRoot}},
		right:   splitRight,
	}
	page, err := t.writeInternal(root)
	if err != nil {
		return 0, err
	}
	return page.ID(), nil
}

// Delete tombstones key; the entry is physically reclaimed later by
// segment compaction (spec.md §4.6), not by the tree itself (no
// in-place merge/rebalance on delete).
func (t *Tree) Delete(rootID uint64, epoch uint64, key Key) (uint64, error) {
	return t.Insert(rootID, epoch, key, nil)
}

// Scan collects every visible entry with low <= Key < high, in order.
func (t *Tree) Scan(rootID uint64, low, high Key) ([]Entry, error) {
	if rootID == NoRoot {
		return nil, nil
	}
	var out []Entry
	if err := t.collectRange(rootID, low, high, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *Tree) collectRange(pageID uint64, low, high Key, out *[]Entry) error {
	page, err := t.pager.Read(pageID)
	if err != nil {
		return err
	}

	switch page.Kind() {
	case pagestore.KindLeaf:
		leaf, err := decodeLeaf(page.Payload())
		if err != nil {
			return err
		}
		for _, e := range leaf.entries {
			if e.Value == nil {
				continue
			}
			if Compare(e.Key, low) >= 0 && Compare(e.Key, high) < 0 {
				*out = append(*out, Entry{Key: e.Key, Value: e.Value})
			}
		}
		return nil

	case pagestore.KindInternal:
		internal, err := decodeInternal(page.Payload())
		if err != nil {
			return err
		}
		var prev Key
		for _, e := range internal.entries {
			if keyRangeOverlaps(prev, e.Key, low, high) {
				if err := t.collectRange(e.Child, low, high, out); err != nil {
					return err
				}
			}
			prev = e.Key
		}
		if keyRangeOverlaps(prev, nil, low, high) {
			if err := t.collectRange(internal.right, low, high, out); err != nil {
				return err
			}
		}
		return nil

	default:
		return errTruncated
	}
}

// insertRec descends to the leaf owning key, clones every page on the
// path, and propagates any split back up. didSplit reports that the
// caller must link both newPageID (left) and splitRight (right) under a
// separator key of splitKey.
func (t *Tree) insertRec(pageID uint64, epoch uint64, key Key, value []byte) (newPageID uint64, splitKey Key, splitRight uint64, didSplit bool, err error) {
	page, err := t.pager.Read(pageID)
	if err != nil {
		return 0, nil, 0, false, err
	}

	switch page.Kind() {
	case pagestore.KindLeaf:
		leaf, err := decodeLeaf(page.Payload())
		if err != nil {
			return 0, nil, 0, false, err
		}
		leaf = upsertLeaf(leaf, key, value)

		if fits(len(encodeLeaf(leaf)), t.maxPayload) {
			newPage, err := t.writeLeaf(leaf)
			if err != nil {
				return 0, nil, 0, false, err
			}
			t.pager.Retire(pageID, epoch)
			return newPage.ID(), nil, 0, false, nil
		}

		mid := len(leaf.entries) / 2
		left := leafNode{entries: leaf.entries[:mid]}
		right := leafNode{entries: leaf.entries[mid:]}
		leftPage, err := t.writeLeaf(left)
		if err != nil {
			return 0, nil, 0, false, err
		}
		rightPage, err := t.writeLeaf(right)
		if err != nil {
			return 0, nil, 0, false, err
		}
		t.pager.Retire(pageID, epoch)
		return leftPage.ID(), right.entries[0].Key, rightPage.ID(), true, nil

	case pagestore.KindInternal:
		internal, err := decodeInternal(page.Payload())
		if err != nil {
			return 0, nil, 0, false, err
		}

		idx := childIndex(internal, key)
		var childID uint64
		if idx < len(internal.entries) {
			childID = internal.entries[idx].Child
		} else {
			childID = internal.right
		}

		childNew, childSplitKey, childSplitRight, childDidSplit, err := t.insertRec(childID, epoch, key, value)
		if err != nil {
			return 0, nil, 0, false, err
		}

		entries := append([]internalEntry(nil), internal.entries...)
		right := internal.right

		if idx < len(entries) {
			if !childDidSplit {
				entries[idx].Child = childNew
			} else {
				entries[idx].Child = childSplitRight
				entries = append(entries, internalEntry{})
				copy(entries[idx+1:], entries[idx:])
				entries[idx] = internalEntry{Key: childSplitKey, Child: childNew}
			}
		} else {
			right = childNew
			if childDidSplit {
				entries = append(entries, internalEntry{Key: childSplitKey, Child: childNew})
				right = childSplitRight
			}
		}

		node := internalNode{entries: entries, right: right}

		if fits(len(encodeInternal(node)), t.maxPayload) {
			newPage, err := t.writeInternal(node)
			if err != nil {
				return 0, nil, 0, false, err
			}
			t.pager.Retire(pageID, epoch)
			return newPage.ID(), nil, 0, false, nil
		}

		mid := len(entries) / 2
		promoted := entries[mid]
		leftNode := internalNode{entries: entries[:mid], right: promoted.Child}
		rightNode := internalNode{entries: entries[mid+1:], right: right}
		leftPage, err := t.writeInternal(leftNode)
		if err != nil {
			return 0, nil, 0, false, err
		}
		rightPage, err := t.writeInternal(rightNode)
		if err != nil {
			return 0, nil, 0, false, err
		}
		t.pager.Retire(pageID, epoch)
		return leftPage.ID(), promoted.Key, rightPage.ID(), true, nil

	default:
		return 0, nil, 0, false, errTruncated
	}
}

func upsertLeaf(leaf leafNode, key Key, value []byte) leafNode {
	idx, ok := searchLeaf(leaf, key)
	if ok {
		entries := append([]leafEntry(nil), leaf.entries...)
		entries[idx].Value = value
		return leafNode{entries: entries}
	}
	entries := make([]leafEntry, 0, len(leaf.entries)+1)
	entries = append(entries, leaf.entries[:idx]...)
	entries = append(entries, leafEntry{Key: key, Value: value})
	entries = append(entries, leaf.entries[idx:]...)
	return leafNode{entries: entries}
}

func searchLeaf(leaf leafNode, key Key) (int, bool) {
	idx := sort.Search(len(leaf.entries), func(i int) bool {
		return Compare(leaf.entries[i].Key, key) >= 0
	})
	if idx < len(leaf.entries) && Compare(leaf.entries[idx].Key, key) == 0 {
		return idx, true
	}
	return idx, false
}

// childIndex returns the index into internal.entries whose Child should
// be descended into for key, or len(internal.entries) to mean "right".
func childIndex(internal internalNode, key Key) int {
	return sort.Search(len(internal.entries), func(i int) bool {
		return Compare(key, internal.entries[i].Key) < 0
	})
}

func childFor(internal internalNode, key Key) uint64 {
	idx := childIndex(internal, key)
	if idx < len(internal.entries) {
		return internal.entries[idx].Child
	}
	return internal.right
}

// keyRangeOverlaps reports whether the half-open child range [childLow,
// childHigh) intersects [low, high); a nil childLow means -inf, a nil
// childHigh means +inf.
func keyRangeOverlaps(childLow, childHigh, low, high Key) bool {
	if childHigh != nil && Compare(childHigh, low) <= 0 {
		return false
	}
	if childLow != nil && Compare(childLow, high) >= 0 {
		return false
	}
	return true
}

func (t *Tree) writeLeaf(n leafNode) (*pagestore.Page, error) {
	page, err := t.pager.Allocate(pagestore.KindLeaf)
	if err != nil {
		return nil, err
	}
	if err := page.SetPayload(encodeLeaf(n)); err != nil {
		return nil, err
	}
	if err := t.pager.Write(page); err != nil {
		return nil, err
	}
	return page, nil
}

func (t *Tree) writeInternal(n internalNode) (*pagestore.Page, error) {
	page, err := t.pager.Allocate(pagestore.KindInternal)
	if err != nil {
		return nil, err
	}
	if err := page.SetPayload(encodeInternal(n)); err != nil {
		return nil, err
	}
	if err := t.pager.Write(page); err != nil {
		return nil, err
	}
	return page, nil
}
