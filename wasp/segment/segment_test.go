package segment

import (
	"fmt"
	"os"
	"sort"
	"testing"
)

func testSegmentPath(t *testing.T) (string, func()) {
	dir := fmt.Sprintf("/tmp/segment-test-%d-%s", os.Getpid(), t.Name())
	os.RemoveAll(dir)
	os.MkdirAll(dir, 0755)
	path := dir + "/seg-00000001.sst"
	return path, func() { os.RemoveAll(dir) }
}

func buildTestSegment(t *testing.T, path string, n int) {
	b, err := NewBuilder(path, n)
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}
	keys := make([]string, n)
	for i := 0; i < n; i++ {
		keys[i] = fmt.Sprintf("key-%05d", i)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := b.Add([]byte(k), []byte("value-"+k), false); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}
	if err := b.Finish(); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
}

func TestBuildAndGet(t *testing.T) {
	path, cleanup := testSegmentPath(t)
	defer cleanup()

	buildTestSegment(t, path, 2000)

	seg, err := Open(path, 0, 1)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer seg.Close()

	value, found, err := seg.Get([]byte("key-01000"))
	if err != nil || !found {
		t.Fatalf("Get failed: found=%v err=%v", found, err)
	}
	if string(value) != "value-key-01000" {
		t.Fatalf("unexpected value: %s", value)
	}

	if _, found, err := seg.Get([]byte("not-a-key")); err != nil || found {
		t.Fatalf("expected absent key to miss, found=%v err=%v", found, err)
	}
}

func TestBloomNeverFalseNegative(t *testing.T) {
	path, cleanup := testSegmentPath(t)
	defer cleanup()

	buildTestSegment(t, path, 500)

	seg, err := Open(path, 0, 1)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer seg.Close()

	for i := 0; i < 500; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		if !seg.bloom.mayContain(key) {
			t.Fatalf("bloom false negative for present key %s", key)
		}
	}
}

func TestIteratorYieldsAllEntriesInOrder(t *testing.T) {
	path, cleanup := testSegmentPath(t)
	defer cleanup()

	buildTestSegment(t, path, 1000)

	seg, err := Open(path, 0, 1)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer seg.Close()

	it, err := NewIterator(seg)
	if err != nil {
		t.Fatalf("NewIterator failed: %v", err)
	}

	count := 0
	var prev []byte
	for {
		entry, ok, err := it.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if !ok {
			break
		}
		if prev != nil && compare(prev, entry.Key) >= 0 {
			t.Fatalf("iterator not strictly ordered at entry %d", count)
		}
		prev = entry.Key
		count++
	}
	if count != 1000 {
		t.Fatalf("expected 1000 entries, got %d", count)
	}
}

func TestOverlapsReportsRangeIntersection(t *testing.T) {
	path, cleanup := testSegmentPath(t)
	defer cleanup()

	buildTestSegment(t, path, 100)

	seg, err := Open(path, 0, 1)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer seg.Close()

	if !seg.Overlaps([]byte("key-00050"), []byte("key-00060")) {
		t.Fatal("expected overlap with a range inside the segment's span")
	}
	if seg.Overlaps([]byte("zzz-00000"), []byte("zzz-99999")) {
		t.Fatal("expected no overlap with a range entirely past the segment's span")
	}
}
