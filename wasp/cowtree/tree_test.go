package cowtree

import (
	"fmt"
	"os"
	"testing"

	"github.com/nexuslite/nexuslite/wasp/pagestore"
)

func setupTestTree(t *testing.T) (*Tree, func()) {
	dir := fmt.Sprintf("/tmp/cowtree-test-%d-%s", os.Getpid(), t.Name())
	os.RemoveAll(dir)
	os.MkdirAll(dir, 0755)
	path := dir + "/data.page"

	pager, err := pagestore.Open(path, pagestore.MinPageSize, false)
	if err != nil {
		t.Fatalf("pagestore.Open failed: %v", err)
	}

	cleanup := func() {
		pager.Close()
		os.RemoveAll(dir)
	}
	return New(pager), cleanup
}

func TestInsertGetOnEmptyTree(t *testing.T) {
	tree, cleanup := setupTestTree(t)
	defer cleanup()

	root, err := tree.Insert(NoRoot, 1, Key("a"), []byte("1"))
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	value, found, err := tree.Get(root, Key("a"))
	if err != nil || !found {
		t.Fatalf("Get failed: found=%v err=%v", found, err)
	}
	if string(value) != "1" {
		t.Fatalf("unexpected value: %s", value)
	}
}

func TestGetMissingKeyOnEmptyTree(t *testing.T) {
	tree, cleanup := setupTestTree(t)
	defer cleanup()

	_, found, err := tree.Get(NoRoot, Key("missing"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if found {
		t.Fatal("expected key not found on an empty tree")
	}
}

func TestDeleteTombstonesKey(t *testing.T) {
	tree, cleanup := setupTestTree(t)
	defer cleanup()

	root, err := tree.Insert(NoRoot, 1, Key("a"), []byte("1"))
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	root, err = tree.Delete(root, 2, Key("a"))
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	_, found, err := tree.Get(root, Key("a"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if found {
		t.Fatal("expected deleted key to be absent")
	}
}

func TestInsertCausesSplitAndScanOrders(t *testing.T) {
	tree, cleanup := setupTestTree(t)
	defer cleanup()

	var root uint64 = NoRoot
	n := 500
	for i := 0; i < n; i++ {
		key := Key(fmt.Sprintf("key-%05d", i))
		var err error
		root, err = tree.Insert(root, uint64(i+1), key, []byte(fmt.Sprintf("val-%d", i)))
		if err != nil {
			t.Fatalf("Insert %d failed: %v", i, err)
		}
	}

	entries, err := tree.Scan(root, Key("key-00000"), Key("key-99999"))
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(entries) != n {
		t.Fatalf("expected %d entries, got %d", n, len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if Compare(entries[i-1].Key, entries[i].Key) >= 0 {
			t.Fatalf("scan not ordered at index %d", i)
		}
	}

	value, found, err := tree.Get(root, Key("key-00250"))
	if err != nil || !found {
		t.Fatalf("Get after split failed: found=%v err=%v", found, err)
	}
	if string(value) != "val-250" {
		t.Fatalf("unexpected value after split: %s", value)
	}
}

func TestScanRespectsRangeBounds(t *testing.T) {
	tree, cleanup := setupTestTree(t)
	defer cleanup()

	var root uint64 = NoRoot
	for i := 0; i < 20; i++ {
		var err error
		root, err = tree.Insert(root, uint64(i+1), Key(fmt.Sprintf("k%02d", i)), []byte{byte(i)})
		if err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	entries, err := tree.Scan(root, Key("k05"), Key("k10"))
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("expected 5 entries in [k05,k10), got %d", len(entries))
	}
}

func TestEncodeKeyOrdersByCollectionThenID(t *testing.T) {
	low, high := CollectionPrefix("users")
	if Compare(low, high) >= 0 {
		t.Fatal("expected low < high for a collection prefix range")
	}

	otherLow, _ := CollectionPrefix("zebra")
	if Compare(high, otherLow) >= 0 {
		t.Fatal("expected every users key to sort before every zebra key")
	}
}
