package nexusadapter

import (
	"fmt"
	"os"
	"testing"

	"github.com/nexuslite/nexuslite/cache"
	"github.com/nexuslite/nexuslite/collection"
	"github.com/nexuslite/nexuslite/internal/storagebench"
	"github.com/nexuslite/nexuslite/nxlog"
	"github.com/nexuslite/nexuslite/wasp"
)

func setupTestAdapter(t *testing.T) (*Adapter, func()) {
	dir := fmt.Sprintf("/tmp/nexusadapter-test-%d-%s", os.Getpid(), t.Name())
	os.RemoveAll(dir)
	os.MkdirAll(dir, 0755)

	log, err := nxlog.Open(dir + "/stem")
	if err != nil {
		t.Fatalf("nxlog.Open failed: %v", err)
	}
	cfg := wasp.DefaultConfig()
	cfg.CompactInterval = 0
	engine, err := wasp.Open(dir+"/data", cfg, log)
	if err != nil {
		t.Fatalf("wasp.Open failed: %v", err)
	}
	coll := collection.Open("bench", engine, cache.DefaultConfig())

	cleanup := func() {
		engine.Close()
		log.Close()
		os.RemoveAll(dir)
	}
	return New(coll), cleanup
}

func TestPutGetDeleteRoundTrip(t *testing.T) {
	a, cleanup := setupTestAdapter(t)
	defer cleanup()

	if err := a.Put([]byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	value, err := a.Get([]byte("k1"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(value) != "v1" {
		t.Fatalf("unexpected value: %s", value)
	}

	if err := a.Delete([]byte("k1")); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := a.Get([]byte("k1")); err != storagebench.ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound after delete, got %v", err)
	}
}

func TestPutOverwritesExistingKey(t *testing.T) {
	a, cleanup := setupTestAdapter(t)
	defer cleanup()

	if err := a.Put([]byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := a.Put([]byte("k1"), []byte("v2")); err != nil {
		t.Fatalf("Put overwrite failed: %v", err)
	}
	value, err := a.Get([]byte("k1"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(value) != "v2" {
		t.Fatalf("expected overwritten value, got %s", value)
	}
}

func TestGetMissingKeyReturnsErrKeyNotFound(t *testing.T) {
	a, cleanup := setupTestAdapter(t)
	defer cleanup()

	if _, err := a.Get([]byte("missing")); err != storagebench.ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestStatsReflectsKeyCount(t *testing.T) {
	a, cleanup := setupTestAdapter(t)
	defer cleanup()

	for i := 0; i < 3; i++ {
		key := []byte(fmt.Sprintf("k%d", i))
		if err := a.Put(key, []byte("v")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	if stats := a.Stats(); stats.NumKeys != 3 {
		t.Fatalf("expected NumKeys=3, got %d", stats.NumKeys)
	}
}
