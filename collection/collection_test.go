package collection

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/nexuslite/nexuslite/cache"
	"github.com/nexuslite/nexuslite/document"
	"github.com/nexuslite/nexuslite/nxlog"
	"github.com/nexuslite/nexuslite/wasp"
	"github.com/nexuslite/nexuslite/wasp/cowtree"
)

func setupTestCollection(t *testing.T) (*Collection, func()) {
	dir := fmt.Sprintf("/tmp/collection-test-%d", os.Getpid())
	os.RemoveAll(dir)
	os.MkdirAll(dir, 0755)

	logger, err := nxlog.Open(dir + "/stem")
	if err != nil {
		t.Fatalf("nxlog.Open failed: %v", err)
	}

	cfg := wasp.DefaultConfig()
	cfg.CompactInterval = 0
	engine, err := wasp.Open(dir+"/data", cfg, logger)
	if err != nil {
		t.Fatalf("wasp.Open failed: %v", err)
	}

	coll := Open("widgets", engine, cache.DefaultConfig())

	cleanup := func() {
		engine.Close()
		logger.Close()
		os.RemoveAll(dir)
	}
	return coll, cleanup
}

func TestInsertAndFind(t *testing.T) {
	coll, cleanup := setupTestCollection(t)
	defer cleanup()

	doc, err := coll.Insert(document.Persistent, []byte("payload-1"), 0)
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	found, ok, err := coll.Find(doc.ID)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if !ok {
		t.Fatal("expected document to be found")
	}
	if string(found.Payload) != "payload-1" {
		t.Fatalf("unexpected payload: %s", found.Payload)
	}
}

func TestInsertRejectsTTLOnPersistent(t *testing.T) {
	coll, cleanup := setupTestCollection(t)
	defer cleanup()

	if _, err := coll.Insert(document.Persistent, []byte("x"), time.Second); err == nil {
		t.Fatal("expected error inserting a persistent document with a TTL")
	}
}

func TestUpdateAndDelete(t *testing.T) {
	coll, cleanup := setupTestCollection(t)
	defer cleanup()

	doc, err := coll.Insert(document.Persistent, []byte("v1"), 0)
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	updated, err := coll.Update(doc.ID, []byte("v2"))
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if string(updated.Payload) != "v2" {
		t.Fatalf("unexpected payload after update: %s", updated.Payload)
	}
	if !updated.UpdatedAt.After(doc.UpdatedAt) {
		t.Fatal("expected UpdatedAt to advance after update")
	}

	if err := coll.Delete(doc.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, err := coll.Find(doc.ID); err != nil || ok {
		t.Fatalf("expected document to be gone after delete, ok=%v err=%v", ok, err)
	}
}

func TestListIDsExcludesDeleted(t *testing.T) {
	coll, cleanup := setupTestCollection(t)
	defer cleanup()

	d1, _ := coll.Insert(document.Persistent, []byte("a"), 0)
	d2, _ := coll.Insert(document.Persistent, []byte("b"), 0)
	if err := coll.Delete(d1.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	ids, err := coll.ListIDs()
	if err != nil {
		t.Fatalf("ListIDs failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != d2.ID {
		t.Fatalf("expected only %s, got %v", d2.ID, ids)
	}
}

func TestSweepExpiredDeletesFromWASP(t *testing.T) {
	coll, cleanup := setupTestCollection(t)
	defer cleanup()

	doc, err := coll.Insert(document.Ephemeral, []byte("temp"), time.Nanosecond)
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	time.Sleep(time.Millisecond)

	if err := coll.SweepExpired(); err != nil {
		t.Fatalf("SweepExpired failed: %v", err)
	}

	key := cowtree.EncodeKey(coll.name, doc.ID)
	if _, found, err := coll.engine.Get(key); err != nil || found {
		t.Fatalf("expected sweep to delete the doc from WASP, found=%v err=%v", found, err)
	}
}

func TestEphemeralExpiryHidesDocument(t *testing.T) {
	coll, cleanup := setupTestCollection(t)
	defer cleanup()

	doc, err := coll.Insert(document.Ephemeral, []byte("temp"), time.Nanosecond)
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	time.Sleep(time.Millisecond)

	if _, ok, err := coll.Find(doc.ID); err != nil || ok {
		t.Fatalf("expected expired document to be hidden, ok=%v err=%v", ok, err)
	}
}
