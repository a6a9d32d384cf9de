package nexuslite

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/nexuslite/nexuslite/document"
	"github.com/nexuslite/nexuslite/nxconfig"
)

func testStem(t *testing.T) (string, func()) {
	dir := fmt.Sprintf("/tmp/nexuslite-test-%d-%s", os.Getpid(), t.Name())
	os.RemoveAll(dir)
	os.MkdirAll(dir, 0755)
	stem := dir + "/db"
	return stem, func() { os.RemoveAll(dir) }
}

func TestBasicCRUDRoundTrip(t *testing.T) {
	stem, cleanup := testStem(t)
	defer cleanup()

	cfg := nxconfig.Default()
	cfg.Cache.SweeperInterval = 50 * time.Millisecond
	db, err := Open(stem, cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if err := db.CreateCollection("users"); err != nil {
		t.Fatalf("CreateCollection failed: %v", err)
	}
	users, err := db.Collection("users")
	if err != nil {
		t.Fatalf("Collection failed: %v", err)
	}

	doc, err := users.Insert(document.Persistent, []byte(`{"username":"alice","age":30}`), 0)
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if !doc.CreatedAt.Equal(doc.UpdatedAt) {
		t.Fatalf("expected created_at == updated_at on insert, got %v != %v", doc.CreatedAt, doc.UpdatedAt)
	}

	found, ok, err := users.Find(doc.ID)
	if err != nil || !ok {
		t.Fatalf("Find failed: ok=%v err=%v", ok, err)
	}
	if string(found.Payload) != `{"username":"alice","age":30}` {
		t.Fatalf("unexpected payload: %s", found.Payload)
	}

	updated, err := users.Update(doc.ID, []byte(`{"username":"alice","age":31}`))
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if !updated.UpdatedAt.After(updated.CreatedAt) {
		t.Fatal("expected updated_at > created_at after update")
	}

	if err := users.Delete(doc.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, err := users.Find(doc.ID); err != nil || ok {
		t.Fatalf("expected document gone after delete, ok=%v err=%v", ok, err)
	}
}

func TestDoubleOpenRefused(t *testing.T) {
	stem, cleanup := testStem(t)
	defer cleanup()

	cfg := nxconfig.Default()
	db, err := Open(stem, cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if _, err := Open(stem, cfg); err == nil {
		t.Fatal("expected second Open of the same stem to fail")
	}
}

func TestCheckpointThenReopen(t *testing.T) {
	stem, cleanup := testStem(t)
	defer cleanup()

	cfg := nxconfig.Default()
	db, err := Open(stem, cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := db.CreateCollection("widgets"); err != nil {
		t.Fatalf("CreateCollection failed: %v", err)
	}
	widgets, _ := db.Collection("widgets")
	doc, err := widgets.Insert(document.Persistent, []byte("payload"), 0)
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	db2, err := Open(stem, cfg)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer db2.Close()

	widgets2, err := db2.Collection("widgets")
	if err != nil {
		t.Fatalf("expected widgets collection to survive reopen: %v", err)
	}
	found, ok, err := widgets2.Find(doc.ID)
	if err != nil || !ok {
		t.Fatalf("expected document to survive reopen, ok=%v err=%v", ok, err)
	}
	if string(found.Payload) != "payload" {
		t.Fatalf("unexpected payload after reopen: %s", found.Payload)
	}
}
