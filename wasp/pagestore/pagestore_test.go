package pagestore

import (
	"fmt"
	"os"
	"testing"
)

func testPagerPath(t *testing.T) (string, func()) {
	dir := fmt.Sprintf("/tmp/pagestore-test-%d-%s", os.Getpid(), t.Name())
	os.RemoveAll(dir)
	os.MkdirAll(dir, 0755)
	return dir + "/data.page", func() { os.RemoveAll(dir) }
}

func TestOpenFreshFileReservesPageZero(t *testing.T) {
	path, cleanup := testPagerPath(t)
	defer cleanup()

	p, err := Open(path, MinPageSize, false)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer p.Close()

	if p.NumPages() != 1 {
		t.Fatalf("expected page 0 reserved on a fresh file, NumPages=%d", p.NumPages())
	}

	page, err := p.Allocate(KindLeaf)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if page.ID() == 0 {
		t.Fatal("expected the first allocated page to skip reserved id 0")
	}
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	path, cleanup := testPagerPath(t)
	defer cleanup()

	p, err := Open(path, MinPageSize, false)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer p.Close()

	page, err := p.Allocate(KindLeaf)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if err := page.SetPayload([]byte("hello")); err != nil {
		t.Fatalf("SetPayload failed: %v", err)
	}
	if err := p.Write(page); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, err := p.Read(page.ID())
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(got.Payload()[:5]) != "hello" {
		t.Fatalf("unexpected payload: %q", got.Payload()[:5])
	}
	if got.Kind() != KindLeaf {
		t.Fatalf("unexpected kind: %v", got.Kind())
	}
}

func TestReadOutOfBoundsFails(t *testing.T) {
	path, cleanup := testPagerPath(t)
	defer cleanup()

	p, err := Open(path, MinPageSize, false)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer p.Close()

	if _, err := p.Read(999); err == nil {
		t.Fatal("expected an out-of-bounds read to fail")
	}
}

func TestRetireThenReclaimFreesPage(t *testing.T) {
	path, cleanup := testPagerPath(t)
	defer cleanup()

	p, err := Open(path, MinPageSize, false)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer p.Close()

	page, err := p.Allocate(KindLeaf)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	p.Retire(page.ID(), 1)

	freed := p.Reclaim(2)
	found := false
	for _, id := range freed {
		if id == page.ID() {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected page %d to be reclaimed, got %v", page.ID(), freed)
	}
}

func TestReclaimRespectsSafeEpoch(t *testing.T) {
	path, cleanup := testPagerPath(t)
	defer cleanup()

	p, err := Open(path, MinPageSize, false)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer p.Close()

	page, err := p.Allocate(KindLeaf)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	p.Retire(page.ID(), 10)

	if freed := p.Reclaim(5); len(freed) != 0 {
		t.Fatalf("expected nothing reclaimed before the retirement epoch, got %v", freed)
	}
}

func TestOpenRejectsInvalidPageSize(t *testing.T) {
	path, cleanup := testPagerPath(t)
	defer cleanup()

	if _, err := Open(path, 1000, false); err != ErrInvalidPageSize {
		t.Fatalf("expected ErrInvalidPageSize, got %v", err)
	}
}

func TestReopenPreservesAllocatedPages(t *testing.T) {
	path, cleanup := testPagerPath(t)
	defer cleanup()

	p, err := Open(path, MinPageSize, false)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	page, err := p.Allocate(KindLeaf)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if err := page.SetPayload([]byte("persisted")); err != nil {
		t.Fatalf("SetPayload failed: %v", err)
	}
	if err := p.Write(page); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := Open(path, MinPageSize, false)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Read(page.ID())
	if err != nil {
		t.Fatalf("Read after reopen failed: %v", err)
	}
	if string(got.Payload()[:9]) != "persisted" {
		t.Fatalf("unexpected payload after reopen: %q", got.Payload()[:9])
	}
}
