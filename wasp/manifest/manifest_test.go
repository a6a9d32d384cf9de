package manifest

import (
	"fmt"
	"os"
	"testing"
)

func testManifestPath(t *testing.T) (string, func()) {
	dir := fmt.Sprintf("/tmp/manifest-test-%d-%s", os.Getpid(), t.Name())
	os.RemoveAll(dir)
	os.MkdirAll(dir, 0755)
	return dir + "/manifest", func() { os.RemoveAll(dir) }
}

func TestOpenInitializesFreshManifest(t *testing.T) {
	path, cleanup := testManifestPath(t)
	defer cleanup()

	m, err := Open(path, 4096)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer m.Close()

	live := m.Live()
	if live.RootPage != 0 || live.Epoch != 0 {
		t.Fatalf("expected a zeroed fresh slot, got %+v", live)
	}
	if m.RepairedSlots() != 0 {
		t.Fatalf("expected no repaired slots on a fresh manifest, got %d", m.RepairedSlots())
	}
}

func TestFlipPublishesNewLiveSlot(t *testing.T) {
	path, cleanup := testManifestPath(t)
	defer cleanup()

	m, err := Open(path, 4096)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer m.Close()

	next := Slot{RootPage: 42, WALLSN: 7, Epoch: 1, PageSize: 4096, ActiveSegments: []uint64{1, 2, 3}}
	if err := m.Flip(next); err != nil {
		t.Fatalf("Flip failed: %v", err)
	}

	live := m.Live()
	if live.RootPage != 42 || live.Epoch != 1 || len(live.ActiveSegments) != 3 {
		t.Fatalf("unexpected live slot after flip: %+v", live)
	}
}

func TestFlipAlternatesSlotsAndSurvivesReopen(t *testing.T) {
	path, cleanup := testManifestPath(t)
	defer cleanup()

	m, err := Open(path, 4096)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	for i := uint64(1); i <= 3; i++ {
		if err := m.Flip(Slot{RootPage: i * 10, Epoch: i, PageSize: 4096}); err != nil {
			t.Fatalf("Flip %d failed: %v", i, err)
		}
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := Open(path, 4096)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	live := reopened.Live()
	if live.RootPage != 30 || live.Epoch != 3 {
		t.Fatalf("expected the last flipped slot to survive reopen, got %+v", live)
	}
}

func TestOpenRepairsFromSingleValidSlot(t *testing.T) {
	path, cleanup := testManifestPath(t)
	defer cleanup()

	m, err := Open(path, 4096)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := m.Flip(Slot{RootPage: 5, Epoch: 1, PageSize: 4096}); err != nil {
		t.Fatalf("Flip failed: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Corrupt the inactive slot (slot 0, since liveIdx ended at 1) so only
	// one of the two slots decodes validly.
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		t.Fatalf("open for corruption failed: %v", err)
	}
	garbage := make([]byte, SlotSize)
	if _, err := f.WriteAt(garbage, 0); err != nil {
		t.Fatalf("write garbage failed: %v", err)
	}
	f.Close()

	reopened, err := Open(path, 4096)
	if err != nil {
		t.Fatalf("reopen after corruption failed: %v", err)
	}
	defer reopened.Close()

	if reopened.RepairedSlots() != 1 {
		t.Fatalf("expected 1 repaired slot, got %d", reopened.RepairedSlots())
	}
	if reopened.Live().RootPage != 5 {
		t.Fatalf("expected the surviving slot's data, got %+v", reopened.Live())
	}
}

func TestOpenFailsWhenBothSlotsInvalid(t *testing.T) {
	path, cleanup := testManifestPath(t)
	defer cleanup()

	m, err := Open(path, 4096)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	m.Close()

	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		t.Fatalf("open for corruption failed: %v", err)
	}
	garbage := make([]byte, 2*SlotSize)
	if _, err := f.WriteAt(garbage, 0); err != nil {
		t.Fatalf("write garbage failed: %v", err)
	}
	f.Close()

	if _, err := Open(path, 4096); err != ErrBothSlotsInvalid {
		t.Fatalf("expected ErrBothSlotsInvalid, got %v", err)
	}
}
