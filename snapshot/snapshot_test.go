package snapshot

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/nexuslite/nexuslite/document"
)

func testSnapshotPath(t *testing.T) (string, func()) {
	dir := fmt.Sprintf("/tmp/snapshot-test-%d-%s", os.Getpid(), t.Name())
	os.RemoveAll(dir)
	os.MkdirAll(dir, 0755)
	return dir + "/stem.db", func() { os.RemoveAll(dir) }
}

func TestWriteReadRoundTrip(t *testing.T) {
	path, cleanup := testSnapshotPath(t)
	defer cleanup()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	meta := document.Meta{
		Kind:      document.Ephemeral,
		State:     document.Live,
		CreatedAt: now,
		UpdatedAt: now,
		TTL:       time.Minute,
	}
	meta.ID[0] = 0xAB

	snap := DbSnapshot{
		Collections:   []CollectionDescriptor{{Name: "widgets"}, {Name: "_tempDocuments"}},
		Ephemeral:     []document.Meta{meta},
		SnapshotEpoch: 42,
	}

	if err := Write(path, snap); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(got.Collections) != 2 || got.Collections[0].Name != "widgets" {
		t.Fatalf("unexpected collections: %+v", got.Collections)
	}
	if got.SnapshotEpoch != 42 {
		t.Fatalf("unexpected epoch: %d", got.SnapshotEpoch)
	}
	if len(got.Ephemeral) != 1 || got.Ephemeral[0].ID != meta.ID {
		t.Fatalf("unexpected ephemeral metas: %+v", got.Ephemeral)
	}
	if !got.Ephemeral[0].CreatedAt.Equal(now) {
		t.Fatalf("unexpected created_at: %v", got.Ephemeral[0].CreatedAt)
	}
	if got.Ephemeral[0].TTL != time.Minute {
		t.Fatalf("unexpected ttl: %v", got.Ephemeral[0].TTL)
	}
}

func TestReadMissingFileReportsNotExist(t *testing.T) {
	path, cleanup := testSnapshotPath(t)
	defer cleanup()

	if _, err := Read(path); !os.IsNotExist(err) {
		t.Fatalf("expected os.IsNotExist, got %v", err)
	}
}

func TestReadRejectsBadMagic(t *testing.T) {
	path, cleanup := testSnapshotPath(t)
	defer cleanup()

	if err := os.WriteFile(path, []byte("XXXX\x01\x00\x00\x00"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := Read(path); err != ErrInvalidMagic {
		t.Fatalf("expected ErrInvalidMagic, got %v", err)
	}
}

func TestReadRejectsFutureVersion(t *testing.T) {
	path, cleanup := testSnapshotPath(t)
	defer cleanup()

	if err := Write(path, DbSnapshot{}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	data[4] = byte(CurrentVersion + 1)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	_, err = Read(path)
	var unsupported *ErrUnsupportedVersion
	if err == nil {
		t.Fatal("expected an error for a future snapshot version")
	}
	if !isUnsupportedVersion(err, &unsupported) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
	if unsupported.Found != CurrentVersion+1 {
		t.Fatalf("unexpected reported version: %d", unsupported.Found)
	}
}

func isUnsupportedVersion(err error, target **ErrUnsupportedVersion) bool {
	u, ok := err.(*ErrUnsupportedVersion)
	if !ok {
		return false
	}
	*target = u
	return true
}
