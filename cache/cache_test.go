package cache

import (
	"testing"
	"time"

	"github.com/nexuslite/nexuslite/document"
)

func testDoc(b byte) *document.Document {
	var id document.ID
	id[15] = b
	now := time.Now().UTC()
	return &document.Document{
		Meta:    document.Meta{ID: id, Kind: document.Persistent, State: document.Live, CreatedAt: now, UpdatedAt: now},
		Payload: []byte("payload"),
	}
}

func TestInsertThenGetHits(t *testing.T) {
	c := New(DefaultConfig())
	doc := testDoc(1)
	c.Insert(doc, 0)

	got, ok := c.Get(doc.ID)
	if !ok {
		t.Fatal("expected a cache hit")
	}
	if got.ID != doc.ID {
		t.Fatalf("unexpected document returned: %+v", got)
	}
	if m := c.Metrics(); m.Hits != 1 {
		t.Fatalf("expected 1 hit, got %d", m.Hits)
	}
}

func TestGetMissIncrementsMisses(t *testing.T) {
	c := New(DefaultConfig())
	if _, ok := c.Get(document.ID{}); ok {
		t.Fatal("expected a miss on an empty cache")
	}
	if m := c.Metrics(); m.Misses != 1 {
		t.Fatalf("expected 1 miss, got %d", m.Misses)
	}
}

func TestExpiredEntryIsLazilyEvictedOnGet(t *testing.T) {
	c := New(DefaultConfig())
	fake := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fake }

	doc := testDoc(2)
	c.Insert(doc, time.Second)

	c.now = func() time.Time { return fake.Add(2 * time.Second) }
	if _, ok := c.Get(doc.ID); ok {
		t.Fatal("expected the TTL-expired entry to miss")
	}
	if m := c.Metrics(); m.TTLEvictions != 1 {
		t.Fatalf("expected 1 ttl eviction, got %d", m.TTLEvictions)
	}
}

func TestDeleteRemovesEntry(t *testing.T) {
	c := New(DefaultConfig())
	doc := testDoc(3)
	c.Insert(doc, 0)
	c.Delete(doc.ID)

	if _, ok := c.Get(doc.ID); ok {
		t.Fatal("expected deleted entry to miss")
	}
}

func TestSweepTTLRemovesAllExpiredEntries(t *testing.T) {
	cfg := DefaultConfig()
	c := New(cfg)
	fake := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fake }

	for i := byte(0); i < 5; i++ {
		c.Insert(testDoc(i), time.Second)
	}
	c.now = func() time.Time { return fake.Add(2 * time.Second) }
	c.SweepTTL()

	if m := c.Metrics(); m.TTLEvictions != 5 {
		t.Fatalf("expected 5 ttl evictions after sweep, got %d", m.TTLEvictions)
	}
}

func TestLRUEvictionUnderCapacityPressure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CapacityEntries = 2
	cfg.Mode = LRUOnly
	c := New(cfg)

	c.Insert(testDoc(1), 0)
	c.Insert(testDoc(2), 0)
	c.Insert(testDoc(3), 0) // triggers eviction before insert since at capacity

	if m := c.Metrics(); m.LRUEvictions == 0 {
		t.Fatal("expected at least one LRU eviction under capacity pressure")
	}
}

func TestTTLOnlyModeNeverEvictsByLRU(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CapacityEntries = 1
	cfg.Mode = TTLOnly
	c := New(cfg)

	c.Insert(testDoc(1), 0)
	c.Insert(testDoc(2), 0)

	if m := c.Metrics(); m.LRUEvictions != 0 {
		t.Fatalf("expected no LRU evictions in TTLOnly mode, got %d", m.LRUEvictions)
	}
}
