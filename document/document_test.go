package document

import (
	"testing"
	"time"
)

func TestNewIDIsNonZeroAndRoundTripsThroughString(t *testing.T) {
	id, err := NewID()
	if err != nil {
		t.Fatalf("NewID failed: %v", err)
	}
	if id.IsZero() {
		t.Fatal("expected a fresh ID to be non-zero")
	}

	parsed, err := ParseID(id.String())
	if err != nil {
		t.Fatalf("ParseID failed: %v", err)
	}
	if parsed != id {
		t.Fatalf("expected parsed ID to equal original, got %v vs %v", parsed, id)
	}
}

func TestStateVisible(t *testing.T) {
	cases := map[State]bool{
		Draft:   false,
		Live:    true,
		Updated: true,
		Deleted: false,
		Expired: false,
	}
	for state, want := range cases {
		if got := state.Visible(); got != want {
			t.Fatalf("State(%v).Visible() = %v, want %v", state, got, want)
		}
	}
}

func TestDeadlineOnlyMeaningfulForEphemeralWithTTL(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	persistent := Meta{Kind: Persistent, CreatedAt: now, TTL: time.Minute}
	if !persistent.Deadline().IsZero() {
		t.Fatal("expected a Persistent document to have no deadline regardless of TTL")
	}

	noTTL := Meta{Kind: Ephemeral, CreatedAt: now}
	if !noTTL.Deadline().IsZero() {
		t.Fatal("expected an Ephemeral document with zero TTL to have no deadline")
	}

	withTTL := Meta{Kind: Ephemeral, CreatedAt: now, TTL: time.Minute}
	if want := now.Add(time.Minute); !withTTL.Deadline().Equal(want) {
		t.Fatalf("unexpected deadline: %v, want %v", withTTL.Deadline(), want)
	}
}

func TestExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := Meta{Kind: Ephemeral, CreatedAt: now, TTL: time.Minute}

	if m.Expired(now.Add(30 * time.Second)) {
		t.Fatal("expected not expired before the deadline")
	}
	if !m.Expired(now.Add(time.Minute)) {
		t.Fatal("expected expired exactly at the deadline")
	}
	if !m.Expired(now.Add(2 * time.Minute)) {
		t.Fatal("expected expired well past the deadline")
	}
}

func TestTouchAlwaysStrictlyIncreasesUpdatedAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d := &Document{Meta: Meta{State: Live, CreatedAt: now, UpdatedAt: now}}

	d.Touch(now)
	if !d.UpdatedAt.After(now) {
		t.Fatalf("expected Touch with a non-advancing clock to still strictly increase UpdatedAt, got %v", d.UpdatedAt)
	}
	if d.State != Updated {
		t.Fatalf("expected state to transition to Updated, got %v", d.State)
	}
}

func TestCloneIsIndependentOfOriginal(t *testing.T) {
	d := &Document{Meta: Meta{State: Live}, Payload: []byte("hello")}
	clone := d.Clone()
	clone.Payload[0] = 'H'

	if d.Payload[0] == 'H' {
		t.Fatal("expected Clone to deep-copy the payload")
	}
}
