// Package document defines the document entity shared by the cache,
// collection and WASP layers: identity, lifecycle metadata and the
// self-describing binary payload.
package document

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ID is a 128-bit document identifier (UUIDv4).
type ID [16]byte

// NewID generates a fresh random (v4) document identifier.
func NewID() (ID, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return ID{}, fmt.Errorf("document: generate id: %w", err)
	}
	var id ID
	copy(id[:], u[:])
	return id, nil
}

// ParseID parses a canonical UUID string into an ID.
func ParseID(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ID{}, fmt.Errorf("document: parse id %q: %w", s, err)
	}
	var id ID
	copy(id[:], u[:])
	return id, nil
}

// String returns the canonical UUID representation.
func (id ID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool {
	return id == ID{}
}

// Kind distinguishes documents whose lifecycle is bound to TTL expiry
// (Ephemeral) from ordinary persisted documents (Persistent).
type Kind int

const (
	Persistent Kind = iota
	Ephemeral
)

func (k Kind) String() string {
	switch k {
	case Persistent:
		return "persistent"
	case Ephemeral:
		return "ephemeral"
	default:
		return "unknown"
	}
}

// State is the document lifecycle state machine: Draft -> Live ->
// {Updated}* -> Deleted|Expired. Only Live/Updated are visible to readers.
type State int

const (
	Draft State = iota
	Live
	Updated
	Deleted
	Expired
)

func (s State) Visible() bool {
	return s == Live || s == Updated
}

// Meta holds everything about a document except its payload; this is
// what gets preloaded from the ephemeral hidden collection at startup
// and what the snapshot codec stores for recovery.
type Meta struct {
	ID        ID
	Kind      Kind
	State     State
	CreatedAt time.Time
	UpdatedAt time.Time
	TTL       time.Duration // zero means no deadline; only meaningful for Ephemeral
}

// Deadline returns the TTL expiry instant, or the zero Time if none.
func (m Meta) Deadline() time.Time {
	if m.Kind != Ephemeral || m.TTL <= 0 {
		return time.Time{}
	}
	return m.CreatedAt.Add(m.TTL)
}

// Expired reports whether m's TTL deadline has passed as of now.
func (m Meta) Expired(now time.Time) bool {
	d := m.Deadline()
	return !d.IsZero() && !now.Before(d)
}

// Document is a document record: metadata plus its self-describing
// binary payload. The core never inspects payload schema (spec §9).
type Document struct {
	Meta
	Payload []byte
}

// Touch bumps UpdatedAt, enforcing invariant I2 (updated_at >= created_at,
// and a successful update strictly increases it).
func (d *Document) Touch(now time.Time) {
	if !now.After(d.UpdatedAt) {
		now = d.UpdatedAt.Add(time.Nanosecond)
	}
	d.UpdatedAt = now
	if d.State == Live {
		d.State = Updated
	}
}

// Clone returns a deep copy safe to hand to a caller or store in cache.
func (d *Document) Clone() *Document {
	cp := *d
	if d.Payload != nil {
		cp.Payload = append([]byte(nil), d.Payload...)
	}
	return &cp
}
