// Package collection implements spec.md §4.9: a named group of
// documents, each backed by the WASP engine for durability and by a
// hybrid cache for hot reads, guarded by one lock per collection so
// writers exclude each other and readers while a commit is in flight.
package collection

import (
	"fmt"
	"sync"
	"time"

	"github.com/nexuslite/nexuslite/cache"
	"github.com/nexuslite/nexuslite/document"
	"github.com/nexuslite/nexuslite/wasp"
	"github.com/nexuslite/nexuslite/wasp/cowtree"
)

// Collection is one named group of documents. The lock ordering
// collection -> engine.writer -> manifest (spec.md §5) means Collection
// never holds its own lock while the engine's writeMu is blocked on
// something else; Commit always returns before mu is released.
type Collection struct {
	name   string
	engine *wasp.Engine
	cache  *cache.Cache

	mu sync.RWMutex
}

// Open wraps engine with a hybrid cache governed by cacheCfg, naming the
// collection name for key-prefixing within the shared WASP tree.
func Open(name string, engine *wasp.Engine, cacheCfg cache.Config) *Collection {
	return &Collection{
		name:   name,
		engine: engine,
		cache:  cache.New(cacheCfg),
	}
}

// Name returns the collection's name.
func (c *Collection) Name() string { return c.name }

// Insert creates a new document with the given payload and kind. TTL is
// only meaningful (and only accepted) for Ephemeral documents (I3).
func (c *Collection) Insert(kind document.Kind, payload []byte, ttl time.Duration) (*document.Document, error) {
	if kind != document.Ephemeral && ttl > 0 {
		return nil, wasp.Sentinel(wasp.KindTtlOnPersistent)
	}

	id, err := document.NewID()
	if err != nil {
		return nil, fmt.Errorf("collection: %s: %w", c.name, err)
	}

	now := time.Now().UTC()
	doc := &document.Document{
		Meta: document.Meta{
			ID:        id,
			Kind:      kind,
			State:     document.Live,
			CreatedAt: now,
			UpdatedAt: now,
			TTL:       ttl,
		},
		Payload: payload,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := cowtree.EncodeKey(c.name, doc.ID)
	if _, err := c.engine.Commit([]wasp.OpRecord{{Kind: wasp.OpPut, Key: key, Value: doc.Encode()}}); err != nil {
		return nil, err
	}
	c.cache.Insert(doc, ttl)
	return doc.Clone(), nil
}

// Find looks up id, checking the cache before falling through to the
// engine (spec.md §4.8 step 1). A found-but-invisible document (deleted
// or expired) is reported as not found.
func (c *Collection) Find(id document.ID) (*document.Document, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if doc, ok := c.cache.Get(id); ok {
		return doc, true, nil
	}

	value, found, err := c.engine.Get(cowtree.EncodeKey(c.name, id))
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}

	doc, err := document.Decode(value)
	if err != nil {
		return nil, false, fmt.Errorf("collection: %s: decode %s: %w", c.name, id, err)
	}
	if !doc.State.Visible() {
		return nil, false, nil
	}
	if doc.Kind == document.Ephemeral && doc.Expired(time.Now().UTC()) {
		return nil, false, nil
	}

	c.cache.Insert(doc, ttlRemaining(doc))
	return doc.Clone(), true, nil
}

// Update replaces id's payload, bumping UpdatedAt and the lifecycle
// state per Touch (I2). It fails with KindNoSuchDocument if id is absent
// or invisible.
func (c *Collection) Update(id document.ID, payload []byte) (*document.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	value, found, err := c.engine.Get(cowtree.EncodeKey(c.name, id))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, wasp.Sentinel(wasp.KindNoSuchDocument)
	}
	doc, err := document.Decode(value)
	if err != nil {
		return nil, fmt.Errorf("collection: %s: decode %s: %w", c.name, id, err)
	}
	if !doc.State.Visible() {
		return nil, wasp.Sentinel(wasp.KindNoSuchDocument)
	}

	doc.Payload = payload
	doc.Touch(time.Now().UTC())

	key := cowtree.EncodeKey(c.name, id)
	if _, err := c.engine.Commit([]wasp.OpRecord{{Kind: wasp.OpPut, Key: key, Value: doc.Encode()}}); err != nil {
		return nil, err
	}
	c.cache.Insert(doc, ttlRemaining(doc))
	return doc.Clone(), nil
}

// Delete tombstones id. Deleting an absent or already-deleted document
// is not an error (idempotent per spec.md's delete semantics).
func (c *Collection) Delete(id document.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cowtree.EncodeKey(c.name, id)
	if _, err := c.engine.Commit([]wasp.OpRecord{{Kind: wasp.OpDelete, Key: key}}); err != nil {
		return err
	}
	c.cache.Delete(id)
	return nil
}

// ListIDs returns every visible document ID in the collection without
// materializing any payload.
func (c *Collection) ListIDs() ([]document.ID, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	low, high := cowtree.CollectionPrefix(c.name)
	entries, err := c.engine.Scan(low, high)
	if err != nil {
		return nil, err
	}

	ids := make([]document.ID, 0, len(entries))
	for _, e := range entries {
		doc, err := document.Decode(e.Value)
		if err != nil {
			return nil, fmt.Errorf("collection: %s: decode entry: %w", c.name, err)
		}
		if !doc.State.Visible() {
			continue
		}
		if doc.Kind == document.Ephemeral && doc.Expired(time.Now().UTC()) {
			continue
		}
		ids = append(ids, doc.ID)
	}
	return ids, nil
}

// CacheMetrics reports the collection's hybrid cache counters.
func (c *Collection) CacheMetrics() cache.Metrics {
	return c.cache.Metrics()
}

// Checkpoint seals this collection's full key range out of the live
// tree into a cold segment (spec.md §4.7 checkpoint()).
func (c *Collection) Checkpoint() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	low, high := cowtree.CollectionPrefix(c.name)
	return c.engine.Checkpoint(low, high)
}

// WarmCache inserts doc directly into the cache without a WASP commit,
// used by the orchestrator at startup to rebuild the ephemeral
// collection's hot state from preloaded documents already durable on
// disk (spec.md §4.10 step 3).
func (c *Collection) WarmCache(doc *document.Document) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Insert(doc, ttlRemaining(doc))
}

// SweepExpired runs one TTL sweep cycle over the cache and appends a
// Delete op for every entry whose TTL passed, per spec.md scenario 2
// (cache metrics record the eviction; WASP state reflects the delete).
func (c *Collection) SweepExpired() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	expired := c.cache.SweepTTL()
	if len(expired) == 0 {
		return nil
	}

	ops := make([]wasp.OpRecord, len(expired))
	for i, id := range expired {
		ops[i] = wasp.OpRecord{Kind: wasp.OpDelete, Key: cowtree.EncodeKey(c.name, id)}
	}
	_, err := c.engine.Commit(ops)
	return err
}

// Rename re-keys every document from coll's current name to newName and
// returns coll relabeled. Because the tree keys documents by
// (collection, doc_id), a rename can't be purely a registry relabel
// without an extra indirection layer the core doesn't have; this is a
// deliberate, documented deviation from a zero-cost rename.
func Rename(coll *Collection, newName string) (*Collection, error) {
	coll.mu.Lock()
	defer coll.mu.Unlock()

	low, high := cowtree.CollectionPrefix(coll.name)
	entries, err := coll.engine.Scan(low, high)
	if err != nil {
		return nil, err
	}

	var ops []wasp.OpRecord
	for _, e := range entries {
		doc, err := document.Decode(e.Value)
		if err != nil {
			return nil, fmt.Errorf("collection: rename %s: decode entry: %w", coll.name, err)
		}
		ops = append(ops, wasp.OpRecord{Kind: wasp.OpDelete, Key: e.Key})
		ops = append(ops, wasp.OpRecord{Kind: wasp.OpPut, Key: cowtree.EncodeKey(newName, doc.ID), Value: e.Value})
	}
	if len(ops) > 0 {
		if _, err := coll.engine.Commit(ops); err != nil {
			return nil, err
		}
	}

	coll.name = newName
	return coll, nil
}

func ttlRemaining(doc *document.Document) time.Duration {
	if doc.Kind != document.Ephemeral || doc.TTL <= 0 {
		return 0
	}
	remaining := doc.Deadline().Sub(time.Now().UTC())
	if remaining <= 0 {
		return time.Nanosecond
	}
	return remaining
}
