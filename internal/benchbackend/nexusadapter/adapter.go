// Package nexusadapter lets the comparison benchmark harness
// (internal/storagebench/benchmark) drive a nexuslite collection
// through the same storagebench.StorageEngine surface as the simpler
// hashindex backend, despite nexuslite addressing documents by
// generated UUID rather than caller-supplied key.
package nexusadapter

import (
	"sync"

	"github.com/nexuslite/nexuslite/collection"
	"github.com/nexuslite/nexuslite/document"
	"github.com/nexuslite/nexuslite/internal/storagebench"
)

// Adapter maps arbitrary benchmark keys onto nexuslite document IDs.
type Adapter struct {
	coll *collection.Collection

	mu   sync.Mutex
	ids  map[string]document.ID
}

// New wraps coll for use as a storagebench.StorageEngine.
func New(coll *collection.Collection) *Adapter {
	return &Adapter{coll: coll, ids: make(map[string]document.ID)}
}

func (a *Adapter) Put(key, value []byte) error {
	a.mu.Lock()
	id, exists := a.ids[string(key)]
	a.mu.Unlock()

	if exists {
		_, err := a.coll.Update(id, value)
		return err
	}

	doc, err := a.coll.Insert(document.Persistent, value, 0)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.ids[string(key)] = doc.ID
	a.mu.Unlock()
	return nil
}

func (a *Adapter) Get(key []byte) ([]byte, error) {
	a.mu.Lock()
	id, exists := a.ids[string(key)]
	a.mu.Unlock()
	if !exists {
		return nil, storagebench.ErrKeyNotFound
	}

	doc, ok, err := a.coll.Find(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, storagebench.ErrKeyNotFound
	}
	return doc.Payload, nil
}

func (a *Adapter) Delete(key []byte) error {
	a.mu.Lock()
	id, exists := a.ids[string(key)]
	delete(a.ids, string(key))
	a.mu.Unlock()
	if !exists {
		return nil
	}
	return a.coll.Delete(id)
}

func (a *Adapter) Close() error { return nil }

func (a *Adapter) Sync() error { return a.coll.Checkpoint() }

func (a *Adapter) Stats() storagebench.Stats {
	m := a.coll.CacheMetrics()
	a.mu.Lock()
	n := int64(len(a.ids))
	a.mu.Unlock()
	return storagebench.Stats{
		NumKeys:    n,
		ReadCount:  m.Hits + m.Misses,
		WriteCount: n,
	}
}

func (a *Adapter) Compact() error { return a.coll.Checkpoint() }
