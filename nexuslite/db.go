// Package nexuslite is the Database Orchestrator of spec.md §4.10: the
// top-level handle external collaborators open, owning the collection
// registry and the single WASP engine underneath it.
package nexuslite

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nexuslite/nexuslite/collection"
	"github.com/nexuslite/nexuslite/document"
	"github.com/nexuslite/nexuslite/nxconfig"
	"github.com/nexuslite/nexuslite/nxlog"
	"github.com/nexuslite/nexuslite/snapshot"
	"github.com/nexuslite/nexuslite/wasp"
	"github.com/nexuslite/nexuslite/wasp/cowtree"
)

// tempCollectionName is the hidden collection ephemeral documents live
// in, per spec.md §4.9/§4.10's "_tempDocuments".
const tempCollectionName = "_tempDocuments"

// Database is one open NexusLite database: a collection registry plus
// the WASP engine all of its collections share.
type Database struct {
	stem   string
	cfg    nxconfig.Options
	log    *nxlog.DatabaseLogger
	engine *wasp.Engine

	mu          sync.RWMutex
	collections map[string]*collection.Collection

	sweepStop chan struct{}
	sweepWG   sync.WaitGroup
}

// Open creates or recovers the database rooted at stem ("{stem}.db" for
// the snapshot, "{stem}.wasp" for the WASP container, "{stem}_logs/" for
// logs). It refuses to open a stem already open in this process
// (registry double-open guard, spec.md §9).
func Open(stem string, cfg nxconfig.Options) (*Database, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(stem)
	if err != nil {
		return nil, fmt.Errorf("nexuslite: resolve path %s: %w", stem, err)
	}
	if err := registry.claim(abs); err != nil {
		return nil, err
	}

	log, err := nxlog.Open(abs)
	if err != nil {
		registry.release(abs)
		return nil, fmt.Errorf("nexuslite: open log: %w", err)
	}

	snap, err := readSnapshot(abs + ".db")
	if err != nil {
		log.Close()
		registry.release(abs)
		return nil, err
	}

	engCfg := wasp.DefaultConfig()
	engCfg.PageSize = cfg.PageSize
	engCfg.CopyVerifyPages = cfg.CopyVerify
	engCfg.GroupCommitMS = cfg.WALGroupCommitMS
	engine, err := wasp.Open(abs+".wasp", engCfg, log)
	if err != nil {
		log.Close()
		registry.release(abs)
		return nil, err
	}

	db := &Database{
		stem:        abs,
		cfg:         cfg,
		log:         log,
		engine:      engine,
		collections: make(map[string]*collection.Collection),
		sweepStop:   make(chan struct{}),
	}

	for _, cd := range snap.Collections {
		db.collections[cd.Name] = collection.Open(cd.Name, engine, cfg.Cache)
	}
	if _, ok := db.collections[tempCollectionName]; !ok {
		db.collections[tempCollectionName] = collection.Open(tempCollectionName, engine, cfg.Cache)
	}
	db.preloadEphemeral(snap.Ephemeral)

	db.sweepWG.Add(1)
	go db.sweepLoop()

	return db, nil
}

func readSnapshot(path string) (snapshot.DbSnapshot, error) {
	snap, err := snapshot.Read(path)
	if err == nil {
		return snap, nil
	}
	if os.IsNotExist(err) {
		return snapshot.DbSnapshot{}, nil
	}
	var unsupported *snapshot.ErrUnsupportedVersion
	if errors.As(err, &unsupported) {
		// Unsupported is non-fatal to open: fall back to WAL/manifest
		// recovery with an empty registry rather than refusing to start.
		return snapshot.DbSnapshot{}, nil
	}
	return snapshot.DbSnapshot{}, fmt.Errorf("nexuslite: read snapshot %s: %w", path, err)
}

// preloadEphemeral rebuilds the hidden collection's cache from the
// snapshot's ephemeral metadata, expiring anything whose TTL passed
// during downtime (spec.md §4.10 step 3) rather than loading it live.
func (db *Database) preloadEphemeral(metas []document.Meta) {
	temp := db.collections[tempCollectionName]
	now := time.Now().UTC()
	for _, m := range metas {
		if m.Expired(now) {
			temp.Delete(m.ID)
			continue
		}
		value, found, err := db.engine.Get(cowtree.EncodeKey(tempCollectionName, m.ID))
		if err != nil || !found {
			continue
		}
		doc, err := document.Decode(value)
		if err != nil {
			continue
		}
		temp.WarmCache(doc)
	}
}

// CreateCollection registers name, idempotent if it already exists
// (spec.md §6 create_collection).
func (db *Database) CreateCollection(name string) error {
	if name == tempCollectionName {
		return fmt.Errorf("nexuslite: %s is a reserved collection name", name)
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.collections[name]; ok {
		return nil
	}
	db.collections[name] = collection.Open(name, db.engine, db.cfg.Cache)
	return nil
}

// DropCollection removes name and every document in it.
func (db *Database) DropCollection(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	coll, ok := db.collections[name]
	if !ok {
		return wasp.Sentinel(wasp.KindNoSuchCollection)
	}
	ids, err := coll.ListIDs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := coll.Delete(id); err != nil {
			return err
		}
	}
	delete(db.collections, name)
	return nil
}

// RenameCollection renames oldName to newName. Because documents are
// keyed by (collection, doc_id), this re-keys every document under the
// new name as one commit batch (collection.Rename) rather than being a
// pure registry relabel — see DESIGN.md for why a zero-cost rename
// isn't possible with the current key scheme.
func (db *Database) RenameCollection(oldName, newName string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	coll, ok := db.collections[oldName]
	if !ok {
		return wasp.Sentinel(wasp.KindNoSuchCollection)
	}
	if _, exists := db.collections[newName]; exists {
		return wasp.Sentinel(wasp.KindCollectionExists)
	}
	renamed, err := collection.Rename(coll, newName)
	if err != nil {
		return err
	}
	delete(db.collections, oldName)
	db.collections[newName] = renamed
	return nil
}

// Collection returns the named collection, or KindNoSuchCollection.
func (db *Database) Collection(name string) (*collection.Collection, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	coll, ok := db.collections[name]
	if !ok {
		return nil, wasp.Sentinel(wasp.KindNoSuchCollection)
	}
	return coll, nil
}

// Checkpoint flushes every collection's live tree range into a cold
// segment, rewrites the `.db` snapshot, and truncates the WAL.
func (db *Database) Checkpoint() error {
	db.mu.RLock()
	colls := make([]*collection.Collection, 0, len(db.collections))
	descs := make([]snapshot.CollectionDescriptor, 0, len(db.collections))
	for name, coll := range db.collections {
		colls = append(colls, coll)
		descs = append(descs, snapshot.CollectionDescriptor{Name: name})
	}
	db.mu.RUnlock()

	for _, coll := range colls {
		if err := coll.Checkpoint(); err != nil {
			return err
		}
	}

	db.mu.RLock()
	temp := db.collections[tempCollectionName]
	db.mu.RUnlock()
	ids, err := temp.ListIDs()
	if err != nil {
		return err
	}
	ephemeral := make([]document.Meta, 0, len(ids))
	for _, id := range ids {
		if doc, ok, err := temp.Find(id); err == nil && ok {
			ephemeral = append(ephemeral, doc.Meta)
		}
	}

	snap := snapshot.DbSnapshot{Collections: descs, Ephemeral: ephemeral}
	if err := snapshot.Write(db.stem+".db", snap); err != nil {
		return fmt.Errorf("nexuslite: write snapshot: %w", err)
	}
	return nil
}

// Verify reports the underlying engine's recovery-relevant state.
func (db *Database) Verify() wasp.VerifyReport {
	return db.engine.Verify()
}

// Close flushes a final checkpoint, stops background work, and releases
// the open-database registry slot.
func (db *Database) Close() error {
	close(db.sweepStop)
	db.sweepWG.Wait()

	checkpointErr := db.Checkpoint()

	if err := db.engine.Close(); err != nil {
		registry.release(db.stem)
		db.log.Close()
		return err
	}
	db.log.Close()
	registry.release(db.stem)
	return checkpointErr
}

func (db *Database) sweepLoop() {
	defer db.sweepWG.Done()

	interval := db.cfg.Cache.SweeperInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-db.sweepStop:
			return
		case <-ticker.C:
			db.mu.RLock()
			colls := make([]*collection.Collection, 0, len(db.collections))
			for _, coll := range db.collections {
				colls = append(colls, coll)
			}
			db.mu.RUnlock()
			for _, coll := range colls {
				if err := coll.SweepExpired(); err != nil {
					db.log.Error().Err(err).Str("collection", coll.Name()).Msg("ttl sweep")
				}
			}
			db.engine.SyncReaderEpoch()
		}
	}
}

// ErrAlreadyOpen is returned by Open when stem is already open in this
// process (spec.md §9's double-open guard).
var ErrAlreadyOpen = errors.New("nexuslite: database already open in this process")
