// Package storage ties the heaps, indexes, schema, trigger engine, and
// similarity structures together behind a single Database facade. All
// mutating operations are serialized on one mutex; triggers fired by a
// write complete before the operation returns.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	tsdberr "github.com/bobboyms/tsdb/pkg/errors"
	"github.com/bobboyms/tsdb/pkg/heap"
	"github.com/bobboyms/tsdb/pkg/index"
	"github.com/bobboyms/tsdb/pkg/isax"
	"github.com/bobboyms/tsdb/pkg/schema"
	"github.com/bobboyms/tsdb/pkg/trigger"
)

// DefaultCommitStep is the batch commit boundary: every K mutating
// operations all index logs are promoted into their snapshots.
const DefaultCommitStep = 10

// Options configures a database instance.
type Options struct {
	TSLength   int
	DBName     string
	DataDir    string
	CommitStep int
	Schema     *schema.Schema // nil uses schema.Default()
	Logger     *zap.Logger    // nil uses zap.NewNop()
}

// Database owns every subsystem of one named database. One TS heap, one
// meta heap, one primary index, one secondary index per indexed field,
// one trigger registry, one iSAX tree.
type Database struct {
	mu sync.Mutex

	dir      string
	tsLength int
	logger   *zap.Logger

	schema   *schema.Schema
	tsHeap   *heap.TSHeap
	metaHeap *heap.MetaHeap
	primary  *index.Primary
	ordered  map[string]*index.Ordered
	bitmaps  map[string]*index.Bitmap
	triggers *trigger.Engine
	tree     *isax.Tree

	flk *flock.Flock

	commitStep int
	nextCommit int
	closed     bool
}

func snapshotPath(dir, field string) string {
	return filepath.Join(dir, "index_"+field+".idx")
}

func logPath(dir, field string) string {
	return filepath.Join(dir, "index_"+field+"_log.idx")
}

// Open loads or creates the database under opts.DataDir/opts.DBName,
// replaying index logs as needed and rebuilding the iSAX tree from the
// live rows.
func Open(opts Options) (*Database, error) {
	if opts.TSLength <= 0 {
		return nil, fmt.Errorf("ts_length must be positive, got %d", opts.TSLength)
	}
	if opts.CommitStep <= 0 {
		opts.CommitStep = DefaultCommitStep
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	dir := filepath.Join(opts.DataDir, opts.DBName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	flk := flock.New(filepath.Join(dir, ".lock"))
	locked, err := flk.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock database directory: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("database %s is locked by another process", dir)
	}

	db := &Database{
		dir:        dir,
		tsLength:   opts.TSLength,
		logger:     opts.Logger,
		ordered:    make(map[string]*index.Ordered),
		bitmaps:    make(map[string]*index.Bitmap),
		flk:        flk,
		commitStep: opts.CommitStep,
		nextCommit: opts.CommitStep,
	}

	fail := func(err error) (*Database, error) {
		db.closePartial()
		return nil, err
	}

	// a stored schema wins over the provided one: vantage points may
	// have extended it in a previous session
	schemaFile := filepath.Join(dir, "schema.idx")
	if s, err := schema.Load(schemaFile); err == nil {
		db.schema = s
	} else if os.IsNotExist(err) {
		db.schema = opts.Schema
		if db.schema == nil {
			db.schema = schema.Default()
		}
	} else {
		return fail(fmt.Errorf("failed to load schema: %w", err))
	}

	if db.tsHeap, err = heap.OpenTSHeap(filepath.Join(dir, "heap_ts"), opts.TSLength); err != nil {
		return fail(err)
	}
	if db.metaHeap, err = heap.OpenMetaHeap(filepath.Join(dir, "heap_meta"), db.schema); err != nil {
		return fail(err)
	}

	if db.primary, err = index.OpenPrimary(filepath.Join(dir, "pk.idx"), filepath.Join(dir, "pk_log.idx")); err != nil {
		return fail(err)
	}

	for _, field := range db.schema.IndexedFields() {
		if err := db.openIndex(field); err != nil {
			return fail(err)
		}
	}

	registry, err := index.OpenTriggers(filepath.Join(dir, "triggers.idx"), filepath.Join(dir, "triggers_log.idx"))
	if err != nil {
		return fail(err)
	}
	if db.triggers, err = trigger.NewEngine(registry); err != nil {
		return fail(err)
	}

	// the iSAX tree has no on-disk form of its own; rebuild it from the
	// primary index and the TS heap
	db.tree = isax.New()
	for _, pk := range db.primary.Keys() {
		pair, _ := db.primary.Get(pk)
		ts, err := db.tsHeap.Read(pair.TS)
		if err != nil {
			return fail(fmt.Errorf("failed to rebuild iSAX tree for %q: %w", pk, err))
		}
		db.tree.Insert(ts, pk)
	}

	if err := db.schema.Save(schemaFile); err != nil {
		return fail(err)
	}

	db.logger.Info("database opened",
		zap.String("dir", dir),
		zap.Int("ts_length", opts.TSLength),
		zap.Int("rows", db.primary.Len()))

	return db, nil
}

// openIndex creates the in-memory index for one schema field from its
// on-disk state.
func (db *Database) openIndex(field string) error {
	f := db.schema.Field(field)
	switch f.Index {
	case schema.IndexOrdered:
		idx, err := index.OpenOrdered(snapshotPath(db.dir, field), logPath(db.dir, field), f.Type)
		if err != nil {
			return err
		}
		db.ordered[field] = idx
	case schema.IndexBitmap:
		idx, err := index.OpenBitmap(
			snapshotPath(db.dir, field),
			logPath(db.dir, field),
			filepath.Join(db.dir, "index_"+field+"_pks.idx"),
			f.Type, f.Values)
		if err != nil {
			return err
		}
		db.bitmaps[field] = idx
	}
	return nil
}

// countMutation decrements the batch commit counter and promotes all
// index logs when it reaches the boundary. Called with db.mu held.
func (db *Database) countMutation() error {
	db.nextCommit--
	if db.nextCommit > 0 {
		return nil
	}
	db.nextCommit = db.commitStep
	return db.commitLocked()
}

func (db *Database) commitLocked() error {
	if err := db.primary.Commit(); err != nil {
		return err
	}
	for _, idx := range db.ordered {
		if err := idx.Commit(); err != nil {
			return err
		}
	}
	for _, idx := range db.bitmaps {
		if err := idx.Commit(); err != nil {
			return err
		}
	}
	return db.triggers.Commit()
}

// Commit promotes every index log into its snapshot.
func (db *Database) Commit() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return &tsdberr.ClosedError{}
	}
	return db.commitLocked()
}

// Close commits, closes every file, and releases the directory lock.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return &tsdberr.ClosedError{}
	}
	db.closed = true

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	keep(db.primary.Close())
	for _, idx := range db.ordered {
		keep(idx.Close())
	}
	for _, idx := range db.bitmaps {
		keep(idx.Close())
	}
	keep(db.triggers.Close())
	keep(db.tsHeap.Close())
	keep(db.metaHeap.Close())
	keep(db.flk.Unlock())

	db.logger.Info("database closed", zap.String("dir", db.dir))
	return firstErr
}

// closePartial tears down whatever Open managed to construct before
// failing.
func (db *Database) closePartial() {
	if db.primary != nil {
		db.primary.Close()
	}
	for _, idx := range db.ordered {
		idx.Close()
	}
	for _, idx := range db.bitmaps {
		idx.Close()
	}
	if db.triggers != nil {
		db.triggers.Close()
	}
	if db.tsHeap != nil {
		db.tsHeap.Close()
	}
	if db.metaHeap != nil {
		db.metaHeap.Close()
	}
	db.flk.Unlock()
}

// TSLength returns the fixed series length of the database.
func (db *Database) TSLength() int {
	return db.tsLength
}
