package storage

import (
	"context"
	"fmt"

	tsdberr "github.com/bobboyms/tsdb/pkg/errors"
	"github.com/bobboyms/tsdb/pkg/index"
	"github.com/bobboyms/tsdb/pkg/procs"
	"github.com/bobboyms/tsdb/pkg/schema"
	"github.com/bobboyms/tsdb/pkg/trigger"
	"github.com/bobboyms/tsdb/pkg/types"
)

// rowLocked materializes pk under db.mu.
func (db *Database) rowLocked(pk string) (procs.Row, error) {
	pair, ok := db.primary.Get(pk)
	if !ok {
		return procs.Row{}, &tsdberr.InvalidKeyError{PK: pk, Reason: "not in the database"}
	}
	ts, err := db.tsHeap.Read(pair.TS)
	if err != nil {
		return procs.Row{}, err
	}
	meta, err := db.metaHeap.Read(pair.Meta)
	if err != nil {
		return procs.Row{}, err
	}
	meta[schema.FieldPK] = pk
	return procs.Row{PK: pk, TS: ts, Meta: meta}, nil
}

func (db *Database) metaLocked(pk string) (map[string]any, error) {
	pair, ok := db.primary.Get(pk)
	if !ok {
		return nil, &tsdberr.InvalidKeyError{PK: pk, Reason: "not in the database"}
	}
	meta, err := db.metaHeap.Read(pair.Meta)
	if err != nil {
		return nil, err
	}
	meta[schema.FieldPK] = pk
	return meta, nil
}

func (db *Database) tsLocked(pk string) (types.TimeSeries, error) {
	pair, ok := db.primary.Get(pk)
	if !ok {
		return types.TimeSeries{}, &tsdberr.InvalidKeyError{PK: pk, Reason: "not in the database"}
	}
	return db.tsHeap.Read(pair.TS)
}

// updateIndicesLocked re-registers pk's current metadata in every
// secondary index, removing stale entries when prevMeta is supplied.
// Every non-deleted row contributes exactly one entry per indexed field.
func (db *Database) updateIndicesLocked(pk string, prevMeta map[string]any) error {
	meta, err := db.metaLocked(pk)
	if err != nil {
		return err
	}

	for _, field := range db.schema.IndexedFields() {
		if prevMeta != nil && prevMeta[field] != meta[field] {
			if err := db.removeIndexEntry(field, prevMeta[field], pk); err != nil {
				return err
			}
		}
		if err := db.addIndexEntry(field, meta[field], pk); err != nil {
			return err
		}
	}
	return nil
}

// removeIndicesLocked drops pk from every secondary index, keyed by the
// values in meta (the values the entries were registered under).
func (db *Database) removeIndicesLocked(pk string, meta map[string]any) error {
	for _, field := range db.schema.IndexedFields() {
		if err := db.removeIndexEntry(field, meta[field], pk); err != nil {
			return err
		}
	}
	return nil
}

func (db *Database) addIndexEntry(field string, value any, pk string) error {
	if idx, ok := db.ordered[field]; ok {
		return idx.AddPK(value, pk)
	}
	if idx, ok := db.bitmaps[field]; ok {
		return idx.AddPK(value, pk)
	}
	return nil
}

func (db *Database) removeIndexEntry(field string, value any, pk string) error {
	if idx, ok := db.ordered[field]; ok {
		return idx.RemovePK(value, pk)
	}
	if idx, ok := db.bitmaps[field]; ok {
		return idx.RemovePK(value, pk)
	}
	return nil
}

// InsertTS creates a new row from pk and ts: series to the TS heap, a
// default metadata record to the meta heap, primary and secondary index
// entries, iSAX insertion, then any insert_ts triggers. The triggers
// complete (and their targets are upserted) before InsertTS returns; a
// trigger failure surfaces as the operation's error, but the write
// itself has already committed.
func (db *Database) InsertTS(ctx context.Context, pk string, ts types.TimeSeries) error {
	db.mu.Lock()

	if db.closed {
		db.mu.Unlock()
		return &tsdberr.ClosedError{}
	}
	if pk == "" {
		db.mu.Unlock()
		return &tsdberr.InvalidKeyError{PK: pk, Reason: "empty primary key"}
	}
	if db.primary.Has(pk) {
		db.mu.Unlock()
		return &tsdberr.InvalidKeyError{PK: pk, Reason: "already in the database"}
	}
	if ts.Len() != db.tsLength {
		db.mu.Unlock()
		return &tsdberr.InvalidOperationError{
			Op:     "insert_ts",
			Reason: fmt.Sprintf("series has length %d, database stores length %d", ts.Len(), db.tsLength),
		}
	}

	if err := db.insertLocked(pk, ts); err != nil {
		db.mu.Unlock()
		return err
	}

	row, err := db.rowLocked(pk)
	db.mu.Unlock()
	if err != nil {
		return err
	}

	return db.triggers.Fire(ctx, trigger.EventInsertTS, []procs.Row{row}, db.upsertWriteback)
}

func (db *Database) insertLocked(pk string, ts types.TimeSeries) error {
	tsOffset, err := db.tsHeap.Write(ts)
	if err != nil {
		return err
	}
	metaOffset, err := db.metaHeap.Write(map[string]any{}, -1)
	if err != nil {
		return err
	}
	if err := db.primary.Set(pk, index.OffsetPair{TS: tsOffset, Meta: metaOffset}); err != nil {
		return err
	}
	if err := db.updateIndicesLocked(pk, nil); err != nil {
		return err
	}
	db.tree.Insert(ts, pk)
	return db.countMutation()
}

// upsertWriteback is the trigger result sink: an upsert that updates the
// heaps and indexes without re-firing triggers.
func (db *Database) upsertWriteback(pk string, meta map[string]any) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return &tsdberr.ClosedError{}
	}
	return db.upsertMetaLocked(pk, meta)
}

func (db *Database) upsertMetaLocked(pk string, meta map[string]any) error {
	pair, ok := db.primary.Get(pk)
	if !ok {
		return &tsdberr.InvalidKeyError{PK: pk, Reason: "not in the database"}
	}

	prevMeta, err := db.metaLocked(pk)
	if err != nil {
		return err
	}
	if _, err := db.metaHeap.Write(meta, pair.Meta); err != nil {
		return err
	}
	if err := db.updateIndicesLocked(pk, prevMeta); err != nil {
		return err
	}
	return db.countMutation()
}

// UpsertMeta updates pk's metadata field-wise, refreshes the secondary
// indexes, then fires any upsert_meta triggers.
func (db *Database) UpsertMeta(ctx context.Context, pk string, meta map[string]any) error {
	db.mu.Lock()

	if db.closed {
		db.mu.Unlock()
		return &tsdberr.ClosedError{}
	}
	if err := db.upsertMetaLocked(pk, meta); err != nil {
		db.mu.Unlock()
		return err
	}

	row, err := db.rowLocked(pk)
	db.mu.Unlock()
	if err != nil {
		return err
	}

	return db.triggers.Fire(ctx, trigger.EventUpsertMeta, []procs.Row{row}, db.upsertWriteback)
}

// DeleteTS removes a row: out of the iSAX tree, unmarked as a vantage
// point if it is one, marked deleted in the meta heap, and removed from
// the primary index and every secondary index. Heap space is not
// reclaimed.
func (db *Database) DeleteTS(ctx context.Context, pk string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return &tsdberr.ClosedError{}
	}
	if !db.primary.Has(pk) {
		return &tsdberr.InvalidKeyError{PK: pk, Reason: "not in the database"}
	}

	// a vantage point sheds its distance field and trigger first
	if err := db.deleteVPLocked(pk, false); err != nil {
		return err
	}

	ts, err := db.tsLocked(pk)
	if err != nil {
		return err
	}
	db.tree.Delete(ts)

	// read the metadata before flagging deletion so index entries are
	// removed under the values they were registered with
	meta, err := db.metaLocked(pk)
	if err != nil {
		return err
	}

	pair, _ := db.primary.Get(pk)
	if _, err := db.metaHeap.Write(map[string]any{schema.FieldDeleted: true}, pair.Meta); err != nil {
		return err
	}

	if err := db.primary.Delete(pk); err != nil {
		return err
	}
	if err := db.removeIndicesLocked(pk, meta); err != nil {
		return err
	}

	return db.countMutation()
}
