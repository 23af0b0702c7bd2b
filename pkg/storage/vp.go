package storage

import (
	"path/filepath"
	"sort"

	"github.com/bobboyms/tsdb/pkg/distance"
	tsdberr "github.com/bobboyms/tsdb/pkg/errors"
	"github.com/bobboyms/tsdb/pkg/schema"
	"github.com/bobboyms/tsdb/pkg/trigger"
	"github.com/bobboyms/tsdb/pkg/types"
)

// corrProc is the stored procedure registered for vantage-point distance
// maintenance.
const corrProc = "corr"

func (db *Database) isVPLocked(pk string) (bool, error) {
	vps, err := db.bitmaps[schema.FieldVP].Lookup(true)
	if err != nil {
		return false, err
	}
	_, ok := vps[pk]
	return ok, nil
}

// InsertVP promotes an existing row to a vantage point: marks vp=true,
// extends the schema with an ordered-indexed float field d_vp_<pk>,
// resets the metadata heap to the new layout, registers the insert_ts
// distance trigger, and backfills the distance for every existing row.
func (db *Database) InsertVP(pk string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return &tsdberr.ClosedError{}
	}
	if !db.primary.Has(pk) {
		return &tsdberr.InvalidKeyError{PK: pk, Reason: "not in the database"}
	}
	if isVP, err := db.isVPLocked(pk); err != nil {
		return err
	} else if isVP {
		return &tsdberr.InvalidKeyError{PK: pk, Reason: "already a vantage point"}
	}

	if err := db.upsertMetaLocked(pk, map[string]any{schema.FieldVP: true}); err != nil {
		return err
	}

	didx := schema.VPDistPrefix + pk
	next := db.schema.Clone()
	if err := next.AddField(didx, &schema.Field{
		Type:  types.TypeFloat,
		Index: schema.IndexOrdered,
	}); err != nil {
		return err
	}
	if err := db.resetSchemaLocked(next); err != nil {
		return err
	}
	if err := db.openIndex(didx); err != nil {
		return err
	}

	vpTS, err := db.tsLocked(pk)
	if err != nil {
		return err
	}

	// the trigger argument must survive serialization in the registry;
	// a [times, values] pair round-trips
	arg := [][]float64{vpTS.Times, vpTS.Values}
	if err := db.triggers.Add(trigger.EventInsertTS, corrProc, arg, []string{didx}); err != nil {
		return err
	}

	// backfill: the distance the trigger would have computed, applied
	// to every row already present
	for _, otherPK := range db.primary.Keys() {
		otherTS, err := db.tsLocked(otherPK)
		if err != nil {
			return err
		}
		d := distance.Distance(otherTS, vpTS)
		if err := db.upsertMetaLocked(otherPK, map[string]any{didx: d}); err != nil {
			return err
		}
	}

	return nil
}

// DeleteVP reverses InsertVP: unmark vp, drop the distance trigger, drop
// the d_vp_<pk> field from the schema and its index from disk, and reset
// the metadata heap.
func (db *Database) DeleteVP(pk string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return &tsdberr.ClosedError{}
	}
	if !db.primary.Has(pk) {
		return &tsdberr.InvalidKeyError{PK: pk, Reason: "not in the database"}
	}
	return db.deleteVPLocked(pk, true)
}

// deleteVPLocked unmarks pk as a vantage point. With raiseErr false a
// non-VP row is a no-op (the delete_ts path probes with it).
func (db *Database) deleteVPLocked(pk string, raiseErr bool) error {
	isVP, err := db.isVPLocked(pk)
	if err != nil {
		return err
	}
	if !isVP {
		if raiseErr {
			return &tsdberr.InvalidKeyError{PK: pk, Reason: "not a vantage point"}
		}
		return nil
	}

	if err := db.upsertMetaLocked(pk, map[string]any{schema.FieldVP: false}); err != nil {
		return err
	}

	didx := schema.VPDistPrefix + pk

	if err := db.triggers.RemoveOne(trigger.EventInsertTS, corrProc, []string{didx}); err != nil {
		return err
	}

	if idx, ok := db.ordered[didx]; ok {
		if err := idx.Erase(); err != nil {
			return err
		}
		delete(db.ordered, didx)
	}

	next := db.schema.Clone()
	if err := next.RemoveField(didx); err != nil {
		return err
	}
	return db.resetSchemaLocked(next)
}

// resetSchemaLocked rewrites the metadata heap under the next schema,
// updates the primary index meta offsets in place, swaps the schema, and
// persists its snapshot.
func (db *Database) resetSchemaLocked(next *schema.Schema) error {
	offsets := make(map[string]int64)
	for pk, pair := range db.primary.Items() {
		offsets[pk] = pair.Meta
	}

	newOffsets, err := db.metaHeap.ResetSchema(next, offsets)
	if err != nil {
		return err
	}
	if err := db.primary.SetOffsets(newOffsets); err != nil {
		return err
	}
	db.schema = next
	return db.schema.Save(filepath.Join(db.dir, "schema.idx"))
}

// SearchResult is one similarity search hit.
type SearchResult struct {
	PK       string
	Distance float64
}

// VPSimilaritySearch returns the k nearest rows to the query series
// under the kernelized cross-correlation distance, pruned through the
// vantage points: the closest VP defines a radius of twice its distance
// to the query, and only rows inside that radius are measured.
func (db *Database) VPSimilaritySearch(query types.TimeSeries, k int) ([]SearchResult, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil, &tsdberr.ClosedError{}
	}
	if query.Len() != db.tsLength {
		return nil, &tsdberr.InvalidOperationError{Op: "vp_similarity_search", Reason: "query series has the wrong length"}
	}
	if k <= 0 {
		k = 1
	}

	vps, err := db.bitmaps[schema.FieldVP].Lookup(true)
	if err != nil {
		return nil, err
	}
	if len(vps) == 0 {
		return nil, &tsdberr.InvalidOperationError{Op: "vp_similarity_search", Reason: "no vantage points defined"}
	}

	// distance from the query to every vantage point
	vpKeys := make([]string, 0, len(vps))
	for pk := range vps {
		vpKeys = append(vpKeys, pk)
	}
	sort.Strings(vpKeys)

	nearestVP := ""
	nearestDist := 0.0
	for _, pk := range vpKeys {
		ts, err := db.tsLocked(pk)
		if err != nil {
			return nil, err
		}
		d := distance.Distance(query, ts)
		if nearestVP == "" || d < nearestDist {
			nearestVP = pk
			nearestDist = d
		}
	}

	radius := 2 * nearestDist
	didx := schema.VPDistPrefix + nearestVP

	// rows whose precomputed distance to the nearest VP is inside the
	// radius are the only candidates worth measuring
	pks, _, _, err := db.selectLocked(map[string]any{
		didx: map[string]any{"<=": radius},
	}, nil, nil)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(pks))
	for _, pk := range pks {
		ts, err := db.tsLocked(pk)
		if err != nil {
			return nil, err
		}
		results = append(results, SearchResult{PK: pk, Distance: distance.Distance(query, ts)})
	}

	if len(results) == 0 {
		return nil, &tsdberr.NoMatchError{}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].PK < results[j].PK
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// ISAXSimilaritySearch returns the approximate nearest neighbor of the
// query from the iSAX tree, or NoMatchError when the tree offers no
// suggestion.
func (db *Database) ISAXSimilaritySearch(query types.TimeSeries) (SearchResult, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return SearchResult{}, &tsdberr.ClosedError{}
	}
	if query.Len() != db.tsLength {
		return SearchResult{}, &tsdberr.InvalidOperationError{Op: "isax_similarity_search", Reason: "query series has the wrong length"}
	}

	pk, d, ok := db.tree.Nearest(query)
	if !ok {
		return SearchResult{}, &tsdberr.NoMatchError{}
	}
	return SearchResult{PK: pk, Distance: d}, nil
}

// ISAXTree returns the textual rendering of the iSAX tree.
func (db *Database) ISAXTree() (string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return "", &tsdberr.ClosedError{}
	}
	return db.tree.Render(), nil
}
