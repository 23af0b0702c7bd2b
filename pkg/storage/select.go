package storage

import (
	"context"
	"sort"

	tsdberr "github.com/bobboyms/tsdb/pkg/errors"
	"github.com/bobboyms/tsdb/pkg/procs"
	"github.com/bobboyms/tsdb/pkg/query"
	"github.com/bobboyms/tsdb/pkg/schema"
	"github.com/bobboyms/tsdb/pkg/trigger"
	"github.com/bobboyms/tsdb/pkg/types"
)

type pkSet map[string]struct{}

func (s pkSet) intersect(other pkSet) pkSet {
	small, large := s, other
	if len(large) < len(small) {
		small, large = large, small
	}
	out := make(pkSet)
	for pk := range small {
		if _, ok := large[pk]; ok {
			out[pk] = struct{}{}
		}
	}
	return out
}

// Select evaluates a metadata predicate and returns the matching pks in
// order with their projected fields. fields semantics: nil returns pks
// only; an empty slice returns all non-reserved metadata plus pk
// (excluding ts and deleted); otherwise just the named fields, with "ts"
// pulling the series from the TS heap. Any select triggers run after
// the result set is computed; their results are discarded.
func (db *Database) Select(ctx context.Context, predicate map[string]any, fields []string, additional map[string]any) ([]string, []map[string]any, error) {
	db.mu.Lock()

	if db.closed {
		db.mu.Unlock()
		return nil, nil, &tsdberr.ClosedError{}
	}

	pks, projected, rows, err := db.selectLocked(predicate, fields, additional)
	db.mu.Unlock()
	if err != nil {
		return nil, nil, err
	}

	if err := db.triggers.Fire(ctx, trigger.EventSelect, rows, nil); err != nil {
		return nil, nil, err
	}

	return pks, projected, nil
}

func (db *Database) selectLocked(predicate map[string]any, fields []string, additional map[string]any) ([]string, []map[string]any, []procs.Row, error) {
	add, err := query.ParseAdditional(additional)
	if err != nil {
		return nil, nil, nil, &tsdberr.InvalidOperationError{Op: "select", Reason: err.Error()}
	}

	pks, err := db.evaluateLocked(predicate)
	if err != nil {
		return nil, nil, nil, err
	}

	ordered, err := db.orderLocked(pks, add)
	if err != nil {
		return nil, nil, nil, err
	}

	projected, err := db.projectLocked(ordered, fields)
	if err != nil {
		return nil, nil, nil, err
	}

	// materialize rows for the select-event triggers while the lock is
	// still held
	var rows []procs.Row
	if len(db.triggers.List(trigger.EventSelect)) > 0 {
		for _, pk := range ordered {
			row, err := db.rowLocked(pk)
			if err != nil {
				return nil, nil, nil, err
			}
			rows = append(rows, row)
		}
	}

	return ordered, projected, rows, nil
}

// evaluateLocked computes the matching pk set: all pks, minus deleted,
// intersected with each predicate entry.
func (db *Database) evaluateLocked(predicate map[string]any) (pkSet, error) {
	candidates := make(pkSet)
	for _, pk := range db.primary.Keys() {
		candidates[pk] = struct{}{}
	}

	// the "deleted" bitmap answers the not-deleted intersection
	if deleted, ok := db.bitmaps[schema.FieldDeleted]; ok {
		live, err := deleted.Lookup(false)
		if err != nil {
			return nil, err
		}
		candidates = candidates.intersect(live)
	}

	for field, raw := range predicate {
		constraint, err := query.ParseConstraint(raw)
		if err != nil {
			return nil, &tsdberr.InvalidOperationError{Op: "select", Reason: err.Error()}
		}

		if field == schema.FieldPK {
			matched, err := db.matchPK(candidates, constraint)
			if err != nil {
				return nil, err
			}
			candidates = candidates.intersect(matched)
			continue
		}

		f := db.schema.Field(field)
		if f == nil {
			// predicates on fields outside the schema match nothing
			// they constrain; skip them
			continue
		}

		var matched pkSet
		switch {
		case db.ordered[field] != nil:
			matched, err = db.matchOrdered(field, f, constraint)
		case db.bitmaps[field] != nil:
			matched, err = db.matchBitmap(field, f, constraint)
		default:
			matched, err = db.matchScan(candidates, field, f, constraint)
		}
		if err != nil {
			return nil, err
		}
		candidates = candidates.intersect(matched)
		if len(candidates) == 0 {
			break
		}
	}

	return candidates, nil
}

func (db *Database) matchPK(candidates pkSet, c *query.Constraint) (pkSet, error) {
	matched := make(pkSet)
	check := func(pk string) (bool, error) {
		return c.MatchValue(types.TypeString, pk)
	}
	switch c.Kind {
	case query.KindScalar:
		pk, err := types.TypeString.Coerce(c.Scalar)
		if err != nil {
			return nil, &tsdberr.InvalidOperationError{Op: "select", Reason: err.Error()}
		}
		if db.primary.Has(pk.(string)) {
			matched[pk.(string)] = struct{}{}
		}
	default:
		for pk := range candidates {
			ok, err := check(pk)
			if err != nil {
				return nil, err
			}
			if ok {
				matched[pk] = struct{}{}
			}
		}
	}
	return matched, nil
}

func (db *Database) matchOrdered(field string, f *schema.Field, c *query.Constraint) (pkSet, error) {
	idx := db.ordered[field]
	matched := make(pkSet)

	switch c.Kind {
	case query.KindCompare:
		// scan the index keys, apply the comparators, union the sets
		conds := make([]struct {
			op  query.ScanOperator
			key types.Comparable
		}, 0, len(c.Conditions))
		for _, cond := range c.Conditions {
			key, err := f.Type.Key(cond.Value)
			if err != nil {
				return nil, err
			}
			conds = append(conds, struct {
				op  query.ScanOperator
				key types.Comparable
			}{cond.Op, key})
		}
		idx.Ascend(func(key types.Comparable, pks []string) bool {
			for _, cond := range conds {
				if !cond.op.Matches(key, cond.key) {
					return true
				}
			}
			for _, pk := range pks {
				matched[pk] = struct{}{}
			}
			return true
		})
	case query.KindIn:
		for _, member := range c.In {
			set, err := idx.Lookup(member)
			if err != nil {
				return nil, err
			}
			for pk := range set {
				matched[pk] = struct{}{}
			}
		}
	default:
		set, err := idx.Lookup(c.Scalar)
		if err != nil {
			return nil, err
		}
		matched = set
	}
	return matched, nil
}

func (db *Database) matchBitmap(field string, f *schema.Field, c *query.Constraint) (pkSet, error) {
	idx := db.bitmaps[field]
	matched := make(pkSet)

	switch c.Kind {
	case query.KindCompare:
		for _, v := range idx.Keys() {
			key, err := f.Type.Key(v)
			if err != nil {
				return nil, err
			}
			pass := true
			for _, cond := range c.Conditions {
				want, err := f.Type.Key(cond.Value)
				if err != nil {
					return nil, err
				}
				if !cond.Op.Matches(key, want) {
					pass = false
					break
				}
			}
			if !pass {
				continue
			}
			set, err := idx.Lookup(v)
			if err != nil {
				return nil, err
			}
			for pk := range set {
				matched[pk] = struct{}{}
			}
		}
	case query.KindIn:
		for _, member := range c.In {
			set, err := idx.Lookup(member)
			if err != nil {
				return nil, err
			}
			for pk := range set {
				matched[pk] = struct{}{}
			}
		}
	default:
		set, err := idx.Lookup(c.Scalar)
		if err != nil {
			return nil, err
		}
		matched = set
	}
	return matched, nil
}

// matchScan is the row-wise fallback for unindexed fields: read each
// candidate's metadata and evaluate the constraint directly.
func (db *Database) matchScan(candidates pkSet, field string, f *schema.Field, c *query.Constraint) (pkSet, error) {
	matched := make(pkSet)
	for pk := range candidates {
		meta, err := db.metaLocked(pk)
		if err != nil {
			return nil, err
		}
		v, ok := meta[field]
		if !ok {
			continue
		}
		hit, err := c.MatchValue(f.Type, v)
		if err != nil {
			return nil, err
		}
		if hit {
			matched[pk] = struct{}{}
		}
	}
	return matched, nil
}

// orderLocked applies sort_by and limit. sort_by must reference an
// indexed field or the primary key; without sort_by, pks come back in
// lexicographic order so results are stable on the wire.
func (db *Database) orderLocked(pks pkSet, add *query.Additional) ([]string, error) {
	out := make([]string, 0, len(pks))
	for pk := range pks {
		out = append(out, pk)
	}
	sort.Strings(out)

	if add.SortBy != nil {
		field := add.SortBy.Field
		switch {
		case field == schema.FieldPK:
			// lexicographic order, already applied
			if add.SortBy.Descending {
				reverse(out)
			}
		case db.ordered[field] != nil:
			ranked := make([]string, 0, len(out))
			seen := make(pkSet, len(out))
			db.ordered[field].Ascend(func(_ types.Comparable, members []string) bool {
				sort.Strings(members)
				for _, pk := range members {
					if _, ok := pks[pk]; ok {
						ranked = append(ranked, pk)
						seen[pk] = struct{}{}
					}
				}
				return true
			})
			// rows that predate the field's index entry sort last
			for _, pk := range out {
				if _, ok := seen[pk]; !ok {
					ranked = append(ranked, pk)
				}
			}
			if add.SortBy.Descending {
				reverse(ranked)
			}
			out = ranked
		case db.bitmaps[field] != nil:
			// few enumerated values: rank value groups in key order
			f := db.schema.Field(field)
			var ranked []string
			seen := make(pkSet, len(out))
			keys := db.bitmaps[field].Keys()
			sort.Slice(keys, func(i, j int) bool {
				a, errA := f.Type.Key(keys[i])
				b, errB := f.Type.Key(keys[j])
				if errA != nil || errB != nil {
					return false
				}
				return a.Compare(b) < 0
			})
			for _, v := range keys {
				set, err := db.bitmaps[field].Lookup(v)
				if err != nil {
					return nil, err
				}
				members := make([]string, 0, len(set))
				for pk := range set {
					if _, ok := pks[pk]; ok {
						members = append(members, pk)
					}
				}
				sort.Strings(members)
				for _, pk := range members {
					ranked = append(ranked, pk)
					seen[pk] = struct{}{}
				}
			}
			for _, pk := range out {
				if _, ok := seen[pk]; !ok {
					ranked = append(ranked, pk)
				}
			}
			if add.SortBy.Descending {
				reverse(ranked)
			}
			out = ranked
		default:
			return nil, &tsdberr.UnknownFieldError{Field: field}
		}
	}

	if add.Limit > 0 && len(out) > add.Limit {
		out = out[:add.Limit]
	}

	return out, nil
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// projectLocked extracts the requested fields per pk.
func (db *Database) projectLocked(pks []string, fields []string) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(pks))

	if fields == nil {
		for range pks {
			out = append(out, map[string]any{})
		}
		return out, nil
	}

	if len(fields) == 0 {
		for _, pk := range pks {
			meta, err := db.metaLocked(pk)
			if err != nil {
				return nil, err
			}
			delete(meta, schema.FieldDeleted)
			out = append(out, meta)
		}
		return out, nil
	}

	wantTS := false
	for _, f := range fields {
		if f == schema.FieldTS {
			wantTS = true
		}
	}

	for _, pk := range pks {
		meta, err := db.metaLocked(pk)
		if err != nil {
			return nil, err
		}
		projected := make(map[string]any, len(fields))
		for _, f := range fields {
			if v, ok := meta[f]; ok {
				projected[f] = v
			}
		}
		if wantTS {
			ts, err := db.tsLocked(pk)
			if err != nil {
				return nil, err
			}
			projected[schema.FieldTS] = ts
		}
		out = append(out, projected)
	}
	return out, nil
}

// AugmentedSelect runs a stored procedure over every row matched by the
// predicate and returns the zipped target results per pk, without
// writing anything back.
func (db *Database) AugmentedSelect(ctx context.Context, proc string, targets []string, arg any, predicate map[string]any, additional map[string]any) ([]string, []map[string]any, error) {
	handle, err := procs.Lookup(proc)
	if err != nil {
		return nil, nil, &tsdberr.InvalidOperationError{Op: "augmented_select", Reason: err.Error()}
	}

	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil, nil, &tsdberr.ClosedError{}
	}

	pks, _, _, err := db.selectLocked(predicate, nil, additional)
	if err != nil {
		db.mu.Unlock()
		return nil, nil, err
	}

	rows := make([]procs.Row, 0, len(pks))
	for _, pk := range pks {
		row, err := db.rowLocked(pk)
		if err != nil {
			db.mu.Unlock()
			return nil, nil, err
		}
		rows = append(rows, row)
	}
	db.mu.Unlock()

	results := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		values, err := handle(ctx, row.PK, row, arg)
		if err != nil {
			return nil, nil, err
		}
		zipped := make(map[string]any, len(targets))
		for i, target := range targets {
			if i < len(values) {
				zipped[target] = values[i]
			}
		}
		results = append(results, zipped)
	}

	return pks, results, nil
}
