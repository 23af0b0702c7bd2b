package index

import (
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/bobboyms/tsdb/pkg/btree"
	"github.com/bobboyms/tsdb/pkg/types"
)

// Ordered is the secondary index for high-cardinality fields: a B+ tree
// keyed by field value, posting sets of pks at the leaves. In-order leaf
// traversal backs range predicates and indexed sorts.
type Ordered struct {
	fieldType types.FieldType
	tree      *btree.BPlusTree
	log       *StateLog
}

type orderedEntry struct {
	Key any      `bson:"key"`
	PKs []string `bson:"pks"`
}

type orderedSnapshot struct {
	Entries []orderedEntry `bson:"entries"`
}

type orderedMutation struct {
	Op  string `bson:"op"` // "add_key" | "remove_key" | "add_pk" | "remove_pk"
	Key any    `bson:"key"`
	PK  string `bson:"pk,omitempty"`
}

// OpenOrdered loads an ordered index for a field of the given type,
// replaying and promoting any uncommitted log content first.
func OpenOrdered(snapshotPath, logPath string, fieldType types.FieldType) (*Ordered, error) {
	log, snapshot, pending, err := OpenStateLog(snapshotPath, logPath)
	if err != nil {
		return nil, err
	}

	idx := &Ordered{
		fieldType: fieldType,
		tree:      btree.NewTree(btree.DefaultDegree),
		log:       log,
	}

	if snapshot != nil {
		var stored orderedSnapshot
		if err := bson.Unmarshal(snapshot, &stored); err != nil {
			log.Close()
			return nil, fmt.Errorf("failed to decode ordered index snapshot: %w", err)
		}
		for _, entry := range stored.Entries {
			key, err := fieldType.Key(entry.Key)
			if err != nil {
				log.Close()
				return nil, err
			}
			set := idx.tree.GetOrCreate(key)
			for _, pk := range entry.PKs {
				set.Add(pk)
			}
		}
	}

	for _, payload := range pending {
		var m orderedMutation
		if err := bson.Unmarshal(payload, &m); err != nil {
			log.Close()
			return nil, fmt.Errorf("failed to decode ordered index log entry: %w", err)
		}
		if err := idx.apply(m); err != nil {
			log.Close()
			return nil, err
		}
	}
	if len(pending) > 0 {
		if err := idx.promote(); err != nil {
			log.Close()
			return nil, err
		}
	}

	return idx, nil
}

func (o *Ordered) apply(m orderedMutation) error {
	key, err := o.fieldType.Key(m.Key)
	if err != nil {
		return err
	}
	switch m.Op {
	case "add_key":
		o.tree.GetOrCreate(key)
	case "remove_key":
		o.tree.Delete(key)
	case "add_pk":
		o.tree.GetOrCreate(key).Add(m.PK)
	case "remove_pk":
		if set, ok := o.tree.Get(key); ok {
			set.Remove(m.PK)
			if set.Len() == 0 {
				o.tree.Delete(key)
			}
		}
	}
	return nil
}

func (o *Ordered) record(m orderedMutation) error {
	payload, err := bson.Marshal(m)
	if err != nil {
		return err
	}
	return o.log.Record(payload)
}

// AddKey registers a value with an empty posting set.
func (o *Ordered) AddKey(v any) error {
	cv, err := o.fieldType.Coerce(v)
	if err != nil {
		return err
	}
	if err := o.record(orderedMutation{Op: "add_key", Key: cv}); err != nil {
		return err
	}
	return o.apply(orderedMutation{Op: "add_key", Key: cv})
}

// RemoveKey drops a value and every pk under it.
func (o *Ordered) RemoveKey(v any) error {
	cv, err := o.fieldType.Coerce(v)
	if err != nil {
		return err
	}
	if err := o.record(orderedMutation{Op: "remove_key", Key: cv}); err != nil {
		return err
	}
	return o.apply(orderedMutation{Op: "remove_key", Key: cv})
}

// AddPK adds pk under value v, creating the key if needed.
func (o *Ordered) AddPK(v any, pk string) error {
	cv, err := o.fieldType.Coerce(v)
	if err != nil {
		return err
	}
	m := orderedMutation{Op: "add_pk", Key: cv, PK: pk}
	if err := o.record(m); err != nil {
		return err
	}
	return o.apply(m)
}

// RemovePK removes pk from under value v; the key vanishes when its
// posting set empties.
func (o *Ordered) RemovePK(v any, pk string) error {
	cv, err := o.fieldType.Coerce(v)
	if err != nil {
		return err
	}
	m := orderedMutation{Op: "remove_pk", Key: cv, PK: pk}
	if err := o.record(m); err != nil {
		return err
	}
	return o.apply(m)
}

// Lookup returns the pks stored under v.
func (o *Ordered) Lookup(v any) (map[string]struct{}, error) {
	key, err := o.fieldType.Key(v)
	if err != nil {
		return nil, err
	}
	set, ok := o.tree.Get(key)
	if !ok {
		return map[string]struct{}{}, nil
	}
	out := make(map[string]struct{}, set.Len())
	for _, pk := range set.Slice() {
		out[pk] = struct{}{}
	}
	return out, nil
}

// Keys returns every value in ascending order.
func (o *Ordered) Keys() []types.Comparable {
	return o.tree.Keys()
}

// Values returns the posting sets in key order.
func (o *Ordered) Values() [][]string {
	var out [][]string
	o.tree.Ascend(func(_ types.Comparable, set btree.PKSet) bool {
		out = append(out, set.Slice())
		return true
	})
	return out
}

// Item is one (value, pks) pair of an index in key order.
type Item struct {
	Key types.Comparable
	PKs []string
}

// Items returns (value, pks) pairs in ascending key order.
func (o *Ordered) Items() []Item {
	var out []Item
	o.tree.Ascend(func(key types.Comparable, set btree.PKSet) bool {
		out = append(out, Item{Key: key, PKs: set.Slice()})
		return true
	})
	return out
}

// Ascend walks (value, pks) pairs in ascending order until fn returns
// false.
func (o *Ordered) Ascend(fn func(key types.Comparable, pks []string) bool) {
	o.tree.Ascend(func(key types.Comparable, set btree.PKSet) bool {
		return fn(key, set.Slice())
	})
}

func (o *Ordered) promote() error {
	var entries []orderedEntry
	o.tree.Ascend(func(key types.Comparable, set btree.PKSet) bool {
		entries = append(entries, orderedEntry{Key: comparableValue(key), PKs: set.Slice()})
		return true
	})
	state, err := bson.Marshal(orderedSnapshot{Entries: entries})
	if err != nil {
		return err
	}
	return o.log.Promote(state)
}

// Commit promotes the log into the snapshot.
func (o *Ordered) Commit() error {
	return o.promote()
}

// Close promotes and closes the log.
func (o *Ordered) Close() error {
	if err := o.promote(); err != nil {
		o.log.Close()
		return err
	}
	return o.log.Close()
}

// Erase closes the index and removes its files. Used when the field is
// dropped from the schema.
func (o *Ordered) Erase() error {
	if err := o.log.Close(); err != nil {
		return err
	}
	return o.log.Erase()
}

func comparableValue(key types.Comparable) any {
	switch k := key.(type) {
	case types.IntKey:
		return int64(k)
	case types.FloatKey:
		return float64(k)
	case types.BoolKey:
		return bool(k)
	case types.VarcharKey:
		return string(k)
	}
	return nil
}
