package index

import (
	"fmt"
	"os"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/bobboyms/tsdb/pkg/types"
)

// Bitmap is the secondary index for enumerated low-cardinality fields
// (always used for "vp" and "deleted"). Per enumerated value it keeps a
// bit string whose i-th bit is set iff the i-th live pk holds that value,
// alongside a pk -> position mapping.
type Bitmap struct {
	fieldType types.FieldType
	values    []any    // enumerated values, creation order
	columns   [][]byte // bit string per value, same order as values
	positions map[string]int
	maxPos    int
	log       *StateLog
	pksPath   string
}

type bitmapSnapshot struct {
	Values  []any    `bson:"values"`
	Columns [][]byte `bson:"columns"`
	MaxPos  int      `bson:"max_pos"`
}

type bitmapPositions struct {
	Positions map[string]int `bson:"positions"`
}

type bitmapMutation struct {
	Op    string `bson:"op"` // "add_key" | "remove_key" | "add_pk" | "remove_pk"
	Value any    `bson:"value"`
	PK    string `bson:"pk,omitempty"`
}

// OpenBitmap loads a bitmap index. enumerated lists the values the field
// may take (used when the index is new); pksPath is the companion file
// holding the pk position map.
func OpenBitmap(snapshotPath, logPath, pksPath string, fieldType types.FieldType, enumerated []any) (*Bitmap, error) {
	log, snapshot, pending, err := OpenStateLog(snapshotPath, logPath)
	if err != nil {
		return nil, err
	}

	idx := &Bitmap{
		fieldType: fieldType,
		positions: make(map[string]int),
		log:       log,
		pksPath:   pksPath,
	}

	if snapshot != nil {
		var stored bitmapSnapshot
		if err := bson.Unmarshal(snapshot, &stored); err != nil {
			log.Close()
			return nil, fmt.Errorf("failed to decode bitmap index snapshot: %w", err)
		}
		for _, v := range stored.Values {
			cv, err := fieldType.Coerce(v)
			if err != nil {
				log.Close()
				return nil, err
			}
			idx.values = append(idx.values, cv)
		}
		idx.columns = stored.Columns
		if idx.columns == nil {
			idx.columns = make([][]byte, len(idx.values))
		}
		idx.maxPos = stored.MaxPos

		data, err := os.ReadFile(pksPath)
		if err != nil && !os.IsNotExist(err) {
			log.Close()
			return nil, fmt.Errorf("failed to read bitmap pk file %s: %w", pksPath, err)
		}
		if data != nil {
			var pks bitmapPositions
			if err := bson.Unmarshal(data, &pks); err != nil {
				log.Close()
				return nil, fmt.Errorf("failed to decode bitmap pk file: %w", err)
			}
			if pks.Positions != nil {
				idx.positions = pks.Positions
			}
		}
	} else {
		for _, v := range enumerated {
			cv, err := fieldType.Coerce(v)
			if err != nil {
				log.Close()
				return nil, err
			}
			idx.values = append(idx.values, cv)
			idx.columns = append(idx.columns, nil)
		}
	}

	for _, payload := range pending {
		var m bitmapMutation
		if err := bson.Unmarshal(payload, &m); err != nil {
			log.Close()
			return nil, fmt.Errorf("failed to decode bitmap index log entry: %w", err)
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

// bit string helpers

func getBit(bits []byte, i int) bool {
	return bits[i/8]>>(uint(i)%8)&1 == 1
}

func setBit(bits []byte, i int, v bool) {
	if v {
		bits[i/8] |= 1 << (uint(i) % 8)
	} else {
		bits[i/8] &^= 1 << (uint(i) % 8)
	}
}

func appendBit(bits []byte, n int, v bool) []byte {
	if n%8 == 0 {
		bits = append(bits, 0)
	}
	setBit(bits, n, v)
	return bits
}

// deleteBit removes bit i from a string of n bits, shifting higher
// positions down by one.
func deleteBit(bits []byte, n, i int) []byte {
	for j := i; j < n-1; j++ {
		setBit(bits, j, getBit(bits, j+1))
	}
	if n >= 1 {
		setBit(bits, n-1, false)
	}
	if need := (n - 1 + 7) / 8; need < len(bits) {
		bits = bits[:need]
	}
	return bits
}

func (b *Bitmap) valueIndex(v any) int {
	for i, existing := range b.values {
		if existing == v {
			return i
		}
	}
	return -1
}

func (b *Bitmap) apply(m bitmapMutation) error {
	cv, err := b.fieldType.Coerce(m.Value)
	if err != nil {
		return err
	}
	switch m.Op {
	case "add_key":
		if b.valueIndex(cv) >= 0 {
			return nil
		}
		col := make([]byte, (b.maxPos+7)/8)
		b.values = append(b.values, cv)
		b.columns = append(b.columns, col)
	case "remove_key":
		i := b.valueIndex(cv)
		if i < 0 {
			return nil
		}
		b.values = append(b.values[:i], b.values[i+1:]...)
		b.columns = append(b.columns[:i], b.columns[i+1:]...)
	case "add_pk":
		vi := b.valueIndex(cv)
		if vi < 0 {
			return fmt.Errorf("value %v not enumerated for bitmap index", cv)
		}
		if pos, ok := b.positions[m.PK]; ok {
			// existing pk: rewrite its column across all values
			for i := range b.values {
				setBit(b.columns[i], pos, i == vi)
			}
		} else {
			pos = b.maxPos
			b.positions[m.PK] = pos
			b.maxPos++
			for i := range b.values {
				b.columns[i] = appendBit(b.columns[i], pos, i == vi)
			}
		}
	case "remove_pk":
		pos, ok := b.positions[m.PK]
		if !ok {
			return nil
		}
		delete(b.positions, m.PK)
		for pk, p := range b.positions {
			if p > pos {
				b.positions[pk] = p - 1
			}
		}
		for i := range b.columns {
			b.columns[i] = deleteBit(b.columns[i], b.maxPos, pos)
		}
		b.maxPos--
	}
	return nil
}

func (b *Bitmap) record(m bitmapMutation) error {
	payload, err := bson.Marshal(m)
	if err != nil {
		return err
	}
	return b.log.Record(payload)
}

func (b *Bitmap) mutate(op string, v any, pk string) error {
	cv, err := b.fieldType.Coerce(v)
	if err != nil {
		return err
	}
	m := bitmapMutation{Op: op, Value: cv, PK: pk}
	if err := b.record(m); err != nil {
		return err
	}
	return b.apply(m)
}

// AddKey registers a new enumerated value with an all-zero column.
func (b *Bitmap) AddKey(v any) error {
	return b.mutate("add_key", v, "")
}

// RemoveKey drops an enumerated value and its column.
func (b *Bitmap) RemoveKey(v any) error {
	return b.mutate("remove_key", v, "")
}

// AddPK sets pk's value to v: appends a fresh column position for a new
// pk, rewrites the existing position otherwise.
func (b *Bitmap) AddPK(v any, pk string) error {
	return b.mutate("add_pk", v, pk)
}

// RemovePK deletes pk's column from every bit string, shifting higher
// positions down by one.
func (b *Bitmap) RemovePK(v any, pk string) error {
	return b.mutate("remove_pk", v, pk)
}

// Lookup returns the live pks holding value v.
func (b *Bitmap) Lookup(v any) (map[string]struct{}, error) {
	cv, err := b.fieldType.Coerce(v)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{})
	vi := b.valueIndex(cv)
	if vi < 0 {
		return out, nil
	}
	col := b.columns[vi]
	for pk, pos := range b.positions {
		if getBit(col, pos) {
			out[pk] = struct{}{}
		}
	}
	return out, nil
}

// Keys returns the enumerated values with at least one pk.
func (b *Bitmap) Keys() []any {
	var out []any
	for _, v := range b.values {
		set, _ := b.Lookup(v)
		if len(set) > 0 {
			out = append(out, v)
		}
	}
	return out
}

// Values returns the non-empty pk sets in value order.
func (b *Bitmap) Values() []map[string]struct{} {
	var out []map[string]struct{}
	for _, v := range b.values {
		set, _ := b.Lookup(v)
		if len(set) > 0 {
			out = append(out, set)
		}
	}
	return out
}

// BitmapItem is one (value, pks) pair.
type BitmapItem struct {
	Value any
	PKs   map[string]struct{}
}

// Items returns (value, pks) pairs for non-empty values.
func (b *Bitmap) Items() []BitmapItem {
	var out []BitmapItem
	for _, v := range b.values {
		set, _ := b.Lookup(v)
		if len(set) > 0 {
			out = append(out, BitmapItem{Value: v, PKs: set})
		}
	}
	return out
}

// Positions returns the pk -> column position mapping. The position
// order defines the list order of a value's members.
func (b *Bitmap) Positions() map[string]int {
	out := make(map[string]int, len(b.positions))
	for pk, pos := range b.positions {
		out[pk] = pos
	}
	return out
}

func (b *Bitmap) promote() error {
	state, err := bson.Marshal(bitmapSnapshot{
		Values:  b.values,
		Columns: b.columns,
		MaxPos:  b.maxPos,
	})
	if err != nil {
		return err
	}
	if err := b.log.Promote(state); err != nil {
		return err
	}

	pks, err := bson.Marshal(bitmapPositions{Positions: b.positions})
	if err != nil {
		return err
	}
	tmp := b.pksPath + ".tmp"
	if err := os.WriteFile(tmp, pks, 0644); err != nil {
		return fmt.Errorf("failed to write bitmap pk staging file: %w", err)
	}
	return os.Rename(tmp, b.pksPath)
}

// Commit promotes the log into the snapshot.
func (b *Bitmap) Commit() error {
	return b.promote()
}

// Close promotes and closes the log.
func (b *Bitmap) Close() error {
	if err := b.promote(); err != nil {
		b.log.Close()
		return err
	}
	return b.log.Close()
}

// Erase closes the index and removes its files.
func (b *Bitmap) Erase() error {
	if err := b.log.Close(); err != nil {
		return err
	}
	if err := b.log.Erase(); err != nil {
		return err
	}
	if err := os.Remove(b.pksPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
