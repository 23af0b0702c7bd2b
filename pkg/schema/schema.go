package schema

import (
	"fmt"
	"sort"

	"github.com/bobboyms/tsdb/pkg/types"
)

// Reserved field names. "pk" lives in the primary index, "ts" in the TS
// heap; neither is packed into metadata records.
const (
	FieldPK = "pk"
	FieldTS = "ts"
)

// Always-present bitmap-indexed boolean fields.
const (
	FieldDeleted = "deleted"
	FieldVP      = "vp"
)

// VP distance fields are named d_vp_<pk>.
const VPDistPrefix = "d_vp_"

// IndexKind selects the secondary index structure for a field.
type IndexKind int

const (
	IndexNone    IndexKind = iota
	IndexOrdered           // balanced tree, high cardinality
	IndexBitmap            // bitmap, enumerated low cardinality
)

func (k IndexKind) String() string {
	return [...]string{"none", "ordered", "bitmap"}[k]
}

// Field describes one schema entry: storage type, index kind, and the
// enumerated values a bitmap-indexed field may take.
type Field struct {
	Type   types.FieldType
	Index  IndexKind
	Values []any // required iff Index == IndexBitmap
	// Identity marks fields whose values pass through unconverted
	// (persisted as the IDENTITY sentinel, resolved on load).
	Identity bool
}

// Coerce applies the field's conversion to a raw value.
func (f *Field) Coerce(v any) (any, error) {
	if f.Identity {
		return v, nil
	}
	return f.Type.Coerce(v)
}

// Schema maps field names to descriptors. It is owned by the database
// facade and mutated only under its lock (VP insertion and removal).
type Schema struct {
	Fields map[string]*Field
}

// New builds a schema from the given fields, forcing the reserved and
// always-present entries into place.
func New(fields map[string]*Field) (*Schema, error) {
	s := &Schema{Fields: make(map[string]*Field, len(fields)+4)}
	for name, f := range fields {
		s.Fields[name] = f
	}
	s.Fields[FieldPK] = &Field{Type: types.TypeString, Index: IndexNone, Identity: true}
	s.Fields[FieldTS] = &Field{Type: types.TypeInt, Index: IndexNone, Identity: true}
	s.Fields[FieldDeleted] = boolBitmapField()
	s.Fields[FieldVP] = boolBitmapField()
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func boolBitmapField() *Field {
	return &Field{
		Type:   types.TypeBool,
		Index:  IndexBitmap,
		Values: []any{false, true},
	}
}

func (s *Schema) validate() error {
	for name, f := range s.Fields {
		if f.Index == IndexBitmap && len(f.Values) == 0 {
			return fmt.Errorf("bitmap field %q has no enumerated values", name)
		}
		if f.Index != IndexBitmap && len(f.Values) != 0 {
			return fmt.Errorf("field %q enumerates values but is not bitmap indexed", name)
		}
	}
	return nil
}

// Default is the stock server schema: the fields the original deployment
// indexes out of the box, before any vantage points extend it.
func Default() *Schema {
	s, err := New(map[string]*Field{
		"order":   {Type: types.TypeInt, Index: IndexOrdered},
		"blarg":   {Type: types.TypeInt, Index: IndexOrdered},
		"useless": {Type: types.TypeInt, Index: IndexOrdered, Identity: true},
		"mean":    {Type: types.TypeFloat, Index: IndexOrdered},
		"std":     {Type: types.TypeFloat, Index: IndexOrdered},
	})
	if err != nil {
		panic(err) // static schema, cannot fail
	}
	return s
}

// Has reports whether the field exists (reserved fields included).
func (s *Schema) Has(name string) bool {
	_, ok := s.Fields[name]
	return ok
}

// Field returns the descriptor for name, or nil.
func (s *Schema) Field(name string) *Field {
	return s.Fields[name]
}

// PackedFields returns the names laid out in metadata records: every
// non-reserved field, sorted lexicographically.
func (s *Schema) PackedFields() []string {
	names := make([]string, 0, len(s.Fields))
	for name := range s.Fields {
		if name == FieldPK || name == FieldTS {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IndexedFields returns the non-reserved fields carrying an index, sorted.
func (s *Schema) IndexedFields() []string {
	names := make([]string, 0, len(s.Fields))
	for name, f := range s.Fields {
		if name == FieldPK || name == FieldTS {
			continue
		}
		if f.Index != IndexNone {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// AddField extends the schema. The caller resets the metadata heap
// afterwards so records pick up the new layout.
func (s *Schema) AddField(name string, f *Field) error {
	if s.Has(name) {
		return fmt.Errorf("field %q already in schema", name)
	}
	if f.Index == IndexBitmap && len(f.Values) == 0 {
		return fmt.Errorf("bitmap field %q has no enumerated values", name)
	}
	s.Fields[name] = f
	return nil
}

// RemoveField drops a non-reserved field from the schema.
func (s *Schema) RemoveField(name string) error {
	switch name {
	case FieldPK, FieldTS, FieldDeleted, FieldVP:
		return fmt.Errorf("field %q cannot be removed", name)
	}
	if !s.Has(name) {
		return fmt.Errorf("field %q not in schema", name)
	}
	delete(s.Fields, name)
	return nil
}

// Clone returns a deep copy. Schema changes operate on a clone and swap
// it in only after the metadata heap has been rewritten, so readers of
// the old layout never see the new one mid-change.
func (s *Schema) Clone() *Schema {
	out := &Schema{Fields: make(map[string]*Field, len(s.Fields))}
	for name, f := range s.Fields {
		cp := *f
		cp.Values = append([]any(nil), f.Values...)
		out.Fields[name] = &cp
	}
	return out
}

// Defaults returns a full packed-field value map holding each field's
// zero value.
func (s *Schema) Defaults() map[string]any {
	values := make(map[string]any)
	for _, name := range s.PackedFields() {
		values[name] = s.Fields[name].Type.DefaultValue()
	}
	return values
}
