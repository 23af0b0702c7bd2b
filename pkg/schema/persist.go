package schema

import (
	"fmt"
	"os"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/bobboyms/tsdb/pkg/types"
)

// identitySentinel is written in place of the identity conversion so the
// stored schema holds only data; it is re-hydrated on load.
const identitySentinel = "IDENTITY"

type storedField struct {
	Type    string `bson:"type"`
	Index   string `bson:"index"`
	Values  []any  `bson:"values,omitempty"`
	Convert string `bson:"convert"`
}

type storedSchema struct {
	Fields map[string]storedField `bson:"fields"`
}

// Save persists the schema snapshot via a staging file and atomic rename.
func (s *Schema) Save(path string) error {
	stored := storedSchema{Fields: make(map[string]storedField, len(s.Fields))}
	for name, f := range s.Fields {
		sf := storedField{
			Type:    f.Type.String(),
			Index:   f.Index.String(),
			Values:  f.Values,
			Convert: f.Type.String(),
		}
		if f.Identity {
			sf.Convert = identitySentinel
		}
		stored.Fields[name] = sf
	}

	data, err := bson.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write schema staging file: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load reads a schema snapshot written by Save.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var stored storedSchema
	if err := bson.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	s := &Schema{Fields: make(map[string]*Field, len(stored.Fields))}
	for name, sf := range stored.Fields {
		ft, err := types.ParseFieldType(sf.Type)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		kind, err := parseIndexKind(sf.Index)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		f := &Field{
			Type:     ft,
			Index:    kind,
			Identity: sf.Convert == identitySentinel,
		}
		for _, v := range sf.Values {
			cv, err := ft.Coerce(v)
			if err != nil {
				return nil, fmt.Errorf("field %q enumerated value: %w", name, err)
			}
			f.Values = append(f.Values, cv)
		}
		s.Fields[name] = f
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func parseIndexKind(code string) (IndexKind, error) {
	switch code {
	case "none":
		return IndexNone, nil
	case "ordered":
		return IndexOrdered, nil
	case "bitmap":
		return IndexBitmap, nil
	}
	return 0, fmt.Errorf("unknown index kind %q", code)
}
