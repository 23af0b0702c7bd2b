package schema

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/bobboyms/tsdb/pkg/types"
)

// Metadata records are fixed width so they can be rewritten in place.
// int and float fields take 8 bytes little-endian, bool takes 1 byte,
// string takes a 2-byte length prefix plus a fixed payload slot.
const (
	numericWidth    = 8
	boolWidth       = 1
	stringSlotBytes = 62
	stringWidth     = 2 + stringSlotBytes
)

func fieldWidth(t types.FieldType) int {
	switch t {
	case types.TypeInt, types.TypeFloat:
		return numericWidth
	case types.TypeBool:
		return boolWidth
	default:
		return stringWidth
	}
}

// RecordSize is the packed width of one metadata record under this schema.
func (s *Schema) RecordSize() int {
	size := 0
	for _, name := range s.PackedFields() {
		size += fieldWidth(s.Fields[name].Type)
	}
	return size
}

// EncodeRecord packs a complete packed-field value map. Missing fields
// take their defaults; values are coerced to the field's storage type.
func (s *Schema) EncodeRecord(values map[string]any) ([]byte, error) {
	buf := make([]byte, 0, s.RecordSize())
	for _, name := range s.PackedFields() {
		f := s.Fields[name]
		v, ok := values[name]
		if !ok {
			v = f.Type.DefaultValue()
		}
		cv, err := f.Type.Coerce(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		switch f.Type {
		case types.TypeInt:
			buf = binary.LittleEndian.AppendUint64(buf, uint64(cv.(int64)))
		case types.TypeFloat:
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(cv.(float64)))
		case types.TypeBool:
			if cv.(bool) {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
		default:
			str := cv.(string)
			if len(str) > stringSlotBytes {
				return nil, fmt.Errorf("field %q: string exceeds %d bytes", name, stringSlotBytes)
			}
			buf = binary.LittleEndian.AppendUint16(buf, uint16(len(str)))
			slot := make([]byte, stringSlotBytes)
			copy(slot, str)
			buf = append(buf, slot...)
		}
	}
	return buf, nil
}

// DecodeRecord unpacks a record into a packed-field value map.
func (s *Schema) DecodeRecord(buf []byte) (map[string]any, error) {
	if len(buf) != s.RecordSize() {
		return nil, fmt.Errorf("record size mismatch: want %d bytes, got %d", s.RecordSize(), len(buf))
	}
	values := make(map[string]any)
	pos := 0
	for _, name := range s.PackedFields() {
		f := s.Fields[name]
		switch f.Type {
		case types.TypeInt:
			values[name] = int64(binary.LittleEndian.Uint64(buf[pos : pos+numericWidth]))
			pos += numericWidth
		case types.TypeFloat:
			values[name] = math.Float64frombits(binary.LittleEndian.Uint64(buf[pos : pos+numericWidth]))
			pos += numericWidth
		case types.TypeBool:
			values[name] = buf[pos] == 1
			pos += boolWidth
		default:
			n := int(binary.LittleEndian.Uint16(buf[pos : pos+2]))
			if n > stringSlotBytes {
				return nil, fmt.Errorf("field %q: corrupt string length %d", name, n)
			}
			values[name] = string(buf[pos+2 : pos+2+n])
			pos += stringWidth
		}
	}
	return values, nil
}
