package types

import (
	"fmt"
	"strconv"
)

// FieldType is the closed set of metadata storage types.
type FieldType int

const (
	TypeInt FieldType = iota
	TypeFloat
	TypeBool
	TypeString
)

func (t FieldType) String() string {
	return [...]string{"int", "float", "bool", "string"}[t]
}

// ParseFieldType maps the persisted type code back to a FieldType.
func ParseFieldType(code string) (FieldType, error) {
	switch code {
	case "int":
		return TypeInt, nil
	case "float":
		return TypeFloat, nil
	case "bool":
		return TypeBool, nil
	case "string":
		return TypeString, nil
	}
	return 0, fmt.Errorf("unknown field type code %q", code)
}

// DefaultValue returns the zero value a fresh metadata record holds for
// the type: 0 / 0.0 / false / "".
func (t FieldType) DefaultValue() any {
	switch t {
	case TypeInt:
		return int64(0)
	case TypeFloat:
		return float64(0)
	case TypeBool:
		return false
	default:
		return ""
	}
}

// Coerce converts a dynamically-typed value (typically decoded from JSON
// or BSON, where every number is a float64) into the type's canonical Go
// representation. It replaces the original system's per-field conversion
// functions with one coercer per type code.
func (t FieldType) Coerce(v any) (any, error) {
	switch t {
	case TypeInt:
		switch x := v.(type) {
		case int64:
			return x, nil
		case int:
			return int64(x), nil
		case int32:
			return int64(x), nil
		case float64:
			return int64(x), nil
		case string:
			n, err := strconv.ParseInt(x, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("cannot coerce %q to int: %w", x, err)
			}
			return n, nil
		}
	case TypeFloat:
		switch x := v.(type) {
		case float64:
			return x, nil
		case float32:
			return float64(x), nil
		case int64:
			return float64(x), nil
		case int:
			return float64(x), nil
		case int32:
			return float64(x), nil
		case string:
			f, err := strconv.ParseFloat(x, 64)
			if err != nil {
				return nil, fmt.Errorf("cannot coerce %q to float: %w", x, err)
			}
			return f, nil
		}
	case TypeBool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			b, err := strconv.ParseBool(x)
			if err != nil {
				return nil, fmt.Errorf("cannot coerce %q to bool: %w", x, err)
			}
			return b, nil
		}
	case TypeString:
		switch x := v.(type) {
		case string:
			return x, nil
		case fmt.Stringer:
			return x.String(), nil
		}
	}
	return nil, fmt.Errorf("cannot coerce %T to %s", v, t)
}

// Key wraps a coerced value in the Comparable key type used by the
// secondary indexes.
func (t FieldType) Key(v any) (Comparable, error) {
	cv, err := t.Coerce(v)
	if err != nil {
		return nil, err
	}
	switch t {
	case TypeInt:
		return IntKey(cv.(int64)), nil
	case TypeFloat:
		return FloatKey(cv.(float64)), nil
	case TypeBool:
		return BoolKey(cv.(bool)), nil
	default:
		return VarcharKey(cv.(string)), nil
	}
}
