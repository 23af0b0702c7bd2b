package query

import (
	"fmt"
	"strings"

	"github.com/bobboyms/tsdb/pkg/types"
)

// Comparison operators accepted in the comparator form of a predicate.
type ScanOperator int

const (
	OpEqual          ScanOperator = iota // ==
	OpNotEqual                           // !=
	OpGreaterThan                        // >
	OpGreaterOrEqual                     // >=
	OpLessThan                           // <
	OpLessOrEqual                        // <=
)

// ParseOperator maps the wire comparator token to a ScanOperator.
func ParseOperator(token string) (ScanOperator, error) {
	switch token {
	case "==":
		return OpEqual, nil
	case "!=":
		return OpNotEqual, nil
	case ">":
		return OpGreaterThan, nil
	case ">=":
		return OpGreaterOrEqual, nil
	case "<":
		return OpLessThan, nil
	case "<=":
		return OpLessOrEqual, nil
	}
	return 0, fmt.Errorf("unknown comparator %q", token)
}

// Matches reports whether key satisfies (key op value).
func (op ScanOperator) Matches(key, value types.Comparable) bool {
	cmp := key.Compare(value)
	switch op {
	case OpEqual:
		return cmp == 0
	case OpNotEqual:
		return cmp != 0
	case OpGreaterThan:
		return cmp > 0
	case OpGreaterOrEqual:
		return cmp >= 0
	case OpLessThan:
		return cmp < 0
	case OpLessOrEqual:
		return cmp <= 0
	default:
		return false
	}
}

// ConstraintKind discriminates the three predicate entry forms.
type ConstraintKind int

const (
	KindCompare ConstraintKind = iota // {">=": 5, "<": 10}
	KindIn                            // [1, 2, 3] — OR within the list
	KindScalar                        // 7 — equality
)

// Condition is one comparator clause of a comparison constraint.
type Condition struct {
	Op    ScanOperator
	Value any
}

// Constraint is one predicate entry. All conditions AND together; list
// members OR together; constraints on different fields AND together.
type Constraint struct {
	Kind       ConstraintKind
	Conditions []Condition // KindCompare
	In         []any       // KindIn
	Scalar     any         // KindScalar
}

// ParseConstraint interprets a decoded predicate entry: a map is the
// comparator form, a slice is membership, anything else is scalar
// equality.
func ParseConstraint(raw any) (*Constraint, error) {
	switch v := raw.(type) {
	case map[string]any:
		c := &Constraint{Kind: KindCompare}
		for token, val := range v {
			op, err := ParseOperator(token)
			if err != nil {
				return nil, err
			}
			c.Conditions = append(c.Conditions, Condition{Op: op, Value: val})
		}
		return c, nil
	case []any:
		return &Constraint{Kind: KindIn, In: v}, nil
	default:
		return &Constraint{Kind: KindScalar, Scalar: raw}, nil
	}
}

// MatchValue evaluates the constraint against a single field value,
// coercing through the field's storage type. Used for the row-scan
// fallback on unindexed fields.
func (c *Constraint) MatchValue(ft types.FieldType, value any) (bool, error) {
	key, err := ft.Key(value)
	if err != nil {
		return false, err
	}
	switch c.Kind {
	case KindCompare:
		for _, cond := range c.Conditions {
			want, err := ft.Key(cond.Value)
			if err != nil {
				return false, err
			}
			if !cond.Op.Matches(key, want) {
				return false, nil
			}
		}
		return true, nil
	case KindIn:
		for _, member := range c.In {
			want, err := ft.Key(member)
			if err != nil {
				return false, err
			}
			if key.Compare(want) == 0 {
				return true, nil
			}
		}
		return false, nil
	default:
		want, err := ft.Key(c.Scalar)
		if err != nil {
			return false, err
		}
		return key.Compare(want) == 0, nil
	}
}

// Sort describes the optional ordering stage of a select.
type Sort struct {
	Field      string
	Descending bool
}

// ParseSortBy interprets "+field" / "-field" / "field" (ascending by
// default).
func ParseSortBy(spec string) (Sort, error) {
	if spec == "" {
		return Sort{}, fmt.Errorf("empty sort_by")
	}
	s := Sort{Field: spec}
	if strings.HasPrefix(spec, "+") {
		s.Field = spec[1:]
	} else if strings.HasPrefix(spec, "-") {
		s.Field = spec[1:]
		s.Descending = true
	}
	if s.Field == "" {
		return Sort{}, fmt.Errorf("sort_by %q names no field", spec)
	}
	return s, nil
}

// Additional holds the optional select modifiers.
type Additional struct {
	SortBy *Sort
	Limit  int // 0 means no limit
}

// ParseAdditional interprets the decoded "additional" map.
func ParseAdditional(raw map[string]any) (*Additional, error) {
	add := &Additional{}
	if raw == nil {
		return add, nil
	}
	if spec, ok := raw["sort_by"]; ok {
		str, ok := spec.(string)
		if !ok {
			return nil, fmt.Errorf("sort_by must be a string, got %T", spec)
		}
		s, err := ParseSortBy(str)
		if err != nil {
			return nil, err
		}
		add.SortBy = &s
	}
	if raw["limit"] != nil {
		limit, err := types.TypeInt.Coerce(raw["limit"])
		if err != nil {
			return nil, fmt.Errorf("limit: %w", err)
		}
		n := limit.(int64)
		if n <= 0 {
			return nil, fmt.Errorf("limit must be positive, got %d", n)
		}
		add.Limit = int(n)
	}
	return add, nil
}
