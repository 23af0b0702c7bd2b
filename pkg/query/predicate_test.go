package query

import (
	"testing"

	"github.com/bobboyms/tsdb/pkg/types"
)

func TestParseOperator(t *testing.T) {
	valid := map[string]ScanOperator{
		"==": OpEqual, "!=": OpNotEqual,
		">": OpGreaterThan, ">=": OpGreaterOrEqual,
		"<": OpLessThan, "<=": OpLessOrEqual,
	}
	for token, want := range valid {
		got, err := ParseOperator(token)
		if err != nil {
			t.Errorf("ParseOperator(%q): %v", token, err)
		}
		if got != want {
			t.Errorf("ParseOperator(%q) = %v, want %v", token, got, want)
		}
	}
	if _, err := ParseOperator("~="); err == nil {
		t.Error("expected error for unknown comparator")
	}
}

func TestOperatorMatches(t *testing.T) {
	five := types.IntKey(5)
	three := types.IntKey(3)

	cases := []struct {
		op   ScanOperator
		want bool
	}{
		{OpEqual, false},
		{OpNotEqual, true},
		{OpGreaterThan, true},
		{OpGreaterOrEqual, true},
		{OpLessThan, false},
		{OpLessOrEqual, false},
	}
	for _, tc := range cases {
		if got := tc.op.Matches(five, three); got != tc.want {
			t.Errorf("5 %v 3 = %v, want %v", tc.op, got, tc.want)
		}
	}
}

func TestParseConstraintForms(t *testing.T) {
	c, err := ParseConstraint(map[string]any{">=": 5.0, "<": 10.0})
	if err != nil {
		t.Fatal(err)
	}
	if c.Kind != KindCompare || len(c.Conditions) != 2 {
		t.Errorf("comparator form misparsed: %+v", c)
	}

	c, err = ParseConstraint([]any{1.0, 2.0})
	if err != nil {
		t.Fatal(err)
	}
	if c.Kind != KindIn || len(c.In) != 2 {
		t.Errorf("list form misparsed: %+v", c)
	}

	c, err = ParseConstraint(7.0)
	if err != nil {
		t.Fatal(err)
	}
	if c.Kind != KindScalar {
		t.Errorf("scalar form misparsed: %+v", c)
	}

	if _, err := ParseConstraint(map[string]any{"between": 1}); err == nil {
		t.Error("expected error for unknown comparator key")
	}
}

func TestMatchValue(t *testing.T) {
	compare, _ := ParseConstraint(map[string]any{">=": 5.0})
	in, _ := ParseConstraint([]any{3.0, 7.0})
	scalar, _ := ParseConstraint(7.0)

	cases := []struct {
		c     *Constraint
		value any
		want  bool
	}{
		{compare, int64(7), true},
		{compare, int64(4), false},
		{in, int64(3), true},
		{in, int64(4), false},
		{scalar, int64(7), true},
		{scalar, int64(8), false},
	}
	for i, tc := range cases {
		got, err := tc.c.MatchValue(types.TypeInt, tc.value)
		if err != nil {
			t.Errorf("case %d: %v", i, err)
			continue
		}
		if got != tc.want {
			t.Errorf("case %d: got %v, want %v", i, got, tc.want)
		}
	}
}

func TestParseSortBy(t *testing.T) {
	cases := []struct {
		spec string
		field string
		desc bool
	}{
		{"+order", "order", false},
		{"-order", "order", true},
		{"order", "order", false},
	}
	for _, tc := range cases {
		s, err := ParseSortBy(tc.spec)
		if err != nil {
			t.Errorf("ParseSortBy(%q): %v", tc.spec, err)
			continue
		}
		if s.Field != tc.field || s.Descending != tc.desc {
			t.Errorf("ParseSortBy(%q) = %+v", tc.spec, s)
		}
	}

	if _, err := ParseSortBy(""); err == nil {
		t.Error("expected error for empty sort_by")
	}
	if _, err := ParseSortBy("-"); err == nil {
		t.Error("expected error for bare direction")
	}
}

func TestParseAdditional(t *testing.T) {
	add, err := ParseAdditional(map[string]any{"sort_by": "-order", "limit": 2.0})
	if err != nil {
		t.Fatal(err)
	}
	if add.SortBy == nil || !add.SortBy.Descending || add.SortBy.Field != "order" {
		t.Errorf("sort misparsed: %+v", add.SortBy)
	}
	if add.Limit != 2 {
		t.Errorf("limit misparsed: %d", add.Limit)
	}

	add, err = ParseAdditional(nil)
	if err != nil {
		t.Fatal(err)
	}
	if add.SortBy != nil || add.Limit != 0 {
		t.Errorf("nil additional should be empty: %+v", add)
	}

	if _, err := ParseAdditional(map[string]any{"limit": -1.0}); err == nil {
		t.Error("expected error for non-positive limit")
	}
}
