package isax

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/bobboyms/tsdb/pkg/types"
)

func randomSeries(r *rand.Rand, n int) types.TimeSeries {
	times := make([]float64, n)
	values := make([]float64, n)
	for i := 0; i < n; i++ {
		times[i] = float64(i)
		values[i] = r.NormFloat64()
	}
	return types.TimeSeries{Times: times, Values: values}
}

func TestBreakpoints(t *testing.T) {
	bp := Breakpoints(4)
	if len(bp) != 3 {
		t.Fatalf("expected 3 breakpoints for cardinality 4, got %d", len(bp))
	}
	// quartiles of the standard normal
	if math.Abs(bp[0]+0.6744897501960817) > 1e-9 {
		t.Errorf("bp[0] = %g", bp[0])
	}
	if math.Abs(bp[1]) > 1e-9 {
		t.Errorf("bp[1] = %g, want 0", bp[1])
	}
	if math.Abs(bp[2]-0.6744897501960817) > 1e-9 {
		t.Errorf("bp[2] = %g", bp[2])
	}
}

func TestWordShape(t *testing.T) {
	values := make([]float64, 100)
	for i := range values {
		values[i] = float64(i)
	}

	word := Word(values, 4, 4)
	codes := strings.Fields(word)
	if len(codes) != 4 {
		t.Fatalf("expected 4 chunks, got %q", word)
	}
	for _, code := range codes {
		if len(code) != 2 {
			t.Errorf("cardinality 4 should give 2-digit codes, got %q", code)
		}
	}

	// a rising ramp starts in the lowest band (all ones) and ends in
	// the highest (all zeros)
	if codes[0] != "11" {
		t.Errorf("first chunk of a ramp should be the lowest band, got %q", codes[0])
	}
	if codes[3] != "00" {
		t.Errorf("last chunk of a ramp should be the highest band, got %q", codes[3])
	}
}

func TestWordHigherCardinality(t *testing.T) {
	values := make([]float64, 64)
	for i := range values {
		values[i] = math.Sin(float64(i))
	}

	word := Word(values, 4, 8)
	for _, code := range strings.Fields(word) {
		if len(code) != 3 {
			t.Errorf("cardinality 8 should give 3-digit codes, got %q", code)
		}
	}
}

func TestInsertAndNearestRoundTrip(t *testing.T) {
	tree := New()
	r := rand.New(rand.NewSource(42))

	stored := make(map[string]types.TimeSeries)
	for i := 0; i < 40; i++ {
		pk := fmt.Sprintf("ts-%d", i)
		ts := randomSeries(r, 100)
		stored[pk] = ts
		tree.Insert(ts, pk)
	}

	// every inserted series finds itself
	for pk, ts := range stored {
		got, dist, ok := tree.Nearest(ts)
		if !ok {
			t.Fatalf("Nearest(%s) found nothing", pk)
		}
		if got != pk {
			t.Errorf("Nearest(%s) = %s", pk, got)
		}
		if dist != 0 {
			t.Errorf("Nearest(%s) distance = %g, want 0", pk, dist)
		}
	}
}

func TestDuplicateSeriesIgnored(t *testing.T) {
	tree := New()
	r := rand.New(rand.NewSource(1))
	ts := randomSeries(r, 100)

	tree.Insert(ts, "first")
	tree.Insert(ts.Clone(), "second")

	pk, _, ok := tree.Nearest(ts)
	if !ok || pk != "first" {
		t.Errorf("duplicate insert should be ignored, Nearest = %q", pk)
	}
}

func TestDelete(t *testing.T) {
	tree := New()
	r := rand.New(rand.NewSource(2))

	a := randomSeries(r, 100)
	tree.Insert(a, "a")

	tree.Delete(a)
	if _, _, ok := tree.Nearest(a); ok {
		t.Error("deleted series still found")
	}

	// deleting a missing series is a no-op
	tree.Delete(randomSeries(r, 100))
}

func TestLeafSplit(t *testing.T) {
	tree := New()
	r := rand.New(rand.NewSource(3))

	// drive well past the leaf threshold so at least one split occurs
	stored := make(map[string]types.TimeSeries)
	for i := 0; i < 60; i++ {
		pk := fmt.Sprintf("s-%d", i)
		ts := randomSeries(r, 100)
		stored[pk] = ts
		tree.Insert(ts, pk)
	}

	internal := false
	for _, n := range tree.arena[1:] {
		if len(n.children) > 0 {
			internal = true
			break
		}
	}
	if !internal {
		t.Skip("no split occurred with this data; threshold unreached per word")
	}

	// splits must not lose series
	for pk, ts := range stored {
		got, _, ok := tree.Nearest(ts)
		if !ok || got != pk {
			t.Errorf("after splits, Nearest(%s) = %q, %v", pk, got, ok)
		}
	}
}

func TestRender(t *testing.T) {
	tree := New()
	r := rand.New(rand.NewSource(4))

	out := tree.Render()
	if !strings.HasPrefix(out, "root") {
		t.Errorf("render should start with the root label, got %q", out)
	}

	for i := 0; i < 10; i++ {
		tree.Insert(randomSeries(r, 100), fmt.Sprintf("r-%d", i))
	}

	out = tree.Render()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 2 {
		t.Fatalf("expected at least root and one node, got %q", out)
	}
	for _, line := range lines[1:] {
		if !strings.HasPrefix(line, "--->") {
			t.Errorf("level-1 nodes should be indented with --->, got %q", line)
		}
		if !strings.Contains(line, ": ") {
			t.Errorf("node lines should carry a count, got %q", line)
		}
	}
}
