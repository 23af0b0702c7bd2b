package procs

import (
	"context"
	"math"
	"testing"

	"github.com/bobboyms/tsdb/pkg/types"
)

func rampRow(pk string) Row {
	times := make([]float64, 100)
	values := make([]float64, 100)
	for i := 0; i < 100; i++ {
		times[i] = float64(i)
		values[i] = float64(i) - 50
	}
	return Row{PK: pk, TS: types.TimeSeries{Times: times, Values: values}}
}

func TestLookup(t *testing.T) {
	for _, name := range []string{"stats", "corr", "junk"} {
		if _, err := Lookup(name); err != nil {
			t.Errorf("Lookup(%q): %v", name, err)
		}
	}
	if _, err := Lookup("nonsense"); err == nil {
		t.Error("expected error for unknown procedure")
	}
}

func TestRegister(t *testing.T) {
	if err := Register("", Junk); err == nil {
		t.Error("expected error registering an empty name")
	}
	if err := Register("custom", Junk); err != nil {
		t.Fatal(err)
	}
	if _, err := Lookup("custom"); err != nil {
		t.Errorf("registered procedure not found: %v", err)
	}
}

func TestStats(t *testing.T) {
	results, err := Stats(context.Background(), "a", rampRow("a"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected [mean, std], got %v", results)
	}

	mean := results[0].(float64)
	std := results[1].(float64)
	if math.Abs(mean-(-0.5)) > 1e-9 {
		t.Errorf("mean = %f, want -0.5", mean)
	}
	if math.Abs(std-28.866) > 1e-3 {
		t.Errorf("std = %f, want ~28.866", std)
	}
}

func TestCorrSelfDistance(t *testing.T) {
	row := rampRow("a")

	// the argument arrives as the wire-shaped [times, values] pair
	arg := [][]float64{row.TS.Times, row.TS.Values}
	results, err := Corr(context.Background(), "a", row, arg)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("expected one distance, got %v", results)
	}
	if d := results[0].(float64); math.Abs(d) > 1e-6 {
		t.Errorf("self distance = %g, want ~0", d)
	}
}

func TestCorrBadArgument(t *testing.T) {
	if _, err := Corr(context.Background(), "a", rampRow("a"), "not a series"); err == nil {
		t.Error("expected error for a non-decodable argument")
	}
}

func TestJunk(t *testing.T) {
	results, err := Junk(context.Background(), "a", rampRow("a"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0] != nil {
		t.Errorf("junk should return [nil], got %v", results)
	}
}
