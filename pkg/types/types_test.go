package types

import (
	"math"
	"testing"
)

func rampSeries(n int) TimeSeries {
	times := make([]float64, n)
	values := make([]float64, n)
	for i := 0; i < n; i++ {
		times[i] = float64(i)
		values[i] = float64(i) - 50
	}
	return TimeSeries{Times: times, Values: values}
}

func TestTimeSeriesMeanStd(t *testing.T) {
	ts := rampSeries(100)

	if got := ts.Mean(); math.Abs(got-(-0.5)) > 1e-9 {
		t.Errorf("Mean: expected -0.5, got %f", got)
	}
	// population std of 100 consecutive integers
	if got := ts.Std(); math.Abs(got-28.86607004772212) > 1e-6 {
		t.Errorf("Std: expected 28.866, got %f", got)
	}
}

func TestNewTimeSeriesLengthCheck(t *testing.T) {
	if _, err := NewTimeSeries([]float64{1, 2}, []float64{1}); err == nil {
		t.Error("expected error for mismatched lengths")
	}
}

func TestTimeSeriesEqualAndClone(t *testing.T) {
	a := rampSeries(10)
	b := a.Clone()

	if !a.Equal(b) {
		t.Error("clone should equal the original")
	}

	b.Values[0] = 999
	if a.Equal(b) {
		t.Error("mutating the clone must not affect the original")
	}
	if a.Values[0] == 999 {
		t.Error("clone shares backing storage with the original")
	}
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		ft   FieldType
		in   any
		want any
	}{
		{TypeInt, float64(3), int64(3)},
		{TypeInt, int(7), int64(7)},
		{TypeInt, "42", int64(42)},
		{TypeFloat, int64(2), float64(2)},
		{TypeFloat, "2.5", float64(2.5)},
		{TypeBool, true, true},
		{TypeBool, "true", true},
		{TypeString, "abc", "abc"},
	}

	for _, tc := range tests {
		got, err := tc.ft.Coerce(tc.in)
		if err != nil {
			t.Errorf("%s.Coerce(%v): %v", tc.ft, tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%s.Coerce(%v): expected %v (%T), got %v (%T)", tc.ft, tc.in, tc.want, tc.want, got, got)
		}
	}

	if _, err := TypeInt.Coerce(struct{}{}); err == nil {
		t.Error("expected error coercing struct to int")
	}
}

func TestKeyOrdering(t *testing.T) {
	lo, err := TypeFloat.Key(1.5)
	if err != nil {
		t.Fatal(err)
	}
	hi, err := TypeFloat.Key(int64(3))
	if err != nil {
		t.Fatal(err)
	}
	if lo.Compare(hi) >= 0 {
		t.Error("expected 1.5 < 3")
	}

	f, _ := TypeBool.Key(false)
	tr, _ := TypeBool.Key(true)
	if f.Compare(tr) != -1 {
		t.Error("expected false < true")
	}
}

func TestDecodeSeries(t *testing.T) {
	ts, err := DecodeSeries([]any{
		[]any{0.0, 1.0, 2.0},
		[]any{5.0, 6.0, 7.0},
	})
	if err != nil {
		t.Fatal(err)
	}
	if ts.Len() != 3 || ts.Values[2] != 7.0 {
		t.Errorf("unexpected decoded series: %+v", ts)
	}

	same, err := DecodeSeries(ts)
	if err != nil {
		t.Fatal(err)
	}
	if !same.Equal(ts) {
		t.Error("TimeSeries should pass through DecodeSeries")
	}

	if _, err := DecodeSeries("nope"); err == nil {
		t.Error("expected error decoding a string")
	}
	if _, err := DecodeSeries([]any{[]any{1.0}}); err == nil {
		t.Error("expected error for a single sequence")
	}
}
