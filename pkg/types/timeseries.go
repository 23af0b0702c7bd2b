package types

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// TimeSeries is an ordered pair of equal-length timestamp and value
// sequences. Every series in a database has the same length, fixed at
// database creation.
type TimeSeries struct {
	Times  []float64
	Values []float64
}

// NewTimeSeries validates that both sequences have the same length.
func NewTimeSeries(times, values []float64) (TimeSeries, error) {
	if len(times) != len(values) {
		return TimeSeries{}, fmt.Errorf("times and values differ in length: %d vs %d", len(times), len(values))
	}
	return TimeSeries{Times: times, Values: values}, nil
}

func (ts TimeSeries) Len() int {
	return len(ts.Values)
}

// Mean returns the arithmetic mean of the values.
func (ts TimeSeries) Mean() float64 {
	return stat.Mean(ts.Values, nil)
}

// Std returns the population standard deviation of the values.
func (ts TimeSeries) Std() float64 {
	return stat.PopStdDev(ts.Values, nil)
}

// Equal reports bit-identical times and values.
func (ts TimeSeries) Equal(other TimeSeries) bool {
	if len(ts.Times) != len(other.Times) || len(ts.Values) != len(other.Values) {
		return false
	}
	for i := range ts.Times {
		if ts.Times[i] != other.Times[i] {
			return false
		}
	}
	for i := range ts.Values {
		if ts.Values[i] != other.Values[i] {
			return false
		}
	}
	return true
}

// Clone returns a deep copy, so callers can hold a series across
// subsequent heap writes.
func (ts TimeSeries) Clone() TimeSeries {
	times := make([]float64, len(ts.Times))
	values := make([]float64, len(ts.Values))
	copy(times, ts.Times)
	copy(values, ts.Values)
	return TimeSeries{Times: times, Values: values}
}
