package types

import (
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// DecodeSeries re-types a series argument whose concrete type was lost
// in serialization: a TimeSeries passes through, a two-element array of
// numeric arrays becomes (times, values).
func DecodeSeries(v any) (TimeSeries, error) {
	switch x := v.(type) {
	case TimeSeries:
		return x, nil
	case *TimeSeries:
		return *x, nil
	case [][]float64:
		if len(x) != 2 {
			return TimeSeries{}, fmt.Errorf("series must be [times, values], got %d sequences", len(x))
		}
		return NewTimeSeries(x[0], x[1])
	case bson.A:
		return DecodeSeries([]any(x))
	case []any:
		if len(x) != 2 {
			return TimeSeries{}, fmt.Errorf("series must be [times, values], got %d sequences", len(x))
		}
		times, err := floatSlice(x[0])
		if err != nil {
			return TimeSeries{}, err
		}
		values, err := floatSlice(x[1])
		if err != nil {
			return TimeSeries{}, err
		}
		return NewTimeSeries(times, values)
	}
	return TimeSeries{}, fmt.Errorf("cannot decode %T as a time series", v)
}

func floatSlice(v any) ([]float64, error) {
	switch x := v.(type) {
	case []float64:
		out := make([]float64, len(x))
		copy(out, x)
		return out, nil
	case bson.A:
		return floatSlice([]any(x))
	case []any:
		out := make([]float64, len(x))
		for i, e := range x {
			f, err := TypeFloat.Coerce(e)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = f.(float64)
		}
		return out, nil
	}
	return nil, fmt.Errorf("cannot decode %T as a numeric sequence", v)
}
