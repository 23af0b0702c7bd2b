package server

import (
	"bytes"
	"encoding/json"

	"github.com/bobboyms/tsdb/pkg/types"
)

// orderedPayload is a JSON object that marshals its keys in insertion
// order, so sorted select results survive the wire the way the query
// ordered them.
type orderedPayload struct {
	keys   []string
	values map[string]any
}

func newOrderedPayload() *orderedPayload {
	return &orderedPayload{values: make(map[string]any)}
}

func (p *orderedPayload) set(key string, value any) {
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
}

func (p *orderedPayload) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range p.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := json.Marshal(p.values[key])
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// wireValue converts projected values to their wire form: a TimeSeries
// becomes the [times, values] pair.
func wireValue(v any) any {
	switch ts := v.(type) {
	case types.TimeSeries:
		return [][]float64{ts.Times, ts.Values}
	case *types.TimeSeries:
		return [][]float64{ts.Times, ts.Values}
	}
	return v
}

func wireFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = wireValue(v)
	}
	return out
}
