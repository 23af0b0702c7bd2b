package server

import (
	"context"
	"fmt"

	tsdberr "github.com/bobboyms/tsdb/pkg/errors"
	"github.com/bobboyms/tsdb/pkg/types"
)

// dispatch maps one decoded request onto the database facade and shapes
// the response.
func (s *Server) dispatch(ctx context.Context, msg map[string]any) Response {
	op, _ := msg["op"].(string)

	var (
		payload any
		err     error
	)

	switch op {
	case OpInsertTS:
		err = s.insertTS(ctx, msg)
	case OpDeleteTS:
		err = s.deleteTS(ctx, msg)
	case OpUpsertMeta:
		err = s.upsertMeta(ctx, msg)
	case OpSelect:
		payload, err = s.sel(ctx, msg)
	case OpAugmentedSelect:
		payload, err = s.augmentedSelect(ctx, msg)
	case OpInsertVP:
		err = s.insertVP(msg)
	case OpDeleteVP:
		err = s.deleteVP(msg)
	case OpVPSearch:
		payload, err = s.vpSearch(msg)
	case OpISAXSearch:
		payload, err = s.isaxSearch(msg)
	case OpISAXTree:
		payload, err = s.db.ISAXTree()
	case OpAddTrigger:
		err = s.addTrigger(msg)
	case OpRemoveTrigger:
		err = s.removeTrigger(msg)
	default:
		err = &tsdberr.InvalidOperationError{Op: op, Reason: "unknown operation"}
	}

	status := statusOf(err)
	if err != nil && status == StatusUnknownError {
		s.logger.Error("operation failed", zapOp(op), zapErr(err))
	}
	if status != StatusOK {
		// NO_MATCH carries an empty payload; error statuses carry none
		payload = nil
	}

	return Response{Op: op, Status: status, Payload: payload}
}

func requirePK(msg map[string]any) (string, error) {
	pk, ok := msg["pk"].(string)
	if !ok {
		return "", &tsdberr.InvalidKeyError{PK: fmt.Sprintf("%v", msg["pk"]), Reason: "primary key must be a string"}
	}
	return pk, nil
}

func requireSeries(msg map[string]any, key, op string) (types.TimeSeries, error) {
	raw, ok := msg[key]
	if !ok || raw == nil {
		return types.TimeSeries{}, &tsdberr.InvalidOperationError{Op: op, Reason: "missing " + key}
	}
	ts, err := types.DecodeSeries(raw)
	if err != nil {
		return types.TimeSeries{}, &tsdberr.InvalidOperationError{Op: op, Reason: err.Error()}
	}
	return ts, nil
}

func stringList(raw any) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []string:
		return v, nil
	case string:
		// a bare string means a single-element list
		return []string{v}, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			str, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("expected string, got %T", e)
			}
			out = append(out, str)
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected list of strings, got %T", raw)
}

func mapField(msg map[string]any, key string) map[string]any {
	if m, ok := msg[key].(map[string]any); ok {
		return m
	}
	return nil
}

func (s *Server) insertTS(ctx context.Context, msg map[string]any) error {
	pk, err := requirePK(msg)
	if err != nil {
		return err
	}
	ts, err := requireSeries(msg, "ts", OpInsertTS)
	if err != nil {
		return err
	}
	return s.db.InsertTS(ctx, pk, ts)
}

func (s *Server) deleteTS(ctx context.Context, msg map[string]any) error {
	pk, err := requirePK(msg)
	if err != nil {
		return err
	}
	return s.db.DeleteTS(ctx, pk)
}

func (s *Server) upsertMeta(ctx context.Context, msg map[string]any) error {
	pk, err := requirePK(msg)
	if err != nil {
		return err
	}
	md := mapField(msg, "md")
	if md == nil {
		return &tsdberr.InvalidOperationError{Op: OpUpsertMeta, Reason: "missing md"}
	}
	return s.db.UpsertMeta(ctx, pk, md)
}

func (s *Server) sel(ctx context.Context, msg map[string]any) (any, error) {
	md := mapField(msg, "md")
	if md == nil {
		md = map[string]any{}
	}

	// fields: absent/null asks for pks only; [] asks for everything
	var fields []string
	if raw, ok := msg["fields"]; ok && raw != nil {
		list, err := stringList(raw)
		if err != nil {
			return nil, &tsdberr.InvalidOperationError{Op: OpSelect, Reason: err.Error()}
		}
		if list == nil {
			list = []string{}
		}
		fields = list
	}

	pks, projected, err := s.db.Select(ctx, md, fields, mapField(msg, "additional"))
	if err != nil {
		return nil, err
	}

	payload := newOrderedPayload()
	for i, pk := range pks {
		payload.set(pk, wireFields(projected[i]))
	}
	return payload, nil
}

func (s *Server) augmentedSelect(ctx context.Context, msg map[string]any) (any, error) {
	proc, _ := msg["proc"].(string)
	targets, err := stringList(msg["target"])
	if err != nil {
		return nil, &tsdberr.InvalidOperationError{Op: OpAugmentedSelect, Reason: err.Error()}
	}

	md := mapField(msg, "md")
	if md == nil {
		md = map[string]any{}
	}

	pks, results, err := s.db.AugmentedSelect(ctx, proc, targets, msg["arg"], md, mapField(msg, "additional"))
	if err != nil {
		return nil, err
	}

	payload := newOrderedPayload()
	for i, pk := range pks {
		payload.set(pk, wireFields(results[i]))
	}
	return payload, nil
}

func (s *Server) insertVP(msg map[string]any) error {
	pk, err := requirePK(msg)
	if err != nil {
		return err
	}
	return s.db.InsertVP(pk)
}

func (s *Server) deleteVP(msg map[string]any) error {
	pk, err := requirePK(msg)
	if err != nil {
		return err
	}
	return s.db.DeleteVP(pk)
}

func (s *Server) vpSearch(msg map[string]any) (any, error) {
	query, err := requireSeries(msg, "query", OpVPSearch)
	if err != nil {
		return nil, err
	}

	top := 1
	if raw, ok := msg["top"]; ok && raw != nil {
		n, err := types.TypeInt.Coerce(raw)
		if err != nil {
			return nil, &tsdberr.InvalidOperationError{Op: OpVPSearch, Reason: err.Error()}
		}
		top = int(n.(int64))
	}

	results, err := s.db.VPSimilaritySearch(query, top)
	if err != nil {
		return nil, err
	}

	payload := newOrderedPayload()
	for _, r := range results {
		payload.set(r.PK, r.Distance)
	}
	return payload, nil
}

func (s *Server) isaxSearch(msg map[string]any) (any, error) {
	query, err := requireSeries(msg, "query", OpISAXSearch)
	if err != nil {
		return nil, err
	}

	result, err := s.db.ISAXSimilaritySearch(query)
	if err != nil {
		return nil, err
	}

	return map[string]any{result.PK: result.Distance}, nil
}

func (s *Server) addTrigger(msg map[string]any) error {
	proc, _ := msg["proc"].(string)
	event, _ := msg["onwhat"].(string)
	targets, err := stringList(msg["target"])
	if err != nil {
		return &tsdberr.InvalidOperationError{Op: OpAddTrigger, Reason: err.Error()}
	}
	return s.db.AddTrigger(proc, event, targets, msg["arg"])
}

func (s *Server) removeTrigger(msg map[string]any) error {
	proc, _ := msg["proc"].(string)
	event, _ := msg["onwhat"].(string)
	targets, err := stringList(msg["target"])
	if err != nil {
		return &tsdberr.InvalidOperationError{Op: OpRemoveTrigger, Reason: err.Error()}
	}
	return s.db.RemoveTrigger(proc, event, targets)
}
