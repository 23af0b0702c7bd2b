package trigger

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/bobboyms/tsdb/pkg/index"
	"github.com/bobboyms/tsdb/pkg/procs"
	"github.com/bobboyms/tsdb/pkg/types"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	registry, err := index.OpenTriggers(filepath.Join(dir, "triggers.idx"), filepath.Join(dir, "triggers_log.idx"))
	if err != nil {
		t.Fatal(err)
	}
	engine, err := NewEngine(registry)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { engine.Close() })
	return engine
}

func sampleRow(pk string) procs.Row {
	times := make([]float64, 100)
	values := make([]float64, 100)
	for i := range times {
		times[i] = float64(i)
		values[i] = float64(i) - 50
	}
	return procs.Row{PK: pk, TS: types.TimeSeries{Times: times, Values: values}}
}

func TestValidEvent(t *testing.T) {
	for _, event := range []string{EventInsertTS, EventUpsertMeta, EventSelect} {
		if !ValidEvent(event) {
			t.Errorf("%q should be valid", event)
		}
	}
	if ValidEvent("drop_table") {
		t.Error("unknown event accepted")
	}
}

func TestAddRejectsUnknownProc(t *testing.T) {
	engine := newEngine(t)
	if err := engine.Add(EventInsertTS, "no_such_proc", nil, nil); err == nil {
		t.Error("expected error registering an unknown procedure")
	}
}

func TestFireWritesBackTargets(t *testing.T) {
	engine := newEngine(t)
	if err := engine.Add(EventInsertTS, "stats", nil, []string{"mean", "std"}); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	written := make(map[string]map[string]any)
	upsert := func(pk string, meta map[string]any) error {
		mu.Lock()
		defer mu.Unlock()
		written[pk] = meta
		return nil
	}

	rows := []procs.Row{sampleRow("a"), sampleRow("b")}
	if err := engine.Fire(context.Background(), EventInsertTS, rows, upsert); err != nil {
		t.Fatal(err)
	}

	if len(written) != 2 {
		t.Fatalf("expected writebacks for 2 rows, got %v", written)
	}
	meta := written["a"]
	if _, ok := meta["mean"]; !ok {
		t.Errorf("mean target not written: %v", meta)
	}
	if _, ok := meta["std"]; !ok {
		t.Errorf("std target not written: %v", meta)
	}
}

func TestFireDiscardsWithoutTargets(t *testing.T) {
	engine := newEngine(t)
	if err := engine.Add(EventSelect, "stats", nil, nil); err != nil {
		t.Fatal(err)
	}

	called := false
	upsert := func(pk string, meta map[string]any) error {
		called = true
		return nil
	}

	if err := engine.Fire(context.Background(), EventSelect, []procs.Row{sampleRow("a")}, upsert); err != nil {
		t.Fatal(err)
	}
	if called {
		t.Error("nil targets must not write back")
	}
}

func TestFireNoTriggersIsNoop(t *testing.T) {
	engine := newEngine(t)
	if err := engine.Fire(context.Background(), EventInsertTS, []procs.Row{sampleRow("a")}, nil); err != nil {
		t.Fatal(err)
	}
}

func TestFireSurfacesProcedureError(t *testing.T) {
	boom := errors.New("boom")
	if err := procs.Register("boom", func(ctx context.Context, pk string, row procs.Row, arg any) ([]any, error) {
		return nil, boom
	}); err != nil {
		t.Fatal(err)
	}

	engine := newEngine(t)
	if err := engine.Add(EventInsertTS, "boom", nil, nil); err != nil {
		t.Fatal(err)
	}

	err := engine.Fire(context.Background(), EventInsertTS, []procs.Row{sampleRow("a")}, nil)
	if !errors.Is(err, boom) {
		t.Errorf("expected the procedure error to surface, got %v", err)
	}
}

func TestNewEngineRejectsStaleRegistry(t *testing.T) {
	dir := t.TempDir()
	snap := filepath.Join(dir, "triggers.idx")
	log := filepath.Join(dir, "triggers_log.idx")

	registry, err := index.OpenTriggers(snap, log)
	if err != nil {
		t.Fatal(err)
	}
	if err := registry.Add(EventInsertTS, index.TriggerSpec{Proc: "gone_proc"}); err != nil {
		t.Fatal(err)
	}
	registry.Close()

	registry, err = index.OpenTriggers(snap, log)
	if err != nil {
		t.Fatal(err)
	}
	defer registry.Close()

	if _, err := NewEngine(registry); err == nil {
		t.Error("expected error for a registry naming an unknown procedure")
	}
}
