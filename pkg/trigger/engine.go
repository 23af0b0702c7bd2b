// Package trigger dispatches stored procedures when database events
// fire. The persistent registry stores procedure names; handles are
// resolved from the process-local table when the registry loads and
// again at dispatch.
package trigger

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bobboyms/tsdb/pkg/index"
	"github.com/bobboyms/tsdb/pkg/procs"
)

// Events a trigger can be registered on.
const (
	EventInsertTS   = "insert_ts"
	EventUpsertMeta = "upsert_meta"
	EventSelect     = "select"
)

// ValidEvent reports whether name is a registrable event.
func ValidEvent(name string) bool {
	switch name {
	case EventInsertTS, EventUpsertMeta, EventSelect:
		return true
	}
	return false
}

// UpsertFunc writes a trigger's zipped results back through the metadata
// path. It must not re-fire triggers.
type UpsertFunc func(pk string, meta map[string]any) error

// Engine owns the persistent registry and runs registered procedures.
type Engine struct {
	registry *index.Triggers
}

// NewEngine wraps a loaded registry, resolving every persisted procedure
// name so stale registrations surface at startup rather than at first
// dispatch.
func NewEngine(registry *index.Triggers) (*Engine, error) {
	for _, event := range registry.Events() {
		for _, spec := range registry.List(event) {
			if _, err := procs.Lookup(spec.Proc); err != nil {
				return nil, fmt.Errorf("trigger registry references %q on %q: %w", spec.Proc, event, err)
			}
		}
	}
	return &Engine{registry: registry}, nil
}

// Add registers proc on event. The procedure must resolve.
func (e *Engine) Add(event, proc string, arg any, targets []string) error {
	if _, err := procs.Lookup(proc); err != nil {
		return err
	}
	return e.registry.Add(event, index.TriggerSpec{Proc: proc, Arg: arg, Targets: targets})
}

// RemoveAll unregisters every instance of proc on event.
func (e *Engine) RemoveAll(event, proc string) error {
	return e.registry.RemoveAll(event, proc)
}

// RemoveOne unregisters the instance of proc on event with exactly the
// given targets.
func (e *Engine) RemoveOne(event, proc string, targets []string) error {
	return e.registry.RemoveOne(event, proc, targets)
}

// List returns the registrations for event.
func (e *Engine) List(event string) []index.TriggerSpec {
	return e.registry.List(event)
}

// Commit promotes the registry log.
func (e *Engine) Commit() error {
	return e.registry.Commit()
}

// Close promotes and closes the registry.
func (e *Engine) Close() error {
	return e.registry.Close()
}

// Fire runs every procedure registered on event against every row,
// concurrently, and waits for all of them. For registrations with a
// non-empty target list the results are zipped with the targets and
// written back through upsert; a nil target list discards the results
// (always the case for select events, where upsert is nil).
func (e *Engine) Fire(ctx context.Context, event string, rows []procs.Row, upsert UpsertFunc) error {
	specs := e.registry.List(event)
	if len(specs) == 0 || len(rows) == 0 {
		return nil
	}

	// writebacks reenter the database facade, which holds its own lock;
	// serialize them here so concurrent procedures don't interleave
	// half-zipped results
	var writeback sync.Mutex

	// resolve every handle before launching anything, so a stale name
	// cannot leave half the batch running
	handles := make([]procs.Procedure, len(specs))
	for i, spec := range specs {
		proc, err := procs.Lookup(spec.Proc)
		if err != nil {
			return err
		}
		handles[i] = proc
	}

	g, ctx := errgroup.WithContext(ctx)
	for i, spec := range specs {
		proc := handles[i]
		for _, row := range rows {
			g.Go(func() error {
				results, err := proc(ctx, row.PK, row, spec.Arg)
				if err != nil {
					return fmt.Errorf("procedure %q on %q: %w", spec.Proc, row.PK, err)
				}
				if len(spec.Targets) == 0 || upsert == nil {
					return nil
				}
				if len(results) < len(spec.Targets) {
					return fmt.Errorf("procedure %q returned %d values for %d targets", spec.Proc, len(results), len(spec.Targets))
				}
				meta := make(map[string]any, len(spec.Targets))
				for i, target := range spec.Targets {
					if results[i] == nil {
						continue
					}
					meta[target] = results[i]
				}
				if len(meta) == 0 {
					return nil
				}
				writeback.Lock()
				defer writeback.Unlock()
				return upsert(row.PK, meta)
			})
		}
	}
	return g.Wait()
}
