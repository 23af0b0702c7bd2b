package storage

import (
	tsdberr "github.com/bobboyms/tsdb/pkg/errors"
	"github.com/bobboyms/tsdb/pkg/index"
	"github.com/bobboyms/tsdb/pkg/procs"
	"github.com/bobboyms/tsdb/pkg/trigger"
)

// AddTrigger registers a stored procedure on an event. The procedure
// must exist in the process-local table and every target must be a
// schema field.
func (db *Database) AddTrigger(proc, event string, targets []string, arg any) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return &tsdberr.ClosedError{}
	}
	if !trigger.ValidEvent(event) {
		return &tsdberr.InvalidOperationError{Op: "add_trigger", Reason: "unknown event " + event}
	}
	if _, err := procs.Lookup(proc); err != nil {
		return &tsdberr.InvalidOperationError{Op: "add_trigger", Reason: err.Error()}
	}
	for _, target := range targets {
		if !db.schema.Has(target) {
			return &tsdberr.InvalidOperationError{Op: "add_trigger", Reason: "unknown target field " + target}
		}
	}

	return db.triggers.Add(event, proc, arg, targets)
}

// RemoveTrigger unregisters proc from event: every instance when targets
// is nil, only the exact-target instance otherwise.
func (db *Database) RemoveTrigger(proc, event string, targets []string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return &tsdberr.ClosedError{}
	}
	if !trigger.ValidEvent(event) {
		return &tsdberr.InvalidOperationError{Op: "remove_trigger", Reason: "unknown event " + event}
	}

	if targets == nil {
		return db.triggers.RemoveAll(event, proc)
	}
	return db.triggers.RemoveOne(event, proc, targets)
}

// ListTriggers returns the registrations for an event.
func (db *Database) ListTriggers(event string) []index.TriggerSpec {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.triggers.List(event)
}
