package index

import (
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/v2/bson"

	tsdberr "github.com/bobboyms/tsdb/pkg/errors"
)

// TriggerSpec is one persisted trigger registration: the stored procedure
// name (handles are resolved from it at load time), an optional argument,
// and the metadata fields the procedure's results are written to. A nil
// Targets discards the results.
type TriggerSpec struct {
	Proc    string   `bson:"proc"`
	Arg     any      `bson:"arg,omitempty"`
	Targets []string `bson:"targets,omitempty"`
}

// Triggers is the persistent registry mapping event names to ordered
// trigger lists, durable under the same log-and-promote scheme as the
// other indexes.
type Triggers struct {
	entries map[string][]TriggerSpec
	log     *StateLog
}

type triggersSnapshot struct {
	Entries map[string][]TriggerSpec `bson:"entries"`
}

type triggersMutation struct {
	Op      string      `bson:"op"` // "add" | "remove_all" | "remove_one"
	Event   string      `bson:"event"`
	Spec    TriggerSpec `bson:"spec,omitempty"`
	Proc    string      `bson:"proc,omitempty"`
	Targets []string    `bson:"targets,omitempty"`
}

// OpenTriggers loads the trigger registry.
func OpenTriggers(snapshotPath, logPath string) (*Triggers, error) {
	log, snapshot, pending, err := OpenStateLog(snapshotPath, logPath)
	if err != nil {
		return nil, err
	}

	t := &Triggers{
		entries: make(map[string][]TriggerSpec),
		log:     log,
	}

	if snapshot != nil {
		var stored triggersSnapshot
		if err := bson.Unmarshal(snapshot, &stored); err != nil {
			log.Close()
			return nil, fmt.Errorf("failed to decode trigger registry snapshot: %w", err)
		}
		if stored.Entries != nil {
			t.entries = stored.Entries
		}
	}

	for _, payload := range pending {
		var m triggersMutation
		if err := bson.Unmarshal(payload, &m); err != nil {
			log.Close()
			return nil, fmt.Errorf("failed to decode trigger registry log entry: %w", err)
		}
		t.apply(m)
	}
	if len(pending) > 0 {
		if err := t.promote(); err != nil {
			log.Close()
			return nil, err
		}
	}

	return t, nil
}

func sameTargets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (t *Triggers) apply(m triggersMutation) {
	switch m.Op {
	case "add":
		t.entries[m.Event] = append(t.entries[m.Event], m.Spec)
	case "remove_all":
		kept := t.entries[m.Event][:0]
		for _, spec := range t.entries[m.Event] {
			if spec.Proc != m.Proc {
				kept = append(kept, spec)
			}
		}
		t.entries[m.Event] = kept
	case "remove_one":
		kept := t.entries[m.Event][:0]
		for _, spec := range t.entries[m.Event] {
			if spec.Proc == m.Proc && sameTargets(spec.Targets, m.Targets) {
				continue
			}
			kept = append(kept, spec)
		}
		t.entries[m.Event] = kept
	}
}

func (t *Triggers) record(m triggersMutation) error {
	payload, err := bson.Marshal(m)
	if err != nil {
		return err
	}
	return t.log.Record(payload)
}

// Add appends a trigger registration under event.
func (t *Triggers) Add(event string, spec TriggerSpec) error {
	m := triggersMutation{Op: "add", Event: event, Spec: spec}
	if err := t.record(m); err != nil {
		return err
	}
	t.apply(m)
	return nil
}

// RemoveAll deletes every registration of proc under event. It is an
// error if none matched.
func (t *Triggers) RemoveAll(event, proc string) error {
	matched := false
	for _, spec := range t.entries[event] {
		if spec.Proc == proc {
			matched = true
			break
		}
	}
	if !matched {
		return &tsdberr.TriggerNotFoundError{Proc: proc, Event: event}
	}

	m := triggersMutation{Op: "remove_all", Event: event, Proc: proc}
	if err := t.record(m); err != nil {
		return err
	}
	t.apply(m)
	return nil
}

// RemoveOne deletes the registration of proc under event with exactly
// the given target list (used to drop a vantage point's distance
// trigger without touching other corr triggers).
func (t *Triggers) RemoveOne(event, proc string, targets []string) error {
	m := triggersMutation{Op: "remove_one", Event: event, Proc: proc, Targets: targets}
	if err := t.record(m); err != nil {
		return err
	}
	t.apply(m)
	return nil
}

// List returns the registrations for event in registration order.
func (t *Triggers) List(event string) []TriggerSpec {
	specs := t.entries[event]
	out := make([]TriggerSpec, len(specs))
	copy(out, specs)
	return out
}

// Events returns the event names with at least one registration, sorted.
func (t *Triggers) Events() []string {
	var events []string
	for event, specs := range t.entries {
		if len(specs) > 0 {
			events = append(events, event)
		}
	}
	sort.Strings(events)
	return events
}

func (t *Triggers) promote() error {
	state, err := bson.Marshal(triggersSnapshot{Entries: t.entries})
	if err != nil {
		return err
	}
	return t.log.Promote(state)
}

// Commit promotes the log into the snapshot.
func (t *Triggers) Commit() error {
	return t.promote()
}

// Close promotes and closes the log.
func (t *Triggers) Close() error {
	if err := t.promote(); err != nil {
		t.log.Close()
		return err
	}
	return t.log.Close()
}
