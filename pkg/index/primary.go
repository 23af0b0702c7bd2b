package index

import (
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// OffsetPair locates one row: the series in the TS heap and the metadata
// record in the meta heap. Offsets are stable for the row's lifetime.
type OffsetPair struct {
	TS   int64 `bson:"ts"`
	Meta int64 `bson:"meta"`
}

// Primary is the authoritative pk -> offsets mapping.
type Primary struct {
	entries map[string]OffsetPair
	log     *StateLog
}

type primarySnapshot struct {
	Entries map[string]OffsetPair `bson:"entries"`
}

type primaryMutation struct {
	Op   string     `bson:"op"` // "set" | "delete"
	PK   string     `bson:"pk"`
	Pair OffsetPair `bson:"pair,omitempty"`
}

// OpenPrimary loads the primary index, replaying and promoting any
// uncommitted log content first.
func OpenPrimary(snapshotPath, logPath string) (*Primary, error) {
	log, snapshot, pending, err := OpenStateLog(snapshotPath, logPath)
	if err != nil {
		return nil, err
	}

	p := &Primary{
		entries: make(map[string]OffsetPair),
		log:     log,
	}

	if snapshot != nil {
		var stored primarySnapshot
		if err := bson.Unmarshal(snapshot, &stored); err != nil {
			log.Close()
			return nil, fmt.Errorf("failed to decode primary index snapshot: %w", err)
		}
		if stored.Entries != nil {
			p.entries = stored.Entries
		}
	}

	for _, payload := range pending {
		var m primaryMutation
		if err := bson.Unmarshal(payload, &m); err != nil {
			log.Close()
			return nil, fmt.Errorf("failed to decode primary index log entry: %w", err)
		}
		p.apply(m)
	}
	if len(pending) > 0 {
		if err := p.promote(); err != nil {
			log.Close()
			return nil, err
		}
	}

	return p, nil
}

func (p *Primary) apply(m primaryMutation) {
	switch m.Op {
	case "set":
		p.entries[m.PK] = m.Pair
	case "delete":
		delete(p.entries, m.PK)
	}
}

func (p *Primary) record(m primaryMutation) error {
	payload, err := bson.Marshal(m)
	if err != nil {
		return err
	}
	return p.log.Record(payload)
}

// Get returns the offsets for pk.
func (p *Primary) Get(pk string) (OffsetPair, bool) {
	pair, ok := p.entries[pk]
	return pair, ok
}

// Has reports membership.
func (p *Primary) Has(pk string) bool {
	_, ok := p.entries[pk]
	return ok
}

// Set records and applies pk -> pair.
func (p *Primary) Set(pk string, pair OffsetPair) error {
	if err := p.record(primaryMutation{Op: "set", PK: pk, Pair: pair}); err != nil {
		return err
	}
	p.entries[pk] = pair
	return nil
}

// Delete records and applies removal of pk.
func (p *Primary) Delete(pk string) error {
	if err := p.record(primaryMutation{Op: "delete", PK: pk}); err != nil {
		return err
	}
	delete(p.entries, pk)
	return nil
}

// Keys returns every pk in lexicographic order.
func (p *Primary) Keys() []string {
	keys := make([]string, 0, len(p.entries))
	for pk := range p.entries {
		keys = append(keys, pk)
	}
	sort.Strings(keys)
	return keys
}

// Items returns a copy of the full mapping.
func (p *Primary) Items() map[string]OffsetPair {
	items := make(map[string]OffsetPair, len(p.entries))
	for pk, pair := range p.entries {
		items[pk] = pair
	}
	return items
}

// SetOffsets rewrites the meta offsets in place after a schema reset.
// Each entry keeps its TS offset; missing pks are left untouched.
func (p *Primary) SetOffsets(metaOffsets map[string]int64) error {
	for pk, metaOff := range metaOffsets {
		pair, ok := p.entries[pk]
		if !ok {
			continue
		}
		pair.Meta = metaOff
		if err := p.Set(pk, pair); err != nil {
			return err
		}
	}
	return nil
}

func (p *Primary) Len() int {
	return len(p.entries)
}

func (p *Primary) promote() error {
	state, err := bson.Marshal(primarySnapshot{Entries: p.entries})
	if err != nil {
		return err
	}
	return p.log.Promote(state)
}

// Commit promotes the log into the snapshot.
func (p *Primary) Commit() error {
	return p.promote()
}

// Close promotes and closes the log.
func (p *Primary) Close() error {
	if err := p.promote(); err != nil {
		p.log.Close()
		return err
	}
	return p.log.Close()
}
