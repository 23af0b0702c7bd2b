package index

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/bobboyms/tsdb/pkg/wal"
)

// StateLog is the durability layer shared by every index: a snapshot file
// holding the last promoted state, and a write-ahead log of the mutations
// applied since. Every mutation is appended and fsynced before the
// operation returns; Promote folds the log into a fresh snapshot (staging
// file + atomic rename), truncates the log, and appends a committed
// sentinel. A log found at open time with mutations after the last
// sentinel was not promoted before the previous shutdown — the caller
// replays those mutations and promotes before using the index.
type StateLog struct {
	snapshotPath string
	logPath      string
	writer       *wal.WALWriter
}

// OpenStateLog opens the snapshot and log for an index. It returns the
// snapshot bytes (nil if the index is new) and the payloads of mutations
// recorded after the last committed sentinel, in order.
func OpenStateLog(snapshotPath, logPath string) (*StateLog, []byte, [][]byte, error) {
	var snapshot []byte
	if data, err := os.ReadFile(snapshotPath); err == nil {
		snapshot = data
	} else if !os.IsNotExist(err) {
		return nil, nil, nil, fmt.Errorf("failed to read index snapshot %s: %w", snapshotPath, err)
	}

	pending, err := readPending(logPath)
	if err != nil {
		return nil, nil, nil, err
	}

	writer, err := wal.NewWALWriter(logPath, wal.DefaultOptions())
	if err != nil {
		return nil, nil, nil, err
	}

	return &StateLog{
		snapshotPath: snapshotPath,
		logPath:      logPath,
		writer:       writer,
	}, snapshot, pending, nil
}

// readPending scans the log and collects every mutation payload recorded
// after the last committed sentinel. A truncated or corrupt tail ends the
// scan at the last complete entry.
func readPending(logPath string) ([][]byte, error) {
	reader, err := wal.NewWALReader(logPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	var pending [][]byte
	for {
		entry, err := reader.ReadEntry()
		if err == io.EOF {
			break
		}
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, wal.ErrChecksumMismatch) {
			// torn tail from a crash mid-append; everything before it
			// is intact
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to replay index log %s: %w", logPath, err)
		}

		switch entry.Header.EntryType {
		case wal.EntrySentinel:
			pending = pending[:0]
		case wal.EntryMutation:
			payload := make([]byte, len(entry.Payload))
			copy(payload, entry.Payload)
			pending = append(pending, payload)
		}
		wal.ReleaseEntry(entry)
	}
	return pending, nil
}

// Record appends one mutation payload and flushes it.
func (l *StateLog) Record(payload []byte) error {
	return l.writer.Append(wal.EntryMutation, payload)
}

// Promote writes state as the new snapshot, resets the log, and marks it
// committed.
func (l *StateLog) Promote(state []byte) error {
	tmp := l.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, state, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot staging file: %w", err)
	}
	if err := os.Rename(tmp, l.snapshotPath); err != nil {
		return fmt.Errorf("failed to swap snapshot: %w", err)
	}

	if err := l.writer.Truncate(); err != nil {
		return err
	}
	return l.writer.Append(wal.EntrySentinel, nil)
}

// Close closes the log writer.
func (l *StateLog) Close() error {
	return l.writer.Close()
}

// Erase removes the snapshot and log files from disk. The index must be
// closed first. Used when a schema field (and its index) is dropped.
func (l *StateLog) Erase() error {
	var firstErr error
	for _, path := range []string{l.snapshotPath, l.logPath} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
