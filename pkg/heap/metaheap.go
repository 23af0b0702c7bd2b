package heap

import (
	"fmt"
	"io"
	"os"
	"sync"

	tsdberr "github.com/bobboyms/tsdb/pkg/errors"
	"github.com/bobboyms/tsdb/pkg/schema"
)

// MetaHeap is the heap file holding fixed-width metadata records packed
// under the current schema. Records are appended for new rows and
// rewritten in place on upsert; the file is rebuilt wholesale when the
// schema changes.
type MetaHeap struct {
	path       string
	file       *os.File
	schema     *schema.Schema
	recordSize int
	writePtr   int64
	mutex      sync.RWMutex
}

// OpenMetaHeap opens or creates the heap at path under the given schema.
func OpenMetaHeap(path string, s *schema.Schema) (*MetaHeap, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open meta heap %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	return &MetaHeap{
		path:       path,
		file:       file,
		schema:     s,
		recordSize: s.RecordSize(),
		writePtr:   info.Size(),
	}, nil
}

// Write overlays the supplied fields onto a record and persists it.
// offset < 0 appends a fresh record initialized to defaults; otherwise
// the record at offset is read, overlaid, and rewritten in place.
// Fields not in the schema's packed layout are ignored. Returns the
// offset used.
func (h *MetaHeap) Write(meta map[string]any, offset int64) (int64, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	var values map[string]any
	if offset < 0 {
		values = h.schema.Defaults()
		offset = h.writePtr
	} else {
		var err error
		values, err = h.readLocked(offset)
		if err != nil {
			return 0, err
		}
	}

	for _, name := range h.schema.PackedFields() {
		v, ok := meta[name]
		if !ok {
			continue
		}
		cv, err := h.schema.Fields[name].Coerce(v)
		if err != nil {
			return 0, fmt.Errorf("field %q: %w", name, err)
		}
		values[name] = cv
	}

	buf, err := h.schema.EncodeRecord(values)
	if err != nil {
		return 0, err
	}

	if _, err := h.file.WriteAt(buf, offset); err != nil {
		return 0, fmt.Errorf("failed to write meta record: %w", err)
	}
	if err := h.file.Sync(); err != nil {
		return 0, err
	}
	if end := offset + int64(len(buf)); end > h.writePtr {
		h.writePtr = end
	}

	return offset, nil
}

// Read decodes the record at offset into a field-to-value map.
func (h *MetaHeap) Read(offset int64) (map[string]any, error) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.readLocked(offset)
}

func (h *MetaHeap) readLocked(offset int64) (map[string]any, error) {
	buf := make([]byte, h.recordSize)
	n, err := h.file.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read meta record at offset %d: %w", offset, err)
	}
	if n < h.recordSize {
		return nil, &tsdberr.ShortReadError{Offset: offset, Want: h.recordSize, Got: n}
	}
	return h.schema.DecodeRecord(buf)
}

// ResetSchema rewrites every live record into a staging file laid out
// under newSchema, then atomically renames it over the heap. offsets maps
// pk to its current meta offset; the returned map holds the new offsets.
// Fields dropped from the schema vanish; fields added take defaults.
func (h *MetaHeap) ResetSchema(newSchema *schema.Schema, offsets map[string]int64) (map[string]int64, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	// read every record under the old layout first
	metas := make(map[string]map[string]any, len(offsets))
	for pk, off := range offsets {
		values, err := h.readLocked(off)
		if err != nil {
			return nil, fmt.Errorf("pk %q: %w", pk, err)
		}
		metas[pk] = values
	}

	staging := h.path + ".staging"
	out, err := os.OpenFile(staging, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create staging heap: %w", err)
	}

	newOffsets := make(map[string]int64, len(offsets))
	var writePtr int64
	for pk, values := range metas {
		buf, err := newSchema.EncodeRecord(values)
		if err != nil {
			out.Close()
			os.Remove(staging)
			return nil, fmt.Errorf("pk %q: %w", pk, err)
		}
		if _, err := out.WriteAt(buf, writePtr); err != nil {
			out.Close()
			os.Remove(staging)
			return nil, fmt.Errorf("failed to write staging record: %w", err)
		}
		newOffsets[pk] = writePtr
		writePtr += int64(len(buf))
	}

	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(staging)
		return nil, err
	}
	if err := out.Close(); err != nil {
		os.Remove(staging)
		return nil, err
	}

	if err := h.file.Close(); err != nil {
		return nil, err
	}
	if err := os.Rename(staging, h.path); err != nil {
		return nil, fmt.Errorf("failed to swap staging heap: %w", err)
	}

	file, err := os.OpenFile(h.path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to reopen meta heap: %w", err)
	}

	h.file = file
	h.schema = newSchema
	h.recordSize = newSchema.RecordSize()
	h.writePtr = writePtr

	return newOffsets, nil
}

// Close closes the heap file.
func (h *MetaHeap) Close() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.file.Close()
}
