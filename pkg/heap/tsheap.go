package heap

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	tsdberr "github.com/bobboyms/tsdb/pkg/errors"
	"github.com/bobboyms/tsdb/pkg/types"
)

const (
	// The series length is stored little-endian in the first 4 bytes.
	lengthHeaderSize = 4
	float64Size      = 8
)

// TSHeap is the append-only heap file holding raw fixed-length time
// series. Each record is 2·L float64 values little-endian: L timestamps
// followed by L values. Offsets never move after allocation.
type TSHeap struct {
	path       string
	file       *os.File
	tsLength   int
	recordSize int
	writePtr   int64
	mutex      sync.RWMutex
}

// OpenTSHeap opens or creates the heap at path. A new file gets tsLength
// written at byte 0; an existing file must have been created with the
// same length.
func OpenTSHeap(path string, tsLength int) (*TSHeap, error) {
	if tsLength <= 0 {
		return nil, fmt.Errorf("time series length must be positive, got %d", tsLength)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open TS heap %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	h := &TSHeap{
		path:       path,
		file:       file,
		tsLength:   tsLength,
		recordSize: 2 * tsLength * float64Size,
	}

	if info.Size() == 0 {
		var header [lengthHeaderSize]byte
		binary.LittleEndian.PutUint32(header[:], uint32(tsLength))
		if _, err := file.WriteAt(header[:], 0); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to write TS heap header: %w", err)
		}
		if err := file.Sync(); err != nil {
			file.Close()
			return nil, err
		}
		h.writePtr = lengthHeaderSize
		return h, nil
	}

	var header [lengthHeaderSize]byte
	if _, err := file.ReadAt(header[:], 0); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to read TS heap header: %w", err)
	}
	stored := int(binary.LittleEndian.Uint32(header[:]))
	if stored != tsLength {
		file.Close()
		return nil, &tsdberr.LengthMismatchError{Stored: stored, Requested: tsLength}
	}

	h.writePtr = info.Size()
	return h, nil
}

// Length returns the fixed series length of the heap.
func (h *TSHeap) Length() int {
	return h.tsLength
}

// Write appends a series and returns its byte offset.
func (h *TSHeap) Write(ts types.TimeSeries) (int64, error) {
	if ts.Len() != h.tsLength {
		return 0, fmt.Errorf("time series has length %d, heap stores length %d", ts.Len(), h.tsLength)
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	buf := make([]byte, 0, h.recordSize)
	for _, t := range ts.Times {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(t))
	}
	for _, v := range ts.Values {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
	}

	offset := h.writePtr
	if _, err := h.file.WriteAt(buf, offset); err != nil {
		return 0, fmt.Errorf("failed to append series: %w", err)
	}
	if err := h.file.Sync(); err != nil {
		return 0, err
	}
	h.writePtr += int64(h.recordSize)

	return offset, nil
}

// Read decodes the series stored at offset.
func (h *TSHeap) Read(offset int64) (types.TimeSeries, error) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	buf := make([]byte, h.recordSize)
	n, err := h.file.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return types.TimeSeries{}, fmt.Errorf("failed to read series at offset %d: %w", offset, err)
	}
	if n < h.recordSize {
		return types.TimeSeries{}, &tsdberr.ShortReadError{Offset: offset, Want: h.recordSize, Got: n}
	}

	times := make([]float64, h.tsLength)
	values := make([]float64, h.tsLength)
	for i := 0; i < h.tsLength; i++ {
		times[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*float64Size:]))
	}
	valBase := h.tsLength * float64Size
	for i := 0; i < h.tsLength; i++ {
		values[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[valBase+i*float64Size:]))
	}

	return types.TimeSeries{Times: times, Values: values}, nil
}

// Close closes the heap file.
func (h *TSHeap) Close() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.file.Close()
}
