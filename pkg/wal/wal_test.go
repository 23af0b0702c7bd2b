package wal

import (
	"bytes"
	"io"
	"path/filepath"
	"testing"
)

func TestWALHeaderEncoding(t *testing.T) {
	original := WALHeader{
		Magic:      WALMagic,
		Version:    WALVersion,
		EntryType:  EntryMutation,
		Seq:        1024,
		PayloadLen: 50,
		CRC32:      0x12345678,
	}

	var buf [HeaderSize]byte
	original.Encode(buf[:])

	var decoded WALHeader
	decoded.Decode(buf[:])

	if decoded != original {
		t.Errorf("Header decoding mismatch.\nExpected: %+v\nGot: %+v", original, decoded)
	}
}

func TestCRC32(t *testing.T) {
	data := []byte("hello WAL world")
	crc := CalculateCRC32(data)

	if !ValidateCRC32(data, crc) {
		t.Error("CRC32 validation failed for valid data")
	}

	if ValidateCRC32([]byte("corrupted"), crc) {
		t.Error("CRC32 validation passed for corrupted data")
	}
}

func TestPool(t *testing.T) {
	entry := AcquireEntry()
	if entry == nil {
		t.Fatal("Failed to acquire entry")
	}

	entry.Header.Seq = 999
	entry.Payload = append(entry.Payload, []byte("test")...)

	ReleaseEntry(entry)

	entry2 := AcquireEntry()
	if len(entry2.Payload) != 0 {
		t.Error("Released entry payload length should be 0")
	}
	if entry2.Header.Seq != 0 {
		t.Error("Released entry header should be zeroed")
	}
	ReleaseEntry(entry2)
}

func TestWriterReaderRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.wal")

	w, err := NewWALWriter(path, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}

	payloads := [][]byte{
		[]byte("first"),
		[]byte("second"),
		{},
	}
	for _, p := range payloads {
		if err := w.Append(EntryMutation, p); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Append(EntrySentinel, nil); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := NewWALReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	for i, want := range payloads {
		entry, err := r.ReadEntry()
		if err != nil {
			t.Fatalf("entry %d: %v", i, err)
		}
		if entry.Header.EntryType != EntryMutation {
			t.Errorf("entry %d: expected mutation type", i)
		}
		if !bytes.Equal(entry.Payload, want) {
			t.Errorf("entry %d: payload mismatch: %q vs %q", i, entry.Payload, want)
		}
		if entry.Header.Seq != uint64(i+1) {
			t.Errorf("entry %d: expected seq %d, got %d", i, i+1, entry.Header.Seq)
		}
		ReleaseEntry(entry)
	}

	sentinel, err := r.ReadEntry()
	if err != nil {
		t.Fatal(err)
	}
	if sentinel.Header.EntryType != EntrySentinel {
		t.Error("expected sentinel entry")
	}

	if _, err := r.ReadEntry(); err != io.EOF {
		t.Errorf("expected EOF, got %v", err)
	}
}

func TestWriterTruncate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.wal")

	w, err := NewWALWriter(path, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := w.Append(EntryMutation, []byte("doomed")); err != nil {
		t.Fatal(err)
	}
	if err := w.Truncate(); err != nil {
		t.Fatal(err)
	}
	if err := w.Append(EntryMutation, []byte("kept")); err != nil {
		t.Fatal(err)
	}
	if err := w.Sync(); err != nil {
		t.Fatal(err)
	}

	r, err := NewWALReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	entry, err := r.ReadEntry()
	if err != nil {
		t.Fatal(err)
	}
	if string(entry.Payload) != "kept" {
		t.Errorf("expected only the post-truncate entry, got %q", entry.Payload)
	}
	ReleaseEntry(entry)

	if _, err := r.ReadEntry(); err != io.EOF {
		t.Errorf("expected EOF after single entry, got %v", err)
	}
}
