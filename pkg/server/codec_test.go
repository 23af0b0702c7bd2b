package server

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
)

func TestSerializeFraming(t *testing.T) {
	frame, err := Serialize(map[string]any{"op": "insert_ts", "pk": "a"})
	if err != nil {
		t.Fatal(err)
	}

	// the prefix is the total length including itself
	total := binary.LittleEndian.Uint32(frame[:4])
	if int(total) != len(frame) {
		t.Errorf("length prefix %d does not match frame size %d", total, len(frame))
	}

	msg, err := ReadFrame(bytes.NewReader(frame))
	if err != nil {
		t.Fatal(err)
	}
	if msg["op"] != "insert_ts" || msg["pk"] != "a" {
		t.Errorf("round trip mismatch: %v", msg)
	}
}

func TestReadFrameConsumesExactlyOneMessage(t *testing.T) {
	first, err := Serialize(map[string]any{"op": "one"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := Serialize(map[string]any{"op": "two"})
	if err != nil {
		t.Fatal(err)
	}

	r := bytes.NewReader(append(first, second...))

	msg, err := ReadFrame(r)
	if err != nil {
		t.Fatal(err)
	}
	if msg["op"] != "one" {
		t.Errorf("first frame = %v", msg)
	}

	msg, err = ReadFrame(r)
	if err != nil {
		t.Fatal(err)
	}
	if msg["op"] != "two" {
		t.Errorf("second frame = %v", msg)
	}

	if _, err := ReadFrame(r); err != io.EOF {
		t.Errorf("expected EOF after both frames, got %v", err)
	}
}

func TestReadFrameRejectsShortLength(t *testing.T) {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, 2)
	if _, err := ReadFrame(bytes.NewReader(buf)); err == nil {
		t.Error("expected error for a length shorter than the prefix")
	}
}

func TestOrderedPayloadKeepsInsertionOrder(t *testing.T) {
	p := newOrderedPayload()
	p.set("zebra", 1)
	p.set("alpha", 2)
	p.set("mid", 3)

	out, err := p.MarshalJSON()
	if err != nil {
		t.Fatal(err)
	}

	want := `{"zebra":1,"alpha":2,"mid":3}`
	if string(out) != want {
		t.Errorf("ordered payload = %s, want %s", out, want)
	}
}
