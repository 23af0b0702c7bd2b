package server

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Wire framing: a 4-byte little-endian total-length prefix (the length
// includes the prefix itself) followed by the UTF-8 JSON encoding of the
// request or response.
const lengthFieldBytes = 4

// Serialize frames v for the wire.
func Serialize(v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}

	buf := make([]byte, lengthFieldBytes, lengthFieldBytes+len(body))
	binary.LittleEndian.PutUint32(buf, uint32(len(body)+lengthFieldBytes))
	return append(buf, body...), nil
}

// ReadFrame reads one framed JSON message from r and decodes it.
func ReadFrame(r io.Reader) (map[string]any, error) {
	var header [lengthFieldBytes]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	total := binary.LittleEndian.Uint32(header[:])
	if total < lengthFieldBytes {
		return nil, fmt.Errorf("invalid frame length %d", total)
	}

	body := make([]byte, total-lengthFieldBytes)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	var msg map[string]any
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	return msg, nil
}
