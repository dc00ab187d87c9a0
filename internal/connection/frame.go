package connection

import (
	"encoding/json"
	"fmt"
)

// Frame is one outbound WebSocket message.
type Frame struct {
	// Binary selects a binary message; otherwise the frame is sent as text.
	Binary bool

	// Data is the message payload.
	Data []byte
}

// JSON encodes v as a text frame.
func JSON(v any) (Frame, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Frame{}, fmt.Errorf("connection: encode frame: %w", err)
	}
	return Frame{Data: data}, nil
}

// Binary wraps data as a binary frame.
func Binary(data []byte) Frame {
	return Frame{Binary: true, Data: data}
}
