package live

import (
	"encoding/json"
	"fmt"

	"feedsync/models"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/zstd"
)

type FrameType string

const (
	FrameSnapshot FrameType = "snapshot"
	FrameError    FrameType = "error"
)

// Frame is the wire message exchanged between the hub and WSSource.
type Frame struct {
	Type       FrameType         `json:"type"`
	Collection string            `json:"collection,omitempty"`
	Docs       []models.Document `json:"docs,omitempty"`
	Error      string            `json:"error,omitempty"`
	SentAt     int64             `json:"sentAt,omitempty"`
}

// EncodeFrame returns the websocket message type and payload for f. With a
// non-nil encoder the JSON is zstd compressed and sent as a binary message.
func EncodeFrame(f Frame, enc *zstd.Encoder) (int, []byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to marshal frame: %w", err)
	}
	if enc == nil {
		return websocket.TextMessage, data, nil
	}
	return websocket.BinaryMessage, enc.EncodeAll(data, nil), nil
}

// DecodeFrame parses a websocket message. Binary messages are decompressed
// when a decoder is available.
func DecodeFrame(messageType int, data []byte, dec *zstd.Decoder) (Frame, error) {
	if messageType == websocket.BinaryMessage && dec != nil {
		decompressed, err := dec.DecodeAll(data, nil)
		if err != nil {
			return Frame{}, fmt.Errorf("failed to decompress frame: %w", err)
		}
		data = decompressed
	}

	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("failed to unmarshal frame: %w", err)
	}
	return f, nil
}
