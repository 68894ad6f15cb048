package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FrameKind classifies an inbound text frame.
type FrameKind int

const (
	FrameInvalid FrameKind = iota
	FrameRTS
	FrameCTS
	FrameRow
	FrameSubscribe
)

// String returns a short name for logging.
func (k FrameKind) String() string {
	switch k {
	case FrameRTS:
		return "rts"
	case FrameCTS:
		return "cts"
	case FrameRow:
		return "row"
	case FrameSubscribe:
		return "subscribe"
	default:
		return "invalid"
	}
}

// Frame is a classified inbound frame. Only the field matching Kind is set.
type Frame struct {
	Kind         FrameKind
	Row          Row
	Subscription Subscription
}

type probe struct {
	Type   *string         `json:"type"`
	Server string          `json:"server"`
	Text   *string         `json:"text"`
	ID     json.RawMessage `json:"id"`
}

// ParseFrame classifies a raw text frame. The sentinels must match exactly;
// everything else must be a JSON object that is either a subscription
// (carries "type") or a row (carries "text").
func ParseFrame(raw []byte) (Frame, error) {
	switch string(raw) {
	case RTS:
		return Frame{Kind: FrameRTS}, nil
	case CTS:
		return Frame{Kind: FrameCTS}, nil
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Frame{}, fmt.Errorf("%w: %q", ErrMalformedFrame, truncate(raw))
	}

	var p probe
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	if p.Type != nil {
		return Frame{
			Kind:         FrameSubscribe,
			Subscription: Subscription{Type: *p.Type, Server: p.Server},
		}, nil
	}

	if p.Text == nil {
		return Frame{}, fmt.Errorf("%w: object without text or type", ErrMalformedFrame)
	}

	id, hasID, err := decodeID(p.ID)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Kind: FrameRow, Row: Row{ID: id, HasID: hasID, Text: *p.Text}}, nil
}

func truncate(raw []byte) string {
	const max = 64
	if len(raw) > max {
		return string(raw[:max]) + "..."
	}
	return string(raw)
}
