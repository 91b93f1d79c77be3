package gateway

import (
	"encoding/json"
)

// controlFrameMaxLen gates JSON parsing: frames at or past this length
// are terminal input unconditionally, so echoed output bursts that
// happen to start with '{' never pay the parse cost.
const controlFrameMaxLen = 200

const (
	minDimension = 1
	maxDimension = 9999
)

// FrameKind is the result of classifying one inbound frame.
type FrameKind int

const (
	// FrameRaw is terminal input verbatim: the frame failed the gate or
	// did not parse as JSON.
	FrameRaw FrameKind = iota
	// FrameResize is a control directive; never forwarded as input.
	FrameResize
	// FrameData carries a typed-input payload to forward to the process.
	FrameData
	// FrameUnknownControl parsed as JSON but had no recognized shape.
	// The original raw bytes fall through as terminal input so new
	// message types fail open rather than being swallowed.
	FrameUnknownControl
)

// Frame is a classified inbound frame.
type Frame struct {
	Kind FrameKind
	Cols int
	Rows int
	Data string
	Raw  []byte
}

type controlMessage struct {
	Type string  `json:"type"`
	Cols int     `json:"cols"`
	Rows int     `json:"rows"`
	Data *string `json:"data"`
}

// Classify decides whether a frame is a control message or raw terminal
// input. Pure function; all I/O handling lives elsewhere.
func Classify(raw []byte) Frame {
	if len(raw) == 0 || len(raw) >= controlFrameMaxLen || raw[0] != '{' {
		return Frame{Kind: FrameRaw, Raw: raw}
	}

	var msg controlMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Frame{Kind: FrameRaw, Raw: raw}
	}

	switch {
	case msg.Type == "resize" && saneDimension(msg.Cols) && saneDimension(msg.Rows):
		return Frame{Kind: FrameResize, Cols: msg.Cols, Rows: msg.Rows}
	case msg.Type == "data" && msg.Data != nil:
		return Frame{Kind: FrameData, Data: *msg.Data, Raw: raw}
	default:
		return Frame{Kind: FrameUnknownControl, Raw: raw}
	}
}

func saneDimension(v int) bool {
	return v >= minDimension && v <= maxDimension
}
