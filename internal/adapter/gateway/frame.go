package gateway

import (
	"encoding/json"
	"time"

	"supplyintel/internal/domain"
)

// Envelope is the body of every HTTP response.
type Envelope struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Error     *APIError `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// APIError is the error part of an Envelope.
type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// FrameType identifies the kind of frame sent over the WebSocket feed.
type FrameType string

const (
	FrameTypeEvent   FrameType = "event"
	FrameTypeDropped FrameType = "dropped"
)

// Frame is one message on the WebSocket feed.
type Frame struct {
	Type    FrameType        `json:"type"`
	Event   domain.EventType `json:"event,omitempty"`
	Payload json.RawMessage  `json:"payload,omitempty"`
	Dropped uint64           `json:"dropped,omitempty"` // dropped frames only
	Time    time.Time        `json:"timestamp"`
	CorrID  string           `json:"correlation_id,omitempty"`
}

func eventFrame(ev domain.Event) Frame {
	return Frame{
		Type:    FrameTypeEvent,
		Event:   ev.Type,
		Payload: ev.Payload,
		Time:    ev.Timestamp,
		CorrID:  ev.CorrelationID,
	}
}
