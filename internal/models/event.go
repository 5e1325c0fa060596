package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event is a UPS notification received on the push channel
type Event struct {
	Payload    map[string]interface{} `json:"payload"`
	ReceivedAt time.Time              `json:"received_at"`
}

// ParseEvent decodes a DICOM JSON notification payload
func ParseEvent(data []byte, receivedAt time.Time) (*Event, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse event: %w", err)
	}
	if payload == nil {
		return nil, fmt.Errorf("failed to parse event: not a JSON object")
	}
	return &Event{Payload: payload, ReceivedAt: receivedAt}, nil
}

// EventTypeID returns the Event Type ID (0000,1002) or "Unknown"
func (e *Event) EventTypeID() string {
	return e.firstValue(TagEventTypeID)
}

// AffectedSOPInstanceUID returns the Affected SOP Instance UID (0000,1000) or "Unknown"
func (e *Event) AffectedSOPInstanceUID() string {
	return e.firstValue(TagAffectedSOPInstanceUID)
}

func (e *Event) firstValue(tag string) string {
	attr, ok := e.Payload[tag].(map[string]interface{})
	if !ok {
		return "Unknown"
	}
	values, ok := attr["Value"].([]interface{})
	if !ok || len(values) == 0 || values[0] == nil {
		return "Unknown"
	}
	switch v := values[0].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%g", v)
	default:
		return fmt.Sprint(v)
	}
}
