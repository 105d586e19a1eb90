package stores

import (
	"encoding/json"
	"time"
)

// EventType distinguishes persisted engine events.
type EventType string

const (
	// EventTypeDrift is a drift detection event.
	EventTypeDrift EventType = "drift"

	// EventTypeError is a terminal reconciliation failure.
	EventTypeError EventType = "error"
)

// EventRecord is one persisted drift or error event. Events are append-only
// history; the reconciliation records themselves always hold current state.
type EventRecord struct {
	// ID is the auto-assigned row ID.
	ID int64 `json:"id"`

	// EventID is the engine-assigned event identifier.
	EventID string `json:"event_id"`

	// ResourceID is the canonical identity of the affected resource.
	ResourceID string `json:"resource_id"`

	// Type is drift or error.
	Type EventType `json:"type"`

	// Payload is the full event as JSON.
	Payload json.RawMessage `json:"payload"`

	// OccurredAt is when the event happened.
	OccurredAt time.Time `json:"occurred_at"`
}

// EventFilter narrows event history queries. Zero values match everything.
type EventFilter struct {
	// ResourceID limits events to one resource when non-empty.
	ResourceID string

	// Type limits events to one event type when non-empty.
	Type EventType

	// Limit caps the number of returned events; 0 means no cap.
	Limit int
}
