// Package history exports service lifecycle events to external stores.
package history

import (
	"context"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart   EventType = "start"
	EventStop    EventType = "stop"
	EventExit    EventType = "exit"
	EventRestart EventType = "restart"
)

// Record is the service state captured with an event.
type Record struct {
	Service        string    `json:"service"`
	PID            int       `json:"pid"`
	State          string    `json:"state"`
	LastError      string    `json:"last_error,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
	DefinitionJSON string    `json:"definition,omitempty"`
}

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Nullable returns nil for an empty string so it is stored as SQL NULL.
func Nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
