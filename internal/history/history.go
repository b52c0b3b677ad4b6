package history

import (
	"context"
	"time"
)

// EventType defines the kind of durability event.
type EventType string

const (
	EventSync           EventType = "sync"
	EventBackup         EventType = "backup"
	EventRestore        EventType = "restore"
	EventGatewayStart   EventType = "gateway_start"
	EventGatewayRestart EventType = "gateway_restart"
)

// Event represents one supervision or durability operation to be exported
// to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Outcome    string    `json:"outcome"` // success, skipped, failed
	Detail     string    `json:"detail,omitempty"`
	Path       string    `json:"path,omitempty"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
