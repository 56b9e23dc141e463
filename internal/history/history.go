package history

import (
	"context"
	"time"
)

// EventType defines the outcome recorded for one facility call.
type EventType string

const (
	EventExecuted  EventType = "executed"
	EventFailed    EventType = "failed"
	EventExhausted EventType = "exhausted"
)

// Event is one dynamic statement execution exported to external systems.
// Slot is -1 when no slot was acquired.
type Event struct {
	Type       EventType     `json:"type"`
	OccurredAt time.Time     `json:"occurred_at"`
	Slot       int           `json:"slot"`
	Depth      int           `json:"depth"`
	Statement  string        `json:"statement"`
	Duration   time.Duration `json:"duration_ns"`
	Error      string        `json:"error,omitempty"`
}

// Sink is a destination for history events (audit/analytics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
