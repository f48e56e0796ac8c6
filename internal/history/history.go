package history

import (
	"context"
	"time"

	"github.com/nicwh1988/respawn/internal/store"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	// EventLaunched fires after a fresh worker instance starts.
	EventLaunched EventType = "launched"
	// EventSignaled fires when previous instances received the termination
	// signal during a restart.
	EventSignaled EventType = "signaled"
	// EventExited fires when a supervised worker exits.
	EventExited EventType = "exited"
)

// Event is one lifecycle event exported to external analytics systems.
type Event struct {
	Type       EventType    `json:"type"`
	OccurredAt time.Time    `json:"occurred_at"`
	Record     store.Record `json:"record"`
}

// Sink is a destination for history events. Implementations must be safe for
// concurrent use; senders treat every sink as best-effort.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
