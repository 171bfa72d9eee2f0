package store

import (
	"context"
	"encoding/json"
	"time"
)

// Event is one append-only lifecycle record for a run, used for durable SSE
// replay (spec.md §3).
type Event struct {
	ID        int64
	RunID     string
	EventType string
	Payload   json.RawMessage
	CreatedAt time.Time
}

// EventStore persists the append-only Event log.
type EventStore interface {
	// Append inserts ev, assigning it the next monotonic ID, and returns
	// the assigned ID.
	Append(ctx context.Context, ev *Event) (int64, error)
	// ListSince returns events for runID with ID > afterID, in order, for
	// replay-on-reconnect.
	ListSince(ctx context.Context, runID string, afterID int64) ([]Event, error)
}
