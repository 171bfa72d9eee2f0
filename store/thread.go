package store

import (
	"context"

	"github.com/nullstackai/conductor/model"
)

// Thread is an ordered conversation container; the run engine reads and
// appends model.Message values scoped to a thread (spec.md §3).
type Thread struct {
	ID      string
	OwnerID string
	AgentID string
}

// ThreadStore persists Thread records.
type ThreadStore interface {
	Create(ctx context.Context, th *Thread) error
	Get(ctx context.Context, id string) (*Thread, error)
	// FindOrCreateSupervisor returns the long-lived supervisor thread for
	// (ownerID, agentID), creating it if absent (spec.md §4.6).
	FindOrCreateSupervisor(ctx context.Context, ownerID, agentID string) (*Thread, error)
}

// MessageStore persists model.Message records, ordered by monotonic
// insertion id (never by timestamp, per spec.md §3).
type MessageStore interface {
	// Append inserts msg, assigning it the next monotonic ID for its
	// thread, and returns the assigned ID.
	Append(ctx context.Context, msg *model.Message) (int64, error)
	// List returns all messages for threadID in insertion order.
	List(ctx context.Context, threadID string) ([]model.Message, error)
	// ListSince returns messages with ID > afterID, in insertion order.
	ListSince(ctx context.Context, threadID string, afterID int64) ([]model.Message, error)
	// MarkProcessed flips the processed flag for the given message IDs.
	MarkProcessed(ctx context.Context, threadID string, ids []int64) error
	// Delete removes the given message IDs from threadID. Used by the
	// inbox context builder's staleness pruning (spec.md §4.7): stale
	// `<!-- RECENT_WORKER_CONTEXT -->` messages are deleted outright
	// rather than marked, since a superseded inbox snapshot has no value.
	Delete(ctx context.Context, threadID string, ids []int64) error
}
