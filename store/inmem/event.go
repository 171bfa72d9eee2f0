package inmem

import (
	"context"
	"sync"

	"github.com/nullstackai/conductor/store"
)

// EventStore is an in-memory store.EventStore.
type EventStore struct {
	mu     sync.Mutex
	byRun  map[string][]store.Event
	nextID int64
}

// NewEventStore builds an empty in-memory EventStore.
func NewEventStore() *EventStore {
	return &EventStore{byRun: map[string][]store.Event{}}
}

// Append implements store.EventStore.
func (s *EventStore) Append(_ context.Context, ev *store.Event) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	ev.ID = s.nextID
	s.byRun[ev.RunID] = append(s.byRun[ev.RunID], *ev)
	return ev.ID, nil
}

// ListSince implements store.EventStore.
func (s *EventStore) ListSince(_ context.Context, runID string, afterID int64) ([]store.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Event
	for _, e := range s.byRun[runID] {
		if e.ID > afterID {
			out = append(out, e)
		}
	}
	return out, nil
}
