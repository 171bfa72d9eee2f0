// Package inmem implements store.* interfaces in-process, for unit tests
// and single-node demos (grounded on runtime/agent/run/inmem and
// features/session's in-memory test doubles).
package inmem

import (
	"context"
	"sync"

	"github.com/nullstackai/conductor/store"
)

// RunStore is an in-memory store.RunStore.
type RunStore struct {
	mu   sync.Mutex
	runs map[string]*store.Run
}

// NewRunStore builds an empty in-memory RunStore.
func NewRunStore() *RunStore {
	return &RunStore{runs: map[string]*store.Run{}}
}

func clone(r *store.Run) *store.Run {
	cp := *r
	return &cp
}

// Create implements store.RunStore.
func (s *RunStore) Create(_ context.Context, run *store.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return store.ErrCASFailed
	}
	s.runs[run.ID] = clone(run)
	return nil
}

// Get implements store.RunStore.
func (s *RunStore) Get(_ context.Context, id string) (*store.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(r), nil
}

// CASStatus implements store.RunStore.
func (s *RunStore) CASStatus(_ context.Context, id string, from, to store.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return store.ErrNotFound
	}
	if r.Status != from {
		return store.ErrCASFailed
	}
	r.Status = to
	return nil
}

// Update implements store.RunStore.
func (s *RunStore) Update(_ context.Context, run *store.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		return store.ErrNotFound
	}
	s.runs[run.ID] = clone(run)
	return nil
}

// FindByContinuationOf implements store.RunStore.
func (s *RunStore) FindByContinuationOf(_ context.Context, runID string) (*store.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runs {
		if r.ContinuationOfRunID != nil && *r.ContinuationOfRunID == runID {
			return clone(r), nil
		}
	}
	return nil, store.ErrNotFound
}
