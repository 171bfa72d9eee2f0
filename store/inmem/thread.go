package inmem

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/nullstackai/conductor/model"
	"github.com/nullstackai/conductor/store"
)

// ThreadStore is an in-memory store.ThreadStore.
type ThreadStore struct {
	mu           sync.Mutex
	threads      map[string]*store.Thread
	supervisorOf map[string]string // ownerID|agentID -> threadID
}

// NewThreadStore builds an empty in-memory ThreadStore.
func NewThreadStore() *ThreadStore {
	return &ThreadStore{
		threads:      map[string]*store.Thread{},
		supervisorOf: map[string]string{},
	}
}

// Create implements store.ThreadStore.
func (s *ThreadStore) Create(_ context.Context, th *store.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *th
	s.threads[th.ID] = &cp
	return nil
}

// Get implements store.ThreadStore.
func (s *ThreadStore) Get(_ context.Context, id string) (*store.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	th, ok := s.threads[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *th
	return &cp, nil
}

// FindOrCreateSupervisor implements store.ThreadStore.
func (s *ThreadStore) FindOrCreateSupervisor(_ context.Context, ownerID, agentID string) (*store.Thread, error) {
	key := fmt.Sprintf("%s|%s", ownerID, agentID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.supervisorOf[key]; ok {
		cp := *s.threads[id]
		return &cp, nil
	}
	th := &store.Thread{ID: uuid.NewString(), OwnerID: ownerID, AgentID: agentID}
	s.threads[th.ID] = th
	s.supervisorOf[key] = th.ID
	cp := *th
	return &cp, nil
}

// MessageStore is an in-memory store.MessageStore.
type MessageStore struct {
	mu       sync.Mutex
	byThread map[string][]model.Message
	nextID   int64
}

// NewMessageStore builds an empty in-memory MessageStore.
func NewMessageStore() *MessageStore {
	return &MessageStore{byThread: map[string][]model.Message{}}
}

// Append implements store.MessageStore.
func (s *MessageStore) Append(_ context.Context, msg *model.Message) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	msg.ID = s.nextID
	s.byThread[msg.ThreadID] = append(s.byThread[msg.ThreadID], *msg)
	return msg.ID, nil
}

// List implements store.MessageStore.
func (s *MessageStore) List(_ context.Context, threadID string) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Message, len(s.byThread[threadID]))
	copy(out, s.byThread[threadID])
	return out, nil
}

// ListSince implements store.MessageStore.
func (s *MessageStore) ListSince(_ context.Context, threadID string, afterID int64) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Message
	for _, m := range s.byThread[threadID] {
		if m.ID > afterID {
			out = append(out, m)
		}
	}
	return out, nil
}

// MarkProcessed implements store.MessageStore.
func (s *MessageStore) MarkProcessed(_ context.Context, threadID string, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	msgs := s.byThread[threadID]
	for i := range msgs {
		if _, ok := want[msgs[i].ID]; ok {
			msgs[i].Processed = true
		}
	}
	return nil
}

// Delete implements store.MessageStore.
func (s *MessageStore) Delete(_ context.Context, threadID string, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	msgs := s.byThread[threadID]
	out := msgs[:0]
	for _, m := range msgs {
		if _, drop := want[m.ID]; !drop {
			out = append(out, m)
		}
	}
	s.byThread[threadID] = out
	return nil
}
