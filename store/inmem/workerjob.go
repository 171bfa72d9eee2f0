package inmem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nullstackai/conductor/store"
)

// WorkerJobStore is an in-memory store.WorkerJobStore.
type WorkerJobStore struct {
	mu        sync.Mutex
	jobs      map[string]*store.WorkerJob
	byToolKey map[string]string // supervisorRunID|toolCallID -> jobID
	queue     []string          // queued job IDs, FIFO
}

// NewWorkerJobStore builds an empty in-memory WorkerJobStore.
func NewWorkerJobStore() *WorkerJobStore {
	return &WorkerJobStore{
		jobs:      map[string]*store.WorkerJob{},
		byToolKey: map[string]string{},
	}
}

func toolKey(runID, toolCallID string) string { return runID + "|" + toolCallID }

func cloneJob(j *store.WorkerJob) *store.WorkerJob {
	cp := *j
	return &cp
}

// FindByToolCall implements store.WorkerJobStore.
func (s *WorkerJobStore) FindByToolCall(_ context.Context, supervisorRunID, toolCallID string) (*store.WorkerJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byToolKey[toolKey(supervisorRunID, toolCallID)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneJob(s.jobs[id]), nil
}

// Create implements store.WorkerJobStore.
func (s *WorkerJobStore) Create(_ context.Context, job *store.WorkerJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := toolKey(job.SupervisorRunID, job.ToolCallID)
	if _, exists := s.byToolKey[key]; exists {
		return store.ErrCASFailed
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	s.jobs[job.ID] = cloneJob(job)
	s.byToolKey[key] = job.ID
	return nil
}

// Get implements store.WorkerJobStore.
func (s *WorkerJobStore) Get(_ context.Context, id string) (*store.WorkerJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneJob(j), nil
}

// FlipCreatedToQueued implements store.WorkerJobStore.
func (s *WorkerJobStore) FlipCreatedToQueued(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		j, ok := s.jobs[id]
		if !ok || j.Status != store.JobCreated {
			return store.ErrCASFailed
		}
	}
	for _, id := range ids {
		s.jobs[id].Status = store.JobQueued
		s.queue = append(s.queue, id)
	}
	return nil
}

// ClaimQueued implements store.WorkerJobStore.
func (s *WorkerJobStore) ClaimQueued(_ context.Context) (*store.WorkerJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) > 0 {
		id := s.queue[0]
		s.queue = s.queue[1:]
		j, ok := s.jobs[id]
		if !ok || j.Status != store.JobQueued {
			continue
		}
		now := time.Now()
		j.Status = store.JobRunning
		j.StartedAt = &now
		return cloneJob(j), nil
	}
	return nil, store.ErrNotFound
}

// Finish implements store.WorkerJobStore.
func (s *WorkerJobStore) Finish(_ context.Context, id, workerID string, status store.WorkerJobStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	now := time.Now()
	j.WorkerID = workerID
	j.Status = status
	j.Error = errMsg
	j.FinishedAt = &now
	return nil
}

// ListOrphans implements store.WorkerJobStore.
func (s *WorkerJobStore) ListOrphans(_ context.Context, olderThan time.Time) ([]*store.WorkerJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.WorkerJob
	for _, j := range s.jobs {
		if j.Status == store.JobCreated && j.CreatedAt.Before(olderThan) {
			out = append(out, cloneJob(j))
		}
	}
	return out, nil
}

// ListByOwner implements store.WorkerJobStore.
func (s *WorkerJobStore) ListByOwner(_ context.Context, ownerID string) ([]*store.WorkerJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.WorkerJob
	for _, j := range s.jobs {
		if j.OwnerID == ownerID {
			out = append(out, cloneJob(j))
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })
	return out, nil
}

// Acknowledge implements store.WorkerJobStore.
func (s *WorkerJobStore) Acknowledge(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, id := range ids {
		if j, ok := s.jobs[id]; ok {
			j.Acknowledged = true
			j.AcknowledgedAt = &now
		}
	}
	return nil
}
