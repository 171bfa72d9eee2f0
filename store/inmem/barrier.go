package inmem

import (
	"sync"
	"time"

	"context"

	"github.com/nullstackai/conductor/store"
)

// BarrierStore is an in-memory store.BarrierStore. The mutex it holds
// stands in for the store-level row lock a Mongo/Postgres backend would
// take with FindOneAndUpdate / SELECT ... FOR UPDATE.
type BarrierStore struct {
	mu          sync.Mutex
	barriers    map[string]*store.WorkerBarrier
	byRun       map[string]string // runID -> barrierID
	jobs        map[string]map[string]*store.WorkerBarrierJob // barrierID -> jobID -> job
	claimedReap map[string]bool
}

// NewBarrierStore builds an empty in-memory BarrierStore.
func NewBarrierStore() *BarrierStore {
	return &BarrierStore{
		barriers:    map[string]*store.WorkerBarrier{},
		byRun:       map[string]string{},
		jobs:        map[string]map[string]*store.WorkerBarrierJob{},
		claimedReap: map[string]bool{},
	}
}

func cloneBarrier(b *store.WorkerBarrier) *store.WorkerBarrier {
	cp := *b
	return &cp
}

func cloneBarrierJob(j *store.WorkerBarrierJob) *store.WorkerBarrierJob {
	cp := *j
	return &cp
}

// Install implements store.BarrierStore. It records only the barrier and its
// job rows; this store holds no WorkerJobs, so their status is not changed
// here (barrier.Coordinator.Install flips them to queued).
func (s *BarrierStore) Install(_ context.Context, barrier *store.WorkerBarrier, jobs []*store.WorkerBarrierJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byRun[barrier.RunID]; exists {
		return store.ErrCASFailed
	}
	s.barriers[barrier.ID] = cloneBarrier(barrier)
	s.byRun[barrier.RunID] = barrier.ID
	byJob := make(map[string]*store.WorkerBarrierJob, len(jobs))
	for _, j := range jobs {
		byJob[j.JobID] = cloneBarrierJob(j)
	}
	s.jobs[barrier.ID] = byJob
	return nil
}

// Get implements store.BarrierStore.
func (s *BarrierStore) Get(_ context.Context, id string) (*store.WorkerBarrier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.barriers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneBarrier(b), nil
}

// GetByRun implements store.BarrierStore.
func (s *BarrierStore) GetByRun(_ context.Context, runID string) (*store.WorkerBarrier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byRun[runID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneBarrier(s.barriers[id]), nil
}

// CompleteJob implements store.BarrierStore.
func (s *BarrierStore) CompleteJob(_ context.Context, barrierID, jobID string, status store.BarrierJobStatus, result, errMsg string) (store.BarrierCompletionOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.barriers[barrierID]
	if !ok {
		return store.BarrierCompletionOutcome{}, store.ErrNotFound
	}
	byJob, ok := s.jobs[barrierID]
	if !ok {
		return store.BarrierCompletionOutcome{}, store.ErrNotFound
	}
	j, ok := byJob[jobID]
	if !ok {
		return store.BarrierCompletionOutcome{}, store.ErrNotFound
	}

	if j.Status.Terminal() {
		return store.BarrierCompletionOutcome{AlreadyDone: true, Barrier: cloneBarrier(b)}, nil
	}

	now := time.Now()
	j.Status = status
	j.Result = result
	j.Error = errMsg
	j.CompletedAt = &now
	b.CompletedCount++

	outcome := store.BarrierCompletionOutcome{
		CompletedCount: b.CompletedCount,
		ExpectedCount:  b.ExpectedCount,
		Barrier:        cloneBarrier(b),
	}
	if b.CompletedCount >= b.ExpectedCount && b.Status == store.BarrierWaiting {
		b.Status = store.BarrierResuming
		outcome.ShouldResume = true
		outcome.Barrier = cloneBarrier(b)
	}
	jobsOut := make([]*store.WorkerBarrierJob, 0, len(byJob))
	for _, jj := range byJob {
		jobsOut = append(jobsOut, cloneBarrierJob(jj))
	}
	outcome.Jobs = jobsOut
	return outcome, nil
}

// ListJobs implements store.BarrierStore.
func (s *BarrierStore) ListJobs(_ context.Context, barrierID string) ([]*store.WorkerBarrierJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byJob, ok := s.jobs[barrierID]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := make([]*store.WorkerBarrierJob, 0, len(byJob))
	for _, j := range byJob {
		out = append(out, cloneBarrierJob(j))
	}
	return out, nil
}

// Reinstall implements store.BarrierStore.
func (s *BarrierStore) Reinstall(_ context.Context, barrierID string, jobs []*store.WorkerBarrierJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.barriers[barrierID]
	if !ok {
		return store.ErrNotFound
	}
	byJob := make(map[string]*store.WorkerBarrierJob, len(jobs))
	for _, j := range jobs {
		byJob[j.JobID] = cloneBarrierJob(j)
	}
	s.jobs[barrierID] = byJob
	b.CompletedCount = 0
	b.ExpectedCount = len(jobs)
	b.Status = store.BarrierWaiting
	return nil
}

// MarkResumed implements store.BarrierStore.
func (s *BarrierStore) MarkResumed(_ context.Context, barrierID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.barriers[barrierID]
	if !ok {
		return store.ErrNotFound
	}
	b.Status = store.BarrierComplete
	return nil
}

// ListExpiredWaiting implements store.BarrierStore.
func (s *BarrierStore) ListExpiredWaiting(_ context.Context, now time.Time) ([]*store.WorkerBarrier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.WorkerBarrier
	for _, b := range s.barriers {
		if b.Status == store.BarrierWaiting && b.DeadlineAt.Before(now) {
			out = append(out, cloneBarrier(b))
		}
	}
	return out, nil
}

// ClaimForReap implements store.BarrierStore.
func (s *BarrierStore) ClaimForReap(_ context.Context, barrierID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimedReap[barrierID] {
		return store.ErrCASFailed
	}
	s.claimedReap[barrierID] = true
	return nil
}
