package store

import (
	"context"
	"time"
)

// BarrierStatus is the lifecycle state of a WorkerBarrier (spec.md §3). The
// waiting->resuming transition is the single serialization point that
// decides who gets to trigger a resume; it must only ever succeed once per
// barrier (spec.md §8 property 1).
type BarrierStatus string

const (
	BarrierWaiting  BarrierStatus = "waiting"
	BarrierResuming BarrierStatus = "resuming"
	BarrierComplete BarrierStatus = "completed"
	BarrierFailed   BarrierStatus = "failed"
)

// WorkerBarrier coordinates N WorkerJobs spawned in one engine turn
// (spec.md §3, §4.4). A run owns at most one barrier at a time.
type WorkerBarrier struct {
	ID             string
	RunID          string
	ExpectedCount  int
	CompletedCount int
	Status         BarrierStatus
	DeadlineAt     time.Time
}

// BarrierJobStatus is the lifecycle state of a WorkerBarrierJob.
type BarrierJobStatus string

const (
	BarrierJobCreated   BarrierJobStatus = "created"
	BarrierJobQueued    BarrierJobStatus = "queued"
	BarrierJobCompleted BarrierJobStatus = "completed"
	BarrierJobFailed    BarrierJobStatus = "failed"
	BarrierJobTimeout   BarrierJobStatus = "timeout"
)

// Terminal reports whether s is a terminal BarrierJobStatus.
func (s BarrierJobStatus) Terminal() bool {
	switch s {
	case BarrierJobCompleted, BarrierJobFailed, BarrierJobTimeout:
		return true
	default:
		return false
	}
}

// WorkerBarrierJob associates a WorkerBarrier with one of its WorkerJobs
// (spec.md §3). Unique on (BarrierID, JobID).
type WorkerBarrierJob struct {
	BarrierID   string
	JobID       string
	ToolCallID  string
	Status      BarrierJobStatus
	Result      string
	Error       string
	CompletedAt *time.Time
}

// BarrierCompletionOutcome is returned by BarrierStore.CompleteJob,
// reporting whether this call was the one that flipped the barrier to
// resuming.
type BarrierCompletionOutcome struct {
	// AlreadyDone is true if the WorkerBarrierJob was already terminal when
	// CompleteJob was called (spec.md §4.4 step 3: "if it's already
	// terminal, return {skipped, already-done}").
	AlreadyDone bool
	// ShouldResume is true exactly once per barrier: the caller that
	// observes this must be the one to invoke the resume service.
	ShouldResume   bool
	CompletedCount int
	ExpectedCount  int
	Barrier        *WorkerBarrier
	Jobs           []*WorkerBarrierJob
}

// BarrierStore persists WorkerBarrier and WorkerBarrierJob records and
// implements the two-phase-commit install + atomic-completion protocol
// (spec.md §4.4).
type BarrierStore interface {
	// Install atomically creates the WorkerBarrier and its N
	// WorkerBarrierJob rows and flips the given WorkerJobs from created to
	// queued, all within one transaction (spec.md §4.4 steps 1-3).
	Install(ctx context.Context, barrier *WorkerBarrier, jobs []*WorkerBarrierJob) error

	// Get loads a barrier by ID.
	Get(ctx context.Context, id string) (*WorkerBarrier, error)

	// GetByRun loads the (at most one) barrier currently owned by runID.
	// Returns ErrNotFound if the run has no active barrier.
	GetByRun(ctx context.Context, runID string) (*WorkerBarrier, error)

	// CompleteJob atomically: looks up the WorkerBarrierJob by
	// (barrierID, jobID); if already terminal, returns
	// {AlreadyDone: true}; otherwise marks it with status/result/error,
	// increments the barrier's completedCount under a row lock, and — if
	// this increment brings completedCount to expectedCount and the
	// barrier is still `waiting` — CASes the barrier to `resuming` and sets
	// ShouldResume true. Exactly one caller ever observes ShouldResume=true
	// for a given barrier (spec.md §8 property 1).
	CompleteJob(ctx context.Context, barrierID, jobID string, status BarrierJobStatus, result, errMsg string) (BarrierCompletionOutcome, error)

	// ListJobs returns every WorkerBarrierJob for a barrier.
	ListJobs(ctx context.Context, barrierID string) ([]*WorkerBarrierJob, error)

	// Reinstall deletes all existing WorkerBarrierJob rows for barrierID
	// and installs a fresh set, used when a run re-interrupts on the same
	// barrier (spec.md §4.4: "stale results would poison the next resume").
	Reinstall(ctx context.Context, barrierID string, jobs []*WorkerBarrierJob) error

	// MarkResumed transitions a barrier from resuming to completed once the
	// resume service has consumed its results.
	MarkResumed(ctx context.Context, barrierID string) error

	// ListExpiredWaiting returns barriers with status=waiting and
	// deadlineAt < now, for the deadline reaper (spec.md §4.4).
	ListExpiredWaiting(ctx context.Context, now time.Time) ([]*WorkerBarrier, error)

	// ClaimForReap attempts a no-wait lock on a waiting barrier for the
	// reaper; returns ErrCASFailed if another process already holds it.
	ClaimForReap(ctx context.Context, barrierID string) error
}
