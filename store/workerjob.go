package store

import (
	"context"
	"time"
)

// WorkerJobStatus is the lifecycle state of a WorkerJob (spec.md §3).
type WorkerJobStatus string

const (
	JobCreated   WorkerJobStatus = "created"
	JobQueued    WorkerJobStatus = "queued"
	JobRunning   WorkerJobStatus = "running"
	JobSuccess   WorkerJobStatus = "success"
	JobFailed    WorkerJobStatus = "failed"
	JobCancelled WorkerJobStatus = "cancelled"
	JobTimeout   WorkerJobStatus = "timeout"
)

// Terminal reports whether s is a terminal WorkerJob status.
func (s WorkerJobStatus) Terminal() bool {
	switch s {
	case JobSuccess, JobFailed, JobCancelled, JobTimeout:
		return true
	default:
		return false
	}
}

// WorkerJobConfig carries workspace-mode configuration for a delegated
// sub-task (SPEC_FULL.md §6.3), threaded into the worker's seeded system
// prompt by worker.Processor.
type WorkerJobConfig struct {
	// RepoURL is the git repository the worker should clone/operate in.
	// Empty for non-workspace jobs.
	RepoURL string `json:"repo_url,omitempty"`
	// ResumeSessionID optionally resumes a prior workspace session instead
	// of cloning fresh.
	ResumeSessionID string `json:"resume_session_id,omitempty"`
}

// WorkerJob is one delegated sub-task spawned via the spawn_worker tool
// (spec.md §3).
type WorkerJob struct {
	ID              string
	OwnerID         string
	SupervisorRunID string
	// ToolCallID is the identifier of the spawning tool call; the
	// (SupervisorRunID, ToolCallID) pair is the idempotency key (spec.md §8
	// property 2).
	ToolCallID      string
	Task            string
	Model           string
	ReasoningEffort string
	Status          WorkerJobStatus
	// WorkerID is an opaque external identifier assigned once execution
	// begins (empty until then).
	WorkerID   string
	Error      string
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
	Config     *WorkerJobConfig

	// Acknowledged and AcknowledgedAt support the inbox context builder's
	// "see-then-mark" semantics (spec.md §4.7): a completed job is not
	// considered read until the supervisor has actually persisted a
	// message referencing it.
	Acknowledged   bool
	AcknowledgedAt *time.Time
}

// WorkerJobStore persists WorkerJob records.
type WorkerJobStore interface {
	// FindByToolCall looks up an existing WorkerJob by its idempotency key.
	// Returns ErrNotFound if none exists yet.
	FindByToolCall(ctx context.Context, supervisorRunID, toolCallID string) (*WorkerJob, error)
	// Create inserts a new WorkerJob with status=created.
	Create(ctx context.Context, job *WorkerJob) error
	Get(ctx context.Context, id string) (*WorkerJob, error)
	// FlipCreatedToQueued transitions every job in ids from created to
	// queued, as the final step of barrier installation (spec.md §4.4). All
	// jobs must currently be status=created or the call fails atomically.
	FlipCreatedToQueued(ctx context.Context, ids []string) error
	// ClaimQueued CAS-transitions one queued job to running and returns it;
	// returns ErrNotFound if no queued job is claimable.
	ClaimQueued(ctx context.Context) (*WorkerJob, error)
	// Finish records a terminal outcome for a running job, persisting the
	// workerID so a later cache-hit replay (spec.md §4.1 spawn idempotency
	// step 1) can look up the job's artifacts.
	Finish(ctx context.Context, id, workerID string, status WorkerJobStatus, errMsg string) error
	// ListOrphans returns status=created jobs older than olderThan with no
	// associated barrier (spec.md §3 orphan-reaping invariant).
	ListOrphans(ctx context.Context, olderThan time.Time) ([]*WorkerJob, error)
	// ListByOwner returns every WorkerJob owned by ownerID, newest first,
	// for the inbox context builder (spec.md §4.7) to section into
	// active/unread/recently-acknowledged.
	ListByOwner(ctx context.Context, ownerID string) ([]*WorkerJob, error)
	// Acknowledge marks the given jobs as acknowledged. Called only after
	// the inbox message referencing them has been durably persisted
	// (spec.md §4.7 "atomic see-then-mark").
	Acknowledge(ctx context.Context, ids []string) error
}
