// Package barrier implements the barrier coordinator (spec.md §4.4): the
// two-phase-commit install of a WorkerBarrier plus its N WorkerBarrierJob
// rows, and the atomic-completion path that guarantees exactly one worker
// completion ever triggers the supervisor resume for a given batch.
package barrier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nullstackai/conductor/interrupt"
	"github.com/nullstackai/conductor/store"
	"github.com/nullstackai/conductor/telemetry"
)

// DefaultDeadline is the absolute timeout a barrier gets from install,
// after which the reaper considers its workers timed out (spec.md §4.4).
const DefaultDeadline = 10 * time.Minute

// Resumer is invoked exactly once per barrier, by whichever caller's
// CompleteJob call observes completedCount reach expectedCount. It is a
// narrow seam so this package does not need to import resume (which itself
// depends on barrier to reinstall on re-interruption).
type Resumer interface {
	Resume(ctx context.Context, runID string, barrierID string) error
}

// Coordinator wraps a store.BarrierStore with the spec's install/complete
// protocol.
type Coordinator struct {
	Store   store.BarrierStore
	Jobs    store.WorkerJobStore
	Resumer Resumer
	Logger  telemetry.Logger
}

// Install performs the two-phase commit: create the WorkerBarrier and its
// WorkerBarrierJob rows and flip the given WorkerJobs from created to
// queued (spec.md §4.4 steps 1-4). Each SpawnedJob pairs a JobID with the
// ToolCallID that spawned it. A store whose Install already flips the jobs
// does so atomically; any job still in created state afterwards is flipped
// here.
func (c *Coordinator) Install(ctx context.Context, runID string, jobs []interrupt.SpawnedJob) (*store.WorkerBarrier, error) {
	if len(jobs) == 0 {
		return nil, errors.New("barrier: install requires at least one job")
	}
	b := &store.WorkerBarrier{
		ID: uuid.NewString(), RunID: runID, ExpectedCount: len(jobs),
		Status: store.BarrierWaiting, DeadlineAt: time.Now().Add(DefaultDeadline),
	}
	barrierJobs := make([]*store.WorkerBarrierJob, len(jobs))
	for i, j := range jobs {
		barrierJobs[i] = &store.WorkerBarrierJob{
			BarrierID: b.ID, JobID: j.JobID, ToolCallID: j.ToolCallID, Status: store.BarrierJobCreated,
		}
	}
	if err := c.Store.Install(ctx, b, barrierJobs); err != nil {
		return nil, fmt.Errorf("barrier: install: %w", err)
	}
	var pending []string
	for _, j := range jobs {
		if wj, err := c.Jobs.Get(ctx, j.JobID); err == nil && wj.Status == store.JobCreated {
			pending = append(pending, j.JobID)
		}
	}
	if len(pending) > 0 {
		if err := c.Jobs.FlipCreatedToQueued(ctx, pending); err != nil {
			return nil, fmt.Errorf("barrier: install: flip jobs to queued: %w", err)
		}
	}
	return b, nil
}

// Reinstall implements re-interruption barrier reuse (spec.md §4.4): wipes
// the existing WorkerBarrierJob rows for a run's barrier and creates a
// fresh set for a new spawn_worker batch from the same run.
func (c *Coordinator) Reinstall(ctx context.Context, runID string, jobs []interrupt.SpawnedJob) (*store.WorkerBarrier, error) {
	existing, err := c.Store.GetByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("barrier: reinstall: no existing barrier for run %s: %w", runID, err)
	}
	barrierJobs := make([]*store.WorkerBarrierJob, len(jobs))
	for i, j := range jobs {
		barrierJobs[i] = &store.WorkerBarrierJob{
			BarrierID: existing.ID, JobID: j.JobID, ToolCallID: j.ToolCallID, Status: store.BarrierJobCreated,
		}
	}
	if err := c.Store.Reinstall(ctx, existing.ID, barrierJobs); err != nil {
		return nil, fmt.Errorf("barrier: reinstall: %w", err)
	}
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.JobID
	}
	if err := c.Jobs.FlipCreatedToQueued(ctx, ids); err != nil {
		return nil, fmt.Errorf("barrier: reinstall: flip jobs to queued: %w", err)
	}
	existing.ExpectedCount = len(jobs)
	existing.CompletedCount = 0
	existing.Status = store.BarrierWaiting
	return existing, nil
}

// CompleteWorker implements the atomic-completion path (spec.md §4.4
// "Atomic completion"). It is safe to call concurrently for every worker in
// a batch: exactly one call observes ShouldResume and triggers c.Resumer.
func (c *Coordinator) CompleteWorker(ctx context.Context, runID, jobID string, status store.BarrierJobStatus, result, errMsg string) (store.BarrierCompletionOutcome, error) {
	b, err := c.Store.GetByRun(ctx, runID)
	if err != nil {
		if c.Logger != nil {
			c.Logger.Debug(ctx, "barrier: no barrier for run, skipping completion", "runId", runID, "jobId", jobID)
		}
		return store.BarrierCompletionOutcome{}, nil
	}
	if b.Status != store.BarrierWaiting {
		if c.Logger != nil {
			c.Logger.Debug(ctx, "barrier: not waiting, skipping completion", "barrierId", b.ID, "status", b.Status)
		}
		return store.BarrierCompletionOutcome{}, nil
	}

	outcome, err := c.Store.CompleteJob(ctx, b.ID, jobID, status, result, errMsg)
	if err != nil {
		return store.BarrierCompletionOutcome{}, fmt.Errorf("barrier: complete job: %w", err)
	}
	if outcome.AlreadyDone {
		return outcome, nil
	}
	if outcome.ShouldResume && c.Resumer != nil {
		if err := c.Resumer.Resume(ctx, runID, b.ID); err != nil {
			return outcome, fmt.Errorf("barrier: resume trigger failed: %w", err)
		}
	}
	return outcome, nil
}
