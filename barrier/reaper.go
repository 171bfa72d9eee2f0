package barrier

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nullstackai/conductor/store"
	"github.com/nullstackai/conductor/telemetry"
)

// workerTimeoutMessage is the fixed message spec.md §4.4 specifies for timed
// out barrier jobs.
const workerTimeoutMessage = "Worker timed out"

// Reaper periodically scans for barriers stuck past their deadline and
// forces a resume with whatever partial results exist (spec.md §4.4
// "Deadline reaper").
type Reaper struct {
	Coordinator *Coordinator
	Store       store.BarrierStore
	Jobs        store.WorkerJobStore
	Logger      telemetry.Logger

	cron *cron.Cron
}

// Schedule registers the reaper's sweep on the given cron expression (e.g.
// "*/30 * * * * *" for every 30s with seconds-field cron, matching the
// teacher's robfig/cron usage) and starts it. Call Stop to halt it.
func (r *Reaper) Schedule(spec string) error {
	r.cron = cron.New(cron.WithSeconds())
	_, err := r.cron.AddFunc(spec, func() {
		if err := r.Sweep(context.Background()); err != nil && r.Logger != nil {
			r.Logger.Error(context.Background(), "barrier: reaper sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("barrier: schedule reaper: %w", err)
	}
	r.cron.Start()
	return nil
}

// Stop halts the scheduled sweep.
func (r *Reaper) Stop() {
	if r.cron != nil {
		ctx := r.cron.Stop()
		<-ctx.Done()
	}
}

// Sweep runs one reaper pass immediately.
func (r *Reaper) Sweep(ctx context.Context) error {
	expired, err := r.Store.ListExpiredWaiting(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("barrier: list expired barriers: %w", err)
	}
	for _, b := range expired {
		if err := r.reapOne(ctx, b); err != nil && r.Logger != nil {
			r.Logger.Error(ctx, "barrier: reap one failed", "barrierId", b.ID, "error", err)
		}
	}
	return nil
}

func (r *Reaper) reapOne(ctx context.Context, b *store.WorkerBarrier) error {
	if err := r.Store.ClaimForReap(ctx, b.ID); err != nil {
		// Another process is handling it - skip (spec.md §4.4).
		return nil
	}
	jobs, err := r.Store.ListJobs(ctx, b.ID)
	if err != nil {
		return err
	}
	for _, j := range jobs {
		if j.Status.Terminal() {
			continue
		}
		// A timed-out job never reached the point of minting a worker ID, so
		// there is no artifact evidence to associate - leave WorkerID empty.
		if err := r.Jobs.Finish(ctx, j.JobID, "", store.JobTimeout, workerTimeoutMessage); err != nil && r.Logger != nil {
			r.Logger.Error(ctx, "barrier: mark job timed out failed", "jobId", j.JobID, "error", err)
		}
		// CompleteJob's own resume-claim logic is bypassed here: ClaimForReap
		// already gave this sweep exclusive ownership of the barrier, so the
		// reaper always issues the resume itself below rather than relying on
		// CompleteJob.ShouldResume (which compares against barrier.status,
		// not the reaper's separate claim lock).
		if _, err := r.Store.CompleteJob(ctx, b.ID, j.JobID, store.BarrierJobTimeout, "", workerTimeoutMessage); err != nil {
			return err
		}
	}
	if r.Coordinator.Resumer != nil {
		return r.Coordinator.Resumer.Resume(ctx, b.RunID, b.ID)
	}
	return nil
}
