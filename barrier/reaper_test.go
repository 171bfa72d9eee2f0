package barrier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nullstackai/conductor/interrupt"
	"github.com/nullstackai/conductor/store"
	"github.com/nullstackai/conductor/store/inmem"
)

func newReaper(t *testing.T) (*Reaper, *inmem.BarrierStore, *inmem.WorkerJobStore, *fakeResumer) {
	t.Helper()
	barrierStore := inmem.NewBarrierStore()
	jobs := inmem.NewWorkerJobStore()
	resumer := &fakeResumer{}
	coord := &Coordinator{Store: barrierStore, Jobs: jobs, Resumer: resumer}
	return &Reaper{Coordinator: coord, Store: barrierStore, Jobs: jobs}, barrierStore, jobs, resumer
}

func installExpiredBarrier(t *testing.T, coord *Coordinator, jobs *inmem.WorkerJobStore, runID string, jobIDs []string) *store.WorkerBarrier {
	t.Helper()
	ctx := context.Background()
	ids := make([]string, len(jobIDs))
	barrierJobs := make([]*store.WorkerBarrierJob, len(jobIDs))
	for i, id := range jobIDs {
		require.NoError(t, jobs.Create(ctx, &store.WorkerJob{ID: id, SupervisorRunID: runID, ToolCallID: id + "-call", Status: store.JobCreated}))
		ids[i] = id
		barrierJobs[i] = &store.WorkerBarrierJob{BarrierID: "", JobID: id, ToolCallID: id + "-call", Status: store.BarrierJobCreated}
	}
	b := &store.WorkerBarrier{ID: "barrier-" + runID, RunID: runID, ExpectedCount: len(jobIDs), Status: store.BarrierWaiting, DeadlineAt: time.Now().Add(-time.Minute)}
	for _, bj := range barrierJobs {
		bj.BarrierID = b.ID
	}
	require.NoError(t, coord.Store.Install(ctx, b, barrierJobs))
	require.NoError(t, jobs.FlipCreatedToQueued(ctx, ids))
	return b
}

func TestReaperSweepTimesOutUnfinishedJobsAndResumes(t *testing.T) {
	r, barrierStore, jobs, resumer := newReaper(t)
	b := installExpiredBarrier(t, r.Coordinator, jobs, "run-1", []string{"job-1", "job-2"})

	require.NoError(t, r.Sweep(context.Background()))

	job1, err := jobs.Get(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, store.JobTimeout, job1.Status)
	require.Equal(t, workerTimeoutMessage, job1.Error)

	require.Equal(t, []string{"run-1/" + b.ID}, resumer.calls)

	barrierJobs, err := barrierStore.ListJobs(context.Background(), b.ID)
	require.NoError(t, err)
	for _, bj := range barrierJobs {
		require.Equal(t, store.BarrierJobTimeout, bj.Status)
	}
}

func TestReaperSweepSkipsJobsNotYetExpired(t *testing.T) {
	r, _, jobs, resumer := newReaper(t)
	ctx := context.Background()
	require.NoError(t, jobs.Create(ctx, &store.WorkerJob{ID: "job-1", SupervisorRunID: "run-1", ToolCallID: "call-1", Status: store.JobCreated}))
	_, err := r.Coordinator.Install(ctx, "run-1", []interrupt.SpawnedJob{{JobID: "job-1", ToolCallID: "call-1"}})
	require.NoError(t, err)

	require.NoError(t, r.Sweep(ctx))

	require.Empty(t, resumer.calls)
	job1, err := jobs.Get(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, store.JobQueued, job1.Status)
}

func TestReaperSweepSkipsAlreadyCompletedJobs(t *testing.T) {
	r, _, jobs, resumer := newReaper(t)
	ctx := context.Background()
	b := installExpiredBarrier(t, r.Coordinator, jobs, "run-1", []string{"job-1", "job-2"})
	require.NoError(t, jobs.Finish(ctx, "job-1", "worker-1", store.JobSuccess, ""))
	_, err := r.Coordinator.CompleteWorker(ctx, "run-1", "job-1", store.BarrierJobCompleted, "done", "")
	require.NoError(t, err)
	resumer.calls = nil

	require.NoError(t, r.Sweep(ctx))

	job1, err := jobs.Get(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, store.JobSuccess, job1.Status)

	job2, err := jobs.Get(ctx, "job-2")
	require.NoError(t, err)
	require.Equal(t, store.JobTimeout, job2.Status)
	require.Equal(t, []string{"run-1/" + b.ID}, resumer.calls)
}
