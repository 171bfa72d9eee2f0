package inmem

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/nullstackai/conductor/store"
)

func installBarrier(t *testing.T, s *BarrierStore, barrierID, runID string, jobIDs []string) {
	t.Helper()
	jobs := make([]*store.WorkerBarrierJob, len(jobIDs))
	for i, id := range jobIDs {
		jobs[i] = &store.WorkerBarrierJob{BarrierID: barrierID, JobID: id, Status: store.BarrierJobCreated}
	}
	b := &store.WorkerBarrier{ID: barrierID, RunID: runID, ExpectedCount: len(jobIDs), Status: store.BarrierWaiting, DeadlineAt: time.Now().Add(time.Hour)}
	require.NoError(t, s.Install(context.Background(), b, jobs))
}

func TestBarrierStoreInstallRejectsSecondBarrierForSameRun(t *testing.T) {
	s := NewBarrierStore()
	installBarrier(t, s, "b1", "run-1", []string{"j1"})

	err := s.Install(context.Background(), &store.WorkerBarrier{ID: "b2", RunID: "run-1", ExpectedCount: 1}, nil)
	require.ErrorIs(t, err, store.ErrCASFailed)
}

func TestBarrierStoreCompleteJobAlreadyDoneIsReportedNotErrored(t *testing.T) {
	s := NewBarrierStore()
	ctx := context.Background()
	installBarrier(t, s, "b1", "run-1", []string{"j1"})

	_, err := s.CompleteJob(ctx, "b1", "j1", store.BarrierJobCompleted, "ok", "")
	require.NoError(t, err)

	outcome, err := s.CompleteJob(ctx, "b1", "j1", store.BarrierJobCompleted, "ok again", "")
	require.NoError(t, err)
	require.True(t, outcome.AlreadyDone)
}

func TestBarrierStoreCompleteJobFlipsToResumingOnceExpectedCountReached(t *testing.T) {
	s := NewBarrierStore()
	ctx := context.Background()
	installBarrier(t, s, "b1", "run-1", []string{"j1", "j2"})

	outcome1, err := s.CompleteJob(ctx, "b1", "j1", store.BarrierJobCompleted, "ok", "")
	require.NoError(t, err)
	require.False(t, outcome1.ShouldResume)

	outcome2, err := s.CompleteJob(ctx, "b1", "j2", store.BarrierJobCompleted, "ok", "")
	require.NoError(t, err)
	require.True(t, outcome2.ShouldResume)

	b, err := s.Get(ctx, "b1")
	require.NoError(t, err)
	require.Equal(t, store.BarrierResuming, b.Status)
}

// TestBarrierStoreShouldResumeFiresExactlyOnce guards spec.md §8 property 1:
// under concurrent CompleteJob calls racing to complete the last job in a
// barrier, exactly one caller ever observes ShouldResume=true.
func TestBarrierStoreShouldResumeFiresExactlyOnce(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("exactly one CompleteJob call observes ShouldResume", prop.ForAll(
		func(jobCount int) bool {
			s := NewBarrierStore()
			ctx := context.Background()
			jobIDs := make([]string, jobCount)
			for i := range jobIDs {
				jobIDs[i] = "job-" + string(rune('a'+i))
			}
			installBarrier(t, s, "b1", "run-1", jobIDs)

			var wg sync.WaitGroup
			var mu sync.Mutex
			resumeCount := 0
			for _, id := range jobIDs {
				wg.Add(1)
				go func(jobID string) {
					defer wg.Done()
					outcome, err := s.CompleteJob(ctx, "b1", jobID, store.BarrierJobCompleted, "ok", "")
					if err != nil {
						return
					}
					if outcome.ShouldResume {
						mu.Lock()
						resumeCount++
						mu.Unlock()
					}
				}(id)
			}
			wg.Wait()
			return resumeCount == 1
		},
		gen.IntRange(1, 12),
	))

	properties.TestingRun(t)
}

func TestBarrierStoreReinstallResetsCounts(t *testing.T) {
	s := NewBarrierStore()
	ctx := context.Background()
	installBarrier(t, s, "b1", "run-1", []string{"j1"})
	_, err := s.CompleteJob(ctx, "b1", "j1", store.BarrierJobCompleted, "ok", "")
	require.NoError(t, err)

	require.NoError(t, s.Reinstall(ctx, "b1", []*store.WorkerBarrierJob{
		{BarrierID: "b1", JobID: "j1", Status: store.BarrierJobCreated},
		{BarrierID: "b1", JobID: "j2", Status: store.BarrierJobCreated},
	}))

	b, err := s.Get(ctx, "b1")
	require.NoError(t, err)
	require.Equal(t, 0, b.CompletedCount)
	require.Equal(t, 2, b.ExpectedCount)
	require.Equal(t, store.BarrierWaiting, b.Status)
}

func TestBarrierStoreListExpiredWaiting(t *testing.T) {
	s := NewBarrierStore()
	ctx := context.Background()
	expired := &store.WorkerBarrier{ID: "b1", RunID: "run-1", Status: store.BarrierWaiting, DeadlineAt: time.Now().Add(-time.Minute)}
	fresh := &store.WorkerBarrier{ID: "b2", RunID: "run-2", Status: store.BarrierWaiting, DeadlineAt: time.Now().Add(time.Hour)}
	require.NoError(t, s.Install(ctx, expired, nil))
	require.NoError(t, s.Install(ctx, fresh, nil))

	out, err := s.ListExpiredWaiting(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "b1", out[0].ID)
}

func TestBarrierStoreClaimForReapOnlySucceedsOnce(t *testing.T) {
	s := NewBarrierStore()
	ctx := context.Background()
	installBarrier(t, s, "b1", "run-1", []string{"j1"})

	require.NoError(t, s.ClaimForReap(ctx, "b1"))
	err := s.ClaimForReap(ctx, "b1")
	require.ErrorIs(t, err, store.ErrCASFailed)
}
