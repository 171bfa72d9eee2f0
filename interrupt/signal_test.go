package interrupt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewWorkersPendingCollectsJobIDs(t *testing.T) {
	jobs := []SpawnedJob{
		{JobID: "job-1", ToolCallID: "call-1", Task: "do a thing"},
		{JobID: "job-2", ToolCallID: "call-2", Task: "do another thing"},
	}

	sig := NewWorkersPending(jobs)

	require.Equal(t, WorkersPending, sig.Kind)
	require.Equal(t, []string{"job-1", "job-2"}, sig.JobIDs)
	require.Equal(t, jobs, sig.CreatedJobs)
}

func TestNewWorkersPendingEmptyInput(t *testing.T) {
	sig := NewWorkersPending(nil)
	require.Equal(t, WorkersPending, sig.Kind)
	require.Empty(t, sig.JobIDs)
}

func TestNewWaitForWorker(t *testing.T) {
	sig := NewWaitForWorker("job-1", "call-1", "waiting on worker")

	require.Equal(t, WaitForWorker, sig.Kind)
	require.Equal(t, "job-1", sig.JobID)
	require.Equal(t, "call-1", sig.ToolCallID)
	require.Equal(t, "waiting on worker", sig.Message)
}
