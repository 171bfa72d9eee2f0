package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nullstackai/conductor/artifact"
	"github.com/nullstackai/conductor/barrier"
	"github.com/nullstackai/conductor/engine"
	"github.com/nullstackai/conductor/model"
	"github.com/nullstackai/conductor/store"
	"github.com/nullstackai/conductor/store/inmem"
	"github.com/nullstackai/conductor/tools"
)

// fakeClient is a hand-written model.Client fake: the engine's Client field
// is consumed through the narrow model.Client interface, and neither the
// teacher nor the rest of the pack reaches for a mocking library for a
// single-method interface like this one.
type fakeClient struct {
	responses []*model.Response
	calls     int
	err       error
}

func (f *fakeClient) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.responses) {
		return f.responses[len(f.responses)-1], nil
	}
	resp := f.responses[f.calls]
	f.calls++
	return resp, nil
}

func newProcessor(t *testing.T, client model.Client) (*Processor, *inmem.WorkerJobStore) {
	t.Helper()
	jobs := inmem.NewWorkerJobStore()
	coord := &barrier.Coordinator{
		Store: inmem.NewBarrierStore(),
		Jobs:  jobs,
	}
	eng := &engine.Engine{
		Client:    client,
		Jobs:      jobs,
		Artifacts: artifact.NewInMemStore(),
	}
	return &Processor{
		Jobs:      jobs,
		Barriers:  coord,
		Artifacts: artifact.NewInMemStore(),
		Engine:    eng,
		Tools:     tools.NewRegistry(),
	}, jobs
}

func seedQueuedJob(t *testing.T, jobs *inmem.WorkerJobStore, task string) *store.WorkerJob {
	t.Helper()
	ctx := context.Background()
	job := &store.WorkerJob{
		ID:              "job-1",
		OwnerID:         "owner-1",
		SupervisorRunID: "run-1",
		ToolCallID:      "call-1",
		Task:            task,
		Status:          store.JobCreated,
	}
	require.NoError(t, jobs.Create(ctx, job))
	require.NoError(t, jobs.FlipCreatedToQueued(ctx, []string{job.ID}))
	return job
}

func TestProcessorClaimAndRunEmptyQueueReturnsFalse(t *testing.T) {
	p, _ := newProcessor(t, &fakeClient{})
	ran, err := p.ClaimAndRun(context.Background())
	require.NoError(t, err)
	require.False(t, ran)
}

func TestProcessorClaimAndRunSuccessWritesResultArtifact(t *testing.T) {
	client := &fakeClient{responses: []*model.Response{
		{Message: model.NewText(model.RoleAssistant, "the final answer"), Usage: model.TokenUsage{TotalTokens: 42}},
	}}
	p, jobs := newProcessor(t, client)
	job := seedQueuedJob(t, jobs, "do the thing")

	ran, err := p.ClaimAndRun(context.Background())
	require.NoError(t, err)
	require.True(t, ran)

	got, err := jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, store.JobSuccess, got.Status)
	require.NotEmpty(t, got.WorkerID)

	content, err := p.Artifacts.Get(context.Background(), got.WorkerID, artifact.KindResult)
	require.NoError(t, err)
	require.Equal(t, "the final answer", string(content))
}

func TestProcessorClaimAndRunModelErrorMarksJobFailed(t *testing.T) {
	client := &fakeClient{err: errors.New("provider unavailable")}
	p, jobs := newProcessor(t, client)
	job := seedQueuedJob(t, jobs, "do the thing")

	ran, err := p.ClaimAndRun(context.Background())
	require.NoError(t, err)
	require.True(t, ran)

	got, err := jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, store.JobFailed, got.Status)
	require.Contains(t, got.Error, "provider unavailable")
}

func TestProcessorClaimAndRunInterruptIsTreatedAsFailure(t *testing.T) {
	client := &fakeClient{responses: []*model.Response{
		{Message: &model.Message{Role: model.RoleAssistant, Parts: []model.Part{
			model.ToolUsePart{ID: "tc-1", Name: string(tools.SpawnWorkerName), Input: []byte(`{"task":"nested"}`)},
		}}},
	}}
	p, jobs := newProcessor(t, client)
	job := seedQueuedJob(t, jobs, "do the thing")

	ran, err := p.ClaimAndRun(context.Background())
	require.NoError(t, err)
	require.True(t, ran)

	got, err := jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, store.JobFailed, got.Status)
	require.Contains(t, got.Error, "unexpected interrupt")
}

func TestSummarizeTruncatesLongText(t *testing.T) {
	long := make([]byte, 400)
	for i := range long {
		long[i] = 'a'
	}
	got := summarize(string(long))
	require.Len(t, []rune(got), 281)
	require.True(t, len(got) > 280)
}

func TestSummarizeLeavesShortTextUnchanged(t *testing.T) {
	require.Equal(t, "short", summarize("short"))
}

func TestEncodeMetadataRoundTrips(t *testing.T) {
	raw, err := encodeMetadata(artifact.Metadata{OwnerID: "owner-1", WorkerID: "worker-1", Summary: "done", DurationMs: time.Second.Milliseconds()})
	require.NoError(t, err)
	require.Contains(t, string(raw), "owner-1")
}
