package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nullstackai/conductor/model"
	"github.com/nullstackai/conductor/store"
	"github.com/nullstackai/conductor/store/inmem"
	"github.com/nullstackai/conductor/tools"
)

// scriptedClient replays a fixed sequence of responses, one per Complete
// call, repeating the last one once the script runs out. model.Client is a
// single-method interface so a hand-written fake is used rather than a
// mocking library, matching the rest of the pack's handling of narrow seams.
type scriptedClient struct {
	responses []*model.Response
	calls     int
	err       error
}

func (c *scriptedClient) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	if c.err != nil {
		return nil, c.err
	}
	i := c.calls
	if i >= len(c.responses) {
		i = len(c.responses) - 1
	}
	c.calls++
	return c.responses[i], nil
}

func textResponse(text string) *model.Response {
	return &model.Response{Message: model.NewText(model.RoleAssistant, text)}
}

func newEngine(client model.Client) *Engine {
	return &Engine{Client: client, Jobs: inmem.NewWorkerJobStore()}
}

func baseInput(messages []model.Message) Input {
	return Input{
		Messages: messages,
		Model:    "test-model",
		Tools:    tools.NewBinder(tools.NewRegistry(), nil),
		Context:  RunContext{RunID: "run-1", OwnerID: "owner-1"},
	}
}

func TestEngineRunColdStartCompletes(t *testing.T) {
	e := newEngine(&scriptedClient{responses: []*model.Response{textResponse("final answer")}})
	in := baseInput([]model.Message{*model.NewText(model.RoleUser, "hello")})

	result, err := e.Run(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, Completed, result.Outcome)
	require.Equal(t, "final answer", result.Messages[len(result.Messages)-1].Text())
}

func TestEngineRunInterruptsOnSpawnWorker(t *testing.T) {
	spawnMsg := &model.Response{Message: &model.Message{Role: model.RoleAssistant, Parts: []model.Part{
		model.ToolUsePart{ID: "tc-1", Name: string(tools.SpawnWorkerName), Input: []byte(`{"task":"sub task"}`)},
	}}}
	e := newEngine(&scriptedClient{responses: []*model.Response{spawnMsg}})
	in := baseInput([]model.Message{*model.NewText(model.RoleUser, "hello")})

	result, err := e.Run(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, Interrupted, result.Outcome)
	require.Len(t, result.Interrupt.CreatedJobs, 1)

	job, err := e.Jobs.FindByToolCall(context.Background(), "run-1", "tc-1")
	require.NoError(t, err)
	require.Equal(t, store.JobCreated, job.Status)
}

func TestEngineRunStopsAtMaxIterations(t *testing.T) {
	toolCallMsg := &model.Response{Message: &model.Message{Role: model.RoleAssistant, Parts: []model.Part{
		model.ToolUsePart{ID: "tc-loop", Name: "get_current_time"},
	}}}
	reg := tools.NewRegistry()
	reg.Register(tools.GetCurrentTimeSpec())
	e := newEngine(&scriptedClient{responses: []*model.Response{toolCallMsg}})

	in := baseInput([]model.Message{*model.NewText(model.RoleUser, "loop forever")})
	in.Tools = tools.NewBinder(reg, []string{"*"})

	result, err := e.Run(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, Completed, result.Outcome)
	require.Equal(t, maxIterationsMessage, result.Messages[len(result.Messages)-1].Text())
}

func TestEngineRunRetriesOnceOnEmptyResponse(t *testing.T) {
	empty := &model.Response{Message: &model.Message{Role: model.RoleAssistant}}
	e := newEngine(&scriptedClient{responses: []*model.Response{empty, textResponse("recovered")}})
	in := baseInput([]model.Message{*model.NewText(model.RoleUser, "hello")})

	result, err := e.Run(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, "recovered", result.Messages[len(result.Messages)-1].Text())
}

func TestEngineRunGivesUpAfterTwoEmptyResponses(t *testing.T) {
	empty := &model.Response{Message: &model.Message{Role: model.RoleAssistant}}
	e := newEngine(&scriptedClient{responses: []*model.Response{empty, empty}})
	in := baseInput([]model.Message{*model.NewText(model.RoleUser, "hello")})

	result, err := e.Run(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, emptyResponseAfterRetry, result.Messages[len(result.Messages)-1].Text())
}

func TestEngineRunPropagatesModelError(t *testing.T) {
	e := newEngine(&scriptedClient{err: errors.New("provider down")})
	in := baseInput([]model.Message{*model.NewText(model.RoleUser, "hello")})

	_, err := e.Run(context.Background(), in)
	require.Error(t, err)
}

func TestEngineRunResumesWithPendingToolCalls(t *testing.T) {
	e := newEngine(&scriptedClient{responses: []*model.Response{textResponse("done with tools")}})
	pendingAssistant := model.Message{Role: model.RoleAssistant, Parts: []model.Part{
		model.ToolUsePart{ID: "tc-1", Name: "get_current_time"},
	}}
	reg := tools.NewRegistry()
	reg.Register(tools.GetCurrentTimeSpec())
	in := baseInput([]model.Message{*model.NewText(model.RoleUser, "hello"), pendingAssistant})
	in.Tools = tools.NewBinder(reg, []string{"*"})

	result, err := e.Run(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, Completed, result.Outcome)

	var sawToolResult bool
	for _, m := range result.Messages {
		if m.Role == model.RoleTool {
			sawToolResult = true
		}
	}
	require.True(t, sawToolResult)
}

func TestEngineRunRespectsCancellation(t *testing.T) {
	toolCallMsg := &model.Response{Message: &model.Message{Role: model.RoleAssistant, Parts: []model.Part{
		model.ToolUsePart{ID: "tc-1", Name: "get_current_time"},
	}}}
	reg := tools.NewRegistry()
	reg.Register(tools.GetCurrentTimeSpec())
	e := newEngine(&scriptedClient{responses: []*model.Response{toolCallMsg, textResponse("unreachable")}})

	in := baseInput([]model.Message{*model.NewText(model.RoleUser, "hello")})
	in.Tools = tools.NewBinder(reg, []string{"*"})
	in.Cancelled = func() bool { return true }

	result, err := e.Run(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, Completed, result.Outcome)
	last := result.Messages[len(result.Messages)-1]
	require.Equal(t, model.RoleAssistant, last.Role)
	require.Len(t, last.ToolUses(), 1)
	require.Equal(t, "tc-1", last.ToolUses()[0].ID)
}
