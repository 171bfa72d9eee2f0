package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nullstackai/conductor/artifact"
	"github.com/nullstackai/conductor/events"
	"github.com/nullstackai/conductor/interrupt"
	"github.com/nullstackai/conductor/model"
	"github.com/nullstackai/conductor/store"
)

type spawnWorkerArgs struct {
	Task            string `json:"task"`
	Model           string `json:"model"`
	ReasoningEffort string `json:"reasoning_effort"`
}

// handleSpawnCalls implements spec.md §4.1 "spawn_worker semantics":
// idempotent lookup by (supervisorRunId, toolCallId), cached-result
// short-circuit, and collection of newly-created-or-still-pending jobs for
// the caller's interrupt.Signal. It never executes sequentially-blocking
// work beyond the store/artifact calls themselves - spawn calls in a turn
// are rare (usually one) so this runs sequentially rather than adding
// concurrency complexity for a handful of calls.
func (e *Engine) handleSpawnCalls(ctx context.Context, in Input, calls []model.ToolUsePart) ([]model.Message, []interrupt.SpawnedJob, error) {
	var results []model.Message
	var created []interrupt.SpawnedJob

	for _, call := range calls {
		var args spawnWorkerArgs
		if err := json.Unmarshal(call.Input, &args); err != nil {
			results = append(results, *model.NewToolResult(call.ID, fmt.Sprintf("<tool-error>invalid spawn_worker arguments: %s</tool-error>", err), true))
			continue
		}

		job, err := e.Jobs.FindByToolCall(ctx, in.Context.RunID, call.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			job = &store.WorkerJob{
				ID:              uuid.NewString(),
				OwnerID:         in.Context.OwnerID,
				SupervisorRunID: in.Context.RunID,
				ToolCallID:      call.ID,
				Task:            args.Task,
				Model:           firstNonEmpty(args.Model, in.Model),
				ReasoningEffort: firstNonEmpty(args.ReasoningEffort, in.ReasoningEffort),
				Status:          store.JobCreated,
			}
			if err := e.Jobs.Create(ctx, job); err != nil {
				return nil, nil, fmt.Errorf("engine: create worker job: %w", err)
			}
			e.publish(ctx, in.Context.RunID, events.WorkerSpawned, events.WorkerSpawnedPayload{
				JobID: job.ID, ToolCallID: call.ID, Task: args.Task, Model: job.Model,
			})
			created = append(created, interrupt.SpawnedJob{JobID: job.ID, ToolCallID: call.ID, Task: args.Task})

		case err != nil:
			return nil, nil, fmt.Errorf("engine: lookup worker job: %w", err)

		case job.Status == store.JobSuccess:
			content := e.cachedWorkerResult(ctx, in.Context.OwnerID, job)
			results = append(results, *model.NewToolResult(call.ID, fmt.Sprintf("Worker job %s completed:\n\n%s", job.ID, content), false))

		case !job.Status.Terminal():
			// Job exists but hasn't finished yet (created/queued/running):
			// reuse it in this batch's interrupt rather than spawning a
			// duplicate.
			created = append(created, interrupt.SpawnedJob{JobID: job.ID, ToolCallID: call.ID, Task: job.Task})

		default:
			// Terminal and not success (failed/cancelled/timeout): surface
			// the recorded error rather than silently re-spawning.
			results = append(results, *model.NewToolResult(call.ID, fmt.Sprintf("<tool-error>worker job %s did not complete successfully: %s</tool-error>", job.ID, job.Error), true))
		}
	}

	return results, created, nil
}

// cachedWorkerResult fetches a completed worker's summarized result for
// idempotent replay; falls back to a terse placeholder if the artifact was
// somehow lost (store retention, manual cleanup) rather than failing the
// whole turn.
func (e *Engine) cachedWorkerResult(ctx context.Context, ownerID string, job *store.WorkerJob) string {
	meta, err := e.Artifacts.Metadata(ctx, job.WorkerID, ownerID)
	if err == nil && meta.Summary != "" {
		return meta.Summary
	}
	content, err := e.Artifacts.Get(ctx, job.WorkerID, artifact.KindResult)
	if err != nil {
		return "(result unavailable)"
	}
	return string(content)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
