package engine

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/nullstackai/conductor/events"
	"github.com/nullstackai/conductor/interrupt"
	"github.com/nullstackai/conductor/model"
	"github.com/nullstackai/conductor/toolerrors"
	"github.com/nullstackai/conductor/tools"
)

// dispatchTools implements spec.md §4.1 "Parallel tool dispatch": tool
// calls are partitioned into spawn_worker calls and everything else; the
// latter execute concurrently (bounded) and in call-order; the former are
// handled by handleSpawnCalls and, if any job is newly created or still
// outstanding, produce an interrupt.Signal. Non-spawn results are always
// returned even when an interrupt is also produced (spec.md §4.2).
func (e *Engine) dispatchTools(ctx context.Context, in Input, calls []model.ToolUsePart) ([]model.Message, *interrupt.Signal, error) {
	var spawnCalls, otherCalls []model.ToolUsePart
	for _, c := range calls {
		if c.Name == string(tools.SpawnWorkerName) {
			spawnCalls = append(spawnCalls, c)
		} else {
			otherCalls = append(otherCalls, c)
		}
	}

	results := make([]model.Message, len(otherCalls))
	if len(otherCalls) > 0 {
		sem := semaphore.NewWeighted(MaxConcurrentTools)
		errs := make([]error, len(otherCalls))
		done := make(chan int, len(otherCalls))

		for i, call := range otherCalls {
			i, call := i, call
			if err := sem.Acquire(ctx, 1); err != nil {
				errs[i] = err
				done <- i
				continue
			}
			go func() {
				defer sem.Release(1)
				results[i] = e.executeTool(ctx, in, call)
				done <- i
			}()
		}
		for range otherCalls {
			<-done
		}
		for _, err := range errs {
			if err != nil {
				return nil, nil, err
			}
		}
	}

	var out []model.Message
	out = append(out, results...)

	if len(spawnCalls) == 0 {
		return out, nil, nil
	}

	spawnResults, created, err := e.handleSpawnCalls(ctx, in, spawnCalls)
	if err != nil {
		return nil, nil, err
	}
	out = append(out, spawnResults...)

	if len(created) == 0 {
		return out, nil, nil
	}
	sig := interrupt.NewWorkersPending(created)
	return out, &sig, nil
}

// executeTool runs a single non-spawn tool call, converting lookup
// failures, validation errors, and handler panics into a <tool-error> tool
// message rather than aborting the batch (spec.md §4.1 "Failure modes").
func (e *Engine) executeTool(ctx context.Context, in Input, call model.ToolUsePart) (msg model.Message) {
	e.publish(ctx, in.Context.RunID, events.WorkerToolStarted, events.WorkerToolPayload{ToolName: call.Name})

	defer func() {
		if r := recover(); r != nil {
			te := toolerrors.Errorf("tool %s panicked: %v", call.Name, r)
			msg = *model.NewToolResult(call.ID, te.Rendered(), true)
			e.publish(ctx, in.Context.RunID, events.WorkerToolFailed, events.WorkerToolPayload{ToolName: call.Name, Detail: te.Message})
		}
	}()

	tool, ok := lookupTool(in.Tools, tools.Ident(call.Name))
	if !ok {
		te := toolerrors.Errorf("tool '%s' not found", call.Name)
		e.publish(ctx, in.Context.RunID, events.WorkerToolFailed, events.WorkerToolPayload{ToolName: call.Name, Detail: te.Message})
		return *model.NewToolResult(call.ID, te.Rendered(), true)
	}

	if err := tools.Validate(tool.Spec, call.Input); err != nil {
		te := toolerrors.FromError(err)
		e.publish(ctx, in.Context.RunID, events.WorkerToolFailed, events.WorkerToolPayload{ToolName: call.Name, Detail: te.Message})
		return *model.NewToolResult(call.ID, te.Rendered(), true)
	}

	result, err := tool.Handler(ctx, call.Input)
	if err != nil {
		te := toolerrors.FromError(err)
		e.publish(ctx, in.Context.RunID, events.WorkerToolFailed, events.WorkerToolPayload{ToolName: call.Name, Detail: te.Message})
		return *model.NewToolResult(call.ID, te.Rendered(), true)
	}

	content := result.Content
	if result.Summary != "" {
		content = result.Summary
	}
	e.publish(ctx, in.Context.RunID, events.WorkerToolCompleted, events.WorkerToolPayload{ToolName: call.Name})
	return *model.NewToolResult(call.ID, content, false)
}

// lookupTool resolves a tool call against the binder, special-casing
// search_tools: it is always dispatchable when the binder has a resolver,
// regardless of whether it was ever added to the initial allowlist (its
// Handler is synthesized per-binder, see tools.NewSearchToolsSpec).
func lookupTool(binder *tools.Binder, name tools.Ident) (tools.Tool, bool) {
	if name == tools.SearchToolsName && binder.HasResolver() {
		return tools.NewSearchToolsSpec(binder), true
	}
	return binder.Lookup(name)
}
