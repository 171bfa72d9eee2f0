// Package supervisor implements the supervisor lifecycle service (spec.md
// §4.6) and its inbox context builder (§4.7): the long-lived, per-owner
// agent loop that a user's turns are appended to, with background worker
// progress folded in as a synthetic inbox message each turn.
package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nullstackai/conductor/barrier"
	"github.com/nullstackai/conductor/engine"
	"github.com/nullstackai/conductor/events"
	"github.com/nullstackai/conductor/interrupt"
	"github.com/nullstackai/conductor/model"
	"github.com/nullstackai/conductor/store"
	"github.com/nullstackai/conductor/telemetry"
	"github.com/nullstackai/conductor/tools"
)

// DefaultTimeout is the shielded-timeout duration the engine call gets
// before the run is deferred (spec.md §4.6 step 5).
const DefaultTimeout = 55 * time.Second

// SystemPromptFunc renders the supervisor's system prompt for an owner,
// re-evaluated every turn so prompt/template changes and profile edits take
// effect without restarting a run (spec.md §4.6 step 1).
type SystemPromptFunc func(ownerID string) string

// BinderFunc builds the tool binder a supervisor run should use.
type BinderFunc func(run *store.Run) *tools.Binder

// Lifecycle drives one user turn of the supervisor agent: thread lookup,
// inbox injection, engine invocation under a shielded timeout, and
// dispatch on the engine's outcome.
type Lifecycle struct {
	Runs     store.RunStore
	Threads  store.ThreadStore
	Messages store.MessageStore
	Jobs     store.WorkerJobStore
	Barriers *barrier.Coordinator
	Engine   *engine.Engine
	Bus      events.Bus
	Logger   telemetry.Logger

	Inbox         *InboxBuilder
	SystemPrompt  SystemPromptFunc
	Binder        BinderFunc
	Timeout       time.Duration
}

// Turn is one request to advance the supervisor on behalf of ownerID
// (spec.md §6 "Ingress events").
type Turn struct {
	OwnerID         string
	AgentID         string
	Task            string
	Model           string
	ReasoningEffort string
	TraceID         string
}

// Result mirrors the ingress response shape (spec.md §6).
type Result struct {
	RunID      string
	ThreadID   string
	Status     store.RunStatus
	Result     string
	Error      string
	DurationMs int64
}

// Start runs one full supervisor turn for t (spec.md §4.6 steps 1-7).
func (l *Lifecycle) Start(ctx context.Context, t Turn) (Result, error) {
	thread, err := l.Threads.FindOrCreateSupervisor(ctx, t.OwnerID, t.AgentID)
	if err != nil {
		return Result{}, fmt.Errorf("supervisor: find or create thread: %w", err)
	}

	run := &store.Run{
		ID:                 uuid.NewString(),
		OwnerID:            t.OwnerID,
		ThreadID:           thread.ID,
		AgentID:            t.AgentID,
		Status:             store.RunRunning,
		StartedAt:          time.Now(),
		AssistantMessageID: uuid.NewString(),
		RootRunID:          "",
		TraceID:            t.TraceID,
		Model:              t.Model,
		ReasoningEffort:    t.ReasoningEffort,
	}
	run.RootRunID = run.ID
	if err := l.Runs.Create(ctx, run); err != nil {
		return Result{}, fmt.Errorf("supervisor: create run: %w", err)
	}

	if err := l.injectTurn(ctx, thread.ID, t.OwnerID, t.Task); err != nil {
		return l.failResult(ctx, run, fmt.Errorf("supervisor: inject turn: %w", err))
	}

	return l.invoke(ctx, run)
}

// injectTurn performs steps 1-4 of spec.md §4.6: refresh the system
// prompt, build and inject the inbox context message, append the user
// turn, then acknowledge the inbox jobs only after the inbox message is
// durably persisted.
func (l *Lifecycle) injectTurn(ctx context.Context, threadID, ownerID, task string) error {
	if l.SystemPrompt != nil {
		sys := model.NewText(model.RoleSystem, l.SystemPrompt(ownerID))
		sys.ThreadID = threadID
		sys.Internal = true
		if _, err := l.Messages.Append(ctx, sys); err != nil {
			return fmt.Errorf("append system prompt: %w", err)
		}
	}

	if err := l.injectInbox(ctx, threadID, ownerID); err != nil {
		return err
	}

	user := model.NewText(model.RoleUser, task)
	user.ThreadID = threadID
	if _, err := l.Messages.Append(ctx, user); err != nil {
		return fmt.Errorf("append user turn: %w", err)
	}
	return nil
}

// injectInbox builds the inbox context message, prunes stale prior
// instances, persists the new one, and acknowledges its jobs - in that
// order, so a crash between persist and acknowledge merely re-surfaces an
// already-seen result next turn rather than ever losing one silently
// (spec.md §4.7 "atomic see-then-mark").
func (l *Lifecycle) injectInbox(ctx context.Context, threadID, ownerID string) error {
	if l.Inbox == nil {
		return nil
	}
	content, ackIDs, err := l.Inbox.Build(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("build inbox: %w", err)
	}
	if content == "" {
		return nil
	}

	history, err := l.Messages.List(ctx, threadID)
	if err != nil {
		return fmt.Errorf("load thread for inbox pruning: %w", err)
	}
	if Unchanged(history, content) {
		return nil
	}

	now := time.Now()
	if stale := PruneStale(history, now); len(stale) > 0 {
		if err := l.Messages.Delete(ctx, threadID, stale); err != nil {
			return fmt.Errorf("prune stale inbox messages: %w", err)
		}
	}

	msg := model.NewText(model.RoleSystem, content)
	msg.ThreadID = threadID
	msg.Internal = true
	Stamp(msg, now)
	if _, err := l.Messages.Append(ctx, msg); err != nil {
		return fmt.Errorf("append inbox message: %w", err)
	}

	if len(ackIDs) > 0 {
		if err := l.Jobs.Acknowledge(ctx, ackIDs); err != nil {
			return fmt.Errorf("acknowledge inbox jobs: %w", err)
		}
	}
	return nil
}

// invoke performs steps 5-7 of spec.md §4.6: invoke the engine under a
// shielded timeout, then dispatch on its outcome.
func (l *Lifecycle) invoke(ctx context.Context, run *store.Run) (Result, error) {
	loaded, err := l.Messages.List(ctx, run.ThreadID)
	if err != nil {
		return l.failResult(ctx, run, fmt.Errorf("supervisor: load thread: %w", err))
	}

	binderFn := l.Binder
	if binderFn == nil {
		binderFn = func(*store.Run) *tools.Binder { return tools.NewBinder(tools.NewRegistry(), nil) }
	}

	l.publish(ctx, run.ID, events.SupervisorStarted, nil)
	start := time.Now()

	in := engine.Input{
		Messages:        loaded,
		Model:           run.Model,
		ReasoningEffort: run.ReasoningEffort,
		Tools:           binderFn(run),
		Context:         engine.RunContext{RunID: run.ID, OwnerID: run.OwnerID, TraceID: run.TraceID},
		Stream:          true,
		Cancelled: func() bool {
			current, getErr := l.Runs.Get(ctx, run.ID)
			return getErr == nil && current.Status == store.RunCancelled
		},
	}

	timeout := l.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	// Shielded timeout (spec.md §5 "Cancellation & timeouts"): the context
	// passed to the engine carries no deadline of its own, so a timeout
	// here stops *waiting* for the result, not the underlying engine call -
	// it keeps running in the background goroutine and is reconciled via
	// the normal completion path in deferredCompletion once it finishes.
	done := make(chan engineOutcome, 1)
	go func() {
		res, runErr := l.Engine.Run(context.WithoutCancel(ctx), in)
		done <- engineOutcome{res, runErr}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return l.failResult(ctx, run, fmt.Errorf("supervisor: engine run: %w", o.err))
		}
		return l.dispatch(ctx, run, loaded, o.result, start)
	case <-time.After(timeout):
		go l.deferredCompletion(run, loaded, done, start)
		return l.defer_(ctx, run)
	}
}

// engineOutcome carries the result of a background engine.Run invocation
// across the shielded-timeout boundary to whichever goroutine ends up
// consuming it (the synchronous caller or deferredCompletion).
type engineOutcome struct {
	result engine.Result
	err    error
}

// deferredCompletion waits out the engine call that a shielded timeout
// already detached from its caller, then reconciles the run through the
// same dispatch path a synchronous completion would have used (spec.md
// §4.6 step 5: "the actual completion will occur later, transitioning the
// run normally").
func (l *Lifecycle) deferredCompletion(run *store.Run, loaded []model.Message, done <-chan engineOutcome, start time.Time) {
	o := <-done
	ctx := context.Background()
	if o.err != nil {
		l.fail(ctx, run, fmt.Errorf("supervisor: deferred engine run: %w", o.err))
		return
	}
	if _, err := l.dispatch(ctx, run, loaded, o.result, start); err != nil && l.Logger != nil {
		l.Logger.Error(ctx, "supervisor: deferred dispatch failed", "runId", run.ID, "error", err)
	}
}

// dispatch persists the messages the engine produced and transitions run
// according to its outcome (spec.md §4.6 steps 6-7).
func (l *Lifecycle) dispatch(ctx context.Context, run *store.Run, loaded []model.Message, result engine.Result, start time.Time) (Result, error) {
	if err := l.persistNewMessages(ctx, run.ThreadID, loaded, result.Messages); err != nil {
		return l.failResult(ctx, run, fmt.Errorf("supervisor: persist messages: %w", err))
	}

	switch result.Outcome {
	case engine.Completed:
		return l.complete(ctx, run, result, start)
	case engine.Interrupted:
		return l.interrupt(ctx, run, result.Interrupt, start)
	default:
		return l.failResult(ctx, run, fmt.Errorf("supervisor: unknown engine outcome %v", result.Outcome))
	}
}

func (l *Lifecycle) persistNewMessages(ctx context.Context, threadID string, loaded, produced []model.Message) error {
	for i := len(loaded); i < len(produced); i++ {
		m := produced[i]
		m.ThreadID = threadID
		if _, err := l.Messages.Append(ctx, &m); err != nil {
			return err
		}
	}
	return nil
}

func (l *Lifecycle) complete(ctx context.Context, run *store.Run, result engine.Result, start time.Time) (Result, error) {
	now := time.Now()
	run.Status = store.RunSuccess
	run.FinishedAt = &now
	run.DurationMs = now.Sub(start).Milliseconds()
	if result.Usage != nil {
		total := result.Usage.TotalTokens
		run.TotalTokens = &total
	}
	if err := l.Runs.Update(ctx, run); err != nil {
		return Result{}, fmt.Errorf("supervisor: update run to success: %w", err)
	}

	final := lastAssistantText(result.Messages)
	l.publish(ctx, run.ID, events.SupervisorComplete, map[string]any{"result": final})
	l.publish(ctx, run.ID, events.RunUpdated, events.RunUpdatedPayload{Status: string(store.RunSuccess), DurationMs: &run.DurationMs})
	l.emitStreamControl(ctx, run, "run_success")
	return Result{RunID: run.ID, ThreadID: run.ThreadID, Status: run.Status, Result: final, DurationMs: run.DurationMs}, nil
}

// pendingWorkerCount counts run's non-terminal WorkerJobs, to decide between
// stream_control:close and stream_control:keep_open on completion (spec.md
// §4.5).
func (l *Lifecycle) pendingWorkerCount(ctx context.Context, run *store.Run) (int, error) {
	jobs, err := l.Jobs.ListByOwner(ctx, run.OwnerID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, j := range jobs {
		if j.SupervisorRunID == run.ID && !j.Status.Terminal() {
			count++
		}
	}
	return count, nil
}

// emitStreamControl publishes stream_control:close if no worker jobs spawned
// by run are still pending, otherwise stream_control:keep_open with a lease
// TTL (spec.md §4.5 "inbox model"). A failed pending-count lookup defaults to
// keep_open rather than risk dropping a client mid-background-work.
func (l *Lifecycle) emitStreamControl(ctx context.Context, run *store.Run, reason string) {
	pending, err := l.pendingWorkerCount(ctx, run)
	if err != nil {
		if l.Logger != nil {
			l.Logger.Error(ctx, "supervisor: pending worker lookup failed", "runId", run.ID, "error", err)
		}
		l.publish(ctx, run.ID, events.StreamControl, events.StreamControlPayload{
			Action: events.StreamKeepOpen, Reason: reason, TTLMs: events.DefaultStreamKeepOpenTTLMs,
		})
		return
	}
	if pending == 0 {
		l.publish(ctx, run.ID, events.StreamControl, events.StreamControlPayload{Action: events.StreamClose, Reason: reason})
		return
	}
	l.publish(ctx, run.ID, events.StreamControl, events.StreamControlPayload{
		Action: events.StreamKeepOpen, Reason: reason, TTLMs: events.DefaultStreamKeepOpenTTLMs, PendingWorkers: pending,
	})
}

func (l *Lifecycle) interrupt(ctx context.Context, run *store.Run, sig interrupt.Signal, start time.Time) (Result, error) {
	run.Status = store.RunWaiting
	run.DurationMs += time.Since(start).Milliseconds()

	switch sig.Kind {
	case interrupt.WorkersPending:
		if _, err := l.Barriers.Install(ctx, run.ID, sig.CreatedJobs); err != nil {
			return Result{}, fmt.Errorf("supervisor: install barrier: %w", err)
		}
	case interrupt.WaitForWorker:
		run.PendingToolCallID = sig.ToolCallID
	}

	if err := l.Runs.Update(ctx, run); err != nil {
		return Result{}, fmt.Errorf("supervisor: update run to waiting: %w", err)
	}

	l.publish(ctx, run.ID, events.SupervisorWaiting, map[string]any{"message": sig.Message})
	l.publish(ctx, run.ID, events.RunUpdated, events.RunUpdatedPayload{Status: string(store.RunWaiting)})
	return Result{RunID: run.ID, ThreadID: run.ThreadID, Status: run.Status, Result: "working in the background", DurationMs: run.DurationMs}, nil
}

// defer_ transitions run to DEFERRED and emits the event that lets a client
// detach (spec.md §4.6 step 5). Named with a trailing underscore since
// `defer` is a keyword.
func (l *Lifecycle) defer_(ctx context.Context, run *store.Run) (Result, error) {
	run.Status = store.RunDeferred
	if err := l.Runs.Update(ctx, run); err != nil && l.Logger != nil {
		l.Logger.Error(ctx, "supervisor: update run to deferred failed", "runId", run.ID, "error", err)
	}
	l.publish(ctx, run.ID, events.SupervisorDeferred, nil)
	l.publish(ctx, run.ID, events.RunUpdated, events.RunUpdatedPayload{Status: string(store.RunDeferred)})
	return Result{RunID: run.ID, ThreadID: run.ThreadID, Status: run.Status, Result: "still working — I'll continue when ready"}, nil
}

func (l *Lifecycle) fail(ctx context.Context, run *store.Run, cause error) {
	now := time.Now()
	run.Status = store.RunFailed
	run.FinishedAt = &now
	if err := l.Runs.Update(ctx, run); err != nil && l.Logger != nil {
		l.Logger.Error(ctx, "supervisor: failed to persist run failure", "runId", run.ID, "error", err)
	}
	l.publish(ctx, run.ID, events.Error, events.ErrorPayload{Message: cause.Error(), Status: string(store.RunFailed)})
	l.publish(ctx, run.ID, events.RunUpdated, events.RunUpdatedPayload{Status: string(store.RunFailed), Error: cause.Error()})
	l.publish(ctx, run.ID, events.StreamControl, events.StreamControlPayload{Action: events.StreamClose, Reason: "run_failed"})
	if l.Logger != nil {
		l.Logger.Error(ctx, "supervisor: run failed", "runId", run.ID, "error", cause)
	}
}

func (l *Lifecycle) failResult(ctx context.Context, run *store.Run, cause error) (Result, error) {
	l.fail(ctx, run, cause)
	return Result{}, cause
}

func (l *Lifecycle) publish(ctx context.Context, runID string, typ events.Type, payload any) {
	if l.Bus == nil {
		return
	}
	if err := l.Bus.Publish(ctx, events.Event{RunID: runID, Type: typ, Payload: payload}); err != nil && l.Logger != nil {
		l.Logger.Error(ctx, "supervisor: publish event failed", "type", string(typ), "error", err)
	}
}

func lastAssistantText(messages []model.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == model.RoleAssistant {
			return messages[i].Text()
		}
	}
	return ""
}
