// Package resume implements the resume service (spec.md §4.5): it is the
// single entry point that turns a completed barrier (or a single
// wait_for_worker completion) back into forward progress on a WAITING run.
// It satisfies barrier.Resumer so the barrier coordinator can invoke it
// without importing this package (resume depends on barrier, not the
// reverse).
package resume

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

// MaxContinuationDepth bounds how many hops a continuation chain may grow
// (SPEC_FULL.md §6.4). A continuation attempt beyond it fails the chain
// with a terminal error event instead of growing unbounded.
const MaxContinuationDepth = 10

// BinderFunc builds the per-run tool binder a resumed run should see -
// typically the same allowlist the original run started with, plus a
// resolver so search_tools keeps working across the resume boundary.
type BinderFunc func(run *store.Run) *tools.Binder

// Service resumes WAITING runs once their spawned workers have reported
// back, either individually (a single wait_for_worker completion) or as a
// batch (every job in a barrier completing or timing out).
type Service struct {
	Runs     store.RunStore
	Threads  store.ThreadStore
	Messages store.MessageStore
	Barriers *barrier.Coordinator
	Engine   *engine.Engine
	Bus      events.Bus
	Logger   telemetry.Logger

	Binder BinderFunc
}

var _ barrier.Resumer = (*Service)(nil)

// Resume implements barrier.Resumer: it is invoked exactly once per barrier,
// by whichever CompleteWorker call observed completedCount reach
// expectedCount (spec.md §4.4, §8 property 1).
func (s *Service) Resume(ctx context.Context, runID, barrierID string) error {
	jobs, err := s.Barriers.Store.ListJobs(ctx, barrierID)
	if err != nil {
		return fmt.Errorf("resume: list barrier jobs: %w", err)
	}
	results := make([]barrierJobResult, len(jobs))
	for i, j := range jobs {
		results[i] = barrierJobResult{ToolCallID: j.ToolCallID, Result: j.Result, Error: j.Error, Status: j.Status}
	}
	return s.resumeWithResults(ctx, runID, barrierID, results)
}

// ResumeSingle resumes a run that was parked on a single wait_for_worker
// call (interrupt.WaitForWorker), not a barrier. It is called directly by
// whatever completes that one job, rather than through barrier.Resumer.
func (s *Service) ResumeSingle(ctx context.Context, runID, toolCallID, result, errMsg string) error {
	status := store.BarrierJobCompleted
	if errMsg != "" {
		status = store.BarrierJobFailed
	}
	return s.resumeWithResults(ctx, runID, "", []barrierJobResult{{ToolCallID: toolCallID, Result: result, Error: errMsg, Status: status}})
}

type barrierJobResult struct {
	ToolCallID string
	Result     string
	Error      string
	Status     store.BarrierJobStatus
}

// resumeWithResults implements the shared control flow of
// resume_oikos_batch/_continue_oikos_langgraph_free from the original
// implementation, collapsed into one path since this engine's interrupt
// signal already distinguishes "one job" from "a batch" uniformly as a list
// of tool-call results: idempotency gate WAITING->RUNNING, synthesize
// tool-response messages (skipping any already recorded), re-enter the
// engine, then dispatch on Completed/Interrupted/error.
func (s *Service) resumeWithResults(ctx context.Context, runID, barrierID string, results []barrierJobResult) error {
	if err := s.Runs.CASStatus(ctx, runID, store.RunWaiting, store.RunRunning); err != nil {
		if err == store.ErrCASFailed {
			return s.handleLostRace(ctx, runID, results)
		}
		return fmt.Errorf("resume: CAS run to running: %w", err)
	}

	run, err := s.Runs.Get(ctx, runID)
	if err != nil {
		return fmt.Errorf("resume: load run: %w", err)
	}

	start := time.Now()
	s.publish(ctx, runID, events.SupervisorResumed, nil)

	if err := s.appendResultMessages(ctx, run, results); err != nil {
		return s.fail(ctx, run, fmt.Errorf("resume: append result messages: %w", err))
	}

	loaded, err := s.Messages.List(ctx, run.ThreadID)
	if err != nil {
		return s.fail(ctx, run, fmt.Errorf("resume: load thread history: %w", err))
	}

	binderFn := s.Binder
	if binderFn == nil {
		binderFn = func(*store.Run) *tools.Binder { return tools.NewBinder(tools.NewRegistry(), nil) }
	}

	result, err := s.Engine.Run(ctx, engine.Input{
		Messages:        loaded,
		Model:           run.Model,
		ReasoningEffort: run.ReasoningEffort,
		Tools:           binderFn(run),
		Context:         engine.RunContext{RunID: run.ID, OwnerID: run.OwnerID, TraceID: run.TraceID},
		Cancelled: func() bool {
			current, getErr := s.Runs.Get(ctx, run.ID)
			return getErr == nil && current.Status == store.RunCancelled
		},
	})
	if err != nil {
		return s.fail(ctx, run, fmt.Errorf("resume: engine run: %w", err))
	}

	if err := s.persistNewMessages(ctx, run.ThreadID, loaded, result.Messages); err != nil {
		return s.fail(ctx, run, fmt.Errorf("resume: persist new messages: %w", err))
	}

	switch result.Outcome {
	case engine.Completed:
		return s.complete(ctx, run, barrierID, result, start)
	case engine.Interrupted:
		return s.reinterrupt(ctx, run, result.Interrupt, start)
	default:
		return s.fail(ctx, run, fmt.Errorf("resume: unknown engine outcome %v", result.Outcome))
	}
}

// handleLostRace is called when the WAITING->RUNNING CAS fails: either
// another caller already won this exact resume (benign, a no-op), or the
// originating run already reached a terminal status before this worker's
// result arrived. The latter is the inbox model's continuation case
// (spec.md §4.6 "Inbox model"): the result is not discarded, it starts a
// new chained Run carrying a synthetic prompt that summarizes what the
// worker produced.
func (s *Service) handleLostRace(ctx context.Context, runID string, results []barrierJobResult) error {
	run, err := s.Runs.Get(ctx, runID)
	if err != nil {
		return fmt.Errorf("resume: load run after lost CAS: %w", err)
	}
	if !run.Status.Terminal() {
		if s.Logger != nil {
			s.Logger.Debug(ctx, "resume: run no longer waiting, skipping", "runId", runID, "status", run.Status)
		}
		return nil
	}
	return s.continueChain(ctx, run, results)
}

// continueChain creates (or finds, if a concurrent caller already created
// one) the continuation run chained off run, then drives it through the
// same result-append / engine-invoke / dispatch path as a normal resume.
func (s *Service) continueChain(ctx context.Context, run *store.Run, results []barrierJobResult) error {
	if existing, err := s.Runs.FindByContinuationOf(ctx, run.ID); err == nil {
		if s.Logger != nil {
			s.Logger.Debug(ctx, "resume: continuation already exists, skipping", "runId", run.ID, "continuationId", existing.ID)
		}
		return nil
	} else if err != store.ErrNotFound {
		return fmt.Errorf("resume: find existing continuation: %w", err)
	}

	if run.ContinuationDepth+1 > MaxContinuationDepth {
		err := fmt.Errorf("resume: continuation chain exceeded max depth %d", MaxContinuationDepth)
		s.publish(ctx, run.ID, events.Error, events.ErrorPayload{Message: err.Error(), Status: string(store.RunFailed)})
		return err
	}

	continuationOf := run.ID
	cont := &store.Run{
		ID:                  uuid.NewString(),
		OwnerID:             run.OwnerID,
		ThreadID:            run.ThreadID,
		AgentID:             run.AgentID,
		Status:              store.RunRunning,
		StartedAt:           time.Now(),
		AssistantMessageID:  uuid.NewString(),
		ContinuationOfRunID: &continuationOf,
		RootRunID:           run.RootRunID,
		ContinuationDepth:   run.ContinuationDepth + 1,
		TraceID:             run.TraceID,
		Model:               run.Model,
		ReasoningEffort:     run.ReasoningEffort,
	}
	if cont.RootRunID == "" {
		cont.RootRunID = run.ID
	}
	if err := s.Runs.Create(ctx, cont); err != nil {
		return fmt.Errorf("resume: create continuation run: %w", err)
	}

	if err := s.appendResultMessages(ctx, cont, results); err != nil {
		return s.fail(ctx, cont, fmt.Errorf("resume: continuation append result messages: %w", err))
	}
	prompt := model.NewText(model.RoleUser, continuationPrompt(results))
	prompt.ThreadID = cont.ThreadID
	prompt.Internal = true
	if _, err := s.Messages.Append(ctx, prompt); err != nil {
		return s.fail(ctx, cont, fmt.Errorf("resume: append continuation prompt: %w", err))
	}

	start := time.Now()
	s.publish(ctx, cont.ID, events.SupervisorResumed, map[string]any{"continuationOf": run.ID})

	loaded, err := s.Messages.List(ctx, cont.ThreadID)
	if err != nil {
		return s.fail(ctx, cont, fmt.Errorf("resume: continuation load thread: %w", err))
	}

	binderFn := s.Binder
	if binderFn == nil {
		binderFn = func(*store.Run) *tools.Binder { return tools.NewBinder(tools.NewRegistry(), nil) }
	}

	result, err := s.Engine.Run(ctx, engine.Input{
		Messages:        loaded,
		Model:           cont.Model,
		ReasoningEffort: cont.ReasoningEffort,
		Tools:           binderFn(cont),
		Context:         engine.RunContext{RunID: cont.ID, OwnerID: cont.OwnerID, TraceID: cont.TraceID},
		Cancelled: func() bool {
			current, getErr := s.Runs.Get(ctx, cont.ID)
			return getErr == nil && current.Status == store.RunCancelled
		},
	})
	if err != nil {
		return s.fail(ctx, cont, fmt.Errorf("resume: continuation engine run: %w", err))
	}

	if err := s.persistNewMessages(ctx, cont.ThreadID, loaded, result.Messages); err != nil {
		return s.fail(ctx, cont, fmt.Errorf("resume: continuation persist messages: %w", err))
	}

	switch result.Outcome {
	case engine.Completed:
		return s.complete(ctx, cont, "", result, start)
	case engine.Interrupted:
		return s.reinterrupt(ctx, cont, result.Interrupt, start)
	default:
		return s.fail(ctx, cont, fmt.Errorf("resume: continuation unknown engine outcome %v", result.Outcome))
	}
}

// continuationPrompt renders the internal prompt that tells the supervisor
// model what the straggling worker(s) produced, since a continuation run
// has no pending ToolUsePart to answer - its originating run already moved
// on.
func continuationPrompt(results []barrierJobResult) string {
	msg := "A background worker finished after this conversation's prior turn ended. Results:\n"
	for _, r := range results {
		if r.Status == store.BarrierJobCompleted {
			msg += fmt.Sprintf("- %s\n", r.Result)
		} else {
			errMsg := r.Error
			if errMsg == "" {
				errMsg = "did not complete successfully"
			}
			msg += fmt.Sprintf("- error: %s\n", errMsg)
		}
	}
	return msg
}

// appendResultMessages synthesizes one tool-response message per result and
// appends it to the run's thread, skipping any toolCallId that already has
// a recorded response (idempotent replay: a reaper retry or a duplicate
// CompleteWorker call must never double-append).
func (s *Service) appendResultMessages(ctx context.Context, run *store.Run, results []barrierJobResult) error {
	history, err := s.Messages.List(ctx, run.ThreadID)
	if err != nil {
		return err
	}
	answered := make(map[string]struct{})
	for _, m := range history {
		for _, p := range m.Parts {
			if tr, ok := p.(model.ToolResultPart); ok {
				answered[tr.ToolUseID] = struct{}{}
			}
		}
	}

	for _, r := range results {
		if _, ok := answered[r.ToolCallID]; ok {
			continue
		}
		content := r.Result
		isError := r.Status != store.BarrierJobCompleted
		if isError {
			msg := r.Error
			if msg == "" {
				msg = "worker job did not complete successfully"
			}
			content = fmt.Sprintf("<tool-error>%s</tool-error>", msg)
		}
		msg := model.NewToolResult(r.ToolCallID, content, isError)
		msg.ThreadID = run.ThreadID
		if _, err := s.Messages.Append(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// persistNewMessages appends the messages the engine produced beyond what
// was loaded from the thread (the assistant turns and tool results from
// this resumed invocation).
func (s *Service) persistNewMessages(ctx context.Context, threadID string, loaded []model.Message, produced []model.Message) error {
	if len(produced) <= len(loaded) {
		return nil
	}
	for i := len(loaded); i < len(produced); i++ {
		m := produced[i]
		m.ThreadID = threadID
		if _, err := s.Messages.Append(ctx, &m); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) complete(ctx context.Context, run *store.Run, barrierID string, result engine.Result, start time.Time) error {
	now := time.Now()
	run.Status = store.RunSuccess
	run.FinishedAt = &now
	run.DurationMs = now.Sub(start).Milliseconds() + run.DurationMs
	if result.Usage != nil {
		total := result.Usage.TotalTokens
		if run.TotalTokens != nil {
			total += *run.TotalTokens
		}
		run.TotalTokens = &total
	}
	if err := s.Runs.Update(ctx, run); err != nil {
		return fmt.Errorf("resume: update run to success: %w", err)
	}
	// barrierID is empty for a ResumeSingle (wait_for_worker) resume, which
	// never installed a barrier row.
	if barrierID != "" {
		if err := s.Barriers.Store.MarkResumed(ctx, barrierID); err != nil && s.Logger != nil {
			s.Logger.Debug(ctx, "resume: mark barrier resumed failed", "runId", run.ID, "barrierId", barrierID, "error", err)
		}
	}

	final := lastAssistantText(result.Messages)
	s.publish(ctx, run.ID, events.SupervisorComplete, map[string]any{"result": final})
	s.publish(ctx, run.ID, events.RunUpdated, events.RunUpdatedPayload{Status: string(store.RunSuccess), DurationMs: &run.DurationMs})
	s.emitStreamControl(ctx, run, "run_success")
	return nil
}

// pendingWorkerCount counts run's non-terminal WorkerJobs, to decide between
// stream_control:close and stream_control:keep_open on completion (spec.md
// §4.5).
func (s *Service) pendingWorkerCount(ctx context.Context, run *store.Run) (int, error) {
	jobs, err := s.Barriers.Jobs.ListByOwner(ctx, run.OwnerID)
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
// TTL (spec.md §4.5). A failed pending-count lookup defaults to keep_open
// rather than risk dropping a client mid-background-work.
func (s *Service) emitStreamControl(ctx context.Context, run *store.Run, reason string) {
	pending, err := s.pendingWorkerCount(ctx, run)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Error(ctx, "resume: pending worker lookup failed", "runId", run.ID, "error", err)
		}
		s.publish(ctx, run.ID, events.StreamControl, events.StreamControlPayload{
			Action: events.StreamKeepOpen, Reason: reason, TTLMs: events.DefaultStreamKeepOpenTTLMs,
		})
		return
	}
	if pending == 0 {
		s.publish(ctx, run.ID, events.StreamControl, events.StreamControlPayload{Action: events.StreamClose, Reason: reason})
		return
	}
	s.publish(ctx, run.ID, events.StreamControl, events.StreamControlPayload{
		Action: events.StreamKeepOpen, Reason: reason, TTLMs: events.DefaultStreamKeepOpenTTLMs, PendingWorkers: pending,
	})
}

// reinterrupt handles a run that spawned more workers (or parked again)
// while resuming, mirroring the original's re-interrupt branch: the run
// goes back to WAITING and, for a new batch of spawns, the barrier is reset
// for the new jobs (stale completed-job rows from the prior batch must not
// poison the next resume).
func (s *Service) reinterrupt(ctx context.Context, run *store.Run, sig interrupt.Signal, start time.Time) error {
	run.Status = store.RunWaiting
	run.DurationMs += time.Since(start).Milliseconds()

	switch sig.Kind {
	case interrupt.WorkersPending:
		if _, err := s.Barriers.Reinstall(ctx, run.ID, sig.CreatedJobs); err != nil {
			return s.fail(ctx, run, fmt.Errorf("resume: reinstall barrier: %w", err))
		}
	case interrupt.WaitForWorker:
		run.PendingToolCallID = sig.ToolCallID
	}

	if err := s.Runs.Update(ctx, run); err != nil {
		return fmt.Errorf("resume: update run to waiting: %w", err)
	}

	s.publish(ctx, run.ID, events.SupervisorWaiting, map[string]any{"message": sig.Message})
	s.publish(ctx, run.ID, events.RunUpdated, events.RunUpdatedPayload{Status: string(store.RunWaiting)})
	return nil
}

func (s *Service) fail(ctx context.Context, run *store.Run, cause error) error {
	now := time.Now()
	run.Status = store.RunFailed
	run.FinishedAt = &now
	if err := s.Runs.Update(ctx, run); err != nil && s.Logger != nil {
		s.Logger.Error(ctx, "resume: failed to persist run failure", "runId", run.ID, "error", err)
	}
	s.publish(ctx, run.ID, events.Error, events.ErrorPayload{Message: cause.Error(), Status: string(store.RunFailed)})
	s.publish(ctx, run.ID, events.RunUpdated, events.RunUpdatedPayload{Status: string(store.RunFailed), Error: cause.Error()})
	s.publish(ctx, run.ID, events.StreamControl, events.StreamControlPayload{Action: events.StreamClose, Reason: "run_failed"})
	if s.Logger != nil {
		s.Logger.Error(ctx, "resume: run failed", "runId", run.ID, "error", cause)
	}
	return cause
}

func (s *Service) publish(ctx context.Context, runID string, typ events.Type, payload any) {
	if s.Bus == nil {
		return
	}
	if err := s.Bus.Publish(ctx, events.Event{RunID: runID, Type: typ, Payload: payload}); err != nil && s.Logger != nil {
		s.Logger.Error(ctx, "resume: publish event failed", "type", string(typ), "error", err)
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
