// Package engine implements the ReAct execution engine (spec.md §4.1): the
// language-model-driven tool-use loop shared by the supervisor lifecycle
// service and the worker job processor. The engine never persists
// messages - it returns the messages it produced and lets the caller own
// storage, and it signals suspension via a typed interrupt.Signal rather
// than an exception (REDESIGN FLAGS, spec.md §9 "Exception-as-control-flow").
package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nullstackai/conductor/artifact"
	"github.com/nullstackai/conductor/events"
	"github.com/nullstackai/conductor/interrupt"
	"github.com/nullstackai/conductor/model"
	"github.com/nullstackai/conductor/store"
	"github.com/nullstackai/conductor/telemetry"
	"github.com/nullstackai/conductor/tools"
)

// MaxIterations bounds the tool-iteration rounds of a single Run invocation
// (spec.md §4.1 "Iteration bound"). Exceeding it ends the run with a fixed
// final message rather than looping forever.
const MaxIterations = 50

// MaxConcurrentTools bounds how many non-spawn tool calls from a single
// model turn execute concurrently.
const MaxConcurrentTools = 8

const maxIterationsMessage = "Exceeded maximum iterations"

const emptyResponseReminder = "Your previous response was empty. You MUST either:\n" +
	"1) Call the appropriate tool(s), OR\n" +
	"2) Provide a final answer.\n\n" +
	"Do not return an empty message."

const emptyResponseAfterRetry = "Error: the model returned an empty response twice in a row. This is a provider/model issue."

// Outcome is the terminal shape of a Run invocation (spec.md §4.1 "Public
// contract").
type Outcome int

const (
	// Completed means the loop reached a final assistant message (or hit
	// the iteration cap, or was cancelled) with no pending external work.
	Completed Outcome = iota
	// Interrupted means one or more spawn_worker calls produced new or
	// reused WorkerJobs and the caller must suspend the run until they
	// complete (§4.2).
	Interrupted
)

func (o Outcome) String() string {
	if o == Interrupted {
		return "interrupted"
	}
	return "completed"
}

// RunContext carries run identity through a single engine invocation.
type RunContext struct {
	RunID   string
	OwnerID string
	TraceID string
}

// Input is everything a single engine invocation needs (spec.md §4.1
// "Inputs").
type Input struct {
	// Messages is the conversation so far, oldest first. On a cold start
	// this is just a system message and a user turn; on resume it includes
	// every prior turn, possibly ending in an assistant message with
	// pending tool calls (spec.md §4.1 "Resume detection").
	Messages []model.Message

	Model           string
	ReasoningEffort string

	// Tools is the per-invocation tool binder; the engine rebinds the
	// model's visible tool list from it before every model call so
	// search_tools discoveries take effect immediately (spec.md §4.1
	// "Tool-search rebinding").
	Tools *tools.Binder

	Context RunContext

	// Stream is accepted but not read by the engine: each model response is
	// published to Bus as a single SupervisorToken event once Complete
	// returns, with no per-token streaming.
	Stream bool

	// Cancelled is polled once per loop iteration; when it reports true the
	// loop stops with Outcome=Completed and whatever messages exist so far,
	// letting a worker respond to external cancellation between tool turns
	// (spec.md §4.3).
	Cancelled func() bool
}

// Result is the engine's return value: exactly one of Completed or
// Interrupted is meaningful.
type Result struct {
	Outcome  Outcome
	Messages []model.Message
	// Usage is nil when the model never reported usage metadata for this
	// invocation (spec.md §4.1 "Usage accounting" nil-vs-zero semantics).
	Usage *model.TokenUsage
	// Interrupt is populated only when Outcome == Interrupted.
	Interrupt interrupt.Signal
}

// Engine drives the ReAct loop against a model.Client.
type Engine struct {
	Client    model.Client
	Jobs      store.WorkerJobStore
	Artifacts artifact.Store
	Bus       events.Bus
	Logger    telemetry.Logger
	Metrics   telemetry.Metrics
	Tracer    telemetry.Tracer

	// MaxUserTurns and MaxCharBudget configure deterministic context
	// trimming (spec.md §4.1 "Context trimming"). Zero disables that axis;
	// both zero disables trimming entirely.
	MaxUserTurns  int
	MaxCharBudget int
}

// Run executes the ReAct loop to completion or interruption.
func (e *Engine) Run(ctx context.Context, in Input) (Result, error) {
	ctx, span := e.startSpan(ctx, "engine.Run")
	defer span.End()

	messages := append([]model.Message(nil), in.Messages...)
	usage := &model.UsageAccumulator{}

	if pending := pendingToolUses(messages); len(pending) > 0 {
		if e.Logger != nil {
			e.Logger.Debug(ctx, "engine: resuming with pending tool calls", "runId", in.Context.RunID, "count", len(pending))
		}
		toolMsgs, sig, err := e.dispatchTools(ctx, in, pending)
		if err != nil {
			span.RecordError(err)
			return Result{}, err
		}
		messages = append(messages, toolMsgs...)
		if sig != nil {
			return e.interruptResult(messages, usage, *sig), nil
		}
	}

	resp, err := e.callModelWithEmptyRecovery(ctx, in, messages, usage)
	if err != nil {
		span.RecordError(err)
		return Result{}, err
	}

	iteration := 0
	for len(resp.ToolUses()) > 0 {
		iteration++
		if iteration > MaxIterations {
			if e.Logger != nil {
				e.Logger.Warn(ctx, "engine: exceeded max iterations", "runId", in.Context.RunID, "max", MaxIterations)
			}
			messages = append(messages, *model.NewText(model.RoleAssistant, maxIterationsMessage))
			return Result{Outcome: Completed, Messages: messages, Usage: totalOrNil(usage)}, nil
		}

		messages = append(messages, *resp)

		if in.Cancelled != nil && in.Cancelled() {
			return Result{Outcome: Completed, Messages: messages, Usage: totalOrNil(usage)}, nil
		}

		toolMsgs, sig, err := e.dispatchTools(ctx, in, resp.ToolUses())
		if err != nil {
			span.RecordError(err)
			return Result{}, err
		}
		messages = append(messages, toolMsgs...)
		if sig != nil {
			return e.interruptResult(messages, usage, *sig), nil
		}

		resp, err = e.callModel(ctx, in, messages, usage, nil)
		if err != nil {
			span.RecordError(err)
			return Result{}, err
		}
	}

	messages = append(messages, *resp)
	return Result{Outcome: Completed, Messages: messages, Usage: totalOrNil(usage)}, nil
}

// callModelWithEmptyRecovery performs the single "initial" model call for
// this invocation (cold start, post-resume, or post-pending-dispatch) and
// applies the empty-response recovery path (spec.md §4.1 "Empty-response
// recovery") before returning to the caller's main loop.
func (e *Engine) callModelWithEmptyRecovery(ctx context.Context, in Input, messages []model.Message, usage *model.UsageAccumulator) (*model.Message, error) {
	resp, err := e.callModel(ctx, in, messages, usage, nil)
	if err != nil {
		return nil, err
	}
	if !resp.IsEmpty() {
		return resp, nil
	}

	if e.Logger != nil {
		e.Logger.Warn(ctx, "engine: model produced an empty response, retrying once", "runId", in.Context.RunID)
	}
	messages = append(messages, *model.NewText(model.RoleSystem, emptyResponseReminder))
	retry, err := e.callModel(ctx, in, messages, usage, &model.ToolChoice{Mode: model.ToolChoiceRequired})
	if err != nil {
		return nil, err
	}
	if !retry.IsEmpty() {
		return retry, nil
	}

	if e.Logger != nil {
		e.Logger.Error(ctx, "engine: model produced an empty response twice", "runId", in.Context.RunID)
	}
	return model.NewText(model.RoleAssistant, emptyResponseAfterRetry), nil
}

// callModel trims context, builds a model.Request from the current binder
// state, and invokes the configured client.
func (e *Engine) callModel(ctx context.Context, in Input, messages []model.Message, usage *model.UsageAccumulator, toolChoice *model.ToolChoice) (*model.Message, error) {
	trimmed := trimMessages(messages, e.MaxUserTurns, e.MaxCharBudget)

	reqMessages := make([]*model.Message, len(trimmed))
	for i := range trimmed {
		m := trimmed[i]
		reqMessages[i] = &m
	}

	req := &model.Request{
		RunID:      in.Context.RunID,
		Model:      in.Model,
		Messages:   reqMessages,
		Tools:      toolDefinitions(in.Tools),
		ToolChoice: toolChoice,
		Thinking:   reasoningEffortToThinking(in.ReasoningEffort),
	}

	resp, err := e.Client.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("engine: model call failed: %w", err)
	}
	if resp.Usage != (model.TokenUsage{}) {
		usage.Add(resp.Usage)
	}
	e.publish(ctx, in.Context.RunID, events.SupervisorToken, events.SupervisorTokenPayload{Text: resp.Message.Text()})
	return resp.Message, nil
}

func (e *Engine) interruptResult(messages []model.Message, usage *model.UsageAccumulator, sig interrupt.Signal) Result {
	return Result{Outcome: Interrupted, Messages: messages, Usage: totalOrNil(usage), Interrupt: sig}
}

func (e *Engine) publish(ctx context.Context, runID string, typ events.Type, payload any) {
	if e.Bus == nil {
		return
	}
	if err := e.Bus.Publish(ctx, events.Event{RunID: runID, Type: typ, Payload: payload}); err != nil && e.Logger != nil {
		e.Logger.Error(ctx, "engine: publish event failed", "type", string(typ), "error", err)
	}
}

func (e *Engine) startSpan(ctx context.Context, name string) (context.Context, telemetry.Span) {
	if e.Tracer == nil {
		return ctx, noopSpan{}
	}
	return e.Tracer.Start(ctx, name)
}

type noopSpan struct{}

func (noopSpan) SetAttribute(string, any) {}
func (noopSpan) RecordError(error)        {}
func (noopSpan) End()                     {}

func totalOrNil(usage *model.UsageAccumulator) *model.TokenUsage {
	total, ok := usage.Total()
	if !ok {
		return nil
	}
	return &total
}

func reasoningEffortToThinking(effort string) *model.ThinkingOptions {
	switch effort {
	case "", "none":
		return nil
	case "low":
		return &model.ThinkingOptions{Enable: true, BudgetTokens: 2048}
	case "medium":
		return &model.ThinkingOptions{Enable: true, BudgetTokens: 8192}
	case "high":
		return &model.ThinkingOptions{Enable: true, BudgetTokens: 24576}
	default:
		return &model.ThinkingOptions{Enable: true}
	}
}

func toolDefinitions(binder *tools.Binder) []*model.ToolDefinition {
	defs := binder.Definitions()
	if binder.HasResolver() {
		search := tools.NewSearchToolsSpec(binder)
		defs = append(defs, &model.ToolDefinition{
			Name:        string(search.Spec.Name),
			Description: search.Spec.Description,
			InputSchema: schemaOf(search.Spec.PayloadSchema),
		})
	}
	return defs
}

func schemaOf(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}
