package tools

import (
	"context"
	"encoding/json"
	"time"
)

// SpawnWorkerName is the reserved tool name the engine special-cases: calls
// to this tool never reach a Handler. The engine partitions them out of the
// turn's tool-call batch and handles worker-job creation/idempotency itself
// (spec.md §4.1 "spawn_worker semantics"). It is registered here only so it
// renders in the model's tool list.
const SpawnWorkerName Ident = "spawn_worker"

// SpawnWorkerPayloadSchema is the JSON Schema for spawn_worker arguments.
var SpawnWorkerPayloadSchema = []byte(`{
  "type": "object",
  "properties": {
    "task": {"type": "string", "description": "The task for the worker to perform"},
    "model": {"type": "string"},
    "reasoning_effort": {"type": "string", "enum": ["low", "medium", "high"]}
  },
  "required": ["task"]
}`)

// SpawnWorkerSpec is the tool spec shown to the model for delegating work.
// The engine never calls its Handler directly.
func SpawnWorkerSpec() Tool {
	return Tool{
		Spec: Spec{
			Name:          SpawnWorkerName,
			Description:   "Delegate a task to a background worker agent. Returns once the worker completes.",
			PayloadSchema: SpawnWorkerPayloadSchema,
		},
		Handler: func(context.Context, json.RawMessage) (Result, error) {
			return Result{}, &ValidationError{Tool: SpawnWorkerName, Message: "spawn_worker must be intercepted by the engine, not dispatched as a handler"}
		},
	}
}

// GetCurrentTimeName is a minimal illustrative built-in tool, sufficient to
// drive spec.md §8 scenario S1 end to end.
const GetCurrentTimeName Ident = "get_current_time"

// GetCurrentTimeSpec returns a tool that reports the current UTC time in
// RFC3339 form.
func GetCurrentTimeSpec() Tool {
	return Tool{
		Spec: Spec{
			Name:          GetCurrentTimeName,
			Description:   "Returns the current date and time in UTC.",
			PayloadSchema: []byte(`{"type":"object","properties":{}}`),
		},
		Handler: func(context.Context, json.RawMessage) (Result, error) {
			return Result{Content: time.Now().UTC().Format(time.RFC3339)}, nil
		},
	}
}
