package events

import "encoding/json"

// Type identifies the kind of payload an Event carries (spec.md §6).
type Type string

const (
	SupervisorStarted  Type = "supervisor_started"
	SupervisorThinking Type = "supervisor_thinking"
	SupervisorToken    Type = "supervisor_token"
	SupervisorComplete Type = "supervisor_complete"
	SupervisorWaiting  Type = "supervisor_waiting"
	SupervisorDeferred Type = "supervisor_deferred"
	SupervisorResumed  Type = "supervisor_resumed"

	WorkerSpawned       Type = "worker_spawned"
	WorkerToolStarted   Type = "worker_tool_started"
	WorkerToolCompleted Type = "worker_tool_completed"
	WorkerToolFailed    Type = "worker_tool_failed"
	WorkerComplete      Type = "worker_complete"

	RunUpdated Type = "run_updated"

	StreamControl Type = "stream_control"

	Error Type = "error"
)

// StreamAction is the action carried by a StreamControl event.
type StreamAction string

const (
	StreamKeepOpen StreamAction = "keep_open"
	StreamClose    StreamAction = "close"
)

// DefaultStreamKeepOpenTTLMs is the lease extension a stream_control:keep_open
// event grants the client-facing stream while background workers finish
// (spec.md §4.5).
const DefaultStreamKeepOpenTTLMs int64 = 120000

// Event is one durable, replayable lifecycle record for a run. Payload is
// kept as a typed `any` at construction time and only marshaled to JSON at
// the store boundary (store.Event.Payload), so in-process subscribers never
// pay a decode cost.
type Event struct {
	RunID   string
	Type    Type
	Payload any
}

// Marshal encodes Payload to JSON for durable storage (store.Event).
func (e Event) Marshal() (json.RawMessage, error) {
	if e.Payload == nil {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(e.Payload)
}

// SupervisorTokenPayload is the payload for SupervisorToken.
type SupervisorTokenPayload struct {
	Text string `json:"text"`
}

// WorkerSpawnedPayload is the payload for WorkerSpawned.
type WorkerSpawnedPayload struct {
	JobID      string `json:"jobId"`
	ToolCallID string `json:"toolCallId"`
	Task       string `json:"task"`
	Model      string `json:"model"`
}

// WorkerToolPayload is the payload for WorkerToolStarted/Completed/Failed.
type WorkerToolPayload struct {
	JobID    string `json:"jobId"`
	ToolName string `json:"toolName"`
	Detail   string `json:"detail,omitempty"`
}

// WorkerCompletePayload is the payload for WorkerComplete.
type WorkerCompletePayload struct {
	JobID      string `json:"jobId"`
	Status     string `json:"status"`
	DurationMs int64  `json:"durationMs"`
}

// RunUpdatedPayload is the payload for RunUpdated.
type RunUpdatedPayload struct {
	Status     string `json:"status"`
	FinishedAt string `json:"finishedAt,omitempty"`
	DurationMs *int64 `json:"durationMs,omitempty"`
	Error      string `json:"error,omitempty"`
}

// StreamControlPayload is the payload for StreamControl.
type StreamControlPayload struct {
	Action         StreamAction `json:"action"`
	Reason         string       `json:"reason,omitempty"`
	TTLMs          int64        `json:"ttlMs,omitempty"`
	PendingWorkers int          `json:"pendingWorkers,omitempty"`
}

// ErrorPayload is the payload for Error.
type ErrorPayload struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}
