// Package interrupt defines the typed control-flow signal the ReAct engine
// uses to hand off to its orchestrator when it has queued work that must
// complete externally before a run can continue (spec.md §4.2).
//
// This replaces the exception-as-control-flow pattern: rather than raising
// and catching a sentinel error type, engine.Run returns a Result whose
// Outcome is either Completed or Interrupted, and an Interrupted outcome
// carries a Signal describing exactly what the engine is waiting on. The
// signal itself is never persisted — it is a transient value passed from
// engine.Run to whichever service catches it (supervisor.Lifecycle or
// resume.Service).
package interrupt

// Kind distinguishes the variants of Signal.
type Kind string

const (
	// WorkersPending reports that one or more spawn_worker calls were made
	// in the current turn and at least one of them created a new WorkerJob
	// or matched an existing job that has not finished yet.
	WorkersPending Kind = "workers_pending"
	// WaitForWorker reports a blocking wait on a specific, already-existing
	// worker. The engine does not emit this kind; no built-in tool produces
	// it.
	WaitForWorker Kind = "wait_for_worker"
)

// SpawnedJob is one entry in a WorkersPending signal.
type SpawnedJob struct {
	JobID      string
	ToolCallID string
	Task       string
}

// Signal is the payload of an Interrupted engine.Result.
type Signal struct {
	Kind Kind

	// CreatedJobs and JobIDs are set for WorkersPending.
	CreatedJobs []SpawnedJob
	JobIDs      []string

	// JobID, ToolCallID, and Message are set for WaitForWorker.
	JobID      string
	ToolCallID string
	Message    string
}

// NewWorkersPending builds a WorkersPending signal from the jobs created
// during the current turn.
func NewWorkersPending(jobs []SpawnedJob) Signal {
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.JobID
	}
	return Signal{Kind: WorkersPending, CreatedJobs: jobs, JobIDs: ids}
}

// NewWaitForWorker builds a WaitForWorker signal.
func NewWaitForWorker(jobID, toolCallID, message string) Signal {
	return Signal{Kind: WaitForWorker, JobID: jobID, ToolCallID: toolCallID, Message: message}
}
