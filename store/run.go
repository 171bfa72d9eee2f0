// Package store defines the durable record types and Store interfaces for
// runs, threads/messages, worker jobs, barriers, and events (spec.md §3).
// Concrete backends live in store/mongo (durable) and store/inmem (tests,
// single-process demos).
package store

import (
	"context"
	"errors"
	"time"
)

// RunStatus is the coarse-grained lifecycle state of a Run.
type RunStatus string

const (
	RunQueued    RunStatus = "QUEUED"
	RunRunning   RunStatus = "RUNNING"
	RunSuccess   RunStatus = "SUCCESS"
	RunFailed    RunStatus = "FAILED"
	RunCancelled RunStatus = "CANCELLED"
	RunWaiting   RunStatus = "WAITING"
	RunDeferred  RunStatus = "DEFERRED"
)

// Terminal reports whether s is one of the terminal statuses
// (SUCCESS/FAILED/CANCELLED). Status monotonicity (spec.md §8 property 8)
// depends on callers never transitioning out of a terminal status.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunSuccess, RunFailed, RunCancelled:
		return true
	default:
		return false
	}
}

// Run is one execution of a supervisor agent on a thread (spec.md §3).
type Run struct {
	ID       string
	OwnerID  string
	ThreadID string
	AgentID  string
	Status   RunStatus

	StartedAt  time.Time
	FinishedAt *time.Time
	DurationMs int64

	// TotalTokens is nil until the engine reports usage at least once
	// (spec.md §4.1's nil-vs-zero requirement).
	TotalTokens *int

	// AssistantMessageID is a UUID assigned when the run is created and
	// persisted with it. The resume service does not read it; resumed
	// results are appended as new messages.
	AssistantMessageID string

	// PendingToolCallID is set while a blocking wait-tool is active.
	PendingToolCallID string

	// ContinuationOfRunID links a continuation run back to the run it
	// continues (spec.md §4.6 inbox model). Nil for non-continuation runs.
	ContinuationOfRunID *string
	// RootRunID denormalizes the chain root so all runs in a continuation
	// chain can be queried/aliased together.
	RootRunID string
	// ContinuationDepth counts hops from RootRunID; enforced against
	// resume.MaxContinuationDepth (SPEC_FULL.md §6.4).
	ContinuationDepth int

	TraceID         string
	Model           string
	ReasoningEffort string
}

// ErrNotFound indicates no record exists for the given identifier.
var ErrNotFound = errors.New("store: not found")

// ErrCASFailed indicates a compare-and-swap status transition lost the race
// to a concurrent writer. Callers must treat this as "another handler won"
// and abort quietly (spec.md §5, §7) rather than as a hard failure.
var ErrCASFailed = errors.New("store: compare-and-swap failed")

// RunStore persists Run records.
type RunStore interface {
	// Create inserts a new run. Returns ErrCASFailed if a run with the
	// same ID already exists.
	Create(ctx context.Context, run *Run) error
	// Get loads a run by ID. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*Run, error)
	// CASStatus atomically transitions a run from `from` to `to`. Returns
	// ErrCASFailed (not an error the caller should propagate as a failure)
	// if the run's current status isn't `from`.
	CASStatus(ctx context.Context, id string, from, to RunStatus) error
	// Update persists arbitrary field changes to an existing run (e.g.
	// FinishedAt, DurationMs, TotalTokens, PendingToolCallID). Update does
	// not itself enforce status transition rules; use CASStatus for those.
	Update(ctx context.Context, run *Run) error
	// FindByContinuationOf returns the (at most one) run already chained
	// off runID via ContinuationOfRunID, for the inbox model's idempotent
	// continuation creation (spec.md §4.6: "creating a chain continuation"
	// rather than a duplicate). Returns ErrNotFound if none exists.
	FindByContinuationOf(ctx context.Context, runID string) (*Run, error)
}
