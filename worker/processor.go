// Package worker implements the worker job processor (spec.md §4.3): the
// poll/claim/execute loop that drains queued WorkerJobs by running the
// ReAct engine against a restricted, task-scoped thread.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nullstackai/conductor/artifact"
	"github.com/nullstackai/conductor/barrier"
	"github.com/nullstackai/conductor/engine"
	"github.com/nullstackai/conductor/model"
	"github.com/nullstackai/conductor/store"
	"github.com/nullstackai/conductor/telemetry"
	"github.com/nullstackai/conductor/tools"
)

// SystemPromptFunc builds the short, task-oriented system prompt seeded for
// a worker's thread, optionally incorporating workspace-mode config
// (SPEC_FULL.md §6.3).
type SystemPromptFunc func(job *store.WorkerJob) string

// Processor claims queued WorkerJobs and drives them to completion.
type Processor struct {
	Jobs      store.WorkerJobStore
	Barriers  *barrier.Coordinator
	Artifacts artifact.Store
	Engine    *engine.Engine
	Tools     *tools.Registry
	// ToolAllowlist restricts which tool globs a worker's engine may bind;
	// workers do not get recursive spawn_worker access by default (spec.md
	// §4.3).
	ToolAllowlist []string
	SystemPrompt  SystemPromptFunc
	Logger        telemetry.Logger
	Metrics       telemetry.Metrics

	// PollInterval is how long the processor sleeps between empty polls.
	PollInterval time.Duration
}

func defaultSystemPrompt(job *store.WorkerJob) string {
	prompt := "You are a worker agent completing one delegated sub-task. " +
		"Produce a direct, complete answer; you will not be asked follow-up questions."
	if job.Config != nil && job.Config.RepoURL != "" {
		prompt += fmt.Sprintf("\nYou are operating in workspace %q.", job.Config.RepoURL)
		if job.Config.ResumeSessionID != "" {
			prompt += fmt.Sprintf(" Resume prior session %q if relevant context exists there.", job.Config.ResumeSessionID)
		}
	}
	return prompt
}

// ClaimAndRun claims at most one queued job and runs it to completion. It
// returns (false, nil) if no job was queued. Callers (typically a pool of
// goroutines) call this in a loop.
func (p *Processor) ClaimAndRun(ctx context.Context) (bool, error) {
	job, err := p.Jobs.ClaimQueued(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("worker: claim queued job: %w", err)
	}
	p.run(ctx, job)
	return true, nil
}

func (p *Processor) run(ctx context.Context, job *store.WorkerJob) {
	start := time.Now()
	workerID := uuid.NewString()
	job.WorkerID = workerID

	promptFn := p.SystemPrompt
	if promptFn == nil {
		promptFn = defaultSystemPrompt
	}

	binder := tools.NewBinder(p.Tools, p.ToolAllowlist)
	messages := []model.Message{
		*model.NewText(model.RoleSystem, promptFn(job)),
		*model.NewText(model.RoleUser, job.Task),
	}

	runCtx := engine.RunContext{
		RunID:   job.ID,
		OwnerID: job.OwnerID,
		TraceID: workerID,
	}

	result, err := p.Engine.Run(ctx, engine.Input{
		Messages: messages,
		Model:    job.Model,
		ReasoningEffort: job.ReasoningEffort,
		Tools:    binder,
		Context:  runCtx,
		// Cancelled lets the processor observe an externally-set
		// status=cancelled between iterations (spec.md §4.3).
		Cancelled: func() bool {
			current, getErr := p.Jobs.Get(ctx, job.ID)
			return getErr == nil && current.Status == store.JobCancelled
		},
	})

	duration := time.Since(start)
	if err != nil {
		p.finish(ctx, job, workerID, store.JobFailed, err.Error(), "", duration, nil)
		return
	}
	if result.Outcome == engine.Interrupted {
		// Workers don't recursively spawn and wait on their own barriers in
		// this design (spec.md §4.3: restricted tool set, no recursive
		// spawn_worker) - an interrupt here means misconfiguration.
		p.finish(ctx, job, workerID, store.JobFailed, "worker produced an unexpected interrupt", "", duration, nil)
		return
	}

	final := ""
	for i := len(result.Messages) - 1; i >= 0; i-- {
		if result.Messages[i].Role == model.RoleAssistant {
			final = result.Messages[i].Text()
			break
		}
	}
	p.finish(ctx, job, workerID, store.JobSuccess, "", final, duration, result.Usage)
}

func (p *Processor) finish(ctx context.Context, job *store.WorkerJob, workerID string, status store.WorkerJobStatus, errMsg, resultText string, duration time.Duration, usage *model.TokenUsage) {
	if status == store.JobSuccess {
		if err := p.Artifacts.Put(ctx, workerID, artifact.KindResult, []byte(resultText)); err != nil && p.Logger != nil {
			p.Logger.Error(ctx, "worker: write result artifact failed", "jobId", job.ID, "error", err)
		}
		meta := artifact.Metadata{
			OwnerID: job.OwnerID, WorkerID: workerID, Summary: summarize(resultText),
			DurationMs: duration.Milliseconds(),
		}
		if usage != nil {
			meta.TotalTokens = usage.TotalTokens
		}
		if raw, err := encodeMetadata(meta); err == nil {
			if err := p.Artifacts.Put(ctx, workerID, artifact.KindMetadata, raw); err != nil && p.Logger != nil {
				p.Logger.Error(ctx, "worker: write metadata artifact failed", "jobId", job.ID, "error", err)
			}
		}
	}

	if err := p.Jobs.Finish(ctx, job.ID, workerID, status, errMsg); err != nil && p.Logger != nil {
		p.Logger.Error(ctx, "worker: finish job failed", "jobId", job.ID, "error", err)
	}
	if p.Metrics != nil {
		p.Metrics.RecordDuration(ctx, "worker.job.duration", duration, "status", string(status))
	}

	barrierStatus := store.BarrierJobCompleted
	if status != store.JobSuccess {
		barrierStatus = store.BarrierJobFailed
	}
	if _, err := p.Barriers.CompleteWorker(ctx, job.SupervisorRunID, job.ID, barrierStatus, resultText, errMsg); err != nil && p.Logger != nil {
		p.Logger.Error(ctx, "worker: complete barrier failed", "jobId", job.ID, "error", err)
	}
}

func encodeMetadata(meta artifact.Metadata) ([]byte, error) {
	return json.Marshal(meta)
}

func summarize(text string) string {
	const maxLen = 280
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + "…"
}
