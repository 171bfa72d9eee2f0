package model

import (
	"context"
	"errors"
)

// ModelClass selects a model family when Request.Model is unset; provider
// adapters map classes to concrete model identifiers (e.g. reasoning-effort
// tiers).
type ModelClass string

const (
	ModelClassDefault       ModelClass = "default"
	ModelClassHighReasoning ModelClass = "high-reasoning"
	ModelClassSmall         ModelClass = "small"
)

// ToolDefinition describes a tool exposed to the model for a single request.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema any
}

// ToolChoiceMode controls how the model is asked to use tools.
type ToolChoiceMode string

const (
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceRequired ToolChoiceMode = "required"
	ToolChoiceTool     ToolChoiceMode = "tool"
)

// ToolChoice configures optional tool-use constraints for a Request. The
// engine's empty-response recovery path (spec.md §4.1) sets Mode to
// ToolChoiceRequired on the forced retry.
type ToolChoice struct {
	Mode ToolChoiceMode
	Name string
}

// ThinkingOptions configures provider reasoning behavior, driven by the
// agent's configured reasoning-effort level.
type ThinkingOptions struct {
	Enable       bool
	BudgetTokens int
}

// Request captures a single model invocation.
type Request struct {
	RunID      string
	Model      string
	ModelClass ModelClass

	Messages []*Message

	Tools      []*ToolDefinition
	ToolChoice *ToolChoice

	Temperature float32
	MaxTokens   int
	Thinking    *ThinkingOptions
}

// Response is the result of a non-streaming model invocation.
type Response struct {
	// Message is the assistant message produced by the call (text, thinking,
	// and/or tool-use parts).
	Message *Message
	Usage   TokenUsage
	// StopReason records why generation stopped (provider-specific, used
	// only for diagnostics).
	StopReason string
}

// Client is the provider-agnostic model client the ReAct engine calls.
type Client interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// ErrRateLimited indicates the provider rejected the request due to rate
// limiting. Adapters wrap their provider-specific rate-limit error with
// this sentinel so callers (e.g. modelclient's rate limiter) can detect it
// via errors.Is without depending on any one provider's SDK error types.
// The engine does not retry rate-limited calls.
var ErrRateLimited = errors.New("model: rate limited")
