// Package tools implements the tool registry and resolver (spec.md §4,
// component "Tool registry & resolver"): mapping names to handlers, filtering
// by allowlist, and lazy-loading additional tools into a per-run binder when
// the model calls search_tools.
package tools

import (
	"context"
	"encoding/json"
)

// Ident is a tool identifier, e.g. "get_current_time" or "spawn_worker".
type Ident string

// Spec describes a tool's metadata and JSON schema.
type Spec struct {
	Name        Ident
	Description string
	// PayloadSchema is the JSON Schema for tool call arguments, validated
	// at the tool boundary before dispatch (see Validate).
	PayloadSchema []byte
	Tags          []string
}

// Result is what a Handler returns. Structured results are JSON-encoded by
// the caller before being wrapped in a tool-result message; Summary, when
// set, is what gets injected verbatim into the conversation in place of the
// full Content (used by worker results, spec.md §4.5).
type Result struct {
	Content string
	Summary string
}

// Handler executes a single tool invocation.
type Handler func(ctx context.Context, args json.RawMessage) (Result, error)

// Tool binds a Spec to its Handler.
type Tool struct {
	Spec    Spec
	Handler Handler
}
