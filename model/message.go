// Package model defines the provider-agnostic message and tool-call types
// shared by the ReAct engine, the tool registry, and model client adapters.
// Messages are modeled as typed parts (text, thinking, tool use/result)
// rather than flattened strings so the engine can reason about structure
// (e.g. locating the tool-use part that a tool-result part answers).
package model

import (
	"encoding/json"
)

// ConversationRole identifies the speaker for a Message.
type ConversationRole string

const (
	RoleSystem    ConversationRole = "system"
	RoleUser      ConversationRole = "user"
	RoleAssistant ConversationRole = "assistant"
	RoleTool      ConversationRole = "tool"
)

// Part is implemented by every message content block.
type Part interface {
	isPart()
}

type (
	// TextPart is plain text content.
	TextPart struct {
		Text string
	}

	// ThinkingPart carries provider-issued reasoning content. Treated as
	// opaque by the engine; surfaced to UIs according to policy.
	ThinkingPart struct {
		Text      string
		Signature string
		Final     bool
	}

	// ToolUsePart declares a tool invocation requested by the assistant.
	ToolUsePart struct {
		// ID is the provider/engine-assigned tool call identifier, unique
		// within the run. This is the toolCallId referenced throughout
		// spec.md's data model.
		ID   string
		Name string
		// Input is the canonical JSON arguments supplied by the model.
		Input json.RawMessage
	}

	// ToolResultPart carries the result of a tool invocation, correlated to
	// the ToolUsePart.ID that requested it.
	ToolResultPart struct {
		ToolUseID string
		Content   string
		IsError   bool
	}

	// CacheCheckpointPart marks a cache boundary in a message. Provider
	// adapters translate this to provider-specific caching directives;
	// providers that don't support caching ignore it. Context trimming
	// (engine.trimMessages) must never split a checkpoint from the segment
	// it terminates.
	CacheCheckpointPart struct{}
)

func (TextPart) isPart()            {}
func (ThinkingPart) isPart()        {}
func (ToolUsePart) isPart()         {}
func (ToolResultPart) isPart()      {}
func (CacheCheckpointPart) isPart() {}

// Message is a single message in a thread's transcript.
//
// Ordering is by monotonic store-assigned insertion ID (see store.Message),
// never by timestamp - Message itself carries no timestamp for this reason.
type Message struct {
	// ID is the store-assigned message ID once persisted. Zero before
	// persistence.
	ID int64
	// ThreadID is the owning thread.
	ThreadID string
	Role     ConversationRole
	Parts    []Part
	// Processed reports whether the engine has consumed this message.
	Processed bool
	// Internal messages are excluded from user-visible history but
	// included in LLM context (e.g. inbox context, empty-response
	// reminders).
	Internal bool
	// Meta carries free-form provider/application metadata.
	Meta map[string]any
}

// Text returns the concatenated text of all TextPart content in the
// message, ignoring other part kinds. Convenience for callers that only
// care about the final textual answer.
func (m *Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if tp, ok := p.(TextPart); ok {
			out += tp.Text
		}
	}
	return out
}

// ToolUses returns every ToolUsePart in the message, in order.
func (m *Message) ToolUses() []ToolUsePart {
	var out []ToolUsePart
	for _, p := range m.Parts {
		if tu, ok := p.(ToolUsePart); ok {
			out = append(out, tu)
		}
	}
	return out
}

// IsEmpty reports whether the message has no tool calls and no non-blank
// text/thinking content - the condition the engine's empty-response
// recovery path (spec.md §4.1) watches for.
func (m *Message) IsEmpty() bool {
	if len(m.ToolUses()) > 0 {
		return false
	}
	for _, p := range m.Parts {
		switch v := p.(type) {
		case TextPart:
			if v.Text != "" {
				return false
			}
		case ThinkingPart:
			if v.Text != "" {
				return false
			}
		}
	}
	return true
}

// NewText builds a single-part text message.
func NewText(role ConversationRole, text string) *Message {
	return &Message{Role: role, Parts: []Part{TextPart{Text: text}}}
}

// NewToolResult builds a tool-role message answering a prior tool use.
func NewToolResult(toolUseID, content string, isError bool) *Message {
	return &Message{
		Role:  RoleTool,
		Parts: []Part{ToolResultPart{ToolUseID: toolUseID, Content: content, IsError: isError}},
	}
}
