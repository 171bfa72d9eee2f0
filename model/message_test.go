package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageTextConcatenatesOnlyTextParts(t *testing.T) {
	m := &Message{Parts: []Part{
		TextPart{Text: "hello "},
		ThinkingPart{Text: "ignored"},
		TextPart{Text: "world"},
	}}
	require.Equal(t, "hello world", m.Text())
}

func TestMessageToolUsesReturnsInOrder(t *testing.T) {
	m := &Message{Parts: []Part{
		TextPart{Text: "intro"},
		ToolUsePart{ID: "call-1", Name: "first"},
		ToolUsePart{ID: "call-2", Name: "second"},
	}}
	uses := m.ToolUses()
	require.Len(t, uses, 2)
	require.Equal(t, "call-1", uses[0].ID)
	require.Equal(t, "call-2", uses[1].ID)
}

func TestMessageIsEmpty(t *testing.T) {
	cases := []struct {
		name  string
		parts []Part
		want  bool
	}{
		{name: "no parts", parts: nil, want: true},
		{name: "blank text", parts: []Part{TextPart{Text: ""}}, want: true},
		{name: "blank thinking", parts: []Part{ThinkingPart{Text: ""}}, want: true},
		{name: "non-blank text", parts: []Part{TextPart{Text: "hi"}}, want: false},
		{name: "tool use present", parts: []Part{ToolUsePart{ID: "c1"}}, want: false},
		{name: "checkpoint only", parts: []Part{CacheCheckpointPart{}}, want: true},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			m := &Message{Parts: tt.parts}
			require.Equal(t, tt.want, m.IsEmpty())
		})
	}
}

func TestNewTextBuildsSinglePartMessage(t *testing.T) {
	m := NewText(RoleUser, "hi there")
	require.Equal(t, RoleUser, m.Role)
	require.Equal(t, "hi there", m.Text())
}

func TestNewToolResult(t *testing.T) {
	m := NewToolResult("call-1", "output", true)
	require.Equal(t, RoleTool, m.Role)
	require.Len(t, m.Parts, 1)
	rp, ok := m.Parts[0].(ToolResultPart)
	require.True(t, ok)
	require.Equal(t, "call-1", rp.ToolUseID)
	require.True(t, rp.IsError)
}
