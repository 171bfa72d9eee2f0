package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nullstackai/conductor/model"
)

func userSeg(text string, extra ...model.Message) []model.Message {
	return append([]model.Message{*model.NewText(model.RoleUser, text)}, extra...)
}

func TestPendingToolUsesReturnsUnansweredCalls(t *testing.T) {
	assistant := model.Message{Role: model.RoleAssistant, Parts: []model.Part{
		model.ToolUsePart{ID: "a", Name: "t1"},
		model.ToolUsePart{ID: "b", Name: "t2"},
	}}
	messages := []model.Message{*model.NewText(model.RoleUser, "hi"), assistant}

	pending := pendingToolUses(messages)
	require.Len(t, pending, 2)
}

func TestPendingToolUsesExcludesAnsweredCalls(t *testing.T) {
	assistant := model.Message{Role: model.RoleAssistant, Parts: []model.Part{
		model.ToolUsePart{ID: "a", Name: "t1"},
		model.ToolUsePart{ID: "b", Name: "t2"},
	}}
	messages := []model.Message{
		*model.NewText(model.RoleUser, "hi"),
		assistant,
		*model.NewToolResult("a", "done", false),
	}

	pending := pendingToolUses(messages)
	require.Len(t, pending, 1)
	require.Equal(t, "b", pending[0].ID)
}

func TestPendingToolUsesNilWhenLastMessageIsNotAssistant(t *testing.T) {
	messages := []model.Message{*model.NewText(model.RoleUser, "hi")}
	require.Nil(t, pendingToolUses(messages))
}

func TestPendingToolUsesNilWhenNoMessages(t *testing.T) {
	require.Nil(t, pendingToolUses(nil))
}

func TestTrimMessagesDisabledWhenBothBoundsZero(t *testing.T) {
	messages := []model.Message{*model.NewText(model.RoleUser, "hi")}
	require.Equal(t, messages, trimMessages(messages, 0, 0))
}

func TestTrimMessagesKeepsSystemMessagesAlways(t *testing.T) {
	system := *model.NewText(model.RoleSystem, "sys")
	messages := []model.Message{system}
	messages = append(messages, userSeg("turn1")...)
	messages = append(messages, userSeg("turn2")...)
	messages = append(messages, userSeg("turn3")...)

	out := trimMessages(messages, 1, 0)
	require.Equal(t, model.RoleSystem, out[0].Role)
	require.Equal(t, "turn3", out[len(out)-1].Text())
}

func TestTrimMessagesDropsOldestUserTurnsFirst(t *testing.T) {
	var messages []model.Message
	messages = append(messages, userSeg("turn1")...)
	messages = append(messages, userSeg("turn2")...)
	messages = append(messages, userSeg("turn3")...)

	out := trimMessages(messages, 2, 0)
	require.Len(t, out, 2)
	require.Equal(t, "turn2", out[0].Text())
	require.Equal(t, "turn3", out[1].Text())
}

func TestTrimMessagesAlwaysKeepsMostRecentSegment(t *testing.T) {
	var messages []model.Message
	messages = append(messages, userSeg(string(make([]byte, 1000)))...)

	out := trimMessages(messages, 0, 1)
	require.Len(t, out, 1)
}

func TestTrimMessagesDropsOldestSegmentsToSatisfyCharBudget(t *testing.T) {
	var messages []model.Message
	messages = append(messages, userSeg("aaaaaaaaaa")...)
	messages = append(messages, userSeg("bb")...)

	out := trimMessages(messages, 0, 5)
	require.Len(t, out, 1)
	require.Equal(t, "bb", out[0].Text())
}
