package engine

import "github.com/nullstackai/conductor/model"

// pendingToolUses implements spec.md §4.1 "Resume detection": if the last
// message is an assistant message with tool calls and some of them have no
// corresponding tool-response message yet, those are returned (in request
// order) so the caller executes them before making any model call. Returns
// nil when there is nothing pending.
func pendingToolUses(messages []model.Message) []model.ToolUsePart {
	if len(messages) == 0 {
		return nil
	}
	last := messages[len(messages)-1]
	if last.Role != model.RoleAssistant {
		return nil
	}
	uses := last.ToolUses()
	if len(uses) == 0 {
		return nil
	}

	responded := make(map[string]struct{})
	for _, m := range messages {
		if m.Role != model.RoleTool {
			continue
		}
		for _, p := range m.Parts {
			if tr, ok := p.(model.ToolResultPart); ok {
				responded[tr.ToolUseID] = struct{}{}
			}
		}
	}

	var pending []model.ToolUsePart
	for _, u := range uses {
		if _, ok := responded[u.ID]; !ok {
			pending = append(pending, u)
		}
	}
	return pending
}

// trimMessages implements spec.md §4.1 "Context trimming (deterministic)":
// system messages are never trimmed; the remainder is split into user-turn
// segments (a user message plus everything up to the next user message) and
// the oldest segments are dropped, first to satisfy maxUserTurns then to
// satisfy maxChars, always keeping at least the most recent segment. Either
// bound being <= 0 disables that axis.
func trimMessages(messages []model.Message, maxUserTurns, maxChars int) []model.Message {
	if maxUserTurns <= 0 && maxChars <= 0 {
		return messages
	}

	systemMsgs, segments := splitSegments(messages)

	if maxUserTurns > 0 {
		userSegments := 0
		for _, seg := range segments {
			if isUserSegment(seg) {
				userSegments++
			}
		}
		for userSegments > maxUserTurns && len(segments) > 1 {
			dropped := segments[0]
			segments = segments[1:]
			if isUserSegment(dropped) {
				userSegments--
			}
		}
	}

	if maxChars > 0 {
		total := totalChars(systemMsgs, segments)
		for total > maxChars && len(segments) > 1 {
			segments = segments[1:]
			total = totalChars(systemMsgs, segments)
		}
	}

	out := make([]model.Message, 0, len(systemMsgs)+segmentLen(segments))
	out = append(out, systemMsgs...)
	for _, seg := range segments {
		out = append(out, seg...)
	}
	return out
}

// splitSegments separates leading system messages from the rest, then
// groups the rest into segments that each start at a user message (a
// leading run of non-user messages before the first user message, if any,
// forms its own segment so nothing is silently dropped).
func splitSegments(messages []model.Message) ([]model.Message, [][]model.Message) {
	idx := 0
	for idx < len(messages) && messages[idx].Role == model.RoleSystem {
		idx++
	}
	systemMsgs := messages[:idx]

	var segments [][]model.Message
	var current []model.Message
	for _, m := range messages[idx:] {
		if m.Role == model.RoleUser {
			if len(current) > 0 {
				segments = append(segments, current)
			}
			current = []model.Message{m}
			continue
		}
		current = append(current, m)
	}
	if len(current) > 0 {
		segments = append(segments, current)
	}
	return systemMsgs, segments
}

func isUserSegment(seg []model.Message) bool {
	return len(seg) > 0 && seg[0].Role == model.RoleUser
}

func totalChars(systemMsgs []model.Message, segments [][]model.Message) int {
	total := 0
	for _, m := range systemMsgs {
		total += messageCharLen(m)
	}
	for _, seg := range segments {
		for _, m := range seg {
			total += messageCharLen(m)
		}
	}
	return total
}

func segmentLen(segments [][]model.Message) int {
	n := 0
	for _, seg := range segments {
		n += len(seg)
	}
	return n
}

// messageCharLen estimates a message's contribution to the char budget:
// visible text content only (text and thinking parts), matching the
// original implementation's content-budgeting which ignored structural
// tool-call/tool-result payload size.
func messageCharLen(m model.Message) int {
	total := 0
	for _, p := range m.Parts {
		switch v := p.(type) {
		case model.TextPart:
			total += len(v.Text)
		case model.ThinkingPart:
			total += len(v.Text)
		}
	}
	return total
}
