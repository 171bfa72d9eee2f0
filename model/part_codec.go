package model

import "fmt"

// partKind tags an encoded Part for round-tripping through a store that
// cannot itself express a Go sum type (JSON documents, BSON documents).
type partKind string

const (
	partKindText            partKind = "text"
	partKindThinking        partKind = "thinking"
	partKindToolUse         partKind = "tool_use"
	partKindToolResult      partKind = "tool_result"
	partKindCacheCheckpoint partKind = "cache_checkpoint"
)

// EncodedPart is the wire/storage representation of a Part: a kind tag plus
// its fields flattened into a generic map, suitable for json.Marshal or
// bson encoding.
type EncodedPart map[string]any

// EncodeParts converts Parts to their storage representation.
func EncodeParts(parts []Part) ([]EncodedPart, error) {
	out := make([]EncodedPart, 0, len(parts))
	for _, p := range parts {
		e, err := EncodePart(p)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// EncodePart converts a single Part to its storage representation.
func EncodePart(p Part) (EncodedPart, error) {
	switch v := p.(type) {
	case TextPart:
		return EncodedPart{"kind": partKindText, "text": v.Text}, nil
	case ThinkingPart:
		return EncodedPart{"kind": partKindThinking, "text": v.Text, "signature": v.Signature, "final": v.Final}, nil
	case ToolUsePart:
		return EncodedPart{"kind": partKindToolUse, "id": v.ID, "name": v.Name, "input": v.Input}, nil
	case ToolResultPart:
		return EncodedPart{"kind": partKindToolResult, "tool_use_id": v.ToolUseID, "content": v.Content, "is_error": v.IsError}, nil
	case CacheCheckpointPart:
		return EncodedPart{"kind": partKindCacheCheckpoint}, nil
	default:
		return nil, fmt.Errorf("model: unknown part type %T", p)
	}
}

// DecodeParts reverses EncodeParts.
func DecodeParts(encoded []EncodedPart) ([]Part, error) {
	out := make([]Part, 0, len(encoded))
	for _, e := range encoded {
		p, err := DecodePart(e)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// DecodePart reverses EncodePart.
func DecodePart(e EncodedPart) (Part, error) {
	kind, _ := e["kind"].(string)
	switch partKind(kind) {
	case partKindText:
		return TextPart{Text: asString(e["text"])}, nil
	case partKindThinking:
		return ThinkingPart{Text: asString(e["text"]), Signature: asString(e["signature"]), Final: asBool(e["final"])}, nil
	case partKindToolUse:
		return ToolUsePart{ID: asString(e["id"]), Name: asString(e["name"]), Input: asRawJSON(e["input"])}, nil
	case partKindToolResult:
		return ToolResultPart{ToolUseID: asString(e["tool_use_id"]), Content: asString(e["content"]), IsError: asBool(e["is_error"])}, nil
	case partKindCacheCheckpoint:
		return CacheCheckpointPart{}, nil
	default:
		return nil, fmt.Errorf("model: unknown encoded part kind %q", kind)
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asRawJSON(v any) []byte {
	switch t := v.(type) {
	case []byte:
		return t
	case string:
		return []byte(t)
	default:
		return nil
	}
}
