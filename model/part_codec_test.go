package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodePartRoundTrip(t *testing.T) {
	cases := []Part{
		TextPart{Text: "hello"},
		ThinkingPart{Text: "reasoning", Signature: "sig", Final: true},
		ToolUsePart{ID: "call-1", Name: "lookup", Input: []byte(`{"q":"x"}`)},
		ToolResultPart{ToolUseID: "call-1", Content: "result", IsError: false},
		CacheCheckpointPart{},
	}
	for _, p := range cases {
		encoded, err := EncodePart(p)
		require.NoError(t, err)
		decoded, err := DecodePart(encoded)
		require.NoError(t, err)
		require.Equal(t, p, decoded)
	}
}

func TestEncodePartsPreservesOrder(t *testing.T) {
	parts := []Part{TextPart{Text: "a"}, TextPart{Text: "b"}}
	encoded, err := EncodeParts(parts)
	require.NoError(t, err)
	require.Len(t, encoded, 2)
	require.Equal(t, "a", encoded[0]["text"])
	require.Equal(t, "b", encoded[1]["text"])

	decoded, err := DecodeParts(encoded)
	require.NoError(t, err)
	require.Equal(t, parts, decoded)
}

func TestEncodePartRejectsUnknownType(t *testing.T) {
	_, err := EncodePart(nil)
	require.Error(t, err)
}

func TestDecodePartRejectsUnknownKind(t *testing.T) {
	_, err := DecodePart(EncodedPart{"kind": "bogus"})
	require.Error(t, err)
}
