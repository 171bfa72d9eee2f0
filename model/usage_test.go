package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenUsageAdd(t *testing.T) {
	a := TokenUsage{InputTokens: 1, OutputTokens: 2, TotalTokens: 3, ReasoningTokens: 1}
	b := TokenUsage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30, ReasoningTokens: 2}
	sum := a.Add(b)
	require.Equal(t, TokenUsage{InputTokens: 11, OutputTokens: 22, TotalTokens: 33, ReasoningTokens: 3}, sum)
}

func TestUsageAccumulatorStartsUnset(t *testing.T) {
	var acc UsageAccumulator
	_, ok := acc.Total()
	require.False(t, ok, "no usage was ever reported must serialize as absent, not a zero value")
}

func TestUsageAccumulatorAccumulatesAcrossTurns(t *testing.T) {
	var acc UsageAccumulator
	acc.Add(TokenUsage{InputTokens: 5, TotalTokens: 5})
	acc.Add(TokenUsage{InputTokens: 3, TotalTokens: 3})

	total, ok := acc.Total()
	require.True(t, ok)
	require.Equal(t, 8, total.InputTokens)
	require.Equal(t, 8, total.TotalTokens)
}

func TestUsageAccumulatorNilReceiverIsSafe(t *testing.T) {
	var acc *UsageAccumulator
	_, ok := acc.Total()
	require.False(t, ok)
}
