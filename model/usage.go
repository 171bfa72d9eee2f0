package model

// TokenUsage tracks token counts for a single model call.
type TokenUsage struct {
	InputTokens     int
	OutputTokens    int
	TotalTokens     int
	ReasoningTokens int
}

// Add returns the element-wise sum of u and other.
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		InputTokens:     u.InputTokens + other.InputTokens,
		OutputTokens:    u.OutputTokens + other.OutputTokens,
		TotalTokens:     u.TotalTokens + other.TotalTokens,
		ReasoningTokens: u.ReasoningTokens + other.ReasoningTokens,
	}
}

// UsageAccumulator accumulates token usage across the turns of a single
// engine invocation.
//
// It starts unset (nil accumulated value): spec.md §4.1 requires that "no
// usage was ever reported" serialize as absent, not a zero TokenUsage, while
// still preserving an explicit zero once any response does report usage.
// This is the Go-idiomatic replacement for a run-scoped contextvar per the
// REDESIGN FLAGS - the accumulator lives on the engine invocation, not in
// ambient global/context state.
type UsageAccumulator struct {
	total *TokenUsage
}

// Add folds u into the accumulator, setting it if previously unset.
func (a *UsageAccumulator) Add(u TokenUsage) {
	if a.total == nil {
		sum := u
		a.total = &sum
		return
	}
	sum := a.total.Add(u)
	a.total = &sum
}

// Total returns the accumulated usage and whether any usage was ever
// recorded. When ok is false, callers must omit usage from serialized
// output rather than emitting a zero value.
func (a *UsageAccumulator) Total() (usage TokenUsage, ok bool) {
	if a == nil || a.total == nil {
		return TokenUsage{}, false
	}
	return *a.total, true
}
