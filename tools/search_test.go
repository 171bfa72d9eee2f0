package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSearchToolsSpecGrowsBinderAndReportsAdded(t *testing.T) {
	r := newTestRegistry()
	b := NewBinder(r, nil).WithResolver(r.Resolver())
	tool := NewSearchToolsSpec(b)

	result, err := tool.Handler(context.Background(), []byte(`{"query":"current time"}`))
	require.NoError(t, err)
	require.True(t, b.Has("get_current_time"))

	var parsed searchToolsResult
	require.NoError(t, json.Unmarshal([]byte(result.Content), &parsed))
	require.Equal(t, []searchToolEntry{{Name: "get_current_time"}}, parsed.Tools)
}

func TestSearchToolsSpecRequiresQuery(t *testing.T) {
	r := newTestRegistry()
	b := NewBinder(r, nil).WithResolver(r.Resolver())
	tool := NewSearchToolsSpec(b)

	_, err := tool.Handler(context.Background(), []byte(`{}`))
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}
