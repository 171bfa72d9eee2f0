package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func noopHandler(_ context.Context, _ json.RawMessage) (Result, error) { return Result{}, nil }

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	r.Register(Tool{Spec: Spec{Name: "http_get", Description: "fetch a URL"}, Handler: noopHandler})

	tool, ok := r.Lookup("http_get")
	require.True(t, ok)
	require.Equal(t, Ident("http_get"), tool.Spec.Name)

	_, ok = r.Lookup("missing")
	require.False(t, ok)
}

func TestRegistryRegisterReplacesExisting(t *testing.T) {
	r := NewRegistry()
	r.Register(Tool{Spec: Spec{Name: "t", Description: "v1"}, Handler: noopHandler})
	r.Register(Tool{Spec: Spec{Name: "t", Description: "v2"}, Handler: noopHandler})

	tool, ok := r.Lookup("t")
	require.True(t, ok)
	require.Equal(t, "v2", tool.Spec.Description)
}

func TestRegistryAllIsSortedByName(t *testing.T) {
	r := NewRegistry()
	r.Register(Tool{Spec: Spec{Name: "zeta"}, Handler: noopHandler})
	r.Register(Tool{Spec: Spec{Name: "alpha"}, Handler: noopHandler})
	r.Register(Tool{Spec: Spec{Name: "mid"}, Handler: noopHandler})

	all := r.All()
	require.Len(t, all, 3)
	require.Equal(t, Ident("alpha"), all[0].Spec.Name)
	require.Equal(t, Ident("mid"), all[1].Spec.Name)
	require.Equal(t, Ident("zeta"), all[2].Spec.Name)
}

func TestMatchAllowlistGlobPrefix(t *testing.T) {
	require.True(t, MatchAllowlist("http_get", []string{"http_*"}))
	require.False(t, MatchAllowlist("ssh_exec", []string{"http_*"}))
	require.True(t, MatchAllowlist("anything", []string{"*"}))
}

func TestRegistryResolverMatchesNameAndDescription(t *testing.T) {
	r := NewRegistry()
	r.Register(Tool{Spec: Spec{Name: "http_get", Description: "fetch a URL over HTTP"}, Handler: noopHandler})
	r.Register(Tool{Spec: Spec{Name: "get_current_time", Description: "returns the current time"}, Handler: noopHandler})

	resolve := r.Resolver()
	require.Equal(t, []Ident{"http_get"}, resolve("HTTP"))
	require.Equal(t, []Ident{"get_current_time"}, resolve("current time"))
	require.Nil(t, resolve("   "))
	require.Nil(t, resolve("nonexistent"))
}

func TestRegistryFilterEmptyGlobsMatchesNothing(t *testing.T) {
	r := NewRegistry()
	r.Register(Tool{Spec: Spec{Name: "t"}, Handler: noopHandler})

	require.Empty(t, r.Filter(nil))
	require.Empty(t, r.Filter([]string{}))
	require.Len(t, r.Filter([]string{"*"}), 1)
}
