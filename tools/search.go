package tools

import (
	"context"
	"encoding/json"
)

// SearchToolsName is the reserved tool name the engine special-cases for
// lazy tool discovery (spec.md §4.1 "Tool-search rebinding"). Like
// spawn_worker, it is never satisfied by a registry-looked-up Handler: its
// Handler closes over the specific Binder instance it augments, so calling
// it both resolves and binds candidate tools in one step.
const SearchToolsName Ident = "search_tools"

// SearchToolsPayloadSchema is the JSON Schema for search_tools arguments.
var SearchToolsPayloadSchema = []byte(`{
  "type": "object",
  "properties": {"query": {"type": "string", "description": "What capability you need a tool for"}},
  "required": ["query"]
}`)

type searchToolsArgs struct {
	Query string `json:"query"`
}

type searchToolEntry struct {
	Name string `json:"name"`
}

type searchToolsResult struct {
	Tools []searchToolEntry `json:"tools"`
}

// NewSearchToolsSpec builds the search_tools tool bound to binder. The
// engine includes this definition in the model's tool list whenever
// binder.HasResolver() is true, and dispatches calls to it the same way
// regardless of whether "search_tools" itself was ever added to the
// binder's initial allowlist.
func NewSearchToolsSpec(binder *Binder) Tool {
	return Tool{
		Spec: Spec{
			Name:          SearchToolsName,
			Description:   "Search for additional tools by capability. Matching tools become callable on your next turn.",
			PayloadSchema: SearchToolsPayloadSchema,
		},
		Handler: func(_ context.Context, raw json.RawMessage) (Result, error) {
			var args searchToolsArgs
			if err := json.Unmarshal(raw, &args); err != nil || args.Query == "" {
				return Result{}, &ValidationError{Tool: SearchToolsName, Message: "query is required"}
			}
			added := binder.Search(args.Query)
			entries := make([]searchToolEntry, len(added))
			for i, n := range added {
				entries[i] = searchToolEntry{Name: string(n)}
			}
			payload, err := json.Marshal(searchToolsResult{Tools: entries})
			if err != nil {
				return Result{}, err
			}
			return Result{Content: string(payload)}, nil
		},
	}
}
