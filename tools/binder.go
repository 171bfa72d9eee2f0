package tools

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/nullstackai/conductor/model"
)

// MaxToolsPerSearch bounds how many tool names a single search_tools result
// may introduce into a binder in one call (spec.md §4.1).
const MaxToolsPerSearch = 8

// Binder holds the subset of tools bound to a single engine invocation. It
// starts from an agent's static allowlist and can grow when the model calls
// search_tools and the engine loads additional tools mid-run. The engine
// rebinds the model's tool list from this binder before every model call
// (spec.md §4.1 "Tool-search rebinding").
type Binder struct {
	mu       sync.RWMutex
	registry *Registry
	bound    map[Ident]struct{}
	// resolver, when non-nil, allows growing the bound set by resolving
	// additional tool names discovered via search_tools (lazy loading).
	// Registries with no resolver only ever expose the initial allowlist.
	resolver func(query string) []Ident
}

// NewBinder builds a Binder seeded with every tool matching globs.
func NewBinder(reg *Registry, globs []string) *Binder {
	b := &Binder{registry: reg, bound: map[Ident]struct{}{}}
	for _, t := range reg.Filter(globs) {
		b.bound[t.Spec.Name] = struct{}{}
	}
	return b
}

// WithResolver attaches a search_tools resolver (name -> candidate idents)
// used by Search to grow the bound set.
func (b *Binder) WithResolver(resolver func(query string) []Ident) *Binder {
	b.resolver = resolver
	return b
}

// Tools returns the currently bound tools, sorted by name.
func (b *Binder) Tools() []Tool {
	b.mu.RLock()
	names := make([]Ident, 0, len(b.bound))
	for n := range b.bound {
		names = append(names, n)
	}
	b.mu.RUnlock()
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	out := make([]Tool, 0, len(names))
	for _, n := range names {
		if t, ok := b.registry.Lookup(n); ok {
			out = append(out, t)
		}
	}
	return out
}

// Definitions renders the bound tool set as model.ToolDefinition, the shape
// a model.Request.Tools needs.
func (b *Binder) Definitions() []*model.ToolDefinition {
	tools := b.Tools()
	out := make([]*model.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		var schema any
		if len(t.Spec.PayloadSchema) > 0 {
			_ = json.Unmarshal(t.Spec.PayloadSchema, &schema)
		}
		out = append(out, &model.ToolDefinition{
			Name:        string(t.Spec.Name),
			Description: t.Spec.Description,
			InputSchema: schema,
		})
	}
	return out
}

// Lookup returns the tool for name if it is currently bound. Unlike
// Registry.Lookup, an unbound tool is never returned even if it is
// registered - callers must go through Search (or the initial allowlist)
// to bind it first.
func (b *Binder) Lookup(name Ident) (Tool, bool) {
	if !b.Has(name) {
		return Tool{}, false
	}
	return b.registry.Lookup(name)
}

// HasResolver reports whether this binder can grow via Search.
func (b *Binder) HasResolver() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.resolver != nil
}

// Has reports whether name is currently bound.
func (b *Binder) Has(name Ident) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.bound[name]
	return ok
}

// Search resolves query via the configured resolver and adds up to
// MaxToolsPerSearch newly-discovered tool names to the bound set. It returns
// the names that were newly added (already-bound names are not re-added).
// Search is a no-op, returning nil, when no resolver is configured.
func (b *Binder) Search(query string) []Ident {
	if b.resolver == nil {
		return nil
	}
	candidates := b.resolver(query)
	if len(candidates) > MaxToolsPerSearch {
		candidates = candidates[:MaxToolsPerSearch]
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	var added []Ident
	for _, c := range candidates {
		if _, ok := b.registry.Lookup(c); !ok {
			continue
		}
		if _, already := b.bound[c]; already {
			continue
		}
		b.bound[c] = struct{}{}
		added = append(added, c)
	}
	return added
}
