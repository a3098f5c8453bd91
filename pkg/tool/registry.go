package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Spec is the materialised form of a tool for injection into the model's
// prompt-start event. The schema is serialised as a JSON string because that
// is how the model service expects it.
type Spec struct {
	Name        string
	Description string
	SchemaJSON  string
}

// Registry maps lower-cased tool names to tools. It is populated at startup
// and immutable afterwards from the dispatcher's point of view; Register is
// still guarded so late MCP imports are safe.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds t under its lower-cased name, replacing any previous tool
// with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[strings.ToLower(t.Name())] = t
}

// Get returns the tool registered under name (case-insensitive).
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	return t, nil
}

// Has reports whether a tool is registered under name (case-insensitive).
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[strings.ToLower(name)]
	return ok
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for _, t := range r.tools {
		names = append(names, t.Name())
	}
	sort.Strings(names)
	return names
}

// Specs materialises the tool catalogue, optionally filtered to the enabled
// set (case-insensitive; nil or empty means all). Schemas that fail to
// serialise fall back to an empty object schema rather than dropping the tool.
func (r *Registry) Specs(enabled []string) []Spec {
	var filter map[string]bool
	if len(enabled) > 0 {
		filter = make(map[string]bool, len(enabled))
		for _, n := range enabled {
			filter[strings.ToLower(n)] = true
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]Spec, 0, len(r.tools))
	for key, t := range r.tools {
		if filter != nil && !filter[key] {
			continue
		}
		schema := t.InputSchema()
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		data, err := json.Marshal(schema)
		if err != nil {
			data = []byte(`{"type":"object"}`)
		}
		specs = append(specs, Spec{
			Name:        t.Name(),
			Description: t.Description(),
			SchemaJSON:  string(data),
		})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Execute resolves name and runs the tool. A missing tool yields
// [ErrUnknownTool]; everything else is the tool's own result or error.
func (r *Registry) Execute(ctx context.Context, name string, params any, tc Context) (any, error) {
	t, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return t.Execute(ctx, params, tc)
}
