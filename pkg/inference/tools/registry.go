package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// NoToolsAvailable is what DescribeAll returns for an empty registry.
const NoToolsAvailable = "No tools available."

// Registry maps tool names to tools, preserving registration order.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool. Registering an existing name overwrites the previous tool in place
// (keeping its position) and logs a warning; replaced reports whether that happened.
func (r *Registry) Register(tool Tool) (replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.tools == nil {
		r.tools = make(map[string]Tool)
	}

	name := tool.Name()
	if _, exists := r.tools[name]; exists {
		log.Warn().Str("tool", name).Msg("tools: overwriting already registered tool")
		replaced = true
	} else {
		r.order = append(r.order, name)
	}
	r.tools[name] = tool
	log.Debug().Str("tool", name).Bool("replaced", replaced).Msg("tools: registered tool")
	return replaced
}

// RegisterFunc registers a plain function taking the argument mapping.
func (r *Registry) RegisterFunc(name, description string, fn func(ctx context.Context, args Arguments) (string, error)) bool {
	return r.Register(&simpleTool{name: name, description: description, fn: fn})
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	return t, ok
}

// List returns the registered tools in registration order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]string(nil), r.order...)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.order)
}

// DescribeAll renders one "name: description" line per tool, in registration order.
func (r *Registry) DescribeAll() string {
	tools := r.List()
	if len(tools) == 0 {
		return NoToolsAvailable
	}
	lines := make([]string, 0, len(tools))
	for _, t := range tools {
		lines = append(lines, fmt.Sprintf("%s: %s", t.Name(), t.Description()))
	}
	return strings.Join(lines, "\n")
}

// PositionalParameter resolves which parameter receives a bare argument string for the named
// tool: the tool's own declaration, else the single property of its schema, else "input".
func (r *Registry) PositionalParameter(toolName string) string {
	t, ok := r.Lookup(toolName)
	if !ok {
		return DefaultPositionalParameter
	}
	if pt, ok := t.(PositionalTool); ok {
		if p := pt.PositionalParameter(); p != "" {
			return p
		}
	}
	if sp, ok := t.(SchemaProvider); ok {
		if names := schemaPropertyNames(sp.Schema()); len(names) == 1 {
			return names[0]
		}
	}
	return DefaultPositionalParameter
}

type simpleTool struct {
	name        string
	description string
	fn          func(ctx context.Context, args Arguments) (string, error)
}

func (s *simpleTool) Name() string        { return s.name }
func (s *simpleTool) Description() string { return s.description }

func (s *simpleTool) Invoke(ctx context.Context, args Arguments) (string, error) {
	return s.fn(ctx, args)
}
