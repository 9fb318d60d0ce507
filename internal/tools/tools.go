// Package tools holds the tool registry handed to lifecycle agents.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/nidhogg/nora/internal/provider"
)

// Handler executes a tool call and returns the result as a string.
type Handler func(ctx context.Context, args string) (string, error)

// Registry holds available tools and their handlers.
type Registry struct {
	mu       sync.RWMutex
	defs     map[string]provider.Tool
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		defs:     make(map[string]provider.Tool),
		handlers: make(map[string]Handler),
	}
}

// Register adds a tool definition and its handler, replacing any tool of
// the same name.
func (r *Registry) Register(def provider.Tool, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Function.Name] = def
	r.handlers[def.Function.Name] = handler
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns all tool definitions for a model request.
func (r *Registry) Definitions() []provider.Tool {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]provider.Tool, len(names))
	for i, n := range names {
		out[i] = r.defs[n]
	}
	return out
}

// Execute runs a tool by name with the given JSON arguments.
func (r *Registry) Execute(ctx context.Context, name, args string) (string, error) {
	r.mu.RLock()
	h, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	return h(ctx, args)
}

// Describe renders the named tools as a prompt section. Unknown names are
// skipped; no names means every tool.
func (r *Registry) Describe(names ...string) string {
	if len(names) == 0 {
		names = r.Names()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var b strings.Builder
	for _, n := range names {
		def, ok := r.defs[n]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", n, def.Function.Description)
	}
	if b.Len() == 0 {
		return ""
	}
	return "## Available Tools\n" + b.String()
}
