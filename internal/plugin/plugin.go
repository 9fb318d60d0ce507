// Package plugin is the registry of named agents that teams and the CLI
// can run.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/nidhogg/nora/internal/orchestrator"
)

// ErrInvalidMetadata is returned for agents missing a required field.
var ErrInvalidMetadata = errors.New("invalid agent metadata")

// Metadata describes an agent.
type Metadata struct {
	Name          string   `yaml:"name" json:"name"`
	Description   string   `yaml:"description" json:"description"`
	Version       string   `yaml:"version" json:"version"`
	Author        string   `yaml:"author,omitempty" json:"author,omitempty"`
	Capabilities  []string `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
	RequiresTools []string `yaml:"requires_tools,omitempty" json:"requires_tools,omitempty"`
}

// Validate checks the required fields.
func (m Metadata) Validate() error {
	switch {
	case m.Name == "":
		return fmt.Errorf("%w: missing name", ErrInvalidMetadata)
	case m.Description == "":
		return fmt.Errorf("%w: %s: missing description", ErrInvalidMetadata, m.Name)
	case m.Version == "":
		return fmt.Errorf("%w: %s: missing version", ErrInvalidMetadata, m.Name)
	}
	return nil
}

// Plugin is a registered agent.
type Plugin struct {
	Metadata
	Kind     string                `json:"kind"`   // legacy|lifecycle
	Source   string                `json:"source"` // builtin or the directory it was loaded from
	Runnable orchestrator.Runnable `json:"-"`
}

// Registry holds the loaded agents. All operations are thread-safe.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]*Plugin
	logger  *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{plugins: make(map[string]*Plugin), logger: logger}
}

// Register adds p, replacing any agent of the same name.
func (r *Registry) Register(p *Plugin) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if !p.Runnable.Valid() {
		return fmt.Errorf("%w: %s: no runnable", ErrInvalidMetadata, p.Name)
	}
	p.Kind = p.Runnable.Kind()

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.plugins[p.Name]; ok {
		r.logger.Warn("agent replaced",
			zap.String("name", p.Name),
			zap.String("old_source", old.Source),
			zap.String("new_source", p.Source))
	}
	r.plugins[p.Name] = p
	r.logger.Debug("agent registered", zap.String("name", p.Name), zap.String("kind", p.Kind))
	return nil
}

// Get returns the agent named name.
func (r *Registry) Get(name string) (*Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// Lookup resolves an agent reference from a team file.
func (r *Registry) Lookup(name string) (orchestrator.Runnable, bool) {
	p, ok := r.Get(name)
	if !ok {
		return orchestrator.Runnable{}, false
	}
	return p.Runnable, true
}

// List returns every agent sorted by name.
func (r *Registry) List() []*Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Plugin, 0, len(r.plugins))
	for _, p := range r.plugins {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Run executes a single agent outside a team. shared may be nil.
func (r *Registry) Run(ctx context.Context, sched *orchestrator.Scheduler, name, model string, shared *orchestrator.SharedContext) (*orchestrator.Outcome, error) {
	p, ok := r.Get(name)
	if !ok {
		return nil, &orchestrator.ConfigurationError{Task: name, Msg: "agent not found"}
	}
	if shared == nil {
		shared = orchestrator.NewSharedContext(nil)
	}
	task := orchestrator.NewTask(p.Name, p.Runnable, model)
	results := sched.RunSequential(ctx, []*orchestrator.Task{task}, shared)
	return results[p.Name], nil
}
