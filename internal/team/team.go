// Package team loads declarative team descriptors and turns them into
// scheduler plans.
package team

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nidhogg/nora/internal/orchestrator"
)

// ErrValidation marks a descriptor that is missing required fields or
// names an unknown mode.
var ErrValidation = errors.New("invalid team config")

// ValidationError wraps descriptor validation failures.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s: %s", ErrValidation.Error(), e.Field, e.Msg)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Config is a parsed team descriptor.
type Config struct {
	Name   string  `yaml:"name" json:"name"`
	Mode   string  `yaml:"mode" json:"mode"`
	Model  string  `yaml:"model,omitempty" json:"model,omitempty"`
	Agents []Entry `yaml:"agents" json:"agents"`
}

// Entry is one agent in a team.
type Entry struct {
	Agent     string         `yaml:"agent" json:"agent"`
	Name      string         `yaml:"name,omitempty" json:"name,omitempty"`
	DependsOn []string       `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	Config    map[string]any `yaml:"config,omitempty" json:"config,omitempty"`
}

// TaskName is the entry's identity within the team: the name override, or
// the agent reference.
func (e Entry) TaskName() string {
	if e.Name != "" {
		return e.Name
	}
	return e.Agent
}

// Load reads and validates the descriptor at path.
func Load(path string) (*Config, error) {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read team config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("team config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates a YAML descriptor. Dependency references and
// acyclicity are not checked here; the scheduler reports stalls at run time.
func Parse(data []byte) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ValidationError{Field: "yaml", Msg: err.Error()}
	}
	for _, field := range []string{"name", "mode", "agents"} {
		if v, ok := raw[field]; !ok || v == nil {
			return nil, &ValidationError{Field: field, Msg: "required field missing"}
		}
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ValidationError{Field: "yaml", Msg: err.Error()}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and the mode.
func (c *Config) Validate() error {
	if c.Name == "" {
		return &ValidationError{Field: "name", Msg: "required field missing"}
	}
	if _, err := orchestrator.ParseMode(c.Mode); err != nil {
		return &ValidationError{Field: "mode", Msg: err.Error()}
	}
	if c.Agents == nil {
		return &ValidationError{Field: "agents", Msg: "required field missing"}
	}
	for i, e := range c.Agents {
		if e.Agent == "" {
			return &ValidationError{Field: fmt.Sprintf("agents[%d].agent", i), Msg: "required field missing"}
		}
	}
	return nil
}

// Resolver maps agent references to runnables.
type Resolver interface {
	Lookup(name string) (orchestrator.Runnable, bool)
}

// BuildPlan resolves every agent reference and produces the scheduler plan.
// model applies when the descriptor names none; a non-empty mode overrides
// the descriptor's. Any unknown reference fails the whole plan, so nothing
// starts.
func BuildPlan(cfg *Config, agents Resolver, model, mode string) (*orchestrator.Plan, error) {
	if mode == "" {
		mode = cfg.Mode
	}
	m, err := orchestrator.ParseMode(mode)
	if err != nil {
		return nil, &orchestrator.ConfigurationError{Err: &ValidationError{Field: "mode", Msg: err.Error()}}
	}
	if cfg.Model != "" {
		model = cfg.Model
	}

	plan := &orchestrator.Plan{Team: cfg.Name, Mode: m}
	for _, e := range cfg.Agents {
		r, ok := agents.Lookup(e.Agent)
		if !ok {
			return nil, &orchestrator.ConfigurationError{
				Task: e.TaskName(),
				Msg:  fmt.Sprintf("agent %q not found", e.Agent),
			}
		}
		t := orchestrator.NewTask(e.TaskName(), r, model, e.DependsOn...)
		if e.Config != nil {
			t.Config = e.Config
		}
		plan.Tasks = append(plan.Tasks, t)
	}
	return plan, nil
}

// LoadPlan is Load followed by BuildPlan. Descriptor problems are reported
// as configuration errors.
func LoadPlan(path string, agents Resolver, model, mode string) (*Config, *orchestrator.Plan, error) {
	cfg, err := Load(path)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return nil, nil, &orchestrator.ConfigurationError{Err: err}
		}
		return nil, nil, err
	}
	plan, err := BuildPlan(cfg, agents, model, mode)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, plan, nil
}
