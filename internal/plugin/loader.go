package plugin

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/nidhogg/nora/internal/orchestrator"
)

// LoadFromDir scans dir for agent subdirectories. Each subdirectory holds an
// agent.yaml manifest and optionally a prompt.md that overrides the
// manifest's prompt. Invalid agents are logged and skipped. A missing dir
// yields no agents and no error.
func LoadFromDir(dir string, logger *zap.Logger) ([]*Plugin, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading agent directory %s: %w", dir, err)
	}

	var plugins []*Plugin
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		sub := filepath.Join(dir, entry.Name())
		p, err := loadAgent(sub, logger)
		if err != nil {
			logger.Error("skipping invalid agent", zap.String("dir", sub), zap.Error(err))
			continue
		}
		if p != nil {
			plugins = append(plugins, p)
		}
	}
	return plugins, nil
}

func loadAgent(dir string, logger *zap.Logger) (*Plugin, error) {
	data, err := os.ReadFile(filepath.Join(dir, "agent.yaml"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading agent.yaml: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing agent.yaml: %w", err)
	}
	if prompt, err := os.ReadFile(filepath.Join(dir, "prompt.md")); err == nil {
		m.Prompt = strings.TrimSpace(string(prompt))
	}

	agent, err := NewPromptAgent(m, logger)
	if err != nil {
		return nil, err
	}
	return &Plugin{
		Metadata: m.Metadata,
		Source:   dir,
		Runnable: orchestrator.Lifecycle(agent),
	}, nil
}

// LoadInto loads dir and registers every valid agent, returning how many
// were registered.
func LoadInto(reg *Registry, dir string) (int, error) {
	plugins, err := LoadFromDir(dir, reg.logger)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range plugins {
		if err := reg.Register(p); err != nil {
			reg.logger.Error("skipping agent", zap.String("name", p.Name), zap.Error(err))
			continue
		}
		n++
	}
	reg.logger.Info("loaded agents", zap.String("dir", dir), zap.Int("count", n))
	return n, nil
}
