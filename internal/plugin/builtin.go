package plugin

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/nidhogg/nora/internal/orchestrator"
	"github.com/nidhogg/nora/internal/provider"
)

const greeterPrompt = "Introduce yourself like a friendly CLI agent."

func builtins() []*Plugin {
	return []*Plugin{
		{
			Metadata: Metadata{
				Name:        "greeter",
				Description: "A simple starter agent",
				Version:     "1.0.0",
			},
			Source:   "builtin",
			Runnable: orchestrator.Legacy(greet),
		},
	}
}

// RegisterBuiltins adds the agents that ship with the binary.
func RegisterBuiltins(reg *Registry) error {
	return registerAll(reg, builtins())
}

// registerAll registers every plugin it can and returns the joined
// failures.
func registerAll(reg *Registry, plugins []*Plugin) error {
	var errs []error
	for _, p := range plugins {
		if err := reg.Register(p); err != nil {
			reg.logger.Error("builtin agent rejected", zap.String("name", p.Name), zap.Error(err))
			errs = append(errs, fmt.Errorf("builtin %s: %w", p.Name, err))
		}
	}
	return errors.Join(errs...)
}

func greet(ctx context.Context, model string, chat orchestrator.ChatFunc) error {
	_, err := chat(ctx, []provider.Message{provider.UserMessage(greeterPrompt)}, model, true)
	return err
}
