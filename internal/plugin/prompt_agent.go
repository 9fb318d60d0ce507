package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"text/template"

	"go.uber.org/zap"

	"github.com/nidhogg/nora/internal/interpreter"
	"github.com/nidhogg/nora/internal/orchestrator"
	"github.com/nidhogg/nora/internal/provider"
)

const defaultToolRounds = 3

// Manifest is the agent.yaml of a directory agent.
type Manifest struct {
	Metadata   `yaml:",inline"`
	System     string `yaml:"system,omitempty"`
	Prompt     string `yaml:"prompt"`
	OutputKey  string `yaml:"output_key,omitempty"`
	ToolRounds int    `yaml:"tool_rounds,omitempty"`
}

// PromptAgent is a lifecycle agent defined by a prompt template. The
// template is rendered over the task's context snapshot, so upstream
// outputs are available as {{.key}}. The reply is returned as output,
// stored in the shared context under OutputKey and posted to the run's
// message log.
type PromptAgent struct {
	orchestrator.BaseAgent

	manifest Manifest
	tmpl     *template.Template
	interp   *interpreter.Interpreter
	logger   *zap.Logger
}

// NewPromptAgent compiles the manifest's prompt template.
func NewPromptAgent(m Manifest, logger *zap.Logger) (*PromptAgent, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(m.Prompt) == "" {
		return nil, fmt.Errorf("%w: %s: missing prompt", ErrInvalidMetadata, m.Name)
	}
	tmpl, err := template.New(m.Name).Parse(m.Prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: prompt template: %v", ErrInvalidMetadata, m.Name, err)
	}
	if m.OutputKey == "" {
		m.OutputKey = m.Name
	}
	if m.ToolRounds <= 0 {
		m.ToolRounds = defaultToolRounds
	}
	return &PromptAgent{
		manifest: m,
		tmpl:     tmpl,
		interp:   interpreter.New(logger),
		logger:   logger,
	}, nil
}

// Metadata returns the agent's metadata.
func (a *PromptAgent) Metadata() Metadata { return a.manifest.Metadata }

// OutputKey is the context key the reply is stored under.
func (a *PromptAgent) OutputKey() string { return a.manifest.OutputKey }

func (a *PromptAgent) OnStart(ctx context.Context, snap orchestrator.Snapshot) {
	a.logger.Debug("prompt agent starting", zap.String("agent", a.manifest.Name), zap.String("task", snap.AgentName()))
}

func (a *PromptAgent) OnError(ctx context.Context, err error, snap orchestrator.Snapshot) {
	a.logger.Warn("prompt agent failed", zap.String("agent", a.manifest.Name), zap.Error(err))
}

// Run renders the prompt, asks the model and, when the agent requires
// tools, executes the tool calls in the reply for up to ToolRounds rounds.
func (a *PromptAgent) Run(ctx context.Context, snap orchestrator.Snapshot, model string, chat orchestrator.ChatFunc, tools orchestrator.Toolbox) (*orchestrator.Outcome, error) {
	var prompt bytes.Buffer
	if err := a.tmpl.Execute(&prompt, map[string]any(snap)); err != nil {
		return nil, fmt.Errorf("render prompt: %w", err)
	}

	useTools := len(a.manifest.RequiresTools) > 0
	if useTools {
		if tools == nil {
			return nil, fmt.Errorf("agent %s requires tools but none are available", a.manifest.Name)
		}
		available := tools.Names()
		for _, name := range a.manifest.RequiresTools {
			if !slices.Contains(available, name) {
				return nil, fmt.Errorf("agent %s requires missing tool %q", a.manifest.Name, name)
			}
		}
	}

	var msgs []provider.Message
	if system := a.systemPrompt(useTools); system != "" {
		msgs = append(msgs, provider.SystemMessage(system))
	}
	msgs = append(msgs, provider.UserMessage(prompt.String()))

	reply, err := chat(ctx, msgs, model, false)
	if err != nil {
		return nil, err
	}

	for round := 0; useTools && round < a.manifest.ToolRounds; round++ {
		calls := a.interp.ExtractToolCalls(reply)
		if len(calls) == 0 {
			break
		}
		msgs = append(msgs,
			provider.AssistantMessage(reply),
			provider.UserMessage(a.runTools(ctx, tools, calls)))
		if reply, err = chat(ctx, msgs, model, false); err != nil {
			return nil, err
		}
	}

	output := strings.TrimSpace(reply)
	if board, ok := orchestrator.MessagesFrom(ctx); ok {
		board.PostMessage(snap.AgentName(), output, map[string]any{"output_key": a.manifest.OutputKey})
	}
	return orchestrator.Succeeded(output).WithUpdates(map[string]any{a.manifest.OutputKey: output}), nil
}

func (a *PromptAgent) systemPrompt(useTools bool) string {
	if !useTools {
		return a.manifest.System
	}
	var b strings.Builder
	if a.manifest.System != "" {
		b.WriteString(a.manifest.System)
		b.WriteString("\n\n")
	}
	b.WriteString("You can use these tools: ")
	b.WriteString(strings.Join(a.manifest.RequiresTools, ", "))
	b.WriteString(".\nTo call them, reply with only a JSON array such as ")
	b.WriteString(`[{"tool_name": "read_file", "parameters": {"path": "main.go"}}]`)
	b.WriteString(". You will receive the results and can then answer.")
	return b.String()
}

func (a *PromptAgent) runTools(ctx context.Context, tools orchestrator.Toolbox, calls []interpreter.ToolCall) string {
	var b strings.Builder
	for _, call := range calls {
		fmt.Fprintf(&b, "Result of %s:\n", call.ToolName)
		if !slices.Contains(a.manifest.RequiresTools, call.ToolName) {
			fmt.Fprintf(&b, "Error: tool %q is not available to this agent\n\n", call.ToolName)
			continue
		}
		args, err := json.Marshal(call.Parameters)
		if err != nil {
			fmt.Fprintf(&b, "Error: %v\n\n", err)
			continue
		}
		out, err := tools.Execute(ctx, call.ToolName, string(args))
		if err != nil {
			a.logger.Warn("tool call failed", zap.String("tool", call.ToolName), zap.Error(err))
			fmt.Fprintf(&b, "Error: %v\n\n", err)
			continue
		}
		b.WriteString(out)
		b.WriteString("\n\n")
	}
	return b.String()
}
