package plugin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/nidhogg/nora/internal/orchestrator"
	"github.com/nidhogg/nora/internal/provider"
)

// scriptedChat replies with the queued answers in order and records every
// request it saw.
type scriptedChat struct {
	mu      sync.Mutex
	replies []string
	seen    [][]provider.Message
	streams []bool
}

func (c *scriptedChat) call(ctx context.Context, msgs []provider.Message, model string, stream bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, msgs)
	c.streams = append(c.streams, stream)
	if len(c.replies) == 0 {
		return "", errors.New("no scripted reply")
	}
	r := c.replies[0]
	c.replies = c.replies[1:]
	return r, nil
}

type fakeTools struct {
	calls []string
}

func (f *fakeTools) Names() []string { return []string{"read_file", "shell"} }

func (f *fakeTools) Execute(ctx context.Context, name, args string) (string, error) {
	f.calls = append(f.calls, name+" "+args)
	return "package main", nil
}

func newScheduler(chat orchestrator.ChatFunc, tools orchestrator.Toolbox) *orchestrator.Scheduler {
	runner := orchestrator.NewRunner(chat, tools, 0, zap.NewNop())
	return orchestrator.NewScheduler(runner, 2, zap.NewNop())
}

func writeAgent(t *testing.T, root, name, manifest, prompt string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agent.yaml"), []byte(manifest), 0o644))
	if prompt != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "prompt.md"), []byte(prompt), 0o644))
	}
}

func TestRegistryRegisterAndList(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	require.NoError(t, RegisterBuiltins(reg))

	err := reg.Register(&Plugin{Metadata: Metadata{Name: "x", Description: "d"}, Runnable: orchestrator.Legacy(greet)})
	assert.ErrorIs(t, err, ErrInvalidMetadata, "version is required")

	err = reg.Register(&Plugin{Metadata: Metadata{Name: "y", Description: "d", Version: "1"}})
	assert.ErrorIs(t, err, ErrInvalidMetadata, "runnable is required")

	require.NoError(t, reg.Register(&Plugin{
		Metadata: Metadata{Name: "alpha", Description: "d", Version: "0.1"},
		Runnable: orchestrator.Legacy(greet),
	}))

	list := reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Name)
	assert.Equal(t, "greeter", list[1].Name)
	assert.Equal(t, "legacy", list[1].Kind)

	r, ok := reg.Lookup("greeter")
	assert.True(t, ok)
	assert.True(t, r.Valid())
	_, ok = reg.Lookup("missing")
	assert.False(t, ok)
}

func TestRegisterAllReportsRejectedBuiltins(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	reg := NewRegistry(zap.New(core))

	err := registerAll(reg, []*Plugin{
		{Metadata: Metadata{Name: "broken", Description: "d"}, Runnable: orchestrator.Legacy(greet)},
		{Metadata: Metadata{Name: "fine", Description: "d", Version: "1"}, Runnable: orchestrator.Legacy(greet)},
	})
	require.ErrorIs(t, err, ErrInvalidMetadata)
	assert.Contains(t, err.Error(), "builtin broken")

	_, ok := reg.Get("fine")
	assert.True(t, ok, "valid builtins are still registered")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "builtin agent rejected", logs.All()[0].Message)
}

func TestGreeterStreamsOneCall(t *testing.T) {
	chat := &scriptedChat{replies: []string{"Hi, I'm nora!"}}
	reg := NewRegistry(zap.NewNop())
	require.NoError(t, RegisterBuiltins(reg))

	out, err := reg.Run(context.Background(), newScheduler(chat.call, nil), "greeter", "llama3", nil)
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, "completed", out.Output)

	require.Len(t, chat.seen, 1)
	assert.Equal(t, greeterPrompt, chat.seen[0][0].Content)
	assert.True(t, chat.streams[0])
}

func TestRunUnknownAgent(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	_, err := reg.Run(context.Background(), newScheduler(nil, nil), "ghost", "m", nil)
	assert.ErrorIs(t, err, orchestrator.ErrConfiguration)
}

func TestLoadFromDir(t *testing.T) {
	root := t.TempDir()
	writeAgent(t, root, "reviewer", `
name: reviewer
description: Reviews code
version: 1.0.0
capabilities: [review]
prompt: inline prompt
`, "Review this: {{.code}}")
	writeAgent(t, root, "broken", "name: broken\nversion: 1\n", "")
	writeAgent(t, root, "badyaml", "name: [", "")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"), []byte("x"), 0o644))

	plugins, err := LoadFromDir(root, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, plugins, 1)

	p := plugins[0]
	assert.Equal(t, "reviewer", p.Name)
	assert.Equal(t, []string{"review"}, p.Capabilities)
	assert.Equal(t, "lifecycle", p.Runnable.Kind())
	assert.Equal(t, filepath.Join(root, "reviewer"), p.Source)
}

func TestLoadFromMissingDir(t *testing.T) {
	plugins, err := LoadFromDir(filepath.Join(t.TempDir(), "nope"), zap.NewNop())
	assert.NoError(t, err)
	assert.Empty(t, plugins)
}

func TestPromptAgentRendersContextAndUpdates(t *testing.T) {
	root := t.TempDir()
	writeAgent(t, root, "summarizer", `
name: summarizer
description: Summarizes the plan
version: 1.0.0
system: Be brief.
output_key: summary
`, "Summarize: {{.plan}}")

	reg := NewRegistry(zap.NewNop())
	n, err := LoadInto(reg, root)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	chat := &scriptedChat{replies: []string{"  short summary \n"}}
	shared := orchestrator.NewSharedContext(map[string]any{"plan": "build a CLI"})

	out, err := reg.Run(context.Background(), newScheduler(chat.call, nil), "summarizer", "m", shared)
	require.NoError(t, err)
	require.True(t, out.Success, out.Error)
	assert.Equal(t, "short summary", out.Output)
	assert.Equal(t, "short summary", shared.Get("summary", nil))

	posted := shared.DrainMessages(10 * time.Millisecond)
	require.Len(t, posted, 1)
	assert.Equal(t, "summarizer", posted[0].Sender)
	assert.Equal(t, "short summary", posted[0].Text)
	assert.Equal(t, "summary", posted[0].Payload["output_key"])

	require.Len(t, chat.seen, 1)
	msgs := chat.seen[0]
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "Be brief.", msgs[0].Content)
	assert.Equal(t, "Summarize: build a CLI", msgs[1].Content)
	assert.False(t, chat.streams[0])
}

func TestPromptAgentExecutesToolCalls(t *testing.T) {
	agent, err := NewPromptAgent(Manifest{
		Metadata: Metadata{Name: "inspector", Description: "d", Version: "1", RequiresTools: []string{"read_file"}},
		Prompt:   "Look at main.go",
	}, zap.NewNop())
	require.NoError(t, err)

	chat := &scriptedChat{replies: []string{
		`[{"tool_name": "read_file", "parameters": {"path": "main.go"}}, {"tool_name": "shell", "parameters": {"command": "ls"}}]`,
		"main.go declares package main",
	}}
	tools := &fakeTools{}

	out, err := agent.Run(context.Background(), orchestrator.Snapshot{}, "m", chat.call, tools)
	require.NoError(t, err)
	assert.Equal(t, "main.go declares package main", out.Output)
	assert.Equal(t, "main.go declares package main", out.ContextUpdates["inspector"])

	assert.Equal(t, []string{`read_file {"path":"main.go"}`}, tools.calls, "shell is not among the required tools")
	require.Len(t, chat.seen, 2)
	followUp := chat.seen[1][len(chat.seen[1])-1].Content
	assert.Contains(t, followUp, "package main")
	assert.Contains(t, followUp, `tool "shell" is not available`)
	assert.True(t, strings.Contains(chat.seen[0][0].Content, "read_file"))
}

func TestPromptAgentMissingTool(t *testing.T) {
	agent, err := NewPromptAgent(Manifest{
		Metadata: Metadata{Name: "deployer", Description: "d", Version: "1", RequiresTools: []string{"kubectl"}},
		Prompt:   "deploy",
	}, zap.NewNop())
	require.NoError(t, err)

	_, err = agent.Run(context.Background(), orchestrator.Snapshot{}, "m", (&scriptedChat{}).call, &fakeTools{})
	assert.ErrorContains(t, err, `missing tool "kubectl"`)

	_, err = agent.Run(context.Background(), orchestrator.Snapshot{}, "m", (&scriptedChat{}).call, nil)
	assert.ErrorContains(t, err, "requires tools")
}

func TestNewPromptAgentRejectsBadTemplate(t *testing.T) {
	_, err := NewPromptAgent(Manifest{
		Metadata: Metadata{Name: "bad", Description: "d", Version: "1"},
		Prompt:   "{{.unclosed",
	}, zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidMetadata)

	_, err = NewPromptAgent(Manifest{Metadata: Metadata{Name: "empty", Description: "d", Version: "1"}}, zap.NewNop())
	assert.ErrorIs(t, err, ErrInvalidMetadata)
}
