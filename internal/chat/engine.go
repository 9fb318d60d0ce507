// Package chat runs single conversational turns: it assembles the context
// window, calls the model and records the exchange in history.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/nora/internal/actions"
	"github.com/nidhogg/nora/internal/history"
	"github.com/nidhogg/nora/internal/interpreter"
	"github.com/nidhogg/nora/internal/orchestrator"
	"github.com/nidhogg/nora/internal/prompt"
)

// DefaultSystemPrompt is used when a turn does not set one.
const DefaultSystemPrompt = "You are a helpful local coding assistant. Answer concisely."

// recallCount is how many related past messages are pulled into a turn.
const recallCount = 3

// ErrEmptyMessage is returned for a turn without user text.
var ErrEmptyMessage = errors.New("empty message")

// Request is one user turn.
type Request struct {
	Message string   `json:"message"`
	Model   string   `json:"model,omitempty"`
	System  string   `json:"system,omitempty"`
	Files   []string `json:"context,omitempty"`
	Stream  bool     `json:"-"`
	// Actions asks the model to describe file changes in the action format.
	Actions bool `json:"actions,omitempty"`
}

// Reply is the model's answer plus anything the interpreter found in it.
type Reply struct {
	Content  string                      `json:"response"`
	Model    string                      `json:"model"`
	Actions  []interpreter.FileAction    `json:"actions,omitempty"`
	Commands []interpreter.CommandAction `json:"commands,omitempty"`
	Duration time.Duration               `json:"duration"`
}

// Engine runs chat turns.
type Engine struct {
	chat     orchestrator.ChatFunc
	model    string
	history  *history.Manager
	recaller history.Recaller
	builder  *prompt.Builder
	interp   *interpreter.Interpreter
	actions  *actions.Manager
	logger   *zap.Logger
}

// NewEngine creates an engine. hist and act may be nil.
func NewEngine(chat orchestrator.ChatFunc, model string, hist *history.Manager, builder *prompt.Builder, act *actions.Manager, logger *zap.Logger) *Engine {
	if builder == nil {
		builder = prompt.NewBuilder(prompt.DefaultConfig(), nil, logger)
	}
	return &Engine{
		chat:    chat,
		model:   model,
		history: hist,
		builder: builder,
		interp:  interpreter.New(logger),
		actions: act,
		logger:  logger,
	}
}

// SetRecaller enables semantic recall of related earlier messages.
func (e *Engine) SetRecaller(r history.Recaller) { e.recaller = r }

// History returns the engine's history, which may be nil.
func (e *Engine) History() *history.Manager { return e.history }

// Model returns the default model.
func (e *Engine) Model() string { return e.model }

// Ask runs one turn. The user message and the reply are appended to history
// only after the model answered.
func (e *Engine) Ask(ctx context.Context, req Request) (*Reply, error) {
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return nil, ErrEmptyMessage
	}
	model := req.Model
	if model == "" {
		model = e.model
	}
	system := req.System
	if system == "" {
		system = DefaultSystemPrompt
	}
	if req.Actions {
		system += "\n\n" + interpreter.SystemPrompt()
	}

	turn := prompt.Turn{System: system, User: msg}
	if len(req.Files) > 0 {
		turn.FileContext = prompt.LoadFileContext(req.Files, prompt.DefaultConfig().FileCharLimit, e.logger)
	}
	if e.history != nil {
		turn.History = e.history.Messages()
	}
	if e.recaller != nil {
		recalled, err := e.recaller.Recall(ctx, msg, recallCount)
		if err != nil {
			e.logger.Warn("recall failed", zap.Error(err))
		}
		turn.Recalled = recalled
	}

	start := time.Now()
	content, err := e.chat(ctx, e.builder.Build(ctx, turn), model, req.Stream)
	if err != nil {
		return nil, fmt.Errorf("chat: %w", err)
	}

	if e.history != nil {
		if err := e.history.Add(ctx, "user", msg); err != nil {
			e.logger.Warn("save user message failed", zap.Error(err))
		}
		if err := e.history.Add(ctx, "assistant", content); err != nil {
			e.logger.Warn("save reply failed", zap.Error(err))
		}
	}

	reply := &Reply{
		Content:  content,
		Model:    model,
		Actions:  e.interp.ExtractActions(content),
		Commands: e.interp.ExtractCommands(content),
		Duration: time.Since(start),
	}
	e.logger.Info("chat turn complete",
		zap.String("model", model),
		zap.Int("chars", len(content)),
		zap.Int("actions", len(reply.Actions)),
		zap.Duration("duration", reply.Duration))
	return reply, nil
}

// ErrNoActions is returned by Apply when actions are disabled.
var ErrNoActions = errors.New("actions are disabled")

// Apply executes the file actions and commands found in text.
func (e *Engine) Apply(ctx context.Context, text string) ([]actions.Result, error) {
	if e.actions == nil {
		return nil, ErrNoActions
	}
	results := e.actions.Apply(e.interp.ExtractActions(text))
	results = append(results, e.actions.RunCommands(ctx, e.interp.ExtractCommands(text))...)
	return results, nil
}

// ApplyLast applies the actions found in the most recent assistant reply.
func (e *Engine) ApplyLast(ctx context.Context) ([]actions.Result, error) {
	if e.history == nil {
		return nil, errors.New("no history")
	}
	last, ok := e.history.LastAssistant()
	if !ok {
		return nil, errors.New("no assistant reply yet")
	}
	return e.Apply(ctx, last)
}
