package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"
)

// LegacyFunc is the function-style agent: it performs side effects and
// reports failure only through its error.
type LegacyFunc func(ctx context.Context, model string, chat ChatFunc) error

// Agent is the lifecycle-style agent. Run's outcome is used verbatim;
// OnError is called when Run fails, and the error is then returned.
type Agent interface {
	OnStart(ctx context.Context, snap Snapshot)
	Run(ctx context.Context, snap Snapshot, model string, chat ChatFunc, tools Toolbox) (*Outcome, error)
	OnComplete(ctx context.Context, out *Outcome, snap Snapshot)
	OnError(ctx context.Context, err error, snap Snapshot)
}

// BaseAgent provides no-op lifecycle hooks for embedding.
type BaseAgent struct{}

func (BaseAgent) OnStart(context.Context, Snapshot)              {}
func (BaseAgent) OnComplete(context.Context, *Outcome, Snapshot) {}
func (BaseAgent) OnError(context.Context, error, Snapshot)       {}

type runnableKind uint8

const (
	kindInvalid runnableKind = iota
	kindLegacy
	kindLifecycle
)

// Runnable is the agent logic wrapped by a task: exactly one of the two
// calling conventions. The zero value is invalid.
type Runnable struct {
	kind   runnableKind
	legacy LegacyFunc
	agent  Agent
}

// Legacy wraps a function-style agent.
func Legacy(fn LegacyFunc) Runnable {
	if fn == nil {
		return Runnable{}
	}
	return Runnable{kind: kindLegacy, legacy: fn}
}

// Lifecycle wraps a lifecycle-style agent.
func Lifecycle(a Agent) Runnable {
	if a == nil {
		return Runnable{}
	}
	return Runnable{kind: kindLifecycle, agent: a}
}

// Kind names the calling convention: "legacy", "lifecycle" or "invalid".
func (r Runnable) Kind() string {
	switch r.kind {
	case kindLegacy:
		return "legacy"
	case kindLifecycle:
		return "lifecycle"
	}
	return "invalid"
}

// Valid reports whether r carries a usable calling convention.
func (r Runnable) Valid() bool { return r.kind != kindInvalid }

// Runner invokes runnables and normalizes what they return.
type Runner struct {
	chat    ChatFunc
	tools   Toolbox
	timeout time.Duration
	logger  *zap.Logger
}

// NewRunner creates a runner. A zero timeout disables the per-task limit.
func NewRunner(chat ChatFunc, tools Toolbox, timeout time.Duration, logger *zap.Logger) *Runner {
	return &Runner{chat: chat, tools: tools, timeout: timeout, logger: logger}
}

// Invoke runs task against snap. A legacy runnable always yields an outcome
// and a nil error. A lifecycle runnable yields its own outcome, or the error
// Run failed with after OnError has seen it. A task timeout is reported as a
// failed outcome. The body's context is cancelled at the deadline, but Invoke
// returns only once the body and its hooks have, so a caller holding a pool
// slot keeps it for as long as the body runs.
func (r *Runner) Invoke(ctx context.Context, task *Task, snap Snapshot) (*Outcome, error) {
	if r.timeout <= 0 {
		return r.invoke(ctx, task, snap)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type result struct {
		out *Outcome
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := r.invoke(ctx, task, snap)
		done <- result{out, err}
	}()

	select {
	case res := <-done:
		return res.out, res.err
	case <-ctx.Done():
	}

	timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)
	if timedOut {
		r.logger.Warn("task timed out, waiting for it to stop",
			zap.String("task", task.Name),
			zap.Duration("timeout", r.timeout))
	}
	res := <-done
	if timedOut {
		return Failed(fmt.Sprintf("task %s timed out after %s", task.Name, r.timeout)), nil
	}
	return res.out, res.err
}

func (r *Runner) invoke(ctx context.Context, task *Task, snap Snapshot) (*Outcome, error) {
	switch task.Runnable.kind {
	case kindLegacy:
		err := guard(func() error {
			return task.Runnable.legacy(ctx, task.Model, r.chat)
		})
		if err != nil {
			return Failed(err.Error()), nil
		}
		return Succeeded("completed"), nil

	case kindLifecycle:
		a := task.Runnable.agent
		if err := guard(func() error { a.OnStart(ctx, snap); return nil }); err != nil {
			return nil, err
		}

		var out *Outcome
		err := guard(func() error {
			var err error
			out, err = a.Run(ctx, snap, task.Model, r.chat, r.tools)
			return err
		})
		if err == nil && out == nil {
			err = errors.New("agent returned no outcome")
		}
		if err != nil {
			if herr := guard(func() error { a.OnError(ctx, err, snap); return nil }); herr != nil {
				r.logger.Warn("on_error hook failed", zap.String("task", task.Name), zap.Error(herr))
			}
			return nil, err
		}

		if herr := guard(func() error { a.OnComplete(ctx, out, snap); return nil }); herr != nil {
			r.logger.Warn("on_complete hook failed", zap.String("task", task.Name), zap.Error(herr))
		}
		return out, nil
	}

	return nil, &ConfigurationError{
		Task: task.Name,
		Msg:  "runnable is neither a legacy function nor a lifecycle agent",
	}
}

// guard runs fn and converts a panic into an error.
func guard(fn func() error) (err error) {
	var pc panics.Catcher
	pc.Try(func() { err = fn() })
	if rec := pc.Recovered(); rec != nil {
		return fmt.Errorf("panic: %v", rec.Value)
	}
	return err
}
