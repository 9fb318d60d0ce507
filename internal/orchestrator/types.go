package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/nidhogg/nora/internal/provider"
)

// Mode defines how the tasks of a run are executed.
type Mode string

const (
	ModeSequential Mode = "sequential"
	ModeParallel   Mode = "parallel"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeSequential, ModeParallel:
		return Mode(s), nil
	}
	return "", fmt.Errorf("invalid mode %q (expected sequential or parallel)", s)
}

// TaskStatus tracks execution state. Failure is recorded in the outcome,
// so a failed task still ends in TaskCompleted.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
)

// Snapshot keys merged into every task's context snapshot.
const (
	KeyAgentName = "agent_name"
	KeyConfig    = "config"
)

// ChatFunc sends messages to the model server. Runnables receive it as an
// opaque capability; it may block on network I/O and may fail.
type ChatFunc func(ctx context.Context, messages []provider.Message, model string, stream bool) (string, error)

// Toolbox executes named tools on behalf of lifecycle agents.
type Toolbox interface {
	Names() []string
	Execute(ctx context.Context, name, args string) (string, error)
}

// Task is one named unit of work in a run. Result, Err and Completed are
// written once by the scheduler goroutine that owns the task.
type Task struct {
	Name      string         `json:"name"`
	Runnable  Runnable       `json:"-"`
	Model     string         `json:"model"`
	DependsOn []string       `json:"depends_on,omitempty"`
	Config    map[string]any `json:"config,omitempty"`

	Status      TaskStatus `json:"status"`
	Result      *Outcome   `json:"result,omitempty"`
	Err         error      `json:"-"`
	Completed   bool       `json:"completed"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewTask creates a pending task.
func NewTask(name string, r Runnable, model string, dependsOn ...string) *Task {
	return &Task{
		Name:      name,
		Runnable:  r,
		Model:     model,
		DependsOn: dependsOn,
		Config:    map[string]any{},
		Status:    TaskPending,
	}
}

// Outcome is the normalized result of running a task.
type Outcome struct {
	Success        bool           `json:"success"`
	Output         any            `json:"output,omitempty"`
	Error          string         `json:"error,omitempty"`
	ContextUpdates map[string]any `json:"-"`
}

// Succeeded returns a successful outcome carrying output.
func Succeeded(output any) *Outcome {
	return &Outcome{Success: true, Output: output}
}

// Failed returns a failed outcome carrying msg.
func Failed(msg string) *Outcome {
	return &Outcome{Success: false, Error: msg}
}

// WithUpdates attaches context updates to the outcome and returns it.
func (o *Outcome) WithUpdates(updates map[string]any) *Outcome {
	o.ContextUpdates = updates
	return o
}

// Results maps task names to their outcomes.
type Results map[string]*Outcome

// Failures returns the names of tasks whose outcome is not successful.
func (r Results) Failures() []string {
	var names []string
	for name, out := range r {
		if !out.Success {
			names = append(names, name)
		}
	}
	return names
}

// Plan is a validated set of tasks ready to be handed to the scheduler.
type Plan struct {
	Team  string
	Mode  Mode
	Tasks []*Task
}
