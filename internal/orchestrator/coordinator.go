package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Recorder persists or forwards a finished run. Recorder failures are
// logged and never change the run's result.
type Recorder interface {
	RecordRun(ctx context.Context, report *RunReport) error
}

// RunReport is the aggregated result of one team run.
type RunReport struct {
	ID       string        `json:"run_id"`
	Team     string        `json:"team_name"`
	Mode     Mode          `json:"mode"`
	Results  Results       `json:"results"`
	Tasks    []*Task       `json:"-"`
	Messages []Message     `json:"messages,omitempty"`
	Deadlock string        `json:"deadlock,omitempty"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
}

// Succeeded reports whether every task succeeded and no deadlock occurred.
func (r *RunReport) Succeeded() bool {
	return r.Deadlock == "" && len(r.Results.Failures()) == 0
}

// Summary renders a plain-text per-task summary in task order.
func (r *RunReport) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Team %s (%s): ", r.Team, r.Mode)
	failed := len(r.Results.Failures())
	fmt.Fprintf(&b, "%d/%d succeeded", len(r.Results)-failed, len(r.Tasks))
	if r.Deadlock != "" {
		b.WriteString(", deadlocked")
	}
	b.WriteString("\n")

	for _, t := range r.Tasks {
		out, ok := r.Results[t.Name]
		switch {
		case !ok:
			fmt.Fprintf(&b, "- %s: not run\n", t.Name)
		case out.Success:
			fmt.Fprintf(&b, "- %s: ok", t.Name)
			if s := fmt.Sprint(out.Output); out.Output != nil && s != "" {
				fmt.Fprintf(&b, " (%s)", truncate(s, 120))
			}
			b.WriteString("\n")
		default:
			fmt.Fprintf(&b, "- %s: failed: %s\n", t.Name, out.Error)
		}
	}
	if r.Deadlock != "" {
		fmt.Fprintf(&b, "%s\n", r.Deadlock)
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Coordinator is the team-level entry point: it runs a plan through the
// scheduler and hands the report to every recorder.
type Coordinator struct {
	scheduler *Scheduler
	bus       *MessageBus
	recorders []Recorder
	logger    *zap.Logger
}

// NewCoordinator creates a coordinator. bus may be nil.
func NewCoordinator(scheduler *Scheduler, bus *MessageBus, logger *zap.Logger) *Coordinator {
	c := &Coordinator{scheduler: scheduler, bus: bus, logger: logger}
	if bus != nil {
		c.recorders = append(c.recorders, bus)
	}
	return c
}

// AddRecorder registers r for every subsequent run.
func (c *Coordinator) AddRecorder(r Recorder) {
	c.recorders = append(c.recorders, r)
}

// Scheduler returns the underlying scheduler.
func (c *Coordinator) Scheduler() *Scheduler { return c.scheduler }

// Run executes plan with a fresh shared context. The returned report is
// non-nil whenever the run started; err is a *DeadlockError when the
// parallel run stalled, or a *ConfigurationError when it could not start.
func (c *Coordinator) Run(ctx context.Context, plan *Plan) (*RunReport, error) {
	return c.RunWithContext(ctx, plan, NewSharedContext(nil))
}

// RunWithContext is Run with a caller-supplied shared context.
func (c *Coordinator) RunWithContext(ctx context.Context, plan *Plan, shared *SharedContext) (*RunReport, error) {
	if plan == nil || len(plan.Tasks) == 0 {
		return nil, Configf("team has no tasks")
	}

	report := &RunReport{
		ID:      uuid.New().String(),
		Team:    plan.Team,
		Mode:    plan.Mode,
		Tasks:   slices.Clone(plan.Tasks),
		Started: time.Now(),
	}

	var observers []Observer
	if c.bus != nil {
		observers = append(observers, c.bus.Observer(report.ID))
	}

	c.logger.Info("team run started",
		zap.String("run", report.ID),
		zap.String("team", plan.Team),
		zap.String("mode", string(plan.Mode)),
		zap.Int("tasks", len(plan.Tasks)))

	results, err := c.scheduler.RunObserved(ctx, plan.Mode, plan.Tasks, shared, observers)
	var dl *DeadlockError
	switch {
	case errors.As(err, &dl):
		report.Deadlock = dl.Error()
	case err != nil:
		return nil, err
	}
	report.Results = results
	report.Messages = shared.take()
	report.Duration = time.Since(report.Started)

	c.logger.Info("team run finished",
		zap.String("run", report.ID),
		zap.Bool("success", report.Succeeded()),
		zap.Duration("duration", report.Duration))

	for _, r := range c.recorders {
		if rerr := r.RecordRun(ctx, report); rerr != nil {
			c.logger.Warn("record run failed", zap.String("run", report.ID), zap.Error(rerr))
		}
	}
	return report, err
}
