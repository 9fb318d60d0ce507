package orchestrator

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultMaxWorkers bounds parallel runs when no size is configured.
const DefaultMaxWorkers = 4

// Observer receives task lifecycle events. Methods are called from worker
// goroutines and must be safe for concurrent use.
type Observer interface {
	TaskStarted(ctx context.Context, task *Task)
	TaskCompleted(ctx context.Context, task *Task, out *Outcome)
}

// Scheduler executes a batch of tasks sequentially or as a dependency graph
// under a bounded goroutine pool.
type Scheduler struct {
	runner     *Runner
	maxWorkers int
	observers  []Observer
	mu         sync.RWMutex
	running    map[*Task]struct{}
	logger     *zap.Logger
}

// NewScheduler creates a scheduler. maxWorkers <= 0 selects DefaultMaxWorkers.
func NewScheduler(runner *Runner, maxWorkers int, logger *zap.Logger) *Scheduler {
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}
	return &Scheduler{
		runner:     runner,
		maxWorkers: maxWorkers,
		running:    make(map[*Task]struct{}),
		logger:     logger,
	}
}

// AddObserver registers o for task events of every subsequent run.
func (s *Scheduler) AddObserver(o Observer) {
	s.observers = append(s.observers, o)
}

// MaxWorkers returns the parallel pool size.
func (s *Scheduler) MaxWorkers() int { return s.maxWorkers }

// Run dispatches to RunSequential or RunParallel.
func (s *Scheduler) Run(ctx context.Context, mode Mode, tasks []*Task, shared *SharedContext) (Results, error) {
	return s.RunObserved(ctx, mode, tasks, shared, nil)
}

// RunObserved is Run with extra observers scoped to this run only.
func (s *Scheduler) RunObserved(ctx context.Context, mode Mode, tasks []*Task, shared *SharedContext, extra []Observer) (Results, error) {
	if shared == nil {
		shared = NewSharedContext(nil)
	}
	observers := append(slices.Clone(s.observers), extra...)
	switch mode {
	case ModeSequential:
		return s.runSequential(ctx, tasks, shared, observers), nil
	case ModeParallel:
		return s.runParallel(ctx, tasks, shared, observers)
	}
	return nil, Configf("invalid mode %q", mode)
}

// RunSequential executes tasks one after another in input order. DependsOn
// is ignored and a failing task does not stop the run.
func (s *Scheduler) RunSequential(ctx context.Context, tasks []*Task, shared *SharedContext) Results {
	return s.runSequential(ctx, tasks, shared, s.observers)
}

func (s *Scheduler) runSequential(ctx context.Context, tasks []*Task, shared *SharedContext, observers []Observer) Results {
	results := make(Results, len(tasks))
	for _, t := range tasks {
		t.Status = TaskPending
		results[t.Name] = s.execute(ctx, t, shared, observers)
	}
	return results
}

// RunParallel executes tasks as soon as all their dependencies have
// completed, with at most MaxWorkers runnables in flight. Completion, not
// success, releases dependents. When nothing is ready or in flight while
// tasks remain pending, the run stops and returns the outcomes gathered so
// far together with a *DeadlockError.
func (s *Scheduler) RunParallel(ctx context.Context, tasks []*Task, shared *SharedContext) (Results, error) {
	return s.runParallel(ctx, tasks, shared, s.observers)
}

func (s *Scheduler) runParallel(ctx context.Context, tasks []*Task, shared *SharedContext, observers []Observer) (Results, error) {
	pending := make([]*Task, 0, len(tasks))
	seen := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if seen[t.Name] {
			return nil, &ConfigurationError{Task: t.Name, Msg: "duplicate task name"}
		}
		seen[t.Name] = true
		t.Status = TaskPending
		pending = append(pending, t)
	}

	type completion struct {
		task *Task
		out  *Outcome
	}

	var (
		results   = make(Results, len(tasks))
		completed = make(map[string]bool, len(tasks))
		done      = make(chan completion, len(tasks))
		pool      = make(chan struct{}, s.maxWorkers) // semaphore-based pool
		wg        sync.WaitGroup
		inflight  int
	)

	for len(pending) > 0 || inflight > 0 {
		var ready []*Task
		pending = slices.DeleteFunc(pending, func(t *Task) bool {
			if dependenciesMet(t, completed) {
				ready = append(ready, t)
				return true
			}
			return false
		})

		if len(ready) == 0 && inflight == 0 {
			names := make([]string, len(pending))
			for i, t := range pending {
				names[i] = t.Name
			}
			slices.Sort(names)
			s.logger.Error("dependency deadlock", zap.Strings("pending", names))
			wg.Wait()
			return results, &DeadlockError{Pending: names}
		}

		for _, t := range ready {
			inflight++
			wg.Add(1)
			go func(task *Task) {
				defer wg.Done()
				pool <- struct{}{}        // acquire slot
				defer func() { <-pool }() // release slot

				done <- completion{task: task, out: s.execute(ctx, task, shared, observers)}
			}(t)
		}

		// Block until at least one task finishes before recomputing.
		c := <-done
		inflight--
		results[c.task.Name] = c.out
		completed[c.task.Name] = true
	}

	wg.Wait()
	return results, nil
}

func dependenciesMet(t *Task, completed map[string]bool) bool {
	for _, dep := range t.DependsOn {
		if !completed[dep] {
			return false
		}
	}
	return true
}

// execute runs one task and records its outcome. Context updates are
// merged before the task is marked completed so dependents never observe
// stale values.
func (s *Scheduler) execute(ctx context.Context, task *Task, shared *SharedContext, observers []Observer) *Outcome {
	start := time.Now()
	task.StartedAt = &start
	task.Status = TaskRunning

	s.mu.Lock()
	s.running[task] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, task)
		s.mu.Unlock()
	}()

	for _, o := range observers {
		o.TaskStarted(ctx, task)
	}

	s.logger.Info("executing task",
		zap.String("task", task.Name),
		zap.String("kind", task.Runnable.Kind()),
		zap.String("model", task.Model))

	snap := shared.Snapshot()
	snap[KeyAgentName] = task.Name
	snap[KeyConfig] = task.Config

	out, err := s.runner.Invoke(withMessages(ctx, shared), task, snap)
	switch {
	case err != nil:
		out = Failed(err.Error())
		task.Err = err
	case !out.Success:
		if out.Error == "" {
			out.Error = fmt.Sprintf("task %s reported failure", task.Name)
		}
		task.Err = &taskFailure{task: task.Name, msg: out.Error}
	}

	shared.Update(out.ContextUpdates)

	done := time.Now()
	task.Result = out
	task.CompletedAt = &done
	task.Completed = true
	task.Status = TaskCompleted

	if out.Success {
		s.logger.Info("task completed",
			zap.String("task", task.Name),
			zap.Duration("duration", done.Sub(start)))
	} else {
		s.logger.Warn("task failed",
			zap.String("task", task.Name),
			zap.String("error", out.Error),
			zap.Duration("duration", done.Sub(start)))
	}

	for _, o := range observers {
		o.TaskCompleted(ctx, task, out)
	}
	return out
}

// Running returns currently executing tasks.
func (s *Scheduler) Running() []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tasks := make([]*Task, 0, len(s.running))
	for t := range s.running {
		tasks = append(tasks, t)
	}
	return tasks
}

type taskFailure struct {
	task string
	msg  string
}

func (e *taskFailure) Error() string { return e.task + ": " + e.msg }
