package orchestrator

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConfiguration = errors.New("configuration error")
	ErrDeadlock      = errors.New("dependency deadlock")
)

// ConfigurationError reports a team or task definition that cannot run.
// Task is empty when the problem is not tied to a single task.
type ConfigurationError struct {
	Task string
	Msg  string
	Err  error
}

func (e *ConfigurationError) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(ErrConfiguration.Error())
	if e.Task != "" {
		fmt.Fprintf(&b, ": task %q", e.Task)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Configf builds a ConfigurationError that is not tied to a task.
func Configf(format string, args ...any) error {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

// DeadlockError is returned by a parallel run that stalled with tasks still
// pending. Pending lists every task that never became ready, sorted.
type DeadlockError struct {
	Pending []string
}

func (e *DeadlockError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: no runnable tasks, pending: %s",
		ErrDeadlock.Error(), strings.Join(e.Pending, ", "))
}

func (e *DeadlockError) Unwrap() error { return ErrDeadlock }
