package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type captureRecorder struct {
	reports []*RunReport
	err     error
}

func (r *captureRecorder) RecordRun(_ context.Context, report *RunReport) error {
	r.reports = append(r.reports, report)
	return r.err
}

func TestCoordinatorRunProducesReport(t *testing.T) {
	c := NewCoordinator(newTestScheduler(2), nil, zap.NewNop())
	rec := &captureRecorder{}
	failing := &captureRecorder{err: errors.New("db down")}
	c.AddRecorder(failing)
	c.AddRecorder(rec)

	plan := &Plan{
		Team: "review",
		Mode: ModeParallel,
		Tasks: []*Task{
			legacyTask("analyzer", func() error { return nil }),
			legacyTask("reviewer", func() error { return errors.New("boom") }, "analyzer"),
		},
	}

	report, err := c.Run(context.Background(), plan)
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.NotEmpty(t, report.ID)
	assert.Equal(t, "review", report.Team)
	assert.Len(t, report.Results, 2)
	assert.False(t, report.Succeeded())
	assert.Contains(t, report.Summary(), "- analyzer: ok (completed)")
	assert.Contains(t, report.Summary(), "- reviewer: failed: boom")

	require.Len(t, rec.reports, 1, "recorder errors must not stop later recorders")
	assert.Same(t, report, rec.reports[0])
}

func TestCoordinatorReportsDeadlock(t *testing.T) {
	c := NewCoordinator(newTestScheduler(2), nil, zap.NewNop())
	rec := &captureRecorder{}
	c.AddRecorder(rec)

	report, err := c.Run(context.Background(), &Plan{
		Team: "stuck",
		Mode: ModeParallel,
		Tasks: []*Task{
			legacyTask("a", func() error { return nil }, "b"),
			legacyTask("b", func() error { return nil }, "a"),
		},
	})
	assert.ErrorIs(t, err, ErrDeadlock)
	require.NotNil(t, report)
	assert.Contains(t, report.Deadlock, "a, b")
	assert.Contains(t, report.Summary(), "- a: not run")
	assert.Len(t, rec.reports, 1)
}

func TestCoordinatorRejectsEmptyPlan(t *testing.T) {
	c := NewCoordinator(newTestScheduler(1), nil, zap.NewNop())
	_, err := c.Run(context.Background(), &Plan{Team: "empty", Mode: ModeSequential})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestCoordinatorReportKeepsUnreadMessages(t *testing.T) {
	c := NewCoordinator(newTestScheduler(2), nil, zap.NewNop())
	post := func(ctx context.Context, snap Snapshot) (*Outcome, error) {
		m, _ := MessagesFrom(ctx)
		m.PostMessage(snap.AgentName(), "done", nil)
		return Succeeded(nil), nil
	}

	report, err := c.Run(context.Background(), &Plan{
		Team: "chatty",
		Mode: ModeSequential,
		Tasks: []*Task{
			agentTask("first", post),
			agentTask("second", post),
		},
	})
	require.NoError(t, err)
	require.Len(t, report.Messages, 2)
	assert.Equal(t, "first", report.Messages[0].Sender)
	assert.Equal(t, "second", report.Messages[1].Sender)
}
