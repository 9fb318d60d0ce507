package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nidhogg/nora/internal/provider"
)

type hookAgent struct {
	calls []string
	err   error
	out   *Outcome
	seen  error
}

func (a *hookAgent) OnStart(context.Context, Snapshot) { a.calls = append(a.calls, "start") }

func (a *hookAgent) Run(context.Context, Snapshot, string, ChatFunc, Toolbox) (*Outcome, error) {
	a.calls = append(a.calls, "run")
	return a.out, a.err
}

func (a *hookAgent) OnComplete(context.Context, *Outcome, Snapshot) {
	a.calls = append(a.calls, "complete")
}

func (a *hookAgent) OnError(_ context.Context, err error, _ Snapshot) {
	a.calls = append(a.calls, "error")
	a.seen = err
}

func TestRunnerLifecycleSuccess(t *testing.T) {
	a := &hookAgent{out: Succeeded("done").WithUpdates(map[string]any{"x": 1})}
	r := NewRunner(nil, nil, 0, zap.NewNop())

	out, err := r.Invoke(context.Background(), NewTask("a", Lifecycle(a), "m"), Snapshot{})
	require.NoError(t, err)
	assert.Same(t, a.out, out)
	assert.Equal(t, []string{"start", "run", "complete"}, a.calls)
}

func TestRunnerLifecycleErrorCallsOnErrorAndReturns(t *testing.T) {
	boom := errors.New("model unreachable")
	a := &hookAgent{err: boom}
	r := NewRunner(nil, nil, 0, zap.NewNop())

	out, err := r.Invoke(context.Background(), NewTask("a", Lifecycle(a), "m"), Snapshot{})
	assert.Nil(t, out)
	assert.Same(t, boom, err)
	assert.Same(t, boom, a.seen)
	assert.Equal(t, []string{"start", "run", "error"}, a.calls)
}

func TestRunnerLifecycleNilOutcome(t *testing.T) {
	a := &hookAgent{}
	r := NewRunner(nil, nil, 0, zap.NewNop())
	_, err := r.Invoke(context.Background(), NewTask("a", Lifecycle(a), "m"), Snapshot{})
	assert.EqualError(t, err, "agent returned no outcome")
}

func TestRunnerLegacyReceivesModelAndChat(t *testing.T) {
	var gotModel, reply string
	chat := func(_ context.Context, msgs []provider.Message, model string, _ bool) (string, error) {
		return "hi " + msgs[0].Content + " from " + model, nil
	}
	fn := func(ctx context.Context, model string, call ChatFunc) error {
		gotModel = model
		var err error
		reply, err = call(ctx, []provider.Message{{Role: "user", Content: "there"}}, model, true)
		return err
	}

	r := NewRunner(chat, nil, 0, zap.NewNop())
	out, err := r.Invoke(context.Background(), NewTask("g", Legacy(fn), "llama3"), Snapshot{})
	require.NoError(t, err)
	assert.Equal(t, Succeeded("completed"), out)
	assert.Equal(t, "llama3", gotModel)
	assert.Equal(t, "hi there from llama3", reply)
}

func TestRunnerRecoversPanics(t *testing.T) {
	r := NewRunner(nil, nil, 0, zap.NewNop())

	legacy := Legacy(func(context.Context, string, ChatFunc) error { panic("legacy exploded") })
	out, err := r.Invoke(context.Background(), NewTask("l", legacy, "m"), Snapshot{})
	require.NoError(t, err)
	assert.Equal(t, "panic: legacy exploded", out.Error)

	agent := &funcAgent{run: func(context.Context, Snapshot) (*Outcome, error) { panic("agent exploded") }}
	_, err = r.Invoke(context.Background(), NewTask("a", Lifecycle(agent), "m"), Snapshot{})
	assert.EqualError(t, err, "panic: agent exploded")
}

func TestRunnerTimeout(t *testing.T) {
	slow := Legacy(func(ctx context.Context, _ string, _ ChatFunc) error {
		<-ctx.Done()
		return ctx.Err()
	})
	r := NewRunner(nil, nil, 20*time.Millisecond, zap.NewNop())

	out, err := r.Invoke(context.Background(), NewTask("slow", slow, "m"), Snapshot{})
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "timed out")
}

func TestRunnerTimeoutWaitsForBody(t *testing.T) {
	var finished atomic.Bool
	stubborn := Legacy(func(context.Context, string, ChatFunc) error {
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return nil
	})
	r := NewRunner(nil, nil, 10*time.Millisecond, zap.NewNop())

	out, err := r.Invoke(context.Background(), NewTask("stubborn", stubborn, "m"), Snapshot{})
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, "task stubborn timed out after 10ms", out.Error)
	assert.True(t, finished.Load(), "Invoke returned before the body did")
}

func TestRunnableKinds(t *testing.T) {
	assert.Equal(t, "invalid", Runnable{}.Kind())
	assert.False(t, Legacy(nil).Valid())
	assert.False(t, Lifecycle(nil).Valid())
	assert.Equal(t, "legacy", Legacy(func(context.Context, string, ChatFunc) error { return nil }).Kind())
	assert.Equal(t, "lifecycle", Lifecycle(&hookAgent{}).Kind())
}
