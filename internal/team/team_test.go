package team

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nidhogg/nora/internal/orchestrator"
)

type mapResolver map[string]orchestrator.Runnable

func (m mapResolver) Lookup(name string) (orchestrator.Runnable, bool) {
	r, ok := m[name]
	return r, ok
}

var noop = orchestrator.Legacy(func(context.Context, string, orchestrator.ChatFunc) error { return nil })

const reviewTeam = `
name: code-review
mode: parallel
model: codellama
agents:
  - agent: analyzer
  - agent: reviewer
    name: strict-reviewer
    depends_on: [analyzer]
    config:
      strict: true
  - agent: tester
    depends_on: [strict-reviewer]
`

func TestParseValidDescriptor(t *testing.T) {
	cfg, err := Parse([]byte(reviewTeam))
	require.NoError(t, err)
	assert.Equal(t, "code-review", cfg.Name)
	assert.Equal(t, "parallel", cfg.Mode)
	require.Len(t, cfg.Agents, 3)
	assert.Equal(t, "strict-reviewer", cfg.Agents[1].TaskName())
	assert.Equal(t, "tester", cfg.Agents[2].TaskName())
	assert.Equal(t, true, cfg.Agents[1].Config["strict"])
}

func TestParseValidation(t *testing.T) {
	cases := map[string]struct {
		doc   string
		field string
	}{
		"missing name":   {"mode: sequential\nagents: []\n", "name"},
		"missing mode":   {"name: t\nagents: []\n", "mode"},
		"missing agents": {"name: t\nmode: parallel\n", "agents"},
		"invalid mode":   {"name: t\nmode: random\nagents: []\n", "mode"},
		"entry no agent": {"name: t\nmode: parallel\nagents:\n  - name: x\n", "agents[0].agent"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			require.ErrorIs(t, err, ErrValidation)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestParseAllowsUnknownDependencies(t *testing.T) {
	cfg, err := Parse([]byte("name: t\nmode: parallel\nagents:\n  - agent: a\n    depends_on: [ghost]\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"ghost"}, cfg.Agents[0].DependsOn)
}

func TestBuildPlan(t *testing.T) {
	cfg, err := Parse([]byte(reviewTeam))
	require.NoError(t, err)

	plan, err := BuildPlan(cfg, mapResolver{"analyzer": noop, "reviewer": noop, "tester": noop}, "default-model", "")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.ModeParallel, plan.Mode)
	require.Len(t, plan.Tasks, 3)
	assert.Equal(t, "codellama", plan.Tasks[0].Model, "team model wins over the default")
	assert.Equal(t, []string{"analyzer"}, plan.Tasks[1].DependsOn)
	assert.Equal(t, map[string]any{"strict": true}, plan.Tasks[1].Config)
	assert.Equal(t, orchestrator.TaskPending, plan.Tasks[2].Status)

	plan, err = BuildPlan(cfg, mapResolver{"analyzer": noop, "reviewer": noop, "tester": noop}, "", "sequential")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.ModeSequential, plan.Mode)
}

func TestBuildPlanUnknownAgent(t *testing.T) {
	cfg, err := Parse([]byte(reviewTeam))
	require.NoError(t, err)

	_, err = BuildPlan(cfg, mapResolver{"analyzer": noop}, "m", "")
	require.ErrorIs(t, err, orchestrator.ErrConfiguration)
	var cerr *orchestrator.ConfigurationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "strict-reviewer", cerr.Task)
}

func TestBuildPlanInvalidOverride(t *testing.T) {
	cfg, err := Parse([]byte(reviewTeam))
	require.NoError(t, err)
	_, err = BuildPlan(cfg, mapResolver{}, "m", "diagonal")
	assert.ErrorIs(t, err, orchestrator.ErrConfiguration)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestLoadPlan(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "team.yaml")
	require.NoError(t, os.WriteFile(good, []byte(reviewTeam), 0o644))
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("name: x\n"), 0o644))

	agents := mapResolver{"analyzer": noop, "reviewer": noop, "tester": noop}
	cfg, plan, err := LoadPlan(good, agents, "m", "")
	require.NoError(t, err)
	assert.Equal(t, "code-review", cfg.Name)
	assert.Len(t, plan.Tasks, 3)

	_, _, err = LoadPlan(bad, agents, "m", "")
	assert.ErrorIs(t, err, orchestrator.ErrConfiguration)
	assert.ErrorIs(t, err, ErrValidation)

	_, _, err = LoadPlan(filepath.Join(dir, "missing.yaml"), agents, "m", "")
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
