package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/nidhogg/nora/internal/orchestrator"
)

func TestStatusLinesKeepText(t *testing.T) {
	cases := map[string]string{
		Success("saved %s", "a.txt"): "saved a.txt",
		Error("failed: %d", 3):       "failed: 3",
		Warning("careful"):           "careful",
		Info("note"):                 "note",
	}
	for got, want := range cases {
		if !strings.Contains(got, want) {
			t.Errorf("%q does not contain %q", got, want)
		}
	}
}

func TestTableAligns(t *testing.T) {
	out := Table([]string{"NAME", "KIND"}, [][]string{{"greeter", "legacy"}, {"reviewer", "lifecycle"}})
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[2], "reviewer") || !strings.Contains(lines[2], "lifecycle") {
		t.Errorf("row = %q", lines[2])
	}
}

func TestRunReport(t *testing.T) {
	a := orchestrator.NewTask("plan", orchestrator.Runnable{}, "m")
	b := orchestrator.NewTask("code", orchestrator.Runnable{}, "m", "plan")
	c := orchestrator.NewTask("ship", orchestrator.Runnable{}, "m", "code")
	out := RunReport(&orchestrator.RunReport{
		ID:   "r1",
		Team: "dev",
		Mode: orchestrator.ModeParallel,
		Results: orchestrator.Results{
			"plan": orchestrator.Succeeded("3 steps"),
			"code": orchestrator.Failed("compile error"),
		},
		Tasks:    []*orchestrator.Task{a, b, c},
		Duration: 2 * time.Second,
	})
	for _, want := range []string{"Team dev", "plan: 3 steps", "code: compile error", "ship: not run"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}
