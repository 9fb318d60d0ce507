package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/nidhogg/nora/internal/chat"
	"github.com/nidhogg/nora/internal/indexer"
	"github.com/nidhogg/nora/internal/orchestrator"
	"github.com/nidhogg/nora/internal/plugin"
	"github.com/nidhogg/nora/internal/provider"
)

type fakeChat struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeChat) call(_ context.Context, msgs []provider.Message, model string, _ bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "echo: " + msgs[len(msgs)-1].Content, nil
}

// newTestHandler creates a Handler wired with in-memory deps (no databases).
func newTestHandler(t *testing.T, fc *fakeChat) *httptest.Server {
	t.Helper()
	logger := zap.NewNop()

	agents := plugin.NewRegistry(logger)
	if err := plugin.RegisterBuiltins(agents); err != nil {
		t.Fatalf("register builtins: %v", err)
	}
	agents.Register(&plugin.Plugin{
		Metadata: plugin.Metadata{Name: "failer", Description: "always fails", Version: "1.0.0"},
		Source:   "test",
		Runnable: orchestrator.Legacy(func(context.Context, string, orchestrator.ChatFunc) error {
			return errors.New("boom")
		}),
	})

	runner := orchestrator.NewRunner(fc.call, nil, 0, logger)
	coord := orchestrator.NewCoordinator(orchestrator.NewScheduler(runner, 2, logger), nil, logger)
	engine := chat.NewEngine(fc.call, "test-model", nil, nil, nil, logger)
	ix := indexer.New(filepath.Join(t.TempDir(), "index.json"), logger)

	h := NewHandler(engine, agents, coord, ix, logger)
	h.SetVersion("test")
	ts := httptest.NewServer(h.Router())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func getJSON(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func writeTeam(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "team.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write team: %v", err)
	}
	return path
}

// --- Tests ---

func TestHealthCheck(t *testing.T) {
	ts := newTestHandler(t, &fakeChat{})

	resp := getJSON(t, ts, "/api/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["status"] != "ok" || body["model"] != "test-model" {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestChat(t *testing.T) {
	ts := newTestHandler(t, &fakeChat{})

	resp := postJSON(t, ts, "/api/chat", map[string]string{"message": "hello"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var reply chat.Reply
	decodeJSON(t, resp, &reply)
	if reply.Content != "echo: hello" || reply.Model != "test-model" {
		t.Errorf("unexpected reply: %+v", reply)
	}

	resp = postJSON(t, ts, "/api/chat", map[string]string{"message": ""})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty message: expected 400, got %d", resp.StatusCode)
	}
}

func TestChatUpstreamError(t *testing.T) {
	ts := newTestHandler(t, &fakeChat{err: errors.New("connection refused")})

	resp := postJSON(t, ts, "/api/chat", map[string]string{"message": "hi"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", resp.StatusCode)
	}
}

func TestListAndGetAgents(t *testing.T) {
	ts := newTestHandler(t, &fakeChat{})

	var agents []map[string]any
	decodeJSON(t, getJSON(t, ts, "/api/agents"), &agents)
	if len(agents) != 2 || agents[0]["name"] != "failer" || agents[1]["name"] != "greeter" {
		t.Fatalf("unexpected agents: %v", agents)
	}
	if agents[1]["kind"] != "legacy" {
		t.Errorf("greeter kind = %v", agents[1]["kind"])
	}

	resp := getJSON(t, ts, "/api/agents/nobody")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestRunAgent(t *testing.T) {
	fc := &fakeChat{}
	ts := newTestHandler(t, fc)

	resp := postJSON(t, ts, "/api/agents/greeter", map[string]string{"model": "m"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Agent  string               `json:"agent"`
		Result orchestrator.Outcome `json:"result"`
	}
	decodeJSON(t, resp, &body)
	if !body.Result.Success || fc.calls != 1 {
		t.Errorf("result = %+v, calls = %d", body.Result, fc.calls)
	}

	resp = postJSON(t, ts, "/api/agents/failer", nil)
	decodeJSON(t, resp, &body)
	if body.Result.Success || body.Result.Error != "boom" {
		t.Errorf("failer result = %+v", body.Result)
	}

	resp = postJSON(t, ts, "/api/agents/missing", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestRunTeam(t *testing.T) {
	ts := newTestHandler(t, &fakeChat{})
	path := writeTeam(t, `
name: demo
mode: parallel
agents:
  - agent: greeter
    name: first
  - agent: greeter
    name: second
    depends_on: [first]
`)

	resp := postJSON(t, ts, "/api/team", map[string]string{"config_path": path})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body teamResponse
	decodeJSON(t, resp, &body)
	if body.Team != "demo" || body.RunID == "" || !body.Success || len(body.Results) != 2 {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestRunTeamErrors(t *testing.T) {
	ts := newTestHandler(t, &fakeChat{})

	unknown := writeTeam(t, "name: x\nmode: sequential\nagents:\n  - agent: nobody\n")
	deadlock := writeTeam(t, "name: x\nmode: parallel\nagents:\n  - agent: greeter\n    depends_on: [ghost]\n")
	badMode := writeTeam(t, "name: x\nmode: sideways\nagents:\n  - agent: greeter\n")

	tests := []struct {
		name string
		body map[string]string
		want int
	}{
		{"missing path", map[string]string{}, http.StatusBadRequest},
		{"no such file", map[string]string{"config_path": filepath.Join(t.TempDir(), "nope.yaml")}, http.StatusNotFound},
		{"unknown agent", map[string]string{"config_path": unknown}, http.StatusBadRequest},
		{"invalid mode", map[string]string{"config_path": badMode}, http.StatusBadRequest},
		{"invalid mode override", map[string]string{"config_path": unknown, "mode": "sideways"}, http.StatusBadRequest},
		{"deadlock", map[string]string{"config_path": deadlock}, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts, "/api/team", tt.body)
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("expected %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}

func TestRunsWithoutStore(t *testing.T) {
	ts := newTestHandler(t, &fakeChat{})
	resp := getJSON(t, ts, "/api/runs")
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", resp.StatusCode)
	}
}

func TestIndexAndSearchProject(t *testing.T) {
	ts := newTestHandler(t, &fakeChat{})

	project := t.TempDir()
	os.WriteFile(filepath.Join(project, "server.go"), []byte("package main\n\nimport \"net/http\"\n\nfunc handleLogin() {}\n"), 0o644)
	os.WriteFile(filepath.Join(project, "README.md"), []byte("# demo\n"), 0o644)

	resp := postJSON(t, ts, "/api/projects/index", map[string]string{"path": project, "name": "demo"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var summary map[string]any
	decodeJSON(t, resp, &summary)
	if summary["project_name"] != "demo" || summary["total_files"] != float64(2) {
		t.Errorf("unexpected summary: %v", summary)
	}

	resp = postJSON(t, ts, "/api/projects/search", map[string]any{"query": "login"})
	var results []indexer.Result
	decodeJSON(t, resp, &results)
	if len(results) != 1 || results[0].RelativePath != "server.go" {
		t.Errorf("unexpected results: %+v", results)
	}

	resp = postJSON(t, ts, "/api/projects/search", map[string]any{"query": "login", "semantic": true})
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("semantic without rag: expected 503, got %d", resp.StatusCode)
	}

	resp = postJSON(t, ts, "/api/projects/index", map[string]string{"path": filepath.Join(project, "missing")})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing project: expected 400, got %d", resp.StatusCode)
	}
}
