package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fakeOllama serves the endpoints setup and the agent runs use. Chat
// replies stream reply one word per line.
func fakeOllama(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/version", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"version":"0.6.2"}`)
	})
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"models":[{"name":"llama3:8b","size":1},{"name":"qwen2.5-coder:7b","size":2}]}`)
	})
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, word := range strings.Fields(reply) {
			fmt.Fprintf(w, `{"message":{"role":"assistant","content":%q},"done":false}`+"\n", word+" ")
		}
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true,"done_reason":"stop"}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func executeWithInput(t *testing.T, input string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetIn(strings.NewReader(input))
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func showKey(t *testing.T, path, key string) string {
	t.Helper()
	out, err := execute(t, "--config", path, "config", "show", key)
	if err != nil {
		t.Fatalf("config show %s: %v", key, err)
	}
	return strings.TrimSpace(out)
}

func TestSetupInteractive(t *testing.T) {
	srv := fakeOllama(t, "")
	path := filepath.Join(t.TempDir(), "config.yaml")

	out, err := executeWithInput(t, srv.URL+"\n2\n", "--config", path, "setup")
	if err != nil {
		t.Fatalf("setup: %v\n%s", err, out)
	}
	for _, want := range []string{"Ollama version 0.6.2", "1. llama3:8b", "2. qwen2.5-coder:7b", path} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	if got := showKey(t, path, "ollama.url"); got != srv.URL {
		t.Errorf("ollama.url = %q, want %q", got, srv.URL)
	}
	if got := showKey(t, path, "ollama.api"); got != "ollama" {
		t.Errorf("ollama.api = %q", got)
	}
	if got := showKey(t, path, "model"); got != "qwen2.5-coder:7b" {
		t.Errorf("model = %q", got)
	}
}

func TestSetupRejectsBadSelection(t *testing.T) {
	srv := fakeOllama(t, "")
	path := filepath.Join(t.TempDir(), "config.yaml")

	out, err := executeWithInput(t, srv.URL+"\nseven\n9\n\n", "--config", path, "setup")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if !strings.Contains(out, "enter a number") || !strings.Contains(out, "between 1 and 2") {
		t.Errorf("bad selections not reported:\n%s", out)
	}
	if got := showKey(t, path, "model"); got != "llama3:8b" {
		t.Errorf("model = %q, want the first listed", got)
	}
}

func TestSetupKeepsUnreachableURL(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	dead := srv.URL
	srv.Close()
	path := filepath.Join(t.TempDir(), "config.yaml")

	out, err := executeWithInput(t, dead+"\nn\n", "--config", path, "setup")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if !strings.Contains(out, "connection failed") {
		t.Errorf("failure not reported:\n%s", out)
	}
	if got := showKey(t, path, "ollama.url"); got != dead {
		t.Errorf("ollama.url = %q, want %q", got, dead)
	}
	if got := showKey(t, path, "ollama.api"); got != "auto" {
		t.Errorf("ollama.api = %q", got)
	}
	if got := showKey(t, path, "model"); got != "deepseek-coder:6.7b" {
		t.Errorf("model = %q, want the default", got)
	}
}

func TestSetupWithFlags(t *testing.T) {
	srv := fakeOllama(t, "")
	path := filepath.Join(t.TempDir(), "config.yaml")

	if out, err := executeWithInput(t, "", "--config", path, "--model", "codellama", "setup", "--url", srv.URL); err != nil {
		t.Fatalf("setup: %v\n%s", err, out)
	}
	if got := showKey(t, path, "model"); got != "codellama" {
		t.Errorf("model = %q", got)
	}

	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()
	other := filepath.Join(t.TempDir(), "config.yaml")
	if _, err := executeWithInput(t, "", "--config", other, "setup", "--url", deadURL); err == nil {
		t.Error("expected error for unreachable --url")
	}
	if _, err := os.Stat(other); !os.IsNotExist(err) {
		t.Error("config written despite failed setup")
	}
}

func TestTeamStreamsAgentReplies(t *testing.T) {
	srv := fakeOllama(t, "hello from the greeter")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	conf := fmt.Sprintf(`model: llama3:8b
ollama:
  url: %s
  api: ollama
history:
  path: %s
index:
  path: %s
plugins:
  dir: %s
`, srv.URL, filepath.Join(dir, "history.json"), filepath.Join(dir, "index.json"), filepath.Join(dir, "agents"))
	if err := os.WriteFile(path, []byte(conf), 0o600); err != nil {
		t.Fatal(err)
	}
	teamFile := filepath.Join(dir, "team.yaml")
	if err := os.WriteFile(teamFile, []byte("name: hello\nmode: sequential\nagents:\n  - agent: greeter\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "--config", path, "team", teamFile)
	if err != nil {
		t.Fatalf("team: %v\n%s", err, out)
	}
	if !strings.Contains(out, "hello from the greeter") {
		t.Errorf("streamed reply missing from output:\n%s", out)
	}
}
