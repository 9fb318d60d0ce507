package actions

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/nora/internal/interpreter"
)

func newTestManager(t *testing.T, safe bool, answer bool) (*Manager, *int) {
	t.Helper()
	asked := 0
	m, err := NewManager(t.TempDir(), safe, ConfirmFunc(func(string) bool {
		asked++
		return answer
	}), zap.NewNop())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m, &asked
}

func TestCreateAndReadFile(t *testing.T) {
	m, _ := newTestManager(t, true, false)

	ok, msg := m.CreateFile("src/app/main.go", "package main\n", false)
	if !ok {
		t.Fatalf("create failed: %s", msg)
	}
	if msg != "Created: src/app/main.go" {
		t.Errorf("message = %q", msg)
	}
	ok, content := m.ReadFile("src/app/main.go")
	if !ok || content != "package main\n" {
		t.Errorf("read = %v %q", ok, content)
	}
}

func TestCreateFileOverwriteNeedsConfirmation(t *testing.T) {
	m, asked := newTestManager(t, true, false)
	m.CreateFile("a.txt", "one", false)

	ok, msg := m.CreateFile("a.txt", "two", false)
	if ok || msg != "Cancelled: a.txt" {
		t.Errorf("got %v %q, want cancelled", ok, msg)
	}
	if *asked != 1 {
		t.Errorf("confirmer asked %d times, want 1", *asked)
	}
	if ok, _ := m.CreateFile("a.txt", "three", true); !ok {
		t.Error("forced create should overwrite")
	}
	_, content := m.ReadFile("a.txt")
	if content != "three" {
		t.Errorf("content = %q", content)
	}
}

func TestPathsOutsideRootAreRejected(t *testing.T) {
	m, _ := newTestManager(t, false, true)

	for _, p := range []string{"../escape.txt", "/etc/passwd", "a/../../b"} {
		ok, msg := m.CreateFile(p, "x", true)
		if ok || !strings.HasPrefix(msg, "Security error") {
			t.Errorf("%s: got %v %q", p, ok, msg)
		}
	}
	if ok, _ := m.ReadFile("../../etc/hosts"); ok {
		t.Error("read outside root should fail")
	}
}

func TestReadMissingAndDirectory(t *testing.T) {
	m, _ := newTestManager(t, false, true)
	m.CreateDirectory("pkg")

	if ok, msg := m.ReadFile("nope.txt"); ok || msg != "File not found: nope.txt" {
		t.Errorf("missing: %v %q", ok, msg)
	}
	if ok, msg := m.ReadFile("pkg"); ok || msg != "Not a file: pkg" {
		t.Errorf("dir: %v %q", ok, msg)
	}
}

func TestAppendAndDelete(t *testing.T) {
	m, asked := newTestManager(t, true, true)

	m.AppendFile("log.txt", "a")
	m.AppendFile("log.txt", "b")
	_, content := m.ReadFile("log.txt")
	if content != "ab" {
		t.Errorf("content = %q", content)
	}

	if ok, _ := m.DeleteFile("log.txt", false); !ok {
		t.Error("delete should succeed after confirmation")
	}
	if *asked != 1 {
		t.Errorf("asked %d times", *asked)
	}
	if _, err := os.Stat(filepath.Join(m.Root(), "log.txt")); !os.IsNotExist(err) {
		t.Error("file still exists")
	}
	if ok, msg := m.DeleteFile("log.txt", true); ok || !strings.HasPrefix(msg, "File not found") {
		t.Errorf("second delete: %v %q", ok, msg)
	}
}

func TestListFiles(t *testing.T) {
	m, _ := newTestManager(t, false, true)
	m.CreateFile("b.go", "", true)
	m.CreateFile("a.go", "", true)
	m.CreateFile("c.txt", "", true)
	m.CreateDirectory("sub.go")

	ok, files := m.ListFiles(".", "*.go")
	if !ok {
		t.Fatalf("list failed: %v", files)
	}
	if len(files) != 2 || files[0] != "a.go" || files[1] != "b.go" {
		t.Errorf("files = %v", files)
	}
	if ok, _ := m.ListFiles("missing", "*"); ok {
		t.Error("missing dir should fail")
	}
}

func TestRunCommand(t *testing.T) {
	m, _ := newTestManager(t, false, true)
	ctx := context.Background()

	ok, out := m.RunCommand(ctx, "echo hello", "", 0, false)
	if !ok || strings.TrimSpace(out) != "hello" {
		t.Errorf("echo: %v %q", ok, out)
	}

	ok, out = m.RunCommand(ctx, "echo oops 1>&2; exit 3", "", 0, true)
	if ok || strings.TrimSpace(out) != "oops" {
		t.Errorf("failing command: %v %q", ok, out)
	}

	for _, cmd := range []string{"sudo ls", "rm -rf /tmp/x", "echo hi > f.txt", "CHMOD 777 x"} {
		ok, out := m.RunCommand(ctx, cmd, "", 0, false)
		if ok || !strings.HasPrefix(out, "Blocked dangerous pattern") {
			t.Errorf("%q: %v %q", cmd, ok, out)
		}
	}
}

func TestRunCommandTimeout(t *testing.T) {
	m, _ := newTestManager(t, false, true)
	ok, out := m.RunCommand(context.Background(), "sleep 5", "", 100*time.Millisecond, false)
	if ok || !strings.Contains(out, "timed out") {
		t.Errorf("got %v %q", ok, out)
	}
}

func TestApply(t *testing.T) {
	m, _ := newTestManager(t, false, true)
	results := m.Apply([]interpreter.FileAction{
		{Type: "create", Path: "x.txt", Content: "1"},
		{Type: "append", Path: "x.txt", Content: "2"},
		{Type: "rename", Path: "x.txt"},
		{Type: "create", Path: "../bad", Content: "z"},
	})
	if len(results) != 4 {
		t.Fatalf("got %d results", len(results))
	}
	if !results[0].OK || !results[1].OK {
		t.Errorf("create/append failed: %+v", results[:2])
	}
	if results[2].OK || results[2].Message != "Unknown action: rename" {
		t.Errorf("unknown action: %+v", results[2])
	}
	if results[3].OK {
		t.Error("escape should fail")
	}
	_, content := m.ReadFile("x.txt")
	if content != "12" {
		t.Errorf("content = %q", content)
	}
}
