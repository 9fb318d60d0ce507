package interpreter

import (
	"testing"

	"go.uber.org/zap"
)

func TestExtractActionsAllFormats(t *testing.T) {
	text := "Here you go.\n" +
		"<NORA_ACTION>{\"path\": \"index.html\", \"content\": \"<html></html>\"}</NORA_ACTION>\n" +
		"<NORA_ACTION>{not json}</NORA_ACTION>\n" +
		"```go cmd/main.go\npackage main\n```\n" +
		"# File: app.py\n\n```python\nprint('hi')\n```\n"

	actions := New(zap.NewNop()).ExtractActions(text)
	if len(actions) != 3 {
		t.Fatalf("got %d actions, want 3: %+v", len(actions), actions)
	}

	if a := actions[0]; a.Type != "create" || a.Path != "index.html" || a.Content != "<html></html>" {
		t.Errorf("json action = %+v", a)
	}
	if a := actions[1]; a.Path != "cmd/main.go" || a.Language != "go" || a.Content != "package main" {
		t.Errorf("fenced action = %+v", a)
	}
	if a := actions[2]; a.Path != "app.py" || a.Language != "python" || a.Content != "print('hi')" {
		t.Errorf("header action = %+v", a)
	}
}

func TestFencedBlockWithoutPathIsIgnored(t *testing.T) {
	text := "```python\nprint('no path')\n```\n```bash run\necho\n```\n"
	if actions := New(zap.NewNop()).ExtractActions(text); len(actions) != 0 {
		t.Errorf("expected no actions, got %+v", actions)
	}
}

func TestHeaderWithEmptyBlockIsIgnored(t *testing.T) {
	text := "# File: empty.txt\n```\n\n```\n# File: notes.md\nno fence here\n"
	if actions := New(zap.NewNop()).ExtractActions(text); len(actions) != 0 {
		t.Errorf("expected no actions, got %+v", actions)
	}
}

func TestExtractCommands(t *testing.T) {
	text := "<NORA_COMMAND>npm install</NORA_COMMAND> and <NORA_COMMAND>  </NORA_COMMAND><NORA_COMMAND>\ngo test ./...\n</NORA_COMMAND>"
	cmds := New(zap.NewNop()).ExtractCommands(text)
	if len(cmds) != 2 {
		t.Fatalf("got %d commands, want 2", len(cmds))
	}
	if cmds[0].Command != "npm install" || cmds[1].Command != "go test ./..." {
		t.Errorf("commands = %+v", cmds)
	}
}

func TestExtractToolCalls(t *testing.T) {
	in := New(zap.NewNop())

	calls := in.ExtractToolCalls(`[{"tool_name": "read_file", "parameters": {"path": "go.mod"}}, {"tool_name": "broken"}]`)
	if len(calls) != 1 || calls[0].ToolName != "read_file" || calls[0].Parameters["path"] != "go.mod" {
		t.Errorf("calls = %+v", calls)
	}

	fenced := "I'll check.\n```json\n[{\"tool_name\": \"shell\", \"parameters\": {\"command\": \"ls\"}}]\n```"
	if calls := in.ExtractToolCalls(fenced); len(calls) != 1 || calls[0].ToolName != "shell" {
		t.Errorf("fenced calls = %+v", calls)
	}

	if calls := in.ExtractToolCalls("just prose"); calls != nil {
		t.Errorf("expected nil, got %+v", calls)
	}
}
