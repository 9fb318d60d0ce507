package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nidhogg/nora/internal/actions"
	"github.com/nidhogg/nora/internal/provider"
)

type fileArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type shellArgs struct {
	Command string `json:"command"`
	Cwd     string `json:"cwd"`
}

func objectSchema(required []string, props map[string]string) map[string]interface{} {
	properties := make(map[string]interface{}, len(props))
	for name, desc := range props {
		properties[name] = map[string]string{"type": "string", "description": desc}
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

func function(name, desc string, params map[string]interface{}) provider.Tool {
	return provider.Tool{
		Type: "function",
		Function: provider.ToolFunction{
			Name:        name,
			Description: desc,
			Parameters:  params,
		},
	}
}

// result turns an actions (ok, message) pair into a tool result. Failures
// are reported as text so the model can see them.
func result(ok bool, msg string) (string, error) {
	if !ok {
		return "Error: " + msg, nil
	}
	return msg, nil
}

// RegisterBuiltins adds the file and shell tools backed by the actions manager.
// Tools run forced: the agent asked for them, there is nobody to confirm.
func RegisterBuiltins(reg *Registry, act *actions.Manager) {
	pathOnly := objectSchema([]string{"path"}, map[string]string{
		"path": "File path relative to the project root",
	})
	pathContent := objectSchema([]string{"path", "content"}, map[string]string{
		"path":    "File path relative to the project root",
		"content": "Text to write",
	})

	reg.Register(function("create_file", "Create a new file with the given content", pathContent),
		func(ctx context.Context, args string) (string, error) {
			p, err := parseFileArgs(args, true)
			if err != nil {
				return "", err
			}
			return result(act.CreateFile(p.Path, p.Content, true))
		})

	reg.Register(function("read_file", "Read the content of a file", pathOnly),
		func(ctx context.Context, args string) (string, error) {
			p, err := parseFileArgs(args, false)
			if err != nil {
				return "", err
			}
			return result(act.ReadFile(p.Path))
		})

	reg.Register(function("append_file", "Append content to an existing file", pathContent),
		func(ctx context.Context, args string) (string, error) {
			p, err := parseFileArgs(args, true)
			if err != nil {
				return "", err
			}
			return result(act.AppendFile(p.Path, p.Content))
		})

	reg.Register(function("delete_file", "Delete a file", pathOnly),
		func(ctx context.Context, args string) (string, error) {
			p, err := parseFileArgs(args, false)
			if err != nil {
				return "", err
			}
			return result(act.DeleteFile(p.Path, true))
		})

	reg.Register(function("shell", "Execute a shell command in the project directory",
		objectSchema([]string{"command"}, map[string]string{
			"command": "Command line to run",
			"cwd":     "Working directory relative to the project root (optional)",
		})),
		func(ctx context.Context, args string) (string, error) {
			var p shellArgs
			if err := json.Unmarshal([]byte(args), &p); err != nil {
				return "", fmt.Errorf("parse args: %w", err)
			}
			if p.Command == "" {
				return "", fmt.Errorf("command is a required parameter")
			}
			return result(act.RunCommand(ctx, p.Command, p.Cwd, 0, false))
		})
}

func parseFileArgs(args string, needContent bool) (fileArgs, error) {
	var p fileArgs
	if err := json.Unmarshal([]byte(args), &p); err != nil {
		return p, fmt.Errorf("parse args: %w", err)
	}
	if p.Path == "" {
		return p, fmt.Errorf("path is a required parameter")
	}
	if needContent && p.Content == "" {
		return p, fmt.Errorf("path and content are required parameters")
	}
	return p, nil
}
