// Package interpreter extracts file actions, shell commands and tool calls
// from model replies.
package interpreter

import (
	"encoding/json"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// FileAction is a file operation requested by the model.
type FileAction struct {
	Type     string `json:"action"` // create|append|read|delete
	Path     string `json:"path"`
	Content  string `json:"content,omitempty"`
	Language string `json:"language,omitempty"`
}

// CommandAction is a shell command requested by the model.
type CommandAction struct {
	Command string `json:"command"`
	Cwd     string `json:"cwd,omitempty"`
}

// ToolCall is a structured tool invocation requested by the model.
type ToolCall struct {
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters"`
}

var (
	headerRe      = regexp.MustCompile(`(?i)^#\s*File:\s*(.+?)\s*$`)
	fencedPathRe  = regexp.MustCompile("(?s)```(\\w+)?[ \\t]+([^\\n]+)\\n(.*?)```")
	jsonActionRe  = regexp.MustCompile(`(?s)<NORA_ACTION>(.*?)</NORA_ACTION>`)
	commandRe     = regexp.MustCompile(`(?s)<NORA_COMMAND>(.*?)</NORA_COMMAND>`)
	fencedJSONRe  = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(\\[.*?\\])\\s*```")
	onlyLettersRe = regexp.MustCompile(`^[A-Za-z]+$`)
)

// Interpreter parses model output.
type Interpreter struct {
	logger *zap.Logger
}

// New creates an interpreter.
func New(logger *zap.Logger) *Interpreter {
	return &Interpreter{logger: logger}
}

// ExtractActions returns every file action found in text: NORA_ACTION JSON
// tags first, then fenced blocks carrying a path, then "# File:" headers.
func (in *Interpreter) ExtractActions(text string) []FileAction {
	var actions []FileAction
	actions = append(actions, in.jsonActions(text)...)
	actions = append(actions, fencedWithPath(text)...)
	actions = append(actions, headerActions(text)...)
	in.logger.Debug("extracted file actions", zap.Int("count", len(actions)))
	return actions
}

func (in *Interpreter) jsonActions(text string) []FileAction {
	var actions []FileAction
	for _, m := range jsonActionRe.FindAllStringSubmatch(text, -1) {
		var a FileAction
		if err := json.Unmarshal([]byte(strings.TrimSpace(m[1])), &a); err != nil {
			in.logger.Warn("invalid json in NORA_ACTION tag", zap.Error(err))
			continue
		}
		if a.Path == "" {
			continue
		}
		if a.Type == "" {
			a.Type = "create"
		}
		actions = append(actions, a)
	}
	return actions
}

func fencedWithPath(text string) []FileAction {
	var actions []FileAction
	for _, m := range fencedPathRe.FindAllStringSubmatch(text, -1) {
		path := strings.TrimSpace(m[2])
		if path == "" || onlyLettersRe.MatchString(path) {
			continue
		}
		if !strings.ContainsAny(path, "/.") {
			continue
		}
		actions = append(actions, FileAction{
			Type:     "create",
			Path:     path,
			Content:  strings.TrimSpace(m[3]),
			Language: m[1],
		})
	}
	return actions
}

func headerActions(text string) []FileAction {
	var actions []FileAction
	lines := strings.Split(text, "\n")

	for i := 0; i < len(lines); i++ {
		m := headerRe.FindStringSubmatch(lines[i])
		if m == nil {
			continue
		}
		path := strings.TrimSpace(m[1])

		i++
		for i < len(lines) && strings.TrimSpace(lines[i]) == "" {
			i++
		}
		if i >= len(lines) || !strings.HasPrefix(strings.TrimSpace(lines[i]), "```") {
			i--
			continue
		}

		lang := strings.TrimSpace(strings.TrimSpace(lines[i])[3:])
		if strings.Contains(lang, "/") {
			lang = ""
		}
		i++

		var body []string
		for i < len(lines) && !strings.HasPrefix(strings.TrimSpace(lines[i]), "```") {
			body = append(body, lines[i])
			i++
		}

		content := strings.TrimSpace(strings.Join(body, "\n"))
		if content == "" {
			continue
		}
		actions = append(actions, FileAction{Type: "create", Path: path, Content: content, Language: lang})
	}
	return actions
}

// ExtractCommands returns the non-blank NORA_COMMAND bodies in text.
func (in *Interpreter) ExtractCommands(text string) []CommandAction {
	var cmds []CommandAction
	for _, m := range commandRe.FindAllStringSubmatch(text, -1) {
		if c := strings.TrimSpace(m[1]); c != "" {
			cmds = append(cmds, CommandAction{Command: c})
		}
	}
	return cmds
}

// ExtractToolCalls parses a JSON array of {tool_name, parameters} objects,
// either as the whole reply or inside a fenced block. Entries missing
// either field are ignored.
func (in *Interpreter) ExtractToolCalls(text string) []ToolCall {
	candidates := []string{strings.TrimSpace(text)}
	for _, m := range fencedJSONRe.FindAllStringSubmatch(text, -1) {
		candidates = append(candidates, m[1])
	}

	for _, c := range candidates {
		var raw []map[string]json.RawMessage
		if json.Unmarshal([]byte(c), &raw) != nil {
			continue
		}
		var calls []ToolCall
		for _, item := range raw {
			nameRaw, okName := item["tool_name"]
			paramsRaw, okParams := item["parameters"]
			if !okName || !okParams {
				continue
			}
			var call ToolCall
			if json.Unmarshal(nameRaw, &call.ToolName) != nil || json.Unmarshal(paramsRaw, &call.Parameters) != nil {
				continue
			}
			calls = append(calls, call)
		}
		if len(calls) > 0 {
			return calls
		}
	}
	return nil
}

// SystemPrompt tells the model which formats the interpreter understands.
func SystemPrompt() string {
	return systemPrompt
}

const systemPrompt = "You are an AI coding assistant with the ability to create and modify files.\n" +
	"\n" +
	"When generating code files, use one of these formats:\n" +
	"\n" +
	"1. Header style (recommended):\n" +
	"# File: path/to/file.ext\n" +
	"```language\n" +
	"code content here\n" +
	"```\n" +
	"\n" +
	"2. Inline path:\n" +
	"```language path/to/file.ext\n" +
	"code content here\n" +
	"```\n" +
	"\n" +
	"3. JSON action (for complex operations):\n" +
	"<NORA_ACTION>\n" +
	"{\"action\": \"create\", \"path\": \"path/to/file.ext\", \"content\": \"file content here\", \"language\": \"html\"}\n" +
	"</NORA_ACTION>\n" +
	"\n" +
	"For commands (use sparingly):\n" +
	"<NORA_COMMAND>command to run</NORA_COMMAND>\n" +
	"\n" +
	"Always specify the full relative path from the project root.\n"
