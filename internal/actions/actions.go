// Package actions performs file operations and shell commands on behalf of
// the model, confined to a project root.
package actions

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/nora/internal/interpreter"
)

// DefaultCommandTimeout bounds RunCommand when no timeout is given.
const DefaultCommandTimeout = 30 * time.Second

// dangerousPatterns are refused by RunCommand unless explicitly allowed.
var dangerousPatterns = []string{"rm -rf", "sudo", "chmod", "chown", ">", ">>"}

// ErrOutsideRoot is returned when a path escapes the project root.
var ErrOutsideRoot = errors.New("path escapes project root")

// Confirmer asks the user a yes/no question.
type Confirmer interface {
	Confirm(question string) bool
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(question string) bool

func (f ConfirmFunc) Confirm(q string) bool { return f(q) }

// AlwaysConfirm answers yes without asking.
var AlwaysConfirm = ConfirmFunc(func(string) bool { return true })

// PromptConfirmer asks on out and reads the answer from in.
type PromptConfirmer struct {
	in  *bufio.Reader
	out io.Writer
}

func NewPromptConfirmer(in io.Reader, out io.Writer) *PromptConfirmer {
	return &PromptConfirmer{in: bufio.NewReader(in), out: out}
}

func (p *PromptConfirmer) Confirm(q string) bool {
	fmt.Fprintf(p.out, "%s (y/N): ", q)
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

// Manager executes actions inside root. In safe mode overwrites and deletes
// are confirmed first.
type Manager struct {
	root      string
	safeMode  bool
	confirmer Confirmer
	logger    *zap.Logger
}

// NewManager creates a manager rooted at root ("" means the working directory).
func NewManager(root string, safeMode bool, confirmer Confirmer, logger *zap.Logger) (*Manager, error) {
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("get working dir: %w", err)
		}
		root = wd
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", root, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	if confirmer == nil {
		confirmer = AlwaysConfirm
	}
	logger.Info("actions manager ready", zap.String("root", abs), zap.Bool("safe_mode", safeMode))
	return &Manager{root: abs, safeMode: safeMode, confirmer: confirmer, logger: logger}, nil
}

// Root returns the project root.
func (m *Manager) Root() string { return m.root }

func (m *Manager) resolve(path string) (string, error) {
	target := path
	if !filepath.IsAbs(target) {
		target = filepath.Join(m.root, target)
	}
	target = filepath.Clean(target)
	rel, err := filepath.Rel(m.root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q is outside %q", ErrOutsideRoot, path, m.root)
	}
	return target, nil
}

func (m *Manager) fail(op, path string, err error) (bool, string) {
	if errors.Is(err, ErrOutsideRoot) {
		m.logger.Error("security error", zap.String("op", op), zap.String("path", path), zap.Error(err))
		return false, "Security error: " + err.Error()
	}
	m.logger.Error(op+" failed", zap.String("path", path), zap.Error(err))
	return false, "Error: " + err.Error()
}

// CreateFile writes content to path, creating parent directories. An existing
// file is only overwritten when force is set or the user confirms.
func (m *Manager) CreateFile(path, content string, force bool) (bool, string) {
	target, err := m.resolve(path)
	if err != nil {
		return m.fail("create file", path, err)
	}
	if _, err := os.Stat(target); err == nil && !force && m.safeMode {
		if !m.confirmer.Confirm(fmt.Sprintf("File %s already exists. Overwrite?", path)) {
			m.logger.Info("overwrite cancelled", zap.String("path", target))
			return false, "Cancelled: " + path
		}
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return m.fail("create file", path, err)
	}
	if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
		return m.fail("create file", path, err)
	}
	m.logger.Info("created file", zap.String("path", target))
	return true, "Created: " + path
}

// ReadFile returns the file content as the message on success.
func (m *Manager) ReadFile(path string) (bool, string) {
	target, err := m.resolve(path)
	if err != nil {
		return m.fail("read file", path, err)
	}
	info, err := os.Stat(target)
	if errors.Is(err, os.ErrNotExist) {
		return false, "File not found: " + path
	}
	if err != nil {
		return m.fail("read file", path, err)
	}
	if !info.Mode().IsRegular() {
		return false, "Not a file: " + path
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return m.fail("read file", path, err)
	}
	m.logger.Debug("read file", zap.String("path", target), zap.Int("chars", len(data)))
	return true, string(data)
}

// AppendFile appends content, creating the file and its parents if needed.
func (m *Manager) AppendFile(path, content string) (bool, string) {
	target, err := m.resolve(path)
	if err != nil {
		return m.fail("append file", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return m.fail("append file", path, err)
	}
	f, err := os.OpenFile(target, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return m.fail("append file", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return m.fail("append file", path, err)
	}
	m.logger.Info("appended to file", zap.String("path", target))
	return true, "Appended: " + path
}

// DeleteFile removes a file, asking first in safe mode unless forced.
func (m *Manager) DeleteFile(path string, force bool) (bool, string) {
	target, err := m.resolve(path)
	if err != nil {
		return m.fail("delete file", path, err)
	}
	if _, err := os.Stat(target); errors.Is(err, os.ErrNotExist) {
		return false, "File not found: " + path
	}
	if m.safeMode && !force && !m.confirmer.Confirm(fmt.Sprintf("Delete %s?", path)) {
		m.logger.Info("delete cancelled", zap.String("path", target))
		return false, "Cancelled: " + path
	}
	if err := os.Remove(target); err != nil {
		return m.fail("delete file", path, err)
	}
	m.logger.Info("deleted file", zap.String("path", target))
	return true, "Deleted: " + path
}

// ListFiles returns the files in dir matching a glob pattern, relative to
// the root and sorted.
func (m *Manager) ListFiles(dir, pattern string) (bool, []string) {
	if dir == "" {
		dir = "."
	}
	if pattern == "" {
		pattern = "*"
	}
	target, err := m.resolve(dir)
	if err != nil {
		_, msg := m.fail("list files", dir, err)
		return false, []string{msg}
	}
	info, err := os.Stat(target)
	if errors.Is(err, os.ErrNotExist) {
		return false, []string{"Directory not found: " + dir}
	}
	if err != nil {
		_, msg := m.fail("list files", dir, err)
		return false, []string{msg}
	}
	if !info.IsDir() {
		return false, []string{"Not a directory: " + dir}
	}
	matches, err := filepath.Glob(filepath.Join(target, pattern))
	if err != nil {
		_, msg := m.fail("list files", dir, err)
		return false, []string{msg}
	}
	files := make([]string, 0, len(matches))
	for _, p := range matches {
		if fi, err := os.Stat(p); err != nil || !fi.Mode().IsRegular() {
			continue
		}
		rel, _ := filepath.Rel(m.root, p)
		files = append(files, rel)
	}
	sort.Strings(files)
	return true, files
}

// CreateDirectory makes dir and any missing parents.
func (m *Manager) CreateDirectory(dir string) (bool, string) {
	target, err := m.resolve(dir)
	if err != nil {
		return m.fail("create directory", dir, err)
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		return m.fail("create directory", dir, err)
	}
	m.logger.Info("created directory", zap.String("path", target))
	return true, "Created directory: " + dir
}

// RunCommand runs command through the shell in cwd (relative to the root).
// Commands containing a blocked pattern are refused unless allowDangerous is
// set. On success the message is stdout; on failure stderr, or stdout when
// stderr is empty.
func (m *Manager) RunCommand(ctx context.Context, command, cwd string, timeout time.Duration, allowDangerous bool) (bool, string) {
	if !allowDangerous {
		lower := strings.ToLower(command)
		for _, p := range dangerousPatterns {
			if strings.Contains(lower, p) {
				m.logger.Warn("blocked dangerous command", zap.String("command", command))
				return false, "Blocked dangerous pattern: " + p
			}
		}
	}
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}

	workDir := m.root
	if cwd != "" {
		dir, err := m.resolve(cwd)
		if err != nil {
			return m.fail("run command", cwd, err)
		}
		workDir = dir
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = workDir
	cmd.WaitDelay = time.Second
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	m.logger.Info("running command", zap.String("command", command), zap.String("dir", workDir))
	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		m.logger.Error("command timed out", zap.String("command", command))
		return false, fmt.Sprintf("Command timed out after %s", timeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			m.logger.Error("command failed", zap.String("command", command), zap.Int("code", exitErr.ExitCode()))
			if stderr.Len() > 0 {
				return false, stderr.String()
			}
			return false, stdout.String()
		}
		return m.fail("run command", command, err)
	}
	m.logger.Info("command succeeded", zap.String("command", command))
	return true, stdout.String()
}

// Result reports what happened to one applied action.
type Result struct {
	Action  string `json:"action"`
	Target  string `json:"target"`
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Apply executes file actions extracted from a model reply, in order.
func (m *Manager) Apply(actions []interpreter.FileAction) []Result {
	results := make([]Result, 0, len(actions))
	for _, a := range actions {
		var ok bool
		var msg string
		switch a.Type {
		case "create", "":
			ok, msg = m.CreateFile(a.Path, a.Content, false)
		case "append":
			ok, msg = m.AppendFile(a.Path, a.Content)
		case "read":
			ok, msg = m.ReadFile(a.Path)
		case "delete":
			ok, msg = m.DeleteFile(a.Path, false)
		default:
			ok, msg = false, "Unknown action: "+a.Type
		}
		results = append(results, Result{Action: a.Type, Target: a.Path, OK: ok, Message: msg})
	}
	return results
}

// RunCommands executes command actions, refusing dangerous ones.
func (m *Manager) RunCommands(ctx context.Context, cmds []interpreter.CommandAction) []Result {
	results := make([]Result, 0, len(cmds))
	for _, c := range cmds {
		ok, msg := m.RunCommand(ctx, c.Command, c.Cwd, 0, false)
		results = append(results, Result{Action: "command", Target: c.Command, OK: ok, Message: msg})
	}
	return results
}
