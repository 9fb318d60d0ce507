// Package history keeps the linear chat transcript.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/nidhogg/nora/internal/provider"
)

// Backend persists the transcript.
type Backend interface {
	Load(ctx context.Context) ([]provider.Message, error)
	Append(ctx context.Context, msg provider.Message) error
	Clear(ctx context.Context) error
}

// Recaller provides semantic search over past messages.
type Recaller interface {
	Remember(ctx context.Context, role, content string) error
	Recall(ctx context.Context, query string, k int) ([]string, error)
}

// FileBackend stores the transcript as an indented JSON array of
// {role, content} objects.
type FileBackend struct {
	path   string
	logger *zap.Logger
}

// NewFileBackend creates a backend writing to path.
func NewFileBackend(path string, logger *zap.Logger) *FileBackend {
	return &FileBackend{path: path, logger: logger}
}

// Load reads the transcript. A missing file is an empty history; a corrupt
// file is logged and also treated as empty.
func (b *FileBackend) Load(ctx context.Context) ([]provider.Message, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		b.logger.Debug("no history file", zap.String("path", b.path))
		return nil, nil
	}
	if err != nil {
		b.logger.Error("read history failed", zap.String("path", b.path), zap.Error(err))
		return nil, nil
	}
	var msgs []provider.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		b.logger.Error("corrupt history file", zap.String("path", b.path), zap.Error(err))
		return nil, nil
	}
	b.logger.Info("loaded history", zap.Int("messages", len(msgs)))
	return msgs, nil
}

// Save overwrites the file with msgs.
func (b *FileBackend) Save(msgs []provider.Message) error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}
	if msgs == nil {
		msgs = []provider.Message{}
	}
	data, err := json.MarshalIndent(msgs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := os.WriteFile(b.path, data, 0o600); err != nil {
		return fmt.Errorf("write history %s: %w", b.path, err)
	}
	return nil
}

func (b *FileBackend) Append(ctx context.Context, msg provider.Message) error {
	msgs, _ := b.Load(ctx)
	return b.Save(append(msgs, provider.Message{Role: msg.Role, Content: msg.Content}))
}

// Clear removes the file.
func (b *FileBackend) Clear(ctx context.Context) error {
	if err := os.Remove(b.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

// Manager is the in-memory transcript backed by a Backend.
type Manager struct {
	mu       sync.RWMutex
	backend  Backend
	recaller Recaller
	msgs     []provider.Message
	logger   *zap.Logger
}

// NewManager creates a manager over backend. Call Load before use.
func NewManager(backend Backend, logger *zap.Logger) *Manager {
	return &Manager{backend: backend, logger: logger}
}

// SetRecaller attaches semantic recall. Every later Add feeds it.
func (m *Manager) SetRecaller(r Recaller) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recaller = r
}

// Load replaces the in-memory transcript with the persisted one.
func (m *Manager) Load(ctx context.Context) error {
	msgs, err := m.backend.Load(ctx)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	m.mu.Lock()
	m.msgs = msgs
	m.mu.Unlock()
	return nil
}

// Add appends a message and persists it.
func (m *Manager) Add(ctx context.Context, role, content string) error {
	msg := provider.Message{Role: role, Content: content}
	if err := m.backend.Append(ctx, msg); err != nil {
		return fmt.Errorf("save history: %w", err)
	}

	m.mu.Lock()
	m.msgs = append(m.msgs, msg)
	recaller := m.recaller
	m.mu.Unlock()

	if recaller != nil {
		if err := recaller.Remember(ctx, role, content); err != nil {
			m.logger.Warn("index history message failed", zap.Error(err))
		}
	}
	m.logger.Debug("added message", zap.String("role", role))
	return nil
}

// Messages returns a copy of the full transcript.
func (m *Manager) Messages() []provider.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]provider.Message, len(m.msgs))
	copy(out, m.msgs)
	return out
}

// Len is the number of messages held.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.msgs)
}

// Recent returns at most the last n messages.
func (m *Manager) Recent(n int) []provider.Message {
	all := m.Messages()
	if n >= 0 && len(all) > n {
		return all[len(all)-n:]
	}
	return all
}

// LastAssistant returns the most recent assistant reply.
func (m *Manager) LastAssistant() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.msgs) - 1; i >= 0; i-- {
		if m.msgs[i].Role == "assistant" {
			return m.msgs[i].Content, true
		}
	}
	return "", false
}

// Clear drops the transcript here and in the backend.
func (m *Manager) Clear(ctx context.Context) error {
	if err := m.backend.Clear(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	m.msgs = nil
	m.mu.Unlock()
	m.logger.Info("history cleared")
	return nil
}

// Search returns up to k past messages related to query. With a Recaller
// the search is semantic; without one it falls back to a case-insensitive
// substring match over the transcript, newest first.
func (m *Manager) Search(ctx context.Context, query string, k int) ([]string, error) {
	m.mu.RLock()
	recaller := m.recaller
	m.mu.RUnlock()
	if recaller != nil {
		return recaller.Recall(ctx, query, k)
	}

	q := strings.ToLower(query)
	var hits []string
	msgs := m.Messages()
	for i := len(msgs) - 1; i >= 0 && len(hits) < k; i-- {
		if strings.Contains(strings.ToLower(msgs[i].Content), q) {
			hits = append(hits, msgs[i].Content)
		}
	}
	return hits, nil
}
