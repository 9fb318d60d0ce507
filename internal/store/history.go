package store

import (
	"context"
	"fmt"

	"github.com/nidhogg/nora/internal/provider"
)

// AppendMessage stores a message at the end of session.
func (s *Store) AppendMessage(ctx context.Context, session string, msg provider.Message) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO messages (session, role, content)
		VALUES ($1, $2, $3)`,
		session, msg.Role, msg.Content,
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// Messages returns the last limit messages of session in insertion order.
// A non-positive limit returns the whole session.
func (s *Store) Messages(ctx context.Context, session string, limit int) ([]provider.Message, error) {
	query := `
		SELECT role, content FROM (
			SELECT role, content, seq FROM messages
			WHERE session = $1
			ORDER BY seq DESC
			LIMIT $2
		) recent ORDER BY seq ASC`
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := s.db.Query(ctx, query, session, lim)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	var msgs []provider.Message
	for rows.Next() {
		var msg provider.Message
		if err := rows.Scan(&msg.Role, &msg.Content); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// ClearMessages deletes every message of session.
func (s *Store) ClearMessages(ctx context.Context, session string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM messages WHERE session = $1`, session); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	return nil
}

// HistoryBackend stores one chat session; it satisfies history.Backend.
type HistoryBackend struct {
	store   *Store
	session string
}

// History returns the backend for session.
func (s *Store) History(session string) *HistoryBackend {
	return &HistoryBackend{store: s, session: session}
}

func (h *HistoryBackend) Load(ctx context.Context) ([]provider.Message, error) {
	return h.store.Messages(ctx, h.session, 0)
}

func (h *HistoryBackend) Append(ctx context.Context, msg provider.Message) error {
	return h.store.AppendMessage(ctx, h.session, msg)
}

func (h *HistoryBackend) Clear(ctx context.Context) error {
	return h.store.ClearMessages(ctx, h.session)
}
