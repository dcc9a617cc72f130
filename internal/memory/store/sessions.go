package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/clawrt/agentd/pkg/models"
)

// SessionRecord mirrors the sessions table.
type SessionRecord struct {
	ID           string
	Name         string
	Channel      string
	Target       string
	Active       bool
	MessageCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SaveSession upserts a session row.
func (s *Store) SaveSession(ctx context.Context, rec *SessionRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, name, channel, target, active, message_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			channel = excluded.channel,
			target = excluded.target,
			active = excluded.active,
			message_count = excluded.message_count,
			updated_at = excluded.updated_at`,
		rec.ID, nullString(rec.Name), nullString(rec.Channel), nullString(rec.Target),
		rec.Active, rec.MessageCount, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// LoadSessions returns all session rows.
func (s *Store) LoadSessions(ctx context.Context) ([]*SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(name, ''), COALESCE(channel, ''), COALESCE(target, ''),
		       active, message_count, created_at, updated_at
		FROM sessions`)
	if err != nil {
		return nil, fmt.Errorf("failed to load sessions: %w", err)
	}
	defer rows.Close()

	var out []*SessionRecord
	for rows.Next() {
		var rec SessionRecord
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Channel, &rec.Target,
			&rec.Active, &rec.MessageCount, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// SaveSessionMessages snapshots a session's working memory as one JSON
// blob. The write replaces any prior snapshot for the session; callers
// serialise through the session run-lock.
func (s *Store) SaveSessionMessages(ctx context.Context, sessionID string, msgs []*models.Message) error {
	blob, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("failed to encode session messages: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_messages (session_id, messages_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			messages_json = excluded.messages_json,
			updated_at = excluded.updated_at`,
		sessionID, string(blob), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save session messages: %w", err)
	}
	return nil
}

// LoadSessionMessages restores a session's working memory snapshot. A
// session with no snapshot returns an empty list.
func (s *Store) LoadSessionMessages(ctx context.Context, sessionID string) ([]*models.Message, error) {
	var blob string
	err := s.db.QueryRowContext(ctx,
		`SELECT messages_json FROM session_messages WHERE session_id = ?`, sessionID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session messages: %w", err)
	}
	var msgs []*models.Message
	if err := json.Unmarshal([]byte(blob), &msgs); err != nil {
		return nil, fmt.Errorf("failed to decode session messages: %w", err)
	}
	return msgs, nil
}
