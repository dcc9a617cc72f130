package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Episode summarises one completed interaction turn.
type Episode struct {
	ID        string
	SessionID string
	Summary   string
	Outcome   string
	Tags      []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (e *Episode) clone() *Episode {
	c := *e
	if e.Tags != nil {
		c.Tags = make([]string, len(e.Tags))
		copy(c.Tags, e.Tags)
	}
	return &c
}

// AddEpisode appends an episode to the ring, evicting the oldest entry
// once the ring exceeds its capacity. Evicted episodes are handed to the
// archiver when one is installed.
func (s *Store) AddEpisode(ctx context.Context, ep *Episode) *Episode {
	now := time.Now().UTC()
	if ep.ID == "" {
		ep.ID = uuid.NewString()
	}
	ep.CreatedAt = now
	ep.UpdatedAt = now

	var evicted *Episode
	s.mu.Lock()
	s.episodes = append(s.episodes, ep)
	if len(s.episodes) > s.maxEpisodes {
		evicted = s.episodes[0]
		s.episodes = append(s.episodes[:0], s.episodes[1:]...)
	}
	stored := ep.clone()
	s.mu.Unlock()

	tags, _ := json.Marshal(ep.Tags)
	if _, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO episodes (id, session_id, summary, outcome, tags, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		stored.ID, nullString(stored.SessionID), stored.Summary, nullString(stored.Outcome),
		string(tags), stored.CreatedAt, stored.UpdatedAt); err != nil {
		s.logger.Warn("failed to persist episode", "error", err, "episode_id", stored.ID)
	}

	if evicted != nil {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM episodes WHERE id = ?`, evicted.ID); err != nil {
			s.logger.Warn("failed to prune evicted episode", "error", err, "episode_id", evicted.ID)
		}
		if s.archiver != nil {
			if err := s.archiver.Archive(ctx, evicted); err != nil {
				s.logger.Warn("failed to archive evicted episode", "error", err, "episode_id", evicted.ID)
			}
		}
	}
	return stored
}

// Episodes returns the ring contents in insertion order.
func (s *Store) Episodes() []*Episode {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Episode, 0, len(s.episodes))
	for _, ep := range s.episodes {
		out = append(out, ep.clone())
	}
	return out
}

// SearchEpisodes scans summaries (case-insensitive substring) and tags
// (exact, case-insensitive).
func (s *Store) SearchEpisodes(query string) []*Episode {
	q := strings.ToLower(query)
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Episode
	for _, ep := range s.episodes {
		if strings.Contains(strings.ToLower(ep.Summary), q) {
			out = append(out, ep.clone())
			continue
		}
		for _, tag := range ep.Tags {
			if strings.EqualFold(tag, query) {
				out = append(out, ep.clone())
				break
			}
		}
	}
	return out
}

func (s *Store) hydrateEpisodes(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, session_id, summary, outcome, tags, created_at, updated_at
		FROM episodes ORDER BY created_at DESC LIMIT %d`, s.maxEpisodes))
	if err != nil {
		return fmt.Errorf("failed to hydrate episodes: %w", err)
	}
	defer rows.Close()

	var loaded []*Episode
	for rows.Next() {
		var (
			ep        Episode
			sessionID sql.NullString
			outcome   sql.NullString
			tags      sql.NullString
		)
		if err := rows.Scan(&ep.ID, &sessionID, &ep.Summary, &outcome, &tags, &ep.CreatedAt, &ep.UpdatedAt); err != nil {
			return fmt.Errorf("failed to scan episode: %w", err)
		}
		ep.SessionID = sessionID.String
		ep.Outcome = outcome.String
		if tags.Valid && tags.String != "" {
			if err := json.Unmarshal([]byte(tags.String), &ep.Tags); err != nil {
				s.logger.Warn("failed to decode episode tags", "error", err, "episode_id", ep.ID)
			}
		}
		episode := ep
		loaded = append(loaded, &episode)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	// Rows arrive newest-first; the ring keeps insertion order.
	s.mu.Lock()
	defer s.mu.Unlock()
	s.episodes = s.episodes[:0]
	for i := len(loaded) - 1; i >= 0; i-- {
		s.episodes = append(s.episodes, loaded[i])
	}
	return nil
}
