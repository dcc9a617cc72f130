package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Task kinds.
const (
	TaskKindCron    = "cron"
	TaskKindOneShot = "one_shot"
)

// TaskKind describes when a scheduled task fires.
type TaskKind struct {
	Type       string     `json:"type"`
	Expression string     `json:"expression,omitempty"`
	FireAt     *time.Time `json:"fire_at,omitempty"`
}

// ScheduledTask is a persisted cron or one-shot task.
type ScheduledTask struct {
	ID          string
	Label       string
	Description string
	Kind        TaskKind
	SessionID   string
	Active      bool
	FireCount   int
	LastFired   *time.Time
	CreatedAt   time.Time
}

// AddScheduledTask inserts a task. Crons are deduplicated: an active task
// with the same label, or the same (expression, description) pair, is
// returned instead of creating a duplicate — crons are re-registered from
// config on every start.
func (s *Store) AddScheduledTask(ctx context.Context, t *ScheduledTask) (*ScheduledTask, error) {
	if t.Kind.Type == TaskKindCron {
		if existing, err := s.findDuplicateCron(ctx, t); err != nil {
			return nil, err
		} else if existing != nil {
			return existing, nil
		}
	}

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	t.Active = true
	kind, err := json.Marshal(t.Kind)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task kind: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_tasks (id, label, description, kind_json, session_id, active, fire_count, last_fired, created_at)
		VALUES (?, ?, ?, ?, ?, 1, 0, NULL, ?)`,
		t.ID, nullString(t.Label), t.Description, string(kind), nullString(t.SessionID), t.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to save scheduled task: %w", err)
	}
	return t, nil
}

func (s *Store) findDuplicateCron(ctx context.Context, t *ScheduledTask) (*ScheduledTask, error) {
	tasks, err := s.ActiveScheduledTasks(ctx)
	if err != nil {
		return nil, err
	}
	for _, existing := range tasks {
		if existing.Kind.Type != TaskKindCron {
			continue
		}
		if t.Label != "" && existing.Label == t.Label {
			return existing, nil
		}
		if existing.Kind.Expression == t.Kind.Expression && existing.Description == t.Description {
			return existing, nil
		}
	}
	return nil, nil
}

// ActiveScheduledTasks returns all active tasks in creation order.
func (s *Store) ActiveScheduledTasks(ctx context.Context) ([]*ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(label, ''), description, kind_json, COALESCE(session_id, ''),
		       active, fire_count, last_fired, created_at
		FROM scheduled_tasks WHERE active = 1 ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to load scheduled tasks: %w", err)
	}
	defer rows.Close()

	var out []*ScheduledTask
	for rows.Next() {
		var (
			t         ScheduledTask
			kind      string
			lastFired sql.NullTime
		)
		if err := rows.Scan(&t.ID, &t.Label, &t.Description, &kind, &t.SessionID,
			&t.Active, &t.FireCount, &lastFired, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan scheduled task: %w", err)
		}
		if err := json.Unmarshal([]byte(kind), &t.Kind); err != nil {
			return nil, fmt.Errorf("failed to decode task kind: %w", err)
		}
		if lastFired.Valid {
			fired := lastFired.Time
			t.LastFired = &fired
		}
		task := t
		out = append(out, &task)
	}
	return out, rows.Err()
}

// MarkTaskFired bumps the fire count and timestamp; deactivate retires a
// one-shot task after its single firing.
func (s *Store) MarkTaskFired(ctx context.Context, id string, firedAt time.Time, deactivate bool) error {
	active := 1
	if deactivate {
		active = 0
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_tasks
		SET fire_count = fire_count + 1, last_fired = ?, active = ?
		WHERE id = ?`, firedAt.UTC(), active, id)
	if err != nil {
		return fmt.Errorf("failed to mark task fired: %w", err)
	}
	return nil
}

// DeactivateScheduledTask disables a task without deleting its history.
func (s *Store) DeactivateScheduledTask(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE scheduled_tasks SET active = 0 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to deactivate scheduled task: %w", err)
	}
	return nil
}
