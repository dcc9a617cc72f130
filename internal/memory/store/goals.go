package store

import (
	"context"
	"fmt"

	"github.com/clawrt/agentd/internal/planner"
)

// SaveGoal persists a goal and its steps, replacing any prior rows.
func (s *Store) SaveGoal(ctx context.Context, g *planner.Goal) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO goals (id, description, status, priority, progress, parent_id, retrospective, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.Description, string(g.Status), int(g.Priority), g.Progress(),
		nullString(g.ParentID), nullString(g.Retrospective), g.CreatedAt, g.UpdatedAt); err != nil {
		return fmt.Errorf("failed to save goal: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM goal_steps WHERE goal_id = ?`, g.ID); err != nil {
		return fmt.Errorf("failed to clear goal steps: %w", err)
	}
	for i, step := range g.Steps {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO goal_steps (id, goal_id, description, status, result, error, delegated_to, delegated_task_id, position)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			step.ID, g.ID, step.Description, string(step.Status),
			nullString(step.Result), nullString(step.Error),
			nullString(step.DelegatedTo), nullString(step.DelegatedTaskID), i); err != nil {
			return fmt.Errorf("failed to save goal step: %w", err)
		}
	}
	return tx.Commit()
}

// LoadGoals restores all goals with their steps in insertion order.
func (s *Store) LoadGoals(ctx context.Context) ([]*planner.Goal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, description, status, priority, COALESCE(parent_id, ''), COALESCE(retrospective, ''), created_at, updated_at
		FROM goals`)
	if err != nil {
		return nil, fmt.Errorf("failed to load goals: %w", err)
	}
	defer rows.Close()

	var goals []*planner.Goal
	for rows.Next() {
		var (
			g        planner.Goal
			status   string
			priority int
		)
		if err := rows.Scan(&g.ID, &g.Description, &status, &priority, &g.ParentID, &g.Retrospective, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan goal: %w", err)
		}
		g.Status = planner.GoalStatus(status)
		g.Priority = uint8(priority)
		goal := g
		goals = append(goals, &goal)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, g := range goals {
		steps, err := s.loadSteps(ctx, g.ID)
		if err != nil {
			return nil, err
		}
		g.Steps = steps
	}
	return goals, nil
}

func (s *Store) loadSteps(ctx context.Context, goalID string) ([]*planner.Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, description, status, COALESCE(result, ''), COALESCE(error, ''),
		       COALESCE(delegated_to, ''), COALESCE(delegated_task_id, '')
		FROM goal_steps WHERE goal_id = ? ORDER BY position`, goalID)
	if err != nil {
		return nil, fmt.Errorf("failed to load goal steps: %w", err)
	}
	defer rows.Close()

	var steps []*planner.Step
	for rows.Next() {
		var (
			st     planner.Step
			status string
		)
		if err := rows.Scan(&st.ID, &st.Description, &status, &st.Result, &st.Error, &st.DelegatedTo, &st.DelegatedTaskID); err != nil {
			return nil, fmt.Errorf("failed to scan goal step: %w", err)
		}
		st.Status = planner.StepStatus(status)
		step := st
		steps = append(steps, &step)
	}
	return steps, rows.Err()
}
