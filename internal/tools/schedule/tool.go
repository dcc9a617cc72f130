// Package schedule lets the model create cron and one-shot tasks that
// later fire back into a session as synthetic user messages.
package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/clawrt/agentd/internal/agent"
	"github.com/clawrt/agentd/internal/memory/store"
)

// Tool schedules tasks against the persisted task table.
type Tool struct {
	store *store.Store
}

// NewTool creates the scheduling tool.
func NewTool(s *store.Store) *Tool {
	return &Tool{store: s}
}

// Name implements agent.Tool.
func (t *Tool) Name() string { return "schedule_task" }

// Description implements agent.Tool.
func (t *Tool) Description() string {
	return "Schedules a task: either a recurring cron expression or a one-shot time (RFC3339). The task's description is sent back to this session when it fires."
}

// Schema implements agent.Tool.
func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "description": {"type": "string", "description": "What to do when the task fires"},
    "label": {"type": "string", "description": "Optional stable label; same-label crons are deduplicated"},
    "cron": {"type": "string", "description": "Cron expression for a recurring task"},
    "fire_at": {"type": "string", "description": "RFC3339 timestamp for a one-shot task"}
  },
  "required": ["description"]
}`)
}

// Execute implements agent.Tool.
func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Description string `json:"description"`
		Label       string `json:"label"`
		Cron        string `json:"cron"`
		FireAt      string `json:"fire_at"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid arguments: %v", err), IsError: true}, nil
	}
	if strings.TrimSpace(input.Description) == "" {
		return &agent.ToolResult{Content: "description is required", IsError: true}, nil
	}
	hasCron := strings.TrimSpace(input.Cron) != ""
	hasFireAt := strings.TrimSpace(input.FireAt) != ""
	if hasCron == hasFireAt {
		return &agent.ToolResult{Content: "exactly one of cron or fire_at is required", IsError: true}, nil
	}

	task := &store.ScheduledTask{
		Label:       input.Label,
		Description: input.Description,
	}
	if session := agent.SessionFromContext(ctx); session != nil {
		task.SessionID = session.ID
	}
	if hasCron {
		task.Kind = store.TaskKind{Type: store.TaskKindCron, Expression: input.Cron}
	} else {
		fireAt, err := time.Parse(time.RFC3339, input.FireAt)
		if err != nil {
			return &agent.ToolResult{Content: fmt.Sprintf("invalid fire_at: %v", err), IsError: true}, nil
		}
		utc := fireAt.UTC()
		task.Kind = store.TaskKind{Type: store.TaskKindOneShot, FireAt: &utc}
	}

	created, err := t.store.AddScheduledTask(ctx, task)
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("failed to schedule task: %v", err), IsError: true}, nil
	}
	payload, _ := json.Marshal(map[string]string{
		"task_id": created.ID,
		"kind":    created.Kind.Type,
	})
	return &agent.ToolResult{Content: string(payload)}, nil
}

// RiskLevel implements agent.RiskAware.
func (t *Tool) RiskLevel() int { return 2 }

// IsMutating implements agent.RiskAware.
func (t *Tool) IsMutating() bool { return true }
