package multiagent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/clawrt/agentd/internal/agent"
)

// SpawnTool exposes sub-agent spawning to the model.
type SpawnTool struct {
	Manager *SubAgentManager
}

// Name implements agent.Tool.
func (t *SpawnTool) Name() string { return "sub_agent_spawn" }

// Description implements agent.Tool.
func (t *SpawnTool) Description() string {
	return "Spawns a sub-agent with a specialized role (planner, coder, reviewer, tester, researcher, devops, debugger) to work on a task. Returns a task_id. Use depends_on to order tasks."
}

// Schema implements agent.Tool.
func (t *SpawnTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "role": {"type": "string", "description": "Sub-agent role: planner, coder, reviewer, tester, researcher, devops, or debugger"},
    "task": {"type": "string", "description": "Task for the sub-agent to perform"},
    "context": {"type": "string", "description": "Extra context prepended to the task"},
    "depends_on": {"type": "array", "items": {"type": "string"}, "description": "Task ids that must finish before this one starts"},
    "goal_id": {"type": "string", "description": "Goal this task contributes to"},
    "step_id": {"type": "string", "description": "Goal step this task resolves"}
  },
  "required": ["role", "task"]
}`)
}

// Execute implements agent.Tool.
func (t *SpawnTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Role      string   `json:"role"`
		Task      string   `json:"task"`
		Context   string   `json:"context"`
		DependsOn []string `json:"depends_on"`
		GoalID    string   `json:"goal_id"`
		StepID    string   `json:"step_id"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid arguments: %v", err), IsError: true}, nil
	}

	parentSession := ""
	if session := agent.SessionFromContext(ctx); session != nil {
		parentSession = session.ID
	}
	task, err := t.Manager.Spawn(context.WithoutCancel(ctx), SpawnParams{
		Role:            input.Role,
		Task:            input.Task,
		Context:         input.Context,
		DependsOn:       input.DependsOn,
		ParentSessionID: parentSession,
		GoalID:          input.GoalID,
		StepID:          input.StepID,
	})
	if err != nil {
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	payload, _ := json.Marshal(map[string]string{
		"task_id": task.TaskID,
		"role":    task.Role,
		"status":  string(task.Status),
	})
	return &agent.ToolResult{Content: string(payload)}, nil
}

// RiskLevel implements agent.RiskAware. Spawning runs a full child loop.
func (t *SpawnTool) RiskLevel() int { return 4 }

// IsMutating implements agent.RiskAware.
func (t *SpawnTool) IsMutating() bool { return true }

// WaitTool blocks until listed sub-agent tasks finish.
type WaitTool struct {
	Manager *SubAgentManager
}

// Name implements agent.Tool.
func (t *WaitTool) Name() string { return "sub_agent_wait" }

// Description implements agent.Tool.
func (t *WaitTool) Description() string {
	return "Waits until the listed sub-agent tasks are finished (or the timeout elapses) and returns their results."
}

// Schema implements agent.Tool.
func (t *WaitTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "task_ids": {"type": "array", "items": {"type": "string"}, "description": "Task ids to wait for"},
    "timeout_seconds": {"type": "integer", "description": "Maximum seconds to wait (default 300)"}
  },
  "required": ["task_ids"]
}`)
}

// Execute implements agent.Tool.
func (t *WaitTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		TaskIDs        []string `json:"task_ids"`
		TimeoutSeconds int      `json:"timeout_seconds"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid arguments: %v", err), IsError: true}, nil
	}
	timeout := time.Duration(input.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	tasks, err := t.Manager.Wait(ctx, input.TaskIDs, timeout)
	payload, _ := json.Marshal(subTaskViews(tasks))
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("%v; partial status: %s", err, payload), IsError: true}, nil
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}

// StatusTool reports sub-agent task status without blocking.
type StatusTool struct {
	Manager *SubAgentManager
}

// Name implements agent.Tool.
func (t *StatusTool) Name() string { return "sub_agent_status" }

// Description implements agent.Tool.
func (t *StatusTool) Description() string {
	return "Returns the current status of sub-agent tasks without waiting. Omit task_ids to list all."
}

// Schema implements agent.Tool.
func (t *StatusTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "task_ids": {"type": "array", "items": {"type": "string"}, "description": "Task ids to inspect; empty for all"}
  }
}`)
}

// Execute implements agent.Tool.
func (t *StatusTool) Execute(_ context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		TaskIDs []string `json:"task_ids"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &input); err != nil {
			return &agent.ToolResult{Content: fmt.Sprintf("invalid arguments: %v", err), IsError: true}, nil
		}
	}
	payload, _ := json.Marshal(subTaskViews(t.Manager.Status(input.TaskIDs)))
	return &agent.ToolResult{Content: string(payload)}, nil
}

type subTaskView struct {
	TaskID string `json:"task_id"`
	Role   string `json:"role"`
	Status string `json:"status"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

func subTaskViews(tasks []*SubTask) []subTaskView {
	out := make([]subTaskView, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, subTaskView{
			TaskID: t.TaskID,
			Role:   t.Role,
			Status: string(t.Status),
			Result: t.Result,
			Error:  t.Error,
		})
	}
	return out
}
