package planner

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/clawrt/agentd/internal/agent"
)

// Tools bundles the Goal Planner's operations as agent.Tool
// implementations backed by one shared Planner, ready to register on an
// agent.Runtime with RegisterTool. Ground: internal/shell.Tools' bundling
// of terminal operations over one shared TerminalPool.
type Tools struct {
	planner *Planner
}

// NewTools creates the goal-planning tool set over the given Planner.
func NewTools(p *Planner) *Tools {
	return &Tools{planner: p}
}

// All returns the tools in a stable order, for bulk registration.
func (t *Tools) All() []agent.Tool {
	return []agent.Tool{
		&createGoalTool{planner: t.planner},
		&nextStepTool{planner: t.planner},
		&completeStepTool{planner: t.planner},
		&failStepTool{planner: t.planner},
		&delegateStepTool{planner: t.planner},
		&listGoalsTool{planner: t.planner},
	}
}

func schemaOf(schema map[string]any) json.RawMessage {
	data, _ := json.Marshal(schema)
	return data
}

func errResult(format string, args ...any) *agent.ToolResult {
	return &agent.ToolResult{Content: fmt.Sprintf(format, args...), IsError: true}
}

// createGoalTool implements goal_create.
type createGoalTool struct{ planner *Planner }

func (c *createGoalTool) Name() string { return "goal_create" }

func (c *createGoalTool) Description() string {
	return `Create a new goal with an ordered list of steps. Use this to track
multi-step work across a session rather than holding the plan only in
your own reasoning — steps can later be delegated to sub-agents or mesh
peers and resolved asynchronously.`
}

func (c *createGoalTool) Schema() json.RawMessage {
	return schemaOf(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"description": map[string]any{"type": "string"},
			"priority": map[string]any{
				"type":        "integer",
				"description": "0-255, higher runs first when multiple goals are active",
			},
			"parent_id": map[string]any{"type": "string"},
			"steps": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
		"required": []string{"description", "steps"},
	})
}

type createGoalInput struct {
	Description string   `json:"description"`
	Priority    uint8    `json:"priority"`
	ParentID    string   `json:"parent_id"`
	Steps       []string `json:"steps"`
}

func (c *createGoalTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var in createGoalInput
	if err := json.Unmarshal(params, &in); err != nil {
		return errResult("invalid goal_create parameters: %v", err), nil
	}
	g := c.planner.CreateGoal(in.Description, in.Priority, in.ParentID, in.Steps)
	data, _ := json.Marshal(g)
	return &agent.ToolResult{Content: string(data)}, nil
}

func (c *createGoalTool) RiskLevel() int   { return 1 }
func (c *createGoalTool) IsMutating() bool { return true }

// nextStepTool implements goal_next_step.
type nextStepTool struct{ planner *Planner }

func (n *nextStepTool) Name() string { return "goal_next_step" }

func (n *nextStepTool) Description() string {
	return "Return the first pending step of a goal, in insertion order."
}

func (n *nextStepTool) Schema() json.RawMessage {
	return schemaOf(map[string]any{
		"type":       "object",
		"properties": map[string]any{"goal_id": map[string]any{"type": "string"}},
		"required":   []string{"goal_id"},
	})
}

type goalIDInput struct {
	GoalID string `json:"goal_id"`
}

func (n *nextStepTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var in goalIDInput
	if err := json.Unmarshal(params, &in); err != nil {
		return errResult("invalid goal_next_step parameters: %v", err), nil
	}
	step, ok := n.planner.NextStep(in.GoalID)
	if !ok {
		return &agent.ToolResult{Content: "no pending steps"}, nil
	}
	data, _ := json.Marshal(step)
	return &agent.ToolResult{Content: string(data)}, nil
}

func (n *nextStepTool) RiskLevel() int   { return 0 }
func (n *nextStepTool) IsMutating() bool { return false }

// completeStepTool implements goal_complete_step.
type completeStepTool struct{ planner *Planner }

func (c *completeStepTool) Name() string { return "goal_complete_step" }

func (c *completeStepTool) Description() string {
	return `Mark a step completed with its result. Updates the goal's derived
progress and marks the goal Completed once every step is terminal.`
}

func (c *completeStepTool) Schema() json.RawMessage {
	return schemaOf(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"goal_id": map[string]any{"type": "string"},
			"step_id": map[string]any{"type": "string"},
			"result":  map[string]any{"type": "string"},
		},
		"required": []string{"goal_id", "step_id"},
	})
}

type completeStepInput struct {
	GoalID string `json:"goal_id"`
	StepID string `json:"step_id"`
	Result string `json:"result"`
}

func (c *completeStepTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var in completeStepInput
	if err := json.Unmarshal(params, &in); err != nil {
		return errResult("invalid goal_complete_step parameters: %v", err), nil
	}
	if !c.planner.CompleteStep(in.GoalID, in.StepID, in.Result) {
		return errResult("goal or step not found"), nil
	}
	return &agent.ToolResult{Content: "step completed"}, nil
}

func (c *completeStepTool) RiskLevel() int   { return 1 }
func (c *completeStepTool) IsMutating() bool { return true }

// failStepTool implements goal_fail_step.
type failStepTool struct{ planner *Planner }

func (f *failStepTool) Name() string { return "goal_fail_step" }

func (f *failStepTool) Description() string {
	return `Mark a step failed. With fail_goal=true, the whole goal is marked
failed and a retrospective recorded naming which step failed and why.`
}

func (f *failStepTool) Schema() json.RawMessage {
	return schemaOf(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"goal_id":   map[string]any{"type": "string"},
			"step_id":   map[string]any{"type": "string"},
			"error":     map[string]any{"type": "string"},
			"fail_goal": map[string]any{"type": "boolean"},
		},
		"required": []string{"goal_id", "step_id", "error"},
	})
}

type failStepInput struct {
	GoalID   string `json:"goal_id"`
	StepID   string `json:"step_id"`
	Error    string `json:"error"`
	FailGoal bool   `json:"fail_goal"`
}

func (f *failStepTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var in failStepInput
	if err := json.Unmarshal(params, &in); err != nil {
		return errResult("invalid goal_fail_step parameters: %v", err), nil
	}
	if !f.planner.FailStep(in.GoalID, in.StepID, in.Error, in.FailGoal) {
		return errResult("goal or step not found"), nil
	}
	return &agent.ToolResult{Content: "step failed"}, nil
}

func (f *failStepTool) RiskLevel() int   { return 1 }
func (f *failStepTool) IsMutating() bool { return true }

// delegateStepTool implements goal_delegate.
type delegateStepTool struct{ planner *Planner }

func (d *delegateStepTool) Name() string { return "goal_delegate" }

func (d *delegateStepTool) Description() string {
	return `Assign a step to a sub-agent or mesh peer. The step moves to
in_progress and records delegated_to/delegated_task_id so a later async
callback can resolve it by task id.`
}

func (d *delegateStepTool) Schema() json.RawMessage {
	return schemaOf(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"goal_id":           map[string]any{"type": "string"},
			"step_id":           map[string]any{"type": "string"},
			"delegated_to":      map[string]any{"type": "string", "description": "peer id or sub-agent id"},
			"delegated_task_id": map[string]any{"type": "string"},
		},
		"required": []string{"goal_id", "step_id", "delegated_to", "delegated_task_id"},
	})
}

type delegateStepInput struct {
	GoalID          string `json:"goal_id"`
	StepID          string `json:"step_id"`
	DelegatedTo     string `json:"delegated_to"`
	DelegatedTaskID string `json:"delegated_task_id"`
}

func (d *delegateStepTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var in delegateStepInput
	if err := json.Unmarshal(params, &in); err != nil {
		return errResult("invalid goal_delegate parameters: %v", err), nil
	}
	if !d.planner.Delegate(in.GoalID, in.StepID, in.DelegatedTo, in.DelegatedTaskID) {
		return errResult("goal or step not found"), nil
	}
	return &agent.ToolResult{Content: "step delegated"}, nil
}

func (d *delegateStepTool) RiskLevel() int   { return 1 }
func (d *delegateStepTool) IsMutating() bool { return true }

// listGoalsTool implements goal_list.
type listGoalsTool struct{ planner *Planner }

func (l *listGoalsTool) Name() string { return "goal_list" }

func (l *listGoalsTool) Description() string {
	return "List all goals ordered by priority descending, with derived progress."
}

func (l *listGoalsTool) Schema() json.RawMessage {
	return schemaOf(map[string]any{"type": "object", "properties": map[string]any{}})
}

func (l *listGoalsTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	goals := l.planner.ListByPriority()
	type summary struct {
		*Goal
		Progress float64 `json:"progress"`
	}
	out := make([]summary, 0, len(goals))
	for _, g := range goals {
		out = append(out, summary{Goal: g, Progress: g.Progress()})
	}
	data, _ := json.Marshal(out)
	return &agent.ToolResult{Content: string(data)}, nil
}

func (l *listGoalsTool) RiskLevel() int   { return 0 }
func (l *listGoalsTool) IsMutating() bool { return false }
