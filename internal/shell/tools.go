package shell

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/clawrt/agentd/internal/agent"
)

// Tools bundles the five terminal operations as agent.Tool
// implementations backed by one shared TerminalPool, ready to register on
// an agent.Runtime with RegisterTool.
type Tools struct {
	pool *TerminalPool
}

// NewTools creates the terminal tool set. logger and shellBin are passed
// through to NewTerminalPool.
func NewTools(logger *slog.Logger, shellBin string) *Tools {
	return &Tools{pool: NewTerminalPool(logger, shellBin)}
}

// Pool returns the underlying pool, mainly so callers can call Shutdown on
// process exit.
func (t *Tools) Pool() *TerminalPool { return t.pool }

// All returns the tools in a stable order, for bulk registration.
func (t *Tools) All() []agent.Tool {
	return []agent.Tool{
		&openTool{pool: t.pool},
		&runTool{pool: t.pool},
		&inputTool{pool: t.pool},
		&viewTool{pool: t.pool},
		&closeTool{pool: t.pool},
	}
}

func schemaOf(schema map[string]any) json.RawMessage {
	data, _ := json.Marshal(schema)
	return data
}

func errResult(format string, args ...any) *agent.ToolResult {
	return &agent.ToolResult{Content: fmt.Sprintf(format, args...), IsError: true}
}

// openTool implements terminal_open.
type openTool struct{ pool *TerminalPool }

func (o *openTool) Name() string { return "terminal_open" }

func (o *openTool) Description() string {
	return `Open a new persistent terminal session backed by a real shell.

Use this when you need a long-running shell context — installing
dependencies, starting a dev server, or running a sequence of related
commands that share state (cwd, environment, background jobs).

Returns the terminal's id and whatever the shell printed on startup.`
}

func (o *openTool) Schema() json.RawMessage {
	return schemaOf(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"label": map[string]any{
				"type":        "string",
				"description": "Human-readable label for this terminal, for your own bookkeeping",
			},
			"working_dir": map[string]any{
				"type":        "string",
				"description": "Optional working directory to cd into after the shell starts",
			},
		},
	})
}

type openInput struct {
	Label      string `json:"label"`
	WorkingDir string `json:"working_dir"`
}

func (o *openTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var in openInput
	if len(params) > 0 {
		if err := json.Unmarshal(params, &in); err != nil {
			return errResult("invalid terminal_open parameters: %v", err), nil
		}
	}

	id, out, err := o.pool.Open(in.Label, in.WorkingDir)
	if err != nil {
		return errResult("terminal_open failed: %v", err), nil
	}

	data, _ := json.Marshal(map[string]string{"terminal_id": id, "output": out})
	return &agent.ToolResult{Content: string(data)}, nil
}

// runTool implements terminal_run.
type runTool struct{ pool *TerminalPool }

func (r *runTool) Name() string { return "terminal_run" }

func (r *runTool) Description() string {
	return `Run a command in an open terminal and wait for its output to settle.

Waits for the first byte of output (or the process exiting), then keeps
watching until output stops changing for half a second or the timeout
elapses. If the command is still producing output when the timeout hits,
the result is prefixed with a "still running" marker — you can call this
again or use terminal_view to check on it later.`
}

func (r *runTool) Schema() json.RawMessage {
	return schemaOf(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"terminal_id": map[string]any{"type": "string"},
			"command":     map[string]any{"type": "string"},
			"timeout_ms": map[string]any{
				"type":        "integer",
				"description": "How long to wait for the command to settle, in milliseconds (default 30000)",
			},
		},
		"required": []string{"terminal_id", "command"},
	})
}

type runInput struct {
	TerminalID string `json:"terminal_id"`
	Command    string `json:"command"`
	TimeoutMs  int    `json:"timeout_ms"`
}

func (r *runTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var in runInput
	if err := json.Unmarshal(params, &in); err != nil {
		return errResult("invalid terminal_run parameters: %v", err), nil
	}
	out, err := r.pool.Run(in.TerminalID, in.Command, in.TimeoutMs)
	if err != nil {
		return errResult("terminal_run failed: %v", err), nil
	}
	return &agent.ToolResult{Content: out}, nil
}

func (r *runTool) RiskLevel() int   { return 6 }
func (r *runTool) IsMutating() bool { return true }

// inputTool implements terminal_input.
type inputTool struct{ pool *TerminalPool }

func (i *inputTool) Name() string { return "terminal_input" }

func (i *inputTool) Description() string {
	return `Send raw text to an open terminal without appending a newline — use
this to answer interactive prompts (a package manager asking y/n, a REPL
waiting for the next line). Include your own trailing newline if the
prompt expects Enter.`
}

func (i *inputTool) Schema() json.RawMessage {
	return schemaOf(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"terminal_id": map[string]any{"type": "string"},
			"text":        map[string]any{"type": "string"},
			"timeout_ms":  map[string]any{"type": "integer"},
		},
		"required": []string{"terminal_id", "text"},
	})
}

type inputInput struct {
	TerminalID string `json:"terminal_id"`
	Text       string `json:"text"`
	TimeoutMs  int    `json:"timeout_ms"`
}

func (i *inputTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var in inputInput
	if err := json.Unmarshal(params, &in); err != nil {
		return errResult("invalid terminal_input parameters: %v", err), nil
	}
	out, err := i.pool.Input(in.TerminalID, in.Text, in.TimeoutMs)
	if err != nil {
		return errResult("terminal_input failed: %v", err), nil
	}
	return &agent.ToolResult{Content: out}, nil
}

func (i *inputTool) RiskLevel() int   { return 6 }
func (i *inputTool) IsMutating() bool { return true }

// viewTool implements terminal_view.
type viewTool struct{ pool *TerminalPool }

func (v *viewTool) Name() string { return "terminal_view" }

func (v *viewTool) Description() string {
	return `Peek at a terminal's recent output without sending any input. Returns
"[no new output since last view]" if nothing meaningful has arrived since
your last terminal_view call on this terminal — stop polling when you see
that and either wait or send input instead.`
}

func (v *viewTool) Schema() json.RawMessage {
	return schemaOf(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"terminal_id": map[string]any{"type": "string"},
			"last_n_lines": map[string]any{
				"type":        "integer",
				"description": "How many trailing lines to return (default 50)",
			},
		},
		"required": []string{"terminal_id"},
	})
}

type viewInput struct {
	TerminalID string `json:"terminal_id"`
	LastNLines int    `json:"last_n_lines"`
}

func (v *viewTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var in viewInput
	if err := json.Unmarshal(params, &in); err != nil {
		return errResult("invalid terminal_view parameters: %v", err), nil
	}
	n := in.LastNLines
	if n <= 0 {
		n = 50
	}
	out, err := v.pool.View(in.TerminalID, n)
	if err != nil {
		return errResult("terminal_view failed: %v", err), nil
	}
	return &agent.ToolResult{Content: out}, nil
}

func (v *viewTool) RiskLevel() int   { return 0 }
func (v *viewTool) IsMutating() bool { return false }

// closeTool implements terminal_close.
type closeTool struct{ pool *TerminalPool }

func (c *closeTool) Name() string { return "terminal_close" }

func (c *closeTool) Description() string {
	return "Close a terminal session, terminating its shell and freeing its buffer."
}

func (c *closeTool) Schema() json.RawMessage {
	return schemaOf(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"terminal_id": map[string]any{"type": "string"},
		},
		"required": []string{"terminal_id"},
	})
}

type closeInput struct {
	TerminalID string `json:"terminal_id"`
}

func (c *closeTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var in closeInput
	if err := json.Unmarshal(params, &in); err != nil {
		return errResult("invalid terminal_close parameters: %v", err), nil
	}
	if err := c.pool.Close(in.TerminalID); err != nil {
		return errResult("terminal_close failed: %v", err), nil
	}
	return &agent.ToolResult{Content: "closed"}, nil
}

func (c *closeTool) RiskLevel() int   { return 2 }
func (c *closeTool) IsMutating() bool { return true }
