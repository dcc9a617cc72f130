package wasm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/clawrt/agentd/internal/agent"
)

// PluginTool exposes one manifest tool as an agent tool named
// "pluginName.toolName".
type PluginTool struct {
	pluginName string
	manifest   ToolManifest
	schema     json.RawMessage
	executor   *Executor
}

// Name implements agent.Tool.
func (t *PluginTool) Name() string {
	return t.pluginName + "." + t.manifest.Name
}

// Description implements agent.Tool.
func (t *PluginTool) Description() string {
	return t.manifest.Description
}

// Schema implements agent.Tool.
func (t *PluginTool) Schema() json.RawMessage {
	return t.schema
}

// Execute implements agent.Tool. Guest failures of every shape come back
// as is_error results so the model can diagnose them.
func (t *PluginTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	res, err := t.executor.Invoke(ctx, t.manifest.Name, params)
	if err != nil {
		return &agent.ToolResult{
			Content: fmt.Sprintf("plugin %s: %v", t.pluginName, err),
			IsError: true,
		}, nil
	}
	if res.Error != "" {
		return &agent.ToolResult{
			Content: fmt.Sprintf("plugin %s: %s", t.pluginName, res.Error),
			IsError: true,
		}, nil
	}

	content := string(res.Result)
	var asString string
	if json.Unmarshal(res.Result, &asString) == nil {
		content = asString
	}
	if len(res.Data) > 0 {
		content = fmt.Sprintf("%s\n%s", content, res.Data)
	}
	return &agent.ToolResult{Content: content}, nil
}

// RiskLevel implements agent.RiskAware.
func (t *PluginTool) RiskLevel() int { return t.manifest.RiskLevel }

// IsMutating implements agent.RiskAware.
func (t *PluginTool) IsMutating() bool { return t.manifest.IsMutating }

// LoadPlugin loads a plugin directory (manifest.toml + plugin.wasm),
// verifies the checksum, and returns one tool per manifest entry.
func LoadPlugin(ctx context.Context, dir string, fuelBudget uint64) ([]agent.Tool, error) {
	manifest, err := LoadManifest(dir)
	if err != nil {
		return nil, err
	}
	wasmBytes, err := os.ReadFile(filepath.Join(dir, "plugin.wasm"))
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin module: %w", err)
	}
	if err := manifest.VerifyChecksum(wasmBytes); err != nil {
		return nil, err
	}
	executor, err := NewExecutor(ctx, wasmBytes, fuelBudget)
	if err != nil {
		return nil, fmt.Errorf("plugin %s: %w", manifest.Plugin.Name, err)
	}

	tools := make([]agent.Tool, 0, len(manifest.Tools))
	for _, tm := range manifest.Tools {
		schema, err := tm.SchemaJSON()
		if err != nil {
			return nil, fmt.Errorf("plugin %s: %w", manifest.Plugin.Name, err)
		}
		tools = append(tools, &PluginTool{
			pluginName: manifest.Plugin.Name,
			manifest:   tm,
			schema:     schema,
			executor:   executor,
		})
	}
	return tools, nil
}

// LoadAll scans a directory of plugin subdirectories and returns every
// tool found. Directories that fail to load are skipped with the error
// recorded against their name.
func LoadAll(ctx context.Context, root string, fuelBudget uint64) ([]agent.Tool, map[string]error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, map[string]error{root: err}
	}
	var tools []agent.Tool
	failures := make(map[string]error)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		loaded, err := LoadPlugin(ctx, filepath.Join(root, entry.Name()), fuelBudget)
		if err != nil {
			failures[entry.Name()] = err
			continue
		}
		tools = append(tools, loaded...)
	}
	return tools, failures
}
