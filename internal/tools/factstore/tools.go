// Package factstore exposes the durable memory store to the model:
// storing facts, searching facts and episodes.
package factstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clawrt/agentd/internal/agent"
	"github.com/clawrt/agentd/internal/memory/store"
)

// Tools bundles the memory tools over one store.
type Tools struct {
	store *store.Store
}

// NewTools creates the memory tool set.
func NewTools(s *store.Store) *Tools {
	return &Tools{store: s}
}

// All returns every memory tool.
func (t *Tools) All() []agent.Tool {
	return []agent.Tool{
		&storeFactTool{store: t.store},
		&searchFactsTool{store: t.store},
		&searchEpisodesTool{store: t.store},
	}
}

type storeFactTool struct{ store *store.Store }

func (t *storeFactTool) Name() string { return "memory_store" }

func (t *storeFactTool) Description() string {
	return "Stores a fact in long-term memory under (category, key). Re-storing the same pair updates the value."
}

func (t *storeFactTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "category": {"type": "string", "description": "Fact category, e.g. user_prefs, environment"},
    "key": {"type": "string", "description": "Unique key within the category"},
    "value": {"type": "string", "description": "The fact content"},
    "confidence": {"type": "number", "description": "Confidence 0..1 (default 1)"}
  },
  "required": ["category", "key", "value"]
}`)
}

func (t *storeFactTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Category   string   `json:"category"`
		Key        string   `json:"key"`
		Value      string   `json:"value"`
		Confidence *float64 `json:"confidence"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid arguments: %v", err), IsError: true}, nil
	}
	if strings.TrimSpace(input.Category) == "" || strings.TrimSpace(input.Key) == "" {
		return &agent.ToolResult{Content: "category and key are required", IsError: true}, nil
	}
	confidence := 1.0
	if input.Confidence != nil {
		confidence = *input.Confidence
	}
	if confidence < 0 || confidence > 1 {
		return &agent.ToolResult{Content: "confidence must be within 0..1", IsError: true}, nil
	}
	fact := t.store.UpsertFact(ctx, &store.Fact{
		Category:   input.Category,
		Key:        input.Key,
		Value:      input.Value,
		Confidence: confidence,
		Source:     "agent",
	})
	return &agent.ToolResult{Content: fmt.Sprintf("stored fact %s/%s (id %s)", fact.Category, fact.Key, fact.ID)}, nil
}

// RiskLevel implements agent.RiskAware.
func (t *storeFactTool) RiskLevel() int { return 1 }

// IsMutating implements agent.RiskAware.
func (t *storeFactTool) IsMutating() bool { return true }

type searchFactsTool struct{ store *store.Store }

func (t *searchFactsTool) Name() string { return "memory_search_facts" }

func (t *searchFactsTool) Description() string {
	return "Searches long-term memory facts by substring over keys and values."
}

func (t *searchFactsTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "Search text"},
    "limit": {"type": "integer", "description": "Maximum results (default 10)"}
  },
  "required": ["query"]
}`)
}

func (t *searchFactsTool) Execute(_ context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid arguments: %v", err), IsError: true}, nil
	}
	if input.Limit <= 0 {
		input.Limit = 10
	}
	facts := t.store.SearchFacts(input.Query, input.Limit)
	if len(facts) == 0 {
		return &agent.ToolResult{Content: "no matching facts"}, nil
	}
	var sb strings.Builder
	for _, f := range facts {
		fmt.Fprintf(&sb, "%s/%s: %s (confidence %.2f)\n", f.Category, f.Key, f.Value, f.Confidence)
	}
	return &agent.ToolResult{Content: sb.String()}, nil
}

type searchEpisodesTool struct{ store *store.Store }

func (t *searchEpisodesTool) Name() string { return "memory_search_episodes" }

func (t *searchEpisodesTool) Description() string {
	return "Searches recent episodes by summary substring or exact tag."
}

func (t *searchEpisodesTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "Search text or tag"}
  },
  "required": ["query"]
}`)
}

func (t *searchEpisodesTool) Execute(_ context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid arguments: %v", err), IsError: true}, nil
	}
	episodes := t.store.SearchEpisodes(input.Query)
	if len(episodes) == 0 {
		return &agent.ToolResult{Content: "no matching episodes"}, nil
	}
	var sb strings.Builder
	for _, ep := range episodes {
		fmt.Fprintf(&sb, "[%s] %s", ep.CreatedAt.Format("2006-01-02 15:04"), ep.Summary)
		if len(ep.Tags) > 0 {
			fmt.Fprintf(&sb, " (tags: %s)", strings.Join(ep.Tags, ", "))
		}
		sb.WriteString("\n")
	}
	return &agent.ToolResult{Content: sb.String()}, nil
}
