package sessions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/clawrt/agentd/pkg/models"
)

// CompactionConfig configures the Memory Store's working-memory compaction
// trigger. The compaction algorithm itself is fixed — see Compact —
// only the trigger threshold and preview length are configurable.
type CompactionConfig struct {
	// Enabled determines if compaction is active.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// MaxMessages triggers compaction when message count exceeds this.
	MaxMessages int `json:"max_messages" yaml:"max_messages"`

	// PreviewChars bounds how much of each dropped user message's text is
	// quoted in the synthetic summary message.
	PreviewChars int `json:"preview_chars" yaml:"preview_chars"`
}

// DefaultCompactionConfig returns a sensible default compaction configuration.
func DefaultCompactionConfig() CompactionConfig {
	return CompactionConfig{
		Enabled:      false,
		MaxMessages:  100,
		PreviewChars: 40,
	}
}

// Compactor applies the Memory Store's working-memory compaction invariant
// to a session's history: the first user turn is pinned, a
// synthetic summary message replaces the dropped middle, and the tail keeps
// ceil(n/5) messages, never fewer than 4. The algorithm is deterministic
// and does not call an LLM.
type Compactor struct {
	config CompactionConfig
	store  Store
}

// CompactionResult describes one compaction pass.
type CompactionResult struct {
	SessionID                string
	MessagesBeforeCompaction int
	MessagesAfterCompaction  int
	Summary                  string
	RemovedMessageIDs        []string
	CompactedAt              time.Time
}

// NewCompactor creates a new session compactor.
func NewCompactor(config CompactionConfig, store Store) *Compactor {
	return &Compactor{config: config, store: store}
}

// ShouldCompact reports whether a session's history exceeds the configured
// trigger threshold.
func (c *Compactor) ShouldCompact(ctx context.Context, sessionID string) (bool, string) {
	if !c.config.Enabled {
		return false, ""
	}
	history, err := c.store.GetHistory(ctx, sessionID, 0)
	if err != nil {
		return false, ""
	}
	if c.config.MaxMessages > 0 && len(history) > c.config.MaxMessages {
		return true, fmt.Sprintf("message count %d exceeds threshold %d", len(history), c.config.MaxMessages)
	}
	return false, ""
}

// Compact applies the fixed compaction algorithm to a session's full
// history and returns the compacted slice. It does not write the result
// back to the store; callers persist the returned messages (e.g. by
// replacing working memory) however their Store implementation requires.
func (c *Compactor) Compact(ctx context.Context, sessionID string) (*CompactionResult, []*models.Message, error) {
	history, err := c.store.GetHistory(ctx, sessionID, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get session history: %w", err)
	}

	preview := c.config.PreviewChars
	if preview <= 0 {
		preview = 40
	}
	compacted, summary := Compact(history, preview)

	kept := make(map[string]bool, len(compacted))
	for _, m := range compacted {
		if m.ID != "" {
			kept[m.ID] = true
		}
	}
	var removed []string
	for _, m := range history {
		if m.ID != "" && !kept[m.ID] {
			removed = append(removed, m.ID)
		}
	}

	return &CompactionResult{
		SessionID:                sessionID,
		MessagesBeforeCompaction: len(history),
		MessagesAfterCompaction:  len(compacted),
		Summary:                  summary,
		RemovedMessageIDs:        removed,
		CompactedAt:              time.Now(),
	}, compacted, nil
}

// Compact applies the working-memory invariant directly on a
// message slice, with no store or session dependency, so the Agent Loop can
// apply it in-process between iterations.
//
// Rule: keep (a) the first user message of the session (pinned), (b) a
// synthetic "Compacted N earlier messages: …" message summarizing what was
// dropped, and (c) the last ceil(n/5) messages, never fewer than 4. A
// history of 4 or fewer messages is returned unchanged — compaction never
// grows working memory.
func Compact(history []*models.Message, previewChars int) ([]*models.Message, string) {
	n := len(history)
	if n <= 4 {
		return history, ""
	}

	pinnedIdx := -1
	for i, m := range history {
		if m != nil && m.Role == models.RoleUser {
			pinnedIdx = i
			break
		}
	}
	if pinnedIdx == -1 {
		pinnedIdx = 0
	}

	tailCount := (n + 4) / 5 // ceil(n/5)
	if tailCount < 4 {
		tailCount = 4
	}
	if tailCount >= n-1 {
		// Nothing worth dropping: the tail would already cover the whole
		// history past the pinned message.
		return history, ""
	}

	tailStart := n - tailCount
	middle := history[pinnedIdx+1 : tailStart]
	if len(middle) == 0 {
		return history, ""
	}

	summary := summarizeDropped(middle, previewChars)
	summaryMsg := &models.Message{
		Role:      models.RoleSystem,
		Content:   summary,
		CreatedAt: time.Now(),
		Metadata: map[string]any{
			"compaction_summary": true,
			"summarized_count":   len(middle),
		},
	}

	out := make([]*models.Message, 0, tailCount+2)
	out = append(out, history[pinnedIdx], summaryMsg)
	out = append(out, history[tailStart:]...)
	return out, summary
}

// summarizeDropped builds the "Compacted N earlier messages: …" synthetic
// message by concatenating short previews of the dropped user turns. No LLM
// call is made; implementations that want one can replace this function.
func summarizeDropped(dropped []*models.Message, previewChars int) string {
	var previews []string
	for _, m := range dropped {
		if m == nil || m.Role != models.RoleUser {
			continue
		}
		text := strings.TrimSpace(m.Content)
		if text == "" {
			continue
		}
		runes := []rune(text)
		if len(runes) > previewChars {
			text = string(runes[:previewChars]) + "…"
		}
		previews = append(previews, text)
	}
	body := strings.Join(previews, " | ")
	if body == "" {
		return fmt.Sprintf("Compacted %d earlier messages", len(dropped))
	}
	return fmt.Sprintf("Compacted %d earlier messages: %s", len(dropped), body)
}

// MarkMessageImportant marks a message as important (exempted from future
// pruning heuristics that consult it).
func MarkMessageImportant(msg *models.Message) {
	if msg.Metadata == nil {
		msg.Metadata = make(map[string]any)
	}
	msg.Metadata["important"] = true
	msg.Metadata["marked_important_at"] = time.Now().Format(time.RFC3339)
}

// IsMessageImportant checks if a message is marked as important.
func IsMessageImportant(msg *models.Message) bool {
	if msg.Metadata == nil {
		return false
	}
	if important, ok := msg.Metadata["important"].(bool); ok {
		return important
	}
	return false
}

// CompactionInfo stores compaction metadata in session records.
type CompactionInfo struct {
	LastCompactedAt          time.Time `json:"last_compacted_at"`
	MessagesBeforeCompaction int       `json:"messages_before_compaction"`
	MessagesAfterCompaction  int       `json:"messages_after_compaction"`
	CompactionCount          int       `json:"compaction_count"`
}

// GetCompactionInfo retrieves compaction info from session metadata.
func GetCompactionInfo(session *models.Session) *CompactionInfo {
	if session.Metadata == nil {
		return nil
	}
	if info, ok := session.Metadata[MetaKeyCompactionInfo].(*CompactionInfo); ok {
		return info
	}
	return nil
}

// SetCompactionInfo stores compaction info in session metadata.
func SetCompactionInfo(session *models.Session, info *CompactionInfo) {
	if session.Metadata == nil {
		session.Metadata = make(map[string]any)
	}
	session.Metadata[MetaKeyCompactionInfo] = info
	session.Metadata[MetaKeyLastCompactedAt] = info.LastCompactedAt.Format(time.RFC3339)
}
