package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// LessonFact is one extracted lesson, keyed for the fact store.
type LessonFact struct {
	Key    string `json:"key"`
	Lesson string `json:"lesson"`
}

// LessonSink receives extracted lessons. The daemon wires this to the
// fact store (category "learned_lessons") and the mesh publisher.
type LessonSink interface {
	StoreLesson(ctx context.Context, key, lesson string) error
}

// LessonExtractor scans a finished transcript for an
// error -> user-correction -> success pattern and, when one is found,
// asks a cheap model to distill the exchange into reusable lessons.
type LessonExtractor struct {
	Provider  LLMProvider
	FastModel string
	Sink      LessonSink
	Logger    *slog.Logger

	// MaxExcerptChars bounds the transcript excerpt sent to the model.
	// Defaults to 4000.
	MaxExcerptChars int
}

const lessonPrompt = `The following conversation excerpt shows an agent making a mistake, being corrected by the user, and then recovering. Extract the reusable lessons as a JSON array of objects with "key" (short snake_case identifier) and "lesson" (one sentence). Return only the JSON array.

Excerpt:
%s`

// Extract runs the post-loop lesson pass. It returns the stored lessons;
// a transcript without the correction pattern returns (nil, nil).
func (e *LessonExtractor) Extract(ctx context.Context, messages []CompletionMessage) ([]LessonFact, error) {
	excerpt, ok := e.correctionExcerpt(messages)
	if !ok {
		return nil, nil
	}

	req := &CompletionRequest{
		Model: e.FastModel,
		Messages: []CompletionMessage{
			{Role: "user", Content: fmt.Sprintf(lessonPrompt, excerpt)},
		},
		MaxTokens: 1024,
	}
	chunks, err := e.Provider.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("lesson extraction call failed: %w", err)
	}
	var sb strings.Builder
	for chunk := range chunks {
		if chunk == nil {
			continue
		}
		if chunk.Error != nil {
			return nil, fmt.Errorf("lesson extraction stream failed: %w", chunk.Error)
		}
		sb.WriteString(chunk.Text)
		if chunk.Done {
			break
		}
	}

	lessons, err := parseLessons(sb.String())
	if err != nil {
		return nil, err
	}
	if e.Sink != nil {
		for _, l := range lessons {
			if err := e.Sink.StoreLesson(ctx, l.Key, l.Lesson); err != nil {
				e.logger().Warn("failed to store lesson", "error", err, "key", l.Key)
			}
		}
	}
	return lessons, nil
}

func (e *LessonExtractor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// correctionExcerpt finds the first failure (an is_error tool result or a
// refusal-shaped assistant turn), a user message after it, and a
// successful turn after that. Without all three there is nothing to learn.
func (e *LessonExtractor) correctionExcerpt(messages []CompletionMessage) (string, bool) {
	failure := -1
	for i, m := range messages {
		if messageFailed(m) {
			failure = i
			break
		}
	}
	if failure < 0 {
		return "", false
	}

	correction := -1
	for i := failure + 1; i < len(messages); i++ {
		if messages[i].Role == "user" && strings.TrimSpace(messages[i].Content) != "" {
			correction = i
			break
		}
	}
	if correction < 0 {
		return "", false
	}

	success := -1
	for i := correction + 1; i < len(messages); i++ {
		m := messages[i]
		if messageFailed(m) {
			continue
		}
		if m.Role == "assistant" && strings.TrimSpace(m.Content) != "" {
			success = i
			break
		}
		if m.Role == "tool" && len(m.ToolResults) > 0 {
			success = i
			break
		}
	}
	if success < 0 {
		return "", false
	}

	limit := e.MaxExcerptChars
	if limit <= 0 {
		limit = 4000
	}
	var sb strings.Builder
	for i := failure; i <= success; i++ {
		m := messages[i]
		line := m.Content
		if line == "" && len(m.ToolResults) > 0 {
			parts := make([]string, 0, len(m.ToolResults))
			for _, tr := range m.ToolResults {
				parts = append(parts, tr.Content)
			}
			line = strings.Join(parts, "; ")
		}
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	excerpt := sb.String()
	if len(excerpt) > limit {
		excerpt = excerpt[:limit]
	}
	return excerpt, true
}

var refusalMarkers = []string{
	"i can't", "i cannot", "i'm unable", "i am unable", "i won't",
}

func messageFailed(m CompletionMessage) bool {
	for _, tr := range m.ToolResults {
		if tr.IsError {
			return true
		}
	}
	if m.Role == "assistant" {
		content := strings.ToLower(m.Content)
		for _, marker := range refusalMarkers {
			if strings.Contains(content, marker) {
				return true
			}
		}
	}
	return false
}

func parseLessons(raw string) ([]LessonFact, error) {
	raw = strings.TrimSpace(raw)
	if idx := strings.Index(raw, "["); idx >= 0 {
		if end := strings.LastIndex(raw, "]"); end > idx {
			raw = raw[idx : end+1]
		}
	}
	var lessons []LessonFact
	if err := json.Unmarshal([]byte(raw), &lessons); err != nil {
		return nil, fmt.Errorf("lesson extraction returned invalid JSON: %w", err)
	}
	out := lessons[:0]
	for _, l := range lessons {
		if strings.TrimSpace(l.Key) == "" || strings.TrimSpace(l.Lesson) == "" {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// runLessonExtraction executes the lesson pass with its own bounded
// context so a cancelled request context cannot abort the write.
func (r *Runtime) runLessonExtraction(extractor *LessonExtractor, messages []CompletionMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := extractor.Extract(ctx, messages); err != nil {
		r.opts.Logger.Debug("lesson extraction failed", "error", err)
	}
}
