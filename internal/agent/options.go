package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/clawrt/agentd/internal/budget"
	"github.com/clawrt/agentd/internal/jobs"
	"github.com/clawrt/agentd/pkg/models"
)

// RuntimeOptions configures tool execution and loop behavior.
type RuntimeOptions struct {
	// MaxIterations limits tool-use iterations per request.
	MaxIterations int

	// ToolParallelism caps concurrent tool execution.
	ToolParallelism int

	// ToolTimeout applies a default timeout to each tool call.
	ToolTimeout time.Duration

	// ToolMaxAttempts controls retry attempts for tool execution.
	ToolMaxAttempts int

	// ToolRetryBackoff waits between retry attempts.
	ToolRetryBackoff time.Duration

	// DisableToolEvents disables ToolEvent emission while processing.
	DisableToolEvents bool

	// MaxToolCalls limits total tool calls per request (0 = unlimited).
	MaxToolCalls int

	// RequireApproval lists tool names/patterns that require approval.
	RequireApproval []string

	// ApprovalChecker evaluates approval policy for tool calls when set.
	ApprovalChecker *ApprovalChecker

	// GuardrailEngine, when set, evaluates the autonomy-level/
	// risk-level decision procedure and takes priority over ApprovalChecker
	// for this call: Deny short-circuits like a denylist hit, Escalate
	// suspends dispatch on ApprovalGate, Approve falls through to dispatch.
	GuardrailEngine *GuardrailEngine

	// ApprovalGate resolves GuardrailEscalate decisions by blocking the
	// current tool call (and later sibling calls in the same turn) until a
	// human responds or ApprovalTimeoutSeconds elapses. Required when
	// GuardrailEngine is set; ignored otherwise.
	ApprovalGate *ApprovalGate

	// ApprovalTimeoutSeconds bounds how long an escalated call waits on
	// ApprovalGate before resolving as TimedOut. Defaults to 60.
	ApprovalTimeoutSeconds int

	// ElevatedTools lists tool patterns eligible for elevated full bypass.
	ElevatedTools []string

	// AsyncTools lists tool names to execute asynchronously as jobs.
	AsyncTools []string

	// JobStore receives async tool job updates.
	JobStore jobs.Store

	// ToolResultGuard redacts tool results before persistence.
	ToolResultGuard ToolResultGuard

	// BudgetTracker gates each tool dispatch against the
	// per-loop tool-call and daily-spend limits. A tripped limit is
	// treated like a guardrail denial: the call is refused and the
	// reason is returned to the model as the tool result.
	BudgetTracker *budget.Tracker

	// LessonExtractor, when set, runs the post-loop lesson pass over the
	// finished transcript and stores what it finds.
	LessonExtractor *LessonExtractor

	// PostLoopHook, when set, runs after a loop ends with a final
	// assistant turn. The daemon uses it to snapshot working memory and
	// emit an episode.
	PostLoopHook PostLoopHook

	// AuditLogger receives one row per guardrail escalation outcome,
	// budget trip, and tool dispatch.
	AuditLogger AuditLogger

	// Logger receives runtime diagnostics.
	Logger *slog.Logger
}

// PostLoopHook observes a finished loop's transcript.
type PostLoopHook func(ctx context.Context, session *models.Session, transcript []CompletionMessage)

// AuditLogger appends tamper-evident audit rows. Implementations must not
// block the dispatch path.
type AuditLogger interface {
	Audit(ctx context.Context, eventType, action, details string)
}

// DefaultRuntimeOptions returns the baseline runtime options.
func DefaultRuntimeOptions() RuntimeOptions {
	return RuntimeOptions{
		MaxIterations:     5,
		ToolParallelism:   4,
		ToolTimeout:       30 * time.Second,
		ToolMaxAttempts:   1,
		ToolRetryBackoff:  0,
		DisableToolEvents: false,
		MaxToolCalls:      0,
		Logger:            slog.Default(),
	}
}

func mergeRuntimeOptions(base RuntimeOptions, override RuntimeOptions) RuntimeOptions {
	merged := base
	if override.MaxIterations > 0 {
		merged.MaxIterations = override.MaxIterations
	}
	if override.ToolParallelism > 0 {
		merged.ToolParallelism = override.ToolParallelism
	}
	if override.ToolTimeout > 0 {
		merged.ToolTimeout = override.ToolTimeout
	}
	if override.ToolMaxAttempts > 0 {
		merged.ToolMaxAttempts = override.ToolMaxAttempts
	}
	if override.ToolRetryBackoff > 0 {
		merged.ToolRetryBackoff = override.ToolRetryBackoff
	}
	if override.DisableToolEvents {
		merged.DisableToolEvents = true
	}
	if override.MaxToolCalls > 0 {
		merged.MaxToolCalls = override.MaxToolCalls
	}
	if len(override.RequireApproval) > 0 {
		merged.RequireApproval = override.RequireApproval
	}
	if override.ApprovalChecker != nil {
		merged.ApprovalChecker = override.ApprovalChecker
	}
	if override.GuardrailEngine != nil {
		merged.GuardrailEngine = override.GuardrailEngine
	}
	if override.ApprovalGate != nil {
		merged.ApprovalGate = override.ApprovalGate
	}
	if override.ApprovalTimeoutSeconds > 0 {
		merged.ApprovalTimeoutSeconds = override.ApprovalTimeoutSeconds
	}
	if len(override.ElevatedTools) > 0 {
		merged.ElevatedTools = override.ElevatedTools
	}
	if len(override.AsyncTools) > 0 {
		merged.AsyncTools = override.AsyncTools
	}
	if override.JobStore != nil {
		merged.JobStore = override.JobStore
	}
	if override.ToolResultGuard.active() {
		merged.ToolResultGuard = override.ToolResultGuard
	}
	if override.BudgetTracker != nil {
		merged.BudgetTracker = override.BudgetTracker
	}
	if override.LessonExtractor != nil {
		merged.LessonExtractor = override.LessonExtractor
	}
	if override.PostLoopHook != nil {
		merged.PostLoopHook = override.PostLoopHook
	}
	if override.AuditLogger != nil {
		merged.AuditLogger = override.AuditLogger
	}
	if override.Logger != nil {
		merged.Logger = override.Logger
	}
	return merged
}
