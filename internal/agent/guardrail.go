package agent

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// AutonomyLevel controls how much latitude the Guardrail Engine gives a
// session before a tool call must be escalated to a human.
type AutonomyLevel int

const (
	// AutonomyManual auto-approves only risk-0 calls; anything riskier escalates.
	AutonomyManual AutonomyLevel = iota
	// AutonomyAssisted auto-approves low-risk calls but forbids proactive goals.
	AutonomyAssisted
	// AutonomySupervised raises the auto-approve threshold further.
	AutonomySupervised
	// AutonomyAutonomous allows proactive goal pursuit.
	AutonomyAutonomous
	// AutonomyFullAuto auto-approves nearly everything.
	AutonomyFullAuto
)

func (a AutonomyLevel) String() string {
	switch a {
	case AutonomyManual:
		return "manual"
	case AutonomyAssisted:
		return "assisted"
	case AutonomySupervised:
		return "supervised"
	case AutonomyAutonomous:
		return "autonomous"
	case AutonomyFullAuto:
		return "full_auto"
	default:
		return "unknown"
	}
}

// riskThresholds is the auto-approve-if-risk<=N table from the autonomy
// level design. Index by AutonomyLevel.
var riskThresholds = [...]int{0, 3, 5, 7, 9}

// RiskThreshold returns the maximum risk level this autonomy level
// auto-approves without escalation.
func (a AutonomyLevel) RiskThreshold() int {
	if int(a) < 0 || int(a) >= len(riskThresholds) {
		return riskThresholds[AutonomyAssisted]
	}
	return riskThresholds[a]
}

// AllowsAutonomousAction reports whether this level permits the agent to
// act without a human driving every step.
func (a AutonomyLevel) AllowsAutonomousAction() bool {
	return a >= AutonomyAssisted
}

// AllowsProactiveGoals reports whether this level permits the Goal Planner
// to pursue goals the user did not explicitly request this turn.
func (a AutonomyLevel) AllowsProactiveGoals() bool {
	return a >= AutonomyAutonomous
}

// AutonomyLevelFromU8 converts a raw configuration value to an AutonomyLevel.
//
// Decided open question: out-of-range values are rejected with a
// ConfigError rather than silently coerced to Assisted. A config typo
// producing a silent autonomy downgrade is worse than a boot-time failure.
func AutonomyLevelFromU8(v uint8) (AutonomyLevel, error) {
	if int(v) >= len(riskThresholds) {
		return 0, &ConfigError{Reason: fmt.Sprintf("autonomy level %d out of range (0-4)", v)}
	}
	return AutonomyLevel(v), nil
}

// GuardrailDecisionKind is the outcome of evaluating one tool call.
type GuardrailDecisionKind string

const (
	// GuardrailApprove dispatches the call immediately.
	GuardrailApprove GuardrailDecisionKind = "approve"
	// GuardrailEscalate routes the call through the Approval Gate.
	GuardrailEscalate GuardrailDecisionKind = "escalate"
	// GuardrailDeny refuses the call; final, no approval gate involved.
	GuardrailDeny GuardrailDecisionKind = "deny"
)

// GuardrailDecision is the Guardrail Engine's verdict plus its reason.
type GuardrailDecision struct {
	Kind   GuardrailDecisionKind
	Reason string
}

// GuardrailTool is the subset of tool metadata the guardrail needs.
type GuardrailTool struct {
	Name       string
	RiskLevel  int
	IsMutating bool
}

var (
	destructivePattern    = regexp.MustCompile(`(?i)\b(delete|drop|truncate)\b|\brm\s`)
	exfilCommandPattern   = regexp.MustCompile(`(?i)\b(curl|wget)\b`)
	sensitivePathFragment = []string{"/etc/passwd", ".ssh", "credentials", "aws_secret", "api_key"}
)

// GuardrailEngine produces Approve/Escalate/Deny decisions
// driven by autonomy level, allow/deny lists, and content heuristics.
//
// It is deliberately built as a thin decision layer over the existing
// allow/deny pattern matching (matchesPattern, policy.NormalizeTool) so a
// single source of pattern-matching logic serves both the legacy
// ApprovalChecker policies and the numeric autonomy model.
type GuardrailEngine struct {
	mu        sync.RWMutex
	autonomy  AutonomyLevel
	allowlist []string
	denylist  []string
}

// NewGuardrailEngine creates a Guardrail Engine at the given autonomy level.
func NewGuardrailEngine(autonomy AutonomyLevel, allowlist, denylist []string) *GuardrailEngine {
	return &GuardrailEngine{
		autonomy:  autonomy,
		allowlist: append([]string(nil), allowlist...),
		denylist:  append([]string(nil), denylist...),
	}
}

// SetAutonomy changes the active autonomy level.
func (g *GuardrailEngine) SetAutonomy(level AutonomyLevel) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.autonomy = level
}

// Autonomy returns the active autonomy level.
func (g *GuardrailEngine) Autonomy() AutonomyLevel {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.autonomy
}

// SetLists replaces the allow/deny lists, e.g. on config hot-reload.
func (g *GuardrailEngine) SetLists(allowlist, denylist []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.allowlist = append([]string(nil), allowlist...)
	g.denylist = append([]string(nil), denylist...)
}

// Evaluate runs the decision procedure against a tool call's
// metadata and argument text (a flattened, human-readable rendering of the
// call's arguments used only for the heuristic checks below).
func (g *GuardrailEngine) Evaluate(tool GuardrailTool, argText string) GuardrailDecision {
	g.mu.RLock()
	autonomy := g.autonomy
	allow := g.allowlist
	deny := g.denylist
	g.mu.RUnlock()

	// 1. Denylist always wins.
	if matchesPattern(deny, tool.Name) {
		return GuardrailDecision{GuardrailDeny, "tool on denylist"}
	}

	// 2. Explicit allowlist bypasses risk evaluation entirely.
	if matchesPattern(allow, tool.Name) {
		return GuardrailDecision{GuardrailApprove, "tool on allowlist"}
	}

	// 3. Heuristic checks against the call's name and rendered arguments.
	haystack := tool.Name + " " + argText
	if autonomy < AutonomySupervised {
		if destructivePattern.MatchString(haystack) {
			return GuardrailDecision{GuardrailEscalate, "destructive action requires supervision"}
		}
		if exfilCommandPattern.MatchString(haystack) && containsSensitivePath(haystack) {
			return GuardrailDecision{GuardrailEscalate, "possible exfiltration"}
		}
	}

	// 4. Risk-level threshold for the active autonomy level.
	threshold := autonomy.RiskThreshold()
	if tool.RiskLevel > threshold {
		return GuardrailDecision{
			GuardrailEscalate,
			fmt.Sprintf("risk level %d exceeds threshold %d", tool.RiskLevel, threshold),
		}
	}

	// 5. Default: approve.
	return GuardrailDecision{GuardrailApprove, "within autonomy threshold"}
}

func containsSensitivePath(haystack string) bool {
	lower := strings.ToLower(haystack)
	for _, frag := range sensitivePathFragment {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

// RiskAware is implemented by tools that know their own risk_level and
// mutation status. Tools that don't
// implement it fall back to defaultRiskTable below, keyed by name prefix —
// the same normalize-then-lookup shape as policy.NormalizeTool's alias
// table, so built-in tools need not all be rewritten to carry metadata.
type RiskAware interface {
	RiskLevel() int
	IsMutating() bool
}

// defaultRiskTable assigns a risk_level to built-in tools that don't
// implement RiskAware. Matched by prefix against the tool name.
var defaultRiskTable = []struct {
	prefix   string
	risk     int
	mutating bool
}{
	{"terminal_run", 6, true},
	{"terminal_input", 6, true},
	{"terminal_open", 3, true},
	{"terminal_close", 2, true},
	{"terminal_view", 0, false},
	{"shell_exec", 7, true},
	{"exec", 7, true},
	{"file_write", 5, true},
	{"file_delete", 8, true},
	{"file_read", 1, false},
	{"http_fetch", 3, false},
	{"memory_write", 2, true},
	{"memory_read", 0, false},
	{"goal_", 1, true},
	{"scheduler_", 3, true},
	{"sub_agent_", 4, true},
}

// ResolveToolRisk determines the risk level and mutation flag for a tool
// call's named tool: the tool's own RiskAware metadata if it implements
// that interface, else the closest defaultRiskTable prefix match, else a
// conservative default of risk 5 (mutating) for unknown tools.
func ResolveToolRisk(tool Tool, name string) GuardrailTool {
	if ra, ok := tool.(RiskAware); ok {
		return GuardrailTool{Name: name, RiskLevel: ra.RiskLevel(), IsMutating: ra.IsMutating()}
	}
	for _, row := range defaultRiskTable {
		if strings.HasPrefix(name, row.prefix) {
			return GuardrailTool{Name: name, RiskLevel: row.risk, IsMutating: row.mutating}
		}
	}
	return GuardrailTool{Name: name, RiskLevel: 5, IsMutating: true}
}
