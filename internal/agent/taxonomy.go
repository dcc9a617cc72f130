package agent

import (
	"fmt"
	"time"
)

// The types below round out the runtime's error taxonomy that ToolError
// and LoopError (errors.go) don't already cover. Each is a small struct
// type rather than a sentinel so call sites can attach structured context,
// matching the rest of this package's error style.

// BudgetExceeded indicates a daily-spend or per-loop tool-call limit tripped.
type BudgetExceeded struct {
	Kind    string // "daily_spend" | "tool_call_limit"
	Limit   float64
	Current float64
}

func (e *BudgetExceeded) Error() string {
	return fmt.Sprintf("budget exceeded (%s): current=%.4f limit=%.4f", e.Kind, e.Current, e.Limit)
}

// RateLimited is a transient provider error the LLM Router retries.
type RateLimited struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimited) Error() string {
	return fmt.Sprintf("rate limited by %s, retry after %s", e.Provider, e.RetryAfter)
}

// ProviderTransient covers HTTP 5xx/429/529, connection reset, "overloaded",
// and timeout responses from an LLM provider — retried by the router.
type ProviderTransient struct {
	Provider string
	Cause    error
}

func (e *ProviderTransient) Error() string {
	return fmt.Sprintf("transient provider error (%s): %v", e.Provider, e.Cause)
}

func (e *ProviderTransient) Unwrap() error { return e.Cause }

// ProviderPermanent covers HTTP 4xx other than 429, parse errors, and auth
// failures — not retried; ends the current loop iteration.
type ProviderPermanent struct {
	Provider string
	Cause    error
}

func (e *ProviderPermanent) Error() string {
	return fmt.Sprintf("permanent provider error (%s): %v", e.Provider, e.Cause)
}

func (e *ProviderPermanent) Unwrap() error { return e.Cause }

// ModelNotFound means no registered provider claims the requested model and
// no fallback model matches either. Fatal for the request.
type ModelNotFound struct {
	Model string
}

func (e *ModelNotFound) Error() string {
	return fmt.Sprintf("model not found: %s", e.Model)
}

// PluginError covers WASM plugin tool failures: missing exports, invalid
// guest JSON output, memory bounds violations, fuel exhaustion.
type PluginError struct {
	Plugin string
	Reason string
}

func (e *PluginError) Error() string {
	return fmt.Sprintf("plugin %s: %s", e.Plugin, e.Reason)
}

// ChannelError is logged and triggers adapter-level reconnect; it never
// aborts the agent loop.
type ChannelError struct {
	Channel string
	Reason  string
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel %s: %s", e.Channel, e.Reason)
}

// ConfigError is fatal at startup.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s", e.Reason)
}

// MemoryError is logged and returned to the caller; in-memory state
// remains the source of truth for the running process regardless.
type MemoryError struct {
	Op     string
	Reason string
}

func (e *MemoryError) Error() string {
	return fmt.Sprintf("memory store %s: %s", e.Op, e.Reason)
}

// ApprovalTimedOutError is treated as a Deny by the Agent Loop.
type ApprovalTimedOutError struct {
	RequestID string
}

func (e *ApprovalTimedOutError) Error() string {
	return fmt.Sprintf("approval %s timed out", e.RequestID)
}
