// Package budget provides process-wide resource limiting for the agent
// runtime: per-loop tool-call counters, per-day spend, and per-request
// wall time.
package budget

import (
	"fmt"
	"sync"
	"time"
)

// Snapshot is an immutable view of the tracker's counters, matching the
// Budget Snapshot data-model entity.
type Snapshot struct {
	DailyLimitUSD        float64 `json:"daily_limit_usd"`
	DailySpendUSD        float64 `json:"daily_spend_usd"`
	TotalSpendUSD        float64 `json:"total_spend_usd"`
	LoopToolCalls        int     `json:"loop_tool_calls"`
	TotalToolCalls       int64   `json:"total_tool_calls"`
	ToolCallLimitPerLoop int     `json:"tool_call_limit_per_loop"`
}

// Config configures a Tracker's limits. Zero values disable the
// corresponding limit (unlimited).
type Config struct {
	DailyLimitUSD        float64
	ToolCallLimitPerLoop int
}

// Tracker enforces the budget preconditions. Monotonic counters
// reset only on explicit loop reset (ResetLoop) or day rollover, matching
// a day-bounded rollover,
// generalized here from "record usage" to "enforce a limit and trip".
type Tracker struct {
	mu sync.Mutex

	cfg Config

	dailySpend  float64
	totalSpend  float64
	loopCalls   int
	totalCalls  int64
	dayRollover time.Time // start-of-day boundary for dailySpend
}

// NewTracker creates a Tracker with the given configuration.
func NewTracker(cfg Config) *Tracker {
	return &Tracker{
		cfg:         cfg,
		dayRollover: startOfDay(time.Now()),
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func (t *Tracker) maybeRollover() {
	today := startOfDay(time.Now())
	if today.After(t.dayRollover) {
		t.dailySpend = 0
		t.dayRollover = today
	}
}

// CheckToolCall verifies the per-loop tool-call limit is not already
// exhausted. It does not record the call; call RecordToolCall after a
// successful dispatch decision.
func (t *Tracker) CheckToolCall() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cfg.ToolCallLimitPerLoop > 0 && t.loopCalls >= t.cfg.ToolCallLimitPerLoop {
		return &LimitExceededError{
			Kind:    "tool_call_limit",
			Limit:   float64(t.cfg.ToolCallLimitPerLoop),
			Current: float64(t.loopCalls),
		}
	}
	return nil
}

// RecordToolCall increments the per-loop and lifetime tool-call counters.
// Call only after CheckToolCall has passed for this call.
func (t *Tracker) RecordToolCall() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loopCalls++
	t.totalCalls++
}

// CheckSpend verifies that recording `amount` more USD would not exceed the
// daily limit. It does not record the spend.
func (t *Tracker) CheckSpend(amount float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maybeRollover()

	if t.cfg.DailyLimitUSD > 0 && t.dailySpend+amount > t.cfg.DailyLimitUSD {
		return &LimitExceededError{
			Kind:    "daily_spend",
			Limit:   t.cfg.DailyLimitUSD,
			Current: t.dailySpend,
		}
	}
	return nil
}

// RecordSpend records `amount` USD of spend. Returns a LimitExceededError
// (but still does not record) if the daily limit would be exceeded,
// boundary behavior: "Budget at exactly the limit: one
// more write must fail" and "snapshot unchanged since the record that
// tripped."
func (t *Tracker) RecordSpend(amount float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maybeRollover()

	if t.cfg.DailyLimitUSD > 0 && t.dailySpend+amount > t.cfg.DailyLimitUSD {
		return &LimitExceededError{
			Kind:    "daily_spend",
			Limit:   t.cfg.DailyLimitUSD,
			Current: t.dailySpend,
		}
	}
	t.dailySpend += amount
	t.totalSpend += amount
	return nil
}

// ResetLoop clears the per-loop tool-call counter, e.g. at the start of a
// new agent loop iteration cycle for a session.
func (t *Tracker) ResetLoop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loopCalls = 0
}

// Snapshot returns a consistent point-in-time view of all counters.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maybeRollover()

	return Snapshot{
		DailyLimitUSD:        t.cfg.DailyLimitUSD,
		DailySpendUSD:        t.dailySpend,
		TotalSpendUSD:        t.totalSpend,
		LoopToolCalls:        t.loopCalls,
		TotalToolCalls:       t.totalCalls,
		ToolCallLimitPerLoop: t.cfg.ToolCallLimitPerLoop,
	}
}

// LimitExceededError reports an exhausted budget.
type LimitExceededError struct {
	Kind    string
	Limit   float64
	Current float64
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("budget exceeded (%s): current=%.4f limit=%.4f", e.Kind, e.Current, e.Limit)
}
