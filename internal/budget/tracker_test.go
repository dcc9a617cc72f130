package budget

import (
	"errors"
	"testing"
)

func TestRecordSpendTripsAtLimit(t *testing.T) {
	tr := NewTracker(Config{DailyLimitUSD: 5.00})

	if err := tr.RecordSpend(4.00); err != nil {
		t.Fatalf("unexpected error recording under-limit spend: %v", err)
	}

	err := tr.RecordSpend(1.50)
	if err == nil {
		t.Fatalf("expected LimitExceededError, got nil")
	}
	var limitErr *LimitExceededError
	if !errors.As(err, &limitErr) {
		t.Fatalf("expected *LimitExceededError, got %T", err)
	}

	snap := tr.Snapshot()
	if snap.DailySpendUSD != 4.00 {
		t.Fatalf("expected snapshot unchanged at 4.00 after tripped record, got %v", snap.DailySpendUSD)
	}
}

func TestToolCallLimitPerLoop(t *testing.T) {
	tr := NewTracker(Config{ToolCallLimitPerLoop: 3})

	for i := 0; i < 3; i++ {
		if err := tr.CheckToolCall(); err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
		tr.RecordToolCall()
	}

	if err := tr.CheckToolCall(); err == nil {
		t.Fatalf("expected 4th call to exceed per-loop limit")
	}

	tr.ResetLoop()
	if err := tr.CheckToolCall(); err != nil {
		t.Fatalf("expected reset_loop to restore permission, got %v", err)
	}
}

func TestUnlimitedWhenZero(t *testing.T) {
	tr := NewTracker(Config{})
	for i := 0; i < 1000; i++ {
		if err := tr.CheckToolCall(); err != nil {
			t.Fatalf("unexpected limit with zero-value config: %v", err)
		}
		tr.RecordToolCall()
	}
	if err := tr.RecordSpend(1_000_000); err != nil {
		t.Fatalf("unexpected spend limit with zero-value config: %v", err)
	}
}
