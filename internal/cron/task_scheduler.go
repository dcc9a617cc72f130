package cron

import (
	"context"
	"log/slog"
	"time"

	"github.com/clawrt/agentd/internal/memory/store"
)

// TaskStore is the slice of the memory store the task scheduler needs.
type TaskStore interface {
	ActiveScheduledTasks(ctx context.Context) ([]*store.ScheduledTask, error)
	MarkTaskFired(ctx context.Context, id string, firedAt time.Time, deactivate bool) error
}

// TaskEvent is delivered to the runtime when a scheduled task fires. The
// runtime injects it as a synthetic user message into the referenced
// session, or a new one when SessionID is empty.
type TaskEvent struct {
	TaskID      string
	Label       string
	Description string
	SessionID   string
	FiredAt     time.Time
}

// TaskScheduler ticks over the persisted task table and emits TaskEvents
// for everything due. Cron tasks fire whenever now is past the next
// scheduled time after the last fire (or creation); one-shot tasks fire
// once and deactivate.
type TaskScheduler struct {
	store  TaskStore
	events chan TaskEvent
	tick   time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// TaskSchedulerOption configures a TaskScheduler.
type TaskSchedulerOption func(*TaskScheduler)

// WithTaskTick overrides the tick interval (default 10s).
func WithTaskTick(d time.Duration) TaskSchedulerOption {
	return func(s *TaskScheduler) {
		if d > 0 {
			s.tick = d
		}
	}
}

// WithTaskClock overrides the clock for tests.
func WithTaskClock(now func() time.Time) TaskSchedulerOption {
	return func(s *TaskScheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTaskLogger sets the logger.
func WithTaskLogger(logger *slog.Logger) TaskSchedulerOption {
	return func(s *TaskScheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewTaskScheduler creates a scheduler over the given store.
func NewTaskScheduler(ts TaskStore, opts ...TaskSchedulerOption) *TaskScheduler {
	s := &TaskScheduler{
		store:  ts,
		events: make(chan TaskEvent, 64),
		tick:   10 * time.Second,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Events is the stream of fired tasks. Closed when Run returns.
func (s *TaskScheduler) Events() <-chan TaskEvent {
	return s.events
}

// Run ticks until ctx is cancelled.
func (s *TaskScheduler) Run(ctx context.Context) {
	defer close(s.events)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce examines every active task and fires the due ones. Returns the
// number fired.
func (s *TaskScheduler) RunOnce(ctx context.Context) int {
	now := s.now()
	tasks, err := s.store.ActiveScheduledTasks(ctx)
	if err != nil {
		s.logger.Warn("failed to load scheduled tasks", "error", err)
		return 0
	}

	fired := 0
	for _, t := range tasks {
		due, deactivate := taskDue(t, now)
		if !due {
			continue
		}
		if err := s.store.MarkTaskFired(ctx, t.ID, now, deactivate); err != nil {
			s.logger.Warn("failed to mark task fired", "error", err, "task_id", t.ID)
			continue
		}
		event := TaskEvent{
			TaskID:      t.ID,
			Label:       t.Label,
			Description: t.Description,
			SessionID:   t.SessionID,
			FiredAt:     now,
		}
		select {
		case s.events <- event:
			fired++
		case <-ctx.Done():
			return fired
		}
	}
	return fired
}

func taskDue(t *store.ScheduledTask, now time.Time) (due, deactivate bool) {
	switch t.Kind.Type {
	case store.TaskKindOneShot:
		if t.Kind.FireAt == nil {
			return false, false
		}
		return !now.Before(*t.Kind.FireAt), true
	case store.TaskKindCron:
		schedule, err := cronParser.Parse(t.Kind.Expression)
		if err != nil {
			return false, false
		}
		anchor := t.CreatedAt
		if t.LastFired != nil {
			anchor = *t.LastFired
		}
		next := schedule.Next(anchor)
		return !next.IsZero() && !now.Before(next), false
	default:
		return false, false
	}
}
