// Package cron schedules persisted tasks: parsed cron expressions,
// one-shot timestamps, and fixed intervals, ticked by the TaskScheduler.
package cron

import "time"

// Schedule represents a parsed schedule.
type Schedule struct {
	Kind     string
	CronExpr string
	Every    time.Duration
	At       time.Time
	Timezone string
}
