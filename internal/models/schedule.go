package models

import "time"

// ScheduleType selects how a scheduled task is triggered.
type ScheduleType string

const (
	ScheduleTypeOnce     ScheduleType = "once"
	ScheduleTypeInterval ScheduleType = "interval"
	ScheduleTypeCron     ScheduleType = "cron"
)

// Schedule holds the trigger configuration of a scheduled task.
// Only the field matching Type is meaningful.
type Schedule struct {
	Type       ScheduleType `json:"type"`
	ScheduleAt *time.Time   `json:"scheduleAt,omitempty"` // once
	IntervalMs int64        `json:"intervalMs,omitempty"` // interval
	CronExpr   string       `json:"cronExpr,omitempty"`   // cron, 5 fields
}

// Interval returns the interval as a duration.
func (s *Schedule) Interval() time.Duration {
	return time.Duration(s.IntervalMs) * time.Millisecond
}
