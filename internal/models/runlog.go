package models

import "time"

// RunTrigger identifies what started a run.
type RunTrigger string

const (
	RunTriggerScheduled  RunTrigger = "scheduled"
	RunTriggerAutonomous RunTrigger = "autonomous"
	RunTriggerManual     RunTrigger = "manual"
)

// RunStatus is the outcome of a single run attempt.
type RunStatus string

const (
	RunStatusOK        RunStatus = "ok"
	RunStatusError     RunStatus = "error"
	RunStatusCancelled RunStatus = "cancelled"
)

// TaskRunLog is one line of a task's append-only run ledger (runs.jsonl).
type TaskRunLog struct {
	ID             string     `json:"id"`
	TaskID         string     `json:"taskId"`
	Trigger        RunTrigger `json:"trigger"`
	Status         RunStatus  `json:"status"`
	Error          string     `json:"error,omitempty"`
	AgentSessionID string     `json:"agentSessionId,omitempty"`
	StartedAt      time.Time  `json:"startedAt"`
	FinishedAt     *time.Time `json:"finishedAt,omitempty"`
	DurationMs     int64      `json:"durationMs,omitempty"`
}
