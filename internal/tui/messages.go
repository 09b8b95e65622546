package tui

import (
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/events"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/models"
)

// TasksLoadedMsg carries the task list from ListTasks.
type TasksLoadedMsg struct {
	Tasks []*models.Task
}

// RunsLoadedMsg carries the run history of one task.
type RunsLoadedMsg struct {
	TaskID string
	Runs   []*models.TaskRunLog
}

// EventMsg carries one bus event from the SubscribeEvents stream.
type EventMsg struct {
	Event events.Event
}

// StreamEndedMsg signals the event stream closed.
type StreamEndedMsg struct {
	Err error
}

// ActionDoneMsg reports the outcome of a task action.
type ActionDoneMsg struct {
	Verb   string
	TaskID string
	Err    error
}

// ErrorMsg carries an error to display.
type ErrorMsg struct {
	Err error
}

// ClearNoticeMsg clears the status bar notice.
type ClearNoticeMsg struct{}

// ResubscribeMsg triggers a new event subscription.
type ResubscribeMsg struct{}
