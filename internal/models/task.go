package models

import (
	"slices"
	"time"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusTodo      TaskStatus = "todo"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusReview    TaskStatus = "review"
	TaskStatusDone      TaskStatus = "done"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether no further automatic transitions leave the status.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusDone || s == TaskStatusCancelled
}

// ReviewType says what a task in review is waiting on.
type ReviewType string

const (
	ReviewTypePlan       ReviewType = "plan"
	ReviewTypeCompletion ReviewType = "completion"
)

// TaskScope selects the root a task lives under.
type TaskScope string

const (
	TaskScopeWorkspace TaskScope = "workspace"
	TaskScopeProject   TaskScope = "project"
)

// TriggerMode says how a task gets started.
type TriggerMode string

const (
	TriggerModeManual    TriggerMode = "manual"
	TriggerModeScheduled TriggerMode = "scheduled"
	TriggerModeCondition TriggerMode = "condition"
)

// SessionMode controls agent session reuse across runs.
type SessionMode string

const (
	SessionModeIsolated SessionMode = "isolated" // fresh session per run
	SessionModeShared   SessionMode = "shared"   // task-<id> reused across runs
)

// TaskPriority orders candidates picked in the same orchestrator tick.
type TaskPriority string

const (
	TaskPriorityUrgent TaskPriority = "urgent"
	TaskPriorityHigh   TaskPriority = "high"
	TaskPriorityMedium TaskPriority = "medium"
	TaskPriorityLow    TaskPriority = "low"
)

// Rank returns a sort key, lower runs first. Unknown priorities sort as medium.
func (p TaskPriority) Rank() int {
	switch p {
	case TaskPriorityUrgent:
		return 0
	case TaskPriorityHigh:
		return 1
	case TaskPriorityLow:
		return 3
	default:
		return 2
	}
}

// Actor identifies who caused a status transition.
type Actor string

const (
	ActorSystem  Actor = "system"
	ActorUser    Actor = "user"
	ActorAgent   Actor = "agent"
	ActorTimeout Actor = "timeout"
)

// CreatedBy records the origin of a task.
type CreatedBy string

const (
	CreatedByUser  CreatedBy = "user"
	CreatedByAgent CreatedBy = "agent"
)

// LastStatus is the outcome of the most recent run.
type LastStatus string

const (
	LastStatusOK    LastStatus = "ok"
	LastStatusError LastStatus = "error"
)

// Condition is a declarative pre-filter. It is stored but not evaluated by the engine.
type Condition struct {
	Type       string `json:"type"`
	Expression string `json:"expression,omitempty"`
}

// ActivityLogEntry records one status transition or orchestration note.
type ActivityLogEntry struct {
	Timestamp  time.Time  `json:"timestamp"`
	From       TaskStatus `json:"from"`
	To         TaskStatus `json:"to"`
	ReviewType ReviewType `json:"reviewType,omitempty"`
	Reason     string     `json:"reason"`
	Actor      Actor      `json:"actor"`
}

// ExecutionSummary is a lossy progress snapshot of the current run.
type ExecutionSummary struct {
	CurrentStep      *int     `json:"currentStep,omitempty"`
	TotalSteps       *int     `json:"totalSteps,omitempty"`
	CompletedSteps   []string `json:"completedSteps,omitempty"`
	LastAgentMessage string   `json:"lastAgentMessage,omitempty"`
}

// SummaryPatch is a partial ExecutionSummary; nil fields are left untouched.
type SummaryPatch struct {
	CurrentStep      *int     `json:"currentStep,omitempty"`
	TotalSteps       *int     `json:"totalSteps,omitempty"`
	CompletedSteps   []string `json:"completedSteps,omitempty"`
	LastAgentMessage *string  `json:"lastAgentMessage,omitempty"`
}

// Apply merges the patch into s.
func (p SummaryPatch) Apply(s *ExecutionSummary) {
	if p.CurrentStep != nil {
		s.CurrentStep = p.CurrentStep
	}
	if p.TotalSteps != nil {
		s.TotalSteps = p.TotalSteps
	}
	if p.CompletedSteps != nil {
		s.CompletedSteps = p.CompletedSteps
	}
	if p.LastAgentMessage != nil {
		s.LastAgentMessage = *p.LastAgentMessage
	}
}

// Task represents a durable unit of agent-performed work.
// This corresponds to .openloaf/tasks/<id>/task.json under a workspace or project root.
type Task struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Scope       TaskScope    `json:"scope"`
	Status      TaskStatus   `json:"status"`
	ReviewType  ReviewType   `json:"reviewType,omitempty"` // only while status=review
	Priority    TaskPriority `json:"priority,omitempty"`

	TriggerMode TriggerMode `json:"triggerMode"`
	Schedule    *Schedule   `json:"schedule,omitempty"`
	Condition   *Condition  `json:"condition,omitempty"`

	AgentName            string         `json:"agentName,omitempty"`
	Payload              map[string]any `json:"payload,omitempty"`
	SessionMode          SessionMode    `json:"sessionMode"`
	SessionID            string         `json:"sessionId,omitempty"`
	TimeoutMs            int64          `json:"timeoutMs,omitempty"`
	PlanConfirmTimeoutMs int64          `json:"planConfirmTimeoutMs,omitempty"`
	SkipPlanConfirm      bool           `json:"skipPlanConfirm"`
	RequiresReview       bool           `json:"requiresReview"`
	AutoExecute          bool           `json:"autoExecute"`
	CooldownMs           int64          `json:"cooldownMs,omitempty"`

	ParentTaskID string   `json:"parentTaskId,omitempty"`
	DependsOn    []string `json:"dependsOn,omitempty"`
	Tags         []string `json:"tags,omitempty"`

	Enabled           bool               `json:"enabled"`
	LastRunAt         *time.Time         `json:"lastRunAt,omitempty"`
	LastStatus        LastStatus         `json:"lastStatus,omitempty"`
	LastError         string             `json:"lastError,omitempty"`
	RunCount          int                `json:"runCount"`
	ConsecutiveErrors int                `json:"consecutiveErrors"`
	ExecutionSummary  *ExecutionSummary  `json:"executionSummary,omitempty"`
	ActivityLog       []ActivityLogEntry `json:"activityLog"`
	CreatedAt         time.Time          `json:"createdAt"`
	UpdatedAt         time.Time          `json:"updatedAt"`
	CompletedAt       *time.Time         `json:"completedAt,omitempty"`
	CreatedBy         CreatedBy          `json:"createdBy"`

	// Root is the workspace or project directory the record was loaded from.
	Root string `json:"-"`
}

// NewTask creates a todo task with default values.
func NewTask(id, name string, scope TaskScope) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:          id,
		Name:        name,
		Scope:       scope,
		Status:      TaskStatusTodo,
		TriggerMode: TriggerModeManual,
		SessionMode: SessionModeIsolated,
		Enabled:     true,
		CreatedBy:   CreatedByUser,
		ActivityLog: []ActivityLogEntry{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Message returns the original user message carried in the payload, if any.
func (t *Task) Message() string {
	if t.Payload == nil {
		return ""
	}
	s, _ := t.Payload["message"].(string)
	return s
}

// Timeout returns the run timeout, falling back to def when unset.
func (t *Task) Timeout(def time.Duration) time.Duration {
	if t.TimeoutMs <= 0 {
		return def
	}
	return time.Duration(t.TimeoutMs) * time.Millisecond
}

// PlanConfirmTimeout returns the plan confirmation timeout, falling back to def when unset.
func (t *Task) PlanConfirmTimeout(def time.Duration) time.Duration {
	if t.PlanConfirmTimeoutMs <= 0 {
		return def
	}
	return time.Duration(t.PlanConfirmTimeoutMs) * time.Millisecond
}

// LastActivity returns the most recent activity log entry, or nil.
func (t *Task) LastActivity() *ActivityLogEntry {
	if len(t.ActivityLog) == 0 {
		return nil
	}
	return &t.ActivityLog[len(t.ActivityLog)-1]
}

// DependenciesDone reports whether every dependency id is in done.
func (t *Task) DependenciesDone(done map[string]bool) bool {
	for _, id := range t.DependsOn {
		if !done[id] {
			return false
		}
	}
	return true
}

// transitions lists the allowed status changes. Terminal tasks may be
// re-armed into running by a scheduled or manual trigger. Review returns to
// running only through plan confirmation.
var transitions = map[TaskStatus][]TaskStatus{
	TaskStatusTodo:      {TaskStatusRunning, TaskStatusCancelled},
	TaskStatusRunning:   {TaskStatusReview, TaskStatusDone, TaskStatusCancelled},
	TaskStatusReview:    {TaskStatusRunning, TaskStatusDone, TaskStatusTodo, TaskStatusCancelled},
	TaskStatusDone:      {TaskStatusRunning},
	TaskStatusCancelled: {TaskStatusRunning},
}

// CanTransition reports whether from -> to is an allowed status change.
func CanTransition(from, to TaskStatus) bool {
	return slices.Contains(transitions[from], to)
}
