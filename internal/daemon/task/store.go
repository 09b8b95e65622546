// Package task holds the durable task store for the daemon.
//
// Records live under <root>/.openloaf/tasks/<id>/task.json for both the
// workspace root and each registered project root. Writes are atomic per file
// but there is no cross-file transaction: the daemon is assumed to be the only
// writing process, and read-modify-write cycles are serialised by Store's mutex.
package task

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/OpenLoaf/OpenLoaf-sub003/internal/config"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/models"
)

var (
	// ErrNotFound is returned when no root holds the requested task.
	ErrNotFound = errors.New("task not found")

	// ErrInvalidTransition is returned for a status change outside the lifecycle.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidInput is returned for malformed create input.
	ErrInvalidInput = errors.New("invalid task input")
)

// Roots identifies the directories a lookup spans. Project roots are searched
// before the workspace root, so a project task shadows a workspace task with
// the same id.
type Roots struct {
	Workspace string
	Projects  []string
}

// Search returns the roots in lookup order.
func (r Roots) Search() []string {
	out := make([]string, 0, len(r.Projects)+1)
	for _, p := range r.Projects {
		if p != "" {
			out = append(out, p)
		}
	}
	if r.Workspace != "" {
		out = append(out, r.Workspace)
	}
	return out
}

// RootsFunc resolves the current roots. It is called on every scan so newly
// registered projects are picked up without a restart.
type RootsFunc func() Roots

// Store handles task and template persistence.
type Store struct {
	mu     sync.Mutex
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates a new task store.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		logger: logger.With("component", "store"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateInput contains the fields accepted when creating a task.
// Nil pointers take the model defaults.
type CreateInput struct {
	Name                 string              `json:"name,omitempty"`
	Description          string              `json:"description,omitempty"`
	Priority             models.TaskPriority `json:"priority,omitempty"`
	TriggerMode          models.TriggerMode  `json:"triggerMode,omitempty"`
	Schedule             *models.Schedule    `json:"schedule,omitempty"`
	Condition            *models.Condition   `json:"condition,omitempty"`
	AgentName            string              `json:"agentName,omitempty"`
	Payload              map[string]any      `json:"payload,omitempty"`
	SessionMode          models.SessionMode  `json:"sessionMode,omitempty"`
	TimeoutMs            int64               `json:"timeoutMs,omitempty"`
	PlanConfirmTimeoutMs int64               `json:"planConfirmTimeoutMs,omitempty"`
	SkipPlanConfirm      *bool               `json:"skipPlanConfirm,omitempty"`
	RequiresReview       *bool               `json:"requiresReview,omitempty"`
	AutoExecute          *bool               `json:"autoExecute,omitempty"`
	Enabled              *bool               `json:"enabled,omitempty"`
	CooldownMs           int64               `json:"cooldownMs,omitempty"`
	ParentTaskID         string              `json:"parentTaskId,omitempty"`
	DependsOn            []string            `json:"dependsOn,omitempty"`
	Tags                 []string            `json:"tags,omitempty"`
	CreatedBy            models.CreatedBy    `json:"createdBy,omitempty"`
}

// Patch contains the fields that can be updated on a task. Status and review
// type are deliberately absent: they only change through Transition, which
// records the matching activity log entry.
type Patch struct {
	Name                 *string              `json:"name,omitempty"`
	Description          *string              `json:"description,omitempty"`
	Priority             *models.TaskPriority `json:"priority,omitempty"`
	TriggerMode          *models.TriggerMode  `json:"triggerMode,omitempty"`
	Schedule             *models.Schedule     `json:"schedule,omitempty"`
	ClearSchedule        bool                 `json:"clearSchedule,omitempty"`
	Condition            *models.Condition    `json:"condition,omitempty"`
	AgentName            *string              `json:"agentName,omitempty"`
	Payload              map[string]any       `json:"payload,omitempty"`
	SessionMode          *models.SessionMode  `json:"sessionMode,omitempty"`
	SessionID            *string              `json:"sessionId,omitempty"`
	TimeoutMs            *int64               `json:"timeoutMs,omitempty"`
	PlanConfirmTimeoutMs *int64               `json:"planConfirmTimeoutMs,omitempty"`
	SkipPlanConfirm      *bool                `json:"skipPlanConfirm,omitempty"`
	RequiresReview       *bool                `json:"requiresReview,omitempty"`
	AutoExecute          *bool                `json:"autoExecute,omitempty"`
	CooldownMs           *int64               `json:"cooldownMs,omitempty"`
	ParentTaskID         *string              `json:"parentTaskId,omitempty"`
	DependsOn            []string             `json:"dependsOn,omitempty"`
	Tags                 []string             `json:"tags,omitempty"`
	Enabled              *bool                `json:"enabled,omitempty"`
	LastRunAt            *time.Time           `json:"lastRunAt,omitempty"`
	LastStatus           *models.LastStatus   `json:"lastStatus,omitempty"`
	LastError            *string              `json:"lastError,omitempty"`
	RunCount             *int                 `json:"runCount,omitempty"`
	ConsecutiveErrors    *int                 `json:"consecutiveErrors,omitempty"`
	CompletedAt          *time.Time           `json:"completedAt,omitempty"`
	ClearCompletedAt     bool                 `json:"clearCompletedAt,omitempty"`
	ClearSummary         bool                 `json:"clearSummary,omitempty"`
}

func (p *Patch) apply(t *models.Task) {
	if p == nil {
		return
	}
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.TriggerMode != nil {
		t.TriggerMode = *p.TriggerMode
	}
	if p.Schedule != nil {
		t.Schedule = p.Schedule
	}
	if p.ClearSchedule {
		t.Schedule = nil
	}
	if p.Condition != nil {
		t.Condition = p.Condition
	}
	if p.AgentName != nil {
		t.AgentName = *p.AgentName
	}
	if p.Payload != nil {
		t.Payload = p.Payload
	}
	if p.SessionMode != nil {
		t.SessionMode = *p.SessionMode
	}
	if p.SessionID != nil {
		t.SessionID = *p.SessionID
	}
	if p.TimeoutMs != nil {
		t.TimeoutMs = *p.TimeoutMs
	}
	if p.PlanConfirmTimeoutMs != nil {
		t.PlanConfirmTimeoutMs = *p.PlanConfirmTimeoutMs
	}
	if p.SkipPlanConfirm != nil {
		t.SkipPlanConfirm = *p.SkipPlanConfirm
	}
	if p.RequiresReview != nil {
		t.RequiresReview = *p.RequiresReview
	}
	if p.AutoExecute != nil {
		t.AutoExecute = *p.AutoExecute
	}
	if p.CooldownMs != nil {
		t.CooldownMs = *p.CooldownMs
	}
	if p.ParentTaskID != nil {
		t.ParentTaskID = *p.ParentTaskID
	}
	if p.DependsOn != nil {
		t.DependsOn = p.DependsOn
	}
	if p.Tags != nil {
		t.Tags = p.Tags
	}
	if p.Enabled != nil {
		t.Enabled = *p.Enabled
	}
	if p.LastRunAt != nil {
		t.LastRunAt = p.LastRunAt
	}
	if p.LastStatus != nil {
		t.LastStatus = *p.LastStatus
	}
	if p.LastError != nil {
		t.LastError = *p.LastError
	}
	if p.RunCount != nil {
		t.RunCount = *p.RunCount
	}
	if p.ConsecutiveErrors != nil {
		t.ConsecutiveErrors = *p.ConsecutiveErrors
	}
	if p.CompletedAt != nil {
		t.CompletedAt = p.CompletedAt
	}
	if p.ClearCompletedAt {
		t.CompletedAt = nil
	}
	if p.ClearSummary {
		t.ExecutionSummary = nil
	}
}

// TransitionOptions describe a status change.
type TransitionOptions struct {
	ReviewType models.ReviewType // required when moving to review
	Reason     string
	Actor      models.Actor
	Patch      *Patch // applied in the same write
}

// List returns every task across roots, newest first.
func (s *Store) List(roots Roots) ([]*models.Task, error) {
	var tasks []*models.Task
	seen := make(map[string]bool)
	for _, root := range roots.Search() {
		rootTasks, err := s.listRoot(root)
		if err != nil {
			return nil, err
		}
		for _, t := range rootTasks {
			if seen[t.ID] {
				continue // shadowed by a project task
			}
			seen[t.ID] = true
			tasks = append(tasks, t)
		}
	}

	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	return tasks, nil
}

// Get returns the task with id, or nil if no root holds it.
func (s *Store) Get(id string, roots Roots) (*models.Task, error) {
	if !validID(id) {
		return nil, nil
	}
	for _, root := range roots.Search() {
		t, err := loadTask(root, id)
		if err != nil {
			return nil, err
		}
		if t != nil {
			return t, nil
		}
	}
	return nil, nil
}

// Create writes a new todo task under root.
func (s *Store) Create(in CreateInput, root string, scope models.TaskScope) (*models.Task, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if root == "" {
		return nil, fmt.Errorf("%w: root is required", ErrInvalidInput)
	}
	if scope != models.TaskScopeWorkspace && scope != models.TaskScopeProject {
		return nil, fmt.Errorf("%w: unknown scope %q", ErrInvalidInput, scope)
	}

	t := models.NewTask(uuid.NewString(), in.Name, scope)
	now := s.now()
	t.CreatedAt, t.UpdatedAt = now, now
	t.Root = root
	t.Description = in.Description
	t.Priority = in.Priority
	if in.TriggerMode != "" {
		t.TriggerMode = in.TriggerMode
	}
	t.Schedule = in.Schedule
	t.Condition = in.Condition
	t.AgentName = in.AgentName
	t.Payload = in.Payload
	if in.SessionMode != "" {
		t.SessionMode = in.SessionMode
	}
	t.TimeoutMs = in.TimeoutMs
	t.PlanConfirmTimeoutMs = in.PlanConfirmTimeoutMs
	t.SkipPlanConfirm = deref(in.SkipPlanConfirm, false)
	t.RequiresReview = deref(in.RequiresReview, false)
	t.AutoExecute = deref(in.AutoExecute, false)
	t.Enabled = deref(in.Enabled, true)
	t.CooldownMs = in.CooldownMs
	t.ParentTaskID = in.ParentTaskID
	t.DependsOn = in.DependsOn
	t.Tags = in.Tags
	if in.CreatedBy != "" {
		t.CreatedBy = in.CreatedBy
	}
	t.ActivityLog = append(t.ActivityLog, models.ActivityLogEntry{
		Timestamp: now,
		From:      models.TaskStatusTodo,
		To:        models.TaskStatusTodo,
		Reason:    "task created",
		Actor:     actorFor(t.CreatedBy),
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := saveTask(t); err != nil {
		return nil, err
	}
	s.logger.Debug("task created", "task", t.ID, "scope", scope, "root", root)
	return t, nil
}

// Update merges patch into the task and refreshes updatedAt.
// Returns ErrNotFound if the task does not exist.
func (s *Store) Update(id string, patch Patch, roots Roots) (*models.Task, error) {
	return s.mutate(id, roots, func(t *models.Task) error {
		patch.apply(t)
		return nil
	})
}

// Transition moves the task to status to and appends the activity log entry
// describing it, in a single write.
func (s *Store) Transition(id string, to models.TaskStatus, opts TransitionOptions, roots Roots) (*models.Task, error) {
	return s.mutate(id, roots, func(t *models.Task) error {
		from := t.Status
		if !models.CanTransition(from, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
		}
		if to == models.TaskStatusReview && opts.ReviewType == "" {
			return fmt.Errorf("%w: review requires a review type", ErrInvalidTransition)
		}

		opts.Patch.apply(t)
		t.Status = to
		if to == models.TaskStatusReview {
			t.ReviewType = opts.ReviewType
		} else {
			t.ReviewType = ""
		}
		t.ActivityLog = append(t.ActivityLog, models.ActivityLogEntry{
			Timestamp:  s.now(),
			From:       from,
			To:         to,
			ReviewType: t.ReviewType,
			Reason:     opts.Reason,
			Actor:      opts.Actor,
		})
		return nil
	})
}

// AppendActivityLog appends an entry without changing status. Entries whose
// To differs from the current status are rejected; use Transition instead.
func (s *Store) AppendActivityLog(id string, entry models.ActivityLogEntry, roots Roots) (*models.Task, error) {
	return s.mutate(id, roots, func(t *models.Task) error {
		if entry.To != "" && entry.To != t.Status {
			return fmt.Errorf("%w: activity entry to=%s on %s task", ErrInvalidTransition, entry.To, t.Status)
		}
		if entry.Timestamp.IsZero() {
			entry.Timestamp = s.now()
		}
		if entry.From == "" {
			entry.From = t.Status
		}
		entry.To = t.Status
		t.ActivityLog = append(t.ActivityLog, entry)
		return nil
	})
}

// UpdateExecutionSummary merges patch into the task's execution summary.
func (s *Store) UpdateExecutionSummary(id string, patch models.SummaryPatch, roots Roots) (*models.Task, error) {
	return s.mutate(id, roots, func(t *models.Task) error {
		if t.ExecutionSummary == nil {
			t.ExecutionSummary = &models.ExecutionSummary{}
		}
		patch.Apply(t.ExecutionSummary)
		return nil
	})
}

// ArchiveTask moves a done task under tasks/archive/<completion date>/.
// Returns false without side effects for any other status.
func (s *Store) ArchiveTask(id string, roots Roots) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.Get(id, roots)
	if err != nil {
		return false, err
	}
	if t == nil || t.Status != models.TaskStatusDone {
		return false, nil
	}

	completed := t.UpdatedAt
	if t.CompletedAt != nil {
		completed = *t.CompletedAt
	}
	dest := config.ArchiveDir(t.Root, completed.Format("2006-01-02"))
	if err := os.MkdirAll(dest, 0755); err != nil {
		return false, fmt.Errorf("failed to create archive dir: %w", err)
	}
	if err := os.Rename(config.TaskDir(t.Root, id), filepath.Join(dest, id)); err != nil {
		return false, fmt.Errorf("failed to archive task %s: %w", id, err)
	}
	s.logger.Info("task archived", "task", id, "dest", dest)
	return true, nil
}

// DeleteTask removes the task's storage location, run ledger included.
func (s *Store) DeleteTask(id string, roots Roots) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.Get(id, roots)
	if err != nil {
		return false, err
	}
	if t == nil {
		return false, nil
	}
	if err := os.RemoveAll(config.TaskDir(t.Root, id)); err != nil {
		return false, fmt.Errorf("failed to delete task %s: %w", id, err)
	}
	s.logger.Info("task deleted", "task", id)
	return true, nil
}

// mutate runs a locked read-modify-write cycle on one task record.
func (s *Store) mutate(id string, roots Roots, fn func(*models.Task) error) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.Get(id, roots)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := fn(t); err != nil {
		return nil, err
	}
	t.UpdatedAt = s.now()
	if err := saveTask(t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Store) listRoot(root string) ([]*models.Task, error) {
	entries, err := os.ReadDir(config.TasksDir(root))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read tasks dir: %w", err)
	}

	var tasks []*models.Task
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == config.ArchiveDirName {
			continue
		}
		t, err := loadTask(root, entry.Name())
		if err != nil {
			// Skip unreadable records rather than hiding every other task
			s.logger.Warn("skipping unreadable task", "path", config.TaskFile(root, entry.Name()), "error", err)
			continue
		}
		if t != nil {
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

// loadTask returns nil if the record doesn't exist.
func loadTask(root, id string) (*models.Task, error) {
	path := config.TaskFile(root, id)
	if !config.FileExists(path) {
		return nil, nil
	}

	var t models.Task
	if err := config.LoadJSON(path, &t); err != nil {
		return nil, err
	}
	if t.ID == "" {
		t.ID = id
	}
	t.Root = root
	return &t, nil
}

func saveTask(t *models.Task) error {
	return config.SaveJSON(config.TaskFile(t.Root, t.ID), t)
}

// validID rejects ids that would escape the tasks directory.
func validID(id string) bool {
	return id != "" && id != "." && id != ".." && id != config.ArchiveDirName &&
		!strings.ContainsAny(id, `/\`)
}

func actorFor(by models.CreatedBy) models.Actor {
	if by == models.CreatedByAgent {
		return models.ActorAgent
	}
	return models.ActorUser
}

func deref[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}
