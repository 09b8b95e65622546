// Package orchestrator picks runnable tasks on a fixed tick, arbitrates
// conflicts between them, and sweeps timed-out and retired tasks.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/events"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/executor"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/task"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/models"
)

// ErrNotInReview is returned by ResolveReview for a task not in review.
var ErrNotInReview = errors.New("task is not in review")

// ReviewAction is a reviewer's decision.
type ReviewAction string

const (
	ActionApprove ReviewAction = "approve"
	ActionReject  ReviewAction = "reject"
	ActionRework  ReviewAction = "rework"
)

// Runner is the part of the executor the orchestrator drives.
type Runner interface {
	Start(ctx context.Context, taskID string, trigger models.RunTrigger) bool
	Abort(taskID string, cause error) bool
	IsRunning(taskID string) bool
	Running() []string
	ResolvePlanConfirmation(taskID string, result executor.GateResult, reason string) bool
}

// Options configure the tick loop.
type Options struct {
	TickInterval     time.Duration
	ArchiveRetention time.Duration
	DefaultTimeout   time.Duration // run timeout for tasks without timeoutMs
	Policy           ConflictPolicy
}

// DefaultOptions returns a 30s tick, 7 day retention and the project scope policy.
func DefaultOptions() Options {
	return Options{
		TickInterval:     30 * time.Second,
		ArchiveRetention: 7 * 24 * time.Hour,
		DefaultTimeout:   executor.DefaultOptions().DefaultTimeout,
		Policy:           ProjectScopePolicy,
	}
}

// Orchestrator schedules autonomous work across all roots.
type Orchestrator struct {
	store  *task.Store
	roots  task.RootsFunc
	runner Runner
	bus    *events.Bus
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	archived func(taskID string)
}

// New creates an orchestrator. Zero options take their defaults.
func New(store *task.Store, roots task.RootsFunc, runner Runner, bus *events.Bus, opts Options, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultOptions()
	if opts.TickInterval <= 0 {
		opts.TickInterval = def.TickInterval
	}
	if opts.ArchiveRetention <= 0 {
		opts.ArchiveRetention = def.ArchiveRetention
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = def.DefaultTimeout
	}
	if opts.Policy == nil {
		opts.Policy = def.Policy
	}
	return &Orchestrator{
		store:  store,
		roots:  roots,
		runner: runner,
		bus:    bus,
		opts:   opts,
		logger: logger.With("component", "orchestrator"),
		now:    func() time.Time { return time.Now().UTC() },
		ctx:    context.Background(),
	}
}

// SetOnArchived registers fn to run after the sweep archives a task. The
// scheduler uses it to drop the task's timer.
func (o *Orchestrator) SetOnArchived(fn func(taskID string)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.archived = fn
}

// Start ticks once immediately and then on every interval until Stop.
// Calling Start on a started orchestrator is a no-op.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		return
	}
	o.ctx = ctx
	ctx, o.cancel = context.WithCancel(ctx)
	o.done = make(chan struct{})

	go o.loop(ctx, o.done)
	o.logger.Info("orchestrator started", "tick", o.opts.TickInterval)
}

// Stop ends the tick loop and waits for the current tick to return.
// Runs already started keep going until the executor is stopped.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	cancel, done := o.cancel, o.done
	o.cancel, o.done = nil, nil
	o.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	o.logger.Info("orchestrator stopped")
}

func (o *Orchestrator) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(o.opts.TickInterval)
	defer ticker.Stop()

	o.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.Tick(ctx)
		}
	}
}

// runContext is the context runs start under: the one given to Start, so
// stopping the tick loop leaves in-flight runs alone.
func (o *Orchestrator) runContext() context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ctx
}

// Tick performs one scan: start candidates, then sweep timeouts and archives.
// Errors are logged per task and never stop the scan.
func (o *Orchestrator) Tick(ctx context.Context) {
	tasks, err := o.store.List(o.roots())
	if err != nil {
		o.logger.Error("failed to list tasks", "error", err)
		return
	}

	running := o.runningTasks(tasks)
	for _, c := range candidates(tasks, o.now()) {
		if ctx.Err() != nil {
			return
		}
		o.guard(c.ID, "start", func() {
			if o.consider(c, running, models.RunTriggerAutonomous) {
				running = append(running, c)
			}
		})
	}

	for _, t := range tasks {
		switch t.Status {
		case models.TaskStatusRunning:
			o.guard(t.ID, "timeout sweep", func() { o.sweepTimeout(t) })
		case models.TaskStatusDone:
			o.guard(t.ID, "archive sweep", func() { o.sweepArchive(t) })
		}
	}
}

// guard runs fn, logging a panic instead of ending the tick.
func (o *Orchestrator) guard(taskID, step string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("tick step panicked", "task", taskID, "step", step, "panic", r)
		}
	}()
	fn()
}

// candidates returns todo tasks eligible to start, highest priority first,
// oldest first within a priority.
func candidates(tasks []*models.Task, now time.Time) []*models.Task {
	done := doneSet(tasks)
	var out []*models.Task
	for _, t := range tasks {
		if t.Status != models.TaskStatusTodo || !t.AutoExecute || !t.Enabled {
			continue
		}
		if !t.DependenciesDone(done) || coolingDown(t, now) {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].Priority.Rank(), out[j].Priority.Rank()
		if ri != rj {
			return ri < rj
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func doneSet(tasks []*models.Task) map[string]bool {
	done := make(map[string]bool)
	for _, t := range tasks {
		if t.Status == models.TaskStatusDone {
			done[t.ID] = true
		}
	}
	return done
}

func coolingDown(t *models.Task, now time.Time) bool {
	if t.CooldownMs <= 0 || t.LastRunAt == nil {
		return false
	}
	return t.LastRunAt.Add(time.Duration(t.CooldownMs) * time.Millisecond).After(now)
}

// runningTasks maps the executor's live runs onto their records.
func (o *Orchestrator) runningTasks(tasks []*models.Task) []*models.Task {
	byID := make(map[string]*models.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	var out []*models.Task
	for _, id := range o.runner.Running() {
		if t, ok := byID[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

// consider starts c unless the policy finds a blocker among running.
func (o *Orchestrator) consider(c *models.Task, running []*models.Task, trigger models.RunTrigger) bool {
	if blocker := o.opts.Policy.Blocker(c, running); blocker != nil {
		o.deferTask(c, blocker)
		return false
	}
	if !o.runner.Start(o.runContext(), c.ID, trigger) {
		return false
	}
	o.logger.Info("task started", "task", c.ID, "name", c.Name, "trigger", trigger)
	return true
}

// deferTask leaves c in todo and notes why. The note is not repeated while
// the same task keeps blocking it.
func (o *Orchestrator) deferTask(c, blocker *models.Task) {
	reason := fmt.Sprintf("deferred: conflicts with running task %q (%s)", blocker.Name, blocker.ID)
	if last := c.LastActivity(); last != nil && last.Reason == reason {
		return
	}
	if _, err := o.store.AppendActivityLog(c.ID, models.ActivityLogEntry{
		Reason: reason,
		Actor:  models.ActorAgent,
	}, o.roots()); err != nil {
		o.logger.Warn("failed to record deferral", "task", c.ID, "error", err)
		return
	}
	o.logger.Debug("task deferred", "task", c.ID, "blocker", blocker.ID)
}

// sweepTimeout aborts a running task past its timeout. A row no live run
// tracks (left behind by a restart) is cancelled directly.
func (o *Orchestrator) sweepTimeout(t *models.Task) {
	if t.LastRunAt == nil {
		return
	}
	timeout := t.Timeout(o.opts.DefaultTimeout)
	if o.now().Sub(*t.LastRunAt) <= timeout {
		return
	}
	if o.runner.Abort(t.ID, executor.ErrTimeout) {
		o.logger.Warn("aborted run past its timeout", "task", t.ID, "timeout", timeout)
		return
	}

	msg := "run timed out with no live execution"
	errStatus := models.LastStatusError
	consecutive := t.ConsecutiveErrors + 1
	if _, err := o.transition(t.ID, models.TaskStatusCancelled, task.TransitionOptions{
		Reason: msg,
		Actor:  models.ActorTimeout,
		Patch: &task.Patch{
			LastStatus:        &errStatus,
			LastError:         &msg,
			ConsecutiveErrors: &consecutive,
		},
	}); err != nil {
		o.logger.Warn("failed to cancel orphaned run", "task", t.ID, "error", err)
		return
	}
	o.logger.Warn("cancelled orphaned run", "task", t.ID)
}

// sweepArchive archives a done task older than the retention window.
func (o *Orchestrator) sweepArchive(t *models.Task) {
	completed := t.UpdatedAt
	if t.CompletedAt != nil {
		completed = *t.CompletedAt
	}
	if o.now().Sub(completed) <= o.opts.ArchiveRetention {
		return
	}
	ok, err := o.store.ArchiveTask(t.ID, o.roots())
	if err != nil {
		o.logger.Warn("failed to archive task", "task", t.ID, "error", err)
		return
	}
	if !ok {
		return
	}
	o.logger.Info("task archived", "task", t.ID, "completed", completed)
	o.mu.Lock()
	fn := o.archived
	o.mu.Unlock()
	if fn != nil {
		fn(t.ID)
	}
}

// Enqueue evaluates a todo task immediately instead of waiting for the next
// tick. It reports whether a run was started.
func (o *Orchestrator) Enqueue(taskID string) (bool, error) {
	return o.enqueue(taskID, models.RunTriggerManual)
}

func (o *Orchestrator) enqueue(taskID string, trigger models.RunTrigger) (bool, error) {
	tasks, err := o.store.List(o.roots())
	if err != nil {
		return false, err
	}
	var t *models.Task
	for _, candidate := range tasks {
		if candidate.ID == taskID {
			t = candidate
			break
		}
	}
	if t == nil {
		return false, fmt.Errorf("%w: %s", task.ErrNotFound, taskID)
	}
	if t.Status != models.TaskStatusTodo || !t.Enabled {
		return false, nil
	}
	if !t.DependenciesDone(doneSet(tasks)) {
		o.logger.Debug("enqueue waiting on dependencies", "task", taskID)
		return false, nil
	}
	return o.consider(t, o.runningTasks(tasks), trigger), nil
}

// Cancel stops a task. A live run is aborted and reaches cancelled through
// the executor; todo and review tasks are cancelled directly.
func (o *Orchestrator) Cancel(taskID string) error {
	roots := o.roots()
	t, err := o.store.Get(taskID, roots)
	if err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("%w: %s", task.ErrNotFound, taskID)
	}

	switch t.Status {
	case models.TaskStatusRunning:
		if o.runner.Abort(taskID, executor.ErrAborted) {
			return nil
		}
		_, err := o.transition(taskID, models.TaskStatusCancelled, task.TransitionOptions{
			Reason: "cancelled by user",
			Actor:  models.ActorUser,
		})
		return err

	case models.TaskStatusTodo, models.TaskStatusReview:
		if _, err := o.transition(taskID, models.TaskStatusCancelled, task.TransitionOptions{
			Reason: "cancelled by user",
			Actor:  models.ActorUser,
		}); err != nil {
			return err
		}
		if t.ReviewType == models.ReviewTypePlan {
			o.runner.ResolvePlanConfirmation(taskID, executor.GateCancelled, "cancelled by user")
		}
		return nil

	default:
		return fmt.Errorf("%w: task is already %s", task.ErrInvalidTransition, t.Status)
	}
}

// ResolveReview applies a reviewer's decision to a task in review.
func (o *Orchestrator) ResolveReview(taskID string, action ReviewAction, reason string) error {
	t, err := o.store.Get(taskID, o.roots())
	if err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("%w: %s", task.ErrNotFound, taskID)
	}
	if t.Status != models.TaskStatusReview {
		return fmt.Errorf("%w: status is %s", ErrNotInReview, t.Status)
	}

	if t.ReviewType == models.ReviewTypePlan {
		return o.resolvePlan(t, action, reason)
	}
	return o.resolveCompletion(t, action, reason)
}

func (o *Orchestrator) resolvePlan(t *models.Task, action ReviewAction, reason string) error {
	result := executor.GateCancelled
	if action == ActionApprove {
		result = executor.GateApproved
	}
	if o.runner.ResolvePlanConfirmation(t.ID, result, reason) {
		return nil
	}

	// No run is waiting on this plan, the daemon restarted since it was
	// written. Approval re-queues the task for a fresh run.
	if action == ActionApprove {
		if _, err := o.transition(t.ID, models.TaskStatusTodo, task.TransitionOptions{
			Reason: withReason("plan approved, run no longer active; re-queued", reason),
			Actor:  models.ActorUser,
		}); err != nil {
			return err
		}
		if t.AutoExecute {
			_, err := o.enqueue(t.ID, models.RunTriggerAutonomous)
			return err
		}
		return nil
	}
	_, err := o.transition(t.ID, models.TaskStatusCancelled, task.TransitionOptions{
		Reason: withReason("plan rejected", reason),
		Actor:  models.ActorUser,
	})
	return err
}

func (o *Orchestrator) resolveCompletion(t *models.Task, action ReviewAction, reason string) error {
	switch action {
	case ActionApprove:
		ok := models.LastStatusOK
		zero := 0
		_, err := o.transition(t.ID, models.TaskStatusDone, task.TransitionOptions{
			Reason: withReason("review approved", reason),
			Actor:  models.ActorUser,
			Patch:  &task.Patch{LastStatus: &ok, ConsecutiveErrors: &zero},
		})
		return err

	case ActionRework:
		if _, err := o.transition(t.ID, models.TaskStatusTodo, task.TransitionOptions{
			Reason: withReason("rework requested", reason),
			Actor:  models.ActorUser,
			Patch:  &task.Patch{ClearCompletedAt: true},
		}); err != nil {
			return err
		}
		if t.AutoExecute {
			_, err := o.enqueue(t.ID, models.RunTriggerAutonomous)
			return err
		}
		return nil

	default:
		_, err := o.transition(t.ID, models.TaskStatusCancelled, task.TransitionOptions{
			Reason: withReason("review rejected", reason),
			Actor:  models.ActorUser,
		})
		return err
	}
}

func (o *Orchestrator) transition(id string, to models.TaskStatus, opts task.TransitionOptions) (*models.Task, error) {
	t, err := o.store.Transition(id, to, opts, o.roots())
	if err != nil {
		return nil, err
	}
	from := to
	if last := t.LastActivity(); last != nil {
		from = last.From
	}
	o.bus.PublishStatus(t, from)
	return t, nil
}

func withReason(base, reason string) string {
	if reason == "" {
		return base
	}
	return base + ": " + reason
}
