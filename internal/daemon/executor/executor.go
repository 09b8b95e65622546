// Package executor runs a single task through plan, confirmation, execution
// and review. It owns the in-memory running set and the plan confirmation
// gates; both are lost on restart and recovered by the orchestrator's sweep.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/agent"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/agent/prompts"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/events"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/runlog"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/task"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/models"
)

var (
	// ErrAborted is the cancellation cause of an explicit abort.
	ErrAborted = errors.New("run aborted")

	// ErrTimeout is the cancellation cause when a run exceeds its timeout.
	ErrTimeout = errors.New("run timed out")

	// ErrPlanTimeout ends a run whose plan was not confirmed in time and
	// auto-approval is disabled.
	ErrPlanTimeout = errors.New("plan confirmation timed out")
)

// Options configure run defaults.
type Options struct {
	DefaultTimeout       time.Duration
	PlanConfirmTimeout   time.Duration
	AutoApproveOnTimeout bool
	SummaryInterval      time.Duration
}

// DefaultOptions returns the built-in run defaults.
func DefaultOptions() Options {
	return Options{
		DefaultTimeout:       10 * time.Minute,
		PlanConfirmTimeout:   5 * time.Minute,
		AutoApproveOnTimeout: true,
		SummaryInterval:      time.Second,
	}
}

// OptionsFrom converts executor settings, keeping defaults for unset durations.
func OptionsFrom(cfg models.ExecutorConfig) Options {
	opts := DefaultOptions()
	if cfg.DefaultTimeout > 0 {
		opts.DefaultTimeout = cfg.DefaultTimeout
	}
	if cfg.PlanConfirmTimeout > 0 {
		opts.PlanConfirmTimeout = cfg.PlanConfirmTimeout
	}
	if cfg.SummaryInterval > 0 {
		opts.SummaryInterval = cfg.SummaryInterval
	}
	opts.AutoApproveOnTimeout = cfg.AutoApproveOnTimeout
	return opts
}

type run struct {
	cancel  context.CancelCauseFunc
	trigger models.RunTrigger
	started time.Time
}

// Executor runs tasks. Each task id has at most one active run.
type Executor struct {
	store  *task.Store
	roots  task.RootsFunc
	ledger *runlog.Ledger
	bus    *events.Bus
	agent  agent.Runner
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	running  map[string]*run
	gates    *gates
	wg       sync.WaitGroup
	onceDone func(taskID string)
}

// New creates an executor.
func New(store *task.Store, roots task.RootsFunc, ledger *runlog.Ledger, bus *events.Bus, runner agent.Runner, opts Options, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		store:   store,
		roots:   roots,
		ledger:  ledger,
		bus:     bus,
		agent:   runner,
		opts:    opts,
		logger:  logger.With("component", "executor"),
		now:     func() time.Time { return time.Now().UTC() },
		running: make(map[string]*run),
		gates:   newGates(),
	}
}

// SetOnceCompleted registers fn to run after a once-scheduled task finishes
// and has been disabled. The scheduler uses it to drop its timer entry.
func (e *Executor) SetOnceCompleted(fn func(taskID string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onceDone = fn
}

// Execute runs the task to completion on the calling goroutine. It returns
// false when the task is missing, already running, waiting for review or
// cannot enter running.
// Failures never surface here; they are recorded on the task and its run log.
func (e *Executor) Execute(ctx context.Context, taskID string, trigger models.RunTrigger) bool {
	r, runCtx, t, ok := e.claim(ctx, taskID, trigger)
	if !ok {
		return false
	}
	e.run(runCtx, r, t)
	return true
}

// Start claims the task and runs it in the background. It reports whether a
// run was started.
func (e *Executor) Start(ctx context.Context, taskID string, trigger models.RunTrigger) bool {
	r, runCtx, t, ok := e.claim(ctx, taskID, trigger)
	if !ok {
		return false
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(runCtx, r, t)
	}()
	return true
}

// RunTaskNow starts the task without waiting for it.
func (e *Executor) RunTaskNow(ctx context.Context, taskID string, trigger models.RunTrigger) {
	e.Start(ctx, taskID, trigger)
}

// Abort cancels the task's run with cause, ErrAborted when nil. The status
// change happens asynchronously on the run's own failure path.
func (e *Executor) Abort(taskID string, cause error) bool {
	if cause == nil {
		cause = ErrAborted
	}
	e.mu.Lock()
	r, ok := e.running[taskID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	r.cancel(cause)
	e.logger.Info("run aborted", "task", taskID, "cause", cause)
	return true
}

// IsRunning reports whether the task has an active run.
func (e *Executor) IsRunning(taskID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.running[taskID]
	return ok
}

// Running returns the ids of all active runs.
func (e *Executor) Running() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.running))
	for id := range e.running {
		ids = append(ids, id)
	}
	return ids
}

// ResolvePlanConfirmation completes the task's pending plan confirmation.
// It returns false with no effect when no confirmation is pending.
func (e *Executor) ResolvePlanConfirmation(taskID string, result GateResult, reason string) bool {
	return e.gates.resolve(taskID, Decision{Result: result, Reason: reason})
}

// HasGate reports whether the task is waiting on plan confirmation.
func (e *Executor) HasGate(taskID string) bool {
	return e.gates.has(taskID)
}

// Wait blocks until every background run has returned.
func (e *Executor) Wait() {
	e.wg.Wait()
}

func (e *Executor) claim(ctx context.Context, taskID string, trigger models.RunTrigger) (*run, context.Context, *models.Task, bool) {
	e.mu.Lock()
	if _, busy := e.running[taskID]; busy {
		e.mu.Unlock()
		e.logger.Debug("task already running", "task", taskID)
		return nil, nil, nil, false
	}
	runCtx, cancel := context.WithCancelCause(ctx)
	r := &run{cancel: cancel, trigger: trigger, started: e.now()}
	e.running[taskID] = r
	e.mu.Unlock()

	t, err := e.store.Get(taskID, e.roots())
	if err != nil || t == nil {
		if err != nil {
			e.logger.Error("failed to load task", "task", taskID, "error", err)
		} else {
			e.logger.Warn("task not found", "task", taskID)
		}
		e.release(taskID, r)
		return nil, nil, nil, false
	}
	// A task in review only re-enters running through its plan gate.
	if t.Status == models.TaskStatusReview {
		e.logger.Debug("task awaits review", "task", taskID, "reviewType", t.ReviewType)
		e.release(taskID, r)
		return nil, nil, nil, false
	}
	return r, runCtx, t, true
}

func (e *Executor) release(taskID string, r *run) {
	e.mu.Lock()
	if e.running[taskID] == r {
		delete(e.running, taskID)
	}
	e.mu.Unlock()
	r.cancel(context.Canceled)
	e.gates.drop(taskID)
}

// run drives one attempt. t is the record as loaded before the run.
func (e *Executor) run(ctx context.Context, r *run, t *models.Task) {
	id := t.ID
	sessionID := uuid.NewString()
	if t.SessionMode == models.SessionModeShared {
		sessionID = "task-" + id
	}
	resume := t.SessionMode == models.SessionModeShared && t.RunCount > 0

	timer := time.AfterFunc(t.Timeout(e.opts.DefaultTimeout), func() {
		r.cancel(ErrTimeout)
	})

	started := false
	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("run panicked", "task", id, "panic", p)
			if started {
				e.fail(id, r, sessionID, fmt.Errorf("panic: %v", p))
			}
		}
		timer.Stop()
		e.release(id, r)
		if started {
			e.completeOnce(id)
		}
	}()

	now := e.now()
	runCount := t.RunCount + 1
	lastError := ""
	t, err := e.transition(id, models.TaskStatusRunning, task.TransitionOptions{
		Reason: "run started (" + string(r.trigger) + ")",
		Actor:  models.ActorSystem,
		Patch: &task.Patch{
			SessionID:        &sessionID,
			LastRunAt:        &now,
			LastError:        &lastError,
			RunCount:         &runCount,
			ClearCompletedAt: true,
			ClearSummary:     true,
		},
	})
	if err != nil {
		e.logger.Warn("task cannot start", "task", id, "error", err)
		return
	}
	started = true
	e.logger.Info("run started", "task", id, "trigger", r.trigger, "session", sessionID)

	if err := e.lifecycle(ctx, r, t, sessionID, resume); err != nil {
		e.fail(id, r, sessionID, err)
	}
}

// lifecycle runs the plan, confirmation, execute and completion steps. A
// returned error takes the failure path; a rejected plan is not an error.
func (e *Executor) lifecycle(ctx context.Context, r *run, t *models.Task, sessionID string, resume bool) error {
	id := t.ID

	plan, err := e.runAgentPhase(ctx, t, sessionID, prompts.Plan(t), resume)
	if err != nil {
		return fmt.Errorf("plan phase: %w", err)
	}
	if n := countSteps(plan); n > 0 {
		e.publishSummary(id, models.SummaryPatch{TotalSteps: &n})
	}

	if !t.SkipPlanConfirm {
		proceed, err := e.awaitConfirmation(ctx, r, t, sessionID)
		if err != nil || !proceed {
			return err
		}
	}

	if _, err := e.runAgentPhase(ctx, t, sessionID, prompts.Execute(t), true); err != nil {
		return fmt.Errorf("execute phase: %w", err)
	}
	if err := context.Cause(ctx); err != nil {
		return err
	}

	completed := e.now()
	if t.RequiresReview {
		if _, err := e.transition(id, models.TaskStatusReview, task.TransitionOptions{
			ReviewType: models.ReviewTypeCompletion,
			Reason:     "execution finished, awaiting review",
			Actor:      models.ActorAgent,
			Patch:      &task.Patch{CompletedAt: &completed},
		}); err != nil {
			return err
		}
	} else {
		ok := models.LastStatusOK
		zero := 0
		if _, err := e.transition(id, models.TaskStatusDone, task.TransitionOptions{
			Reason: "task completed",
			Actor:  models.ActorAgent,
			Patch: &task.Patch{
				CompletedAt:       &completed,
				LastStatus:        &ok,
				ConsecutiveErrors: &zero,
			},
		}); err != nil {
			return err
		}
	}

	e.appendRunLog(id, r, sessionID, models.RunStatusOK, "")
	e.logger.Info("run finished", "task", id, "review", t.RequiresReview)
	return nil
}

// awaitConfirmation parks the run in review(plan) until the gate resolves.
// It reports whether execution should continue.
func (e *Executor) awaitConfirmation(ctx context.Context, r *run, t *models.Task, sessionID string) (bool, error) {
	id := t.ID

	// Register before entering review so a caller that sees the review
	// status always finds the gate.
	decisions := e.gates.open(id, t.PlanConfirmTimeout(e.opts.PlanConfirmTimeout))
	if _, err := e.transition(id, models.TaskStatusReview, task.TransitionOptions{
		ReviewType: models.ReviewTypePlan,
		Reason:     "plan ready for confirmation",
		Actor:      models.ActorAgent,
	}); err != nil {
		return false, err
	}

	var d Decision
	select {
	case d = <-decisions:
	case <-ctx.Done():
		return false, context.Cause(ctx)
	}

	switch d.Result {
	case GateApproved:
		_, err := e.transition(id, models.TaskStatusRunning, task.TransitionOptions{
			Reason: withReason("plan approved", d.Reason),
			Actor:  models.ActorUser,
		})
		return err == nil, err

	case GateTimeout:
		if !e.opts.AutoApproveOnTimeout {
			e.cancelFromReview(id, r, sessionID, models.ActorTimeout, ErrPlanTimeout.Error())
			return false, nil
		}
		_, err := e.transition(id, models.TaskStatusRunning, task.TransitionOptions{
			Reason: "plan confirmation timed out, continuing",
			Actor:  models.ActorTimeout,
		})
		return err == nil, err

	default:
		e.cancelFromReview(id, r, sessionID, models.ActorUser, withReason("plan rejected", d.Reason))
		return false, nil
	}
}

// cancelFromReview ends a run whose plan was not approved. The task may
// already be cancelled by the caller that resolved the gate.
func (e *Executor) cancelFromReview(id string, r *run, sessionID string, actor models.Actor, reason string) {
	_, err := e.transition(id, models.TaskStatusCancelled, task.TransitionOptions{
		Reason: reason,
		Actor:  actor,
	})
	if err != nil && !errors.Is(err, task.ErrInvalidTransition) {
		e.logger.Error("failed to cancel task", "task", id, "error", err)
	}
	e.appendRunLog(id, r, sessionID, models.RunStatusCancelled, reason)
	e.logger.Info("run cancelled at plan confirmation", "task", id, "reason", reason)
}

// fail records err on the task, cancels it unless it already reached a
// terminal status, and appends the run log entry.
func (e *Executor) fail(id string, r *run, sessionID string, err error) {
	actor := models.ActorSystem
	if errors.Is(err, ErrTimeout) {
		actor = models.ActorTimeout
	}
	msg := err.Error()
	e.logger.Warn("run failed", "task", id, "error", msg)

	errStatus := models.LastStatusError
	patch := &task.Patch{LastStatus: &errStatus, LastError: &msg}

	roots := e.roots()
	t, getErr := e.store.Get(id, roots)
	if getErr != nil || t == nil {
		e.logger.Error("failed to load task after failure", "task", id, "error", getErr)
	} else {
		consecutive := t.ConsecutiveErrors + 1
		patch.ConsecutiveErrors = &consecutive
		if t.Status.IsTerminal() {
			if _, err := e.store.Update(id, *patch, roots); err != nil {
				e.logger.Error("failed to record run error", "task", id, "error", err)
			}
		} else if _, err := e.transition(id, models.TaskStatusCancelled, task.TransitionOptions{
			Reason: msg,
			Actor:  actor,
			Patch:  patch,
		}); err != nil {
			e.logger.Error("failed to cancel task", "task", id, "error", err)
		}
	}

	status := models.RunStatusError
	if errors.Is(err, ErrAborted) {
		status = models.RunStatusCancelled
	}
	e.appendRunLog(id, r, sessionID, status, msg)
}

// completeOnce disables a once-scheduled task after its run, whatever the outcome.
func (e *Executor) completeOnce(id string) {
	roots := e.roots()
	t, err := e.store.Get(id, roots)
	if err != nil || t == nil || t.Schedule == nil || t.Schedule.Type != models.ScheduleTypeOnce {
		return
	}
	disabled := false
	if _, err := e.store.Update(id, task.Patch{Enabled: &disabled}, roots); err != nil {
		e.logger.Error("failed to disable once task", "task", id, "error", err)
		return
	}
	e.logger.Debug("once task disabled", "task", id)

	e.mu.Lock()
	fn := e.onceDone
	e.mu.Unlock()
	if fn != nil {
		fn(id)
	}
}

// runAgentPhase sends one instruction to the agent and drains its stream,
// publishing throttled progress. It returns the last agent message.
func (e *Executor) runAgentPhase(ctx context.Context, t *models.Task, sessionID, instruction string, resume bool) (string, error) {
	if err := context.Cause(ctx); err != nil {
		return "", err
	}
	stream, err := e.agent.Run(ctx, agent.Request{
		SessionID:   sessionID,
		Instruction: instruction,
		AgentName:   t.AgentName,
		Workdir:     t.Root,
		Resume:      resume,
	})
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var (
		progress    agent.Progress
		published   string
		lastPublish time.Time
	)
	flush := func() {
		text := progress.Text()
		if text == published {
			return
		}
		published = text
		lastPublish = time.Now()
		patch := models.SummaryPatch{LastAgentMessage: &text}
		if step, ok := currentStep(text); ok {
			patch.CurrentStep = &step
		}
		e.publishSummary(t.ID, patch)
	}

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			flush()
			if cause := context.Cause(ctx); cause != nil {
				return progress.Text(), cause
			}
			return progress.Text(), err
		}
		if progress.Feed(chunk) && time.Since(lastPublish) >= e.opts.SummaryInterval {
			flush()
		}
	}
	flush()

	if cause := context.Cause(ctx); cause != nil {
		return progress.Text(), cause
	}
	return progress.Text(), nil
}

func (e *Executor) publishSummary(id string, patch models.SummaryPatch) {
	if _, err := e.store.UpdateExecutionSummary(id, patch, e.roots()); err != nil {
		e.logger.Warn("failed to store execution summary", "task", id, "error", err)
	}
	e.bus.PublishSummary(id, patch)
}

// transition applies a status change and announces it on the bus.
func (e *Executor) transition(id string, to models.TaskStatus, opts task.TransitionOptions) (*models.Task, error) {
	t, err := e.store.Transition(id, to, opts, e.roots())
	if err != nil {
		return nil, err
	}
	from := to
	if last := t.LastActivity(); last != nil {
		from = last.From
	}
	e.bus.PublishStatus(t, from)
	return t, nil
}

func (e *Executor) appendRunLog(id string, r *run, sessionID string, status models.RunStatus, msg string) {
	t, err := e.store.Get(id, e.roots())
	if err != nil || t == nil {
		e.logger.Error("cannot append run log, task missing", "task", id, "error", err)
		return
	}
	finished := e.now()
	_, err = e.ledger.Append(id, models.TaskRunLog{
		Trigger:        r.trigger,
		Status:         status,
		Error:          msg,
		AgentSessionID: sessionID,
		StartedAt:      r.started,
		FinishedAt:     &finished,
	}, t.Root)
	if err != nil {
		e.logger.Error("failed to append run log", "task", id, "error", err)
	}
}

func withReason(base, reason string) string {
	if reason == "" {
		return base
	}
	return base + ": " + reason
}

var (
	planStepRe    = regexp.MustCompile(`(?m)^\s*(\d+)[.)]\s+\S`)
	currentStepRe = regexp.MustCompile(`(?i)\bstep\s+(\d+)`)
)

// countSteps returns the highest step number of a numbered plan.
func countSteps(plan string) int {
	highest := 0
	for _, m := range planStepRe.FindAllStringSubmatch(plan, -1) {
		if n, err := strconv.Atoi(m[1]); err == nil && n > highest {
			highest = n
		}
	}
	return highest
}

// currentStep returns the last "step N" the agent mentioned.
func currentStep(msg string) (int, bool) {
	matches := currentStepRe.FindAllStringSubmatch(msg, -1)
	if len(matches) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(matches[len(matches)-1][1])
	if err != nil {
		return 0, false
	}
	return n, true
}
