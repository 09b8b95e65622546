// Package scheduler turns task schedules into timers that fire runs.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/task"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/models"
)

// Runner starts a task run without waiting for it. The executor implements it
// and owns the "already running" guard; the scheduler has no notion of it.
type Runner interface {
	RunTaskNow(ctx context.Context, taskID string, trigger models.RunTrigger)
}

type entry struct {
	fingerprint string
	stop        func()
}

// Scheduler keeps one timer per scheduled task id.
type Scheduler struct {
	store  *task.Store
	roots  task.RootsFunc
	runner Runner
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	ctx     context.Context
	cancel  context.CancelFunc
	started bool

	now func() time.Time
}

// New creates a stopped scheduler.
func New(store *task.Store, roots task.RootsFunc, runner Runner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:   store,
		roots:   roots,
		runner:  runner,
		logger:  logger.With("component", "scheduler"),
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Start registers every enabled scheduled task. Calling Start on a started
// scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	s.mu.Unlock()

	tasks, err := s.store.List(s.roots())
	if err != nil {
		return fmt.Errorf("failed to load tasks: %w", err)
	}

	registered := 0
	for _, t := range tasks {
		if schedulable(t) && s.RegisterTask(t) {
			registered++
		}
	}
	s.logger.Info("scheduler started", "registered", registered)
	return nil
}

// Stop clears every timer.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	for id, e := range s.entries {
		e.stop()
		delete(s.entries, id)
	}
	s.cancel()
	s.started = false
	s.logger.Info("scheduler stopped")
}

// RegisterTask (re)creates the timer for t. Any existing timer for the id is
// cleared first. Tasks with missing or invalid schedule fields are skipped
// and false is returned.
func (s *Scheduler) RegisterTask(t *models.Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.unregisterLocked(t.ID)
	if !s.started || !schedulable(t) {
		return false
	}

	e := &entry{fingerprint: fingerprint(t)}
	var stop func()
	switch t.Schedule.Type {
	case models.ScheduleTypeOnce:
		stop = s.once(t, e)
	case models.ScheduleTypeInterval:
		stop = s.interval(t)
	case models.ScheduleTypeCron:
		stop = s.cron(t)
	default:
		s.logger.Warn("unknown schedule type, skipping", "task", t.ID, "type", t.Schedule.Type)
	}
	if stop == nil {
		return false
	}

	e.stop = stop
	s.entries[t.ID] = e
	s.logger.Debug("task registered", "task", t.ID, "type", t.Schedule.Type)
	return true
}

// UnregisterTask clears the timer for id, if any.
func (s *Scheduler) UnregisterTask(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unregisterLocked(id)
}

// Sync reloads the task and re-registers it when its schedule changed.
// Writes that leave the schedule untouched keep the running timer.
func (s *Scheduler) Sync(id string) error {
	t, err := s.store.Get(id, s.roots())
	if err != nil {
		return err
	}
	if t == nil || !schedulable(t) {
		s.UnregisterTask(id)
		return nil
	}

	s.mu.Lock()
	e, ok := s.entries[id]
	unchanged := ok && e.fingerprint == fingerprint(t)
	s.mu.Unlock()
	if unchanged {
		return nil
	}
	s.RegisterTask(t)
	return nil
}

// Registered reports whether id currently has a timer.
func (s *Scheduler) Registered(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok
}

// Len returns the number of registered timers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Scheduler) unregisterLocked(id string) {
	if e, ok := s.entries[id]; ok {
		e.stop()
		delete(s.entries, id)
	}
}

func (s *Scheduler) once(t *models.Task, e *entry) func() {
	if t.Schedule.ScheduleAt == nil {
		s.logger.Warn("once schedule without scheduleAt, skipping", "task", t.ID)
		return nil
	}
	delay := t.Schedule.ScheduleAt.Sub(s.now())
	if delay <= 0 {
		s.logger.Debug("once schedule in the past, skipping", "task", t.ID)
		return nil
	}

	id := t.ID
	timer := time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.entries[id] == e {
			delete(s.entries, id)
		}
		s.mu.Unlock()
		s.fire(id)
	})
	return func() { timer.Stop() }
}

func (s *Scheduler) interval(t *models.Task) func() {
	every := t.Schedule.Interval()
	if every <= 0 {
		s.logger.Warn("interval schedule without intervalMs, skipping", "task", t.ID)
		return nil
	}

	id := t.ID
	ctx := s.ctx
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.fire(id)
			}
		}
	}()
	return stopOnce(done)
}

func (s *Scheduler) cron(t *models.Task) func() {
	sched, err := ParseCron(t.Schedule.CronExpr)
	if err != nil {
		s.logger.Warn("invalid cron schedule, skipping", "task", t.ID, "error", err)
		return nil
	}

	id := t.ID
	ctx := s.ctx
	done := make(chan struct{})
	go func() {
		var last time.Time
		timer := time.NewTimer(untilNextMinute(s.now()))
		defer timer.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-timer.C:
			}

			// One fire per matching minute even if the timer wakes twice in it.
			minute := s.now().Truncate(time.Minute)
			if !minute.Equal(last) && matchesMinute(sched, minute) {
				last = minute
				s.fire(id)
			}
			timer.Reset(untilNextMinute(s.now()))
		}
	}()
	return stopOnce(done)
}

func (s *Scheduler) fire(id string) {
	s.mu.Lock()
	ctx := s.ctx
	started := s.started
	s.mu.Unlock()
	if !started {
		return
	}
	s.logger.Debug("schedule fired", "task", id)
	s.runner.RunTaskNow(ctx, id, models.RunTriggerScheduled)
}

func schedulable(t *models.Task) bool {
	return t != nil && t.Enabled && t.TriggerMode == models.TriggerModeScheduled && t.Schedule != nil
}

func fingerprint(t *models.Task) string {
	sc := t.Schedule
	var at int64
	if sc.ScheduleAt != nil {
		at = sc.ScheduleAt.UnixMilli()
	}
	return fmt.Sprintf("%t|%s|%s|%d|%d|%s", t.Enabled, t.TriggerMode, sc.Type, at, sc.IntervalMs, sc.CronExpr)
}

func stopOnce(done chan struct{}) func() {
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
