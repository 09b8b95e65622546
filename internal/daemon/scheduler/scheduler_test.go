package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/task"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/models"
)

type fakeRunner struct {
	mu    sync.Mutex
	fired []string
}

func (f *fakeRunner) RunTaskNow(_ context.Context, taskID string, trigger models.RunTrigger) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if trigger == models.RunTriggerScheduled {
		f.fired = append(f.fired, taskID)
	}
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fired)
}

func newTestScheduler(t *testing.T) (*Scheduler, *task.Store, task.Roots, *fakeRunner) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	roots := task.Roots{Workspace: t.TempDir()}
	store := task.NewStore(logger)
	runner := &fakeRunner{}
	s := New(store, func() task.Roots { return roots }, runner, logger)
	t.Cleanup(s.Stop)
	return s, store, roots, runner
}

func scheduledTask(id string, sc *models.Schedule) *models.Task {
	t := models.NewTask(id, id, models.TaskScopeWorkspace)
	t.TriggerMode = models.TriggerModeScheduled
	t.Schedule = sc
	return t
}

func TestIntervalFiresUntilUnregistered(t *testing.T) {
	s, _, _, runner := newTestScheduler(t)
	require.NoError(t, s.Start(context.Background()))

	ok := s.RegisterTask(scheduledTask("tick", &models.Schedule{Type: models.ScheduleTypeInterval, IntervalMs: 40}))
	require.True(t, ok)

	assert.Eventually(t, func() bool { return runner.count() >= 3 }, 2*time.Second, 10*time.Millisecond)

	s.UnregisterTask("tick")
	assert.False(t, s.Registered("tick"))
	settled := runner.count()
	time.Sleep(150 * time.Millisecond)
	assert.LessOrEqual(t, runner.count(), settled+1, "at most one in-flight tick after unregister")
}

func TestOnceFiresExactlyOnce(t *testing.T) {
	s, _, _, runner := newTestScheduler(t)
	require.NoError(t, s.Start(context.Background()))

	when := time.Now().Add(50 * time.Millisecond)
	require.True(t, s.RegisterTask(scheduledTask("once", &models.Schedule{Type: models.ScheduleTypeOnce, ScheduleAt: &when})))

	assert.Eventually(t, func() bool { return runner.count() == 1 }, time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, runner.count())
	assert.False(t, s.Registered("once"))
}

func TestOnceInThePastIsSkipped(t *testing.T) {
	s, _, _, _ := newTestScheduler(t)
	require.NoError(t, s.Start(context.Background()))

	past := time.Now().Add(-time.Minute)
	assert.False(t, s.RegisterTask(scheduledTask("late", &models.Schedule{Type: models.ScheduleTypeOnce, ScheduleAt: &past})))
	assert.False(t, s.Registered("late"))
}

func TestInvalidSchedulesAreSkipped(t *testing.T) {
	s, _, _, _ := newTestScheduler(t)
	require.NoError(t, s.Start(context.Background()))

	for _, sc := range []*models.Schedule{
		{Type: models.ScheduleTypeInterval},
		{Type: models.ScheduleTypeOnce},
		{Type: models.ScheduleTypeCron, CronExpr: "every tuesday"},
		{Type: "weekly"},
	} {
		assert.False(t, s.RegisterTask(scheduledTask("bad", sc)), sc.Type)
	}

	disabled := scheduledTask("off", &models.Schedule{Type: models.ScheduleTypeInterval, IntervalMs: 1000})
	disabled.Enabled = false
	assert.False(t, s.RegisterTask(disabled))
}

func TestReRegisterReplacesTimer(t *testing.T) {
	s, _, _, runner := newTestScheduler(t)
	require.NoError(t, s.Start(context.Background()))

	require.True(t, s.RegisterTask(scheduledTask("t", &models.Schedule{Type: models.ScheduleTypeInterval, IntervalMs: 60_000})))
	require.True(t, s.RegisterTask(scheduledTask("t", &models.Schedule{Type: models.ScheduleTypeInterval, IntervalMs: 30})))

	assert.Eventually(t, func() bool { return runner.count() >= 2 }, time.Second, 10*time.Millisecond)
	s.mu.Lock()
	assert.Len(t, s.entries, 1)
	s.mu.Unlock()
}

func TestStartLoadsScheduledTasksAndIsIdempotent(t *testing.T) {
	s, store, roots, _ := newTestScheduler(t)

	_, err := store.Create(task.CreateInput{
		Name:        "cron job",
		TriggerMode: models.TriggerModeScheduled,
		Schedule:    &models.Schedule{Type: models.ScheduleTypeCron, CronExpr: "0 * * * *"},
	}, roots.Workspace, models.TaskScopeWorkspace)
	require.NoError(t, err)
	_, err = store.Create(task.CreateInput{Name: "manual"}, roots.Workspace, models.TaskScopeWorkspace)
	require.NoError(t, err)
	off := false
	_, err = store.Create(task.CreateInput{
		Name:        "disabled",
		TriggerMode: models.TriggerModeScheduled,
		Enabled:     &off,
		Schedule:    &models.Schedule{Type: models.ScheduleTypeInterval, IntervalMs: 1000},
	}, roots.Workspace, models.TaskScopeWorkspace)
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, 1, s.Len())

	s.Stop()
	assert.Zero(t, s.Len())
}

func TestSyncFollowsScheduleEdits(t *testing.T) {
	s, store, roots, _ := newTestScheduler(t)
	require.NoError(t, s.Start(context.Background()))

	created, err := store.Create(task.CreateInput{
		Name:        "edit me",
		TriggerMode: models.TriggerModeScheduled,
		Schedule:    &models.Schedule{Type: models.ScheduleTypeInterval, IntervalMs: 60_000},
	}, roots.Workspace, models.TaskScopeWorkspace)
	require.NoError(t, err)

	require.NoError(t, s.Sync(created.ID))
	require.True(t, s.Registered(created.ID))

	s.mu.Lock()
	first := s.entries[created.ID]
	s.mu.Unlock()

	// Unrelated edit keeps the timer.
	name := "renamed"
	_, err = store.Update(created.ID, task.Patch{Name: &name}, roots)
	require.NoError(t, err)
	require.NoError(t, s.Sync(created.ID))
	s.mu.Lock()
	assert.Same(t, first, s.entries[created.ID])
	s.mu.Unlock()

	// Disabling drops it.
	off := false
	_, err = store.Update(created.ID, task.Patch{Enabled: &off}, roots)
	require.NoError(t, err)
	require.NoError(t, s.Sync(created.ID))
	assert.False(t, s.Registered(created.ID))
}
