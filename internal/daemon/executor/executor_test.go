package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/agent"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/events"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/runlog"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/task"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/models"
)

// fakeStream replays chunks, or blocks until its context ends.
type fakeStream struct {
	ctx    context.Context
	chunks []agent.Chunk
	block  bool
	err    error
	closed chan struct{}
	once   sync.Once
}

func (s *fakeStream) Recv() (agent.Chunk, error) {
	if s.block {
		<-s.ctx.Done()
		return nil, context.Cause(s.ctx)
	}
	if len(s.chunks) == 0 {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// fakeAgent answers each phase with a canned plan and execution output.
type fakeAgent struct {
	mu       sync.Mutex
	requests []agent.Request
	streams  []*fakeStream

	plan     []agent.Chunk
	execute  []agent.Chunk
	block    bool
	runErr   error
	phaseErr error
}

func (f *fakeAgent) Run(ctx context.Context, req agent.Request) (agent.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.runErr != nil {
		return nil, f.runErr
	}
	chunks := f.execute
	if len(f.requests)%2 == 1 {
		chunks = f.plan
	}
	s := &fakeStream{
		ctx:    ctx,
		chunks: append([]agent.Chunk(nil), chunks...),
		block:  f.block,
		err:    f.phaseErr,
		closed: make(chan struct{}),
	}
	f.streams = append(f.streams, s)
	return s, nil
}

func (f *fakeAgent) calls() []agent.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]agent.Request(nil), f.requests...)
}

func (f *fakeAgent) allClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.streams {
		select {
		case <-s.closed:
		default:
			return false
		}
	}
	return true
}

type harness struct {
	exec   *Executor
	store  *task.Store
	ledger *runlog.Ledger
	bus    *events.Bus
	roots  task.Roots
	agent  *fakeAgent
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		store:  task.NewStore(logger),
		ledger: runlog.New(logger),
		bus:    events.NewBus(logger),
		roots:  task.Roots{Workspace: t.TempDir()},
		agent: &fakeAgent{
			plan:    []agent.Chunk{agent.Chunk(`{"type":"text","text":"1. inspect\n2. change\n3. verify"}`)},
			execute: []agent.Chunk{agent.Chunk(`{"type":"text","text":"working on step 2"}`), agent.Chunk(`{"type":"result","result":"all done"}`)},
		},
	}
	opts.SummaryInterval = 0
	h.exec = New(h.store, func() task.Roots { return h.roots }, h.ledger, h.bus, h.agent, opts, logger)
	t.Cleanup(h.exec.Wait)
	return h
}

func (h *harness) create(t *testing.T, in task.CreateInput) *models.Task {
	t.Helper()
	if in.Name == "" {
		in.Name = "test task"
	}
	created, err := h.store.Create(in, h.roots.Workspace, models.TaskScopeWorkspace)
	require.NoError(t, err)
	return created
}

func (h *harness) get(t *testing.T, id string) *models.Task {
	t.Helper()
	got, err := h.store.Get(id, h.roots)
	require.NoError(t, err)
	require.NotNil(t, got)
	return got
}

func (h *harness) runs(t *testing.T, id string) []*models.TaskRunLog {
	t.Helper()
	logs, err := h.ledger.Read(id, h.roots.Search(), 0)
	require.NoError(t, err)
	return logs
}

func (h *harness) waitForGate(t *testing.T, id string) {
	t.Helper()
	require.Eventually(t, func() bool {
		if !h.exec.HasGate(id) {
			return false
		}
		got, err := h.store.Get(id, h.roots)
		return err == nil && got.Status == models.TaskStatusReview
	}, 2*time.Second, 5*time.Millisecond)
}

func statuses(t *models.Task) []models.TaskStatus {
	out := make([]models.TaskStatus, 0, len(t.ActivityLog))
	for _, e := range t.ActivityLog {
		out = append(out, e.To)
	}
	return out
}

func TestExecuteWithoutConfirmationCompletes(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	created := h.create(t, task.CreateInput{SkipPlanConfirm: boolPtr(true)})

	require.True(t, h.exec.Execute(context.Background(), created.ID, models.RunTriggerManual))

	got := h.get(t, created.ID)
	assert.Equal(t, models.TaskStatusDone, got.Status)
	assert.Equal(t, models.LastStatusOK, got.LastStatus)
	assert.Equal(t, 1, got.RunCount)
	assert.Zero(t, got.ConsecutiveErrors)
	assert.NotNil(t, got.CompletedAt)
	assert.NotNil(t, got.LastRunAt)
	assert.Equal(t, []models.TaskStatus{models.TaskStatusTodo, models.TaskStatusRunning, models.TaskStatusDone}, statuses(got))

	require.NotNil(t, got.ExecutionSummary)
	assert.Equal(t, "all done", got.ExecutionSummary.LastAgentMessage)
	require.NotNil(t, got.ExecutionSummary.TotalSteps)
	assert.Equal(t, 3, *got.ExecutionSummary.TotalSteps)

	calls := h.agent.calls()
	require.Len(t, calls, 2)
	assert.False(t, calls[0].Resume, "isolated plan phase opens a new session")
	assert.True(t, calls[1].Resume, "execute phase continues the plan session")
	assert.Equal(t, calls[0].SessionID, calls[1].SessionID)
	assert.Equal(t, got.SessionID, calls[0].SessionID)
	assert.Equal(t, h.roots.Workspace, calls[0].Workdir)
	assert.True(t, h.agent.allClosed())

	logs := h.runs(t, created.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, models.RunStatusOK, logs[0].Status)
	assert.Equal(t, models.RunTriggerManual, logs[0].Trigger)
	assert.Equal(t, got.SessionID, logs[0].AgentSessionID)
	assert.False(t, h.exec.IsRunning(created.ID))
}

func TestExecuteRequiresReview(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	created := h.create(t, task.CreateInput{SkipPlanConfirm: boolPtr(true), RequiresReview: boolPtr(true)})

	require.True(t, h.exec.Execute(context.Background(), created.ID, models.RunTriggerAutonomous))

	got := h.get(t, created.ID)
	assert.Equal(t, models.TaskStatusReview, got.Status)
	assert.Equal(t, models.ReviewTypeCompletion, got.ReviewType)
	assert.NotNil(t, got.CompletedAt)
	assert.Empty(t, got.LastStatus)
}

func TestExecuteLeavesCompletionReviewAlone(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	created := h.create(t, task.CreateInput{SkipPlanConfirm: boolPtr(true), RequiresReview: boolPtr(true)})
	require.True(t, h.exec.Execute(context.Background(), created.ID, models.RunTriggerManual))
	before := h.get(t, created.ID)
	require.Equal(t, models.TaskStatusReview, before.Status)

	assert.False(t, h.exec.Execute(context.Background(), created.ID, models.RunTriggerScheduled))
	assert.False(t, h.exec.Start(context.Background(), created.ID, models.RunTriggerManual))
	h.exec.Wait()

	got := h.get(t, created.ID)
	assert.Equal(t, models.TaskStatusReview, got.Status)
	assert.Equal(t, models.ReviewTypeCompletion, got.ReviewType)
	assert.Equal(t, 1, got.RunCount)
	assert.Len(t, got.ActivityLog, len(before.ActivityLog))
	assert.Len(t, h.agent.calls(), 2)
	assert.Empty(t, h.exec.Running())
}

func TestExecuteMissingTask(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	assert.False(t, h.exec.Execute(context.Background(), "3f0c2a8e-0000-4000-8000-000000000000", models.RunTriggerManual))
	assert.Empty(t, h.exec.Running())
}

func TestPlanApproval(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	created := h.create(t, task.CreateInput{})
	evs, unsubscribe := h.bus.Subscribe(256)
	defer unsubscribe()

	require.True(t, h.exec.Start(context.Background(), created.ID, models.RunTriggerManual))
	h.waitForGate(t, created.ID)
	assert.Equal(t, models.ReviewTypePlan, h.get(t, created.ID).ReviewType)

	assert.True(t, h.exec.ResolvePlanConfirmation(created.ID, GateApproved, ""))
	assert.False(t, h.exec.ResolvePlanConfirmation(created.ID, GateCancelled, ""), "second resolution is ignored")
	h.exec.Wait()

	got := h.get(t, created.ID)
	assert.Equal(t, models.TaskStatusDone, got.Status)
	assert.Equal(t, []models.TaskStatus{
		models.TaskStatusTodo, models.TaskStatusRunning, models.TaskStatusReview,
		models.TaskStatusRunning, models.TaskStatusDone,
	}, statuses(got))
	assert.Equal(t, models.ActorUser, got.ActivityLog[3].Actor)
	assert.False(t, h.exec.HasGate(created.ID))

	var seen []models.TaskStatus
drain:
	for {
		select {
		case ev := <-evs:
			if ev.Kind == events.KindStatusChange {
				seen = append(seen, ev.Status)
			}
		default:
			break drain
		}
	}
	assert.Equal(t, []models.TaskStatus{
		models.TaskStatusRunning, models.TaskStatusReview, models.TaskStatusRunning, models.TaskStatusDone,
	}, seen)
}

func TestPlanConfirmationTimeoutContinues(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	created := h.create(t, task.CreateInput{PlanConfirmTimeoutMs: 30})

	require.True(t, h.exec.Execute(context.Background(), created.ID, models.RunTriggerScheduled))

	got := h.get(t, created.ID)
	assert.Equal(t, models.TaskStatusDone, got.Status)
	require.Len(t, got.ActivityLog, 5)
	resumed := got.ActivityLog[3]
	assert.Equal(t, models.TaskStatusReview, resumed.From)
	assert.Equal(t, models.TaskStatusRunning, resumed.To)
	assert.Equal(t, models.ActorTimeout, resumed.Actor)
	assert.Len(t, h.agent.calls(), 2, "execute phase ran after the timeout")
}

func TestPlanConfirmationTimeoutCancelsWithoutAutoApprove(t *testing.T) {
	opts := DefaultOptions()
	opts.AutoApproveOnTimeout = false
	h := newHarness(t, opts)
	created := h.create(t, task.CreateInput{PlanConfirmTimeoutMs: 30})

	require.True(t, h.exec.Execute(context.Background(), created.ID, models.RunTriggerManual))

	got := h.get(t, created.ID)
	assert.Equal(t, models.TaskStatusCancelled, got.Status)
	assert.Equal(t, models.ActorTimeout, got.LastActivity().Actor)
	assert.Len(t, h.agent.calls(), 1)

	logs := h.runs(t, created.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, models.RunStatusCancelled, logs[0].Status)
}

func TestPlanRejected(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	created := h.create(t, task.CreateInput{})

	require.True(t, h.exec.Start(context.Background(), created.ID, models.RunTriggerManual))
	h.waitForGate(t, created.ID)
	require.True(t, h.exec.ResolvePlanConfirmation(created.ID, GateCancelled, "wrong approach"))
	h.exec.Wait()

	got := h.get(t, created.ID)
	assert.Equal(t, models.TaskStatusCancelled, got.Status)
	assert.Equal(t, models.ActorUser, got.LastActivity().Actor)
	assert.Contains(t, got.LastActivity().Reason, "wrong approach")
	assert.Empty(t, got.LastError, "a rejected plan is not an error")
	assert.Len(t, h.agent.calls(), 1)
}

func TestAgentFailureCancelsTask(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	h.agent.phaseErr = errors.New("agent exited with status 1")
	created := h.create(t, task.CreateInput{SkipPlanConfirm: boolPtr(true)})

	require.True(t, h.exec.Execute(context.Background(), created.ID, models.RunTriggerManual))

	got := h.get(t, created.ID)
	assert.Equal(t, models.TaskStatusCancelled, got.Status)
	assert.Equal(t, models.LastStatusError, got.LastStatus)
	assert.Contains(t, got.LastError, "agent exited with status 1")
	assert.Equal(t, 1, got.ConsecutiveErrors)
	assert.Equal(t, models.ActorSystem, got.LastActivity().Actor)
	assert.True(t, h.agent.allClosed())

	logs := h.runs(t, created.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, models.RunStatusError, logs[0].Status)
	assert.NotEmpty(t, logs[0].Error)

	// A re-run from cancelled is allowed and counts errors across runs.
	require.True(t, h.exec.Execute(context.Background(), created.ID, models.RunTriggerManual))
	got = h.get(t, created.ID)
	assert.Equal(t, 2, got.ConsecutiveErrors)
	assert.Equal(t, 2, got.RunCount)
}

func TestAbortCancelsRun(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	h.agent.block = true
	created := h.create(t, task.CreateInput{SkipPlanConfirm: boolPtr(true)})

	require.True(t, h.exec.Start(context.Background(), created.ID, models.RunTriggerManual))
	require.Eventually(t, func() bool { return len(h.agent.calls()) == 1 }, 2*time.Second, 5*time.Millisecond)

	assert.False(t, h.exec.Start(context.Background(), created.ID, models.RunTriggerManual), "one run per task")
	assert.False(t, h.exec.Execute(context.Background(), created.ID, models.RunTriggerManual))
	assert.Equal(t, []string{created.ID}, h.exec.Running())

	require.True(t, h.exec.Abort(created.ID, nil))
	h.exec.Wait()

	got := h.get(t, created.ID)
	assert.Equal(t, models.TaskStatusCancelled, got.Status)
	assert.Equal(t, models.LastStatusError, got.LastStatus)
	assert.Contains(t, got.LastError, ErrAborted.Error())
	assert.False(t, h.exec.IsRunning(created.ID))
	assert.False(t, h.exec.Abort(created.ID, nil))
	assert.True(t, h.agent.allClosed())

	logs := h.runs(t, created.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, models.RunStatusCancelled, logs[0].Status)
}

func TestRunTimeout(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	h.agent.block = true
	created := h.create(t, task.CreateInput{SkipPlanConfirm: boolPtr(true), TimeoutMs: 50})

	start := time.Now()
	require.True(t, h.exec.Execute(context.Background(), created.ID, models.RunTriggerManual))
	assert.Less(t, time.Since(start), 2*time.Second)

	got := h.get(t, created.ID)
	assert.Equal(t, models.TaskStatusCancelled, got.Status)
	assert.Equal(t, models.ActorTimeout, got.LastActivity().Actor)
	assert.Contains(t, got.LastError, ErrTimeout.Error())
}

func TestAbortWhileAwaitingConfirmation(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	created := h.create(t, task.CreateInput{})

	require.True(t, h.exec.Start(context.Background(), created.ID, models.RunTriggerManual))
	h.waitForGate(t, created.ID)
	require.True(t, h.exec.Abort(created.ID, nil))
	h.exec.Wait()

	got := h.get(t, created.ID)
	assert.Equal(t, models.TaskStatusCancelled, got.Status)
	assert.False(t, h.exec.HasGate(created.ID), "gate dropped when the run ends")
}

func TestOnceScheduleDisabledAfterRun(t *testing.T) {
	for _, fail := range []bool{false, true} {
		h := newHarness(t, DefaultOptions())
		if fail {
			h.agent.runErr = errors.New("spawn failed")
		}
		at := time.Now().Add(time.Hour)
		created := h.create(t, task.CreateInput{
			SkipPlanConfirm: boolPtr(true),
			TriggerMode:     models.TriggerModeScheduled,
			Schedule:        &models.Schedule{Type: models.ScheduleTypeOnce, ScheduleAt: &at},
		})
		var completed []string
		h.exec.SetOnceCompleted(func(id string) { completed = append(completed, id) })

		require.True(t, h.exec.Execute(context.Background(), created.ID, models.RunTriggerScheduled))

		got := h.get(t, created.ID)
		assert.False(t, got.Enabled, "fail=%v", fail)
		assert.Equal(t, []string{created.ID}, completed, "fail=%v", fail)
	}
}

func TestSharedSessionResumesAcrossRuns(t *testing.T) {
	h := newHarness(t, DefaultOptions())
	created := h.create(t, task.CreateInput{SkipPlanConfirm: boolPtr(true), SessionMode: models.SessionModeShared})

	require.True(t, h.exec.Execute(context.Background(), created.ID, models.RunTriggerManual))
	require.True(t, h.exec.Execute(context.Background(), created.ID, models.RunTriggerManual))

	calls := h.agent.calls()
	require.Len(t, calls, 4)
	for _, c := range calls {
		assert.Equal(t, "task-"+created.ID, c.SessionID)
	}
	assert.False(t, calls[0].Resume)
	assert.True(t, calls[2].Resume, "second run resumes the shared session")
}

func TestStepParsing(t *testing.T) {
	assert.Equal(t, 3, countSteps("Plan:\n1. read\n2) edit\n  3. test\nnotes 4 things"))
	assert.Zero(t, countSteps("no numbered steps here"))

	n, ok := currentStep("finished Step 1, now on step 2")
	assert.True(t, ok)
	assert.Equal(t, 2, n)
	_, ok = currentStep("thinking")
	assert.False(t, ok)
}

func TestOptionsFrom(t *testing.T) {
	opts := OptionsFrom(models.ExecutorConfig{PlanConfirmTimeout: time.Minute})
	assert.Equal(t, time.Minute, opts.PlanConfirmTimeout)
	assert.Equal(t, DefaultOptions().DefaultTimeout, opts.DefaultTimeout)
	assert.False(t, opts.AutoApproveOnTimeout)
}

func boolPtr(b bool) *bool { return &b }
