package tui

import (
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/events"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/models"
)

func newTestModel(t *testing.T) Model {
	t.Helper()
	m := NewModel(nil, &programRef{})
	t.Cleanup(m.streamCancel)
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 30})
	return updated.(Model)
}

func task(id string, status models.TaskStatus, created time.Time) *models.Task {
	t := models.NewTask(id, "task "+id, models.TaskScopeWorkspace)
	t.Status = status
	t.CreatedAt = created
	return t
}

func TestTasksLoadedSortsAndKeepsSelection(t *testing.T) {
	m := newTestModel(t)
	now := time.Now()

	updated, _ := m.Update(TasksLoadedMsg{Tasks: []*models.Task{
		task("a", models.TaskStatusDone, now),
		task("b", models.TaskStatusTodo, now),
		task("c", models.TaskStatusReview, now),
	}})
	m = updated.(Model)
	require.Len(t, m.tasks, 3)
	assert.Equal(t, []string{"c", "b", "a"}, ids(m.tasks))
	assert.True(t, m.connected)

	m.selected = 1 // b
	updated, _ = m.Update(TasksLoadedMsg{Tasks: []*models.Task{
		task("b", models.TaskStatusRunning, now),
		task("a", models.TaskStatusDone, now),
	}})
	m = updated.(Model)
	assert.Equal(t, "b", m.current().ID)
}

func TestAllowed(t *testing.T) {
	todo := task("t", models.TaskStatusTodo, time.Now())
	running := task("r", models.TaskStatusRunning, time.Now())
	plan := task("p", models.TaskStatusReview, time.Now())
	plan.ReviewType = models.ReviewTypePlan
	done := task("d", models.TaskStatusDone, time.Now())

	assert.True(t, allowed(todo, verbRun))
	assert.False(t, allowed(running, verbRun))
	assert.False(t, allowed(plan, verbRun))
	assert.True(t, allowed(todo, verbEnqueue))
	assert.True(t, allowed(running, verbCancel))
	assert.False(t, allowed(done, verbCancel))
	assert.True(t, allowed(plan, verbApprove))
	assert.False(t, allowed(plan, verbRework))
	assert.True(t, allowed(done, verbArchive))
	assert.False(t, allowed(todo, verbArchive))
}

func TestDeleteAsksForConfirmation(t *testing.T) {
	m := newTestModel(t)
	updated, _ := m.Update(TasksLoadedMsg{Tasks: []*models.Task{task("a", models.TaskStatusTodo, time.Now())}})
	m = updated.(Model)

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")})
	m = updated.(Model)
	assert.Equal(t, verbDelete, m.confirm)
	assert.Nil(t, cmd)
	assert.Contains(t, m.View(), "delete")

	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = updated.(Model)
	assert.Empty(t, m.confirm)
}

func TestDisallowedActionShowsError(t *testing.T) {
	m := newTestModel(t)
	updated, _ := m.Update(TasksLoadedMsg{Tasks: []*models.Task{task("a", models.TaskStatusDone, time.Now())}})
	m = updated.(Model)

	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("a")})
	m = updated.(Model)
	require.Error(t, m.err)
	assert.Contains(t, m.err.Error(), "cannot approve")
}

func TestSummaryEventPatchesTask(t *testing.T) {
	m := newTestModel(t)
	updated, _ := m.Update(TasksLoadedMsg{Tasks: []*models.Task{task("a", models.TaskStatusRunning, time.Now())}})
	m = updated.(Model)

	step, total := 2, 5
	msg := "working"
	updated, _ = m.Update(EventMsg{Event: events.Event{
		Kind:   events.KindSummaryUpdate,
		TaskID: "a",
		Summary: &models.SummaryPatch{
			CurrentStep:      &step,
			TotalSteps:       &total,
			LastAgentMessage: &msg,
		},
	}})
	m = updated.(Model)
	s := m.tasks[0].ExecutionSummary
	require.NotNil(t, s)
	assert.Equal(t, 2, *s.CurrentStep)
	assert.Equal(t, "working", s.LastAgentMessage)
	assert.Contains(t, m.detail.View(), "step 2 of 5")
}

func TestStreamEndedSchedulesResubscribe(t *testing.T) {
	m := newTestModel(t)
	m.connected = true
	updated, cmd := m.Update(StreamEndedMsg{Err: errors.New("boom")})
	m = updated.(Model)
	assert.False(t, m.connected)
	assert.NotNil(t, cmd)
	assert.Contains(t, m.View(), "disconnected")
}

func TestFilterCycles(t *testing.T) {
	m := newTestModel(t)
	for _, want := range filters[1:] {
		updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("f")})
		m = updated.(Model)
		assert.Equal(t, want, m.statusFilter())
		assert.NotNil(t, cmd)
	}
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("f")})
	final := updated.(Model)
	assert.Equal(t, models.TaskStatus(""), final.statusFilter())
}

func ids(tasks []*models.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}
