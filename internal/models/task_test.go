package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to TaskStatus
		want     bool
	}{
		{TaskStatusTodo, TaskStatusRunning, true},
		{TaskStatusTodo, TaskStatusDone, false},
		{TaskStatusTodo, TaskStatusReview, false},
		{TaskStatusRunning, TaskStatusReview, true},
		{TaskStatusRunning, TaskStatusTodo, false},
		{TaskStatusReview, TaskStatusTodo, true},
		{TaskStatusReview, TaskStatusRunning, true},
		{TaskStatusDone, TaskStatusRunning, true},
		{TaskStatusDone, TaskStatusTodo, false},
		{TaskStatusCancelled, TaskStatusRunning, true},
		{TaskStatusCancelled, TaskStatusDone, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestPriorityRank(t *testing.T) {
	assert.Less(t, TaskPriorityUrgent.Rank(), TaskPriorityHigh.Rank())
	assert.Less(t, TaskPriorityHigh.Rank(), TaskPriorityMedium.Rank())
	assert.Less(t, TaskPriorityMedium.Rank(), TaskPriorityLow.Rank())
	assert.Equal(t, TaskPriorityMedium.Rank(), TaskPriority("").Rank())
}

func TestSummaryPatchApplyMergesSetFields(t *testing.T) {
	step := 1
	s := &ExecutionSummary{LastAgentMessage: "hello", CompletedSteps: []string{"a"}}

	SummaryPatch{CurrentStep: &step}.Apply(s)
	require.NotNil(t, s.CurrentStep)
	assert.Equal(t, 1, *s.CurrentStep)
	assert.Equal(t, "hello", s.LastAgentMessage)
	assert.Equal(t, []string{"a"}, s.CompletedSteps)

	empty := ""
	SummaryPatch{LastAgentMessage: &empty, CompletedSteps: []string{"a", "b"}}.Apply(s)
	assert.Empty(t, s.LastAgentMessage)
	assert.Equal(t, []string{"a", "b"}, s.CompletedSteps)
}

func TestTaskDefaultsAndHelpers(t *testing.T) {
	task := NewTask("t1", "name", TaskScopeWorkspace)
	assert.Equal(t, TaskStatusTodo, task.Status)
	assert.True(t, task.Enabled)
	assert.Nil(t, task.LastActivity())
	assert.Equal(t, time.Minute, task.Timeout(time.Minute))

	task.TimeoutMs = 1500
	assert.Equal(t, 1500*time.Millisecond, task.Timeout(time.Minute))

	task.Payload = map[string]any{"message": "do it"}
	assert.Equal(t, "do it", task.Message())

	task.DependsOn = []string{"a", "b"}
	assert.False(t, task.DependenciesDone(map[string]bool{"a": true}))
	assert.True(t, task.DependenciesDone(map[string]bool{"a": true, "b": true}))
}

func TestTaskRootIsNotSerialized(t *testing.T) {
	task := NewTask("t1", "name", TaskScopeProject)
	task.Root = "/somewhere"

	data, err := json.Marshal(task)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "/somewhere")
	assert.Contains(t, string(data), `"activityLog":[]`)
}
