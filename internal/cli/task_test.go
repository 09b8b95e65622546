package cli

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/events"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/models"
)

func TestParseSchedule(t *testing.T) {
	s, err := parseSchedule("", 0, "")
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = parseSchedule("*/15 * * * *", 0, "")
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleTypeCron, s.Type)
	assert.Equal(t, "*/15 * * * *", s.CronExpr)

	s, err = parseSchedule("", 5*time.Second, "")
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleTypeInterval, s.Type)
	assert.Equal(t, int64(5000), s.IntervalMs)

	s, err = parseSchedule("", 0, "2026-01-02T15:04:05Z")
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleTypeOnce, s.Type)
	require.NotNil(t, s.ScheduleAt)
	assert.Equal(t, 2026, s.ScheduleAt.Year())

	_, err = parseSchedule("* * * * *", time.Minute, "")
	assert.Error(t, err)
	_, err = parseSchedule("", 0, "tomorrow")
	assert.Error(t, err)
}

func TestParsePayload(t *testing.T) {
	assert.Nil(t, parsePayload(nil))

	got := parsePayload(map[string]string{
		"message": "fix the build",
		"count":   "3",
		"flags":   `{"dry":true}`,
	})
	assert.Equal(t, "fix the build", got["message"])
	assert.Equal(t, float64(3), got["count"])
	assert.Equal(t, map[string]any{"dry": true}, got["flags"])
}

func TestEditPatchOnlyCarriesChangedFlags(t *testing.T) {
	var f taskFlags
	fs := pflag.NewFlagSet("edit", pflag.ContinueOnError)
	f.register(fs, true)
	fs.Bool("clear-schedule", false, "")
	require.NoError(t, fs.Parse([]string{"--name", "renamed", "--every", "1m", "--auto"}))

	p, err := f.patch(fs)
	require.NoError(t, err)
	require.NotNil(t, p.Name)
	assert.Equal(t, "renamed", *p.Name)
	require.NotNil(t, p.Schedule)
	assert.Equal(t, int64(60000), p.Schedule.IntervalMs)
	require.NotNil(t, p.TriggerMode)
	assert.Equal(t, models.TriggerModeScheduled, *p.TriggerMode)
	require.NotNil(t, p.AutoExecute)
	assert.True(t, *p.AutoExecute)
	assert.Nil(t, p.Description)
	assert.Nil(t, p.Enabled)
	assert.Nil(t, p.Payload)
}

func TestCreateInputSetsScheduledMode(t *testing.T) {
	var f taskFlags
	fs := pflag.NewFlagSet("add", pflag.ContinueOnError)
	f.register(fs, false)
	require.NoError(t, fs.Parse([]string{"--name", "nightly", "--cron", "0 3 * * *", "--set", "message=hi"}))

	in, err := f.createInput()
	require.NoError(t, err)
	assert.Equal(t, models.TriggerModeScheduled, in.TriggerMode)
	assert.Equal(t, "hi", in.Payload["message"])
	require.NotNil(t, in.Enabled)
	assert.True(t, *in.Enabled)
}

func TestFormatEvent(t *testing.T) {
	prev := colorEnabled
	colorEnabled = false
	t.Cleanup(func() { colorEnabled = prev })

	step, total := 2, 4
	msg := "running tests"
	line := formatEvent(events.Event{
		Kind:    events.KindSummaryUpdate,
		TaskID:  "t1",
		Summary: &models.SummaryPatch{CurrentStep: &step, TotalSteps: &total, LastAgentMessage: &msg},
	})
	assert.Contains(t, line, "step 2/4")
	assert.Contains(t, line, "running tests")

	line = formatEvent(events.Event{
		Kind:           events.KindStatusChange,
		TaskID:         "t1",
		Status:         models.TaskStatusReview,
		PreviousStatus: models.TaskStatusRunning,
		ReviewType:     models.ReviewTypePlan,
		Title:          "nightly",
	})
	assert.Contains(t, line, "running -> review:plan")
}
