package telemetry

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/posthog/posthog-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenLoaf/OpenLoaf-sub003/internal/config"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/events"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/models"
)

type fakeClient struct {
	mu       sync.Mutex
	captured []posthog.Capture
	closed   bool
}

func (f *fakeClient) Enqueue(msg posthog.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := msg.(posthog.Capture); ok {
		f.captured = append(f.captured, c)
	}
	return nil
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeClient) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.captured)
}

func TestReporterCapturesStatusChanges(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := events.NewBus(logger)
	client := &fakeClient{}
	r := NewWithClient(client, "install-1", logger)
	r.Attach(bus)

	task := models.NewTask("t1", "secret name", models.TaskScopeWorkspace)
	task.Status = models.TaskStatusReview
	task.ReviewType = models.ReviewTypePlan
	bus.PublishStatus(task, models.TaskStatusRunning)
	msg := "progress"
	bus.PublishSummary("t1", models.SummaryPatch{LastAgentMessage: &msg})

	require.Eventually(t, func() bool { return client.count() == 1 }, time.Second, 5*time.Millisecond)
	r.Close()
	assert.True(t, client.closed)
	assert.Zero(t, bus.Subscribers())

	c := client.captured[0]
	assert.Equal(t, EventTaskStatus, c.Event)
	assert.Equal(t, "install-1", c.DistinctId)
	assert.Equal(t, "review", c.Properties["status"])
	assert.Equal(t, "running", c.Properties["previous_status"])
	assert.Equal(t, "plan", c.Properties["review_type"])
	for _, v := range c.Properties {
		assert.NotEqual(t, "secret name", v, "task names are never sent")
	}
}

func TestDisabledReporterIsNoop(t *testing.T) {
	r, err := New(models.TelemetryConfig{Enabled: true}, nil)
	require.NoError(t, err)
	assert.False(t, r.Enabled(), "no api key")

	bus := events.NewBus(nil)
	r.Attach(bus)
	assert.Zero(t, bus.Subscribers())
	r.Close()
}

func TestInstallIDIsStable(t *testing.T) {
	t.Setenv(config.HomeEnv, t.TempDir())
	first := installID()
	assert.NotEmpty(t, first)
	assert.Equal(t, first, installID())
}
