// Package telemetry reports anonymous run outcomes to PostHog.
//
// Only status transitions are reported, with no task names, payloads or
// paths. Reporting is off unless telemetry.enabled is set with an API key.
package telemetry

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/posthog/posthog-go"

	"github.com/OpenLoaf/OpenLoaf-sub003/internal/buildinfo"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/config"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/daemon/events"
	"github.com/OpenLoaf/OpenLoaf-sub003/internal/models"
)

// EventTaskStatus is the captured event name.
const EventTaskStatus = "task_status_changed"

const installIDFile = "install_id"

// Client is the subset of posthog.Client the reporter uses.
type Client interface {
	Enqueue(posthog.Message) error
	Close() error
}

// Reporter forwards status changes from the event bus.
type Reporter struct {
	client      Client
	distinctID  string
	logger      *slog.Logger
	unsubscribe func()
}

// New creates a reporter from settings. A disabled or keyless configuration
// yields a reporter that does nothing.
func New(cfg models.TelemetryConfig, logger *slog.Logger) (*Reporter, error) {
	if !cfg.Enabled || cfg.APIKey == "" {
		return NewWithClient(nil, "", logger), nil
	}
	client, err := posthog.NewWithConfig(cfg.APIKey, posthog.Config{Endpoint: cfg.Endpoint})
	if err != nil {
		return nil, err
	}
	return NewWithClient(client, installID(), logger), nil
}

// NewWithClient creates a reporter around client. A nil client disables reporting.
func NewWithClient(client Client, distinctID string, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		client:     client,
		distinctID: distinctID,
		logger:     logger.With("component", "telemetry"),
	}
}

// Enabled reports whether events are sent anywhere.
func (r *Reporter) Enabled() bool {
	return r.client != nil
}

// Attach subscribes the reporter to bus.
func (r *Reporter) Attach(bus *events.Bus) {
	if !r.Enabled() || r.unsubscribe != nil {
		return
	}
	r.unsubscribe = bus.SubscribeFunc(r.handle)
}

func (r *Reporter) handle(ev events.Event) {
	if ev.Kind != events.KindStatusChange {
		return
	}
	props := posthog.NewProperties().
		Set("status", string(ev.Status)).
		Set("previous_status", string(ev.PreviousStatus)).
		Set("version", buildinfo.Version)
	if ev.ReviewType != "" {
		props.Set("review_type", string(ev.ReviewType))
	}
	err := r.client.Enqueue(posthog.Capture{
		DistinctId: r.distinctID,
		Event:      EventTaskStatus,
		Timestamp:  ev.UpdatedAt,
		Properties: props,
	})
	if err != nil {
		r.logger.Debug("failed to enqueue telemetry", "error", err)
	}
}

// Close unsubscribes and flushes pending events.
func (r *Reporter) Close() {
	if r.unsubscribe != nil {
		r.unsubscribe()
		r.unsubscribe = nil
	}
	if r.client != nil {
		if err := r.client.Close(); err != nil {
			r.logger.Debug("failed to flush telemetry", "error", err)
		}
	}
}

// installID returns a random id persisted in the global dir, so events from
// one machine group together without identifying it.
func installID() string {
	dir, err := config.GlobalDir()
	if err != nil {
		return uuid.NewString()
	}
	path := filepath.Join(dir, installIDFile)
	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id
		}
	}
	id := uuid.NewString()
	_ = config.AtomicWrite(path, []byte(id+"\n"), 0644)
	return id
}
