// Package events is the in-process status event bus.
//
// Publishing never blocks: each subscriber owns a buffered channel and events
// that do not fit are dropped for that subscriber. Delivery is a notification,
// not a log; the task store stays the source of truth.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/OpenLoaf/OpenLoaf-sub003/internal/models"
)

// Kind distinguishes event payloads.
type Kind string

const (
	KindStatusChange  Kind = "status_change"
	KindSummaryUpdate Kind = "summary_update"
)

// DefaultBuffer is the subscriber channel size used when none is given.
const DefaultBuffer = 64

// Event is a status change or an execution summary update.
type Event struct {
	Kind           Kind                 `json:"kind"`
	TaskID         string               `json:"taskId"`
	Status         models.TaskStatus    `json:"status,omitempty"`
	PreviousStatus models.TaskStatus    `json:"previousStatus,omitempty"`
	ReviewType     models.ReviewType    `json:"reviewType,omitempty"`
	Title          string               `json:"title,omitempty"`
	UpdatedAt      time.Time            `json:"updatedAt"`
	Summary        *models.SummaryPatch `json:"summary,omitempty"`
}

type subscriber struct {
	ch      chan Event
	dropped int
}

// Bus fans events out to any number of subscribers.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
	logger *slog.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[int]*subscriber),
		logger: logger.With("component", "events"),
	}
}

// Subscribe registers a listener. The returned function unsubscribes and
// closes the channel; it is safe to call more than once.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	sub := &subscriber{ch: make(chan Event, buffer)}
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
}

// SubscribeFunc runs fn for every event on its own goroutine. A panicking
// handler is logged and does not affect other subscribers.
func (b *Bus) SubscribeFunc(fn func(Event)) func() {
	ch, unsubscribe := b.Subscribe(DefaultBuffer)
	go func() {
		for ev := range ch {
			b.dispatch(fn, ev)
		}
	}()
	return unsubscribe
}

func (b *Bus) dispatch(fn func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Warn("event handler panicked", "kind", ev.Kind, "task", ev.TaskID, "panic", r)
		}
	}()
	fn(ev)
}

// Publish delivers ev to every subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	if ev.UpdatedAt.IsZero() {
		ev.UpdatedAt = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped++
			if sub.dropped == 1 || sub.dropped%100 == 0 {
				b.logger.Debug("subscriber full, dropping events", "subscriber", id, "dropped", sub.dropped)
			}
		}
	}
}

// PublishStatus announces a status transition of t.
func (b *Bus) PublishStatus(t *models.Task, previous models.TaskStatus) {
	b.Publish(Event{
		Kind:           KindStatusChange,
		TaskID:         t.ID,
		Status:         t.Status,
		PreviousStatus: previous,
		ReviewType:     t.ReviewType,
		Title:          t.Name,
		UpdatedAt:      t.UpdatedAt,
	})
}

// PublishSummary announces a partial execution summary update.
func (b *Bus) PublishSummary(taskID string, patch models.SummaryPatch) {
	b.Publish(Event{
		Kind:    KindSummaryUpdate,
		TaskID:  taskID,
		Summary: &patch,
	})
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
