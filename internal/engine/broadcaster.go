// ABOUTME: In-memory fan-out broadcaster for engine lifecycle events
// ABOUTME: Lets observers watch task and state transitions without polling

package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Event types published by the engine.
const (
	EventStateChanged      = "state_changed"
	EventSignedOut         = "signed_out"
	EventTaskAccepted      = "task_accepted"
	EventTaskRunning       = "task_running"
	EventTaskCompleted     = "task_completed"
	EventTaskFailed        = "task_failed"
	EventWorkspaceAssigned = "workspace_assigned"
)

// Event is a state-change notification for observers: task transitions,
// workspace assignment, and overall engine state changes.
type Event struct {
	Type        string    `json:"type"`
	TaskID      string    `json:"task_id,omitempty"`
	WorkspaceID string    `json:"workspace_id,omitempty"`
	State       State     `json:"state,omitempty"`
	Message     string    `json:"message,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Broadcaster provides in-memory pub/sub for engine events. Display
// surfaces subscribe for point-in-time awareness; the engine publishes
// without blocking on slow consumers.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]chan Event),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber and returns its event channel plus a
// subscription id for manual removal. The subscription is cleaned up
// automatically when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan Event, string) {
	subID := uuid.New().String()
	ch := make(chan Event, subscriberBufferSize)

	b.mu.Lock()
	b.subscribers[subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()

	return ch, subID
}

// Publish delivers an event to every subscriber. Non-blocking: a
// subscriber whose channel is full misses the event.
func (b *Broadcaster) Publish(event Event) {
	b.mu.RLock()
	targets := make([]chan Event, 0, len(b.subscribers))
	for _, ch := range b.subscribers {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- event:
		default:
			b.logger.Debug("dropped event for slow subscriber", "type", event.Type)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subscribers[subID]
	if !ok {
		return
	}
	delete(b.subscribers, subID)
	close(ch)

	b.logger.Debug("subscriber removed", "sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for subID, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, subID)
	}
}
