// ABOUTME: Tests for the engine event broadcaster
// ABOUTME: Covers fan-out, slow consumers, context cancellation, close

package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBroadcaster_SubscriberReceivesEvent(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context())

	b.Publish(Event{Type: EventTaskCompleted, TaskID: "t1", Timestamp: time.Now()})

	select {
	case received := <-ch:
		assert.Equal(t, EventTaskCompleted, received.Type)
		assert.Equal(t, "t1", received.TaskID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBroadcaster_AllSubscribersReceiveSameEvent(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch1, _ := b.Subscribe(t.Context())
	ch2, _ := b.Subscribe(t.Context())
	ch3, _ := b.Subscribe(t.Context())

	b.Publish(Event{Type: EventStateChanged, Message: "running"})

	for i, ch := range []<-chan Event{ch1, ch2, ch3} {
		select {
		case received := <-ch:
			assert.Equal(t, EventStateChanged, received.Type, "subscriber %d got wrong event", i)
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out", i)
		}
	}
}

func TestBroadcaster_SlowConsumerDoesNotBlockPublisher(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	// Subscribe but never read (slow consumer).
	_, _ = b.Subscribe(t.Context())
	ch2, _ := b.Subscribe(t.Context())

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Well past the buffer size; must not block.
		for i := 0; i < subscriberBufferSize*3; i++ {
			b.Publish(Event{Type: EventTaskRunning, TaskID: "t"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on slow consumer")
	}

	// The fast consumer still got a full buffer's worth.
	received := 0
	for {
		select {
		case <-ch2:
			received++
		case <-time.After(100 * time.Millisecond):
			assert.Equal(t, subscriberBufferSize, received)
			return
		}
	}
}

func TestBroadcaster_ContextCancellationCleansUp(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, subID := b.Subscribe(ctx)

	b.mu.RLock()
	_, exists := b.subscribers[subID]
	b.mu.RUnlock()
	assert.True(t, exists, "subscription should exist before cancel")

	cancel()

	// Give the cleanup goroutine time to run.
	time.Sleep(50 * time.Millisecond)

	b.mu.RLock()
	_, exists = b.subscribers[subID]
	b.mu.RUnlock()
	assert.False(t, exists, "subscription should be removed after context cancel")

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after context cancel")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after context cancel")
	}
}

func TestBroadcaster_ManualUnsubscribe(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, subID := b.Subscribe(t.Context())

	b.Unsubscribe(subID)

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after unsubscribe")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	b.Publish(Event{Type: EventStateChanged})
}

func TestBroadcaster_CloseClosesAllSubscriptions(t *testing.T) {
	b := NewBroadcaster(nil)

	ch1, _ := b.Subscribe(t.Context())
	ch2, _ := b.Subscribe(t.Context())

	b.Close()

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case _, ok := <-ch:
			assert.False(t, ok, "channel %d should be closed after Close()", i)
		case <-time.After(time.Second):
			t.Fatalf("channel %d not closed after Close()", i)
		}
	}
}
