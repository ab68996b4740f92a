package events

import (
	"fmt"
	"testing"
	"time"
)

// TestPublishSubscribe verifies basic topic delivery.
func TestPublishSubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe(TopicTask, 10)

	bus.Publish(TopicTask, TaskSpawnedEvent{ID: "task-1", Wave: 1, Timestamp: time.Now()})

	select {
	case received := <-ch:
		if received.TaskID() != "task-1" {
			t.Errorf("expected task ID 'task-1', got '%s'", received.TaskID())
		}
		if received.EventType() != EventTypeTaskSpawned {
			t.Errorf("expected event type '%s', got '%s'", EventTypeTaskSpawned, received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

// TestMultipleSubscribers verifies every subscriber receives the event.
func TestMultipleSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch1 := bus.Subscribe(TopicTask, 10)
	ch2 := bus.Subscribe(TopicTask, 10)

	bus.Publish(TopicTask, TaskOutcomeEvent{ID: "task-2", Outcome: "succeeded", Timestamp: time.Now()})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case received := <-ch:
			if received.TaskID() != "task-2" {
				t.Errorf("subscriber %d: expected task ID 'task-2', got '%s'", i+1, received.TaskID())
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("subscriber %d: timeout waiting for event", i+1)
		}
	}
}

// TestSubscribeAllReceivesEveryTopic verifies the firehose.
func TestSubscribeAllReceivesEveryTopic(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	all := bus.SubscribeAll(10)

	bus.Publish(TopicTask, TaskSpawnedEvent{ID: "a"})
	bus.Publish(TopicRun, RunFinishedEvent{Result: "COMPLETE"})

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case e := <-all:
			got[e.EventType()] = true
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for events")
		}
	}
	if !got[EventTypeTaskSpawned] || !got[EventTypeRunFinished] {
		t.Errorf("firehose missed events: %v", got)
	}
}

// TestNonBlockingPublish verifies a full subscriber never stalls the
// publisher.
func TestNonBlockingPublish(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	bus.Subscribe(TopicTask, 1)

	done := make(chan bool)
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(TopicTask, TaskSpawnedEvent{ID: fmt.Sprintf("task-%d", i)})
		}
		done <- true
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

// TestCloseIdempotent verifies Close can be called repeatedly and that
// post-close subscriptions return closed channels.
func TestCloseIdempotent(t *testing.T) {
	bus := NewBus()

	ch := bus.Subscribe(TopicTask, 1)
	bus.Close()
	bus.Close()

	if _, ok := <-ch; ok {
		t.Error("expected subscriber channel to be closed")
	}

	late := bus.Subscribe(TopicTask, 1)
	if _, ok := <-late; ok {
		t.Error("expected post-close subscription to be closed")
	}

	// Publish after close must not panic.
	bus.Publish(TopicTask, TaskSpawnedEvent{ID: "x"})
}
