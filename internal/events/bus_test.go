package events

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBus(t *testing.T) {
	bus := NewBus()
	require.NotNil(t, bus)
	assert.Equal(t, 0, bus.SubscriberCount())
}

func TestBusSubscribe(t *testing.T) {
	bus := NewBus()

	ch1 := bus.Subscribe()
	assert.Equal(t, 1, bus.SubscriberCount())

	ch2 := bus.Subscribe()
	assert.Equal(t, 2, bus.SubscriberCount())

	assert.NotNil(t, ch1)
	assert.NotNil(t, ch2)
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()

	ch := bus.Subscribe()
	bus.Unsubscribe(ch)
	assert.Equal(t, 0, bus.SubscriberCount())

	_, ok := <-ch
	assert.False(t, ok, "expected channel to be closed")
}

func TestBusPublish(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()

	bus.Publish(NewWorkerEvent(EventJobLaunched, "worker-1", "work"))

	select {
	case received := <-ch:
		assert.Equal(t, EventJobLaunched, received.Type)
		assert.Equal(t, "worker-1", received.WorkerID)
		assert.Equal(t, "work", received.Data.Status)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

func TestBusPublishMultipleSubscribers(t *testing.T) {
	bus := NewBus()

	ch1 := bus.Subscribe()
	ch2 := bus.Subscribe()

	bus.Publish(NewWorkerEvent(EventWorkerReset, "worker-1", "ok"))

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case received := <-ch:
			assert.Equal(t, EventWorkerReset, received.Type, "subscriber %d", i)
		case <-time.After(100 * time.Millisecond):
			t.Errorf("subscriber %d: timeout waiting for event", i)
		}
	}
}

func TestBusPublishNonBlocking(t *testing.T) {
	bus := NewBus()
	bus.bufferSize = 1

	ch := bus.Subscribe()

	bus.Publish(NewWorkerEvent(EventJobLaunched, "worker-1", "work"))
	bus.Publish(NewWorkerEvent(EventJobLaunched, "worker-2", "work"))
	bus.Publish(NewWorkerEvent(EventJobLaunched, "worker-3", "work"))

	select {
	case ev := <-ch:
		assert.Equal(t, "worker-1", ev.WorkerID)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for first event")
	}
	assert.Equal(t, uint64(2), bus.Dropped())
}

func TestBusSubscribeFiltered(t *testing.T) {
	bus := NewBus()
	failures := bus.Subscribe(EventJobFailed, EventLaunchDropped)
	all := bus.Subscribe()

	assert.Equal(t, 1, bus.Publish(NewWorkerEvent(EventJobLaunched, "worker-1", "work")))
	assert.Equal(t, 2, bus.Publish(NewJobFailedEvent("worker-1", time.Millisecond)))

	select {
	case ev := <-failures:
		assert.Equal(t, EventJobFailed, ev.Type)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("filtered subscriber missed job_failed")
	}
	assert.Empty(t, failures)
	assert.Len(t, all, 2)
	assert.Zero(t, bus.Dropped())
}

func TestBusUnsubscribeUnknown(t *testing.T) {
	bus := NewBus()
	bus.Subscribe()
	other := NewBus().Subscribe()

	bus.Unsubscribe(other)
	assert.Equal(t, 1, bus.SubscriberCount())
}

func TestBusClose(t *testing.T) {
	bus := NewBus()

	ch := bus.Subscribe()
	bus.Close()

	assert.Equal(t, 0, bus.SubscriberCount())
	_, ok := <-ch
	assert.False(t, ok, "expected channel to be closed")

	// Publishing and subscribing after close must not panic.
	bus.Publish(NewWorkerEvent(EventWorkerEnded, "worker-1", "not_ok"))
	late := bus.Subscribe()
	_, ok = <-late
	assert.False(t, ok, "expected late subscription to be closed")
	assert.Equal(t, 0, bus.SubscriberCount())
}

func TestEventCreation(t *testing.T) {
	t.Run("JobFailed", func(t *testing.T) {
		event := NewJobFailedEvent("worker-1", 100*time.Millisecond)
		assert.Equal(t, EventJobFailed, event.Type)
		assert.Equal(t, "worker-1", event.WorkerID)
		assert.Equal(t, "100ms", event.Data.Duration)
	})

	t.Run("ResetFailed", func(t *testing.T) {
		event := NewResetFailedEvent("worker-2", errors.New("no cond"))
		assert.Equal(t, EventWorkerResetFailed, event.Type)
		assert.Equal(t, "no cond", event.Data.Error)

		assert.Empty(t, NewResetFailedEvent("worker-2", nil).Data.Error)
	})

	t.Run("Stress", func(t *testing.T) {
		start := NewStressStartedEvent("soak", 10000)
		assert.Equal(t, EventStressStarted, start.Type)
		assert.Equal(t, 10000, start.Data.Iterations)

		done := NewStressCompletedEvent("soak", 10000, time.Second, nil)
		assert.Equal(t, EventStressCompleted, done.Type)
		assert.Equal(t, "1s", done.Data.Duration)
		assert.Empty(t, done.Data.Error)
	})
}
