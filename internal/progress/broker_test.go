package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vektor-ai/vektor/internal/domain"
)

func processingEvent(percent int) Event {
	return Event{Phase: domain.PhaseProcessing, Percent: percent, State: domain.UploadStateProcessing}
}

func completedEvent() Event {
	return Event{Phase: domain.PhaseProcessing, Percent: 100, State: domain.UploadStateCompleted}
}

func drain(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatal("timed out draining events")
		}
	}
}

func TestBrokerDeliversOrderedEvents(t *testing.T) {
	b := NewBroker()
	b.Register("u1")

	ch, cancel, err := b.Subscribe("u1")
	require.NoError(t, err)
	defer cancel()

	b.Publish("u1", processingEvent(50))
	b.Publish("u1", processingEvent(100))
	b.Publish("u1", completedEvent())

	events := drain(t, ch)
	require.Len(t, events, 3)
	assert.Equal(t, 50, events[0].Percent)
	assert.Equal(t, 100, events[1].Percent)
	assert.True(t, events[2].Terminal())
}

func TestBrokerMultipleSubscribersSeeSameEvents(t *testing.T) {
	b := NewBroker()
	b.Register("u1")

	ch1, cancel1, err := b.Subscribe("u1")
	require.NoError(t, err)
	defer cancel1()
	ch2, cancel2, err := b.Subscribe("u1")
	require.NoError(t, err)
	defer cancel2()

	b.Publish("u1", processingEvent(30))
	b.Publish("u1", completedEvent())

	events1 := drain(t, ch1)
	events2 := drain(t, ch2)
	assert.Equal(t, events1, events2)
	require.Len(t, events1, 2)
}

func TestBrokerSubscribeUnknownUpload(t *testing.T) {
	b := NewBroker()

	_, _, err := b.Subscribe("missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUploadNotFound)
}

func TestBrokerPublishWithoutSubscribersDoesNotBlock(t *testing.T) {
	b := NewBroker()
	b.Register("u1")

	done := make(chan struct{})
	go func() {
		for i := 0; i <= 100; i++ {
			b.Publish("u1", processingEvent(i))
		}
		b.Publish("u1", completedEvent())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked with no subscribers")
	}
}

func TestBrokerSlowSubscriberStillSeesTerminalEvent(t *testing.T) {
	b := NewBrokerWithConfig(Config{BufferSize: 2, GracePeriod: time.Minute})
	b.Register("u1")

	ch, cancel, err := b.Subscribe("u1")
	require.NoError(t, err)
	defer cancel()

	// Overflow the buffer without consuming; older events are evicted.
	for i := 1; i <= 20; i++ {
		b.Publish("u1", processingEvent(i*5))
	}
	b.Publish("u1", completedEvent())

	events := drain(t, ch)
	require.NotEmpty(t, events)
	assert.True(t, events[len(events)-1].Terminal())
	assert.LessOrEqual(t, len(events), 2)
}

func TestBrokerLateSubscriberGetsTerminalEvent(t *testing.T) {
	b := NewBroker()
	b.Register("u1")

	failed := Event{Phase: domain.PhaseProcessing, Percent: 40, State: domain.UploadStateFailed, Error: "embedding backend unavailable"}
	b.Publish("u1", failed)

	ch, cancel, err := b.Subscribe("u1")
	require.NoError(t, err)
	defer cancel()

	events := drain(t, ch)
	require.Len(t, events, 1)
	assert.Equal(t, domain.UploadStateFailed, events[0].State)
	assert.Equal(t, "embedding backend unavailable", events[0].Error)
}

func TestBrokerCancelDetachesSubscriber(t *testing.T) {
	b := NewBroker()
	b.Register("u1")

	ch, cancel, err := b.Subscribe("u1")
	require.NoError(t, err)
	cancel()

	// Channel is closed on cancel; publishing afterwards must not panic.
	_, ok := <-ch
	assert.False(t, ok)
	b.Publish("u1", processingEvent(10))
}

func TestBrokerReleaseDropsStream(t *testing.T) {
	b := NewBroker()
	b.Register("u1")
	b.Release("u1")

	_, _, err := b.Subscribe("u1")
	assert.ErrorIs(t, err, domain.ErrUploadNotFound)
}

func TestBrokerTerminalStreamReleasedAfterGracePeriod(t *testing.T) {
	b := NewBrokerWithConfig(Config{BufferSize: 4, GracePeriod: 20 * time.Millisecond})
	b.Register("u1")
	b.Publish("u1", completedEvent())

	// Within the grace period the terminal event is still observable.
	ch, _, err := b.Subscribe("u1")
	require.NoError(t, err)
	events := drain(t, ch)
	require.Len(t, events, 1)

	assert.Eventually(t, func() bool {
		_, _, err := b.Subscribe("u1")
		return err != nil
	}, time.Second, 10*time.Millisecond)
}

func TestBrokerPublishAfterTerminalIsIgnored(t *testing.T) {
	b := NewBrokerWithConfig(Config{BufferSize: 4, GracePeriod: time.Minute})
	b.Register("u1")
	b.Publish("u1", completedEvent())

	b.Publish("u1", processingEvent(10))

	ch, _, err := b.Subscribe("u1")
	require.NoError(t, err)
	events := drain(t, ch)
	require.Len(t, events, 1)
	assert.True(t, events[0].Terminal())
}
