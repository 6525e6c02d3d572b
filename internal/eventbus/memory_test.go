package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBusDeliversToSubscriber(t *testing.T) {
	bus := NewMemoryBus()
	ch := bus.Subscribe(EventInstanceCreated)

	require.NoError(t, bus.Publish(context.Background(), EventInstanceCreated, NewEvent(EventInstanceCreated, "test", nil)))

	select {
	case ev := <-ch:
		assert.Equal(t, EventInstanceCreated, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("expected delivery to subscriber")
	}
}

func TestMemoryBusIgnoresOtherSubjects(t *testing.T) {
	bus := NewMemoryBus()
	ch := bus.Subscribe(EventInstanceCreated)

	require.NoError(t, bus.Publish(context.Background(), EventTaskCompleted, NewEvent(EventTaskCompleted, "test", nil)))

	select {
	case ev := <-ch:
		t.Fatalf("unexpected delivery: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBusDropsWhenSubscriberBufferFull(t *testing.T) {
	bus := NewMemoryBus()
	bus.Subscribe(EventInstanceCreated)

	for i := 0; i < 64; i++ {
		require.NoError(t, bus.Publish(context.Background(), EventInstanceCreated, NewEvent(EventInstanceCreated, "test", nil)))
	}
}

func TestMemoryBusPublishWithNoSubscribersIsNoop(t *testing.T) {
	bus := NewMemoryBus()
	assert.NoError(t, bus.Publish(context.Background(), "nobody.listening", NewEvent("nobody.listening", "test", nil)))
}
