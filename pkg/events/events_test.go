package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/types"
)

func TestPublishSubscribe(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	a, c := b.Subscribe(), b.Subscribe()
	assert.Equal(t, 2, b.SubscriberCount())

	b.Publish(&Event{Type: EventTaskCompleted, ClusterID: "c1", TaskID: "app1", State: types.TaskStateCompleted})

	for _, sub := range []Subscriber{a, c} {
		select {
		case e := <-sub:
			assert.Equal(t, "app1", e.TaskID)
			assert.NotEmpty(t, e.ID)
			assert.False(t, e.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}

	b.Unsubscribe(a)
	b.Unsubscribe(a)
	assert.Equal(t, 1, b.SubscriberCount())
	_, open := <-a
	assert.False(t, open)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	for i := 0; i < 200; i++ {
		b.Publish(&Event{Type: EventTaskStateChanged})
	}
	require.Eventually(t, func() bool { return len(sub) == cap(sub) }, time.Second, 5*time.Millisecond)
}

func TestPublishAfterStop(t *testing.T) {
	b := NewBroker()
	b.Start()
	b.Stop()
	b.Stop()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			b.Publish(&Event{Type: EventTaskFailed})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked after stop")
	}
}

func TestTypeForState(t *testing.T) {
	assert.Equal(t, EventTaskCompleted, TypeForState(types.TaskStateCompleted))
	assert.Equal(t, EventTaskFailed, TypeForState(types.TaskStateFailed))
	assert.Equal(t, EventTaskStateChanged, TypeForState(types.TaskStateRunning))
}
