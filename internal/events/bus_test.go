package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishDeliversToTypedSubscriber(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, unsub := Subscribe[RunQueued](bus, 1)
	defer unsub()

	evt := RunQueued{RunID: "r1", Trigger: "webhook", QueuedAt: time.Now()}
	require.NoError(t, bus.Publish(context.Background(), evt))

	select {
	case got := <-ch:
		assert.Equal(t, "r1", got.RunID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_TypeIsolation(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	queued, unsub1 := Subscribe[RunQueued](bus, 1)
	defer unsub1()
	completed, unsub2 := Subscribe[RunCompleted](bus, 1)
	defer unsub2()

	require.NoError(t, bus.Publish(context.Background(), RunCompleted{RunID: "r1", Status: "success"}))

	select {
	case got := <-completed:
		assert.Equal(t, "success", got.Status)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for RunCompleted")
	}

	select {
	case evt := <-queued:
		t.Fatalf("RunQueued subscriber received unexpected event: %+v", evt)
	case <-time.After(50 * time.Millisecond):
		// ok
	}
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, unsub := Subscribe[RunStarted](bus, 1)
	assert.Equal(t, 1, SubscriberCount[RunStarted](bus))

	unsub()
	assert.Equal(t, 0, SubscriberCount[RunStarted](bus))

	_, open := <-ch
	assert.False(t, open, "channel should be closed after unsubscribe")
}

func TestBus_PublishAfterCloseFails(t *testing.T) {
	bus := NewBus()
	bus.Close()

	err := bus.Publish(context.Background(), RunQueued{RunID: "r1"})
	assert.Error(t, err)
}

func TestBus_CloseClosesSubscriberChannels(t *testing.T) {
	bus := NewBus()
	ch, _ := Subscribe[StageCompleted](bus, 1)

	bus.Close()

	_, open := <-ch
	assert.False(t, open)
}

func TestBus_PublishBlockedByFullBufferHonorsContext(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	_, unsub := Subscribe[RunQueued](bus, 0)
	defer unsub()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := bus.Publish(ctx, RunQueued{RunID: "r1"})
	assert.Error(t, err, "publish to an unbuffered subscriber with no reader should time out")
}
