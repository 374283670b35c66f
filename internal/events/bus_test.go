package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C:
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	return Event{}
}

func TestPublishSubscribe(t *testing.T) {
	bus := New()
	defer bus.Close()

	a, err := bus.Subscribe(4)
	require.NoError(t, err)
	b, err := bus.Subscribe(4)
	require.NoError(t, err)

	bus.Publish(KindTip, "Startup complete.")

	for _, sub := range []*Subscription{a, b} {
		ev := receive(t, sub)
		assert.Equal(t, KindTip, ev.Kind)
		assert.Equal(t, "Startup complete.", ev.Payload)
		assert.False(t, ev.Time.IsZero())
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	bus := New()
	defer bus.Close()

	slow, err := bus.Subscribe(1)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(KindAccessLog, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	assert.Equal(t, 0, receive(t, slow).Payload)
	assert.Equal(t, uint64(99), slow.Dropped())
	assert.Equal(t, uint64(100), bus.Published())
}

func TestSnapshotKeepsStateKinds(t *testing.T) {
	bus := New()
	defer bus.Close()

	bus.Publish(KindRunning, false)
	bus.Publish(KindRunning, true)
	bus.Publish(KindAccessLog, "line")
	bus.Publish(KindSpeed, map[string]float64{"up": 1})

	snap := bus.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, KindRunning, snap[0].Kind)
	assert.Equal(t, true, snap[0].Payload)
	assert.Equal(t, KindSpeed, snap[1].Kind)

	_, ok := bus.Last(KindAccessLog)
	assert.False(t, ok)
}

func TestSubscriptionClose(t *testing.T) {
	bus := New()
	defer bus.Close()

	sub, err := bus.Subscribe(1)
	require.NoError(t, err)
	assert.Equal(t, 1, bus.Subscribers())

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, bus.Subscribers())

	_, ok := <-sub.C
	assert.False(t, ok)

	bus.Publish(KindTip, "ignored")
}

func TestCloseEndsSubscriptions(t *testing.T) {
	bus := New()
	sub, err := bus.Subscribe(1)
	require.NoError(t, err)

	bus.Close()
	bus.Close()

	_, ok := <-sub.C
	assert.False(t, ok)

	_, err = bus.Subscribe(1)
	assert.ErrorIs(t, err, ErrBusClosed)

	bus.Publish(KindRunning, true)
	sub.Close()
}

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	bus := New()
	defer bus.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				bus.Publish(KindSpeed, j)
			}
		}()
		go func() {
			defer wg.Done()
			sub, err := bus.Subscribe(8)
			if err != nil {
				return
			}
			sub.Close()
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(1600), bus.Published())
}
