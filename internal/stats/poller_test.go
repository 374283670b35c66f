package stats

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xrayclient/internal/core/types"
	"xrayclient/internal/events"
)

type fakeQuerier struct {
	mu     sync.Mutex
	output string
	err    error
	calls  chan string
}

func newFakeQuerier(output string) *fakeQuerier {
	return &fakeQuerier{output: output, calls: make(chan string, 16)}
}

func (q *fakeQuerier) QueryStats(ctx context.Context, addr string) ([]byte, error) {
	q.mu.Lock()
	out, err := q.output, q.err
	q.mu.Unlock()
	q.calls <- addr
	return []byte(out), err
}

func (q *fakeQuerier) set(output string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.output = output
}

func (q *fakeQuerier) waitCall(t *testing.T) {
	t.Helper()
	select {
	case <-q.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for stats query")
	}
}

func (q *fakeQuerier) noCall(t *testing.T) {
	t.Helper()
	select {
	case <-q.calls:
		t.Fatal("unexpected stats query")
	case <-time.After(50 * time.Millisecond):
	}
}

type liveness struct {
	running atomic.Bool
}

func (l *liveness) Running() bool { return l.running.Load() }

const (
	bothCounters = `{"stat":[{"name":"outbound>>>proxy>>>traffic>>>uplink","value":1000000},{"name":"outbound>>>proxy>>>traffic>>>downlink","value":"0"}]}`
	uplinkOnly   = `{"stat":[{"name":"outbound>>>proxy>>>traffic>>>uplink","value":"4096"}]}`
)

type harness struct {
	poller *Poller
	query  *fakeQuerier
	live   *liveness
	clock  *clockwork.FakeClock
	sub    *events.Subscription
}

func newHarness(t *testing.T, output string) *harness {
	t.Helper()
	bus := events.New()
	t.Cleanup(bus.Close)
	sub, err := bus.Subscribe(32)
	require.NoError(t, err)

	h := &harness{
		query: newFakeQuerier(output),
		live:  &liveness{},
		clock: clockwork.NewFakeClock(),
		sub:   sub,
	}
	h.live.running.Store(true)
	h.poller = New(h.query, h.live, bus, Options{
		Addr:            "127.0.0.1:10085",
		VisibleInterval: 2500 * time.Millisecond,
		HiddenInterval:  5 * time.Minute,
		Clock:           h.clock,
	})
	t.Cleanup(h.poller.Close)
	return h
}

func (h *harness) speed(t *testing.T) types.SpeedStats {
	t.Helper()
	select {
	case ev := <-h.sub.C:
		require.Equal(t, events.KindSpeed, ev.Kind)
		return ev.Payload.(types.SpeedStats)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for speed event")
	}
	return types.SpeedStats{}
}

func (h *harness) noEvent(t *testing.T) {
	t.Helper()
	select {
	case ev := <-h.sub.C:
		t.Fatalf("unexpected %s event", ev.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPollOnce_Rate(t *testing.T) {
	h := newHarness(t, bothCounters)

	h.clock.Advance(2 * time.Second)
	require.NoError(t, h.poller.PollOnce(context.Background()))
	<-h.query.calls

	speed := h.speed(t)
	require.NotNil(t, speed.Up)
	require.NotNil(t, speed.Down)
	assert.Equal(t, 500000.0, *speed.Up)
	assert.Equal(t, 0.0, *speed.Down)
}

func TestPollOnce_AbsentCounterOmitted(t *testing.T) {
	h := newHarness(t, uplinkOnly)

	h.clock.Advance(time.Second)
	require.NoError(t, h.poller.PollOnce(context.Background()))
	<-h.query.calls

	speed := h.speed(t)
	require.NotNil(t, speed.Up)
	assert.Equal(t, 4096.0, *speed.Up)
	assert.Nil(t, speed.Down)
}

func TestPollOnce_MalformedOutputPublishesNothing(t *testing.T) {
	for _, output := range []string{"", "failed to dial", "{}"} {
		h := newHarness(t, output)
		h.clock.Advance(time.Second)
		assert.Error(t, h.poller.PollOnce(context.Background()))
		<-h.query.calls
		h.noEvent(t)
	}
}

func TestPollOnce_QueryErrorKeepsBaseline(t *testing.T) {
	h := newHarness(t, bothCounters)
	h.query.err = errors.New("connection refused")

	h.clock.Advance(time.Second)
	assert.Error(t, h.poller.PollOnce(context.Background()))
	<-h.query.calls
	h.noEvent(t)

	h.query.err = nil
	h.clock.Advance(time.Second)
	require.NoError(t, h.poller.PollOnce(context.Background()))
	<-h.query.calls
	assert.Equal(t, 500000.0, *h.speed(t).Up)
}

func TestReset_PollsImmediatelyAndReschedules(t *testing.T) {
	h := newHarness(t, bothCounters)
	h.poller.SetVisible(true)
	h.query.waitCall(t)
	h.speed(t)

	h.poller.Reset()
	h.query.waitCall(t)
	speed := h.speed(t)
	assert.Equal(t, 0.0, *speed.Up, "no time elapsed since the baseline")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))

	h.clock.Advance(2500 * time.Millisecond)
	h.query.waitCall(t)
	assert.Equal(t, 400000.0, *h.speed(t).Up)
}

func TestReset_HiddenInterval(t *testing.T) {
	h := newHarness(t, bothCounters)

	h.poller.Reset()
	h.query.waitCall(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))

	h.clock.Advance(2500 * time.Millisecond)
	h.query.noCall(t)

	h.clock.Advance(5 * time.Minute)
	h.query.waitCall(t)
}

func TestInterval(t *testing.T) {
	h := newHarness(t, bothCounters)
	h.live.running.Store(false)

	assert.Equal(t, 5*time.Minute, h.poller.Interval())
	h.poller.SetVisible(true)
	assert.Equal(t, 2500*time.Millisecond, h.poller.Interval())
	assert.True(t, h.poller.Visible())
	h.poller.SetVisible(false)
	assert.Equal(t, 5*time.Minute, h.poller.Interval())
}

func TestStopsWhenEngineNotRunning(t *testing.T) {
	h := newHarness(t, bothCounters)
	h.live.running.Store(false)

	h.poller.Reset()
	h.query.noCall(t)

	h.live.running.Store(true)
	h.poller.Reset()
	h.query.waitCall(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))

	h.live.running.Store(false)
	h.clock.Advance(5 * time.Minute)
	h.query.noCall(t)
}

func TestMalformedOutputDoesNotBreakChain(t *testing.T) {
	h := newHarness(t, "garbage")
	h.poller.SetVisible(true)
	h.query.waitCall(t)
	h.noEvent(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))

	h.query.set(bothCounters)
	h.clock.Advance(2500 * time.Millisecond)
	h.query.waitCall(t)
	h.speed(t)
}

func TestRate(t *testing.T) {
	assert.Equal(t, 500000.0, rate(1000000, 2))
	assert.Equal(t, 0.0, rate(0, 2))
	assert.Equal(t, 0.0, rate(100, 0))
}
