// Package events fans supervisor notifications out to any number of
// subscribers.
//
// Publish never blocks. A subscriber whose buffer is full misses the event
// and its Dropped counter is incremented; the publisher is never slowed down
// by a stalled consumer. The last value of state-like kinds (running,
// version-info, update-progress, speed) is retained so late subscribers can
// render the current picture through Snapshot.
package events

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Kind names an outbound notification channel.
type Kind string

const (
	KindRunning        Kind = "running"
	KindAccessLog      Kind = "access-log"
	KindErrorLog       Kind = "error-log"
	KindVersionInfo    Kind = "version-info"
	KindSpeed          Kind = "speed"
	KindUpdateProgress Kind = "update-progress"
	KindTip            Kind = "tip"
	KindIdentity       Kind = "identity"
)

// sticky kinds describe state rather than occurrences.
var sticky = map[Kind]bool{
	KindRunning:        true,
	KindVersionInfo:    true,
	KindUpdateProgress: true,
	KindSpeed:          true,
}

// ErrBusClosed is returned when subscribing to a closed bus.
var ErrBusClosed = errors.New("event bus is closed")

// Event is one notification.
type Event struct {
	Kind    Kind        `json:"kind"`
	Payload interface{} `json:"payload"`
	Time    time.Time   `json:"time"`
}

// Publisher is the narrow side of the bus handed to producers.
type Publisher interface {
	Publish(kind Kind, payload interface{})
}

// Subscription is a registered consumer. C is closed when the subscription
// or the bus is closed.
type Subscription struct {
	C <-chan Event

	id      uint64
	ch      chan Event
	bus     *Bus
	dropped atomic.Uint64
}

// Dropped returns how many events were lost because C was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unregisters the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.id)
}

// Bus is an in-process broadcaster.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	last   map[Kind]Event
	nextID uint64
	closed bool
	now    func() time.Time

	published atomic.Uint64
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subs: make(map[uint64]*Subscription),
		last: make(map[Kind]Event),
		now:  time.Now,
	}
}

// Subscribe registers a consumer with the given channel buffer.
func (b *Bus) Subscribe(buffer int) (*Subscription, error) {
	if buffer < 1 {
		buffer = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	b.nextID++
	ch := make(chan Event, buffer)
	sub := &Subscription{C: ch, id: b.nextID, ch: ch, bus: b}
	b.subs[sub.id] = sub
	return sub, nil
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// Publish delivers an event to every subscriber without blocking. Events
// published after Close are discarded.
func (b *Bus) Publish(kind Kind, payload interface{}) {
	b.published.Add(1)
	ev := Event{Kind: kind, Payload: payload, Time: b.now()}

	if sticky[kind] {
		b.mu.Lock()
		if !b.closed {
			b.last[kind] = ev
		}
		b.mu.Unlock()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Snapshot returns the last event of each state-like kind.
func (b *Bus) Snapshot() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Event, 0, len(b.last))
	for _, kind := range []Kind{KindRunning, KindVersionInfo, KindUpdateProgress, KindSpeed} {
		if ev, ok := b.last[kind]; ok {
			out = append(out, ev)
		}
	}
	return out
}

// Last returns the retained event for a state-like kind.
func (b *Bus) Last(kind Kind) (Event, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ev, ok := b.last[kind]
	return ev, ok
}

// Subscribers returns the number of registered consumers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Published returns the number of Publish calls so far.
func (b *Bus) Published() uint64 {
	return b.published.Load()
}

// Close closes every subscription channel. It is idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
