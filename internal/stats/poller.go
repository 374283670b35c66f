// Package stats samples engine traffic counters and publishes byte rates.
package stats

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"xrayclient/internal/core/types"
	"xrayclient/internal/core/xray"
	"xrayclient/internal/events"
)

// Querier reads and resets the engine counters.
type Querier interface {
	QueryStats(ctx context.Context, addr string) ([]byte, error)
}

// Liveness tells the poller whether there is an engine to query.
type Liveness interface {
	Running() bool
}

// Options tunes a Poller.
type Options struct {
	Addr            string
	VisibleInterval time.Duration
	HiddenInterval  time.Duration
	Clock           clockwork.Clock
	Logger          *zap.Logger
}

// Poller runs a self-rescheduling chain of counter queries while the engine
// runs. Every Reset or visibility change starts a new chain; older chains
// notice their token is stale and stop.
type Poller struct {
	query   Querier
	engine  Liveness
	bus     events.Publisher
	opts    Options
	clock   clockwork.Clock
	log     *zap.Logger
	pollMu  sync.Mutex
	mu      sync.Mutex
	seq     uint64
	timer   clockwork.Timer
	last    time.Time
	visible bool
	closed  bool
}

// New creates an idle poller. Nothing is queried before the first Reset.
func New(query Querier, engine Liveness, bus events.Publisher, opts Options) *Poller {
	if opts.VisibleInterval <= 0 {
		opts.VisibleInterval = 2500 * time.Millisecond
	}
	if opts.HiddenInterval <= 0 {
		opts.HiddenInterval = 5 * time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Poller{
		query:  query,
		engine: engine,
		bus:    bus,
		opts:   opts,
		clock:  opts.Clock,
		log:    opts.Logger,
		last:   opts.Clock.Now(),
	}
}

// Reset makes the current instant the rate baseline and polls right away,
// cancelling any pending poll.
func (p *Poller) Reset() {
	p.mu.Lock()
	p.last = p.clock.Now()
	seq, ok := p.restartLocked()
	p.mu.Unlock()

	if ok {
		go p.run(seq)
	}
}

// SetVisible switches between the foreground and background cadence.
// Becoming visible polls immediately.
func (p *Poller) SetVisible(visible bool) {
	p.mu.Lock()
	wasVisible := p.visible
	p.visible = visible
	var seq uint64
	ok := false
	if visible && !wasVisible {
		seq, ok = p.restartLocked()
	}
	p.mu.Unlock()

	if ok {
		go p.run(seq)
	}
}

// Visible reports the current cadence.
func (p *Poller) Visible() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visible
}

// Interval returns the delay before the next scheduled poll.
func (p *Poller) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.intervalLocked()
}

func (p *Poller) intervalLocked() time.Duration {
	if p.visible {
		return p.opts.VisibleInterval
	}
	return p.opts.HiddenInterval
}

// Close cancels the pending poll and ignores later Resets.
func (p *Poller) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.seq++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// restartLocked invalidates the running chain and returns the token of a
// new one.
func (p *Poller) restartLocked() (uint64, bool) {
	if p.closed {
		return 0, false
	}
	p.seq++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	return p.seq, true
}

func (p *Poller) current(seq uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return seq == p.seq
}

func (p *Poller) run(seq uint64) {
	if !p.engine.Running() || !p.current(seq) {
		return
	}

	if err := p.PollOnce(context.Background()); err != nil {
		p.log.Debug("stats poll failed", zap.Error(err))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if seq != p.seq || !p.engine.Running() {
		return
	}
	p.timer = p.clock.AfterFunc(p.intervalLocked(), func() { p.run(seq) })
}

// PollOnce queries the counters once and publishes the rates. Query
// failures and unparsable output publish nothing.
func (p *Poller) PollOnce(ctx context.Context) error {
	p.pollMu.Lock()
	defer p.pollMu.Unlock()

	output, err := p.query.QueryStats(ctx, p.opts.Addr)
	if err != nil {
		return err
	}

	now := p.clock.Now()
	p.mu.Lock()
	elapsed := now.Sub(p.last).Seconds()
	p.last = now
	p.mu.Unlock()

	counters, err := xray.ParseStats(output)
	if err != nil {
		return err
	}

	var speed types.SpeedStats
	if v, ok := counters[xray.UplinkCounter]; ok {
		r := rate(v, elapsed)
		speed.Up = &r
	}
	if v, ok := counters[xray.DownlinkCounter]; ok {
		r := rate(v, elapsed)
		speed.Down = &r
	}
	p.bus.Publish(events.KindSpeed, speed)
	return nil
}

// rate converts a counter delta into bytes per second.
func rate(value int64, elapsed float64) float64 {
	if value == 0 || elapsed <= 0 {
		return 0
	}
	return float64(value) / elapsed
}
