package telemetry

import (
	"sync"
	"time"

	"github.com/browserbench/pageagent/internal/clock"
)

// RelayConfig configures the batched event relay.
type RelayConfig struct {
	// FlushWindow bounds how long an ingested event may wait before being
	// delivered to the sink. If the time since the last flush already
	// exceeds the window when an event arrives, the flush happens
	// immediately; otherwise a single flush is scheduled for the remainder
	// of the window. Default: 500ms.
	FlushWindow time.Duration

	// Clock is the time source for the "time since last flush" check.
	// Default: clock.Monotonic.
	Clock clock.Clock
}

// DefaultRelayConfig returns the default relay configuration.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		FlushWindow: 500 * time.Millisecond,
		Clock:       clock.Monotonic{},
	}
}

// Relay coalesces telemetry events produced by concurrent sources into
// batched deliveries to a sink (normally Collector.IngestAll).
//
// Delivery policy: an event arriving more than FlushWindow after the last
// flush is delivered immediately together with anything pending; an event
// arriving inside the window schedules one flush for the remaining portion
// of the window. This bounds both latency (no event waits longer than the
// window) and overhead (at most one delivery per window under load).
type Relay struct {
	cfg  RelayConfig
	sink func([]Event)

	mu        sync.Mutex
	pending   []Event
	lastFlush time.Time
	timer     *time.Timer
	stopped   bool
}

// NewRelay creates a relay delivering batches to sink.
// Zero config values are replaced with defaults.
func NewRelay(cfg RelayConfig, sink func([]Event)) *Relay {
	if cfg.FlushWindow <= 0 {
		cfg.FlushWindow = 500 * time.Millisecond
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Monotonic{}
	}
	return &Relay{
		cfg:  cfg,
		sink: sink,
	}
}

// Ingest queues an event for batched delivery. Safe for concurrent use.
func (r *Relay) Ingest(ev Event) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = r.cfg.Clock.Now()
	}
	r.pending = append(r.pending, ev)

	now := r.cfg.Clock.Now()
	elapsed := now.Sub(r.lastFlush)
	if r.lastFlush.IsZero() || elapsed >= r.cfg.FlushWindow {
		batch := r.takeLocked(now)
		r.mu.Unlock()
		r.deliver(batch)
		return
	}

	// Inside the window: schedule exactly one flush for the remainder.
	if r.timer == nil {
		r.timer = time.AfterFunc(r.cfg.FlushWindow-elapsed, r.FlushNow)
	}
	r.mu.Unlock()
}

// FlushNow delivers all pending events immediately. It is the explicit
// flush path used on cancellation and run teardown.
func (r *Relay) FlushNow() {
	r.mu.Lock()
	batch := r.takeLocked(r.cfg.Clock.Now())
	r.mu.Unlock()
	r.deliver(batch)
}

// Stop flushes pending events one last time and rejects further ingestion.
// Safe to call more than once.
func (r *Relay) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	batch := r.takeLocked(r.cfg.Clock.Now())
	r.mu.Unlock()
	r.deliver(batch)
}

// Pending returns the number of queued, not yet delivered events.
func (r *Relay) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// takeLocked removes and returns the pending batch, records the flush time
// and cancels any scheduled timer. Caller must hold r.mu.
func (r *Relay) takeLocked(now time.Time) []Event {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	batch := r.pending
	r.pending = nil
	r.lastFlush = now
	return batch
}

func (r *Relay) deliver(batch []Event) {
	if len(batch) == 0 || r.sink == nil {
		return
	}
	r.sink(batch)
}
