package telemetry

import (
	"sync"
	"time"

	"github.com/browserbench/pageagent/internal/clock"
)

// CollectorConfig configures the event collector.
type CollectorConfig struct {
	// MaxBufferedPerStream caps the number of buffered events for the
	// memory-bounded streams (video-frame and trace-segment). Events
	// arriving past the cap are counted as drops, never silently lost.
	// Default: 4096.
	MaxBufferedPerStream int

	// Clock is the time source used for the navigation epoch.
	// Default: clock.Monotonic.
	Clock clock.Clock
}

// DefaultCollectorConfig returns the default collector configuration.
func DefaultCollectorConfig() CollectorConfig {
	return CollectorConfig{
		MaxBufferedPerStream: 4096,
		Clock:                clock.Monotonic{},
	}
}

// boundedStreams are the streams that may grow without limit during a stuck
// test (a frame sampler and trace reader keep producing even when the page
// makes no progress) and therefore carry a buffer cap.
var boundedStreams = map[Stream]bool{
	StreamVideoFrame:   true,
	StreamTraceSegment: true,
}

// Collector is a single-writer-per-stream, multi-stream append log for
// telemetry events. Producers call Ingest concurrently; the single reader
// calls Drain between runs. Draining mid-run is not supported: the returned
// log is the complete, ordered record for one run.
type Collector struct {
	cfg CollectorConfig

	mu     sync.Mutex
	events []Event
	counts map[Stream]int
	drops  map[Stream]int
	epoch  time.Time
}

// NewCollector creates a collector with the given configuration.
// Zero values are replaced with defaults.
func NewCollector(cfg CollectorConfig) *Collector {
	if cfg.MaxBufferedPerStream <= 0 {
		cfg.MaxBufferedPerStream = 4096
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Monotonic{}
	}
	return &Collector{
		cfg:    cfg,
		counts: make(map[Stream]int),
		drops:  make(map[Stream]int),
	}
}

// Ingest appends an event to the log. For bounded streams, events past the
// per-stream cap increment the stream's drop count instead of growing the
// buffer. A zero timestamp is stamped with the collector clock.
func (c *Collector) Ingest(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ev.Timestamp.IsZero() {
		ev.Timestamp = c.cfg.Clock.Now()
	}
	if boundedStreams[ev.Stream] && c.counts[ev.Stream] >= c.cfg.MaxBufferedPerStream {
		c.drops[ev.Stream]++
		return
	}
	c.events = append(c.events, ev)
	c.counts[ev.Stream]++
}

// IngestAll appends a batch of events, preserving batch order.
// This is the sink used by the flush relay.
func (c *Collector) IngestAll(evs []Event) {
	for _, ev := range evs {
		c.Ingest(ev)
	}
}

// MarkNavigationStart records the navigation epoch for the current run.
// Relative timestamps in the drained log are computed against it.
func (c *Collector) MarkNavigationStart(t time.Time) {
	c.mu.Lock()
	c.epoch = t
	c.mu.Unlock()
}

// NavigationStart returns the recorded navigation epoch, or zero if no
// navigate step has run yet.
func (c *Collector) NavigationStart() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// DropCounts is the number of events dropped per stream due to buffer caps.
type DropCounts map[Stream]int

// Drain returns the ordered event log and per-stream drop counts for the
// finished run, and resets the collector so the next run starts empty.
// The navigation epoch is also cleared.
func (c *Collector) Drain() ([]Event, DropCounts) {
	c.mu.Lock()
	defer c.mu.Unlock()

	events := c.events
	drops := DropCounts{}
	for s, n := range c.drops {
		if n > 0 {
			drops[s] = n
		}
	}

	c.events = nil
	c.counts = make(map[Stream]int)
	c.drops = make(map[Stream]int)
	c.epoch = time.Time{}

	return events, drops
}

// Len returns the number of currently buffered events.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}
