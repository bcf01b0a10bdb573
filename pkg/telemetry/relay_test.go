package telemetry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/browserbench/pageagent/internal/clock"
)

// batchSink records delivered batches for assertions.
type batchSink struct {
	mu      sync.Mutex
	batches [][]Event
}

func (s *batchSink) deliver(evs []Event) {
	s.mu.Lock()
	s.batches = append(s.batches, evs)
	s.mu.Unlock()
}

func (s *batchSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func (s *batchSink) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func TestRelay_FirstEventFlushesImmediately(t *testing.T) {
	sink := &batchSink{}
	cfg := DefaultRelayConfig()
	cfg.Clock = clock.NewMock(time.Time{})
	r := NewRelay(cfg, sink.deliver)

	r.Ingest(Event{Stream: StreamConsole})

	assert.Equal(t, 1, sink.batchCount(), "no prior flush, event must not wait")
	assert.Equal(t, 0, r.Pending())
}

func TestRelay_EventPastWindowFlushesImmediately(t *testing.T) {
	sink := &batchSink{}
	mc := clock.NewMock(time.Time{})
	cfg := RelayConfig{FlushWindow: 500 * time.Millisecond, Clock: mc}
	r := NewRelay(cfg, sink.deliver)

	r.Ingest(Event{Stream: StreamConsole}) // immediate, sets lastFlush
	mc.Advance(600 * time.Millisecond)
	r.Ingest(Event{Stream: StreamConsole})

	assert.Equal(t, 2, sink.batchCount(), "600ms > 500ms window, second event flushes at once")
}

func TestRelay_EventInsideWindowIsCoalesced(t *testing.T) {
	sink := &batchSink{}
	mc := clock.NewMock(time.Time{})
	cfg := RelayConfig{FlushWindow: time.Hour, Clock: mc} // huge window, timer never fires in-test
	r := NewRelay(cfg, sink.deliver)

	r.Ingest(Event{Stream: StreamConsole}) // immediate
	mc.Advance(time.Minute)
	r.Ingest(Event{Stream: StreamConsole})
	r.Ingest(Event{Stream: StreamConsole})

	assert.Equal(t, 1, sink.batchCount(), "in-window events coalesce behind one scheduled flush")
	assert.Equal(t, 2, r.Pending())

	r.FlushNow()
	assert.Equal(t, 2, sink.batchCount())
	assert.Equal(t, 3, sink.count())
	assert.Equal(t, 0, r.Pending())
}

func TestRelay_ScheduledFlushDeliversWithinWindow(t *testing.T) {
	sink := &batchSink{}
	cfg := RelayConfig{FlushWindow: 30 * time.Millisecond}
	r := NewRelay(cfg, sink.deliver)

	r.Ingest(Event{Stream: StreamConsole}) // immediate
	r.Ingest(Event{Stream: StreamConsole}) // coalesced, timer armed

	require.Eventually(t, func() bool { return sink.count() == 2 },
		time.Second, 5*time.Millisecond,
		"coalesced event must be delivered by the window timer")
}

func TestRelay_StopFlushesAndRejectsFurtherEvents(t *testing.T) {
	sink := &batchSink{}
	mc := clock.NewMock(time.Time{})
	cfg := RelayConfig{FlushWindow: time.Hour, Clock: mc}
	r := NewRelay(cfg, sink.deliver)

	r.Ingest(Event{Stream: StreamConsole})
	r.Ingest(Event{Stream: StreamConsole})
	r.Stop()
	r.Stop() // idempotent
	r.Ingest(Event{Stream: StreamConsole})

	assert.Equal(t, 2, sink.count(), "pending events flush on Stop, later events are rejected")
}

func TestRelay_ConcurrentIngest(t *testing.T) {
	sink := &batchSink{}
	cfg := RelayConfig{FlushWindow: 5 * time.Millisecond}
	r := NewRelay(cfg, sink.deliver)

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				r.Ingest(Event{Stream: StreamNetworkRequest})
			}
		}()
	}
	wg.Wait()
	r.Stop()

	assert.Equal(t, 200, sink.count(), "every ingested event is delivered exactly once")
}
