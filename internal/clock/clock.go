// Package clock provides a monotonic time source abstraction shared by the
// time-dependent parts of the engine (telemetry batching, step timeouts,
// probe gap detection).
package clock

import (
	"sync"
	"time"
)

// Clock is an interface for obtaining monotonic time.
// This abstraction allows for deterministic testing of time-dependent code.
type Clock interface {
	// Now returns the current time. Implementations must return
	// monotonically increasing time values.
	Now() time.Time
}

// Monotonic is a Clock implementation that uses the system's monotonic clock.
// In Go, time.Now() includes monotonic clock readings, making it safe for
// measuring elapsed time without wall-clock adjustments.
type Monotonic struct{}

// Now returns the current system time with monotonic clock reading.
func (Monotonic) Now() time.Time {
	return time.Now()
}

// Mock is a Clock implementation for testing that allows manual control of
// time progression. Safe for concurrent use so background flush loops can
// read it while a test advances it.
type Mock struct {
	mu      sync.Mutex
	current time.Time
}

// NewMock creates a new Mock clock initialized to the given time.
// If t is zero, it initializes to a reasonable default start time.
func NewMock(t time.Time) *Mock {
	if t.IsZero() {
		// Start at a reasonable time to avoid edge cases with zero time
		t = time.Unix(1000000000, 0) // 2001-09-09
	}
	return &Mock{current: t}
}

// Now returns the mock clock's current time.
func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Advance moves the clock forward by the given duration.
// Panics if d is negative to maintain monotonicity.
func (m *Mock) Advance(d time.Duration) {
	if d < 0 {
		panic("clock.Mock.Advance: duration must be non-negative")
	}
	m.mu.Lock()
	m.current = m.current.Add(d)
	m.mu.Unlock()
}

// Set sets the clock to the given time.
// This should only be used for initialization; prefer Advance for tests.
func (m *Mock) Set(t time.Time) {
	m.mu.Lock()
	m.current = t
	m.mu.Unlock()
}
