package telemetry

import (
	"sort"
	"sync"
	"time"
)

// Interval is a half-open [Start, End) span of time on the run's monotonic
// timeline.
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns the interval length.
func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// InteractivityConfig configures the long-task probe accumulator.
type InteractivityConfig struct {
	// LongTaskThreshold is the minimum frame-callback gap recorded as a
	// long task. Default: 50ms, matching the long-task definition used by
	// the in-page probe.
	LongTaskThreshold time.Duration
}

// DefaultInteractivityConfig returns the default accumulator configuration.
func DefaultInteractivityConfig() InteractivityConfig {
	return InteractivityConfig{
		LongTaskThreshold: 50 * time.Millisecond,
	}
}

// Interactivity accumulates long-task intervals observed during a run and
// derives interactive periods on demand by inverting them against the
// elapsed timeline.
//
// The probe model: a recurring frame callback reports its invocation time;
// any gap between consecutive callbacks exceeding the threshold means the
// main thread was busy for that whole gap and is recorded as a long task.
// Interactive periods are consumed only at explicit query points (between
// runs or at measurement end) to keep memory bounded; each query drains and
// resets the accumulated list.
//
// The accumulator is a plain mutex-guarded structure queried synchronously,
// never streamed.
type Interactivity struct {
	cfg InteractivityConfig

	mu        sync.Mutex
	began     time.Time
	last      time.Time
	longTasks []Interval
}

// NewInteractivity creates an accumulator with the given configuration.
// Zero values are replaced with defaults.
func NewInteractivity(cfg InteractivityConfig) *Interactivity {
	if cfg.LongTaskThreshold <= 0 {
		cfg.LongTaskThreshold = 50 * time.Millisecond
	}
	return &Interactivity{cfg: cfg}
}

// OnFrameCallback records one probe callback at time now. The first callback
// marks the start of observation; later callbacks whose gap from the
// previous one exceeds the threshold record a long-task interval spanning
// the gap.
func (ia *Interactivity) OnFrameCallback(now time.Time) {
	ia.mu.Lock()
	defer ia.mu.Unlock()

	if ia.began.IsZero() {
		ia.began = now
		ia.last = now
		return
	}
	if gap := now.Sub(ia.last); gap > ia.cfg.LongTaskThreshold {
		ia.longTasks = append(ia.longTasks, Interval{Start: ia.last, End: now})
	}
	ia.last = now
}

// AddLongTask records a long-task interval reported out-of-band (e.g. a
// PerformanceObserver entry fetched from the page). Intervals outside the
// observation window are clamped at query time.
func (ia *Interactivity) AddLongTask(start, end time.Time) {
	if !end.After(start) {
		return
	}
	ia.mu.Lock()
	// Extend the observation start so inversion still partitions the full
	// observed span.
	if ia.began.IsZero() || start.Before(ia.began) {
		ia.began = start
	}
	ia.longTasks = append(ia.longTasks, Interval{Start: start, End: end})
	ia.mu.Unlock()
}

// Drain returns the long-task intervals and the derived interactive periods
// covering [observation start, now], then resets the accumulator so the next
// observation window starts at now.
//
// The two returned lists partition the elapsed timeline: they are disjoint,
// sorted, and their union covers the window with no gaps.
func (ia *Interactivity) Drain(now time.Time) (longTasks, interactive []Interval) {
	ia.mu.Lock()
	defer ia.mu.Unlock()

	began := ia.began
	tasks := mergeIntervals(ia.longTasks, began, now)

	ia.longTasks = nil
	ia.began = now
	ia.last = now

	if began.IsZero() || !now.After(began) {
		return nil, nil
	}

	// Invert: everything between/around the long tasks is interactive.
	cursor := began
	for _, t := range tasks {
		if t.Start.After(cursor) {
			interactive = append(interactive, Interval{Start: cursor, End: t.Start})
		}
		cursor = t.End
	}
	if now.After(cursor) {
		interactive = append(interactive, Interval{Start: cursor, End: now})
	}
	return tasks, interactive
}

// mergeIntervals sorts, clamps to [began, now] and merges overlapping or
// touching intervals.
func mergeIntervals(in []Interval, began, now time.Time) []Interval {
	if len(in) == 0 {
		return nil
	}
	ivs := make([]Interval, 0, len(in))
	for _, iv := range in {
		if !began.IsZero() && iv.Start.Before(began) {
			iv.Start = began
		}
		if !now.IsZero() && iv.End.After(now) {
			iv.End = now
		}
		if iv.End.After(iv.Start) {
			ivs = append(ivs, iv)
		}
	}
	sort.Slice(ivs, func(i, j int) bool { return ivs[i].Start.Before(ivs[j].Start) })

	merged := ivs[:0]
	for _, iv := range ivs {
		if n := len(merged); n > 0 && !iv.Start.After(merged[n-1].End) {
			if iv.End.After(merged[n-1].End) {
				merged[n-1].End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}
