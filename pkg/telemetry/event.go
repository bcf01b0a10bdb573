// Package telemetry implements the collection pipeline for observation
// events produced during a test run: a multi-stream append log with bounded
// buffers, a coalescing flush relay for batched delivery, and the long-task
// accumulator used to derive interactive periods.
package telemetry

import "time"

// Stream identifies one named category of timestamped observation events.
type Stream string

// Streams collected during a run. Events within a single stream are ordered
// by arrival; cross-stream ordering is only meaningful via Event.Timestamp.
const (
	StreamNavTiming      Stream = "nav-timing"
	StreamPaintTiming    Stream = "paint-timing"
	StreamLongTask       Stream = "long-task"
	StreamConsole        Stream = "console"
	StreamNetworkRequest Stream = "network-request"
	StreamVideoFrame     Stream = "video-frame"
	StreamTraceSegment   Stream = "trace-segment"
)

// Event is a single observation recorded during a run. Events are append-only
// and never mutated after ingestion.
type Event struct {
	// Stream is the source stream the event belongs to.
	Stream Stream `json:"stream"`

	// Timestamp is the monotonic time the event was observed. Relative
	// offsets in results are computed against the run's navigation epoch.
	Timestamp time.Time `json:"timestamp"`

	// Payload is the stream-specific body. It must be JSON-marshalable so
	// the run log can be embedded in the result document.
	Payload any `json:"payload,omitempty"`
}
