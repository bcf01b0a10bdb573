package telemetry

import (
	"context"
	"time"

	"github.com/browserbench/pageagent/internal/clock"
)

// FrameCapture grabs one video frame from the page and returns its encoded
// bytes. Implementations are expected to be safe to call from the sampler
// goroutine while the interpreter runs steps.
type FrameCapture func(ctx context.Context) ([]byte, error)

// VideoFramePayload is the payload of StreamVideoFrame events. Frames are
// recorded by size only; the raw bytes stay with the capture backend so a
// stuck run cannot hold every frame in memory.
type VideoFramePayload struct {
	Seq   int `json:"seq"`
	Bytes int `json:"bytes"`
}

// SamplerConfig configures the fixed-interval video frame sampler.
type SamplerConfig struct {
	// Interval between frame captures. Default: 100ms (10fps), the capture
	// rate the visual-progress metrics are calibrated for.
	Interval time.Duration

	// Clock is the time source used to stamp frame events.
	// Default: clock.Monotonic.
	Clock clock.Clock
}

// DefaultSamplerConfig returns the default sampler configuration.
func DefaultSamplerConfig() SamplerConfig {
	return SamplerConfig{
		Interval: 100 * time.Millisecond,
		Clock:    clock.Monotonic{},
	}
}

// VideoSampler captures frames on a fixed-interval timer for the duration of
// a run and emits StreamVideoFrame events into a sink. Capture errors are
// skipped: a frame that cannot be grabbed (page mid-navigation, session
// closing) is simply absent from the stream.
type VideoSampler struct {
	cfg     SamplerConfig
	capture FrameCapture
	sink    func(Event)

	cancel context.CancelFunc
	done   chan struct{}
}

// NewVideoSampler creates a sampler feeding sink. Zero config values are
// replaced with defaults.
func NewVideoSampler(cfg SamplerConfig, capture FrameCapture, sink func(Event)) *VideoSampler {
	if cfg.Interval <= 0 {
		cfg.Interval = 100 * time.Millisecond
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Monotonic{}
	}
	return &VideoSampler{
		cfg:     cfg,
		capture: capture,
		sink:    sink,
	}
}

// Start launches the sampling goroutine. It runs until Stop is called or the
// parent context is cancelled.
func (vs *VideoSampler) Start(ctx context.Context) {
	ctx, vs.cancel = context.WithCancel(ctx)
	vs.done = make(chan struct{})

	go func() {
		defer close(vs.done)

		ticker := time.NewTicker(vs.cfg.Interval)
		defer ticker.Stop()

		seq := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				frame, err := vs.capture(ctx)
				if err != nil {
					continue
				}
				seq++
				vs.sink(Event{
					Stream:    StreamVideoFrame,
					Timestamp: vs.cfg.Clock.Now(),
					Payload:   VideoFramePayload{Seq: seq, Bytes: len(frame)},
				})
			}
		}
	}()
}

// Stop terminates the sampling goroutine and waits for it to exit.
// Safe to call without a prior Start, and more than once.
func (vs *VideoSampler) Stop() {
	if vs.cancel == nil {
		return
	}
	vs.cancel()
	<-vs.done
	vs.cancel = nil
}
