package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVideoSampler_EmitsFramesAtInterval(t *testing.T) {
	var mu sync.Mutex
	var events []Event
	sink := func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}
	capture := func(ctx context.Context) ([]byte, error) {
		return []byte{0x89, 0x50, 0x4e, 0x47}, nil
	}

	cfg := SamplerConfig{Interval: 10 * time.Millisecond}
	vs := NewVideoSampler(cfg, capture, sink)
	vs.Start(context.Background())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) >= 3
	}, time.Second, 5*time.Millisecond)
	vs.Stop()

	mu.Lock()
	defer mu.Unlock()
	for i, ev := range events {
		assert.Equal(t, StreamVideoFrame, ev.Stream)
		payload, ok := ev.Payload.(VideoFramePayload)
		require.True(t, ok)
		assert.Equal(t, i+1, payload.Seq, "frame sequence must be contiguous")
		assert.Equal(t, 4, payload.Bytes)
	}
}

func TestVideoSampler_CaptureErrorsAreSkipped(t *testing.T) {
	var mu sync.Mutex
	count := 0
	sink := func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	}
	capture := func(ctx context.Context) ([]byte, error) {
		return nil, errors.New("page is navigating")
	}

	vs := NewVideoSampler(SamplerConfig{Interval: 5 * time.Millisecond}, capture, sink)
	vs.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	vs.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, count, "failed captures must not produce events")
}

func TestVideoSampler_StopWithoutStart(t *testing.T) {
	vs := NewVideoSampler(DefaultSamplerConfig(), nil, nil)
	vs.Stop() // must not panic
	vs.Stop()
}
