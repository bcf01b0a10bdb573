package browser

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/go-rod/rod/lib/proto"

	"github.com/browserbench/pageagent/pkg/telemetry"
)

// do runs a protocol operation through the serialized queue. On a
// connection-level failure it attempts the bounded reconnect and retries the
// operation once on the restored connection.
func (s *Session) do(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	if st := s.State(); !st.live() {
		if s.Crashed() {
			return nil, ErrCrashed
		}
		return nil, fmt.Errorf("browser: session is %s", st)
	}

	value, err := s.queue.do(ctx, fn)
	if err == nil || ctx.Err() != nil {
		return value, err
	}

	// A page-level error on a healthy connection is the caller's problem;
	// a dead connection gets one bounded reconnect cycle.
	if !s.connectionLost() {
		return value, err
	}
	if rerr := s.reconnect(ctx); rerr != nil {
		return nil, rerr
	}
	return s.queue.do(ctx, fn)
}

// Navigate loads url in the session's page and waits for the load event.
// The session oscillates Navigating → Idle around the call. DNS overrides
// recorded via SetDNSOverride are applied by rewriting the target host and
// pinning the original as the Host header, mirroring resolver rules.
func (s *Session) Navigate(ctx context.Context, rawURL string) error {
	target, hostHeader, err := s.applyDNSOverride(rawURL)
	if err != nil {
		return err
	}

	s.setState(StateNavigating)
	defer func() {
		if s.State() == StateNavigating {
			s.setState(StateIdle)
		}
	}()

	if hostHeader != "" {
		if err := s.SetHeader(ctx, "Host: "+hostHeader); err != nil {
			return err
		}
	}

	_, err = s.do(ctx, func(ctx context.Context) (any, error) {
		page := s.currentPage().Context(ctx)
		if err := page.Navigate(target); err != nil {
			return nil, fmt.Errorf("navigate %s: %w", target, err)
		}
		if err := page.WaitLoad(); err != nil {
			return nil, fmt.Errorf("waiting for load of %s: %w", target, err)
		}
		return nil, nil
	})
	return err
}

// Execute evaluates js in the page and returns the resulting value.
// Calls are serialized against every other protocol operation.
func (s *Session) Execute(ctx context.Context, js string) (any, error) {
	return s.do(ctx, func(ctx context.Context) (any, error) {
		res, err := s.currentPage().Context(ctx).Eval(js)
		if err != nil {
			return nil, fmt.Errorf("execute: %w", err)
		}
		return res.Value, nil
	})
}

// Click resolves selector and clicks it, blocking until the click is
// dispatched or the context expires.
func (s *Session) Click(ctx context.Context, selector string) error {
	_, err := s.do(ctx, func(ctx context.Context) (any, error) {
		el, err := s.currentPage().Context(ctx).Element(selector)
		if err != nil {
			return nil, fmt.Errorf("click %q: %w", selector, err)
		}
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return nil, fmt.Errorf("click %q: %w", selector, err)
		}
		return nil, nil
	})
	return err
}

// SetHeader adds one extra request header from a "Name: value" line.
// Headers accumulate across calls: the protocol replaces the whole
// extra-header set on every update, so the session re-sends everything
// recorded so far.
func (s *Session) SetHeader(ctx context.Context, header string) error {
	name, value, ok := strings.Cut(header, ":")
	if !ok {
		return fmt.Errorf("malformed header %q", header)
	}
	s.mu.Lock()
	s.headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	flat := flattenHeaders(s.headers)
	s.mu.Unlock()

	_, err := s.do(ctx, func(ctx context.Context) (any, error) {
		_, err := s.currentPage().Context(ctx).SetExtraHeaders(flat)
		return nil, err
	})
	return err
}

// flattenHeaders returns the accumulated header set as the alternating
// name/value pairs the protocol call takes, in deterministic name order.
func flattenHeaders(headers map[string]string) []string {
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	flat := make([]string, 0, 2*len(names))
	for _, name := range names {
		flat = append(flat, name, headers[name])
	}
	return flat
}

// SetCookie sets one cookie ("name=value") scoped to the given URL before
// navigation.
func (s *Session) SetCookie(ctx context.Context, rawURL, cookie string) error {
	name, value, ok := strings.Cut(cookie, "=")
	if !ok {
		return fmt.Errorf("malformed cookie %q", cookie)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("cookie url: %w", err)
	}
	_, err = s.do(ctx, func(ctx context.Context) (any, error) {
		return nil, s.currentPage().SetCookies([]*proto.NetworkCookieParam{{
			Name:   strings.TrimSpace(name),
			Value:  strings.TrimSpace(value),
			Domain: u.Hostname(),
			Path:   "/",
		}})
	})
	return err
}

// SetDNSOverride maps host to addr for subsequent navigations.
func (s *Session) SetDNSOverride(ctx context.Context, host, addr string) error {
	if host == "" || addr == "" {
		return fmt.Errorf("dns override needs host and address")
	}
	s.mu.Lock()
	s.dns[host] = addr
	s.mu.Unlock()
	return nil
}

// applyDNSOverride rewrites the URL host when an override exists, returning
// the rewritten URL and the original host for the Host header.
func (s *Session) applyDNSOverride(rawURL string) (target, hostHeader string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("navigate url: %w", err)
	}
	s.mu.Lock()
	addr, ok := s.dns[u.Hostname()]
	s.mu.Unlock()
	if !ok {
		return rawURL, "", nil
	}
	hostHeader = u.Host
	if port := u.Port(); port != "" {
		u.Host = addr + ":" + port
	} else {
		u.Host = addr
	}
	return u.String(), hostHeader, nil
}

// SetViewport overrides the device metrics. A zero scale keeps 1x.
func (s *Session) SetViewport(ctx context.Context, width, height int, scale float64) error {
	if scale <= 0 {
		scale = 1
	}
	_, err := s.do(ctx, func(ctx context.Context) (any, error) {
		return nil, s.currentPage().SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             width,
			Height:            height,
			DeviceScaleFactor: scale,
		})
	})
	return err
}

// BlockPatterns installs URL block patterns for the session. Passing an
// empty list clears blocking.
func (s *Session) BlockPatterns(ctx context.Context, patterns []string) error {
	_, err := s.do(ctx, func(ctx context.Context) (any, error) {
		return nil, proto.NetworkSetBlockedURLs{Urls: patterns}.Call(s.currentPage().Context(ctx))
	})
	return err
}

// EmulateNetwork applies protocol-level network conditioning. Rates are in
// kbps to match the profile model; the protocol takes bytes per second.
func (s *Session) EmulateNetwork(ctx context.Context, rttMs, downKbps, upKbps int) error {
	_, err := s.do(ctx, func(ctx context.Context) (any, error) {
		return nil, proto.NetworkEmulateNetworkConditions{
			Offline:            false,
			Latency:            float64(rttMs),
			DownloadThroughput: float64(downKbps) * 1000 / 8,
			UploadThroughput:   float64(upKbps) * 1000 / 8,
		}.Call(s.currentPage().Context(ctx))
	})
	return err
}

// ClearNetworkEmulation removes protocol-level conditioning.
func (s *Session) ClearNetworkEmulation(ctx context.Context) error {
	if !s.State().live() {
		// Browser already gone; nothing is shaped any more.
		return nil
	}
	_, err := s.do(ctx, func(ctx context.Context) (any, error) {
		return nil, proto.NetworkEmulateNetworkConditions{
			Offline:            false,
			Latency:            0,
			DownloadThroughput: -1,
			UploadThroughput:   -1,
		}.Call(s.currentPage().Context(ctx))
	})
	return err
}

// CaptureFrame grabs one viewport screenshot, used by the fixed-interval
// video sampler. It bypasses the execute queue so a long-running step
// cannot starve the video stream; screenshots ride their own protocol
// method and do not race JS evaluation.
func (s *Session) CaptureFrame(ctx context.Context) ([]byte, error) {
	if !s.State().live() {
		return nil, ErrCrashed
	}
	return s.currentPage().Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format:  proto.PageCaptureScreenshotFormatJpeg,
		Quality: jpegQuality(),
	})
}

func jpegQuality() *int {
	q := 30
	return &q
}

// startEventForwarding subscribes to console and network events and
// forwards them to the telemetry sink. The goroutine exits when the page
// context is closed.
func (s *Session) startEventForwarding() {
	page := s.currentPage()
	go page.EachEvent(
		func(e *proto.RuntimeConsoleAPICalled) {
			payload := map[string]any{"type": string(e.Type)}
			if len(e.Args) > 0 {
				payload["text"] = e.Args[0].Value.String()
			}
			s.sink(telemetry.Event{
				Stream:    telemetry.StreamConsole,
				Timestamp: s.cfg.Clock.Now(),
				Payload:   payload,
			})
		},
		func(e *proto.NetworkResponseReceived) {
			s.sink(telemetry.Event{
				Stream:    telemetry.StreamNetworkRequest,
				Timestamp: s.cfg.Clock.Now(),
				Payload: map[string]any{
					"url":    e.Response.URL,
					"status": e.Response.Status,
					"mime":   e.Response.MIMEType,
				},
			})
		},
	)()
}

// startTracing enables the protocol trace stream and forwards collected
// segments. Best-effort: a browser that rejects tracing simply produces an
// empty stream.
func (s *Session) startTracing() {
	browser := s.currentBrowser()
	go browser.EachEvent(func(e *proto.TracingDataCollected) {
		s.sink(telemetry.Event{
			Stream:    telemetry.StreamTraceSegment,
			Timestamp: s.cfg.Clock.Now(),
			Payload:   map[string]any{"segments": len(e.Value)},
		})
	})()
	if err := (proto.TracingStart{}).Call(browser); err != nil {
		s.log.WithError(err).Warn("trace capture unavailable")
	}
}
