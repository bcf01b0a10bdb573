package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"

	"github.com/browserbench/pageagent/internal/clock"
	"github.com/browserbench/pageagent/pkg/telemetry"
)

// ErrCrashed is returned once the session is Closed because the browser
// process died or reconnect attempts were exhausted.
var ErrCrashed = errors.New("browser: session crashed")

// Config configures a browser session.
type Config struct {
	// Headless runs the browser without a display. Default: true.
	Headless bool

	// ViewportWidth/ViewportHeight/Scale set the initial viewport.
	// Zero values leave the browser default.
	ViewportWidth  int
	ViewportHeight int
	Scale          float64

	// UserAgent overrides the browser's user agent when non-empty.
	UserAgent string

	// CaptureTrace enables the protocol trace stream for the run.
	CaptureTrace bool

	// ReconnectAttempts bounds reconnects after a lost connection before
	// the session escalates to Crashed. Default: 3.
	ReconnectAttempts int

	// ReconnectBackoff is the initial retry delay, doubled per attempt.
	// Default: 500ms.
	ReconnectBackoff time.Duration

	// WatchdogInterval is how often the process watchdog checks that the
	// browser is still alive. Default: 500ms.
	WatchdogInterval time.Duration

	// Clock stamps telemetry events. Default: clock.Monotonic.
	Clock clock.Clock

	// Logger receives session diagnostics. Default: logrus standard logger.
	Logger logrus.FieldLogger
}

// DefaultConfig returns session defaults suitable for test agents running
// in containers.
func DefaultConfig() Config {
	return Config{
		Headless:          true,
		ReconnectAttempts: 3,
		ReconnectBackoff:  500 * time.Millisecond,
		WatchdogInterval:  500 * time.Millisecond,
		Clock:             clock.Monotonic{},
		Logger:            logrus.StandardLogger(),
	}
}

// Session owns exactly one browser process and one protocol connection.
// All protocol operations funnel through a serialized queue; background
// telemetry (console, network, trace events) is forwarded to the sink
// without blocking the caller.
type Session struct {
	cfg  Config
	log  logrus.FieldLogger
	sink func(telemetry.Event)

	queue *execQueue

	mu         sync.Mutex
	state      State
	browser    *rod.Browser
	page       *rod.Page
	launch     *launcher.Launcher
	controlURL string
	pid        int
	dns        map[string]string
	headers    map[string]string
	crashed    bool

	// resubscribe re-attaches the background telemetry streams to the
	// current page; they die with the protocol connection they were
	// subscribed on.
	resubscribe func()

	watchdogStop chan struct{}
	watchdogOnce sync.Once
	wg           sync.WaitGroup
}

// Launch starts the browser, connects the control protocol, and opens the
// session's page. sink receives background telemetry events and may be nil.
// On success the session is Idle and ready for Navigate.
func Launch(ctx context.Context, cfg Config, sink func(telemetry.Event)) (*Session, error) {
	if cfg.ReconnectAttempts <= 0 {
		cfg.ReconnectAttempts = 3
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = 500 * time.Millisecond
	}
	if cfg.WatchdogInterval <= 0 {
		cfg.WatchdogInterval = 500 * time.Millisecond
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Monotonic{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if sink == nil {
		sink = func(telemetry.Event) {}
	}

	s := &Session{
		cfg:          cfg,
		log:          cfg.Logger.WithField("component", "browser"),
		sink:         sink,
		state:        StateLaunching,
		dns:          make(map[string]string),
		headers:      make(map[string]string),
		watchdogStop: make(chan struct{}),
	}

	l := launcher.New().
		Headless(cfg.Headless).
		Set("no-sandbox").
		Set("disable-gpu").
		Set("disable-background-networking").
		Set("disable-background-timer-throttling")

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launching browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("attaching to browser: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = browser.Close()
		l.Kill()
		return nil, fmt.Errorf("opening page: %w", err)
	}

	s.launch = l
	s.controlURL = controlURL
	s.browser = browser
	s.page = page
	s.pid = l.PID()
	s.queue = newExecQueue(0)
	s.setState(StateAttached)

	if cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: cfg.UserAgent}); err != nil {
			s.log.WithError(err).Warn("user agent override failed")
		}
	}
	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		if err := s.SetViewport(ctx, cfg.ViewportWidth, cfg.ViewportHeight, cfg.Scale); err != nil {
			s.log.WithError(err).Warn("initial viewport failed")
		}
	}

	s.resubscribe = func() {
		s.startEventForwarding()
		if cfg.CaptureTrace {
			s.startTracing()
		}
	}
	s.resubscribe()
	s.wg.Add(1)
	go s.watchdog()

	s.setState(StateIdle)
	s.log.WithField("pid", s.pid).Info("browser session attached")
	return s, nil
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Crashed reports whether the session terminated abnormally (process death
// or reconnect exhaustion).
func (s *Session) Crashed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.crashed
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	if s.state != StateClosed {
		s.state = st
	}
	s.mu.Unlock()
}

// markCrashed force-transitions to Closed and records the crash. The queue
// is closed so blocked callers fail fast instead of waiting for protocol
// timeouts.
func (s *Session) markCrashed(reason string) {
	s.mu.Lock()
	alreadyClosed := s.state == StateClosed
	s.state = StateClosed
	s.crashed = true
	s.mu.Unlock()

	if !alreadyClosed {
		s.log.WithField("reason", reason).Error("browser session crashed")
		s.queue.close()
	}
}

// watchdog polls the browser process. An unexpected exit marks the session
// Closed immediately rather than waiting for a protocol-level timeout.
func (s *Session) watchdog() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.watchdogStop:
			return
		case <-ticker.C:
			if !processAlive(s.pid) {
				s.markCrashed("browser process exited")
				return
			}
		}
	}
}

// processAlive checks liveness with a null signal.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// reconnect attempts to re-establish the protocol connection after a loss,
// with bounded retries and doubling backoff. Exhaustion escalates to a
// crashed session; there is no silent downgrade.
func (s *Session) reconnect(ctx context.Context) error {
	s.setState(StateDetached)
	s.log.Warn("protocol connection lost, reconnecting")

	backoff := s.cfg.ReconnectBackoff
	for attempt := 1; attempt <= s.cfg.ReconnectAttempts; attempt++ {
		select {
		case <-ctx.Done():
			s.markCrashed("reconnect cancelled")
			return fmt.Errorf("%w: %v", ErrCrashed, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2

		browser := rod.New().ControlURL(s.controlURL)
		if err := browser.Connect(); err != nil {
			s.log.WithError(err).WithField("attempt", attempt).Warn("reconnect attempt failed")
			continue
		}
		pages, err := browser.Pages()
		if err != nil || len(pages) == 0 {
			_ = browser.Close()
			s.log.WithField("attempt", attempt).Warn("reconnected but no pages")
			continue
		}

		s.restore(browser, pages[0])
		s.log.WithField("attempt", attempt).Info("protocol connection restored")
		return nil
	}

	s.markCrashed("reconnect attempts exhausted")
	return ErrCrashed
}

// restore swaps in the reconnected browser and page and re-subscribes the
// background telemetry streams; the old subscriptions are bound to the dead
// connection and would silently stop forwarding.
func (s *Session) restore(browser *rod.Browser, page *rod.Page) {
	s.mu.Lock()
	s.browser = browser
	s.page = page
	resubscribe := s.resubscribe
	s.mu.Unlock()

	if resubscribe != nil {
		resubscribe()
	}
	s.setState(StateIdle)
}

// connectionLost reports whether an operation error means the protocol
// connection itself is gone (as opposed to a page-level failure).
func (s *Session) connectionLost() bool {
	_, err := proto.BrowserGetVersion{}.Call(s.currentBrowser())
	return err != nil
}

func (s *Session) currentBrowser() *rod.Browser {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.browser
}

func (s *Session) currentPage() *rod.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page
}

// Close detaches from the browser and kills the process. A normal close
// lands in Detached first, then Closed once the process is gone. Safe to
// call on a crashed session.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed && s.browser == nil {
		s.mu.Unlock()
		return nil
	}
	browser := s.browser
	l := s.launch
	s.browser = nil
	if s.state != StateClosed {
		s.state = StateDetached
	}
	s.mu.Unlock()

	s.watchdogOnce.Do(func() { close(s.watchdogStop) })
	s.queue.close()

	var err error
	if browser != nil {
		err = browser.Close()
	}
	if l != nil {
		l.Kill()
		l.Cleanup()
	}
	s.wg.Wait()

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	s.log.Info("browser session closed")
	return err
}
