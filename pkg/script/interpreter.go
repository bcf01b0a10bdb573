package script

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/browserbench/pageagent/internal/clock"
)

// Browser is the session surface the interpreter drives. It is implemented
// by *browser.Session; the interpreter only depends on this narrow contract
// so any protocol backend can be plugged in behind it.
type Browser interface {
	Navigate(ctx context.Context, url string) error
	Execute(ctx context.Context, js string) (any, error)
	Click(ctx context.Context, selector string) error
	SetHeader(ctx context.Context, header string) error
	SetCookie(ctx context.Context, url, cookie string) error
	SetDNSOverride(ctx context.Context, host, addr string) error
	SetViewport(ctx context.Context, width, height int, scale float64) error
	BlockPatterns(ctx context.Context, patterns []string) error
}

// EpochMarker receives the navigation epoch so telemetry timestamps can be
// made relative to navigation start. Implemented by *telemetry.Collector.
type EpochMarker interface {
	MarkNavigationStart(time.Time)
}

// InterpreterConfig configures step execution.
type InterpreterConfig struct {
	// StepTimeout is the engine default for non-navigation steps until a
	// settimeout step overrides it. Default: 30s.
	StepTimeout time.Duration

	// NavigateTimeout is the engine default for navigate steps until a
	// settimeout step overrides it. Default: 120s.
	NavigateTimeout time.Duration

	// MaxSleep caps the sleep step duration. Default: 60s, matching the
	// original agent's clamp.
	MaxSleep time.Duration

	// Clock is the time source for step durations. Default: clock.Monotonic.
	Clock clock.Clock

	// Logger receives per-step diagnostics. Default: logrus standard logger.
	Logger logrus.FieldLogger
}

// DefaultInterpreterConfig returns the default interpreter configuration.
func DefaultInterpreterConfig() InterpreterConfig {
	return InterpreterConfig{
		StepTimeout:     30 * time.Second,
		NavigateTimeout: 120 * time.Second,
		MaxSleep:        60 * time.Second,
		Clock:           clock.Monotonic{},
		Logger:          logrus.StandardLogger(),
	}
}

// Interpreter executes an ordered step list against a browser session.
// A step only begins after the previous step reached a terminal outcome;
// background telemetry producers never block it.
type Interpreter struct {
	cfg     InterpreterConfig
	browser Browser
	epochs  EpochMarker

	// Mutable timeout state set by settimeout/setactivitytimeout steps.
	stepTimeout     time.Duration
	activityTimeout time.Duration
}

// NewInterpreter creates an interpreter bound to a browser session. epochs
// may be nil when no telemetry collector participates (unit tests).
// Zero config values are replaced with defaults.
func NewInterpreter(cfg InterpreterConfig, b Browser, epochs EpochMarker) *Interpreter {
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 30 * time.Second
	}
	if cfg.NavigateTimeout <= 0 {
		cfg.NavigateTimeout = 120 * time.Second
	}
	if cfg.MaxSleep <= 0 {
		cfg.MaxSleep = 60 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Monotonic{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &Interpreter{
		cfg:     cfg,
		browser: b,
		epochs:  epochs,
	}
}

// errUnknownCommand marks the diagnostic recorded for unrecognized steps.
var errUnknownCommand = errors.New("unknown script command")

// Execute runs the steps strictly in order under the overall budget carried
// by ctx. The returned Result's status is StatusCompleted only when every
// step reached success or soft-fail; the first hard failure aborts the
// remainder and records the failing step index.
func (in *Interpreter) Execute(ctx context.Context, steps []Step) Result {
	res := Result{
		FailingStep: -1,
		Started:     in.cfg.Clock.Now(),
	}
	in.stepTimeout = 0
	in.activityTimeout = 0

	for i, step := range steps {
		if ctx.Err() != nil {
			// Overall budget expired between steps.
			res.Status = StatusTimedOut
			res.FailingStep = i
			break
		}

		sr := in.runStep(ctx, i, step)
		res.Steps = append(res.Steps, sr)

		switch sr.Outcome {
		case OutcomeSuccess, OutcomeSoftFail:
			continue
		case OutcomeTimedOut:
			if ctx.Err() != nil {
				res.Status = StatusTimedOut
			} else {
				res.Status = StatusAborted
			}
			res.FailingStep = i
		case OutcomeHardFail:
			res.Status = StatusAborted
			res.FailingStep = i
		}
		break
	}

	res.Ended = in.cfg.Clock.Now()
	return res
}

// runStep executes one step with its effective timeout and classifies the
// outcome.
func (in *Interpreter) runStep(ctx context.Context, index int, step Step) StepResult {
	log := in.cfg.Logger.WithFields(logrus.Fields{
		"step":    index,
		"command": step.Command,
	})

	start := in.cfg.Clock.Now()
	sr := StepResult{
		Index:   index,
		Command: step.Command,
		Target:  step.Target,
	}

	stepCtx, cancel := context.WithTimeout(ctx, in.effectiveTimeout(step.Kind))
	err := in.dispatch(stepCtx, step)
	cancel()

	sr.Duration = in.cfg.Clock.Now().Sub(start)

	switch {
	case err == nil:
		sr.Outcome = OutcomeSuccess
	case errors.Is(err, context.DeadlineExceeded) && !step.Kind.bestEffort():
		sr.Outcome = OutcomeTimedOut
		sr.Error = fmt.Sprintf("step exceeded timeout: %v", err)
		log.WithError(err).Warn("step timed out")
	case step.Kind.bestEffort():
		sr.Outcome = OutcomeSoftFail
		sr.Error = err.Error()
		log.WithError(err).Debug("best-effort step failed, continuing")
	default:
		sr.Outcome = OutcomeHardFail
		sr.Error = err.Error()
		log.WithError(err).Warn("step hard-failed, aborting run")
	}
	return sr
}

// effectiveTimeout returns the per-step timeout: the explicit override from
// a preceding settimeout/setactivitytimeout step when set, otherwise the
// engine default for the step kind.
func (in *Interpreter) effectiveTimeout(kind Kind) time.Duration {
	if in.stepTimeout > 0 {
		return in.stepTimeout
	}
	if in.activityTimeout > 0 && kind == KindNavigate {
		return in.activityTimeout
	}
	if kind == KindNavigate {
		return in.cfg.NavigateTimeout
	}
	return in.cfg.StepTimeout
}

func (in *Interpreter) dispatch(ctx context.Context, step Step) error {
	switch step.Kind {
	case KindNavigate:
		if in.epochs != nil {
			in.epochs.MarkNavigationStart(in.cfg.Clock.Now())
		}
		return in.browser.Navigate(ctx, step.Target)

	case KindExec:
		_, err := in.browser.Execute(ctx, step.Target)
		return err

	case KindClick:
		return in.browser.Click(ctx, step.Target)

	case KindSleep:
		return in.sleep(ctx, step.Target)

	case KindBlock:
		return in.browser.BlockPatterns(ctx, strings.Fields(step.Target))

	case KindSetHeader:
		return in.browser.SetHeader(ctx, step.Target)

	case KindSetCookie:
		return in.browser.SetCookie(ctx, step.Target, step.Value)

	case KindSetDNS:
		return in.browser.SetDNSOverride(ctx, step.Target, step.Value)

	case KindSetViewport:
		return in.setViewport(ctx, step)

	case KindSetTimeout:
		d, err := parseSeconds(step.Target)
		if err != nil {
			return fmt.Errorf("settimeout: %w", err)
		}
		in.stepTimeout = d
		return nil

	case KindSetActivityTimeout:
		d, err := parseMilliseconds(step.Target)
		if err != nil {
			return fmt.Errorf("setactivitytimeout: %w", err)
		}
		in.activityTimeout = d
		return nil

	case KindLogData:
		// Recording toggle is handled by the orchestrator's telemetry
		// wiring; the step itself is a best-effort no-op here.
		return nil

	default:
		return fmt.Errorf("%w: %q", errUnknownCommand, step.Command)
	}
}

// sleep waits for the requested duration (clamped to MaxSleep) or until the
// step context is cancelled. The original agent's sleep takes seconds.
func (in *Interpreter) sleep(ctx context.Context, target string) error {
	d, err := parseSeconds(target)
	if err != nil {
		return fmt.Errorf("sleep: %w", err)
	}
	if d > in.cfg.MaxSleep {
		d = in.cfg.MaxSleep
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (in *Interpreter) setViewport(ctx context.Context, step Step) error {
	width, err := strconv.Atoi(step.Target)
	if err != nil {
		return fmt.Errorf("setviewport width: %w", err)
	}
	fields := strings.Fields(step.Value)
	if len(fields) == 0 {
		return errors.New("setviewport: missing height")
	}
	height, err := strconv.Atoi(fields[0])
	if err != nil {
		return fmt.Errorf("setviewport height: %w", err)
	}
	scale := 1.0
	if len(fields) > 1 {
		if scale, err = strconv.ParseFloat(fields[1], 64); err != nil {
			return fmt.Errorf("setviewport scale: %w", err)
		}
	}
	return in.browser.SetViewport(ctx, width, height, scale)
}

// parseSeconds parses a whole or fractional number of seconds.
func parseSeconds(s string) (time.Duration, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid seconds value %q", s)
	}
	return time.Duration(v * float64(time.Second)), nil
}

// parseMilliseconds parses a whole number of milliseconds.
func parseMilliseconds(s string) (time.Duration, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid milliseconds value %q", s)
	}
	return time.Duration(v) * time.Millisecond, nil
}
