package agent

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/browserbench/pageagent/internal/clock"
	"github.com/browserbench/pageagent/pkg/browser"
	"github.com/browserbench/pageagent/pkg/metrics"
	"github.com/browserbench/pageagent/pkg/script"
	"github.com/browserbench/pageagent/pkg/shaper"
	"github.com/browserbench/pageagent/pkg/telemetry"
)

// Session is the browser surface the orchestrator drives for one run pair.
// Implemented by *browser.Session; tests substitute fakes.
type Session interface {
	script.Browser

	InstallProbes(ctx context.Context) error
	CollectPageData(ctx context.Context) (map[string]float64, error)
	DrainLongTasks(ctx context.Context) ([][2]float64, error)
	CaptureFrame(ctx context.Context) ([]byte, error)

	EmulateNetwork(ctx context.Context, rttMs, downKbps, upKbps int) error
	ClearNetworkEmulation(ctx context.Context) error

	Crashed() bool
	Close() error
}

// LaunchFunc starts a browser session. The default launches a real browser
// via the browser package.
type LaunchFunc func(ctx context.Context, cfg browser.Config, sink func(telemetry.Event)) (Session, error)

func defaultLaunch(ctx context.Context, cfg browser.Config, sink func(telemetry.Event)) (Session, error) {
	return browser.Launch(ctx, cfg, sink)
}

// harvestBudget bounds post-run probe collection so a wedged page cannot
// stall the next run indefinitely.
const harvestBudget = 10 * time.Second

// Orchestrator executes tests: it applies network conditioning, launches
// browser sessions, interprets scripts, and reduces per-run telemetry into a
// test result. One orchestrator runs one test at a time; runs within a test
// are strictly sequential.
type Orchestrator struct {
	cfg     Config
	shaping *shaper.Controller
	launch  LaunchFunc
	clock   clock.Clock
	log     logrus.FieldLogger
}

// NewOrchestrator creates an orchestrator over the given shaping controller.
// A nil launch uses the real browser; a nil logger uses the logrus standard
// logger.
func NewOrchestrator(cfg Config, shaping *shaper.Controller, launch LaunchFunc, log logrus.FieldLogger) *Orchestrator {
	if launch == nil {
		launch = defaultLaunch
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Orchestrator{
		cfg:     cfg,
		shaping: shaping,
		launch:  launch,
		clock:   clock.Monotonic{},
		log:     log.WithField("component", "orchestrator"),
	}
}

// RunTest executes every requested run of the test and returns the
// aggregated result. Precondition failures (invalid spec, shaping apply,
// capability mismatch, browser launch) produce a failed test; a run that
// crashes or aborts is recorded in its RunResult and later runs still
// proceed. Applied network conditioning is reverted on every exit path.
func (o *Orchestrator) RunTest(ctx context.Context, spec *TestSpec) *TestResult {
	res := &TestResult{
		ID:        spec.ID,
		MedianRun: -1,
		Started:   o.clock.Now(),
	}
	if res.ID == "" {
		res.ID = uuid.New().String()
	}
	log := o.log.WithField("test", res.ID)

	fail := func(err error) *TestResult {
		res.Status = TestFailed
		res.Error = err.Error()
		res.Ended = o.clock.Now()
		log.WithError(err).Error("test failed")
		return res
	}

	if err := spec.Validate(); err != nil {
		return fail(err)
	}

	release, err := o.shaping.Apply(ctx, spec.Profile())
	if err != nil {
		return fail(fmt.Errorf("network conditioning: %w", err))
	}
	defer release.Revert()

	steps := spec.Steps()
	for run := 1; run <= spec.RunCount(); run++ {
		pair, err := o.runPair(ctx, spec, steps, run, log)
		res.Runs = append(res.Runs, pair...)
		if err != nil {
			return fail(err)
		}
	}

	o.selectMedian(res)
	res.Status = TestCompleted
	res.Ended = o.clock.Now()
	log.WithField("runs", len(res.Runs)).Info("test completed")
	return res
}

// selectMedian picks the median first view by load time and copies its
// metrics to the test level.
func (o *Orchestrator) selectMedian(res *TestResult) {
	var fvMetrics []metrics.RunMetrics
	var fvIndex []int
	for i, rr := range res.Runs {
		if !rr.RepeatView {
			fvMetrics = append(fvMetrics, rr.Metrics)
			fvIndex = append(fvIndex, i)
		}
	}
	if len(fvMetrics) == 0 {
		return
	}
	res.MedianRun = fvIndex[metrics.MedianRun(fvMetrics, metrics.ByLoadTime)]
	res.MedianMetrics = res.Runs[res.MedianRun].Metrics
}

// sinkSwitch routes session telemetry to the current view's relay. The
// session outlives individual views on repeat-view tests, so its sink must
// be retargetable between views.
type sinkSwitch struct {
	mu      sync.Mutex
	deliver func(telemetry.Event)
}

func (s *sinkSwitch) set(deliver func(telemetry.Event)) {
	s.mu.Lock()
	s.deliver = deliver
	s.mu.Unlock()
}

func (s *sinkSwitch) sink(ev telemetry.Event) {
	s.mu.Lock()
	deliver := s.deliver
	s.mu.Unlock()
	if deliver != nil {
		deliver(ev)
	}
}

// runPair executes one first view and, when requested, a repeat view on the
// same session so the second view hits a warm cache. A launch failure is
// returned as a test-level error; everything after launch is recorded in the
// run results.
func (o *Orchestrator) runPair(ctx context.Context, spec *TestSpec, steps []script.Step, run int, log logrus.FieldLogger) ([]RunResult, error) {
	sw := &sinkSwitch{}

	sess, err := o.launchSession(ctx, spec, sw.sink)
	if err != nil {
		return nil, fmt.Errorf("launching browser for run %d: %w", run, err)
	}
	defer sess.Close()

	if dt, ok := o.shaping.Backend().(*shaper.DevTools); ok {
		if err := dt.AttachTarget(ctx, sess); err != nil {
			return nil, fmt.Errorf("attaching devtools shaping for run %d: %w", run, err)
		}
	}
	o.applyOverrides(ctx, sess, spec, steps, log)

	results := []RunResult{
		o.executeView(ctx, spec, steps, sess, sw, run, false, log),
	}
	if spec.RepeatView.Bool && !sess.Crashed() {
		results = append(results, o.executeView(ctx, spec, steps, sess, sw, run, true, log))
	}
	return results, nil
}

// launchSession starts a browser configured from the spec's viewport, user
// agent and capture flags.
func (o *Orchestrator) launchSession(ctx context.Context, spec *TestSpec, sink func(telemetry.Event)) (Session, error) {
	cfg := browser.DefaultConfig()
	cfg.Headless = o.cfg.Headless
	cfg.ViewportWidth = int(spec.ViewportWidth.Int64)
	cfg.ViewportHeight = int(spec.ViewportHeight.Int64)
	cfg.Scale = spec.DPR.Float64
	cfg.UserAgent = spec.UserAgent.String
	cfg.CaptureTrace = spec.CaptureTrace.Bool
	cfg.Clock = o.clock
	cfg.Logger = o.log
	return o.launch(ctx, cfg, sink)
}

// applyOverrides installs the spec's headers, cookies, DNS overrides and
// block lists before the first navigation. Overrides are best-effort, like
// their script-step counterparts: a failure is logged and the run proceeds.
func (o *Orchestrator) applyOverrides(ctx context.Context, sess Session, spec *TestSpec, steps []script.Step, log logrus.FieldLogger) {
	for _, h := range spec.Headers {
		if err := sess.SetHeader(ctx, h); err != nil {
			log.WithError(err).WithField("header", h).Warn("header override failed")
		}
	}
	if cookieURL := firstNavigateTarget(spec, steps); cookieURL != "" {
		for name, value := range spec.Cookies {
			if err := sess.SetCookie(ctx, cookieURL, name+"="+value); err != nil {
				log.WithError(err).WithField("cookie", name).Warn("cookie override failed")
			}
		}
	}
	for host, addr := range spec.DNSOverrides {
		if err := sess.SetDNSOverride(ctx, host, addr); err != nil {
			log.WithError(err).WithField("host", host).Warn("dns override failed")
		}
	}
	if patterns := blockList(spec); len(patterns) > 0 {
		if err := sess.BlockPatterns(ctx, patterns); err != nil {
			log.WithError(err).Warn("block list install failed")
		}
	}
	if spec.AllowedDomainsOnly.Bool {
		log.Warn("allowed-domains-only blocking is not supported by protocol blocking, ignoring")
	}
}

// firstNavigateTarget returns the URL cookies are scoped to: the spec URL,
// or the first navigate step of a script test.
func firstNavigateTarget(spec *TestSpec, steps []script.Step) string {
	if spec.URL.Valid && spec.URL.String != "" {
		return spec.URL.String
	}
	for _, st := range steps {
		if st.Kind == script.KindNavigate {
			return st.Target
		}
	}
	return ""
}

// blockList merges explicit URL patterns with per-domain wildcard patterns.
func blockList(spec *TestSpec) []string {
	patterns := append([]string(nil), spec.BlockedPatterns...)
	for _, d := range spec.BlockedDomains {
		patterns = append(patterns, "*://"+d+"/*")
	}
	return patterns
}

// executeView runs the script once against the session with a fresh
// telemetry pipeline, harvests the probes, and assembles the run result.
func (o *Orchestrator) executeView(ctx context.Context, spec *TestSpec, steps []script.Step, sess Session, sw *sinkSwitch, run int, repeat bool, log logrus.FieldLogger) RunResult {
	collector := telemetry.NewCollector(telemetry.CollectorConfig{
		MaxBufferedPerStream: o.cfg.MaxBufferedPerStream,
		Clock:                o.clock,
	})
	relay := telemetry.NewRelay(telemetry.RelayConfig{
		FlushWindow: o.cfg.FlushWindow,
		Clock:       o.clock,
	}, collector.IngestAll)
	sw.set(relay.Ingest)
	inter := telemetry.NewInteractivity(telemetry.DefaultInteractivityConfig())

	runCtx, cancel := context.WithTimeout(ctx, o.cfg.RunTimeout)
	defer cancel()

	var sampler *telemetry.VideoSampler
	if spec.CaptureVideo.Bool {
		sampler = telemetry.NewVideoSampler(telemetry.SamplerConfig{
			Interval: o.cfg.VideoInterval,
			Clock:    o.clock,
		}, sess.CaptureFrame, relay.Ingest)
		sampler.Start(runCtx)
	}

	interp := script.NewInterpreter(o.interpreterConfig(spec), &probedSession{Session: sess, log: log}, collector)
	sr := interp.Execute(runCtx, steps)

	rr := RunResult{
		Run:         run,
		Label:       runLabel(run, repeat),
		RepeatView:  repeat,
		Status:      sr.Status,
		FailingStep: sr.FailingStep,
		Steps:       sr.Steps,
		Started:     sr.Started,
		Ended:       sr.Ended,
	}

	if !sess.Crashed() {
		o.harvest(ctx, sess, collector, inter, &rr, log)
	}

	if sampler != nil {
		sampler.Stop()
	}
	relay.Stop()
	sw.set(nil)
	rr.Events, rr.Drops = collector.Drain()

	if sess.Crashed() {
		rr.Status = script.StatusCrashed
	}
	rr.StatusText = rr.Status.String()

	log.WithFields(logrus.Fields{
		"run":    rr.Label,
		"status": rr.StatusText,
		"events": len(rr.Events),
	}).Info("run finished")
	return rr
}

// interpreterConfig derives per-run interpreter settings: the spec's timeout
// override applies to both navigation and regular steps.
func (o *Orchestrator) interpreterConfig(spec *TestSpec) script.InterpreterConfig {
	cfg := script.InterpreterConfig{
		StepTimeout:     o.cfg.StepTimeout,
		NavigateTimeout: o.cfg.NavigateTimeout,
		Clock:           o.clock,
		Logger:          o.log,
	}
	if spec.StepTimeoutSec.Valid && spec.StepTimeoutSec.Int64 > 0 {
		d := time.Duration(spec.StepTimeoutSec.Int64) * time.Second
		cfg.StepTimeout = d
		cfg.NavigateTimeout = d
	}
	return cfg
}

// harvest pulls the probe record and long tasks from the page and derives
// the run metrics. Harvest runs under its own budget so a wedged page cannot
// stall the next run; it survives run-budget expiry since a timed-out run's
// partial telemetry is still worth keeping.
func (o *Orchestrator) harvest(ctx context.Context, sess Session, collector *telemetry.Collector, inter *telemetry.Interactivity, rr *RunResult, log logrus.FieldLogger) {
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), harvestBudget)
	defer cancel()

	pageData, err := sess.CollectPageData(hctx)
	if err != nil {
		log.WithError(err).Warn("page data collection failed")
		return
	}
	rr.PageData = pageData

	epoch := collector.NavigationStart()
	var longTasks, interactive []metrics.MsInterval
	if !epoch.IsZero() {
		// Open the observation window at navigation start so a task-free
		// run still yields one interactive period covering the whole run.
		inter.OnFrameCallback(epoch)

		tasks, err := sess.DrainLongTasks(hctx)
		if err != nil {
			log.WithError(err).Warn("long task drain failed")
		}
		for _, t := range tasks {
			inter.AddLongTask(epoch.Add(msDuration(t[0])), epoch.Add(msDuration(t[1])))
		}
		lt, iv := inter.Drain(o.clock.Now())
		longTasks = toMsIntervals(lt, epoch)
		interactive = toMsIntervals(iv, epoch)
	}

	rr.Metrics = metrics.AssembleRun(metrics.DefaultAssembleConfig(), pageData, longTasks, interactive)
}

func msDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}

// toMsIntervals converts absolute intervals to milliseconds relative to the
// navigation epoch.
func toMsIntervals(ivs []telemetry.Interval, epoch time.Time) []metrics.MsInterval {
	out := make([]metrics.MsInterval, 0, len(ivs))
	for _, iv := range ivs {
		out = append(out, metrics.MsInterval{
			Start: float64(iv.Start.Sub(epoch)) / float64(time.Millisecond),
			End:   float64(iv.End.Sub(epoch)) / float64(time.Millisecond),
		})
	}
	return out
}

func runLabel(run int, repeat bool) string {
	if repeat {
		return strconv.Itoa(run) + "_Cached"
	}
	return strconv.Itoa(run)
}

// probedSession reinstalls the in-page probes after every successful
// navigation; navigation replaces the document and the probe state with it.
// Probe installation is best-effort: a page that rejects injection still
// produces navigation timing via the harvest path.
type probedSession struct {
	Session
	log logrus.FieldLogger
}

func (p *probedSession) Navigate(ctx context.Context, url string) error {
	if err := p.Session.Navigate(ctx, url); err != nil {
		return err
	}
	if err := p.Session.InstallProbes(ctx); err != nil {
		p.log.WithError(err).Warn("probe install failed")
	}
	return nil
}
