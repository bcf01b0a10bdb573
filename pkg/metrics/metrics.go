// Package metrics reduces completed runs into derived performance metrics:
// paint timings selected across candidate sources, interactivity metrics
// from long-task intervals, and median-run selection across repeated runs.
package metrics

import "sort"

// PaintPolicy is the precedence-ordered list of timing sources consulted
// for a paint metric. Earlier entries win; a source is skipped when absent
// or non-positive. The order is policy, not hardcoded: callers may prepend
// newly introduced timing sources.
type PaintPolicy []string

// DefaultFirstPaintPolicy prefers the standardized paint-timing API over
// vendor-specific timings. Anything missing resolves to zero.
func DefaultFirstPaintPolicy() PaintPolicy {
	return PaintPolicy{
		"PerformancePaintTiming.first-paint",
		"chromeUserTiming.firstPaint",
	}
}

// DefaultFirstContentfulPaintPolicy is the precedence chain for first
// contentful paint.
func DefaultFirstContentfulPaintPolicy() PaintPolicy {
	return PaintPolicy{
		"PerformancePaintTiming.first-contentful-paint",
		"chromeUserTiming.firstContentfulPaint",
	}
}

// SelectTiming resolves one metric from pageData following the policy
// order. Returns 0 when no source is present, which downstream consumers
// treat as "absent", never as an error.
func SelectTiming(pageData map[string]float64, policy PaintPolicy) float64 {
	for _, source := range policy {
		if v, ok := pageData[source]; ok && v > 0 {
			return v
		}
	}
	return 0
}

// MsInterval is a [start, end] span in milliseconds relative to navigation
// start.
type MsInterval struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// RunMetrics are the derived metrics for one run. All times are
// milliseconds relative to navigation start; zero means the source was
// absent.
type RunMetrics struct {
	TTFB                 float64 `json:"TTFB,omitempty"`
	FirstPaint           float64 `json:"firstPaint,omitempty"`
	FirstContentfulPaint float64 `json:"firstContentfulPaint,omitempty"`
	DOMContentLoaded     float64 `json:"domContentLoaded,omitempty"`
	LoadTime             float64 `json:"loadTime,omitempty"`
	TimeToInteractive    float64 `json:"timeToInteractive,omitempty"`
	TotalBlockingTime    float64 `json:"totalBlockingTime,omitempty"`
	DOMElements          int     `json:"domElements,omitempty"`

	LongTasks          []MsInterval `json:"longTasks,omitempty"`
	InteractivePeriods []MsInterval `json:"interactivePeriods,omitempty"`
}

// AssembleConfig configures run-metric derivation.
type AssembleConfig struct {
	FirstPaint           PaintPolicy
	FirstContentfulPaint PaintPolicy

	// QuietWindowMs is the interactive-window length required for time to
	// interactive. Default: 5000, the definition the original agent uses.
	QuietWindowMs float64

	// BlockingThresholdMs is the per-task budget excluded from total
	// blocking time. Default: 50.
	BlockingThresholdMs float64
}

// DefaultAssembleConfig returns the default derivation configuration.
func DefaultAssembleConfig() AssembleConfig {
	return AssembleConfig{
		FirstPaint:           DefaultFirstPaintPolicy(),
		FirstContentfulPaint: DefaultFirstContentfulPaintPolicy(),
		QuietWindowMs:        5000,
		BlockingThresholdMs:  50,
	}
}

// AssembleRun derives one run's metrics from the probe page data and the
// interactivity intervals.
func AssembleRun(cfg AssembleConfig, pageData map[string]float64, longTasks, interactive []MsInterval) RunMetrics {
	if cfg.QuietWindowMs <= 0 {
		cfg.QuietWindowMs = 5000
	}
	if cfg.BlockingThresholdMs <= 0 {
		cfg.BlockingThresholdMs = 50
	}
	if cfg.FirstPaint == nil {
		cfg.FirstPaint = DefaultFirstPaintPolicy()
	}
	if cfg.FirstContentfulPaint == nil {
		cfg.FirstContentfulPaint = DefaultFirstContentfulPaintPolicy()
	}

	rm := RunMetrics{
		TTFB:                 pageData["TTFB"],
		FirstPaint:           SelectTiming(pageData, cfg.FirstPaint),
		FirstContentfulPaint: SelectTiming(pageData, cfg.FirstContentfulPaint),
		DOMContentLoaded:     pageData["domContentLoadedEventEnd"],
		LoadTime:             pageData["loadEventEnd"],
		DOMElements:          int(pageData["domElements"]),
		LongTasks:            longTasks,
		InteractivePeriods:   interactive,
	}

	start := rm.FirstContentfulPaint
	if start == 0 {
		start = rm.FirstPaint
	}
	rm.TimeToInteractive = timeToInteractive(interactive, start, cfg.QuietWindowMs)
	rm.TotalBlockingTime = totalBlockingTime(longTasks, start, cfg.BlockingThresholdMs)
	return rm
}

// timeToInteractive finds the start of the first interactive window of at
// least quietMs that does not end before start. Zero when paint timing is
// absent or no qualifying window exists.
func timeToInteractive(interactive []MsInterval, start, quietMs float64) float64 {
	if start <= 0 {
		return 0
	}
	for _, w := range interactive {
		if w.End < start {
			continue
		}
		from := w.Start
		if from < start {
			from = start
		}
		if w.End-from >= quietMs {
			return from
		}
	}
	return 0
}

// totalBlockingTime sums the over-threshold portion of long tasks occurring
// after start.
func totalBlockingTime(longTasks []MsInterval, start, thresholdMs float64) float64 {
	var total float64
	for _, t := range longTasks {
		if t.End <= start {
			continue
		}
		from := t.Start
		if from < start {
			from = start
		}
		if d := t.End - from; d > thresholdMs {
			total += d - thresholdMs
		}
	}
	return total
}

// MedianRun selects the index of the median run by the ordering metric.
// Runs where the metric is absent (non-positive) are excluded; an even
// count takes the lower middle; equal values break ties by run index.
// With no qualifying run the first run wins.
func MedianRun(runs []RunMetrics, metric func(RunMetrics) float64) int {
	type indexed struct {
		index int
		value float64
	}
	var candidates []indexed
	for i, r := range runs {
		if v := metric(r); v > 0 {
			candidates = append(candidates, indexed{index: i, value: v})
		}
	}
	if len(candidates) == 0 {
		return 0
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].value != candidates[j].value {
			return candidates[i].value < candidates[j].value
		}
		return candidates[i].index < candidates[j].index
	})
	return candidates[(len(candidates)-1)/2].index
}

// ByLoadTime is the default ordering metric for median selection.
func ByLoadTime(r RunMetrics) float64 { return r.LoadTime }
