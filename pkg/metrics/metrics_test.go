package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectTiming_PrecedenceOrder(t *testing.T) {
	pageData := map[string]float64{
		"PerformancePaintTiming.first-paint": 812,
		"chromeUserTiming.firstPaint":        790,
	}

	got := SelectTiming(pageData, DefaultFirstPaintPolicy())
	assert.Equal(t, 812.0, got, "the standardized source must win over the vendor source")
}

func TestSelectTiming_FallsBackToVendorSource(t *testing.T) {
	pageData := map[string]float64{
		"chromeUserTiming.firstPaint": 790,
	}

	got := SelectTiming(pageData, DefaultFirstPaintPolicy())
	assert.Equal(t, 790.0, got)
}

func TestSelectTiming_AbsentSourcesResolveToZero(t *testing.T) {
	assert.Zero(t, SelectTiming(map[string]float64{}, DefaultFirstPaintPolicy()))
	assert.Zero(t, SelectTiming(nil, DefaultFirstPaintPolicy()))
}

func TestSelectTiming_NonPositiveValuesAreSkipped(t *testing.T) {
	pageData := map[string]float64{
		"PerformancePaintTiming.first-paint": 0,
		"chromeUserTiming.firstPaint":        640,
	}

	assert.Equal(t, 640.0, SelectTiming(pageData, DefaultFirstPaintPolicy()))
}

func TestSelectTiming_CustomPolicyPrepends(t *testing.T) {
	pageData := map[string]float64{
		"newFancyPaintSource":                100,
		"PerformancePaintTiming.first-paint": 812,
	}
	policy := append(PaintPolicy{"newFancyPaintSource"}, DefaultFirstPaintPolicy()...)

	assert.Equal(t, 100.0, SelectTiming(pageData, policy))
}

func TestAssembleRun_BasicTimings(t *testing.T) {
	pageData := map[string]float64{
		"TTFB":                                          120,
		"PerformancePaintTiming.first-paint":            800,
		"PerformancePaintTiming.first-contentful-paint": 900,
		"domContentLoadedEventEnd":                      1500,
		"loadEventEnd":                                  3000,
		"domElements":                                   417,
	}

	rm := AssembleRun(DefaultAssembleConfig(), pageData, nil, nil)

	assert.Equal(t, 120.0, rm.TTFB)
	assert.Equal(t, 800.0, rm.FirstPaint)
	assert.Equal(t, 900.0, rm.FirstContentfulPaint)
	assert.Equal(t, 1500.0, rm.DOMContentLoaded)
	assert.Equal(t, 3000.0, rm.LoadTime)
	assert.Equal(t, 417, rm.DOMElements)
}

func TestAssembleRun_TimeToInteractive(t *testing.T) {
	pageData := map[string]float64{
		"PerformancePaintTiming.first-contentful-paint": 1000,
	}
	interactive := []MsInterval{
		{Start: 0, End: 1200},     // ends too soon after FCP to hold 5s
		{Start: 1800, End: 9000},  // first 5s-quiet window
		{Start: 9500, End: 20000}, // later windows don't matter
	}

	rm := AssembleRun(DefaultAssembleConfig(), pageData, nil, interactive)
	assert.Equal(t, 1800.0, rm.TimeToInteractive)
}

func TestAssembleRun_TTIClampedToPaintTime(t *testing.T) {
	pageData := map[string]float64{
		"PerformancePaintTiming.first-contentful-paint": 1000,
	}
	// The quiet window starts before FCP; interactivity cannot precede paint.
	interactive := []MsInterval{{Start: 200, End: 8000}}

	rm := AssembleRun(DefaultAssembleConfig(), pageData, nil, interactive)
	assert.Equal(t, 1000.0, rm.TimeToInteractive)
}

func TestAssembleRun_TTIAbsentWithoutPaintTiming(t *testing.T) {
	rm := AssembleRun(DefaultAssembleConfig(), map[string]float64{}, nil,
		[]MsInterval{{Start: 0, End: 10000}})
	assert.Zero(t, rm.TimeToInteractive, "no paint timing means TTI is unknowable, not zero-based")
}

func TestAssembleRun_TotalBlockingTime(t *testing.T) {
	pageData := map[string]float64{
		"PerformancePaintTiming.first-contentful-paint": 1000,
	}
	longTasks := []MsInterval{
		{Start: 500, End: 700},    // before FCP, ignored
		{Start: 2000, End: 2130},  // 130ms -> 80ms over budget
		{Start: 4000, End: 4040},  // 40ms -> under budget
		{Start: 6000, End: 6300},  // 300ms -> 250ms over budget
	}

	rm := AssembleRun(DefaultAssembleConfig(), pageData, longTasks, nil)
	assert.Equal(t, 330.0, rm.TotalBlockingTime)
}

func TestMedianRun_OddCount(t *testing.T) {
	runs := []RunMetrics{
		{LoadTime: 3200},
		{LoadTime: 2800},
		{LoadTime: 3600},
	}

	assert.Equal(t, 0, MedianRun(runs, ByLoadTime), "3200 is the median of {2800, 3200, 3600}")
}

func TestMedianRun_EvenCountTakesLowerMiddle(t *testing.T) {
	runs := []RunMetrics{
		{LoadTime: 4000},
		{LoadTime: 2000},
		{LoadTime: 3000},
		{LoadTime: 5000},
	}

	assert.Equal(t, 2, MedianRun(runs, ByLoadTime), "lower middle of {2000, 3000, 4000, 5000} is 3000")
}

func TestMedianRun_TiesBreakByRunIndex(t *testing.T) {
	runs := []RunMetrics{
		{LoadTime: 3000},
		{LoadTime: 3000},
		{LoadTime: 3000},
	}

	assert.Equal(t, 1, MedianRun(runs, ByLoadTime), "equal values order by run index")
}

func TestMedianRun_FailedRunsAreExcluded(t *testing.T) {
	runs := []RunMetrics{
		{LoadTime: 0}, // failed run, no load time
		{LoadTime: 2500},
		{LoadTime: 0},
		{LoadTime: 3500},
	}

	assert.Equal(t, 1, MedianRun(runs, ByLoadTime))
}

func TestMedianRun_NoQualifyingRuns(t *testing.T) {
	runs := []RunMetrics{{}, {}}
	require.Equal(t, 0, MedianRun(runs, ByLoadTime))
}
