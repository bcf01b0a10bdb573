package agent

import (
	"time"

	"github.com/browserbench/pageagent/pkg/metrics"
	"github.com/browserbench/pageagent/pkg/script"
	"github.com/browserbench/pageagent/pkg/telemetry"
)

// TestStatus is the test-level outcome. Run-level failures (a crashed or
// aborted run) do not fail the test; only preconditions do.
type TestStatus int

const (
	// TestCompleted means every requested run was attempted and the
	// result document is usable.
	TestCompleted TestStatus = iota
	// TestFailed means a precondition failed (shaping apply, capability
	// mismatch, browser launch, invalid spec) before run telemetry was
	// produced.
	TestFailed
)

// String returns a string representation of the status.
func (s TestStatus) String() string {
	switch s {
	case TestCompleted:
		return "Completed"
	case TestFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// MarshalText implements encoding.TextMarshaler for JSON output.
func (s TestStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// RunResult is the complete record of one run: the ordered telemetry log,
// step outcomes, wall-clock boundaries and a terminal status.
type RunResult struct {
	// Run is the 1-based first-view run number.
	Run int `json:"run"`

	// Label is the run's result label: "N" or "N_Cached" for repeat views.
	Label string `json:"label"`

	// RepeatView marks warm (cached) views.
	RepeatView bool `json:"repeatView,omitempty"`

	// Status is the terminal run status.
	Status script.Status `json:"status"`

	// StatusText is the human-readable status carried in the document.
	StatusText string `json:"statusText"`

	// FailingStep is the index of the aborting step, or -1.
	FailingStep int `json:"failingStep"`

	// Steps are the per-step outcomes in script order.
	Steps []script.StepResult `json:"steps"`

	// Events is the ordered telemetry log drained after the run.
	Events []telemetry.Event `json:"events,omitempty"`

	// Drops records bounded-stream overflow, per stream.
	Drops telemetry.DropCounts `json:"drops,omitempty"`

	// PageData is the raw probe record (navigation timing, paint entries,
	// DOM stats) the metrics were derived from.
	PageData map[string]float64 `json:"pageData,omitempty"`

	// Metrics are the derived per-run metrics.
	Metrics metrics.RunMetrics `json:"metrics"`

	Started time.Time `json:"started"`
	Ended   time.Time `json:"ended"`
}

// TestResult aggregates the runs of one test plus cross-run metrics. It is
// immutable once assembled and serializable as a single self-contained
// document for upload.
type TestResult struct {
	ID     string     `json:"id"`
	Status TestStatus `json:"status"`

	// Error describes the test-level failure when Status is TestFailed.
	Error string `json:"error,omitempty"`

	Runs []RunResult `json:"runs,omitempty"`

	// MedianRun is the index into Runs of the selected median first view.
	MedianRun int `json:"medianRun"`

	// MedianMetrics are the median run's derived metrics.
	MedianMetrics metrics.RunMetrics `json:"medianMetrics"`

	Started time.Time `json:"started"`
	Ended   time.Time `json:"ended"`
}
