// Package script implements the test-script model and interpreter: parsing
// the ordered step list, executing steps strictly in order against a browser
// session, and classifying per-step outcomes into a run result.
package script

import "time"

// Kind is the tagged variant of a script step.
type Kind int

// Step kinds understood by the interpreter. KindUnknown covers every
// unrecognized command; such steps always fail softly and never abort a run.
const (
	KindUnknown Kind = iota
	KindNavigate
	KindExec
	KindSleep
	KindBlock
	KindSetHeader
	KindSetCookie
	KindSetDNS
	KindSetViewport
	KindSetTimeout
	KindSetActivityTimeout
	KindClick
	KindLogData
)

// String returns the canonical command name for the kind.
func (k Kind) String() string {
	switch k {
	case KindNavigate:
		return "navigate"
	case KindExec:
		return "exec"
	case KindSleep:
		return "sleep"
	case KindBlock:
		return "block"
	case KindSetHeader:
		return "setheader"
	case KindSetCookie:
		return "setcookie"
	case KindSetDNS:
		return "setdns"
	case KindSetViewport:
		return "setviewport"
	case KindSetTimeout:
		return "settimeout"
	case KindSetActivityTimeout:
		return "setactivitytimeout"
	case KindClick:
		return "click"
	case KindLogData:
		return "logdata"
	default:
		return "unknown"
	}
}

// bestEffort reports whether a failing step of this kind is recorded as a
// soft failure and the run continues. Everything else hard-fails the run.
func (k Kind) bestEffort() bool {
	switch k {
	case KindBlock, KindSetHeader, KindLogData, KindUnknown:
		return true
	default:
		return false
	}
}

// Step is one instruction in a test script.
type Step struct {
	// Kind is the step variant.
	Kind Kind

	// Target is the primary string parameter (URL for navigate, JS body
	// for exec, selector for click, header line for setheader, ...).
	Target string

	// Value is the secondary parameter where the command takes one
	// (cookie body for setcookie, address for setdns, height for
	// setviewport).
	Value string

	// Command is the raw command token as parsed. For KindUnknown this is
	// the unrecognized command and is carried into the diagnostic.
	Command string
}

// Outcome is the terminal per-step result.
type Outcome int

const (
	// OutcomeSuccess means the step completed inside its timeout.
	OutcomeSuccess Outcome = iota
	// OutcomeSoftFail means the step failed but the run continues.
	OutcomeSoftFail
	// OutcomeTimedOut means the step exceeded its effective timeout.
	OutcomeTimedOut
	// OutcomeHardFail means the step failed and aborted the run.
	OutcomeHardFail
)

// String returns a string representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeSoftFail:
		return "soft-fail"
	case OutcomeTimedOut:
		return "timed-out"
	case OutcomeHardFail:
		return "hard-fail"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler so result documents carry
// readable outcomes.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// StepResult records how one step terminated.
type StepResult struct {
	Index    int           `json:"index"`
	Command  string        `json:"command"`
	Target   string        `json:"target,omitempty"`
	Outcome  Outcome       `json:"outcome"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Status is the terminal status of one interpreter execution.
type Status int

const (
	// StatusCompleted means every step reached success or soft-fail.
	StatusCompleted Status = iota
	// StatusTimedOut means the overall run budget expired mid-script.
	StatusTimedOut
	// StatusCrashed means the browser session died during the run.
	StatusCrashed
	// StatusAborted means a step hard-failed and the remainder was skipped.
	StatusAborted
)

// String returns a string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "Completed"
	case StatusTimedOut:
		return "TimedOut"
	case StatusCrashed:
		return "Crashed"
	case StatusAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// MarshalText implements encoding.TextMarshaler so result documents carry
// readable statuses.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Result is the outcome of interpreting one script.
type Result struct {
	Status Status `json:"status"`

	// FailingStep is the index of the step that aborted the run, or -1.
	FailingStep int `json:"failingStep"`

	Steps []StepResult `json:"steps"`

	Started time.Time `json:"started"`
	Ended   time.Time `json:"ended"`
}
