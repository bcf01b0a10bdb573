// Package browser implements the browser session controller: it owns the
// browser process and its control-protocol connection, exposes the
// navigate/execute/inspect primitives the script interpreter drives, and
// tracks the session through an explicit state machine with bounded
// reconnect and a process-level crash watchdog.
package browser

import "fmt"

// State is the lifecycle state of a browser session.
//
// Transitions:
//
//	Launching → Attached            protocol handshake complete
//	Attached  → Navigating ⇄ Idle   per navigation
//	any live  → Detached            connection lost, reconnect pending
//	Detached  → Idle                reconnect succeeded
//	any       → Closed              crash, exhausted reconnects, or Close()
//
// Only the session itself mutates its state.
type State int

const (
	// StateLaunching means the browser process is starting.
	StateLaunching State = iota
	// StateAttached means the protocol handshake completed.
	StateAttached
	// StateNavigating means a navigation is in flight.
	StateNavigating
	// StateIdle means the session is attached with no navigation pending.
	StateIdle
	// StateDetached means the protocol connection was lost; a bounded
	// reconnect is in progress.
	StateDetached
	// StateClosed means the session is gone: normal close, crash, or
	// reconnect exhaustion. Terminal.
	StateClosed
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateLaunching:
		return "Launching"
	case StateAttached:
		return "Attached"
	case StateNavigating:
		return "Navigating"
	case StateIdle:
		return "Idle"
	case StateDetached:
		return "Detached"
	case StateClosed:
		return "Closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// live reports whether the session holds a usable protocol connection.
func (s State) live() bool {
	switch s {
	case StateAttached, StateNavigating, StateIdle:
		return true
	default:
		return false
	}
}
