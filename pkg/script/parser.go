package script

import (
	"strings"
)

// commandKinds maps script command tokens to step kinds. Aliases mirror the
// original agent's script dialect (addheader/setheader are equivalent,
// setdnsname is the documented spelling of the DNS override).
var commandKinds = map[string]Kind{
	"navigate":           KindNavigate,
	"exec":               KindExec,
	"execandwait":        KindExec,
	"sleep":              KindSleep,
	"block":              KindBlock,
	"blockdomains":       KindBlock,
	"setheader":          KindSetHeader,
	"addheader":          KindSetHeader,
	"setcookie":          KindSetCookie,
	"setdns":             KindSetDNS,
	"setdnsname":         KindSetDNS,
	"setviewport":        KindSetViewport,
	"settimeout":         KindSetTimeout,
	"setactivitytimeout": KindSetActivityTimeout,
	"click":              KindClick,
	"clickandwait":       KindClick,
	"logdata":            KindLogData,
}

// Parse reads a test script in the original tab-separated format: one step
// per line, fields `command<TAB>target<TAB>value`, later fields optional.
// Blank lines and lines starting with // are skipped.
//
// Parsing never fails: unrecognized commands become KindUnknown steps that
// soft-fail at execution time with a diagnostic, so one bad line cannot
// reject the whole script.
func Parse(body string) []Step {
	var steps []Step
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimRight(line, "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "//") {
			continue
		}

		fields := strings.SplitN(line, "\t", 3)
		command := strings.ToLower(strings.TrimSpace(fields[0]))
		step := Step{Command: command, Kind: commandKinds[command]}
		if len(fields) > 1 {
			step.Target = strings.TrimSpace(fields[1])
		}
		if len(fields) > 2 {
			step.Value = strings.TrimSpace(fields[2])
		}
		steps = append(steps, step)
	}
	return steps
}

// NavigateScript builds the single-step script used for plain-URL tests.
func NavigateScript(url string) []Step {
	return []Step{{Kind: KindNavigate, Command: "navigate", Target: url}}
}
