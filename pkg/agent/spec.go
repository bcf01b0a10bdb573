// Package agent implements the run orchestrator: it composes the shaping
// controller, the browser session, the script interpreter and the telemetry
// pipeline per requested run, guarantees setup/teardown ordering, and
// reduces finished runs into a single test result.
package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/guregu/null.v3"

	"github.com/browserbench/pageagent/pkg/script"
	"github.com/browserbench/pageagent/pkg/shaper"
)

// TestSpec is the immutable configuration for one test, created from
// external input (the work queue's job document). Optional fields use null
// types so "not set" is distinguishable from zero.
type TestSpec struct {
	// ID identifies the test in results and logs. Assigned when empty.
	ID string `json:"id,omitempty"`

	// URL is the navigation target for plain-URL tests.
	URL null.String `json:"url"`

	// Script is the tab-separated script body. When set it wins over URL.
	Script null.String `json:"script"`

	// Runs is the number of first-view runs. Default: 1.
	Runs null.Int `json:"runs"`

	// RepeatView adds a warm (cached) view after each first view.
	RepeatView null.Bool `json:"rv"`

	// Viewport dimensions and device pixel ratio.
	ViewportWidth  null.Int   `json:"width"`
	ViewportHeight null.Int   `json:"height"`
	DPR            null.Float `json:"dpr"`

	// Network profile fields.
	DownKbps   null.Int   `json:"bwIn"`
	UpKbps     null.Int   `json:"bwOut"`
	RTTMs      null.Int   `json:"latency"`
	PacketLoss null.Float `json:"plr"`

	// Block lists, enforced by the browser session.
	BlockedPatterns    []string  `json:"block,omitempty"`
	BlockedDomains     []string  `json:"blockDomains,omitempty"`
	AllowedDomainsOnly null.Bool `json:"blockDomainsAllowedOnly"`

	// Overrides applied before the first navigation.
	Headers      []string          `json:"headers,omitempty"`
	Cookies      map[string]string `json:"cookies,omitempty"`
	DNSOverrides map[string]string `json:"dnsOverride,omitempty"`

	// StepTimeoutSec overrides the engine's default per-step timeout.
	StepTimeoutSec null.Int `json:"timeout"`

	// UserAgent overrides the browser user agent.
	UserAgent null.String `json:"userAgent"`

	// CaptureVideo enables the fixed-interval frame sampler.
	CaptureVideo null.Bool `json:"video"`

	// CaptureTrace enables the protocol trace stream.
	CaptureTrace null.Bool `json:"trace"`
}

// ParseTestSpec decodes a spec document. Unknown fields are ignored so job
// documents from newer controllers still load.
func ParseTestSpec(data []byte) (*TestSpec, error) {
	var spec TestSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parsing test spec: %w", err)
	}
	return &spec, nil
}

// errSpecTarget is returned when neither a URL nor a script is provided.
var errSpecTarget = errors.New("test spec needs a url or a script")

// Validate checks the spec is runnable.
func (s *TestSpec) Validate() error {
	if !s.URL.Valid && !s.Script.Valid {
		return errSpecTarget
	}
	// The ID names the result file; it comes from an external document and
	// must not traverse out of the output directory.
	if strings.ContainsAny(s.ID, `/\`) || s.ID == "." || s.ID == ".." {
		return fmt.Errorf("test id %q must not contain path separators", s.ID)
	}
	if s.Runs.Valid && s.Runs.Int64 < 1 {
		return fmt.Errorf("runs must be at least 1, got %d", s.Runs.Int64)
	}
	if s.PacketLoss.Valid && (s.PacketLoss.Float64 < 0 || s.PacketLoss.Float64 >= 1) {
		return fmt.Errorf("packet loss fraction out of range: %g", s.PacketLoss.Float64)
	}
	return nil
}

// RunCount returns the requested number of first-view runs.
func (s *TestSpec) RunCount() int {
	if s.Runs.Valid && s.Runs.Int64 > 0 {
		return int(s.Runs.Int64)
	}
	return 1
}

// Steps returns the ordered step list: the parsed script body when present,
// otherwise a single navigate to the URL.
func (s *TestSpec) Steps() []script.Step {
	if s.Script.Valid && s.Script.String != "" {
		return script.Parse(s.Script.String)
	}
	return script.NavigateScript(s.URL.String)
}

// Profile returns the network conditioning profile the spec requests.
func (s *TestSpec) Profile() shaper.Profile {
	return shaper.Profile{
		DownKbps:           int(s.DownKbps.Int64),
		UpKbps:             int(s.UpKbps.Int64),
		RTTMs:              int(s.RTTMs.Int64),
		Loss:               s.PacketLoss.Float64,
		BlockedPatterns:    s.BlockedPatterns,
		BlockedDomains:     s.BlockedDomains,
		AllowedDomainsOnly: s.AllowedDomainsOnly.Bool,
	}
}
