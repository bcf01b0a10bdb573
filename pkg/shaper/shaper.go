// Package shaper implements network conditioning for test runs: applying a
// bandwidth/latency/loss profile before a run and guaranteeing it is
// reverted afterwards, over pluggable backends with explicit capability
// sets.
package shaper

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Profile describes the network conditions requested for a run. A zero
// profile means unshaped. Blocked patterns and domains ride along in the
// profile but are enforced at the browser layer, not by the shaping backend.
type Profile struct {
	DownKbps int     `json:"downKbps"`
	UpKbps   int     `json:"upKbps"`
	RTTMs    int     `json:"rttMs"`
	Loss     float64 `json:"packetLossFraction"`

	BlockedPatterns    []string `json:"blockedPatterns,omitempty"`
	BlockedDomains     []string `json:"blockedDomains,omitempty"`
	AllowedDomainsOnly bool     `json:"allowedDomainsOnly,omitempty"`
}

// Unshaped reports whether the profile requests no traffic shaping at all.
func (p Profile) Unshaped() bool {
	return p.DownKbps == 0 && p.UpKbps == 0 && p.RTTMs == 0 && p.Loss == 0
}

// Capabilities describes what a shaping backend can enforce.
type Capabilities struct {
	// Shaping is true when the backend can constrain rates/latency at all.
	Shaping bool

	// PacketLoss is true when the backend can drop a fraction of packets.
	PacketLoss bool

	// PerDirectionRates is true when download and upload rates can differ.
	PerDirectionRates bool
}

// Backend applies and reverts network conditioning. Backends must tolerate
// Reset being called when nothing was applied, or after a partial apply, and
// always land in the unshaped state.
type Backend interface {
	// Name identifies the backend in logs and errors.
	Name() string

	// Capabilities reports what the backend can enforce.
	Capabilities() Capabilities

	// Apply installs the profile. An error may leave the backend partially
	// configured; the controller resets it before reporting failure.
	Apply(ctx context.Context, p Profile) error

	// Reset removes any installed conditioning, returning the network to
	// its default unshaped state. Must be safe to call repeatedly.
	Reset(ctx context.Context) error
}

// ErrCapability is returned when a profile requests conditioning the
// selected backend cannot enforce. It is a configuration-time hard error,
// never a silent no-op.
var ErrCapability = errors.New("network profile exceeds backend capabilities")

// Controller validates profiles against the backend's capability set and
// hands out release handles that guarantee revert on every exit path.
type Controller struct {
	backend Backend
	log     logrus.FieldLogger
}

// NewController creates a controller over the given backend.
func NewController(backend Backend, log logrus.FieldLogger) *Controller {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Controller{backend: backend, log: log}
}

// Validate checks the profile against the backend's capabilities without
// applying anything.
func (c *Controller) Validate(p Profile) error {
	caps := c.backend.Capabilities()
	if p.Unshaped() {
		return nil
	}
	if !caps.Shaping {
		return fmt.Errorf("%w: %s cannot shape traffic", ErrCapability, c.backend.Name())
	}
	if p.Loss > 0 && !caps.PacketLoss {
		return fmt.Errorf("%w: %s cannot emulate packet loss", ErrCapability, c.backend.Name())
	}
	if p.DownKbps != p.UpKbps && !caps.PerDirectionRates {
		return fmt.Errorf("%w: %s cannot set asymmetric rates", ErrCapability, c.backend.Name())
	}
	return nil
}

// Apply validates and installs the profile, returning a release handle.
// On a partial-apply failure the backend is reset before the error is
// returned, so no handle is ever needed for a failed apply.
//
// Shaping is a precondition for a run: the caller must treat an error here
// as a test-level failure and must not launch the browser.
func (c *Controller) Apply(ctx context.Context, p Profile) (*Release, error) {
	if err := c.Validate(p); err != nil {
		return nil, err
	}
	if err := c.backend.Apply(ctx, p); err != nil {
		// Partial applies must not leak: reset back to unshaped.
		if resetErr := c.backend.Reset(context.WithoutCancel(ctx)); resetErr != nil {
			c.log.WithError(resetErr).Warn("reset after failed apply also failed")
		}
		return nil, fmt.Errorf("applying profile via %s: %w", c.backend.Name(), err)
	}
	c.log.WithFields(logrus.Fields{
		"backend": c.backend.Name(),
		"down":    p.DownKbps,
		"up":      p.UpKbps,
		"rtt":     p.RTTMs,
		"loss":    p.Loss,
	}).Info("network profile applied")

	return &Release{backend: c.backend, log: c.log}, nil
}

// Backend returns the controller's backend. Used by the orchestrator to
// attach a live browser target to backends that shape through the browser.
func (c *Controller) Backend() Backend {
	return c.backend
}

// Release reverts an applied profile. Revert is idempotent: the second and
// later calls are no-ops returning the first call's result.
type Release struct {
	backend Backend
	log     logrus.FieldLogger

	once sync.Once
	err  error
}

// Revert removes the applied conditioning, leaving the network in the
// default unshaped state. Safe to call multiple times and from deferred
// cleanup paths.
func (r *Release) Revert() error {
	r.once.Do(func() {
		r.err = r.backend.Reset(context.Background())
		if r.err != nil {
			r.log.WithError(r.err).Error("network profile revert failed")
		} else {
			r.log.WithField("backend", r.backend.Name()).Info("network profile reverted")
		}
	})
	return r.err
}
