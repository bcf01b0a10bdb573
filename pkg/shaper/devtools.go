package shaper

import (
	"context"
	"sync"
)

// EmulationTarget is a live browser session that can emulate network
// conditions through its control protocol. Implemented by *browser.Session.
type EmulationTarget interface {
	EmulateNetwork(ctx context.Context, rttMs, downKbps, upKbps int) error
	ClearNetworkEmulation(ctx context.Context) error
}

// DevTools shapes traffic through the browser's own network emulation
// rather than the operating system. Because the emulation needs a live
// protocol connection, Apply records the profile and the orchestrator
// attaches the session once the browser is up; the recorded profile is then
// pushed to the target.
//
// The protocol emulation cannot drop packets, so the capability set
// excludes packet loss and profile validation rejects lossy profiles
// up front.
type DevTools struct {
	mu      sync.Mutex
	profile Profile
	applied bool
	target  EmulationTarget
}

// NewDevTools creates a browser-level shaping backend.
func NewDevTools() *DevTools {
	return &DevTools{}
}

// Name implements Backend.
func (d *DevTools) Name() string { return "devtools" }

// Capabilities implements Backend.
func (d *DevTools) Capabilities() Capabilities {
	return Capabilities{Shaping: true, PacketLoss: false, PerDirectionRates: true}
}

// Apply implements Backend. The profile is recorded; it reaches the browser
// when AttachTarget is called with the launched session.
func (d *DevTools) Apply(ctx context.Context, p Profile) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.profile = p
	d.applied = true
	if d.target != nil && !p.Unshaped() {
		return d.target.EmulateNetwork(ctx, p.RTTMs, p.DownKbps, p.UpKbps)
	}
	return nil
}

// AttachTarget connects the live session and pushes any recorded profile.
func (d *DevTools) AttachTarget(ctx context.Context, t EmulationTarget) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.target = t
	if d.applied && !d.profile.Unshaped() {
		return t.EmulateNetwork(ctx, d.profile.RTTMs, d.profile.DownKbps, d.profile.UpKbps)
	}
	return nil
}

// Reset implements Backend. Clears the emulation on the target if one is
// still attached; with the target gone (browser already closed) there is
// nothing left to revert, which is the unshaped state by definition.
func (d *DevTools) Reset(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.applied = false
	d.profile = Profile{}
	if d.target == nil {
		return nil
	}
	err := d.target.ClearNetworkEmulation(ctx)
	d.target = nil
	return err
}
