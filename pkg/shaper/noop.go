package shaper

import "context"

// Noop is the backend used when the device's network must stay untouched.
// It accepts only unshaped profiles; the controller's capability check
// rejects anything else before Apply is reached.
type Noop struct{}

// Name implements Backend.
func (Noop) Name() string { return "none" }

// Capabilities implements Backend. A Noop backend can enforce nothing.
func (Noop) Capabilities() Capabilities { return Capabilities{} }

// Apply implements Backend.
func (Noop) Apply(ctx context.Context, p Profile) error { return nil }

// Reset implements Backend.
func (Noop) Reset(ctx context.Context) error { return nil }
