package shaper

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CommandRunner executes one shaping command. The default runs the command
// through os/exec; tests inject a recorder.
type CommandRunner func(ctx context.Context, name string, args ...string) error

func execRunner(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w (%s)", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// NetemConfig configures the Linux tc/netem backend.
type NetemConfig struct {
	// Interface is the egress network device. Default: eth0.
	Interface string

	// IngressInterface is the ifb device that inbound traffic is
	// redirected through so download shaping can be applied. Default: ifb0.
	IngressInterface string

	// Runner executes tc commands. Default: os/exec.
	Runner CommandRunner
}

// DefaultNetemConfig returns the default netem backend configuration.
func DefaultNetemConfig() NetemConfig {
	return NetemConfig{
		Interface:        "eth0",
		IngressInterface: "ifb0",
		Runner:           execRunner,
	}
}

// Netem shapes traffic with Linux tc qdiscs: a netem qdisc for latency and
// packet loss with a tbf child for rate limiting, applied to the egress
// device for upload and to an ifb redirect device for download. Latency is
// split evenly across the two directions so the round trip adds up to the
// profile's RTT.
type Netem struct {
	cfg NetemConfig
}

// NewNetem creates a netem backend. Zero config values are replaced with
// defaults.
func NewNetem(cfg NetemConfig) *Netem {
	if cfg.Interface == "" {
		cfg.Interface = "eth0"
	}
	if cfg.IngressInterface == "" {
		cfg.IngressInterface = "ifb0"
	}
	if cfg.Runner == nil {
		cfg.Runner = execRunner
	}
	return &Netem{cfg: cfg}
}

// Name implements Backend.
func (n *Netem) Name() string { return "netem" }

// Capabilities implements Backend. tc/netem enforces everything the profile
// model can express.
func (n *Netem) Capabilities() Capabilities {
	return Capabilities{Shaping: true, PacketLoss: true, PerDirectionRates: true}
}

// Apply implements Backend. The inbound redirect is configured first, then
// each direction gets its netem+tbf pair. Any command failure leaves the
// backend partially configured; callers reset before reporting the error.
func (n *Netem) Apply(ctx context.Context, p Profile) error {
	if p.Unshaped() {
		return nil
	}

	// Redirect ingress through the ifb device so download shaping applies.
	setup := [][]string{
		{"ip", "link", "set", "dev", n.cfg.IngressInterface, "up"},
		{"tc", "qdisc", "add", "dev", n.cfg.Interface, "ingress"},
		{"tc", "filter", "add", "dev", n.cfg.Interface, "parent", "ffff:",
			"protocol", "ip", "u32", "match", "u32", "0", "0",
			"action", "mirred", "egress", "redirect", "dev", n.cfg.IngressInterface},
	}
	for _, cmd := range setup {
		if err := n.cfg.Runner(ctx, cmd[0], cmd[1:]...); err != nil {
			return err
		}
	}

	// Each direction carries half the RTT.
	halfRTT := p.RTTMs / 2
	if err := n.configureInterface(ctx, n.cfg.Interface, p.UpKbps, halfRTT, p.Loss); err != nil {
		return err
	}
	return n.configureInterface(ctx, n.cfg.IngressInterface, p.DownKbps, p.RTTMs-halfRTT, p.Loss)
}

// configureInterface installs the netem root qdisc and, when a rate is
// requested, a tbf child on one device.
func (n *Netem) configureInterface(ctx context.Context, iface string, kbps, latencyMs int, loss float64) error {
	netemArgs := []string{
		"qdisc", "add", "dev", iface, "root", "handle", "1:0",
		"netem", "delay", fmt.Sprintf("%dms", latencyMs),
	}
	if loss > 0 {
		netemArgs = append(netemArgs, "loss", fmt.Sprintf("%.2f%%", loss*100))
	}
	if err := n.cfg.Runner(ctx, "tc", netemArgs...); err != nil {
		return err
	}

	if kbps > 0 {
		tbfArgs := []string{
			"qdisc", "add", "dev", iface, "parent", "1:1", "handle", "10:",
			"tbf", "rate", fmt.Sprintf("%dkbit", kbps),
			"buffer", "150000", "limit", "150000",
		}
		if err := n.cfg.Runner(ctx, "tc", tbfArgs...); err != nil {
			return err
		}
	}
	return nil
}

// Reset implements Backend. Every teardown command runs regardless of
// earlier failures; a device that was never configured reports an error
// from tc which is ignored, so resetting twice (or after a partial apply)
// is safe and lands in the unshaped state.
func (n *Netem) Reset(ctx context.Context) error {
	teardown := [][]string{
		{"tc", "qdisc", "del", "dev", n.cfg.Interface, "root"},
		{"tc", "qdisc", "del", "dev", n.cfg.IngressInterface, "root"},
		{"tc", "qdisc", "del", "dev", n.cfg.Interface, "ingress"},
	}
	for _, cmd := range teardown {
		_ = n.cfg.Runner(ctx, cmd[0], cmd[1:]...)
	}
	return nil
}
