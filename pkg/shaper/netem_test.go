package shaper

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingRunner captures issued commands and can fail at a given index.
type recordingRunner struct {
	commands []string
	failAt   int // -1: never fail
}

func newRecordingRunner() *recordingRunner {
	return &recordingRunner{failAt: -1}
}

func (r *recordingRunner) run(ctx context.Context, name string, args ...string) error {
	r.commands = append(r.commands, name+" "+strings.Join(args, " "))
	if r.failAt >= 0 && len(r.commands) == r.failAt+1 {
		return errors.New("RTNETLINK answers: operation not permitted")
	}
	return nil
}

func newTestNetem(r *recordingRunner) *Netem {
	return NewNetem(NetemConfig{Interface: "eth0", IngressInterface: "ifb0", Runner: r.run})
}

func TestNetem_ApplyConfiguresBothDirections(t *testing.T) {
	r := newRecordingRunner()
	n := newTestNetem(r)

	err := n.Apply(context.Background(), Profile{DownKbps: 1600, UpKbps: 768, RTTMs: 300, Loss: 0.01})
	require.NoError(t, err)

	joined := strings.Join(r.commands, "\n")
	assert.Contains(t, joined, "mirred egress redirect dev ifb0", "ingress must be redirected for download shaping")
	assert.Contains(t, joined, "dev eth0 root handle 1:0 netem delay 150ms loss 1.00%")
	assert.Contains(t, joined, "dev ifb0 root handle 1:0 netem delay 150ms loss 1.00%")
	assert.Contains(t, joined, "dev eth0 parent 1:1 handle 10: tbf rate 768kbit")
	assert.Contains(t, joined, "dev ifb0 parent 1:1 handle 10: tbf rate 1600kbit")
}

func TestNetem_OddRTTSplitsAcrossDirections(t *testing.T) {
	r := newRecordingRunner()
	n := newTestNetem(r)

	require.NoError(t, n.Apply(context.Background(), Profile{RTTMs: 25}))

	joined := strings.Join(r.commands, "\n")
	assert.Contains(t, joined, "dev eth0 root handle 1:0 netem delay 12ms")
	assert.Contains(t, joined, "dev ifb0 root handle 1:0 netem delay 13ms", "direction delays must sum to the RTT")
}

func TestNetem_ZeroLossOmitsLossClause(t *testing.T) {
	r := newRecordingRunner()
	n := newTestNetem(r)

	require.NoError(t, n.Apply(context.Background(), Profile{DownKbps: 1000, UpKbps: 1000, RTTMs: 28}))

	assert.NotContains(t, strings.Join(r.commands, "\n"), "loss")
}

func TestNetem_UnshapedProfileIssuesNoCommands(t *testing.T) {
	r := newRecordingRunner()
	n := newTestNetem(r)

	require.NoError(t, n.Apply(context.Background(), Profile{}))
	assert.Empty(t, r.commands)
}

func TestNetem_ApplyFailureSurfacesError(t *testing.T) {
	r := newRecordingRunner()
	r.failAt = 3 // fail on the first netem qdisc
	n := newTestNetem(r)

	err := n.Apply(context.Background(), Profile{DownKbps: 1000, UpKbps: 1000, RTTMs: 28})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not permitted")
}

func TestNetem_ResetRunsAllTeardownsDespiteErrors(t *testing.T) {
	r := newRecordingRunner()
	r.failAt = 0 // first del fails (nothing installed), rest must still run
	n := newTestNetem(r)

	require.NoError(t, n.Reset(context.Background()))
	assert.Len(t, r.commands, 3, "reset must attempt every teardown command")

	// Resetting again is equally safe.
	require.NoError(t, n.Reset(context.Background()))
	assert.Len(t, r.commands, 6)
}

func TestDevTools_CapabilitiesExcludePacketLoss(t *testing.T) {
	d := NewDevTools()
	caps := d.Capabilities()

	assert.True(t, caps.Shaping)
	assert.False(t, caps.PacketLoss, "protocol-level emulation cannot drop packets")
	assert.True(t, caps.PerDirectionRates)
}

// fakeTarget records emulation calls.
type fakeTarget struct {
	emulated int
	cleared  int
}

func (f *fakeTarget) EmulateNetwork(ctx context.Context, rttMs, downKbps, upKbps int) error {
	f.emulated++
	return nil
}

func (f *fakeTarget) ClearNetworkEmulation(ctx context.Context) error {
	f.cleared++
	return nil
}

func TestDevTools_ProfileAppliedOnAttach(t *testing.T) {
	d := NewDevTools()
	ctx := context.Background()

	// Apply happens before the browser exists.
	require.NoError(t, d.Apply(ctx, Profile{DownKbps: 1000, UpKbps: 1000, RTTMs: 28}))

	ft := &fakeTarget{}
	require.NoError(t, d.AttachTarget(ctx, ft))
	assert.Equal(t, 1, ft.emulated, "recorded profile must reach the target on attach")

	require.NoError(t, d.Reset(ctx))
	assert.Equal(t, 1, ft.cleared)

	// Reset with the target detached is still fine.
	require.NoError(t, d.Reset(ctx))
	assert.Equal(t, 1, ft.cleared)
}
