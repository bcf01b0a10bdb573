package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"

	"github.com/browserbench/pageagent/pkg/script"
)

func TestParseTestSpec_FullDocument(t *testing.T) {
	spec, err := ParseTestSpec([]byte(`{
		"id": "t-123",
		"url": "https://example.com/",
		"runs": 3,
		"rv": true,
		"width": 1366,
		"height": 768,
		"dpr": 2,
		"bwIn": 1600,
		"bwOut": 768,
		"latency": 150,
		"plr": 0.01,
		"timeout": 45,
		"video": true,
		"unknownFutureField": {"ignored": true}
	}`))
	require.NoError(t, err)
	require.NoError(t, spec.Validate())

	assert.Equal(t, "t-123", spec.ID)
	assert.Equal(t, 3, spec.RunCount())
	assert.True(t, spec.RepeatView.Bool)
	assert.Equal(t, int64(1366), spec.ViewportWidth.Int64)
	assert.Equal(t, 2.0, spec.DPR.Float64)
	assert.Equal(t, int64(45), spec.StepTimeoutSec.Int64)
	assert.True(t, spec.CaptureVideo.Bool)

	p := spec.Profile()
	assert.Equal(t, 1600, p.DownKbps)
	assert.Equal(t, 768, p.UpKbps)
	assert.Equal(t, 150, p.RTTMs)
	assert.Equal(t, 0.01, p.Loss)
}

func TestParseTestSpec_MalformedDocument(t *testing.T) {
	_, err := ParseTestSpec([]byte(`{"url": `))
	require.Error(t, err)
}

func TestTestSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    TestSpec
		wantErr bool
	}{
		{name: "url only", spec: TestSpec{URL: null.StringFrom("https://example.com/")}},
		{name: "script only", spec: TestSpec{Script: null.StringFrom("navigate\thttps://example.com/")}},
		{name: "no target", spec: TestSpec{}, wantErr: true},
		{name: "zero runs", spec: TestSpec{URL: null.StringFrom("x"), Runs: null.IntFrom(0)}, wantErr: true},
		{name: "loss too high", spec: TestSpec{URL: null.StringFrom("x"), PacketLoss: null.FloatFrom(1.0)}, wantErr: true},
		{name: "negative loss", spec: TestSpec{URL: null.StringFrom("x"), PacketLoss: null.FloatFrom(-0.1)}, wantErr: true},
		{name: "id escaping the output dir", spec: TestSpec{ID: "../../etc/cron.d/t", URL: null.StringFrom("x")}, wantErr: true},
		{name: "id with backslash", spec: TestSpec{ID: `..\evil`, URL: null.StringFrom("x")}, wantErr: true},
		{name: "dot id", spec: TestSpec{ID: "..", URL: null.StringFrom("x")}, wantErr: true},
		{name: "plain id", spec: TestSpec{ID: "t-123.v2", URL: null.StringFrom("x")}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.spec.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTestSpecSteps_ScriptWinsOverURL(t *testing.T) {
	spec := TestSpec{
		URL:    null.StringFrom("https://ignored.example.com/"),
		Script: null.StringFrom("navigate\thttps://example.com/\nsleep\t2"),
	}
	steps := spec.Steps()
	require.Len(t, steps, 2)
	assert.Equal(t, script.KindNavigate, steps[0].Kind)
	assert.Equal(t, "https://example.com/", steps[0].Target)
	assert.Equal(t, script.KindSleep, steps[1].Kind)
}

func TestTestSpecSteps_URLBecomesSingleNavigate(t *testing.T) {
	spec := TestSpec{URL: null.StringFrom("https://example.com/")}
	steps := spec.Steps()
	require.Len(t, steps, 1)
	assert.Equal(t, script.KindNavigate, steps[0].Kind)
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	t.Setenv("PAGEAGENT_SHAPER", "netem")
	t.Setenv("PAGEAGENT_STEP_TIMEOUT", "5s")
	t.Setenv("PAGEAGENT_MAX_BUFFERED_PER_STREAM", "128")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "netem", cfg.ShaperBackend)
	assert.Equal(t, "5s", cfg.StepTimeout.String())
	assert.Equal(t, 128, cfg.MaxBufferedPerStream)
	assert.True(t, cfg.Headless, "untouched fields keep their defaults")
}

func TestConfigShaperFor(t *testing.T) {
	cfg := NewConfig()

	backend, err := cfg.ShaperFor()
	require.NoError(t, err)
	assert.Equal(t, "none", backend.Name())

	cfg.ShaperBackend = "netem"
	backend, err = cfg.ShaperFor()
	require.NoError(t, err)
	assert.Equal(t, "netem", backend.Name())

	cfg.ShaperBackend = "devtools"
	backend, err = cfg.ShaperFor()
	require.NoError(t, err)
	assert.Equal(t, "devtools", backend.Name())

	cfg.ShaperBackend = "carrier-pigeon"
	_, err = cfg.ShaperFor()
	assert.Error(t, err)
}
