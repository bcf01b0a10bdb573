package agent

import (
	"fmt"
	"os"
	"time"

	"github.com/mstoykov/envconfig"

	"github.com/browserbench/pageagent/pkg/shaper"
)

// Config is the engine-level configuration: defaults that apply to every
// test unless the test spec overrides them. Values load from the
// environment with the PAGEAGENT_ prefix.
type Config struct {
	// ShaperBackend selects the network conditioning backend:
	// "none", "netem" or "devtools".
	ShaperBackend string `json:"shaperBackend" envconfig:"PAGEAGENT_SHAPER"`

	// NetemInterface is the egress interface shaped by the netem backend.
	NetemInterface string `json:"netemInterface" envconfig:"PAGEAGENT_NETEM_INTERFACE"`

	// Headless runs the browser without a display.
	Headless bool `json:"headless" envconfig:"PAGEAGENT_HEADLESS"`

	// StepTimeout is the default per-step budget for non-navigation steps.
	StepTimeout time.Duration `json:"stepTimeout" envconfig:"PAGEAGENT_STEP_TIMEOUT"`

	// NavigateTimeout is the default budget for navigate steps.
	NavigateTimeout time.Duration `json:"navigateTimeout" envconfig:"PAGEAGENT_NAVIGATE_TIMEOUT"`

	// RunTimeout is the overall wall-clock budget for one run.
	RunTimeout time.Duration `json:"runTimeout" envconfig:"PAGEAGENT_RUN_TIMEOUT"`

	// FlushWindow is the telemetry relay's coalescing window.
	FlushWindow time.Duration `json:"flushWindow" envconfig:"PAGEAGENT_FLUSH_WINDOW"`

	// MaxBufferedPerStream caps the memory-bounded telemetry streams.
	MaxBufferedPerStream int `json:"maxBufferedPerStream" envconfig:"PAGEAGENT_MAX_BUFFERED_PER_STREAM"`

	// VideoInterval is the frame sampler's capture interval.
	VideoInterval time.Duration `json:"videoInterval" envconfig:"PAGEAGENT_VIDEO_INTERVAL"`

	// OutputDir is where result documents are written.
	OutputDir string `json:"outputDir" envconfig:"PAGEAGENT_OUTPUT_DIR"`

	// LogLevel is the logrus level name.
	LogLevel string `json:"logLevel" envconfig:"PAGEAGENT_LOG_LEVEL"`
}

// NewConfig returns the engine defaults.
func NewConfig() Config {
	return Config{
		ShaperBackend:        "none",
		NetemInterface:       "eth0",
		Headless:             true,
		StepTimeout:          30 * time.Second,
		NavigateTimeout:      120 * time.Second,
		RunTimeout:           10 * time.Minute,
		FlushWindow:          500 * time.Millisecond,
		MaxBufferedPerStream: 4096,
		VideoInterval:        100 * time.Millisecond,
		OutputDir:            "results",
		LogLevel:             "info",
	}
}

// LoadConfig returns the defaults overridden by PAGEAGENT_* environment
// variables.
func LoadConfig() (Config, error) {
	cfg := NewConfig()
	if err := envconfig.Process("", &cfg, func(key string) (string, bool) {
		return os.LookupEnv(key)
	}); err != nil {
		return cfg, fmt.Errorf("loading engine config from environment: %w", err)
	}
	return cfg, nil
}

// ShaperFor builds the shaping backend the config selects.
func (c Config) ShaperFor() (shaper.Backend, error) {
	switch c.ShaperBackend {
	case "", "none":
		return shaper.Noop{}, nil
	case "netem":
		nc := shaper.DefaultNetemConfig()
		if c.NetemInterface != "" {
			nc.Interface = c.NetemInterface
		}
		return shaper.NewNetem(nc), nil
	case "devtools":
		return shaper.NewDevTools(), nil
	default:
		return nil, fmt.Errorf("unknown shaper backend %q", c.ShaperBackend)
	}
}
