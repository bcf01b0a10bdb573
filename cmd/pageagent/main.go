// pageagent runs browser page-load tests: it reads a test spec, applies the
// requested network conditioning, drives a browser through the test script,
// and writes a single JSON result document per test.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/browserbench/pageagent/pkg/agent"
	"github.com/browserbench/pageagent/pkg/shaper"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var (
		outputDir     string
		shaperBackend string
		headful       bool
	)

	cmd := &cobra.Command{
		Use:           "pageagent <spec.json>",
		Short:         "Run a browser page-load test from a spec document",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := agent.LoadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("output") {
				cfg.OutputDir = outputDir
			}
			if cmd.Flags().Changed("shaper") {
				cfg.ShaperBackend = shaperBackend
			}
			if headful {
				cfg.Headless = false
			}
			return run(cmd.Context(), cfg, args[0])
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", "results", "directory for result documents")
	cmd.Flags().StringVar(&shaperBackend, "shaper", "none", "network conditioning backend (none, netem, devtools)")
	cmd.Flags().BoolVar(&headful, "headful", false, "run the browser with a visible window")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	cobra.OnFinalize(stop)
	cmd.SetContext(ctx)
	return cmd
}

func run(ctx context.Context, cfg agent.Config, specPath string) error {
	log := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	data, err := os.ReadFile(specPath)
	if err != nil {
		return fmt.Errorf("reading spec: %w", err)
	}
	spec, err := agent.ParseTestSpec(data)
	if err != nil {
		return err
	}

	backend, err := cfg.ShaperFor()
	if err != nil {
		return err
	}
	orch := agent.NewOrchestrator(cfg, shaper.NewController(backend, log), nil, log)

	res := orch.RunTest(ctx, spec)

	writer := agent.NewResultWriter(afero.NewOsFs(), cfg.OutputDir)
	path, err := writer.Write(res)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"test":   res.ID,
		"status": res.Status.String(),
		"result": path,
	}).Info("result written")

	if res.Status == agent.TestFailed {
		return fmt.Errorf("test %s failed: %s", res.ID, res.Error)
	}
	return nil
}
