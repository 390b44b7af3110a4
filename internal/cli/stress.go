package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/stampede/internal/config"
	"github.com/wesleyorama2/stampede/internal/engine"
	"github.com/wesleyorama2/stampede/internal/metrics/prom"
	"github.com/wesleyorama2/stampede/internal/phase"
)

func newStressCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stress [config]",
		Short: "Search for the concurrency level where the failure rate breaks",
		Long: `Raise concurrency step by step until the failure rate reaches the
configured threshold or the maximum user count is reached.

Example:
  stampede stress --config load.yaml --max-users 500 --step 50`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, args)
			if err != nil {
				return err
			}
			applyStressFlags(cmd, cfg)
			return runStress(cmd, g, cfg)
		},
	}

	fl := cmd.Flags()
	fl.StringP("config", "c", "", "path to a YAML or JSON config file")
	fl.Int("start-users", 0, "first concurrency level")
	fl.Int("step", 0, "users added per step")
	fl.Int("max-users", 0, "last concurrency level")
	fl.Duration("step-duration", 0, "how long each level is held")
	fl.Float64("failure-rate", 0, "failure rate percentage that marks the breaking point")
	fl.StringP("output", "o", "", "report directory or s3://bucket/prefix (overrides config)")
	return cmd
}

func applyStressFlags(cmd *cobra.Command, cfg *config.RunConfig) {
	fl := cmd.Flags()
	if cfg.Stress == nil {
		cfg.Stress = &config.StressConfig{}
	}
	if fl.Changed("start-users") {
		cfg.Stress.StartUsers, _ = fl.GetInt("start-users")
	}
	if fl.Changed("step") {
		cfg.Stress.Step, _ = fl.GetInt("step")
	}
	if fl.Changed("max-users") {
		cfg.Stress.MaxUsers, _ = fl.GetInt("max-users")
	}
	if fl.Changed("step-duration") {
		d, _ := fl.GetDuration("step-duration")
		cfg.Stress.StepDuration = config.Duration(d)
	}
	if fl.Changed("failure-rate") {
		cfg.Stress.FailureRatePct, _ = fl.GetFloat64("failure-rate")
	}
	if out, _ := fl.GetString("output"); out != "" {
		cfg.ReportDirectory = out
	}
	cfg.ApplyDefaults()
}

func runStress(cmd *cobra.Command, g *globalFlags, cfg *config.RunConfig) error {
	if err := cfg.ValidateStress(); err != nil {
		return configError(err)
	}
	logger, err := g.logger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	registry, err := cfg.Registry(cfg.HTTPClient())
	if err != nil {
		return configError(err)
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	writer, err := reportWriter(ctx, cfg, false, logger)
	if err != nil {
		return configError(err)
	}

	opts := cfg.StressOptions(logger)
	levels := (opts.MaxUsers-opts.StartUsers)/opts.Step + 1
	console := g.console(cmd, cfg.Name+" (stress)", time.Duration(levels)*opts.StepDuration)

	observers := phase.Observers{console}
	if g.metricsAddr != "" {
		exp := prom.NewExporter()
		shutdown, err := serveMetrics(g.metricsAddr, exp, logger)
		if err != nil {
			return err
		}
		defer shutdown()
		observers = append(observers, exp)
	}
	opts.Observer = observers

	console.PrintHeader(fmt.Sprintf("%d to %d users in steps of %d, %s per step",
		opts.StartUsers, opts.MaxUsers, opts.Step, opts.StepDuration))

	result, runErr := engine.FindBreakingPoint(ctx, registry, opts)
	if result == nil {
		return configError(runErr)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}

	console.PrintStress(result)
	path, err := writer.WriteStress(context.WithoutCancel(ctx), result)
	if err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	fmt.Fprintln(cmd.ErrOrStderr(), "report:", path)
	return nil
}
