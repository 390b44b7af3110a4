package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/benchmark"
)

func newBenchCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench [config]",
		Short: "Run the configured benchmarks",
		Long: `Run each configured benchmark for its warmup and measured iterations,
optionally comparing mean times against an earlier benchmark report.

Example:
  stampede bench --config bench.yaml --category api --baseline reports/benchmark-old.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(cmd, g, args)
		},
	}

	fl := cmd.Flags()
	fl.StringP("config", "c", "", "path to a YAML or JSON config file")
	fl.StringSlice("category", nil, "only run benchmarks in these categories")
	fl.String("baseline", "", "earlier benchmark report to detect regressions against")
	fl.Float64("tolerance", 0, "allowed mean time increase in percent (default: config or 10)")
	fl.StringP("output", "o", "", "report directory or s3://bucket/prefix (overrides config)")
	fl.Bool("junit", false, "also write a JUnit XML report")
	return cmd
}

func runBench(cmd *cobra.Command, g *globalFlags, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	fl := cmd.Flags()
	if out, _ := fl.GetString("output"); out != "" {
		cfg.ReportDirectory = out
	}
	if err := cfg.ValidateBenchmarks(); err != nil {
		return configError(err)
	}

	logger, err := g.logger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	runner := benchmark.NewRunner(logger)
	if err := cfg.RegisterBenchmarks(runner, cfg.HTTPClient()); err != nil {
		return configError(err)
	}

	baselinePath, _ := fl.GetString("baseline")
	tolerance, _ := fl.GetFloat64("tolerance")
	if baselinePath == "" && cfg.Baseline != nil {
		baselinePath = cfg.Baseline.Path
	}
	if tolerance == 0 && cfg.Baseline != nil {
		tolerance = cfg.Baseline.TolerancePct
	}
	var baseline []byte
	if baselinePath != "" {
		if baseline, err = os.ReadFile(baselinePath); err != nil {
			return configError(fmt.Errorf("failed to read baseline report: %w", err))
		}
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	junit, _ := fl.GetBool("junit")
	writer, err := reportWriter(ctx, cfg, junit, logger)
	if err != nil {
		return configError(err)
	}

	console := g.console(cmd, cfg.Name+" (benchmarks)", 0)
	console.PrintHeader(fmt.Sprintf("%d benchmark(s)", len(runner.Names())))

	categories, _ := fl.GetStringSlice("category")
	suite := runner.RunAll(ctx, categories...)

	regressed := false
	if baseline != nil {
		regs, err := benchmark.CompareToBaseline(suite, baseline, tolerance)
		if err != nil {
			logger.Warn("baseline comparison skipped", zap.Error(err))
		}
		regressed = len(regs) > 0
	}

	console.PrintBenchmarks(suite)
	paths, err := writer.WriteBenchmarks(context.WithoutCancel(ctx), suite)
	if err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	for _, p := range paths {
		fmt.Fprintln(cmd.ErrOrStderr(), "report:", p)
	}

	if !suite.AllPassed() || regressed {
		return errFailed
	}
	return nil
}
