package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/config"
	"github.com/wesleyorama2/stampede/internal/engine"
	"github.com/wesleyorama2/stampede/internal/metrics/prom"
	"github.com/wesleyorama2/stampede/internal/phase"
	"github.com/wesleyorama2/stampede/internal/scenario"
)

type runFlags struct {
	url       string
	method    string
	users     int
	duration  time.Duration
	rampUp    time.Duration
	rampDown  time.Duration
	thinkTime time.Duration

	output  string
	noHTML  bool
	junit   bool
	cluster bool
	workers int
}

func newRunCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run [config]",
		Short: "Run a phased load test",
		Long: `Run a load test from a YAML or JSON config, or against a single URL.

Examples:
  stampede run --config load.yaml
  stampede run --url https://example.com/health --users 20 --duration 1m --ramp-up 10s`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.config(cmd, args)
			if err != nil {
				return err
			}
			return runLoad(cmd, g, cfg, f.junit)
		},
	}

	fl := cmd.Flags()
	fl.StringP("config", "c", "", "path to a YAML or JSON config file")
	fl.StringVarP(&f.url, "url", "u", "", "target URL for a single-request test (instead of --config)")
	fl.StringVarP(&f.method, "method", "X", http.MethodGet, "HTTP method for --url")
	fl.IntVarP(&f.users, "users", "n", 10, "maximum concurrent users for --url")
	fl.DurationVarP(&f.duration, "duration", "d", 30*time.Second, "total test duration for --url")
	fl.DurationVar(&f.rampUp, "ramp-up", 0, "ramp-up duration for --url")
	fl.DurationVar(&f.rampDown, "ramp-down", 0, "ramp-down duration for --url")
	fl.DurationVar(&f.thinkTime, "think-time", 0, "maximum think time between requests for --url")
	fl.StringVarP(&f.output, "output", "o", "", "report directory or s3://bucket/prefix (overrides config)")
	fl.BoolVar(&f.noHTML, "no-html", false, "skip the HTML report")
	fl.BoolVar(&f.junit, "junit", false, "also write a JUnit XML report")
	fl.BoolVar(&f.cluster, "cluster", false, "split users across worker processes")
	fl.IntVar(&f.workers, "workers", 0, "worker count in cluster mode (default: number of CPUs)")
	return cmd
}

// config builds the run configuration from a file or the quick-run flags
// and applies command line overrides.
func (f *runFlags) config(cmd *cobra.Command, args []string) (*config.RunConfig, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" && len(args) > 0 {
		path = args[0]
	}

	var cfg *config.RunConfig
	switch {
	case path != "" && f.url != "":
		return nil, configError(errors.New("--config and --url are mutually exclusive"))
	case path != "":
		loaded, err := config.Load(path)
		if err != nil {
			return nil, configError(err)
		}
		cfg = loaded
	case f.url != "":
		cfg = f.quickConfig()
	default:
		return nil, configError(errors.New("either --config or --url is required"))
	}

	if f.output != "" {
		cfg.ReportDirectory = f.output
	}
	if f.noHTML {
		off := false
		cfg.HTMLReport = &off
	}
	if f.cluster {
		cfg.UseCluster = true
	}
	if f.workers > 0 {
		cfg.WorkerCount = f.workers
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

func (f *runFlags) quickConfig() *config.RunConfig {
	return &config.RunConfig{
		Name:               "quick run " + f.url,
		MaxConcurrentUsers: f.users,
		TestDuration:       config.Duration(f.duration),
		RampUp:             config.Duration(f.rampUp),
		RampDown:           config.Duration(f.rampDown),
		ThinkTime:          &config.ThinkTime{Max: config.Duration(f.thinkTime)},
		Scenarios: []config.ScenarioConfig{{
			Name: "default",
			Requests: []scenario.HTTPRequest{{
				Method: f.method,
				URL:    f.url,
			}},
		}},
	}
}

func runLoad(cmd *cobra.Command, g *globalFlags, cfg *config.RunConfig, junit bool) error {
	if err := cfg.Validate(); err != nil {
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
	opts, err := cfg.EngineOptions(logger)
	if err != nil {
		return configError(err)
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	writer, err := reportWriter(ctx, cfg, junit, logger)
	if err != nil {
		return configError(err)
	}

	console := g.console(cmd, cfg.Name, opts.Profile.Total())
	observers := phase.Observers{console}
	if g.metricsAddr != "" {
		exp := prom.NewExporter()
		shutdown, err := serveMetrics(g.metricsAddr, exp, logger)
		if err != nil {
			return err
		}
		defer shutdown()
		observers = append(observers, exp)
		opts.Recorder = exp
	}
	opts.Observer = observers

	eng, err := engine.New(registry, opts)
	if err != nil {
		return configError(err)
	}

	console.PrintHeader(fmt.Sprintf("%d users, %s sustain, %d scenario(s)",
		cfg.MaxConcurrentUsers, cfg.Sustain(), registry.Len()))

	result, runErr := eng.Run(ctx)
	if result == nil {
		return runErr
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Warn("load test ended with error", zap.Error(runErr))
	}

	console.PrintSummary(result)
	// Reports are written even when the run was interrupted.
	paths, err := writer.WriteLoad(context.WithoutCancel(ctx), result)
	if err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	for _, p := range paths {
		fmt.Fprintln(cmd.ErrOrStderr(), "report:", p)
	}

	if !result.Passed || result.Aborted {
		return errFailed
	}
	return nil
}
