package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/config"
	"github.com/wesleyorama2/stampede/internal/logging"
	"github.com/wesleyorama2/stampede/internal/metrics/prom"
	"github.com/wesleyorama2/stampede/internal/output"
	"github.com/wesleyorama2/stampede/internal/report"
)

// configPath takes the config from --config or the first argument.
func configPath(cmd *cobra.Command, args []string) (string, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" && len(args) > 0 {
		path = args[0]
	}
	if path == "" {
		return "", configError(errors.New("a config file is required (--config or first argument)"))
	}
	return path, nil
}

func loadConfig(cmd *cobra.Command, args []string) (*config.RunConfig, error) {
	path, err := configPath(cmd, args)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, configError(err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

func (g *globalFlags) logger(cfg *config.RunConfig) (*zap.Logger, error) {
	lc := cfg.Log
	if g.logLevel != "" {
		lc.Level = g.logLevel
	}
	if g.logDev {
		lc.Development = true
	}
	logger, err := logging.New(lc)
	if err != nil {
		return nil, configError(err)
	}
	return logger, nil
}

func (g *globalFlags) console(cmd *cobra.Command, name string, total time.Duration) *output.Console {
	return output.NewConsole(output.ConsoleConfig{
		Name:          name,
		TotalDuration: total,
		Writer:        cmd.OutOrStdout(),
		Quiet:         g.quiet,
		NoColor:       g.noColor,
	})
}

// signalContext is cancelled on SIGINT or SIGTERM so runs end with a
// partial report instead of dying.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// serveMetrics exposes the exporter on addr until the returned stop
// function is called.
func serveMetrics(addr string, exp *prom.Exporter, logger *zap.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, configError(fmt.Errorf("metrics listener: %w", err))
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", exp.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func reportWriter(ctx context.Context, cfg *config.RunConfig, junit bool, logger *zap.Logger) (*report.Writer, error) {
	sink, err := report.NewSink(ctx, cfg.ReportDirectory, cfg.S3, logger)
	if err != nil {
		return nil, err
	}
	return &report.Writer{Sink: sink, HTML: cfg.HTML(), JUnit: junit, Logger: logger}, nil
}
