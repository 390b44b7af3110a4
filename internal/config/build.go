package config

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/benchmark"
	"github.com/wesleyorama2/stampede/internal/engine"
	"github.com/wesleyorama2/stampede/internal/governor"
	"github.com/wesleyorama2/stampede/internal/phase"
	"github.com/wesleyorama2/stampede/internal/scenario"
	"github.com/wesleyorama2/stampede/internal/vu"
)

// The methods below expect ApplyDefaults to have run.

// Profile returns the phase controller profile.
func (c *RunConfig) Profile() phase.Profile {
	return phase.Profile{
		MaxUsers:         c.MaxConcurrentUsers,
		RampUp:           time.Duration(c.RampUp),
		Sustain:          c.Sustain(),
		RampDown:         time.Duration(c.RampDown),
		RampTick:         time.Duration(c.ControlTick.Ramp),
		SustainTick:      time.Duration(c.ControlTick.Sustain),
		SnapshotInterval: time.Duration(c.MetricsInterval),
		SpawnRate:        c.SpawnRate,
	}
}

// VU returns the virtual user loop settings.
func (c *RunConfig) VU() vu.Config {
	cfg := vu.Config{
		RequestTimeout: c.RequestTimeout.Or(DefaultRequestTimeout),
		FailureBackoff: time.Duration(c.FailureBackoff),
	}
	if c.ThinkTime != nil {
		cfg.ThinkTimeMin = time.Duration(c.ThinkTime.Min)
		cfg.ThinkTimeMax = time.Duration(c.ThinkTime.Max)
	}
	return cfg
}

// ResourceLimits returns the load shedding thresholds.
func (c *RunConfig) ResourceLimits() governor.Thresholds {
	if c.ResourceThresholds == nil {
		return governor.DefaultThresholds()
	}
	return *c.ResourceThresholds
}

// HTTPClient builds the pooled client shared by config-defined scenarios.
func (c *RunConfig) HTTPClient() *http.Client {
	hc := scenario.DefaultHTTPClientConfig()
	hc.Timeout = c.RequestTimeout.Or(DefaultRequestTimeout)
	hc.InsecureSkipVerify = c.HTTP.InsecureSkipVerify
	hc.MaxConnsPerHost = c.HTTP.MaxConnsPerHost
	if c.HTTP.MaxIdleConnsPerHost > 0 {
		hc.MaxIdleConnsPerHost = c.HTTP.MaxIdleConnsPerHost
	}
	if c.MaxConcurrentUsers > hc.MaxIdleConnsPerHost && c.HTTP.MaxIdleConnsPerHost == 0 {
		hc.MaxIdleConnsPerHost = c.MaxConcurrentUsers
	}
	return scenario.NewHTTPClient(hc)
}

// resolve applies the base URL and shared headers to a request.
func (c *RunConfig) resolve(r scenario.HTTPRequest) scenario.HTTPRequest {
	if strings.HasPrefix(r.URL, "/") {
		r.URL = strings.TrimRight(c.HTTP.BaseURL, "/") + r.URL
	}
	if len(c.HTTP.Headers) > 0 {
		headers := make(map[string]string, len(c.HTTP.Headers)+len(r.Headers))
		for k, v := range c.HTTP.Headers {
			headers[k] = v
		}
		for k, v := range r.Headers {
			headers[k] = v
		}
		r.Headers = headers
	}
	return r
}

func (c *RunConfig) execFor(client *http.Client, reqs []scenario.HTTPRequest) scenario.ExecFunc {
	resolved := make([]scenario.HTTPRequest, len(reqs))
	for i, r := range reqs {
		resolved[i] = c.resolve(r)
	}
	return scenario.HTTPChain(client, resolved)
}

// Registry registers every configured scenario.
func (c *RunConfig) Registry(client *http.Client) (*scenario.Registry, error) {
	reg := scenario.NewRegistry()
	for _, s := range c.Scenarios {
		if _, err := reg.Register(s.Name, c.execFor(client, s.Requests), s.Options()); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// RegisterBenchmarks adds every configured benchmark to runner.
func (c *RunConfig) RegisterBenchmarks(runner *benchmark.Runner, client *http.Client) error {
	for _, b := range c.Benchmarks {
		fn := c.execFor(client, b.Requests)
		err := runner.Register(b.Name, benchmark.Func(fn), benchmark.Options{
			WarmupIterations:  b.WarmupIterations,
			Iterations:        b.Iterations,
			Timeout:           time.Duration(b.Timeout),
			ExpectedThreshold: time.Duration(b.ExpectedThreshold),
			Category:          b.Category,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// LoadBaseline reads the configured baseline report, if any.
func (c *RunConfig) LoadBaseline() (*engine.Baseline, error) {
	if c.Baseline == nil {
		return nil, nil
	}
	data, err := os.ReadFile(c.Baseline.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read baseline report: %w", err)
	}
	return &engine.Baseline{Report: data, TolerancePct: c.Baseline.TolerancePct}, nil
}

// EngineOptions assembles the load test options. Observer and Recorder
// are left for the caller to attach.
func (c *RunConfig) EngineOptions(logger *zap.Logger) (engine.Options, error) {
	baseline, err := c.LoadBaseline()
	if err != nil {
		return engine.Options{}, err
	}
	return engine.Options{
		Name:                   c.Name,
		Profile:                c.Profile(),
		VU:                     c.VU(),
		Resources:              c.ResourceLimits(),
		MetricsInterval:        time.Duration(c.MetricsInterval),
		AcceptanceErrorRatePct: c.Acceptance.ErrorRatePct,
		Thresholds:             c.Thresholds,
		UseCluster:             c.UseCluster,
		WorkerCount:            c.WorkerCount,
		Baseline:               baseline,
		Logger:                 logger,
	}, nil
}

// StressOptions assembles the breaking point search options.
func (c *RunConfig) StressOptions(logger *zap.Logger) engine.StressOptions {
	s := c.Stress
	if s == nil {
		s = &StressConfig{}
	}
	return engine.StressOptions{
		StartUsers:     s.StartUsers,
		Step:           s.Step,
		MaxUsers:       s.MaxUsers,
		StepDuration:   time.Duration(s.StepDuration),
		FailureRatePct: s.FailureRatePct,
		VU:             c.VU(),
		ControlTick:    time.Duration(c.ControlTick.Sustain),
		Logger:         logger,
	}
}

// HTML reports whether an HTML report should be written.
func (c *RunConfig) HTML() bool {
	return c.HTMLReport == nil || *c.HTMLReport
}
