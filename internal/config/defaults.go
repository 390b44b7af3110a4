package config

import (
	"runtime"
	"time"

	"github.com/wesleyorama2/stampede/internal/governor"
)

const (
	DefaultRequestTimeout  = 30 * time.Second
	DefaultThinkTimeMin    = time.Second
	DefaultThinkTimeMax    = 5 * time.Second
	DefaultFailureBackoff  = time.Second
	DefaultRampTick        = 100 * time.Millisecond
	DefaultSustainTick     = time.Second
	DefaultMetricsInterval = time.Second
	DefaultReportDirectory = "reports"
	DefaultTolerancePct    = 10.0
	DefaultFailureRatePct  = 50.0
	DefaultIterations      = 10
	DefaultScenarioWeight  = 1.0
)

// ApplyDefaults fills every unset option. It is idempotent.
func (c *RunConfig) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "load test"
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = Duration(DefaultRequestTimeout)
	}
	if c.ThinkTime == nil {
		c.ThinkTime = &ThinkTime{Min: Duration(DefaultThinkTimeMin), Max: Duration(DefaultThinkTimeMax)}
	}
	if c.FailureBackoff == 0 {
		c.FailureBackoff = Duration(DefaultFailureBackoff)
	}
	if c.ControlTick.Ramp == 0 {
		c.ControlTick.Ramp = Duration(DefaultRampTick)
	}
	if c.ControlTick.Sustain == 0 {
		c.ControlTick.Sustain = Duration(DefaultSustainTick)
	}
	if c.MetricsInterval == 0 {
		c.MetricsInterval = Duration(DefaultMetricsInterval)
	}
	if c.ResourceThresholds == nil {
		t := governor.DefaultThresholds()
		c.ResourceThresholds = &t
	}
	if c.UseCluster && c.WorkerCount == 0 {
		c.WorkerCount = runtime.NumCPU()
	}
	if c.ReportDirectory == "" {
		c.ReportDirectory = DefaultReportDirectory
	}
	if c.HTMLReport == nil {
		html := true
		c.HTMLReport = &html
	}
	if c.Baseline != nil && c.Baseline.TolerancePct == 0 {
		c.Baseline.TolerancePct = DefaultTolerancePct
	}

	for i := range c.Scenarios {
		s := &c.Scenarios[i]
		if s.Weight == nil {
			w := DefaultScenarioWeight
			s.Weight = &w
		}
		if s.WarmupIterations == 0 {
			s.WarmupIterations = c.WarmupIterations
		}
	}
	for i := range c.Benchmarks {
		b := &c.Benchmarks[i]
		if b.Iterations == 0 {
			b.Iterations = DefaultIterations
		}
		if b.Timeout == 0 {
			b.Timeout = c.RequestTimeout
		}
	}
	if c.Stress != nil && c.Stress.FailureRatePct == 0 {
		c.Stress.FailureRatePct = DefaultFailureRatePct
	}
}

// Sustain is the time left for the sustain phase once both ramps are taken
// out of the test duration.
func (c *RunConfig) Sustain() time.Duration {
	return time.Duration(c.TestDuration - c.RampUp - c.RampDown)
}
