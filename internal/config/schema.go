// Package config loads, defaults and validates stampede run configuration.
package config

import (
	"github.com/wesleyorama2/stampede/internal/governor"
	"github.com/wesleyorama2/stampede/internal/logging"
	"github.com/wesleyorama2/stampede/internal/report"
	"github.com/wesleyorama2/stampede/internal/scenario"
)

// RunConfig is the root of a configuration file.
//
// Example YAML:
//
//	name: checkout
//	maxConcurrentUsers: 50
//	testDuration: 5m
//	rampUp: 1m
//	rampDown: 30s
//	resourceThresholds:
//	  memoryPct: 85
//	  errorRatePct: 5
//	http:
//	  baseUrl: https://shop.example.com
//	scenarios:
//	  - name: browse
//	    weight: 3
//	    requests:
//	      - url: /products
//	  - name: buy
//	    weight: 1
//	    requests:
//	      - method: POST
//	        url: /cart
//	        body: '{"sku":"A1"}'
type RunConfig struct {
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	MaxConcurrentUsers int      `json:"maxConcurrentUsers" yaml:"maxConcurrentUsers"`
	TestDuration       Duration `json:"testDuration" yaml:"testDuration"`
	RampUp             Duration `json:"rampUp,omitempty" yaml:"rampUp,omitempty"`
	RampDown           Duration `json:"rampDown,omitempty" yaml:"rampDown,omitempty"`
	RequestTimeout     Duration `json:"requestTimeout,omitempty" yaml:"requestTimeout,omitempty"`

	// WarmupIterations applies to scenarios that do not set their own
	WarmupIterations int `json:"warmupIterations,omitempty" yaml:"warmupIterations,omitempty"`

	// ThinkTime bounds the pause after a successful iteration; omit for
	// 1s-5s, set both to 0 to disable
	ThinkTime      *ThinkTime `json:"thinkTime,omitempty" yaml:"thinkTime,omitempty"`
	FailureBackoff Duration   `json:"failureBackoff,omitempty" yaml:"failureBackoff,omitempty"`

	ControlTick     ControlTick `json:"controlTick,omitempty" yaml:"controlTick,omitempty"`
	MetricsInterval Duration    `json:"metricsInterval,omitempty" yaml:"metricsInterval,omitempty"`
	SpawnRate       float64     `json:"spawnRate,omitempty" yaml:"spawnRate,omitempty"`

	// ResourceThresholds drive load shedding; omit for the defaults, a
	// zero limit disables that check
	ResourceThresholds *governor.Thresholds `json:"resourceThresholds,omitempty" yaml:"resourceThresholds,omitempty"`

	UseCluster  bool `json:"useCluster,omitempty" yaml:"useCluster,omitempty"`
	WorkerCount int  `json:"workerCount,omitempty" yaml:"workerCount,omitempty"`

	// ReportDirectory is a local path or s3://bucket/prefix
	ReportDirectory string            `json:"reportDirectory,omitempty" yaml:"reportDirectory,omitempty"`
	S3              report.S3Options  `json:"s3,omitempty" yaml:"s3,omitempty"`
	HTMLReport      *bool             `json:"htmlReport,omitempty" yaml:"htmlReport,omitempty"`
	Acceptance      Acceptance        `json:"acceptance,omitempty" yaml:"acceptance,omitempty"`
	Thresholds      []string          `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
	Baseline        *Baseline         `json:"baseline,omitempty" yaml:"baseline,omitempty"`
	HTTP            HTTPSettings      `json:"http,omitempty" yaml:"http,omitempty"`
	Scenarios       []ScenarioConfig  `json:"scenarios,omitempty" yaml:"scenarios,omitempty"`
	Benchmarks      []BenchmarkConfig `json:"benchmarks,omitempty" yaml:"benchmarks,omitempty"`
	Stress          *StressConfig     `json:"stress,omitempty" yaml:"stress,omitempty"`
	Log             logging.Config    `json:"log,omitempty" yaml:"log,omitempty"`
}

// ThinkTime bounds the normally distributed think time.
type ThinkTime struct {
	Min Duration `json:"min" yaml:"min"`
	Max Duration `json:"max" yaml:"max"`
}

// ControlTick sets the phase controller cadence.
type ControlTick struct {
	Ramp    Duration `json:"ramp,omitempty" yaml:"ramp,omitempty"`
	Sustain Duration `json:"sustain,omitempty" yaml:"sustain,omitempty"`
}

// Acceptance decides the exit status of a run.
type Acceptance struct {
	// ErrorRatePct fails the run above this overall error rate; 0 disables
	ErrorRatePct float64 `json:"errorRatePct,omitempty" yaml:"errorRatePct,omitempty"`
}

// Baseline points at an earlier report to detect regressions against.
type Baseline struct {
	Path         string  `json:"path" yaml:"path"`
	TolerancePct float64 `json:"tolerancePct,omitempty" yaml:"tolerancePct,omitempty"`
}

// HTTPSettings apply to every config-defined request.
type HTTPSettings struct {
	// BaseURL is prepended to request URLs that start with "/"
	BaseURL             string            `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`
	Headers             map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	MaxIdleConnsPerHost int               `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`
	MaxConnsPerHost     int               `json:"maxConnsPerHost,omitempty" yaml:"maxConnsPerHost,omitempty"`
	InsecureSkipVerify  bool              `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`
}

// ScenarioConfig defines an HTTP scenario. Its requests run in order on
// every iteration; the first failure ends the iteration.
type ScenarioConfig struct {
	Name string `json:"name" yaml:"name"`

	// Weight is the relative selection weight. Absent means 1; an explicit
	// value must be > 0.
	Weight *float64 `json:"weight,omitempty" yaml:"weight,omitempty"`

	WarmupIterations       int      `json:"warmupIterations,omitempty" yaml:"warmupIterations,omitempty"`
	ExpectedResponseTimeMs float64  `json:"expectedResponseTimeMs,omitempty" yaml:"expectedResponseTimeMs,omitempty"`
	ExpectedSuccessRatePct float64  `json:"expectedSuccessRatePct,omitempty" yaml:"expectedSuccessRatePct,omitempty"`
	Tags                   []string `json:"tags,omitempty" yaml:"tags,omitempty"`

	Requests []scenario.HTTPRequest `json:"requests" yaml:"requests"`
}

// Options converts the scenario settings for registration. A nil weight
// is passed as 0 and rejected by the registry.
func (s ScenarioConfig) Options() scenario.Options {
	opts := scenario.Options{
		WarmupIterations:       s.WarmupIterations,
		ExpectedResponseTimeMs: s.ExpectedResponseTimeMs,
		ExpectedSuccessRatePct: s.ExpectedSuccessRatePct,
		Tags:                   s.Tags,
	}
	if s.Weight != nil {
		opts.Weight = *s.Weight
	}
	return opts
}

// BenchmarkConfig defines a benchmark over HTTP requests.
type BenchmarkConfig struct {
	Name              string                 `json:"name" yaml:"name"`
	Category          string                 `json:"category,omitempty" yaml:"category,omitempty"`
	WarmupIterations  int                    `json:"warmupIterations,omitempty" yaml:"warmupIterations,omitempty"`
	Iterations        int                    `json:"iterations,omitempty" yaml:"iterations,omitempty"`
	Timeout           Duration               `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	ExpectedThreshold Duration               `json:"expectedThreshold,omitempty" yaml:"expectedThreshold,omitempty"`
	Requests          []scenario.HTTPRequest `json:"requests" yaml:"requests"`
}

// StressConfig configures the breaking point search.
type StressConfig struct {
	StartUsers     int      `json:"startUsers" yaml:"startUsers"`
	Step           int      `json:"step" yaml:"step"`
	MaxUsers       int      `json:"maxUsers" yaml:"maxUsers"`
	StepDuration   Duration `json:"stepDuration" yaml:"stepDuration"`
	FailureRatePct float64  `json:"failureRatePct,omitempty" yaml:"failureRatePct,omitempty"`
}
