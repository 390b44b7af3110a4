package engine

import (
	"time"

	"github.com/wesleyorama2/stampede/internal/cluster"
	"github.com/wesleyorama2/stampede/internal/governor"
	"github.com/wesleyorama2/stampede/internal/measure"
	"github.com/wesleyorama2/stampede/internal/metrics"
	"github.com/wesleyorama2/stampede/internal/monitor"
	"github.com/wesleyorama2/stampede/internal/phase"
	"github.com/wesleyorama2/stampede/internal/stats"
)

// PhaseMeasurements holds the measurements of each timed phase.
type PhaseMeasurements struct {
	RampUp   []measure.Measurement `json:"rampUp"`
	Sustain  []measure.Measurement `json:"sustain"`
	RampDown []measure.Measurement `json:"rampDown"`
}

// ScenarioResult is the per-scenario breakdown of a run.
type ScenarioResult struct {
	Name                   string        `json:"name"`
	Weight                 float64       `json:"weight"`
	Tags                   []string      `json:"tags,omitempty"`
	Summary                stats.Summary `json:"summary"`
	ExpectedResponseTimeMs float64       `json:"expectedResponseTimeMs,omitempty"`
	ExpectedSuccessRatePct float64       `json:"expectedSuccessRatePct,omitempty"`
	Passed                 bool          `json:"passed"`
	Messages               []string      `json:"messages,omitempty"`
}

// RunConfig echoes the effective configuration into the report.
type RunConfig struct {
	MaxConcurrentUsers int                 `json:"maxConcurrentUsers"`
	TestDurationMs     int64               `json:"testDurationMs"`
	RampUpMs           int64               `json:"rampUpMs"`
	SustainMs          int64               `json:"sustainMs"`
	RampDownMs         int64               `json:"rampDownMs"`
	RequestTimeoutMs   int64               `json:"requestTimeoutMs"`
	ResourceThresholds governor.Thresholds `json:"resourceThresholds"`
	UseCluster         bool                `json:"useCluster"`
	WorkerCount        int                 `json:"workerCount,omitempty"`
}

// TestResult is the complete, immutable outcome of a load test.
type TestResult struct {
	ID         string    `json:"id"`
	Name       string    `json:"name,omitempty"`
	StartTime  time.Time `json:"startTime"`
	EndTime    time.Time `json:"endTime"`
	DurationMs float64   `json:"durationMs"`
	Config     RunConfig `json:"config"`

	Phases         PhaseMeasurements               `json:"phases"`
	PhaseWindows   []phase.Window                  `json:"phaseWindows,omitempty"`
	PhaseSummaries map[measure.Phase]stats.Summary `json:"phaseSummaries,omitempty"`
	WarmupRequests int                             `json:"warmupRequests"`

	Summary   stats.Summary    `json:"summary"`
	Scenarios []ScenarioResult `json:"scenarios"`

	ResourceUsage []monitor.ResourceSample `json:"resourceUsage"`
	SystemInfo    monitor.SystemInfo       `json:"systemInfo"`
	MemoryTrend   stats.MemoryTrend        `json:"memoryTrend"`

	LoadShedEvents []phase.ShedEvent      `json:"loadShedEvents,omitempty"`
	Snapshots      []phase.Snapshot       `json:"snapshots,omitempty"`
	TimeSeries     []*metrics.TimeBucket  `json:"timeSeries,omitempty"`
	Workers        []cluster.WorkerStatus `json:"workers,omitempty"`
	PeakUsers      int                    `json:"peakUsers"`

	Thresholds  []ThresholdResult  `json:"thresholds,omitempty"`
	Regressions []stats.Regression `json:"regressions,omitempty"`
	Warnings    []string           `json:"warnings,omitempty"`

	Aborted bool `json:"aborted"`
	Passed  bool `json:"passed"`
}

// evaluatePassed reports whether every threshold, scenario expectation and
// baseline comparison held.
func (r *TestResult) evaluatePassed() bool {
	for _, t := range r.Thresholds {
		if !t.Passed {
			return false
		}
	}
	for _, s := range r.Scenarios {
		if !s.Passed {
			return false
		}
	}
	return len(r.Regressions) == 0
}

// FailedThresholds returns the thresholds that did not pass.
func (r *TestResult) FailedThresholds() []ThresholdResult {
	var out []ThresholdResult
	for _, t := range r.Thresholds {
		if !t.Passed {
			out = append(out, t)
		}
	}
	return out
}
