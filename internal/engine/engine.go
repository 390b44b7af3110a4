// Package engine is the top-level orchestrator of a load test. It wires the
// scenario registry, resource monitor, phase controller, governor and
// optional cluster coordinator together and assembles the TestResult.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/cluster"
	"github.com/wesleyorama2/stampede/internal/governor"
	"github.com/wesleyorama2/stampede/internal/logging"
	"github.com/wesleyorama2/stampede/internal/measure"
	"github.com/wesleyorama2/stampede/internal/metrics"
	"github.com/wesleyorama2/stampede/internal/monitor"
	"github.com/wesleyorama2/stampede/internal/phase"
	"github.com/wesleyorama2/stampede/internal/scenario"
	"github.com/wesleyorama2/stampede/internal/stats"
	"github.com/wesleyorama2/stampede/internal/vu"
)

// Baseline is a previous report to compare against.
type Baseline struct {
	// Report is the raw JSON of an earlier load test report
	Report []byte

	// TolerancePct is the allowed relative change (default: 10)
	TolerancePct float64
}

// Options configures an Engine.
type Options struct {
	Name    string
	Profile phase.Profile
	VU      vu.Config

	// Resources are the load shedding thresholds
	Resources governor.Thresholds

	// MetricsInterval drives health checks, resource samples and time
	// buckets (default: 1s)
	MetricsInterval time.Duration

	// AcceptanceErrorRatePct fails the run when the overall error rate is
	// higher; 0 disables the check
	AcceptanceErrorRatePct float64

	// Thresholds are expressions such as "p95 < 500ms"
	Thresholds []string

	UseCluster  bool
	WorkerCount int

	Baseline *Baseline

	Observer phase.Observer
	Logger   *zap.Logger

	// Recorder also receives every measurement as it is taken
	Recorder measure.Recorder

	// Collector overrides the resource collector
	Collector monitor.Collector
}

// Engine runs one load test.
type Engine struct {
	opts     Options
	registry *scenario.Registry
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	metrics *metrics.Engine
}

// New validates the options and creates an engine.
// Configuration errors are returned here, before anything runs.
func New(registry *scenario.Registry, opts Options) (*Engine, error) {
	if registry == nil || registry.Len() == 0 {
		return nil, scenario.ErrEmptyRegistry
	}
	if err := opts.Profile.Validate(); err != nil {
		return nil, fmt.Errorf("invalid load profile: %w", err)
	}
	if opts.UseCluster && opts.WorkerCount <= 0 {
		return nil, fmt.Errorf("workerCount must be > 0 in cluster mode, got %d", opts.WorkerCount)
	}
	if opts.MetricsInterval <= 0 {
		opts.MetricsInterval = time.Second
	}
	if opts.Profile.SnapshotInterval <= 0 {
		opts.Profile.SnapshotInterval = opts.MetricsInterval
	}
	return &Engine{
		opts:     opts,
		registry: registry,
		logger:   logging.OrNop(opts.Logger),
	}, nil
}

// Metrics returns the live metrics engine of the current run, or nil.
func (e *Engine) Metrics() *metrics.Engine {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.metrics
}

// Run executes the load test and returns its result.
//
// A result is returned even when ctx is cancelled mid-run; it is marked
// aborted and the context error is returned alongside it.
func (e *Engine) Run(ctx context.Context) (*TestResult, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, errors.New("engine is already running")
	}
	e.running = true
	metricsEngine := metrics.NewEngineWithConfig(metrics.EngineConfig{BucketInterval: e.opts.MetricsInterval})
	e.metrics = metricsEngine
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()
	defer metricsEngine.Stop()

	start := time.Now()
	runID := uuid.NewString()
	logger := e.logger.With(zap.String("run", runID))
	logger.Info("load test starting",
		zap.String("name", e.opts.Name),
		zap.Int("maxUsers", e.opts.Profile.MaxUsers),
		zap.Duration("duration", e.opts.Profile.Total()),
		zap.Bool("cluster", e.opts.UseCluster))

	mon := monitor.New(monitor.Options{
		Interval:          e.opts.MetricsInterval,
		ActiveConnections: metricsEngine.ActiveUsers,
		Collector:         e.opts.Collector,
		Logger:            logger,
	})
	mon.Start(ctx)
	sysInfo := monitor.CollectSystemInfo(ctx)

	store := measure.NewStore()
	recorder := measure.Tee{store, metricsEngine, e.opts.Recorder}

	var (
		out     runOutput
		runErr  error
		govEvts []phase.ShedEvent
	)
	if e.opts.UseCluster {
		out, runErr = e.runCluster(ctx, recorder, metricsEngine, logger)
	} else {
		out, govEvts, runErr = e.runLocal(ctx, recorder, store, metricsEngine, mon, logger)
	}
	mon.Stop()

	result := e.buildResult(runID, start, store.Snapshot(), out, mon.Samples(), sysInfo, metricsEngine)
	result.LoadShedEvents = append(result.LoadShedEvents, govEvts...)
	sort.SliceStable(result.LoadShedEvents, func(i, j int) bool {
		return result.LoadShedEvents[i].Timestamp.Before(result.LoadShedEvents[j].Timestamp)
	})

	if runErr != nil {
		result.Aborted = true
		result.Warnings = append(result.Warnings, fmt.Sprintf("run aborted: %v", runErr))
	}
	result.Passed = result.evaluatePassed()

	logger.Info("load test finished",
		zap.Int64("requests", result.Summary.TotalRequests),
		zap.Float64("errorRatePct", result.Summary.ErrorRatePct),
		zap.Float64("rps", result.Summary.RequestsPerSecond),
		zap.Bool("passed", result.Passed),
		zap.Bool("aborted", result.Aborted))
	return result, runErr
}

// runOutput is what either execution mode hands to buildResult.
type runOutput struct {
	windows   []phase.Window
	snapshots []phase.Snapshot
	shed      []phase.ShedEvent
	peak      int
	workers   []cluster.WorkerStatus
	warnings  []string
}

// shedCollector keeps load shed events from any number of workers.
type shedCollector struct {
	mu     sync.Mutex
	events []phase.ShedEvent
}

func (s *shedCollector) OnPhaseChange(measure.Phase, measure.Phase, time.Time) {}
func (s *shedCollector) OnSnapshot(phase.Snapshot) {}
func (s *shedCollector) OnLoadShed(ev phase.ShedEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (e *Engine) runLocal(
	ctx context.Context,
	recorder measure.Recorder,
	store *measure.Store,
	metricsEngine *metrics.Engine,
	mon *monitor.Monitor,
	logger *zap.Logger,
) (runOutput, []phase.ShedEvent, error) {
	ctrl, err := phase.NewController(phase.Options{
		Profile:  e.opts.Profile,
		Registry: e.registry,
		VU:       e.opts.VU,
		Recorder: recorder,
		Counter:  store,
		Metrics:  metricsEngine,
		Monitor:  mon,
		Observer: e.opts.Observer,
		Logger:   logger,
	})
	if err != nil {
		return runOutput{}, nil, err
	}

	gov := governor.New(ctrl, governor.Options{
		Thresholds: e.opts.Resources,
		Interval:   e.opts.MetricsInterval,
		Counter:    store,
		Monitor:    mon,
		Observer:   e.opts.Observer,
		Logger:     logger,
	})
	govCtx, stopGov := context.WithCancel(ctx)
	govDone := make(chan struct{})
	go func() {
		defer close(govDone)
		gov.Run(govCtx)
	}()

	res, runErr := ctrl.Run(ctx)
	stopGov()
	<-govDone

	out := runOutput{}
	if res != nil {
		out.windows = res.Windows
		out.snapshots = res.Snapshots
		out.peak = res.PeakUsers
	}
	return out, gov.Events(), runErr
}

func (e *Engine) runCluster(
	ctx context.Context,
	recorder measure.Recorder,
	metricsEngine *metrics.Engine,
	logger *zap.Logger,
) (runOutput, error) {
	sheds := &shedCollector{}

	coord, err := cluster.NewCoordinator(cluster.Options{
		Workers: e.opts.WorkerCount,
		Profile: e.opts.Profile,
		NewWorker: func(index int) cluster.Worker {
			// worker 0 reports phase progress for the whole cluster
			obs := phase.Observers{sheds}
			if index == 0 {
				obs = append(obs, e.opts.Observer, metricsObserver{metricsEngine})
			}
			return &cluster.LocalWorker{
				Registry:         e.registry,
				VU:               e.opts.VU,
				Thresholds:       e.opts.Resources,
				GovernorInterval: e.opts.MetricsInterval,
				Observer:         obs,
				Logger:           logger,
			}
		},
		Recorder: recorder,
		Logger:   logger,
	})
	if err != nil {
		return runOutput{}, err
	}

	res, runErr := coord.Run(ctx)
	out := runOutput{
		windows: res.Windows,
		peak:    res.PeakUsers,
		workers: res.Workers,
	}
	for _, f := range res.Failures {
		out.warnings = append(out.warnings, f.Error())
	}
	sheds.mu.Lock()
	out.shed = append(out.shed, sheds.events...)
	sheds.mu.Unlock()
	return out, runErr
}

// metricsObserver mirrors phase changes and population into the live
// metrics engine in cluster mode.
type metricsObserver struct {
	engine *metrics.Engine
}

func (m metricsObserver) OnPhaseChange(_, to measure.Phase, _ time.Time) { m.engine.SetPhase(to) }
func (m metricsObserver) OnSnapshot(phase.Snapshot) {}
func (m metricsObserver) OnLoadShed(phase.ShedEvent) {}

func (e *Engine) buildResult(
	runID string,
	start time.Time,
	all []measure.Measurement,
	out runOutput,
	samples []monitor.ResourceSample,
	sysInfo monitor.SystemInfo,
	metricsEngine *metrics.Engine,
) *TestResult {
	end := time.Now()

	// warmup iterations are not part of the measured run
	measured := measure.Filter(all, func(m measure.Measurement) bool {
		return m.Phase != measure.PhaseWarmup
	})
	byPhase := measure.ByPhase(measured)

	result := &TestResult{
		ID:         runID,
		Name:       e.opts.Name,
		StartTime:  start,
		EndTime:    end,
		DurationMs: float64(end.Sub(start)) / float64(time.Millisecond),
		Config:     e.runConfig(),
		Phases: PhaseMeasurements{
			RampUp:   orEmpty(byPhase[measure.PhaseRampUp]),
			Sustain:  orEmpty(byPhase[measure.PhaseSustain]),
			RampDown: orEmpty(byPhase[measure.PhaseRampDown]),
		},
		PhaseWindows:   out.windows,
		Summary:        stats.Summarize(measured),
		PhaseSummaries: make(map[measure.Phase]stats.Summary),
		ResourceUsage:  samples,
		SystemInfo:     sysInfo,
		MemoryTrend:    stats.DetectMemoryTrend(monitor.HeapSeries(samples)),
		LoadShedEvents: out.shed,
		Snapshots:      out.snapshots,
		TimeSeries:     metricsEngine.TimeSeries(),
		Workers:        out.workers,
		PeakUsers:      out.peak,
		WarmupRequests: len(all) - len(measured),
		Warnings:       out.warnings,
	}
	if result.ResourceUsage == nil {
		result.ResourceUsage = []monitor.ResourceSample{}
	}
	for ph, ms := range byPhase {
		result.PhaseSummaries[ph] = stats.Summarize(ms)
	}

	result.Scenarios = e.scenarioResults(measured)

	for _, expr := range e.opts.Thresholds {
		result.Thresholds = append(result.Thresholds, EvaluateThreshold(expr, result.Summary))
	}
	if limit := e.opts.AcceptanceErrorRatePct; limit > 0 {
		tr := EvaluateThreshold(fmt.Sprintf("errorRate <= %g", limit), result.Summary)
		tr.Metric = "acceptance.errorRatePct"
		result.Thresholds = append(result.Thresholds, tr)
	}

	if b := e.opts.Baseline; b != nil && len(b.Report) > 0 {
		tol := b.TolerancePct
		if tol <= 0 {
			tol = 10
		}
		baseline, err := stats.BaselineFromReport(b.Report)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("baseline ignored: %v", err))
		} else {
			result.Regressions = stats.CompareToBaseline(result.Summary, baseline, tol)
		}
	}

	if result.MemoryTrend.LeakDetected {
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"heap grew %.0f bytes per sample, possible memory leak", result.MemoryTrend.SlopeBytes))
	}
	return result
}

func (e *Engine) scenarioResults(measured []measure.Measurement) []ScenarioResult {
	byScenario := measure.ByScenario(measured)

	var out []ScenarioResult
	for _, s := range e.registry.List() {
		sum := stats.Summarize(byScenario[s.Name])
		sr := ScenarioResult{
			Name:                   s.Name,
			Weight:                 s.Weight,
			Tags:                   s.Tags,
			Summary:                sum,
			ExpectedResponseTimeMs: float64(s.ExpectedResponseTime) / float64(time.Millisecond),
			ExpectedSuccessRatePct: s.ExpectedSuccessRatePct,
			Passed:                 true,
		}
		if sr.ExpectedResponseTimeMs > 0 && sum.SuccessfulRequests > 0 && sum.AverageResponseTimeMs > sr.ExpectedResponseTimeMs {
			sr.Passed = false
			sr.Messages = append(sr.Messages, fmt.Sprintf("mean %.2fms exceeds expected %.2fms",
				sum.AverageResponseTimeMs, sr.ExpectedResponseTimeMs))
		}
		if sr.ExpectedSuccessRatePct > 0 && sum.TotalRequests > 0 && sum.SuccessRate*100 < sr.ExpectedSuccessRatePct {
			sr.Passed = false
			sr.Messages = append(sr.Messages, fmt.Sprintf("success rate %.2f%% below expected %.2f%%",
				sum.SuccessRate*100, sr.ExpectedSuccessRatePct))
		}
		out = append(out, sr)
	}
	return out
}

func (e *Engine) runConfig() RunConfig {
	p := e.opts.Profile
	return RunConfig{
		MaxConcurrentUsers: p.MaxUsers,
		TestDurationMs:     p.Total().Milliseconds(),
		RampUpMs:           p.RampUp.Milliseconds(),
		SustainMs:          p.Sustain.Milliseconds(),
		RampDownMs:         p.RampDown.Milliseconds(),
		RequestTimeoutMs:   e.opts.VU.RequestTimeout.Milliseconds(),
		ResourceThresholds: e.opts.Resources,
		UseCluster:         e.opts.UseCluster,
		WorkerCount:        e.opts.WorkerCount,
	}
}

func orEmpty(ms []measure.Measurement) []measure.Measurement {
	if ms == nil {
		return []measure.Measurement{}
	}
	return ms
}
