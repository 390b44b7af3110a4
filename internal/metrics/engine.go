// Package metrics maintains live, histogram-backed metrics while a load test
// runs. Final statistics are computed from the measurement set by package
// stats; this engine feeds progress output and time-series charts.
package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/wesleyorama2/stampede/internal/measure"
)

// Engine collects live metrics using HDR histograms.
//
// # Thread Safety
//
// Engine is safe for concurrent use. Counters use atomic operations,
// histograms are mutex protected, and the bucket emitter runs in its own
// goroutine.
type Engine struct {
	// Range: 1 microsecond to 1 hour, 3 significant figures
	latencyHist   *hdrhistogram.Histogram
	latencyHistMu sync.Mutex

	scenarioHists   map[string]*hdrhistogram.Histogram
	scenarioHistsMu sync.Mutex

	totalRequests   atomic.Int64
	successRequests atomic.Int64
	failedRequests  atomic.Int64

	activeUsers atomic.Int32

	bucketStore *TimeBucketStore

	currentPhase measure.Phase
	phaseMu      sync.RWMutex
	phaseHistory []PhaseChange

	startTime time.Time

	emitterCancel context.CancelFunc
	emitterWg     sync.WaitGroup
	stopOnce      sync.Once

	config EngineConfig
}

// EngineConfig contains configuration for the metrics engine.
type EngineConfig struct {
	// BucketInterval is the interval for time-series buckets (default: 1s)
	BucketInterval time.Duration

	// MaxBuckets is the maximum number of buckets to retain (default: 3600)
	MaxBuckets int

	// HistogramMin is the minimum recordable value in microseconds (default: 1)
	HistogramMin int64

	// HistogramMax is the maximum recordable value in microseconds (default: 1 hour)
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3)
	HistogramSigFigs int
}

// DefaultEngineConfig returns the default configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BucketInterval:   time.Second,
		MaxBuckets:       3600,
		HistogramMin:     1,
		HistogramMax:     3600000000,
		HistogramSigFigs: 3,
	}
}

// NewEngine creates a metrics engine with default configuration.
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig())
}

// NewEngineWithConfig creates a metrics engine and starts its bucket emitter.
// Call Stop to release it.
func NewEngineWithConfig(config EngineConfig) *Engine {
	defaults := DefaultEngineConfig()
	if config.BucketInterval <= 0 {
		config.BucketInterval = defaults.BucketInterval
	}
	if config.HistogramMin <= 0 {
		config.HistogramMin = defaults.HistogramMin
	}
	if config.HistogramMax <= config.HistogramMin {
		config.HistogramMax = defaults.HistogramMax
	}
	if config.HistogramSigFigs <= 0 {
		config.HistogramSigFigs = defaults.HistogramSigFigs
	}

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		latencyHist:   hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs),
		scenarioHists: make(map[string]*hdrhistogram.Histogram),
		bucketStore:   NewTimeBucketStore(config.MaxBuckets),
		currentPhase:  measure.PhaseInit,
		startTime:     time.Now(),
		emitterCancel: cancel,
		config:        config,
	}

	e.emitterWg.Add(1)
	go e.runEmitter(ctx)

	return e
}

// Record implements measure.Recorder.
//
// Only successful iterations enter the latency histograms; every iteration
// counts towards the request totals.
func (e *Engine) Record(m measure.Measurement) {
	e.totalRequests.Add(1)
	e.bucketStore.RecordRequest(m.Success)

	if !m.Success {
		e.failedRequests.Add(1)
		return
	}
	e.successRequests.Add(1)

	micros := e.clamp(m.Duration().Microseconds())

	e.latencyHistMu.Lock()
	_ = e.latencyHist.RecordValue(micros)
	e.latencyHistMu.Unlock()

	if m.Scenario != "" {
		e.scenarioHistsMu.Lock()
		hist, ok := e.scenarioHists[m.Scenario]
		if !ok {
			hist = hdrhistogram.New(e.config.HistogramMin, e.config.HistogramMax, e.config.HistogramSigFigs)
			e.scenarioHists[m.Scenario] = hist
		}
		_ = hist.RecordValue(micros)
		e.scenarioHistsMu.Unlock()
	}
}

func (e *Engine) clamp(micros int64) int64 {
	if micros < e.config.HistogramMin {
		return e.config.HistogramMin
	}
	if micros > e.config.HistogramMax {
		return e.config.HistogramMax
	}
	return micros
}

// SetPhase records a phase transition. Repeated calls with the same phase
// are ignored.
func (e *Engine) SetPhase(phase measure.Phase) {
	e.phaseMu.Lock()
	defer e.phaseMu.Unlock()

	if e.currentPhase == phase {
		return
	}

	e.currentPhase = phase
	e.phaseHistory = append(e.phaseHistory, PhaseChange{
		Phase:     phase,
		Timestamp: time.Now(),
		Requests:  e.totalRequests.Load(),
	})
}

// Phase returns the current phase.
func (e *Engine) Phase() measure.Phase {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()
	return e.currentPhase
}

// PhaseHistory returns a copy of the phase transitions.
func (e *Engine) PhaseHistory() []PhaseChange {
	e.phaseMu.RLock()
	defer e.phaseMu.RUnlock()

	result := make([]PhaseChange, len(e.phaseHistory))
	copy(result, e.phaseHistory)
	return result
}

// SetActiveUsers updates the active user gauge.
func (e *Engine) SetActiveUsers(count int) {
	e.activeUsers.Store(int32(count))
}

// ActiveUsers returns the active user gauge.
func (e *Engine) ActiveUsers() int {
	return int(e.activeUsers.Load())
}

func (e *Engine) runEmitter(ctx context.Context) {
	defer e.emitterWg.Done()

	ticker := time.NewTicker(e.config.BucketInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.emitBucket()
		}
	}
}

func (e *Engine) emitBucket() {
	e.bucketStore.CreateBucket(
		e.totalRequests.Load(), e.successRequests.Load(), e.failedRequests.Load(),
		e.LatencyPercentiles(), e.ActiveUsers(), e.Phase(),
	)
}

// LatencyPercentiles returns current latency percentiles.
func (e *Engine) LatencyPercentiles() LatencyPercentiles {
	e.latencyHistMu.Lock()
	defer e.latencyHistMu.Unlock()

	return LatencyPercentiles{
		Min: micros(e.latencyHist.Min()),
		Max: micros(e.latencyHist.Max()),
		P50: micros(e.latencyHist.ValueAtQuantile(50)),
		P90: micros(e.latencyHist.ValueAtQuantile(90)),
		P95: micros(e.latencyHist.ValueAtQuantile(95)),
		P99: micros(e.latencyHist.ValueAtQuantile(99)),
	}
}

func micros(v int64) time.Duration {
	return time.Duration(v) * time.Microsecond
}

func histStats(h *hdrhistogram.Histogram) LatencyStats {
	return LatencyStats{
		Min:    micros(h.Min()),
		Max:    micros(h.Max()),
		Mean:   time.Duration(h.Mean() * float64(time.Microsecond)),
		StdDev: time.Duration(h.StdDev() * float64(time.Microsecond)),
		P50:    micros(h.ValueAtQuantile(50)),
		P90:    micros(h.ValueAtQuantile(90)),
		P95:    micros(h.ValueAtQuantile(95)),
		P99:    micros(h.ValueAtQuantile(99)),
		Count:  h.TotalCount(),
	}
}

// Snapshot returns a point-in-time view of all live metrics.
func (e *Engine) Snapshot() *Snapshot {
	e.latencyHistMu.Lock()
	latency := histStats(e.latencyHist)
	e.latencyHistMu.Unlock()

	elapsed := time.Since(e.startTime)
	total := e.totalRequests.Load()
	failed := e.failedRequests.Load()

	rps := 0.0
	if elapsed.Seconds() > 0 {
		rps = float64(total) / elapsed.Seconds()
	}
	if sustain, n := e.bucketStore.SustainRPS(); n > 0 {
		rps = sustain
	}

	errorRate := 0.0
	if total > 0 {
		errorRate = float64(failed) / float64(total)
	}

	return &Snapshot{
		TotalRequests:   total,
		SuccessRequests: e.successRequests.Load(),
		FailedRequests:  failed,
		Latency:         latency,
		RPS:             rps,
		ErrorRate:       errorRate,
		ActiveUsers:     e.ActiveUsers(),
		CurrentPhase:    e.Phase(),
		Elapsed:         elapsed,
		StartTime:       e.startTime,
		Timestamp:       time.Now(),
	}
}

// ScenarioStats returns histogram statistics per scenario.
func (e *Engine) ScenarioStats() map[string]LatencyStats {
	e.scenarioHistsMu.Lock()
	defer e.scenarioHistsMu.Unlock()

	result := make(map[string]LatencyStats, len(e.scenarioHists))
	for name, hist := range e.scenarioHists {
		result[name] = histStats(hist)
	}
	return result
}

// TimeSeries returns all emitted buckets.
func (e *Engine) TimeSeries() []*TimeBucket {
	return e.bucketStore.GetBuckets()
}

// LatestBucket returns the most recently emitted bucket, or nil.
func (e *Engine) LatestBucket() *TimeBucket {
	return e.bucketStore.Latest()
}

// Stop stops the emitter and emits a final bucket. It is idempotent.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.emitterCancel()
		e.emitterWg.Wait()
		e.emitBucket()
	})
}
