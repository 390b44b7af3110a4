// Package benchmark runs registered functions for a fixed number of timed
// iterations and checks their mean latency against an expected threshold.
package benchmark

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/logging"
	"github.com/wesleyorama2/stampede/internal/scenario"
	"github.com/wesleyorama2/stampede/internal/stats"
	"github.com/wesleyorama2/stampede/internal/vu"
)

// Func is the code under benchmark. A nil return is a successful iteration.
type Func func(ctx context.Context) error

// Options configures a benchmark at registration time.
type Options struct {
	// WarmupIterations are untimed calls whose errors are ignored
	WarmupIterations int `json:"warmupIterations,omitempty" yaml:"warmupIterations,omitempty"`

	// Iterations is the number of timed calls (default: 10)
	Iterations int `json:"iterations,omitempty" yaml:"iterations,omitempty"`

	// Timeout bounds each call (default: 30s)
	Timeout time.Duration `json:"-" yaml:"-"`

	// ExpectedThreshold is the mean latency the benchmark must not exceed;
	// zero means no threshold
	ExpectedThreshold time.Duration `json:"-" yaml:"-"`

	Category string `json:"category,omitempty" yaml:"category,omitempty"`
}

const (
	defaultIterations = 10
	defaultTimeout    = 30 * time.Second
)

var (
	// ErrNotFound is returned when running an unregistered benchmark.
	ErrNotFound = errors.New("benchmark not found")

	// ErrNilFunc is returned when registering a benchmark without a function.
	ErrNilFunc = errors.New("benchmark function is nil")
)

// DuplicateBenchmarkError is returned when a name is registered twice.
type DuplicateBenchmarkError struct {
	Name string
}

func (e *DuplicateBenchmarkError) Error() string {
	return fmt.Sprintf("benchmark %q is already registered", e.Name)
}

// TimeoutError is recorded when one iteration exceeds its timeout.
type TimeoutError struct {
	Name    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("benchmark %q timed out after %s", e.Name, e.Timeout)
}

// Kind classifies the failure for measurements.
func (e *TimeoutError) Kind() string { return "timeout" }

// Iteration is one timed call.
type Iteration struct {
	Index      int     `json:"index"`
	DurationMs float64 `json:"durationMs"`
	Success    bool    `json:"success"`
	ErrorKind  string  `json:"errorKind,omitempty"`
	Error      string  `json:"error,omitempty"`
	HeapUsed   uint64  `json:"heapUsed"`
}

// Result is the outcome of one benchmark.
type Result struct {
	Name        string             `json:"name"`
	Category    string             `json:"category,omitempty"`
	StartTime   time.Time          `json:"startTime"`
	DurationMs  float64            `json:"durationMs"`
	Iterations  int                `json:"iterations"`
	Failures    int                `json:"failures"`
	SuccessRate float64            `json:"successRate"`
	Stats       stats.LatencyStats `json:"stats"`
	ThresholdMs float64            `json:"thresholdMs,omitempty"`
	Passed      bool               `json:"passed"`
	MemoryTrend stats.MemoryTrend  `json:"memoryTrend"`
	Regression  *stats.Regression  `json:"regression,omitempty"`
	Error       string             `json:"error,omitempty"`
	Runs        []Iteration        `json:"runs,omitempty"`
}

// SuiteResult aggregates a RunAll call.
type SuiteResult struct {
	StartTime  time.Time `json:"startTime"`
	EndTime    time.Time `json:"endTime"`
	Categories []string  `json:"categories,omitempty"`
	Total      int       `json:"total"`
	Passed     int       `json:"passed"`
	Failed     int       `json:"failed"`
	Results    []*Result `json:"results"`
}

// AllPassed reports whether every benchmark in the suite passed.
func (s *SuiteResult) AllPassed() bool {
	return s.Failed == 0
}

type benchmark struct {
	name string
	fn   Func
	opts Options
}

// Runner holds registered benchmarks in registration order.
//
// Runner is safe for concurrent registration; runs are sequential.
type Runner struct {
	mu      sync.RWMutex
	ordered []*benchmark
	byName  map[string]*benchmark
	logger  *zap.Logger

	// heapUsed is swapped out in tests
	heapUsed func() uint64
}

// NewRunner creates an empty runner.
func NewRunner(logger *zap.Logger) *Runner {
	return &Runner{
		byName:   make(map[string]*benchmark),
		logger:   logging.OrNop(logger),
		heapUsed: readHeapUsed,
	}
}

func readHeapUsed() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}

// Register adds a benchmark.
func (r *Runner) Register(name string, fn Func, opts Options) error {
	if fn == nil {
		return ErrNilFunc
	}
	if name == "" {
		return errors.New("benchmark name is empty")
	}
	if opts.Iterations < 0 || opts.WarmupIterations < 0 {
		return fmt.Errorf("benchmark %q: iteration counts must not be negative", name)
	}
	if opts.Iterations == 0 {
		opts.Iterations = defaultIterations
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; exists {
		return &DuplicateBenchmarkError{Name: name}
	}
	b := &benchmark{name: name, fn: fn, opts: opts}
	r.ordered = append(r.ordered, b)
	r.byName[name] = b
	return nil
}

// Names returns the registered names in registration order.
func (r *Runner) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.ordered))
	for i, b := range r.ordered {
		out[i] = b.name
	}
	return out
}

// Run executes one benchmark by name.
func (r *Runner) Run(ctx context.Context, name string) (*Result, error) {
	r.mu.RLock()
	b, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return r.run(ctx, b), nil
}

// RunAll runs every benchmark whose category is listed, or all of them when
// no category is given. One benchmark failing or panicking does not stop the
// suite.
func (r *Runner) RunAll(ctx context.Context, categories ...string) *SuiteResult {
	want := make(map[string]bool, len(categories))
	for _, c := range categories {
		want[c] = true
	}

	r.mu.RLock()
	selected := make([]*benchmark, 0, len(r.ordered))
	for _, b := range r.ordered {
		if len(want) == 0 || want[b.opts.Category] {
			selected = append(selected, b)
		}
	}
	r.mu.RUnlock()

	suite := &SuiteResult{StartTime: time.Now(), Categories: categories}
	for _, b := range selected {
		if ctx.Err() != nil {
			break
		}
		res := r.safeRun(ctx, b)
		suite.Results = append(suite.Results, res)
		suite.Total++
		if res.Passed {
			suite.Passed++
		} else {
			suite.Failed++
		}
	}
	suite.EndTime = time.Now()
	return suite
}

// safeRun turns a panic outside the measured call into a failed result.
func (r *Runner) safeRun(ctx context.Context, b *benchmark) (res *Result) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn("benchmark panicked", zap.String("benchmark", b.name), zap.Any("panic", p))
			res = &Result{
				Name:     b.name,
				Category: b.opts.Category,
				Error:    fmt.Sprintf("panic: %v", p),

				MemoryTrend: stats.MemoryTrend{Trend: stats.TrendStable},
			}
		}
	}()
	return r.run(ctx, b)
}

func (r *Runner) run(ctx context.Context, b *benchmark) *Result {
	sc := &scenario.Scenario{Name: b.name, Exec: scenario.ExecFunc(b.fn)}
	start := time.Now()

	for i := 0; i < b.opts.WarmupIterations; i++ {
		_, _ = vu.Execute(ctx, sc, b.opts.Timeout)
	}

	res := &Result{
		Name:        b.name,
		Category:    b.opts.Category,
		StartTime:   start,
		Iterations:  b.opts.Iterations,
		ThresholdMs: float64(b.opts.ExpectedThreshold) / float64(time.Millisecond),
		Runs:        make([]Iteration, 0, b.opts.Iterations),
	}

	successes := make([]float64, 0, b.opts.Iterations)
	heap := make([]float64, 0, b.opts.Iterations)
	for i := 0; i < b.opts.Iterations; i++ {
		elapsed, err := vu.Execute(ctx, sc, b.opts.Timeout)
		var te *vu.ScenarioTimeoutError
		if errors.As(err, &te) {
			err = &TimeoutError{Name: b.name, Timeout: b.opts.Timeout}
		}

		it := Iteration{
			Index:      i,
			DurationMs: float64(elapsed) / float64(time.Millisecond),
			Success:    err == nil,
			ErrorKind:  vu.ErrorKind(err),
			HeapUsed:   r.heapUsed(),
		}
		if err != nil {
			it.Error = err.Error()
			res.Failures++
		} else {
			successes = append(successes, it.DurationMs)
		}
		heap = append(heap, float64(it.HeapUsed))
		res.Runs = append(res.Runs, it)
	}

	res.Stats = stats.Describe(successes)
	if res.Iterations > 0 {
		res.SuccessRate = float64(len(successes)) / float64(res.Iterations)
	}
	res.MemoryTrend = stats.DetectMemoryTrend(heap)
	res.DurationMs = float64(time.Since(start)) / float64(time.Millisecond)

	// Without a threshold there is nothing to judge; failed iterations show up
	// in Failures and SuccessRate.
	res.Passed = res.ThresholdMs <= 0 ||
		(len(successes) > 0 && res.Stats.MeanMs <= res.ThresholdMs)

	fields := []zap.Field{
		zap.String("benchmark", b.name),
		zap.Float64("meanMs", res.Stats.MeanMs),
		zap.Int("failures", res.Failures),
	}
	switch {
	case res.Passed && len(successes) == 0 && res.Iterations > 0:
		r.logger.Warn("benchmark has no successful iterations", fields...)
	case res.Passed:
		r.logger.Info("benchmark passed", fields...)
	default:
		r.logger.Warn("benchmark failed", append(fields, zap.Float64("thresholdMs", res.ThresholdMs))...)
	}
	if res.MemoryTrend.LeakDetected {
		r.logger.Warn("benchmark heap keeps growing", zap.String("benchmark", b.name),
			zap.Float64("slopeBytesPerIteration", res.MemoryTrend.SlopeBytes))
	}
	return res
}

// CompareToBaseline annotates results whose mean regressed against a
// previous benchmark report and returns the regressions.
func CompareToBaseline(suite *SuiteResult, report []byte, tolerancePct float64) ([]stats.Regression, error) {
	means, err := stats.BenchmarkMeansFromReport(report)
	if err != nil {
		return nil, err
	}
	if tolerancePct <= 0 {
		tolerancePct = 10
	}

	var out []stats.Regression
	for _, res := range suite.Results {
		old, ok := means[res.Name]
		if !ok || res.Stats.Count == 0 {
			continue
		}
		if reg, regressed := stats.CompareMean(res.Name, res.Stats.MeanMs, old, tolerancePct); regressed {
			reg := reg
			res.Regression = &reg
			out = append(out, reg)
		}
	}
	return out, nil
}
