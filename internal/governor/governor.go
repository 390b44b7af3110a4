// Package governor watches error rate and resource pressure during a load
// test and sheds virtual users when a threshold is crossed.
package governor

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/logging"
	"github.com/wesleyorama2/stampede/internal/measure"
	"github.com/wesleyorama2/stampede/internal/monitor"
	"github.com/wesleyorama2/stampede/internal/phase"
)

// Thresholds are the limits, in percent, that trigger load shedding.
// A zero limit disables that check.
type Thresholds struct {
	CPUPct       float64 `json:"cpuPct" yaml:"cpuPct"`
	MemoryPct    float64 `json:"memoryPct" yaml:"memoryPct"`
	ErrorRatePct float64 `json:"errorRatePct" yaml:"errorRatePct"`
}

// DefaultThresholds returns memory 85% and error rate 5% with CPU disabled.
func DefaultThresholds() Thresholds {
	return Thresholds{MemoryPct: 85, ErrorRatePct: 5}
}

// ResourceThresholdExceeded reports a reading above its configured limit.
type ResourceThresholdExceeded struct {
	Resource string
	Value    float64
	Limit    float64
}

func (e *ResourceThresholdExceeded) Error() string {
	return fmt.Sprintf("%s at %.2f%% exceeds threshold %.2f%%", e.Resource, e.Value, e.Limit)
}

// Target is the population the governor sheds from.
type Target interface {
	Phase() measure.Phase
	ActiveUsers() int
	Shed(n int) int
}

// WindowCounter reports request totals over a trailing window.
type WindowCounter interface {
	WindowCounts(window time.Duration) (total, failed int)
}

// Options configures a Governor.
type Options struct {
	Thresholds Thresholds

	// Interval between health checks (default: 1s)
	Interval time.Duration

	// Window is the trailing error-rate window (default: 60s)
	Window time.Duration

	// ShedFraction of active users stopped per breach (default: 0.1)
	ShedFraction float64

	Counter WindowCounter

	// Monitor supplies CPU and heap readings; without one the governor
	// reads the Go runtime directly and skips the CPU check
	Monitor *monitor.Monitor

	Observer phase.Observer
	Logger   *zap.Logger
}

// Governor applies advisory backpressure. It never fails the test.
type Governor struct {
	opts   Options
	target Target
	logger *zap.Logger

	mu     sync.Mutex
	events []phase.ShedEvent
}

// New creates a governor for target.
func New(target Target, opts Options) *Governor {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Window <= 0 {
		opts.Window = time.Minute
	}
	if opts.ShedFraction <= 0 || opts.ShedFraction > 1 {
		opts.ShedFraction = 0.1
	}
	return &Governor{
		opts:   opts,
		target: target,
		logger: logging.OrNop(opts.Logger),
	}
}

// Run performs health checks until ctx is cancelled.
func (g *Governor) Run(ctx context.Context) {
	ticker := time.NewTicker(g.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Check()
		}
	}
}

// Evaluate compares current readings against the thresholds and returns
// every breach, error rate first.
func (g *Governor) Evaluate() []*ResourceThresholdExceeded {
	var breaches []*ResourceThresholdExceeded
	t := g.opts.Thresholds

	if t.ErrorRatePct > 0 && g.opts.Counter != nil {
		total, failed := g.opts.Counter.WindowCounts(g.opts.Window)
		if total > 0 {
			rate := float64(failed) / float64(total) * 100
			if rate > t.ErrorRatePct {
				breaches = append(breaches, &ResourceThresholdExceeded{Resource: "errorRate", Value: rate, Limit: t.ErrorRatePct})
			}
		}
	}

	sample, haveSample := g.sample()
	if t.MemoryPct > 0 {
		pct := sample.Memory.HeapUsagePct()
		if pct > t.MemoryPct {
			breaches = append(breaches, &ResourceThresholdExceeded{Resource: "memory", Value: pct, Limit: t.MemoryPct})
		}
	}
	if t.CPUPct > 0 && haveSample {
		if cpu := sample.CPU.ProcessPct; cpu > t.CPUPct {
			breaches = append(breaches, &ResourceThresholdExceeded{Resource: "cpu", Value: cpu, Limit: t.CPUPct})
		}
	}
	return breaches
}

func (g *Governor) sample() (monitor.ResourceSample, bool) {
	if g.opts.Monitor != nil {
		if s, ok := g.opts.Monitor.Latest(); ok {
			return s, true
		}
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return monitor.ResourceSample{
		Timestamp: time.Now(),
		Memory:    monitor.MemorySample{HeapUsed: ms.HeapAlloc, HeapTotal: ms.HeapSys},
	}, false
}

// Check runs one health check and sheds load on a breach. It only acts
// during ramp-up and sustain and returns the event when users were shed.
func (g *Governor) Check() (phase.ShedEvent, bool) {
	ph := g.target.Phase()
	if ph != measure.PhaseRampUp && ph != measure.PhaseSustain {
		return phase.ShedEvent{}, false
	}

	breaches := g.Evaluate()
	if len(breaches) == 0 {
		return phase.ShedEvent{}, false
	}

	active := g.target.ActiveUsers()
	n := int(math.Ceil(g.opts.ShedFraction * float64(active)))
	if n == 0 {
		return phase.ShedEvent{}, false
	}
	shed := g.target.Shed(n)

	primary := breaches[0]
	event := phase.ShedEvent{
		Timestamp:   time.Now(),
		Phase:       ph,
		Resource:    primary.Resource,
		Value:       primary.Value,
		Limit:       primary.Limit,
		ActiveUsers: active,
		Shed:        shed,
	}

	fields := []zap.Field{
		zap.String("phase", string(ph)),
		zap.Int("activeUsers", active),
		zap.Int("shed", shed),
	}
	for _, b := range breaches {
		fields = append(fields, zap.NamedError(b.Resource, b))
	}
	g.logger.Warn("resource threshold exceeded, shedding load", fields...)

	g.mu.Lock()
	g.events = append(g.events, event)
	g.mu.Unlock()

	if g.opts.Observer != nil {
		g.opts.Observer.OnLoadShed(event)
	}
	return event, true
}

// Events returns the shed events so far.
func (g *Governor) Events() []phase.ShedEvent {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]phase.ShedEvent(nil), g.events...)
}
