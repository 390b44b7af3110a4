// Package monitor samples process and system resources on a fixed interval.
package monitor

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/logging"
)

// CPUSample holds CPU utilisation in percent.
type CPUSample struct {
	ProcessPct float64 `json:"processPct"`
	SystemPct  float64 `json:"systemPct"`
}

// MemorySample holds memory readings in bytes.
type MemorySample struct {
	HeapUsed      uint64  `json:"heapUsed"`
	HeapTotal     uint64  `json:"heapTotal"`
	RSS           uint64  `json:"rss"`
	SystemUsedPct float64 `json:"systemUsedPct"`
}

// HeapUsagePct returns heapUsed/heapTotal in percent, or 0 with no heap.
func (m MemorySample) HeapUsagePct() float64 {
	if m.HeapTotal == 0 {
		return 0
	}
	return float64(m.HeapUsed) / float64(m.HeapTotal) * 100
}

// ResourceSample is one reading of the resource monitor.
type ResourceSample struct {
	Timestamp         time.Time    `json:"timestamp"`
	CPU               CPUSample    `json:"cpu"`
	Memory            MemorySample `json:"memory"`
	SystemLoad        [3]float64   `json:"systemLoad"`
	ActiveConnections int          `json:"activeConnections"`
}

// Collector produces one sample.
type Collector interface {
	Collect(ctx context.Context) ResourceSample
}

// Options configures a Monitor.
type Options struct {
	// Interval between samples (default: 1s)
	Interval time.Duration

	// MaxSamples bounds the buffer; the oldest samples are dropped (default: 3600)
	MaxSamples int

	// ActiveConnections reports the current number of active users
	ActiveConnections func() int

	// Collector overrides the gopsutil collector
	Collector Collector

	Logger *zap.Logger
}

// Monitor samples resources into a time-ordered buffer.
//
// Start and Stop are idempotent; a stopped monitor may be started again and
// keeps its earlier samples.
type Monitor struct {
	opts   Options
	logger *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	samplesMu sync.RWMutex
	samples   []ResourceSample
}

// New creates a monitor. It does not start sampling.
func New(opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = 3600
	}
	if opts.Collector == nil {
		opts.Collector = NewSystemCollector()
	}

	return &Monitor{
		opts:   opts,
		logger: logging.OrNop(opts.Logger),
	}
}

// Start begins sampling. Calling Start on a running monitor does nothing.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true

	go m.loop(runCtx, m.done)
	m.logger.Debug("resource monitor started", zap.Duration("interval", m.opts.Interval))
}

// Stop halts sampling and waits for the sampler to exit. Calling Stop on a
// stopped monitor does nothing.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	<-done
	m.logger.Debug("resource monitor stopped", zap.Int("samples", m.Len()))
}

// Running reports whether the sampler is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	m.SampleNow(ctx)

	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SampleNow(ctx)
		}
	}
}

// SampleNow takes one sample immediately and appends it.
func (m *Monitor) SampleNow(ctx context.Context) ResourceSample {
	sample := m.opts.Collector.Collect(ctx)
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}
	if m.opts.ActiveConnections != nil {
		sample.ActiveConnections = m.opts.ActiveConnections()
	}

	m.samplesMu.Lock()
	m.samples = append(m.samples, sample)
	if over := len(m.samples) - m.opts.MaxSamples; over > 0 {
		m.samples = append(m.samples[:0:0], m.samples[over:]...)
	}
	m.samplesMu.Unlock()

	return sample
}

// Samples returns a copy of the buffer in time order.
func (m *Monitor) Samples() []ResourceSample {
	m.samplesMu.RLock()
	defer m.samplesMu.RUnlock()

	out := make([]ResourceSample, len(m.samples))
	copy(out, m.samples)
	return out
}

// Latest returns the newest sample.
func (m *Monitor) Latest() (ResourceSample, bool) {
	m.samplesMu.RLock()
	defer m.samplesMu.RUnlock()

	if len(m.samples) == 0 {
		return ResourceSample{}, false
	}
	return m.samples[len(m.samples)-1], true
}

// Len returns the number of buffered samples.
func (m *Monitor) Len() int {
	m.samplesMu.RLock()
	defer m.samplesMu.RUnlock()
	return len(m.samples)
}

// HeapSeries returns heap-used readings in sample order.
func HeapSeries(samples []ResourceSample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = float64(s.Memory.HeapUsed)
	}
	return out
}

// SystemCollector reads the Go runtime and the host through gopsutil.
// Readings the platform does not support are left at zero.
type SystemCollector struct {
	proc *process.Process
}

// NewSystemCollector creates a collector for the current process.
func NewSystemCollector() *SystemCollector {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		proc = nil
	}
	return &SystemCollector{proc: proc}
}

// Collect implements Collector.
func (c *SystemCollector) Collect(ctx context.Context) ResourceSample {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	sample := ResourceSample{
		Timestamp: time.Now(),
		Memory: MemorySample{
			HeapUsed:  ms.HeapAlloc,
			HeapTotal: ms.HeapSys,
		},
	}

	if c.proc != nil {
		if pct, err := c.proc.PercentWithContext(ctx, 0); err == nil {
			sample.CPU.ProcessPct = pct
		}
		if info, err := c.proc.MemoryInfoWithContext(ctx); err == nil {
			sample.Memory.RSS = info.RSS
		}
	}
	if pcts, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pcts) > 0 {
		sample.CPU.SystemPct = pcts[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		sample.Memory.SystemUsedPct = vm.UsedPercent
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		sample.SystemLoad = [3]float64{avg.Load1, avg.Load5, avg.Load15}
	}

	return sample
}
