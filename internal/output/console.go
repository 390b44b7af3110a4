// Package output prints live progress and final summaries to a terminal or
// a plain log stream.
package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wesleyorama2/stampede/internal/benchmark"
	"github.com/wesleyorama2/stampede/internal/engine"
	"github.com/wesleyorama2/stampede/internal/measure"
	"github.com/wesleyorama2/stampede/internal/phase"
)

const (
	clearLine = "\r\033[2K"
	ruleWidth = 56
	barWidth  = 30
)

// ConsoleConfig configures a Console.
type ConsoleConfig struct {
	Name          string
	TotalDuration time.Duration
	Writer        io.Writer
	Quiet         bool
	NoColor       bool

	// ForceTTY redraws the progress line in place even when Writer is not
	// a terminal
	ForceTTY bool
}

// Console renders test progress. It implements phase.Observer.
type Console struct {
	name    string
	total   time.Duration
	w       io.Writer
	tty     bool
	quiet   bool
	palette *Palette

	mu      sync.Mutex
	started time.Time
	live    bool
}

// NewConsole creates a console writing to cfg.Writer (default stdout).
func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}
	tty := cfg.ForceTTY || IsTerminal(cfg.Writer)
	return &Console{
		name:    cfg.Name,
		total:   cfg.TotalDuration,
		w:       cfg.Writer,
		tty:     tty,
		quiet:   cfg.Quiet,
		palette: NewPalette(!cfg.NoColor && colorsWanted(tty)),
		started: time.Now(),
	}
}

// IsTTY reports whether progress is redrawn in place.
func (c *Console) IsTTY() bool { return c.tty }

// PrintHeader prints the banner shown before a run.
func (c *Console) PrintHeader(detail string) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.started = time.Now()
	c.rule()
	title := c.palette.Title.Sprint(c.name)
	if detail != "" {
		title += c.palette.Dim.Sprintf(" [%s]", detail)
	}
	c.println(title)
	c.rule()
}

// OnPhaseChange implements phase.Observer.
func (c *Console) OnPhaseChange(from, to measure.Phase, at time.Time) {
	if c.quiet || to == measure.PhaseDone {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.endLive()
	c.println(fmt.Sprintf("%s %s %s",
		c.palette.Dim.Sprint(formatElapsed(at.Sub(c.started))),
		c.palette.Phase.Sprint("▶"),
		c.palette.Phase.Sprint(to)))
}

// OnSnapshot implements phase.Observer.
func (c *Console) OnSnapshot(s phase.Snapshot) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := s.Timestamp.Sub(c.started)
	line := c.progressLine(s, elapsed)
	if c.tty {
		fmt.Fprint(c.w, clearLine+line)
		c.live = true
		return
	}
	c.println(line)
}

// OnLoadShed implements phase.Observer.
func (c *Console) OnLoadShed(e phase.ShedEvent) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.endLive()
	c.println(c.palette.Warn.Sprintf("⚠ %s %.1f over limit %.1f: shed %d of %d users",
		e.Resource, e.Value, e.Limit, e.Shed, e.ActiveUsers))
}

func (c *Console) progressLine(s phase.Snapshot, elapsed time.Duration) string {
	var b strings.Builder
	if c.total > 0 {
		progress := float64(elapsed) / float64(c.total)
		fmt.Fprintf(&b, "%s %3.0f%% ", c.palette.Good.Sprint(bar(progress, barWidth)), clamp(progress)*100)
	}
	fmt.Fprintf(&b, "%s %-9s users %s/%d  rps %s  errors %s",
		c.palette.Dim.Sprint(formatElapsed(elapsed)),
		s.Phase,
		c.palette.Value.Sprintf("%d", s.ActiveUsers),
		s.TargetUsers,
		c.palette.Value.Sprintf("%.1f", s.RequestsPerSecond),
		c.palette.ErrorRate(s.ErrorRatePct).Sprintf("%.1f%%", s.ErrorRatePct))
	if s.Resource != nil {
		fmt.Fprintf(&b, "  heap %s", formatBytes(s.Resource.Memory.HeapUsed))
	}
	return b.String()
}

// PrintSummary prints the final report of a load test.
func (c *Console) PrintSummary(r *engine.TestResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endLive()

	if c.quiet {
		c.println(verdictWord(c.palette, r.Passed, r.Aborted))
		return
	}

	sum := r.Summary
	c.println("")
	c.rule()
	c.println(fmt.Sprintf("%s - %s", c.palette.Title.Sprint(orDefault(r.Name, r.ID)), verdictWord(c.palette, r.Passed, r.Aborted)))
	c.rule()

	c.field("Duration", formatElapsed(time.Duration(r.DurationMs*float64(time.Millisecond))))
	c.field("Requests", formatNumber(sum.TotalRequests))
	c.field("Error rate", c.palette.ErrorRate(sum.ErrorRatePct).Sprintf("%.2f%%", sum.ErrorRatePct))
	c.field("Throughput", fmt.Sprintf("%.1f req/s", sum.RequestsPerSecond))
	c.field("Peak users", fmt.Sprintf("%d", r.PeakUsers))
	if r.WarmupRequests > 0 {
		c.field("Warmup", fmt.Sprintf("%d requests (excluded)", r.WarmupRequests))
	}
	c.println("")

	c.println(c.palette.Title.Sprint("Latency"))
	for _, row := range []struct {
		label string
		ms    float64
	}{
		{"min", sum.MinResponseTimeMs},
		{"mean", sum.AverageResponseTimeMs},
		{"median", sum.MedianResponseTimeMs},
		{"p90", sum.P90},
		{"p95", sum.P95},
		{"p99", sum.P99},
		{"max", sum.MaxResponseTimeMs},
	} {
		c.println(fmt.Sprintf("  %-8s %s", row.label, c.palette.Latency.Sprint(formatMillis(row.ms))))
	}

	if len(sum.ErrorKinds) > 0 {
		c.println("")
		c.println(c.palette.Title.Sprint("Errors"))
		kinds := make([]string, 0, len(sum.ErrorKinds))
		for k := range sum.ErrorKinds {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			c.println(fmt.Sprintf("  %-12s %s", k, formatNumber(sum.ErrorKinds[k])))
		}
	}

	if len(r.Scenarios) > 0 {
		c.println("")
		c.println(c.palette.Title.Sprint("Scenarios"))
		for _, s := range r.Scenarios {
			c.println(fmt.Sprintf("  %s %-20s %8s req  mean %-9s p95 %-9s err %.2f%%",
				c.palette.Verdict(s.Passed), s.Name, formatNumber(s.Summary.TotalRequests),
				formatMillis(s.Summary.AverageResponseTimeMs), formatMillis(s.Summary.P95),
				s.Summary.ErrorRatePct))
			for _, m := range s.Messages {
				c.println("      " + c.palette.Bad.Sprint(m))
			}
		}
	}

	if len(r.Thresholds) > 0 {
		c.println("")
		c.println(c.palette.Title.Sprint("Thresholds"))
		for _, t := range r.Thresholds {
			c.println(fmt.Sprintf("  %s %s (actual: %s)", c.palette.Verdict(t.Passed), t.Expression, t.Value))
		}
	}

	if len(r.LoadShedEvents) > 0 {
		shed := 0
		for _, e := range r.LoadShedEvents {
			shed += e.Shed
		}
		c.println("")
		c.println(c.palette.Warn.Sprintf("Load shedding: %d events, %d users stopped", len(r.LoadShedEvents), shed))
	}

	for _, reg := range r.Regressions {
		c.println(c.palette.Bad.Sprintf("Regression: %s %.2f -> %.2f (%+.1f%%)", reg.Metric, reg.Baseline, reg.Current, reg.ChangePct))
	}
	if r.MemoryTrend.LeakDetected {
		c.println(c.palette.Warn.Sprintf("Heap grew steadily: %.0f bytes per sample", r.MemoryTrend.SlopeBytes))
	}
	for _, w := range r.Warnings {
		c.println(c.palette.Warn.Sprint("Warning: " + w))
	}
	c.println("")
}

// PrintStress prints the outcome of a breaking point search.
func (c *Console) PrintStress(r *engine.StressResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endLive()

	if !c.quiet {
		c.println("")
		c.println(c.palette.Title.Sprint("Stress steps"))
		for _, s := range r.Steps {
			style := c.palette.ErrorRate(s.Summary.ErrorRatePct)
			if s.Summary.ErrorRatePct >= r.Threshold {
				style = c.palette.Bad
			}
			c.println(fmt.Sprintf("  %6d users  %8s req  mean %-9s %s",
				s.Users, formatNumber(s.Summary.TotalRequests), formatMillis(s.Summary.AverageResponseTimeMs),
				style.Sprintf("err %.2f%%", s.Summary.ErrorRatePct)))
		}
	}
	switch {
	case r.Found:
		c.println(c.palette.Bad.Sprintf("Breaking point: %d users (failure rate >= %.0f%%)", r.BreakingPoint, r.Threshold))
	case r.Aborted:
		c.println(c.palette.Warn.Sprint("Stress search aborted before a breaking point was found"))
	default:
		c.println(c.palette.Good.Sprint("No breaking point found within the configured range"))
	}
}

// PrintBenchmarks prints one line per benchmark and a suite total.
func (c *Console) PrintBenchmarks(s *benchmark.SuiteResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endLive()

	if !c.quiet {
		for _, r := range s.Results {
			line := fmt.Sprintf("  %s %-28s mean %-9s p95 %-9s %d/%d ok",
				c.palette.Verdict(r.Passed), r.Name, formatMillis(r.Stats.MeanMs), formatMillis(r.Stats.P95Ms),
				r.Iterations-r.Failures, r.Iterations)
			if r.ThresholdMs > 0 {
				line += c.palette.Dim.Sprintf("  (limit %s)", formatMillis(r.ThresholdMs))
			}
			c.println(line)
			if r.Error != "" {
				c.println("      " + c.palette.Bad.Sprint(r.Error))
			}
			if r.Regression != nil {
				c.println("      " + c.palette.Bad.Sprintf("regressed %+.1f%% against baseline", r.Regression.ChangePct))
			}
			if r.MemoryTrend.LeakDetected {
				c.println("      " + c.palette.Warn.Sprint("heap keeps growing"))
			}
		}
	}
	c.println(fmt.Sprintf("%d benchmarks: %s, %s",
		s.Total, c.palette.Good.Sprintf("%d passed", s.Passed), failedStyle(c.palette, s.Failed).Sprintf("%d failed", s.Failed)))
}

func (c *Console) endLive() {
	if c.live {
		fmt.Fprintln(c.w)
		c.live = false
	}
}

func (c *Console) rule() {
	c.println(c.palette.Rule.Sprint(strings.Repeat("━", ruleWidth)))
}

func (c *Console) field(label, value string) {
	c.println(fmt.Sprintf("%-12s %s", label+":", c.palette.Value.Sprint(value)))
}

func (c *Console) println(s string) {
	fmt.Fprintln(c.w, s)
}
