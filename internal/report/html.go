package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"strconv"
	"time"

	"github.com/wesleyorama2/stampede/internal/engine"
	"github.com/wesleyorama2/stampede/internal/metrics"
	"github.com/wesleyorama2/stampede/internal/monitor"
)

// htmlData is what the page template renders.
type htmlData struct {
	*engine.TestResult
	Title          string
	ChartJSON      template.JS
	ResourceJSON   template.JS
	PeakHeap       uint64
	RequestSamples int
}

// chartPoint is one time series bucket flattened for chart.js.
type chartPoint struct {
	T           string  `json:"t"`
	RPS         float64 `json:"rps"`
	ErrorRate   float64 `json:"errorRate"`
	P50         float64 `json:"p50"`
	P95         float64 `json:"p95"`
	P99         float64 `json:"p99"`
	ActiveUsers int     `json:"activeUsers"`
	Phase       string  `json:"phase"`
}

type resourcePoint struct {
	T        string  `json:"t"`
	HeapMB   float64 `json:"heapMB"`
	CPUPct   float64 `json:"cpuPct"`
	Conns    int     `json:"connections"`
	LoadAvg1 float64 `json:"load1"`
}

var pageTemplate = template.Must(template.New("report").Funcs(templateFuncs()).Parse(htmlTemplate))

// RenderHTML renders a load test result as a standalone HTML page.
func RenderHTML(result *engine.TestResult) ([]byte, error) {
	if result == nil {
		return nil, errors.New("result cannot be nil")
	}

	series, err := json.Marshal(chartPoints(result.TimeSeries))
	if err != nil {
		return nil, fmt.Errorf("encode time series: %w", err)
	}
	resources, err := json.Marshal(resourcePoints(result.ResourceUsage))
	if err != nil {
		return nil, fmt.Errorf("encode resource usage: %w", err)
	}

	data := htmlData{
		TestResult:     result,
		Title:          result.Name,
		ChartJSON:      template.JS(series),
		ResourceJSON:   template.JS(resources),
		RequestSamples: len(result.Phases.RampUp) + len(result.Phases.Sustain) + len(result.Phases.RampDown),
	}
	if data.Title == "" {
		data.Title = "Load test " + result.ID
	}
	for _, s := range result.ResourceUsage {
		if s.Memory.HeapUsed > data.PeakHeap {
			data.PeakHeap = s.Memory.HeapUsed
		}
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("execute template: %w", err)
	}
	return buf.Bytes(), nil
}

func chartPoints(buckets []*metrics.TimeBucket) []chartPoint {
	points := make([]chartPoint, 0, len(buckets))
	for _, b := range buckets {
		if b == nil {
			continue
		}
		points = append(points, chartPoint{
			T:           b.Timestamp.Format(time.RFC3339),
			RPS:         b.IntervalRPS,
			ErrorRate:   b.IntervalErrorRate,
			P50:         millis(b.LatencyP50),
			P95:         millis(b.LatencyP95),
			P99:         millis(b.LatencyP99),
			ActiveUsers: b.ActiveUsers,
			Phase:       string(b.Phase),
		})
	}
	return points
}

func resourcePoints(samples []monitor.ResourceSample) []resourcePoint {
	points := make([]resourcePoint, 0, len(samples))
	for _, s := range samples {
		points = append(points, resourcePoint{
			T:        s.Timestamp.Format(time.RFC3339),
			HeapMB:   float64(s.Memory.HeapUsed) / (1 << 20),
			CPUPct:   s.CPU.ProcessPct,
			Conns:    s.ActiveConnections,
			LoadAvg1: s.SystemLoad[0],
		})
	}
	return points
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"formatDuration": formatDuration,
		"formatMillis":   formatMillis,
		"formatNumber":   formatNumber,
		"formatBytes":    formatBytes,
		"formatPct":      formatPct,
		"pct":            func(ratio float64) float64 { return ratio * 100 },
	}
}

// formatDuration renders a run duration in milliseconds.
func formatDuration(ms float64) string {
	d := time.Duration(ms * float64(time.Millisecond))
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		mins := int(d.Minutes())
		if secs := int(d.Seconds()) % 60; secs != 0 {
			return fmt.Sprintf("%dm %ds", mins, secs)
		}
		return fmt.Sprintf("%dm", mins)
	}
	hours := int(d.Hours())
	if mins := int(d.Minutes()) % 60; mins != 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dh", hours)
}

// formatMillis renders a latency given in milliseconds.
func formatMillis(ms float64) string {
	switch {
	case ms == 0:
		return "0"
	case ms < 1:
		return fmt.Sprintf("%.0fµs", ms*1000)
	case ms < 10:
		return fmt.Sprintf("%.2fms", ms)
	case ms < 1000:
		return fmt.Sprintf("%.1fms", ms)
	}
	return fmt.Sprintf("%.2fs", ms/1000)
}

// formatNumber inserts thousands separators.
func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	s := strconv.FormatInt(n, 10)
	if len(s) <= 3 {
		return s
	}

	var b bytes.Buffer
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}

func formatPct(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64) + "%"
}
