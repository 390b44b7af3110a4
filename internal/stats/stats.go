// Package stats computes latency statistics, summaries and memory trends from
// measurement sets. Every function here is pure: results depend only on the
// inputs.
package stats

import (
	"math"
	"sort"
	"time"

	mstats "github.com/montanaflynn/stats"

	"github.com/wesleyorama2/stampede/internal/measure"
)

// Percentile returns the p-th percentile of an ascending slice using linear
// interpolation between the two closest ranks. p is clamped to [0, 100].
// An empty slice yields 0.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[n-1]
	}

	index := p / 100 * float64(n-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))
	if upper > n-1 {
		upper = n - 1
	}
	if lower == upper {
		return sorted[lower]
	}

	frac := index - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*frac
}

// LatencyStats describes a set of durations in milliseconds.
type LatencyStats struct {
	Count    int     `json:"count"`
	MeanMs   float64 `json:"meanMs"`
	MedianMs float64 `json:"medianMs"`
	MinMs    float64 `json:"minMs"`
	MaxMs    float64 `json:"maxMs"`
	StdDevMs float64 `json:"stdDevMs"`
	P90Ms    float64 `json:"p90Ms"`
	P95Ms    float64 `json:"p95Ms"`
	P99Ms    float64 `json:"p99Ms"`
}

// Describe computes latency statistics for durations given in milliseconds.
// The input is not modified.
func Describe(durationsMs []float64) LatencyStats {
	if len(durationsMs) == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, len(durationsMs))
	copy(sorted, durationsMs)
	sort.Float64s(sorted)

	// The library only errors on empty input, which is handled above.
	mean, _ := mstats.Mean(sorted)
	stdDev, _ := mstats.StandardDeviationPopulation(sorted)
	minimum, _ := mstats.Min(sorted)
	maximum, _ := mstats.Max(sorted)

	return LatencyStats{
		Count:    len(sorted),
		MeanMs:   mean,
		MedianMs: Percentile(sorted, 50),
		MinMs:    minimum,
		MaxMs:    maximum,
		StdDevMs: stdDev,
		P90Ms:    Percentile(sorted, 90),
		P95Ms:    Percentile(sorted, 95),
		P99Ms:    Percentile(sorted, 99),
	}
}

// Summary aggregates a measurement set.
type Summary struct {
	TotalRequests         int64   `json:"totalRequests"`
	SuccessfulRequests    int64   `json:"successfulRequests"`
	FailedRequests        int64   `json:"failedRequests"`
	AverageResponseTimeMs float64 `json:"averageResponseTimeMs"`
	MedianResponseTimeMs  float64 `json:"medianResponseTimeMs"`
	MinResponseTimeMs     float64 `json:"minResponseTimeMs"`
	MaxResponseTimeMs     float64 `json:"maxResponseTimeMs"`
	StdDevMs              float64 `json:"stdDevMs"`
	P90                   float64 `json:"p90"`
	P95                   float64 `json:"p95"`
	P99                   float64 `json:"p99"`
	RequestsPerSecond     float64 `json:"requestsPerSecond"`
	ErrorRatePct          float64 `json:"errorRatePct"`
	SuccessRate           float64 `json:"successRate"`

	// ErrorKinds counts failures by kind
	ErrorKinds map[string]int64 `json:"errorKinds,omitempty"`
}

// Summarize reduces measurements into a Summary.
//
// Failed measurements count towards totals and the error rate but are
// excluded from latency statistics. Throughput is total requests over the
// span from the earliest start to the latest end. The reduction is
// order-independent.
func Summarize(ms []measure.Measurement) Summary {
	var s Summary
	if len(ms) == 0 {
		return s
	}

	successes := make([]float64, 0, len(ms))
	var first, last time.Time

	for i, m := range ms {
		s.TotalRequests++
		if m.Success {
			s.SuccessfulRequests++
			successes = append(successes, m.DurationMs)
		} else {
			s.FailedRequests++
			if m.ErrorKind != "" {
				if s.ErrorKinds == nil {
					s.ErrorKinds = make(map[string]int64)
				}
				s.ErrorKinds[m.ErrorKind]++
			}
		}

		end := m.EndedAt()
		if i == 0 || m.StartedAt.Before(first) {
			first = m.StartedAt
		}
		if i == 0 || end.After(last) {
			last = end
		}
	}

	lat := Describe(successes)
	s.AverageResponseTimeMs = lat.MeanMs
	s.MedianResponseTimeMs = lat.MedianMs
	s.MinResponseTimeMs = lat.MinMs
	s.MaxResponseTimeMs = lat.MaxMs
	s.StdDevMs = lat.StdDevMs
	s.P90 = lat.P90Ms
	s.P95 = lat.P95Ms
	s.P99 = lat.P99Ms

	s.SuccessRate = float64(s.SuccessfulRequests) / float64(s.TotalRequests)
	s.ErrorRatePct = float64(s.FailedRequests) / float64(s.TotalRequests) * 100

	if span := last.Sub(first).Seconds(); span > 0 {
		s.RequestsPerSecond = float64(s.TotalRequests) / span
	}

	return s
}

// Trend classifies the direction of a memory series.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

const (
	// trendSlopeBytes is the per-iteration slope beyond which a series is
	// considered to be moving.
	trendSlopeBytes = 100.0

	// leakSlopeBytes is the per-iteration growth that flags a leak.
	leakSlopeBytes = 1000.0
)

// MemoryTrend is the result of a regression over heap readings.
type MemoryTrend struct {
	Samples      int     `json:"samples"`
	SlopeBytes   float64 `json:"slopeBytesPerIteration"`
	Trend        Trend   `json:"trend"`
	LeakDetected bool    `json:"leakDetected"`
	StartBytes   float64 `json:"startBytes"`
	EndBytes     float64 `json:"endBytes"`
}

// DetectMemoryTrend fits heap-used against iteration index with ordinary
// least squares. The slope is per iteration, not per unit of time, so the
// length of a run does not bias the verdict.
func DetectMemoryTrend(heapUsed []float64) MemoryTrend {
	result := MemoryTrend{Samples: len(heapUsed), Trend: TrendStable}
	if len(heapUsed) == 0 {
		return result
	}
	result.StartBytes = heapUsed[0]
	result.EndBytes = heapUsed[len(heapUsed)-1]
	if len(heapUsed) < 2 {
		return result
	}

	slope := olsSlope(heapUsed)
	result.SlopeBytes = slope

	switch {
	case slope > trendSlopeBytes:
		result.Trend = TrendIncreasing
	case slope < -trendSlopeBytes:
		result.Trend = TrendDecreasing
	}
	result.LeakDetected = result.Trend == TrendIncreasing && slope > leakSlopeBytes

	return result
}

// olsSlope returns the least squares slope of ys against 0..n-1.
func olsSlope(ys []float64) float64 {
	n := float64(len(ys))
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range ys {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}
