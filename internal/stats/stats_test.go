package stats

import (
	"encoding/json"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/stampede/internal/measure"
)

func TestPercentile(t *testing.T) {
	tests := []struct {
		name string
		data []float64
		p    float64
		want float64
	}{
		{"empty", nil, 50, 0},
		{"single", []float64{7}, 99, 7},
		{"odd median", []float64{1, 2, 3, 4, 5}, 50, 3},
		{"even median", []float64{1, 2, 3, 4}, 50, 2.5},
		{"min", []float64{3, 8, 9, 20}, 0, 3},
		{"max", []float64{3, 8, 9, 20}, 100, 20},
		{"interpolated p95", []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}, 95, 95.5},
		{"p25", []float64{1, 2, 3, 4, 5}, 25, 2},
		{"clamped below", []float64{1, 2}, -10, 1},
		{"clamped above", []float64{1, 2}, 250, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Percentile(tt.data, tt.p)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Percentile(%v, %v) = %v, want %v", tt.data, tt.p, got, tt.want)
			}
		})
	}
}

func TestPercentile_NeverIndexesPastEnd(t *testing.T) {
	data := []float64{1, 2, 3}
	for p := 0.0; p <= 100; p += 0.5 {
		got := Percentile(data, p)
		if got < 1 || got > 3 {
			t.Fatalf("Percentile(%v) = %v out of range", p, got)
		}
	}
}

func TestDescribe(t *testing.T) {
	in := []float64{40, 10, 30, 20}
	got := Describe(in)

	assert.Equal(t, 4, got.Count)
	assert.InDelta(t, 25, got.MeanMs, 1e-9)
	assert.InDelta(t, 25, got.MedianMs, 1e-9)
	assert.Equal(t, 10.0, got.MinMs)
	assert.Equal(t, 40.0, got.MaxMs)
	assert.InDelta(t, math.Sqrt(125), got.StdDevMs, 1e-9)
	assert.Equal(t, []float64{40, 10, 30, 20}, in, "input must not be reordered")

	assert.Equal(t, LatencyStats{}, Describe(nil))
}

func measurement(scenario string, start time.Time, ms float64, ok bool) measure.Measurement {
	m := measure.Measurement{Scenario: scenario, StartedAt: start, DurationMs: ms, Success: ok}
	if !ok {
		m.ErrorKind = "error"
	}
	return m
}

func TestSummarize(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ms := []measure.Measurement{
		measurement("a", start, 100, true),
		measurement("a", start.Add(500*time.Millisecond), 200, true),
		measurement("b", start.Add(time.Second), 300, true),
		measurement("b", start.Add(1500*time.Millisecond), 500, false),
	}

	s := Summarize(ms)

	assert.Equal(t, int64(4), s.TotalRequests)
	assert.Equal(t, int64(3), s.SuccessfulRequests)
	assert.Equal(t, int64(1), s.FailedRequests)
	assert.InDelta(t, 200, s.AverageResponseTimeMs, 1e-9, "failures are excluded from latency")
	assert.InDelta(t, 200, s.MedianResponseTimeMs, 1e-9)
	assert.InDelta(t, 25, s.ErrorRatePct, 1e-9)
	assert.InDelta(t, 0.75, s.SuccessRate, 1e-9)
	assert.InDelta(t, 2.0, s.RequestsPerSecond, 1e-9, "4 requests over a 2s span")
	assert.Equal(t, int64(1), s.ErrorKinds["error"])
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)
	assert.Equal(t, 0.0, s.SuccessRate)
	assert.False(t, math.IsNaN(s.ErrorRatePct))
	assert.Equal(t, int64(0), s.TotalRequests)
}

func TestSummarize_AllFailures(t *testing.T) {
	start := time.Now()
	ms := []measure.Measurement{
		measurement("x", start, 5, false),
		measurement("x", start.Add(time.Millisecond), 5, false),
	}

	s := Summarize(ms)
	assert.Equal(t, 100.0, s.ErrorRatePct)
	assert.Equal(t, int64(0), s.SuccessfulRequests)
	assert.Equal(t, 0.0, s.AverageResponseTimeMs)
}

func TestSummarize_OrderIndependent(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	start := time.Now()
	ms := make([]measure.Measurement, 200)
	for i := range ms {
		ms[i] = measurement("s", start.Add(time.Duration(r.Intn(5000))*time.Millisecond), float64(r.Intn(300)+1), r.Intn(10) > 0)
	}

	want := Summarize(ms)

	shuffled := append([]measure.Measurement(nil), ms...)
	r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	got := Summarize(shuffled)
	assert.Equal(t, want.TotalRequests, got.TotalRequests)
	assert.InDelta(t, want.AverageResponseTimeMs, got.AverageResponseTimeMs, 1e-9)
	assert.InDelta(t, want.P95, got.P95, 1e-9)
	assert.InDelta(t, want.RequestsPerSecond, got.RequestsPerSecond, 1e-9)
	assert.Equal(t, want.ErrorKinds, got.ErrorKinds)
}

func TestSummary_JSONRoundTrip(t *testing.T) {
	start := time.Now()
	s := Summarize([]measure.Measurement{
		measurement("a", start, 12.5, true),
		measurement("a", start.Add(time.Second), 40, true),
		measurement("a", start.Add(2*time.Second), 1, false),
	})

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var back Summary
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, s, back)
}

func TestDetectMemoryTrend(t *testing.T) {
	increasing := make([]float64, 50)
	flat := make([]float64, 50)
	mild := make([]float64, 50)
	falling := make([]float64, 50)
	for i := range increasing {
		increasing[i] = 10_000_000 + 2000*float64(i)
		flat[i] = 10_000_000
		mild[i] = 10_000_000 + 500*float64(i)
		falling[i] = 10_000_000 - 300*float64(i)
	}

	leak := DetectMemoryTrend(increasing)
	assert.True(t, leak.LeakDetected)
	assert.Equal(t, TrendIncreasing, leak.Trend)
	assert.InDelta(t, 2000, leak.SlopeBytes, 1e-6)

	steady := DetectMemoryTrend(flat)
	assert.False(t, steady.LeakDetected)
	assert.Equal(t, TrendStable, steady.Trend)
	assert.InDelta(t, 0, steady.SlopeBytes, 1e-9)

	growing := DetectMemoryTrend(mild)
	assert.Equal(t, TrendIncreasing, growing.Trend)
	assert.False(t, growing.LeakDetected)

	assert.Equal(t, TrendDecreasing, DetectMemoryTrend(falling).Trend)
}

func TestDetectMemoryTrend_ShortSeries(t *testing.T) {
	assert.Equal(t, TrendStable, DetectMemoryTrend(nil).Trend)

	one := DetectMemoryTrend([]float64{42})
	assert.Equal(t, TrendStable, one.Trend)
	assert.Equal(t, 42.0, one.StartBytes)
}

func TestDetectMemoryTrend_NotBiasedByLength(t *testing.T) {
	short := make([]float64, 10)
	long := make([]float64, 1000)
	for i := range short {
		short[i] = 1500 * float64(i)
	}
	for i := range long {
		long[i] = 1500 * float64(i)
	}
	assert.InDelta(t, DetectMemoryTrend(short).SlopeBytes, DetectMemoryTrend(long).SlopeBytes, 1e-6)
}

func TestSampleNormal(t *testing.T) {
	r := rand.New(rand.NewSource(11))

	var sum float64
	const n = 20000
	for i := 0; i < n; i++ {
		v := SampleNormal(r, 3000, 4000.0/6, 1000, 5000)
		if v < 1000 || v > 5000 {
			t.Fatalf("sample %v outside [1000, 5000]", v)
		}
		sum += v
	}

	mean := sum / n
	if math.Abs(mean-3000) > 50 {
		t.Errorf("sample mean = %v, want ~3000", mean)
	}
}

func TestThinkTime(t *testing.T) {
	r := rand.New(rand.NewSource(5))
	for i := 0; i < 1000; i++ {
		d := ThinkTime(r, time.Second, 5*time.Second)
		if d < time.Second || d > 5*time.Second {
			t.Fatalf("think time %v outside range", d)
		}
	}
	assert.Equal(t, 2*time.Second, ThinkTime(r, 2*time.Second, 2*time.Second))
}
