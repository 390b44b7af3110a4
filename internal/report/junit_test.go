package report

import (
	"context"
	"encoding/xml"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/stampede/internal/benchmark"
	"github.com/wesleyorama2/stampede/internal/stats"
)

func decodeJUnit(t *testing.T, data []byte) junitSuites {
	t.Helper()
	require.True(t, strings.HasPrefix(string(data), "<?xml"))
	var out junitSuites
	require.NoError(t, xml.Unmarshal(data, &out))
	require.Len(t, out.Suites, 1)
	return out
}

func TestLoadJUnitPassing(t *testing.T) {
	data, err := LoadJUnit(sampleResult())
	require.NoError(t, err)

	suite := decodeJUnit(t, data).Suites[0]
	assert.Equal(t, "Checkout flow", suite.Name)
	assert.Equal(t, 3, suite.Tests)
	assert.Equal(t, 0, suite.Failures)
	assert.Equal(t, "run", suite.Cases[0].Name)
	assert.Equal(t, "threshold p95 < 500ms", suite.Cases[1].Name)
	assert.Equal(t, "scenario browse", suite.Cases[2].Name)
}

func TestLoadJUnitFailures(t *testing.T) {
	r := sampleResult()
	r.Passed = false
	r.Thresholds[0].Passed = false
	r.Thresholds[0].Message = "p95 was 900ms"
	r.Regressions = []stats.Regression{{Metric: "p95", Baseline: 40, Current: 60, ChangePct: 50, Tolerance: 10}}

	data, err := LoadJUnit(r)
	require.NoError(t, err)

	suite := decodeJUnit(t, data).Suites[0]
	assert.Equal(t, 4, suite.Tests)
	assert.Equal(t, 3, suite.Failures)
	assert.Equal(t, "AcceptanceFailure", suite.Cases[0].Failure.Type)
	assert.Equal(t, "p95 was 900ms", suite.Cases[1].Failure.Message)
	assert.Equal(t, "Regression", suite.Cases[3].Failure.Type)
}

func TestLoadJUnitAborted(t *testing.T) {
	r := sampleResult()
	r.Aborted = true

	data, err := LoadJUnit(r)
	require.NoError(t, err)
	assert.Equal(t, "Aborted", decodeJUnit(t, data).Suites[0].Cases[0].Failure.Type)
}

func TestLoadJUnitNil(t *testing.T) {
	_, err := LoadJUnit(nil)
	assert.Error(t, err)
}

func TestBenchmarksJUnit(t *testing.T) {
	s := sampleSuite()
	s.Results = append(s.Results, &benchmark.Result{
		Name:        "slow",
		Category:    "api",
		Iterations:  4,
		Stats:       stats.Describe([]float64{20, 30}),
		ThresholdMs: 10,
		Failures:    0,
		MemoryTrend: stats.MemoryTrend{Trend: stats.TrendStable},
	})

	data, err := BenchmarksJUnit(s)
	require.NoError(t, err)

	suite := decodeJUnit(t, data).Suites[0]
	assert.Equal(t, 2, suite.Tests)
	assert.Equal(t, 1, suite.Failures)
	assert.Equal(t, "stampede.bench.api", suite.Cases[1].Classname)
	assert.Contains(t, suite.Cases[1].Failure.Message, "over limit")
}

func TestWriterJUnit(t *testing.T) {
	dir := t.TempDir()
	w := &Writer{Sink: FileSink{Dir: dir}, JUnit: true}

	locs, err := w.WriteLoad(context.Background(), sampleResult())
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "load-run-1.json"),
		filepath.Join(dir, "load-run-1.xml"),
	}, locs)

	locs, err = w.WriteBenchmarks(context.Background(), sampleSuite())
	require.NoError(t, err)
	assert.Len(t, locs, 2)
}

