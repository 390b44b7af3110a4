package config

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/stampede/internal/benchmark"
	"github.com/wesleyorama2/stampede/internal/governor"
	"github.com/wesleyorama2/stampede/internal/scenario"
)

const sampleYAML = `
name: checkout
maxConcurrentUsers: 20
testDuration: 1m
rampUp: 10s
rampDown: 5s
requestTimeout: 2s
thinkTime:
  min: 0s
  max: 0s
resourceThresholds:
  cpuPct: 90
  memoryPct: 80
  errorRatePct: 10
acceptance:
  errorRatePct: 1
thresholds:
  - p95 < 500ms
http:
  baseUrl: https://shop.example.com
  headers:
    Authorization: Bearer token
scenarios:
  - name: browse
    weight: 3
    warmupIterations: 2
    expectedResponseTimeMs: 250
    requests:
      - url: /products
  - name: buy
    requests:
      - method: POST
        url: /cart
        body: '{"sku":"A1"}'
        expectStatus: 201
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadYAML(t *testing.T) {
	cfg, err := Load(writeFile(t, "run.yaml", sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "checkout", cfg.Name)
	assert.Equal(t, 20, cfg.MaxConcurrentUsers)
	assert.Equal(t, Duration(time.Minute), cfg.TestDuration)
	assert.Equal(t, Duration(10*time.Second), cfg.RampUp)
	assert.Equal(t, 90.0, cfg.ResourceThresholds.CPUPct)
	require.Len(t, cfg.Scenarios, 2)
	assert.Equal(t, 3.0, *cfg.Scenarios[0].Weight)
	assert.Equal(t, 2, cfg.Scenarios[0].WarmupIterations)
	assert.Equal(t, 250.0, cfg.Scenarios[0].ExpectedResponseTimeMs)
	assert.Equal(t, 201, cfg.Scenarios[1].Requests[0].ExpectStatus)
	assert.Equal(t, Duration(0), cfg.ThinkTime.Max)
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "run.json", `{
		"maxConcurrentUsers": 5,
		"testDuration": "30s",
		"rampUp": 5000,
		"scenarios": [{"name": "ping", "weight": 2, "requests": [{"url": "http://localhost/ping"}]}]
	}`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, Duration(30*time.Second), cfg.TestDuration)
	assert.Equal(t, Duration(5*time.Second), cfg.RampUp, "numbers are milliseconds")
	assert.Equal(t, 2.0, *cfg.Scenarios[0].Weight)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := Load(writeFile(t, "run.yaml", "maxConcurrentUsers: 5\nmaxUsers: 5\n"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "run.json", `{"maxConcurrentUsers": 5, "bogus": true}`))
	assert.Error(t, err)
}

func TestLoadBadDuration(t *testing.T) {
	_, err := Load(writeFile(t, "run.yaml", "testDuration: soon\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "soon")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDurationMarshal(t *testing.T) {
	b, err := Duration(1500 * time.Millisecond).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1.5s"`, string(b))

	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`null`)))
	assert.Equal(t, Duration(0), d)
	assert.Error(t, d.UnmarshalJSON([]byte(`true`)))

	assert.Equal(t, 3*time.Second, Duration(0).Or(3*time.Second))
	assert.Equal(t, time.Second, Duration(time.Second).Or(3*time.Second))
}

func TestApplyDefaults(t *testing.T) {
	cfg := &RunConfig{
		MaxConcurrentUsers: 10,
		TestDuration:       Duration(time.Minute),
		UseCluster:         true,
		WarmupIterations:   3,
		Scenarios:          []ScenarioConfig{{Name: "a"}, {Name: "b", WarmupIterations: 1}},
		Benchmarks:         []BenchmarkConfig{{Name: "x"}},
		Stress:             &StressConfig{},
		Baseline:           &Baseline{Path: "old.json"},
	}
	cfg.ApplyDefaults()

	assert.Equal(t, Duration(DefaultRequestTimeout), cfg.RequestTimeout)
	assert.Equal(t, Duration(time.Second), cfg.ThinkTime.Min)
	assert.Equal(t, Duration(5*time.Second), cfg.ThinkTime.Max)
	assert.Equal(t, Duration(100*time.Millisecond), cfg.ControlTick.Ramp)
	assert.Equal(t, Duration(time.Second), cfg.ControlTick.Sustain)
	assert.Equal(t, 85.0, cfg.ResourceThresholds.MemoryPct)
	assert.Equal(t, 5.0, cfg.ResourceThresholds.ErrorRatePct)
	assert.Equal(t, 0.0, cfg.ResourceThresholds.CPUPct)
	assert.Positive(t, cfg.WorkerCount)
	assert.Equal(t, "reports", cfg.ReportDirectory)
	assert.True(t, cfg.HTML())
	require.NotNil(t, cfg.Scenarios[0].Weight)
	assert.Equal(t, 1.0, *cfg.Scenarios[0].Weight)
	assert.Equal(t, 3, cfg.Scenarios[0].WarmupIterations)
	assert.Equal(t, 1, cfg.Scenarios[1].WarmupIterations)
	assert.Equal(t, DefaultIterations, cfg.Benchmarks[0].Iterations)
	assert.Equal(t, cfg.RequestTimeout, cfg.Benchmarks[0].Timeout)
	assert.Equal(t, 50.0, cfg.Stress.FailureRatePct)
	assert.Equal(t, 10.0, cfg.Baseline.TolerancePct)

	before := *cfg
	cfg.ApplyDefaults()
	assert.Equal(t, before.ThinkTime, cfg.ThinkTime)
	assert.Equal(t, before.WorkerCount, cfg.WorkerCount)
}

func TestApplyDefaultsKeepsExplicitZeroThinkTime(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML), "yaml")
	require.NoError(t, err)
	cfg.ApplyDefaults()

	v := cfg.VU()
	assert.Zero(t, v.ThinkTimeMin)
	assert.Zero(t, v.ThinkTimeMax)
	assert.Equal(t, 2*time.Second, v.RequestTimeout)
	assert.Equal(t, time.Second, v.FailureBackoff)
}

func TestValidateSample(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML), "yaml")
	require.NoError(t, err)
	cfg.ApplyDefaults()
	assert.NoError(t, cfg.Validate())
}

func TestValidateAccumulatesErrors(t *testing.T) {
	cfg := &RunConfig{
		MaxConcurrentUsers: 0,
		TestDuration:       Duration(10 * time.Second),
		RampUp:             Duration(8 * time.Second),
		RampDown:           Duration(8 * time.Second),
		ThinkTime:          &ThinkTime{Min: Duration(5 * time.Second), Max: Duration(time.Second)},
		ResourceThresholds: &governor.Thresholds{MemoryPct: 120},
		Thresholds:         []string{"latency < 5ms"},
		Scenarios: []ScenarioConfig{
			{Name: "a", Requests: []scenario.HTTPRequest{{URL: "/x"}}},
			{Name: "a", Weight: weight(-1)},
		},
		ReportDirectory: "s3://",
	}

	err := cfg.Validate()
	require.Error(t, err)

	var verrs *ValidationErrors
	require.True(t, errors.As(err, &verrs))

	fields := make(map[string]bool)
	for _, e := range verrs.Errors {
		fields[e.Field] = true
	}
	for _, want := range []string{
		"maxConcurrentUsers",
		"testDuration",
		"thinkTime.min",
		"resourceThresholds.memoryPct",
		"thresholds[0]",
		"scenarios[0].requests[0].url",
		"scenarios[1].name",
		"scenarios[1].weight",
		"scenarios[1].requests",
		"reportDirectory",
	} {
		assert.True(t, fields[want], "missing error for %s in:\n%s", want, err)
	}
	assert.Contains(t, err.Error(), "validation errors:")
}

func weight(w float64) *float64 { return &w }

func TestValidateRejectsZeroWeight(t *testing.T) {
	cfg, err := Parse([]byte(`
maxConcurrentUsers: 2
testDuration: 1s
scenarios:
  - name: idle
    weight: 0
    requests:
      - url: http://localhost/
  - name: default
    requests:
      - url: http://localhost/
`), "yaml")
	require.NoError(t, err)
	cfg.ApplyDefaults()

	require.NotNil(t, cfg.Scenarios[0].Weight, "explicit zero is kept")
	assert.Equal(t, 0.0, *cfg.Scenarios[0].Weight)
	assert.Equal(t, 1.0, *cfg.Scenarios[1].Weight, "absent weight defaults to 1")

	err = cfg.Validate()
	require.Error(t, err)
	var verrs *ValidationErrors
	require.True(t, errors.As(err, &verrs))
	require.Len(t, verrs.Errors, 1)
	assert.Equal(t, "scenarios[0].weight", verrs.Errors[0].Field)

	_, err = cfg.Registry(cfg.HTTPClient())
	var iw *scenario.InvalidWeightError
	assert.ErrorAs(t, err, &iw)
}

func TestValidateRequiresScenarios(t *testing.T) {
	cfg := &RunConfig{MaxConcurrentUsers: 1, TestDuration: Duration(time.Second)}
	cfg.ApplyDefaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one scenario is required")
}

func TestValidateStress(t *testing.T) {
	cfg := &RunConfig{
		Scenarios: []ScenarioConfig{{Name: "a", Requests: []scenario.HTTPRequest{{URL: "http://localhost/"}}}},
	}
	cfg.ApplyDefaults()
	err := cfg.ValidateStress()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stress section is required")

	cfg.Stress = &StressConfig{StartUsers: 2, Step: 2, MaxUsers: 10, StepDuration: Duration(time.Second)}
	cfg.ApplyDefaults()
	assert.NoError(t, cfg.ValidateStress(), "maxConcurrentUsers is not needed for stress")

	cfg.Stress.MaxUsers = 1
	assert.Error(t, cfg.ValidateStress())
}

func TestValidateBenchmarks(t *testing.T) {
	cfg := &RunConfig{}
	assert.Error(t, cfg.ValidateBenchmarks())

	cfg.Benchmarks = []BenchmarkConfig{{Name: "b", Requests: []scenario.HTTPRequest{{URL: "http://localhost/"}}}}
	assert.NoError(t, cfg.ValidateBenchmarks())
}

func TestProfile(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML), "yaml")
	require.NoError(t, err)
	cfg.ApplyDefaults()

	p := cfg.Profile()
	assert.Equal(t, 20, p.MaxUsers)
	assert.Equal(t, 10*time.Second, p.RampUp)
	assert.Equal(t, 45*time.Second, p.Sustain)
	assert.Equal(t, 5*time.Second, p.RampDown)
	assert.Equal(t, 100*time.Millisecond, p.RampTick)
	assert.NoError(t, p.Validate())
}

func TestRegistryIssuesRequests(t *testing.T) {
	var hits, authed atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("X-Team") == "perf" {
			authed.Add(1)
		}
		switch r.URL.Path {
		case "/fail":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	cfg := &RunConfig{
		HTTP: HTTPSettings{BaseURL: srv.URL + "/", Headers: map[string]string{"X-Team": "perf"}},
		Scenarios: []ScenarioConfig{
			{Name: "ok", Requests: []scenario.HTTPRequest{{URL: "/a"}, {URL: "/b"}}},
			{Name: "broken", Requests: []scenario.HTTPRequest{{URL: "/fail"}, {URL: "/never"}}},
		},
	}
	cfg.ApplyDefaults()

	reg, err := cfg.Registry(cfg.HTTPClient())
	require.NoError(t, err)
	assert.Equal(t, 2, reg.Len())

	ok, _ := reg.Get("ok")
	require.NoError(t, ok.Exec(context.Background()))

	broken, _ := reg.Get("broken")
	err = broken.Exec(context.Background())
	var se *scenario.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "http_5xx", se.Kind())

	assert.Equal(t, int32(3), hits.Load(), "the sequence stops at the first failure")
	assert.Equal(t, int32(3), authed.Load())
}

func TestRegisterBenchmarks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	cfg := &RunConfig{
		Benchmarks: []BenchmarkConfig{{
			Name:              "ping",
			Iterations:        3,
			ExpectedThreshold: Duration(time.Second),
			Requests:          []scenario.HTTPRequest{{URL: srv.URL}},
		}},
	}
	cfg.ApplyDefaults()

	runner := benchmark.NewRunner(nil)
	require.NoError(t, cfg.RegisterBenchmarks(runner, cfg.HTTPClient()))

	res, err := runner.Run(context.Background(), "ping")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Iterations)
	assert.Zero(t, res.Failures)
	assert.True(t, res.Passed)
}

func TestEngineOptionsLoadsBaseline(t *testing.T) {
	path := writeFile(t, "baseline.json", `{"summary":{"averageResponseTimeMs":10}}`)
	cfg := &RunConfig{
		MaxConcurrentUsers: 4,
		TestDuration:       Duration(time.Second),
		Baseline:           &Baseline{Path: path},
	}
	cfg.ApplyDefaults()

	opts, err := cfg.EngineOptions(nil)
	require.NoError(t, err)
	require.NotNil(t, opts.Baseline)
	assert.Equal(t, 10.0, opts.Baseline.TolerancePct)
	assert.Contains(t, string(opts.Baseline.Report), "averageResponseTimeMs")
	assert.Equal(t, 4, opts.Profile.MaxUsers)

	cfg.Baseline.Path = filepath.Join(t.TempDir(), "missing.json")
	_, err = cfg.EngineOptions(nil)
	assert.Error(t, err)
}

func TestStressOptions(t *testing.T) {
	cfg := &RunConfig{Stress: &StressConfig{StartUsers: 1, Step: 1, MaxUsers: 3, StepDuration: Duration(time.Second)}}
	cfg.ApplyDefaults()

	opts := cfg.StressOptions(nil)
	assert.Equal(t, 50.0, opts.FailureRatePct)
	assert.Equal(t, time.Second, opts.StepDuration)
	assert.NoError(t, opts.Validate())
}
