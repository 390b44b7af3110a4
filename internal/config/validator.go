package config

import (
	"fmt"
	"math"
	"net/url"
	"strings"

	"github.com/wesleyorama2/stampede/internal/engine"
	"github.com/wesleyorama2/stampede/internal/report"
	"github.com/wesleyorama2/stampede/internal/scenario"
)

// ValidationError is one problem found in a configuration.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors collects every problem found in a configuration.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e.Errors))
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Add records a problem with a field.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors reports whether any problem was recorded.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate checks the configuration for a load test run. It returns nil or
// a *ValidationErrors listing every problem.
func (c *RunConfig) Validate() error {
	errs := &ValidationErrors{}
	c.validateLoad(errs)
	c.validateCommon(errs)
	if len(c.Scenarios) == 0 {
		errs.Add("scenarios", "at least one scenario is required")
	}
	return errs.orNil()
}

// ValidateStress checks the configuration for a breaking point search.
func (c *RunConfig) ValidateStress() error {
	errs := &ValidationErrors{}
	c.validateCommon(errs)
	if len(c.Scenarios) == 0 {
		errs.Add("scenarios", "at least one scenario is required")
	}

	s := c.Stress
	if s == nil {
		errs.Add("stress", "stress section is required")
		return errs.orNil()
	}
	if s.StartUsers <= 0 {
		errs.Add("stress.startUsers", "must be greater than 0")
	}
	if s.Step <= 0 {
		errs.Add("stress.step", "must be greater than 0")
	}
	if s.MaxUsers < s.StartUsers {
		errs.Add("stress.maxUsers", "must be at least startUsers")
	}
	if s.StepDuration <= 0 {
		errs.Add("stress.stepDuration", "must be greater than 0")
	}
	checkPct(errs, "stress.failureRatePct", s.FailureRatePct)
	return errs.orNil()
}

// ValidateBenchmarks checks the configuration for a benchmark suite.
func (c *RunConfig) ValidateBenchmarks() error {
	errs := &ValidationErrors{}
	c.validateCommon(errs)
	if len(c.Benchmarks) == 0 {
		errs.Add("benchmarks", "at least one benchmark is required")
	}
	return errs.orNil()
}

func (c *RunConfig) validateLoad(errs *ValidationErrors) {
	if c.MaxConcurrentUsers <= 0 {
		errs.Add("maxConcurrentUsers", "must be greater than 0")
	}
	if c.TestDuration <= 0 {
		errs.Add("testDuration", "must be greater than 0")
	}
	if c.RampUp < 0 {
		errs.Add("rampUp", "must not be negative")
	}
	if c.RampDown < 0 {
		errs.Add("rampDown", "must not be negative")
	}
	if c.TestDuration > 0 && c.Sustain() < 0 {
		errs.Add("testDuration", fmt.Sprintf("must be at least rampUp + rampDown (%s)", (c.RampUp + c.RampDown).String()))
	}
	if c.SpawnRate < 0 || math.IsNaN(c.SpawnRate) || math.IsInf(c.SpawnRate, 0) {
		errs.Add("spawnRate", "must be a finite number >= 0")
	}
	if c.UseCluster && c.WorkerCount <= 0 {
		errs.Add("workerCount", "must be greater than 0 in cluster mode")
	}
	if c.WorkerCount < 0 {
		errs.Add("workerCount", "must not be negative")
	}
	if c.WarmupIterations < 0 {
		errs.Add("warmupIterations", "must not be negative")
	}
	if t := c.ResourceThresholds; t != nil {
		checkPct(errs, "resourceThresholds.cpuPct", t.CPUPct)
		checkPct(errs, "resourceThresholds.memoryPct", t.MemoryPct)
		checkPct(errs, "resourceThresholds.errorRatePct", t.ErrorRatePct)
	}
	checkPct(errs, "acceptance.errorRatePct", c.Acceptance.ErrorRatePct)

	for i, expr := range c.Thresholds {
		if err := engine.ValidateThreshold(expr); err != nil {
			errs.Add(fmt.Sprintf("thresholds[%d]", i), err.Error())
		}
	}
	if c.Baseline != nil {
		if c.Baseline.Path == "" {
			errs.Add("baseline.path", "is required")
		}
		if c.Baseline.TolerancePct < 0 {
			errs.Add("baseline.tolerancePct", "must not be negative")
		}
	}
}

// validateCommon covers what every command needs: timing, scenarios,
// benchmarks and the report destination.
func (c *RunConfig) validateCommon(errs *ValidationErrors) {
	if c.RequestTimeout < 0 {
		errs.Add("requestTimeout", "must not be negative")
	}
	if c.FailureBackoff < 0 {
		errs.Add("failureBackoff", "must not be negative")
	}
	if tt := c.ThinkTime; tt != nil {
		if tt.Min < 0 || tt.Max < 0 {
			errs.Add("thinkTime", "must not be negative")
		}
		if tt.Min > tt.Max {
			errs.Add("thinkTime.min", fmt.Sprintf("must not exceed max (%s > %s)", tt.Min.String(), tt.Max.String()))
		}
	}
	if c.ControlTick.Ramp < 0 || c.ControlTick.Sustain < 0 {
		errs.Add("controlTick", "must not be negative")
	}
	if c.MetricsInterval < 0 {
		errs.Add("metricsInterval", "must not be negative")
	}

	if c.HTTP.BaseURL != "" {
		if u, err := url.Parse(c.HTTP.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs.Add("http.baseUrl", fmt.Sprintf("invalid URL: %s", c.HTTP.BaseURL))
		}
	}

	seen := make(map[string]bool, len(c.Scenarios))
	for i, s := range c.Scenarios {
		prefix := fmt.Sprintf("scenarios[%d]", i)
		if s.Name == "" {
			errs.Add(prefix+".name", "is required")
		} else if seen[s.Name] {
			errs.Add(prefix+".name", fmt.Sprintf("duplicate scenario name %q", s.Name))
		}
		seen[s.Name] = true

		if w := s.Weight; w != nil && (!(*w > 0) || math.IsInf(*w, 0)) {
			errs.Add(prefix+".weight", fmt.Sprintf("must be greater than 0, got %v", *w))
		}
		if s.WarmupIterations < 0 {
			errs.Add(prefix+".warmupIterations", "must not be negative")
		}
		if s.ExpectedResponseTimeMs < 0 {
			errs.Add(prefix+".expectedResponseTimeMs", "must not be negative")
		}
		checkPct(errs, prefix+".expectedSuccessRatePct", s.ExpectedSuccessRatePct)
		c.validateRequests(errs, prefix, s.Requests)
	}

	seen = make(map[string]bool, len(c.Benchmarks))
	for i, b := range c.Benchmarks {
		prefix := fmt.Sprintf("benchmarks[%d]", i)
		if b.Name == "" {
			errs.Add(prefix+".name", "is required")
		} else if seen[b.Name] {
			errs.Add(prefix+".name", fmt.Sprintf("duplicate benchmark name %q", b.Name))
		}
		seen[b.Name] = true

		if b.Iterations < 0 || b.WarmupIterations < 0 {
			errs.Add(prefix, "iterations must not be negative")
		}
		if b.Timeout < 0 || b.ExpectedThreshold < 0 {
			errs.Add(prefix, "durations must not be negative")
		}
		c.validateRequests(errs, prefix, b.Requests)
	}

	if strings.HasPrefix(c.ReportDirectory, "s3://") {
		if _, _, err := report.ParseS3URL(c.ReportDirectory); err != nil {
			errs.Add("reportDirectory", err.Error())
		}
	}
}

func (c *RunConfig) validateRequests(errs *ValidationErrors, prefix string, reqs []scenario.HTTPRequest) {
	if len(reqs) == 0 {
		errs.Add(prefix+".requests", "at least one request is required")
	}
	for j, r := range reqs {
		field := fmt.Sprintf("%s.requests[%d]", prefix, j)
		if r.URL == "" {
			errs.Add(field+".url", "is required")
			continue
		}
		if strings.HasPrefix(r.URL, "/") && c.HTTP.BaseURL == "" {
			errs.Add(field+".url", "relative URL needs http.baseUrl")
			continue
		}
		if !strings.HasPrefix(r.URL, "/") {
			if u, err := url.Parse(r.URL); err != nil || u.Scheme == "" || u.Host == "" {
				errs.Add(field+".url", fmt.Sprintf("invalid URL: %s", r.URL))
			}
		}
		if r.ExpectStatus != 0 && (r.ExpectStatus < 100 || r.ExpectStatus > 599) {
			errs.Add(field+".expectStatus", fmt.Sprintf("invalid HTTP status %d", r.ExpectStatus))
		}
		for name, path := range r.Extract {
			if !scenario.ValidVarName(name) {
				errs.Add(field+".extract", fmt.Sprintf("invalid variable name %q", name))
			}
			if strings.TrimSpace(path) == "" {
				errs.Add(field+".extract."+name, "path is required")
			}
		}
	}
}

func checkPct(errs *ValidationErrors, field string, v float64) {
	if v < 0 || v > 100 || math.IsNaN(v) {
		errs.Add(field, fmt.Sprintf("must be within 0-100, got %v", v))
	}
}

func (e *ValidationErrors) orNil() error {
	if e.HasErrors() {
		return e
	}
	return nil
}
