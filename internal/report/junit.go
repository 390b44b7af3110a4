package report

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/wesleyorama2/stampede/internal/benchmark"
	"github.com/wesleyorama2/stampede/internal/engine"
)

// JUnit output lets CI systems show thresholds and benchmarks as tests.

type junitSuites struct {
	XMLName xml.Name     `xml:"testsuites"`
	Suites  []junitSuite `xml:"testsuite"`
}

type junitSuite struct {
	Name      string      `xml:"name,attr"`
	Tests     int         `xml:"tests,attr"`
	Failures  int         `xml:"failures,attr"`
	Time      float64     `xml:"time,attr"`
	Timestamp string      `xml:"timestamp,attr"`
	Cases     []junitCase `xml:"testcase"`
}

type junitCase struct {
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      float64       `xml:"time,attr"`
	Failure   *junitFailure `xml:"failure,omitempty"`
	SystemOut string        `xml:"system-out,omitempty"`
}

type junitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Content string `xml:",chardata"`
}

func (s *junitSuite) add(c junitCase) {
	s.Tests++
	if c.Failure != nil {
		s.Failures++
	}
	s.Cases = append(s.Cases, c)
}

func marshalJUnit(suites ...junitSuite) ([]byte, error) {
	out, err := xml.MarshalIndent(junitSuites{Suites: suites}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode junit report: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// LoadJUnit renders a load test as one suite: the run verdict, then one
// case per threshold, scenario expectation and baseline metric.
func LoadJUnit(r *engine.TestResult) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("nil test result")
	}
	class := "stampede.load." + r.Name
	suite := junitSuite{
		Name:      r.Name,
		Time:      r.DurationMs / 1000,
		Timestamp: r.StartTime.Format(time.RFC3339),
	}

	run := junitCase{
		Name:      "run",
		Classname: class,
		Time:      r.DurationMs / 1000,
		SystemOut: fmt.Sprintf("requests=%d errorRate=%.2f%% p95=%.1fms rps=%.1f",
			r.Summary.TotalRequests, r.Summary.ErrorRatePct, r.Summary.P95, r.Summary.RequestsPerSecond),
	}
	switch {
	case r.Aborted:
		run.Failure = &junitFailure{Message: "test was aborted", Type: "Aborted"}
	case !r.Passed:
		run.Failure = &junitFailure{Message: "acceptance criteria not met", Type: "AcceptanceFailure",
			Content: strings.Join(r.Warnings, "\n")}
	}
	suite.add(run)

	for _, t := range r.Thresholds {
		c := junitCase{Name: "threshold " + t.Expression, Classname: class, SystemOut: "value=" + t.Value}
		if !t.Passed {
			c.Failure = &junitFailure{Message: t.Message, Type: "ThresholdFailure", Content: t.Value}
		}
		suite.add(c)
	}
	for _, s := range r.Scenarios {
		c := junitCase{Name: "scenario " + s.Name, Classname: class}
		if !s.Passed {
			c.Failure = &junitFailure{Message: "scenario expectations not met", Type: "ExpectationFailure",
				Content: strings.Join(s.Messages, "\n")}
		}
		suite.add(c)
	}
	for _, reg := range r.Regressions {
		suite.add(junitCase{
			Name:      "baseline " + reg.Metric,
			Classname: class,
			Failure: &junitFailure{
				Message: fmt.Sprintf("%s changed %+.1f%% (tolerance %.0f%%)", reg.Metric, reg.ChangePct, reg.Tolerance),
				Type:    "Regression",
			},
		})
	}
	return marshalJUnit(suite)
}

// BenchmarksJUnit renders one case per benchmark.
func BenchmarksJUnit(s *benchmark.SuiteResult) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("nil benchmark suite")
	}
	suite := junitSuite{
		Name:      "benchmarks",
		Time:      s.EndTime.Sub(s.StartTime).Seconds(),
		Timestamp: s.StartTime.Format(time.RFC3339),
	}
	for _, r := range s.Results {
		class := "stampede.bench"
		if r.Category != "" {
			class += "." + r.Category
		}
		c := junitCase{
			Name:      r.Name,
			Classname: class,
			Time:      r.DurationMs / 1000,
			SystemOut: fmt.Sprintf("mean=%.2fms p95=%.2fms failures=%d/%d",
				r.Stats.MeanMs, r.Stats.P95Ms, r.Failures, r.Iterations),
		}
		if !r.Passed {
			msg := r.Error
			if msg == "" {
				msg = fmt.Sprintf("%d of %d iterations failed", r.Failures, r.Iterations)
				if r.ThresholdMs > 0 && r.Stats.MeanMs > r.ThresholdMs {
					msg = fmt.Sprintf("mean %.2fms over limit %.2fms", r.Stats.MeanMs, r.ThresholdMs)
				}
			}
			c.Failure = &junitFailure{Message: msg, Type: "BenchmarkFailure"}
		}
		if r.Regression != nil && c.Failure == nil {
			c.Failure = &junitFailure{
				Message: fmt.Sprintf("mean regressed %+.1f%% against baseline", r.Regression.ChangePct),
				Type:    "Regression",
			}
		}
		suite.add(c)
	}
	return marshalJUnit(suite)
}
