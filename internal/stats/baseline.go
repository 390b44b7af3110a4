package stats

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// Regression is one metric that moved beyond tolerance in the wrong direction.
type Regression struct {
	Metric    string  `json:"metric"`
	Baseline  float64 `json:"baseline"`
	Current   float64 `json:"current"`
	ChangePct float64 `json:"changePct"`
	Tolerance float64 `json:"tolerancePct"`
}

// BaselineFromReport extracts the summary block of a previously written JSON
// report.
func BaselineFromReport(data []byte) (Summary, error) {
	if !gjson.ValidBytes(data) {
		return Summary{}, fmt.Errorf("baseline is not valid JSON")
	}

	summary := gjson.GetBytes(data, "summary")
	if !summary.Exists() {
		return Summary{}, fmt.Errorf("baseline has no summary block")
	}

	return Summary{
		TotalRequests:         summary.Get("totalRequests").Int(),
		SuccessfulRequests:    summary.Get("successfulRequests").Int(),
		FailedRequests:        summary.Get("failedRequests").Int(),
		AverageResponseTimeMs: summary.Get("averageResponseTimeMs").Float(),
		MedianResponseTimeMs:  summary.Get("medianResponseTimeMs").Float(),
		P90:                   summary.Get("p90").Float(),
		P95:                   summary.Get("p95").Float(),
		P99:                   summary.Get("p99").Float(),
		RequestsPerSecond:     summary.Get("requestsPerSecond").Float(),
		ErrorRatePct:          summary.Get("errorRatePct").Float(),
		SuccessRate:           summary.Get("successRate").Float(),
	}, nil
}

// BenchmarkMeansFromReport extracts benchmark name -> mean (ms) from a
// previously written benchmark report.
func BenchmarkMeansFromReport(data []byte) (map[string]float64, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("baseline is not valid JSON")
	}

	means := make(map[string]float64)
	gjson.GetBytes(data, "results").ForEach(func(_, value gjson.Result) bool {
		name := value.Get("name").String()
		if name != "" {
			means[name] = value.Get("stats.meanMs").Float()
		}
		return true
	})
	return means, nil
}

// CompareToBaseline lists metrics that regressed by more than tolerancePct.
//
// Latency metrics regress upwards, throughput regresses downwards, and the
// error rate regresses when it grows by more than tolerancePct percentage
// points.
func CompareToBaseline(current, baseline Summary, tolerancePct float64) []Regression {
	var out []Regression

	higherIsWorse := []struct {
		name     string
		cur, old float64
	}{
		{"averageResponseTimeMs", current.AverageResponseTimeMs, baseline.AverageResponseTimeMs},
		{"p95", current.P95, baseline.P95},
		{"p99", current.P99, baseline.P99},
	}
	for _, m := range higherIsWorse {
		if r, ok := relativeIncrease(m.name, m.cur, m.old, tolerancePct); ok {
			out = append(out, r)
		}
	}

	if baseline.RequestsPerSecond > 0 {
		change := (current.RequestsPerSecond - baseline.RequestsPerSecond) / baseline.RequestsPerSecond * 100
		if change < -tolerancePct {
			out = append(out, Regression{
				Metric:    "requestsPerSecond",
				Baseline:  baseline.RequestsPerSecond,
				Current:   current.RequestsPerSecond,
				ChangePct: change,
				Tolerance: tolerancePct,
			})
		}
	}

	if diff := current.ErrorRatePct - baseline.ErrorRatePct; diff > tolerancePct {
		out = append(out, Regression{
			Metric:    "errorRatePct",
			Baseline:  baseline.ErrorRatePct,
			Current:   current.ErrorRatePct,
			ChangePct: diff,
			Tolerance: tolerancePct,
		})
	}

	return out
}

// CompareMean reports whether a single mean regressed beyond tolerance.
func CompareMean(name string, current, baseline, tolerancePct float64) (Regression, bool) {
	return relativeIncrease(name, current, baseline, tolerancePct)
}

func relativeIncrease(name string, cur, old, tolerancePct float64) (Regression, bool) {
	if old <= 0 {
		return Regression{}, false
	}
	change := (cur - old) / old * 100
	if change <= tolerancePct {
		return Regression{}, false
	}
	return Regression{
		Metric:    name,
		Baseline:  old,
		Current:   cur,
		ChangePct: change,
		Tolerance: tolerancePct,
	}, true
}
