package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/wesleyorama2/stampede/internal/stats"
)

// ThresholdResult contains the result of a threshold evaluation.
type ThresholdResult struct {
	Metric     string `json:"metric"`
	Expression string `json:"expression"`
	Passed     bool   `json:"passed"`
	Value      string `json:"value"`
	Message    string `json:"message,omitempty"`
}

var thresholdExpr = regexp.MustCompile(`^(\w+)\s*([<>=!]+)\s*(.+)$`)

// EvaluateThreshold checks one expression such as "p95 < 500ms",
// "errorRate <= 1" or "rps > 100" against a summary.
//
// Latency metrics (avg, med, min, max, p90, p95, p99) take a duration or a
// bare number of milliseconds. errorRate and successRate are percentages.
func EvaluateThreshold(expr string, s stats.Summary) ThresholdResult {
	result := ThresholdResult{Expression: expr}

	metric, op, valueStr, err := parseThresholdExpression(expr)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse expression: %v", err)
		return result
	}
	result.Metric = metric

	actual, latency, ok := metricValue(metric, s)
	if !ok {
		result.Message = fmt.Sprintf("unknown metric: %s", metric)
		return result
	}

	threshold, err := parseThresholdValue(valueStr, latency)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse threshold value: %v", err)
		return result
	}

	result.Value = fmt.Sprintf("%.2f", actual)
	result.Passed = compareValues(actual, op, threshold)
	if !result.Passed {
		result.Message = fmt.Sprintf("%s is %.2f, threshold: %s %.2f", metric, actual, op, threshold)
	}
	return result
}

// ValidateThreshold reports whether expr names a known metric, operator
// and a parseable value.
func ValidateThreshold(expr string) error {
	metric, op, valueStr, err := parseThresholdExpression(expr)
	if err != nil {
		return err
	}
	_, latency, ok := metricValue(metric, stats.Summary{})
	if !ok {
		return fmt.Errorf("unknown metric: %s", metric)
	}
	switch op {
	case "<", "<=", ">", ">=", "==", "=", "!=", "<>":
	default:
		return fmt.Errorf("unknown operator: %s", op)
	}
	if _, err := parseThresholdValue(valueStr, latency); err != nil {
		return fmt.Errorf("invalid threshold value %q: %w", valueStr, err)
	}
	return nil
}

// metricValue looks up a metric in s. latency is true for metrics measured
// in milliseconds.
func metricValue(metric string, s stats.Summary) (actual float64, latency, ok bool) {
	switch metric {
	case "avg", "mean":
		return s.AverageResponseTimeMs, true, true
	case "med", "p50":
		return s.MedianResponseTimeMs, true, true
	case "min":
		return s.MinResponseTimeMs, true, true
	case "max":
		return s.MaxResponseTimeMs, true, true
	case "p90":
		return s.P90, true, true
	case "p95":
		return s.P95, true, true
	case "p99":
		return s.P99, true, true
	case "errorRate":
		return s.ErrorRatePct, false, true
	case "successRate":
		return s.SuccessRate * 100, false, true
	case "rps":
		return s.RequestsPerSecond, false, true
	case "count":
		return float64(s.TotalRequests), false, true
	}
	return 0, false, false
}

func parseThresholdValue(v string, latency bool) (float64, error) {
	if latency {
		return parseMillis(v)
	}
	return strconv.ParseFloat(strings.TrimSuffix(v, "%"), 64)
}

// parseMillis accepts "250ms", "1.5s" or a bare number of milliseconds.
func parseMillis(v string) (float64, error) {
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	return float64(d) / float64(time.Millisecond), nil
}

// parseThresholdExpression parses an expression like "p95 < 500ms".
func parseThresholdExpression(expr string) (metric, op, value string, err error) {
	matches := thresholdExpr.FindStringSubmatch(strings.TrimSpace(expr))
	if len(matches) != 4 {
		return "", "", "", fmt.Errorf("invalid expression format: %s", expr)
	}
	return matches[1], matches[2], strings.TrimSpace(matches[3]), nil
}

// compareValues compares two values using the given operator.
func compareValues(actual float64, op string, threshold float64) bool {
	switch op {
	case "<":
		return actual < threshold
	case "<=":
		return actual <= threshold
	case ">":
		return actual > threshold
	case ">=":
		return actual >= threshold
	case "==", "=":
		return actual == threshold
	case "!=", "<>":
		return actual != threshold
	default:
		return false
	}
}
