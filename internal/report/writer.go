package report

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/benchmark"
	"github.com/wesleyorama2/stampede/internal/engine"
	"github.com/wesleyorama2/stampede/internal/logging"
)

// Writer encodes results and hands them to a Sink.
type Writer struct {
	Sink Sink

	// HTML also renders load test results as a page
	HTML bool

	// JUnit also writes a JUnit XML file next to load and benchmark reports
	JUnit bool

	Logger *zap.Logger
}

// WriteLoad stores a load test result as JSON and, optionally, HTML. It
// returns the locations written.
func (w *Writer) WriteLoad(ctx context.Context, result *engine.TestResult) ([]string, error) {
	data, err := Encode(KindLoad, result)
	if err != nil {
		return nil, err
	}

	base := "load-" + result.ID
	loc, err := w.put(ctx, base+".json", "application/json", data)
	if err != nil {
		return nil, err
	}
	written := []string{loc}

	if w.HTML {
		page, err := RenderHTML(result)
		if err != nil {
			return written, fmt.Errorf("render html report: %w", err)
		}
		loc, err := w.put(ctx, base+".html", "text/html; charset=utf-8", page)
		if err != nil {
			return written, err
		}
		written = append(written, loc)
	}

	if w.JUnit {
		xml, err := LoadJUnit(result)
		if err != nil {
			return written, err
		}
		loc, err := w.put(ctx, base+".xml", "application/xml", xml)
		if err != nil {
			return written, err
		}
		written = append(written, loc)
	}
	return written, nil
}

// WriteStress stores a breaking point search result.
func (w *Writer) WriteStress(ctx context.Context, result *engine.StressResult) (string, error) {
	data, err := Encode(KindStress, result)
	if err != nil {
		return "", err
	}
	return w.put(ctx, "stress-"+result.ID+".json", "application/json", data)
}

// WriteBenchmarks stores a benchmark suite result and returns the
// locations written.
func (w *Writer) WriteBenchmarks(ctx context.Context, suite *benchmark.SuiteResult) ([]string, error) {
	data, err := Encode(KindBenchmark, suite)
	if err != nil {
		return nil, err
	}
	base := "benchmark-" + suite.StartTime.UTC().Format("20060102T150405Z")
	loc, err := w.put(ctx, base+".json", "application/json", data)
	if err != nil {
		return nil, err
	}
	written := []string{loc}

	if w.JUnit {
		xml, err := BenchmarksJUnit(suite)
		if err != nil {
			return written, err
		}
		loc, err := w.put(ctx, base+".xml", "application/xml", xml)
		if err != nil {
			return written, err
		}
		written = append(written, loc)
	}
	return written, nil
}

func (w *Writer) put(ctx context.Context, name, contentType string, data []byte) (string, error) {
	loc, err := w.Sink.Put(ctx, name, contentType, data)
	if err != nil {
		return "", err
	}
	logging.OrNop(w.Logger).Info("report written", zap.String("location", loc))
	return loc, nil
}
