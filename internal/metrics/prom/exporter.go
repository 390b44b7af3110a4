// Package prom exposes live test progress as Prometheus metrics.
package prom

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wesleyorama2/stampede/internal/measure"
	"github.com/wesleyorama2/stampede/internal/phase"
)

var phases = []measure.Phase{
	measure.PhaseInit,
	measure.PhaseWarmup,
	measure.PhaseRampUp,
	measure.PhaseSustain,
	measure.PhaseRampDown,
	measure.PhaseDone,
}

// Exporter is a phase.Observer and measure.Recorder backed by its own
// registry.
type Exporter struct {
	registry *prometheus.Registry

	activeUsers *prometheus.GaugeVec
	targetUsers prometheus.Gauge
	phase       *prometheus.GaugeVec
	rps         prometheus.Gauge
	errorRate   prometheus.Gauge
	heapBytes   prometheus.Gauge
	shedTotal   *prometheus.CounterVec
	requests    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
}

// NewExporter creates an exporter with a fresh registry. Runtime and
// process collectors are registered alongside the test metrics.
func NewExporter() *Exporter {
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		activeUsers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stampede_active_users",
			Help: "Virtual users currently running",
		}, []string{"phase"}),
		targetUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stampede_target_users",
			Help: "Virtual users the controller is steering towards",
		}),
		phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stampede_phase",
			Help: "1 for the current test phase, 0 otherwise",
		}, []string{"phase"}),
		rps: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stampede_requests_per_second",
			Help: "Request completions per second over the last snapshot interval",
		}),
		errorRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stampede_error_rate_percent",
			Help: "Failed requests in the trailing window, in percent",
		}),
		heapBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stampede_heap_used_bytes",
			Help: "Heap in use at the last resource sample",
		}),
		shedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stampede_shed_users_total",
			Help: "Virtual users stopped by load shedding",
		}, []string{"resource"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stampede_requests_total",
			Help: "Scenario executions by outcome",
		}, []string{"scenario", "phase", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stampede_request_duration_seconds",
			Help:    "Scenario execution latency",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		}, []string{"scenario"}),
	}

	e.registry.MustRegister(
		e.activeUsers, e.targetUsers, e.phase, e.rps, e.errorRate,
		e.heapBytes, e.shedTotal, e.requests, e.latency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return e
}

// Registry returns the registry the exporter writes to.
func (e *Exporter) Registry() *prometheus.Registry { return e.registry }

// Handler serves the registry in the Prometheus exposition format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// OnPhaseChange implements phase.Observer.
func (e *Exporter) OnPhaseChange(from, to measure.Phase, _ time.Time) {
	for _, p := range phases {
		v := 0.0
		if p == to {
			v = 1
		}
		e.phase.WithLabelValues(string(p)).Set(v)
	}
	if from != "" {
		e.activeUsers.DeleteLabelValues(string(from))
	}
}

// OnSnapshot implements phase.Observer.
func (e *Exporter) OnSnapshot(s phase.Snapshot) {
	e.activeUsers.WithLabelValues(string(s.Phase)).Set(float64(s.ActiveUsers))
	e.targetUsers.Set(float64(s.TargetUsers))
	e.rps.Set(s.RequestsPerSecond)
	e.errorRate.Set(s.ErrorRatePct)
	if s.Resource != nil {
		e.heapBytes.Set(float64(s.Resource.Memory.HeapUsed))
	}
}

// OnLoadShed implements phase.Observer.
func (e *Exporter) OnLoadShed(ev phase.ShedEvent) {
	e.shedTotal.WithLabelValues(ev.Resource).Add(float64(ev.Shed))
}

// Record implements measure.Recorder.
func (e *Exporter) Record(m measure.Measurement) {
	outcome := "success"
	if !m.Success {
		outcome = "failure"
	}
	e.requests.WithLabelValues(m.Scenario, string(m.Phase), outcome).Inc()
	if m.Success {
		e.latency.WithLabelValues(m.Scenario).Observe(m.DurationMs / 1000)
	}
}
