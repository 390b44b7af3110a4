package phase

import (
	"time"

	"github.com/wesleyorama2/stampede/internal/measure"
	"github.com/wesleyorama2/stampede/internal/monitor"
)

// Snapshot is a point-in-time view of a running load test. Snapshots are
// produced on a fixed cadence and never modified afterwards.
type Snapshot struct {
	Timestamp         time.Time               `json:"timestamp"`
	Phase             measure.Phase           `json:"phase"`
	ActiveUsers       int                     `json:"activeUsers"`
	TargetUsers       int                     `json:"targetUsers"`
	RequestsPerSecond float64                 `json:"requestsPerSecond"`
	ErrorRatePct      float64                 `json:"errorRatePct"`
	Resource          *monitor.ResourceSample `json:"resourceSample,omitempty"`
}

// ShedEvent describes one load shedding action.
type ShedEvent struct {
	Timestamp   time.Time     `json:"timestamp"`
	Phase       measure.Phase `json:"phase"`
	Resource    string        `json:"resource"`
	Value       float64       `json:"value"`
	Limit       float64       `json:"limit"`
	ActiveUsers int           `json:"activeUsers"`
	Shed        int           `json:"shed"`
}

// Observer receives progress events while a test runs. Implementations must
// not block; they are called from the controller's goroutines.
type Observer interface {
	OnPhaseChange(from, to measure.Phase, at time.Time)
	OnSnapshot(s Snapshot)
	OnLoadShed(e ShedEvent)
}

// Observers fans events out to several observers in order.
type Observers []Observer

func (o Observers) OnPhaseChange(from, to measure.Phase, at time.Time) {
	for _, obs := range o {
		if obs != nil {
			obs.OnPhaseChange(from, to, at)
		}
	}
}

func (o Observers) OnSnapshot(s Snapshot) {
	for _, obs := range o {
		if obs != nil {
			obs.OnSnapshot(s)
		}
	}
}

func (o Observers) OnLoadShed(e ShedEvent) {
	for _, obs := range o {
		if obs != nil {
			obs.OnLoadShed(e)
		}
	}
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	PhaseChange func(from, to measure.Phase, at time.Time)
	Snapshot    func(s Snapshot)
	LoadShed    func(e ShedEvent)
}

func (f ObserverFuncs) OnPhaseChange(from, to measure.Phase, at time.Time) {
	if f.PhaseChange != nil {
		f.PhaseChange(from, to, at)
	}
}

func (f ObserverFuncs) OnSnapshot(s Snapshot) {
	if f.Snapshot != nil {
		f.Snapshot(s)
	}
}

func (f ObserverFuncs) OnLoadShed(e ShedEvent) {
	if f.LoadShed != nil {
		f.LoadShed(e)
	}
}

var (
	_ Observer = Observers(nil)
	_ Observer = ObserverFuncs{}
)
