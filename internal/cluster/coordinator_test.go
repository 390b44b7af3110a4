package cluster

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/stampede/internal/measure"
	"github.com/wesleyorama2/stampede/internal/phase"
	"github.com/wesleyorama2/stampede/internal/scenario"
	"github.com/wesleyorama2/stampede/internal/vu"
)

func TestPartition(t *testing.T) {
	tests := []struct {
		max, n int
		want   []int
	}{
		{10, 3, []int{4, 3, 3}},
		{7, 3, []int{3, 2, 2}},
		{9, 3, []int{3, 3, 3}},
		{2, 4, []int{1, 1, 0, 0}},
		{0, 2, []int{0, 0}},
	}
	for _, tt := range tests {
		got := Partition(tt.max, tt.n)
		assert.Equal(t, tt.want, got, "Partition(%d, %d)", tt.max, tt.n)

		sum := 0
		for _, v := range got {
			sum += v
		}
		if tt.max > 0 {
			assert.Equal(t, tt.max, sum)
		}
	}
	assert.Nil(t, Partition(5, 0))
}

func shortProfile(users int) phase.Profile {
	return phase.Profile{
		MaxUsers:    users,
		RampUp:      50 * time.Millisecond,
		Sustain:     200 * time.Millisecond,
		RampDown:    50 * time.Millisecond,
		RampTick:    10 * time.Millisecond,
		SustainTick: 20 * time.Millisecond,
	}
}

func testRegistry(t *testing.T) *scenario.Registry {
	t.Helper()
	reg := scenario.NewRegistry()
	_, err := reg.Register("noop", func(context.Context) error { return nil }, scenario.Options{Weight: 1})
	require.NoError(t, err)
	return reg
}

func TestCoordinator_LocalWorkers(t *testing.T) {
	reg := testRegistry(t)
	live := measure.NewStore()

	c, err := NewCoordinator(Options{
		Workers: 3,
		Profile: shortProfile(7),
		NewWorker: func(int) Worker {
			return &LocalWorker{
				Registry:      reg,
				VU:            vu.Config{RequestTimeout: time.Second, ThinkTimeMin: 2 * time.Millisecond, ThinkTimeMax: 4 * time.Millisecond},
				FlushInterval: 20 * time.Millisecond,
			}
		},
		Recorder: live,
	})
	require.NoError(t, err)

	res, err := c.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Workers, 3)
	assert.Equal(t, 3, res.Workers[0].Users)
	assert.Equal(t, 2, res.Workers[1].Users)
	assert.Equal(t, 2, res.Workers[2].Users)
	assert.Empty(t, res.Failures)

	total := 0
	ids := map[string]bool{}
	for _, w := range res.Workers {
		assert.Equal(t, WorkerCompleted, w.State)
		assert.NotEmpty(t, w.ID)
		ids[w.ID] = true
		total += w.Measurements
	}
	assert.Len(t, ids, 3, "worker ids are unique")

	require.NotEmpty(t, res.Measurements)
	assert.Equal(t, total, len(res.Measurements))
	assert.Equal(t, len(res.Measurements), live.Len())
	for _, m := range res.Measurements {
		assert.True(t, ids[m.Worker])
	}
	assert.Equal(t, 7, res.PeakUsers)
	assert.NotEmpty(t, res.Windows)
}

func TestCoordinator_WarmupRunsOnFirstWorkerOnly(t *testing.T) {
	reg := scenario.NewRegistry()
	_, err := reg.Register("noop", func(context.Context) error { return nil },
		scenario.Options{Weight: 1, WarmupIterations: 2})
	require.NoError(t, err)

	c, err := NewCoordinator(Options{
		Workers: 3,
		Profile: shortProfile(3),
		NewWorker: func(int) Worker {
			return &LocalWorker{
				Registry:      reg,
				VU:            vu.Config{RequestTimeout: time.Second, ThinkTimeMin: 2 * time.Millisecond, ThinkTimeMax: 4 * time.Millisecond},
				FlushInterval: 20 * time.Millisecond,
			}
		},
	})
	require.NoError(t, err)

	res, err := c.Run(context.Background())
	require.NoError(t, err)

	warmups := 0
	workers := map[string]bool{}
	for _, m := range res.Measurements {
		if m.Phase == measure.PhaseWarmup {
			warmups++
			workers[m.Worker] = true
		}
	}
	assert.Equal(t, 2, warmups, "warmup iterations are not multiplied by the worker count")
	require.Len(t, workers, 1)
	assert.True(t, workers[res.Workers[0].ID])
}

// crashingWorker sends one batch and fails without a completed message.
type crashingWorker struct{ panics bool }

func (w crashingWorker) Run(_ context.Context, a Assignment, out chan<- Message) error {
	out <- Message{WorkerID: a.WorkerID, Kind: KindMeasurements, Batch: []measure.Measurement{
		{Scenario: "noop", Phase: measure.PhaseSustain, StartedAt: time.Now(), DurationMs: 1, Success: true, Worker: a.WorkerID},
	}}
	if w.panics {
		panic("worker blew up")
	}
	return errors.New("connection lost")
}

// completingWorker sends one measurement and completes.
type completingWorker struct{}

func (completingWorker) Run(_ context.Context, a Assignment, out chan<- Message) error {
	out <- Message{WorkerID: a.WorkerID, Kind: KindMeasurements, Batch: []measure.Measurement{
		{Scenario: "noop", Phase: measure.PhaseSustain, StartedAt: time.Now(), DurationMs: 2, Success: true, Worker: a.WorkerID},
	}}
	out <- Message{WorkerID: a.WorkerID, Kind: KindCompleted, Result: &phase.Result{PeakUsers: a.Profile.MaxUsers}}
	return nil
}

// silentWorker returns without sending anything.
type silentWorker struct{}

func (silentWorker) Run(context.Context, Assignment, chan<- Message) error { return nil }

func TestCoordinator_WorkerFailureDegrades(t *testing.T) {
	c, err := NewCoordinator(Options{
		Workers: 4,
		Profile: shortProfile(8),
		NewWorker: func(i int) Worker {
			switch i {
			case 0:
				return crashingWorker{}
			case 1:
				return crashingWorker{panics: true}
			case 2:
				return silentWorker{}
			default:
				return completingWorker{}
			}
		},
	})
	require.NoError(t, err)

	res, err := c.Run(context.Background())
	require.NoError(t, err, "a worker failure does not abort the run")

	assert.Len(t, res.Measurements, 3, "partial data from failed workers is kept")
	require.Len(t, res.Failures, 3)
	for _, f := range res.Failures {
		var wf *WorkerFailure
		assert.ErrorAs(t, error(f), &wf)
		assert.NotEmpty(t, wf.WorkerID)
	}

	assert.Equal(t, WorkerFailed, res.Workers[0].State)
	assert.Contains(t, res.Workers[0].Error, "connection lost")
	assert.Contains(t, res.Workers[1].Error, "panicked")
	assert.Contains(t, res.Workers[2].Error, "without a completed message")
	assert.Equal(t, WorkerCompleted, res.Workers[3].State)
	assert.Equal(t, 2, res.PeakUsers)
}

func TestCoordinator_ZeroUserWorkers(t *testing.T) {
	started := 0
	c, err := NewCoordinator(Options{
		Workers: 3,
		Profile: shortProfile(1),
		NewWorker: func(int) Worker {
			started++
			return completingWorker{}
		},
	})
	require.NoError(t, err)

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, started)
	for _, w := range res.Workers {
		assert.Equal(t, WorkerCompleted, w.State)
	}
}

func TestNewCoordinator_Validation(t *testing.T) {
	_, err := NewCoordinator(Options{Workers: 0, Profile: shortProfile(1), NewWorker: func(int) Worker { return silentWorker{} }})
	assert.Error(t, err)
	_, err = NewCoordinator(Options{Workers: 1, Profile: shortProfile(1)})
	assert.Error(t, err)
	_, err = NewCoordinator(Options{Workers: 1, Profile: phase.Profile{}, NewWorker: func(int) Worker { return silentWorker{} }})
	assert.Error(t, err)
}
