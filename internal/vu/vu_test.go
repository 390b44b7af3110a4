package vu

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/stampede/internal/measure"
	"github.com/wesleyorama2/stampede/internal/scenario"
)

func fastConfig() Config {
	return Config{
		RequestTimeout: time.Second,
		ThinkTimeMin:   time.Millisecond,
		ThinkTimeMax:   2 * time.Millisecond,
		FailureBackoff: 5 * time.Millisecond,
	}
}

func newScenario(name string, exec scenario.ExecFunc) *scenario.Scenario {
	return &scenario.Scenario{Name: name, Weight: 1, Exec: exec}
}

func ok(context.Context) error { return nil }

func TestExecute(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		d, err := Execute(ctx, newScenario("ok", ok), time.Second)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, d, time.Duration(0))
	})

	t.Run("error", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := Execute(ctx, newScenario("err", func(context.Context) error { return boom }), time.Second)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, "error", ErrorKind(err))
	})

	t.Run("timeout ignored by scenario", func(t *testing.T) {
		s := newScenario("slow", func(context.Context) error {
			time.Sleep(300 * time.Millisecond)
			return nil
		})
		start := time.Now()
		_, err := Execute(ctx, s, 20*time.Millisecond)
		var te *ScenarioTimeoutError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, "slow", te.Scenario)
		assert.Equal(t, "timeout", ErrorKind(err))
		assert.Less(t, time.Since(start), 200*time.Millisecond)
	})

	t.Run("timeout honored by scenario", func(t *testing.T) {
		s := newScenario("ctx", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
		_, err := Execute(ctx, s, 10*time.Millisecond)
		var te *ScenarioTimeoutError
		assert.ErrorAs(t, err, &te)
	})

	t.Run("panic", func(t *testing.T) {
		s := newScenario("panics", func(context.Context) error { panic("kaboom") })
		_, err := Execute(ctx, s, time.Second)
		require.Error(t, err)
		assert.Equal(t, "panic", ErrorKind(err))
	})
}

func TestErrorKind_HTTPStatus(t *testing.T) {
	assert.Equal(t, "http_5xx", ErrorKind(&scenario.StatusError{Code: 503}))
	assert.Equal(t, "http_4xx", ErrorKind(&scenario.StatusError{Code: 404}))
	assert.Equal(t, "", ErrorKind(nil))
}

func TestVirtualUser_RecordsMeasurements(t *testing.T) {
	store := measure.NewStore()
	sched := NewScheduler(SchedulerOptions{
		Config:   fastConfig(),
		Recorder: store,
		Phase:    func() measure.Phase { return measure.PhaseRampUp },
		Worker:   "w1",
	})

	u := sched.Spawn(context.Background(), measure.PhaseRampUp, newScenario("ok", ok))
	time.Sleep(50 * time.Millisecond)
	u.Stop()
	require.True(t, sched.Wait(time.Second))

	ms := store.Snapshot()
	require.NotEmpty(t, ms)
	for _, m := range ms {
		assert.Equal(t, "ok", m.Scenario)
		assert.Equal(t, measure.PhaseRampUp, m.Phase)
		assert.True(t, m.Success)
		assert.Equal(t, u.ID, m.UserID)
		assert.Equal(t, "w1", m.Worker)
	}
	assert.Equal(t, int64(len(ms)), u.RequestCount())
	assert.Equal(t, int64(0), u.ErrorCount())
}

func TestVirtualUser_StopIsIdempotent(t *testing.T) {
	store := measure.NewStore()
	sched := NewScheduler(SchedulerOptions{Config: fastConfig(), Recorder: store})

	u := sched.Spawn(context.Background(), measure.PhaseSustain, newScenario("ok", ok))
	time.Sleep(20 * time.Millisecond)

	u.Stop()
	u.Stop()
	u.Stop()

	select {
	case <-u.Done():
	case <-time.After(time.Second):
		t.Fatal("user did not exit after stop")
	}
	assert.False(t, u.Active())

	n := store.Len()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, store.Len(), "no measurements after stop")
	assert.Equal(t, 0, sched.ActiveCount())
}

func TestVirtualUser_InFlightRequestCompletes(t *testing.T) {
	store := measure.NewStore()
	sched := NewScheduler(SchedulerOptions{Config: fastConfig(), Recorder: store})

	started := make(chan struct{}, 1)
	s := newScenario("slow", func(context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		time.Sleep(50 * time.Millisecond)
		return nil
	})

	u := sched.Spawn(context.Background(), measure.PhaseSustain, s)
	<-started
	u.Stop()
	<-u.Done()

	ms := store.Snapshot()
	require.Len(t, ms, 1)
	assert.True(t, ms[0].Success)
}

func TestVirtualUser_MeasurementKeepsStartPhase(t *testing.T) {
	store := measure.NewStore()
	var current atomic.Value
	current.Store(measure.PhaseWarmup)
	sched := NewScheduler(SchedulerOptions{
		Config:   fastConfig(),
		Recorder: store,
		Phase:    func() measure.Phase { return current.Load().(measure.Phase) },
	})

	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	s := newScenario("slow", func(context.Context) error {
		if calls.Add(1) == 1 {
			close(started)
			<-release
		}
		return nil
	})

	u := sched.Spawn(context.Background(), measure.PhaseWarmup, s)
	<-started
	current.Store(measure.PhaseRampUp)
	close(release)
	time.Sleep(20 * time.Millisecond)
	u.Stop()
	require.True(t, sched.Wait(time.Second))

	ms := store.Snapshot()
	require.NotEmpty(t, ms)
	assert.Equal(t, measure.PhaseWarmup, ms[0].Phase, "phase is taken when the execution starts")
	for _, m := range ms[1:] {
		assert.Equal(t, measure.PhaseRampUp, m.Phase)
	}
}

func TestVirtualUser_FailureBackoff(t *testing.T) {
	store := measure.NewStore()
	cfg := fastConfig()
	cfg.FailureBackoff = 40 * time.Millisecond
	sched := NewScheduler(SchedulerOptions{Config: cfg, Recorder: store})

	u := sched.Spawn(context.Background(), measure.PhaseSustain,
		newScenario("fail", func(context.Context) error { return errors.New("nope") }))
	time.Sleep(150 * time.Millisecond)
	u.Stop()
	<-u.Done()

	ms := store.Snapshot()
	require.NotEmpty(t, ms)
	assert.LessOrEqual(t, len(ms), 5)
	for _, m := range ms {
		assert.False(t, m.Success)
		assert.Equal(t, "error", m.ErrorKind)
	}
	assert.Equal(t, u.RequestCount(), u.ErrorCount())
}

func TestScheduler_ContextCancelStopsAll(t *testing.T) {
	sched := NewScheduler(SchedulerOptions{Config: fastConfig(), Recorder: measure.NewStore()})
	ctx, cancel := context.WithCancel(context.Background())

	for i := 0; i < 10; i++ {
		sched.Spawn(ctx, measure.PhaseSustain, newScenario("ok", ok))
	}
	cancel()
	assert.True(t, sched.Wait(time.Second))
}

func TestScheduler_StopNIsFIFO(t *testing.T) {
	sched := NewScheduler(SchedulerOptions{Config: fastConfig(), Recorder: measure.NewStore()})
	ctx := context.Background()

	var users []*VirtualUser
	for i := 0; i < 5; i++ {
		users = append(users, sched.Spawn(ctx, measure.PhaseRampUp, newScenario("ok", ok)))
	}
	require.Equal(t, 5, sched.ActiveCount())

	stopped := sched.StopN(2)
	require.Len(t, stopped, 2)
	assert.Equal(t, users[0].ID, stopped[0].ID)
	assert.Equal(t, users[1].ID, stopped[1].ID)
	assert.Equal(t, 3, sched.ActiveCount())

	assert.Len(t, sched.StopN(10), 3)
	assert.Equal(t, 0, sched.ActiveCount())
	assert.Empty(t, sched.StopN(1))
	assert.True(t, sched.Wait(time.Second))
}

func TestScheduler_StopProportional(t *testing.T) {
	sched := NewScheduler(SchedulerOptions{Config: fastConfig(), Recorder: measure.NewStore()})
	ctx := context.Background()

	a := newScenario("a", ok)
	b := newScenario("b", ok)
	for i := 0; i < 6; i++ {
		sched.Spawn(ctx, measure.PhaseSustain, a)
	}
	for i := 0; i < 4; i++ {
		sched.Spawn(ctx, measure.PhaseSustain, b)
	}

	stopped := sched.StopProportional(5)
	require.Len(t, stopped, 5)

	byScenario := map[string]int{}
	for _, u := range stopped {
		byScenario[u.Scenario.Name]++
	}
	assert.Equal(t, 3, byScenario["a"])
	assert.Equal(t, 2, byScenario["b"])
	assert.Equal(t, map[string]int{"a": 3, "b": 2}, sched.ActiveByScenario())

	sched.StopAll()
	assert.True(t, sched.Wait(time.Second))
}

func TestAllocate(t *testing.T) {
	tests := []struct {
		name   string
		n      int
		counts map[string]int
		want   map[string]int
	}{
		{"even", 4, map[string]int{"a": 4, "b": 4}, map[string]int{"a": 2, "b": 2}},
		{"remainder to largest fraction", 3, map[string]int{"a": 7, "b": 3}, map[string]int{"a": 2, "b": 1}},
		{"tie goes to first name", 1, map[string]int{"b": 1, "a": 1}, map[string]int{"a": 1, "b": 0}},
		{"more than available", 10, map[string]int{"a": 2, "b": 1}, map[string]int{"a": 2, "b": 1}},
		{"zero", 0, map[string]int{"a": 2}, map[string]int{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Allocate(tt.n, tt.counts))
		})
	}
}

func TestVirtualUser_Info(t *testing.T) {
	var calls atomic.Int64
	sched := NewScheduler(SchedulerOptions{Config: fastConfig()})
	u := sched.Spawn(context.Background(), measure.PhaseWarmup, newScenario("info", func(context.Context) error {
		calls.Add(1)
		return nil
	}))
	time.Sleep(20 * time.Millisecond)
	sched.StopAll()
	require.True(t, sched.Wait(time.Second))

	info := u.Info()
	assert.Equal(t, "info", info.Scenario)
	assert.Equal(t, measure.PhaseWarmup, info.Phase)
	assert.False(t, info.Active)
	assert.Equal(t, calls.Load(), info.RequestCount)
}
