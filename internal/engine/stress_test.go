package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/stampede/internal/scenario"
	"github.com/wesleyorama2/stampede/internal/vu"
)

var errOverloaded = errors.New("overloaded")

// capacityScenario succeeds only while fewer than capacity calls are in
// flight, like a server with a fixed worker pool.
func capacityScenario(capacity int) scenario.ExecFunc {
	slots := make(chan struct{}, capacity)
	return func(context.Context) error {
		select {
		case slots <- struct{}{}:
		default:
			return errOverloaded
		}
		time.Sleep(20 * time.Millisecond)
		<-slots
		return nil
	}
}

func TestFindBreakingPoint(t *testing.T) {
	reg := scenario.NewRegistry()
	register(t, reg, "capacity", capacityScenario(3), scenario.Options{Weight: 1})

	res, err := FindBreakingPoint(context.Background(), reg, StressOptions{
		StartUsers:   2,
		Step:         6,
		MaxUsers:     14,
		StepDuration: 300 * time.Millisecond,
		ControlTick:  20 * time.Millisecond,
		VU: vu.Config{
			RequestTimeout: time.Second,
			ThinkTimeMin:   time.Millisecond,
			ThinkTimeMax:   time.Millisecond,
			FailureBackoff: 5 * time.Millisecond,
		},
	})
	require.NoError(t, err)

	assert.True(t, res.Found)
	assert.Equal(t, 8, res.BreakingPoint)
	assert.Equal(t, 50.0, res.Threshold)
	require.Len(t, res.Steps, 2)
	assert.Equal(t, 2, res.Steps[0].Users)
	assert.Equal(t, 0.0, res.Steps[0].Summary.ErrorRatePct)
	assert.GreaterOrEqual(t, res.Steps[1].Summary.ErrorRatePct, 50.0)
}

func TestFindBreakingPoint_NotFound(t *testing.T) {
	reg := scenario.NewRegistry()
	register(t, reg, "ok", func(context.Context) error { return nil }, scenario.Options{Weight: 1})

	res, err := FindBreakingPoint(context.Background(), reg, StressOptions{
		StartUsers:   1,
		Step:         1,
		MaxUsers:     2,
		StepDuration: 50 * time.Millisecond,
		ControlTick:  10 * time.Millisecond,
		VU:           vu.Config{RequestTimeout: time.Second, ThinkTimeMin: time.Millisecond, ThinkTimeMax: time.Millisecond},
	})
	require.NoError(t, err)
	assert.False(t, res.Found)
	assert.Zero(t, res.BreakingPoint)
	assert.Len(t, res.Steps, 2)
}

func TestStressOptions_Validate(t *testing.T) {
	valid := StressOptions{StartUsers: 1, Step: 1, MaxUsers: 2, StepDuration: time.Second, FailureRatePct: 50}
	assert.NoError(t, valid.Validate())

	bad := []func(o *StressOptions){
		func(o *StressOptions) { o.StartUsers = 0 },
		func(o *StressOptions) { o.Step = 0 },
		func(o *StressOptions) { o.MaxUsers = 0 },
		func(o *StressOptions) { o.StepDuration = 0 },
		func(o *StressOptions) { o.FailureRatePct = 101 },
	}
	for i, mutate := range bad {
		o := valid
		mutate(&o)
		assert.Error(t, o.Validate(), "case %d", i)
	}

	_, err := FindBreakingPoint(context.Background(), scenario.NewRegistry(), valid)
	assert.ErrorIs(t, err, scenario.ErrEmptyRegistry)
}
