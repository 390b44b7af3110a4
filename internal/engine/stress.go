package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/logging"
	"github.com/wesleyorama2/stampede/internal/measure"
	"github.com/wesleyorama2/stampede/internal/monitor"
	"github.com/wesleyorama2/stampede/internal/phase"
	"github.com/wesleyorama2/stampede/internal/scenario"
	"github.com/wesleyorama2/stampede/internal/stats"
	"github.com/wesleyorama2/stampede/internal/vu"
)

// StressOptions configures a breaking point search.
type StressOptions struct {
	StartUsers   int
	Step         int
	MaxUsers     int
	StepDuration time.Duration

	// FailureRatePct marks the breaking point (default: 50)
	FailureRatePct float64

	VU          vu.Config
	ControlTick time.Duration
	Observer    phase.Observer
	Logger      *zap.Logger
}

// Validate checks the options for configuration errors.
func (o StressOptions) Validate() error {
	switch {
	case o.StartUsers <= 0:
		return fmt.Errorf("stress startUsers must be > 0, got %d", o.StartUsers)
	case o.Step <= 0:
		return fmt.Errorf("stress step must be > 0, got %d", o.Step)
	case o.MaxUsers < o.StartUsers:
		return fmt.Errorf("stress maxUsers (%d) must be >= startUsers (%d)", o.MaxUsers, o.StartUsers)
	case o.StepDuration <= 0:
		return errors.New("stress stepDuration must be > 0")
	case o.FailureRatePct < 0 || o.FailureRatePct > 100:
		return fmt.Errorf("stress failureRatePct must be within 0-100, got %v", o.FailureRatePct)
	}
	return nil
}

// StressStep is the outcome of holding one concurrency level.
type StressStep struct {
	Users     int           `json:"users"`
	StartTime time.Time     `json:"startTime"`
	Summary   stats.Summary `json:"summary"`
}

// StressResult lists every step and the breaking point, if one was found.
type StressResult struct {
	ID            string             `json:"id"`
	StartTime     time.Time          `json:"startTime"`
	EndTime       time.Time          `json:"endTime"`
	Steps         []StressStep       `json:"steps"`
	BreakingPoint int                `json:"breakingPoint"`
	Found         bool               `json:"found"`
	Threshold     float64            `json:"failureRatePct"`
	SystemInfo    monitor.SystemInfo `json:"systemInfo"`
	Aborted       bool               `json:"aborted"`
}

// FindBreakingPoint raises concurrency from StartUsers by Step up to
// MaxUsers, holding each level for StepDuration. The breaking point is the
// first level whose failure rate reaches FailureRatePct. Load shedding is
// not applied during the search.
func FindBreakingPoint(ctx context.Context, registry *scenario.Registry, opts StressOptions) (*StressResult, error) {
	if registry == nil || registry.Len() == 0 {
		return nil, scenario.ErrEmptyRegistry
	}
	if opts.FailureRatePct == 0 {
		opts.FailureRatePct = 50
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	logger := logging.OrNop(opts.Logger)

	result := &StressResult{
		ID:         uuid.NewString(),
		StartTime:  time.Now(),
		Threshold:  opts.FailureRatePct,
		SystemInfo: monitor.CollectSystemInfo(ctx),
	}

	for users := opts.StartUsers; users <= opts.MaxUsers; users += opts.Step {
		store := measure.NewStore()
		ctrl, err := phase.NewController(phase.Options{
			Profile: phase.Profile{
				MaxUsers:    users,
				Sustain:     opts.StepDuration,
				SustainTick: opts.ControlTick,
			},
			Registry:   registry,
			VU:         opts.VU,
			Recorder:   store,
			Counter:    store,
			SkipWarmup: users > opts.StartUsers,
			Observer:   opts.Observer,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}

		stepStart := time.Now()
		_, runErr := ctrl.Run(ctx)
		measured := measure.Filter(store.Snapshot(), func(m measure.Measurement) bool {
			return m.Phase != measure.PhaseWarmup
		})
		step := StressStep{Users: users, StartTime: stepStart, Summary: stats.Summarize(measured)}
		result.Steps = append(result.Steps, step)

		logger.Info("stress step finished",
			zap.Int("users", users),
			zap.Float64("errorRatePct", step.Summary.ErrorRatePct),
			zap.Float64("rps", step.Summary.RequestsPerSecond))

		if runErr != nil {
			result.Aborted = true
			result.EndTime = time.Now()
			return result, runErr
		}
		if step.Summary.TotalRequests > 0 && step.Summary.ErrorRatePct >= opts.FailureRatePct {
			result.BreakingPoint = users
			result.Found = true
			logger.Warn("breaking point reached", zap.Int("users", users))
			break
		}
	}

	result.EndTime = time.Now()
	return result, nil
}
