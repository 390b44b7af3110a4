// Package vu simulates virtual users: independent goroutines that execute a
// scenario in a loop with think time between iterations.
package vu

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleyorama2/stampede/internal/measure"
	"github.com/wesleyorama2/stampede/internal/scenario"
	"github.com/wesleyorama2/stampede/internal/stats"
)

// Config controls the iteration loop of every virtual user.
type Config struct {
	// RequestTimeout bounds each scenario execution (default: 30s)
	RequestTimeout time.Duration

	// ThinkTimeMin and ThinkTimeMax bound the normally distributed pause
	// after a successful iteration. Both zero disables think time.
	ThinkTimeMin time.Duration
	ThinkTimeMax time.Duration

	// FailureBackoff is the fixed pause after a failed iteration
	FailureBackoff time.Duration
}

// DefaultConfig returns the default loop configuration.
func DefaultConfig() Config {
	return Config{
		RequestTimeout: 30 * time.Second,
		ThinkTimeMin:   time.Second,
		ThinkTimeMax:   5 * time.Second,
		FailureBackoff: time.Second,
	}
}

// ScenarioTimeoutError is recorded when an execution exceeds the request timeout.
type ScenarioTimeoutError struct {
	Scenario string
	Timeout  time.Duration
}

func (e *ScenarioTimeoutError) Error() string {
	return fmt.Sprintf("scenario %q timed out after %s", e.Scenario, e.Timeout)
}

// Kind classifies the failure for measurements.
func (e *ScenarioTimeoutError) Kind() string { return "timeout" }

// PanicError wraps a recovered panic from a scenario function.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("scenario panicked: %v", e.Value) }

// Kind classifies the failure for measurements.
func (e *PanicError) Kind() string { return "panic" }

// ErrorKind returns the measurement error kind for err.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	var kinded interface{ Kind() string }
	if errors.As(err, &kinded) {
		return kinded.Kind()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "error"
}

// Execute runs s once with a hard timeout and returns the elapsed time.
//
// The scenario receives a context that expires with the timeout. If the
// function ignores it, Execute still returns at the deadline with a
// ScenarioTimeoutError and the call is left to finish on its own.
func Execute(ctx context.Context, s *scenario.Scenario, timeout time.Duration) (time.Duration, error) {
	if timeout <= 0 {
		timeout = DefaultConfig().RequestTimeout
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	start := time.Now()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- &PanicError{Value: r}
			}
		}()
		done <- s.Exec(execCtx)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		elapsed := time.Since(start)
		if err != nil && errors.Is(err, context.DeadlineExceeded) && execCtx.Err() != nil {
			return elapsed, &ScenarioTimeoutError{Scenario: s.Name, Timeout: timeout}
		}
		return elapsed, err
	case <-timer.C:
		return time.Since(start), &ScenarioTimeoutError{Scenario: s.Name, Timeout: timeout}
	}
}

// Info is a copy of a virtual user's bookkeeping.
type Info struct {
	ID           int64         `json:"id"`
	Phase        measure.Phase `json:"phase"`
	Scenario     string        `json:"scenario"`
	SpawnedAt    time.Time     `json:"spawnedAt"`
	RequestCount int64         `json:"requestCount"`
	ErrorCount   int64         `json:"errorCount"`
	Active       bool          `json:"active"`
}

// VirtualUser is one simulated client bound to a single scenario.
//
// A user goes from active to inactive exactly once; Stop is terminal and
// idempotent.
type VirtualUser struct {
	ID        int64
	Phase     measure.Phase
	Scenario  *scenario.Scenario
	SpawnedAt time.Time

	requestCount atomic.Int64
	errorCount   atomic.Int64
	active       atomic.Bool

	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
}

func newVirtualUser(id int64, phase measure.Phase, s *scenario.Scenario) *VirtualUser {
	u := &VirtualUser{
		ID:        id,
		Phase:     phase,
		Scenario:  s,
		SpawnedAt: time.Now(),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	u.active.Store(true)
	return u
}

// Active reports whether the user has not been stopped.
func (u *VirtualUser) Active() bool {
	return u.active.Load()
}

// Stop marks the user inactive. The loop observes it at its next check;
// an in-flight execution is allowed to finish or time out.
func (u *VirtualUser) Stop() {
	u.stopOnce.Do(func() {
		u.active.Store(false)
		close(u.stopCh)
	})
}

// Done is closed once the loop goroutine has exited.
func (u *VirtualUser) Done() <-chan struct{} {
	return u.doneCh
}

// RequestCount returns the number of executed iterations.
func (u *VirtualUser) RequestCount() int64 { return u.requestCount.Load() }

// ErrorCount returns the number of failed iterations.
func (u *VirtualUser) ErrorCount() int64 { return u.errorCount.Load() }

// Info returns a copy of the user's state.
func (u *VirtualUser) Info() Info {
	return Info{
		ID:           u.ID,
		Phase:        u.Phase,
		Scenario:     u.Scenario.Name,
		SpawnedAt:    u.SpawnedAt,
		RequestCount: u.requestCount.Load(),
		ErrorCount:   u.errorCount.Load(),
		Active:       u.active.Load(),
	}
}

// loopEnv is what the run loop needs from its scheduler.
type loopEnv struct {
	cfg      Config
	recorder measure.Recorder
	phase    func() measure.Phase
	worker   string
}

// run executes iterations until the user is stopped or ctx is cancelled.
func (u *VirtualUser) run(ctx context.Context, env loopEnv, rng *rand.Rand) {
	defer close(u.doneCh)

	// In-flight executions are not cancelled by a global abort, only bounded
	// by the request timeout.
	execParent := context.WithoutCancel(ctx)

	for {
		if !u.Active() || ctx.Err() != nil {
			return
		}

		// An execution belongs to the phase it started in.
		ph, startedAt := env.phase(), time.Now()
		elapsed, err := Execute(execParent, u.Scenario, env.cfg.RequestTimeout)

		m := measure.Measurement{
			Scenario:   u.Scenario.Name,
			Phase:      ph,
			StartedAt:  startedAt,
			DurationMs: float64(elapsed) / float64(time.Millisecond),
			Success:    err == nil,
			ErrorKind:  ErrorKind(err),
			UserID:     u.ID,
			Worker:     env.worker,
		}
		u.requestCount.Add(1)
		if err != nil {
			u.errorCount.Add(1)
		}
		if env.recorder != nil {
			env.recorder.Record(m)
		}

		var pause time.Duration
		if err == nil {
			pause = stats.ThinkTime(rng, env.cfg.ThinkTimeMin, env.cfg.ThinkTimeMax)
		} else {
			pause = env.cfg.FailureBackoff
		}
		if !u.sleep(ctx, pause) {
			return
		}
	}
}

// sleep pauses for d; it returns false when interrupted by a stop or cancel.
func (u *VirtualUser) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-u.stopCh:
		return false
	case <-timer.C:
		return true
	}
}
