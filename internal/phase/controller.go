// Package phase drives a load test through warmup, ramp-up, sustain and
// ramp-down, keeping the virtual user population at the target count.
package phase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wesleyorama2/stampede/internal/logging"
	"github.com/wesleyorama2/stampede/internal/measure"
	"github.com/wesleyorama2/stampede/internal/metrics"
	"github.com/wesleyorama2/stampede/internal/monitor"
	"github.com/wesleyorama2/stampede/internal/scenario"
	"github.com/wesleyorama2/stampede/internal/vu"
)

// Profile is the load shape of one run.
type Profile struct {
	MaxUsers int
	RampUp   time.Duration
	Sustain  time.Duration
	RampDown time.Duration

	// RampTick is the reconciliation interval while ramping (default: 100ms)
	RampTick time.Duration

	// SustainTick is the reconciliation interval during sustain (default: 1s)
	SustainTick time.Duration

	// SnapshotInterval is the cadence of progress snapshots (default: 1s)
	SnapshotInterval time.Duration

	// SpawnRate limits new users per second; 0 means unlimited
	SpawnRate float64
}

// Validate checks the profile for configuration errors.
func (p Profile) Validate() error {
	if p.MaxUsers <= 0 {
		return fmt.Errorf("maxUsers must be > 0, got %d", p.MaxUsers)
	}
	if p.RampUp < 0 || p.Sustain < 0 || p.RampDown < 0 {
		return errors.New("phase durations must not be negative")
	}
	if p.RampUp+p.Sustain+p.RampDown <= 0 {
		return errors.New("total test duration must be > 0")
	}
	if p.SpawnRate < 0 {
		return fmt.Errorf("spawnRate must not be negative, got %v", p.SpawnRate)
	}
	return nil
}

func (p Profile) withDefaults() Profile {
	if p.RampTick <= 0 {
		p.RampTick = 100 * time.Millisecond
	}
	if p.SustainTick <= 0 {
		p.SustainTick = time.Second
	}
	if p.SnapshotInterval <= 0 {
		p.SnapshotInterval = time.Second
	}
	return p
}

// Total returns the combined duration of the timed phases.
func (p Profile) Total() time.Duration {
	return p.RampUp + p.Sustain + p.RampDown
}

// TargetUsers returns the desired population elapsed into phase ph.
func TargetUsers(ph measure.Phase, elapsed time.Duration, p Profile) int {
	switch ph {
	case measure.PhaseRampUp:
		return int(math.Ceil(progress(elapsed, p.RampUp) * float64(p.MaxUsers)))
	case measure.PhaseSustain:
		return p.MaxUsers
	case measure.PhaseRampDown:
		return int(math.Floor((1 - progress(elapsed, p.RampDown)) * float64(p.MaxUsers)))
	default:
		return 0
	}
}

// progress is elapsed/total clamped to [0, 1]; a zero-length phase is complete.
func progress(elapsed, total time.Duration) float64 {
	if total <= 0 {
		return 1
	}
	f := float64(elapsed) / float64(total)
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// Window is the time span of one completed phase.
type Window struct {
	Phase measure.Phase `json:"phase"`
	Start time.Time     `json:"start"`
	End   time.Time     `json:"end"`
}

// Result summarizes a controller run.
type Result struct {
	Windows   []Window   `json:"windows"`
	Snapshots []Snapshot `json:"snapshots"`
	PeakUsers int        `json:"peakUsers"`
	Aborted   bool       `json:"aborted"`
}

// WindowCounter reports request totals over a trailing window.
type WindowCounter interface {
	WindowCounts(window time.Duration) (total, failed int)
}

// Options configures a Controller.
type Options struct {
	Profile  Profile
	Registry *scenario.Registry
	VU       vu.Config

	// Recorder receives every measurement, including warmup iterations
	Recorder measure.Recorder

	// Counter backs the requests-per-second and error rate of snapshots
	Counter WindowCounter

	// SkipWarmup passes through the warmup phase without executing
	SkipWarmup bool

	Metrics  *metrics.Engine
	Monitor  *monitor.Monitor
	Observer Observer
	Worker   string
	Logger   *zap.Logger
}

// Controller runs the phase state machine
// Warmup -> RampUp -> Sustain -> RampDown -> Done.
type Controller struct {
	opts    Options
	profile Profile
	sched   *vu.Scheduler
	limiter *rate.Limiter
	logger  *zap.Logger

	mu         sync.RWMutex
	phase      measure.Phase
	phaseStart time.Time
	windows    []Window
	snapshots  []Snapshot
	peak       int
	ran        bool
}

// NewController creates a controller and its user scheduler.
func NewController(opts Options) (*Controller, error) {
	if opts.Registry == nil {
		return nil, errors.New("phase controller requires a scenario registry")
	}
	if err := opts.Profile.Validate(); err != nil {
		return nil, err
	}
	if opts.Registry.TotalWeight() <= 0 {
		return nil, scenario.ErrEmptyRegistry
	}

	c := &Controller{
		opts:    opts,
		profile: opts.Profile.withDefaults(),
		logger:  logging.OrNop(opts.Logger),
		phase:   measure.PhaseInit,
	}
	if c.profile.SpawnRate > 0 {
		burst := int(math.Ceil(c.profile.SpawnRate))
		c.limiter = rate.NewLimiter(rate.Limit(c.profile.SpawnRate), burst)
	}
	c.sched = vu.NewScheduler(vu.SchedulerOptions{
		Config:   opts.VU,
		Recorder: opts.Recorder,
		Phase:    c.Phase,
		Worker:   opts.Worker,
		Logger:   c.logger,
	})
	return c, nil
}

// Scheduler returns the scheduler that owns this controller's users.
func (c *Controller) Scheduler() *vu.Scheduler {
	return c.sched
}

// Profile returns the effective load profile.
func (c *Controller) Profile() Profile {
	return c.profile
}

// Phase returns the current phase.
func (c *Controller) Phase() measure.Phase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase
}

// ActiveUsers returns the number of active virtual users.
func (c *Controller) ActiveUsers() int {
	return c.sched.ActiveCount()
}

// Shed stops n users spread proportionally across scenarios and returns how
// many were stopped. During sustain the next tick tops the population up.
func (c *Controller) Shed(n int) int {
	stopped := len(c.sched.StopProportional(n))
	c.setActive(c.sched.ActiveCount())
	return stopped
}

// TargetUsers returns the current target population.
func (c *Controller) TargetUsers() int {
	c.mu.RLock()
	ph, start := c.phase, c.phaseStart
	c.mu.RUnlock()
	return TargetUsers(ph, time.Since(start), c.profile)
}

// Run executes all phases and blocks until the population is back to zero.
//
// Cancelling ctx aborts the run: every user is stopped and the partial
// result is returned together with the context error.
func (c *Controller) Run(ctx context.Context) (*Result, error) {
	c.mu.Lock()
	if c.ran {
		c.mu.Unlock()
		return nil, errors.New("phase controller already ran")
	}
	c.ran = true
	c.mu.Unlock()

	snapCtx, stopSnapshots := context.WithCancel(ctx)
	snapDone := make(chan struct{})
	go func() {
		defer close(snapDone)
		c.snapshotLoop(snapCtx)
	}()

	err := c.runPhases(ctx)

	c.sched.StopAll()
	c.transition(measure.PhaseDone)
	stopSnapshots()
	<-snapDone

	grace := c.opts.VU.RequestTimeout
	if grace <= 0 {
		grace = vu.DefaultConfig().RequestTimeout
	}
	if !c.sched.Wait(grace + time.Second) {
		c.logger.Warn("virtual users did not exit within the request timeout")
	}
	c.setActive(0)

	c.mu.RLock()
	res := &Result{
		Windows:   append([]Window(nil), c.windows...),
		Snapshots: append([]Snapshot(nil), c.snapshots...),
		PeakUsers: c.peak,
		Aborted:   err != nil,
	}
	c.mu.RUnlock()
	return res, err
}

func (c *Controller) runPhases(ctx context.Context) error {
	c.transition(measure.PhaseWarmup)
	if err := c.warmup(ctx); err != nil {
		return err
	}

	steps := []struct {
		phase    measure.Phase
		duration time.Duration
		tick     time.Duration
	}{
		{measure.PhaseRampUp, c.profile.RampUp, c.profile.RampTick},
		{measure.PhaseSustain, c.profile.Sustain, c.profile.SustainTick},
		{measure.PhaseRampDown, c.profile.RampDown, c.profile.RampTick},
	}
	for _, step := range steps {
		c.transition(step.phase)
		if err := c.runPhase(ctx, step.phase, step.duration, step.tick); err != nil {
			return err
		}
	}
	return nil
}

// warmup executes each scenario's warmup iterations sequentially.
// Failures are recorded but otherwise ignored.
func (c *Controller) warmup(ctx context.Context) error {
	if c.opts.SkipWarmup {
		return nil
	}
	for _, s := range c.opts.Registry.List() {
		for i := 0; i < s.WarmupIterations; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			startedAt := time.Now()
			elapsed, err := vu.Execute(ctx, s, c.opts.VU.RequestTimeout)
			if c.opts.Recorder != nil {
				c.opts.Recorder.Record(measure.Measurement{
					Scenario:   s.Name,
					Phase:      measure.PhaseWarmup,
					StartedAt:  startedAt,
					DurationMs: float64(elapsed) / float64(time.Millisecond),
					Success:    err == nil,
					ErrorKind:  vu.ErrorKind(err),
					Worker:     c.opts.Worker,
				})
			}
		}
	}
	return nil
}

// runPhase reconciles the population on every tick until the phase ends.
func (c *Controller) runPhase(ctx context.Context, ph measure.Phase, duration, tick time.Duration) error {
	start := time.Now()
	if err := c.reconcile(ctx, ph, 0); err != nil {
		return err
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	deadline := time.NewTimer(duration)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return c.reconcile(ctx, ph, duration)
		case <-ticker.C:
			if err := c.reconcile(ctx, ph, time.Since(start)); err != nil {
				return err
			}
			if ph == measure.PhaseRampDown && c.sched.ActiveCount() == 0 {
				return nil
			}
		}
	}
}

// reconcile spawns or stops users so the population matches the target.
func (c *Controller) reconcile(ctx context.Context, ph measure.Phase, elapsed time.Duration) error {
	target := TargetUsers(ph, elapsed, c.profile)
	active := c.sched.ActiveCount()

	switch {
	case active < target:
		for i := active; i < target; i++ {
			if c.limiter != nil && !c.limiter.Allow() {
				break
			}
			s, err := c.opts.Registry.SelectWeighted()
			if err != nil {
				return err
			}
			c.sched.Spawn(ctx, ph, s)
		}
	case active > target:
		c.sched.StopN(active - target)
	}

	c.setActive(c.sched.ActiveCount())
	return nil
}

func (c *Controller) setActive(n int) {
	c.mu.Lock()
	if n > c.peak {
		c.peak = n
	}
	c.mu.Unlock()
	if c.opts.Metrics != nil {
		c.opts.Metrics.SetActiveUsers(n)
	}
}

func (c *Controller) transition(to measure.Phase) {
	now := time.Now()

	c.mu.Lock()
	from := c.phase
	if from == to {
		c.mu.Unlock()
		return
	}
	if n := len(c.windows); n > 0 && c.windows[n-1].End.IsZero() {
		c.windows[n-1].End = now
	}
	if to != measure.PhaseDone {
		c.windows = append(c.windows, Window{Phase: to, Start: now})
	}
	c.phase = to
	c.phaseStart = now
	c.mu.Unlock()

	if c.opts.Metrics != nil {
		c.opts.Metrics.SetPhase(to)
	}
	c.logger.Info("phase transition",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Int("activeUsers", c.sched.ActiveCount()))
	if c.opts.Observer != nil {
		c.opts.Observer.OnPhaseChange(from, to, now)
	}
}

func (c *Controller) snapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(c.profile.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.takeSnapshot()
		}
	}
}

func (c *Controller) takeSnapshot() Snapshot {
	snap := Snapshot{
		Timestamp:   time.Now(),
		Phase:       c.Phase(),
		ActiveUsers: c.sched.ActiveCount(),
		TargetUsers: c.TargetUsers(),
	}
	if c.opts.Counter != nil {
		interval := c.profile.SnapshotInterval
		total, failed := c.opts.Counter.WindowCounts(interval)
		snap.RequestsPerSecond = float64(total) / interval.Seconds()
		if total > 0 {
			snap.ErrorRatePct = float64(failed) / float64(total) * 100
		}
	}
	if c.opts.Monitor != nil {
		if sample, ok := c.opts.Monitor.Latest(); ok {
			snap.Resource = &sample
		}
	}

	c.mu.Lock()
	c.snapshots = append(c.snapshots, snap)
	c.mu.Unlock()

	if c.opts.Observer != nil {
		c.opts.Observer.OnSnapshot(snap)
	}
	return snap
}
