package vu

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/logging"
	"github.com/wesleyorama2/stampede/internal/measure"
	"github.com/wesleyorama2/stampede/internal/scenario"
)

// Scheduler owns the pool of virtual users of one load run.
//
// Users are kept in spawn order so excess users can be stopped oldest
// first. Stopped users are pruned lazily.
type Scheduler struct {
	env    loopEnv
	logger *zap.Logger

	mu    sync.Mutex
	users []*VirtualUser

	nextID atomic.Int64
	wg     sync.WaitGroup
}

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	Config   Config
	Recorder measure.Recorder

	// Phase reports the current load phase for each measurement
	Phase func() measure.Phase

	// Worker labels measurements in cluster mode
	Worker string

	Logger *zap.Logger
}

// NewScheduler creates an empty scheduler.
func NewScheduler(opts SchedulerOptions) *Scheduler {
	phase := opts.Phase
	if phase == nil {
		phase = func() measure.Phase { return measure.PhaseSustain }
	}
	return &Scheduler{
		env: loopEnv{
			cfg:      opts.Config,
			recorder: opts.Recorder,
			phase:    phase,
			worker:   opts.Worker,
		},
		logger: logging.OrNop(opts.Logger),
	}
}

// Spawn creates a user bound to s and starts its loop.
func (s *Scheduler) Spawn(ctx context.Context, phase measure.Phase, sc *scenario.Scenario) *VirtualUser {
	id := s.nextID.Add(1)
	u := newVirtualUser(id, phase, sc)
	rng := rand.New(rand.NewSource(time.Now().UnixNano() ^ id))

	s.mu.Lock()
	s.pruneLocked()
	s.users = append(s.users, u)
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		u.run(ctx, s.env, rng)
	}()

	s.logger.Debug("virtual user spawned",
		zap.Int64("id", id),
		zap.String("scenario", sc.Name),
		zap.String("phase", string(phase)))
	return u
}

// pruneLocked drops stopped users. Callers hold s.mu.
func (s *Scheduler) pruneLocked() {
	kept := s.users[:0]
	for _, u := range s.users {
		if u.Active() {
			kept = append(kept, u)
		}
	}
	for i := len(kept); i < len(s.users); i++ {
		s.users[i] = nil
	}
	s.users = kept
}

// ActiveCount returns the number of users not yet stopped.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, u := range s.users {
		if u.Active() {
			n++
		}
	}
	return n
}

// Active returns the active users in spawn order.
func (s *Scheduler) Active() []*VirtualUser {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked()
	out := make([]*VirtualUser, len(s.users))
	copy(out, s.users)
	return out
}

// ActiveByScenario counts active users per scenario name.
func (s *Scheduler) ActiveByScenario() map[string]int {
	counts := make(map[string]int)
	for _, u := range s.Active() {
		counts[u.Scenario.Name]++
	}
	return counts
}

// StopN stops up to n users, oldest first, and returns them.
func (s *Scheduler) StopN(n int) []*VirtualUser {
	if n <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var stopped []*VirtualUser
	for _, u := range s.users {
		if len(stopped) == n {
			break
		}
		if u.Active() {
			u.Stop()
			stopped = append(stopped, u)
		}
	}
	s.pruneLocked()
	return stopped
}

// StopProportional stops n users spread across scenarios in proportion to
// their active counts. Within a scenario the oldest users go first.
func (s *Scheduler) StopProportional(n int) []*VirtualUser {
	if n <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked()
	counts := make(map[string]int)
	for _, u := range s.users {
		counts[u.Scenario.Name]++
	}
	quota := Allocate(n, counts)

	var stopped []*VirtualUser
	for _, u := range s.users {
		name := u.Scenario.Name
		if quota[name] > 0 {
			u.Stop()
			quota[name]--
			stopped = append(stopped, u)
		}
	}
	s.pruneLocked()
	return stopped
}

// StopAll stops every user.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		u.Stop()
	}
	s.pruneLocked()
}

// Wait blocks until every loop goroutine has exited or timeout elapses.
// It reports whether all loops exited.
func (s *Scheduler) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Allocate splits n across groups in proportion to counts using the
// largest remainder method. Ties on the remainder go to the name that
// sorts first. The result never exceeds a group's count.
func Allocate(n int, counts map[string]int) map[string]int {
	total := 0
	names := make([]string, 0, len(counts))
	for name, c := range counts {
		if c > 0 {
			total += c
			names = append(names, name)
		}
	}
	sort.Strings(names)

	out := make(map[string]int, len(names))
	if n <= 0 || total == 0 {
		return out
	}
	if n >= total {
		for _, name := range names {
			out[name] = counts[name]
		}
		return out
	}

	type rem struct {
		name string
		frac float64
	}
	rems := make([]rem, 0, len(names))
	assigned := 0
	for _, name := range names {
		exact := float64(n) * float64(counts[name]) / float64(total)
		whole := int(exact)
		out[name] = whole
		assigned += whole
		rems = append(rems, rem{name: name, frac: exact - float64(whole)})
	}

	sort.SliceStable(rems, func(i, j int) bool { return rems[i].frac > rems[j].frac })
	for i := 0; assigned < n && i < len(rems); i++ {
		name := rems[i].name
		if out[name] < counts[name] {
			out[name]++
			assigned++
		}
	}
	return out
}
