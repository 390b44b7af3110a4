// Package cluster fans a load test out across several workers and merges
// their measurements.
//
// Workers are addressed only through messages: the coordinator sends each
// one an Assignment and reads Measurement batches and a terminal Completed
// message back from a shared channel. A worker may be a goroutine, a child
// process or a remote node; the coordinator does not care.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/stampede/internal/logging"
	"github.com/wesleyorama2/stampede/internal/measure"
	"github.com/wesleyorama2/stampede/internal/phase"
)

// Partition splits maxUsers across n workers: each gets floor(maxUsers/n)
// and the first maxUsers%n workers get one more.
func Partition(maxUsers, n int) []int {
	if n <= 0 {
		return nil
	}
	out := make([]int, n)
	if maxUsers <= 0 {
		return out
	}
	per, rem := maxUsers/n, maxUsers%n
	for i := range out {
		out[i] = per
		if i < rem {
			out[i]++
		}
	}
	return out
}

// Assignment is the configuration message sent to a worker.
type Assignment struct {
	WorkerID string        `json:"workerId"`
	Index    int           `json:"index"`
	Profile  phase.Profile `json:"profile"`
}

// MessageKind identifies a worker message.
type MessageKind int

const (
	// KindMeasurements carries a batch of measurements
	KindMeasurements MessageKind = iota

	// KindCompleted is the terminal message of a worker
	KindCompleted

	// kindExited is sent by the coordinator's wrapper when Run returns
	kindExited
)

// Message is sent from a worker to the coordinator.
type Message struct {
	WorkerID string
	Kind     MessageKind
	Batch    []measure.Measurement
	Result   *phase.Result
	Err      error
}

// Worker executes one assignment, streaming messages to out. It should send
// a KindCompleted message before returning.
type Worker interface {
	Run(ctx context.Context, a Assignment, out chan<- Message) error
}

// WorkerFailure reports a worker that crashed or exited without completing.
type WorkerFailure struct {
	WorkerID string
	Err      error
}

func (e *WorkerFailure) Error() string {
	return fmt.Sprintf("worker %s failed: %v", e.WorkerID, e.Err)
}

func (e *WorkerFailure) Unwrap() error { return e.Err }

// errNoCompletion is used when a worker returns without a Completed message.
var errNoCompletion = errors.New("worker exited without a completed message")

// WorkerState is the lifecycle state of a worker.
type WorkerState string

const (
	WorkerPending   WorkerState = "pending"
	WorkerRunning   WorkerState = "running"
	WorkerCompleted WorkerState = "completed"
	WorkerFailed    WorkerState = "failed"
)

// WorkerStatus describes one worker after a run.
type WorkerStatus struct {
	ID           string        `json:"id"`
	Index        int           `json:"index"`
	Users        int           `json:"users"`
	State        WorkerState   `json:"state"`
	Measurements int           `json:"measurements"`
	Error        string        `json:"error,omitempty"`
	Result       *phase.Result `json:"-"`
}

// Options configures a Coordinator.
type Options struct {
	Workers int
	Profile phase.Profile

	// NewWorker builds the worker for the given index
	NewWorker func(index int) Worker

	// Recorder receives merged measurements as batches arrive
	Recorder measure.Recorder

	Logger *zap.Logger
}

// Result is the merged outcome of a cluster run.
type Result struct {
	Measurements []measure.Measurement `json:"-"`
	Workers      []WorkerStatus        `json:"workers"`
	Failures     []*WorkerFailure      `json:"-"`
	Windows      []phase.Window        `json:"windows,omitempty"`
	PeakUsers    int                   `json:"peakUsers"`
}

// Coordinator owns the worker registry for one run. Workers are keyed by
// opaque IDs and never share memory with the coordinator.
type Coordinator struct {
	opts   Options
	logger *zap.Logger
	merged *measure.Store

	mu      sync.Mutex
	workers map[string]*WorkerStatus
}

// NewCoordinator creates a coordinator.
func NewCoordinator(opts Options) (*Coordinator, error) {
	if opts.Workers <= 0 {
		return nil, fmt.Errorf("worker count must be > 0, got %d", opts.Workers)
	}
	if opts.NewWorker == nil {
		return nil, errors.New("cluster coordinator requires a worker factory")
	}
	if err := opts.Profile.Validate(); err != nil {
		return nil, err
	}
	return &Coordinator{
		opts:    opts,
		logger:  logging.OrNop(opts.Logger),
		merged:  measure.NewStore(),
		workers: make(map[string]*WorkerStatus),
	}, nil
}

// Store returns the merged measurement store.
func (c *Coordinator) Store() *measure.Store {
	return c.merged
}

// Run starts every worker and blocks until each has completed or failed.
// A failed worker contributes whatever it sent before failing.
func (c *Coordinator) Run(ctx context.Context) (*Result, error) {
	parts := Partition(c.opts.Profile.MaxUsers, c.opts.Workers)
	msgs := make(chan Message, 64*len(parts))

	var eg errgroup.Group
	for i, users := range parts {
		id := uuid.NewString()
		status := &WorkerStatus{ID: id, Index: i, Users: users, State: WorkerPending}
		c.mu.Lock()
		c.workers[id] = status
		c.mu.Unlock()

		if users == 0 {
			c.setState(id, WorkerCompleted, nil)
			continue
		}

		profile := c.opts.Profile
		profile.MaxUsers = users
		if profile.SpawnRate > 0 {
			profile.SpawnRate = profile.SpawnRate * float64(users) / float64(c.opts.Profile.MaxUsers)
		}
		a := Assignment{WorkerID: id, Index: i, Profile: profile}
		w := c.opts.NewWorker(i)

		c.setState(id, WorkerRunning, nil)
		eg.Go(func() error {
			err := runWorker(ctx, w, a, msgs)
			msgs <- Message{WorkerID: id, Kind: kindExited, Err: err}
			return nil
		})
	}

	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for msg := range msgs {
			c.handle(msg)
		}
	}()

	_ = eg.Wait()
	close(msgs)
	<-collected

	return c.result(), ctx.Err()
}

// runWorker runs w and converts a panic into an error.
func runWorker(ctx context.Context, w Worker, a Assignment, out chan<- Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panicked: %v", r)
		}
	}()
	return w.Run(ctx, a, out)
}

func (c *Coordinator) handle(msg Message) {
	c.mu.Lock()
	status, ok := c.workers[msg.WorkerID]
	c.mu.Unlock()
	if !ok {
		c.logger.Warn("message from unknown worker", zap.String("worker", msg.WorkerID))
		return
	}

	switch msg.Kind {
	case KindMeasurements:
		c.merged.RecordBatch(msg.Batch)
		if c.opts.Recorder != nil {
			for _, m := range msg.Batch {
				c.opts.Recorder.Record(m)
			}
		}
		c.mu.Lock()
		status.Measurements += len(msg.Batch)
		c.mu.Unlock()

	case KindCompleted:
		c.mu.Lock()
		status.Result = msg.Result
		c.mu.Unlock()
		if msg.Err != nil {
			c.setState(msg.WorkerID, WorkerFailed, msg.Err)
			return
		}
		c.setState(msg.WorkerID, WorkerCompleted, nil)

	case kindExited:
		c.mu.Lock()
		state := status.State
		c.mu.Unlock()
		switch {
		case state == WorkerRunning && msg.Err == nil:
			c.setState(msg.WorkerID, WorkerFailed, errNoCompletion)
		case state == WorkerRunning || (state == WorkerCompleted && msg.Err != nil):
			c.setState(msg.WorkerID, WorkerFailed, msg.Err)
		}
	}
}

func (c *Coordinator) setState(id string, state WorkerState, err error) {
	c.mu.Lock()
	status := c.workers[id]
	status.State = state
	if err != nil {
		status.Error = err.Error()
	}
	received := status.Measurements
	c.mu.Unlock()

	if state == WorkerFailed {
		c.logger.Warn("worker failed, continuing with partial results",
			zap.String("worker", id),
			zap.Int("measurements", received),
			zap.Error(err))
	}
}

func (c *Coordinator) result() *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	res := &Result{Measurements: c.merged.Snapshot()}
	for _, status := range c.workers {
		res.Workers = append(res.Workers, *status)
	}
	sort.Slice(res.Workers, func(i, j int) bool { return res.Workers[i].Index < res.Workers[j].Index })

	windows := make(map[measure.Phase]*phase.Window)
	var order []measure.Phase
	for _, w := range res.Workers {
		if w.State == WorkerFailed {
			res.Failures = append(res.Failures, &WorkerFailure{WorkerID: w.ID, Err: errors.New(w.Error)})
		}
		if w.Result == nil {
			continue
		}
		res.PeakUsers += w.Result.PeakUsers
		for _, win := range w.Result.Windows {
			merged, ok := windows[win.Phase]
			if !ok {
				cp := win
				windows[win.Phase] = &cp
				order = append(order, win.Phase)
				continue
			}
			if win.Start.Before(merged.Start) {
				merged.Start = win.Start
			}
			if win.End.After(merged.End) {
				merged.End = win.End
			}
		}
	}
	for _, ph := range order {
		res.Windows = append(res.Windows, *windows[ph])
	}
	return res
}
