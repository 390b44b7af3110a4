package cluster

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/governor"
	"github.com/wesleyorama2/stampede/internal/logging"
	"github.com/wesleyorama2/stampede/internal/measure"
	"github.com/wesleyorama2/stampede/internal/phase"
	"github.com/wesleyorama2/stampede/internal/scenario"
	"github.com/wesleyorama2/stampede/internal/vu"
)

// LocalWorker runs an independent phase controller in the current process.
type LocalWorker struct {
	Registry *scenario.Registry
	VU       vu.Config

	// Thresholds enables a per-worker governor when any limit is set
	Thresholds       governor.Thresholds
	GovernorInterval time.Duration

	// Observer receives this worker's progress events
	Observer phase.Observer

	// FlushInterval is how often measurement batches are sent (default: 250ms)
	FlushInterval time.Duration

	Logger *zap.Logger
}

var _ Worker = (*LocalWorker)(nil)

// Run implements Worker.
func (w *LocalWorker) Run(ctx context.Context, a Assignment, out chan<- Message) error {
	logger := logging.OrNop(w.Logger).With(zap.String("worker", a.WorkerID), zap.Int("index", a.Index))
	store := measure.NewStore()

	ctrl, err := phase.NewController(phase.Options{
		Profile:  a.Profile,
		Registry: w.Registry,
		VU:       w.VU,
		Recorder: store,
		Counter:  store,
		Observer: w.Observer,
		Worker:   a.WorkerID,
		Logger:   logger,

		// warmup runs once per test, on the first worker
		SkipWarmup: a.Index > 0,
	})
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	th := w.Thresholds
	if th.CPUPct > 0 || th.MemoryPct > 0 || th.ErrorRatePct > 0 {
		gov := governor.New(ctrl, governor.Options{
			Thresholds: th,
			Interval:   w.GovernorInterval,
			Counter:    store,
			Observer:   w.Observer,
			Logger:     logger,
		})
		go gov.Run(runCtx)
	}

	flush := w.FlushInterval
	if flush <= 0 {
		flush = 250 * time.Millisecond
	}
	sent := 0
	send := func() {
		batch := store.From(sent)
		if len(batch) == 0 {
			return
		}
		sent += len(batch)
		out <- Message{WorkerID: a.WorkerID, Kind: KindMeasurements, Batch: batch}
	}

	flushDone := make(chan struct{})
	go func() {
		defer close(flushDone)
		ticker := time.NewTicker(flush)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				send()
			}
		}
	}()

	res, runErr := ctrl.Run(runCtx)
	cancel()
	<-flushDone
	send()

	out <- Message{WorkerID: a.WorkerID, Kind: KindCompleted, Result: res}
	logger.Debug("worker completed", zap.Int("measurements", sent))
	if ctx.Err() != nil {
		// aborted by the coordinator, not a worker failure
		return nil
	}
	return runErr
}
