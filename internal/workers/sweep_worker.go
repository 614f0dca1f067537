package workers

import (
	"context"
	"sync"
	"time"
)

// SecretSweeper is the sweep surface of the secrets broker.
type SecretSweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// DefaultSweepInterval runs the orphan sweep once a day.
const DefaultSweepInterval = 24 * time.Hour

// SweepWorker periodically reaps orphaned credential parcels: parcels past
// their age cutoff whose document no longer appears in the status tracker.
type SweepWorker struct {
	*BaseWorker
	sweeper  SecretSweeper
	interval time.Duration
	logger   Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweepWorker creates a sweep worker. A non-positive interval falls back
// to the daily default.
func NewSweepWorker(config WorkerConfig, sweeper SecretSweeper, interval time.Duration, logger Logger) *SweepWorker {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = &DefaultLogger{}
	}
	return &SweepWorker{
		BaseWorker: NewBaseWorker(config),
		sweeper:    sweeper,
		interval:   interval,
		logger:     logger,
	}
}

// Start launches the sweep loop. One sweep runs immediately so a restart
// never postpones cleanup by a full interval.
func (w *SweepWorker) Start(ctx context.Context) error {
	if w.IsRunning() {
		return NewWorkerError(w.Name(), "start", nil, "worker already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.setRunning(true)
	w.logger.Info("Starting sweep worker %s (interval %v)", w.Name(), w.interval)

	w.wg.Add(1)
	go w.loop(runCtx)
	return nil
}

// Stop cancels the sweep loop.
func (w *SweepWorker) Stop(ctx context.Context) error {
	if !w.IsRunning() {
		return nil
	}
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	w.setRunning(false)
	w.logger.Info("Sweep worker %s stopped", w.Name())
	return nil
}

func (w *SweepWorker) loop(ctx context.Context) {
	defer w.wg.Done()

	w.runOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *SweepWorker) runOnce(ctx context.Context) {
	startTime := w.recordStart()
	removed, err := w.sweeper.Sweep(ctx)
	if err != nil {
		w.logger.Error("Secret sweep failed: %v", err)
		w.recordFailure(startTime)
		return
	}
	if removed > 0 {
		w.logger.Info("Secret sweep removed %d orphaned parcels", removed)
	}
	w.recordSuccess(startTime)
}
