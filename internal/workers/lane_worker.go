package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"rag-engine/internal/metrics"
	"rag-engine/internal/models"
	"rag-engine/internal/queue"
)

// MessageProcessor handles one decoded work item. The lane worker decides
// from the returned error whether to acknowledge the delivery or return it
// to the queue.
type MessageProcessor interface {
	Process(ctx context.Context, item *models.WorkItem) error
}

// LaneWorker drains one lane queue. Each polling goroutine receives work
// items, dispatches them to the processor and acknowledges or nacks the
// delivery: upstream failures go back to the queue for redelivery, anything
// else is terminal for this delivery because the processor already moved the
// document to a terminal status.
type LaneWorker struct {
	*BaseWorker
	queue     queue.Queue
	queueName string
	lane      models.Lane
	processor MessageProcessor
	metrics   *metrics.Metrics
	logger    Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// LaneWorkerConfig holds the dependencies of a lane worker.
type LaneWorkerConfig struct {
	WorkerConfig WorkerConfig
	Queue        queue.Queue
	QueueName    string
	Lane         models.Lane
	Processor    MessageProcessor
	Metrics      *metrics.Metrics
	Logger       Logger
}

// NewLaneWorker creates a worker for one lane queue.
func NewLaneWorker(config LaneWorkerConfig) *LaneWorker {
	logger := config.Logger
	if logger == nil {
		logger = &DefaultLogger{}
	}
	return &LaneWorker{
		BaseWorker: NewBaseWorker(config.WorkerConfig),
		queue:      config.Queue,
		queueName:  config.QueueName,
		lane:       config.Lane,
		processor:  config.Processor,
		metrics:    config.Metrics,
		logger:     logger,
	}
}

// Start launches the polling goroutines.
func (w *LaneWorker) Start(ctx context.Context) error {
	if w.IsRunning() {
		return NewWorkerError(w.Name(), "start", nil, "worker already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.setRunning(true)
	w.logger.Info("Starting lane worker %s on queue %s", w.Name(), w.queueName)

	for i := 0; i < w.config.Concurrency; i++ {
		w.wg.Add(1)
		go w.poll(runCtx, i)
	}
	return nil
}

// Stop cancels the polling goroutines and waits for in-flight messages up to
// the shutdown timeout. A message that outlives the timeout is safe: its
// visibility lapses and the next receive resumes it.
func (w *LaneWorker) Stop(ctx context.Context) error {
	if !w.IsRunning() {
		return nil
	}

	w.logger.Info("Stopping lane worker %s", w.Name())
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(w.config.ShutdownTimeout):
		w.logger.Warn("Lane worker %s shutdown timed out, messages return via visibility", w.Name())
	case <-ctx.Done():
	}

	w.setRunning(false)
	w.logger.Info("Lane worker %s stopped", w.Name())
	return nil
}

// poll is one polling goroutine's receive loop.
func (w *LaneWorker) poll(ctx context.Context, id int) {
	defer w.wg.Done()
	w.logger.Debug("%s poller %d started", w.Name(), id)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("%s poller %d stopping", w.Name(), id)
			return
		case <-ticker.C:
			batch := w.config.ReceiveBatch
			if batch <= 0 {
				batch = 1
			}
			messages, err := w.queue.Receive(ctx, w.queueName, batch)
			if err != nil {
				if ctx.Err() == nil {
					w.logger.Error("Receive on %s failed: %v", w.queueName, err)
				}
				continue
			}
			for i := range messages {
				w.handleMessage(ctx, &messages[i])
			}
			if depth, err := w.queue.Depth(ctx, w.queueName); err == nil && w.metrics != nil {
				w.metrics.SetQueueDepth(string(w.lane), depth)
			}
		}
	}
}

// handleMessage processes one delivery and settles it with the queue.
func (w *LaneWorker) handleMessage(ctx context.Context, msg *queue.Message) {
	startTime := w.recordStart()

	var item models.WorkItem
	if err := json.Unmarshal(msg.Body, &item); err != nil {
		// A body that never decodes will never decode; drop it.
		w.logger.Error("Dropping undecodable message %s: %v", msg.ID, err)
		w.ack(ctx, msg)
		w.recordFailure(startTime)
		return
	}
	if err := item.Validate(); err != nil {
		w.logger.Error("Dropping invalid work item %s/%s: %v", item.Bucket, item.Key, err)
		w.ack(ctx, msg)
		w.recordFailure(startTime)
		return
	}

	err := w.process(ctx, &item)
	switch {
	case err == nil:
		w.ack(ctx, msg)
		w.recordSuccess(startTime)

	case errors.Is(err, models.ErrStopped):
		// Cooperative cancel: the document reached a terminal status, the
		// delivery is settled.
		w.ack(ctx, msg)
		w.recordSuccess(startTime)

	case models.IsUpstream(err):
		w.logger.Warn("Requeueing %s/%s after upstream failure: %v", item.Bucket, item.Key, err)
		if nackErr := w.queue.ExtendVisibility(ctx, w.queueName, msg.Receipt, 0); nackErr != nil {
			w.logger.Error("Nack of %s failed, message returns via visibility timeout: %v", msg.ID, nackErr)
		}
		w.recordRequeue(startTime)

	default:
		// The processor already moved the document to failed; retrying the
		// delivery cannot help.
		w.logger.Error("Message %s failed terminally: %v", msg.ID, err)
		w.ack(ctx, msg)
		w.recordFailure(startTime)
	}
}

// process runs the processor, optionally under panic recovery.
func (w *LaneWorker) process(ctx context.Context, item *models.WorkItem) (err error) {
	if w.config.EnableRecovery {
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error("Panic processing %s/%s: %v", item.Bucket, item.Key, r)
				err = &WorkerPanicError{Panic: r}
			}
		}()
	}
	return w.processor.Process(ctx, item)
}

// ack deletes a delivery; an expired receipt is a no-op.
func (w *LaneWorker) ack(ctx context.Context, msg *queue.Message) {
	if err := w.queue.Delete(ctx, w.queueName, msg.Receipt); err != nil {
		w.logger.Warn("Ack of %s failed: %v", msg.ID, err)
	}
}

// Lane returns the lane this worker drains.
func (w *LaneWorker) Lane() models.Lane {
	return w.lane
}

// String implements fmt.Stringer for log lines.
func (w *LaneWorker) String() string {
	return fmt.Sprintf("%s(%s)", w.Name(), w.queueName)
}
