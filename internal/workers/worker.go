package workers

import (
	"context"
	"log"
	"sync"
	"time"
)

// Worker defines the interface for background workers
type Worker interface {
	// Start begins processing
	Start(ctx context.Context) error

	// Stop gracefully shuts down the worker
	Stop(ctx context.Context) error

	// Name returns the worker's name
	Name() string

	// IsRunning returns whether the worker is currently running
	IsRunning() bool

	// Stats returns worker statistics
	Stats() WorkerStats
}

// WorkerStats represents statistics about a worker
type WorkerStats struct {
	WorkerName         string        `json:"worker_name"`
	MessagesProcessed  int64         `json:"messages_processed"`
	MessagesSucceeded  int64         `json:"messages_succeeded"`
	MessagesFailed     int64         `json:"messages_failed"`
	MessagesRequeued   int64         `json:"messages_requeued"`
	AverageProcessTime time.Duration `json:"average_process_time"`
	LastMessageTime    time.Time     `json:"last_message_time,omitempty"`
	Uptime             time.Duration `json:"uptime"`
	IsRunning          bool          `json:"is_running"`
}

// WorkerConfig holds configuration for workers
type WorkerConfig struct {
	// WorkerName is a unique identifier for this worker instance
	WorkerName string

	// Concurrency is the number of polling goroutines
	Concurrency int

	// PollInterval is how often each goroutine checks the queue
	PollInterval time.Duration

	// ReceiveBatch is how many messages one poll may take
	ReceiveBatch int

	// ShutdownTimeout is how long to wait for graceful shutdown
	ShutdownTimeout time.Duration

	// EnableRecovery enables panic recovery around message processing
	EnableRecovery bool
}

// DefaultWorkerConfig returns a worker configuration with sensible defaults
func DefaultWorkerConfig(workerName string) WorkerConfig {
	return WorkerConfig{
		WorkerName:      workerName,
		Concurrency:     3,
		PollInterval:    2 * time.Second,
		ReceiveBatch:    1,
		ShutdownTimeout: 30 * time.Second,
		EnableRecovery:  true,
	}
}

// Logger defines the interface for worker logging
type Logger interface {
	Info(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Debug(msg string, args ...interface{})
}

// DefaultLogger is a simple logger implementation
type DefaultLogger struct{}

func (l *DefaultLogger) Info(msg string, args ...interface{}) {
	log.Printf("[INFO] "+msg, args...)
}

func (l *DefaultLogger) Error(msg string, args ...interface{}) {
	log.Printf("[ERROR] "+msg, args...)
}

func (l *DefaultLogger) Warn(msg string, args ...interface{}) {
	log.Printf("[WARN] "+msg, args...)
}

func (l *DefaultLogger) Debug(msg string, args ...interface{}) {
	log.Printf("[DEBUG] "+msg, args...)
}

// BaseWorker provides common functionality for workers
type BaseWorker struct {
	config  WorkerConfig
	running bool
	mu      sync.RWMutex

	// Stats tracking
	messagesProcessed int64
	messagesSucceeded int64
	messagesFailed    int64
	messagesRequeued  int64
	totalProcessTime  time.Duration
	startTime         time.Time
	lastMessageTime   time.Time
	statsMu           sync.RWMutex
}

// NewBaseWorker creates a new base worker
func NewBaseWorker(config WorkerConfig) *BaseWorker {
	return &BaseWorker{
		config: config,
	}
}

// Name returns the worker's name
func (w *BaseWorker) Name() string {
	return w.config.WorkerName
}

// IsRunning returns whether the worker is currently running
func (w *BaseWorker) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// setRunning sets the running state
func (w *BaseWorker) setRunning(running bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.running = running
	if running {
		w.startTime = time.Now()
	}
}

// Stats returns worker statistics
func (w *BaseWorker) Stats() WorkerStats {
	w.statsMu.RLock()
	defer w.statsMu.RUnlock()

	var avgProcessTime time.Duration
	if w.messagesProcessed > 0 {
		avgProcessTime = w.totalProcessTime / time.Duration(w.messagesProcessed)
	}

	var uptime time.Duration
	if !w.startTime.IsZero() {
		uptime = time.Since(w.startTime)
	}

	return WorkerStats{
		WorkerName:         w.config.WorkerName,
		MessagesProcessed:  w.messagesProcessed,
		MessagesSucceeded:  w.messagesSucceeded,
		MessagesFailed:     w.messagesFailed,
		MessagesRequeued:   w.messagesRequeued,
		AverageProcessTime: avgProcessTime,
		LastMessageTime:    w.lastMessageTime,
		Uptime:             uptime,
		IsRunning:          w.IsRunning(),
	}
}

// recordStart records the start of message processing
func (w *BaseWorker) recordStart() time.Time {
	return time.Now()
}

// recordSuccess records a successful message completion
func (w *BaseWorker) recordSuccess(startTime time.Time) {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()

	w.messagesProcessed++
	w.messagesSucceeded++
	w.totalProcessTime += time.Since(startTime)
	w.lastMessageTime = time.Now()
}

// recordFailure records a permanently failed message
func (w *BaseWorker) recordFailure(startTime time.Time) {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()

	w.messagesProcessed++
	w.messagesFailed++
	w.totalProcessTime += time.Since(startTime)
	w.lastMessageTime = time.Now()
}

// recordRequeue records a message returned to the queue for retry
func (w *BaseWorker) recordRequeue(startTime time.Time) {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()

	w.messagesProcessed++
	w.messagesRequeued++
	w.totalProcessTime += time.Since(startTime)
	w.lastMessageTime = time.Now()
}

// Config returns the worker configuration
func (w *BaseWorker) Config() WorkerConfig {
	return w.config
}

// WorkerPool manages multiple workers
type WorkerPool struct {
	workers []Worker
	mu      sync.RWMutex
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool() *WorkerPool {
	return &WorkerPool{
		workers: make([]Worker, 0),
	}
}

// AddWorker adds a worker to the pool
func (p *WorkerPool) AddWorker(worker Worker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.workers = append(p.workers, worker)
}

// StartAll starts all workers in the pool
func (p *WorkerPool) StartAll(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, worker := range p.workers {
		if err := worker.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// StopAll stops all workers in the pool
func (p *WorkerPool) StopAll(ctx context.Context) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var wg sync.WaitGroup
	errChan := make(chan error, len(p.workers))

	for _, worker := range p.workers {
		wg.Add(1)
		go func(w Worker) {
			defer wg.Done()
			if err := w.Stop(ctx); err != nil {
				errChan <- err
			}
		}(worker)
	}

	wg.Wait()
	close(errChan)

	// Return first error if any
	select {
	case err := <-errChan:
		return err
	default:
		return nil
	}
}

// GetWorker returns a worker by name
func (p *WorkerPool) GetWorker(name string) Worker {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, worker := range p.workers {
		if worker.Name() == name {
			return worker
		}
	}
	return nil
}

// GetAllStats returns statistics for all workers
func (p *WorkerPool) GetAllStats() []WorkerStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := make([]WorkerStats, 0, len(p.workers))
	for _, worker := range p.workers {
		stats = append(stats, worker.Stats())
	}
	return stats
}

// Count returns the number of workers in the pool
func (p *WorkerPool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.workers)
}

// WorkerError represents a worker-specific error
type WorkerError struct {
	WorkerName string
	Operation  string
	Err        error
	Message    string
}

func (e *WorkerError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	prefix := e.WorkerName + ":" + e.Operation
	if e.Err != nil {
		return prefix + ": " + e.Err.Error()
	}
	return prefix + ": unknown error"
}

func (e *WorkerError) Unwrap() error {
	return e.Err
}

// NewWorkerError creates a new worker error
func NewWorkerError(workerName, operation string, err error, message string) *WorkerError {
	return &WorkerError{
		WorkerName: workerName,
		Operation:  operation,
		Err:        err,
		Message:    message,
	}
}

// WorkerPanicError represents a panic that occurred during processing
type WorkerPanicError struct {
	Panic interface{}
}

func (e *WorkerPanicError) Error() string {
	return "worker panic: " + formatPanic(e.Panic)
}

func formatPanic(p interface{}) string {
	switch v := p.(type) {
	case string:
		return v
	case error:
		return v.Error()
	default:
		return "unknown panic"
	}
}
