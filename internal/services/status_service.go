package services

import (
	"context"
	"log"
	"time"

	"rag-engine/internal/events"
	"rag-engine/internal/metrics"
	"rag-engine/internal/models"
	"rag-engine/internal/repositories"
)

// StatusService is the write and read path of the status plane. Every
// pipeline stage reports through it; successful writes fan out to WebSocket
// subscribers via the event bus. Status writes are deliberately off the data
// plane's critical path: a failed write is returned to the caller to retry,
// a failed fan-out is dropped by the bus.
type StatusService struct {
	repo    repositories.StatusRepository
	bus     *events.Bus
	metrics *metrics.Metrics
	logger  *log.Logger
}

// NewStatusService creates a new status service.
func NewStatusService(repo repositories.StatusRepository, bus *events.Bus, m *metrics.Metrics, logger *log.Logger) *StatusService {
	if logger == nil {
		logger = log.New(log.Writer(), "[STATUS] ", log.LstdFlags)
	}
	return &StatusService{
		repo:    repo,
		bus:     bus,
		metrics: m,
		logger:  logger,
	}
}

// Update merges a state transition into the stored record and publishes the
// merged result. Progress derives from the state's canonical value; the
// repository keeps the highest progress seen so out-of-order stage reports
// cannot roll it back.
func (s *StatusService) Update(ctx context.Context, bucket, key string, state models.PipelineState, metadata map[string]interface{}, user string) (*models.StatusRecord, error) {
	record := &models.StatusRecord{
		Bucket:    bucket,
		Key:       key,
		State:     state,
		Progress:  state.Progress(),
		User:      user,
		Metadata:  metadata,
		UpdatedAt: time.Now().UTC(),
	}
	return s.write(ctx, record)
}

// Fail marks the document failed at a pipeline stage, recording the cause on
// the status record.
func (s *StatusService) Fail(ctx context.Context, bucket, key, stage string, cause error, user string) (*models.StatusRecord, error) {
	record := &models.StatusRecord{
		Bucket:    bucket,
		Key:       key,
		State:     models.StateFailed,
		Progress:  models.StateFailed.Progress(),
		Error:     cause.Error(),
		User:      user,
		Metadata:  map[string]interface{}{"stage": stage},
		UpdatedAt: time.Now().UTC(),
	}
	return s.write(ctx, record)
}

func (s *StatusService) write(ctx context.Context, record *models.StatusRecord) (*models.StatusRecord, error) {
	if err := record.Validate(); err != nil {
		return nil, err
	}

	merged, err := s.repo.Upsert(ctx, record)
	if err != nil {
		s.logger.Printf("[%s] Status write failed at state %s: %v", record.ID(), record.State, err)
		return nil, err
	}

	s.metrics.StatusUpdates.Inc()
	s.bus.Publish(events.StatusEvent{
		StatusID: merged.ID(),
		Record:   merged,
		At:       merged.UpdatedAt,
	})

	s.logger.Printf("[%s] %s (%d%%)", merged.ID(), merged.State, merged.Progress)
	return merged, nil
}

// Get returns the current record, or nil when none exists. Absence is not an
// error: records expire 24h after their last update.
func (s *StatusService) Get(ctx context.Context, bucket, key string) (*models.StatusRecord, error) {
	return s.repo.Get(ctx, models.StatusID(bucket, key))
}

// Exists reports whether a live status record exists for the document.
func (s *StatusService) Exists(ctx context.Context, bucket, key string) (bool, error) {
	return s.repo.Exists(ctx, models.StatusID(bucket, key))
}

// Delete removes the status record, used when its document is deleted.
func (s *StatusService) Delete(ctx context.Context, bucket, key string) error {
	return s.repo.Delete(ctx, models.StatusID(bucket, key))
}
