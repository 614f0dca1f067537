package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"rag-engine/internal/metrics"
	"rag-engine/internal/models"
	"rag-engine/internal/queue"
	"rag-engine/internal/storage"
)

// Metadata keys the orchestrator reads from upload notifications and object
// head responses. Notification metadata overrides head metadata on conflict.
const (
	MetaRAGEnabled     = "rag-enabled"
	MetaForceReprocess = "force_reprocess"
	MetaUser           = "user"
)

// IngestService is the fast intake path. It consumes object-store upload
// notifications, validates and classifies each object and hands it to a lane
// queue; the heavy lifting happens later in the lane workers. Intake must
// stay cheap: nothing here reads an object body.
type IngestService struct {
	store      storage.ObjectStore
	status     *StatusService
	secrets    *SecretService
	classifier *Classifier
	queue      queue.Queue
	laneQueues map[models.Lane]string
	metrics    *metrics.Metrics
	logger     *log.Logger
}

// NewIngestService creates a new ingestion orchestrator. laneQueues maps each
// processing lane to its queue name.
func NewIngestService(store storage.ObjectStore, status *StatusService, secrets *SecretService,
	classifier *Classifier, q queue.Queue, laneQueues map[models.Lane]string,
	m *metrics.Metrics, logger *log.Logger) *IngestService {
	if logger == nil {
		logger = log.New(log.Writer(), "[INGEST] ", log.LstdFlags)
	}
	return &IngestService{
		store:      store,
		status:     status,
		secrets:    secrets,
		classifier: classifier,
		queue:      q,
		laneQueues: laneQueues,
		metrics:    m,
		logger:     logger,
	}
}

// ProcessBatch runs every record through intake. A bad record is caught,
// logged and reported in its outcome; it never fails the records after it.
func (s *IngestService) ProcessBatch(ctx context.Context, records []models.UploadRecord) *models.BatchResult {
	result := &models.BatchResult{Outcomes: make([]models.RecordOutcome, 0, len(records))}

	for i := range records {
		outcome := s.processRecord(ctx, &records[i])
		switch {
		case outcome.Queued:
			result.Queued++
		case outcome.Skip:
			result.Skipped++
		default:
			result.Failed++
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}

	s.logger.Printf("Batch done: %d queued, %d skipped, %d failed of %d",
		result.Queued, result.Skipped, result.Failed, len(records))
	return result
}

func (s *IngestService) processRecord(ctx context.Context, rec *models.UploadRecord) (outcome models.RecordOutcome) {
	outcome = models.RecordOutcome{Bucket: rec.Bucket, Key: rec.Key}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Printf("[%s/%s] Intake panic: %v", rec.Bucket, rec.Key, r)
			outcome.Queued = false
			outcome.Error = fmt.Sprintf("intake panic: %v", r)
		}
	}()

	if err := rec.Validate(); err != nil {
		outcome.Error = err.Error()
		return outcome
	}

	docID := models.StatusID(rec.Bucket, rec.Key)
	user := rec.Metadata[MetaUser]

	// Step 1/5: mark the document as entering validation. A status write
	// failure is logged, not fatal; the store is the source of truth.
	if _, err := s.status.Update(ctx, rec.Bucket, rec.Key, models.StateValidating, nil, user); err != nil {
		s.logger.Printf("[%s] Status write failed at validating: %v", docID, err)
	}

	// Step 2/5: head the object.
	info, err := s.store.Head(ctx, rec.Bucket, rec.Key)
	if err != nil {
		return s.failRecord(ctx, rec, outcome, "validation", user, err)
	}

	meta := mergeMetadata(info.Metadata, rec.Metadata)
	if user == "" {
		user = meta[MetaUser]
	}

	// Step 3/5: only marked uploads enter the pipeline.
	force := metaFlag(meta, MetaForceReprocess)
	if !metaFlag(meta, MetaRAGEnabled) && !force {
		s.logger.Printf("[%s] Skipped: no processing marker", docID)
		outcome.Skip = true
		return outcome
	}

	// Step 4/5: the uploader's credential parcel must exist before the
	// document can be worked on its behalf.
	parcel, err := s.secrets.Get(ctx, docID)
	if err != nil {
		return s.failRecord(ctx, rec, outcome, "credentials", user, err)
	}
	if user == "" {
		user = parcel.User
	}

	// Step 5/5: classify and enqueue.
	lane := s.classifier.Classify(rec.Key, info.MIME, meta, info.Size)
	queueName, ok := s.laneQueues[lane]
	if !ok {
		return s.failRecord(ctx, rec, outcome, "queue", user,
			fmt.Errorf("no queue configured for lane %q", lane))
	}

	item := &models.WorkItem{
		Bucket:         rec.Bucket,
		Key:            rec.Key,
		Lane:           lane,
		Size:           info.Size,
		MIME:           info.MIME,
		ForceReprocess: force,
		User:           user,
		Credentials:    parcel.Payload,
	}
	body, err := json.Marshal(item)
	if err != nil {
		return s.failRecord(ctx, rec, outcome, "enqueue", user, err)
	}
	if err := s.queue.Send(ctx, queueName, body); err != nil {
		return s.failRecord(ctx, rec, outcome, "enqueue", user, err)
	}

	if _, err := s.status.Update(ctx, rec.Bucket, rec.Key, models.StateQueued,
		map[string]interface{}{"lane": string(lane)}, user); err != nil {
		s.logger.Printf("[%s] Status write failed at queued: %v", docID, err)
	}

	s.logger.Printf("[%s] Queued on %s lane (%d bytes, %s)", docID, lane, info.Size, info.MIME)
	outcome.Queued = true
	return outcome
}

// failRecord marks the document failed at the given stage and reports the
// cause in the outcome. Status write failures are logged only; the outcome
// already carries the original cause.
func (s *IngestService) failRecord(ctx context.Context, rec *models.UploadRecord,
	outcome models.RecordOutcome, stage, user string, cause error) models.RecordOutcome {
	docID := models.StatusID(rec.Bucket, rec.Key)
	s.logger.Printf("[%s] Failed at %s: %v", docID, stage, cause)
	s.metrics.DocumentsFailed.WithLabelValues(stage).Inc()

	if _, err := s.status.Fail(ctx, rec.Bucket, rec.Key, stage, cause, user); err != nil {
		s.logger.Printf("[%s] Status write failed at failed: %v", docID, err)
	}

	outcome.Error = cause.Error()
	return outcome
}

// mergeMetadata overlays record metadata on head metadata. Keys are
// lowercased so the marker checks are case-insensitive across stores.
func mergeMetadata(head, record map[string]string) map[string]string {
	merged := make(map[string]string, len(head)+len(record))
	for k, v := range head {
		merged[strings.ToLower(k)] = v
	}
	for k, v := range record {
		merged[strings.ToLower(k)] = v
	}
	return merged
}

// metaFlag reports whether a metadata key holds a truthy value.
func metaFlag(meta map[string]string, key string) bool {
	switch strings.ToLower(meta[key]) {
	case "true", "1", "yes":
		return true
	}
	return false
}
