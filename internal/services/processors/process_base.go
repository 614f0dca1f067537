package processors

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rag-engine/internal/metrics"
	"rag-engine/internal/models"
	"rag-engine/internal/repositories"
	"rag-engine/internal/services"
	"rag-engine/internal/storage"
)

// Processor handles one work item pulled off a lane queue. Process must be
// idempotent: at-least-once delivery means the same item can arrive twice,
// and a visibility timeout can resume a half-finished document from the top.
type Processor interface {
	Process(ctx context.Context, item *models.WorkItem) error
	Lane() models.Lane
}

// BaseProcessor carries the dependencies both lanes share and the helpers
// for registering the document, walking the status plane and running the
// cooperative-cancellation checkpoint.
type BaseProcessor struct {
	Store    storage.ObjectStore
	Docs     repositories.DocumentRepository
	Status   *services.StatusService
	Jobs     *services.JobService
	Embedder *services.EmbedderService
	BM25     *services.BM25Service
	Metrics  *metrics.Metrics
	Logger   Logger

	// StoreBatchSize bounds how many chunks are persisted between two
	// cancellation checkpoints. Zero means the embedder default.
	StoreBatchSize int
}

// Logger is the small logging surface processors and workers share.
type Logger interface {
	Info(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Debug(msg string, args ...interface{})
}

// registerDocument upserts the document row for a work item and returns it
// with its canonical id. Re-delivery of the same (bucket, key) lands on the
// existing row.
func (b *BaseProcessor) registerDocument(ctx context.Context, item *models.WorkItem, state models.PipelineState) (*models.Document, error) {
	now := time.Now().UTC()
	doc := &models.Document{
		ID:            models.StatusID(item.Bucket, item.Key),
		Owner:         item.User,
		StorageBucket: item.Bucket,
		StorageKey:    item.Key,
		Lane:          item.Lane,
		MIME:          item.MIME,
		Size:          item.Size,
		State:         state,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	id, err := b.Docs.Upsert(ctx, doc)
	if err != nil {
		return nil, err
	}
	doc.ID = id
	return doc, nil
}

// setStatus reports a stage transition. Status writes never fail the
// pipeline; the store is the source of truth and the plane is best effort.
func (b *BaseProcessor) setStatus(ctx context.Context, item *models.WorkItem, state models.PipelineState, meta map[string]interface{}) {
	if _, err := b.Status.Update(ctx, item.Bucket, item.Key, state, meta, item.User); err != nil {
		b.Logger.Warn("Status write failed for %s/%s at %s: %v", item.Bucket, item.Key, state, err)
	}
}

// checkpointFor builds the between-chunks stop probe for a ledger job. The
// probe errs on the side of continuing: a ledger read failure is not a stop.
func (b *BaseProcessor) checkpointFor(ctx context.Context, user, jobID string) func() error {
	return func() error {
		stopped, err := b.Jobs.IsStopped(ctx, user, jobID)
		if err != nil {
			b.Logger.Warn("Stop poll failed for job %s: %v", jobID, err)
			return nil
		}
		if stopped {
			return models.ErrStopped
		}
		return nil
	}
}

// finish runs the shared tail of both lanes: terminal status, document row
// state and the ledger entry. Callers hand it the pipeline error (nil on
// success) and get back the error the worker should see.
func (b *BaseProcessor) finish(ctx context.Context, item *models.WorkItem, doc *models.Document,
	job *models.EmbeddingJob, result map[string]interface{}, stage string, cause error) error {
	switch {
	case cause == nil:
		b.setStatus(ctx, item, models.StateCompleted, result)
		if err := b.Docs.UpdateState(ctx, doc.ID, models.StateCompleted); err != nil {
			b.Logger.Warn("Document state write failed for %s: %v", doc.ID, err)
		}
		if job != nil {
			if _, err := b.Jobs.SetResult(ctx, job.User, job.JobID, result, false); err != nil {
				b.Logger.Warn("Job result write failed for %s: %v", job.JobID, err)
			}
			if _, err := b.Jobs.Update(ctx, job.User, job.JobID, models.JobStateFinished); err != nil {
				b.Logger.Warn("Job state write failed for %s: %v", job.JobID, err)
			}
		}
		b.Metrics.RecordDocumentIngested(string(item.Lane))
		return nil

	case errors.Is(cause, models.ErrStopped):
		// Stop already moved the ledger entry to stopped; partial writes
		// up to the last checkpoint stay.
		b.setStatus(ctx, item, models.StateCancelled, result)
		if err := b.Docs.UpdateState(ctx, doc.ID, models.StateCancelled); err != nil {
			b.Logger.Warn("Document state write failed for %s: %v", doc.ID, err)
		}
		b.Logger.Info("Document %s cancelled at %s", doc.ID, stage)
		return models.ErrStopped

	case !models.IsFatal(cause) && models.IsUpstream(cause):
		// The lane boundary retries upstream failures by returning the
		// message to visibility; the status plane keeps the current stage.
		// A fatal wrapper overrides: those documents fail even when the
		// root cause was an upstream call.
		b.Logger.Warn("Document %s hit upstream failure at %s, will retry: %v", doc.ID, stage, cause)
		return cause

	default:
		if _, err := b.Status.Fail(ctx, item.Bucket, item.Key, stage, cause, item.User); err != nil {
			b.Logger.Warn("Status write failed for %s at failed: %v", doc.ID, err)
		}
		if err := b.Docs.UpdateState(ctx, doc.ID, models.StateFailed); err != nil {
			b.Logger.Warn("Document state write failed for %s: %v", doc.ID, err)
		}
		if job != nil {
			if _, err := b.Jobs.Update(ctx, job.User, job.JobID, models.JobStateFailed); err != nil {
				b.Logger.Warn("Job state write failed for %s: %v", job.JobID, err)
			}
		}
		b.Metrics.RecordDocumentFailed(stage)
		if models.IsFatal(cause) {
			return cause
		}
		return models.NewFatalError(doc.ID, stage, cause)
	}
}

// finishWithoutDoc fails a work item whose document row could not even be
// registered. Upstream causes still go back to the queue.
func (b *BaseProcessor) finishWithoutDoc(ctx context.Context, item *models.WorkItem, stage string, cause error) error {
	if models.IsUpstream(cause) {
		return cause
	}
	if _, err := b.Status.Fail(ctx, item.Bucket, item.Key, stage, cause, item.User); err != nil {
		b.Logger.Warn("Status write failed for %s/%s: %v", item.Bucket, item.Key, err)
	}
	b.Metrics.RecordDocumentFailed(stage)
	return models.NewFatalError(models.StatusID(item.Bucket, item.Key), stage, cause)
}

// readSource pulls the document bytes. An unreadable source is unrecoverable
// for the document, not an upstream blip.
func (b *BaseProcessor) readSource(ctx context.Context, doc *models.Document) ([]byte, error) {
	data, err := b.Store.Get(ctx, doc.StorageBucket, doc.StorageKey)
	if err != nil {
		return nil, models.NewFatalError(doc.ID, "read_source", fmt.Errorf("cannot read source bytes: %w", err))
	}
	return data, nil
}
