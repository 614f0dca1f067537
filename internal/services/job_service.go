package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"rag-engine/internal/metrics"
	"rag-engine/internal/models"
	"rag-engine/internal/repositories"
	"rag-engine/internal/storage"
)

// JobService is the embedding job ledger. Jobs are scoped to the user that
// created them. Stopping is cooperative: Stop sets a flag the lane workers
// poll between chunks, and whatever was written before the worker noticed
// stays written.
type JobService struct {
	repo         repositories.JobRepository
	docs         repositories.DocumentRepository
	chunks       repositories.ChunkRepository
	store        storage.ObjectStore
	embedder     *EmbedderService
	bm25         *BM25Service
	metrics      *metrics.Metrics
	logger       *log.Logger
	resultBucket string
}

// NewJobService creates a new job ledger service. Large results are written
// to resultBucket in the object store.
func NewJobService(
	repo repositories.JobRepository,
	docs repositories.DocumentRepository,
	chunks repositories.ChunkRepository,
	store storage.ObjectStore,
	embedder *EmbedderService,
	bm25 *BM25Service,
	resultBucket string,
	m *metrics.Metrics,
	logger *log.Logger,
) *JobService {
	if logger == nil {
		logger = log.New(log.Writer(), "[JOBS] ", log.LstdFlags)
	}
	return &JobService{
		repo:         repo,
		docs:         docs,
		chunks:       chunks,
		store:        store,
		embedder:     embedder,
		bm25:         bm25,
		metrics:      m,
		logger:       logger,
		resultBucket: resultBucket,
	}
}

// Init creates a new job for the user and returns it. The document id is
// optional context for jobs tied to one document.
func (s *JobService) Init(ctx context.Context, user, documentID string, initial models.JobState) (*models.EmbeddingJob, error) {
	if user == "" {
		return nil, &models.ValidationError{Field: "user", Message: "user is required"}
	}
	if initial == "" {
		initial = models.JobStateQueued
	}

	now := time.Now().UTC()
	job := &models.EmbeddingJob{
		JobID:      uuid.New().String(),
		User:       user,
		DocumentID: documentID,
		State:      initial,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Printf("[%s] Job %s created (%s)", user, job.JobID, job.State)
	return job, nil
}

// Update transitions a job to a new state.
func (s *JobService) Update(ctx context.Context, user, jobID string, state models.JobState) (*models.EmbeddingJob, error) {
	if !state.IsValid() {
		return nil, &models.ValidationError{Field: "state", Message: "invalid job state: " + string(state)}
	}

	job, err := s.repo.Get(ctx, user, jobID)
	if err != nil {
		return nil, err
	}

	job.State = state
	job.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// SetResult attaches a result to the job. Small results are stored inline;
// with storeBlob the result goes to the object store under
// {user}/{jobId}/result.json and the ledger keeps only the reference.
func (s *JobService) SetResult(ctx context.Context, user, jobID string, result map[string]interface{}, storeBlob bool) (*models.EmbeddingJob, error) {
	job, err := s.repo.Get(ctx, user, jobID)
	if err != nil {
		return nil, err
	}

	if storeBlob {
		data, err := json.Marshal(result)
		if err != nil {
			return nil, &models.ValidationError{Field: "result", Message: "result is not serializable"}
		}
		key := fmt.Sprintf("%s/%s/result.json", user, jobID)
		if err := s.store.Put(ctx, s.resultBucket, key, data, "application/json"); err != nil {
			return nil, err
		}
		job.Result = nil
		job.StoredResult = &models.BlobRef{Bucket: s.resultBucket, Key: key}
	} else {
		job.Result = result
		job.StoredResult = nil
	}

	job.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Stop sets the job's state to stopped and raises the stop flag the workers
// poll. Stopping a job that already reached a terminal state is a no-op.
func (s *JobService) Stop(ctx context.Context, user, jobID string) (*models.EmbeddingJob, error) {
	job, err := s.repo.Get(ctx, user, jobID)
	if err != nil {
		return nil, err
	}
	if job.State.IsTerminal() {
		return job, nil
	}

	job.State = models.JobStateStopped
	job.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, job); err != nil {
		return nil, err
	}
	if err := s.repo.SetStopFlag(ctx, user, jobID); err != nil {
		return nil, err
	}

	s.metrics.JobsStopped.Inc()
	s.logger.Printf("[%s] Job %s stopped", user, jobID)
	return job, nil
}

// IsStopped reports whether a stop was requested. Workers poll this between
// chunks and between pages.
func (s *JobService) IsStopped(ctx context.Context, user, jobID string) (bool, error) {
	return s.repo.IsStopRequested(ctx, user, jobID)
}

// Get retrieves a job for a user.
func (s *JobService) Get(ctx context.Context, user, jobID string) (*models.EmbeddingJob, error) {
	return s.repo.Get(ctx, user, jobID)
}

// List returns all jobs of a user.
func (s *JobService) List(ctx context.Context, user string) ([]*models.EmbeddingJob, error) {
	return s.repo.ListByUser(ctx, user)
}

// ReindexChunks re-embeds a subset of a document's chunks in place. The
// listed chunks are removed from the sparse index, deleted from the dense
// table and re-embedded under their original ids and ordinals, so the
// document's term statistics end up recomputed from the surviving plus
// replacement set. An empty id list means the whole document.
func (s *JobService) ReindexChunks(ctx context.Context, user, documentID string, chunkIDs []string) (*models.EmbeddingJob, error) {
	doc, err := s.docs.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Owner != user {
		return nil, models.NewForbiddenError(documentID, user, string(models.PermissionOwner))
	}

	all, err := s.chunks.ListByDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	target := all
	if len(chunkIDs) > 0 {
		wanted := make(map[string]bool, len(chunkIDs))
		for _, id := range chunkIDs {
			wanted[id] = true
		}
		target = make([]*models.Chunk, 0, len(chunkIDs))
		for _, c := range all {
			if wanted[c.ID] {
				target = append(target, c)
			}
		}
	}
	if len(target) == 0 {
		return nil, &models.ValidationError{Field: "chunk_ids", Message: "no matching chunks to reindex"}
	}

	job, err := s.Init(ctx, user, documentID, models.JobStateRunning)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(target))
	for i, c := range target {
		ids[i] = c.ID
	}

	s.logger.Printf("[%s] Job %s reindexing %d of %d chunks", documentID, job.JobID, len(target), len(all))

	if err := s.bm25.RemoveChunks(ctx, documentID, ids); err != nil {
		return job, s.failJob(ctx, job, err)
	}
	if _, err := s.chunks.DeleteByIDs(ctx, documentID, ids); err != nil {
		return job, s.failJob(ctx, job, err)
	}

	reembedded, err := s.embedder.ReembedChunks(ctx, doc, target)
	if err != nil {
		return job, s.failJob(ctx, job, err)
	}
	if err := s.bm25.IndexChunks(ctx, documentID, reembedded); err != nil {
		return job, s.failJob(ctx, job, err)
	}

	job.State = models.JobStateFinished
	job.Result = map[string]interface{}{"reindexed": len(reembedded)}
	job.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, job); err != nil {
		return job, err
	}
	return job, nil
}

// failJob records the failure on the job and hands the original error back.
func (s *JobService) failJob(ctx context.Context, job *models.EmbeddingJob, cause error) error {
	job.State = models.JobStateFailed
	job.Error = cause.Error()
	job.UpdatedAt = time.Now().UTC()
	if err := s.repo.Update(ctx, job); err != nil {
		s.logger.Printf("[%s] Failed to record job failure: %v", job.JobID, err)
	}
	return cause
}
