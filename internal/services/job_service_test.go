package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"rag-engine/internal/metrics"
	"rag-engine/internal/models"
	"rag-engine/internal/repositories"
)

type jobServiceMocks struct {
	jobs     *MockJobRepository
	docs     *MockDocumentRepository
	chunks   *MockChunkRepository
	store    *MockObjectStore
	embed    *MockEmbedClient
	bm25Repo *MockBM25Repository
}

func newTestJobService() (*JobService, *jobServiceMocks) {
	m := &jobServiceMocks{
		jobs:     new(MockJobRepository),
		docs:     new(MockDocumentRepository),
		chunks:   new(MockChunkRepository),
		store:    new(MockObjectStore),
		embed:    new(MockEmbedClient),
		bm25Repo: new(MockBM25Repository),
	}
	embedder := NewEmbedderService(m.embed, m.chunks, new(MockPageRepository), testLogger())
	bm25 := NewBM25Service(m.bm25Repo, testLogger())
	svc := NewJobService(m.jobs, m.docs, m.chunks, m.store, embedder, bm25,
		"job-results", metrics.NewWithRegistry(prometheus.NewRegistry()), testLogger())
	return svc, m
}

func reindexFixtureChunks() []*models.Chunk {
	return []*models.Chunk{
		{ID: "doc-1_chunk_0", DocumentID: "doc-1", Ordinal: 0, Content: "refund policy window"},
		{ID: "doc-1_chunk_1", DocumentID: "doc-1", Ordinal: 1, Content: "shipping rates table"},
		{ID: "doc-1_chunk_2", DocumentID: "doc-1", Ordinal: 2, Content: "warranty claim steps"},
	}
}

func TestJobService_InitCreatesScopedJob(t *testing.T) {
	svc, m := newTestJobService()

	var created *models.EmbeddingJob
	m.jobs.On("Create", mock.Anything, mock.MatchedBy(func(j *models.EmbeddingJob) bool {
		created = j
		return true
	})).Return(nil)

	job, err := svc.Init(context.Background(), "user-1", "doc-1", "")

	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, "user-1", created.User)
	assert.Equal(t, "doc-1", created.DocumentID)
	assert.Equal(t, models.JobStateQueued, created.State)
	_, err = uuid.Parse(job.JobID)
	assert.NoError(t, err)
}

func TestJobService_InitRequiresUser(t *testing.T) {
	svc, m := newTestJobService()

	_, err := svc.Init(context.Background(), "", "", models.JobStateQueued)

	require.Error(t, err)
	assert.True(t, models.IsValidation(err))
	m.jobs.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestJobService_UpdateTransitionsState(t *testing.T) {
	svc, m := newTestJobService()

	m.jobs.On("Get", mock.Anything, "user-1", "job-1").
		Return(&models.EmbeddingJob{JobID: "job-1", User: "user-1", State: models.JobStateQueued}, nil)
	m.jobs.On("Update", mock.Anything, mock.MatchedBy(func(j *models.EmbeddingJob) bool {
		return j.State == models.JobStateRunning
	})).Return(nil)

	job, err := svc.Update(context.Background(), "user-1", "job-1", models.JobStateRunning)

	require.NoError(t, err)
	assert.Equal(t, models.JobStateRunning, job.State)
}

func TestJobService_UpdateRejectsUnknownState(t *testing.T) {
	svc, m := newTestJobService()

	_, err := svc.Update(context.Background(), "user-1", "job-1", models.JobState("paused"))

	require.Error(t, err)
	assert.True(t, models.IsValidation(err))
	m.jobs.AssertNotCalled(t, "Get", mock.Anything, mock.Anything, mock.Anything)
}

func TestJobService_SetResultInline(t *testing.T) {
	svc, m := newTestJobService()

	m.jobs.On("Get", mock.Anything, "user-1", "job-1").
		Return(&models.EmbeddingJob{JobID: "job-1", User: "user-1", State: models.JobStateRunning}, nil)
	m.jobs.On("Update", mock.Anything, mock.Anything).Return(nil)

	job, err := svc.SetResult(context.Background(), "user-1", "job-1",
		map[string]interface{}{"chunks": 12}, false)

	require.NoError(t, err)
	assert.Equal(t, 12, job.Result["chunks"])
	assert.Nil(t, job.StoredResult)
	m.store.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestJobService_SetResultStoresBlob(t *testing.T) {
	svc, m := newTestJobService()

	m.jobs.On("Get", mock.Anything, "user-1", "job-1").
		Return(&models.EmbeddingJob{JobID: "job-1", User: "user-1", State: models.JobStateRunning}, nil)
	m.store.On("Put", mock.Anything, "job-results", "user-1/job-1/result.json",
		mock.Anything, "application/json").Return(nil)
	m.jobs.On("Update", mock.Anything, mock.Anything).Return(nil)

	job, err := svc.SetResult(context.Background(), "user-1", "job-1",
		map[string]interface{}{"chunks": 12000}, true)

	require.NoError(t, err)
	require.NotNil(t, job.StoredResult)
	assert.Equal(t, "job-results", job.StoredResult.Bucket)
	assert.Equal(t, "user-1/job-1/result.json", job.StoredResult.Key)
	assert.Nil(t, job.Result)
	m.store.AssertExpectations(t)
}

func TestJobService_StopSetsStateAndFlag(t *testing.T) {
	svc, m := newTestJobService()

	m.jobs.On("Get", mock.Anything, "user-1", "job-1").
		Return(&models.EmbeddingJob{JobID: "job-1", User: "user-1", State: models.JobStateRunning}, nil)
	m.jobs.On("Update", mock.Anything, mock.MatchedBy(func(j *models.EmbeddingJob) bool {
		return j.State == models.JobStateStopped
	})).Return(nil)
	m.jobs.On("SetStopFlag", mock.Anything, "user-1", "job-1").Return(nil)

	job, err := svc.Stop(context.Background(), "user-1", "job-1")

	require.NoError(t, err)
	assert.Equal(t, models.JobStateStopped, job.State)
	m.jobs.AssertExpectations(t)
}

func TestJobService_StopTerminalJobIsNoop(t *testing.T) {
	svc, m := newTestJobService()

	m.jobs.On("Get", mock.Anything, "user-1", "job-1").
		Return(&models.EmbeddingJob{JobID: "job-1", User: "user-1", State: models.JobStateFinished}, nil)

	job, err := svc.Stop(context.Background(), "user-1", "job-1")

	require.NoError(t, err)
	assert.Equal(t, models.JobStateFinished, job.State)
	m.jobs.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	m.jobs.AssertNotCalled(t, "SetStopFlag", mock.Anything, mock.Anything, mock.Anything)
}

func TestJobService_ReindexChunksSubset(t *testing.T) {
	svc, m := newTestJobService()
	ids := []string{"doc-1_chunk_0", "doc-1_chunk_2"}

	m.docs.On("Get", mock.Anything, "doc-1").
		Return(&models.Document{ID: "doc-1", Owner: "user-1"}, nil)
	m.chunks.On("ListByDocument", mock.Anything, "doc-1").Return(reindexFixtureChunks(), nil)
	m.jobs.On("Create", mock.Anything, mock.Anything).Return(nil)
	m.bm25Repo.On("RemoveChunks", mock.Anything, "doc-1", ids).Return(nil)
	m.chunks.On("DeleteByIDs", mock.Anything, "doc-1", ids).Return(int64(2), nil)
	m.embed.On("EmbedBatch", mock.Anything, []string{"refund policy window", "warranty claim steps"}).
		Return([][]float32{{0.1}, {0.2}}, nil)
	m.chunks.On("UpsertBatch", mock.Anything, mock.MatchedBy(func(chunks []*models.Chunk) bool {
		return len(chunks) == 2 && chunks[0].Embedding != nil && chunks[1].Embedding != nil
	})).Return(nil)
	m.bm25Repo.On("IndexChunks", mock.Anything, "doc-1", mock.MatchedBy(func(entries []*repositories.BM25Entry) bool {
		return len(entries) == 2 && entries[0].ChunkID == "doc-1_chunk_0" && entries[1].ChunkID == "doc-1_chunk_2"
	})).Return(nil)

	var finalState models.JobState
	m.jobs.On("Update", mock.Anything, mock.MatchedBy(func(j *models.EmbeddingJob) bool {
		finalState = j.State
		return true
	})).Return(nil)

	job, err := svc.ReindexChunks(context.Background(), "user-1", "doc-1", ids)

	require.NoError(t, err)
	assert.Equal(t, models.JobStateFinished, job.State)
	assert.Equal(t, 2, job.Result["reindexed"])
	assert.Equal(t, models.JobStateFinished, finalState)
	m.bm25Repo.AssertExpectations(t)
	m.chunks.AssertExpectations(t)
}

func TestJobService_ReindexChunksRequiresOwner(t *testing.T) {
	svc, m := newTestJobService()

	m.docs.On("Get", mock.Anything, "doc-1").
		Return(&models.Document{ID: "doc-1", Owner: "someone-else"}, nil)

	_, err := svc.ReindexChunks(context.Background(), "user-1", "doc-1", nil)

	require.Error(t, err)
	assert.True(t, models.IsForbidden(err))
	m.jobs.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestJobService_ReindexChunksNoMatches(t *testing.T) {
	svc, m := newTestJobService()

	m.docs.On("Get", mock.Anything, "doc-1").
		Return(&models.Document{ID: "doc-1", Owner: "user-1"}, nil)
	m.chunks.On("ListByDocument", mock.Anything, "doc-1").Return(reindexFixtureChunks(), nil)

	_, err := svc.ReindexChunks(context.Background(), "user-1", "doc-1", []string{"doc-1_chunk_99"})

	require.Error(t, err)
	assert.True(t, models.IsValidation(err))
	m.jobs.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestJobService_ReindexChunksEmbedFailureFailsJob(t *testing.T) {
	svc, m := newTestJobService()
	ids := []string{"doc-1_chunk_0"}

	m.docs.On("Get", mock.Anything, "doc-1").
		Return(&models.Document{ID: "doc-1", Owner: "user-1"}, nil)
	m.chunks.On("ListByDocument", mock.Anything, "doc-1").Return(reindexFixtureChunks(), nil)
	m.jobs.On("Create", mock.Anything, mock.Anything).Return(nil)
	m.bm25Repo.On("RemoveChunks", mock.Anything, "doc-1", ids).Return(nil)
	m.chunks.On("DeleteByIDs", mock.Anything, "doc-1", ids).Return(int64(1), nil)
	m.embed.On("EmbedBatch", mock.Anything, mock.Anything).
		Return(nil, models.NewUpstreamError("embedding api", "embed/batch", errors.New("status 503")))

	var finalJob *models.EmbeddingJob
	m.jobs.On("Update", mock.Anything, mock.MatchedBy(func(j *models.EmbeddingJob) bool {
		finalJob = j
		return true
	})).Return(nil)

	job, err := svc.ReindexChunks(context.Background(), "user-1", "doc-1", ids)

	require.Error(t, err)
	assert.True(t, models.IsUpstream(err))
	require.NotNil(t, job)
	require.NotNil(t, finalJob)
	assert.Equal(t, models.JobStateFailed, finalJob.State)
	assert.NotEmpty(t, finalJob.Error)
	m.chunks.AssertNotCalled(t, "UpsertBatch", mock.Anything, mock.Anything)
}

func TestJobService_IsStoppedDelegates(t *testing.T) {
	svc, m := newTestJobService()

	m.jobs.On("IsStopRequested", mock.Anything, "user-1", "job-1").Return(true, nil)

	stopped, err := svc.IsStopped(context.Background(), "user-1", "job-1")

	require.NoError(t, err)
	assert.True(t, stopped)
}
