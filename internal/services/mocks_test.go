package services

import (
	"context"
	"log"
	"os"
	"time"

	"rag-engine/internal/models"
	"rag-engine/internal/queue"
	"rag-engine/internal/repositories"
	"rag-engine/internal/storage"

	"github.com/stretchr/testify/mock"
)

// Shared mocks for the service tests in this package.

func testLogger() *log.Logger {
	return log.New(os.Stdout, "[TEST] ", log.LstdFlags)
}

// ============================================================================
// Repository Mocks
// ============================================================================

type MockDocumentRepository struct {
	mock.Mock
}

func (m *MockDocumentRepository) Upsert(ctx context.Context, doc *models.Document) (string, error) {
	args := m.Called(ctx, doc)
	return args.String(0), args.Error(1)
}

func (m *MockDocumentRepository) Get(ctx context.Context, documentID string) (*models.Document, error) {
	args := m.Called(ctx, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Document), args.Error(1)
}

func (m *MockDocumentRepository) GetByStorageKey(ctx context.Context, bucket, key string) (*models.Document, error) {
	args := m.Called(ctx, bucket, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Document), args.Error(1)
}

func (m *MockDocumentRepository) ListByOwner(ctx context.Context, owner string, limit, offset int) ([]*models.Document, error) {
	args := m.Called(ctx, owner, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Document), args.Error(1)
}

func (m *MockDocumentRepository) UpdateState(ctx context.Context, documentID string, state models.PipelineState) error {
	args := m.Called(ctx, documentID, state)
	return args.Error(0)
}

func (m *MockDocumentRepository) Delete(ctx context.Context, documentID string) error {
	args := m.Called(ctx, documentID)
	return args.Error(0)
}

func (m *MockDocumentRepository) Exists(ctx context.Context, bucket, key string) (bool, error) {
	args := m.Called(ctx, bucket, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockDocumentRepository) Count(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type MockChunkRepository struct {
	mock.Mock
}

func (m *MockChunkRepository) UpsertBatch(ctx context.Context, chunks []*models.Chunk) error {
	args := m.Called(ctx, chunks)
	return args.Error(0)
}

func (m *MockChunkRepository) Get(ctx context.Context, chunkID string) (*models.Chunk, error) {
	args := m.Called(ctx, chunkID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Chunk), args.Error(1)
}

func (m *MockChunkRepository) ListByDocument(ctx context.Context, documentID string) ([]*models.Chunk, error) {
	args := m.Called(ctx, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Chunk), args.Error(1)
}

func (m *MockChunkRepository) DeleteByIDs(ctx context.Context, documentID string, chunkIDs []string) (int64, error) {
	args := m.Called(ctx, documentID, chunkIDs)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockChunkRepository) DenseSearch(ctx context.Context, query []float32, documentID, principal string, limit int) ([]*models.SearchResult, error) {
	args := m.Called(ctx, query, documentID, principal, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.SearchResult), args.Error(1)
}

func (m *MockChunkRepository) CountByDocument(ctx context.Context, documentID string) (int, error) {
	args := m.Called(ctx, documentID)
	return args.Int(0), args.Error(1)
}

type MockPageRepository struct {
	mock.Mock
}

func (m *MockPageRepository) UpsertBatch(ctx context.Context, pages []*models.PageEmbedding) error {
	args := m.Called(ctx, pages)
	return args.Error(0)
}

func (m *MockPageRepository) ListByDocument(ctx context.Context, documentID string) ([]*models.PageEmbedding, error) {
	args := m.Called(ctx, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.PageEmbedding), args.Error(1)
}

func (m *MockPageRepository) DeleteByDocument(ctx context.Context, documentID string) error {
	args := m.Called(ctx, documentID)
	return args.Error(0)
}

type MockBM25Repository struct {
	mock.Mock
}

func (m *MockBM25Repository) IndexChunks(ctx context.Context, documentID string, entries []*repositories.BM25Entry) error {
	args := m.Called(ctx, documentID, entries)
	return args.Error(0)
}

func (m *MockBM25Repository) RemoveChunks(ctx context.Context, documentID string, chunkIDs []string) error {
	args := m.Called(ctx, documentID, chunkIDs)
	return args.Error(0)
}

func (m *MockBM25Repository) Candidates(ctx context.Context, documentID string, terms []string) ([]*repositories.BM25Candidate, error) {
	args := m.Called(ctx, documentID, terms)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*repositories.BM25Candidate), args.Error(1)
}

func (m *MockBM25Repository) TermStats(ctx context.Context, documentID string, terms []string) (map[string]int, error) {
	args := m.Called(ctx, documentID, terms)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]int), args.Error(1)
}

func (m *MockBM25Repository) Meta(ctx context.Context, documentID string) (*repositories.BM25Meta, error) {
	args := m.Called(ctx, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repositories.BM25Meta), args.Error(1)
}

type MockAccessRepository struct {
	mock.Mock
}

func (m *MockAccessRepository) ClaimOwner(ctx context.Context, objectID, principalID, objectType, policy string) (string, error) {
	args := m.Called(ctx, objectID, principalID, objectType, policy)
	return args.String(0), args.Error(1)
}

func (m *MockAccessRepository) Put(ctx context.Context, grant *models.AccessGrant) error {
	args := m.Called(ctx, grant)
	return args.Error(0)
}

func (m *MockAccessRepository) Get(ctx context.Context, objectID, principalID string) (*models.AccessGrant, error) {
	args := m.Called(ctx, objectID, principalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AccessGrant), args.Error(1)
}

func (m *MockAccessRepository) ListByObject(ctx context.Context, objectID string) ([]*models.AccessGrant, error) {
	args := m.Called(ctx, objectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.AccessGrant), args.Error(1)
}

func (m *MockAccessRepository) Owner(ctx context.Context, objectID string) (string, error) {
	args := m.Called(ctx, objectID)
	return args.String(0), args.Error(1)
}

func (m *MockAccessRepository) MaxPermission(ctx context.Context, objectID string, principalIDs []string) (models.Permission, error) {
	args := m.Called(ctx, objectID, principalIDs)
	return args.Get(0).(models.Permission), args.Error(1)
}

func (m *MockAccessRepository) Revoke(ctx context.Context, objectID, principalID string) error {
	args := m.Called(ctx, objectID, principalID)
	return args.Error(0)
}

type MockStatusRepository struct {
	mock.Mock
}

func (m *MockStatusRepository) Upsert(ctx context.Context, record *models.StatusRecord) (*models.StatusRecord, error) {
	args := m.Called(ctx, record)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.StatusRecord), args.Error(1)
}

func (m *MockStatusRepository) Get(ctx context.Context, statusID string) (*models.StatusRecord, error) {
	args := m.Called(ctx, statusID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.StatusRecord), args.Error(1)
}

func (m *MockStatusRepository) Exists(ctx context.Context, statusID string) (bool, error) {
	args := m.Called(ctx, statusID)
	return args.Bool(0), args.Error(1)
}

func (m *MockStatusRepository) Delete(ctx context.Context, statusID string) error {
	args := m.Called(ctx, statusID)
	return args.Error(0)
}

type MockJobRepository struct {
	mock.Mock
}

func (m *MockJobRepository) Create(ctx context.Context, job *models.EmbeddingJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *MockJobRepository) Get(ctx context.Context, user, jobID string) (*models.EmbeddingJob, error) {
	args := m.Called(ctx, user, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EmbeddingJob), args.Error(1)
}

func (m *MockJobRepository) Update(ctx context.Context, job *models.EmbeddingJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *MockJobRepository) ListByUser(ctx context.Context, user string) ([]*models.EmbeddingJob, error) {
	args := m.Called(ctx, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.EmbeddingJob), args.Error(1)
}

func (m *MockJobRepository) SetStopFlag(ctx context.Context, user, jobID string) error {
	args := m.Called(ctx, user, jobID)
	return args.Error(0)
}

func (m *MockJobRepository) IsStopRequested(ctx context.Context, user, jobID string) (bool, error) {
	args := m.Called(ctx, user, jobID)
	return args.Bool(0), args.Error(1)
}

func (m *MockJobRepository) Delete(ctx context.Context, user, jobID string) error {
	args := m.Called(ctx, user, jobID)
	return args.Error(0)
}

type MockSecretRepository struct {
	mock.Mock
}

func (m *MockSecretRepository) Put(ctx context.Context, docKey string, parcel *models.SecretParcel) error {
	args := m.Called(ctx, docKey, parcel)
	return args.Error(0)
}

func (m *MockSecretRepository) Get(ctx context.Context, docKey string) (*models.SecretParcel, error) {
	args := m.Called(ctx, docKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SecretParcel), args.Error(1)
}

func (m *MockSecretRepository) Delete(ctx context.Context, docKey string) error {
	args := m.Called(ctx, docKey)
	return args.Error(0)
}

func (m *MockSecretRepository) List(ctx context.Context) ([]*repositories.StoredSecret, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*repositories.StoredSecret), args.Error(1)
}

// ============================================================================
// Client Mocks
// ============================================================================

type MockEmbedClient struct {
	mock.Mock
}

func (m *MockEmbedClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	args := m.Called(ctx, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

func (m *MockEmbedClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

func (m *MockEmbedClient) EmbedTokens(ctx context.Context, text string) ([][]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]float32), args.Error(1)
}

func (m *MockEmbedClient) EmbedPages(ctx context.Context, images [][]byte) ([][][]float32, error) {
	args := m.Called(ctx, images)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][][]float32), args.Error(1)
}

func (m *MockEmbedClient) Dimension() int {
	args := m.Called()
	return args.Int(0)
}

func (m *MockEmbedClient) HealthCheck(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

type MockParserClient struct {
	mock.Mock
}

func (m *MockParserClient) ParsePDF(ctx context.Context, fileData []byte, filename string) (*PDFParseResponse, error) {
	args := m.Called(ctx, fileData, filename)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*PDFParseResponse), args.Error(1)
}

func (m *MockParserClient) ParseDOCX(ctx context.Context, fileData []byte, filename string) (*DOCXParseResponse, error) {
	args := m.Called(ctx, fileData, filename)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*DOCXParseResponse), args.Error(1)
}

func (m *MockParserClient) ParseXLSX(ctx context.Context, fileData []byte, filename string) (*XLSXParseResponse, error) {
	args := m.Called(ctx, fileData, filename)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*XLSXParseResponse), args.Error(1)
}

func (m *MockParserClient) RenderPages(ctx context.Context, fileData []byte, filename string, maxPages int) (*RenderResponse, error) {
	args := m.Called(ctx, fileData, filename, maxPages)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*RenderResponse), args.Error(1)
}

func (m *MockParserClient) HealthCheck(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

type MockVisionService struct {
	mock.Mock
}

func (m *MockVisionService) DescribeImage(ctx context.Context, imageData []byte, mimeType string) (*VisualDescription, error) {
	args := m.Called(ctx, imageData, mimeType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*VisualDescription), args.Error(1)
}

func (m *MockVisionService) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// ============================================================================
// Infrastructure Mocks
// ============================================================================

type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) Send(ctx context.Context, queueName string, body []byte) error {
	args := m.Called(ctx, queueName, body)
	return args.Error(0)
}

func (m *MockQueue) Receive(ctx context.Context, queueName string, max int) ([]queue.Message, error) {
	args := m.Called(ctx, queueName, max)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]queue.Message), args.Error(1)
}

func (m *MockQueue) Delete(ctx context.Context, queueName, receipt string) error {
	args := m.Called(ctx, queueName, receipt)
	return args.Error(0)
}

func (m *MockQueue) ExtendVisibility(ctx context.Context, queueName, receipt string, d time.Duration) error {
	args := m.Called(ctx, queueName, receipt, d)
	return args.Error(0)
}

func (m *MockQueue) Depth(ctx context.Context, queueName string) (int64, error) {
	args := m.Called(ctx, queueName)
	return args.Get(0).(int64), args.Error(1)
}

type MockObjectStore struct {
	mock.Mock
}

func (m *MockObjectStore) Head(ctx context.Context, bucket, key string) (*storage.ObjectInfo, error) {
	args := m.Called(ctx, bucket, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*storage.ObjectInfo), args.Error(1)
}

func (m *MockObjectStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	args := m.Called(ctx, bucket, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockObjectStore) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	args := m.Called(ctx, bucket, key, data, contentType)
	return args.Error(0)
}
