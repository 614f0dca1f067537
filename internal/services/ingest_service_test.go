package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"rag-engine/internal/events"
	"rag-engine/internal/metrics"
	"rag-engine/internal/models"
	"rag-engine/internal/storage"
)

type ingestMocks struct {
	store      *MockObjectStore
	statusRepo *MockStatusRepository
	secretRepo *MockSecretRepository
	queue      *MockQueue
}

func newTestIngestService() (*IngestService, *ingestMocks) {
	m := &ingestMocks{
		store:      new(MockObjectStore),
		statusRepo: new(MockStatusRepository),
		secretRepo: new(MockSecretRepository),
		queue:      new(MockQueue),
	}
	reg := metrics.NewWithRegistry(prometheus.NewRegistry())
	status := NewStatusService(m.statusRepo, events.NewBus(), reg, testLogger())
	secrets := NewSecretService(m.secretRepo, m.statusRepo, reg, testLogger())
	svc := NewIngestService(m.store, status, secrets, NewClassifier(testLogger()),
		m.queue, map[models.Lane]string{
			models.LaneText:   "lane-text",
			models.LaneVisual: "lane-visual",
		}, reg, testLogger())
	return svc, m
}

// echoStatusWrites makes every status upsert succeed and records the states
// written, in order.
func echoStatusWrites(repo *MockStatusRepository) *[]models.PipelineState {
	states := &[]models.PipelineState{}
	repo.On("Upsert", mock.Anything, mock.MatchedBy(func(r *models.StatusRecord) bool {
		*states = append(*states, r.State)
		return true
	})).Return(&models.StatusRecord{Bucket: "uploads", Key: "x", State: models.StateQueued}, nil)
	return states
}

func TestIngestService_ProcessBatchQueuesMarkedUpload(t *testing.T) {
	svc, m := newTestIngestService()
	states := echoStatusWrites(m.statusRepo)

	m.store.On("Head", mock.Anything, "uploads", "docs/a.pdf").Return(&storage.ObjectInfo{
		Size: 2048,
		MIME: "application/pdf",
		Metadata: map[string]string{
			"rag-enabled": "true",
			"user":        "user-1",
		},
	}, nil)
	m.secretRepo.On("Get", mock.Anything, "uploads/docs/a.pdf").Return(&models.SecretParcel{
		DocKey:  "uploads/docs/a.pdf",
		Payload: json.RawMessage(`{"token":"t"}`),
	}, nil)

	var sentQueue string
	var sentBody []byte
	m.queue.On("Send", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			sentQueue = args.String(1)
			sentBody = args.Get(2).([]byte)
		}).Return(nil)

	result := svc.ProcessBatch(context.Background(), []models.UploadRecord{
		{Bucket: "uploads", Key: "docs/a.pdf"},
	})

	assert.Equal(t, 1, result.Queued)
	assert.Equal(t, 0, result.Failed)
	require.Len(t, result.Outcomes, 1)
	assert.True(t, result.Outcomes[0].Queued)

	assert.Equal(t, "lane-text", sentQueue)
	var item models.WorkItem
	require.NoError(t, json.Unmarshal(sentBody, &item))
	assert.Equal(t, "uploads", item.Bucket)
	assert.Equal(t, "docs/a.pdf", item.Key)
	assert.Equal(t, models.LaneText, item.Lane)
	assert.Equal(t, int64(2048), item.Size)
	assert.Equal(t, "application/pdf", item.MIME)
	assert.False(t, item.ForceReprocess)
	assert.Equal(t, "user-1", item.User)
	assert.JSONEq(t, `{"token":"t"}`, string(item.Credentials))

	assert.Equal(t, []models.PipelineState{models.StateValidating, models.StateQueued}, *states)
}

func TestIngestService_ProcessBatchSkipsUnmarkedUpload(t *testing.T) {
	svc, m := newTestIngestService()
	echoStatusWrites(m.statusRepo)

	m.store.On("Head", mock.Anything, "uploads", "plain.txt").Return(&storage.ObjectInfo{
		Size: 10,
		MIME: "text/plain",
	}, nil)

	result := svc.ProcessBatch(context.Background(), []models.UploadRecord{
		{Bucket: "uploads", Key: "plain.txt"},
	})

	assert.Equal(t, 1, result.Skipped)
	assert.True(t, result.Outcomes[0].Skip)
	m.secretRepo.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
	m.queue.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestIngestService_HeadFailureFailsRecordNotBatch(t *testing.T) {
	svc, m := newTestIngestService()

	var failedStages []string
	m.statusRepo.On("Upsert", mock.Anything, mock.MatchedBy(func(r *models.StatusRecord) bool {
		if r.State == models.StateFailed {
			failedStages = append(failedStages, r.Metadata["stage"].(string))
		}
		return true
	})).Return(&models.StatusRecord{Bucket: "uploads", Key: "x", State: models.StateQueued}, nil)

	m.store.On("Head", mock.Anything, "uploads", "gone.pdf").
		Return(nil, errors.New("head: 404"))
	m.store.On("Head", mock.Anything, "uploads", "ok.pdf").Return(&storage.ObjectInfo{
		Size:     100,
		MIME:     "application/pdf",
		Metadata: map[string]string{"rag-enabled": "yes"},
	}, nil)
	m.secretRepo.On("Get", mock.Anything, "uploads/ok.pdf").Return(&models.SecretParcel{
		DocKey:  "uploads/ok.pdf",
		Payload: json.RawMessage(`{}`),
	}, nil)
	m.queue.On("Send", mock.Anything, "lane-text", mock.Anything).Return(nil)

	result := svc.ProcessBatch(context.Background(), []models.UploadRecord{
		{Bucket: "uploads", Key: "gone.pdf"},
		{Bucket: "uploads", Key: "ok.pdf"},
	})

	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Queued)
	assert.Contains(t, result.Outcomes[0].Error, "head: 404")
	assert.True(t, result.Outcomes[1].Queued)
	assert.Equal(t, []string{"validation"}, failedStages)
}

func TestIngestService_MissingParcelIsFatal(t *testing.T) {
	svc, m := newTestIngestService()

	var failedStage string
	m.statusRepo.On("Upsert", mock.Anything, mock.MatchedBy(func(r *models.StatusRecord) bool {
		if r.State == models.StateFailed {
			failedStage = r.Metadata["stage"].(string)
		}
		return true
	})).Return(&models.StatusRecord{Bucket: "uploads", Key: "x", State: models.StateQueued}, nil)

	m.store.On("Head", mock.Anything, "uploads", "a.pdf").Return(&storage.ObjectInfo{
		Size:     100,
		MIME:     "application/pdf",
		Metadata: map[string]string{"rag-enabled": "true"},
	}, nil)
	m.secretRepo.On("Get", mock.Anything, "uploads/a.pdf").
		Return(nil, models.NewSecretNotFoundError("uploads/a.pdf"))

	result := svc.ProcessBatch(context.Background(), []models.UploadRecord{
		{Bucket: "uploads", Key: "a.pdf"},
	})

	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, "credentials", failedStage)
	m.queue.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestIngestService_ForceReprocessBypassesMarker(t *testing.T) {
	svc, m := newTestIngestService()
	echoStatusWrites(m.statusRepo)

	m.store.On("Head", mock.Anything, "uploads", "a.pdf").Return(&storage.ObjectInfo{
		Size: 100,
		MIME: "application/pdf",
	}, nil)
	m.secretRepo.On("Get", mock.Anything, "uploads/a.pdf").Return(&models.SecretParcel{
		DocKey:  "uploads/a.pdf",
		User:    "parcel-user",
		Payload: json.RawMessage(`{}`),
	}, nil)

	var sentBody []byte
	m.queue.On("Send", mock.Anything, "lane-text", mock.Anything).
		Run(func(args mock.Arguments) { sentBody = args.Get(2).([]byte) }).Return(nil)

	result := svc.ProcessBatch(context.Background(), []models.UploadRecord{
		{Bucket: "uploads", Key: "a.pdf", Metadata: map[string]string{"force_reprocess": "true"}},
	})

	assert.Equal(t, 1, result.Queued)
	var item models.WorkItem
	require.NoError(t, json.Unmarshal(sentBody, &item))
	assert.True(t, item.ForceReprocess)
	assert.Equal(t, "parcel-user", item.User)
}

func TestIngestService_MissingLaneQueueFails(t *testing.T) {
	svc, m := newTestIngestService()
	svc.laneQueues = map[models.Lane]string{models.LaneText: "lane-text"}

	var failedStage string
	m.statusRepo.On("Upsert", mock.Anything, mock.MatchedBy(func(r *models.StatusRecord) bool {
		if r.State == models.StateFailed {
			failedStage = r.Metadata["stage"].(string)
		}
		return true
	})).Return(&models.StatusRecord{Bucket: "uploads", Key: "x", State: models.StateQueued}, nil)

	m.store.On("Head", mock.Anything, "uploads", "deck.pptx").Return(&storage.ObjectInfo{
		Size:     100,
		MIME:     "application/vnd.openxmlformats-officedocument.presentationml.presentation",
		Metadata: map[string]string{"rag-enabled": "true"},
	}, nil)
	m.secretRepo.On("Get", mock.Anything, "uploads/deck.pptx").Return(&models.SecretParcel{
		DocKey:  "uploads/deck.pptx",
		Payload: json.RawMessage(`{}`),
	}, nil)

	result := svc.ProcessBatch(context.Background(), []models.UploadRecord{
		{Bucket: "uploads", Key: "deck.pptx"},
	})

	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, "queue", failedStage)
	assert.Contains(t, result.Outcomes[0].Error, "visual")
}

func TestIngestService_PanicInOneRecordDoesNotPoisonBatch(t *testing.T) {
	svc, m := newTestIngestService()
	echoStatusWrites(m.statusRepo)

	m.store.On("Head", mock.Anything, "uploads", "boom.pdf").Return(&storage.ObjectInfo{
		Size:     100,
		MIME:     "application/pdf",
		Metadata: map[string]string{"rag-enabled": "true"},
	}, nil)
	m.store.On("Head", mock.Anything, "uploads", "ok.pdf").Return(&storage.ObjectInfo{
		Size:     100,
		MIME:     "application/pdf",
		Metadata: map[string]string{"rag-enabled": "true"},
	}, nil)
	m.secretRepo.On("Get", mock.Anything, mock.Anything).Return(&models.SecretParcel{
		DocKey:  "any",
		Payload: json.RawMessage(`{}`),
	}, nil)

	m.queue.On("Send", mock.Anything, "lane-text", mock.MatchedBy(func(body []byte) bool {
		var item models.WorkItem
		_ = json.Unmarshal(body, &item)
		return item.Key == "boom.pdf"
	})).Run(func(mock.Arguments) { panic("queue wedged") }).Return(nil)
	m.queue.On("Send", mock.Anything, "lane-text", mock.Anything).Return(nil)

	result := svc.ProcessBatch(context.Background(), []models.UploadRecord{
		{Bucket: "uploads", Key: "boom.pdf"},
		{Bucket: "uploads", Key: "ok.pdf"},
	})

	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Queued)
	assert.Contains(t, result.Outcomes[0].Error, "intake panic")
	assert.True(t, result.Outcomes[1].Queued)
}

func TestIngestService_InvalidRecordIsReported(t *testing.T) {
	svc, m := newTestIngestService()

	result := svc.ProcessBatch(context.Background(), []models.UploadRecord{
		{Bucket: "", Key: "a.pdf"},
	})

	assert.Equal(t, 1, result.Failed)
	assert.NotEmpty(t, result.Outcomes[0].Error)
	m.store.AssertNotCalled(t, "Head", mock.Anything, mock.Anything, mock.Anything)
}
