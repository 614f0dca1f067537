package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"rag-engine/internal/metrics"
	"rag-engine/internal/models"
	"rag-engine/internal/repositories"
)

func newTestSecretService() (*SecretService, *MockSecretRepository, *MockStatusRepository) {
	repo := new(MockSecretRepository)
	status := new(MockStatusRepository)
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	return NewSecretService(repo, status, m, testLogger()), repo, status
}

func agedParcel(docKey string, age time.Duration) *repositories.StoredSecret {
	return &repositories.StoredSecret{
		DocKey: docKey,
		Parcel: &models.SecretParcel{
			DocKey:    docKey,
			Payload:   json.RawMessage(`{"token":"x"}`),
			CreatedAt: time.Now().UTC().Add(-age),
		},
	}
}

func TestSecretService_PutStampsCreatedAt(t *testing.T) {
	svc, repo, _ := newTestSecretService()

	var stored *models.SecretParcel
	repo.On("Put", mock.Anything, "uploads/a.pdf", mock.MatchedBy(func(p *models.SecretParcel) bool {
		stored = p
		return true
	})).Return(nil)

	err := svc.Put(context.Background(), "uploads/a.pdf", &models.SecretParcel{
		Payload: json.RawMessage(`{"token":"x"}`),
	})

	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "uploads/a.pdf", stored.DocKey)
	assert.False(t, stored.CreatedAt.IsZero())
}

func TestSecretService_PutValidation(t *testing.T) {
	svc, repo, _ := newTestSecretService()
	ctx := context.Background()

	err := svc.Put(ctx, "", &models.SecretParcel{Payload: json.RawMessage(`{}`)})
	assert.True(t, models.IsValidation(err))

	err = svc.Put(ctx, "uploads/a.pdf", &models.SecretParcel{})
	assert.True(t, models.IsValidation(err))

	repo.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything)
}

func TestSecretService_GetMissingParcelIsError(t *testing.T) {
	svc, repo, _ := newTestSecretService()

	repo.On("Get", mock.Anything, "uploads/gone.pdf").
		Return(nil, models.NewSecretNotFoundError("uploads/gone.pdf"))

	_, err := svc.Get(context.Background(), "uploads/gone.pdf")

	require.Error(t, err)
	assert.True(t, models.IsNotFound(err))
}

func TestSecretService_SweepRemovesOldOrphansOnly(t *testing.T) {
	svc, repo, status := newTestSecretService()

	repo.On("List", mock.Anything).Return([]*repositories.StoredSecret{
		agedParcel("uploads/orphan.pdf", 30*time.Hour),
		agedParcel("uploads/active.pdf", 30*time.Hour),
		agedParcel("uploads/fresh.pdf", time.Hour),
	}, nil)
	status.On("Exists", mock.Anything, "uploads/orphan.pdf").Return(false, nil)
	status.On("Exists", mock.Anything, "uploads/active.pdf").Return(true, nil)
	repo.On("Delete", mock.Anything, "uploads/orphan.pdf").Return(nil)

	swept, err := svc.Sweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, swept)
	repo.AssertCalled(t, "Delete", mock.Anything, "uploads/orphan.pdf")
	repo.AssertNotCalled(t, "Delete", mock.Anything, "uploads/active.pdf")
	repo.AssertNotCalled(t, "Delete", mock.Anything, "uploads/fresh.pdf")
	status.AssertNotCalled(t, "Exists", mock.Anything, "uploads/fresh.pdf")
}

func TestSecretService_SweepKeepsParcelOnLookupFailure(t *testing.T) {
	svc, repo, status := newTestSecretService()

	repo.On("List", mock.Anything).Return([]*repositories.StoredSecret{
		agedParcel("uploads/unsure.pdf", 30*time.Hour),
		agedParcel("uploads/orphan.pdf", 30*time.Hour),
	}, nil)
	status.On("Exists", mock.Anything, "uploads/unsure.pdf").
		Return(false, errors.New("connection refused"))
	status.On("Exists", mock.Anything, "uploads/orphan.pdf").Return(false, nil)
	repo.On("Delete", mock.Anything, "uploads/orphan.pdf").Return(nil)

	swept, err := svc.Sweep(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, swept)
	repo.AssertNotCalled(t, "Delete", mock.Anything, "uploads/unsure.pdf")
}

func TestSecretService_SweepListFailure(t *testing.T) {
	svc, repo, _ := newTestSecretService()

	repo.On("List", mock.Anything).Return(nil, errors.New("connection refused"))

	_, err := svc.Sweep(context.Background())

	require.Error(t, err)
}
