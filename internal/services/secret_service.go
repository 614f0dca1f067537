package services

import (
	"context"
	"log"
	"time"

	"rag-engine/internal/metrics"
	"rag-engine/internal/models"
	"rag-engine/internal/repositories"
)

// SecretMaxAge is how long a parcel may outlive its last write before the
// sweeper considers it orphaned.
const SecretMaxAge = 24 * time.Hour

// SecretService brokers the short-lived credential parcels that travel with
// each document through the pipeline. A parcel whose document has fallen out
// of the status tracker is an orphan; the sweep reaps orphans older than the
// cutoff. Parcel document keys are the same bucket/key ids the status plane
// uses.
type SecretService struct {
	repo    repositories.SecretRepository
	status  repositories.StatusRepository
	metrics *metrics.Metrics
	logger  *log.Logger
}

// NewSecretService creates a new secrets broker service.
func NewSecretService(repo repositories.SecretRepository, status repositories.StatusRepository, m *metrics.Metrics, logger *log.Logger) *SecretService {
	if logger == nil {
		logger = log.New(log.Writer(), "[SECRETS] ", log.LstdFlags)
	}
	return &SecretService{
		repo:    repo,
		status:  status,
		metrics: m,
		logger:  logger,
	}
}

// Put stores the parcel under the document key, stamping the creation time
// if the caller did not.
func (s *SecretService) Put(ctx context.Context, docKey string, parcel *models.SecretParcel) error {
	if docKey == "" {
		return &models.ValidationError{Field: "doc_key", Message: "document key is required"}
	}
	parcel.DocKey = docKey
	if parcel.CreatedAt.IsZero() {
		parcel.CreatedAt = time.Now().UTC()
	}
	if err := parcel.Validate(); err != nil {
		return err
	}
	return s.repo.Put(ctx, docKey, parcel)
}

// Get returns the parcel for a document key. A missing parcel is an error;
// ingestion treats it as fatal for the document.
func (s *SecretService) Get(ctx context.Context, docKey string) (*models.SecretParcel, error) {
	return s.repo.Get(ctx, docKey)
}

// Delete removes the parcel for a document key.
func (s *SecretService) Delete(ctx context.Context, docKey string) error {
	return s.repo.Delete(ctx, docKey)
}

// Sweep enumerates every stored parcel and deletes the ones older than the
// cutoff whose document no longer appears in the status tracker. One bad
// record never stops the sweep; lookups that fail leave their parcel in
// place for the next run. Returns how many parcels were removed.
func (s *SecretService) Sweep(ctx context.Context) (int, error) {
	stored, err := s.repo.List(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	swept := 0
	for _, entry := range stored {
		if entry.Parcel.Age(now) <= SecretMaxAge {
			continue
		}

		exists, err := s.status.Exists(ctx, entry.DocKey)
		if err != nil {
			s.logger.Printf("[%s] Sweep status lookup failed, keeping parcel: %v", entry.DocKey, err)
			continue
		}
		if exists {
			continue
		}

		if err := s.repo.Delete(ctx, entry.DocKey); err != nil {
			s.logger.Printf("[%s] Sweep delete failed: %v", entry.DocKey, err)
			continue
		}
		swept++
	}

	if swept > 0 {
		s.metrics.SecretsSwept.Add(float64(swept))
	}
	s.logger.Printf("Sweep finished: %d of %d parcels removed", swept, len(stored))
	return swept, nil
}
