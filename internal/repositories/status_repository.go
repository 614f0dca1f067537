package repositories

import (
	"context"

	"rag-engine/internal/models"
)

// StatusRepository persists pipeline status records with a bounded lifetime.
// Writes merge concurrent updates: state follows the later timestamp while
// progress only ever rises.
type StatusRepository interface {
	// Upsert merges the record into the stored one (creating it if absent)
	// and resets the TTL. The merged record is returned.
	Upsert(ctx context.Context, record *models.StatusRecord) (*models.StatusRecord, error)

	// Get returns the record for a status id, or nil when none exists.
	// Absence is not an error: records expire.
	Get(ctx context.Context, statusID string) (*models.StatusRecord, error)

	// Exists reports whether a record is present for the status id.
	Exists(ctx context.Context, statusID string) (bool, error)

	// Delete removes a record.
	Delete(ctx context.Context, statusID string) error
}
