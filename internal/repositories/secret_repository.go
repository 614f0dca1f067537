package repositories

import (
	"context"

	"rag-engine/internal/models"
)

// StoredSecret pairs a parcel with the document key it is filed under.
type StoredSecret struct {
	DocKey string
	Parcel *models.SecretParcel
}

// SecretRepository persists short-lived credential parcels under a
// deterministic name per document key. Parcels expire on their own; the
// sweep enumeration exists so stale ones can be reaped earlier.
type SecretRepository interface {
	// Put stores a parcel for a document key, overwriting any previous one
	// and resetting the TTL.
	Put(ctx context.Context, docKey string, parcel *models.SecretParcel) error

	// Get retrieves the parcel for a document key. A missing parcel is an
	// error: ingestion treats it as fatal for the document.
	Get(ctx context.Context, docKey string) (*models.SecretParcel, error)

	// Delete removes the parcel for a document key.
	Delete(ctx context.Context, docKey string) error

	// List enumerates every stored parcel in the broker's stage.
	List(ctx context.Context) ([]*StoredSecret, error)
}
