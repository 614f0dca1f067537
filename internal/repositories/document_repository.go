package repositories

import (
	"context"

	"rag-engine/internal/models"
)

// DocumentRepository defines document registry operations backed by the
// relational store. Deleting a document removes every derived row (chunks,
// page embeddings, BM25 postings, access grants) in one transaction.
type DocumentRepository interface {
	// Upsert registers a document keyed by its storage coordinates. If a row
	// for (bucket, key) already exists its id and owner are preserved and the
	// remaining fields are refreshed. The canonical id is returned.
	Upsert(ctx context.Context, doc *models.Document) (string, error)

	// Get retrieves a document by id.
	Get(ctx context.Context, documentID string) (*models.Document, error)

	// GetByStorageKey retrieves a document by its object store coordinates.
	GetByStorageKey(ctx context.Context, bucket, key string) (*models.Document, error)

	// ListByOwner returns the owner's documents, newest first.
	ListByOwner(ctx context.Context, owner string, limit, offset int) ([]*models.Document, error)

	// UpdateState sets the pipeline state of a document.
	UpdateState(ctx context.Context, documentID string, state models.PipelineState) error

	// Delete removes the document, all derived rows, and its access grants.
	Delete(ctx context.Context, documentID string) error

	// Exists reports whether a document is registered for (bucket, key).
	Exists(ctx context.Context, bucket, key string) (bool, error)

	// Count returns the total number of registered documents.
	Count(ctx context.Context) (int, error)
}
