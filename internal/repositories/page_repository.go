package repositories

import (
	"context"

	"rag-engine/internal/models"
)

// PageRepository defines persistence for per-page multi-vector embeddings
// used by late-interaction retrieval. Rows are idempotent on
// (document_id, page).
type PageRepository interface {
	// UpsertBatch writes all page embeddings in one transaction.
	UpsertBatch(ctx context.Context, pages []*models.PageEmbedding) error

	// ListByDocument returns the document's page embeddings ordered by page.
	ListByDocument(ctx context.Context, documentID string) ([]*models.PageEmbedding, error)

	// DeleteByDocument removes all page embeddings of a document.
	DeleteByDocument(ctx context.Context, documentID string) error
}
