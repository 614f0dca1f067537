package repositories

import (
	"context"

	"rag-engine/internal/models"
)

// ChunkRepository defines chunk persistence and dense retrieval operations.
// Upserts are idempotent on chunk id so reprocessing a document overwrites
// rather than duplicates.
type ChunkRepository interface {
	// UpsertBatch writes all chunks in one transaction. Existing rows are
	// updated in place (content, embedding, page, ordinal, metadata) and the
	// text search vector is refreshed from the new content.
	UpsertBatch(ctx context.Context, chunks []*models.Chunk) error

	// Get retrieves a chunk by id, without its embedding.
	Get(ctx context.Context, chunkID string) (*models.Chunk, error)

	// ListByDocument returns the document's chunks ordered by ordinal,
	// without embeddings.
	ListByDocument(ctx context.Context, documentID string) ([]*models.Chunk, error)

	// DeleteByIDs removes the listed chunks of a document and returns how
	// many rows were deleted.
	DeleteByIDs(ctx context.Context, documentID string, chunkIDs []string) (int64, error)

	// DenseSearch returns the chunks nearest to the query embedding by inner
	// product, highest score first. An empty documentID searches across
	// documents, restricted to those the principal owns or holds a grant on;
	// it requires a non-empty principal. A non-empty documentID searches that
	// document alone (the caller is expected to have checked visibility).
	DenseSearch(ctx context.Context, query []float32, documentID, principal string, limit int) ([]*models.SearchResult, error)

	// CountByDocument returns the number of chunks stored for a document.
	CountByDocument(ctx context.Context, documentID string) (int, error)
}
