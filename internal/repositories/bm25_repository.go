package repositories

import (
	"context"
)

// BM25Entry is the sparse index row for one chunk: its term frequencies and
// token length.
type BM25Entry struct {
	ChunkID   string         `json:"chunk_id"`
	TermFreqs map[string]int `json:"term_freqs"`
	DocLength int            `json:"doc_length"`
}

// BM25Candidate is one chunk's postings joined with the chunk fields needed
// to rank and hydrate a sparse search hit.
type BM25Candidate struct {
	ChunkID   string         `json:"chunk_id"`
	TermFreqs map[string]int `json:"term_freqs"`
	DocLength int            `json:"doc_length"`
	Ordinal   int            `json:"ordinal"`
	Page      *int           `json:"page,omitempty"`
	Content   string         `json:"content"`
}

// BM25Meta is the per-document aggregate used by the scoring formula.
type BM25Meta struct {
	TotalChunks      int     `json:"total_chunks"`
	AvgChunkLength   float64 `json:"avg_chunk_length"`
	TotalUniqueTerms int     `json:"total_unique_terms"`
}

// BM25Repository maintains the sparse index tables. Indexing is additive:
// re-indexing a chunk applies document-frequency deltas between its old and
// new postings instead of rebuilding the document's statistics, and the
// per-document aggregates are recomputed in the same transaction.
type BM25Repository interface {
	// IndexChunks upserts the chunks' postings, applies df deltas and
	// refreshes the document aggregates, all in one transaction.
	IndexChunks(ctx context.Context, documentID string, entries []*BM25Entry) error

	// RemoveChunks drops the chunks' postings and subtracts their df
	// contributions, refreshing the aggregates in the same transaction.
	RemoveChunks(ctx context.Context, documentID string, chunkIDs []string) error

	// Candidates returns the postings of every chunk in the document that
	// contains at least one of the query terms.
	Candidates(ctx context.Context, documentID string, terms []string) ([]*BM25Candidate, error)

	// TermStats returns the document-scoped df for each requested term.
	// Terms absent from the index are omitted.
	TermStats(ctx context.Context, documentID string, terms []string) (map[string]int, error)

	// Meta returns the document aggregates, or zero values for an unindexed
	// document.
	Meta(ctx context.Context, documentID string) (*BM25Meta, error)
}
