package models

import (
	"time"
)

// ChunkLocation pins a chunk to its place in the source document. Only the
// fields that apply to the source format are set.
type ChunkLocation struct {
	Page         *int   `json:"page,omitempty"`
	Section      *int   `json:"section,omitempty"`
	Paragraph    *int   `json:"paragraph,omitempty"`
	SheetNumber  *int   `json:"sheet_number,omitempty"`
	SheetName    string `json:"sheet_name,omitempty"`
	RowNumber    *int   `json:"row_number,omitempty"`
	NCharIndex   *int   `json:"nchar_index,omitempty"`
	ContentIndex *int   `json:"content_index,omitempty"`
}

// ChunkDraft is an extractor's output before IDs and embeddings are assigned.
type ChunkDraft struct {
	Content  string                 `json:"content"`
	URL      string                 `json:"url,omitempty"`
	Location ChunkLocation          `json:"location"`
	CanSplit bool                   `json:"can_split"`
	Tokens   *PageTokens            `json:"tokens,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Chunk represents a persisted text chunk with its dense embedding
type Chunk struct {
	ID         string                 `json:"id"`
	DocumentID string                 `json:"document_id"`
	Ordinal    int                    `json:"ordinal"`
	Content    string                 `json:"content"`
	Page       *int                   `json:"page,omitempty"`
	Location   *ChunkLocation         `json:"location,omitempty"`
	Embedding  []float32              `json:"embedding,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// Validate checks if the chunk is valid
func (c *Chunk) Validate() error {
	if c.ID == "" {
		return &ValidationError{Field: "id", Message: "chunk ID is required"}
	}
	if c.DocumentID == "" {
		return &ValidationError{Field: "document_id", Message: "document ID is required"}
	}
	if c.Content == "" {
		return &ValidationError{Field: "content", Message: "content is required"}
	}
	if c.Ordinal < 0 {
		return &ValidationError{Field: "ordinal", Message: "ordinal cannot be negative"}
	}
	return nil
}

// SearchResult represents a single scored chunk from retrieval
type SearchResult struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Content    string  `json:"content,omitempty"`
	Ordinal    int     `json:"ordinal"`
	Page       *int    `json:"page,omitempty"`
	Score      float64 `json:"score"`
	DenseScore float64 `json:"dense_score"`
	BM25Score  float64 `json:"bm25_score"`
}

// CombinedResultType discriminates hybrid visual results
type CombinedResultType string

const (
	ResultTypeChunk CombinedResultType = "chunk"
	ResultTypePage  CombinedResultType = "page"
)

// CombinedResult is one entry of a mixed chunk/page result list. Callers use
// Type to rehydrate either the chunk text or the page image.
type CombinedResult struct {
	Type  CombinedResultType `json:"type"`
	ID    string             `json:"id"`
	Score float64            `json:"score"`
	Page  *int               `json:"page,omitempty"`
}

// PageResult represents a scored page from late-interaction search
type PageResult struct {
	DocumentID string  `json:"document_id"`
	Page       int     `json:"page"`
	Score      float64 `json:"score"`
}
