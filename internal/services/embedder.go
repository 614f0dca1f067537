package services

import (
	"context"
	"fmt"
	"log"

	"rag-engine/internal/models"
	"rag-engine/internal/repositories"
)

// EmbedderService turns extractor output into persisted rows: chunk drafts
// into dense-embedded chunks, rendered pages into patch matrices for
// late-interaction search. All content goes to the embedding API in a single
// batched call per document, so a failed call leaves nothing half-written.
type EmbedderService struct {
	embed  EmbedClientInterface
	chunks repositories.ChunkRepository
	pages  repositories.PageRepository
	logger *log.Logger
}

// NewEmbedderService creates a new embedder service.
func NewEmbedderService(embed EmbedClientInterface, chunks repositories.ChunkRepository, pages repositories.PageRepository, logger *log.Logger) *EmbedderService {
	if logger == nil {
		logger = log.New(log.Writer(), "[EMBEDDER] ", log.LstdFlags)
	}
	return &EmbedderService{
		embed:  embed,
		chunks: chunks,
		pages:  pages,
		logger: logger,
	}
}

// EmbedChunks embeds all drafts in one batched call, assigns ids and ordinals
// from draft order and upserts the resulting chunks. Re-processing a document
// yields the same ids, so retries overwrite rather than duplicate. If the
// embedding call or the upsert fails no chunk is written and the caller marks
// the document failed.
func (s *EmbedderService) EmbedChunks(ctx context.Context, doc *models.Document, drafts []models.ChunkDraft) ([]*models.Chunk, error) {
	if len(drafts) == 0 {
		return []*models.Chunk{}, nil
	}

	texts := make([]string, len(drafts))
	for i, d := range drafts {
		texts[i] = d.Content
	}

	s.logger.Printf("[%s] Embedding %d chunks in one batch", doc.ID, len(drafts))
	vectors, err := s.embed.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}

	chunks := buildChunks(doc, drafts, vectors)
	if err := s.chunks.UpsertBatch(ctx, chunks); err != nil {
		return nil, err
	}

	s.logger.Printf("[%s] Stored %d chunks", doc.ID, len(chunks))
	return chunks, nil
}

// EmbedChunksWithCheckpoint embeds every draft in one batched call, then
// persists the resulting chunks in batches of batchSize. checkpoint runs
// before every batch after the first; a non-nil return aborts the remaining
// batches and the chunks already written stay written. onBatch runs after
// each successful write so the caller can index the batch while it is hot.
// The returned slice holds the chunks persisted so far, also on error.
func (s *EmbedderService) EmbedChunksWithCheckpoint(ctx context.Context, doc *models.Document, drafts []models.ChunkDraft,
	batchSize int, checkpoint func() error, onBatch func([]*models.Chunk) error) ([]*models.Chunk, error) {
	if len(drafts) == 0 {
		return []*models.Chunk{}, nil
	}
	if batchSize <= 0 {
		batchSize = DefaultStoreBatchSize
	}

	texts := make([]string, len(drafts))
	for i, d := range drafts {
		texts[i] = d.Content
	}

	s.logger.Printf("[%s] Embedding %d chunks in one batch", doc.ID, len(drafts))
	vectors, err := s.embed.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}

	chunks := buildChunks(doc, drafts, vectors)
	written := make([]*models.Chunk, 0, len(chunks))
	for start := 0; start < len(chunks); start += batchSize {
		if checkpoint != nil && start > 0 {
			if err := checkpoint(); err != nil {
				s.logger.Printf("[%s] Stopped after %d of %d chunks", doc.ID, len(written), len(chunks))
				return written, err
			}
		}
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]
		if err := s.chunks.UpsertBatch(ctx, batch); err != nil {
			return written, err
		}
		written = append(written, batch...)
		if onBatch != nil {
			if err := onBatch(batch); err != nil {
				return written, err
			}
		}
	}

	s.logger.Printf("[%s] Stored %d chunks", doc.ID, len(written))
	return written, nil
}

// EmbedPages embeds all rendered pages in one batched call and upserts the
// per-page patch matrices keyed on (document_id, page). Token estimates
// computed at render time travel with each row.
func (s *EmbedderService) EmbedPages(ctx context.Context, doc *models.Document, images []*models.PageImage) ([]*models.PageEmbedding, error) {
	if len(images) == 0 {
		return []*models.PageEmbedding{}, nil
	}

	data := make([][]byte, len(images))
	for i, img := range images {
		data[i] = img.Data
	}

	s.logger.Printf("[%s] Embedding %d pages in one batch", doc.ID, len(images))
	matrices, err := s.embed.EmbedPages(ctx, data)
	if err != nil {
		return nil, err
	}

	embeddings := make([]*models.PageEmbedding, len(images))
	for i, img := range images {
		embeddings[i] = &models.PageEmbedding{
			DocumentID: doc.ID,
			Page:       img.Page,
			Vectors:    matrices[i],
			Tokens:     img.Tokens,
		}
	}

	if err := s.pages.UpsertBatch(ctx, embeddings); err != nil {
		return nil, err
	}

	s.logger.Printf("[%s] Stored %d page embeddings", doc.ID, len(embeddings))
	return embeddings, nil
}

// ReembedChunks embeds the given existing chunks again in one batched call
// and upserts them in place, keeping their ids and ordinals. The partial
// re-embed path calls this after deleting the chunks' old rows.
func (s *EmbedderService) ReembedChunks(ctx context.Context, doc *models.Document, chunks []*models.Chunk) ([]*models.Chunk, error) {
	if len(chunks) == 0 {
		return []*models.Chunk{}, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	s.logger.Printf("[%s] Re-embedding %d chunks in one batch", doc.ID, len(chunks))
	vectors, err := s.embed.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}

	for i, c := range chunks {
		c.Embedding = vectors[i]
	}

	if err := s.chunks.UpsertBatch(ctx, chunks); err != nil {
		return nil, err
	}
	return chunks, nil
}

// DefaultStoreBatchSize is how many chunks go to storage per write between
// cancellation checkpoints.
const DefaultStoreBatchSize = 100

// buildChunks pairs drafts with their vectors, assigning deterministic ids
// and ordinals from draft order.
func buildChunks(doc *models.Document, drafts []models.ChunkDraft, vectors [][]float32) []*models.Chunk {
	chunks := make([]*models.Chunk, len(drafts))
	for i, d := range drafts {
		loc := d.Location
		chunks[i] = &models.Chunk{
			ID:         ChunkID(doc.ID, i),
			DocumentID: doc.ID,
			Ordinal:    i,
			Content:    d.Content,
			Page:       loc.Page,
			Location:   &loc,
			Embedding:  vectors[i],
			Metadata:   chunkMetadata(d),
		}
	}
	return chunks
}

// ChunkID builds the deterministic id for a document's chunk at the given
// ordinal. Extractors never assign ids; they are derived here so that partial
// re-embeds can address existing rows.
func ChunkID(documentID string, ordinal int) string {
	return fmt.Sprintf("%s_chunk_%d", documentID, ordinal)
}

// chunkMetadata folds the draft fields without a dedicated column into the
// metadata JSON stored with the chunk.
func chunkMetadata(d models.ChunkDraft) map[string]interface{} {
	md := make(map[string]interface{}, len(d.Metadata)+3)
	for k, v := range d.Metadata {
		md[k] = v
	}
	md["location"] = d.Location
	md["can_split"] = d.CanSplit
	if d.URL != "" {
		md["url"] = d.URL
	}
	return md
}
