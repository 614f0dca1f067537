package processors

import (
	"context"

	"rag-engine/internal/models"
	"rag-engine/internal/services"
)

// TextProcessor runs the text lane: extract format-aware chunks, embed them
// in one batch, persist them with their sparse postings. Chunk ids and
// ordinals derive from draft order, so a redelivered message overwrites the
// same rows.
type TextProcessor struct {
	BaseProcessor
	extractor *services.TextExtractor
}

// NewTextProcessor creates the text lane processor.
func NewTextProcessor(base BaseProcessor, extractor *services.TextExtractor) *TextProcessor {
	return &TextProcessor{BaseProcessor: base, extractor: extractor}
}

// Lane returns the lane this processor serves.
func (p *TextProcessor) Lane() models.Lane {
	return models.LaneText
}

// Process ingests one text-lane work item end to end.
func (p *TextProcessor) Process(ctx context.Context, item *models.WorkItem) error {
	p.setStatus(ctx, item, models.StateProcessingStarted, nil)

	doc, err := p.registerDocument(ctx, item, models.StateExtractingText)
	if err != nil {
		return p.finishWithoutDoc(ctx, item, "register", err)
	}

	job, err := p.Jobs.Init(ctx, item.User, doc.ID, models.JobStateRunning)
	if err != nil {
		return p.finish(ctx, item, doc, nil, nil, "ledger", err)
	}
	checkpoint := p.checkpointFor(ctx, job.User, job.JobID)

	data, err := p.readSource(ctx, doc)
	if err != nil {
		return p.finish(ctx, item, doc, job, nil, "read_source", err)
	}

	p.setStatus(ctx, item, models.StateExtractingText, nil)
	drafts, err := p.extractor.Extract(ctx, doc, data)
	if err != nil {
		return p.finish(ctx, item, doc, job, nil, "extraction", err)
	}
	p.Logger.Info("Document %s extracted into %d chunks", doc.ID, len(drafts))
	p.setStatus(ctx, item, models.StateChunking, map[string]interface{}{"chunks": len(drafts)})

	p.setStatus(ctx, item, models.StateEmbedding, nil)
	chunks, err := p.Embedder.EmbedChunksWithCheckpoint(ctx, doc, drafts, p.StoreBatchSize, checkpoint,
		func(batch []*models.Chunk) error {
			return p.BM25.IndexChunks(ctx, doc.ID, batch)
		})
	if err != nil {
		result := map[string]interface{}{"chunks": len(chunks)}
		return p.finish(ctx, item, doc, job, result, "embedding", err)
	}

	p.setStatus(ctx, item, models.StateStoring, nil)
	result := map[string]interface{}{"chunks": len(chunks), "lane": string(models.LaneText)}
	return p.finish(ctx, item, doc, job, result, "storing", nil)
}
