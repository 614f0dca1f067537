package processors

import (
	"context"

	"rag-engine/internal/models"
	"rag-engine/internal/services"
)

// VisualProcessor runs the visual lane: render every page, dedup and
// transcribe the images, store the per-page patch matrices for
// late-interaction search and index the transcriptions as regular chunks so
// hybrid search sees them too. A scanned document with nothing to
// transcribe simply stores zero chunks beside its pages.
type VisualProcessor struct {
	BaseProcessor
	extractor *services.VisualExtractor
}

// NewVisualProcessor creates the visual lane processor.
func NewVisualProcessor(base BaseProcessor, extractor *services.VisualExtractor) *VisualProcessor {
	return &VisualProcessor{BaseProcessor: base, extractor: extractor}
}

// Lane returns the lane this processor serves.
func (p *VisualProcessor) Lane() models.Lane {
	return models.LaneVisual
}

// Process ingests one visual-lane work item end to end. The cancellation
// checkpoint runs between pages during extraction and between chunk batches
// during embedding.
func (p *VisualProcessor) Process(ctx context.Context, item *models.WorkItem) error {
	p.setStatus(ctx, item, models.StateProcessingStarted, nil)

	doc, err := p.registerDocument(ctx, item, models.StateConvertingPages)
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

	p.setStatus(ctx, item, models.StateConvertingPages, nil)
	drafts, pages, err := p.extractor.ExtractPages(ctx, doc, data, checkpoint)
	if err != nil {
		result := map[string]interface{}{"pages": len(pages)}
		return p.finish(ctx, item, doc, job, result, "page_rendering", err)
	}
	p.Logger.Info("Document %s rendered into %d pages, %d transcriptions", doc.ID, len(pages), len(drafts))
	p.setStatus(ctx, item, models.StateProcessingVisuals, map[string]interface{}{"pages": len(pages)})
	p.setStatus(ctx, item, models.StateClassifyingVisuals, map[string]interface{}{
		"pages":          len(pages),
		"transcriptions": len(drafts),
	})

	p.setStatus(ctx, item, models.StateEmbeddingPages, nil)
	embedded, err := p.Embedder.EmbedPages(ctx, doc, pages)
	if err != nil {
		return p.finish(ctx, item, doc, job, nil, "page_embedding", err)
	}
	p.Metrics.PagesEmbedded.Add(float64(len(embedded)))

	var chunks []*models.Chunk
	if len(drafts) > 0 {
		p.setStatus(ctx, item, models.StateEmbedding, nil)
		chunks, err = p.Embedder.EmbedChunksWithCheckpoint(ctx, doc, drafts, p.StoreBatchSize, checkpoint,
			func(batch []*models.Chunk) error {
				return p.BM25.IndexChunks(ctx, doc.ID, batch)
			})
		if err != nil {
			result := map[string]interface{}{"pages": len(embedded), "chunks": len(chunks)}
			return p.finish(ctx, item, doc, job, result, "embedding", err)
		}
	}

	p.setStatus(ctx, item, models.StateStoring, nil)
	result := map[string]interface{}{
		"pages":  len(embedded),
		"chunks": len(chunks),
		"lane":   string(models.LaneVisual),
	}
	return p.finish(ctx, item, doc, job, result, "storing", nil)
}
