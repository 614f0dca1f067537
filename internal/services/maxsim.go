package services

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"

	"rag-engine/internal/models"
	"rag-engine/internal/repositories"
)

// Combined search defaults. Page and chunk channels contribute equally
// unless the caller says otherwise.
const (
	DefaultChunkWeight = 0.5
	DefaultPageWeight  = 0.5
)

// MaxSimService scores visual-lane pages by late interaction: every query
// token is matched against every stored page patch and the per-token maxima
// are summed. Patch matrices come from the page embedding rows written at
// ingest time.
type MaxSimService struct {
	embed     EmbedClientInterface
	pages     repositories.PageRepository
	retriever *RetrieverService
	logger    *log.Logger
}

// NewMaxSimService creates a new late-interaction retriever service.
func NewMaxSimService(
	embed EmbedClientInterface,
	pages repositories.PageRepository,
	retriever *RetrieverService,
	logger *log.Logger,
) *MaxSimService {
	if logger == nil {
		logger = log.New(log.Writer(), "[MAXSIM] ", log.LstdFlags)
	}
	return &MaxSimService{
		embed:     embed,
		pages:     pages,
		retriever: retriever,
		logger:    logger,
	}
}

// SearchPages scores every stored page of the document against the query's
// token matrix and returns the top pages by descending score. A document
// with no page embeddings yields an empty list.
func (s *MaxSimService) SearchPages(ctx context.Context, query, documentID string, topK int) ([]*models.PageResult, error) {
	if query == "" {
		return nil, &models.ValidationError{Field: "query", Message: "query is required"}
	}
	if documentID == "" {
		return nil, &models.ValidationError{Field: "document_id", Message: "document ID is required"}
	}
	if topK <= 0 {
		topK = 10
	}

	q, err := s.queryMatrix(ctx, query)
	if err != nil {
		return nil, err
	}
	if q == nil {
		return []*models.PageResult{}, nil
	}

	results, err := s.scoreDocument(ctx, q, documentID)
	if err != nil {
		return nil, err
	}

	sortPageResults(results)
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// SearchDocuments scores each candidate document as the maximum over its
// pages and returns the top documents, each represented by its best page.
func (s *MaxSimService) SearchDocuments(ctx context.Context, query string, documentIDs []string, topK int) ([]*models.PageResult, error) {
	if query == "" {
		return nil, &models.ValidationError{Field: "query", Message: "query is required"}
	}
	if topK <= 0 {
		topK = 10
	}
	if len(documentIDs) == 0 {
		return []*models.PageResult{}, nil
	}

	q, err := s.queryMatrix(ctx, query)
	if err != nil {
		return nil, err
	}
	if q == nil {
		return []*models.PageResult{}, nil
	}

	results := make([]*models.PageResult, 0, len(documentIDs))
	for _, documentID := range documentIDs {
		pages, err := s.scoreDocument(ctx, q, documentID)
		if err != nil {
			return nil, err
		}

		var best *models.PageResult
		for _, p := range pages {
			if best == nil || p.Score > best.Score {
				best = p
			}
		}
		if best != nil {
			results = append(results, best)
		}
	}

	sortPageResults(results)
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// CombinedSearchRequest asks for a merged page and chunk ranking over one
// document.
type CombinedSearchRequest struct {
	Query       string  `json:"query"`
	DocumentID  string  `json:"document_id"`
	TopK        int     `json:"top_k"`
	ChunkWeight float64 `json:"chunk_weight"`
	PageWeight  float64 `json:"page_weight"`
}

// SearchCombined runs late-interaction page search and hybrid chunk search
// over the same document, max-normalizes each channel and merges them into
// one ranked list. Result entries are typed so callers can rehydrate either
// the chunk text or the page image.
func (s *MaxSimService) SearchCombined(ctx context.Context, req *CombinedSearchRequest) ([]*models.CombinedResult, error) {
	if req.Query == "" {
		return nil, &models.ValidationError{Field: "query", Message: "query is required"}
	}
	if req.DocumentID == "" {
		return nil, &models.ValidationError{Field: "document_id", Message: "document ID is required"}
	}
	if req.TopK <= 0 {
		req.TopK = 10
	}
	if req.ChunkWeight < 0 || req.PageWeight < 0 {
		return nil, &models.ValidationError{Field: "weights", Message: "weights cannot be negative"}
	}
	if req.ChunkWeight == 0 && req.PageWeight == 0 {
		req.ChunkWeight = DefaultChunkWeight
		req.PageWeight = DefaultPageWeight
	}

	start := time.Now()

	pages, err := s.SearchPages(ctx, req.Query, req.DocumentID, 2*req.TopK)
	if err != nil {
		return nil, err
	}

	chunkResp, err := s.retriever.Search(ctx, &SearchRequest{
		Query:      req.Query,
		DocumentID: req.DocumentID,
		TopK:       2 * req.TopK,
	})
	if err != nil {
		return nil, err
	}

	combined := make([]*models.CombinedResult, 0, len(pages)+len(chunkResp.Results))

	maxPage := 0.0
	for _, p := range pages {
		if p.Score > maxPage {
			maxPage = p.Score
		}
	}
	for _, p := range pages {
		norm := p.Score
		if maxPage > 0 {
			norm = p.Score / maxPage
		}
		page := p.Page
		combined = append(combined, &models.CombinedResult{
			Type:  models.ResultTypePage,
			ID:    p.DocumentID,
			Score: req.PageWeight * norm,
			Page:  &page,
		})
	}

	maxChunk := 0.0
	for _, c := range chunkResp.Results {
		if c.Score > maxChunk {
			maxChunk = c.Score
		}
	}
	for _, c := range chunkResp.Results {
		norm := c.Score
		if maxChunk > 0 {
			norm = c.Score / maxChunk
		}
		combined = append(combined, &models.CombinedResult{
			Type:  models.ResultTypeChunk,
			ID:    c.ChunkID,
			Score: req.ChunkWeight * norm,
			Page:  c.Page,
		})
	}

	sort.Slice(combined, func(i, j int) bool {
		if combined[i].Score != combined[j].Score {
			return combined[i].Score > combined[j].Score
		}
		return combined[i].ID < combined[j].ID
	})
	if len(combined) > req.TopK {
		combined = combined[:req.TopK]
	}

	s.logger.Printf("Combined search: %d pages + %d chunks -> %d results, %.2fms",
		len(pages), len(chunkResp.Results), len(combined), time.Since(start).Seconds()*1000)
	return combined, nil
}

// queryMatrix embeds the query into its token matrix. A query that produces
// no tokens returns nil without error.
func (s *MaxSimService) queryMatrix(ctx context.Context, query string) (*mat.Dense, error) {
	tokens, err := s.embed.EmbedTokens(ctx, query)
	if err != nil {
		s.logger.Printf("Failed to embed query tokens: %v", err)
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, nil
	}

	q, err := toDense(tokens)
	if err != nil {
		return nil, models.NewUpstreamError("embedding api", "embed/tokens", err)
	}
	return q, nil
}

// scoreDocument scores all stored pages of one document against the query
// matrix. Pages whose patch matrix cannot be read or does not match the
// query dimension are skipped, not fatal.
func (s *MaxSimService) scoreDocument(ctx context.Context, q *mat.Dense, documentID string) ([]*models.PageResult, error) {
	rows, err := s.pages.ListByDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	_, dim := q.Dims()
	results := make([]*models.PageResult, 0, len(rows))
	for _, row := range rows {
		d, err := toDense(row.Vectors)
		if err != nil {
			s.logger.Printf("[%s] Skipping page %d: %v", documentID, row.Page, err)
			continue
		}
		if _, pageDim := d.Dims(); pageDim != dim {
			s.logger.Printf("[%s] Skipping page %d: patch dimension %d does not match query dimension %d",
				documentID, row.Page, pageDim, dim)
			continue
		}

		results = append(results, &models.PageResult{
			DocumentID: documentID,
			Page:       row.Page,
			Score:      maxSimScore(q, d),
		})
	}
	return results, nil
}

// maxSimScore computes sum_i max_j Q_i . D_j over the similarity matrix
// Q * D^T.
func maxSimScore(q, d *mat.Dense) float64 {
	var sim mat.Dense
	sim.Mul(q, d.T())

	tokens, patches := sim.Dims()
	total := 0.0
	for i := 0; i < tokens; i++ {
		best := math.Inf(-1)
		for j := 0; j < patches; j++ {
			if v := sim.At(i, j); v > best {
				best = v
			}
		}
		total += best
	}
	return total
}

// toDense converts a vector list into a dense row matrix.
func toDense(vectors [][]float32) (*mat.Dense, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("empty vector list")
	}
	dim := len(vectors[0])
	if dim == 0 {
		return nil, fmt.Errorf("empty vectors")
	}

	data := make([]float64, 0, len(vectors)*dim)
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), dim)
		}
		for _, x := range v {
			data = append(data, float64(x))
		}
	}
	return mat.NewDense(len(vectors), dim, data), nil
}

// sortPageResults orders by score descending with deterministic ties.
func sortPageResults(results []*models.PageResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].DocumentID != results[j].DocumentID {
			return results[i].DocumentID < results[j].DocumentID
		}
		return results[i].Page < results[j].Page
	})
}
