package services

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"rag-engine/internal/models"
	"rag-engine/internal/repositories"
)

// Fusion defaults. RRFConstant is the usual k=60 from the reciprocal rank
// fusion literature.
const (
	DefaultDenseWeight  = 0.7
	DefaultSparseWeight = 0.3
	RRFConstant         = 60
)

// RetrieverService runs hybrid search: dense nearest-neighbor candidates and
// BM25 candidates fetched separately, then fused into one ranked list.
type RetrieverService struct {
	embed  EmbedClientInterface
	chunks repositories.ChunkRepository
	bm25   *BM25Service
	logger *log.Logger
	cache  *searchCache
}

// NewRetrieverService creates a new hybrid retriever service.
func NewRetrieverService(
	embed EmbedClientInterface,
	chunks repositories.ChunkRepository,
	bm25 *BM25Service,
	logger *log.Logger,
) *RetrieverService {
	if logger == nil {
		logger = log.New(log.Writer(), "[RETRIEVER] ", log.LstdFlags)
	}
	return &RetrieverService{
		embed:  embed,
		chunks: chunks,
		bm25:   bm25,
		logger: logger,
		cache:  newSearchCache(5 * time.Minute), // 5 minute TTL
	}
}

// SearchRequest represents a hybrid search query. Principal is the verified
// caller identity set by the handler, never decoded from the request body; it
// scopes unscoped searches to documents the caller can read.
type SearchRequest struct {
	Query        string  `json:"query"`
	DocumentID   string  `json:"document_id,omitempty"`
	TopK         int     `json:"top_k"`
	DenseWeight  float64 `json:"dense_weight"`
	SparseWeight float64 `json:"sparse_weight"`
	UseRRF       bool    `json:"use_rrf"`
	UseCache     bool    `json:"use_cache"`
	Principal    string  `json:"-"`
}

// SearchResponse represents the response from a hybrid search
type SearchResponse struct {
	Results      []*models.SearchResult `json:"results"`
	Query        string                 `json:"query"`
	DocumentID   string                 `json:"document_id,omitempty"`
	TotalResults int                    `json:"total_results"`
	SearchTimeMs float64                `json:"search_time_ms"`
	FromCache    bool                   `json:"from_cache"`
}

// Search embeds the query once, gathers top-2k candidates from the dense and
// sparse channels and fuses them. The sparse channel needs document scope
// because its statistics live per document; without a document id the search
// runs dense-only, restricted to documents the principal owns or was granted
// read on. Empty corpora yield an empty result list, never an error.
func (s *RetrieverService) Search(ctx context.Context, req *SearchRequest) (*SearchResponse, error) {
	startTime := time.Now()

	if err := s.validateSearchRequest(req); err != nil {
		s.logger.Printf("Invalid search request: %v", err)
		return nil, err
	}

	if req.UseCache {
		if cached := s.cache.Get(req); cached != nil {
			s.logger.Printf("Cache hit for query: %s (document: %s)", req.Query, req.DocumentID)
			cached.FromCache = true
			cached.SearchTimeMs = time.Since(startTime).Seconds() * 1000
			return cached, nil
		}
	}

	embedStart := time.Now()
	queryVec, err := s.embed.EmbedQuery(ctx, req.Query)
	if err != nil {
		s.logger.Printf("Failed to embed query: %v", err)
		return nil, err
	}
	s.logger.Printf("Query embedded in %.2fms", time.Since(embedStart).Seconds()*1000)

	candidateLimit := 2 * req.TopK

	dense, err := s.chunks.DenseSearch(ctx, queryVec, req.DocumentID, req.Principal, candidateLimit)
	if err != nil {
		s.logger.Printf("Dense search failed: %v", err)
		return nil, err
	}

	var sparse []*models.SearchResult
	if req.DocumentID != "" {
		sparse, err = s.bm25.Score(ctx, req.Query, req.DocumentID, candidateLimit)
		if err != nil {
			s.logger.Printf("Sparse search failed: %v", err)
			return nil, err
		}
	}

	var results []*models.SearchResult
	if req.UseRRF {
		results = fuseRRF(dense, sparse)
	} else {
		results = fuseWeighted(dense, sparse, req.DenseWeight, req.SparseWeight)
	}
	if len(results) > req.TopK {
		results = results[:req.TopK]
	}

	totalTime := time.Since(startTime).Seconds() * 1000
	s.logger.Printf("Hybrid search completed: %d dense + %d sparse -> %d results, %.2fms",
		len(dense), len(sparse), len(results), totalTime)

	response := &SearchResponse{
		Results:      results,
		Query:        req.Query,
		DocumentID:   req.DocumentID,
		TotalResults: len(results),
		SearchTimeMs: totalTime,
		FromCache:    false,
	}

	if req.UseCache {
		s.cache.Set(req, response)
	}
	return response, nil
}

// ClearCache clears the search cache
func (s *RetrieverService) ClearCache() {
	s.cache.Clear()
	s.logger.Printf("Search cache cleared")
}

// GetCacheStats returns cache statistics
func (s *RetrieverService) GetCacheStats() map[string]interface{} {
	return s.cache.Stats()
}

// validateSearchRequest validates search request parameters and fills in
// defaults for top_k and the channel weights.
func (s *RetrieverService) validateSearchRequest(req *SearchRequest) error {
	if req.Query == "" {
		return &models.ValidationError{Field: "query", Message: "query is required"}
	}

	if req.TopK <= 0 {
		req.TopK = 10 // Default
	}
	if req.TopK > 100 {
		return &models.ValidationError{Field: "top_k", Message: "top_k cannot exceed 100"}
	}

	if req.DenseWeight < 0 || req.SparseWeight < 0 {
		return &models.ValidationError{Field: "weights", Message: "weights cannot be negative"}
	}
	if req.DenseWeight == 0 && req.SparseWeight == 0 {
		req.DenseWeight = DefaultDenseWeight
		req.SparseWeight = DefaultSparseWeight
	}

	// Without a document scope the visibility filter is the principal itself,
	// so an unscoped search from nobody must fail closed.
	if req.DocumentID == "" && req.Principal == "" {
		return models.NewAuthError("unscoped search requires a verified identity", nil)
	}

	return nil
}

// fused accumulates one chunk's contributions from both channels.
type fused struct {
	result   *models.SearchResult
	combined float64
	dense    float64
	sparse   float64
	hasDense bool
}

// fuseWeighted max-normalizes each channel's scores to [0,1] and combines
// them as wDense*d + wSparse*s, deduplicating by chunk id.
func fuseWeighted(dense, sparse []*models.SearchResult, wDense, wSparse float64) []*models.SearchResult {
	merged := make(map[string]*fused)

	maxDense := maxScore(dense)
	for _, r := range dense {
		norm := r.Score
		if maxDense > 0 {
			norm = r.Score / maxDense
		}
		entry := mergeCandidate(merged, r)
		entry.dense = r.Score
		entry.hasDense = true
		entry.combined += wDense * norm
	}

	maxSparse := maxScore(sparse)
	for _, r := range sparse {
		norm := r.Score
		if maxSparse > 0 {
			norm = r.Score / maxSparse
		}
		entry := mergeCandidate(merged, r)
		entry.sparse = r.Score
		entry.combined += wSparse * norm
	}

	return rankFused(merged)
}

// fuseRRF combines the two ranked lists by reciprocal rank, 1/(60+rank) with
// rank starting at 1, deduplicating by chunk id.
func fuseRRF(dense, sparse []*models.SearchResult) []*models.SearchResult {
	merged := make(map[string]*fused)

	for rank, r := range dense {
		entry := mergeCandidate(merged, r)
		entry.dense = r.Score
		entry.hasDense = true
		entry.combined += 1.0 / float64(RRFConstant+rank+1)
	}
	for rank, r := range sparse {
		entry := mergeCandidate(merged, r)
		entry.sparse = r.Score
		entry.combined += 1.0 / float64(RRFConstant+rank+1)
	}

	return rankFused(merged)
}

// mergeCandidate returns the accumulator for a chunk, creating it from the
// first channel that saw the chunk.
func mergeCandidate(merged map[string]*fused, r *models.SearchResult) *fused {
	if entry, ok := merged[r.ChunkID]; ok {
		return entry
	}
	entry := &fused{
		result: &models.SearchResult{
			ChunkID:    r.ChunkID,
			DocumentID: r.DocumentID,
			Content:    r.Content,
			Ordinal:    r.Ordinal,
			Page:       r.Page,
		},
	}
	merged[r.ChunkID] = entry
	return entry
}

// rankFused flattens the accumulator map into a sorted result list. Ties
// break by dense score, then by chunk ordinal.
func rankFused(merged map[string]*fused) []*models.SearchResult {
	results := make([]*models.SearchResult, 0, len(merged))
	for _, entry := range merged {
		entry.result.Score = entry.combined
		entry.result.DenseScore = entry.dense
		entry.result.BM25Score = entry.sparse
		results = append(results, entry.result)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].DenseScore != results[j].DenseScore {
			return results[i].DenseScore > results[j].DenseScore
		}
		return results[i].Ordinal < results[j].Ordinal
	})
	return results
}

func maxScore(results []*models.SearchResult) float64 {
	max := 0.0
	for _, r := range results {
		if r.Score > max {
			max = r.Score
		}
	}
	return max
}

// ============================================================================
// Search Cache Implementation
// ============================================================================

type searchCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	ttl     time.Duration
	hits    int64
	misses  int64
}

type cacheEntry struct {
	response  *SearchResponse
	expiresAt time.Time
}

func newSearchCache(ttl time.Duration) *searchCache {
	cache := &searchCache{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
	}

	// Start cleanup goroutine
	go cache.cleanupLoop()

	return cache
}

// cacheKey includes the principal so one caller's visible results are never
// served to another.
func (c *searchCache) cacheKey(req *SearchRequest) string {
	return fmt.Sprintf("%s:%s:%s:%d:%.2f:%.2f:%t",
		req.Principal, req.DocumentID, req.Query, req.TopK, req.DenseWeight, req.SparseWeight, req.UseRRF)
}

func (c *searchCache) Get(req *SearchRequest) *SearchResponse {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := c.cacheKey(req)
	entry, exists := c.entries[key]

	if !exists || time.Now().After(entry.expiresAt) {
		c.misses++
		return nil
	}

	c.hits++
	return entry.response
}

func (c *searchCache) Set(req *SearchRequest, resp *SearchResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := c.cacheKey(req)
	c.entries[key] = &cacheEntry{
		response:  resp,
		expiresAt: time.Now().Add(c.ttl),
	}
}

func (c *searchCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
	c.hits = 0
	c.misses = 0
}

func (c *searchCache) Stats() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	hitRate := float64(0)
	total := c.hits + c.misses
	if total > 0 {
		hitRate = float64(c.hits) / float64(total) * 100
	}

	return map[string]interface{}{
		"hits":     c.hits,
		"misses":   c.misses,
		"size":     len(c.entries),
		"hit_rate": hitRate,
	}
}

func (c *searchCache) cleanupLoop() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		c.cleanup()
	}
}

func (c *searchCache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}
