package services

import (
	"context"
	"log"
	"math"
	"regexp"
	"sort"
	"strings"

	"rag-engine/config"
	"rag-engine/internal/models"
	"rag-engine/internal/repositories"
)

// BM25 parameters.
const (
	BM25K1 = 1.5
	BM25B  = 0.75
)

var nonWordPattern = regexp.MustCompile(`\W+`)

// Tokenize lowercases the text, splits on non-word characters and drops stop
// words. Both indexing and query scoring go through this so the two sides
// agree on terms.
func Tokenize(text string) []string {
	raw := nonWordPattern.Split(strings.ToLower(text), -1)
	tokens := make([]string, 0, len(raw))
	for _, tok := range raw {
		if tok == "" || config.StopWords[tok] {
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}

// BM25Service maintains the sparse index and scores queries against it. All
// statistics are document-scoped: N, df and avg_chunk_length come from the
// one document being searched.
type BM25Service struct {
	repo   repositories.BM25Repository
	logger *log.Logger
}

// NewBM25Service creates a BM25 service.
func NewBM25Service(repo repositories.BM25Repository, logger *log.Logger) *BM25Service {
	if logger == nil {
		logger = log.New(log.Writer(), "[BM25] ", log.LstdFlags)
	}
	return &BM25Service{
		repo:   repo,
		logger: logger,
	}
}

// IndexChunks tokenizes the chunks and writes their postings. Chunks whose
// content tokenizes to nothing are skipped; the index only holds rows with
// length >= 1.
func (s *BM25Service) IndexChunks(ctx context.Context, documentID string, chunks []*models.Chunk) error {
	entries := make([]*repositories.BM25Entry, 0, len(chunks))
	for _, chunk := range chunks {
		tokens := Tokenize(chunk.Content)
		if len(tokens) == 0 {
			continue
		}
		freqs := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			freqs[tok]++
		}
		entries = append(entries, &repositories.BM25Entry{
			ChunkID:   chunk.ID,
			TermFreqs: freqs,
			DocLength: len(tokens),
		})
	}
	if len(entries) == 0 {
		return nil
	}

	if err := s.repo.IndexChunks(ctx, documentID, entries); err != nil {
		return err
	}
	s.logger.Printf("Indexed %d chunks for document %s", len(entries), documentID)
	return nil
}

// RemoveChunks drops the chunks' postings and subtracts their stats, for
// partial re-embedding.
func (s *BM25Service) RemoveChunks(ctx context.Context, documentID string, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	return s.repo.RemoveChunks(ctx, documentID, chunkIDs)
}

// Score ranks the document's chunks against the query with BM25 (k1=1.5,
// b=0.75). An unindexed document or a query with no indexable terms scores
// to an empty list, never an error.
func (s *BM25Service) Score(ctx context.Context, query, documentID string, limit int) ([]*models.SearchResult, error) {
	if documentID == "" {
		return []*models.SearchResult{}, nil
	}
	terms := Tokenize(query)
	if len(terms) == 0 {
		return []*models.SearchResult{}, nil
	}

	meta, err := s.repo.Meta(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if meta.TotalChunks == 0 {
		return []*models.SearchResult{}, nil
	}

	unique := uniqueTerms(terms)
	dfs, err := s.repo.TermStats(ctx, documentID, unique)
	if err != nil {
		return nil, err
	}
	candidates, err := s.repo.Candidates(ctx, documentID, unique)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []*models.SearchResult{}, nil
	}

	n := float64(meta.TotalChunks)
	avgLen := meta.AvgChunkLength
	if avgLen <= 0 {
		avgLen = 1
	}
	idf := make(map[string]float64, len(unique))
	for _, term := range unique {
		df := float64(dfs[term])
		idf[term] = math.Log((n - df + 0.5) / (df + 0.5))
	}

	results := make([]*models.SearchResult, 0, len(candidates))
	for _, cand := range candidates {
		length := float64(cand.DocLength)
		score := 0.0
		for _, term := range terms {
			tf := float64(cand.TermFreqs[term])
			if tf == 0 {
				continue
			}
			score += idf[term] * (tf * (BM25K1 + 1)) / (tf + BM25K1*(1-BM25B+BM25B*length/avgLen))
		}
		results = append(results, &models.SearchResult{
			ChunkID:    cand.ChunkID,
			DocumentID: documentID,
			Content:    cand.Content,
			Ordinal:    cand.Ordinal,
			Page:       cand.Page,
			Score:      score,
			BM25Score:  score,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Ordinal < results[j].Ordinal
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// uniqueTerms preserves first-seen order.
func uniqueTerms(terms []string) []string {
	seen := make(map[string]bool, len(terms))
	out := make([]string, 0, len(terms))
	for _, term := range terms {
		if seen[term] {
			continue
		}
		seen[term] = true
		out = append(out, term)
	}
	return out
}
