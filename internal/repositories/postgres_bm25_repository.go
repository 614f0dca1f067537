package repositories

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rag-engine/internal/models"
)

// PostgresBM25Repository implements BM25Repository on pgx. Term frequencies
// live in JSONB; document frequencies are materialized per document so the
// scorer never scans postings it does not need.
type PostgresBM25Repository struct {
	pool *pgxpool.Pool
}

// NewPostgresBM25Repository creates a new Postgres-backed BM25 repository.
func NewPostgresBM25Repository(pool *pgxpool.Pool) *PostgresBM25Repository {
	return &PostgresBM25Repository{pool: pool}
}

// IndexChunks upserts postings and applies df deltas in one transaction.
// For each chunk the delta is computed against its previous postings, so
// re-indexing adjusts statistics instead of replacing them.
func (r *PostgresBM25Repository) IndexChunks(ctx context.Context, documentID string, entries []*BM25Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return models.NewUpstreamError("postgres", "index chunks", err)
	}
	defer tx.Rollback(ctx)

	dfDelta := make(map[string]int)
	for _, entry := range entries {
		old, err := readTermFreqs(ctx, tx, entry.ChunkID)
		if err != nil {
			return err
		}

		for term := range old {
			if _, kept := entry.TermFreqs[term]; !kept {
				dfDelta[term]--
			}
		}
		for term := range entry.TermFreqs {
			if _, had := old[term]; !had {
				dfDelta[term]++
			}
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO chunk_bm25 (chunk_id, term_freqs, doc_length)
			VALUES ($1, $2, $3)
			ON CONFLICT (chunk_id) DO UPDATE SET
				term_freqs = EXCLUDED.term_freqs,
				doc_length = EXCLUDED.doc_length`,
			entry.ChunkID, entry.TermFreqs, entry.DocLength)
		if err != nil {
			return models.NewUpstreamError("postgres", "index chunks", err)
		}
	}

	if err := applyDfDeltas(ctx, tx, documentID, dfDelta); err != nil {
		return err
	}
	if err := recomputeMeta(ctx, tx, documentID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return models.NewUpstreamError("postgres", "index chunks", err)
	}
	return nil
}

// RemoveChunks drops postings and subtracts their df contributions in one
// transaction.
func (r *PostgresBM25Repository) RemoveChunks(ctx context.Context, documentID string, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return models.NewUpstreamError("postgres", "remove chunks", err)
	}
	defer tx.Rollback(ctx)

	dfDelta := make(map[string]int)
	for _, chunkID := range chunkIDs {
		old, err := readTermFreqs(ctx, tx, chunkID)
		if err != nil {
			return err
		}
		for term := range old {
			dfDelta[term]--
		}
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM chunk_bm25 WHERE chunk_id = ANY($1)`, chunkIDs); err != nil {
		return models.NewUpstreamError("postgres", "remove chunks", err)
	}

	if err := applyDfDeltas(ctx, tx, documentID, dfDelta); err != nil {
		return err
	}
	if err := recomputeMeta(ctx, tx, documentID); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return models.NewUpstreamError("postgres", "remove chunks", err)
	}
	return nil
}

// Candidates returns postings for chunks containing any of the query terms,
// joined with the chunk fields needed to rank and hydrate a hit.
func (r *PostgresBM25Repository) Candidates(ctx context.Context, documentID string, terms []string) ([]*BM25Candidate, error) {
	if len(terms) == 0 {
		return []*BM25Candidate{}, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT cb.chunk_id, cb.term_freqs, cb.doc_length, c.ordinal, c.page, c.content
		FROM chunk_bm25 cb
		JOIN chunks c ON c.id = cb.chunk_id
		WHERE c.document_id = $1 AND cb.term_freqs ?| $2`,
		documentID, terms)
	if err != nil {
		return nil, models.NewUpstreamError("postgres", "bm25 candidates", err)
	}
	defer rows.Close()

	candidates := make([]*BM25Candidate, 0)
	for rows.Next() {
		var cand BM25Candidate
		if err := rows.Scan(&cand.ChunkID, &cand.TermFreqs, &cand.DocLength, &cand.Ordinal, &cand.Page, &cand.Content); err != nil {
			return nil, models.NewUpstreamError("postgres", "bm25 candidates", err)
		}
		candidates = append(candidates, &cand)
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewUpstreamError("postgres", "bm25 candidates", err)
	}
	return candidates, nil
}

// TermStats returns the document-scoped df for each requested term.
func (r *PostgresBM25Repository) TermStats(ctx context.Context, documentID string, terms []string) (map[string]int, error) {
	stats := make(map[string]int, len(terms))
	if len(terms) == 0 {
		return stats, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT term, df FROM doc_term_stats
		WHERE document_id = $1 AND term = ANY($2)`,
		documentID, terms)
	if err != nil {
		return nil, models.NewUpstreamError("postgres", "term stats", err)
	}
	defer rows.Close()

	for rows.Next() {
		var term string
		var df int
		if err := rows.Scan(&term, &df); err != nil {
			return nil, models.NewUpstreamError("postgres", "term stats", err)
		}
		stats[term] = df
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewUpstreamError("postgres", "term stats", err)
	}
	return stats, nil
}

// Meta returns the document aggregates, or zeros for an unindexed document.
func (r *PostgresBM25Repository) Meta(ctx context.Context, documentID string) (*BM25Meta, error) {
	var meta BM25Meta
	err := r.pool.QueryRow(ctx, `
		SELECT total_chunks, avg_chunk_length, total_unique_terms
		FROM doc_bm25_meta WHERE document_id = $1`,
		documentID).Scan(&meta.TotalChunks, &meta.AvgChunkLength, &meta.TotalUniqueTerms)
	if errors.Is(err, pgx.ErrNoRows) {
		return &BM25Meta{}, nil
	}
	if err != nil {
		return nil, models.NewUpstreamError("postgres", "bm25 meta", err)
	}
	return &meta, nil
}

// readTermFreqs loads the current postings of a chunk, or an empty map if
// the chunk is not indexed yet.
func readTermFreqs(ctx context.Context, tx pgx.Tx, chunkID string) (map[string]int, error) {
	var freqs map[string]int
	err := tx.QueryRow(ctx,
		`SELECT term_freqs FROM chunk_bm25 WHERE chunk_id = $1`, chunkID).Scan(&freqs)
	if errors.Is(err, pgx.ErrNoRows) {
		return map[string]int{}, nil
	}
	if err != nil {
		return nil, models.NewUpstreamError("postgres", "read postings", err)
	}
	return freqs, nil
}

// applyDfDeltas folds document-frequency deltas into doc_term_stats and
// drops terms whose df reached zero.
func applyDfDeltas(ctx context.Context, tx pgx.Tx, documentID string, deltas map[string]int) error {
	for term, delta := range deltas {
		if delta == 0 {
			continue
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO doc_term_stats (document_id, term, df)
			VALUES ($1, $2, $3)
			ON CONFLICT (document_id, term) DO UPDATE SET
				df = doc_term_stats.df + EXCLUDED.df`,
			documentID, term, delta)
		if err != nil {
			return models.NewUpstreamError("postgres", "apply df deltas", err)
		}
	}

	_, err := tx.Exec(ctx,
		`DELETE FROM doc_term_stats WHERE document_id = $1 AND df <= 0`, documentID)
	if err != nil {
		return models.NewUpstreamError("postgres", "apply df deltas", err)
	}
	return nil
}

// recomputeMeta rebuilds the per-document aggregates from the live postings.
func recomputeMeta(ctx context.Context, tx pgx.Tx, documentID string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO doc_bm25_meta (document_id, total_chunks, avg_chunk_length, total_unique_terms, updated_at)
		SELECT $1,
			COUNT(cb.chunk_id),
			COALESCE(AVG(cb.doc_length), 0),
			(SELECT COUNT(*) FROM doc_term_stats WHERE document_id = $1),
			now()
		FROM chunk_bm25 cb
		JOIN chunks c ON c.id = cb.chunk_id
		WHERE c.document_id = $1
		ON CONFLICT (document_id) DO UPDATE SET
			total_chunks       = EXCLUDED.total_chunks,
			avg_chunk_length   = EXCLUDED.avg_chunk_length,
			total_unique_terms = EXCLUDED.total_unique_terms,
			updated_at         = now()`,
		documentID)
	if err != nil {
		return models.NewUpstreamError("postgres", "recompute meta", err)
	}
	return nil
}
