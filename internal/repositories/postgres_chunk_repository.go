package repositories

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"rag-engine/internal/models"
)

// PostgresChunkRepository implements ChunkRepository on pgx with pgvector.
type PostgresChunkRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresChunkRepository creates a new Postgres-backed chunk repository.
func NewPostgresChunkRepository(pool *pgxpool.Pool) *PostgresChunkRepository {
	return &PostgresChunkRepository{pool: pool}
}

const upsertChunkSQL = `
	INSERT INTO chunks (id, document_id, ordinal, content, page, metadata, embedding, content_tsv, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, to_tsvector('english', $4), now(), now())
	ON CONFLICT (id) DO UPDATE SET
		ordinal     = EXCLUDED.ordinal,
		content     = EXCLUDED.content,
		page        = EXCLUDED.page,
		metadata    = EXCLUDED.metadata,
		embedding   = EXCLUDED.embedding,
		content_tsv = EXCLUDED.content_tsv,
		updated_at  = now()`

// UpsertBatch writes all chunks in one transaction.
func (r *PostgresChunkRepository) UpsertBatch(ctx context.Context, chunks []*models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	for _, c := range chunks {
		if err := c.Validate(); err != nil {
			return err
		}
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return models.NewUpstreamError("postgres", "upsert chunks", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(upsertChunkSQL,
			c.ID, c.DocumentID, c.Ordinal, c.Content, c.Page,
			c.Metadata, pgvector.NewVector(c.Embedding))
	}

	results := tx.SendBatch(ctx, batch)
	for range chunks {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return models.NewUpstreamError("postgres", "upsert chunks", err)
		}
	}
	if err := results.Close(); err != nil {
		return models.NewUpstreamError("postgres", "upsert chunks", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.NewUpstreamError("postgres", "upsert chunks", err)
	}
	return nil
}

const chunkColumns = `id, document_id, ordinal, content, page, metadata, created_at, updated_at`

// Get retrieves a chunk by id, without its embedding.
func (r *PostgresChunkRepository) Get(ctx context.Context, chunkID string) (*models.Chunk, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE id = $1`, chunkID)

	chunk, err := scanChunk(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.NewChunkNotFoundError(chunkID)
	}
	if err != nil {
		return nil, models.NewUpstreamError("postgres", "get chunk", err)
	}
	return chunk, nil
}

// ListByDocument returns the document's chunks ordered by ordinal.
func (r *PostgresChunkRepository) ListByDocument(ctx context.Context, documentID string) ([]*models.Chunk, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE document_id = $1 ORDER BY ordinal`,
		documentID)
	if err != nil {
		return nil, models.NewUpstreamError("postgres", "list chunks", err)
	}
	defer rows.Close()

	chunks := make([]*models.Chunk, 0)
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, models.NewUpstreamError("postgres", "list chunks", err)
		}
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewUpstreamError("postgres", "list chunks", err)
	}
	return chunks, nil
}

// DeleteByIDs removes the listed chunks of a document.
func (r *PostgresChunkRepository) DeleteByIDs(ctx context.Context, documentID string, chunkIDs []string) (int64, error) {
	if len(chunkIDs) == 0 {
		return 0, nil
	}

	tag, err := r.pool.Exec(ctx,
		`DELETE FROM chunks WHERE document_id = $1 AND id = ANY($2)`,
		documentID, chunkIDs)
	if err != nil {
		return 0, models.NewUpstreamError("postgres", "delete chunks", err)
	}
	return tag.RowsAffected(), nil
}

// DenseSearch returns the chunks nearest to the query embedding by inner
// product. The <#> operator yields negated inner product, so ascending
// operator order is best-first and the sign is flipped for the score. The
// unscoped branch joins documents and access so only chunks of documents the
// principal owns or holds a grant on come back; every grant level implies
// read, so grant existence is enough.
func (r *PostgresChunkRepository) DenseSearch(ctx context.Context, query []float32, documentID, principal string, limit int) ([]*models.SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	vec := pgvector.NewVector(query)

	var rows pgx.Rows
	var err error
	if documentID != "" {
		rows, err = r.pool.Query(ctx, `
			SELECT id, document_id, content, ordinal, page, (embedding <#> $1) * -1 AS score
			FROM chunks
			WHERE document_id = $2 AND embedding IS NOT NULL
			ORDER BY embedding <#> $1
			LIMIT $3`,
			vec, documentID, limit)
	} else {
		if principal == "" {
			return nil, &models.ValidationError{Field: "principal", Message: "principal is required for unscoped search"}
		}
		rows, err = r.pool.Query(ctx, `
			SELECT c.id, c.document_id, c.content, c.ordinal, c.page, (c.embedding <#> $1) * -1 AS score
			FROM chunks c
			JOIN documents d ON d.id = c.document_id
			WHERE c.embedding IS NOT NULL
			  AND (d.owner = $2 OR EXISTS (
			      SELECT 1 FROM access a
			      WHERE a.object_id = d.id AND a.principal_id = $2))
			ORDER BY c.embedding <#> $1
			LIMIT $3`,
			vec, principal, limit)
	}
	if err != nil {
		return nil, models.NewUpstreamError("postgres", "dense search", err)
	}
	defer rows.Close()

	results := make([]*models.SearchResult, 0, limit)
	for rows.Next() {
		var res models.SearchResult
		var page *int
		if err := rows.Scan(&res.ChunkID, &res.DocumentID, &res.Content, &res.Ordinal, &page, &res.Score); err != nil {
			return nil, models.NewUpstreamError("postgres", "dense search", err)
		}
		res.Page = page
		res.DenseScore = res.Score
		results = append(results, &res)
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewUpstreamError("postgres", "dense search", err)
	}
	return results, nil
}

// CountByDocument returns the number of chunks stored for a document.
func (r *PostgresChunkRepository) CountByDocument(ctx context.Context, documentID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM chunks WHERE document_id = $1`, documentID).Scan(&n)
	if err != nil {
		return 0, models.NewUpstreamError("postgres", "count chunks", err)
	}
	return n, nil
}

// scanChunk maps one chunks row into a model, leaving the embedding unset.
func scanChunk(row pgx.Row) (*models.Chunk, error) {
	var chunk models.Chunk
	var page *int
	err := row.Scan(&chunk.ID, &chunk.DocumentID, &chunk.Ordinal, &chunk.Content,
		&page, &chunk.Metadata, &chunk.CreatedAt, &chunk.UpdatedAt)
	if err != nil {
		return nil, err
	}
	chunk.Page = page
	return &chunk, nil
}
