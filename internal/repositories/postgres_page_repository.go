package repositories

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rag-engine/internal/models"
)

// PostgresPageRepository implements PageRepository on pgx. Page vectors are
// stored as JSONB since each page carries a variable number of vectors.
type PostgresPageRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresPageRepository creates a new Postgres-backed page repository.
func NewPostgresPageRepository(pool *pgxpool.Pool) *PostgresPageRepository {
	return &PostgresPageRepository{pool: pool}
}

// UpsertBatch writes all page embeddings in one transaction.
func (r *PostgresPageRepository) UpsertBatch(ctx context.Context, pages []*models.PageEmbedding) error {
	if len(pages) == 0 {
		return nil
	}
	for _, p := range pages {
		if err := p.Validate(); err != nil {
			return err
		}
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return models.NewUpstreamError("postgres", "upsert pages", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, p := range pages {
		batch.Queue(`
			INSERT INTO page_embeddings (document_id, page, vectors, tokens_flat, tokens_tiled, updated_at)
			VALUES ($1, $2, $3, $4, $5, now())
			ON CONFLICT (document_id, page) DO UPDATE SET
				vectors      = EXCLUDED.vectors,
				tokens_flat  = EXCLUDED.tokens_flat,
				tokens_tiled = EXCLUDED.tokens_tiled,
				updated_at   = now()`,
			p.DocumentID, p.Page, p.Vectors, p.Tokens.Flat, p.Tokens.Tiled)
	}

	results := tx.SendBatch(ctx, batch)
	for range pages {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return models.NewUpstreamError("postgres", "upsert pages", err)
		}
	}
	if err := results.Close(); err != nil {
		return models.NewUpstreamError("postgres", "upsert pages", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.NewUpstreamError("postgres", "upsert pages", err)
	}
	return nil
}

// ListByDocument returns the document's page embeddings ordered by page.
func (r *PostgresPageRepository) ListByDocument(ctx context.Context, documentID string) ([]*models.PageEmbedding, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT document_id, page, vectors, tokens_flat, tokens_tiled
		FROM page_embeddings
		WHERE document_id = $1
		ORDER BY page`,
		documentID)
	if err != nil {
		return nil, models.NewUpstreamError("postgres", "list pages", err)
	}
	defer rows.Close()

	pages := make([]*models.PageEmbedding, 0)
	for rows.Next() {
		var p models.PageEmbedding
		if err := rows.Scan(&p.DocumentID, &p.Page, &p.Vectors, &p.Tokens.Flat, &p.Tokens.Tiled); err != nil {
			return nil, models.NewUpstreamError("postgres", "list pages", err)
		}
		pages = append(pages, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewUpstreamError("postgres", "list pages", err)
	}
	return pages, nil
}

// DeleteByDocument removes all page embeddings of a document.
func (r *PostgresPageRepository) DeleteByDocument(ctx context.Context, documentID string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM page_embeddings WHERE document_id = $1`, documentID)
	if err != nil {
		return models.NewUpstreamError("postgres", "delete pages", err)
	}
	return nil
}
