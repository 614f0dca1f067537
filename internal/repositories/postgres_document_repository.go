package repositories

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rag-engine/internal/models"
)

// PostgresDocumentRepository implements DocumentRepository on pgx.
type PostgresDocumentRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresDocumentRepository creates a new Postgres-backed document repository.
func NewPostgresDocumentRepository(pool *pgxpool.Pool) *PostgresDocumentRepository {
	return &PostgresDocumentRepository{pool: pool}
}

const documentColumns = `id, owner, storage_bucket, storage_key, lane, mime, size, state, created_at, updated_at`

// Upsert registers a document keyed by (storage_bucket, storage_key). An
// existing row keeps its id and owner; lane, mime, size and state are
// refreshed for reprocessing.
func (r *PostgresDocumentRepository) Upsert(ctx context.Context, doc *models.Document) (string, error) {
	if err := doc.Validate(); err != nil {
		return "", err
	}

	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO documents (id, owner, storage_bucket, storage_key, lane, mime, size, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		ON CONFLICT (storage_bucket, storage_key) DO UPDATE SET
			lane       = EXCLUDED.lane,
			mime       = EXCLUDED.mime,
			size       = EXCLUDED.size,
			state      = EXCLUDED.state,
			updated_at = now()
		RETURNING id`,
		doc.ID, doc.Owner, doc.StorageBucket, doc.StorageKey,
		string(doc.Lane), doc.MIME, doc.Size, string(doc.State),
	).Scan(&id)
	if err != nil {
		return "", models.NewUpstreamError("postgres", "upsert document", err)
	}
	return id, nil
}

// Get retrieves a document by id.
func (r *PostgresDocumentRepository) Get(ctx context.Context, documentID string) (*models.Document, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, documentID)

	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.NewDocumentNotFoundError(documentID)
	}
	if err != nil {
		return nil, models.NewUpstreamError("postgres", "get document", err)
	}
	return doc, nil
}

// GetByStorageKey retrieves a document by its object store coordinates.
func (r *PostgresDocumentRepository) GetByStorageKey(ctx context.Context, bucket, key string) (*models.Document, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE storage_bucket = $1 AND storage_key = $2`,
		bucket, key)

	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.NewDocumentNotFoundError(bucket + "/" + key)
	}
	if err != nil {
		return nil, models.NewUpstreamError("postgres", "get document by key", err)
	}
	return doc, nil
}

// ListByOwner returns the owner's documents, newest first.
func (r *PostgresDocumentRepository) ListByOwner(ctx context.Context, owner string, limit, offset int) ([]*models.Document, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE owner = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		owner, limit, offset)
	if err != nil {
		return nil, models.NewUpstreamError("postgres", "list documents", err)
	}
	defer rows.Close()

	docs := make([]*models.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, models.NewUpstreamError("postgres", "list documents", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewUpstreamError("postgres", "list documents", err)
	}
	return docs, nil
}

// UpdateState sets the pipeline state of a document.
func (r *PostgresDocumentRepository) UpdateState(ctx context.Context, documentID string, state models.PipelineState) error {
	if !state.IsValid() {
		return &models.ValidationError{Field: "state", Message: "unknown pipeline state: " + string(state)}
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE documents SET state = $1, updated_at = now() WHERE id = $2`,
		string(state), documentID)
	if err != nil {
		return models.NewUpstreamError("postgres", "update document state", err)
	}
	if tag.RowsAffected() == 0 {
		return models.NewDocumentNotFoundError(documentID)
	}
	return nil
}

// Delete removes the document row, its derived rows via cascade, and its
// access grants, all in one transaction.
func (r *PostgresDocumentRepository) Delete(ctx context.Context, documentID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return models.NewUpstreamError("postgres", "delete document", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM access WHERE object_id = $1`, documentID); err != nil {
		return models.NewUpstreamError("postgres", "delete document", err)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM documents WHERE id = $1`, documentID)
	if err != nil {
		return models.NewUpstreamError("postgres", "delete document", err)
	}
	if tag.RowsAffected() == 0 {
		return models.NewDocumentNotFoundError(documentID)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.NewUpstreamError("postgres", "delete document", err)
	}
	return nil
}

// Exists reports whether a document is registered for (bucket, key).
func (r *PostgresDocumentRepository) Exists(ctx context.Context, bucket, key string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM documents WHERE storage_bucket = $1 AND storage_key = $2)`,
		bucket, key).Scan(&exists)
	if err != nil {
		return false, models.NewUpstreamError("postgres", "document exists", err)
	}
	return exists, nil
}

// Count returns the total number of registered documents.
func (r *PostgresDocumentRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, models.NewUpstreamError("postgres", "count documents", err)
	}
	return n, nil
}

// scanDocument maps one documents row into a model.
func scanDocument(row pgx.Row) (*models.Document, error) {
	var doc models.Document
	var lane, state string
	err := row.Scan(&doc.ID, &doc.Owner, &doc.StorageBucket, &doc.StorageKey,
		&lane, &doc.MIME, &doc.Size, &state, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	doc.Lane = models.Lane(lane)
	doc.State = models.PipelineState(state)
	return &doc, nil
}
