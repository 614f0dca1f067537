package db

import (
	"context"
	"fmt"
)

// schemaStatements creates the owned tables and their indexes. Every statement
// is idempotent so EnsureSchema can run on every boot.
var schemaStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS vector`,

	`CREATE TABLE IF NOT EXISTS documents (
		id              TEXT PRIMARY KEY,
		owner           TEXT NOT NULL,
		storage_bucket  TEXT NOT NULL,
		storage_key     TEXT NOT NULL,
		lane            TEXT NOT NULL,
		mime            TEXT NOT NULL DEFAULT '',
		size            BIGINT NOT NULL DEFAULT 0,
		state           TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (storage_bucket, storage_key)
	)`,

	`CREATE TABLE IF NOT EXISTS chunks (
		id            TEXT PRIMARY KEY,
		document_id   TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		ordinal       INT NOT NULL,
		content       TEXT NOT NULL,
		page          INT,
		metadata      JSONB,
		embedding     vector(1536),
		embedding_qa  vector(1536),
		content_tsv   TSVECTOR,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (document_id, ordinal)
	)`,
	`CREATE INDEX IF NOT EXISTS chunks_document_idx ON chunks (document_id)`,
	`CREATE INDEX IF NOT EXISTS chunks_content_tsv_idx ON chunks USING GIN (content_tsv)`,
	`CREATE INDEX IF NOT EXISTS chunks_embedding_idx ON chunks USING hnsw (embedding vector_ip_ops)`,
	`CREATE INDEX IF NOT EXISTS chunks_embedding_qa_idx ON chunks USING hnsw (embedding_qa vector_ip_ops)`,

	`CREATE TABLE IF NOT EXISTS page_embeddings (
		document_id  TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		page         INT NOT NULL,
		vectors      JSONB NOT NULL,
		tokens_flat  INT NOT NULL DEFAULT 0,
		tokens_tiled INT NOT NULL DEFAULT 0,
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (document_id, page)
	)`,

	`CREATE TABLE IF NOT EXISTS chunk_bm25 (
		chunk_id    TEXT PRIMARY KEY REFERENCES chunks(id) ON DELETE CASCADE,
		term_freqs  JSONB NOT NULL,
		doc_length  INT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS doc_term_stats (
		document_id  TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		term         TEXT NOT NULL,
		df           INT NOT NULL,
		PRIMARY KEY (document_id, term)
	)`,

	`CREATE TABLE IF NOT EXISTS doc_bm25_meta (
		document_id         TEXT PRIMARY KEY REFERENCES documents(id) ON DELETE CASCADE,
		total_chunks        INT NOT NULL DEFAULT 0,
		avg_chunk_length    DOUBLE PRECISION NOT NULL DEFAULT 0,
		total_unique_terms  INT NOT NULL DEFAULT 0,
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS access (
		object_id       TEXT NOT NULL,
		principal_id    TEXT NOT NULL,
		permission      TEXT NOT NULL,
		principal_type  TEXT NOT NULL DEFAULT 'user',
		object_type     TEXT NOT NULL DEFAULT 'document',
		policy          TEXT NOT NULL DEFAULT '',
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (object_id, principal_id)
	)`,
}

// EnsureSchema creates all tables and indexes if they do not exist yet.
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
