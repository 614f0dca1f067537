package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
)

// PostgresClient wraps a pgx connection pool. Documents, chunks, page
// embeddings, the BM25 tables and access grants live here.
type PostgresClient struct {
	pool   *pgxpool.Pool
	config PostgresConfig
}

// PostgresConfig holds configuration for the Postgres connection
type PostgresConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	Database       string
	SSLMode        string
	MaxConns       int32
	MinConns       int32
	ConnectTimeout time.Duration
}

// DefaultPostgresConfig returns a Postgres configuration with sensible defaults
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		Host:           "localhost",
		Port:           5432,
		User:           "postgres",
		Password:       "postgres",
		Database:       "rag_engine",
		SSLMode:        "disable",
		MaxConns:       10,
		MinConns:       2,
		ConnectTimeout: 5 * time.Second,
	}
}

// DSN builds the connection string for the configuration
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// NewPostgresClient creates a pooled Postgres client and registers the
// pgvector types on every connection.
func NewPostgresClient(ctx context.Context, config PostgresConfig) (*PostgresClient, error) {
	if config.MaxConns == 0 {
		config.MaxConns = 10
	}
	if config.MinConns == 0 {
		config.MinConns = 2
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 5 * time.Second
	}

	poolConfig, err := pgxpool.ParseConfig(config.DSN())
	if err != nil {
		return nil, fmt.Errorf("invalid postgres config: %w", err)
	}
	poolConfig.MaxConns = config.MaxConns
	poolConfig.MinConns = config.MinConns
	poolConfig.ConnConfig.ConnectTimeout = config.ConnectTimeout
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	return &PostgresClient{
		pool:   pool,
		config: config,
	}, nil
}

// Ping checks if Postgres is alive
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Pool returns the underlying connection pool. Repositories operate on it
// directly so they can run transactions.
func (p *PostgresClient) Pool() *pgxpool.Pool {
	return p.pool
}

// Stat returns pool statistics
func (p *PostgresClient) Stat() *pgxpool.Stat {
	return p.pool.Stat()
}

// Close closes the pool and releases all connections
func (p *PostgresClient) Close() {
	p.pool.Close()
}
