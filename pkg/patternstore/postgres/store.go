package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/arthurnavah/echoline/pkg/patternstore"
)

// Compile-time interface check.
var _ patternstore.Store = (*Store)(nil)

// Store is the PostgreSQL + pgvector implementation of
// [patternstore.Store]. It holds a single [pgxpool.Pool]; all operations are
// safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
	dims int
}

// NewStore establishes a connection pool to the PostgreSQL database at dsn,
// registers pgvector types on every connection, and runs [Migrate] to ensure
// all required tables, functions, and extensions exist.
//
// embeddingDimensions must match the output dimension of the embedding
// provider used to produce word and transcript embeddings (e.g. 384 for
// all-minilm). Changing this value after the first migration requires a
// manual schema change.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pattern store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so vector columns can
	// be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pattern store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pattern store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pattern store: migrate: %w", err)
	}

	return &Store{pool: pool, dims: embeddingDimensions}, nil
}

// Ping implements [patternstore.Store].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("pattern store: ping: %w", err)
	}
	return nil
}

// Close releases all connections held by the underlying pool. Call when the
// Store is no longer needed, typically via defer.
func (s *Store) Close() {
	s.pool.Close()
}
