// Package postgres provides the PostgreSQL-backed implementation of the
// Echoline pattern store: per-word learning aggregates, raw word-timing
// observations, and full-transcript records with embeddings.
//
// The pgvector extension must be available in the target database; [Migrate]
// installs it automatically via CREATE EXTENSION IF NOT EXISTS.
//
// Table and function names follow the schema of the deployed database this
// engine shares with the desktop application, including the Portuguese
// transcricoes table — renaming them would break the existing data set.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 384)
//	if err != nil { … }
//	defer store.Close()
//
//	m, _ := store.GetWordMetrics(ctx, "hello")
//	matches, _ := store.SimilarWords(ctx, embedding, 5, 0.7)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// DDL — raw per-observation word timings
// ─────────────────────────────────────────────────────────────────────────────

const ddlWordTimestamps = `
CREATE TABLE IF NOT EXISTS word_timestamps (
    id              BIGSERIAL    PRIMARY KEY,
    word            TEXT         NOT NULL,
    start_ms        DOUBLE PRECISION NOT NULL,
    end_ms          DOUBLE PRECISION NOT NULL,
    compensation_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
    playback_rate   DOUBLE PRECISION NOT NULL DEFAULT 1,
    context         TEXT         NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_word_timestamps_word
    ON word_timestamps (word);

CREATE INDEX IF NOT EXISTS idx_word_timestamps_created_at
    ON word_timestamps (created_at);
`

// ─────────────────────────────────────────────────────────────────────────────
// DDL — one learning row per distinct word (no updated_at by design of the
// deployed schema; created_at marks first observation)
// ─────────────────────────────────────────────────────────────────────────────

const ddlLearningData = `
CREATE TABLE IF NOT EXISTS learning_data (
    word              TEXT         PRIMARY KEY,
    expected_time     DOUBLE PRECISION NOT NULL,
    actual_time       DOUBLE PRECISION NOT NULL DEFAULT 0,
    user_accuracy     DOUBLE PRECISION NOT NULL DEFAULT 0.5,
    context           TEXT         NOT NULL DEFAULT '',
    word_embedding    VECTOR(%d),
    context_embedding VECTOR(%d),
    created_at        TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_learning_data_created_at
    ON learning_data (created_at);

CREATE INDEX IF NOT EXISTS idx_learning_data_word_embedding
    ON learning_data USING hnsw (word_embedding vector_cosine_ops);
`

// ─────────────────────────────────────────────────────────────────────────────
// DDL — full transcripts with whole-text embeddings
// ─────────────────────────────────────────────────────────────────────────────

const ddlTranscricoes = `
CREATE TABLE IF NOT EXISTS transcricoes (
    id         BIGSERIAL    PRIMARY KEY,
    text       TEXT         NOT NULL,
    summary    TEXT         NOT NULL DEFAULT '',
    embedding  VECTOR(%d),
    created_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcricoes_embedding
    ON transcricoes USING hnsw (embedding vector_cosine_ops);
`

// Stored similarity functions. Both take a query embedding, a similarity
// threshold, and a match count, and return ranked rows — the contract the
// desktop application already depends on.
const ddlMatchFunctions = `
CREATE OR REPLACE FUNCTION match_words(
    query_embedding VECTOR(%d),
    match_threshold DOUBLE PRECISION,
    match_count     INT
)
RETURNS TABLE (id BIGINT, word TEXT, context TEXT, similarity DOUBLE PRECISION)
LANGUAGE sql STABLE
AS $$
    SELECT
        ('x' || substr(md5(ld.word), 1, 15))::BIT(60)::BIGINT AS id,
        ld.word,
        ld.context,
        1 - (ld.word_embedding <=> query_embedding) AS similarity
    FROM   learning_data ld
    WHERE  ld.word_embedding IS NOT NULL
      AND  1 - (ld.word_embedding <=> query_embedding) > match_threshold
    ORDER  BY ld.word_embedding <=> query_embedding
    LIMIT  match_count;
$$;

CREATE OR REPLACE FUNCTION match_transcriptions(
    query_embedding VECTOR(%d),
    match_threshold DOUBLE PRECISION,
    match_count     INT
)
RETURNS TABLE (id BIGINT, text TEXT, context TEXT, similarity DOUBLE PRECISION)
LANGUAGE sql STABLE
AS $$
    SELECT
        t.id,
        t.text,
        t.summary AS context,
        1 - (t.embedding <=> query_embedding) AS similarity
    FROM   transcricoes t
    WHERE  t.embedding IS NOT NULL
      AND  1 - (t.embedding <=> query_embedding) > match_threshold
    ORDER  BY t.embedding <=> query_embedding
    LIMIT  match_count;
$$;
`

// Migrate creates the pgvector extension, all tables, indexes, and the two
// stored similarity functions. It is idempotent and safe to run on every
// startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if embeddingDimensions <= 0 {
		embeddingDimensions = 384
	}

	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		ddlWordTimestamps,
		fmt.Sprintf(ddlLearningData, embeddingDimensions, embeddingDimensions),
		fmt.Sprintf(ddlTranscricoes, embeddingDimensions),
		fmt.Sprintf(ddlMatchFunctions, embeddingDimensions, embeddingDimensions),
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
