package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/arthurnavah/echoline/pkg/patternstore"
)

// GetWordMetrics implements [patternstore.Store]. A missing row is reported
// as (nil, nil), not as an error.
func (s *Store) GetWordMetrics(ctx context.Context, word string) (*patternstore.WordMetrics, error) {
	const q = `
		SELECT word, expected_time, actual_time, user_accuracy, context, created_at
		FROM   learning_data
		WHERE  word = $1`

	var m patternstore.WordMetrics
	err := s.pool.QueryRow(ctx, q, strings.ToLower(word)).Scan(
		&m.Word,
		&m.ExpectedTimeMs,
		&m.ActualTimeMs,
		&m.UserAccuracy,
		&m.Context,
		&m.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pattern store: get word metrics: %w", err)
	}
	return &m, nil
}

// UpsertLearningRecord implements [patternstore.Store]. The row is keyed by
// the lowercased word; an existing row is fully replaced. created_at is
// preserved on conflict because the schema carries no update timestamp.
func (s *Store) UpsertLearningRecord(ctx context.Context, rec patternstore.LearningRecord) error {
	if rec.Word == "" {
		return errors.New("pattern store: upsert: word must not be empty")
	}

	const q = `
		INSERT INTO learning_data
		    (word, expected_time, actual_time, user_accuracy, context, word_embedding, context_embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (word) DO UPDATE SET
		    expected_time     = EXCLUDED.expected_time,
		    actual_time       = EXCLUDED.actual_time,
		    user_accuracy     = EXCLUDED.user_accuracy,
		    context           = EXCLUDED.context,
		    word_embedding    = EXCLUDED.word_embedding,
		    context_embedding = EXCLUDED.context_embedding`

	_, err := s.pool.Exec(ctx, q,
		strings.ToLower(rec.Word),
		rec.ExpectedTimeMs,
		rec.ActualTimeMs,
		rec.UserAccuracy,
		rec.Context,
		vectorOrNil(rec.WordEmbedding),
		vectorOrNil(rec.ContextEmbedding),
	)
	if err != nil {
		return fmt.Errorf("pattern store: upsert learning record: %w", err)
	}
	return nil
}

// RecentWordMetrics implements [patternstore.Store].
func (s *Store) RecentWordMetrics(ctx context.Context, since time.Time, limit, offset int) ([]patternstore.WordMetrics, error) {
	const q = `
		SELECT word, expected_time, actual_time, user_accuracy, context, created_at
		FROM   learning_data
		WHERE  created_at > $1
		ORDER  BY created_at DESC
		LIMIT  $2 OFFSET $3`

	rows, err := s.pool.Query(ctx, q, since, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("pattern store: recent word metrics: %w", err)
	}

	metrics, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (patternstore.WordMetrics, error) {
		var m patternstore.WordMetrics
		err := row.Scan(&m.Word, &m.ExpectedTimeMs, &m.ActualTimeMs, &m.UserAccuracy, &m.Context, &m.CreatedAt)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("pattern store: scan word metrics: %w", err)
	}
	if metrics == nil {
		metrics = []patternstore.WordMetrics{}
	}
	return metrics, nil
}

// SimilarWords implements [patternstore.Store]. It calls the match_words
// stored function so that the ranking logic stays in one place shared with
// the desktop application.
func (s *Store) SimilarWords(ctx context.Context, embedding []float32, limit int, threshold float64) ([]patternstore.SimilarWord, error) {
	const q = `SELECT id, word, context, similarity FROM match_words($1, $2, $3)`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(embedding), threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("pattern store: similar words: %w", err)
	}
	return collectSimilar(rows)
}

// WordsByPrefix implements [patternstore.Store]. The fallback search used
// when vector similarity is unavailable; Similarity is left at zero and
// callers rank the results themselves.
func (s *Store) WordsByPrefix(ctx context.Context, prefix string, limit int) ([]patternstore.SimilarWord, error) {
	const q = `
		SELECT ('x' || substr(md5(word), 1, 15))::BIT(60)::BIGINT, word, context, 0::DOUBLE PRECISION
		FROM   learning_data
		WHERE  word LIKE $1 || '%'
		ORDER  BY created_at DESC
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, strings.ToLower(prefix), limit)
	if err != nil {
		return nil, fmt.Errorf("pattern store: words by prefix: %w", err)
	}
	return collectSimilar(rows)
}

// InsertWordObservation implements [patternstore.Store].
func (s *Store) InsertWordObservation(ctx context.Context, obs patternstore.WordObservation) error {
	const q = `
		INSERT INTO word_timestamps
		    (word, start_ms, end_ms, compensation_ms, playback_rate, context)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, q,
		strings.ToLower(obs.Word),
		durationMs(obs.Start),
		durationMs(obs.End),
		obs.CompensationMs,
		obs.PlaybackRate,
		obs.Context,
	)
	if err != nil {
		return fmt.Errorf("pattern store: insert word observation: %w", err)
	}
	return nil
}

// InsertTranscript implements [patternstore.Store].
func (s *Store) InsertTranscript(ctx context.Context, rec patternstore.TranscriptRecord) error {
	const q = `INSERT INTO transcricoes (text, summary, embedding) VALUES ($1, $2, $3)`

	_, err := s.pool.Exec(ctx, q, rec.Text, rec.Summary, vectorOrNil(rec.Embedding))
	if err != nil {
		return fmt.Errorf("pattern store: insert transcript: %w", err)
	}
	return nil
}

// PruneObservationsBefore implements [patternstore.Store].
func (s *Store) PruneObservationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `DELETE FROM word_timestamps WHERE created_at < $1`

	tag, err := s.pool.Exec(ctx, q, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pattern store: prune observations: %w", err)
	}
	return tag.RowsAffected(), nil
}

// collectSimilar scans (id, word, context, similarity) rows.
func collectSimilar(rows pgx.Rows) ([]patternstore.SimilarWord, error) {
	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (patternstore.SimilarWord, error) {
		var sw patternstore.SimilarWord
		err := row.Scan(&sw.ID, &sw.Word, &sw.Context, &sw.Similarity)
		return sw, err
	})
	if err != nil {
		return nil, fmt.Errorf("pattern store: scan similar words: %w", err)
	}
	if matches == nil {
		matches = []patternstore.SimilarWord{}
	}
	return matches, nil
}

// vectorOrNil converts an embedding to a pgvector value, mapping empty
// slices to SQL NULL so degraded (embedding-less) writes stay queryable.
func vectorOrNil(embedding []float32) any {
	if len(embedding) == 0 {
		return nil
	}
	return pgvector.NewVector(embedding)
}

// durationMs converts a duration to fractional milliseconds.
func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
