// Package patternstore defines the interface to the remote Pattern Store:
// the persistence layer holding long-term per-word synchronization aggregates,
// raw word observations, and full-transcript records with embeddings.
//
// Implementations must be safe for concurrent use. The canonical
// implementation is the PostgreSQL + pgvector store in the postgres
// sub-package; the mock sub-package provides a configurable test double.
//
// Callers other than the metric store client should not talk to a Store
// directly — the client adds the retry, caching, and degradation policies the
// rest of the engine relies on.
package patternstore

import (
	"context"
	"time"
)

// WordMetrics is the long-term aggregate stored for one distinct word.
// There is exactly one logical row per word (upsert semantics).
type WordMetrics struct {
	// Word is the lowercase word text the row is keyed by.
	Word string

	// ExpectedTimeMs is the word's baseline expected offset in milliseconds.
	ExpectedTimeMs float64

	// ActualTimeMs folds every later observation into the row so that
	// ExpectedTimeMs - ActualTimeMs is the recency-weighted mean compensation.
	ActualTimeMs float64

	// UserAccuracy is the [0,1] accuracy score reported with the observations.
	UserAccuracy float64

	// Context is the most recent surrounding text stored with the word.
	Context string

	// CreatedAt is when the row was first written. The schema carries no
	// update timestamp.
	CreatedAt time.Time
}

// MeanCompensationMs returns the derived per-word compensation
// (expected minus actual), the value playback correction consumes.
func (m WordMetrics) MeanCompensationMs() float64 {
	return m.ExpectedTimeMs - m.ActualTimeMs
}

// LearningRecord is the write-side shape for upserting a word aggregate.
// Embeddings may be zero-vectors when the embedding provider is unavailable.
type LearningRecord struct {
	Word             string
	ExpectedTimeMs   float64
	ActualTimeMs     float64
	UserAccuracy     float64
	Context          string
	WordEmbedding    []float32
	ContextEmbedding []float32
}

// WordObservation is one raw per-playback observation of a word, persisted
// for offline analysis and retention-pruned after a configurable window.
type WordObservation struct {
	Word           string
	Start          time.Duration
	End            time.Duration
	CompensationMs float64
	PlaybackRate   float64
	Context        string
}

// TranscriptRecord is a full transcript with its whole-text embedding,
// persisted once per transcription run.
type TranscriptRecord struct {
	Text      string
	Summary   string
	Embedding []float32
}

// SimilarWord is one ranked result of a vector-similarity query.
type SimilarWord struct {
	ID         int64
	Word       string
	Context    string
	Similarity float64
}

// Store is the remote Pattern Store contract.
type Store interface {
	// GetWordMetrics returns the aggregate row for word, or (nil, nil) when
	// no row exists. "Not found" is a valid result, not an error.
	GetWordMetrics(ctx context.Context, word string) (*WordMetrics, error)

	// UpsertLearningRecord inserts or fully replaces the aggregate row for
	// rec.Word (lowercased by the store).
	UpsertLearningRecord(ctx context.Context, rec LearningRecord) error

	// RecentWordMetrics returns aggregate rows created after since, ordered
	// newest first, paged by limit/offset. Used for historical rehydration.
	RecentWordMetrics(ctx context.Context, since time.Time, limit, offset int) ([]WordMetrics, error)

	// SimilarWords runs a cosine-similarity search over word embeddings and
	// returns up to limit matches above threshold, most similar first.
	SimilarWords(ctx context.Context, embedding []float32, limit int, threshold float64) ([]SimilarWord, error)

	// WordsByPrefix is the non-vector fallback search: rows whose word starts
	// with prefix, most recently created first.
	WordsByPrefix(ctx context.Context, prefix string, limit int) ([]SimilarWord, error)

	// InsertWordObservation appends one raw observation row.
	InsertWordObservation(ctx context.Context, obs WordObservation) error

	// InsertTranscript appends one full-transcript row.
	InsertTranscript(ctx context.Context, rec TranscriptRecord) error

	// PruneObservationsBefore deletes raw observation rows older than cutoff
	// and reports how many were removed.
	PruneObservationsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping verifies connectivity. This is the only store path whose errors
	// are surfaced to the application shell unmodified.
	Ping(ctx context.Context) error
}
