// Package metricstore implements the client through which the rest of the
// engine talks to the remote Pattern Store. It layers retries with
// exponential backoff, a circuit breaker, short-lived caching, input
// validation, and embedding generation on top of the raw
// [patternstore.Store].
//
// Every read degrades to a safe zero value when the store stays unreachable
// after retries; playback correction must keep working offline. Only
// [Client.Ping] surfaces connectivity errors unmodified.
package metricstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/antzucaro/matchr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/arthurnavah/echoline/internal/observe"
	"github.com/arthurnavah/echoline/internal/resilience"
	"github.com/arthurnavah/echoline/internal/sched"
	"github.com/arthurnavah/echoline/pkg/patternstore"
	"github.com/arthurnavah/echoline/pkg/provider/embeddings"
)

const (
	// metricsCacheTTL covers both positive and negative word-metrics lookups.
	metricsCacheTTL = 30 * time.Second

	// similarCacheTTL covers vector-similarity results.
	similarCacheTTL = 60 * time.Second

	cacheMaxEntries = 2048

	// defaultCompensationMs replaces NaN or infinite compensation inputs.
	// Losing a learning sample is worse than storing a slightly wrong one.
	defaultCompensationMs = 100

	// pruneInterval is how often retention pruning runs.
	pruneInterval = 24 * time.Hour
)

// tracerName is the instrumentation scope for client spans.
const tracerName = "github.com/arthurnavah/echoline/internal/metricstore"

// Config tunes a [Client]. Zero-value fields fall back to defaults.
type Config struct {
	// RecencyWeight blends new observations into existing aggregates.
	// Default: 0.7.
	RecencyWeight float64

	// RetentionDays bounds how long raw word observations are kept.
	// Default: 30.
	RetentionDays int

	// Retry overrides the retry policy for store calls.
	Retry resilience.RetryConfig

	// Logger defaults to [slog.Default].
	Logger *slog.Logger

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

func (c Config) withDefaults() Config {
	if c.RecencyWeight <= 0 || c.RecencyWeight > 1 {
		c.RecencyWeight = 0.7
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = 30
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Metrics == nil {
		c.Metrics = observe.DefaultMetrics()
	}
	return c
}

// Client is the retrying, caching Pattern Store façade. Safe for concurrent
// use.
type Client struct {
	store    patternstore.Store
	embedder embeddings.Provider
	cfg      Config
	logger   *slog.Logger
	metrics  *observe.Metrics
	tracer   trace.Tracer
	breaker  *resilience.Breaker

	// metricsCache holds word → metrics lookups, including negative results
	// (nil pointer values are cached misses).
	metricsCache *ttlCache[*patternstore.WordMetrics]
	similarCache *ttlCache[[]patternstore.SimilarWord]

	prunerMu sync.Mutex
	pruner   *sched.Task
}

// New builds a client over the given store and embedding provider.
func New(store patternstore.Store, embedder embeddings.Provider, cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		store:        store,
		embedder:     embedder,
		cfg:          cfg,
		logger:       cfg.Logger.With("component", "metricstore"),
		metrics:      cfg.Metrics,
		tracer:       otel.Tracer(tracerName),
		breaker:      resilience.NewBreaker("pattern-store", 5, 30*time.Second),
		metricsCache: newTTLCache[*patternstore.WordMetrics](metricsCacheTTL, cacheMaxEntries),
		similarCache: newTTLCache[[]patternstore.SimilarWord](similarCacheTTL, cacheMaxEntries),
	}
}

// call wraps one remote operation with the breaker, retries, metrics, and a
// trace span.
func (c *Client) call(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, span := c.tracer.Start(ctx, "patternstore."+op)
	defer span.End()

	if err := c.breaker.Allow(); err != nil {
		c.metrics.RecordStoreRequest(ctx, op, "rejected", 0)
		return err
	}

	start := time.Now()
	err := resilience.Retry(ctx, c.cfg.Retry, op, fn)
	c.breaker.Report(err)

	status := "ok"
	if err != nil {
		status = "error"
		c.metrics.RecordStoreError(ctx, op)
	}
	c.metrics.RecordStoreRequest(ctx, op, status, time.Since(start).Seconds())
	return err
}

// GetWordMetrics returns the long-term aggregate for word, nil when the word
// is unknown, and nil on terminal store failure (degraded mode). Results,
// including misses, are cached for 30s.
func (c *Client) GetWordMetrics(ctx context.Context, word string) *patternstore.WordMetrics {
	key := strings.ToLower(strings.TrimSpace(word))
	if key == "" {
		return nil
	}

	if m, ok := c.metricsCache.get(key); ok {
		return m
	}

	var m *patternstore.WordMetrics
	err := c.call(ctx, "get_word_metrics", func(ctx context.Context) error {
		var innerErr error
		m, innerErr = c.store.GetWordMetrics(ctx, key)
		return innerErr
	})
	if err != nil {
		c.logger.Warn("word metrics lookup failed, degrading to local heuristics",
			"word", key, "error", err)
		return nil
	}

	c.metricsCache.put(key, m)
	return m
}

// UpsertLearningRecord folds one observation into the word's aggregate row.
// An existing row is blended with the recency weight; a new row starts from
// the observation as-is. Embeddings are generated for the word and context;
// embedding failures degrade to zero-vectors and never block the write.
//
// Validation corrects rather than rejects: NaN or infinite compensation is
// replaced by a 100ms default. Only an empty word is refused.
func (c *Client) UpsertLearningRecord(ctx context.Context, word string, compensationMs float64, wordContext string, accuracy float64) error {
	key := strings.ToLower(strings.TrimSpace(word))
	if key == "" {
		return errors.New("metricstore: upsert: word must not be empty")
	}
	if math.IsNaN(compensationMs) || math.IsInf(compensationMs, 0) {
		c.logger.Debug("invalid compensation substituted with default",
			"word", key, "compensation_ms", compensationMs)
		compensationMs = defaultCompensationMs
	}
	accuracy = math.Min(1, math.Max(0, accuracy))

	var existing *patternstore.WordMetrics
	err := c.call(ctx, "get_word_metrics", func(ctx context.Context) error {
		var innerErr error
		existing, innerErr = c.store.GetWordMetrics(ctx, key)
		return innerErr
	})
	if err != nil {
		// Proceed as an insert: overwriting a stale aggregate with a fresh
		// observation beats dropping the sample.
		c.logger.Debug("pre-upsert read failed, writing fresh aggregate",
			"word", key, "error", err)
		existing = nil
	}

	rec := patternstore.LearningRecord{
		Word:           key,
		ExpectedTimeMs: compensationMs,
		UserAccuracy:   accuracy,
		Context:        wordContext,
	}
	if existing != nil {
		w := c.cfg.RecencyWeight
		blended := existing.MeanCompensationMs()*(1-w) + compensationMs*w
		rec.ActualTimeMs = compensationMs - blended
		rec.UserAccuracy = existing.UserAccuracy*(1-w) + accuracy*w
	}

	rec.WordEmbedding, rec.ContextEmbedding = c.embedPair(ctx, key, wordContext)

	if err := c.call(ctx, "upsert_learning_record", func(ctx context.Context) error {
		return c.store.UpsertLearningRecord(ctx, rec)
	}); err != nil {
		return fmt.Errorf("metricstore: upsert %q: %w", key, err)
	}

	c.metricsCache.invalidate(key)
	return nil
}

// embedPair embeds the word and its context, degrading each failure to a
// zero-vector of the provider's dimensionality.
func (c *Client) embedPair(ctx context.Context, word, wordContext string) (wordVec, contextVec []float32) {
	dims := c.embedder.Dimensions()
	zero := func() []float32 { return make([]float32, dims) }

	if wordContext == "" {
		vec, err := c.embedder.Embed(ctx, word)
		if err != nil {
			c.logger.Debug("word embedding failed, degrading to zero-vector",
				"word", word, "error", err)
			return zero(), zero()
		}
		return vec, zero()
	}

	vecs, err := c.embedder.EmbedBatch(ctx, []string{word, wordContext})
	if err != nil || len(vecs) != 2 {
		c.logger.Debug("embedding batch failed, degrading to zero-vectors",
			"word", word, "error", err)
		return zero(), zero()
	}
	return vecs[0], vecs[1]
}

// FindSimilarWords returns up to limit stored words ranked by cosine
// similarity to word, filtered by threshold. Results are cached for 60s.
// When vector search is unavailable the client falls back to a prefix scan
// reranked by Jaro-Winkler string similarity, so callers always get a
// best-effort ranking. Terminal failures return an empty slice.
func (c *Client) FindSimilarWords(ctx context.Context, word string, limit int, threshold float64) []patternstore.SimilarWord {
	key := strings.ToLower(strings.TrimSpace(word))
	if key == "" || limit <= 0 {
		return nil
	}

	cacheKey := fmt.Sprintf("%s|%d|%.2f", key, limit, threshold)
	if matches, ok := c.similarCache.get(cacheKey); ok {
		return matches
	}

	matches := c.similarByVector(ctx, key, limit, threshold)
	if matches == nil {
		matches = c.similarByPrefix(ctx, key, limit, threshold)
	}
	if matches == nil {
		return nil
	}

	c.similarCache.put(cacheKey, matches)
	return matches
}

func (c *Client) similarByVector(ctx context.Context, word string, limit int, threshold float64) []patternstore.SimilarWord {
	vec, err := c.embedder.Embed(ctx, word)
	if err != nil {
		c.logger.Debug("query embedding failed, falling back to prefix search",
			"word", word, "error", err)
		return nil
	}

	var matches []patternstore.SimilarWord
	err = c.call(ctx, "similar_words", func(ctx context.Context) error {
		var innerErr error
		matches, innerErr = c.store.SimilarWords(ctx, vec, limit, threshold)
		return innerErr
	})
	if err != nil {
		c.logger.Debug("vector search failed, falling back to prefix search",
			"word", word, "error", err)
		return nil
	}
	return matches
}

// similarByPrefix is the degraded search path: prefix-scan the store and
// rank by Jaro-Winkler similarity to the query word.
func (c *Client) similarByPrefix(ctx context.Context, word string, limit int, threshold float64) []patternstore.SimilarWord {
	prefix := word
	if len(prefix) > 3 {
		prefix = prefix[:3]
	}

	var matches []patternstore.SimilarWord
	err := c.call(ctx, "words_by_prefix", func(ctx context.Context) error {
		var innerErr error
		matches, innerErr = c.store.WordsByPrefix(ctx, prefix, limit*2)
		return innerErr
	})
	if err != nil {
		c.logger.Warn("similar word search unavailable", "word", word, "error", err)
		return nil
	}

	ranked := matches[:0]
	for _, m := range matches {
		m.Similarity = matchr.JaroWinkler(word, strings.ToLower(m.Word), true)
		if m.Similarity >= threshold {
			ranked = append(ranked, m)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Similarity > ranked[j].Similarity
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// RecentWordMetrics returns one page of historical aggregates for
// rehydration. Terminal failures return an empty page.
func (c *Client) RecentWordMetrics(ctx context.Context, since time.Time, limit, offset int) []patternstore.WordMetrics {
	var page []patternstore.WordMetrics
	err := c.call(ctx, "recent_word_metrics", func(ctx context.Context) error {
		var innerErr error
		page, innerErr = c.store.RecentWordMetrics(ctx, since, limit, offset)
		return innerErr
	})
	if err != nil {
		c.logger.Warn("historical metrics page failed", "offset", offset, "error", err)
		return nil
	}
	return page
}

// InsertWordObservation appends one raw observation row.
func (c *Client) InsertWordObservation(ctx context.Context, obs patternstore.WordObservation) error {
	if strings.TrimSpace(obs.Word) == "" {
		return errors.New("metricstore: observation: word must not be empty")
	}
	if math.IsNaN(obs.CompensationMs) || math.IsInf(obs.CompensationMs, 0) {
		obs.CompensationMs = defaultCompensationMs
	}
	return c.call(ctx, "insert_word_observation", func(ctx context.Context) error {
		return c.store.InsertWordObservation(ctx, obs)
	})
}

// InsertTranscript persists one full transcript with its embedding. The
// embedding degrades to a zero-vector on provider failure.
func (c *Client) InsertTranscript(ctx context.Context, text, summary string) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("metricstore: transcript: text must not be empty")
	}

	vec, err := c.embedder.Embed(ctx, text)
	if err != nil {
		c.logger.Debug("transcript embedding failed, degrading to zero-vector", "error", err)
		vec = make([]float32, c.embedder.Dimensions())
	}

	return c.call(ctx, "insert_transcript", func(ctx context.Context) error {
		return c.store.InsertTranscript(ctx, patternstore.TranscriptRecord{
			Text:      text,
			Summary:   summary,
			Embedding: vec,
		})
	})
}

// PruneOlderThan deletes raw observations beyond the retention window and
// returns how many rows went away. Best effort.
func (c *Client) PruneOlderThan(ctx context.Context, days int) int64 {
	if days <= 0 {
		days = c.cfg.RetentionDays
	}
	cutoff := time.Now().AddDate(0, 0, -days)

	var removed int64
	err := c.call(ctx, "prune_observations", func(ctx context.Context) error {
		var innerErr error
		removed, innerErr = c.store.PruneObservationsBefore(ctx, cutoff)
		return innerErr
	})
	if err != nil {
		c.logger.Warn("retention pruning failed", "cutoff", cutoff, "error", err)
		return 0
	}
	if removed > 0 {
		c.logger.Info("retention pruning complete", "removed", removed, "cutoff", cutoff)
	}
	return removed
}

// StartPruning launches the daily retention timer. Calling it more than once
// is a no-op.
func (c *Client) StartPruning(ctx context.Context) {
	c.prunerMu.Lock()
	defer c.prunerMu.Unlock()
	if c.pruner != nil {
		return
	}
	c.pruner = sched.Every(ctx, "retention-prune", pruneInterval, func(ctx context.Context) {
		c.PruneOlderThan(ctx, c.cfg.RetentionDays)
	})
}

// Stop halts the pruning timer, waiting for an in-flight run.
func (c *Client) Stop() {
	c.prunerMu.Lock()
	pruner := c.pruner
	c.pruner = nil
	c.prunerMu.Unlock()

	if pruner != nil {
		pruner.Stop()
	}
}

// Ping verifies store connectivity without retries or degradation; callers
// use it for startup checks and health endpoints.
func (c *Client) Ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}
