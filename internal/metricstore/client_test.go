package metricstore

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/arthurnavah/echoline/internal/resilience"
	"github.com/arthurnavah/echoline/pkg/patternstore"
	storemock "github.com/arthurnavah/echoline/pkg/patternstore/mock"
	embedmock "github.com/arthurnavah/echoline/pkg/provider/embeddings/mock"
)

// fastRetry keeps failure tests from sleeping through real backoff.
var fastRetry = resilience.RetryConfig{
	Attempts:       3,
	InitialBackoff: time.Millisecond,
	MaxBackoff:     time.Millisecond,
}

func newTestClient(store *storemock.Store) (*Client, *embedmock.Provider) {
	embedder := &embedmock.Provider{Dims: 8}
	return New(store, embedder, Config{Retry: fastRetry}), embedder
}

func TestGetWordMetricsCacheConsistency(t *testing.T) {
	t.Parallel()

	store := &storemock.Store{
		GetWordMetricsResult: &patternstore.WordMetrics{Word: "teste", ExpectedTimeMs: 120},
	}
	c, _ := newTestClient(store)
	ctx := context.Background()

	first := c.GetWordMetrics(ctx, "teste")
	second := c.GetWordMetrics(ctx, "TESTE ")
	if first == nil || second == nil {
		t.Fatal("expected metrics for a known word")
	}
	if got := store.CallCount("GetWordMetrics"); got != 1 {
		t.Errorf("store calls within TTL = %d, want 1 (second served from cache)", got)
	}

	// After the TTL the next lookup goes remote again.
	base := time.Now()
	c.metricsCache.now = func() time.Time { return base.Add(31 * time.Second) }
	c.GetWordMetrics(ctx, "teste")
	if got := store.CallCount("GetWordMetrics"); got != 2 {
		t.Errorf("store calls after TTL expiry = %d, want 2", got)
	}
}

func TestGetWordMetricsCachesNegativeResults(t *testing.T) {
	t.Parallel()

	store := &storemock.Store{}
	c, _ := newTestClient(store)
	ctx := context.Background()

	if m := c.GetWordMetrics(ctx, "inexistente"); m != nil {
		t.Fatalf("unknown word returned %+v, want nil", m)
	}
	c.GetWordMetrics(ctx, "inexistente")
	if got := store.CallCount("GetWordMetrics"); got != 1 {
		t.Errorf("store calls = %d, want 1 (miss cached)", got)
	}
}

func TestGetWordMetricsRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	attempts := 0
	store := &storemock.Store{}
	store.GetWordMetricsFunc = func(word string) (*patternstore.WordMetrics, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("connection reset")
		}
		return &patternstore.WordMetrics{Word: word, ExpectedTimeMs: 80}, nil
	}
	c, _ := newTestClient(store)

	m := c.GetWordMetrics(context.Background(), "teimoso")
	if m == nil || m.ExpectedTimeMs != 80 {
		t.Fatalf("metrics after retries = %+v, want the third attempt's result", m)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestGetWordMetricsDegradesToNilOnTerminalFailure(t *testing.T) {
	t.Parallel()

	store := &storemock.Store{GetWordMetricsErr: errors.New("store down")}
	c, _ := newTestClient(store)

	if m := c.GetWordMetrics(context.Background(), "qualquer"); m != nil {
		t.Errorf("metrics during outage = %+v, want nil degradation", m)
	}
}

func TestBreakerStopsHammeringDuringOutage(t *testing.T) {
	t.Parallel()

	store := &storemock.Store{GetWordMetricsErr: errors.New("store down")}
	c, _ := newTestClient(store)
	ctx := context.Background()

	// Five terminal failures open the breaker; each runs its own retries.
	words := []string{"um", "dois", "três", "quatro", "cinco"}
	for _, w := range words {
		c.GetWordMetrics(ctx, w)
	}
	before := store.CallCount("GetWordMetrics")

	if m := c.GetWordMetrics(ctx, "seis"); m != nil {
		t.Errorf("metrics with open breaker = %+v, want nil", m)
	}
	if got := store.CallCount("GetWordMetrics"); got != before {
		t.Errorf("store calls with open breaker = %d, want unchanged %d", got, before)
	}
}

func TestUpsertLearningRecordInsert(t *testing.T) {
	t.Parallel()

	store := &storemock.Store{}
	c, _ := newTestClient(store)

	if err := c.UpsertLearningRecord(context.Background(), "Olá", 100, "olá mundo", 0.5); err != nil {
		t.Fatalf("UpsertLearningRecord: %v", err)
	}

	recs := store.UpsertedRecords()
	if len(recs) != 1 {
		t.Fatalf("upserted records = %d, want 1", len(recs))
	}
	rec := recs[0]
	if rec.Word != "olá" {
		t.Errorf("stored word = %q, want lowercased %q", rec.Word, "olá")
	}
	if rec.ExpectedTimeMs != 100 || rec.ActualTimeMs != 0 {
		t.Errorf("fresh row = (%v, %v), want (100, 0)", rec.ExpectedTimeMs, rec.ActualTimeMs)
	}
	if len(rec.WordEmbedding) != 8 || len(rec.ContextEmbedding) != 8 {
		t.Errorf("embedding dims = (%d, %d), want (8, 8)",
			len(rec.WordEmbedding), len(rec.ContextEmbedding))
	}
}

func TestUpsertLearningRecordBlendsExistingRow(t *testing.T) {
	t.Parallel()

	// The word already holds a 100ms mean compensation.
	store := &storemock.Store{
		GetWordMetricsResult: &patternstore.WordMetrics{
			Word:           "olá",
			ExpectedTimeMs: 100,
			ActualTimeMs:   0,
			UserAccuracy:   0.5,
		},
	}
	c, _ := newTestClient(store)

	if err := c.UpsertLearningRecord(context.Background(), "olá", 200, "", 0.9); err != nil {
		t.Fatalf("UpsertLearningRecord: %v", err)
	}

	recs := store.UpsertedRecords()
	if len(recs) != 1 {
		t.Fatalf("upserted records = %d, want 1", len(recs))
	}
	rec := recs[0]

	// 100·0.3 + 200·0.7 = 170ms blended compensation.
	got := rec.ExpectedTimeMs - rec.ActualTimeMs
	if math.Abs(got-170) > 1e-9 {
		t.Errorf("blended compensation = %v, want 170", got)
	}
	wantAcc := 0.5*0.3 + 0.9*0.7
	if math.Abs(rec.UserAccuracy-wantAcc) > 1e-9 {
		t.Errorf("blended accuracy = %v, want %v", rec.UserAccuracy, wantAcc)
	}
}

func TestUpsertLearningRecordValidation(t *testing.T) {
	t.Parallel()

	t.Run("empty word is rejected", func(t *testing.T) {
		t.Parallel()
		store := &storemock.Store{}
		c, _ := newTestClient(store)
		if err := c.UpsertLearningRecord(context.Background(), "  ", 100, "", 0.5); err == nil {
			t.Error("expected error for empty word")
		}
		if got := store.CallCount("UpsertLearningRecord"); got != 0 {
			t.Errorf("store writes = %d, want 0", got)
		}
	})

	t.Run("NaN compensation is replaced with the default", func(t *testing.T) {
		t.Parallel()
		store := &storemock.Store{}
		c, _ := newTestClient(store)
		if err := c.UpsertLearningRecord(context.Background(), "nan", math.NaN(), "", 0.5); err != nil {
			t.Fatalf("UpsertLearningRecord: %v", err)
		}
		recs := store.UpsertedRecords()
		if len(recs) != 1 || recs[0].ExpectedTimeMs != defaultCompensationMs {
			t.Errorf("stored compensation = %+v, want default %v", recs, defaultCompensationMs)
		}
	})
}

func TestUpsertDegradesEmbeddingsToZeroVectors(t *testing.T) {
	t.Parallel()

	store := &storemock.Store{}
	embedder := &embedmock.Provider{Dims: 8, EmbedErr: errors.New("embedder down")}
	c := New(store, embedder, Config{Retry: fastRetry})

	if err := c.UpsertLearningRecord(context.Background(), "olá", 100, "contexto", 0.5); err != nil {
		t.Fatalf("UpsertLearningRecord: %v", err)
	}

	recs := store.UpsertedRecords()
	if len(recs) != 1 {
		t.Fatalf("upserted records = %d, want 1", len(recs))
	}
	for _, v := range recs[0].WordEmbedding {
		if v != 0 {
			t.Fatal("word embedding not degraded to zero-vector")
		}
	}
	if len(recs[0].WordEmbedding) != 8 {
		t.Errorf("zero-vector dims = %d, want 8", len(recs[0].WordEmbedding))
	}
}

func TestFindSimilarWordsCachesResults(t *testing.T) {
	t.Parallel()

	store := &storemock.Store{
		SimilarWordsResult: []patternstore.SimilarWord{
			{ID: 1, Word: "testando", Similarity: 0.91},
		},
	}
	c, _ := newTestClient(store)
	ctx := context.Background()

	first := c.FindSimilarWords(ctx, "teste", 5, 0.7)
	second := c.FindSimilarWords(ctx, "teste", 5, 0.7)
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("results = (%d, %d), want (1, 1)", len(first), len(second))
	}
	if got := store.CallCount("SimilarWords"); got != 1 {
		t.Errorf("vector searches = %d, want 1 (second served from cache)", got)
	}
}

func TestFindSimilarWordsFallsBackToPrefixSearch(t *testing.T) {
	t.Parallel()

	store := &storemock.Store{
		SimilarWordsErr: errors.New("vector index unavailable"),
		WordsByPrefixResult: []patternstore.SimilarWord{
			{ID: 1, Word: "outro"},
			{ID: 2, Word: "testando"},
			{ID: 3, Word: "testes"},
		},
	}
	c, _ := newTestClient(store)

	got := c.FindSimilarWords(context.Background(), "teste", 5, 0.7)
	if len(got) == 0 {
		t.Fatal("prefix fallback returned nothing")
	}
	for i, m := range got {
		if m.Word == "outro" {
			t.Error("dissimilar word survived the threshold filter")
		}
		if m.Similarity < 0.7 {
			t.Errorf("result %d similarity = %v, want >= 0.7", i, m.Similarity)
		}
		if i > 0 && m.Similarity > got[i-1].Similarity {
			t.Error("results not ranked by descending similarity")
		}
	}
}

func TestPruneOlderThan(t *testing.T) {
	t.Parallel()

	store := &storemock.Store{PruneResult: 7}
	c, _ := newTestClient(store)

	if got := c.PruneOlderThan(context.Background(), 30); got != 7 {
		t.Errorf("pruned rows = %d, want 7", got)
	}
	if got := store.CallCount("PruneObservationsBefore"); got != 1 {
		t.Errorf("prune calls = %d, want 1", got)
	}
}

func TestStartPruningAndStopAreConcurrencySafe(t *testing.T) {
	t.Parallel()

	store := &storemock.Store{}
	c, _ := newTestClient(store)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.StartPruning(ctx)
		}()
		go func() {
			defer wg.Done()
			c.Stop()
		}()
	}
	wg.Wait()

	// A StartPruning racing past a Stop may leave the timer armed; the final
	// Stop must always clean up, and stopping twice stays a no-op.
	c.Stop()
	c.Stop()
}

func TestInsertTranscriptRequiresText(t *testing.T) {
	t.Parallel()

	store := &storemock.Store{}
	c, _ := newTestClient(store)

	if err := c.InsertTranscript(context.Background(), "  ", "resumo"); err == nil {
		t.Error("expected error for empty transcript text")
	}
	if err := c.InsertTranscript(context.Background(), "texto completo", "resumo"); err != nil {
		t.Errorf("InsertTranscript: %v", err)
	}
}
