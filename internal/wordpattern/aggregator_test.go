package wordpattern

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/arthurnavah/echoline/pkg/patternstore"
)

type recordingPersister struct {
	mu    sync.Mutex
	words []string
}

func (r *recordingPersister) PersistAggregate(word string, _ float64, _ string, _ float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.words = append(r.words, word)
}

func (r *recordingPersister) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.words)
}

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestAnalyzeRecordBlendsWithRecencyWeight(t *testing.T) {
	t.Parallel()

	a := New(Config{}, nil, nil)
	a.AnalyzeRecord("Olá", 100, "", 1, 0)
	a.AnalyzeRecord("olá ", 200, "", 1, 0)

	p := a.patterns["olá"]
	if p == nil {
		t.Fatal("pattern not created")
	}
	// 100·0.3 + 200·0.7 = 170.
	if !almostEqual(p.CompensationMeanMs, 170, 1e-9) {
		t.Errorf("CompensationMeanMs = %v, want 170", p.CompensationMeanMs)
	}
	if p.UsageFrequency != 2 {
		t.Errorf("UsageFrequency = %d, want 2", p.UsageFrequency)
	}
	if p.HistoricalAccuracy != initialAccuracy {
		t.Errorf("HistoricalAccuracy = %v, want untouched seed %v when no accuracy reported",
			p.HistoricalAccuracy, initialAccuracy)
	}
}

func TestAnalyzeRecordUpdatesAccuracy(t *testing.T) {
	t.Parallel()

	a := New(Config{}, nil, nil)
	a.AnalyzeRecord("olá", 100, "", 1, 0)
	a.AnalyzeRecord("olá", 100, "", 1, 0.9)

	p := a.patterns["olá"]
	want := initialAccuracy*0.3 + 0.9*0.7
	if !almostEqual(p.HistoricalAccuracy, want, 1e-9) {
		t.Errorf("HistoricalAccuracy = %v, want %v", p.HistoricalAccuracy, want)
	}
}

func TestAnalyzeRecordCapsContexts(t *testing.T) {
	t.Parallel()

	a := New(Config{}, nil, nil)
	contexts := []string{"um", "dois", "três", "quatro", "cinco", "seis", "sete"}
	for _, c := range contexts {
		a.AnalyzeRecord("palavra", 100, c, 1, 0)
	}

	p := a.patterns["palavra"]
	if len(p.CommonContexts) != maxContexts {
		t.Fatalf("contexts = %d, want capped at %d", len(p.CommonContexts), maxContexts)
	}
	// Oldest entries were dropped first.
	if p.CommonContexts[0] != "três" || p.CommonContexts[4] != "sete" {
		t.Errorf("contexts = %v, want FIFO window [três..sete]", p.CommonContexts)
	}
}

func TestAnalyzeRecordForwardsToPersister(t *testing.T) {
	t.Parallel()

	persister := &recordingPersister{}
	a := New(Config{}, persister, nil)

	a.AnalyzeRecord("olá", 100, "ctx", 1, 0)
	a.AnalyzeRecord("", 100, "ctx", 1, 0)

	if got := persister.count(); got != 1 {
		t.Errorf("persisted aggregates = %d, want 1 (blank word ignored)", got)
	}
}

func TestPredictCompensation(t *testing.T) {
	t.Parallel()

	t.Run("unknown word gets the default with zero confidence", func(t *testing.T) {
		t.Parallel()
		a := New(Config{}, nil, nil)
		ms, conf := a.PredictCompensation("desconhecida", "", 1)
		if ms != defaultCompensationMs || conf != 0 {
			t.Errorf("prediction = (%v, %v), want (%v, 0)", ms, conf, defaultCompensationMs)
		}
	})

	t.Run("under-observed word gets the default", func(t *testing.T) {
		t.Parallel()
		a := New(Config{MinSamples: 5}, nil, nil)
		for i := 0; i < 4; i++ {
			a.AnalyzeRecord("rara", 250, "", 1, 0)
		}
		ms, conf := a.PredictCompensation("rara", "", 1)
		if ms != defaultCompensationMs || conf != 0 {
			t.Errorf("prediction = (%v, %v), want default below min samples", ms, conf)
		}
	})

	t.Run("playback rate scales the estimate", func(t *testing.T) {
		t.Parallel()
		a := New(Config{MinSamples: 2}, nil, nil)
		a.AnalyzeRecord("comum", 200, "", 1, 0)
		a.AnalyzeRecord("comum", 200, "", 1, 0)

		full, _ := a.PredictCompensation("comum", "", 1)
		double, _ := a.PredictCompensation("comum", "", 2)
		if !almostEqual(double, full*2, 1e-9) {
			t.Errorf("prediction at 2x = %v, want %v", double, full*2)
		}
	})

	t.Run("context overlap adjusts by ten percent", func(t *testing.T) {
		t.Parallel()
		a := New(Config{MinSamples: 2}, nil, nil)
		a.AnalyzeRecord("casa", 100, "minha casa amarela", 1, 0)
		a.AnalyzeRecord("casa", 100, "minha casa amarela", 1, 0)

		matched, _ := a.PredictCompensation("casa", "casa amarela grande", 1)
		unmatched, _ := a.PredictCompensation("casa", "nada parecido aqui", 1)
		if !almostEqual(matched, 110, 1e-9) {
			t.Errorf("matched-context prediction = %v, want 110", matched)
		}
		if !almostEqual(unmatched, 90, 1e-9) {
			t.Errorf("unmatched-context prediction = %v, want 90", unmatched)
		}
	})
}

func TestOptimizeEvictsWeakPatterns(t *testing.T) {
	t.Parallel()

	a := New(Config{}, nil, nil)

	// Seen once only: evicted by the frequency rule.
	a.AnalyzeRecord("fraca", 100, "", 1, 0)

	// Frequent but with collapsed accuracy: evicted by the accuracy rule.
	for i := 0; i < 6; i++ {
		a.AnalyzeRecord("errada", 100, "", 1, 0.01)
	}

	// Frequent with healthy accuracy: kept.
	for i := 0; i < 6; i++ {
		a.AnalyzeRecord("boa", 100, "", 1, 0.9)
	}

	a.Optimize()

	if _, ok := a.patterns["fraca"]; ok {
		t.Error("single-use pattern survived optimization")
	}
	if _, ok := a.patterns["errada"]; ok {
		t.Error("low-accuracy pattern survived optimization")
	}
	if _, ok := a.patterns["boa"]; !ok {
		t.Error("healthy pattern was evicted")
	}
}

func TestFreshPatternsSurviveUntilSecondObservation(t *testing.T) {
	t.Parallel()

	// A pattern observed twice without any accuracy report keeps its seed
	// accuracy and must not be evicted.
	a := New(Config{}, nil, nil)
	a.AnalyzeRecord("nova", 100, "", 1, 0)
	a.AnalyzeRecord("nova", 100, "", 1, 0)

	a.Optimize()

	if _, ok := a.patterns["nova"]; !ok {
		t.Error("twice-observed pattern with seed accuracy was evicted")
	}
}

func TestStats(t *testing.T) {
	t.Parallel()

	a := New(Config{MinSamples: 2}, nil, nil)
	a.AnalyzeRecord("uma", 100, "", 1, 0)
	a.AnalyzeRecord("duas", 80, "", 1, 0)
	a.AnalyzeRecord("duas", 80, "", 1, 0)

	s := a.Stats()
	if s.PatternCount != 2 {
		t.Errorf("PatternCount = %d, want 2", s.PatternCount)
	}
	if s.WordsLearned != 1 {
		t.Errorf("WordsLearned = %d, want 1", s.WordsLearned)
	}
	if !almostEqual(s.EstimatedImprovementMs, 80, 1e-9) {
		t.Errorf("EstimatedImprovementMs = %v, want 80", s.EstimatedImprovementMs)
	}
}

type pagedHistory struct {
	mu    sync.Mutex
	rows  []patternstore.WordMetrics
	calls int
}

func (h *pagedHistory) RecentWordMetrics(_ context.Context, _ time.Time, limit, offset int) []patternstore.WordMetrics {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if offset >= len(h.rows) {
		return nil
	}
	end := offset + limit
	if end > len(h.rows) {
		end = len(h.rows)
	}
	return h.rows[offset:end]
}

func TestRehydrateLoadsHistoryInBatches(t *testing.T) {
	t.Parallel()

	rows := make([]patternstore.WordMetrics, 45)
	for i := range rows {
		rows[i] = patternstore.WordMetrics{
			Word:           "palavra" + string(rune('a'+i%26)) + string(rune('a'+i/26)),
			ExpectedTimeMs: 150,
			ActualTimeMs:   30,
			UserAccuracy:   0.8,
		}
	}
	history := &pagedHistory{rows: rows}
	a := New(Config{MinSamples: 3}, nil, history)

	a.Rehydrate(context.Background())

	if got := len(a.patterns); got != 45 {
		t.Fatalf("rehydrated patterns = %d, want 45", got)
	}
	if history.calls != 3 {
		t.Errorf("history pages fetched = %d, want 3 (batch size %d)", history.calls, rehydrateBatchSize)
	}

	// Rehydrated words are immediately trusted for prediction.
	ms, conf := a.PredictCompensation(rows[0].Word, "", 1)
	if !almostEqual(ms, 120, 1e-9) {
		t.Errorf("rehydrated prediction = %v, want derived compensation 120", ms)
	}
	if conf <= 0 {
		t.Errorf("rehydrated confidence = %v, want > 0", conf)
	}
}

func TestRehydrateWithoutHistorySource(t *testing.T) {
	t.Parallel()

	a := New(Config{}, nil, nil)
	a.Rehydrate(context.Background()) // must not panic
	if len(a.patterns) != 0 {
		t.Errorf("patterns = %d, want 0", len(a.patterns))
	}
}
