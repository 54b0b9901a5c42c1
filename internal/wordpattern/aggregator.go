// Package wordpattern maintains in-process per-word synchronization
// statistics across a session: how often each word was observed, its
// recency-weighted compensation, the contexts it appeared in, and how
// accurate past predictions for it were.
//
// The aggregator seeds itself from remote history on startup and runs a
// periodic optimization pass that evicts weak patterns.
package wordpattern

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/arthurnavah/echoline/internal/observe"
	"github.com/arthurnavah/echoline/internal/sched"
	"github.com/arthurnavah/echoline/pkg/patternstore"
)

const (
	// maxContexts caps the rolling context list per pattern (FIFO).
	maxContexts = 5

	// defaultCompensationMs is returned for words without a usable pattern.
	defaultCompensationMs = 100

	// initialAccuracy seeds new patterns. Starting at zero would make every
	// fresh pattern eviction-eligible before its first accuracy update.
	initialAccuracy = 0.5

	// Eviction thresholds for the optimization pass.
	minKeepFrequency = 2
	minKeepAccuracy  = 0.3

	// Rehydration pacing.
	rehydrateBatchSize = 20
	rehydratePause     = 200 * time.Millisecond
)

// Pattern is the aggregate learned for one distinct word.
type Pattern struct {
	Word               string
	CompensationMeanMs float64
	UsageFrequency     int
	CommonContexts     []string
	MeanPlaybackRate   float64
	HistoricalAccuracy float64
}

// Persister receives finished aggregates for asynchronous write-back.
// The ingestion pipeline implements it; a nil Persister disables persistence.
type Persister interface {
	PersistAggregate(word string, compensationMs float64, wordContext string, accuracy float64)
}

// HistorySource pages historical aggregates out of the remote store.
// Implemented by the metric store client.
type HistorySource interface {
	RecentWordMetrics(ctx context.Context, since time.Time, limit, offset int) []patternstore.WordMetrics
}

// Config tunes an [Aggregator]. Zero-value fields fall back to defaults.
type Config struct {
	// RecencyWeight is the EWMA blend factor for updates. Default: 0.7.
	RecencyWeight float64

	// MinSamples is the usage frequency a pattern needs before its
	// compensation is trusted over the default. Default: 5.
	MinSamples int

	// CycleInterval is the optimization pass spacing. Default: 15m.
	CycleInterval time.Duration

	// HistoryDays bounds rehydration. Default: 30.
	HistoryDays int

	// Logger defaults to [slog.Default].
	Logger *slog.Logger

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

func (c Config) withDefaults() Config {
	if c.RecencyWeight <= 0 || c.RecencyWeight > 1 {
		c.RecencyWeight = 0.7
	}
	if c.MinSamples <= 0 {
		c.MinSamples = 5
	}
	if c.CycleInterval <= 0 {
		c.CycleInterval = 15 * time.Minute
	}
	if c.HistoryDays <= 0 {
		c.HistoryDays = 30
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Metrics == nil {
		c.Metrics = observe.DefaultMetrics()
	}
	return c
}

// Aggregator owns the in-memory word pattern map. Safe for concurrent use.
type Aggregator struct {
	cfg       Config
	logger    *slog.Logger
	metrics   *observe.Metrics
	persister Persister
	history   HistorySource

	mu       sync.Mutex
	patterns map[string]*Pattern

	cycle *sched.Task
}

// New builds an aggregator. persister and history may be nil; persistence
// and rehydration are then disabled.
func New(cfg Config, persister Persister, history HistorySource) *Aggregator {
	cfg = cfg.withDefaults()
	return &Aggregator{
		cfg:       cfg,
		logger:    cfg.Logger.With("component", "wordpattern"),
		metrics:   cfg.Metrics,
		persister: persister,
		history:   history,
		patterns:  make(map[string]*Pattern),
	}
}

// AnalyzeRecord folds one observation into the word's pattern and forwards
// the updated aggregate for asynchronous persistence. Blank words are
// ignored.
func (a *Aggregator) AnalyzeRecord(word string, compensationMs float64, wordContext string, playbackRate, accuracy float64) {
	key := strings.ToLower(strings.TrimSpace(word))
	if key == "" {
		return
	}
	if playbackRate <= 0 {
		playbackRate = 1
	}

	a.mu.Lock()
	p, ok := a.patterns[key]
	if !ok {
		p = &Pattern{
			Word:               key,
			CompensationMeanMs: compensationMs,
			MeanPlaybackRate:   playbackRate,
			HistoricalAccuracy: initialAccuracy,
		}
		a.patterns[key] = p
		a.metrics.PatternsTracked.Add(context.Background(), 1)
	} else {
		w := a.cfg.RecencyWeight
		p.CompensationMeanMs = p.CompensationMeanMs*(1-w) + compensationMs*w
		p.MeanPlaybackRate = p.MeanPlaybackRate*(1-w) + playbackRate*w
		if accuracy > 0 {
			p.HistoricalAccuracy = p.HistoricalAccuracy*(1-w) + accuracy*w
		}
	}
	p.UsageFrequency++
	if wordContext != "" {
		p.CommonContexts = append(p.CommonContexts, wordContext)
		if len(p.CommonContexts) > maxContexts {
			p.CommonContexts = p.CommonContexts[len(p.CommonContexts)-maxContexts:]
		}
	}
	snapshot := *p
	a.mu.Unlock()

	if a.persister != nil {
		a.persister.PersistAggregate(snapshot.Word, snapshot.CompensationMeanMs,
			wordContext, snapshot.HistoricalAccuracy)
	}
}

// PredictCompensation estimates the compensation for word in the given
// context at the given playback rate, with a [0,1] confidence. Words without
// a sufficiently observed pattern get the fixed default with zero confidence.
func (a *Aggregator) PredictCompensation(word, wordContext string, playbackRate float64) (ms, confidence float64) {
	key := strings.ToLower(strings.TrimSpace(word))
	if playbackRate <= 0 {
		playbackRate = 1
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	p, ok := a.patterns[key]
	if !ok || p.UsageFrequency < a.cfg.MinSamples {
		return defaultCompensationMs, 0
	}

	ms = p.CompensationMeanMs
	if p.MeanPlaybackRate > 0 {
		ms *= playbackRate / p.MeanPlaybackRate
	}
	if wordContext != "" {
		if contextOverlaps(wordContext, p.CommonContexts) {
			ms *= 1.1
		} else {
			ms *= 0.9
		}
	}

	freqFactor := float64(p.UsageFrequency) / 10
	if freqFactor > 1 {
		freqFactor = 1
	}
	return ms, p.HistoricalAccuracy * freqFactor
}

// contextOverlaps reports whether any stored context shares a word with the
// query context (case-insensitive).
func contextOverlaps(query string, stored []string) bool {
	queryWords := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(query)) {
		queryWords[w] = struct{}{}
	}
	for _, ctx := range stored {
		for _, w := range strings.Fields(strings.ToLower(ctx)) {
			if _, ok := queryWords[w]; ok {
				return true
			}
		}
	}
	return false
}

// Stats summarises the active pattern set.
type Stats struct {
	// PatternCount is the total number of tracked patterns.
	PatternCount int

	// WordsLearned is how many patterns meet the minimum-sample threshold.
	WordsLearned int

	// OverallAccuracy is the mean historical accuracy across all patterns.
	OverallAccuracy float64

	// EstimatedImprovementMs is the mean absolute compensation of learned
	// words: the response-time gain a corrected highlight gets on average.
	EstimatedImprovementMs float64
}

// Stats returns aggregate metrics over the active pattern set.
func (a *Aggregator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Stats{PatternCount: len(a.patterns)}
	if len(a.patterns) == 0 {
		return s
	}

	var accSum, compSum float64
	for _, p := range a.patterns {
		accSum += p.HistoricalAccuracy
		if p.UsageFrequency >= a.cfg.MinSamples {
			s.WordsLearned++
			if p.CompensationMeanMs < 0 {
				compSum -= p.CompensationMeanMs
			} else {
				compSum += p.CompensationMeanMs
			}
		}
	}
	s.OverallAccuracy = accSum / float64(len(a.patterns))
	if s.WordsLearned > 0 {
		s.EstimatedImprovementMs = compSum / float64(s.WordsLearned)
	}
	return s
}

// Optimize evicts weak patterns and logs the resulting aggregate metrics.
// Patterns past the minimum-sample threshold are flagged for long-term
// storage integration.
//
// TODO: push qualifying patterns into learning_data directly instead of only
// logging them; needs a dedup rule against the per-observation write-back.
func (a *Aggregator) Optimize() {
	a.mu.Lock()

	evicted := 0
	qualifying := 0
	for key, p := range a.patterns {
		if p.UsageFrequency < minKeepFrequency || p.HistoricalAccuracy < minKeepAccuracy {
			delete(a.patterns, key)
			evicted++
			continue
		}
		if p.UsageFrequency >= a.cfg.MinSamples {
			qualifying++
		}
	}
	remaining := len(a.patterns)
	a.mu.Unlock()

	if evicted > 0 {
		a.metrics.PatternsTracked.Add(context.Background(), -int64(evicted))
	}

	s := a.Stats()
	a.logger.Info("pattern optimization pass complete",
		"evicted", evicted,
		"remaining", remaining,
		"qualifying", qualifying,
		"overall_accuracy", s.OverallAccuracy,
		"estimated_improvement_ms", s.EstimatedImprovementMs)
}

// StartLearningCycle launches the periodic optimization task. Calling it
// more than once is a no-op.
func (a *Aggregator) StartLearningCycle(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cycle != nil {
		return
	}
	a.cycle = sched.Every(ctx, "learning-cycle", a.cfg.CycleInterval, func(context.Context) {
		a.Optimize()
	})
	a.logger.Info("learning cycle started", "interval", a.cfg.CycleInterval)
}

// Stop halts the learning cycle, waiting for an in-flight pass.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	cycle := a.cycle
	a.cycle = nil
	a.mu.Unlock()

	if cycle != nil {
		cycle.Stop()
	}
}

// Rehydrate seeds the pattern map from remote history in paced batches.
// Each batch failure ends pagination; whatever loaded so far is kept.
func (a *Aggregator) Rehydrate(ctx context.Context) {
	if a.history == nil {
		return
	}
	since := time.Now().AddDate(0, 0, -a.cfg.HistoryDays)

	loaded := 0
	for offset := 0; ; offset += rehydrateBatchSize {
		page := a.history.RecentWordMetrics(ctx, since, rehydrateBatchSize, offset)
		if len(page) == 0 {
			break
		}

		a.mu.Lock()
		for _, m := range page {
			key := strings.ToLower(m.Word)
			if _, exists := a.patterns[key]; exists {
				continue
			}
			accuracy := m.UserAccuracy
			if accuracy <= 0 {
				accuracy = initialAccuracy
			}
			a.patterns[key] = &Pattern{
				Word:               key,
				CompensationMeanMs: m.MeanCompensationMs(),
				UsageFrequency:     a.cfg.MinSamples,
				MeanPlaybackRate:   1,
				HistoricalAccuracy: accuracy,
			}
			if m.Context != "" {
				a.patterns[key].CommonContexts = []string{m.Context}
			}
			loaded++
		}
		a.mu.Unlock()

		if len(page) < rehydrateBatchSize {
			break
		}
		select {
		case <-ctx.Done():
			a.logger.Debug("rehydration cancelled", "loaded", loaded)
			return
		case <-time.After(rehydratePause):
		}
	}

	if loaded > 0 {
		a.metrics.PatternsTracked.Add(ctx, int64(loaded))
	}
	a.logger.Info("historical patterns rehydrated", "loaded", loaded, "since", since)
}
