// Package blend combines the per-word compensation sources into one
// prediction: session word patterns first, then the remote per-word
// aggregate, then similar-word fallback, and finally the estimator's global
// synchronization pattern.
//
// The blender implements the estimator's Predictor interface; the estimator
// decides how much weight the returned confidence earns against its own
// local heuristics.
package blend

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/arthurnavah/echoline/internal/metricstore"
	"github.com/arthurnavah/echoline/internal/wordpattern"
	"github.com/arthurnavah/echoline/pkg/types"
)

// ErrNoPrediction is returned when no source can produce a usable estimate.
// Callers fall back to their own heuristics.
var ErrNoPrediction = errors.New("blend: no prediction source available")

const (
	// similarLimit and similarThreshold bound the similar-word fallback.
	similarLimit     = 3
	similarThreshold = 0.75

	// similarDamping discounts confidence borrowed from a similar word.
	similarDamping = 0.8

	// globalDamping discounts the global pattern when used per-word.
	globalDamping = 0.5

	// minGlobalSamples is the buffer occupancy the global pattern needs
	// before it is worth returning for an individual word.
	minGlobalSamples = 3
)

// SnapshotSource exposes the global synchronization pattern. Implemented by
// the estimator.
type SnapshotSource interface {
	Metrics() types.SyncSnapshot
}

// Blender resolves per-word predictions across all sources. Safe for
// concurrent use.
type Blender struct {
	aggregator *wordpattern.Aggregator
	store      *metricstore.Client
	global     SnapshotSource
	logger     *slog.Logger
}

// New builds a blender. store and global may be nil; the corresponding
// sources are then skipped.
func New(aggregator *wordpattern.Aggregator, store *metricstore.Client, global SnapshotSource, logger *slog.Logger) *Blender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Blender{
		aggregator: aggregator,
		store:      store,
		global:     global,
		logger:     logger.With("component", "blend"),
	}
}

// Predict returns the best available compensation estimate for word with a
// [0,1] confidence. Sources are consulted in precedence order and the first
// confident one wins; [ErrNoPrediction] signals that every source came up
// empty.
func (b *Blender) Predict(ctx context.Context, word string, playhead time.Duration) (float64, float64, error) {
	if b.aggregator != nil {
		if ms, conf := b.aggregator.PredictCompensation(word, "", 1); conf > 0 {
			return ms, conf, nil
		}
	}

	if b.store != nil {
		if ms, conf, ok := b.fromStore(ctx, word); ok {
			return ms, conf, nil
		}
	}

	if b.global != nil {
		snap := b.global.Metrics()
		if snap.Samples >= minGlobalSamples && snap.Confidence > 0 {
			return snap.AverageDelayMs, snap.Confidence * globalDamping, nil
		}
	}

	return 0, 0, ErrNoPrediction
}

// fromStore consults the word's own remote aggregate, then borrows from the
// most similar stored word.
func (b *Blender) fromStore(ctx context.Context, word string) (float64, float64, bool) {
	if m := b.store.GetWordMetrics(ctx, word); m != nil {
		return m.MeanCompensationMs(), clamp01(m.UserAccuracy), true
	}

	matches := b.store.FindSimilarWords(ctx, word, similarLimit, similarThreshold)
	for _, match := range matches {
		m := b.store.GetWordMetrics(ctx, match.Word)
		if m == nil {
			continue
		}
		conf := clamp01(m.UserAccuracy) * match.Similarity * similarDamping
		if conf <= 0 {
			continue
		}
		b.logger.Debug("borrowed compensation from similar word",
			"word", word,
			"similar", match.Word,
			"similarity", match.Similarity)
		return m.MeanCompensationMs(), conf, true
	}
	return 0, 0, false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
