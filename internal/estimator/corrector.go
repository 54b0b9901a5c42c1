package estimator

import (
	"context"
	"math"
	"time"

	"github.com/arthurnavah/echoline/pkg/types"
)

// Scale constants for the advanced correction terms.
const (
	// positionDecay is how much correction strength fades toward the end of
	// the transcript (up to 30%).
	positionDecay = 0.3

	// durationWindow is the half-width of the neighbor window used for the
	// duration-based predictive term.
	durationWindow = 3

	// durationScaleMs converts relative duration deviation into milliseconds
	// of extra correction.
	durationScaleMs = 30

	// trendScale projects the per-sample trend slope onto a word position.
	trendScale = 10

	// minNeighborGap is the gap below which adjacent corrected words are
	// smoothed against each other.
	minNeighborGap = 50 * time.Millisecond
)

// CorrectTimestamps returns a corrected copy of the transcript for display.
// The input is never mutated. Words that finished playing before playhead are
// passed through unchanged; re-aligning them would make already-read
// highlights jump.
//
// Below the confidence threshold every word is shifted by the current audio
// latency estimate (basic path). At or above it, a per-word advanced
// correction combines position-decayed base compensation, a duration-window
// predictive term, and a trend term, then smooths gaps between neighbors.
func (e *Estimator) CorrectTimestamps(words []types.WordTimestamp, playhead time.Duration) []types.WordTimestamp {
	if len(words) == 0 {
		return nil
	}

	e.mu.Lock()
	confidence := e.confidence
	threshold := e.confidenceThreshold
	latencyMs := e.audioLatencyMs
	avgDelayMs := e.avgDelayMs
	trend := e.last.trendMsPerSample
	e.mu.Unlock()

	out := make([]types.WordTimestamp, len(words))
	copy(out, words)

	if confidence < threshold {
		e.correctBasic(out, playhead, latencyMs)
		return out
	}
	e.correctAdvanced(out, playhead, latencyMs, avgDelayMs, trend)
	return out
}

// correctBasic shifts every word by the negated audio latency, flooring
// starts at zero and at the previous word's corrected start.
func (e *Estimator) correctBasic(words []types.WordTimestamp, playhead time.Duration, latencyMs float64) {
	shift := durationMs(latencyMs)
	ctx := context.Background()

	for i := range words {
		if words[i].End < playhead {
			continue
		}

		start := words[i].Start - shift
		if start < 0 {
			start = 0
		}
		if i > 0 && start < words[i-1].Start {
			start = words[i-1].Start
		}
		end := words[i].End - shift
		if end < start {
			end = start
		}

		e.metrics.RecordCorrection(ctx, "basic",
			float64(words[i].Start-start)/float64(time.Millisecond))
		words[i].Start = start
		words[i].End = end
	}
}

// correctAdvanced applies the full per-word correction model.
func (e *Estimator) correctAdvanced(words []types.WordTimestamp, playhead time.Duration, latencyMs, avgDelayMs, trend float64) {
	ctx := context.Background()
	n := len(words)

	for i := range words {
		if words[i].End < playhead {
			continue
		}

		relPos := 0.0
		if n > 1 {
			relPos = float64(i) / float64(n-1)
		}

		// (a) base compensation decaying by position.
		base := (latencyMs + avgDelayMs) * (1 - positionDecay*relPos)

		// (b) duration deviation against the neighbor window.
		predictive := durationDeviation(words, i) * durationScaleMs

		// (c) global trend projected onto the word's position.
		trendTerm := trend * trendScale * relPos

		totalMs := base + predictive + trendTerm
		shift := durationMs(totalMs)

		start := words[i].Start - shift
		end := words[i].End - shift
		if start < 0 {
			start = 0
		}
		if end < start {
			end = start
		}

		// (d) smooth against the previous word's corrected window.
		if i > 0 {
			gap := start - words[i-1].End
			if gap < 0 {
				start = words[i-1].End
			} else if gap < minNeighborGap {
				start = words[i-1].End + gap/2
			}
			if end < start {
				end = start
			}
		}

		e.metrics.RecordCorrection(ctx, "advanced",
			float64(words[i].Start-start)/float64(time.Millisecond))
		words[i].Start = start
		words[i].End = end
	}
}

// durationDeviation returns the word's duration deviation relative to the
// mean duration of its ±durationWindow neighbors, in [-1, +inf).
func durationDeviation(words []types.WordTimestamp, i int) float64 {
	lo := i - durationWindow
	if lo < 0 {
		lo = 0
	}
	hi := i + durationWindow
	if hi > len(words)-1 {
		hi = len(words) - 1
	}

	var sum time.Duration
	for j := lo; j <= hi; j++ {
		sum += words[j].Duration()
	}
	meanDur := float64(sum) / float64(hi-lo+1)
	if meanDur <= 0 {
		return 0
	}
	return (float64(words[i].Duration()) - meanDur) / meanDur
}

// durationMs converts a millisecond float into a time.Duration.
func durationMs(ms float64) time.Duration {
	return time.Duration(math.Round(ms * float64(time.Millisecond)))
}
