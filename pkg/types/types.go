// Package types holds the shared domain types passed between the Echoline
// synchronization engine, the providers, and the pattern store.
package types

import "time"

// WordTimestamp is a single word of a transcript with its predicted playback
// window. Produced by a transcription provider and treated as immutable by
// every consumer; correction passes return rewritten copies.
type WordTimestamp struct {
	// Word is the transcribed word, including any trailing punctuation.
	Word string

	// Start is the predicted time the word begins, relative to audio start.
	Start time.Duration

	// End is the predicted time the word ends.
	End time.Duration

	// Confidence is the provider-reported recognition confidence in [0, 1].
	// Zero when the provider does not report per-word confidence.
	Confidence float64

	// Speaker identifies the speaker when diarization is active. May be empty.
	Speaker string
}

// Duration returns the length of the word's playback window.
func (w WordTimestamp) Duration() time.Duration {
	return w.End - w.Start
}

// InteractionSample is one piece of ground truth about word alignment: the
// time the engine expected a word to play versus the time the user actually
// observed it (via click-to-seek or natural progression).
type InteractionSample struct {
	// Expected is the predicted playback time of the word.
	Expected time.Duration

	// Actual is the playback time the user's action revealed.
	Actual time.Duration

	// ObservedAt records when the interaction happened.
	ObservedAt time.Time
}

// OffsetMs returns the raw synchronization offset of the sample in
// milliseconds (actual minus expected). Positive means playback ran late
// relative to the prediction.
func (s InteractionSample) OffsetMs() float64 {
	return float64(s.Actual-s.Expected) / float64(time.Millisecond)
}

// SyncSnapshot is a read-only view of the estimator's current state, exposed
// to the application shell and to the prediction blender.
type SyncSnapshot struct {
	// AverageDelayMs is the learned systematic delay between predicted and
	// observed word timing.
	AverageDelayMs float64

	// Confidence expresses how trustworthy AverageDelayMs is, in [0, 1].
	Confidence float64

	// Samples is the current interaction buffer occupancy (not a lifetime
	// count; evicted samples no longer contribute).
	Samples int

	// AudioLatencyMs is the current hardware/pipeline latency estimate.
	AudioLatencyMs float64

	// LastUpdated is the time of the last completed analysis pass.
	LastUpdated time.Time
}

// TranscriptionResult is the output of a transcription provider: the full
// text plus the per-word timing records the synchronization engine works on.
type TranscriptionResult struct {
	Text     string
	Words    []WordTimestamp
	Language string
	Duration time.Duration
}
