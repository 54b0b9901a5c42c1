// Package estimator implements the online-learning core of the
// synchronization engine: it consumes user interaction samples, maintains a
// decaying statistical model of the offset between predicted and observed
// word timing, and produces per-call timestamp corrections.
//
// One [Estimator] instance is created at startup and injected into every
// consumer. There is no package-level shared state.
package estimator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/arthurnavah/echoline/internal/observe"
	"github.com/arthurnavah/echoline/internal/sched"
	"github.com/arthurnavah/echoline/pkg/types"
)

// minAnalysisSamples is the buffer occupancy required before a registration
// triggers a full analysis pass.
const minAnalysisSamples = 3

// decayWindow controls the exponential temporal decay of sample weights.
const decayWindow = 30 * time.Second

// calibrationInterval is the minimum spacing between self-calibration passes.
const calibrationInterval = 30 * time.Second

// Predictor supplies a remote-backed per-word compensation estimate. The
// prediction blender implements it; the estimator treats any error as "no
// prediction available" and falls back to local heuristics.
type Predictor interface {
	Predict(ctx context.Context, word string, playhead time.Duration) (compensationMs, confidence float64, err error)
}

// Config tunes a new [Estimator]. Zero-value fields fall back to defaults.
//
// LearningRate and ConfidenceThreshold are starting points: both are
// adaptively retuned at runtime by the real-time monitor, bounded to
// [0.05, 0.3] and [0.3, 0.7] respectively.
type Config struct {
	// BufferSize is the interaction ring buffer capacity. Default: 50.
	BufferSize int

	// LearningRate is the initial base learning rate. Default: 0.1.
	LearningRate float64

	// ConfidenceThreshold gates the advanced correction path. Default: 0.7.
	ConfidenceThreshold float64

	// InitialAudioLatencyMs seeds the hardware latency estimate. Default: 100.
	InitialAudioLatencyMs float64

	// MonitorInterval is the real-time monitor tick. Default: 2s.
	MonitorInterval time.Duration

	// Logger defaults to [slog.Default].
	Logger *slog.Logger

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = 50
	}
	if c.LearningRate <= 0 {
		c.LearningRate = 0.1
	}
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = 0.7
	}
	if c.InitialAudioLatencyMs == 0 {
		c.InitialAudioLatencyMs = 100
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = 2 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Metrics == nil {
		c.Metrics = observe.DefaultMetrics()
	}
	return c
}

// Estimator is the synchronization learning engine. Safe for concurrent use:
// every analysis pass runs to completion under the mutex before the next
// registration is processed, and compensation queries read a consistent
// snapshot.
type Estimator struct {
	cfg     Config
	logger  *slog.Logger
	metrics *observe.Metrics

	mu sync.Mutex

	// Adaptively tuned copies of the configured starting values.
	learningRate        float64
	confidenceThreshold float64

	samples []types.InteractionSample

	avgDelayMs  float64
	confidence  float64
	lastUpdated time.Time

	audioLatencyMs float64

	last            analysis
	lastCalibration time.Time

	predictor Predictor
	monitor   *sched.Task

	// now is swapped in tests to steer temporal decay and the monitor window.
	now func() time.Time
}

// New constructs an estimator with the given config.
func New(cfg Config) *Estimator {
	cfg = cfg.withDefaults()
	return &Estimator{
		cfg:                 cfg,
		logger:              cfg.Logger.With("component", "estimator"),
		metrics:             cfg.Metrics,
		learningRate:        cfg.LearningRate,
		confidenceThreshold: cfg.ConfidenceThreshold,
		samples:             make([]types.InteractionSample, 0, cfg.BufferSize),
		audioLatencyMs:      cfg.InitialAudioLatencyMs,
		lastCalibration:     time.Now(),
		now:                 time.Now,
	}
}

// SetPredictor injects the blender-backed per-word prediction source. May be
// called after construction to break the estimator/blender setup cycle; a nil
// predictor disables remote-backed compensation.
func (e *Estimator) SetPredictor(p Predictor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.predictor = p
}

// RegisterInteraction records one piece of ground truth about word alignment
// and re-runs the full analysis pass. It never fails: local learning has no
// error conditions.
func (e *Estimator) RegisterInteraction(expected, actual time.Duration) {
	e.register(types.InteractionSample{
		Expected:   expected,
		Actual:     actual,
		ObservedAt: e.now(),
	})
}

func (e *Estimator) register(s types.InteractionSample) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.samples) >= e.cfg.BufferSize {
		copy(e.samples, e.samples[1:])
		e.samples = e.samples[:len(e.samples)-1]
	}
	e.samples = append(e.samples, s)
	e.metrics.InteractionsRegistered.Add(context.Background(), 1)

	e.analyzeLocked(s.ObservedAt)
}

// analyzeLocked runs one full model update. Caller holds e.mu.
func (e *Estimator) analyzeLocked(now time.Time) {
	if len(e.samples) < minAnalysisSamples {
		return
	}

	a := analyzeOffsets(e.samples, now, decayWindow)

	adaptiveRate := e.learningRate * (0.5 + 0.5*a.confidence)
	e.avgDelayMs = lerp(e.avgDelayMs, a.weightedMeanMs, adaptiveRate)
	e.confidence = clamp01(lerp(e.confidence, a.confidence, e.learningRate))
	e.lastUpdated = now
	e.last = a

	e.adjustLatencyLocked(a)
	e.calibrateLocked(a, now)

	ctx := context.Background()
	e.metrics.SyncConfidence.Record(ctx, e.confidence)
	e.metrics.AudioLatency.Record(ctx, e.audioLatencyMs)

	e.logger.Debug("analysis pass complete",
		"samples", len(e.samples),
		"avg_delay_ms", e.avgDelayMs,
		"confidence", e.confidence,
		"variance", a.varianceMs2,
		"trend", a.trendMsPerSample,
		"periodicity", a.periodicity,
		"audio_latency_ms", e.audioLatencyMs)
}

// adjustLatencyLocked nudges the audio latency estimate from the last 10
// samples. Caller holds e.mu.
func (e *Estimator) adjustLatencyLocked(a analysis) {
	recent := e.samples
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}

	var sum float64
	for _, s := range recent {
		sum += s.OffsetMs()
	}
	meanOffset := sum / float64(len(recent))

	factor := e.confidence * a.stability
	if factor > 0.3 {
		factor = 0.3
	}

	if meanOffset > 30 || meanOffset < -30 {
		e.audioLatencyMs += meanOffset * factor
	}
	if a.trendMsPerSample > 5 || a.trendMsPerSample < -5 {
		e.audioLatencyMs += a.trendMsPerSample * 10 * factor
	}
	e.audioLatencyMs = clamp(e.audioLatencyMs, -500, 1000)
}

// calibrateLocked blends the outlier-filtered mean offset into the latency
// estimate every 30s, provided enough samples are buffered. Caller holds e.mu.
func (e *Estimator) calibrateLocked(a analysis, now time.Time) {
	if now.Sub(e.lastCalibration) < calibrationInterval || len(e.samples) < 5 {
		return
	}
	e.lastCalibration = now

	offsets := make([]float64, len(e.samples))
	for i, s := range e.samples {
		offsets[i] = s.OffsetMs()
	}
	lo, hi := iqrBounds(offsets)
	filtered := offsets[:0:0]
	for _, v := range offsets {
		if v >= lo && v <= hi {
			filtered = append(filtered, v)
		}
	}
	if len(filtered) == 0 {
		return
	}

	factor := e.confidence
	if factor > 0.5 {
		factor = 0.5
	}
	e.audioLatencyMs = clamp(lerp(e.audioLatencyMs, mean(filtered), factor), -500, 1000)

	e.logger.Debug("self-calibration applied",
		"filtered_samples", len(filtered),
		"factor", factor,
		"audio_latency_ms", e.audioLatencyMs)
}

// Metrics returns a read-only snapshot of the current model state.
func (e *Estimator) Metrics() types.SyncSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return types.SyncSnapshot{
		AverageDelayMs: e.avgDelayMs,
		Confidence:     e.confidence,
		Samples:        len(e.samples),
		AudioLatencyMs: e.audioLatencyMs,
		LastUpdated:    e.lastUpdated,
	}
}

// Analysis is a read-only view of the latest analysis pass plus the current
// adaptive tuning values, exposed for diagnostics.
type Analysis struct {
	TrendMsPerSample    float64
	Periodicity         float64
	VarianceMs2         float64
	Stability           float64
	Consistency         float64
	LearningRate        float64
	ConfidenceThreshold float64
}

// LastAnalysis returns the most recent analysis pass results.
func (e *Estimator) LastAnalysis() Analysis {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Analysis{
		TrendMsPerSample:    e.last.trendMsPerSample,
		Periodicity:         e.last.periodicity,
		VarianceMs2:         e.last.varianceMs2,
		Stability:           e.last.stability,
		Consistency:         e.last.consistency,
		LearningRate:        e.learningRate,
		ConfidenceThreshold: e.confidenceThreshold,
	}
}

// ResetPatterns discards all learned state and restores the configured
// starting values.
func (e *Estimator) ResetPatterns() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.samples = e.samples[:0]
	e.avgDelayMs = 0
	e.confidence = 0
	e.audioLatencyMs = e.cfg.InitialAudioLatencyMs
	e.learningRate = e.cfg.LearningRate
	e.confidenceThreshold = e.cfg.ConfidenceThreshold
	e.lastUpdated = time.Time{}
	e.last = analysis{}

	e.logger.Info("learned patterns reset")
}

// ComputeCompensation returns the compensation in milliseconds to apply to
// the word about to be highlighted at playhead. When a predictor is wired and
// a word is given, its remote-backed estimate takes precedence by confidence:
// above 0.5 it is used exclusively, between 0.2 and 0.5 it is blended with
// the traditional heuristic, below 0.2 it is ignored.
//
// Remote failures fall back silently to the traditional computation; this
// path never returns an error.
func (e *Estimator) ComputeCompensation(ctx context.Context, playhead time.Duration, word string) float64 {
	e.mu.Lock()
	predictor := e.predictor
	e.mu.Unlock()

	traditional := e.traditionalCompensation(word)
	if word == "" || predictor == nil {
		return traditional
	}

	predicted, conf, err := predictor.Predict(ctx, word, playhead)
	if err != nil {
		e.logger.Debug("prediction unavailable, using traditional compensation",
			"word", word, "error", err)
		return traditional
	}

	switch {
	case conf > 0.5:
		return predicted
	case conf >= 0.2:
		return predicted*conf + traditional*(1-conf)
	default:
		return traditional
	}
}

// traditionalCompensation is the local heuristic: the learned average delay
// (only once trusted) plus a punctuation pause offset. Punctuation handling
// lives only here, not in the correction paths; the asymmetry matches
// long-standing playback behavior and is pinned by tests.
func (e *Estimator) traditionalCompensation(word string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	var comp float64
	if e.confidence > 0.5 {
		comp = e.avgDelayMs
	}
	return comp + punctuationOffsetMs(word)
}

// punctuationOffsetMs returns the extra pause a trailing punctuation mark
// implies for the word before it.
func punctuationOffsetMs(word string) float64 {
	trimmed := strings.TrimSpace(word)
	if trimmed == "" {
		return 0
	}
	switch rune(trimmed[len(trimmed)-1]) {
	case '.', '!', '?':
		return 200
	case ',', ';':
		return 150
	case '"', '\'':
		return 100
	case '-':
		return 100
	}
	// Multi-byte closing quotes and dashes.
	switch {
	case strings.HasSuffix(trimmed, "”"), strings.HasSuffix(trimmed, "’"):
		return 100
	case strings.HasSuffix(trimmed, "—"), strings.HasSuffix(trimmed, "–"):
		return 100
	}
	return 0
}
