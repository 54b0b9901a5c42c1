package estimator

import (
	"context"
	"time"

	"github.com/arthurnavah/echoline/internal/sched"
	"github.com/arthurnavah/echoline/pkg/types"
)

// Real-time monitor tuning bounds.
const (
	monitorWindow = 10 * time.Second

	minLearningRate = 0.05
	maxLearningRate = 0.3

	minConfidenceThreshold = 0.3
	maxConfidenceThreshold = 0.7

	// resetLearningRate is applied after an anomaly-triggered partial reset.
	resetLearningRate = 0.15

	// emergencyJumpMs is the consecutive-offset jump that triggers an
	// emergency latency correction.
	emergencyJumpMs = 300
)

// StartMonitoring launches the 2-second real-time monitor. Calling it more
// than once is a no-op; the monitor stops when ctx is cancelled or
// [Estimator.Stop] is called.
func (e *Estimator) StartMonitoring(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.monitor != nil {
		return
	}
	e.monitor = sched.Every(ctx, "sync-monitor", e.cfg.MonitorInterval, e.monitorPass)
	e.logger.Info("real-time monitor started", "interval", e.cfg.MonitorInterval)
}

// Stop halts the monitor and waits for an in-flight pass to finish. The
// estimator remains usable afterwards; only periodic work stops.
func (e *Estimator) Stop() {
	e.mu.Lock()
	monitor := e.monitor
	e.monitor = nil
	e.mu.Unlock()

	if monitor != nil {
		monitor.Stop()
	}
}

// monitorPass is one guarded monitor tick: retune the learning rate and
// confidence threshold from recent variance, then check for outlier bursts
// and latency jumps.
func (e *Estimator) monitorPass(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	recent := recentSamples(e.samples, now, monitorWindow)
	if len(recent) < 2 {
		return
	}

	recentOffsets := make([]float64, len(recent))
	for i, s := range recent {
		recentOffsets[i] = s.OffsetMs()
	}

	e.retuneLocked(recentOffsets)
	e.detectAnomalyLocked(ctx, recentOffsets)
	e.emergencyCorrectLocked(recentOffsets)
}

// retuneLocked adjusts the adaptive tuning fields from recent variance: high
// variance slows learning and demands more confidence, low variance does the
// opposite. Caller holds e.mu.
func (e *Estimator) retuneLocked(recentOffsets []float64) {
	variance := sampleVariance(recentOffsets)
	switch {
	case variance > 200:
		e.learningRate *= 0.9
		e.confidenceThreshold *= 1.05
	case variance < 50:
		e.learningRate *= 1.1
		e.confidenceThreshold *= 0.95
	}
	e.learningRate = clamp(e.learningRate, minLearningRate, maxLearningRate)
	e.confidenceThreshold = clamp(e.confidenceThreshold, minConfidenceThreshold, maxConfidenceThreshold)
}

// detectAnomalyLocked partially resets the model when more than half of the
// recent offsets fall outside the buffer's IQR fences: non-outlier samples
// are kept (trimmed to the last 5), confidence is dampened, and the learning
// rate is restored to a responsive value. Caller holds e.mu.
func (e *Estimator) detectAnomalyLocked(ctx context.Context, recentOffsets []float64) {
	all := make([]float64, len(e.samples))
	for i, s := range e.samples {
		all[i] = s.OffsetMs()
	}
	lo, hi := iqrBounds(all)

	outliers := 0
	for _, v := range recentOffsets {
		if v < lo || v > hi {
			outliers++
		}
	}
	if outliers*2 <= len(recentOffsets) {
		return
	}

	kept := e.samples[:0]
	for _, s := range e.samples {
		if v := s.OffsetMs(); v >= lo && v <= hi {
			kept = append(kept, s)
		}
	}
	if len(kept) > 5 {
		n := copy(kept, kept[len(kept)-5:])
		kept = kept[:n]
	}
	e.samples = kept
	e.confidence *= 0.7
	e.learningRate = resetLearningRate

	e.metrics.AnomalyResets.Add(ctx, 1)
	e.logger.Warn("outlier burst detected, partial reset applied",
		"recent_outliers", outliers,
		"kept_samples", len(e.samples),
		"confidence", e.confidence)
}

// emergencyCorrectLocked reacts to a sudden latency jump between consecutive
// recent offsets by pulling the latency estimate a third of the way toward
// it. Caller holds e.mu.
func (e *Estimator) emergencyCorrectLocked(recentOffsets []float64) {
	var jump float64
	for i := 1; i < len(recentOffsets); i++ {
		d := recentOffsets[i] - recentOffsets[i-1]
		if abs(d) > abs(jump) {
			jump = d
		}
	}
	if abs(jump) <= emergencyJumpMs {
		return
	}

	e.audioLatencyMs = clamp(e.audioLatencyMs+jump*0.3, -300, 800)
	e.logger.Warn("latency jump detected, emergency correction applied",
		"jump_ms", jump,
		"audio_latency_ms", e.audioLatencyMs)
}

// recentSamples returns the suffix of samples observed within window of now.
func recentSamples(samples []types.InteractionSample, now time.Time, window time.Duration) []types.InteractionSample {
	cutoff := now.Add(-window)
	for i, s := range samples {
		if !s.ObservedAt.Before(cutoff) {
			return samples[i:]
		}
	}
	return nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
