package estimator

import (
	"context"
	"testing"
	"time"

	"github.com/arthurnavah/echoline/pkg/types"
)

// sampleAt builds an interaction sample with the given offset and timestamp.
func sampleAt(offsetMs float64, at time.Time) types.InteractionSample {
	return types.InteractionSample{
		Expected:   time.Second,
		Actual:     time.Second + time.Duration(offsetMs)*time.Millisecond,
		ObservedAt: at,
	}
}

func TestMonitorRetunesLearningRate(t *testing.T) {
	t.Parallel()

	t.Run("high variance slows learning", func(t *testing.T) {
		t.Parallel()
		e := newTestEstimator(t, Config{})
		now := e.now()
		e.samples = []types.InteractionSample{
			sampleAt(0, now), sampleAt(100, now), sampleAt(0, now), sampleAt(100, now),
		}

		e.monitorPass(context.Background())

		if e.learningRate >= 0.1 {
			t.Errorf("learningRate = %v, want lowered below 0.1", e.learningRate)
		}
		if e.confidenceThreshold <= 0.7 {
			// 0.7 is also the cap, so it must stay pinned there.
			if e.confidenceThreshold != 0.7 {
				t.Errorf("confidenceThreshold = %v, want raised toward cap 0.7", e.confidenceThreshold)
			}
		}
	})

	t.Run("low variance speeds learning", func(t *testing.T) {
		t.Parallel()
		e := newTestEstimator(t, Config{})
		now := e.now()
		e.samples = []types.InteractionSample{
			sampleAt(50, now), sampleAt(52, now), sampleAt(48, now),
		}

		e.monitorPass(context.Background())

		if e.learningRate <= 0.1 {
			t.Errorf("learningRate = %v, want raised above 0.1", e.learningRate)
		}
		if e.confidenceThreshold >= 0.7 {
			t.Errorf("confidenceThreshold = %v, want lowered below 0.7", e.confidenceThreshold)
		}
	})

	t.Run("bounds are enforced", func(t *testing.T) {
		t.Parallel()
		e := newTestEstimator(t, Config{})
		now := e.now()
		e.samples = []types.InteractionSample{
			sampleAt(50, now), sampleAt(52, now), sampleAt(48, now),
		}

		for i := 0; i < 100; i++ {
			e.monitorPass(context.Background())
		}
		if e.learningRate > maxLearningRate {
			t.Errorf("learningRate = %v, want capped at %v", e.learningRate, maxLearningRate)
		}
		if e.confidenceThreshold < minConfidenceThreshold {
			t.Errorf("confidenceThreshold = %v, want floored at %v",
				e.confidenceThreshold, minConfidenceThreshold)
		}
	})
}

func TestMonitorSkipsSparseWindow(t *testing.T) {
	t.Parallel()

	e := newTestEstimator(t, Config{})
	now := e.now()
	// One recent sample plus old history: not enough in the 10s window.
	e.samples = []types.InteractionSample{
		sampleAt(50, now.Add(-time.Minute)),
		sampleAt(50, now.Add(-time.Minute)),
		sampleAt(9000, now),
	}

	e.monitorPass(context.Background())

	if e.learningRate != 0.1 || e.confidenceThreshold != 0.7 {
		t.Errorf("tuning changed to (%v, %v) on a sparse window, want untouched",
			e.learningRate, e.confidenceThreshold)
	}
}

func TestMonitorAnomalyPartialReset(t *testing.T) {
	t.Parallel()

	e := newTestEstimator(t, Config{})
	now := e.now()

	// Twelve steady samples outside the monitor window establish the fences;
	// three wild recent ones plus one steady recent one make the window 75%
	// outliers.
	for i := 0; i < 12; i++ {
		e.samples = append(e.samples, sampleAt(50, now.Add(-time.Minute)))
	}
	e.samples = append(e.samples,
		sampleAt(50, now),
		sampleAt(5000, now),
		sampleAt(5200, now),
		sampleAt(4800, now),
	)
	e.confidence = 0.8
	e.learningRate = 0.05

	e.monitorPass(context.Background())

	if len(e.samples) != 5 {
		t.Fatalf("buffer = %d samples after partial reset, want non-outliers trimmed to 5", len(e.samples))
	}
	for _, s := range e.samples {
		if s.OffsetMs() != 50 {
			t.Errorf("outlier offset %v survived the reset", s.OffsetMs())
		}
	}
	if !almostEqual(e.confidence, 0.8*0.7, 1e-9) {
		t.Errorf("confidence = %v, want dampened to 0.56", e.confidence)
	}
	if e.learningRate != resetLearningRate {
		t.Errorf("learningRate = %v, want reset to %v", e.learningRate, resetLearningRate)
	}
}

func TestMonitorEmergencyCorrection(t *testing.T) {
	t.Parallel()

	e := newTestEstimator(t, Config{})
	now := e.now()
	e.samples = []types.InteractionSample{
		sampleAt(0, now),
		sampleAt(400, now),
	}

	e.monitorPass(context.Background())

	// Jump of 400ms pulls the latency a third of the way: 100 + 120.
	if !almostEqual(e.audioLatencyMs, 220, 1e-6) {
		t.Errorf("audioLatencyMs = %v, want 220 after emergency correction", e.audioLatencyMs)
	}
}

func TestMonitorEmergencyCorrectionClamps(t *testing.T) {
	t.Parallel()

	e := newTestEstimator(t, Config{})
	now := e.now()
	e.samples = []types.InteractionSample{
		sampleAt(0, now),
		sampleAt(-3000, now),
	}

	e.monitorPass(context.Background())

	if e.audioLatencyMs != -300 {
		t.Errorf("audioLatencyMs = %v, want clamped at -300", e.audioLatencyMs)
	}
}

func TestStartMonitoringIsIdempotent(t *testing.T) {
	t.Parallel()

	e := newTestEstimator(t, Config{MonitorInterval: time.Hour})
	ctx := context.Background()

	e.StartMonitoring(ctx)
	first := e.monitor
	e.StartMonitoring(ctx)
	if e.monitor != first {
		t.Error("second StartMonitoring replaced the running monitor")
	}
	e.Stop()
	if e.monitor != nil {
		t.Error("Stop did not clear the monitor")
	}

	// Stopping again must not panic or block.
	e.Stop()
}
