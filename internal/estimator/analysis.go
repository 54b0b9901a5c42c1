package estimator

import (
	"math"
	"sort"
	"time"

	"github.com/arthurnavah/echoline/pkg/types"
)

// analysis is the outcome of one full pass over the interaction buffer.
type analysis struct {
	// weightedMeanMs is the temporally-weighted mean of the outlier-filtered
	// offsets.
	weightedMeanMs float64

	// trendMsPerSample is the linear regression slope of offsets over sample
	// index: positive means the drift is growing.
	trendMsPerSample float64

	// periodicity is the maximum absolute autocorrelation over lags
	// 1..min(n/2, 10). Computed on every pass but applied to no correction;
	// whether it should feed the delay model is an open product question, so
	// it is surfaced for inspection only.
	periodicity float64

	// varianceMs2 is the offset variance after IQR outlier filtering.
	varianceMs2 float64

	// stability is 1 minus the normalised mean jump between consecutive
	// offsets, clamped to [0, 1].
	stability float64

	// consistency is stability damped by trend magnitude.
	consistency float64

	// confidence is the combined trust score in [0, 1].
	confidence float64
}

// analyzeOffsets runs the statistics pipeline over the buffered samples.
// now anchors the temporal decay weights.
func analyzeOffsets(samples []types.InteractionSample, now time.Time, decayWindow time.Duration) analysis {
	offsets := make([]float64, len(samples))
	for i, s := range samples {
		offsets[i] = s.OffsetMs()
	}

	weights := temporalWeights(samples, now, decayWindow)

	// Outlier rejection happens before the mean so a single wild sample
	// cannot drag the whole model.
	lo, hi := iqrBounds(offsets)
	var filtered, filteredWeights []float64
	for i, v := range offsets {
		if v >= lo && v <= hi {
			filtered = append(filtered, v)
			filteredWeights = append(filteredWeights, weights[i])
		}
	}
	if len(filtered) == 0 {
		filtered, filteredWeights = offsets, weights
	}

	trend := trendSlope(offsets)
	variance := sampleVariance(filtered)
	stab := stability(offsets)
	cons := stab * (1 - math.Min(1, math.Abs(trend)/100))

	return analysis{
		weightedMeanMs:   weightedMean(filtered, filteredWeights),
		trendMsPerSample: trend,
		periodicity:      maxAutocorrelation(offsets),
		varianceMs2:      variance,
		stability:        stab,
		consistency:      cons,
		confidence:       clamp01(0.4*(1-variance/1000) + 0.3*stab + 0.3*cons),
	}
}

// temporalWeights assigns exp(-age/decayWindow) to each sample so recent
// interactions dominate the mean.
func temporalWeights(samples []types.InteractionSample, now time.Time, decayWindow time.Duration) []float64 {
	weights := make([]float64, len(samples))
	for i, s := range samples {
		age := now.Sub(s.ObservedAt)
		if age < 0 {
			age = 0
		}
		weights[i] = math.Exp(-float64(age) / float64(decayWindow))
	}
	return weights
}

// weightedMean returns the weighted average of values. Falls back to the
// plain mean when all weights are zero.
func weightedMean(values, weights []float64) float64 {
	var sum, wsum float64
	for i, v := range values {
		sum += v * weights[i]
		wsum += weights[i]
	}
	if wsum == 0 {
		return mean(values)
	}
	return sum / wsum
}

// mean returns the arithmetic mean, or 0 for an empty slice.
func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// trendSlope fits offsets against their buffer index with ordinary least
// squares and returns the slope in ms per sample.
func trendSlope(values []float64) float64 {
	n := float64(len(values))
	if n < 2 {
		return 0
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, v := range values {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

// maxAutocorrelation returns the maximum absolute autocorrelation over lags
// 1..min(n/2, 10). A strong value hints at a periodic component in the
// offsets (e.g. a buffering hiccup every N words).
func maxAutocorrelation(values []float64) float64 {
	n := len(values)
	maxLag := n / 2
	if maxLag > 10 {
		maxLag = 10
	}
	if maxLag < 1 {
		return 0
	}

	m := mean(values)
	var denom float64
	for _, v := range values {
		denom += (v - m) * (v - m)
	}
	if denom == 0 {
		return 0
	}

	var best float64
	for lag := 1; lag <= maxLag; lag++ {
		var num float64
		for i := 0; i < n-lag; i++ {
			num += (values[i] - m) * (values[i+lag] - m)
		}
		if corr := math.Abs(num / denom); corr > best {
			best = corr
		}
	}
	return best
}

// iqrBounds returns the [Q1 - 1.5·IQR, Q3 + 1.5·IQR] outlier fences of
// values. With fewer than 4 values the fences are (-inf, +inf): the
// quartiles are meaningless and nothing should be rejected.
func iqrBounds(values []float64) (lo, hi float64) {
	if len(values) < 4 {
		return math.Inf(-1), math.Inf(1)
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	q1 := percentile(sorted, 0.25)
	q3 := percentile(sorted, 0.75)
	iqr := q3 - q1
	return q1 - 1.5*iqr, q3 + 1.5*iqr
}

// percentile returns the p-th percentile of sorted using linear
// interpolation between closest ranks.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := p * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	frac := rank - float64(lower)
	return sorted[lower]*(1-frac) + sorted[upper]*frac
}

// sampleVariance returns the population variance of values.
func sampleVariance(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := mean(values)
	var sum float64
	for _, v := range values {
		sum += (v - m) * (v - m)
	}
	return sum / float64(len(values))
}

// stability measures how calm consecutive offsets are: 1 means no movement,
// 0 means the mean consecutive jump reaches 500ms or more.
func stability(values []float64) float64 {
	if len(values) < 2 {
		return 1
	}
	var sum float64
	for i := 1; i < len(values); i++ {
		sum += math.Abs(values[i] - values[i-1])
	}
	meanJump := sum / float64(len(values)-1)
	return math.Max(0, 1-meanJump/500)
}

// lerp linearly interpolates from old toward target by rate.
func lerp(old, target, rate float64) float64 {
	return old + (target-old)*rate
}

// clamp bounds v to [lo, hi].
func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// clamp01 bounds v to [0, 1].
func clamp01(v float64) float64 {
	return clamp(v, 0, 1)
}
