// Package indicators provides pure technical-indicator functions.
//
// Every function accepts klines in chronological order and returns a series
// aligned to its input (same length, math.NaN() where there is not enough
// history). Inputs are never mutated.
package indicators

import (
	"math"

	"trailbot/internal/domain"
)

// Closes extracts the close prices of the given klines.
func Closes(klines []*domain.Kline) []float64 {
	out := make([]float64, len(klines))
	for i, k := range klines {
		out[i] = k.Close
	}
	return out
}

// Last returns the final value of the series, or NaN for an empty series.
func Last(series []float64) float64 {
	if len(series) == 0 {
		return math.NaN()
	}
	return series[len(series)-1]
}

// SafeLast returns the final value of the series, or def when the series is
// empty or ends in NaN.
func SafeLast(series []float64, def float64) float64 {
	v := Last(series)
	if math.IsNaN(v) {
		return def
	}
	return v
}

// trueRanges computes the true range series:
// max(high−low, |high−prevClose|, |low−prevClose|).
// The first bar has no previous close, so its TR is high−low.
func trueRanges(klines []*domain.Kline) []float64 {
	tr := make([]float64, len(klines))
	for i, k := range klines {
		hl := k.High - k.Low
		if i == 0 {
			tr[i] = hl
			continue
		}
		prevClose := klines[i-1].Close
		hc := math.Abs(k.High - prevClose)
		lc := math.Abs(k.Low - prevClose)
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}
	return tr
}
