package indicators

import "math"

// RSI computes the Relative Strength Index over length bars using simple
// rolling means of gains and losses. Entries before the window fills are
// NaN. A window with zero average loss collapses RS to zero rather than
// dividing by zero.
func RSI(values []float64, length int) []float64 {
	out := make([]float64, len(values))
	n := len(values)
	if n == 0 {
		return out
	}
	gains := make([]float64, n)
	losses := make([]float64, n)
	for i := 1; i < n; i++ {
		delta := values[i] - values[i-1]
		if delta > 0 {
			gains[i] = delta
		} else {
			losses[i] = -delta
		}
	}

	var gainSum, lossSum float64
	for i := 0; i < n; i++ {
		gainSum += gains[i]
		lossSum += losses[i]
		// The first delta exists at index 1, so the window of length deltas
		// is complete at index length.
		if i < length {
			out[i] = math.NaN()
			continue
		}
		if i > length {
			gainSum -= gains[i-length]
			lossSum -= losses[i-length]
		}
		avgGain := gainSum / float64(length)
		avgLoss := lossSum / float64(length)
		rs := 0.0
		if avgLoss > 0 {
			rs = avgGain / avgLoss
		}
		out[i] = 100.0 - 100.0/(1.0+rs)
	}
	return out
}
