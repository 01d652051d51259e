package indicators

import "math"

// BollingerBands computes the upper and lower bands as the rolling mean of
// the series plus/minus mult sample standard deviations over length bars.
// Entries before the window fills are NaN.
func BollingerBands(values []float64, length int, mult float64) (upper, lower []float64) {
	upper = make([]float64, len(values))
	lower = make([]float64, len(values))
	ma := SMA(values, length)
	for i := range values {
		if i+1 < length {
			upper[i] = math.NaN()
			lower[i] = math.NaN()
			continue
		}
		mean := ma[i]
		var ss float64
		for j := i + 1 - length; j <= i; j++ {
			d := values[j] - mean
			ss += d * d
		}
		// Sample standard deviation (n−1 denominator).
		sd := 0.0
		if length > 1 {
			sd = math.Sqrt(ss / float64(length-1))
		}
		upper[i] = mean + mult*sd
		lower[i] = mean - mult*sd
	}
	return upper, lower
}
