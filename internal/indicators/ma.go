package indicators

import "math"

// SMA computes the Simple Moving Average over length values.
// The first length−1 entries are NaN.
func SMA(values []float64, length int) []float64 {
	out := make([]float64, len(values))
	sum := 0.0
	for i, v := range values {
		sum += v
		if i+1 < length {
			out[i] = math.NaN()
			continue
		}
		if i >= length {
			sum -= values[i-length]
		}
		out[i] = sum / float64(length)
	}
	return out
}

// EMA computes the Exponential Moving Average with span smoothing
// (alpha = 2/(length+1)), seeded with the first observation.
func EMA(values []float64, length int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	alpha := 2.0 / float64(length+1)
	s := values[0]
	out[0] = s
	for i := 1; i < len(values); i++ {
		s += alpha * (values[i] - s)
		out[i] = s
	}
	return out
}
