package indicators

import "trailbot/internal/domain"

// ATR computes the Average True Range as a simple rolling mean of the true
// range over length bars. Early values average whatever history exists, so
// the series has no NaN prefix.
func ATR(klines []*domain.Kline, length int) []float64 {
	tr := trueRanges(klines)
	out := make([]float64, len(tr))
	sum := 0.0
	for i, v := range tr {
		sum += v
		n := length
		if i+1 < length {
			n = i + 1
		} else if i >= length {
			sum -= tr[i-length]
		}
		out[i] = sum / float64(n)
	}
	return out
}

// ATRWilder computes the Average True Range with Wilder's recursive
// smoothing, equivalent to exponential weighting with alpha = 1/length.
func ATRWilder(klines []*domain.Kline, length int) []float64 {
	tr := trueRanges(klines)
	return wilderSmooth(tr, length)
}

// wilderSmooth applies s[i] = s[i-1] + alpha*(x[i] - s[i-1]) with
// alpha = 1/length, seeded with the first observation.
func wilderSmooth(values []float64, length int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	alpha := 1.0 / float64(length)
	s := values[0]
	out[0] = s
	for i := 1; i < len(values); i++ {
		s += alpha * (values[i] - s)
		out[i] = s
	}
	return out
}
