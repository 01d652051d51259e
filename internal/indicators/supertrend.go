package indicators

import "trailbot/internal/domain"

// TrendUp and TrendDown are the SuperTrend direction values.
const (
	TrendUp   = 1
	TrendDown = -1
)

// SuperTrend computes the SuperTrend level and direction series.
//
// Basic bands are (high+low)/2 ± multiplier·ATR (Wilder). The final bands
// ratchet: an upper band may only move down (and a lower band only up)
// unless the previous close already broke through it. Direction flips when
// the close crosses the active band; the level follows the band opposite
// to price.
func SuperTrend(klines []*domain.Kline, period int, multiplier float64) (level []float64, direction []int) {
	n := len(klines)
	level = make([]float64, n)
	direction = make([]int, n)
	if n == 0 {
		return level, direction
	}

	atr := ATRWilder(klines, period)
	finalUpper := make([]float64, n)
	finalLower := make([]float64, n)

	for i := 0; i < n; i++ {
		mid := (klines[i].High + klines[i].Low) / 2.0
		basicUpper := mid + multiplier*atr[i]
		basicLower := mid - multiplier*atr[i]

		if i == 0 {
			finalUpper[i] = basicUpper
			finalLower[i] = basicLower
			direction[i] = TrendUp
			level[i] = finalLower[i]
			continue
		}

		prevClose := klines[i-1].Close
		if basicUpper < finalUpper[i-1] || prevClose > finalUpper[i-1] {
			finalUpper[i] = basicUpper
		} else {
			finalUpper[i] = finalUpper[i-1]
		}
		if basicLower > finalLower[i-1] || prevClose < finalLower[i-1] {
			finalLower[i] = basicLower
		} else {
			finalLower[i] = finalLower[i-1]
		}

		close := klines[i].Close
		if direction[i-1] == TrendUp {
			if close < finalLower[i] {
				direction[i] = TrendDown
			} else {
				direction[i] = TrendUp
			}
		} else {
			if close > finalUpper[i] {
				direction[i] = TrendUp
			} else {
				direction[i] = TrendDown
			}
		}

		if direction[i] == TrendUp {
			level[i] = finalLower[i]
		} else {
			level[i] = finalUpper[i]
		}
	}
	return level, direction
}
