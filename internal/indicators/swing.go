package indicators

import (
	"math"

	"trailbot/internal/domain"
)

// lastClosedWindow returns the slice of the last lookback fully closed bars,
// excluding the final (possibly still forming) bar.
func lastClosedWindow(klines []*domain.Kline, lookback int) []*domain.Kline {
	n := len(klines)
	if n == 0 || lookback <= 0 {
		return nil
	}
	if n >= lookback+1 {
		return klines[n-lookback-1 : n-1]
	}
	return klines[:n-1]
}

// SwingLow returns the minimum low over the last lookback closed bars.
// Returns NaN when there is no closed history.
func SwingLow(klines []*domain.Kline, lookback int) float64 {
	window := lastClosedWindow(klines, lookback)
	if len(window) == 0 {
		return math.NaN()
	}
	low := window[0].Low
	for _, k := range window[1:] {
		if k.Low < low {
			low = k.Low
		}
	}
	return low
}

// SwingHigh returns the maximum high over the last lookback closed bars.
// Returns NaN when there is no closed history.
func SwingHigh(klines []*domain.Kline, lookback int) float64 {
	window := lastClosedWindow(klines, lookback)
	if len(window) == 0 {
		return math.NaN()
	}
	high := window[0].High
	for _, k := range window[1:] {
		if k.High > high {
			high = k.High
		}
	}
	return high
}
