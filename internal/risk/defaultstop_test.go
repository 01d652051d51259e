package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"trailbot/internal/domain"
)

func bar(high, low, close float64) *domain.Kline {
	return &domain.Kline{Open: close, High: high, Low: low, Close: close, IsFinal: true}
}

// Steadily rising bars with a constant true range of 2, so Wilder ATR stays
// at 2 and the SuperTrend lower band tracks mid minus 3*ATR.
func risingKlines(n int) []*domain.Kline {
	var klines []*domain.Kline
	for i := 0; i < n; i++ {
		base := 100.0 + float64(i)
		klines = append(klines, bar(base+1, base-1, base))
	}
	return klines
}

func TestDefaultStopUsesSuperTrendLevel(t *testing.T) {
	klines := risingKlines(25)
	stop := DefaultStop(domain.Long, 125, klines, DefaultStopParams())
	assert.InDelta(t, 118.0, stop, 1e-9)
}

func TestDefaultStopFallsBackToATRWhenLevelOnWrongSide(t *testing.T) {
	// For a short, the uptrend's lower band sits below price and cannot
	// protect the position; price + 1.5*ATR applies instead.
	klines := risingKlines(25)
	stop := DefaultStop(domain.Short, 125, klines, DefaultStopParams())
	assert.InDelta(t, 128.0, stop, 1e-9)
}

func TestDefaultStopPercentFallbackWithoutData(t *testing.T) {
	assert.InDelta(t, 98.0, DefaultStop(domain.Long, 100, nil, DefaultStopParams()), 1e-9)
	assert.InDelta(t, 102.0, DefaultStop(domain.Short, 100, nil, DefaultStopParams()), 1e-9)
}

func TestDefaultStopPercentFallbackOnDeadMarket(t *testing.T) {
	// Zero-range bars give ATR 0 and a SuperTrend level equal to price,
	// which is not protective for either side.
	var klines []*domain.Kline
	for i := 0; i < 15; i++ {
		klines = append(klines, bar(10, 10, 10))
	}
	assert.InDelta(t, 9.8, DefaultStop(domain.Long, 10, klines, DefaultStopParams()), 1e-9)
	assert.InDelta(t, 10.2, DefaultStop(domain.Short, 10, klines, DefaultStopParams()), 1e-9)
}
