package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trailbot/internal/domain"
)

func TestADXStrongUptrend(t *testing.T) {
	// Highs and lows both rising: every bar contributes +DM only, so -DI
	// stays zero and ADX converges toward 100.
	var klines []*domain.Kline
	for i := 0; i < 30; i++ {
		base := 100.0 + float64(i)*2
		klines = append(klines, k(base+1, base-1, base))
	}

	res := ADX(klines, 14)
	require.Len(t, res.ADX, 30)
	require.Len(t, res.PlusDI, 30)
	require.Len(t, res.MinusDI, 30)

	last := len(klines) - 1
	assert.Greater(t, res.PlusDI[last], res.MinusDI[last])
	assert.InDelta(t, 0.0, res.MinusDI[last], 1e-9)
	assert.Greater(t, res.ADX[last], 50.0)
	assert.LessOrEqual(t, res.ADX[last], 100.0)
}

func TestADXDirectionalMovementMutualExclusivity(t *testing.T) {
	// The second bar expands in both directions but more to the upside; only
	// +DM may register for that bar.
	klines := []*domain.Kline{
		k(10, 9, 9.5),
		k(12, 8.5, 11), // up move 2, down move 0.5
		k(12.5, 9, 12),
	}
	res := ADX(klines, 2)
	assert.InDelta(t, 0.0, res.MinusDI[1], 1e-9)
	assert.Greater(t, res.PlusDI[1], 0.0)
}

func TestADXFlatMarket(t *testing.T) {
	// No directional movement at all: both DI series and ADX stay at zero
	// and nothing divides by zero.
	var klines []*domain.Kline
	for i := 0; i < 10; i++ {
		klines = append(klines, k(10, 9, 9.5))
	}
	res := ADX(klines, 5)
	last := len(klines) - 1
	assert.InDelta(t, 0.0, res.PlusDI[last], 1e-9)
	assert.InDelta(t, 0.0, res.MinusDI[last], 1e-9)
	assert.InDelta(t, 0.0, res.ADX[last], 1e-9)
}
