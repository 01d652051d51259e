package indicators

import "trailbot/internal/domain"

// dmFloor protects the DI and DX divisions from a zero denominator.
const dmFloor = 1e-10

// ADXResult holds the directional movement series for one kline sequence.
type ADXResult struct {
	ADX     []float64
	PlusDI  []float64
	MinusDI []float64
}

// ADX computes the Average Directional Index with +DI and −DI.
//
// Directional movement is derived from consecutive high/low deltas with
// mutual exclusivity (only the larger of +DM/−DM survives, both forced
// non-negative). DM and TR are smoothed with Wilder's alpha = 1/period,
// DI = 100·DM/ATR, DX = 100·|+DI−−DI|/(+DI+−DI) and ADX is the smoothed DX.
func ADX(klines []*domain.Kline, period int) ADXResult {
	n := len(klines)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < n; i++ {
		up := klines[i].High - klines[i-1].High
		down := klines[i-1].Low - klines[i].Low
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}

	atrSmooth := wilderSmooth(trueRanges(klines), period)
	plusSmooth := wilderSmooth(plusDM, period)
	minusSmooth := wilderSmooth(minusDM, period)

	plusDI := make([]float64, n)
	minusDI := make([]float64, n)
	dx := make([]float64, n)
	for i := 0; i < n; i++ {
		atr := atrSmooth[i]
		if atr < dmFloor {
			atr = dmFloor
		}
		plusDI[i] = 100.0 * plusSmooth[i] / atr
		minusDI[i] = 100.0 * minusSmooth[i] / atr

		sum := plusDI[i] + minusDI[i]
		if sum < dmFloor {
			sum = dmFloor
		}
		diff := plusDI[i] - minusDI[i]
		if diff < 0 {
			diff = -diff
		}
		dx[i] = 100.0 * diff / sum
	}

	return ADXResult{
		ADX:     wilderSmooth(dx, period),
		PlusDI:  plusDI,
		MinusDI: minusDI,
	}
}
