// Package risk derives protective stop levels for positions that were opened
// outside the bot and adopted during reconciliation.
package risk

import (
	"math"

	"trailbot/internal/domain"
	"trailbot/internal/indicators"
)

const (
	// fallbackATRMult sizes the stop distance when no usable SuperTrend
	// level exists.
	fallbackATRMult = 1.5
	// fallbackPct is the last-resort stop distance as a fraction of price.
	fallbackPct = 0.02
)

// StopParams configures the indicator inputs for DefaultStop.
type StopParams struct {
	SuperTrendPeriod int
	SuperTrendMult   float64
	ATRLength        int
}

// DefaultStopParams returns the standard derivation inputs.
func DefaultStopParams() StopParams {
	return StopParams{
		SuperTrendPeriod: 10,
		SuperTrendMult:   3.0,
		ATRLength:        14,
	}
}

// DefaultStop derives an initial stop for an adopted position.
//
// Preference order: the latest SuperTrend level when it sits on the
// protective side of price, then price ∓ 1.5·ATR, then a flat 2% of price.
// The result is always positive and on the correct side of price.
func DefaultStop(side domain.Side, price float64, klines []*domain.Kline, p StopParams) float64 {
	if st := superTrendStop(side, price, klines, p); st > 0 {
		return st
	}
	if atrStop := atrFallback(side, price, klines, p); atrStop > 0 {
		return atrStop
	}
	if side.IsLong() {
		return price * (1.0 - fallbackPct)
	}
	return price * (1.0 + fallbackPct)
}

func superTrendStop(side domain.Side, price float64, klines []*domain.Kline, p StopParams) float64 {
	if len(klines) < p.SuperTrendPeriod+1 {
		return 0
	}
	level, _ := indicators.SuperTrend(klines, p.SuperTrendPeriod, p.SuperTrendMult)
	st := indicators.Last(level)
	if math.IsNaN(st) || st <= 0 {
		return 0
	}
	if !protectiveSide(side, price, st) {
		return 0
	}
	return st
}

func atrFallback(side domain.Side, price float64, klines []*domain.Kline, p StopParams) float64 {
	if len(klines) == 0 {
		return 0
	}
	atr := indicators.SafeLast(indicators.ATRWilder(klines, p.ATRLength), 0)
	if atr <= 0 {
		return 0
	}
	stop := price - fallbackATRMult*atr
	if !side.IsLong() {
		stop = price + fallbackATRMult*atr
	}
	if stop <= 0 || !protectiveSide(side, price, stop) {
		return 0
	}
	return stop
}

// protectiveSide reports whether stop actually protects the position: below
// price for longs, above price for shorts.
func protectiveSide(side domain.Side, price, stop float64) bool {
	if side.IsLong() {
		return stop < price
	}
	return stop > price
}
