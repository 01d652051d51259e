// Package trailing implements the trade-management decision engine: given a
// snapshot of an open trade and fresh indicator values it decides whether to
// move the stop to break-even, tighten the trailing stop, or take a partial
// close. Evaluate is a pure function; callers apply (and persist) the
// returned mutations.
package trailing

import (
	"fmt"
	"math"

	"trailbot/internal/domain"
)

// epsilon floors risk and ATR so degenerate inputs saturate instead of
// dividing by zero.
const epsilon = 1e-12

// fallbackATRMult is the stop distance used when no swing data is available.
const fallbackATRMult = 4.0

// Input is the per-tick evaluation snapshot for one trade. Optional fields
// are pointers; nil means the value is not available this tick.
type Input struct {
	Side         domain.Side
	EntryPrice   float64
	CurrentPrice float64
	CurrentSL    *float64 // nil when no stop order is currently placed
	InitialStop  float64
	ADX          *float64 // nil when ADX could not be computed
	ATR          float64
	SwingLow     *float64 // structural stop reference for longs
	SwingHigh    *float64 // structural stop reference for shorts
	BarsElapsed  int      // closed bars since entry on the execution timeframe
	BEApplied    bool
	IsStacked    bool
	TickSize     float64
	TakerFeeRate float64
}

// Decision is the engine output. A nil field means "no action for this
// dimension"; the caller applies fields in order BE → trailing → partial.
type Decision struct {
	BEStop           *float64 // move the stop to this break-even level, once
	NewTrailingSL    *float64 // tighten the stop to this level
	PartialClosePct  *float64 // close this fraction of the position (caller enforces one-shot)
	ActivateTrailing bool     // break-even gate has been passed
	Reason           string
}

// Evaluate runs the trailing-stop decision algorithm. It is deterministic,
// performs no I/O and never fails: invalid numeric state is floored and
// reported through the decision's Reason.
func Evaluate(cfg Config, in Input) Decision {
	riskPerUnit := in.EntryPrice - in.InitialStop
	if !in.Side.IsLong() {
		riskPerUnit = -riskPerUnit
	}
	if riskPerUnit < epsilon {
		riskPerUnit = epsilon
	}

	rMult := (in.CurrentPrice - in.EntryPrice) / riskPerUnit
	if !in.Side.IsLong() {
		rMult = (in.EntryPrice - in.CurrentPrice) / riskPerUnit
	}

	passedGate := gatePassed(cfg, in, rMult)

	// Break-even is proposed exactly once, the first tick the gate passes.
	// The level lands on the tick grid like every other stop the engine
	// emits, rounded toward entry so the offset is never overstated.
	var beStop *float64
	if passedGate && !in.BEApplied {
		be := in.EntryPrice * (1.0 + cfg.BEOffsetPct)
		if !in.Side.IsLong() {
			be = in.EntryPrice * (1.0 - cfg.BEOffsetPct)
		}
		be = roundToTick(be, in.TickSize, !in.Side.IsLong())
		beStop = &be
	}

	if cfg.Disabled {
		return Decision{
			BEStop:           beStop,
			ActivateTrailing: passedGate,
			Reason:           "trailing disabled",
		}
	}

	if in.BarsElapsed < cfg.NoTrailBars {
		return Decision{
			BEStop:           beStop,
			ActivateTrailing: passedGate,
			Reason:           fmt.Sprintf("no-trail initial bars; bars=%d", in.BarsElapsed),
		}
	}

	if !passedGate {
		return Decision{
			BEStop: beStop,
			Reason: fmt.Sprintf("gate not passed; r=%.3f", rMult),
		}
	}

	atrMult := selectMultiplier(cfg, in)
	atrVal := math.Max(epsilon, in.ATR)
	price := in.CurrentPrice

	var newSL float64
	if in.Side.IsLong() {
		pivotStop := price - fallbackATRMult*atrVal
		if in.SwingLow != nil {
			pivotStop = *in.SwingLow
		}
		candidate := math.Max(pivotStop, price-atrMult*atrVal)
		newSL = candidate - cfg.TrailBufferMult*atrVal
		if in.CurrentSL != nil {
			newSL = math.Max(newSL, *in.CurrentSL)
		}
		// Stay at least one tick below price, then round down so the
		// effective stop is never tighter than computed.
		newSL = math.Min(newSL, price-in.TickSize)
		newSL = roundToTick(newSL, in.TickSize, false)
	} else {
		pivotStop := price + fallbackATRMult*atrVal
		if in.SwingHigh != nil {
			pivotStop = *in.SwingHigh
		}
		candidate := math.Min(pivotStop, price+atrMult*atrVal)
		newSL = candidate + cfg.TrailBufferMult*atrVal
		if in.CurrentSL != nil {
			newSL = math.Min(newSL, *in.CurrentSL)
		}
		newSL = math.Max(newSL, price+in.TickSize)
		newSL = roundToTick(newSL, in.TickSize, true)
	}

	minMove := minStopMove(cfg, price, in.TickSize, in.TakerFeeRate)
	if in.CurrentSL != nil {
		delta := math.Abs(newSL - *in.CurrentSL)
		if delta < minMove {
			return Decision{
				BEStop:           beStop,
				ActivateTrailing: true,
				Reason:           fmt.Sprintf("min-move guard; delta=%.8f < %.8f", delta, minMove),
			}
		}
	}

	// Stacked setups bank part of the position at 1R. The engine is
	// stateless and re-proposes every tick the condition holds; the caller
	// suppresses repeats via the trade's PartialDone flag.
	var partial *float64
	if in.IsStacked && rMult >= 1.0 {
		p := cfg.StackedPartialClosePct
		partial = &p
	}

	return Decision{
		BEStop:           beStop,
		NewTrailingSL:    &newSL,
		PartialClosePct:  partial,
		ActivateTrailing: true,
		Reason:           "trail-update",
	}
}

// gatePassed evaluates the break-even gate in the configured mode: raw
// percentage return when BETriggerPct is set, R-multiple otherwise.
func gatePassed(cfg Config, in Input, rMult float64) bool {
	if cfg.BETriggerPct != nil {
		ret := in.CurrentPrice/in.EntryPrice - 1.0
		if !in.Side.IsLong() {
			ret = -ret
		}
		return ret >= *cfg.BETriggerPct
	}
	return rMult >= cfg.BETriggerR
}

// selectMultiplier picks the trailing ATR multiplier: tight in a confirmed
// trend, wide otherwise, with a temporary bonus for stacked setups until
// ADX confirms strength.
func selectMultiplier(cfg Config, in Input) float64 {
	adxConfirmed := in.ADX != nil && *in.ADX >= cfg.ADXTrendMin

	mult := cfg.ATRMultStrong
	if cfg.AdaptiveTrail && !adxConfirmed {
		mult = cfg.ATRMultWeak
	}
	if in.IsStacked && !adxConfirmed {
		mult += cfg.StackedWiderMultBonus
	}
	return mult
}

// minStopMove returns the anti-whipsaw threshold: the larger of one tick
// and a percentage of price. The percentage defaults to
// max(tick-as-percent, 2×taker fee) so stop updates are not dominated by
// fees.
func minStopMove(cfg Config, price, tickSize, takerFee float64) float64 {
	pct := 0.0
	if cfg.MinSLMovePct != nil {
		pct = *cfg.MinSLMovePct
	} else {
		tickPct := 0.0
		if price > 0 {
			tickPct = tickSize / price
		}
		pct = math.Max(tickPct, 2.0*takerFee)
	}
	return math.Max(tickSize, pct*price)
}

// roundToTick aligns price to an exact multiple of tick, rounding up or
// down. A non-positive tick leaves the price unchanged. The tiny nudge
// keeps prices that are already on a tick boundary from slipping a full
// tick through float division noise.
func roundToTick(price, tick float64, up bool) float64 {
	if tick <= 0 {
		return price
	}
	const nudge = 1e-9
	if up {
		return math.Ceil(price/tick-nudge) * tick
	}
	return math.Floor(price/tick+nudge) * tick
}
