package trailing

import "fmt"

// Config captures all tunable parameters that govern the trailing-stop
// decision engine. Zero values are not meaningful; start from
// DefaultConfig and override.
type Config struct {
	// BETriggerR is the R-multiple at which the break-even gate passes.
	// Ignored when BETriggerPct is set.
	BETriggerR float64
	// BETriggerPct, when non-nil, switches the gate to a raw percentage
	// return from entry (decimal, e.g. 0.01 for 1%). Mutually exclusive
	// with the R-based gate.
	BETriggerPct *float64
	// BEOffsetPct offsets the break-even stop from entry in the trade's
	// favor to cover fees and slippage (decimal).
	BEOffsetPct float64
	// NoTrailBars is the minimum number of bars since entry before any
	// trailing stop is computed.
	NoTrailBars int
	// PivotLookback is the swing high/low window in closed bars.
	PivotLookback int
	// ATRMultStrong is the trailing ATR multiplier in a confirmed trend
	// (ADX at or above ADXTrendMin).
	ATRMultStrong float64
	// ATRMultWeak is the wider multiplier used while the trend is weak or
	// ADX is unknown.
	ATRMultWeak float64
	// TrailBufferMult pushes the stop a fraction of ATR beyond the
	// structural level to avoid stop-hunting at the exact pivot.
	TrailBufferMult float64
	// ADXTrendMin is the ADX threshold separating strong from weak trend.
	ADXTrendMin float64
	// AdaptiveTrail enables ADX-based multiplier selection. When disabled
	// the strong multiplier is always used.
	AdaptiveTrail bool
	// MinSLMovePct, when non-nil, is the minimum stop move as a fraction of
	// current price. When nil it is derived per evaluation as
	// max(tickSize/price, 2×takerFee).
	MinSLMovePct *float64
	// StackedPartialClosePct is the fraction of the position to close the
	// first time a stacked trade reaches 1R.
	StackedPartialClosePct float64
	// StackedWiderMultBonus widens the multiplier for stacked trades until
	// ADX confirms trend strength.
	StackedWiderMultBonus float64
	// Disabled is a global kill-switch: only break-even proposals are
	// emitted while set.
	Disabled bool
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		BETriggerR:             1.0,
		BEOffsetPct:            0.0010,
		NoTrailBars:            2,
		PivotLookback:          5,
		ATRMultStrong:          2.0,
		ATRMultWeak:            2.8,
		TrailBufferMult:        0.30,
		ADXTrendMin:            25,
		AdaptiveTrail:          true,
		StackedPartialClosePct: 0.25,
		StackedWiderMultBonus:  0.25,
	}
}

// Validate checks the configuration for values the engine cannot work with.
func (c Config) Validate() error {
	if c.BETriggerPct == nil && c.BETriggerR <= 0 {
		return fmt.Errorf("BETriggerR must be positive when no percentage trigger is set")
	}
	if c.BETriggerPct != nil && *c.BETriggerPct <= 0 {
		return fmt.Errorf("BETriggerPct must be positive")
	}
	if c.BEOffsetPct < 0 {
		return fmt.Errorf("BEOffsetPct cannot be negative")
	}
	if c.NoTrailBars < 0 {
		return fmt.Errorf("NoTrailBars cannot be negative")
	}
	if c.PivotLookback <= 0 {
		return fmt.Errorf("PivotLookback must be positive")
	}
	if c.ATRMultStrong <= 0 || c.ATRMultWeak <= 0 {
		return fmt.Errorf("ATR multipliers must be positive")
	}
	if c.ATRMultStrong > c.ATRMultWeak {
		return fmt.Errorf("ATRMultStrong must not exceed ATRMultWeak (strong trend trails tighter)")
	}
	if c.TrailBufferMult < 0 {
		return fmt.Errorf("TrailBufferMult cannot be negative")
	}
	if c.MinSLMovePct != nil && *c.MinSLMovePct < 0 {
		return fmt.Errorf("MinSLMovePct cannot be negative")
	}
	if c.StackedPartialClosePct <= 0 || c.StackedPartialClosePct > 1 {
		return fmt.Errorf("StackedPartialClosePct must be in (0, 1]")
	}
	return nil
}
