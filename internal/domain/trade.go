package domain

import "time"

// riskEpsilon floors the per-unit risk so a degenerate record (entry equal
// to the initial stop) saturates the R-multiple instead of dividing by zero.
const riskEpsilon = 1e-12

// Trade is the mutable state container for one managed open position.
//
// The entry facts (EntryPrice, InitialStop, InitialQuantity, OpenTime,
// StrategyID) are fixed at creation. Management state is mutated only by
// the monitor loop applying trailing-engine decisions.
type Trade struct {
	ID         string // Unique identifier (db key)
	Symbol     string // Trading symbol (e.g., "ETHUSDT")
	Side       Side   // Long or short
	StrategyID int    // Identifier of the strategy that opened (or was inferred for) the trade

	// Immutable entry facts.
	EntryPrice      float64   // Average fill price at entry
	InitialStop     float64   // Protective stop placed at entry time
	InitialQuantity float64   // Quantity at entry
	OpenTime        time.Time // Entry fill timestamp (UTC)
	Leverage        int       // Leverage in effect at entry

	// Mutable management state.
	Quantity          float64    // Current quantity (reduced by partial closes)
	StopLoss          float64    // Current protective stop (0 = none placed)
	TakeProfit        float64    // Current take-profit (0 = none)
	Phase             TradePhase // Management phase, advances monotonically
	BEApplied         bool       // Break-even move already performed
	TrailingActivated bool       // Trailing gate passed at least once
	PartialDone       bool       // Stacked partial close already executed (one-shot)
	IsStacked         bool       // Entry formed by confluence of multiple sub-signals
	LastUpdate        time.Time  // Timestamp of the last stop/quantity mutation
}

// IsOpen reports whether the trade still has exposure.
func (t *Trade) IsOpen() bool {
	return t.Quantity > 0
}

// RiskPerUnit returns |entry − initial stop|, floored to a tiny positive
// epsilon. A zero distance is a data fault, not a reason to crash the loop.
func (t *Trade) RiskPerUnit() float64 {
	risk := t.EntryPrice - t.InitialStop
	if risk < 0 {
		risk = -risk
	}
	if risk < riskEpsilon {
		return riskEpsilon
	}
	return risk
}

// RMultiple returns the signed distance of price from entry in units of the
// initial risk. Profit is positive for both long and short trades.
func (t *Trade) RMultiple(price float64) float64 {
	if t.Side.IsLong() {
		return (price - t.EntryPrice) / t.RiskPerUnit()
	}
	return (t.EntryPrice - price) / t.RiskPerUnit()
}

// BarsSinceEntry returns the number of whole bars of the given timeframe
// that have elapsed since the trade opened.
func (t *Trade) BarsSinceEntry(now time.Time, timeframe time.Duration) int {
	if timeframe <= 0 || now.Before(t.OpenTime) {
		return 0
	}
	return int(now.Sub(t.OpenTime) / timeframe)
}

// AdvancePhase moves the trade to the given phase if it is ahead of the
// current one. Phases never regress.
func (t *Trade) AdvancePhase(p TradePhase) {
	if p > t.Phase {
		t.Phase = p
	}
}

// ClosedTrade is an archived record of a trade that left management.
type ClosedTrade struct {
	ID          string
	Symbol      string
	Side        Side
	StrategyID  int
	EntryPrice  float64
	ExitPrice   float64 // 0 when unknown (e.g., closed while the bot was down)
	Quantity    float64
	Leverage    int
	PNL         float64
	OpenTime    time.Time
	CloseTime   time.Time
	CloseReason CloseReason
}
