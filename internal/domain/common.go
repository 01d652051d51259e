package domain

// Side represents the direction of a position (long = BUY, short = SELL).
type Side string

const (
	Long  Side = "BUY"
	Short Side = "SELL"
)

// IsLong reports whether the side is the long direction.
func (s Side) IsLong() bool {
	return s == Long
}

// Opposite returns the closing side for the position side.
func (s Side) Opposite() Side {
	if s == Long {
		return Short
	}
	return Long
}

// TradePhase is the ordinal management phase of an open trade.
// Phases only ever advance; they never regress.
type TradePhase int

const (
	PhaseInitial TradePhase = iota
	PhaseBreakEven
	PhaseTrailing
	PhasePartialClosed
)

// String returns the phase label used in logs and notifications.
func (p TradePhase) String() string {
	switch p {
	case PhaseInitial:
		return "initial"
	case PhaseBreakEven:
		return "break_even"
	case PhaseTrailing:
		return "trailing"
	case PhasePartialClosed:
		return "partial_closed"
	default:
		return "unknown"
	}
}

// CloseReason indicates why a trade left management.
type CloseReason string

const (
	CloseReasonStopLoss    CloseReason = "SL"
	CloseReasonTakeProfit  CloseReason = "TP"
	CloseReasonManual      CloseReason = "MANUAL"
	CloseReasonReconciled  CloseReason = "RECONCILED" // closed on exchange, detected by reconciliation
	CloseReasonLiquidation CloseReason = "LIQUIDATION"
	CloseReasonUnknown     CloseReason = "UNKNOWN"
)
