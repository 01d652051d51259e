package ports

import (
	"context"

	"trailbot/internal/domain"
)

// SymbolInfo carries the instrument metadata the trailing engine needs to
// round and gate stop movements.
type SymbolInfo struct {
	Symbol       string  // Trading symbol
	TickSize     float64 // Minimum price increment
	TakerFeeRate float64 // Taker fee as a decimal (e.g., 0.0007 for 0.07%)
	QtyStep      float64 // Minimum quantity increment
}

// Position is an exchange-reported open position, used by reconciliation to
// compare exchange reality with the locally managed trade set.
type Position struct {
	Symbol     string
	Side       domain.Side
	Quantity   float64 // Absolute position size (always positive)
	EntryPrice float64
	MarkPrice  float64
	Leverage   int
	UnrealPNL  float64
}

// MarketData defines read-only access to exchange market data.
type MarketData interface {
	// GetKlines retrieves historical klines for the given symbol, oldest first.
	// Returns ErrInsufficientData (wrapped) when fewer bars exist than requested.
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error)

	// GetMarkPrice retrieves the current mark price for a given symbol.
	GetMarkPrice(ctx context.Context, symbol string) (float64, error)

	// GetSymbolInfo retrieves tick size and fee metadata for a symbol.
	GetSymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error)
}

// OrderManager defines the order mutations the monitor loop performs on
// managed positions. All operations must be safe to retry: a repeated call
// after a partial failure must not double-apply.
type OrderManager interface {
	// ModifyStopLoss replaces the protective stop for the position with a new
	// stop-market order at stopPrice (cancelling any previous stop order).
	ModifyStopLoss(ctx context.Context, symbol string, side domain.Side, quantity, stopPrice float64) error

	// ReducePosition closes qty of the position at market (reduce-only).
	ReducePosition(ctx context.Context, symbol string, side domain.Side, qty float64) error

	// ClosePosition closes the full position at market.
	ClosePosition(ctx context.Context, symbol string, side domain.Side) error

	// GetOpenPositions returns all currently open positions on the exchange.
	GetOpenPositions(ctx context.Context) ([]*Position, error)
}

// Notifier dispatches operator-facing messages. Implementations are
// fire-and-forget: failures are logged by the adapter, never propagated.
type Notifier interface {
	Notify(ctx context.Context, msg string)
}
