package ports

import (
	"context"

	"trailbot/internal/domain"
)

// TradeRepository defines the interface for persisting managed trade records.
type TradeRepository interface {
	// Save inserts or replaces the trade record keyed by its ID.
	Save(ctx context.Context, trade *domain.Trade) error
	// LoadAll retrieves every managed trade record.
	LoadAll(ctx context.Context) ([]*domain.Trade, error)
	// Delete removes a managed trade record by ID.
	// Deleting a missing record is not an error.
	Delete(ctx context.Context, id string) error
	// Archive atomically removes the managed record and appends it to the
	// historical trade store.
	Archive(ctx context.Context, closed *domain.ClosedTrade) error
	// HistoryBySymbol retrieves the most recent archived trades for a symbol,
	// newest first, up to limit.
	HistoryBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.ClosedTrade, error)
}
