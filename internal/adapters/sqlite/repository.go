// Package sqlite implements ports.TradeRepository on an embedded SQLite
// database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"trailbot/internal/domain"
	"trailbot/internal/ports"
)

// Repository implements the ports.TradeRepository interface using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/trailbot.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL mode for better concurrency
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally; the Go driver benefits from a
	// single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	cfg.Logger.Info(context.Background(), "SQLite database ready", map[string]interface{}{"path": dbPath})
	return repo, nil
}

// initializeSchema creates tables if they don't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS managed_trades (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		strategy_id INTEGER NOT NULL DEFAULT 0,
		entry_price REAL NOT NULL,
		initial_stop REAL NOT NULL,
		initial_quantity REAL NOT NULL,
		open_time TIMESTAMP NOT NULL,
		leverage INTEGER NOT NULL DEFAULT 1,
		quantity REAL NOT NULL,
		stop_loss REAL NOT NULL DEFAULT 0,
		take_profit REAL NOT NULL DEFAULT 0,
		phase INTEGER NOT NULL DEFAULT 0,
		be_applied INTEGER NOT NULL DEFAULT 0,
		trailing_activated INTEGER NOT NULL DEFAULT 0,
		partial_done INTEGER NOT NULL DEFAULT 0,
		is_stacked INTEGER NOT NULL DEFAULT 0,
		last_update TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trade_history (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		strategy_id INTEGER NOT NULL DEFAULT 0,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL DEFAULT 0,
		quantity REAL NOT NULL,
		leverage INTEGER NOT NULL DEFAULT 1,
		pnl REAL NOT NULL DEFAULT 0,
		open_time TIMESTAMP NOT NULL,
		close_time TIMESTAMP NOT NULL,
		close_reason TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_managed_trades_symbol ON managed_trades (symbol);
	CREATE INDEX IF NOT EXISTS idx_trade_history_symbol_close_time ON trade_history (symbol, close_time);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- TradeRepository Implementation ---

// Save inserts or replaces the trade record keyed by its ID.
func (r *Repository) Save(ctx context.Context, trade *domain.Trade) error {
	const query = `
	INSERT OR REPLACE INTO managed_trades (
		id, symbol, side, strategy_id, entry_price, initial_stop,
		initial_quantity, open_time, leverage, quantity, stop_loss,
		take_profit, phase, be_applied, trailing_activated, partial_done,
		is_stacked, last_update
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		trade.ID, trade.Symbol, string(trade.Side), trade.StrategyID,
		trade.EntryPrice, trade.InitialStop, trade.InitialQuantity,
		trade.OpenTime, trade.Leverage, trade.Quantity, trade.StopLoss,
		trade.TakeProfit, int(trade.Phase), trade.BEApplied,
		trade.TrailingActivated, trade.PartialDone, trade.IsStacked,
		trade.LastUpdate,
	)
	if err != nil {
		return fmt.Errorf("failed to save trade %s: %w: %w", trade.ID, ports.ErrUpdateFailed, err)
	}
	r.logger.Debug(ctx, "Trade saved", map[string]interface{}{"tradeID": trade.ID, "symbol": trade.Symbol})
	return nil
}

// LoadAll retrieves every managed trade record.
func (r *Repository) LoadAll(ctx context.Context) ([]*domain.Trade, error) {
	const query = `
	SELECT id, symbol, side, strategy_id, entry_price, initial_stop,
		initial_quantity, open_time, leverage, quantity, stop_loss,
		take_profit, phase, be_applied, trailing_activated, partial_done,
		is_stacked, last_update
	FROM managed_trades`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load managed trades: %w: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	var trades []*domain.Trade
	for rows.Next() {
		t := &domain.Trade{}
		var side string
		var phase int
		if err := rows.Scan(
			&t.ID, &t.Symbol, &side, &t.StrategyID, &t.EntryPrice,
			&t.InitialStop, &t.InitialQuantity, &t.OpenTime, &t.Leverage,
			&t.Quantity, &t.StopLoss, &t.TakeProfit, &phase, &t.BEApplied,
			&t.TrailingActivated, &t.PartialDone, &t.IsStacked, &t.LastUpdate,
		); err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w: %w", ports.ErrQueryFailed, err)
		}
		t.Side = domain.Side(side)
		t.Phase = domain.TradePhase(phase)
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating trade rows: %w: %w", ports.ErrQueryFailed, err)
	}
	return trades, nil
}

// Delete removes a managed trade record by ID. Missing records are not an
// error.
func (r *Repository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM managed_trades WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete trade %s: %w: %w", id, ports.ErrDeleteFailed, err)
	}
	return nil
}

// Archive atomically removes the managed record and appends it to the
// historical trade store.
func (r *Repository) Archive(ctx context.Context, closed *domain.ClosedTrade) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin archive transaction: %w: %w", ports.ErrDBConnection, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM managed_trades WHERE id = ?`, closed.ID); err != nil {
		return fmt.Errorf("failed to remove managed trade %s: %w: %w", closed.ID, ports.ErrDeleteFailed, err)
	}

	const insert = `
	INSERT INTO trade_history (
		id, symbol, side, strategy_id, entry_price, exit_price, quantity,
		leverage, pnl, open_time, close_time, close_reason
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insert,
		closed.ID, closed.Symbol, string(closed.Side), closed.StrategyID,
		closed.EntryPrice, closed.ExitPrice, closed.Quantity, closed.Leverage,
		closed.PNL, closed.OpenTime, closed.CloseTime, string(closed.CloseReason),
	); err != nil {
		return fmt.Errorf("failed to insert history for trade %s: %w: %w", closed.ID, ports.ErrUpdateFailed, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit archive for trade %s: %w: %w", closed.ID, ports.ErrUpdateFailed, err)
	}
	r.logger.Debug(ctx, "Trade archived", map[string]interface{}{"tradeID": closed.ID, "reason": string(closed.CloseReason)})
	return nil
}

// HistoryBySymbol retrieves the most recent archived trades for a symbol,
// newest first.
func (r *Repository) HistoryBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.ClosedTrade, error) {
	const query = `
	SELECT id, symbol, side, strategy_id, entry_price, exit_price, quantity,
		leverage, pnl, open_time, close_time, close_reason
	FROM trade_history
	WHERE symbol = ?
	ORDER BY close_time DESC
	LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history for %s: %w: %w", symbol, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	var out []*domain.ClosedTrade
	for rows.Next() {
		c := &domain.ClosedTrade{}
		var side, reason string
		if err := rows.Scan(
			&c.ID, &c.Symbol, &side, &c.StrategyID, &c.EntryPrice,
			&c.ExitPrice, &c.Quantity, &c.Leverage, &c.PNL, &c.OpenTime,
			&c.CloseTime, &reason,
		); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w: %w", ports.ErrQueryFailed, err)
		}
		c.Side = domain.Side(side)
		c.CloseReason = domain.CloseReason(reason)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating history rows: %w: %w", ports.ErrQueryFailed, err)
	}
	return out, nil
}

var _ ports.TradeRepository = (*Repository)(nil)
