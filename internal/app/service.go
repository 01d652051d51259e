// Package app orchestrates the trade-management loop: it holds the managed
// trade set, feeds the trailing engine with market data on a timer and
// applies its decisions through the exchange and repository ports.
package app

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"trailbot/config"
	"trailbot/internal/domain"
	"trailbot/internal/indicators"
	"trailbot/internal/ports"
	"trailbot/internal/trailing"
)

// Service runs the periodic management loop over all open trades.
type Service struct {
	cfg      *config.Config
	logger   ports.Logger
	market   ports.MarketData
	orders   ports.OrderManager
	repo     ports.TradeRepository
	notifier ports.Notifier

	// mu guards trades, stopFails and every mutation of a managed trade:
	// the full evaluate-apply-persist cycle for a trade runs with it held,
	// so the reconciler never observes a half-applied update and a trade
	// cannot be archived twice.
	mu     sync.Mutex
	trades map[string]*domain.Trade

	// Consecutive stop-update failures per trade ID; an alert fires when
	// the configured threshold is reached.
	stopFails map[string]int
}

// NewService creates the application service instance.
func NewService(
	cfg *config.Config,
	logger ports.Logger,
	market ports.MarketData,
	orders ports.OrderManager,
	repo ports.TradeRepository,
	notifier ports.Notifier,
) (*Service, error) {
	if cfg == nil || logger == nil || market == nil || orders == nil || repo == nil || notifier == nil {
		return nil, fmt.Errorf("missing required dependencies for Service")
	}
	if cfg.MonitorInterval <= 0 {
		return nil, fmt.Errorf("configuration MonitorInterval must be positive")
	}
	if err := cfg.Trailing.Validate(); err != nil {
		return nil, fmt.Errorf("invalid trailing configuration: %w", err)
	}
	return &Service{
		cfg:       cfg,
		logger:    logger,
		market:    market,
		orders:    orders,
		repo:      repo,
		notifier:  notifier,
		trades:    make(map[string]*domain.Trade),
		stopFails: make(map[string]int),
	}, nil
}

// Start runs the monitor loop until the context is cancelled. Load must
// have been called first so the managed set reflects persisted state.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info(ctx, "Starting trade monitor...")

	ticker := time.NewTicker(s.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "Monitor loop stopped", map[string]interface{}{"reason": ctx.Err().Error()})
			return nil
		case <-ticker.C:
			start := time.Now()
			s.RunTick(ctx)
			if elapsed := time.Since(start); elapsed > s.cfg.MonitorInterval {
				s.logger.Warn(ctx, "Monitor tick overran its interval", map[string]interface{}{
					"elapsed":  elapsed.String(),
					"interval": s.cfg.MonitorInterval.String(),
				})
			}
		}
	}
}

// Adopt registers a trade (typically from the reconciler) and persists it.
func (s *Service) Adopt(ctx context.Context, trade *domain.Trade) error {
	if err := s.repo.Save(ctx, trade); err != nil {
		return fmt.Errorf("failed to persist adopted trade %s: %w", trade.ID, err)
	}
	s.mu.Lock()
	s.trades[trade.ID] = trade
	s.mu.Unlock()
	return nil
}

// ManagedTrades returns a snapshot of the managed set.
func (s *Service) ManagedTrades() []*domain.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.Trade, 0, len(s.trades))
	for _, t := range s.trades {
		out = append(out, t)
	}
	return out
}

// Load populates the managed set from the repository. It must run before
// Start and before the reconciler, or persisted trades would be mistaken
// for rogue positions.
func (s *Service) Load(ctx context.Context) error {
	trades, err := s.repo.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load managed trades: %w", err)
	}
	s.mu.Lock()
	for _, t := range trades {
		s.trades[t.ID] = t
	}
	s.mu.Unlock()
	s.logger.Info(ctx, "Managed trades loaded", map[string]interface{}{"count": len(trades)})
	return nil
}

// RunTick evaluates every managed trade once. A failing trade is logged and
// skipped; it never takes the rest of the set down with it.
func (s *Service) RunTick(ctx context.Context) {
	trades := s.ManagedTrades()
	if len(trades) == 0 {
		return
	}

	exchangeQty, posErr := s.openQuantities(ctx)
	if posErr != nil {
		s.logger.Error(ctx, posErr, "Failed to fetch open positions; skipping close detection this tick")
	}

	for _, trade := range trades {
		if ctx.Err() != nil {
			s.logger.Info(ctx, "Tick interrupted by shutdown", map[string]interface{}{"remaining": len(trades)})
			return
		}
		s.processTrade(ctx, trade, exchangeQty, posErr == nil)
	}
}

// processTrade runs one trade's full read-modify-write cycle under the
// service lock.
func (s *Service) processTrade(ctx context.Context, trade *domain.Trade, exchangeQty map[string]float64, haveQty bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The reconciler may have archived the trade since the snapshot.
	if _, ok := s.trades[trade.ID]; !ok {
		return
	}

	if haveQty && exchangeQty[trade.Symbol] <= 0 {
		if err := s.archiveClosedLocked(ctx, trade, domain.CloseReasonUnknown); err != nil {
			s.logger.Error(ctx, err, "Failed to archive closed trade", map[string]interface{}{"tradeID": trade.ID})
		}
		return
	}

	if err := s.evaluateTrade(ctx, trade); err != nil {
		s.logger.Error(ctx, err, "Trade evaluation failed", map[string]interface{}{
			"tradeID": trade.ID,
			"symbol":  trade.Symbol,
		})
	}
}

// openQuantities maps symbol to total open quantity on the exchange.
func (s *Service) openQuantities(ctx context.Context) (map[string]float64, error) {
	positions, err := s.orders.GetOpenPositions(ctx)
	if err != nil {
		return nil, err
	}
	qty := make(map[string]float64, len(positions))
	for _, p := range positions {
		qty[p.Symbol] += p.Quantity
	}
	return qty, nil
}

// evaluateTrade fetches fresh market data, runs the engine and applies its
// decision. The caller holds s.mu.
func (s *Service) evaluateTrade(ctx context.Context, trade *domain.Trade) error {
	klines, err := s.market.GetKlines(ctx, trade.Symbol, s.cfg.Timeframe, s.cfg.KlineLimit)
	if err != nil {
		return fmt.Errorf("klines for %s: %w", trade.Symbol, err)
	}
	price, err := s.market.GetMarkPrice(ctx, trade.Symbol)
	if err != nil {
		return fmt.Errorf("mark price for %s: %w", trade.Symbol, err)
	}
	info, err := s.market.GetSymbolInfo(ctx, trade.Symbol)
	if err != nil {
		return fmt.Errorf("symbol info for %s: %w", trade.Symbol, err)
	}

	in := s.buildInput(trade, klines, price, info)
	dec := trailing.Evaluate(s.cfg.Trailing, in)
	s.logger.Debug(ctx, "Trailing decision", map[string]interface{}{
		"tradeID": trade.ID,
		"symbol":  trade.Symbol,
		"price":   price,
		"reason":  dec.Reason,
	})
	return s.applyDecision(ctx, trade, dec, info)
}

// buildInput assembles the engine snapshot for one trade from fresh market
// data. Indicator values that could not be computed are passed as nil.
func (s *Service) buildInput(trade *domain.Trade, klines []*domain.Kline, price float64, info *ports.SymbolInfo) trailing.Input {
	in := trailing.Input{
		Side:         trade.Side,
		EntryPrice:   trade.EntryPrice,
		CurrentPrice: price,
		InitialStop:  trade.InitialStop,
		BarsElapsed:  trade.BarsSinceEntry(time.Now().UTC(), s.cfg.TimeframeDur),
		BEApplied:    trade.BEApplied,
		IsStacked:    trade.IsStacked,
		TickSize:     info.TickSize,
		TakerFeeRate: info.TakerFeeRate,
	}
	if trade.StopLoss > 0 {
		sl := trade.StopLoss
		in.CurrentSL = &sl
	}
	in.ATR = indicators.SafeLast(indicators.ATRWilder(klines, s.cfg.ATRLength), 0)
	if adx := indicators.Last(indicators.ADX(klines, s.cfg.ADXPeriod).ADX); !math.IsNaN(adx) {
		in.ADX = &adx
	}
	if trade.Side.IsLong() {
		if low := indicators.SwingLow(klines, s.cfg.Trailing.PivotLookback); !math.IsNaN(low) {
			in.SwingLow = &low
		}
	} else {
		if high := indicators.SwingHigh(klines, s.cfg.Trailing.PivotLookback); !math.IsNaN(high) {
			in.SwingHigh = &high
		}
	}
	return in
}

// applyDecision executes the engine outputs in their fixed order: break-even
// first, then the trailing move, then the partial close. Each successful
// mutation is persisted before the next one runs. The caller holds s.mu.
func (s *Service) applyDecision(ctx context.Context, trade *domain.Trade, dec trailing.Decision, info *ports.SymbolInfo) error {
	if dec.ActivateTrailing && !trade.TrailingActivated {
		trade.TrailingActivated = true
		if err := s.repo.Save(ctx, trade); err != nil {
			return fmt.Errorf("failed to persist trailing activation: %w", err)
		}
	}

	if dec.BEStop != nil {
		// A stop can only tighten. Adopted positions may already carry a
		// stop beyond the break-even level; moving down to it would loosen
		// protection, so the level counts as applied without an order.
		target := *dec.BEStop
		tightens := trade.StopLoss <= 0 ||
			(trade.Side.IsLong() && target > trade.StopLoss) ||
			(!trade.Side.IsLong() && target < trade.StopLoss)
		if tightens {
			if err := s.moveStop(ctx, trade, target); err != nil {
				return fmt.Errorf("break-even move failed: %w", err)
			}
		} else {
			s.logger.Debug(ctx, "Break-even skipped; stop already beyond it", map[string]interface{}{
				"tradeID": trade.ID, "symbol": trade.Symbol, "stop": trade.StopLoss, "breakEven": target,
			})
		}
		trade.BEApplied = true
		trade.AdvancePhase(domain.PhaseBreakEven)
		if err := s.repo.Save(ctx, trade); err != nil {
			return fmt.Errorf("failed to persist break-even state: %w", err)
		}
		if tightens {
			s.logger.Info(ctx, "Stop moved to break-even", map[string]interface{}{
				"tradeID": trade.ID, "symbol": trade.Symbol, "stop": trade.StopLoss,
			})
		}
	}

	if dec.NewTrailingSL != nil {
		if err := s.moveStop(ctx, trade, *dec.NewTrailingSL); err != nil {
			return fmt.Errorf("trailing move failed: %w", err)
		}
		trade.AdvancePhase(domain.PhaseTrailing)
		if err := s.repo.Save(ctx, trade); err != nil {
			return fmt.Errorf("failed to persist trailing state: %w", err)
		}
		s.logger.Info(ctx, "Trailing stop updated", map[string]interface{}{
			"tradeID": trade.ID, "symbol": trade.Symbol, "stop": trade.StopLoss,
		})
	}

	if dec.PartialClosePct != nil && !trade.PartialDone {
		if err := s.partialClose(ctx, trade, *dec.PartialClosePct, info); err != nil {
			return fmt.Errorf("partial close failed: %w", err)
		}
	}
	return nil
}

// moveStop replaces the protective stop on the exchange and tracks the
// consecutive-failure counter behind the operator alert. The caller holds
// s.mu.
func (s *Service) moveStop(ctx context.Context, trade *domain.Trade, stopPrice float64) error {
	err := s.orders.ModifyStopLoss(ctx, trade.Symbol, trade.Side, trade.Quantity, stopPrice)
	if err != nil {
		s.stopFails[trade.ID]++
		fails := s.stopFails[trade.ID]
		if fails >= s.cfg.StopFailureAlerts {
			s.stopFails[trade.ID] = 0
			s.notifier.Notify(ctx, fmt.Sprintf(
				"⚠️ %s: %d consecutive stop-update failures (trade %s), last error: %v",
				trade.Symbol, fails, trade.ID, err))
		}
		return err
	}
	s.stopFails[trade.ID] = 0
	trade.StopLoss = stopPrice
	trade.LastUpdate = time.Now().UTC()
	return nil
}

// partialClose banks part of the position. When the remainder would be
// untradeable dust the whole position is closed instead and the trade
// archived. The caller holds s.mu.
func (s *Service) partialClose(ctx context.Context, trade *domain.Trade, pct float64, info *ports.SymbolInfo) error {
	qty := roundQtyDown(trade.Quantity*pct, info.QtyStep)
	if qty <= 0 {
		s.logger.Warn(ctx, "Partial close quantity rounds to zero; skipping", map[string]interface{}{
			"tradeID": trade.ID, "quantity": trade.Quantity, "pct": pct, "step": info.QtyStep,
		})
		return nil
	}
	if remaining := roundQtyDown(trade.Quantity-qty, info.QtyStep); remaining <= 0 {
		if err := s.orders.ClosePosition(ctx, trade.Symbol, trade.Side); err != nil {
			return err
		}
		s.logger.Info(ctx, "Partial close consumed the full position", map[string]interface{}{
			"tradeID": trade.ID, "symbol": trade.Symbol, "pct": pct,
		})
		return s.archiveClosedLocked(ctx, trade, domain.CloseReasonTakeProfit)
	}
	if err := s.orders.ReducePosition(ctx, trade.Symbol, trade.Side, qty); err != nil {
		return err
	}
	trade.Quantity -= qty
	trade.PartialDone = true
	trade.AdvancePhase(domain.PhasePartialClosed)
	trade.LastUpdate = time.Now().UTC()
	if err := s.repo.Save(ctx, trade); err != nil {
		return fmt.Errorf("failed to persist partial close: %w", err)
	}
	s.logger.Info(ctx, "Partial close executed", map[string]interface{}{
		"tradeID": trade.ID, "symbol": trade.Symbol, "closedQty": qty, "remaining": trade.Quantity,
	})
	s.notifier.Notify(ctx, fmt.Sprintf("%s: banked %.4f at 1R, %.4f remaining", trade.Symbol, qty, trade.Quantity))
	return nil
}

// archiveClosed moves a trade that no longer exists on the exchange into the
// history store and drops it from the managed set. The reconciler calls it;
// the monitor loop uses the locked variant directly.
func (s *Service) archiveClosed(ctx context.Context, trade *domain.Trade, reason domain.CloseReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.archiveClosedLocked(ctx, trade, reason)
}

// archiveClosedLocked requires s.mu. Archiving an already-removed trade is
// a no-op, so the monitor and the reconciler can race to the same trade
// without writing history twice.
func (s *Service) archiveClosedLocked(ctx context.Context, trade *domain.Trade, reason domain.CloseReason) error {
	if _, ok := s.trades[trade.ID]; !ok {
		return nil
	}
	closed := &domain.ClosedTrade{
		ID:          trade.ID,
		Symbol:      trade.Symbol,
		Side:        trade.Side,
		StrategyID:  trade.StrategyID,
		EntryPrice:  trade.EntryPrice,
		Quantity:    trade.Quantity,
		Leverage:    trade.Leverage,
		OpenTime:    trade.OpenTime,
		CloseTime:   time.Now().UTC(),
		CloseReason: reason,
	}
	if err := s.repo.Archive(ctx, closed); err != nil {
		return err
	}
	delete(s.trades, trade.ID)
	delete(s.stopFails, trade.ID)
	s.logger.Info(ctx, "Trade archived", map[string]interface{}{
		"tradeID": trade.ID, "symbol": trade.Symbol, "reason": string(reason),
	})
	s.notifier.Notify(ctx, fmt.Sprintf("%s: trade %s closed (%s) and archived", trade.Symbol, trade.ID, reason))
	return nil
}

// roundQtyDown floors qty to an exact multiple of step.
func roundQtyDown(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	const nudge = 1e-9
	return math.Floor(qty/step+nudge) * step
}
