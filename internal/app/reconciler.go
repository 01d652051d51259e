package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"trailbot/config"
	"trailbot/internal/domain"
	"trailbot/internal/ports"
	"trailbot/internal/risk"
)

// Reconciler keeps the managed trade set and the exchange in agreement:
// local records without a live position are archived, live positions without
// a record are adopted with a conservative protective stop.
type Reconciler struct {
	cfg      *config.Config
	logger   ports.Logger
	market   ports.MarketData
	orders   ports.OrderManager
	repo     ports.TradeRepository
	notifier ports.Notifier
	service  *Service

	// Rogue symbols that already triggered an operator notification.
	notifiedRogue map[string]bool
}

// NewReconciler creates a Reconciler bound to the given service.
func NewReconciler(
	cfg *config.Config,
	logger ports.Logger,
	market ports.MarketData,
	orders ports.OrderManager,
	repo ports.TradeRepository,
	notifier ports.Notifier,
	service *Service,
) (*Reconciler, error) {
	if cfg == nil || logger == nil || market == nil || orders == nil || repo == nil || notifier == nil || service == nil {
		return nil, fmt.Errorf("missing required dependencies for Reconciler")
	}
	return &Reconciler{
		cfg:           cfg,
		logger:        logger,
		market:        market,
		orders:        orders,
		repo:          repo,
		notifier:      notifier,
		service:       service,
		notifiedRogue: make(map[string]bool),
	}, nil
}

// Run reconciles once immediately, then on every reconcile interval until
// the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	if err := r.Reconcile(ctx); err != nil {
		r.logger.Error(ctx, err, "Startup reconciliation failed")
	}

	ticker := time.NewTicker(r.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.Reconcile(ctx); err != nil {
				r.logger.Error(ctx, err, "Periodic reconciliation failed")
			}
		}
	}
}

// Reconcile performs one full pass in both directions.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	positions, err := r.orders.GetOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch open positions: %w", err)
	}

	bySymbol := make(map[string]*ports.Position, len(positions))
	for _, p := range positions {
		if p.Quantity > 0 {
			bySymbol[p.Symbol] = p
		}
	}

	managed := r.service.ManagedTrades()
	managedSymbols := make(map[string]bool, len(managed))
	for _, t := range managed {
		managedSymbols[t.Symbol] = true
	}

	// Direction 1: local records whose position is gone.
	for _, trade := range managed {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, ok := bySymbol[trade.Symbol]; ok {
			continue
		}
		if err := r.service.archiveClosed(ctx, trade, domain.CloseReasonReconciled); err != nil {
			r.logger.Error(ctx, err, "Failed to archive stale trade", map[string]interface{}{"tradeID": trade.ID})
		}
	}

	// Direction 2: live positions nobody is managing.
	for symbol, pos := range bySymbol {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if managedSymbols[symbol] {
			continue
		}
		if err := r.adoptRogue(ctx, pos); err != nil {
			r.logger.Error(ctx, err, "Failed to adopt rogue position", map[string]interface{}{"symbol": symbol})
		}
	}
	return nil
}

// adoptRogue imports one unmanaged exchange position: derive a protective
// stop, place it, persist the new trade record and register it with the
// monitor.
func (r *Reconciler) adoptRogue(ctx context.Context, pos *ports.Position) error {
	price := pos.MarkPrice
	if p, err := r.market.GetMarkPrice(ctx, pos.Symbol); err == nil {
		price = p
	}

	var klines []*domain.Kline
	if k, err := r.market.GetKlines(ctx, pos.Symbol, r.cfg.Timeframe, r.cfg.KlineLimit); err == nil {
		klines = k
	} else {
		r.logger.Warn(ctx, "No kline history for rogue position; using percentage stop", map[string]interface{}{
			"symbol": pos.Symbol, "error": err.Error(),
		})
	}

	stop := risk.DefaultStop(pos.Side, price, klines, r.cfg.Stop)

	trade := &domain.Trade{
		ID:              uuid.NewString(),
		Symbol:          pos.Symbol,
		Side:            pos.Side,
		EntryPrice:      pos.EntryPrice,
		InitialStop:     stop,
		InitialQuantity: pos.Quantity,
		OpenTime:        time.Now().UTC(), // true entry time is unknown for an adopted position
		Leverage:        pos.Leverage,
		Quantity:        pos.Quantity,
		Phase:           domain.PhaseInitial,
	}

	// The stop order goes on only when it actually protects the position.
	protective := (pos.Side.IsLong() && stop < price) || (!pos.Side.IsLong() && stop > price)
	if protective {
		if err := r.orders.ModifyStopLoss(ctx, pos.Symbol, pos.Side, pos.Quantity, stop); err != nil {
			r.logger.Error(ctx, err, "Failed to place stop for rogue position; adopting without one", map[string]interface{}{
				"symbol": pos.Symbol, "stop": stop,
			})
		} else {
			trade.StopLoss = stop
		}
	} else {
		r.logger.Warn(ctx, "Derived stop on wrong side of price; adopting without a stop", map[string]interface{}{
			"symbol": pos.Symbol, "stop": stop, "price": price,
		})
	}

	if err := r.service.Adopt(ctx, trade); err != nil {
		return err
	}

	// A rogue position appearing right after an archive on the same symbol
	// is often the archived trade still live on the exchange.
	recentNote := ""
	if hist, err := r.repo.HistoryBySymbol(ctx, pos.Symbol, 1); err == nil && len(hist) > 0 {
		if age := time.Since(hist[0].CloseTime); age < r.cfg.ReconcileInterval {
			r.logger.Warn(ctx, "Adopted rogue position on a recently archived symbol", map[string]interface{}{
				"symbol": pos.Symbol, "lastArchivedID": hist[0].ID, "age": age.String(),
			})
			recentNote = fmt.Sprintf(" (previous trade archived %s ago)", age.Round(time.Second))
		}
	}

	r.logger.Info(ctx, "Adopted rogue position", map[string]interface{}{
		"tradeID": trade.ID, "symbol": pos.Symbol, "side": string(pos.Side),
		"quantity": pos.Quantity, "entry": pos.EntryPrice, "stop": trade.StopLoss,
	})
	if !r.notifiedRogue[pos.Symbol] {
		r.notifiedRogue[pos.Symbol] = true
		r.notifier.Notify(ctx, fmt.Sprintf(
			"Adopted unmanaged %s position on %s: qty %.4f @ %.4f, stop %.4f%s",
			pos.Side, pos.Symbol, pos.Quantity, pos.EntryPrice, trade.StopLoss, recentNote))
	}
	return nil
}
