// Package binanceclient implements the MarketData and OrderManager ports
// against the Binance USDⓈ-M futures REST API.
package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"

	"trailbot/internal/domain"
	"trailbot/internal/ports"
)

const (
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	// symbolInfoTTL bounds how long tick/fee metadata is served from cache.
	symbolInfoTTL = time.Hour
)

// Client implements ports.MarketData and ports.OrderManager using the
// go-binance library.
type Client struct {
	futuresClient *futures.Client
	logger        ports.Logger

	infoMu    sync.Mutex
	infoCache map[string]*cachedInfo
}

type cachedInfo struct {
	info    *ports.SymbolInfo
	fetched time.Time
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	Logger     ports.Logger
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	return &Client{
		futuresClient: client,
		logger:        cfg.Logger,
		infoCache:     make(map[string]*cachedInfo),
	}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp outside of recvWindow
			mappedErr = ports.ErrTimeout
		case -1022, -2014, -2015: // Signature / API key problems
			mappedErr = ports.ErrAuthenticationFailed
		case -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116,
			-1117, -1120, -1121, -1125, -1127, -1128, -1130, -4003, -4014, -4015:
			mappedErr = ports.ErrInvalidRequest
		case -2010, -2022: // New order / reduce-only rejected
			mappedErr = ports.ErrOrderPlacementFailed
		case -2011: // Cancel order rejected
			mappedErr = ports.ErrOrderCancelFailed
		case -2013: // Order does not exist
			mappedErr = ports.ErrOrderNotFound
		case -2019, -3005, -3041, -4047:
			mappedErr = ports.ErrInsufficientFunds
		case -4044:
			mappedErr = ports.ErrPositionNotFound
		default:
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// --- ports.MarketData ---

// GetKlines retrieves historical klines for the given symbol, oldest first.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error) {
	op := "GetKlines"
	raw, err := c.futuresClient.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	if len(raw) < limit {
		return nil, fmt.Errorf("%s: got %d of %d requested bars for %s: %w",
			op, len(raw), limit, symbol, ports.ErrInsufficientData)
	}

	klines := make([]*domain.Kline, 0, len(raw))
	for _, k := range raw {
		dk, err := translateKline(symbol, interval, k)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		klines = append(klines, dk)
	}
	return klines, nil
}

// GetMarkPrice retrieves the current mark price for a given symbol.
func (c *Client) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	op := "GetMarkPrice"
	tickers, err := c.futuresClient.NewPremiumIndexService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	if len(tickers) == 0 {
		err := fmt.Errorf("no price data returned for symbol %s", symbol)
		return 0, c.handleError(ctx, err, op)
	}

	price, err := strconv.ParseFloat(tickers[0].MarkPrice, 64)
	if err != nil {
		parseErr := fmt.Errorf("could not parse price '%s': %w", tickers[0].MarkPrice, err)
		return 0, c.handleError(ctx, parseErr, op)
	}
	return price, nil
}

// GetSymbolInfo retrieves tick size, quantity step and taker fee for a
// symbol. Results are cached; the exchange info endpoint is heavy and this
// metadata changes rarely.
func (c *Client) GetSymbolInfo(ctx context.Context, symbol string) (*ports.SymbolInfo, error) {
	op := "GetSymbolInfo"

	c.infoMu.Lock()
	if cached, ok := c.infoCache[symbol]; ok && time.Since(cached.fetched) < symbolInfoTTL {
		c.infoMu.Unlock()
		return cached.info, nil
	}
	c.infoMu.Unlock()

	exInfo, err := c.futuresClient.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	var info *ports.SymbolInfo
	for i := range exInfo.Symbols {
		s := &exInfo.Symbols[i]
		if s.Symbol != symbol {
			continue
		}
		info = &ports.SymbolInfo{Symbol: symbol}
		if pf := s.PriceFilter(); pf != nil {
			info.TickSize, err = strconv.ParseFloat(pf.TickSize, 64)
			if err != nil {
				return nil, c.handleError(ctx, fmt.Errorf("could not parse tick size '%s': %w", pf.TickSize, err), op)
			}
		}
		if lf := s.LotSizeFilter(); lf != nil {
			info.QtyStep, err = strconv.ParseFloat(lf.StepSize, 64)
			if err != nil {
				return nil, c.handleError(ctx, fmt.Errorf("could not parse step size '%s': %w", lf.StepSize, err), op)
			}
		}
		break
	}
	if info == nil {
		err := fmt.Errorf("symbol %s not found in exchange info: %w", symbol, ports.ErrNotFound)
		return nil, c.handleError(ctx, err, op)
	}

	rate, err := c.futuresClient.NewCommissionRateService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	info.TakerFeeRate, err = strconv.ParseFloat(rate.TakerCommissionRate, 64)
	if err != nil {
		return nil, c.handleError(ctx, fmt.Errorf("could not parse taker fee '%s': %w", rate.TakerCommissionRate, err), op)
	}

	c.infoMu.Lock()
	c.infoCache[symbol] = &cachedInfo{info: info, fetched: time.Now()}
	c.infoMu.Unlock()

	c.logger.Debug(ctx, op+" fetched", map[string]interface{}{
		"symbol": symbol, "tickSize": info.TickSize, "qtyStep": info.QtyStep, "takerFee": info.TakerFeeRate,
	})
	return info, nil
}

// --- ports.OrderManager ---

// ModifyStopLoss cancels any existing protective stop for the position and
// places a fresh close-position stop-market order at stopPrice. The price is
// snapped onto the symbol's tick grid first; off-grid stop prices fail the
// exchange PRICE_FILTER with -4014.
func (c *Client) ModifyStopLoss(ctx context.Context, symbol string, side domain.Side, quantity, stopPrice float64) error {
	op := "ModifyStopLoss"

	if info, err := c.GetSymbolInfo(ctx, symbol); err == nil && info.TickSize > 0 {
		stopPrice = alignToTick(stopPrice, info.TickSize, !side.IsLong())
	}

	if err := c.cancelStopOrders(ctx, symbol); err != nil {
		return err
	}

	_, err := c.futuresClient.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side.Opposite())).
		Type(futures.OrderTypeStopMarket).
		StopPrice(formatPrice(stopPrice)).
		ClosePosition(true).
		Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol": symbol, "side": string(side), "stopPrice": stopPrice,
	})
	return nil
}

// cancelStopOrders removes all open stop-market orders for the symbol.
// A stop that was already filled or cancelled is not an error.
func (c *Client) cancelStopOrders(ctx context.Context, symbol string) error {
	op := "CancelStopOrders"
	open, err := c.futuresClient.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	for _, o := range open {
		if o.Type != futures.OrderTypeStopMarket {
			continue
		}
		_, err := c.futuresClient.NewCancelOrderService().Symbol(symbol).OrderID(o.OrderID).Do(ctx)
		if err != nil {
			translated := c.handleError(ctx, err, op)
			if errors.Is(translated, ports.ErrOrderNotFound) {
				c.logger.Warn(ctx, op+": order already gone", map[string]interface{}{"symbol": symbol, "orderID": o.OrderID})
				continue
			}
			return translated
		}
	}
	return nil
}

// ReducePosition closes qty of the position with a reduce-only market order.
func (c *Client) ReducePosition(ctx context.Context, symbol string, side domain.Side, qty float64) error {
	op := "ReducePosition"
	_, err := c.futuresClient.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side.Opposite())).
		Type(futures.OrderTypeMarket).
		Quantity(formatQuantity(qty)).
		ReduceOnly(true).
		Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol": symbol, "side": string(side), "quantity": qty,
	})
	return nil
}

// ClosePosition closes the full position with a reduce-only market order.
func (c *Client) ClosePosition(ctx context.Context, symbol string, side domain.Side) error {
	op := "ClosePosition"
	positions, err := c.futuresClient.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	var qty float64
	for _, p := range positions {
		amt, _ := strconv.ParseFloat(p.PositionAmt, 64)
		if amt < 0 {
			amt = -amt
		}
		qty += amt
	}
	if qty == 0 {
		return fmt.Errorf("%s: no open position for %s: %w", op, symbol, ports.ErrPositionNotFound)
	}
	return c.ReducePosition(ctx, symbol, side, qty)
}

// GetOpenPositions returns all positions with non-zero exposure.
func (c *Client) GetOpenPositions(ctx context.Context) ([]*ports.Position, error) {
	op := "GetOpenPositions"
	raw, err := c.futuresClient.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	var positions []*ports.Position
	for _, p := range raw {
		amt, err := strconv.ParseFloat(p.PositionAmt, 64)
		if err != nil || amt == 0 {
			continue
		}
		pos, err := translatePosition(p, amt)
		if err != nil {
			c.logger.Warn(ctx, op+": skipping unparseable position", map[string]interface{}{
				"symbol": p.Symbol, "error": err.Error(),
			})
			continue
		}
		positions = append(positions, pos)
	}
	return positions, nil
}

// --- Translation helpers ---

func translateKline(symbol, interval string, k *futures.Kline) (*domain.Kline, error) {
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return nil, fmt.Errorf("bad open '%s': %w", k.Open, err)
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return nil, fmt.Errorf("bad high '%s': %w", k.High, err)
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return nil, fmt.Errorf("bad low '%s': %w", k.Low, err)
	}
	closeP, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return nil, fmt.Errorf("bad close '%s': %w", k.Close, err)
	}
	volume, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return nil, fmt.Errorf("bad volume '%s': %w", k.Volume, err)
	}
	closeTime := time.UnixMilli(k.CloseTime)
	return &domain.Kline{
		OpenTime:  time.UnixMilli(k.OpenTime),
		CloseTime: closeTime,
		Symbol:    symbol,
		Interval:  interval,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closeP,
		Volume:    volume,
		IsFinal:   closeTime.Before(time.Now()),
	}, nil
}

func translatePosition(p *futures.PositionRisk, amt float64) (*ports.Position, error) {
	entry, err := strconv.ParseFloat(p.EntryPrice, 64)
	if err != nil {
		return nil, fmt.Errorf("bad entry price '%s': %w", p.EntryPrice, err)
	}
	mark, err := strconv.ParseFloat(p.MarkPrice, 64)
	if err != nil {
		return nil, fmt.Errorf("bad mark price '%s': %w", p.MarkPrice, err)
	}
	leverage, err := strconv.Atoi(p.Leverage)
	if err != nil {
		leverage = 1
	}
	pnl, _ := strconv.ParseFloat(p.UnRealizedProfit, 64)

	side := domain.Long
	qty := amt
	if amt < 0 {
		side = domain.Short
		qty = -amt
	}
	return &ports.Position{
		Symbol:     p.Symbol,
		Side:       side,
		Quantity:   qty,
		EntryPrice: entry,
		MarkPrice:  mark,
		Leverage:   leverage,
		UnrealPNL:  pnl,
	}, nil
}

// alignToTick snaps a stop price onto the tick grid, down for longs (the
// stop sits below price) and up for shorts, so the adjustment never moves
// the stop through the market.
func alignToTick(price, tick float64, up bool) float64 {
	const nudge = 1e-9
	if up {
		return math.Ceil(price/tick-nudge) * tick
	}
	return math.Floor(price/tick+nudge) * tick
}

// formatPrice renders a price without trailing zeros, as the API expects.
func formatPrice(price float64) string {
	return strconv.FormatFloat(price, 'f', -1, 64)
}

func formatQuantity(qty float64) string {
	return strconv.FormatFloat(qty, 'f', -1, 64)
}
