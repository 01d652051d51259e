package app

import (
	"context"
	"sync"
	"time"

	"trailbot/config"
	"trailbot/internal/domain"
	"trailbot/internal/ports"
	"trailbot/internal/risk"
	"trailbot/internal/trailing"
)

// --- Mocks (hand-written structs implementing the ports) ---

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type mockMarket struct {
	klinesFn func(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error)
	priceFn  func(ctx context.Context, symbol string) (float64, error)
	infoFn   func(ctx context.Context, symbol string) (*ports.SymbolInfo, error)
}

func (m *mockMarket) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error) {
	return m.klinesFn(ctx, symbol, interval, limit)
}

func (m *mockMarket) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	return m.priceFn(ctx, symbol)
}

func (m *mockMarket) GetSymbolInfo(ctx context.Context, symbol string) (*ports.SymbolInfo, error) {
	return m.infoFn(ctx, symbol)
}

type stopCall struct {
	Symbol string
	Price  float64
	Qty    float64
}

type mockOrders struct {
	mu        sync.Mutex
	positions []*ports.Position
	posErr    error
	stopErr   error
	reduceErr error

	stopCalls   []stopCall
	reduceCalls []stopCall
	closeCalls  []string
}

func (m *mockOrders) ModifyStopLoss(ctx context.Context, symbol string, side domain.Side, quantity, stopPrice float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopErr != nil {
		return m.stopErr
	}
	m.stopCalls = append(m.stopCalls, stopCall{Symbol: symbol, Price: stopPrice, Qty: quantity})
	return nil
}

func (m *mockOrders) ReducePosition(ctx context.Context, symbol string, side domain.Side, qty float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reduceErr != nil {
		return m.reduceErr
	}
	m.reduceCalls = append(m.reduceCalls, stopCall{Symbol: symbol, Qty: qty})
	return nil
}

func (m *mockOrders) ClosePosition(ctx context.Context, symbol string, side domain.Side) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalls = append(m.closeCalls, symbol)
	return nil
}

func (m *mockOrders) GetOpenPositions(ctx context.Context) ([]*ports.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.posErr != nil {
		return nil, m.posErr
	}
	return m.positions, nil
}

type mockRepo struct {
	mu       sync.Mutex
	saved    map[string]*domain.Trade
	archived []*domain.ClosedTrade
	loadErr  error
	saveErr  error
}

func newMockRepo() *mockRepo {
	return &mockRepo{saved: make(map[string]*domain.Trade)}
}

func (m *mockRepo) Save(ctx context.Context, trade *domain.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	cp := *trade
	m.saved[trade.ID] = &cp
	return nil
}

func (m *mockRepo) LoadAll(ctx context.Context) ([]*domain.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	out := make([]*domain.Trade, 0, len(m.saved))
	for _, t := range m.saved {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockRepo) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.saved, id)
	return nil
}

func (m *mockRepo) Archive(ctx context.Context, closed *domain.ClosedTrade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.saved, closed.ID)
	m.archived = append(m.archived, closed)
	return nil
}

func (m *mockRepo) HistoryBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.ClosedTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.ClosedTrade
	for i := len(m.archived) - 1; i >= 0 && len(out) < limit; i-- {
		if m.archived[i].Symbol == symbol {
			out = append(out, m.archived[i])
		}
	}
	return out, nil
}

type mockNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (m *mockNotifier) Notify(ctx context.Context, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msg)
}

func (m *mockNotifier) messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.msgs...)
}

// --- Shared fixtures ---

func testConfig() *config.Config {
	return &config.Config{
		Timeframe:         "15m",
		TimeframeDur:      15 * time.Minute,
		KlineLimit:        50,
		ATRLength:         14,
		ADXPeriod:         14,
		Stop:              risk.DefaultStopParams(),
		MonitorInterval:   20 * time.Second,
		ReconcileInterval: time.Hour,
		StopFailureAlerts: 3,
		Trailing:          trailing.DefaultConfig(),
	}
}

// trendKlines returns steadily rising bars with a constant true range of 2,
// giving Wilder ATR 2 and a high ADX.
func trendKlines(n int) []*domain.Kline {
	out := make([]*domain.Kline, 0, n)
	for i := 0; i < n; i++ {
		base := 100.0 + float64(i)
		out = append(out, &domain.Kline{
			Open: base, High: base + 1, Low: base - 1, Close: base, IsFinal: true,
		})
	}
	return out
}

func marketWith(klines []*domain.Kline, price float64) *mockMarket {
	return &mockMarket{
		klinesFn: func(ctx context.Context, symbol, interval string, limit int) ([]*domain.Kline, error) {
			return klines, nil
		},
		priceFn: func(ctx context.Context, symbol string) (float64, error) {
			return price, nil
		},
		infoFn: func(ctx context.Context, symbol string) (*ports.SymbolInfo, error) {
			return &ports.SymbolInfo{
				Symbol:       symbol,
				TickSize:     0.1,
				TakerFeeRate: 0.0007,
				QtyStep:      0.001,
			}, nil
		},
	}
}

func openTrade(id, symbol string) *domain.Trade {
	now := time.Now().UTC()
	return &domain.Trade{
		ID:              id,
		Symbol:          symbol,
		Side:            domain.Long,
		EntryPrice:      100,
		InitialStop:     98,
		InitialQuantity: 1.0,
		OpenTime:        now.Add(-50 * time.Minute), // 3 full 15m bars ago
		Leverage:        5,
		Quantity:        1.0,
		StopLoss:        98,
		Phase:           domain.PhaseInitial,
	}
}
