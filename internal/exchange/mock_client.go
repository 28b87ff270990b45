package exchange

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// MockClient provides simulated market data for paper trading and tests.
type MockClient struct {
	mu         sync.RWMutex
	prices     map[string]float64
	lastUpdate time.Time
	nextOrder  int64
}

var _ Client = (*MockClient)(nil)

func NewMockClient() *MockClient {
	return &MockClient{
		prices: map[string]float64{
			"BTCUSDT":  104500.00,
			"ETHUSDT":  3900.00,
			"BNBUSDT":  710.00,
			"SOLUSDT":  220.00,
			"XRPUSDT":  2.35,
			"ADAUSDT":  1.05,
			"DOGEUSDT": 0.40,
			"LINKUSDT": 28.00,
			"LTCUSDT":  115.00,
			"NEARUSDT": 7.00,
		},
		lastUpdate: time.Now(),
		nextOrder:  1,
	}
}

// updatePrices adds small random variations to simulate market movement.
func (mc *MockClient) updatePrices() {
	if time.Since(mc.lastUpdate) < time.Second {
		return
	}
	mc.lastUpdate = time.Now()
	for symbol, price := range mc.prices {
		drift := (rand.Float64() - 0.5) * 0.004
		mc.prices[symbol] = price * (1 + drift)
	}
}

// SetPrice pins a symbol's price, for tests.
func (mc *MockClient) SetPrice(symbol string, price float64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.prices[symbol] = price
}

func (mc *MockClient) GetPrice(_ context.Context, symbol string) (float64, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.updatePrices()
	price, ok := mc.prices[symbol]
	if !ok {
		return 0, &APIError{StatusCode: 400, Code: -1121, Message: fmt.Sprintf("invalid symbol %s", symbol)}
	}
	return price, nil
}

func (mc *MockClient) GetKlines(ctx context.Context, symbol, _ string, limit int) ([]Kline, error) {
	price, err := mc.GetPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}

	// Random walk backwards from the current price.
	klines := make([]Kline, limit)
	now := time.Now().UnixMilli()
	p := price
	for i := limit - 1; i >= 0; i-- {
		open := p * (1 + (rand.Float64()-0.5)*0.01)
		klines[i] = Kline{
			OpenTime:  now - int64(limit-i)*60_000,
			Open:      open,
			High:      maxFloat(open, p) * 1.002,
			Low:       minFloat(open, p) * 0.998,
			Close:     p,
			Volume:    rand.Float64() * 1000,
			CloseTime: now - int64(limit-i-1)*60_000,
		}
		p = open
	}
	return klines, nil
}

func (mc *MockClient) PlaceMarketSell(ctx context.Context, symbol string, quantity float64) (*OrderResult, error) {
	price, err := mc.GetPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if quantity <= 0 {
		return nil, &OrderRejectedError{Symbol: symbol, Code: -1013, Reason: "invalid quantity"}
	}

	mc.mu.Lock()
	orderID := mc.nextOrder
	mc.nextOrder++
	mc.mu.Unlock()

	return &OrderResult{
		Symbol:      symbol,
		OrderID:     orderID,
		ExecutedQty: quantity,
		QuoteQty:    quantity * price,
		Status:      "FILLED",
		Side:        "SELL",
	}, nil
}

func (mc *MockClient) Ping(context.Context) error { return nil }

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
