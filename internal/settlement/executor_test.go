package settlement

import (
	"context"
	"errors"
	"testing"

	"lunara-sentinel/internal/database"
	"lunara-sentinel/internal/exchange"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLedger struct {
	closed   map[int64]bool
	credits  map[int64]float64
	closeErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{closed: make(map[int64]bool), credits: make(map[int64]float64)}
}

func (f *fakeLedger) CloseTrade(_ context.Context, id, _ int64, _ float64, _, _ string) (bool, error) {
	if f.closeErr != nil {
		return false, f.closeErr
	}
	if f.closed[id] {
		return false, nil
	}
	f.closed[id] = true
	return true, nil
}

func (f *fakeLedger) CreditPaperBalance(_ context.Context, userID int64, amount float64) error {
	f.credits[userID] += amount
	return nil
}

type fakeOrders struct {
	orders []string
	err    error
	fill   *exchange.OrderResult
}

func (f *fakeOrders) PlaceMarketSell(_ context.Context, symbol string, qty float64) (*exchange.OrderResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.orders = append(f.orders, symbol)
	if f.fill != nil {
		return f.fill, nil
	}
	return &exchange.OrderResult{Symbol: symbol, ExecutedQty: qty, Status: "FILLED"}, nil
}

type fakeSlips struct {
	deleted []string
	err     error
}

func (f *fakeSlips) Delete(_ context.Context, tradeID string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, tradeID)
	return nil
}

type fakeNotifier struct {
	closes int
	lastPn float64
}

func (f *fakeNotifier) SendTradeClose(_ int64, _ string, _, _, _, pnlPercent float64, _ string) {
	f.closes++
	f.lastPn = pnlPercent
}

func paperTrade() *database.Trade {
	return &database.Trade{
		ID: 10, UserID: 100, CoinSymbol: "BTCUSDT",
		BuyPrice: 100.0, Quantity: 2.0,
		Mode: database.ModePaper, Status: database.StatusOpen,
	}
}

func liveTrade() *database.Trade {
	t := paperTrade()
	t.Mode = database.ModeLive
	return t
}

func TestPaperSettlementCreditsBalance(t *testing.T) {
	ledger := newFakeLedger()
	orders := &fakeOrders{}
	slips := &fakeSlips{}
	notify := &fakeNotifier{}
	e := NewExecutor(ledger, orders, slips, notify, database.MinNotionalUSDT)

	settled, err := e.Settle(context.Background(), paperTrade(), 110.0, database.CloseReasonTakeProfit, "autotrade")
	require.NoError(t, err)
	assert.True(t, settled)

	assert.Empty(t, orders.orders, "paper mode must not touch the exchange")
	assert.InDelta(t, 220.0, ledger.credits[100], 1e-9)
	assert.Equal(t, []string{"10"}, slips.deleted)
	assert.Equal(t, 1, notify.closes)
	assert.InDelta(t, 10.0, notify.lastPn, 1e-9)
}

func TestSettlementIsIdempotent(t *testing.T) {
	ledger := newFakeLedger()
	slips := &fakeSlips{}
	notify := &fakeNotifier{}
	e := NewExecutor(ledger, &fakeOrders{}, slips, notify, database.MinNotionalUSDT)
	trade := paperTrade()

	settled, err := e.Settle(context.Background(), trade, 110.0, database.CloseReasonTakeProfit, "autotrade")
	require.NoError(t, err)
	assert.True(t, settled)

	// Second attempt loses the conditional close and performs no side
	// effects: no second credit, no second delete, no second notification.
	settled, err = e.Settle(context.Background(), trade, 110.0, database.CloseReasonTakeProfit, "autotrade")
	require.NoError(t, err)
	assert.False(t, settled)

	assert.InDelta(t, 220.0, ledger.credits[100], 1e-9)
	assert.Len(t, slips.deleted, 1)
	assert.Equal(t, 1, notify.closes)
}

func TestLiveSettlementSellsThenCloses(t *testing.T) {
	ledger := newFakeLedger()
	orders := &fakeOrders{fill: &exchange.OrderResult{
		Symbol: "BTCUSDT", ExecutedQty: 2.0, QuoteQty: 224.0, Status: "FILLED",
	}}
	notify := &fakeNotifier{}
	e := NewExecutor(ledger, orders, &fakeSlips{}, notify, database.MinNotionalUSDT)

	settled, err := e.Settle(context.Background(), liveTrade(), 110.0, database.CloseReasonTakeProfit, "autotrade")
	require.NoError(t, err)
	assert.True(t, settled)
	assert.Equal(t, []string{"BTCUSDT"}, orders.orders)
	// Notification carries the actual fill price (112), not the trigger.
	assert.InDelta(t, 12.0, notify.lastPn, 1e-9)
}

func TestLiveSettlementFailsOpenOnRejection(t *testing.T) {
	ledger := newFakeLedger()
	orders := &fakeOrders{err: &exchange.OrderRejectedError{Symbol: "BTCUSDT", Code: -2010, Reason: "insufficient balance"}}
	slips := &fakeSlips{}
	notify := &fakeNotifier{}
	e := NewExecutor(ledger, orders, slips, notify, database.MinNotionalUSDT)

	settled, err := e.Settle(context.Background(), liveTrade(), 110.0, database.CloseReasonTakeProfit, "autotrade")
	require.NoError(t, err, "a rejection is an outcome, not a failure")
	assert.False(t, settled)

	assert.Empty(t, ledger.closed, "position must remain open for the next cycle")
	assert.Empty(t, slips.deleted)
	assert.Equal(t, 0, notify.closes)
}

func TestLiveSettlementTransportErrorPropagates(t *testing.T) {
	orders := &fakeOrders{err: errors.New("connection reset")}
	e := NewExecutor(newFakeLedger(), orders, &fakeSlips{}, &fakeNotifier{}, database.MinNotionalUSDT)

	settled, err := e.Settle(context.Background(), liveTrade(), 110.0, database.CloseReasonStopLoss, "autotrade")
	require.Error(t, err)
	assert.False(t, settled)
}

func TestDustPositionNeverReachesExchange(t *testing.T) {
	ledger := newFakeLedger()
	orders := &fakeOrders{}
	slips := &fakeSlips{}
	notify := &fakeNotifier{}
	e := NewExecutor(ledger, orders, slips, notify, database.MinNotionalUSDT)

	dust := liveTrade()
	dust.Quantity = 0.0001 // 0.011 USDT at the exit price

	settled, err := e.Settle(context.Background(), dust, 110.0, database.CloseReasonStopLoss, "autotrade")
	require.NoError(t, err)
	assert.False(t, settled)

	assert.Empty(t, orders.orders, "dust must not be sent to the exchange")
	assert.Empty(t, ledger.closed)
	assert.Empty(t, slips.deleted)
	assert.Equal(t, 0, notify.closes)
}

func TestSlipDeleteFailureDoesNotUndoSettlement(t *testing.T) {
	ledger := newFakeLedger()
	slips := &fakeSlips{err: errors.New("redis down")}
	notify := &fakeNotifier{}
	e := NewExecutor(ledger, &fakeOrders{}, slips, notify, database.MinNotionalUSDT)

	settled, err := e.Settle(context.Background(), paperTrade(), 110.0, database.CloseReasonTakeProfit, "autotrade")
	require.NoError(t, err)
	assert.True(t, settled)
	assert.True(t, ledger.closed[10])
	assert.Equal(t, 1, notify.closes, "orphaned slip is reconciliation's problem, not settlement's")
}
