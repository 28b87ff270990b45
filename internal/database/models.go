package database

import "time"

// Trade status values. A trade is either open or closed; closing is a
// one-way transition performed by a single conditional update.
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// Trading modes.
const (
	ModeLive  = "LIVE"
	ModePaper = "PAPER"
)

// Close reasons recorded on settlement.
const (
	CloseReasonStopLoss   = "stop_loss"
	CloseReasonTakeProfit = "take_profit"
	CloseReasonRSIExit    = "rsi_exit"
	CloseReasonManual     = "manual"
)

// Win/loss classification, derived from exit vs entry price.
const (
	ResultWin       = "win"
	ResultLoss      = "loss"
	ResultBreakeven = "breakeven"
)

// Trade is a ledger row for a monitored position.
type Trade struct {
	ID              int64
	UserID          int64
	CoinSymbol      string
	BuyPrice        float64
	Quantity        float64
	TradeSizeUSDT   float64
	StopLossPrice   *float64
	TakeProfitPrice *float64
	PeakPrice       *float64
	RSIAtBuy        *float64
	Mode            string
	Status          string
	DSLStage        int
	BuyTimestamp    time.Time
	SellPrice       *float64
	PnLPercentage   *float64
	WinLoss         *string
	CloseReason     *string
	ClosedBy        *string
	ClosedAt        *time.Time
}

// Notional returns the position value at the given price.
func (t *Trade) Notional(price float64) float64 {
	return t.Quantity * price
}

// User carries account state plus the nullable per-user setting overrides.
// A nil override means "inherit from the tier default".
type User struct {
	ID                 int64
	Tier               string
	TradingMode        string
	PaperBalance       float64
	AutotradeOverride  *bool
	CustomRSIBuy       *float64
	CustomRSISell      *float64
	CustomProfitTarget *float64
	CustomStopLoss     *float64
	CustomTrailingAct  *float64
	CustomTrailingDrop *float64
	CustomTradeSize    *float64
	CreatedAt          time.Time
}

// QuantityAlert is an append-only diagnostic row recorded when the monitor
// sees a trade whose stored quantity cannot be sold.
type QuantityAlert struct {
	ID         int64
	TradeID    int64
	UserID     int64
	CoinSymbol string
	Quantity   float64
	Price      float64
	Reason     string
	CreatedAt  time.Time
}
