package settlement

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"lunara-sentinel/internal/database"
	"lunara-sentinel/internal/exchange"
	"lunara-sentinel/internal/logging"

	"github.com/rs/zerolog"
)

// Ledger is the slice of the database the executor needs.
type Ledger interface {
	CloseTrade(ctx context.Context, id, userID int64, exitPrice float64, reason, closedBy string) (bool, error)
	CreditPaperBalance(ctx context.Context, userID int64, amount float64) error
}

// OrderPlacer submits the real exchange leg of a LIVE settlement.
type OrderPlacer interface {
	PlaceMarketSell(ctx context.Context, symbol string, quantity float64) (*exchange.OrderResult, error)
}

// SlipRemover deletes the encrypted slip once a trade is closed.
type SlipRemover interface {
	Delete(ctx context.Context, tradeID string) error
}

// Notifier receives the close notification.
type Notifier interface {
	SendTradeClose(userID int64, symbol string, entryPrice, exitPrice, pnl, pnlPercent float64, reason string)
}

// Executor settles positions the monitor decided to close. The conditional
// ledger close is the idempotency gate: every other side effect (paper
// credit, slip deletion, notification) happens only on the call that
// actually performed the open->closed transition.
type Executor struct {
	ledger      Ledger
	orders      OrderPlacer
	slips       SlipRemover
	notify      Notifier
	minNotional float64
	log         zerolog.Logger
}

func NewExecutor(ledger Ledger, orders OrderPlacer, slips SlipRemover, notify Notifier, minNotional float64) *Executor {
	return &Executor{
		ledger:      ledger,
		orders:      orders,
		slips:       slips,
		notify:      notify,
		minNotional: minNotional,
		log:         logging.Component("settlement"),
	}
}

// Settle closes a position. It returns true when this call settled the
// trade; false means either the trade was already closed elsewhere or the
// exchange refused the sell, in which case the position is left intact for
// the next cycle (fail open).
func (e *Executor) Settle(ctx context.Context, t *database.Trade, exitPrice float64, reason, closedBy string) (bool, error) {
	log := e.log.With().
		Int64("trade_id", t.ID).
		Int64("user_id", t.UserID).
		Str("symbol", t.CoinSymbol).
		Str("reason", reason).
		Logger()

	// The exchange refuses dust orders outright; they never leave here.
	if t.Notional(exitPrice) < e.minNotional {
		log.Warn().
			Float64("notional", t.Notional(exitPrice)).
			Float64("min_notional", e.minNotional).
			Msg("position below minimum notional, settlement skipped")
		return false, nil
	}

	if t.Mode == database.ModeLive {
		result, err := e.orders.PlaceMarketSell(ctx, t.CoinSymbol, t.Quantity)
		if err != nil {
			var rejected *exchange.OrderRejectedError
			if errors.As(err, &rejected) {
				log.Warn().Err(err).Msg("exchange rejected sell, leaving position for next cycle")
				return false, nil
			}
			return false, fmt.Errorf("settlement: sell %s for trade %d: %w", t.CoinSymbol, t.ID, err)
		}
		if fill := result.AvgFillPrice(); fill > 0 {
			exitPrice = fill
		}
		log.Info().Int64("order_id", result.OrderID).Float64("fill_price", exitPrice).Msg("market sell filled")
	}

	closed, err := e.ledger.CloseTrade(ctx, t.ID, t.UserID, exitPrice, reason, closedBy)
	if err != nil {
		return false, fmt.Errorf("settlement: close trade %d: %w", t.ID, err)
	}
	if !closed {
		log.Info().Msg("trade already closed, skipping settlement side effects")
		return false, nil
	}

	if t.Mode == database.ModePaper {
		proceeds := t.Quantity * exitPrice
		if err := e.ledger.CreditPaperBalance(ctx, t.UserID, proceeds); err != nil {
			log.Error().Err(err).Float64("proceeds", proceeds).Msg("failed to credit paper balance")
		}
	}

	if err := e.slips.Delete(ctx, strconv.FormatInt(t.ID, 10)); err != nil {
		log.Error().Err(err).Msg("failed to delete slip")
	}

	pnlPct := database.PnLPercent(t.BuyPrice, exitPrice)
	pnl := (exitPrice - t.BuyPrice) * t.Quantity
	e.notify.SendTradeClose(t.UserID, t.CoinSymbol, t.BuyPrice, exitPrice, pnl, pnlPct, reason)

	log.Info().Float64("exit_price", exitPrice).Float64("pnl_percent", pnlPct).Msg("trade settled")
	return true, nil
}
