package monitor

import (
	"context"
	"fmt"
	"math"

	"lunara-sentinel/internal/database"
	"lunara-sentinel/internal/logging"
	"lunara-sentinel/internal/settings"

	"github.com/rs/zerolog"
)

// ClosedByAutotrade is the actor recorded on automated settlements.
const ClosedByAutotrade = "autotrade"

// Ledger is the trade-facing slice of the database the monitor needs.
type Ledger interface {
	GetAllOpenTrades(ctx context.Context) ([]*database.Trade, error)
	UpdateStopLoss(ctx context.Context, tradeID int64, newStop float64) (bool, error)
	UpdatePeakPrice(ctx context.Context, tradeID int64, price float64) error
	UpdateDSLStage(ctx context.Context, tradeID int64, stage int) (bool, error)
	RecordQuantityAlert(ctx context.Context, a *database.QuantityAlert) error
}

// Resolver supplies per-user settings and autotrade eligibility.
type Resolver interface {
	Effective(ctx context.Context, userID int64) (settings.Settings, error)
	AutotradeEnabled(ctx context.Context, userID int64) (bool, error)
}

// PriceSource serves current prices.
type PriceSource interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
}

// RSISource computes the indicator used by the third exit rule.
type RSISource interface {
	RSI(ctx context.Context, symbol string) (float64, error)
}

// Settler performs the settlement of a position the monitor decided to
// close. It reports whether this call settled the trade.
type Settler interface {
	Settle(ctx context.Context, t *database.Trade, exitPrice float64, reason, closedBy string) (bool, error)
}

// PassStats summarizes one monitoring pass.
type PassStats struct {
	Evaluated int
	Closed    int
	Ratcheted int
	Skipped   int
}

// Monitor walks every open position once per cycle and acts on the exit
// rules. Failures are isolated per trade: a bad position is logged and
// skipped, never aborting the pass.
type Monitor struct {
	ledger      Ledger
	resolver    Resolver
	prices      PriceSource
	rsi         RSISource
	settler     Settler
	minNotional float64
	log         zerolog.Logger
}

func New(ledger Ledger, resolver Resolver, prices PriceSource, rsi RSISource, settler Settler, minNotional float64) *Monitor {
	return &Monitor{
		ledger:      ledger,
		resolver:    resolver,
		prices:      prices,
		rsi:         rsi,
		settler:     settler,
		minNotional: minNotional,
		log:         logging.Component("monitor"),
	}
}

// RunPass evaluates all open positions belonging to autotrade-eligible
// users.
func (m *Monitor) RunPass(ctx context.Context) (PassStats, error) {
	var stats PassStats

	trades, err := m.ledger.GetAllOpenTrades(ctx)
	if err != nil {
		return stats, fmt.Errorf("monitor: load open trades: %w", err)
	}

	type userState struct {
		eligible bool
		settings settings.Settings
	}
	users := make(map[int64]*userState)

	for _, t := range trades {
		state, ok := users[t.UserID]
		if !ok {
			state = &userState{}
			eligible, err := m.resolver.AutotradeEnabled(ctx, t.UserID)
			if err != nil {
				m.log.Error().Err(err).Int64("user_id", t.UserID).Msg("eligibility check failed, skipping user")
			} else if eligible {
				set, err := m.resolver.Effective(ctx, t.UserID)
				if err != nil {
					m.log.Error().Err(err).Int64("user_id", t.UserID).Msg("settings resolution failed, skipping user")
				} else {
					state.eligible = true
					state.settings = set
				}
			}
			users[t.UserID] = state
		}
		if !state.eligible {
			continue
		}

		stats.Evaluated++
		m.evaluateTrade(ctx, t, state.settings, &stats)
	}

	m.log.Info().
		Int("evaluated", stats.Evaluated).
		Int("closed", stats.Closed).
		Int("ratcheted", stats.Ratcheted).
		Int("skipped", stats.Skipped).
		Msg("monitoring pass complete")
	return stats, nil
}

func (m *Monitor) evaluateTrade(ctx context.Context, t *database.Trade, set settings.Settings, stats *PassStats) {
	defer func() {
		if r := recover(); r != nil {
			stats.Skipped++
			m.log.Error().Int64("trade_id", t.ID).Interface("panic", r).Msg("recovered from panic evaluating trade")
		}
	}()

	log := m.log.With().Int64("trade_id", t.ID).Int64("user_id", t.UserID).Str("symbol", t.CoinSymbol).Logger()

	if !validQuantity(t.Quantity) {
		stats.Skipped++
		log.Warn().Float64("quantity", t.Quantity).Msg("invalid quantity, recording diagnostic")
		if err := m.ledger.RecordQuantityAlert(ctx, &database.QuantityAlert{
			TradeID:    t.ID,
			UserID:     t.UserID,
			CoinSymbol: t.CoinSymbol,
			Quantity:   t.Quantity,
			Price:      t.BuyPrice,
			Reason:     "quantity not sellable",
		}); err != nil {
			log.Error().Err(err).Msg("failed to record quantity alert")
		}
		return
	}

	price, err := m.prices.GetPrice(ctx, t.CoinSymbol)
	if err != nil {
		stats.Skipped++
		log.Warn().Err(err).Msg("price unavailable, skipping trade this cycle")
		return
	}
	if price <= 0 {
		stats.Skipped++
		log.Warn().Float64("price", price).Msg("non-positive price, skipping trade")
		return
	}

	if t.Notional(price) < m.minNotional {
		stats.Skipped++
		log.Warn().
			Float64("notional", t.Notional(price)).
			Float64("min_notional", m.minNotional).
			Msg("position below minimum notional, cannot be sold")
		return
	}

	if t.PeakPrice == nil || price > *t.PeakPrice {
		if err := m.ledger.UpdatePeakPrice(ctx, t.ID, price); err != nil {
			log.Warn().Err(err).Msg("failed to update peak price")
		}
	}

	// The indicator exit only applies to positions opened in the
	// overbought zone, so the fetch is skipped when no entry RSI was
	// recorded.
	var rsi *float64
	if m.rsi != nil && t.RSIAtBuy != nil {
		if v, err := m.rsi.RSI(ctx, t.CoinSymbol); err == nil {
			rsi = &v
		} else {
			log.Debug().Err(err).Msg("rsi unavailable, indicator exit disabled this cycle")
		}
	}

	decision := EvaluateExit(t, price, rsi, set)
	switch decision.Action {
	case ActionClose:
		settled, err := m.settler.Settle(ctx, t, price, decision.CloseReason, ClosedByAutotrade)
		if err != nil {
			log.Error().Err(err).Str("reason", decision.CloseReason).Msg("settlement failed")
			return
		}
		if settled {
			stats.Closed++
			log.Info().Str("reason", decision.CloseReason).Float64("exit_price", price).Msg("position closed")
		}

	case ActionRatchet:
		if decision.NewStage > t.DSLStage {
			advanced, err := m.ledger.UpdateDSLStage(ctx, t.ID, decision.NewStage)
			if err != nil {
				log.Error().Err(err).Msg("failed to advance ladder stage")
				return
			}
			if !advanced {
				// Another writer already moved the stage forward.
				return
			}
		}
		if decision.RaiseStop {
			if _, err := m.ledger.UpdateStopLoss(ctx, t.ID, decision.NewStopLoss); err != nil {
				log.Error().Err(err).Msg("failed to raise stop loss")
				return
			}
		}
		stats.Ratcheted++
		log.Info().
			Int("stage", decision.NewStage).
			Float64("new_stop", decision.NewStopLoss).
			Msg("trailing stop ratcheted")
	}
}

func validQuantity(q float64) bool {
	return q > 0 && !math.IsNaN(q) && !math.IsInf(q, 0)
}
