package database

import (
	"context"
	"errors"
	"fmt"
	"math"

	"lunara-sentinel/internal/logging"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// MinNotionalUSDT is the smallest position value the ledger will record.
// Inserts below it are rejected without error escalation.
const MinNotionalUSDT = 5.0

// Repository provides access to trades, users and diagnostics.
type Repository struct {
	pool        *pgxpool.Pool
	log         zerolog.Logger
	hasClosedBy bool
}

// NewRepository probes the live schema once so reads and writes can
// tolerate databases that predate the closed_by column.
func NewRepository(ctx context.Context, pool *pgxpool.Pool) (*Repository, error) {
	r := &Repository{pool: pool, log: logging.Component("ledger")}

	var n int
	err := pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM information_schema.columns
		 WHERE table_name = 'trades' AND column_name = 'closed_by'`).Scan(&n)
	if err != nil {
		return nil, fmt.Errorf("failed to probe trades schema: %w", err)
	}
	r.hasClosedBy = n > 0
	if !r.hasClosedBy {
		r.log.Warn().Msg("trades.closed_by column absent; closes will omit actor attribution")
	}
	return r, nil
}

// PnLPercent returns the percentage gain or loss of exit vs entry.
func PnLPercent(buyPrice, exitPrice float64) float64 {
	if buyPrice == 0 {
		return 0
	}
	return (exitPrice - buyPrice) / buyPrice * 100
}

// ClassifyResult maps an exit price to win/loss/breakeven.
func ClassifyResult(buyPrice, exitPrice float64) string {
	switch {
	case exitPrice > buyPrice:
		return ResultWin
	case exitPrice < buyPrice:
		return ResultLoss
	default:
		return ResultBreakeven
	}
}

// LogTrade inserts a new open trade and returns its id. Positions below the
// minimum notional are rejected: logged, no row written, no error returned,
// so one undersized signal cannot halt a batch of inserts.
func (r *Repository) LogTrade(ctx context.Context, t *Trade) (int64, error) {
	if t.TradeSizeUSDT < MinNotionalUSDT {
		r.log.Warn().
			Int64("user_id", t.UserID).
			Str("symbol", t.CoinSymbol).
			Float64("trade_size_usdt", t.TradeSizeUSDT).
			Float64("min_notional", MinNotionalUSDT).
			Msg("trade below minimum notional rejected")
		return 0, nil
	}

	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO trades (user_id, coin_symbol, buy_price, quantity,
			trade_size_usdt, stop_loss_price, take_profit_price, peak_price,
			rsi_at_buy, mode, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'open')
		RETURNING id`,
		t.UserID, t.CoinSymbol, t.BuyPrice, t.Quantity, t.TradeSizeUSDT,
		t.StopLossPrice, t.TakeProfitPrice, t.PeakPrice, t.RSIAtBuy, t.Mode,
	).Scan(&id)
	if err != nil {
		// The partial unique index on (user_id, coin_symbol) WHERE
		// status='open' keeps a user to one open position per symbol; a
		// duplicate signal is dropped, not escalated.
		if isUniqueViolation(err) {
			r.log.Warn().
				Int64("user_id", t.UserID).
				Str("symbol", t.CoinSymbol).
				Msg("open position already exists, duplicate trade rejected")
			return 0, nil
		}
		return 0, fmt.Errorf("failed to insert trade: %w", err)
	}
	return id, nil
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const tradeColumns = `id, user_id, coin_symbol, buy_price, quantity,
	trade_size_usdt, stop_loss_price, take_profit_price, peak_price,
	rsi_at_buy, mode, status, dsl_stage, buy_timestamp, sell_price,
	pnl_percentage, win_loss, close_reason, closed_by, closed_at`

func scanTrade(row pgx.Row) (*Trade, error) {
	var t Trade
	err := row.Scan(&t.ID, &t.UserID, &t.CoinSymbol, &t.BuyPrice, &t.Quantity,
		&t.TradeSizeUSDT, &t.StopLossPrice, &t.TakeProfitPrice, &t.PeakPrice,
		&t.RSIAtBuy, &t.Mode, &t.Status, &t.DSLStage, &t.BuyTimestamp,
		&t.SellPrice, &t.PnLPercentage, &t.WinLoss, &t.CloseReason,
		&t.ClosedBy, &t.ClosedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *Repository) queryTrades(ctx context.Context, query string, args ...interface{}) ([]*Trade, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []*Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// GetTrade returns a single trade scoped to its owner, or nil if absent.
func (r *Repository) GetTrade(ctx context.Context, id, userID int64) (*Trade, error) {
	t, err := scanTrade(r.pool.QueryRow(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE id = $1 AND user_id = $2`,
		id, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade %d: %w", id, err)
	}
	return t, nil
}

// GetOpenTrades returns a user's open positions, oldest first.
func (r *Repository) GetOpenTrades(ctx context.Context, userID int64) ([]*Trade, error) {
	return r.queryTrades(ctx,
		`SELECT `+tradeColumns+` FROM trades
		 WHERE user_id = $1 AND status = 'open' ORDER BY buy_timestamp`,
		userID)
}

// GetAllOpenTrades returns every open position across users.
func (r *Repository) GetAllOpenTrades(ctx context.Context) ([]*Trade, error) {
	return r.queryTrades(ctx,
		`SELECT `+tradeColumns+` FROM trades
		 WHERE status = 'open' ORDER BY user_id, buy_timestamp`)
}

// CloseTrade settles a trade with a single conditional update. It returns
// true only when this call performed the open->closed transition; false
// means the trade was already closed (or never existed), so the caller must
// not repeat any settlement side effects.
func (r *Repository) CloseTrade(ctx context.Context, id, userID int64, exitPrice float64, reason, closedBy string) (bool, error) {
	query := `
		UPDATE trades SET
			status = 'closed',
			sell_price = $3,
			pnl_percentage = ($3 - buy_price) / buy_price * 100,
			win_loss = CASE
				WHEN $3 > buy_price THEN 'win'
				WHEN $3 < buy_price THEN 'loss'
				ELSE 'breakeven' END,
			close_reason = $4,
			closed_by = $5,
			closed_at = NOW()
		WHERE id = $1 AND user_id = $2 AND status = 'open'`
	args := []interface{}{id, userID, exitPrice, reason, closedBy}

	if !r.hasClosedBy {
		query = `
		UPDATE trades SET
			status = 'closed',
			sell_price = $3,
			pnl_percentage = ($3 - buy_price) / buy_price * 100,
			win_loss = CASE
				WHEN $3 > buy_price THEN 'win'
				WHEN $3 < buy_price THEN 'loss'
				ELSE 'breakeven' END,
			close_reason = $4,
			closed_at = NOW()
		WHERE id = $1 AND user_id = $2 AND status = 'open'`
		args = args[:4]
	}

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to close trade %d: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateStopLoss raises a trade's stop loss. The condition makes the stop
// monotonic: an update that would lower it matches no row.
func (r *Repository) UpdateStopLoss(ctx context.Context, tradeID int64, newStop float64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE trades SET stop_loss_price = $2
		WHERE id = $1 AND status = 'open'
		  AND (stop_loss_price IS NULL OR stop_loss_price < $2)`,
		tradeID, newStop)
	if err != nil {
		return false, fmt.Errorf("failed to update stop loss for trade %d: %w", tradeID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpdatePeakPrice records a new high-water mark for the position.
func (r *Repository) UpdatePeakPrice(ctx context.Context, tradeID int64, price float64) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE trades SET peak_price = $2
		WHERE id = $1 AND status = 'open'
		  AND (peak_price IS NULL OR peak_price < $2)`,
		tradeID, price)
	if err != nil {
		return fmt.Errorf("failed to update peak price for trade %d: %w", tradeID, err)
	}
	return nil
}

// UpdateDSLStage advances the trailing-ladder stage. Stages only move
// forward; a stale writer loses the conditional race and gets false.
func (r *Repository) UpdateDSLStage(ctx context.Context, tradeID int64, stage int) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE trades SET dsl_stage = $2
		WHERE id = $1 AND status = 'open' AND dsl_stage < $2`,
		tradeID, stage)
	if err != nil {
		return false, fmt.Errorf("failed to update dsl stage for trade %d: %w", tradeID, err)
	}
	return tag.RowsAffected() > 0, nil
}

const userColumns = `id, tier, trading_mode, paper_balance, autotrade_override,
	custom_rsi_buy, custom_rsi_sell, custom_profit_target, custom_stop_loss,
	custom_trailing_activation, custom_trailing_drop, custom_trade_size,
	created_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Tier, &u.TradingMode, &u.PaperBalance,
		&u.AutotradeOverride, &u.CustomRSIBuy, &u.CustomRSISell,
		&u.CustomProfitTarget, &u.CustomStopLoss, &u.CustomTrailingAct,
		&u.CustomTrailingDrop, &u.CustomTradeSize, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetOrCreateUser fetches a user row, creating the default FREE/PAPER
// account on first sight.
func (r *Repository) GetOrCreateUser(ctx context.Context, id int64) (*User, error) {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure user %d: %w", id, err)
	}
	u, err := scanUser(r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get user %d: %w", id, err)
	}
	return u, nil
}

// SetAutotradeOverride records an admin-level per-user override. Passing
// nil clears it so tier defaults apply again.
func (r *Repository) SetAutotradeOverride(ctx context.Context, userID int64, enabled *bool) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET autotrade_override = $2 WHERE id = $1`, userID, enabled)
	if err != nil {
		return fmt.Errorf("failed to set autotrade override for user %d: %w", userID, err)
	}
	return nil
}

// CreditPaperBalance adds proceeds of a simulated sell to the user's
// paper balance.
func (r *Repository) CreditPaperBalance(ctx context.Context, userID int64, amount float64) error {
	if amount < 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return fmt.Errorf("invalid paper credit amount %v for user %d", amount, userID)
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET paper_balance = paper_balance + $2 WHERE id = $1`,
		userID, amount)
	if err != nil {
		return fmt.Errorf("failed to credit paper balance for user %d: %w", userID, err)
	}
	return nil
}

// RecordQuantityAlert appends a diagnostic row for a position whose stored
// quantity cannot be sold. The table is append-only; rows are never updated.
func (r *Repository) RecordQuantityAlert(ctx context.Context, a *QuantityAlert) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO estimated_quantity_alerts
			(trade_id, user_id, coin_symbol, quantity, price, reason)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.TradeID, a.UserID, a.CoinSymbol, a.Quantity, a.Price, a.Reason)
	if err != nil {
		return fmt.Errorf("failed to record quantity alert: %w", err)
	}
	return nil
}

// ListQuantityAlerts returns the most recent diagnostic rows.
func (r *Repository) ListQuantityAlerts(ctx context.Context, limit int) ([]*QuantityAlert, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, trade_id, user_id, coin_symbol, quantity, price, reason, created_at
		FROM estimated_quantity_alerts ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list quantity alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*QuantityAlert
	for rows.Next() {
		var a QuantityAlert
		if err := rows.Scan(&a.ID, &a.TradeID, &a.UserID, &a.CoinSymbol,
			&a.Quantity, &a.Price, &a.Reason, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan quantity alert: %w", err)
		}
		alerts = append(alerts, &a)
	}
	return alerts, rows.Err()
}
