package monitor

import (
	"lunara-sentinel/internal/database"
	"lunara-sentinel/internal/settings"
)

// Action is what the monitor should do with a position.
type Action int

const (
	ActionNone Action = iota
	ActionClose
	ActionRatchet
)

// Decision is the outcome of evaluating one open position against the
// current price. Exactly one action is produced per evaluation.
type Decision struct {
	Action      Action
	CloseReason string
	NewStage    int
	NewStopLoss float64
	RaiseStop   bool
}

// effectiveStop returns the stop price guarding the position: the stored
// stop when present, otherwise the tier stop-loss percentage below entry.
func effectiveStop(t *database.Trade, set settings.Settings) float64 {
	if t.StopLossPrice != nil {
		return *t.StopLossPrice
	}
	return t.BuyPrice * (1 - set.StopLossPct/100)
}

// effectiveTarget returns the take-profit price: the stored target when
// present, otherwise the profit-target percentage above entry.
func effectiveTarget(t *database.Trade, set settings.Settings) float64 {
	if t.TakeProfitPrice != nil {
		return *t.TakeProfitPrice
	}
	return t.BuyPrice * (1 + set.ProfitTargetPct/100)
}

// EvaluateExit applies the exit rules in fixed priority order: stop loss,
// take profit, indicator exit while profitable, then the trailing ratchet.
// The ratchet never closes a position; it only tightens the stop for a
// later cycle.
//
// The indicator exit fires when the position entered in the overbought
// zone, is currently profitable, and momentum has since rolled over: the
// current RSI has fallen below the bearish-exit threshold. rsi is nil
// when indicator data was unavailable, which simply disables the rule;
// positions without a recorded entry RSI never trigger it.
func EvaluateExit(t *database.Trade, price float64, rsi *float64, set settings.Settings) Decision {
	pnlPct := database.PnLPercent(t.BuyPrice, price)

	if price <= effectiveStop(t, set) {
		return Decision{Action: ActionClose, CloseReason: database.CloseReasonStopLoss}
	}

	if price >= effectiveTarget(t, set) {
		return Decision{Action: ActionClose, CloseReason: database.CloseReasonTakeProfit}
	}

	if rsi != nil && pnlPct > 0 && t.RSIAtBuy != nil &&
		*t.RSIAtBuy >= set.RSIOverbought && *rsi < set.RSIBearishExit {
		return Decision{Action: ActionClose, CloseReason: database.CloseReasonRSIExit}
	}

	if set.UseDSLA {
		if up := EvaluateLadder(t.BuyPrice, pnlPct, t.DSLStage, t.StopLossPrice, set.Ladder); up != nil {
			return Decision{
				Action:      ActionRatchet,
				NewStage:    up.Stage,
				NewStopLoss: up.NewStopLoss,
				RaiseStop:   up.Raised,
			}
		}
	} else if up := EvaluateTrailing(price, pnlPct, t.StopLossPrice, set); up != nil {
		return Decision{
			Action:      ActionRatchet,
			NewStage:    t.DSLStage,
			NewStopLoss: up.NewStopLoss,
			RaiseStop:   true,
		}
	}

	return Decision{Action: ActionNone}
}
