package monitor

import "lunara-sentinel/internal/settings"

// StopUpdate describes a trailing-ladder advance: the new stage and the
// stop loss that locks in the step's profit.
type StopUpdate struct {
	Stage       int
	NewStopLoss float64
	Raised      bool
}

// EvaluateLadder checks whether unrealized profit has crossed a ladder
// step beyond the current stage. Stages only move forward; when multiple
// steps are crossed in one observation the highest wins. Raised is false
// when the existing stop already sits above the step's lock-in, in which
// case only the stage advances.
func EvaluateLadder(buyPrice, pnlPct float64, currentStage int, currentStop *float64, ladder []settings.LadderStep) *StopUpdate {
	target := currentStage
	for i, step := range ladder {
		if pnlPct >= step.ProfitPct {
			target = i + 1
		}
	}
	if target <= currentStage || target > len(ladder) {
		return nil
	}

	newStop := buyPrice * (1 + ladder[target-1].LockInPct/100)
	raised := currentStop == nil || *currentStop < newStop
	return &StopUpdate{Stage: target, NewStopLoss: newStop, Raised: raised}
}

// EvaluateTrailing implements the classic percentage trail used when the
// ladder is disabled: once profit reaches the activation threshold the
// stop follows the price at a fixed drop. Only upward moves are reported.
func EvaluateTrailing(price, pnlPct float64, currentStop *float64, set settings.Settings) *StopUpdate {
	if pnlPct < set.TrailingActivationPct {
		return nil
	}
	newStop := price * (1 - set.TrailingDropPct/100)
	if currentStop != nil && *currentStop >= newStop {
		return nil
	}
	return &StopUpdate{NewStopLoss: newStop, Raised: true}
}
