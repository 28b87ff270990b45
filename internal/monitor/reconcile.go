package monitor

import (
	"context"
	"fmt"
	"strconv"

	"lunara-sentinel/internal/database"
	"lunara-sentinel/internal/slipstore"
)

// SlipLister is the slip-store surface reconciliation needs.
type SlipLister interface {
	List(ctx context.Context) ([]*slipstore.Slip, []string, error)
}

// OrphanReport describes the disagreement between the ledger and the slip
// store: open trades whose slip vanished, slips whose trade is gone, and
// slip keys that could not be decrypted at all.
type OrphanReport struct {
	TradesWithoutSlip []*database.Trade
	SlipsWithoutTrade []*slipstore.Slip
	UnreadableKeys    []string
}

func (r *OrphanReport) Empty() bool {
	return len(r.TradesWithoutSlip) == 0 &&
		len(r.SlipsWithoutTrade) == 0 &&
		len(r.UnreadableKeys) == 0
}

// FindOrphans cross-checks open ledger trades against stored slips. It only
// reports; repairing (re-creating slips, quarantining keys, closing stale
// trades) is an operator decision made through the admin tooling.
func FindOrphans(ctx context.Context, ledger Ledger, slips SlipLister) (*OrphanReport, error) {
	trades, err := ledger.GetAllOpenTrades(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: load open trades: %w", err)
	}
	stored, unreadable, err := slips.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: list slips: %w", err)
	}

	byID := make(map[string]*slipstore.Slip, len(stored))
	for _, s := range stored {
		byID[s.TradeID] = s
	}
	openIDs := make(map[string]struct{}, len(trades))

	report := &OrphanReport{UnreadableKeys: unreadable}
	for _, t := range trades {
		id := strconv.FormatInt(t.ID, 10)
		openIDs[id] = struct{}{}
		if _, ok := byID[id]; !ok {
			report.TradesWithoutSlip = append(report.TradesWithoutSlip, t)
		}
	}
	for _, s := range stored {
		if _, ok := openIDs[s.TradeID]; !ok {
			report.SlipsWithoutTrade = append(report.SlipsWithoutTrade, s)
		}
	}
	return report, nil
}
