package monitor

import (
	"context"
	"testing"

	"lunara-sentinel/internal/slipstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSlipLister struct {
	slips      []*slipstore.Slip
	unreadable []string
}

func (f *fakeSlipLister) List(context.Context) ([]*slipstore.Slip, []string, error) {
	return f.slips, f.unreadable, nil
}

func TestFindOrphans(t *testing.T) {
	ledger := newFakeLedger(
		testTrade(1, 100, "BTCUSDT", 100.0, 1.0),
		testTrade(2, 100, "ETHUSDT", 100.0, 1.0),
	)
	slips := &fakeSlipLister{
		slips: []*slipstore.Slip{
			{TradeID: "1", Symbol: "BTCUSDT"},
			{TradeID: "99", Symbol: "DOGEUSDT"},
		},
		unreadable: []string{"trade:666"},
	}

	report, err := FindOrphans(context.Background(), ledger, slips)
	require.NoError(t, err)
	assert.False(t, report.Empty())

	require.Len(t, report.TradesWithoutSlip, 1)
	assert.Equal(t, int64(2), report.TradesWithoutSlip[0].ID)

	require.Len(t, report.SlipsWithoutTrade, 1)
	assert.Equal(t, "99", report.SlipsWithoutTrade[0].TradeID)

	assert.Equal(t, []string{"trade:666"}, report.UnreadableKeys)
}

func TestFindOrphansAgreement(t *testing.T) {
	ledger := newFakeLedger(testTrade(1, 100, "BTCUSDT", 100.0, 1.0))
	slips := &fakeSlipLister{slips: []*slipstore.Slip{{TradeID: "1", Symbol: "BTCUSDT"}}}

	report, err := FindOrphans(context.Background(), ledger, slips)
	require.NoError(t, err)
	assert.True(t, report.Empty())
}
