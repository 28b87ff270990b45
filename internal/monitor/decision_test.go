package monitor

import (
	"testing"

	"lunara-sentinel/internal/database"
	"lunara-sentinel/internal/settings"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(v float64) *float64 { return &v }

func baseSettings() settings.Settings {
	return settings.TierDefaults(settings.TierFree)
}

func openTrade(buyPrice float64) *database.Trade {
	return &database.Trade{
		ID:         1,
		UserID:     100,
		CoinSymbol: "BTCUSDT",
		BuyPrice:   buyPrice,
		Quantity:   0.5,
		Mode:       database.ModePaper,
		Status:     database.StatusOpen,
	}
}

func TestStopLossFiresFirst(t *testing.T) {
	set := baseSettings()
	trade := openTrade(100.0)
	trade.StopLossPrice = floatPtr(95.0)

	d := EvaluateExit(trade, 94.0, nil, set)
	assert.Equal(t, ActionClose, d.Action)
	assert.Equal(t, database.CloseReasonStopLoss, d.CloseReason)
}

func TestStopLossDerivedFromSettingsWhenUnset(t *testing.T) {
	set := baseSettings() // 5% stop
	trade := openTrade(100.0)

	d := EvaluateExit(trade, 94.9, nil, set)
	assert.Equal(t, ActionClose, d.Action)
	assert.Equal(t, database.CloseReasonStopLoss, d.CloseReason)
}

func TestTakeProfit(t *testing.T) {
	set := baseSettings() // 1% target
	trade := openTrade(100.0)

	d := EvaluateExit(trade, 101.5, nil, set)
	assert.Equal(t, ActionClose, d.Action)
	assert.Equal(t, database.CloseReasonTakeProfit, d.CloseReason)
}

func TestStopLossBeatsTakeProfit(t *testing.T) {
	// Pathological configuration where both conditions hold at once: the
	// stop must win because it is checked first.
	set := baseSettings()
	trade := openTrade(100.0)
	trade.StopLossPrice = floatPtr(102.0)
	trade.TakeProfitPrice = floatPtr(101.0)

	d := EvaluateExit(trade, 101.5, nil, set)
	assert.Equal(t, ActionClose, d.Action)
	assert.Equal(t, database.CloseReasonStopLoss, d.CloseReason)
}

func TestIndicatorExit(t *testing.T) {
	// Defaults: overbought 80, bearish exit 65.
	set := baseSettings()
	set.ProfitTargetPct = 50.0 // keep the target out of the way

	overboughtEntry := func() *database.Trade {
		trade := openTrade(100.0)
		trade.StopLossPrice = floatPtr(80.0)
		trade.RSIAtBuy = floatPtr(85.0)
		return trade
	}

	t.Run("momentum rolled over on an overbought entry closes", func(t *testing.T) {
		rsi := 60.0
		d := EvaluateExit(overboughtEntry(), 103.0, &rsi, set)
		assert.Equal(t, ActionClose, d.Action)
		assert.Equal(t, database.CloseReasonRSIExit, d.CloseReason)
	})

	t.Run("rsi still above the bearish threshold holds", func(t *testing.T) {
		rsi := 75.0
		d := EvaluateExit(overboughtEntry(), 103.0, &rsi, set)
		assert.NotEqual(t, ActionClose, d.Action)
	})

	t.Run("entry not overbought never triggers", func(t *testing.T) {
		trade := overboughtEntry()
		trade.RSIAtBuy = floatPtr(55.0)
		rsi := 60.0
		d := EvaluateExit(trade, 103.0, &rsi, set)
		assert.NotEqual(t, ActionClose, d.Action)
	})

	t.Run("no recorded entry rsi never triggers", func(t *testing.T) {
		trade := overboughtEntry()
		trade.RSIAtBuy = nil
		rsi := 60.0
		d := EvaluateExit(trade, 103.0, &rsi, set)
		assert.NotEqual(t, ActionClose, d.Action)
	})

	t.Run("underwater position ignores the indicator", func(t *testing.T) {
		rsi := 60.0
		d := EvaluateExit(overboughtEntry(), 98.0, &rsi, set)
		assert.NotEqual(t, ActionClose, d.Action)
	})

	t.Run("missing indicator disables the rule", func(t *testing.T) {
		d := EvaluateExit(overboughtEntry(), 103.0, nil, set)
		assert.NotEqual(t, database.CloseReasonRSIExit, d.CloseReason)
	})
}

func TestLadderRatchet(t *testing.T) {
	set := baseSettings()
	set.ProfitTargetPct = 50.0
	trade := openTrade(100.0)
	trade.StopLossPrice = floatPtr(90.0)

	// +5% crosses the first rung: stage 1, stop raised to entry.
	d := EvaluateExit(trade, 105.0, nil, set)
	require.Equal(t, ActionRatchet, d.Action)
	assert.Equal(t, 1, d.NewStage)
	assert.InDelta(t, 100.0, d.NewStopLoss, 1e-9)
	assert.True(t, d.RaiseStop)
}

func TestLadderSkipsToHighestCrossedStep(t *testing.T) {
	set := baseSettings()
	set.ProfitTargetPct = 50.0
	trade := openTrade(100.0)

	// +13% in one observation crosses all three rungs.
	d := EvaluateExit(trade, 113.0, nil, set)
	require.Equal(t, ActionRatchet, d.Action)
	assert.Equal(t, 3, d.NewStage)
	assert.InDelta(t, 106.0, d.NewStopLoss, 1e-9)
}

func TestLadderNeverMovesBackward(t *testing.T) {
	set := baseSettings()
	set.ProfitTargetPct = 50.0
	trade := openTrade(100.0)
	trade.DSLStage = 2
	trade.StopLossPrice = floatPtr(103.0)

	// Profit retreated below the stage-2 rung; no regression is produced.
	d := EvaluateExit(trade, 106.0, nil, set)
	assert.Equal(t, ActionNone, d.Action)
}

func TestLadderDoesNotLowerExistingStop(t *testing.T) {
	// Stop already above the rung's lock-in: stage advances, stop stays.
	up := EvaluateLadder(100.0, 5.5, 0, floatPtr(104.0), settings.DefaultLadder)
	require.NotNil(t, up)
	assert.Equal(t, 1, up.Stage)
	assert.False(t, up.Raised)
}

func TestTrailingStopWithoutLadder(t *testing.T) {
	set := baseSettings()
	set.UseDSLA = false
	set.ProfitTargetPct = 50.0
	trade := openTrade(100.0)

	t.Run("below activation does nothing", func(t *testing.T) {
		d := EvaluateExit(trade, 105.0, nil, set)
		assert.Equal(t, ActionNone, d.Action)
	})

	t.Run("above activation trails the price", func(t *testing.T) {
		d := EvaluateExit(trade, 108.0, nil, set)
		require.Equal(t, ActionRatchet, d.Action)
		assert.InDelta(t, 108.0*0.97, d.NewStopLoss, 1e-9)
	})

	t.Run("existing higher stop is kept", func(t *testing.T) {
		withStop := openTrade(100.0)
		withStop.StopLossPrice = floatPtr(107.0)
		d := EvaluateExit(withStop, 108.0, nil, set)
		assert.Equal(t, ActionNone, d.Action)
	})
}
