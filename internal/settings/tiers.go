package settings

// Subscription tiers.
const (
	TierFree    = "FREE"
	TierPremium = "PREMIUM"
)

// LadderStep is one rung of the trailing stop ladder: once unrealized
// profit reaches ProfitPct, the stop loss is raised to lock in LockInPct
// above entry.
type LadderStep struct {
	ProfitPct float64 `json:"profit"`
	LockInPct float64 `json:"lock_in"`
}

// DefaultLadder is the step ladder applied when no custom ladder is set.
var DefaultLadder = []LadderStep{
	{ProfitPct: 5.0, LockInPct: 0.0},
	{ProfitPct: 8.0, LockInPct: 3.0},
	{ProfitPct: 12.0, LockInPct: 6.0},
}

// Settings are the effective trading parameters for one user.
type Settings struct {
	RSIBuy                float64      `json:"rsi_buy"`
	RSISell               float64      `json:"rsi_sell"`
	ProfitTargetPct       float64      `json:"profit_target"`
	StopLossPct           float64      `json:"stop_loss"`
	TrailingActivationPct float64      `json:"trailing_activation"`
	TrailingDropPct       float64      `json:"trailing_drop"`
	RSIOverbought         float64      `json:"rsi_overbought"`
	RSIBearishExit        float64      `json:"rsi_bearish_exit"`
	TradeSizeUSDT         float64      `json:"trade_size_usdt"`
	UseDSLA               bool         `json:"use_dsla"`
	Ladder                []LadderStep `json:"ladder"`
}

// TierDefaults returns the base settings for a subscription tier. Unknown
// tiers fall back to FREE.
func TierDefaults(tier string) Settings {
	s := Settings{
		RSIBuy:                30.0,
		RSISell:               70.0,
		ProfitTargetPct:       1.0,
		StopLossPct:           5.0,
		TrailingActivationPct: 7.0,
		TrailingDropPct:       3.0,
		RSIOverbought:         80.0,
		RSIBearishExit:        65.0,
		TradeSizeUSDT:         11.0,
		UseDSLA:               true,
		Ladder:                DefaultLadder,
	}
	if tier == TierPremium {
		s.StopLossPct = 4.0
		s.TradeSizeUSDT = 50.0
	}
	return s
}

// tierAutotradeDefault reports whether autotrade is on by default for the
// tier.
func tierAutotradeDefault(tier string) bool {
	return tier == TierPremium
}
