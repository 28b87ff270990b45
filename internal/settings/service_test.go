package settings

import (
	"testing"

	"lunara-sentinel/internal/database"

	"github.com/stretchr/testify/assert"
)

func floatPtr(v float64) *float64 { return &v }
func boolPtr(v bool) *bool        { return &v }

func TestTierDefaults(t *testing.T) {
	free := TierDefaults(TierFree)
	assert.Equal(t, 5.0, free.StopLossPct)
	assert.Equal(t, 1.0, free.ProfitTargetPct)
	assert.Len(t, free.Ladder, 3)

	premium := TierDefaults(TierPremium)
	assert.Equal(t, 4.0, premium.StopLossPct)

	unknown := TierDefaults("PLATINUM")
	assert.Equal(t, free, unknown, "unknown tiers behave as FREE")
}

func TestLayeringPrecedence(t *testing.T) {
	user := &database.User{
		Tier:               TierFree,
		CustomStopLoss:     floatPtr(3.0),
		CustomProfitTarget: floatPtr(2.5),
	}

	set := TierDefaults(user.Tier)
	ApplyUserColumns(&set, user)
	assert.Equal(t, 3.0, set.StopLossPct, "database column overrides tier default")
	assert.Equal(t, 2.5, set.ProfitTargetPct)
	assert.Equal(t, 30.0, set.RSIBuy, "columns left nil inherit the tier value")

	ApplyOverrides(&set, &Overrides{StopLossPct: floatPtr(2.0)})
	assert.Equal(t, 2.0, set.StopLossPct, "cached override outranks the database column")
	assert.Equal(t, 2.5, set.ProfitTargetPct, "absent override fields change nothing")

	ApplyOverrides(&set, nil)
	assert.Equal(t, 2.0, set.StopLossPct)
}

func TestDecideAutotrade(t *testing.T) {
	testCases := []struct {
		name          string
		global        string
		adminOverride *bool
		tier          string
		cached        *bool
		want          bool
	}{
		{
			name:   "kill switch disables everyone",
			global: "false", adminOverride: boolPtr(true), tier: TierPremium, cached: boolPtr(true),
			want: false,
		},
		{
			name:   "kill switch zero form",
			global: "0", tier: TierPremium,
			want: false,
		},
		{
			name:          "admin override wins over tier",
			adminOverride: boolPtr(false), tier: TierPremium, cached: boolPtr(true),
			want: false,
		},
		{
			name:          "admin override enables a free user",
			adminOverride: boolPtr(true), tier: TierFree,
			want: true,
		},
		{
			name: "premium tier is on by default",
			tier: TierPremium,
			want: true,
		},
		{
			name: "free user opts in via cache",
			tier: TierFree, cached: boolPtr(true),
			want: true,
		},
		{
			name: "free user default is off",
			tier: TierFree,
			want: false,
		},
		{
			name:   "unrelated global value is ignored",
			global: "maintenance", tier: TierPremium,
			want: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := DecideAutotrade(tc.global, tc.adminOverride, tc.tier, tc.cached)
			assert.Equal(t, tc.want, got)
		})
	}
}
