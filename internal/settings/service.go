package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"lunara-sentinel/internal/database"
	"lunara-sentinel/internal/logging"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Redis keys.
const (
	GlobalKillSwitchKey = "autotrade:global"
	userSettingsPrefix  = "autotrade:settings:"
)

func userSettingsKey(userID int64) string {
	return fmt.Sprintf("%s%d", userSettingsPrefix, userID)
}

// Overrides are the cached per-user preference layer. Nil fields inherit
// from the layers below.
type Overrides struct {
	RSIBuy                *float64 `json:"rsi_buy,omitempty"`
	RSISell               *float64 `json:"rsi_sell,omitempty"`
	ProfitTargetPct       *float64 `json:"profit_target,omitempty"`
	StopLossPct           *float64 `json:"stop_loss,omitempty"`
	TrailingActivationPct *float64 `json:"trailing_activation,omitempty"`
	TrailingDropPct       *float64 `json:"trailing_drop,omitempty"`
	TradeSizeUSDT         *float64 `json:"trade_size_usdt,omitempty"`
	Autotrade             *bool    `json:"autotrade,omitempty"`
}

// Ledger is the user-facing slice of the database the resolver needs.
type Ledger interface {
	GetOrCreateUser(ctx context.Context, id int64) (*database.User, error)
}

// Service resolves effective per-user settings and autotrade eligibility.
type Service struct {
	redis  *redis.Client
	ledger Ledger
	log    zerolog.Logger
}

func NewService(rdb *redis.Client, ledger Ledger) *Service {
	return &Service{redis: rdb, ledger: ledger, log: logging.Component("settings")}
}

// Effective layers settings from lowest to highest precedence: tier
// defaults, per-user database columns, cached overrides. A Redis failure
// degrades gracefully to the database layers.
func (s *Service) Effective(ctx context.Context, userID int64) (Settings, error) {
	user, err := s.ledger.GetOrCreateUser(ctx, userID)
	if err != nil {
		return Settings{}, fmt.Errorf("settings: load user %d: %w", userID, err)
	}

	set := TierDefaults(user.Tier)
	ApplyUserColumns(&set, user)

	ov, err := s.cachedOverrides(ctx, userID)
	if err != nil {
		s.log.Warn().Err(err).Int64("user_id", userID).Msg("cached overrides unavailable")
		return set, nil
	}
	ApplyOverrides(&set, ov)
	return set, nil
}

// SetOverrides stores the cached preference layer for a user.
func (s *Service) SetOverrides(ctx context.Context, userID int64, ov *Overrides) error {
	data, err := json.Marshal(ov)
	if err != nil {
		return fmt.Errorf("settings: marshal overrides: %w", err)
	}
	if err := s.redis.Set(ctx, userSettingsKey(userID), data, 0).Err(); err != nil {
		return fmt.Errorf("settings: store overrides for user %d: %w", userID, err)
	}
	return nil
}

func (s *Service) cachedOverrides(ctx context.Context, userID int64) (*Overrides, error) {
	data, err := s.redis.Get(ctx, userSettingsKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ov Overrides
	if err := json.Unmarshal([]byte(data), &ov); err != nil {
		s.log.Warn().Err(err).Int64("user_id", userID).Msg("discarding malformed cached overrides")
		return nil, nil
	}
	return &ov, nil
}

// AutotradeEnabled resolves eligibility through the precedence chain:
// global kill switch, admin override, tier default, cached preference,
// then off.
func (s *Service) AutotradeEnabled(ctx context.Context, userID int64) (bool, error) {
	global, err := s.redis.Get(ctx, GlobalKillSwitchKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		s.log.Warn().Err(err).Msg("kill switch unreadable, treating as unset")
		global = ""
	}

	user, err := s.ledger.GetOrCreateUser(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("settings: load user %d: %w", userID, err)
	}

	var cached *bool
	if ov, err := s.cachedOverrides(ctx, userID); err == nil && ov != nil {
		cached = ov.Autotrade
	}

	return DecideAutotrade(global, user.AutotradeOverride, user.Tier, cached), nil
}

// DecideAutotrade applies the eligibility precedence chain. The first layer
// with an opinion wins; the ledger default is off.
func DecideAutotrade(global string, adminOverride *bool, tier string, cached *bool) bool {
	switch global {
	case "false", "0", "off":
		return false
	}
	if adminOverride != nil {
		return *adminOverride
	}
	if tierAutotradeDefault(tier) {
		return true
	}
	if cached != nil {
		return *cached
	}
	return false
}

// ApplyUserColumns overlays the per-user database columns onto the tier
// defaults.
func ApplyUserColumns(s *Settings, u *database.User) {
	if u.CustomRSIBuy != nil {
		s.RSIBuy = *u.CustomRSIBuy
	}
	if u.CustomRSISell != nil {
		s.RSISell = *u.CustomRSISell
	}
	if u.CustomProfitTarget != nil {
		s.ProfitTargetPct = *u.CustomProfitTarget
	}
	if u.CustomStopLoss != nil {
		s.StopLossPct = *u.CustomStopLoss
	}
	if u.CustomTrailingAct != nil {
		s.TrailingActivationPct = *u.CustomTrailingAct
	}
	if u.CustomTrailingDrop != nil {
		s.TrailingDropPct = *u.CustomTrailingDrop
	}
	if u.CustomTradeSize != nil {
		s.TradeSizeUSDT = *u.CustomTradeSize
	}
}

// ApplyOverrides overlays the cached preference layer.
func ApplyOverrides(s *Settings, ov *Overrides) {
	if ov == nil {
		return
	}
	if ov.RSIBuy != nil {
		s.RSIBuy = *ov.RSIBuy
	}
	if ov.RSISell != nil {
		s.RSISell = *ov.RSISell
	}
	if ov.ProfitTargetPct != nil {
		s.ProfitTargetPct = *ov.ProfitTargetPct
	}
	if ov.StopLossPct != nil {
		s.StopLossPct = *ov.StopLossPct
	}
	if ov.TrailingActivationPct != nil {
		s.TrailingActivationPct = *ov.TrailingActivationPct
	}
	if ov.TrailingDropPct != nil {
		s.TrailingDropPct = *ov.TrailingDropPct
	}
	if ov.TradeSizeUSDT != nil {
		s.TradeSizeUSDT = *ov.TradeSizeUSDT
	}
}
