package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := Load()
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/sentinel_test")
	t.Setenv("AUTOTRADE_CYCLE_INTERVAL", "30s")
	t.Setenv("MIN_NOTIONAL_USDT", "7.5")
	t.Setenv("EXCHANGE_USE_MOCK", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/sentinel_test", cfg.Database.URL)
	assert.Equal(t, 30*time.Second, cfg.Autotrade.CycleInterval)
	assert.Equal(t, 7.5, cfg.Autotrade.MinNotional)
	assert.True(t, cfg.Exchange.UseMock)
}

func TestDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/sentinel")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 60*time.Second, cfg.Autotrade.CycleInterval)
	assert.Equal(t, 5.0, cfg.Autotrade.MinNotional)
	assert.Equal(t, "autotrade:control", cfg.Autotrade.ControlChannel)
	assert.Equal(t, []string{
		"SLIP_ENCRYPTION_KEY",
		"BINANCE_ENCRYPTION_KEY",
		"SANDPAPER_ENCRYPTION_KEY",
	}, cfg.Encryption.KeyEnvVars)
}
