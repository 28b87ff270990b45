package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration for the service.
type Config struct {
	Database     DatabaseConfig     `json:"database"`
	Redis        RedisConfig        `json:"redis"`
	Exchange     ExchangeConfig     `json:"exchange"`
	Autotrade    AutotradeConfig    `json:"autotrade"`
	Encryption   EncryptionConfig   `json:"encryption"`
	Vault        VaultConfig        `json:"vault"`
	Notification NotificationConfig `json:"notification"`
	Logging      LoggingConfig      `json:"logging"`
}

type DatabaseConfig struct {
	URL             string        `json:"url"`
	MaxConns        int32         `json:"max_conns"`
	MinConns        int32         `json:"min_conns"`
	MaxConnLifetime time.Duration `json:"max_conn_lifetime"`
}

type RedisConfig struct {
	URL      string `json:"url"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type ExchangeConfig struct {
	BaseURL        string        `json:"base_url"`
	APIKey         string        `json:"api_key"`
	APISecret      string        `json:"api_secret"`
	UseMock        bool          `json:"use_mock"`
	RequestTimeout time.Duration `json:"request_timeout"`
	MaxRetries     uint64        `json:"max_retries"`
	FailureLimit   int           `json:"failure_limit"`
}

type AutotradeConfig struct {
	CycleInterval  time.Duration `json:"cycle_interval"`
	LockTTL        time.Duration `json:"lock_ttl"`
	MinNotional    float64       `json:"min_notional"`
	ControlChannel string        `json:"control_channel"`
}

// EncryptionConfig names the environment variables probed for the slip
// encryption secret, in precedence order. The first non-empty value wins.
type EncryptionConfig struct {
	KeyEnvVars []string `json:"key_env_vars"`
}

type VaultConfig struct {
	Addr       string `json:"addr"`
	Token      string `json:"token"`
	SecretPath string `json:"secret_path"`
}

type NotificationConfig struct {
	WebhookURL string `json:"webhook_url"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Load reads config.json if present, then applies environment overrides.
func Load() (*Config, error) {
	cfg := defaultConfig()

	if err := loadFromFile(cfg, "config.json"); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)

	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("config: DATABASE_URL is required")
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			MaxConns:        10,
			MinConns:        2,
			MaxConnLifetime: time.Hour,
		},
		Redis: RedisConfig{
			URL: "localhost:6379",
		},
		Exchange: ExchangeConfig{
			BaseURL:        "https://api.binance.com",
			RequestTimeout: 10 * time.Second,
			MaxRetries:     3,
			FailureLimit:   3,
		},
		Autotrade: AutotradeConfig{
			CycleInterval:  60 * time.Second,
			LockTTL:        60 * time.Second,
			MinNotional:    5.0,
			ControlChannel: "autotrade:control",
		},
		Encryption: EncryptionConfig{
			KeyEnvVars: []string{
				"SLIP_ENCRYPTION_KEY",
				"BINANCE_ENCRYPTION_KEY",
				"SANDPAPER_ENCRYPTION_KEY",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.Database.URL = getEnvOrDefault("DATABASE_URL", cfg.Database.URL)
	cfg.Database.MaxConns = int32(getEnvIntOrDefault("DB_MAX_CONNS", int(cfg.Database.MaxConns)))
	cfg.Database.MinConns = int32(getEnvIntOrDefault("DB_MIN_CONNS", int(cfg.Database.MinConns)))

	cfg.Redis.URL = getEnvOrDefault("REDIS_URL", cfg.Redis.URL)
	cfg.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvIntOrDefault("REDIS_DB", cfg.Redis.DB)

	cfg.Exchange.BaseURL = getEnvOrDefault("EXCHANGE_BASE_URL", cfg.Exchange.BaseURL)
	cfg.Exchange.APIKey = getEnvOrDefault("EXCHANGE_API_KEY", cfg.Exchange.APIKey)
	cfg.Exchange.APISecret = getEnvOrDefault("EXCHANGE_API_SECRET", cfg.Exchange.APISecret)
	cfg.Exchange.UseMock = getEnvBoolOrDefault("EXCHANGE_USE_MOCK", cfg.Exchange.UseMock)
	cfg.Exchange.RequestTimeout = getEnvDurationOrDefault("EXCHANGE_REQUEST_TIMEOUT", cfg.Exchange.RequestTimeout)

	cfg.Autotrade.CycleInterval = getEnvDurationOrDefault("AUTOTRADE_CYCLE_INTERVAL", cfg.Autotrade.CycleInterval)
	cfg.Autotrade.LockTTL = getEnvDurationOrDefault("AUTOTRADE_LOCK_TTL", cfg.Autotrade.LockTTL)
	cfg.Autotrade.MinNotional = getEnvFloatOrDefault("MIN_NOTIONAL_USDT", cfg.Autotrade.MinNotional)
	cfg.Autotrade.ControlChannel = getEnvOrDefault("AUTOTRADE_CONTROL_CHANNEL", cfg.Autotrade.ControlChannel)

	cfg.Vault.Addr = getEnvOrDefault("VAULT_ADDR", cfg.Vault.Addr)
	cfg.Vault.Token = getEnvOrDefault("VAULT_TOKEN", cfg.Vault.Token)
	cfg.Vault.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.Vault.SecretPath)

	cfg.Notification.WebhookURL = getEnvOrDefault("NOTIFY_WEBHOOK_URL", cfg.Notification.WebhookURL)

	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnvOrDefault("LOG_FORMAT", cfg.Logging.Format)
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvFloatOrDefault(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBoolOrDefault(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDurationOrDefault(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
