package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Port           string
	Env            string
	AllowedOrigins string
	DatabaseURL    string
	ServiceToken   string // bearer token the API gateway presents
	JoinBaseURL    string

	Currency       string
	TierBases      map[string]decimal.Decimal // flat commission base per tier, major units
	MinPayout      decimal.Decimal
	MaturationDays int

	PayoutHourUTC     int
	PayoutConcurrency int
	GatewayURL        string
	GatewayToken      string
	GatewayTimeout    time.Duration

	RetentionRatio decimal.Decimal
	LaunchStart    time.Time
	LaunchDays     int

	EarningsRefreshInterval time.Duration

	SyncServiceURL string
	SyncInterval   time.Duration

	R2AccountID    string
	R2AccessKey    string
	R2SecretKey    string
	R2Bucket       string
	R2ReportPrefix string

	TelegramBotToken string
	TelegramChatID   int64
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "5200")
	v.SetDefault("env", "development")
	v.SetDefault("allowed_origins", "http://localhost:3000")
	v.SetDefault("database_url", "")
	v.SetDefault("service_token", "")
	v.SetDefault("join_base_url", "https://ministry.example.org/join/")

	v.SetDefault("currency", "USD")
	v.SetDefault("tiers.bronze", "15.00")
	v.SetDefault("tiers.silver", "33.00")
	v.SetDefault("tiers.gold", "75.00")
	v.SetDefault("tiers.diamond", "150.00")
	v.SetDefault("payout.min_amount", "10.00")
	v.SetDefault("payout.maturation_days", 28)
	v.SetDefault("payout.hour_utc", 9)
	v.SetDefault("payout.concurrency", 4)
	v.SetDefault("gateway.url", "")
	v.SetDefault("gateway.token", "")
	v.SetDefault("gateway.timeout", "15s")

	v.SetDefault("analytics.retention_ratio", "0.30")
	v.SetDefault("launch.start", "2026-01-01")
	v.SetDefault("launch.days", 90)

	v.SetDefault("earnings.refresh_interval", "1h")

	v.SetDefault("sync.service_url", "")
	v.SetDefault("sync.interval", "1m")

	v.SetDefault("r2.account_id", "")
	v.SetDefault("r2.access_key_id", "")
	v.SetDefault("r2.access_key_secret", "")
	v.SetDefault("r2.bucket", "")
	v.SetDefault("r2.report_prefix", "payout-runs")

	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", 0)
}

// Load reads .env, then an optional config.yaml, then the environment.
// Keys map to env vars with dots replaced by underscores (payout.min_amount
// -> PAYOUT_MIN_AMOUNT).
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Port:           v.GetString("port"),
		Env:            v.GetString("env"),
		AllowedOrigins: v.GetString("allowed_origins"),
		DatabaseURL:    v.GetString("database_url"),
		ServiceToken:   v.GetString("service_token"),
		JoinBaseURL:    v.GetString("join_base_url"),

		Currency:       strings.ToUpper(v.GetString("currency")),
		TierBases:      map[string]decimal.Decimal{},
		MaturationDays: v.GetInt("payout.maturation_days"),

		PayoutHourUTC:     v.GetInt("payout.hour_utc"),
		PayoutConcurrency: v.GetInt("payout.concurrency"),
		GatewayURL:        v.GetString("gateway.url"),
		GatewayToken:      v.GetString("gateway.token"),
		GatewayTimeout:    v.GetDuration("gateway.timeout"),

		LaunchDays: v.GetInt("launch.days"),

		EarningsRefreshInterval: v.GetDuration("earnings.refresh_interval"),

		SyncServiceURL: v.GetString("sync.service_url"),
		SyncInterval:   v.GetDuration("sync.interval"),

		R2AccountID:    v.GetString("r2.account_id"),
		R2AccessKey:    v.GetString("r2.access_key_id"),
		R2SecretKey:    v.GetString("r2.access_key_secret"),
		R2Bucket:       v.GetString("r2.bucket"),
		R2ReportPrefix: v.GetString("r2.report_prefix"),

		TelegramBotToken: v.GetString("telegram.bot_token"),
		TelegramChatID:   v.GetInt64("telegram.chat_id"),
	}

	for _, tier := range []string{"bronze", "silver", "gold", "diamond"} {
		base, err := decimal.NewFromString(v.GetString("tiers." + tier))
		if err != nil {
			return nil, fmt.Errorf("tiers.%s: %w", tier, err)
		}
		if base.IsNegative() {
			return nil, fmt.Errorf("tiers.%s: base must not be negative", tier)
		}
		cfg.TierBases[tier] = base
	}

	var err error
	if cfg.MinPayout, err = decimal.NewFromString(v.GetString("payout.min_amount")); err != nil {
		return nil, fmt.Errorf("payout.min_amount: %w", err)
	}
	if cfg.RetentionRatio, err = decimal.NewFromString(v.GetString("analytics.retention_ratio")); err != nil {
		return nil, fmt.Errorf("analytics.retention_ratio: %w", err)
	}
	if cfg.RetentionRatio.IsNegative() || cfg.RetentionRatio.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("analytics.retention_ratio must be within [0,1], got %s", cfg.RetentionRatio)
	}
	if cfg.LaunchStart, err = time.Parse("2006-01-02", v.GetString("launch.start")); err != nil {
		return nil, fmt.Errorf("launch.start: %w", err)
	}
	if cfg.MaturationDays < 0 {
		return nil, fmt.Errorf("payout.maturation_days must not be negative")
	}
	if cfg.PayoutHourUTC < 0 || cfg.PayoutHourUTC > 23 {
		return nil, fmt.Errorf("payout.hour_utc must be within [0,23], got %d", cfg.PayoutHourUTC)
	}
	if cfg.PayoutConcurrency < 1 {
		cfg.PayoutConcurrency = 1
	}

	return cfg, nil
}

func (c *Config) Production() bool {
	return c.Env == "production"
}
