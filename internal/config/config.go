package config

import (
	"fmt"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

type Config struct {
	DatabaseURL   string `env:"DATABASE_URL,required"`
	JWTSecret     string `env:"JWT_SECRET,required"`
	Port          int    `env:"PORT" envDefault:"8080"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv        string `env:"APP_ENV" envDefault:"production"`
	PublicBaseURL string `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`

	Fees            FeeSchedule `envPrefix:"FEE_"`
	FeeScheduleFile string      `env:"FEE_SCHEDULE_FILE"`

	MintDailyLimit   decimal.Decimal `env:"MINT_DAILY_LIMIT" envDefault:"10000.00"`
	MintMonthlyLimit decimal.Decimal `env:"MINT_MONTHLY_LIMIT" envDefault:"100000.00"`

	AutoConfirmInterval  time.Duration `env:"AUTO_CONFIRM_INTERVAL" envDefault:"1h"`
	AutoConfirmBatchSize int           `env:"AUTO_CONFIRM_BATCH_SIZE" envDefault:"100"`
	InviteExpiryInterval time.Duration `env:"INVITE_EXPIRY_INTERVAL" envDefault:"15m"`
	InviteTTL            time.Duration `env:"INVITE_TTL" envDefault:"168h"`

	NotifyWebhookURL    string        `env:"NOTIFY_WEBHOOK_URL"`
	NotifyWebhookSecret string        `env:"NOTIFY_WEBHOOK_SECRET"`
	NotifyPollInterval  time.Duration `env:"NOTIFY_POLL_INTERVAL" envDefault:"5s"`
	NotifyMaxAttempts   int           `env:"NOTIFY_MAX_ATTEMPTS" envDefault:"5"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"10"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"20"`

	MigrateOnStart bool `env:"MIGRATE_ON_START" envDefault:"true"`

	DBMaxOpenConns     int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeS int `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
	DBConnMaxIdleTimeS int `env:"DB_CONN_MAX_IDLE_TIME_S" envDefault:"60"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	if err := cfg.Fees.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	if cfg.MintDailyLimit.IsNegative() || cfg.MintMonthlyLimit.IsNegative() {
		return nil, fmt.Errorf("config.Load: mint limits must not be negative")
	}
	if cfg.AutoConfirmInterval <= 0 || cfg.InviteExpiryInterval <= 0 || cfg.NotifyPollInterval <= 0 {
		return nil, fmt.Errorf("config.Load: job intervals must be positive")
	}
	return &cfg, nil
}
