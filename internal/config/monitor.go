package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

type MonitorConfig struct {
	LowBalance         decimal.Decimal `env:"ALERT_LOW_BALANCE" envDefault:"1000"`
	WithdrawalVolume   decimal.Decimal `env:"ALERT_WITHDRAWAL_VOLUME" envDefault:"10000"`
	WithdrawalBurst    int             `env:"ALERT_WITHDRAWAL_BURST" envDefault:"5"`
	FailureRate        float64         `env:"ALERT_FAILURE_RATE" envDefault:"0.5"`
	FailureMinSamples  int             `env:"ALERT_FAILURE_MIN_SAMPLES" envDefault:"5"`
	Window             time.Duration   `env:"ALERT_WINDOW" envDefault:"1h"`
	AlertRetention     time.Duration   `env:"ALERT_RETENTION" envDefault:"168h"`
	BalanceCheckSpec   string          `env:"BALANCE_CHECK_SPEC" envDefault:"*/5 * * * *"`
	HealthCheckSpec    string          `env:"HEALTH_CHECK_SPEC" envDefault:"*/10 * * * *"`
	SweepSpec          string          `env:"WITHDRAWAL_SWEEP_SPEC" envDefault:"@every 1m"`
	PurgeSpec          string          `env:"ALERT_PURGE_SPEC" envDefault:"0 * * * *"`
	WatchCleanupSpec   string          `env:"WATCH_CLEANUP_SPEC" envDefault:"30 * * * *"`
	DepositResumeSpec  string          `env:"DEPOSIT_RESUME_SPEC" envDefault:"@every 5m"`
	PagerSendGridKey   string          `env:"PAGER_SENDGRID_API_KEY"`
	PagerFromEmail     string          `env:"PAGER_FROM_EMAIL" envDefault:"alerts@settlement.local"`
	PagerFromName      string          `env:"PAGER_FROM_NAME" envDefault:"Settlement Monitor"`
	PagerRecipients    []string        `env:"PAGER_RECIPIENTS" envSeparator:","`
	PagerTimeout       time.Duration   `env:"PAGER_TIMEOUT" envDefault:"10s"`
}

func LoadMonitor() (MonitorConfig, error) {
	var cfg MonitorConfig
	err := env.Parse(&cfg)
	return cfg, err
}
