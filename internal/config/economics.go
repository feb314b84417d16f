package config

import (
	"errors"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

// EconomicsConfig is the settlement configuration surface. Token amounts are
// decimals; chip amounts are integers.
type EconomicsConfig struct {
	RequiredDepositConfirmations int64           `env:"REQUIRED_DEPOSIT_CONFIRMATIONS" envDefault:"3"`
	MinDeposit                   decimal.Decimal `env:"MIN_DEPOSIT" envDefault:"100"`
	MaxDeposit                   decimal.Decimal `env:"MAX_DEPOSIT" envDefault:"1000000"`
	DepositFeeRate               decimal.Decimal `env:"DEPOSIT_FEE_RATE" envDefault:"0.01"`
	WithdrawalFeeRate            decimal.Decimal `env:"WITHDRAWAL_FEE_RATE" envDefault:"0.02"`
	MinWithdrawal                int64           `env:"MIN_WITHDRAWAL" envDefault:"50"`
	DailyWithdrawalCap           decimal.Decimal `env:"DAILY_WITHDRAWAL_CAP" envDefault:"5000"`
	FirstDepositBonusRate        decimal.Decimal `env:"FIRST_DEPOSIT_BONUS_RATE" envDefault:"0.20"`
	LoyaltyBonusRate             decimal.Decimal `env:"LOYALTY_BONUS_RATE" envDefault:"0.05"`
	VIPLoyaltyLevel              int             `env:"VIP_LOYALTY_LEVEL" envDefault:"10"`
	ChipRatio                    int64           `env:"CHIP_RATIO" envDefault:"10"`

	WithdrawalBroadcastTimeout time.Duration `env:"WITHDRAWAL_BROADCAST_TIMEOUT" envDefault:"2m"`
	AlertSuppressionWindow     time.Duration `env:"ALERT_SUPPRESSION_WINDOW" envDefault:"1h"`
	DepositRecheckDelay        time.Duration `env:"DEPOSIT_RECHECK_DELAY" envDefault:"60s"`
	DepositConfirmationHorizon time.Duration `env:"DEPOSIT_CONFIRMATION_HORIZON" envDefault:"30m"`
}

func LoadEconomics() (EconomicsConfig, error) {
	var cfg EconomicsConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c EconomicsConfig) Validate() error {
	one := decimal.NewFromInt(1)
	switch {
	case c.RequiredDepositConfirmations < 1:
		return errors.New("REQUIRED_DEPOSIT_CONFIRMATIONS must be >= 1")
	case c.ChipRatio <= 0:
		return errors.New("CHIP_RATIO must be > 0")
	case c.MinDeposit.IsNegative() || c.MaxDeposit.LessThan(c.MinDeposit):
		return errors.New("MIN_DEPOSIT must be >= 0 and <= MAX_DEPOSIT")
	case c.DepositFeeRate.IsNegative() || !c.DepositFeeRate.LessThan(one):
		return errors.New("DEPOSIT_FEE_RATE must be in [0,1)")
	case c.WithdrawalFeeRate.IsNegative() || !c.WithdrawalFeeRate.LessThan(one):
		return errors.New("WITHDRAWAL_FEE_RATE must be in [0,1)")
	case c.FirstDepositBonusRate.IsNegative() || c.LoyaltyBonusRate.IsNegative():
		return errors.New("bonus rates must be >= 0")
	case c.MinWithdrawal < 1:
		return errors.New("MIN_WITHDRAWAL must be >= 1")
	case !c.DailyWithdrawalCap.IsPositive():
		return errors.New("DAILY_WITHDRAWAL_CAP must be > 0")
	case c.WithdrawalBroadcastTimeout <= 0 || c.AlertSuppressionWindow <= 0:
		return errors.New("timeouts and windows must be > 0")
	case c.DepositRecheckDelay <= 0 || c.DepositConfirmationHorizon < c.DepositRecheckDelay:
		return errors.New("DEPOSIT_CONFIRMATION_HORIZON must be >= DEPOSIT_RECHECK_DELAY > 0")
	}
	return nil
}
