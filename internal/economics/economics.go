package economics

import (
	"errors"

	"chip-settlement/internal/config"

	"github.com/shopspring/decimal"
)

var (
	ErrBelowMinDeposit  = errors.New("below_min_deposit")
	ErrAboveMaxDeposit  = errors.New("above_max_deposit")
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrBelowMinWithdraw = errors.New("below_min_withdrawal")
	ErrAmountTooSmall   = errors.New("amount_too_small")
)

// Rules holds the token/chip conversion and fee/bonus policy.
type Rules struct {
	ChipRatio             int64
	MinDeposit            decimal.Decimal
	MaxDeposit            decimal.Decimal
	DepositFeeRate        decimal.Decimal
	WithdrawalFeeRate     decimal.Decimal
	FirstDepositBonusRate decimal.Decimal
	LoyaltyBonusRate      decimal.Decimal
	VIPLoyaltyLevel       int
	MinWithdrawal         int64
	DailyWithdrawalCap    decimal.Decimal
}

func FromConfig(cfg config.EconomicsConfig) Rules {
	return Rules{
		ChipRatio:             cfg.ChipRatio,
		MinDeposit:            cfg.MinDeposit,
		MaxDeposit:            cfg.MaxDeposit,
		DepositFeeRate:        cfg.DepositFeeRate,
		WithdrawalFeeRate:     cfg.WithdrawalFeeRate,
		FirstDepositBonusRate: cfg.FirstDepositBonusRate,
		LoyaltyBonusRate:      cfg.LoyaltyBonusRate,
		VIPLoyaltyLevel:       cfg.VIPLoyaltyLevel,
		MinWithdrawal:         cfg.MinWithdrawal,
		DailyWithdrawalCap:    cfg.DailyWithdrawalCap,
	}
}

type DepositQuote struct {
	TokenAmount       decimal.Decimal `json:"token_amount"`
	Fee               decimal.Decimal `json:"fee"`
	BaseChips         int64           `json:"base_chips"`
	FirstDepositBonus int64           `json:"first_deposit_bonus"`
	LoyaltyBonus      int64           `json:"loyalty_bonus"`
}

// BonusChips is the sum of all bonuses on top of the base conversion.
func (q DepositQuote) BonusChips() int64 {
	return q.FirstDepositBonus + q.LoyaltyBonus
}

func (q DepositQuote) TotalChips() int64 {
	return q.BaseChips + q.BonusChips()
}

// CheckDeposit rejects amounts outside [MinDeposit, MaxDeposit].
func (r Rules) CheckDeposit(tokenAmount decimal.Decimal) error {
	switch {
	case !tokenAmount.IsPositive():
		return ErrInvalidAmount
	case tokenAmount.LessThan(r.MinDeposit):
		return ErrBelowMinDeposit
	case tokenAmount.GreaterThan(r.MaxDeposit):
		return ErrAboveMaxDeposit
	}
	return nil
}

// QuoteDeposit converts tokens to chips:
//
//	fee   = ceil(tokens × depositFeeRate)
//	base  = floor((tokens − fee) × chipRatio)
//	first = floor(base × firstDepositBonusRate)   when firstDeposit
//	vip   = floor(base × loyaltyBonusRate)        when loyaltyLevel ≥ VIPLoyaltyLevel
func (r Rules) QuoteDeposit(tokenAmount decimal.Decimal, firstDeposit bool, loyaltyLevel int) (DepositQuote, error) {
	if err := r.CheckDeposit(tokenAmount); err != nil {
		return DepositQuote{}, err
	}
	fee := tokenAmount.Mul(r.DepositFeeRate).Ceil()
	net := tokenAmount.Sub(fee)
	if !net.IsPositive() {
		return DepositQuote{}, ErrAmountTooSmall
	}
	base := net.Mul(decimal.NewFromInt(r.ChipRatio)).Floor().IntPart()
	q := DepositQuote{TokenAmount: tokenAmount, Fee: fee, BaseChips: base}
	if firstDeposit {
		q.FirstDepositBonus = decimal.NewFromInt(base).Mul(r.FirstDepositBonusRate).Floor().IntPart()
	}
	if r.IsVIP(loyaltyLevel) {
		q.LoyaltyBonus = decimal.NewFromInt(base).Mul(r.LoyaltyBonusRate).Floor().IntPart()
	}
	return q, nil
}

func (r Rules) IsVIP(loyaltyLevel int) bool {
	return r.VIPLoyaltyLevel > 0 && loyaltyLevel >= r.VIPLoyaltyLevel
}

type WithdrawalQuote struct {
	Chips          int64           `json:"chips"`
	TokenAmount    decimal.Decimal `json:"token_amount"`
	Fee            decimal.Decimal `json:"fee"`
	NetTokenAmount decimal.Decimal `json:"net_token_amount"`
}

// QuoteWithdrawal charges the fee on the gross token amount.
func (r Rules) QuoteWithdrawal(chips int64) (WithdrawalQuote, error) {
	if chips <= 0 {
		return WithdrawalQuote{}, ErrInvalidAmount
	}
	if chips < r.MinWithdrawal {
		return WithdrawalQuote{}, ErrBelowMinWithdraw
	}
	tokens := r.ChipsToTokens(chips)
	fee := tokens.Mul(r.WithdrawalFeeRate).Ceil()
	net := tokens.Sub(fee)
	if !net.IsPositive() {
		return WithdrawalQuote{}, ErrAmountTooSmall
	}
	return WithdrawalQuote{Chips: chips, TokenAmount: tokens, Fee: fee, NetTokenAmount: net}, nil
}

func (r Rules) ChipsToTokens(chips int64) decimal.Decimal {
	return decimal.NewFromInt(chips).Div(decimal.NewFromInt(r.ChipRatio))
}

// DailyCapChips expresses the daily token cap in chips.
func (r Rules) DailyCapChips() int64 {
	return r.DailyWithdrawalCap.Mul(decimal.NewFromInt(r.ChipRatio)).Floor().IntPart()
}
