package economics

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func defaultRules() Rules {
	return Rules{
		ChipRatio:             10,
		MinDeposit:            decimal.NewFromInt(100),
		MaxDeposit:            decimal.NewFromInt(1_000_000),
		DepositFeeRate:        decimal.RequireFromString("0.01"),
		WithdrawalFeeRate:     decimal.RequireFromString("0.02"),
		FirstDepositBonusRate: decimal.RequireFromString("0.20"),
		LoyaltyBonusRate:      decimal.RequireFromString("0.05"),
		VIPLoyaltyLevel:       10,
		MinWithdrawal:         50,
		DailyWithdrawalCap:    decimal.NewFromInt(5000),
	}
}

func TestQuoteDepositFirstDeposit(t *testing.T) {
	q, err := defaultRules().QuoteDeposit(decimal.NewFromInt(1000), true, 1)
	if err != nil {
		t.Fatalf("QuoteDeposit() error = %v", err)
	}
	if !q.Fee.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("fee = %s, want 10", q.Fee)
	}
	if q.BaseChips != 9900 || q.FirstDepositBonus != 1980 || q.LoyaltyBonus != 0 {
		t.Fatalf("unexpected quote: %+v", q)
	}
	if q.TotalChips() != 11880 {
		t.Fatalf("total = %d, want 11880", q.TotalChips())
	}
}

func TestQuoteDepositDeterministic(t *testing.T) {
	rules := defaultRules()
	amount := decimal.RequireFromString("1234.56")
	first, err := rules.QuoteDeposit(amount, false, 12)
	if err != nil {
		t.Fatalf("QuoteDeposit() error = %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := rules.QuoteDeposit(amount, false, 12)
		if err != nil {
			t.Fatalf("QuoteDeposit() error = %v", err)
		}
		if again.TotalChips() != first.TotalChips() || !again.Fee.Equal(first.Fee) {
			t.Fatalf("quote changed: %+v vs %+v", again, first)
		}
	}
	// fee ceil(12.3456)=13, base floor(1221.56*10)=12215, vip floor(610.75)=610
	if first.BaseChips != 12215 || first.LoyaltyBonus != 610 || first.FirstDepositBonus != 0 {
		t.Fatalf("unexpected quote: %+v", first)
	}
}

func TestCheckDepositRange(t *testing.T) {
	rules := defaultRules()
	cases := []struct {
		amount string
		want   error
	}{
		{"99.99", ErrBelowMinDeposit},
		{"100", nil},
		{"1000000", nil},
		{"1000000.01", ErrAboveMaxDeposit},
		{"0", ErrInvalidAmount},
		{"-5", ErrInvalidAmount},
	}
	for _, tc := range cases {
		err := rules.CheckDeposit(decimal.RequireFromString(tc.amount))
		if !errors.Is(err, tc.want) {
			t.Fatalf("CheckDeposit(%s) = %v, want %v", tc.amount, err, tc.want)
		}
	}
}

func TestQuoteWithdrawalFeeOnGross(t *testing.T) {
	q, err := defaultRules().QuoteWithdrawal(2000)
	if err != nil {
		t.Fatalf("QuoteWithdrawal() error = %v", err)
	}
	if !q.TokenAmount.Equal(decimal.NewFromInt(200)) || !q.Fee.Equal(decimal.NewFromInt(4)) || !q.NetTokenAmount.Equal(decimal.NewFromInt(196)) {
		t.Fatalf("unexpected quote: %+v", q)
	}
}

func TestQuoteWithdrawalRejections(t *testing.T) {
	rules := defaultRules()
	if _, err := rules.QuoteWithdrawal(49); !errors.Is(err, ErrBelowMinWithdraw) {
		t.Fatalf("expected below min, got %v", err)
	}
	if _, err := rules.QuoteWithdrawal(0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	rules.MinWithdrawal = 1
	if _, err := rules.QuoteWithdrawal(5); !errors.Is(err, ErrAmountTooSmall) {
		t.Fatalf("expected amount too small, got %v", err)
	}
}

func TestDailyCapChips(t *testing.T) {
	if got := defaultRules().DailyCapChips(); got != 50000 {
		t.Fatalf("DailyCapChips() = %d, want 50000", got)
	}
}
