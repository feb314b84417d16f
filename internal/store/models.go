package store

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	AccountActive = "active"
	AccountClosed = "closed"
)

type Account struct {
	Address        string          `json:"address"`
	ChipBalance    int64           `json:"chip_balance"`
	ReservedChips  int64           `json:"reserved_chips"`
	TotalDeposited decimal.Decimal `json:"total_deposited"`
	TotalWithdrawn decimal.Decimal `json:"total_withdrawn"`
	IsFirstDeposit bool            `json:"is_first_deposit"`
	LoyaltyLevel   int             `json:"loyalty_level"`
	Status         string          `json:"status"`
	LastActivity   time.Time       `json:"last_activity"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Available is the balance not held by in-flight withdrawals.
func (a Account) Available() int64 {
	return a.ChipBalance - a.ReservedChips
}

type Direction string

const (
	DirectionDeposit    Direction = "deposit"
	DirectionWithdrawal Direction = "withdrawal"
)

type TxStatus string

const (
	TxDetected              TxStatus = "detected"
	TxAwaitingConfirmations TxStatus = "awaiting_confirmations"
	TxVerified              TxStatus = "verified"
	TxCredited              TxStatus = "credited"
	TxFailed                TxStatus = "failed"
)

func (s TxStatus) Terminal() bool {
	return s == TxCredited || s == TxFailed
}

// Transaction is one ledger-affecting chain event keyed by its hash.
type Transaction struct {
	TxHash        string          `json:"tx_hash"`
	Address       string          `json:"address"`
	FromAddress   string          `json:"from_address"`
	Direction     Direction       `json:"direction"`
	TokenAmount   decimal.Decimal `json:"token_amount"`
	ChipAmount    int64           `json:"chip_amount"`
	FeeAmount     decimal.Decimal `json:"fee_amount"`
	BonusAmount   int64           `json:"bonus_amount"`
	Status        TxStatus        `json:"status"`
	BlockHeight   int64           `json:"block_height"`
	Confirmations int64           `json:"confirmations"`
	FailureReason string          `json:"failure_reason,omitempty"`
	DetectedAt    time.Time       `json:"detected_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	CreditedAt    *time.Time      `json:"credited_at,omitempty"`
}

// DepositAmounts is what a deposit credit writes; produced inside the credit
// transaction from the locked account state.
type DepositAmounts struct {
	Chips int64
	Bonus int64
	Fee   decimal.Decimal
}

type DepositQuoteFunc func(acct Account, txn Transaction) (DepositAmounts, error)

type DepositCredit struct {
	Account     Account
	Transaction Transaction
}

type WithdrawalStatus string

const (
	WithdrawalRequested    WithdrawalStatus = "requested"
	WithdrawalReserved     WithdrawalStatus = "reserved"
	WithdrawalBroadcasting WithdrawalStatus = "broadcasting"
	WithdrawalCompleted    WithdrawalStatus = "completed"
	WithdrawalFailed       WithdrawalStatus = "failed"
)

func (s WithdrawalStatus) Terminal() bool {
	return s == WithdrawalCompleted || s == WithdrawalFailed
}

type Withdrawal struct {
	ID                 string           `json:"id"`
	Address            string           `json:"address"`
	DestinationAddress string           `json:"destination_address"`
	ChipAmount         int64            `json:"chip_amount"`
	TokenAmount        decimal.Decimal  `json:"token_amount"`
	Fee                decimal.Decimal  `json:"fee"`
	NetTokenAmount     decimal.Decimal  `json:"net_token_amount"`
	Status             WithdrawalStatus `json:"status"`
	ReservationID      string           `json:"reservation_id,omitempty"`
	SettlementTxHash   string           `json:"settlement_tx_hash,omitempty"`
	FailureReason      string           `json:"failure_reason,omitempty"`
	RequestedAt        time.Time        `json:"requested_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
	CompletedAt        *time.Time       `json:"completed_at,omitempty"`
}

const (
	ReservationHeld      = "held"
	ReservationCommitted = "committed"
	ReservationReleased  = "released"
)

type Reservation struct {
	ID           string     `json:"id"`
	Address      string     `json:"address"`
	Amount       int64      `json:"amount"`
	WithdrawalID string     `json:"withdrawal_id,omitempty"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
}

// ReserveParams places a hold. CapChips > 0 enforces a rolling cap on the
// sum of reserved, broadcasting and completed withdrawals since CapSince.
type ReserveParams struct {
	Address      string
	Amount       int64
	WithdrawalID string
	CapChips     int64
	CapSince     time.Time
}

type Alert struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	Severity       string         `json:"severity"`
	SubjectAddress string         `json:"subject_address"`
	Payload        map[string]any `json:"payload,omitempty"`
	DedupeKey      string         `json:"dedupe_key"`
	CreatedAt      time.Time      `json:"created_at"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
}

func AlertDedupeKey(alertType, subject string) string {
	return alertType + "|" + subject
}

type AlertFilter struct {
	ActiveOnly bool
	Type       string
	Subject    string
}

type WatchedAddress struct {
	Address      string     `json:"address"`
	Cursor       string     `json:"cursor"`
	Active       bool       `json:"active"`
	LastPolledAt *time.Time `json:"last_polled_at,omitempty"`
	LastSeenAt   *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

type LedgerEntry struct {
	ID        string    `json:"id"`
	Address   string    `json:"address"`
	Type      string    `json:"type"`
	Amount    int64     `json:"amount"`
	RefType   string    `json:"ref_type"`
	RefID     string    `json:"ref_id"`
	CreatedAt time.Time `json:"created_at"`
}

type LedgerFilter struct {
	Address string
	From    *time.Time
	To      *time.Time
}

type Stats struct {
	Accounts            int64                      `json:"accounts"`
	ChipsOutstanding    int64                      `json:"chips_outstanding"`
	ChipsReserved       int64                      `json:"chips_reserved"`
	TransactionsBy      map[TxStatus]int64         `json:"transactions_by_status"`
	WithdrawalsBy       map[WithdrawalStatus]int64 `json:"withdrawals_by_status"`
	ActiveAlerts        int64                      `json:"active_alerts"`
	ActiveWatches       int64                      `json:"active_watches"`
	TotalTokenDeposited decimal.Decimal            `json:"total_token_deposited"`
}
