package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindDepositCredited     Kind = "deposit_credited"
	KindDepositFailed       Kind = "deposit_failed"
	KindWithdrawalRequested Kind = "withdrawal_requested"
	KindWithdrawalResolved  Kind = "withdrawal_resolved"
	KindWithdrawalRejected  Kind = "withdrawal_rejected"
	KindAlertRaised         Kind = "alert_raised"
)

// Event is delivered at least once. Consumers dedupe on (Kind, Key); ID
// identifies a single delivery attempt's envelope.
type Event struct {
	ID       string `json:"id"`
	Seq      string `json:"seq,omitempty"`
	Kind     Kind   `json:"kind"`
	Key      string `json:"key"`
	Address  string `json:"address,omitempty"`
	ServerTS int64  `json:"server_ts"`
	Data     any    `json:"data"`
}

func New(kind Kind, key, address string, data any) Event {
	return Event{
		ID:       uuid.NewString(),
		Kind:     kind,
		Key:      key,
		Address:  address,
		ServerTS: time.Now().UnixMilli(),
		Data:     data,
	}
}

type DepositCredited struct {
	Address     string          `json:"address"`
	TxHash      string          `json:"tx_hash"`
	TokenAmount decimal.Decimal `json:"token_amount"`
	ChipAmount  int64           `json:"chip_amount"`
	BonusAmount int64           `json:"bonus_amount"`
}

type DepositFailed struct {
	Address     string          `json:"address"`
	TxHash      string          `json:"tx_hash"`
	TokenAmount decimal.Decimal `json:"token_amount"`
	Reason      string          `json:"reason"`
}

type WithdrawalRequested struct {
	Address     string          `json:"address"`
	ID          string          `json:"id"`
	ChipAmount  int64           `json:"chip_amount"`
	TokenAmount decimal.Decimal `json:"token_amount"`
}

// WithdrawalRejected is a request refused before any record was created.
type WithdrawalRejected struct {
	Address    string `json:"address"`
	ChipAmount int64  `json:"chip_amount"`
	Reason     string `json:"reason"`
}

type WithdrawalResolved struct {
	Address          string          `json:"address"`
	ID               string          `json:"id"`
	Status           string          `json:"status"`
	ChipAmount       int64           `json:"chip_amount"`
	TokenAmount      decimal.Decimal `json:"token_amount"`
	SettlementTxHash string          `json:"settlement_tx_hash,omitempty"`
	Reason           string          `json:"reason,omitempty"`
}

type AlertRaised struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	Severity       string         `json:"severity"`
	SubjectAddress string         `json:"subject_address"`
	Payload        map[string]any `json:"payload,omitempty"`
}

func DepositCreditedEvent(p DepositCredited) Event {
	return New(KindDepositCredited, p.TxHash, p.Address, p)
}

func DepositFailedEvent(p DepositFailed) Event {
	return New(KindDepositFailed, p.TxHash, p.Address, p)
}

func WithdrawalRequestedEvent(p WithdrawalRequested) Event {
	return New(KindWithdrawalRequested, p.ID, p.Address, p)
}

func WithdrawalRejectedEvent(p WithdrawalRejected) Event {
	return New(KindWithdrawalRejected, uuid.NewString(), p.Address, p)
}

func WithdrawalResolvedEvent(p WithdrawalResolved) Event {
	return New(KindWithdrawalResolved, p.ID, p.Address, p)
}

func AlertRaisedEvent(p AlertRaised) Event {
	return New(KindAlertRaised, p.ID, p.SubjectAddress, p)
}
