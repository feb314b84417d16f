package chain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type Transfer struct {
	TxHash        string          `json:"tx_hash"`
	From          string          `json:"from"`
	To            string          `json:"to"`
	Amount        decimal.Decimal `json:"amount"`
	Ticker        string          `json:"ticker"`
	BlockHeight   int64           `json:"block_height"`
	Confirmations int64           `json:"confirmations"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Page holds every transfer newer than the cursor it was polled with.
// Transfers already returned may appear again. NextCursor is opaque to
// callers and is passed back unchanged on the next poll.
type Page struct {
	Transfers  []Transfer `json:"transfers"`
	NextCursor string     `json:"next_cursor"`
}

type ConfirmationStatus string

const (
	StatusPending   ConfirmationStatus = "pending"
	StatusConfirmed ConfirmationStatus = "confirmed"
)

type Confirmation struct {
	Confirmations int64              `json:"confirmations"`
	BlockHeight   int64              `json:"block_height"`
	Status        ConfirmationStatus `json:"status"`
}

// TransferInstruction describes an outbound token transfer to be signed.
type TransferInstruction struct {
	WithdrawalID string          `json:"withdrawal_id"`
	Destination  string          `json:"destination"`
	Amount       decimal.Decimal `json:"amount"`
	Ticker       string          `json:"ticker"`
}

type SignedPayload struct {
	WithdrawalID string `json:"withdrawal_id"`
	RawTxHex     string `json:"raw_tx_hex"`
}

// Observer is the read/broadcast boundary to the chain indexer.
//
// PollTransfers has no side effects and may be retried with the same cursor.
// Confirmations reports 0 for unknown or unmined hashes instead of failing.
type Observer interface {
	PollTransfers(ctx context.Context, address, cursor string) (Page, error)
	Confirmations(ctx context.Context, txHash string) (Confirmation, error)
	Broadcast(ctx context.Context, payload SignedPayload) (string, error)
	WalletBalance(ctx context.Context, address string) (decimal.Decimal, error)
	TipHeight(ctx context.Context) (int64, error)
}

type Signer interface {
	Sign(ctx context.Context, in TransferInstruction) (SignedPayload, error)
}

func confirmationsAt(tip, height int64) Confirmation {
	if height <= 0 || tip < height {
		return Confirmation{Status: StatusPending}
	}
	return Confirmation{Confirmations: tip - height + 1, BlockHeight: height, Status: StatusConfirmed}
}
