package store

import (
	"context"
	"time"
)

// Repository is implemented by the Postgres Store and by MemoryStore.
// Every balance-mutating method is atomic.
type Repository interface {
	Ping(ctx context.Context) error

	EnsureAccount(ctx context.Context, address string) (Account, error)
	GetAccount(ctx context.Context, address string) (Account, error)
	ListAccounts(ctx context.Context, limit, offset int) ([]Account, error)
	SetLoyaltyLevel(ctx context.Context, address string, level int) error
	CloseAccount(ctx context.Context, address string) error
	Credit(ctx context.Context, address string, amount int64, entryType, ref string) (Account, error)
	Debit(ctx context.Context, address string, amount int64, entryType, ref string) (Account, error)

	RecordDetected(ctx context.Context, txn Transaction) (Transaction, bool, error)
	GetTransaction(ctx context.Context, txHash string) (Transaction, error)
	IsProcessed(ctx context.Context, txHash string) (bool, error)
	UpdateTransactionProgress(ctx context.Context, txHash string, status TxStatus, confirmations, blockHeight int64) (Transaction, error)
	FailTransaction(ctx context.Context, txHash, reason string) (Transaction, error)
	ApplyDepositCredit(ctx context.Context, txHash string, quote DepositQuoteFunc) (DepositCredit, error)
	ListTransactionsByStatus(ctx context.Context, statuses []TxStatus, limit int) ([]Transaction, error)
	ListAccountTransactions(ctx context.Context, address string, limit, offset int) ([]Transaction, error)

	CreateWithdrawal(ctx context.Context, w Withdrawal) (Withdrawal, error)
	GetWithdrawal(ctx context.Context, id string) (Withdrawal, error)
	ListAccountWithdrawals(ctx context.Context, address string, limit, offset int) ([]Withdrawal, error)
	SumWithdrawalsSince(ctx context.Context, address string, since time.Time) (int64, error)
	Reserve(ctx context.Context, p ReserveParams) (Reservation, error)
	GetReservation(ctx context.Context, id string) (Reservation, error)
	MarkBroadcasting(ctx context.Context, withdrawalID string) (Withdrawal, error)
	// RecordSettlementHash stores the hash of an accepted broadcast on a
	// broadcasting withdrawal. From then on it can only complete.
	RecordSettlementHash(ctx context.Context, withdrawalID, settlementTxHash string) (Withdrawal, error)
	Commit(ctx context.Context, reservationID, settlementTxHash string) (Account, error)
	Release(ctx context.Context, reservationID, reason string) (Account, error)
	FailWithdrawal(ctx context.Context, withdrawalID, reason string) (Withdrawal, error)
	ListStaleWithdrawals(ctx context.Context, before time.Time, limit int) ([]Withdrawal, error)

	RaiseAlert(ctx context.Context, a Alert, window time.Duration) (Alert, bool, error)
	ListAlerts(ctx context.Context, f AlertFilter, limit, offset int) ([]Alert, error)
	ResolveAlert(ctx context.Context, id string) error
	PurgeAlerts(ctx context.Context, before time.Time) (int64, error)

	WatchAddress(ctx context.Context, address string) (WatchedAddress, error)
	UnwatchAddress(ctx context.Context, address string) error
	ListWatched(ctx context.Context, activeOnly bool) ([]WatchedAddress, error)
	SaveCursor(ctx context.Context, address, cursor string, sawTransfers bool) error
	DeactivateIdleWatches(ctx context.Context, idleSince time.Time) ([]string, error)

	ListLedgerEntries(ctx context.Context, f LedgerFilter, limit, offset int) ([]LedgerEntry, error)
	Stats(ctx context.Context) (Stats, error)
}

var (
	_ Repository = (*Store)(nil)
	_ Repository = (*MemoryStore)(nil)
)

// withdrawalCapStatuses count toward the rolling daily cap once a hold exists.
var withdrawalCapStatuses = []WithdrawalStatus{WithdrawalReserved, WithdrawalBroadcasting, WithdrawalCompleted}

// withdrawalOpenStatuses also include requests not yet reserved.
var withdrawalOpenStatuses = []WithdrawalStatus{WithdrawalRequested, WithdrawalReserved, WithdrawalBroadcasting, WithdrawalCompleted}
