package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryStore is an in-process Repository. A single mutex makes every
// method linearizable, matching the row-lock semantics of Store.
type MemoryStore struct {
	mu           sync.Mutex
	now          func() time.Time
	accounts     map[string]*Account
	transactions map[string]*Transaction
	processed    map[string]int64
	withdrawals  map[string]*Withdrawal
	reservations map[string]*Reservation
	alerts       []*Alert
	watches      map[string]*WatchedAddress
	ledger       []LedgerEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:          time.Now,
		accounts:     map[string]*Account{},
		transactions: map[string]*Transaction{},
		processed:    map[string]int64{},
		withdrawals:  map[string]*Withdrawal{},
		reservations: map[string]*Reservation{},
		watches:      map[string]*WatchedAddress{},
	}
}

// SetClock overrides the time source; tests use it to age rows.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) ensure(address string) *Account {
	a, ok := m.accounts[address]
	if !ok {
		now := m.now()
		a = &Account{
			Address:        address,
			IsFirstDeposit: true,
			LoyaltyLevel:   1,
			Status:         AccountActive,
			LastActivity:   now,
			CreatedAt:      now,
		}
		m.accounts[address] = a
	}
	return a
}

func (m *MemoryStore) addLedger(address, entryType string, amount int64, refType, refID string) {
	m.ledger = append(m.ledger, LedgerEntry{
		ID: NewID(), Address: address, Type: entryType, Amount: amount,
		RefType: refType, RefID: refID, CreatedAt: m.now(),
	})
}

func (m *MemoryStore) EnsureAccount(_ context.Context, address string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.ensure(address), nil
}

func (m *MemoryStore) GetAccount(_ context.Context, address string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[address]
	if !ok {
		return Account{}, ErrNotFound
	}
	return *a, nil
}

func (m *MemoryStore) ListAccounts(_ context.Context, limit, offset int) ([]Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Address < out[j].Address
	})
	return page(out, limit, offset), nil
}

func page[T any](items []T, limit, offset int) []T {
	if limit <= 0 {
		limit = 50
	}
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func (m *MemoryStore) SetLoyaltyLevel(_ context.Context, address string, level int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensure(address).LoyaltyLevel = level
	return nil
}

func (m *MemoryStore) CloseAccount(_ context.Context, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[address]
	if !ok {
		return ErrNotFound
	}
	a.Status = AccountClosed
	return nil
}

func (m *MemoryStore) Credit(_ context.Context, address string, amount int64, entryType, ref string) (Account, error) {
	if amount <= 0 {
		return Account{}, ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.ensure(address)
	if _, dup := m.processed[ref]; dup {
		return Account{}, ErrDuplicateTransaction
	}
	m.processed[ref] = amount
	a.ChipBalance += amount
	a.LastActivity = m.now()
	m.addLedger(address, entryType, amount, "credit", ref)
	return *a, nil
}

func (m *MemoryStore) Debit(_ context.Context, address string, amount int64, entryType, ref string) (Account, error) {
	if amount <= 0 {
		return Account{}, ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.ensure(address)
	if _, dup := m.processed[ref]; dup {
		return Account{}, ErrDuplicateTransaction
	}
	if a.Available() < amount {
		return Account{}, ErrInsufficientBalance
	}
	m.processed[ref] = -amount
	a.ChipBalance -= amount
	a.LastActivity = m.now()
	m.addLedger(address, entryType, -amount, "debit", ref)
	return *a, nil
}

func (m *MemoryStore) RecordDetected(_ context.Context, txn Transaction) (Transaction, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.transactions[txn.TxHash]; ok {
		return *existing, false, nil
	}
	m.ensure(txn.Address)
	if txn.Direction == "" {
		txn.Direction = DirectionDeposit
	}
	now := m.now()
	t := Transaction{
		TxHash:        txn.TxHash,
		Address:       txn.Address,
		FromAddress:   txn.FromAddress,
		Direction:     txn.Direction,
		TokenAmount:   txn.TokenAmount,
		FeeAmount:     decimal.Zero,
		Status:        TxDetected,
		BlockHeight:   txn.BlockHeight,
		Confirmations: txn.Confirmations,
		DetectedAt:    now,
		UpdatedAt:     now,
	}
	m.transactions[t.TxHash] = &t
	return t, true, nil
}

func (m *MemoryStore) GetTransaction(_ context.Context, txHash string) (Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transactions[txHash]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	return *t, nil
}

func (m *MemoryStore) IsProcessed(_ context.Context, txHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.processed[txHash]
	return ok, nil
}

func (m *MemoryStore) UpdateTransactionProgress(_ context.Context, txHash string, status TxStatus, confirmations, blockHeight int64) (Transaction, error) {
	if status.Terminal() {
		return Transaction{}, ErrInvalidTransition
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transactions[txHash]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	if t.Status.Terminal() {
		return *t, ErrInvalidTransition
	}
	t.Status = status
	t.Confirmations = confirmations
	if blockHeight > 0 {
		t.BlockHeight = blockHeight
	}
	t.UpdatedAt = m.now()
	return *t, nil
}

func (m *MemoryStore) FailTransaction(_ context.Context, txHash, reason string) (Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transactions[txHash]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	if t.Status.Terminal() {
		return *t, ErrInvalidTransition
	}
	t.Status = TxFailed
	t.FailureReason = reason
	t.UpdatedAt = m.now()
	return *t, nil
}

func (m *MemoryStore) ApplyDepositCredit(_ context.Context, txHash string, quote DepositQuoteFunc) (DepositCredit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transactions[txHash]
	if !ok {
		return DepositCredit{}, ErrNotFound
	}
	switch t.Status {
	case TxCredited:
		return DepositCredit{}, ErrDuplicateTransaction
	case TxFailed:
		return DepositCredit{}, ErrInvalidTransition
	}
	if _, dup := m.processed[txHash]; dup {
		return DepositCredit{}, ErrDuplicateTransaction
	}
	a := m.ensure(t.Address)
	amounts, err := quote(*a, *t)
	if err != nil {
		return DepositCredit{}, err
	}
	total := amounts.Chips + amounts.Bonus
	now := m.now()
	m.processed[txHash] = total
	a.ChipBalance += total
	a.TotalDeposited = a.TotalDeposited.Add(t.TokenAmount)
	a.IsFirstDeposit = false
	a.LastActivity = now
	t.Status = TxCredited
	t.ChipAmount = amounts.Chips
	t.BonusAmount = amounts.Bonus
	t.FeeAmount = amounts.Fee
	t.CreditedAt = &now
	t.UpdatedAt = now
	m.addLedger(t.Address, "deposit_credit", total, "transaction", txHash)
	return DepositCredit{Account: *a, Transaction: *t}, nil
}

func (m *MemoryStore) ListTransactionsByStatus(_ context.Context, statuses []TxStatus, limit int) ([]Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := map[TxStatus]bool{}
	for _, s := range statuses {
		want[s] = true
	}
	out := []Transaction{}
	for _, t := range m.transactions {
		if want[t.Status] {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.Before(out[j].DetectedAt) })
	if limit <= 0 {
		limit = 500
	}
	return page(out, limit, 0), nil
}

func (m *MemoryStore) ListAccountTransactions(_ context.Context, address string, limit, offset int) ([]Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Transaction{}
	for _, t := range m.transactions {
		if t.Address == address {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].DetectedAt.After(out[j].DetectedAt)
		}
		return out[i].TxHash < out[j].TxHash
	})
	return page(out, limit, offset), nil
}

func (m *MemoryStore) CreateWithdrawal(_ context.Context, w Withdrawal) (Withdrawal, error) {
	if w.ChipAmount <= 0 {
		return Withdrawal{}, ErrInvalidAmount
	}
	if w.ID == "" {
		w.ID = NewWithdrawalID()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensure(w.Address)
	now := m.now()
	w.Status = WithdrawalRequested
	w.ReservationID = ""
	w.SettlementTxHash = ""
	w.FailureReason = ""
	w.RequestedAt = now
	w.UpdatedAt = now
	w.CompletedAt = nil
	m.withdrawals[w.ID] = &w
	return w, nil
}

func (m *MemoryStore) GetWithdrawal(_ context.Context, id string) (Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.withdrawals[id]
	if !ok {
		return Withdrawal{}, ErrNotFound
	}
	return *w, nil
}

func (m *MemoryStore) ListAccountWithdrawals(_ context.Context, address string, limit, offset int) ([]Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Withdrawal{}
	for _, w := range m.withdrawals {
		if w.Address == address {
			out = append(out, *w)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].RequestedAt.After(out[j].RequestedAt)
		}
		return out[i].ID > out[j].ID
	})
	return page(out, limit, offset), nil
}

func (m *MemoryStore) sumWithdrawals(address string, since time.Time, statuses []WithdrawalStatus, excludeID string) int64 {
	var total int64
	for _, w := range m.withdrawals {
		if w.Address != address || w.ID == excludeID || w.RequestedAt.Before(since) {
			continue
		}
		for _, s := range statuses {
			if w.Status == s {
				total += w.ChipAmount
				break
			}
		}
	}
	return total
}

func (m *MemoryStore) SumWithdrawalsSince(_ context.Context, address string, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sumWithdrawals(address, since, withdrawalOpenStatuses, ""), nil
}

func (m *MemoryStore) Reserve(_ context.Context, p ReserveParams) (Reservation, error) {
	if p.Amount <= 0 {
		return Reservation{}, ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.ensure(p.Address)
	if a.Status == AccountClosed {
		return Reservation{}, ErrAccountClosed
	}
	var w *Withdrawal
	if p.WithdrawalID != "" {
		var ok bool
		w, ok = m.withdrawals[p.WithdrawalID]
		if !ok {
			return Reservation{}, ErrNotFound
		}
		if w.Status != WithdrawalRequested || w.Address != p.Address {
			return Reservation{}, ErrInvalidTransition
		}
	}
	if p.CapChips > 0 && m.sumWithdrawals(p.Address, p.CapSince, withdrawalCapStatuses, p.WithdrawalID)+p.Amount > p.CapChips {
		return Reservation{}, ErrDailyCapExceeded
	}
	if p.Amount > a.Available() {
		return Reservation{}, ErrInsufficientBalance
	}
	now := m.now()
	r := &Reservation{
		ID:           NewReservationID(),
		Address:      p.Address,
		Amount:       p.Amount,
		WithdrawalID: p.WithdrawalID,
		Status:       ReservationHeld,
		CreatedAt:    now,
	}
	m.reservations[r.ID] = r
	a.ReservedChips += p.Amount
	a.LastActivity = now
	if w != nil {
		w.Status = WithdrawalReserved
		w.ReservationID = r.ID
		w.UpdatedAt = now
	}
	return *r, nil
}

func (m *MemoryStore) GetReservation(_ context.Context, id string) (Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[id]
	if !ok {
		return Reservation{}, ErrNotFound
	}
	return *r, nil
}

func (m *MemoryStore) MarkBroadcasting(_ context.Context, withdrawalID string) (Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.withdrawals[withdrawalID]
	if !ok {
		return Withdrawal{}, ErrNotFound
	}
	if w.Status != WithdrawalReserved {
		return Withdrawal{}, ErrInvalidTransition
	}
	w.Status = WithdrawalBroadcasting
	w.UpdatedAt = m.now()
	return *w, nil
}

func (m *MemoryStore) RecordSettlementHash(_ context.Context, withdrawalID, settlementTxHash string) (Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.withdrawals[withdrawalID]
	if !ok {
		return Withdrawal{}, ErrNotFound
	}
	if w.Status != WithdrawalBroadcasting || settlementTxHash == "" {
		return Withdrawal{}, ErrInvalidTransition
	}
	w.SettlementTxHash = settlementTxHash
	w.UpdatedAt = m.now()
	return *w, nil
}

func (m *MemoryStore) heldReservation(id string) (*Reservation, *Account, error) {
	r, ok := m.reservations[id]
	if !ok {
		return nil, nil, ErrNotFound
	}
	if r.Status != ReservationHeld {
		return nil, nil, ErrInvalidTransition
	}
	return r, m.ensure(r.Address), nil
}

func (m *MemoryStore) Commit(_ context.Context, reservationID, settlementTxHash string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, a, err := m.heldReservation(reservationID)
	if err != nil {
		return Account{}, err
	}
	now := m.now()
	if r.WithdrawalID != "" {
		w, ok := m.withdrawals[r.WithdrawalID]
		if !ok || (w.Status != WithdrawalReserved && w.Status != WithdrawalBroadcasting) {
			return Account{}, ErrInvalidTransition
		}
		w.Status = WithdrawalCompleted
		w.SettlementTxHash = settlementTxHash
		w.CompletedAt = &now
		w.UpdatedAt = now
		a.TotalWithdrawn = a.TotalWithdrawn.Add(w.TokenAmount)
	}
	r.Status = ReservationCommitted
	r.ResolvedAt = &now
	a.ChipBalance -= r.Amount
	a.ReservedChips -= r.Amount
	a.LastActivity = now
	m.addLedger(r.Address, "withdrawal_debit", -r.Amount, "reservation", r.ID)
	return *a, nil
}

func (m *MemoryStore) Release(_ context.Context, reservationID, reason string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, a, err := m.heldReservation(reservationID)
	if err != nil {
		return Account{}, err
	}
	if w, ok := m.withdrawals[r.WithdrawalID]; ok && w.SettlementTxHash != "" {
		return Account{}, ErrAlreadyBroadcast
	}
	now := m.now()
	if w, ok := m.withdrawals[r.WithdrawalID]; ok && (w.Status == WithdrawalReserved || w.Status == WithdrawalBroadcasting) {
		w.Status = WithdrawalFailed
		w.FailureReason = reason
		w.UpdatedAt = now
	}
	r.Status = ReservationReleased
	r.ResolvedAt = &now
	a.ReservedChips -= r.Amount
	a.LastActivity = now
	return *a, nil
}

func (m *MemoryStore) FailWithdrawal(_ context.Context, withdrawalID, reason string) (Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.withdrawals[withdrawalID]
	if !ok {
		return Withdrawal{}, ErrNotFound
	}
	if w.Status != WithdrawalRequested {
		return Withdrawal{}, ErrInvalidTransition
	}
	w.Status = WithdrawalFailed
	w.FailureReason = reason
	w.UpdatedAt = m.now()
	return *w, nil
}

func (m *MemoryStore) ListStaleWithdrawals(_ context.Context, before time.Time, limit int) ([]Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Withdrawal{}
	for _, w := range m.withdrawals {
		if !w.Status.Terminal() && w.UpdatedAt.Before(before) {
			out = append(out, *w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit <= 0 {
		limit = 100
	}
	return page(out, limit, 0), nil
}

func (m *MemoryStore) RaiseAlert(_ context.Context, a Alert, window time.Duration) (Alert, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if window > 0 {
		for i := len(m.alerts) - 1; i >= 0; i-- {
			existing := m.alerts[i]
			if existing.Type == a.Type && existing.SubjectAddress == a.SubjectAddress &&
				existing.ResolvedAt == nil && existing.CreatedAt.After(now.Add(-window)) {
				return *existing, false, nil
			}
		}
	}
	if a.ID == "" {
		a.ID = NewAlertID()
	}
	a.DedupeKey = AlertDedupeKey(a.Type, a.SubjectAddress)
	a.CreatedAt = now
	a.ResolvedAt = nil
	m.alerts = append(m.alerts, &a)
	return a, true, nil
}

func (m *MemoryStore) ListAlerts(_ context.Context, f AlertFilter, limit, offset int) ([]Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Alert{}
	for i := len(m.alerts) - 1; i >= 0; i-- {
		a := m.alerts[i]
		if f.ActiveOnly && a.ResolvedAt != nil {
			continue
		}
		if f.Type != "" && a.Type != f.Type {
			continue
		}
		if f.Subject != "" && a.SubjectAddress != f.Subject {
			continue
		}
		out = append(out, *a)
	}
	return page(out, limit, offset), nil
}

func (m *MemoryStore) ResolveAlert(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.alerts {
		if a.ID == id {
			if a.ResolvedAt == nil {
				now := m.now()
				a.ResolvedAt = &now
			}
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryStore) PurgeAlerts(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.alerts[:0]
	var purged int64
	for _, a := range m.alerts {
		if a.ResolvedAt != nil && a.CreatedAt.Before(before) {
			purged++
			continue
		}
		kept = append(kept, a)
	}
	m.alerts = kept
	return purged, nil
}

func (m *MemoryStore) WatchAddress(_ context.Context, address string) (WatchedAddress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	w, ok := m.watches[address]
	if !ok {
		w = &WatchedAddress{Address: address, CreatedAt: now}
		m.watches[address] = w
	}
	w.Active = true
	w.LastSeenAt = &now
	return *w, nil
}

func (m *MemoryStore) UnwatchAddress(_ context.Context, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.watches[address]
	if !ok {
		return ErrNotFound
	}
	w.Active = false
	return nil
}

func (m *MemoryStore) ListWatched(_ context.Context, activeOnly bool) ([]WatchedAddress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []WatchedAddress{}
	for _, w := range m.watches {
		if activeOnly && !w.Active {
			continue
		}
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Address < out[j].Address
	})
	return out, nil
}

func (m *MemoryStore) SaveCursor(_ context.Context, address, cursor string, sawTransfers bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.watches[address]
	if !ok {
		return ErrNotFound
	}
	now := m.now()
	w.Cursor = cursor
	w.LastPolledAt = &now
	if sawTransfers {
		w.LastSeenAt = &now
	}
	return nil
}

func (m *MemoryStore) DeactivateIdleWatches(_ context.Context, idleSince time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []string{}
	for _, w := range m.watches {
		seen := w.CreatedAt
		if w.LastSeenAt != nil {
			seen = *w.LastSeenAt
		}
		if w.Active && seen.Before(idleSince) {
			w.Active = false
			out = append(out, w.Address)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) ListLedgerEntries(_ context.Context, f LedgerFilter, limit, offset int) ([]LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []LedgerEntry{}
	for i := len(m.ledger) - 1; i >= 0; i-- {
		e := m.ledger[i]
		if f.Address != "" && e.Address != f.Address {
			continue
		}
		if f.From != nil && e.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && e.CreatedAt.After(*f.To) {
			continue
		}
		out = append(out, e)
	}
	return page(out, limit, offset), nil
}

func (m *MemoryStore) Stats(context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := Stats{
		TransactionsBy:      map[TxStatus]int64{},
		WithdrawalsBy:       map[WithdrawalStatus]int64{},
		TotalTokenDeposited: decimal.Zero,
	}
	for _, a := range m.accounts {
		out.Accounts++
		out.ChipsOutstanding += a.ChipBalance
		out.ChipsReserved += a.ReservedChips
		out.TotalTokenDeposited = out.TotalTokenDeposited.Add(a.TotalDeposited)
	}
	for _, t := range m.transactions {
		out.TransactionsBy[t.Status]++
	}
	for _, w := range m.withdrawals {
		out.WithdrawalsBy[w.Status]++
	}
	for _, a := range m.alerts {
		if a.ResolvedAt == nil {
			out.ActiveAlerts++
		}
	}
	for _, w := range m.watches {
		if w.Active {
			out.ActiveWatches++
		}
	}
	return out, nil
}
