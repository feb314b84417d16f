package testutil

import (
	"context"
	"sync"

	"chip-settlement/internal/chain"

	"github.com/shopspring/decimal"
)

// FakeChain is an in-memory chain.Observer and chain.Signer.
type FakeChain struct {
	mu            sync.Mutex
	transfers     map[string][]chain.Transfer
	confirmations map[string]int64
	confErr       error
	balance       decimal.Decimal
	balanceErr    error
	tipErr        error
	broadcastErr  error
	broadcastHang bool
	signErr       error
	broadcasts    []chain.SignedPayload
	polls         int
}

func NewFakeChain() *FakeChain {
	return &FakeChain{
		transfers:     map[string][]chain.Transfer{},
		confirmations: map[string]int64{},
		balance:       decimal.NewFromInt(1000000),
	}
}

// AddTransfer puts t at the top of the address history, which is kept
// newest first like the indexer's.
func (f *FakeChain) AddTransfer(t chain.Transfer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers[t.To] = append([]chain.Transfer{t}, f.transfers[t.To]...)
}

func (f *FakeChain) SetConfirmations(txHash string, n int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmations[txHash] = n
}

func (f *FakeChain) SetConfirmationsErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confErr = err
}

func (f *FakeChain) SetBalance(d decimal.Decimal, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balance = d
	f.balanceErr = err
}

func (f *FakeChain) SetTipErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tipErr = err
}

func (f *FakeChain) SetBroadcastErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcastErr = err
}

// SetBroadcastHang makes Broadcast block until its context ends.
func (f *FakeChain) SetBroadcastHang(hang bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcastHang = hang
}

func (f *FakeChain) SetSignErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signErr = err
}

func (f *FakeChain) Broadcasts() []chain.SignedPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chain.SignedPayload(nil), f.broadcasts...)
}

func (f *FakeChain) Polls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

// PollTransfers returns the history above the cursor, which is the hash of
// the newest transfer already returned.
func (f *FakeChain) PollTransfers(_ context.Context, address, cursor string) (chain.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	all := f.transfers[address]
	end := len(all)
	for i, t := range all {
		if cursor != "" && t.TxHash == cursor {
			end = i
			break
		}
	}
	out := make([]chain.Transfer, 0, end)
	for _, t := range all[:end] {
		t.Confirmations = f.confirmations[t.TxHash]
		out = append(out, t)
	}
	next := cursor
	if len(all) > 0 {
		next = all[0].TxHash
	}
	return chain.Page{Transfers: out, NextCursor: next}, nil
}

func (f *FakeChain) Confirmations(_ context.Context, txHash string) (chain.Confirmation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.confErr != nil {
		return chain.Confirmation{}, f.confErr
	}
	n := f.confirmations[txHash]
	if n <= 0 {
		return chain.Confirmation{Status: chain.StatusPending}, nil
	}
	return chain.Confirmation{Confirmations: n, BlockHeight: 100, Status: chain.StatusConfirmed}, nil
}

func (f *FakeChain) Broadcast(ctx context.Context, payload chain.SignedPayload) (string, error) {
	f.mu.Lock()
	hang := f.broadcastHang
	err := f.broadcastErr
	f.mu.Unlock()
	if hang {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts = append(f.broadcasts, payload)
	return "settle_" + payload.WithdrawalID, nil
}

func (f *FakeChain) WalletBalance(context.Context, string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, f.balanceErr
}

func (f *FakeChain) TipHeight(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tipErr != nil {
		return 0, f.tipErr
	}
	return 100, nil
}

func (f *FakeChain) Sign(_ context.Context, in chain.TransferInstruction) (chain.SignedPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signErr != nil {
		return chain.SignedPayload{}, f.signErr
	}
	return chain.SignedPayload{WithdrawalID: in.WithdrawalID, RawTxHex: "signed:" + in.WithdrawalID}, nil
}

var (
	_ chain.Observer = (*FakeChain)(nil)
	_ chain.Signer   = (*FakeChain)(nil)
)
