package withdrawal

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"chip-settlement/internal/chain"
	"chip-settlement/internal/config"
	"chip-settlement/internal/economics"
	"chip-settlement/internal/events"
	"chip-settlement/internal/ledger"
	"chip-settlement/internal/store"
	"chip-settlement/internal/testutil"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"
)

const destination = "bc1qxy2kgdygjrsqtzq2n0yrf2493p83kkfjhx0wlh"

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingPublisher) Publish(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingPublisher) resolved() []events.WithdrawalResolved {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.WithdrawalResolved
	for _, ev := range r.events {
		if ev.Kind == events.KindWithdrawalResolved {
			out = append(out, ev.Data.(events.WithdrawalResolved))
		}
	}
	return out
}

func (r *recordingPublisher) rejected() []events.WithdrawalRejected {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.WithdrawalRejected
	for _, ev := range r.events {
		if ev.Kind == events.KindWithdrawalRejected {
			out = append(out, ev.Data.(events.WithdrawalRejected))
		}
	}
	return out
}

type fixture struct {
	repo     *store.MemoryStore
	chain    *testutil.FakeChain
	ledger   *ledger.Ledger
	pub      *recordingPublisher
	pipeline *Pipeline
}

func newFixture(t *testing.T, timeout time.Duration) *fixture {
	t.Helper()
	repo := store.NewMemoryStore()
	return newFixtureWithRepo(t, timeout, repo, repo)
}

func newFixtureWithRepo(t *testing.T, timeout time.Duration, mem *store.MemoryStore, repo store.Repository) *fixture {
	t.Helper()
	econ, err := config.LoadEconomics()
	if err != nil {
		t.Fatalf("load economics: %v", err)
	}
	fc := testutil.NewFakeChain()
	l := ledger.New(repo, economics.FromConfig(econ))
	pub := &recordingPublisher{}
	p := New(Config{BroadcastTimeout: timeout, Ticker: "MYST"}, repo, l, fc, fc, pub)
	p.storeBackoff = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }
	return &fixture{repo: mem, chain: fc, ledger: l, pub: pub, pipeline: p}
}

// commitFailingStore fails every Commit while fail is set.
type commitFailingStore struct {
	*store.MemoryStore
	fail atomic.Bool
}

func (s *commitFailingStore) Commit(ctx context.Context, reservationID, settlementTxHash string) (store.Account, error) {
	if s.fail.Load() {
		return store.Account{}, errors.New("connection reset")
	}
	return s.MemoryStore.Commit(ctx, reservationID, settlementTxHash)
}

func (f *fixture) fund(t *testing.T, address string, chips int64) {
	t.Helper()
	if _, err := f.ledger.Credit(context.Background(), address, chips, "seed:"+address); err != nil {
		t.Fatalf("fund: %v", err)
	}
}

func (f *fixture) account(t *testing.T, address string) store.Account {
	t.Helper()
	acct, err := f.repo.GetAccount(context.Background(), address)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	return acct
}

func TestSubmitCompletesAndCommits(t *testing.T) {
	f := newFixture(t, time.Second)
	f.fund(t, "bc1alice", 3000)

	w, err := f.pipeline.Submit(context.Background(), Request{Address: "bc1alice", Destination: destination, Chips: 2000})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if w.Status != store.WithdrawalCompleted || w.SettlementTxHash != "settle_"+w.ID {
		t.Fatalf("unexpected withdrawal %+v", w)
	}
	if !w.TokenAmount.Equal(decimal.NewFromInt(200)) || !w.Fee.Equal(decimal.NewFromInt(4)) || !w.NetTokenAmount.Equal(decimal.NewFromInt(196)) {
		t.Fatalf("unexpected amounts %+v", w)
	}
	acct := f.account(t, "bc1alice")
	if acct.ChipBalance != 1000 || acct.ReservedChips != 0 || !acct.TotalWithdrawn.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("unexpected account %+v", acct)
	}
	broadcasts := f.chain.Broadcasts()
	if len(broadcasts) != 1 || broadcasts[0].RawTxHex != "signed:"+w.ID {
		t.Fatalf("unexpected broadcasts %+v", broadcasts)
	}
	resolved := f.pub.resolved()
	if len(resolved) != 1 || resolved[0].Status != string(store.WithdrawalCompleted) {
		t.Fatalf("unexpected resolved events %+v", resolved)
	}
}

func TestSubmitRejectsInsufficientBalance(t *testing.T) {
	f := newFixture(t, time.Second)
	f.fund(t, "bc1bob", 3000)
	_, err := f.pipeline.Submit(context.Background(), Request{Address: "bc1bob", Destination: destination, Chips: 5000})
	var verr *ValidationError
	if !errors.As(err, &verr) || !errors.Is(err, store.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance validation error, got %v", err)
	}
	if verr.Reason != "insufficient_balance" {
		t.Fatalf("reason = %q", verr.Reason)
	}
	if acct := f.account(t, "bc1bob"); acct.ChipBalance != 3000 || acct.ReservedChips != 0 {
		t.Fatalf("balance changed: %+v", acct)
	}
	if len(f.chain.Broadcasts()) != 0 {
		t.Fatalf("nothing should be broadcast")
	}
	rejected := f.pub.rejected()
	if len(rejected) != 1 || rejected[0].Address != "bc1bob" || rejected[0].Reason != "insufficient_balance" || rejected[0].ChipAmount != 5000 {
		t.Fatalf("unexpected rejected events %+v", rejected)
	}
}

func TestBroadcastRejectedRefunds(t *testing.T) {
	f := newFixture(t, time.Second)
	f.fund(t, "bc1carol", 3000)
	f.chain.SetBroadcastErr(&chain.BroadcastError{Code: -25, Message: "bad-txns-inputs-missingorspent"})

	w, err := f.pipeline.Submit(context.Background(), Request{Address: "bc1carol", Destination: destination, Chips: 2000})
	if !errors.Is(err, ErrSettlementFailed) || !errors.Is(err, chain.ErrBroadcastRejected) {
		t.Fatalf("expected settlement failure, got %v", err)
	}
	if w.Status != store.WithdrawalFailed || w.FailureReason != reasonBroadcastRejected {
		t.Fatalf("unexpected withdrawal %+v", w)
	}
	acct := f.account(t, "bc1carol")
	if acct.ChipBalance != 3000 || acct.ReservedChips != 0 || !acct.TotalWithdrawn.IsZero() {
		t.Fatalf("chips not restored: %+v", acct)
	}
	resolved := f.pub.resolved()
	if len(resolved) != 1 || resolved[0].Status != string(store.WithdrawalFailed) || resolved[0].Reason != reasonBroadcastRejected {
		t.Fatalf("unexpected resolved events %+v", resolved)
	}
}

func TestBroadcastTimeoutRefunds(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)
	f.fund(t, "bc1dave", 1000)
	f.chain.SetBroadcastHang(true)

	w, err := f.pipeline.Submit(context.Background(), Request{Address: "bc1dave", Destination: destination, Chips: 500})
	if !errors.Is(err, ErrSettlementFailed) {
		t.Fatalf("expected settlement failure, got %v", err)
	}
	if w.FailureReason != reasonBroadcastTimeout {
		t.Fatalf("reason = %q", w.FailureReason)
	}
	if acct := f.account(t, "bc1dave"); acct.ChipBalance != 1000 || acct.Available() != 1000 {
		t.Fatalf("chips not restored: %+v", acct)
	}
}

func TestSignerRejectionRefunds(t *testing.T) {
	f := newFixture(t, time.Second)
	f.fund(t, "bc1erin", 1000)
	f.chain.SetSignErr(chain.ErrSignerRejected)
	w, err := f.pipeline.Submit(context.Background(), Request{Address: "bc1erin", Destination: destination, Chips: 500})
	if !errors.Is(err, chain.ErrSignerRejected) || w.FailureReason != reasonSignerRejected {
		t.Fatalf("unexpected result %+v %v", w, err)
	}
	if acct := f.account(t, "bc1erin"); acct.Available() != 1000 {
		t.Fatalf("chips not restored: %+v", acct)
	}
}

func TestValidationRejections(t *testing.T) {
	f := newFixture(t, time.Second)
	f.fund(t, "bc1frank", 100000)
	f.fund(t, "bc1closed", 1000)
	if err := f.repo.CloseAccount(context.Background(), "bc1closed"); err != nil {
		t.Fatalf("close: %v", err)
	}

	cases := []struct {
		name   string
		req    Request
		reason string
	}{
		{"bad destination", Request{Address: "bc1frank", Destination: "0xdeadbeef", Chips: 1000}, "invalid_address"},
		{"below minimum", Request{Address: "bc1frank", Destination: destination, Chips: 10}, "below_min_withdrawal"},
		{"unknown account", Request{Address: "bc1nobody", Destination: destination, Chips: 1000}, "insufficient_balance"},
		{"closed account", Request{Address: "bc1closed", Destination: destination, Chips: 500}, "account_closed"},
		{"over daily cap", Request{Address: "bc1frank", Destination: destination, Chips: 60000}, "daily_cap_exceeded"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.pipeline.Submit(context.Background(), tc.req)
			var verr *ValidationError
			if !errors.As(err, &verr) || verr.Reason != tc.reason {
				t.Fatalf("expected %s, got %v", tc.reason, err)
			}
		})
	}
	if acct := f.account(t, "bc1frank"); acct.ChipBalance != 100000 {
		t.Fatalf("balance changed: %+v", acct)
	}
}

func TestDailyCapCountsCompletedWithdrawals(t *testing.T) {
	f := newFixture(t, time.Second)
	f.fund(t, "bc1gina", 100000)
	if _, err := f.pipeline.Submit(context.Background(), Request{Address: "bc1gina", Destination: destination, Chips: 30000}); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	_, err := f.pipeline.Submit(context.Background(), Request{Address: "bc1gina", Destination: destination, Chips: 30000})
	if !errors.Is(err, store.ErrDailyCapExceeded) {
		t.Fatalf("expected cap rejection, got %v", err)
	}
	if _, err := f.pipeline.Submit(context.Background(), Request{Address: "bc1gina", Destination: destination, Chips: 20000}); err != nil {
		t.Fatalf("submit within cap: %v", err)
	}
}

func TestConcurrentSubmitsNeverOverdraw(t *testing.T) {
	f := newFixture(t, time.Second)
	f.fund(t, "bc1hank", 1000)

	var wg sync.WaitGroup
	var mu sync.Mutex
	completed := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w, err := f.pipeline.Submit(context.Background(), Request{Address: "bc1hank", Destination: destination, Chips: 300})
			if err == nil && w.Status == store.WithdrawalCompleted {
				mu.Lock()
				completed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if completed == 0 || completed > 3 {
		t.Fatalf("completed = %d", completed)
	}
	acct := f.account(t, "bc1hank")
	if acct.ChipBalance != 1000-int64(completed)*300 || acct.ReservedChips != 0 || acct.ChipBalance < 0 {
		t.Fatalf("unexpected account %+v after %d completions", acct, completed)
	}
}

func TestSweepStaleRestoresChips(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()
	f.fund(t, "bc1ivan", 1000)

	w, err := f.repo.CreateWithdrawal(ctx, store.Withdrawal{
		Address: "bc1ivan", DestinationAddress: destination, ChipAmount: 400,
		TokenAmount: decimal.NewFromInt(40), Fee: decimal.NewFromInt(1), NetTokenAmount: decimal.NewFromInt(39),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.ledger.Reserve(ctx, store.ReserveParams{Address: "bc1ivan", Amount: 400, WithdrawalID: w.ID}); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := f.repo.MarkBroadcasting(ctx, w.ID); err != nil {
		t.Fatalf("mark broadcasting: %v", err)
	}
	orphan, _ := f.repo.CreateWithdrawal(ctx, store.Withdrawal{Address: "bc1ivan", DestinationAddress: destination, ChipAmount: 100})

	if n, err := f.pipeline.SweepStale(ctx); err != nil || n != 0 {
		t.Fatalf("fresh withdrawals swept: n=%d err=%v", n, err)
	}

	f.pipeline.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
	n, err := f.pipeline.SweepStale(ctx)
	if err != nil || n != 2 {
		t.Fatalf("sweep: n=%d err=%v", n, err)
	}
	for _, id := range []string{w.ID, orphan.ID} {
		got, _ := f.repo.GetWithdrawal(ctx, id)
		if got.Status != store.WithdrawalFailed || got.FailureReason != reasonSettlementTimeout {
			t.Fatalf("withdrawal %s not failed: %+v", id, got)
		}
	}
	if acct := f.account(t, "bc1ivan"); acct.ChipBalance != 1000 || acct.ReservedChips != 0 {
		t.Fatalf("chips not restored: %+v", acct)
	}
	if n, _ := f.pipeline.SweepStale(ctx); n != 0 {
		t.Fatalf("second sweep resolved %d", n)
	}
}

func TestCommitFailureAfterBroadcastIsNeverRefunded(t *testing.T) {
	mem := store.NewMemoryStore()
	repo := &commitFailingStore{MemoryStore: mem}
	f := newFixtureWithRepo(t, time.Minute, mem, repo)
	ctx := context.Background()
	f.fund(t, "bc1kate", 3000)
	repo.fail.Store(true)

	w, err := f.pipeline.Submit(ctx, Request{Address: "bc1kate", Destination: destination, Chips: 2000})
	if err == nil || errors.Is(err, ErrSettlementFailed) {
		t.Fatalf("expected commit error, got %v", err)
	}
	if len(f.chain.Broadcasts()) != 1 {
		t.Fatalf("broadcasts = %d, want 1", len(f.chain.Broadcasts()))
	}
	got, _ := mem.GetWithdrawal(ctx, w.ID)
	if got.Status != store.WithdrawalBroadcasting || got.SettlementTxHash != "settle_"+w.ID {
		t.Fatalf("settlement hash not recorded: %+v", got)
	}
	if acct := f.account(t, "bc1kate"); acct.ChipBalance != 3000 || acct.ReservedChips != 2000 {
		t.Fatalf("chips must stay reserved: %+v", acct)
	}

	f.pipeline.now = func() time.Time { return time.Now().Add(time.Hour) }
	if n, err := f.pipeline.SweepStale(ctx); err != nil || n != 0 {
		t.Fatalf("sweep while store failing: n=%d err=%v", n, err)
	}
	if acct := f.account(t, "bc1kate"); acct.ChipBalance != 3000 || acct.ReservedChips != 2000 {
		t.Fatalf("sweep refunded a broadcast withdrawal: %+v", acct)
	}

	repo.fail.Store(false)
	if n, err := f.pipeline.SweepStale(ctx); err != nil || n != 1 {
		t.Fatalf("sweep: n=%d err=%v", n, err)
	}
	got, _ = mem.GetWithdrawal(ctx, w.ID)
	if got.Status != store.WithdrawalCompleted || got.SettlementTxHash != "settle_"+w.ID {
		t.Fatalf("withdrawal not completed: %+v", got)
	}
	if acct := f.account(t, "bc1kate"); acct.ChipBalance != 1000 || acct.ReservedChips != 0 {
		t.Fatalf("unexpected account %+v", acct)
	}
	if len(f.chain.Broadcasts()) != 1 {
		t.Fatalf("sweep must not broadcast again")
	}
	resolved := f.pub.resolved()
	if last := resolved[len(resolved)-1]; last.Status != string(store.WithdrawalCompleted) || last.SettlementTxHash != "settle_"+w.ID {
		t.Fatalf("unexpected resolved event %+v", last)
	}
}

func TestReleaseRefusedOnceHashRecorded(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()
	f.fund(t, "bc1leo", 1000)
	w, _ := f.repo.CreateWithdrawal(ctx, store.Withdrawal{Address: "bc1leo", DestinationAddress: destination, ChipAmount: 500})
	res, err := f.ledger.Reserve(ctx, store.ReserveParams{Address: "bc1leo", Amount: 500, WithdrawalID: w.ID})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := f.repo.RecordSettlementHash(ctx, w.ID, "0xearly"); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("hash before broadcasting: err=%v", err)
	}
	_, _ = f.repo.MarkBroadcasting(ctx, w.ID)
	if _, err := f.repo.RecordSettlementHash(ctx, w.ID, "0xsettled"); err != nil {
		t.Fatalf("record hash: %v", err)
	}
	if _, err := f.ledger.Release(ctx, res, "timeout"); !errors.Is(err, store.ErrAlreadyBroadcast) {
		t.Fatalf("release after hash: err=%v", err)
	}
	if acct := f.account(t, "bc1leo"); acct.ReservedChips != 500 {
		t.Fatalf("reservation released: %+v", acct)
	}
}

func TestValidAddress(t *testing.T) {
	for addr, want := range map[string]bool{
		destination:                          true,
		"1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2": true,
		"3J98t1WpEZ73CNmQviecrnyiWrnqRhWNLy": true,
		"bc1short":                           false,
		"0x742d35Cc6634C0532925a3b844Bc454e4438f44e": false,
		"":                                   false,
	} {
		if got := ValidAddress(addr); got != want {
			t.Fatalf("ValidAddress(%q) = %v, want %v", addr, got, want)
		}
	}
}
