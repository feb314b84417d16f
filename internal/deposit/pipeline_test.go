package deposit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chip-settlement/internal/chain"
	"chip-settlement/internal/config"
	"chip-settlement/internal/economics"
	"chip-settlement/internal/events"
	"chip-settlement/internal/ledger"
	"chip-settlement/internal/store"
	"chip-settlement/internal/testutil"

	"github.com/shopspring/decimal"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingPublisher) Publish(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingPublisher) kinds() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Kind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

type recordingIntegrity struct {
	mu      sync.Mutex
	reports []string
}

func (r *recordingIntegrity) ReportIntegrity(_ context.Context, subject string, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, subject)
}

type fixture struct {
	repo      *store.MemoryStore
	chain     *testutil.FakeChain
	pub       *recordingPublisher
	integrity *recordingIntegrity
	pipeline  *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	econ, err := config.LoadEconomics()
	if err != nil {
		t.Fatalf("load economics: %v", err)
	}
	repo := store.NewMemoryStore()
	fc := testutil.NewFakeChain()
	pub := &recordingPublisher{}
	integrity := &recordingIntegrity{}
	l := ledger.New(repo, economics.FromConfig(econ))
	p := New(Config{
		RequiredConfirmations: 3,
		RecheckDelay:          10 * time.Millisecond,
		Horizon:               30 * time.Minute,
		PollInterval:          10 * time.Millisecond,
	}, repo, l, fc, pub, integrity)
	return &fixture{repo: repo, chain: fc, pub: pub, integrity: integrity, pipeline: p}
}

func transfer(hash, to, amount string) chain.Transfer {
	return chain.Transfer{TxHash: hash, From: "bc1sender", To: to, Amount: decimal.RequireFromString(amount)}
}

func TestFirstDepositBonusCredited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.pipeline.Detect(ctx, "bc1alice", transfer("0xa", "bc1alice", "1000")); err != nil {
		t.Fatalf("detect: %v", err)
	}
	f.chain.SetConfirmations("0xa", 3)
	outcome, err := f.pipeline.Process(ctx, "0xa")
	if err != nil || outcome != OutcomeCredited {
		t.Fatalf("process: outcome=%s err=%v", outcome, err)
	}
	acct, _ := f.repo.GetAccount(ctx, "bc1alice")
	if acct.ChipBalance != 11880 || acct.IsFirstDeposit {
		t.Fatalf("unexpected account %+v", acct)
	}
	txn, _ := f.repo.GetTransaction(ctx, "0xa")
	if txn.Status != store.TxCredited || txn.ChipAmount != 9900 || txn.BonusAmount != 1980 || !txn.FeeAmount.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("unexpected transaction %+v", txn)
	}
	kinds := f.pub.kinds()
	if len(kinds) != 1 || kinds[0] != events.KindDepositCredited {
		t.Fatalf("unexpected events %v", kinds)
	}
}

func TestConfirmationGating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.pipeline.Detect(ctx, "bc1bob", transfer("0xb", "bc1bob", "500"))

	f.chain.SetConfirmations("0xb", 2)
	outcome, err := f.pipeline.Process(ctx, "0xb")
	if err != nil || outcome != OutcomeWaiting {
		t.Fatalf("process at 2 confs: outcome=%s err=%v", outcome, err)
	}
	acct, _ := f.repo.GetAccount(ctx, "bc1bob")
	if acct.ChipBalance != 0 {
		t.Fatalf("balance changed before threshold: %d", acct.ChipBalance)
	}
	txn, _ := f.repo.GetTransaction(ctx, "0xb")
	if txn.Status != store.TxAwaitingConfirmations || txn.Confirmations != 2 {
		t.Fatalf("unexpected transaction %+v", txn)
	}

	f.chain.SetConfirmations("0xb", 3)
	if outcome, _ := f.pipeline.Process(ctx, "0xb"); outcome != OutcomeCredited {
		t.Fatalf("expected credit at threshold, got %s", outcome)
	}
	if outcome, _ := f.pipeline.Process(ctx, "0xb"); outcome != OutcomeSkipped {
		t.Fatalf("expected skip after credit, got %s", outcome)
	}
	acct, _ = f.repo.GetAccount(ctx, "bc1bob")
	if acct.ChipBalance != 5940 {
		t.Fatalf("balance = %d, want 5940", acct.ChipBalance)
	}
}

func TestOutOfRangeDepositFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.pipeline.Detect(ctx, "bc1carol", transfer("0xc", "bc1carol", "50"))
	f.chain.SetConfirmations("0xc", 6)
	outcome, err := f.pipeline.Process(ctx, "0xc")
	if err != nil || outcome != OutcomeFailed {
		t.Fatalf("outcome=%s err=%v", outcome, err)
	}
	txn, _ := f.repo.GetTransaction(ctx, "0xc")
	if txn.Status != store.TxFailed || txn.FailureReason != economics.ErrBelowMinDeposit.Error() {
		t.Fatalf("unexpected transaction %+v", txn)
	}
	acct, _ := f.repo.GetAccount(ctx, "bc1carol")
	if acct.ChipBalance != 0 {
		t.Fatalf("ledger touched: %d", acct.ChipBalance)
	}
	kinds := f.pub.kinds()
	if len(kinds) != 1 || kinds[0] != events.KindDepositFailed {
		t.Fatalf("unexpected events %v", kinds)
	}
}

func TestConfirmationHorizonFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.pipeline.Detect(ctx, "bc1dan", transfer("0xd", "bc1dan", "200"))
	f.pipeline.now = func() time.Time { return time.Now().Add(31 * time.Minute) }
	outcome, err := f.pipeline.Process(ctx, "0xd")
	if err != nil || outcome != OutcomeFailed {
		t.Fatalf("outcome=%s err=%v", outcome, err)
	}
	txn, _ := f.repo.GetTransaction(ctx, "0xd")
	if txn.FailureReason != reasonConfirmationTimeout {
		t.Fatalf("reason = %q", txn.FailureReason)
	}
}

func TestTransientConfirmationErrorRetries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.pipeline.Detect(ctx, "bc1erin", transfer("0xe", "bc1erin", "200"))
	f.chain.SetConfirmationsErr(chain.ErrUnavailable)
	outcome, err := f.pipeline.Process(ctx, "0xe")
	if !errors.Is(err, chain.ErrUnavailable) || outcome != OutcomeRetry {
		t.Fatalf("outcome=%s err=%v", outcome, err)
	}
	txn, _ := f.repo.GetTransaction(ctx, "0xe")
	if txn.Status.Terminal() {
		t.Fatalf("transient error must not be terminal: %+v", txn)
	}
}

func TestConcurrentDetectionCreditsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.chain.SetConfirmations("0xabc", 3)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.pipeline.Detect(ctx, "bc1frank", transfer("0xabc", "bc1frank", "1000")); err != nil {
				t.Errorf("detect: %v", err)
			}
			_, _ = f.pipeline.Process(ctx, "0xabc")
		}()
	}
	wg.Wait()
	acct, _ := f.repo.GetAccount(ctx, "bc1frank")
	if acct.ChipBalance != 11880 {
		t.Fatalf("balance = %d, want 11880", acct.ChipBalance)
	}
	credited := 0
	for _, k := range f.pub.kinds() {
		if k == events.KindDepositCredited {
			credited++
		}
	}
	if credited != 1 {
		t.Fatalf("deposit_credited events = %d", credited)
	}
}

func TestPollAddressRecordsAndPersistsCursor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.repo.WatchAddress(ctx, "bc1gina"); err != nil {
		t.Fatalf("watch: %v", err)
	}
	f.chain.AddTransfer(transfer("0x1", "bc1gina", "150"))
	f.chain.AddTransfer(transfer("0x2", "bc1gina", "250"))
	cursor, err := f.pipeline.PollAddress(ctx, "bc1gina", "")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if cursor != "0x2" {
		t.Fatalf("cursor = %q", cursor)
	}
	for _, hash := range []string{"0x1", "0x2"} {
		txn, err := f.repo.GetTransaction(ctx, hash)
		if err != nil || txn.Status != store.TxDetected {
			t.Fatalf("transaction %s: %+v %v", hash, txn, err)
		}
	}
	watched, _ := f.repo.ListWatched(ctx, true)
	if len(watched) != 1 || watched[0].Cursor != "0x2" {
		t.Fatalf("cursor not persisted: %+v", watched)
	}
	cursor, err = f.pipeline.PollAddress(ctx, "bc1gina", cursor)
	if err != nil || cursor != "0x2" {
		t.Fatalf("repoll: cursor=%q err=%v", cursor, err)
	}
}

func TestPollAddressSeesTransferAfterCursorAdvanced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.repo.WatchAddress(ctx, "bc1hal"); err != nil {
		t.Fatalf("watch: %v", err)
	}
	f.chain.AddTransfer(transfer("0xold", "bc1hal", "150"))
	cursor, err := f.pipeline.PollAddress(ctx, "bc1hal", "")
	if err != nil {
		t.Fatalf("first poll: %v", err)
	}
	if cursor, err = f.pipeline.PollAddress(ctx, "bc1hal", cursor); err != nil {
		t.Fatalf("idle poll: %v", err)
	}

	f.chain.AddTransfer(transfer("0xnew", "bc1hal", "1000"))
	cursor, err = f.pipeline.PollAddress(ctx, "bc1hal", cursor)
	if err != nil {
		t.Fatalf("poll after new transfer: %v", err)
	}
	if cursor != "0xnew" {
		t.Fatalf("cursor = %q, want 0xnew", cursor)
	}
	txn, err := f.repo.GetTransaction(ctx, "0xnew")
	if err != nil || txn.Status != store.TxDetected {
		t.Fatalf("new deposit not recorded: %+v %v", txn, err)
	}

	f.chain.SetConfirmations("0xnew", 3)
	outcome, err := f.pipeline.Process(ctx, "0xnew")
	if err != nil || outcome != OutcomeCredited {
		t.Fatalf("process: outcome=%s err=%v", outcome, err)
	}
	acct, _ := f.repo.GetAccount(ctx, "bc1hal")
	if acct.ChipBalance != 11880 {
		t.Fatalf("balance = %d, want 11880", acct.ChipBalance)
	}
}

func TestResumePendingRequeues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, _ = f.repo.RecordDetected(ctx, store.Transaction{TxHash: "0xr1", Address: "bc1h", TokenAmount: decimal.NewFromInt(200)})
	_, _, _ = f.repo.RecordDetected(ctx, store.Transaction{TxHash: "0xr2", Address: "bc1h", TokenAmount: decimal.NewFromInt(200)})
	_, _ = f.repo.FailTransaction(ctx, "0xr2", "x")
	n, err := f.pipeline.ResumePending(ctx)
	if err != nil || n != 1 {
		t.Fatalf("resume: n=%d err=%v", n, err)
	}
}

func TestRunPollsWatchedAddressesAndCredits(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.pipeline.Run(ctx) }()

	f.chain.AddTransfer(transfer("0xrun", "bc1ivy", "1000"))
	f.chain.SetConfirmations("0xrun", 1)
	deadline := time.Now().Add(5 * time.Second)
	for f.pipeline.ActivePollers() == 0 {
		if _, err := f.pipeline.Watch(context.Background(), "bc1ivy"); err != nil {
			t.Fatalf("watch: %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatalf("poller never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	waitFor(t, deadline, func() bool {
		txn, err := f.repo.GetTransaction(context.Background(), "0xrun")
		return err == nil && txn.Status == store.TxAwaitingConfirmations
	})
	f.chain.SetConfirmations("0xrun", 3)
	waitFor(t, deadline, func() bool {
		acct, err := f.repo.GetAccount(context.Background(), "bc1ivy")
		return err == nil && acct.ChipBalance == 11880
	})

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop")
	}
}

func TestCleanupIdleWatchesStopsPollers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.repo.WatchAddress(ctx, "bc1jack")
	f.pipeline.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	idle, err := f.pipeline.CleanupIdleWatches(ctx, 24*time.Hour)
	if err != nil || len(idle) != 1 || idle[0] != "bc1jack" {
		t.Fatalf("idle=%v err=%v", idle, err)
	}
}

func waitFor(t *testing.T, deadline time.Time, cond func() bool) {
	t.Helper()
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
