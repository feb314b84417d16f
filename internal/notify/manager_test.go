package notify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"chip-settlement/internal/events"
	"chip-settlement/internal/notify/platforms"
)

type fakeAdapter struct {
	mu        sync.Mutex
	calls     int
	failFirst int
	forceFail bool
	messages  []platforms.Message
}

func (f *fakeAdapter) Name() string { return "fake" }

func (f *fakeAdapter) Send(_ context.Context, _ string, _ string, msg platforms.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.messages = append(f.messages, msg)
	if f.forceFail || f.calls <= f.failFirst {
		return errors.New("fail")
	}
	return nil
}

func (f *fakeAdapter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeAdapter) Messages() []platforms.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]platforms.Message, len(f.messages))
	copy(out, f.messages)
	return out
}

func alertEvent(id string) events.Event {
	return events.AlertRaisedEvent(events.AlertRaised{ID: id, Type: "LOW_BALANCE", Severity: "high", SubjectAddress: "house_wallet"})
}

func startManager(t *testing.T, cfg Config, fake *fakeAdapter) *Manager {
	t.Helper()
	m := newManager(cfg, map[string]platforms.Adapter{"fake": fake})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		m.Wait()
	})
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start manager: %v", err)
	}
	return m
}

func waitCalls(t *testing.T, fake *fakeAdapter, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if fake.Calls() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d calls, got %d", want, fake.Calls())
}

func TestManagerDeliversAllowedEvents(t *testing.T) {
	fake := &fakeAdapter{}
	m := startManager(t, Config{
		Enabled: true,
		Targets: []Target{{Platform: "fake", Endpoint: "https://example.com", ScopeType: "all", EventAllowlist: []string{"alert_raised"}, Enabled: true}},
		Workers: 1,
	}, fake)

	m.Handle(context.Background(), events.DepositCreditedEvent(events.DepositCredited{Address: "bc1x", TxHash: "0x1"}))
	m.Handle(context.Background(), alertEvent("a1"))
	waitCalls(t, fake, 1)
	time.Sleep(20 * time.Millisecond)
	if fake.Calls() != 1 {
		t.Fatalf("non-allowlisted event delivered: %d calls", fake.Calls())
	}
	if msgs := fake.Messages(); msgs[0].Title != "LOW_BALANCE · HIGH" {
		t.Fatalf("unexpected message %+v", msgs[0])
	}
}

func TestManagerRetryThenSuccess(t *testing.T) {
	fake := &fakeAdapter{failFirst: 1}
	m := startManager(t, Config{
		Enabled:   true,
		Targets:   []Target{{Platform: "fake", Endpoint: "https://example.com", ScopeType: "all", Enabled: true}},
		Workers:   1,
		RetryMax:  2,
		RetryBase: 5 * time.Millisecond,
	}, fake)
	m.Handle(context.Background(), alertEvent("a1"))
	waitCalls(t, fake, 2)
}

func TestManagerDropsAfterRetryMax(t *testing.T) {
	fake := &fakeAdapter{forceFail: true}
	m := startManager(t, Config{
		Enabled:          true,
		Targets:          []Target{{Platform: "fake", Endpoint: "https://example.com", ScopeType: "all", Enabled: true}},
		Workers:          1,
		RetryMax:         2,
		RetryBase:        5 * time.Millisecond,
		FailureThreshold: 100,
	}, fake)
	m.Handle(context.Background(), alertEvent("a1"))
	waitCalls(t, fake, 3)
	time.Sleep(60 * time.Millisecond)
	if fake.Calls() != 3 {
		t.Fatalf("expected 3 attempts, got %d", fake.Calls())
	}
}

func TestManagerBreakerShortCircuits(t *testing.T) {
	fake := &fakeAdapter{forceFail: true}
	m := startManager(t, Config{
		Enabled:          true,
		Targets:          []Target{{Platform: "fake", Endpoint: "https://example.com", ScopeType: "all", Enabled: true}},
		Workers:          1,
		RetryMax:         0,
		FailureThreshold: 2,
		BreakerTimeout:   time.Minute,
	}, fake)
	for i := 0; i < 5; i++ {
		m.Handle(context.Background(), alertEvent("a"))
	}
	time.Sleep(100 * time.Millisecond)
	if fake.Calls() != 2 {
		t.Fatalf("breaker should stop delivery after 2 failures, got %d calls", fake.Calls())
	}
}

func TestManagerDisabledIgnoresEvents(t *testing.T) {
	fake := &fakeAdapter{}
	m := newManager(Config{Enabled: false, Targets: []Target{{Platform: "fake", Endpoint: "x", ScopeType: "all", Enabled: true}}}, map[string]platforms.Adapter{"fake": fake})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	m.Handle(context.Background(), alertEvent("a1"))
	if len(m.dispatchCh) != 0 {
		t.Fatalf("disabled manager queued a job")
	}
}

func TestManagerReloadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "targets.json")
	if err := os.WriteFile(path, []byte(`[]`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	fake := &fakeAdapter{}
	m := startManager(t, Config{
		Enabled:      true,
		ConfigPath:   path,
		ConfigReload: 10 * time.Millisecond,
		Workers:      1,
	}, fake)
	if err := os.WriteFile(path, []byte(`[{"platform":"fake","endpoint":"https://reloaded","enabled":true}]`), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(m.currentTargets()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("targets never reloaded")
		}
		time.Sleep(5 * time.Millisecond)
	}
	m.Handle(context.Background(), alertEvent("a1"))
	waitCalls(t, fake, 1)
}
