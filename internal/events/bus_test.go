package events

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestBusDeliversToAllSubscribersInOrder(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	var mu sync.Mutex
	got := map[string][]string{}
	for _, name := range []string{"a", "b"} {
		name := name
		bus.Subscribe(name, func(_ context.Context, ev Event) {
			mu.Lock()
			defer mu.Unlock()
			got[name] = append(got[name], ev.Key)
		})
	}
	for _, key := range []string{"1", "2", "3"} {
		bus.Publish(New(KindDepositCredited, key, "bc1a", nil))
	}
	bus.Wait()
	mu.Lock()
	defer mu.Unlock()
	for _, name := range []string{"a", "b"} {
		if len(got[name]) != 3 || got[name][0] != "1" || got[name][2] != "3" {
			t.Fatalf("subscriber %s got %v", name, got[name])
		}
	}
}

func TestBusPublishDoesNotBlockOnSlowSubscriber(t *testing.T) {
	bus := NewBus()
	release := make(chan struct{})
	bus.Subscribe("slow", func(context.Context, Event) { <-release })
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			bus.Publish(New(KindAlertRaised, "k", "", nil))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on slow subscriber")
	}
	close(release)
	bus.Close()
}

func TestBusRecoversHandlerPanic(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	var mu sync.Mutex
	seen := 0
	bus.Subscribe("panicky", func(_ context.Context, ev Event) {
		if ev.Key == "boom" {
			panic("boom")
		}
		mu.Lock()
		seen++
		mu.Unlock()
	})
	bus.Publish(New(KindAlertRaised, "boom", "", nil))
	bus.Publish(New(KindAlertRaised, "ok", "", nil))
	bus.Wait()
	mu.Lock()
	defer mu.Unlock()
	if seen != 1 {
		t.Fatalf("seen = %d", seen)
	}
}

func TestEventConstructorsKeyByIdentity(t *testing.T) {
	ev := DepositCreditedEvent(DepositCredited{Address: "bc1a", TxHash: "0xabc"})
	if ev.Kind != KindDepositCredited || ev.Key != "0xabc" || ev.Address != "bc1a" || ev.ID == "" {
		t.Fatalf("unexpected event %+v", ev)
	}
	ev = WithdrawalResolvedEvent(WithdrawalResolved{Address: "bc1a", ID: "wd_1", Status: "completed"})
	if ev.Key != "wd_1" {
		t.Fatalf("unexpected key %q", ev.Key)
	}
}
