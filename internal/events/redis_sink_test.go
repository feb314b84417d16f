package events

import (
	"context"
	"errors"
	"sync"
	"testing"

	"chip-settlement/internal/config"

	"github.com/redis/go-redis/v9"
)

type fakeStream struct {
	mu    sync.Mutex
	fails int
	args  []*redis.XAddArgs
}

func (f *fakeStream) XAdd(_ context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return redis.NewStringResult("", errors.New("connection reset"))
	}
	f.args = append(f.args, a)
	return redis.NewStringResult("1-0", nil)
}

func TestRedisSinkWritesEventFields(t *testing.T) {
	fake := &fakeStream{fails: 1}
	sink := NewRedisSink(fake, config.RedisConfig{EventsStream: "s", StreamMaxLen: 100})
	sink.Handle(context.Background(), DepositCreditedEvent(DepositCredited{Address: "bc1a", TxHash: "0xabc", ChipAmount: 5}))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.args) != 1 {
		t.Fatalf("writes = %d", len(fake.args))
	}
	a := fake.args[0]
	if a.Stream != "s" || a.MaxLen != 100 || !a.Approx {
		t.Fatalf("unexpected args %+v", a)
	}
	values := a.Values.(map[string]any)
	if values["kind"] != "deposit_credited" || values["key"] != "0xabc" || values["address"] != "bc1a" {
		t.Fatalf("unexpected values %+v", values)
	}
}
