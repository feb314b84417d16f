package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

type Handler func(ctx context.Context, ev Event)

// Publisher is what pipelines depend on.
type Publisher interface {
	Publish(ev Event)
}

// Bus fans events out to subscribers. Publish never blocks: each subscriber
// has its own unbounded queue drained by its own goroutine, so a slow
// subscriber delays only itself.
type Bus struct {
	mu      sync.Mutex
	subs    []*subscription
	closed  bool
	wg      sync.WaitGroup
	pending int
	idle    *sync.Cond
}

type subscription struct {
	name  string
	fn    Handler
	mu    sync.Mutex
	queue []Event
	wake  chan struct{}
	stop  chan struct{}
}

func NewBus() *Bus {
	b := &Bus{}
	b.idle = sync.NewCond(&b.mu)
	return b
}

func (b *Bus) Subscribe(name string, fn Handler) {
	sub := &subscription{
		name: name,
		fn:   fn,
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.subs = append(b.subs, sub)
	b.wg.Add(1)
	b.mu.Unlock()
	go b.run(sub)
}

func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	subs := b.subs
	b.pending += len(subs)
	b.mu.Unlock()

	publishedTotal.WithLabelValues(string(ev.Kind)).Inc()
	for _, sub := range subs {
		sub.mu.Lock()
		sub.queue = append(sub.queue, ev)
		depth := len(sub.queue)
		sub.mu.Unlock()
		queueDepth.WithLabelValues(sub.name).Set(float64(depth))
		select {
		case sub.wake <- struct{}{}:
		default:
		}
	}
}

func (b *Bus) run(sub *subscription) {
	defer b.wg.Done()
	for {
		sub.mu.Lock()
		if len(sub.queue) == 0 {
			sub.mu.Unlock()
			select {
			case <-sub.wake:
				continue
			case <-sub.stop:
				return
			}
		}
		ev := sub.queue[0]
		sub.queue[0] = Event{}
		sub.queue = sub.queue[1:]
		depth := len(sub.queue)
		sub.mu.Unlock()
		queueDepth.WithLabelValues(sub.name).Set(float64(depth))

		b.deliver(sub, ev)

		b.mu.Lock()
		b.pending--
		if b.pending == 0 {
			b.idle.Broadcast()
		}
		b.mu.Unlock()
	}
}

func (b *Bus) deliver(sub *subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			deliveryPanics.WithLabelValues(sub.name).Inc()
			log.Error().Interface("panic", r).Str("subscriber", sub.name).Str("kind", string(ev.Kind)).Msg("event handler panic")
		}
	}()
	sub.fn(context.Background(), ev)
}

// Wait blocks until every published event has been handled.
func (b *Bus) Wait() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.pending > 0 {
		b.idle.Wait()
	}
}

// Close drains queued events and stops all subscribers.
func (b *Bus) Close() {
	b.Wait()
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.mu.Unlock()
	for _, sub := range subs {
		close(sub.stop)
	}
	b.wg.Wait()
}
