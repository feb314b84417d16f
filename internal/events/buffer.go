package events

import (
	"context"
	"strconv"
	"sync"
)

// Buffer keeps the most recent events for SSE replay and live fan-out to
// stream clients. It is a Bus subscriber and assigns each event a
// monotonically increasing Seq used as the SSE id.
type Buffer struct {
	mu       sync.Mutex
	nextSeq  int64
	max      int
	events   []Event
	watchers map[chan Event]struct{}
	closed   bool
}

func NewBuffer(max int) *Buffer {
	if max <= 0 {
		max = 1000
	}
	return &Buffer{
		max:      max,
		watchers: map[chan Event]struct{}{},
	}
}

// Handle is the Bus handler.
func (b *Buffer) Handle(_ context.Context, ev Event) {
	b.Append(ev)
}

func (b *Buffer) Append(ev Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return Event{}
	}
	b.nextSeq++
	ev.Seq = strconv.FormatInt(b.nextSeq, 10)
	b.events = append(b.events, ev)
	if len(b.events) > b.max {
		b.events = b.events[len(b.events)-b.max:]
	}
	for ch := range b.watchers {
		select {
		case ch <- ev:
		default:
		}
	}
	return ev
}

// ReplayAfter returns buffered events for address newer than lastSeq. An
// empty or unparseable lastSeq replays everything buffered.
func (b *Buffer) ReplayAfter(address, lastSeq string) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	last := int64(0)
	if lastSeq != "" {
		if n, err := strconv.ParseInt(lastSeq, 10, 64); err == nil {
			last = n
		}
	}
	out := make([]Event, 0, len(b.events))
	for _, ev := range b.events {
		if address != "" && ev.Address != address {
			continue
		}
		seq, _ := strconv.ParseInt(ev.Seq, 10, 64)
		if seq > last {
			out = append(out, ev)
		}
	}
	return out
}

func (b *Buffer) Subscribe() chan Event {
	ch := make(chan Event, 32)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.watchers[ch] = struct{}{}
	return ch
}

func (b *Buffer) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.watchers[ch]; ok {
		delete(b.watchers, ch)
		close(ch)
	}
}

func (b *Buffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.watchers {
		close(ch)
		delete(b.watchers, ch)
	}
}
