package monitor

import (
	"time"

	"github.com/shopspring/decimal"
)

type sample struct {
	at     time.Time
	amount decimal.Decimal
	failed bool
}

// window keeps samples newer than a cutoff. Not safe for concurrent use.
type window struct {
	samples []sample
}

func (w *window) add(s sample) {
	w.samples = append(w.samples, s)
}

func (w *window) prune(cutoff time.Time) {
	i := 0
	for i < len(w.samples) && w.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.samples = append(w.samples[:0], w.samples[i:]...)
	}
}

func (w *window) count() int { return len(w.samples) }

func (w *window) sum() decimal.Decimal {
	total := decimal.Zero
	for _, s := range w.samples {
		total = total.Add(s.amount)
	}
	return total
}

func (w *window) failures() int {
	n := 0
	for _, s := range w.samples {
		if s.failed {
			n++
		}
	}
	return n
}
