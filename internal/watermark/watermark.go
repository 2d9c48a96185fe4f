// Package watermark implements the monotonic Sequence Watermark held by
// the Gateway's Push Receiver, its sole writer, which advances it on
// admission. The Collector's Packer numbers packets with its own counter.
package watermark

import "sync/atomic"

// Watermark tracks the highest sequence number admitted so far. The zero
// value starts at 0, meaning "no packet admitted yet"; valid sequences
// start at 1.
type Watermark struct {
	v atomic.Uint64
}

// New returns a Watermark initialized to the given starting value.
func New(initial uint64) *Watermark {
	w := &Watermark{}
	w.v.Store(initial)
	return w
}

// Value returns the current watermark.
func (w *Watermark) Value() uint64 {
	return w.v.Load()
}

// TryAdvance atomically advances the watermark to seq if seq is strictly
// greater than the current value, and reports whether it did. Gaps are
// permitted; callers that care about gap detection compare seq against
// Value()+1 themselves before calling TryAdvance.
func (w *Watermark) TryAdvance(seq uint64) bool {
	for {
		cur := w.v.Load()
		if seq <= cur {
			return false
		}
		if w.v.CompareAndSwap(cur, seq) {
			return true
		}
	}
}

// IsReplayOrStale reports whether seq is less than or equal to the
// current watermark, i.e. it has already been admitted or is older than
// the oldest still-acceptable sequence.
func (w *Watermark) IsReplayOrStale(seq uint64) bool {
	return seq <= w.v.Load()
}
