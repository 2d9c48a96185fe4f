// Package buffer implements the single shared FIFO byte buffer type used as
// both the Collector's Accumulator Buffer and the Gateway's Distribution
// Buffer (section 3/4.3/4.6 of the specification). A construction-time
// Policy selects how the buffer behaves on overflow; the policy never
// changes once a Ring is built, and the hot path never re-checks it beyond
// a switch over the fixed value.
package buffer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/qrng-diode/qrng-diode/internal/entropyerr"
)

// Policy selects overflow behavior at construction time.
type Policy int

const (
	// PolicyBackpressure blocks Append until room frees. Used by the
	// Accumulator Buffer: the single overflow policy on the Collector side
	// is backpressure, not loss.
	PolicyBackpressure Policy = iota
	// PolicyDiscardNew accepts only the leading prefix of an Append that
	// fits; the overflow suffix is dropped.
	PolicyDiscardNew
	// PolicyEvictOldest evicts from the head until the incoming Append
	// fits, then appends the full payload.
	PolicyEvictOldest
)

func (p Policy) String() string {
	switch p {
	case PolicyBackpressure:
		return "backpressure"
	case PolicyDiscardNew:
		return "discard-new"
	case PolicyEvictOldest:
		return "evict-oldest"
	default:
		return "unknown"
	}
}

// ParsePolicy maps a config string to a Policy.
func ParsePolicy(name string) (Policy, error) {
	switch name {
	case "backpressure":
		return PolicyBackpressure, nil
	case "discard-new":
		return PolicyDiscardNew, nil
	case "evict-oldest":
		return PolicyEvictOldest, nil
	default:
		return 0, fmt.Errorf("buffer: unknown policy %q", name)
	}
}

type chunk struct {
	data      []byte
	arrivedAt time.Time
}

// Stats holds the overflow counters the specification requires each policy
// to expose.
type Stats struct {
	BytesDiscardedOnOverflow uint64
	BytesEvicted             uint64
	TotalAppended            uint64
	TotalRead                uint64
}

// Ring is a bounded, mutex-guarded byte FIFO. Writers and readers copy bytes
// into and out of internal storage under a short critical section; no
// network I/O ever happens while the lock is held.
type Ring struct {
	mu       sync.Mutex
	chunks   []chunk
	size     int
	capacity int
	policy   Policy
	closed   bool
	spaceCh  chan struct{}
	stats    Stats
}

// New constructs a Ring with the given capacity in bytes and a fixed
// overflow policy.
func New(capacity int, policy Policy) *Ring {
	if capacity <= 0 {
		panic("buffer: capacity must be positive")
	}
	return &Ring{
		capacity: capacity,
		policy:   policy,
	}
}

// Capacity returns the hard upper bound on buffered bytes.
func (r *Ring) Capacity() int {
	return r.capacity
}

// Policy returns the overflow policy this Ring was constructed with.
func (r *Ring) Policy() Policy {
	return r.policy
}

// Len returns the number of bytes currently buffered.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// FillPercent returns the current utilization as a percentage in [0, 100].
func (r *Ring) FillPercent() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return 100 * float64(r.size) / float64(r.capacity)
}

// OldestAge returns the age of the oldest buffered byte, derived from the
// arrival timestamp of the batch containing it, and whether any data is
// present at all.
func (r *Ring) OldestAge() (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.chunks) == 0 {
		return 0, false
	}
	return time.Since(r.chunks[0].arrivedAt), true
}

// Stats returns a snapshot of the overflow/throughput counters.
func (r *Ring) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Close unblocks any goroutine parked in Append under PolicyBackpressure,
// causing them to return context.Canceled. Used during
// graceful shutdown so no component spins forever on a suspension point.
func (r *Ring) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.wakeWaitersLocked()
}

// Append adds data to the tail of the buffer according to the configured
// policy. It returns the number of bytes actually stored. Under
// PolicyBackpressure it blocks until enough room is available or ctx is
// done or the Ring is closed.
func (r *Ring) Append(ctx context.Context, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}

	switch r.policy {
	case PolicyBackpressure:
		return r.appendBackpressure(ctx, data)
	case PolicyDiscardNew:
		return r.appendDiscardNew(data), nil
	case PolicyEvictOldest:
		return r.appendEvictOldest(data), nil
	default:
		return r.appendDiscardNew(data), nil
	}
}

func (r *Ring) appendBackpressure(ctx context.Context, data []byte) (int, error) {
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return 0, context.Canceled
		}
		if r.capacity-r.size >= len(data) {
			r.appendChunkLocked(data)
			r.mu.Unlock()
			return len(data), nil
		}
		ch := r.waitChannelLocked()
		r.mu.Unlock()

		select {
		case <-ch:
			continue
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

func (r *Ring) appendDiscardNew(data []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	available := r.capacity - r.size
	if available <= 0 {
		r.stats.BytesDiscardedOnOverflow += uint64(len(data))
		return 0
	}
	n := len(data)
	if n > available {
		r.stats.BytesDiscardedOnOverflow += uint64(n - available)
		n = available
	}
	r.appendChunkLocked(data[:n])
	return n
}

func (r *Ring) appendEvictOldest(data []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	available := r.capacity - r.size
	if available < len(data) {
		needed := len(data) - available
		r.evictAtLeastLocked(needed)
		available = r.capacity - r.size
	}

	toStore := data
	if len(toStore) > available {
		// The incoming payload alone exceeds the full capacity: keep only
		// its newest bytes, matching the "buffer holds the newest C bytes"
		// invariant the specification states for evict-oldest.
		dropped := len(toStore) - available
		r.stats.BytesEvicted += uint64(dropped)
		toStore = toStore[dropped:]
	}
	r.appendChunkLocked(toStore)
	return len(toStore)
}

// evictAtLeastLocked evicts whole or partial chunks from the head until at
// least `needed` bytes have been freed, or the buffer is empty.
func (r *Ring) evictAtLeastLocked(needed int) {
	freed := 0
	for freed < needed && len(r.chunks) > 0 {
		head := &r.chunks[0]
		if len(head.data) <= needed-freed {
			freed += len(head.data)
			r.size -= len(head.data)
			r.stats.BytesEvicted += uint64(len(head.data))
			r.chunks = r.chunks[1:]
		} else {
			trim := needed - freed
			head.data = head.data[trim:]
			r.size -= trim
			r.stats.BytesEvicted += uint64(trim)
			freed = needed
		}
	}
}

func (r *Ring) appendChunkLocked(data []byte) {
	stored := make([]byte, len(data))
	copy(stored, data)
	r.chunks = append(r.chunks, chunk{data: stored, arrivedAt: time.Now()})
	r.size += len(stored)
	r.stats.TotalAppended += uint64(len(stored))
}

// Read removes exactly n bytes from the head of the buffer. If fewer than n
// bytes are available it returns entropyerr.ErrInsufficientEntropy and
// leaves the buffer untouched; it never returns a short read.
func (r *Ring) Read(n int) ([]byte, error) {
	if n == 0 {
		return []byte{}, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size < n {
		return nil, entropyerr.ErrInsufficientEntropy
	}

	out := make([]byte, 0, n)
	remaining := n
	for remaining > 0 {
		head := &r.chunks[0]
		if len(head.data) <= remaining {
			out = append(out, head.data...)
			remaining -= len(head.data)
			r.size -= len(head.data)
			r.chunks = r.chunks[1:]
		} else {
			out = append(out, head.data[:remaining]...)
			head.data = head.data[remaining:]
			r.size -= remaining
			remaining = 0
		}
	}
	r.stats.TotalRead += uint64(n)
	r.wakeWaitersLocked()
	return out, nil
}

// waitChannelLocked returns the channel backpressure waiters should select
// on; it is closed (and replaced) whenever space frees up or the Ring
// closes. Must be called with r.mu held.
func (r *Ring) waitChannelLocked() chan struct{} {
	if r.spaceCh == nil {
		r.spaceCh = make(chan struct{})
	}
	return r.spaceCh
}

// wakeWaitersLocked broadcasts to any Append callers blocked on space
// becoming available. Must be called with r.mu held.
func (r *Ring) wakeWaitersLocked() {
	if r.spaceCh != nil {
		close(r.spaceCh)
		r.spaceCh = nil
	}
}
