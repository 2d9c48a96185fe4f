// Package breaker implements the circuit breaker guarding the Pusher's
// push attempts to the Gateway, grounded on the CircuitBreaker in
// qrng-core's retry module: a consecutive-failure counter that trips the
// breaker open, and a reset timeout after which attempts are let through
// again (half-open) until the next recorded failure re-opens it.
package breaker

import (
	"sync"
	"sync/atomic"
	"time"
)

// Breaker is safe for concurrent use.
type Breaker struct {
	threshold    uint32
	resetTimeout time.Duration

	consecutiveFailures atomic.Uint32

	mu          sync.Mutex
	open        bool
	lastFailure time.Time
}

// New builds a Breaker that trips after `threshold` consecutive failures
// and allows a trial request again once resetTimeout has elapsed since the
// last failure.
func New(threshold uint32, resetTimeout time.Duration) *Breaker {
	return &Breaker{threshold: threshold, resetTimeout: resetTimeout}
}

// IsOpen reports whether calls should currently be short-circuited. It
// transparently transitions an open breaker to half-open once the reset
// timeout has elapsed: from then on every call is let through until
// RecordFailure re-opens it. The failure streak is kept, so a single
// further failure re-opens the breaker.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return false
	}
	if time.Since(b.lastFailure) >= b.resetTimeout {
		// Half-open: let attempts through without clearing the failure
		// count until one actually succeeds.
		b.open = false
		return false
	}
	return true
}

// RecordSuccess resets the breaker to fully closed.
func (b *Breaker) RecordSuccess() {
	b.consecutiveFailures.Store(0)
	b.mu.Lock()
	b.open = false
	b.mu.Unlock()
}

// RecordFailure increments the failure streak and trips the breaker open
// once threshold consecutive failures have accumulated.
func (b *Breaker) RecordFailure() {
	n := b.consecutiveFailures.Add(1)
	if n >= b.threshold {
		b.mu.Lock()
		b.open = true
		b.lastFailure = time.Now()
		b.mu.Unlock()
	}
}

// Reset forces the breaker fully closed, discarding any failure streak.
func (b *Breaker) Reset() {
	b.consecutiveFailures.Store(0)
	b.mu.Lock()
	b.open = false
	b.mu.Unlock()
}

// ConsecutiveFailures reports the current failure streak, for metrics.
func (b *Breaker) ConsecutiveFailures() uint32 {
	return b.consecutiveFailures.Load()
}
