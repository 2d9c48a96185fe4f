package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllowsUpToCapacity(t *testing.T) {
	l := New(Config{Capacity: 5, RefillRate: 1, MaxPrincipals: 100})
	for i := 0; i < 5; i++ {
		allowed, _ := l.Allow("alice")
		assert.True(t, allowed, "request %d should be allowed within capacity", i)
	}
	allowed, retryAfter := l.Allow("alice")
	assert.False(t, allowed)
	assert.Greater(t, retryAfter, time.Duration(0))
}

func TestPrincipalsAreIndependent(t *testing.T) {
	l := New(Config{Capacity: 1, RefillRate: 1, MaxPrincipals: 100})
	allowed, _ := l.Allow("alice")
	assert.True(t, allowed)
	allowed, _ = l.Allow("alice")
	assert.False(t, allowed)

	allowed, _ = l.Allow("bob")
	assert.True(t, allowed, "bob has his own bucket")
}

func TestRetryAfterApproximatesRefillTime(t *testing.T) {
	l := New(Config{Capacity: 5, RefillRate: 1, MaxPrincipals: 100})
	for i := 0; i < 6; i++ {
		l.Allow("alice")
	}
	_, retryAfter := l.Allow("alice")
	assert.InDelta(t, time.Second.Seconds(), retryAfter.Seconds(), 0.5)
}
