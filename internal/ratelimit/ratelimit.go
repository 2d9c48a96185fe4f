// Package ratelimit implements the per-principal token bucket rate
// limiter for the Request Router and (optionally) the MCP Bridge. Each
// principal's bucket lives in a size-bounded LRU keyed by the SHA-256 of
// its credential, so raw credentials are never retained as map keys or
// logged, and an unbounded number of distinct bad credentials cannot
// grow the limiter's memory without bound.
package ratelimit

import (
	"crypto/sha256"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// Config describes the token bucket applied to every principal.
type Config struct {
	Capacity   int
	RefillRate float64 // tokens per second
	// MaxPrincipals bounds the LRU of distinct buckets.
	MaxPrincipals int
}

type key = [32]byte

// Limiter holds one token bucket per principal.
type Limiter struct {
	cfg     Config
	buckets *lru.Cache[key, *rate.Limiter]
}

// New builds a Limiter. Panics if MaxPrincipals <= 0, matching the LRU
// constructor's own contract.
func New(cfg Config) *Limiter {
	cache, err := lru.New[key, *rate.Limiter](cfg.MaxPrincipals)
	if err != nil {
		panic(err)
	}
	return &Limiter{cfg: cfg, buckets: cache}
}

func hashCredential(credential string) key {
	return sha256.Sum256([]byte(credential))
}

// Allow reports whether the given credential may proceed now, and if not,
// how long until the next token refills.
func (l *Limiter) Allow(credential string) (allowed bool, retryAfter time.Duration) {
	k := hashCredential(credential)
	bucket, ok := l.buckets.Get(k)
	if !ok {
		bucket = rate.NewLimiter(rate.Limit(l.cfg.RefillRate), l.cfg.Capacity)
		l.buckets.Add(k, bucket)
	}

	reservation := bucket.Reserve()
	if !reservation.OK() {
		return false, 0
	}
	delay := reservation.Delay()
	if delay > 0 {
		reservation.Cancel()
		return false, delay
	}
	return true, 0
}
