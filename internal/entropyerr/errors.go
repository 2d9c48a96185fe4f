// Package entropyerr defines the sentinel error taxonomy shared by the
// Collector and Gateway. Handlers type-switch on these with errors.Is to
// pick a transport status code; nothing else is allowed to leak internal
// error text to a caller.
package entropyerr

import "errors"

var (
	// ErrInvalidRequest means a caller-supplied parameter was out of range
	// or malformed (length, count, encoding, min/max).
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUnauthorized means the bearer credential was missing or unknown.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited means the principal's token bucket is exhausted.
	ErrRateLimited = errors.New("rate limited")

	// ErrInsufficientEntropy means the buffer could not satisfy a read.
	ErrInsufficientEntropy = errors.New("insufficient entropy")

	// ErrArithmeticRange means an integer request's span exceeds 2^64.
	ErrArithmeticRange = errors.New("requested range exceeds arithmetic capacity")

	// ErrBadPacket means a pushed packet failed structural or CRC checks.
	ErrBadPacket = errors.New("malformed packet")

	// ErrBadAuth means a pushed packet's HMAC tag did not verify.
	ErrBadAuth = errors.New("packet authentication failed")

	// ErrStalePacket means a pushed packet's timestamp fell outside the
	// TTL/clock-skew window.
	ErrStalePacket = errors.New("stale packet")

	// ErrReplay means a pushed packet's sequence did not exceed the
	// watermark.
	ErrReplay = errors.New("replayed packet")

	// ErrInternal is a catch-all for anything that must not leak details.
	ErrInternal = errors.New("internal error")
)
