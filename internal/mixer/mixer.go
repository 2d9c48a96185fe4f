// Package mixer implements the three entropy-fusion strategies from
// section 4.2 of the specification: None (single-source identity), XOR
// (byte-wise fusion across sources), and HKDF (HMAC-SHA256-based
// whitening with a fixed domain-separation string).
package mixer

import (
	"crypto/sha256"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/hkdf"
)

// Strategy selects how chunks from multiple sources are fused into one
// output chunk.
type Strategy int

const (
	// None passes a single source's chunk through unchanged. It is only
	// valid when exactly one chunk is supplied.
	None Strategy = iota
	// XOR combines chunks byte-wise. When chunks differ in length the
	// output length is the shortest chunk's length, overriding the
	// original implementation's equal-length requirement.
	XOR
	// HKDF derives whitened output bytes from the concatenation of all
	// chunks via HMAC-SHA256-based HKDF, with output length equal to the
	// total input length.
	HKDF
)

func (s Strategy) String() string {
	switch s {
	case None:
		return "none"
	case XOR:
		return "xor"
	case HKDF:
		return "hkdf"
	default:
		return "unknown"
	}
}

// ParseStrategy maps a config string to a Strategy.
func ParseStrategy(name string) (Strategy, error) {
	switch name {
	case "none":
		return None, nil
	case "xor":
		return XOR, nil
	case "hkdf":
		return HKDF, nil
	default:
		return None, errors.Errorf("mixer: unknown strategy %q", name)
	}
}

// domainSeparation is the fixed HKDF info string. It must never vary at
// runtime: mixing the same chunks under a different info string would
// silently produce different, non-reproducible output.
const domainSeparation = "qrng-mix"

// Mix fuses the given chunks using strategy. Chunks must be non-empty; at
// least one chunk is required.
func Mix(strategy Strategy, chunks [][]byte) ([]byte, error) {
	if len(chunks) == 0 {
		return nil, errors.New("mixer: no chunks to mix")
	}
	for i, c := range chunks {
		if len(c) == 0 {
			return nil, errors.Errorf("mixer: chunk %d is empty", i)
		}
	}

	switch strategy {
	case None:
		if len(chunks) != 1 {
			return nil, errors.Errorf("mixer: strategy none requires exactly one chunk, got %d", len(chunks))
		}
		out := make([]byte, len(chunks[0]))
		copy(out, chunks[0])
		return out, nil
	case XOR:
		return xorMix(chunks), nil
	case HKDF:
		return hkdfMix(chunks)
	default:
		return nil, errors.Errorf("mixer: unknown strategy %d", strategy)
	}
}

func xorMix(chunks [][]byte) []byte {
	minLen := len(chunks[0])
	for _, c := range chunks[1:] {
		if len(c) < minLen {
			minLen = len(c)
		}
	}
	out := make([]byte, minLen)
	for _, c := range chunks {
		for i := 0; i < minLen; i++ {
			out[i] ^= c[i]
		}
	}
	return out
}

func hkdfMix(chunks [][]byte) ([]byte, error) {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	input := make([]byte, 0, total)
	for _, c := range chunks {
		input = append(input, c...)
	}

	kdf := hkdf.New(sha256.New, input, nil, []byte(domainSeparation))
	out := make([]byte, total)
	if _, err := io.ReadFull(kdf, out); err != nil {
		return nil, errors.Wrap(err, "mixer: hkdf expansion failed")
	}
	return out, nil
}
