package api

import (
	"encoding/binary"

	"github.com/qrng-diode/qrng-diode/internal/buffer"
	"github.com/qrng-diode/qrng-diode/internal/entropyerr"
)

const maxUint64 = ^uint64(0)

// drawUint64 removes 8 bytes from buf and interprets them as a
// big-endian unsigned 64-bit integer, per section 4.7's generation rules.
func drawUint64(buf *buffer.Ring) (uint64, error) {
	data, err := buf.Read(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(data), nil
}

// rejectionThreshold implements the unbiased rejection-sampling bound
// from section 4.7: reject any draw x where x >= floor(2^64/range)*range.
// When range is a power of two, 2^64/range is exact and no draw is ever
// rejected.
func rejectionThreshold(rangeSize uint64) (limit uint64, alwaysAccept bool) {
	if rangeSize&(rangeSize-1) == 0 {
		return 0, true
	}
	limit = (maxUint64 / rangeSize) * rangeSize
	return limit, false
}

// integerRange computes range = max-min+1 in the unsigned 64-bit space
// that int64 wraps into, and reports whether the range spans the entire
// 2^64 domain (only possible for min=MinInt64, max=MaxInt64).
func integerRange(min, max int64) (rangeSize uint64, full bool) {
	diff := uint64(max) - uint64(min)
	if diff == maxUint64 {
		return 0, true
	}
	return diff + 1, false
}

// FetchInteger draws one uniformly distributed int64 in [min, max] from
// buf, using rejection sampling to avoid modulo bias.
func FetchInteger(buf *buffer.Ring, min, max int64) (int64, error) {
	if min > max {
		return 0, entropyerr.ErrInvalidRequest
	}
	rangeSize, full := integerRange(min, max)
	if full {
		x, err := drawUint64(buf)
		if err != nil {
			return 0, err
		}
		return int64(x), nil
	}

	limit, alwaysAccept := rejectionThreshold(rangeSize)
	for {
		x, err := drawUint64(buf)
		if err != nil {
			return 0, err
		}
		if !alwaysAccept && x >= limit {
			continue
		}
		return int64(uint64(min) + (x % rangeSize)), nil
	}
}

// FetchFloat draws one IEEE-754 double uniformly in [0, 1), taking the
// top 53 bits of an 8-byte draw so the result never rounds to 1.0.
func FetchFloat(buf *buffer.Ring) (float64, error) {
	x, err := drawUint64(buf)
	if err != nil {
		return 0, err
	}
	return float64(x>>11) * (1.0 / (1 << 53)), nil
}

// FetchUUIDv4 draws 16 bytes and patches the version/variant bits per
// RFC 4122. This is hand-rolled rather than routed through
// github.com/google/uuid because that package cannot be seeded from
// caller-supplied entropy bytes.
func FetchUUIDv4(buf *buffer.Ring) ([16]byte, error) {
	var id [16]byte
	data, err := buf.Read(16)
	if err != nil {
		return id, err
	}
	copy(id[:], data)
	id[6] = (id[6] & 0x0F) | 0x40 // version 4
	id[8] = (id[8] & 0x3F) | 0x80 // variant 10
	return id, nil
}

// FormatUUID renders a UUID in canonical 8-4-4-4-12 lowercase hex.
func FormatUUID(id [16]byte) string {
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, 36)
	pos := 0
	dashAfter := map[int]bool{4: true, 6: true, 8: true, 10: true}
	for i, b := range id {
		buf[pos] = hexDigits[b>>4]
		buf[pos+1] = hexDigits[b&0x0F]
		pos += 2
		if dashAfter[i+1] {
			buf[pos] = '-'
			pos++
		}
	}
	return string(buf[:pos])
}
