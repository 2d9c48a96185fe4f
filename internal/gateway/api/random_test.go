package api

import (
	"context"
	"crypto/rand"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qrng-diode/qrng-diode/internal/buffer"
)

func fullBuffer(t *testing.T, n int) *buffer.Ring {
	t.Helper()
	buf := buffer.New(n+1, buffer.PolicyDiscardNew)
	data := make([]byte, n)
	_, err := rand.Read(data)
	require.NoError(t, err)
	_, err = buf.Append(context.Background(), data)
	require.NoError(t, err)
	return buf
}

func TestFetchIntegerWithinRange(t *testing.T) {
	buf := fullBuffer(t, 8*10000)
	for i := 0; i < 1000; i++ {
		v, err := FetchInteger(buf, 10, 20)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, v, int64(10))
		assert.LessOrEqual(t, v, int64(20))
	}
}

func TestFetchIntegerRejectsInvertedRange(t *testing.T) {
	buf := fullBuffer(t, 8)
	_, err := FetchInteger(buf, 20, 10)
	assert.Error(t, err)
}

func TestFetchIntegerFullDomain(t *testing.T) {
	buf := fullBuffer(t, 8)
	v, err := FetchInteger(buf, math.MinInt64, math.MaxInt64)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, v, int64(math.MinInt64))
}

func TestFetchIntegerSingleValueRange(t *testing.T) {
	buf := fullBuffer(t, 8)
	v, err := FetchInteger(buf, 42, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
}

func TestFetchIntegerPowerOfTwoRangeNeverRejects(t *testing.T) {
	buf := fullBuffer(t, 8*100)
	for i := 0; i < 100; i++ {
		v, err := FetchInteger(buf, 0, 255)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, v, int64(0))
		assert.LessOrEqual(t, v, int64(255))
	}
}

func TestFetchFloatInUnitInterval(t *testing.T) {
	buf := fullBuffer(t, 8*1000)
	for i := 0; i < 1000; i++ {
		f, err := FetchFloat(buf)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, f, 0.0)
		assert.Less(t, f, 1.0)
	}
}

func TestFetchUUIDv4VersionAndVariant(t *testing.T) {
	buf := fullBuffer(t, 16*100)
	for i := 0; i < 100; i++ {
		id, err := FetchUUIDv4(buf)
		require.NoError(t, err)
		assert.Equal(t, byte(0x40), id[6]&0xF0)
		assert.Equal(t, byte(0x80), id[8]&0xC0)
	}
}

func TestFormatUUID(t *testing.T) {
	id := [16]byte{0x01, 0x23, 0x45, 0x67, 0x89, 0xab, 0x4d, 0xef, 0x81, 0x23, 0x45, 0x67, 0x89, 0xab, 0xcd, 0xef}
	s := FormatUUID(id)
	assert.Len(t, s, 36)
	assert.Equal(t, "01234567-89ab-4def-8123-456789abcdef", s)
}

func TestFetchIntegerInsufficientEntropy(t *testing.T) {
	buf := buffer.New(1024, buffer.PolicyDiscardNew)
	_, err := FetchInteger(buf, 0, 10)
	assert.Error(t, err)
}
