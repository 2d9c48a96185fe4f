package montecarlo

import (
	"context"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qrng-diode/qrng-diode/internal/buffer"
)

func TestBytesRequired(t *testing.T) {
	assert.Equal(t, 16000, BytesRequired(1000))
}

func TestEstimateRejectsOutOfRangeIterations(t *testing.T) {
	buf := buffer.New(1<<20, buffer.PolicyDiscardNew)
	_, err := Estimate(buf, 10)
	assert.Error(t, err)
	_, err = Estimate(buf, 20_000_000)
	assert.Error(t, err)
}

func TestEstimateInsufficientEntropyLeavesBufferUntouched(t *testing.T) {
	buf := buffer.New(1<<20, buffer.PolicyDiscardNew)
	_, _ = buf.Append(context.Background(), make([]byte, 100))
	_, err := Estimate(buf, 1000)
	assert.Error(t, err)
	assert.Equal(t, 100, buf.Len())
}

func TestEstimateConvergesWithCryptoRandom(t *testing.T) {
	iterations := 200_000
	data := make([]byte, BytesRequired(iterations))
	_, err := rand.Read(data)
	require.NoError(t, err)

	buf := buffer.New(len(data)+1, buffer.PolicyDiscardNew)
	_, err = buf.Append(context.Background(), data)
	require.NoError(t, err)

	result, err := Estimate(buf, iterations)
	require.NoError(t, err)
	assert.InDelta(t, 3.14159, result.EstimatedPi, 0.05)
	assert.Contains(t, []string{QualityExcellent, QualityGood, QualityFair, QualityPoor}, result.Quality)
}

func TestQualityThresholds(t *testing.T) {
	assert.Equal(t, QualityExcellent, qualityFor(0.5e-4))
	assert.Equal(t, QualityGood, qualityFor(0.5e-3))
	assert.Equal(t, QualityFair, qualityFor(0.5e-2))
	assert.Equal(t, QualityPoor, qualityFor(0.5e-1))
}
