// Package montecarlo implements the Monte-Carlo pi estimator that both
// the Request Router's monte-carlo operation and the MCP Bridge's
// get_data_quality tool use to sanity-check the quality of the entropy
// stream.
package montecarlo

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"github.com/qrng-diode/qrng-diode/internal/buffer"
	"github.com/qrng-diode/qrng-diode/internal/entropyerr"
)

// Quality tags, assigned by relative error against math.Pi.
const (
	QualityExcellent = "excellent"
	QualityGood      = "good"
	QualityFair      = "fair"
	QualityPoor      = "poor"
)

// Result is the outcome of one estimation run.
type Result struct {
	Iterations   int
	EstimatedPi  float64
	AbsoluteError float64
	ErrorPercent float64
	Quality      string
}

// BytesRequired returns how many buffer bytes an estimation of the given
// iteration count will consume: two 8-byte floats per trial.
func BytesRequired(iterations int) int {
	return 16 * iterations
}

// Estimate consumes BytesRequired(iterations) bytes from buf up front;
// the read either succeeds in full or fails without touching the buffer,
// preserving the atomicity the specification requires, then runs the
// pi-estimation trials.
func Estimate(buf *buffer.Ring, iterations int) (Result, error) {
	if iterations < 1000 || iterations > 10_000_000 {
		return Result{}, errors.Wrap(entropyerr.ErrInvalidRequest, "montecarlo: iterations out of range [1000, 10000000]")
	}

	data, err := buf.Read(BytesRequired(iterations))
	if err != nil {
		return Result{}, err
	}

	hits := 0
	for i := 0; i < iterations; i++ {
		offset := i * 16
		x := uint64ToUnitFloat(binary.LittleEndian.Uint64(data[offset : offset+8]))
		y := uint64ToUnitFloat(binary.LittleEndian.Uint64(data[offset+8 : offset+16]))
		if x*x+y*y <= 1.0 {
			hits++
		}
	}

	estimate := 4.0 * float64(hits) / float64(iterations)
	absErr := math.Abs(estimate - math.Pi)
	relErr := absErr / math.Pi

	return Result{
		Iterations:    iterations,
		EstimatedPi:   estimate,
		AbsoluteError: absErr,
		ErrorPercent:  relErr * 100,
		Quality:       qualityFor(relErr),
	}, nil
}

func qualityFor(relativeError float64) string {
	switch {
	case relativeError < 1e-4:
		return QualityExcellent
	case relativeError < 1e-3:
		return QualityGood
	case relativeError < 1e-2:
		return QualityFair
	default:
		return QualityPoor
	}
}

// uint64ToUnitFloat maps a uniform 64-bit integer to [0, 1) using the
// same top-53-bits construction as the Request Router's float operation.
func uint64ToUnitFloat(u uint64) float64 {
	return float64(u>>11) * (1.0 / (1 << 53))
}
