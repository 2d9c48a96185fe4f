package metrics

import (
	"context"
	"time"

	"github.com/qrng-diode/qrng-diode/internal/buffer"
)

// SampleRing periodically bridges a buffer.Ring's own Stats snapshot into
// Prometheus. The Ring has no Prometheus dependency of its own, so this is
// the only place overflow counts and fill/freshness gauges actually reach
// the registry; callers start one of these per buffer for the life of the
// process.
func SampleRing(ctx context.Context, name string, r *buffer.Ring, interval time.Duration) {
	var lastDiscarded, lastEvicted uint64
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := r.Stats()
			if d := stats.BytesDiscardedOnOverflow - lastDiscarded; d > 0 {
				RecordOverflow(name, "discarded", int(d))
				lastDiscarded = stats.BytesDiscardedOnOverflow
			}
			if e := stats.BytesEvicted - lastEvicted; e > 0 {
				RecordOverflow(name, "evicted", int(e))
				lastEvicted = stats.BytesEvicted
			}

			SetBufferFillPercent(name, r.FillPercent())

			// The freshness gauge is specific to the Distribution Buffer per
			// its own Help text; the Accumulator has no equivalent concept of
			// "data served stale" to a caller.
			if name == "distribution" {
				if age, ok := r.OldestAge(); ok {
					SetDataFreshnessSeconds(age.Seconds())
				} else {
					SetDataFreshnessSeconds(0)
				}
			}
		}
	}
}
