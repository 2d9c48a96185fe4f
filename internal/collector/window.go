// Package collector wires the Multi-Source Fetcher's output into the
// Mixer's window assembly and the Accumulator Buffer, the piece of the
// Collector pipeline that sits between per-source polling and packing.
package collector

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/qrng-diode/qrng-diode/internal/buffer"
	"github.com/qrng-diode/qrng-diode/internal/entropy"
	"github.com/qrng-diode/qrng-diode/internal/mixer"
	"github.com/qrng-diode/qrng-diode/internal/packer"
)

// WindowAssembler collects one RawChunk per active, non-quarantined
// Source into a window, closing it either once every active source has
// contributed or once the mixing deadline fires, whichever comes first,
// then mixes the window and appends the result to the Accumulator.
type WindowAssembler struct {
	sources     []*entropy.Source
	strategy    mixer.Strategy
	accumulator *buffer.Ring
	in          <-chan entropy.RawChunk
	deadline    time.Duration
	logger      *zap.Logger

	// notifyPacked is called after every successful window flush so the
	// Packer can check whether the Accumulator just crossed its
	// high-water mark.
	notifyPacked func()
}

// New builds a WindowAssembler over the given sources and inbound chunk
// channel. p may be nil in tests that don't need the high-water hand-off.
func New(sources []*entropy.Source, strategy mixer.Strategy, accumulator *buffer.Ring, in <-chan entropy.RawChunk, deadline time.Duration, p *packer.Packer, logger *zap.Logger) *WindowAssembler {
	notify := func() {}
	if p != nil {
		notify = p.NotifyHighWater
	}
	return &WindowAssembler{
		sources:      sources,
		strategy:     strategy,
		accumulator:  accumulator,
		in:           in,
		deadline:     deadline,
		logger:       logger,
		notifyPacked: notify,
	}
}

// Run drives the window-assembly loop until ctx is cancelled.
func (a *WindowAssembler) Run(ctx context.Context) {
	pending := make(map[string][]byte)
	timer := time.NewTimer(a.deadline)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case chunk, ok := <-a.in:
			if !ok {
				return
			}
			pending[chunk.SourceID] = chunk.Data
			if a.activeSourceCount() > 0 && len(pending) >= a.activeSourceCount() {
				a.closeWindow(ctx, pending)
				pending = make(map[string][]byte)
				resetTimer(timer, a.deadline)
			}

		case <-timer.C:
			if len(pending) > 0 {
				a.closeWindow(ctx, pending)
				pending = make(map[string][]byte)
			}
			resetTimer(timer, a.deadline)
		}
	}
}

func (a *WindowAssembler) activeSourceCount() int {
	n := 0
	for _, s := range a.sources {
		if !s.IsQuarantined() {
			n++
		}
	}
	return n
}

// closeWindow mixes the collected chunks in deterministic source-ID order
// (so HKDF's domain-separated output is reproducible byte-for-byte for a
// given set of inputs) and appends the result to the Accumulator under
// its backpressure policy.
func (a *WindowAssembler) closeWindow(ctx context.Context, pending map[string][]byte) {
	ids := make([]string, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	chunks := make([][]byte, 0, len(ids))
	for _, id := range ids {
		chunks = append(chunks, pending[id])
	}

	mixed, err := mixer.Mix(a.strategy, chunks)
	if err != nil {
		a.logger.Error("window: mix failed", zap.Error(err), zap.Int("sources", len(chunks)))
		return
	}

	if _, err := a.accumulator.Append(ctx, mixed); err != nil {
		a.logger.Warn("window: accumulator append aborted", zap.Error(err))
		return
	}
	a.notifyPacked()
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
