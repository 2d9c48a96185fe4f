// Package packer drains the Accumulator Buffer into signed, sequenced
// Entropy Packets. A Packer flushes on whichever of two triggers comes
// first: a fixed time interval, or the Accumulator crossing its
// high-water mark, resolving the specification's open question about
// combined flush policy with the high-water trigger preempting the next
// scheduled tick.
package packer

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/qrng-diode/qrng-diode/internal/buffer"
	"github.com/qrng-diode/qrng-diode/internal/protocol"
)

// Config controls flush timing and packet sizing.
type Config struct {
	// PushInterval is the time-based flush trigger.
	PushInterval time.Duration
	// BatchSize is the maximum number of bytes drained per flush.
	BatchSize int
	// HighWaterMark is the Accumulator fill level (in bytes) that, once
	// crossed, preempts the next scheduled tick with an immediate flush.
	HighWaterMark int
	// Secret is the shared HMAC signing key.
	Secret []byte
}

// Packer owns the monotonic sequence counter and drives the Accumulator
// -> Packet -> emit pipeline.
type Packer struct {
	cfg        Config
	accumulator *buffer.Ring
	sequence   atomic.Uint64
	highWater  chan struct{}
	emit       func(*protocol.Packet)
	logger     *zap.Logger
}

// New builds a Packer. emit is called with every successfully built
// packet; it is the Pusher's hand-off point.
func New(cfg Config, accumulator *buffer.Ring, emit func(*protocol.Packet), logger *zap.Logger) *Packer {
	return &Packer{
		cfg:         cfg,
		accumulator: accumulator,
		// buffered by 1: a non-blocking send from NotifyHighWater can never
		// stall an Append caller even if a flush is already in flight.
		highWater: make(chan struct{}, 1),
		emit:      emit,
		logger:    logger,
	}
}

// NotifyHighWater should be called by the Accumulator's writer after
// every Append once its fill level is known; it is a non-blocking signal
// that preempts the Packer's next scheduled tick.
func (p *Packer) NotifyHighWater() {
	if p.accumulator.Len() < p.cfg.HighWaterMark {
		return
	}
	select {
	case p.highWater <- struct{}{}:
	default:
	}
}

// Run drives the flush loop until ctx is cancelled.
func (p *Packer) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.highWater:
			p.flush()
		case <-ticker.C:
			p.flush()
		}
	}
}

// flush drains up to BatchSize bytes and, if any were available, builds
// and emits one signed packet.
func (p *Packer) flush() {
	n := p.cfg.BatchSize
	if avail := p.accumulator.Len(); avail < n {
		n = avail
	}
	if n == 0 {
		return
	}

	payload, err := p.accumulator.Read(n)
	if err != nil {
		// Len() and Read() briefly disagreed under concurrent drain; the
		// next tick or high-water signal will retry.
		p.logger.Debug("packer: flush read raced with another drain", zap.Error(err))
		return
	}

	seq := p.sequence.Add(1)
	pkt := protocol.New(seq, payload)
	pkt.Sign(p.cfg.Secret)
	p.emit(pkt)
}
