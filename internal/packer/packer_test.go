package packer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/qrng-diode/qrng-diode/internal/buffer"
	"github.com/qrng-diode/qrng-diode/internal/protocol"
)

func TestFlushOnHighWater(t *testing.T) {
	acc := buffer.New(1024, buffer.PolicyBackpressure)
	_, err := acc.Append(context.Background(), make([]byte, 100))
	require.NoError(t, err)

	emitted := make(chan *protocol.Packet, 1)
	p := New(Config{
		PushInterval:  time.Hour,
		BatchSize:     100,
		HighWaterMark: 50,
		Secret:        []byte("secret"),
	}, acc, func(pkt *protocol.Packet) { emitted <- pkt }, zap.NewNop())

	p.NotifyHighWater()

	go p.Run(contextWithCancel(t))

	select {
	case pkt := <-emitted:
		assert.Equal(t, uint64(1), pkt.Sequence)
		assert.Len(t, pkt.Payload, 100)
		assert.True(t, pkt.VerifyHMAC([]byte("secret")))
	case <-time.After(time.Second):
		t.Fatal("expected a packet to be emitted")
	}
}

func TestFlushOnTicker(t *testing.T) {
	acc := buffer.New(1024, buffer.PolicyBackpressure)
	_, err := acc.Append(context.Background(), make([]byte, 20))
	require.NoError(t, err)

	emitted := make(chan *protocol.Packet, 1)
	p := New(Config{
		PushInterval:  10 * time.Millisecond,
		BatchSize:     100,
		HighWaterMark: 1 << 30,
		Secret:        []byte("secret"),
	}, acc, func(pkt *protocol.Packet) { emitted <- pkt }, zap.NewNop())

	go p.Run(contextWithCancel(t))

	select {
	case pkt := <-emitted:
		assert.Len(t, pkt.Payload, 20)
	case <-time.After(time.Second):
		t.Fatal("expected ticker-driven flush")
	}
}

func TestSequenceNumbersIncreaseMonotonically(t *testing.T) {
	acc := buffer.New(1024, buffer.PolicyBackpressure)
	emitted := make(chan *protocol.Packet, 4)
	p := New(Config{
		PushInterval:  time.Hour,
		BatchSize:     10,
		HighWaterMark: 1,
		Secret:        []byte("secret"),
	}, acc, func(pkt *protocol.Packet) { emitted <- pkt }, zap.NewNop())

	for i := 0; i < 3; i++ {
		_, _ = acc.Append(context.Background(), make([]byte, 10))
		p.flush()
	}

	var seqs []uint64
	for i := 0; i < 3; i++ {
		seqs = append(seqs, (<-emitted).Sequence)
	}
	assert.Equal(t, []uint64{1, 2, 3}, seqs)
}

func TestFlushDoesNothingWhenEmpty(t *testing.T) {
	acc := buffer.New(1024, buffer.PolicyBackpressure)
	called := false
	p := New(Config{PushInterval: time.Hour, BatchSize: 10, Secret: []byte("s")}, acc,
		func(*protocol.Packet) { called = true }, zap.NewNop())
	p.flush()
	assert.False(t, called)
}

func contextWithCancel(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
