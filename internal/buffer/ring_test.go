package buffer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/qrng-diode/qrng-diode/internal/entropyerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendReadBasic(t *testing.T) {
	r := New(1024, PolicyDiscardNew)
	n, err := r.Append(context.Background(), []byte{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 4, r.Len())

	data, err := r.Read(4)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, data)
	assert.Equal(t, 0, r.Len())
}

func TestReadInsufficientEntropyLeavesBufferUntouched(t *testing.T) {
	r := New(1024, PolicyDiscardNew)
	_, _ = r.Append(context.Background(), []byte{1, 2, 3})

	_, err := r.Read(10)
	assert.ErrorIs(t, err, entropyerr.ErrInsufficientEntropy)
	assert.Equal(t, 3, r.Len())
}

func TestDiscardNewOverflow(t *testing.T) {
	r := New(10, PolicyDiscardNew)
	n, _ := r.Append(context.Background(), make([]byte, 8))
	assert.Equal(t, 8, n)

	n, _ = r.Append(context.Background(), make([]byte, 5))
	assert.Equal(t, 2, n, "only 2 bytes fit")
	assert.Equal(t, 10, r.Len())

	n, _ = r.Append(context.Background(), make([]byte, 5))
	assert.Equal(t, 0, n, "buffer is full, everything discarded")
	assert.Equal(t, uint64(5+3), r.Stats().BytesDiscardedOnOverflow)
}

func TestEvictOldestFreesSpace(t *testing.T) {
	r := New(1000, PolicyEvictOldest)
	full := make([]byte, 900)
	for i := range full {
		full[i] = byte(i)
	}
	_, err := r.Append(context.Background(), full)
	require.NoError(t, err)

	incoming := make([]byte, 200)
	for i := range incoming {
		incoming[i] = byte(0xF0 + i%16)
	}
	n, err := r.Append(context.Background(), incoming)
	require.NoError(t, err)
	assert.Equal(t, 200, n)
	assert.Equal(t, 1000, r.Len())
	assert.Equal(t, uint64(100), r.Stats().BytesEvicted)

	data, err := r.Read(1000)
	require.NoError(t, err)
	assert.Equal(t, full[100:], data[:800])
	assert.Equal(t, incoming, data[800:])
}

func TestEvictOldestPayloadLargerThanCapacity(t *testing.T) {
	r := New(10, PolicyEvictOldest)
	_, _ = r.Append(context.Background(), make([]byte, 10))

	incoming := make([]byte, 15)
	for i := range incoming {
		incoming[i] = byte(i)
	}
	n, err := r.Append(context.Background(), incoming)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	data, err := r.Read(10)
	require.NoError(t, err)
	assert.Equal(t, incoming[5:], data)
}

func TestBackpressureBlocksUntilDrained(t *testing.T) {
	r := New(4, PolicyBackpressure)
	_, err := r.Append(context.Background(), []byte{1, 2, 3, 4})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	unblocked := make(chan struct{})
	go func() {
		defer wg.Done()
		_, err := r.Append(context.Background(), []byte{5, 6})
		assert.NoError(t, err)
		close(unblocked)
	}()

	select {
	case <-unblocked:
		t.Fatal("append should have blocked while buffer is full")
	case <-time.After(50 * time.Millisecond):
	}

	_, err = r.Read(2)
	require.NoError(t, err)

	select {
	case <-unblocked:
	case <-time.After(time.Second):
		t.Fatal("append never unblocked after space freed")
	}
	wg.Wait()
}

func TestBackpressureRespectsContextCancellation(t *testing.T) {
	r := New(2, PolicyBackpressure)
	_, _ = r.Append(context.Background(), []byte{1, 2})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.Append(ctx, []byte{3, 4})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseUnblocksBackpressureWaiters(t *testing.T) {
	r := New(2, PolicyBackpressure)
	_, _ = r.Append(context.Background(), []byte{1, 2})

	done := make(chan error, 1)
	go func() {
		_, err := r.Append(context.Background(), []byte{3, 4})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	r.Close()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("close did not unblock waiting append")
	}
}

func TestFillPercentAndOldestAge(t *testing.T) {
	r := New(100, PolicyDiscardNew)
	_, ok := r.OldestAge()
	assert.False(t, ok)

	_, _ = r.Append(context.Background(), make([]byte, 50))
	assert.InDelta(t, 50.0, r.FillPercent(), 0.001)

	age, ok := r.OldestAge()
	assert.True(t, ok)
	assert.GreaterOrEqual(t, age, time.Duration(0))
}

func TestReadNeverInterleavesConcurrentAppends(t *testing.T) {
	r := New(1<<20, PolicyDiscardNew)
	const writers = 8
	const perWriter = 200
	var wg sync.WaitGroup
	wg.Add(writers)
	for w := 0; w < writers; w++ {
		w := w
		go func() {
			defer wg.Done()
			block := make([]byte, perWriter)
			for i := range block {
				block[i] = byte(w)
			}
			_, _ = r.Append(context.Background(), block)
		}()
	}
	wg.Wait()

	data, err := r.Read(writers * perWriter)
	require.NoError(t, err)
	// Each writer's block must appear as a contiguous run, never interleaved.
	for i := 0; i < len(data); i += perWriter {
		first := data[i]
		for j := 1; j < perWriter; j++ {
			assert.Equal(t, first, data[i+j])
		}
	}
}

func TestParsePolicy(t *testing.T) {
	for _, tc := range []struct {
		name string
		want Policy
	}{
		{"backpressure", PolicyBackpressure},
		{"discard-new", PolicyDiscardNew},
		{"evict-oldest", PolicyEvictOldest},
	} {
		got, err := ParsePolicy(tc.name)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
}

func TestParsePolicyRejectsUnknown(t *testing.T) {
	_, err := ParsePolicy("fifo")
	assert.Error(t, err)
}
