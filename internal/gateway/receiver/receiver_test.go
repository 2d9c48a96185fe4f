package receiver

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/qrng-diode/qrng-diode/internal/buffer"
	"github.com/qrng-diode/qrng-diode/internal/metrics"
	"github.com/qrng-diode/qrng-diode/internal/protocol"
	"github.com/qrng-diode/qrng-diode/internal/watermark"
)

const testSecret = "shared-secret"

func newTestReceiver() (*Receiver, *buffer.Ring) {
	metrics.SetRegisterer(prometheus.NewRegistry())
	dist := buffer.New(1<<20, buffer.PolicyDiscardNew)
	wm := watermark.New(0)
	r := New(Config{
		Secret:             []byte(testSecret),
		TTL:                300 * time.Second,
		ClockSkewTolerance: 60 * time.Second,
	}, dist, wm, zap.NewNop())
	return r, dist
}

func signedPacket(seq uint64, payload []byte, ts time.Time) *protocol.Packet {
	p := protocol.New(seq, payload)
	p.Timestamp = ts
	p.Sign([]byte(testSecret))
	return p
}

func TestAdmitsValidPacket(t *testing.T) {
	r, dist := newTestReceiver()
	pkt := signedPacket(1, []byte("hello"), time.Now().UTC())
	status, reason := r.admit(context.Background(), pkt.Encode())
	assert.Equal(t, http.StatusAccepted, status)
	assert.Empty(t, reason)
	assert.Equal(t, 5, dist.Len())
}

func TestRejectsStructuralFailure(t *testing.T) {
	r, _ := newTestReceiver()
	status, reason := r.admit(context.Background(), []byte{1, 2, 3})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "structural", reason)
}

func TestRejectsBadCRC(t *testing.T) {
	r, _ := newTestReceiver()
	pkt := signedPacket(1, []byte("hello"), time.Now().UTC())
	encoded := pkt.Encode()
	encoded[40] ^= 0xFF // flip a payload byte, leaving the stored CRC32/HMAC untouched
	status, reason := r.admit(context.Background(), encoded)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "crc", reason)
}

func TestRejectsBadHMAC(t *testing.T) {
	r, _ := newTestReceiver()
	pkt := protocol.New(1, []byte("hello"))
	pkt.Sign([]byte("wrong-secret"))
	status, reason := r.admit(context.Background(), pkt.Encode())
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "hmac", reason)
}

func TestRejectsReplay(t *testing.T) {
	r, _ := newTestReceiver()
	pkt := signedPacket(10, []byte("hello"), time.Now().UTC())
	status, _ := r.admit(context.Background(), pkt.Encode())
	require.Equal(t, http.StatusAccepted, status)

	pkt2 := signedPacket(10, []byte("world"), time.Now().UTC())
	status2, reason2 := r.admit(context.Background(), pkt2.Encode())
	assert.Equal(t, http.StatusConflict, status2)
	assert.Equal(t, "replay", reason2)
}

func TestRejectsStaleTimestamp(t *testing.T) {
	r, _ := newTestReceiver()
	stale := time.Now().UTC().Add(-400 * time.Second)
	pkt := signedPacket(1, []byte("hello"), stale)
	status, reason := r.admit(context.Background(), pkt.Encode())
	assert.Equal(t, http.StatusGone, status)
	assert.Equal(t, "stale", reason)
}

func TestRejectsFutureTimestampBeyondSkew(t *testing.T) {
	r, _ := newTestReceiver()
	future := time.Now().UTC().Add(120 * time.Second)
	pkt := signedPacket(1, []byte("hello"), future)
	status, reason := r.admit(context.Background(), pkt.Encode())
	assert.Equal(t, http.StatusGone, status)
	assert.Equal(t, "future_timestamp", reason)
}

func TestServeHTTPRejectsNonPost(t *testing.T) {
	r, _ := newTestReceiver()
	req := httptest.NewRequest(http.MethodGet, "/push", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServeHTTPAdmitsValidPush(t *testing.T) {
	r, _ := newTestReceiver()
	pkt := signedPacket(1, []byte("hello"), time.Now().UTC())
	req := httptest.NewRequest(http.MethodPost, "/push", bytes.NewReader(pkt.Encode()))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestServeHTTPRecordsReceivedAdmittedAndRejectedTotals(t *testing.T) {
	r, _ := newTestReceiver()

	good := signedPacket(1, []byte("hello"), time.Now().UTC())
	req := httptest.NewRequest(http.MethodPost, "/push", bytes.NewReader(good.Encode()))
	r.ServeHTTP(httptest.NewRecorder(), req)

	bad := httptest.NewRequest(http.MethodPost, "/push", bytes.NewReader([]byte{1, 2, 3}))
	r.ServeHTTP(httptest.NewRecorder(), bad)

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.PushPacketsTotal.WithLabelValues("received")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.PushPacketsTotal.WithLabelValues("admitted")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.PushPacketsTotal.WithLabelValues("rejected")))
}
