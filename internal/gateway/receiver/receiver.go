// Package receiver implements the Gateway's POST /push handler: the
// five-step ordered admission algorithm from the specification that
// decides whether a pushed packet enters the Distribution Buffer.
package receiver

import (
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/qrng-diode/qrng-diode/internal/buffer"
	"github.com/qrng-diode/qrng-diode/internal/metrics"
	"github.com/qrng-diode/qrng-diode/internal/protocol"
	"github.com/qrng-diode/qrng-diode/internal/watermark"
)

// Config holds the freshness/skew tolerances and shared secret.
type Config struct {
	Secret             []byte
	TTL                time.Duration
	ClockSkewTolerance time.Duration
}

// Receiver admits packets into a Distribution Buffer.
type Receiver struct {
	cfg       Config
	buffer    *buffer.Ring
	watermark *watermark.Watermark
	logger    *zap.Logger
	now       func() time.Time
}

// New builds a Receiver.
func New(cfg Config, dist *buffer.Ring, wm *watermark.Watermark, logger *zap.Logger) *Receiver {
	return &Receiver{cfg: cfg, buffer: dist, watermark: wm, logger: logger, now: time.Now}
}

// ServeHTTP implements POST /push. Response codes follow section 6:
// 202 admission, 400 structural/CRC failure, 401 HMAC failure,
// 409 replay, 410 stale.
func (r *Receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	metrics.RecordPushReceived()

	start := r.now()
	defer func() {
		metrics.PushAdmissionLatencySeconds.Observe(time.Since(start).Seconds())
	}()

	body, err := io.ReadAll(io.LimitReader(req.Body, 8<<20))
	if err != nil {
		r.reject(w, http.StatusBadRequest, "read_error")
		return
	}

	status, reason := r.admit(req.Context(), body)
	if reason != "" {
		metrics.RecordPushRejected(reason)
	} else {
		metrics.RecordPushAdmitted()
	}
	w.WriteHeader(status)
}

// admit runs the five ordered checks and, on success, appends the
// payload to the Distribution Buffer. It returns the HTTP status to send
// and, on failure, the rejection reason for metrics.
func (r *Receiver) admit(ctx context.Context, body []byte) (status int, reason string) {
	pkt, err := protocol.Decode(body)
	if err != nil {
		return http.StatusBadRequest, "structural"
	}

	if !pkt.VerifyCRC() {
		return http.StatusBadRequest, "crc"
	}

	if !pkt.VerifyHMAC(r.cfg.Secret) {
		return http.StatusUnauthorized, "hmac"
	}

	age := r.now().Sub(pkt.Timestamp)
	if age > r.cfg.TTL {
		return http.StatusGone, "stale"
	}
	if age < -r.cfg.ClockSkewTolerance {
		return http.StatusGone, "future_timestamp"
	}

	if !r.watermark.TryAdvance(pkt.Sequence) {
		return http.StatusConflict, "replay"
	}

	if _, err := r.buffer.Append(ctx, pkt.Payload); err != nil {
		return http.StatusServiceUnavailable, "buffer_closed"
	}
	return http.StatusAccepted, ""
}

func (r *Receiver) reject(w http.ResponseWriter, status int, reason string) {
	metrics.RecordPushRejected(reason)
	w.WriteHeader(status)
}
